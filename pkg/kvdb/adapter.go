// Copyright 2025 Certen Protocol
//
// Backend Selection for the Versioned KV Store
//
// Translates a NodeConfig's DBBackend/DataDir pair into a concrete
// cometbft-db handle and wraps it in a kvstore.Store, so cmd/chaind never
// has to know which on-disk format backs a given deployment.

package kvdb

import (
	"fmt"
	"path/filepath"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/chaincore/pkg/kvstore"
)

// dbName is the logical name cometbft-db uses to derive the on-disk file or
// directory name ("<dbName>.db" under dir).
const dbName = "chaincore"

// Open resolves backend into a cometbft-db handle rooted at dataDir and
// wraps it in a kvstore.Store running in mode.
func Open(backend, dataDir string, mode kvstore.Mode) (*kvstore.Store, error) {
	db, err := openBackend(backend, dataDir)
	if err != nil {
		return nil, err
	}
	return kvstore.New(db, mode)
}

func openBackend(backend, dataDir string) (dbm.DB, error) {
	switch backend {
	case "memdb":
		return dbm.NewMemDB(), nil
	case "goleveldb", "":
		dir := filepath.Clean(dataDir)
		db, err := dbm.NewGoLevelDB(dbName, dir)
		if err != nil {
			return nil, fmt.Errorf("kvdb: open goleveldb at %s: %w", dir, err)
		}
		return db, nil
	default:
		return nil, fmt.Errorf("kvdb: unknown backend %q", backend)
	}
}
