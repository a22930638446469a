// Copyright 2025 Certen Protocol
//
// Indexer writes a best-effort, queryable copy of finalized blocks,
// transactions, and events into Postgres alongside the authoritative
// versioned KV store (C2). It is never consulted for consensus: a failed
// indexer write is logged and never fails FinalizeBlock/Commit. The write
// runs synchronously inside FinalizeBlock.

package indexer

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"

	"github.com/google/uuid"

	"github.com/certen/chaincore/pkg/block"
	"github.com/certen/chaincore/pkg/dispatch"
)

// Indexer records finalized block data into the database opened by Client.
type Indexer struct {
	client *Client
	logger *log.Logger
}

// New constructs an Indexer over an already-migrated Client.
func New(client *Client) *Indexer {
	return &Indexer{client: client, logger: log.New(log.Writer(), "[indexer] ", log.LstdFlags)}
}

// RecordBlock persists one finalized block, its transactions, and their
// events in a single transaction. A failure is logged, not propagated: the
// indexer is a read-side convenience, never a consensus dependency.
func (idx *Indexer) RecordBlock(ctx context.Context, height uint64, timeNanos int64, out *block.Outcome, senders []dispatch.Address) {
	if idx == nil {
		return
	}
	if err := idx.recordBlock(ctx, height, timeNanos, out, senders); err != nil {
		idx.logger.Printf("failed to index block %d: %v", height, err)
	}
}

func (idx *Indexer) recordBlock(ctx context.Context, height uint64, timeNanos int64, out *block.Outcome, senders []dispatch.Address) error {
	tx, err := idx.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO blocks (height, time_nanos, app_hash, tx_count, cron_count) VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (height) DO NOTHING`,
		int64(height), timeNanos, out.AppHash, len(out.Txs), len(out.Crons),
	); err != nil {
		return err
	}

	for _, txr := range out.Txs {
		var sender []byte
		if txr.Index < len(senders) {
			sender = senders[txr.Index][:]
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (height, tx_index, sender, success, gas_used, error) VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (height, tx_index) DO NOTHING`,
			int64(height), txr.Index, sender, txr.Success, int64(txr.GasUsed), nullableError(txr.Error),
		); err != nil {
			return err
		}
		if err := insertEvents(ctx, tx, int64(height), txr.Index, txr.Events); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertEvents(ctx context.Context, tx *sql.Tx, height int64, txIndex int, events []*dispatch.Event) error {
	for seq, ev := range events {
		attrs, err := json.Marshal(ev.Attrs)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (event_id, height, tx_index, seq, event_type, attrs) VALUES ($1,$2,$3,$4,$5,$6)
			 ON CONFLICT (height, tx_index, seq) DO NOTHING`,
			uuid.New(), height, txIndex, seq, ev.Type, attrs,
		); err != nil {
			return err
		}
	}
	return nil
}

func nullableError(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
