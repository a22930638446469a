// Copyright 2025 Certen Protocol
//
// JSON wire types for the genesis document carried in InitChain's
// AppStateBytes, and the small set of conversions needed to turn them into
// the engine's own dispatch/block types.

package consensus

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/certen/chaincore/pkg/block"
	"github.com/certen/chaincore/pkg/dispatch"
	"github.com/certen/chaincore/pkg/xmath"
)

// genesisDoc is the top-level shape of InitChain's AppStateBytes.
type genesisDoc struct {
	Config     configDoc                  `json:"config"`
	AppConfigs map[string]json.RawMessage `json:"app_configs,omitempty"`
	Messages   []genesisMessageDoc        `json:"messages"`
}

type configDoc struct {
	Owner                 string           `json:"owner"`
	Bank                  string           `json:"bank"`
	Fee                   string           `json:"fee"`
	UploadPermission      permissionDoc    `json:"upload_permission"`
	InstantiatePermission permissionDoc    `json:"instantiate_permission"`
	CronSchedule          map[string]int64 `json:"cron_schedule"`
	MaxOrphanAgeNanos     int64            `json:"max_orphan_age_nanos"`
}

type permissionDoc struct {
	Everyone bool     `json:"everyone"`
	Nobody   bool     `json:"nobody"`
	Allowed  []string `json:"allowed"`
}

type coinDoc struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// messageDoc is the JSON rendering of one dispatch.Message; only the fields
// relevant to Kind need be populated, matching dispatch.Message itself.
type messageDoc struct {
	Kind string `json:"kind"`

	NewOwner    string           `json:"new_owner,omitempty"`
	NewConfig   *configDoc       `json:"new_config,omitempty"`
	NewCronJobs map[string]int64 `json:"new_cron_jobs,omitempty"`

	To    string    `json:"to,omitempty"`
	From  string    `json:"from,omitempty"`
	Coins []coinDoc `json:"coins,omitempty"`

	Code string `json:"code,omitempty"`

	CodeHash string          `json:"code_hash,omitempty"`
	Salt     string          `json:"salt,omitempty"`
	Admin    string          `json:"admin,omitempty"`
	Label    string          `json:"label,omitempty"`
	InitMsg  json.RawMessage `json:"init_msg,omitempty"`

	Contract string          `json:"contract,omitempty"`
	Msg      json.RawMessage `json:"msg,omitempty"`

	NewCodeHash string `json:"new_code_hash,omitempty"`
}

type genesisMessageDoc struct {
	Sender  string     `json:"sender"`
	Message messageDoc `json:"message"`
}

func decodeAddress(s string) (dispatch.Address, error) {
	var a dispatch.Address
	if s == "" {
		return a, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != dispatch.AddressLength {
		return a, fmt.Errorf("address %q: want %d bytes, got %d", s, dispatch.AddressLength, len(b))
	}
	copy(a[:], b)
	return a, nil
}

func decodeHash32(s string) ([32]byte, error) {
	var h [32]byte
	if s == "" {
		return h, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash %q: %w", s, err)
	}
	if len(b) != 32 {
		return h, fmt.Errorf("hash %q: want 32 bytes, got %d", s, len(b))
	}
	copy(h[:], b)
	return h, nil
}

func decodeUint128(s string) (xmath.Uint128, error) {
	i, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return xmath.Uint128{}, fmt.Errorf("invalid amount %q", s)
	}
	return xmath.NewUint128FromBigInt(i)
}

func (p permissionDoc) toPermission() (dispatch.Permission, error) {
	allowed := make([]dispatch.Address, len(p.Allowed))
	for i, s := range p.Allowed {
		a, err := decodeAddress(s)
		if err != nil {
			return dispatch.Permission{}, err
		}
		allowed[i] = a
	}
	return dispatch.Permission{Everyone: p.Everyone, Nobody: p.Nobody, Allowed: allowed}, nil
}

func (c configDoc) toConfig() (*dispatch.Config, error) {
	owner, err := decodeAddress(c.Owner)
	if err != nil {
		return nil, err
	}
	bank, err := decodeAddress(c.Bank)
	if err != nil {
		return nil, err
	}
	fee, err := decodeAddress(c.Fee)
	if err != nil {
		return nil, err
	}
	upload, err := c.UploadPermission.toPermission()
	if err != nil {
		return nil, err
	}
	instantiate, err := c.InstantiatePermission.toPermission()
	if err != nil {
		return nil, err
	}
	schedule := make(map[dispatch.Address]int64, len(c.CronSchedule))
	for addrHex, interval := range c.CronSchedule {
		a, err := decodeAddress(addrHex)
		if err != nil {
			return nil, err
		}
		schedule[a] = interval
	}
	return &dispatch.Config{
		Owner:                 owner,
		UploadPermission:      upload,
		InstantiatePermission: instantiate,
		Bank:                  bank,
		Fee:                   fee,
		CronSchedule:          schedule,
		MaxOrphanAgeNanos:     c.MaxOrphanAgeNanos,
	}, nil
}

func (c coinDoc) toCoin() (dispatch.Coin, error) {
	amount, err := decodeUint128(c.Amount)
	if err != nil {
		return dispatch.Coin{}, err
	}
	return dispatch.Coin{Denom: c.Denom, Amount: amount}, nil
}

func coinsDoc(docs []coinDoc) (dispatch.Coins, error) {
	out := make(dispatch.Coins, len(docs))
	for i, d := range docs {
		c, err := d.toCoin()
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func (m messageDoc) toMessage() (dispatch.Message, error) {
	var kind dispatch.Kind
	switch m.Kind {
	case "configure":
		kind = dispatch.KindConfigure
	case "transfer":
		kind = dispatch.KindTransfer
	case "upload":
		kind = dispatch.KindUpload
	case "instantiate":
		kind = dispatch.KindInstantiate
	case "execute":
		kind = dispatch.KindExecute
	case "migrate":
		kind = dispatch.KindMigrate
	default:
		return dispatch.Message{}, fmt.Errorf("unknown message kind %q", m.Kind)
	}

	msg := dispatch.Message{Kind: kind, Label: m.Label, InitMsg: m.InitMsg, Msg: m.Msg}

	if m.NewOwner != "" {
		a, err := decodeAddress(m.NewOwner)
		if err != nil {
			return msg, err
		}
		msg.NewOwner = &a
	}
	if m.NewConfig != nil {
		cfg, err := m.NewConfig.toConfig()
		if err != nil {
			return msg, err
		}
		msg.NewConfig = cfg
	}
	if m.NewCronJobs != nil {
		jobs := make(map[dispatch.Address]int64, len(m.NewCronJobs))
		for addrHex, interval := range m.NewCronJobs {
			a, err := decodeAddress(addrHex)
			if err != nil {
				return msg, err
			}
			jobs[a] = interval
		}
		msg.NewCronJobs = jobs
	}

	var err error
	if msg.To, err = decodeAddress(m.To); err != nil {
		return msg, err
	}
	if m.From != "" {
		a, err := decodeAddress(m.From)
		if err != nil {
			return msg, err
		}
		msg.From = &a
	}
	if msg.Coins, err = coinsDoc(m.Coins); err != nil {
		return msg, err
	}

	if m.Code != "" {
		code, err := hex.DecodeString(m.Code)
		if err != nil {
			return msg, fmt.Errorf("invalid code: %w", err)
		}
		msg.Code = code
	}

	if msg.CodeHash, err = decodeHash32(m.CodeHash); err != nil {
		return msg, err
	}
	if m.Salt != "" {
		salt, err := hex.DecodeString(m.Salt)
		if err != nil {
			return msg, fmt.Errorf("invalid salt: %w", err)
		}
		msg.Salt = salt
	}
	if m.Admin != "" {
		a, err := decodeAddress(m.Admin)
		if err != nil {
			return msg, err
		}
		msg.Admin = &a
	}
	if msg.Contract, err = decodeAddress(m.Contract); err != nil {
		return msg, err
	}
	if msg.NewCodeHash, err = decodeHash32(m.NewCodeHash); err != nil {
		return msg, err
	}
	return msg, nil
}

// toGenesis converts the JSON genesis document into the block package's own
// Genesis type, ready for Orchestrator.InitChain.
func (g genesisDoc) toGenesis(chainID string) (block.Genesis, error) {
	cfg, err := g.Config.toConfig()
	if err != nil {
		return block.Genesis{}, fmt.Errorf("genesis config: %w", err)
	}
	appConfigs := make(map[string][]byte, len(g.AppConfigs))
	for name, doc := range g.AppConfigs {
		appConfigs[name] = []byte(doc)
	}
	messages := make([]block.GenesisMessage, len(g.Messages))
	for i, gm := range g.Messages {
		sender, err := decodeAddress(gm.Sender)
		if err != nil {
			return block.Genesis{}, fmt.Errorf("genesis message %d: %w", i, err)
		}
		msg, err := gm.Message.toMessage()
		if err != nil {
			return block.Genesis{}, fmt.Errorf("genesis message %d: %w", i, err)
		}
		messages[i] = block.GenesisMessage{Sender: sender, Msg: msg}
	}
	return block.Genesis{ChainID: chainID, Config: *cfg, AppConfigs: appConfigs, Messages: messages}, nil
}

// parseGenesisDoc decodes raw (InitChain's AppStateBytes) into a genesisDoc.
func parseGenesisDoc(raw []byte) (genesisDoc, error) {
	var doc genesisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return genesisDoc{}, fmt.Errorf("invalid genesis app_state: %w", err)
	}
	return doc, nil
}
