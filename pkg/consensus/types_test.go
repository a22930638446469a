package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certen/chaincore/pkg/dispatch"
)

func TestParseGenesisDoc(t *testing.T) {
	raw := []byte(`{
		"config": {
			"owner": "0a00000000000000000000000000000000000000",
			"bank":  "b000000000000000000000000000000000000000",
			"fee":   "fe00000000000000000000000000000000000000",
			"upload_permission": {"everyone": true},
			"instantiate_permission": {"nobody": true},
			"cron_schedule": {"ee00000000000000000000000000000000000000": 1000000000},
			"max_orphan_age_nanos": 3600000000000
		},
		"app_configs": {"indexer": {"enabled": true}},
		"messages": [
			{"sender": "0a00000000000000000000000000000000000000",
			 "message": {"kind": "upload", "code": "deadbeef"}},
			{"sender": "0a00000000000000000000000000000000000000",
			 "message": {"kind": "transfer",
			             "to": "b000000000000000000000000000000000000000",
			             "coins": [{"denom": "ucoin", "amount": "12345"}]}}
		]
	}`)

	doc, err := parseGenesisDoc(raw)
	require.NoError(t, err)

	genesis, err := doc.toGenesis("chaincore-test")
	require.NoError(t, err)
	require.Equal(t, "chaincore-test", genesis.ChainID)

	require.Equal(t, dispatch.Address{0x0a}, genesis.Config.Owner)
	require.Equal(t, dispatch.Address{0xb0}, genesis.Config.Bank)
	require.Equal(t, dispatch.Address{0xfe}, genesis.Config.Fee)
	require.True(t, genesis.Config.UploadPermission.Everyone)
	require.True(t, genesis.Config.InstantiatePermission.Nobody)
	require.Equal(t, int64(3_600_000_000_000), genesis.Config.MaxOrphanAgeNanos)
	require.Equal(t, int64(1_000_000_000), genesis.Config.CronSchedule[dispatch.Address{0xee}])

	require.JSONEq(t, `{"enabled": true}`, string(genesis.AppConfigs["indexer"]))

	require.Len(t, genesis.Messages, 2)
	require.Equal(t, dispatch.KindUpload, genesis.Messages[0].Msg.Kind)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, genesis.Messages[0].Msg.Code)
	require.Equal(t, dispatch.KindTransfer, genesis.Messages[1].Msg.Kind)
	require.Equal(t, dispatch.Address{0xb0}, genesis.Messages[1].Msg.To)
	require.Equal(t, "12345", genesis.Messages[1].Msg.Coins.AmountOf("ucoin").BigInt().String())
}

func TestParseGenesisDocRejectsBadAddress(t *testing.T) {
	raw := []byte(`{"config": {"owner": "zz"}, "messages": []}`)
	doc, err := parseGenesisDoc(raw)
	require.NoError(t, err)
	_, err = doc.toGenesis("chaincore-test")
	require.Error(t, err)
}

func TestParseGenesisDocRejectsUnknownKind(t *testing.T) {
	raw := []byte(`{
		"config": {"owner": "0a00000000000000000000000000000000000000"},
		"messages": [{"sender": "0a00000000000000000000000000000000000000",
		              "message": {"kind": "teleport"}}]
	}`)
	doc, err := parseGenesisDoc(raw)
	require.NoError(t, err)
	_, err = doc.toGenesis("chaincore-test")
	require.ErrorContains(t, err, "unknown message kind")
}
