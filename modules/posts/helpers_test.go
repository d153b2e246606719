package posts

import (
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"
	"github.com/stretchr/testify/require"

	"github.com/mapfeed/mapfeed-indexer/core/types"
	"github.com/mapfeed/mapfeed-indexer/modules/posts/protocol"
)

func buildScript(t *testing.T, pushes ...[]byte) []byte {
	t.Helper()
	builder := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN)
	for _, push := range pushes {
		builder.AddData(push)
	}
	script, err := builder.Script()
	require.NoError(t, err)
	return script
}

// mapOutput builds one output script carrying the given key/value pairs.
func mapOutput(t *testing.T, pairs ...string) []byte {
	t.Helper()
	pushes := [][]byte{protocol.Marker, []byte("SET")}
	for _, pair := range pairs {
		pushes = append(pushes, []byte(pair))
	}
	return buildScript(t, pushes...)
}

func testTxID(seed string) string {
	return strings.Repeat("0", 64-len(seed)) + seed
}

func makeTx(t *testing.T, txid string, height int64, outputs ...[]byte) *types.Transaction {
	t.Helper()
	return &types.Transaction{
		TxID:          txid,
		BlockHeight:   height,
		BlockTime:     time.Unix(1700000000, 0).UTC(),
		OutputScripts: outputs,
		Addresses:     []string{"bc1qexampleaddress"},
		Mempool:       height == types.MempoolHeight,
	}
}
