package compress

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/provision"
	"proofanchor/blockchain/client/mock"
	"proofanchor/blockchain/programs/token2022"
	"proofanchor/blockchain/types"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestClampBatchCount(t *testing.T) {
	cases := []struct {
		in   *int
		want uint64
	}{
		{nil, 1},
		{intPtr(0), 1},
		{intPtr(-5), 1},
		{intPtr(1), 1},
		{intPtr(17), 17},
		{intPtr(50), 50},
		{intPtr(51), 50},
		{intPtr(1000), 50},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClampBatchCount(c.in))
	}
}

func TestSelectStateTree(t *testing.T) {
	_, ok := SelectStateTree(nil)
	assert.False(t, ok)

	good := solana.NewWallet().PublicKey()
	tree, ok := SelectStateTree([]types.StateTreeInfo{{}, {Tree: good}})
	require.True(t, ok)
	assert.Equal(t, good, tree.Tree)
}

type fixture struct {
	ledger   *mock.Ledger
	signers  *types.Signers
	executor *Executor
	mint     *provision.MintHandle
	pool     *provision.PoolHandle
	holding  *provision.HoldingHandle
}

func newFixture(t *testing.T, amount uint64) *fixture {
	t.Helper()
	l := logrus.New()
	l.Out = io.Discard
	logger := logrus.NewEntry(l)

	ledger := mock.NewLedger()
	signers, err := mock.RandomSigners()
	require.NoError(t, err)
	p := provision.NewProvisioner(ledger, signers, logger)
	ctx := context.Background()

	mint, f := p.EnsureMint(ctx, provision.MintSpec{Name: "n", Symbol: "s", URI: "u", Attributes: []token2022.Attribute{}})
	require.Nil(t, f)
	pool, f := p.EnsurePool(ctx, mint.Mint)
	require.Nil(t, f)
	holding, f := p.PrepareHoldingAccount(ctx, mint, signers.FeePayer.PublicKey(), amount)
	require.Nil(t, f)

	return &fixture{
		ledger:   ledger,
		signers:  signers,
		executor: NewExecutor(ledger, signers, time.Second, logger),
		mint:     mint,
		pool:     pool,
		holding:  holding,
	}
}

func (fx *fixture) params(amount uint64) Params {
	return Params{
		Mint:      fx.mint.Mint,
		Amount:    amount,
		Holding:   fx.holding,
		Pool:      fx.pool,
		Recipient: fx.signers.FeePayer.PublicKey(),
	}
}

func TestCompressMovesUnitsIntoStateTree(t *testing.T) {
	fx := newFixture(t, 4)

	sig, f := fx.executor.Compress(context.Background(), fx.params(4))
	require.Nil(t, f)
	assert.NotEmpty(t, sig)

	out := fx.ledger.Compressed()
	require.Len(t, out, 1)
	assert.Equal(t, sig, out[0].Signature)
	assert.Equal(t, uint64(4), out[0].Amount)
	assert.Equal(t, fx.mint.Mint, out[0].Mint)
	assert.Equal(t, fx.signers.FeePayer.PublicKey(), out[0].Owner)
	assert.Equal(t, uint64(0), fx.ledger.Balance(fx.holding.Account))
}

func TestCompressWithoutActiveTree(t *testing.T) {
	fx := newFixture(t, 1)
	fx.ledger.SetStateTrees(nil)

	_, f := fx.executor.Compress(context.Background(), fx.params(1))
	require.NotNil(t, f)
	assert.Equal(t, failure.CompressTxFailed, f.Code)
}

func TestCompressRejectionCarriesLogs(t *testing.T) {
	fx := newFixture(t, 1)
	fx.ledger.FailNext(mock.KindCompress, "invalid merkle tree", "Program log: AnchorError", "Program failed")

	_, f := fx.executor.Compress(context.Background(), fx.params(1))
	require.NotNil(t, f)
	assert.Equal(t, failure.CompressTxFailed, f.Code)
	assert.Equal(t, []string{"Program log: AnchorError", "Program failed"}, f.Logs)
	assert.Empty(t, fx.ledger.Compressed())
}

func TestSubmitMemoIsFireAndForget(t *testing.T) {
	fx := newFixture(t, 1)
	payload := MemoPayload{Type: "runtime_proof", Mint: fx.mint.Mint.String(), CompressedTxID: "ctx", ProofHash: "ph"}

	fx.executor.SubmitMemo(payload)
	fx.executor.Wait()

	memos := fx.ledger.Memos()
	require.Len(t, memos, 1)
	var got MemoPayload
	require.NoError(t, json.Unmarshal([]byte(memos[0]), &got))
	assert.Equal(t, payload, got)
}

func TestSubmitMemoFailureIsSwallowed(t *testing.T) {
	fx := newFixture(t, 1)
	fx.ledger.FailNext(mock.KindMemo, "memo rejected")

	fx.executor.SubmitMemo(MemoPayload{Type: "runtime_proof"})
	fx.executor.Wait()
	assert.Empty(t, fx.ledger.Memos())
}
