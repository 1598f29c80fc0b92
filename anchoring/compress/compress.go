// Package compress performs the value-bearing tail of the pipeline: compressing
// minted units into a state tree and the best-effort memo that follows.
package compress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/provision"
	blockchain "proofanchor/blockchain/client"
	"proofanchor/blockchain/programs/compressedtoken"
	"proofanchor/blockchain/types"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
)

const (
	MinBatchCount     = 1
	MaxBatchCount     = 50
	DefaultBatchCount = 1
)

// ClampBatchCount returns the number of units to mint for an optional requested count
func ClampBatchCount(requested *int) uint64 {
	if requested == nil {
		return DefaultBatchCount
	}
	switch n := *requested; {
	case n < MinBatchCount:
		return MinBatchCount
	case n > MaxBatchCount:
		return MaxBatchCount
	default:
		return uint64(n)
	}
}

// Params describes one compression
type Params struct {
	Mint      solana.PublicKey
	Amount    uint64
	Holding   *provision.HoldingHandle
	Pool      *provision.PoolHandle
	Recipient solana.PublicKey
}

// MemoPayload is the public JSON note attached after a successful compression
type MemoPayload struct {
	Type           string `json:"type"`
	Mint           string `json:"mint"`
	CompressedTxID string `json:"compressedTxId"`
	ProofHash      string `json:"proofHash"`
}

// Executor submits compressions and memos. The holding account owner must be the fee
// payer.
type Executor struct {
	ledger      blockchain.LedgerClient
	signers     *types.Signers
	memoTimeout time.Duration
	logger      *logrus.Entry

	memos sync.WaitGroup
}

// NewExecutor creates an executor; memoTimeout bounds each memo submission
func NewExecutor(ledger blockchain.LedgerClient, signers *types.Signers, memoTimeout time.Duration, logger *logrus.Entry) *Executor {
	return &Executor{ledger: ledger, signers: signers, memoTimeout: memoTimeout, logger: logger}
}

// SelectStateTree picks the first listed tree with a usable address. The listing
// excludes nullified trees already.
func SelectStateTree(trees []types.StateTreeInfo) (types.StateTreeInfo, bool) {
	for _, t := range trees {
		if !t.Tree.IsZero() {
			return t, true
		}
	}
	return types.StateTreeInfo{}, false
}

// Compress moves p.Amount units from the holding account into a compressed account
// owned by p.Recipient. It is never retried: units are already minted.
func (e *Executor) Compress(ctx context.Context, p Params) (string, *failure.Error) {
	trees, err := e.ledger.GetActiveStateTrees(ctx)
	if err != nil {
		return "", failure.Wrap(failure.CompressTxFailed, fmt.Errorf("failed to list state trees: %w", err))
	}
	tree, ok := SelectStateTree(trees)
	if !ok {
		return "", failure.New(failure.CompressTxFailed, "no active state tree available")
	}

	programs := e.ledger.Programs()
	ix, err := programs.NewCompressInstruction(compressedtoken.CompressParams{
		Payer:        e.signers.FeePayer.PublicKey(),
		Owner:        p.Holding.Owner,
		Source:       p.Holding.Account,
		Recipient:    p.Recipient,
		Mint:         p.Mint,
		Amount:       p.Amount,
		Pool:         p.Pool.Pool,
		TokenProgram: p.Pool.TokenProgram,
		OutputTree:   tree.Tree,
	})
	if err != nil {
		return "", failure.Wrap(failure.CompressTxFailed, err)
	}

	sig, err := blockchain.BuildAndSubmit(ctx, e.ledger, []solana.Instruction{ix}, e.signers.FeePayer)
	if err != nil {
		e.logger.Errorf("Compression of %d units of %s failed: %v", p.Amount, p.Mint, err)
		return "", failure.Wrap(failure.CompressTxFailed, err)
	}
	return sig.String(), nil
}

// SubmitMemo sends payload as a memo in the background. Failures are logged at
// debug level and never reach the caller.
func (e *Executor) SubmitMemo(payload MemoPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Debugf("Skipping memo: %v", err)
		return
	}
	payer := e.signers.FeePayer
	ix := solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{
		solana.Meta(payer.PublicKey()).SIGNER(),
	}, data)

	e.memos.Add(1)
	go func() {
		defer e.memos.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.memoTimeout)
		defer cancel()
		if _, err := blockchain.BuildAndSubmit(ctx, e.ledger, []solana.Instruction{ix}, payer); err != nil {
			e.logger.Debugf("Memo for %s discarded: %v", payload.CompressedTxID, err)
		}
	}()
}

// Wait blocks until in-flight memos finish or time out
func (e *Executor) Wait() {
	e.memos.Wait()
}
