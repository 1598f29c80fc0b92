package blockchain

import (
	"context"

	"proofanchor/blockchain/programs/compressedtoken"
	"proofanchor/blockchain/types"

	"github.com/gagliardetto/solana-go"
)

// LedgerClient defines the ledger calls consumed by the anchoring pipeline.
// Implementations must be safe for concurrent use; they hold no per-request state.
type LedgerClient interface {
	// GetTransaction reads a previously submitted transaction. A single read is
	// authoritative: unknown signatures yield types.ErrTransactionNotFound.
	GetTransaction(ctx context.Context, signature string) (*types.TransactionRecord, error)

	// GetActiveStateTrees lists the state trees currently accepting appends
	GetActiveStateTrees(ctx context.Context) ([]types.StateTreeInfo, error)

	// GetMinimumBalanceForRentExemption returns the rent-exempt balance for dataSize bytes
	GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error)

	// GetLatestBlockhash returns a recent blockhash for transaction construction
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)

	// SendAndConfirmTransaction submits a signed transaction and waits, bounded by the
	// client's confirmation timeout, for it to reach the configured commitment.
	// Rejections are returned as *types.ExecutionError.
	SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// GetTokenPools lists the compression pool slots for a mint, initialized or not
	GetTokenPools(ctx context.Context, mint solana.PublicKey) ([]types.TokenPoolInfo, error)

	// Programs returns the compression program deployment the client targets
	Programs() compressedtoken.ProgramSet

	// Close releases client resources
	Close() error

	// Config returns the configuration associated with the client
	Config() any
}
