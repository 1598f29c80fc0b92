package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ErrTransactionNotFound is returned when the ledger has no record of a signature
// at the configured commitment level.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRecord is the subset of a landed transaction the pipeline relies on
type TransactionRecord struct {
	Signature   string
	Slot        uint64
	BlockTime   *time.Time // Nil when the cluster did not report one
	Err         any        // On-chain execution error, nil on success
	LogMessages []string
}

// Signers holds the keys the pipeline signs with. MintAuthority is nil when not
// configured; MasterMint is nil when every request gets a fresh mint.
type Signers struct {
	FeePayer      solana.PrivateKey
	MasterMint    *solana.PublicKey
	MintAuthority solana.PrivateKey
}

// StateTreeInfo describes one state tree the compression program can append to
type StateTreeInfo struct {
	Tree       solana.PublicKey
	Queue      solana.PublicKey
	CpiContext solana.PublicKey
}

// TokenPoolInfo describes one compression pool slot derived for a mint
type TokenPoolInfo struct {
	Mint          solana.PublicKey
	PoolPDA       solana.PublicKey
	TokenProgram  solana.PublicKey // Owner of the pool account, zero when uninitialized
	Index         uint8
	Bump          uint8
	IsInitialized bool
}

// LogProvider is implemented by errors that carry ledger diagnostic log lines
type LogProvider interface {
	Logs() []string
}

// ExecutionError is a ledger-native rejection of a submitted transaction
type ExecutionError struct {
	Signature string // Empty when the rejection happened during preflight
	Message   string
	LogLines  []string
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Signature != "" {
		return fmt.Sprintf("transaction %s rejected: %s", e.Signature, e.Message)
	}
	return fmt.Sprintf("transaction rejected: %s", e.Message)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Logs returns the diagnostic lines reported by the ledger, if any
func (e *ExecutionError) Logs() []string { return e.LogLines }

// ConflictKind classifies a rejection as a benign "already exists" conflict
type ConflictKind string

const (
	ConflictNone               ConflictKind = ""
	ConflictAlreadyInUse       ConflictKind = "already_in_use"
	ConflictCustomZero         ConflictKind = "custom_program_error_0x0"
	ConflictAlreadyInitialized ConflictKind = "already_initialized"
)

// benignConflicts is the closed set of diagnostic signatures treated as a successful
// no-op when creating an account that may already exist. Anything else is fatal.
var benignConflicts = []struct {
	kind   ConflictKind
	marker string
}{
	{ConflictAlreadyInUse, "already in use"},
	{ConflictCustomZero, "custom program error: 0x0"},
	{ConflictAlreadyInitialized, "already initialized"},
}

// ClassifyConflict inspects an error (and any logs it carries) for a benign
// "already exists" signature.
func ClassifyConflict(err error) ConflictKind {
	if err == nil {
		return ConflictNone
	}
	texts := []string{err.Error()}
	var lp LogProvider
	if errors.As(err, &lp) {
		texts = append(texts, lp.Logs()...)
	}
	for _, text := range texts {
		lower := strings.ToLower(text)
		for _, c := range benignConflicts {
			if !strings.Contains(lower, c.marker) {
				continue
			}
			// "custom program error: 0x0" must not match 0x0a, 0x01, ...
			if c.kind == ConflictCustomZero && !endsCustomZero(lower, c.marker) {
				continue
			}
			return c.kind
		}
	}
	return ConflictNone
}

func endsCustomZero(text, marker string) bool {
	for idx := strings.Index(text, marker); idx >= 0; {
		end := idx + len(marker)
		if end == len(text) || !isHexDigit(text[end]) {
			return true
		}
		next := strings.Index(text[end:], marker)
		if next < 0 {
			return false
		}
		idx = end + next
	}
	return false
}

func isHexDigit(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f')
}
