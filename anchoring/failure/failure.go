// Package failure defines the closed set of error codes reported by the anchoring
// pipeline and its entry surfaces.
package failure

import (
	"errors"
	"fmt"
	"strings"

	"proofanchor/blockchain/types"
)

// Code is a stable, machine-readable failure identifier
type Code string

const (
	// Input validation
	InvalidBody          Code = "INVALID_BODY"
	InvalidWallet        Code = "INVALID_WALLET"
	InvalidTxBytesBase58 Code = "INVALID_TX_BYTES_BASE58"

	// Claim rejection
	RuntimeHashMismatch Code = "RUNTIME_HASH_MISMATCH"
	TxNotFound          Code = "TX_NOT_FOUND"

	// Configuration
	MintAuthorityMissing Code = "MINT_AUTHORITY_MISSING"

	// Ledger execution
	MintTxFailed           Code = "MINT_TX_FAILED"
	CreatePoolFailed       Code = "CREATE_POOL_FAILED"
	PrepareAtaOrMintFailed Code = "PREPARE_ATA_OR_MINT_FAILED"
	CompressTxFailed       Code = "COMPRESS_TX_FAILED"

	// Storage after a confirmed compression
	PersistFailed Code = "PERSIST_FAILED"

	RequestNotFound Code = "REQUEST_NOT_FOUND"
	Internal        Code = "INTERNAL"
)

// Missing returns the code naming an absent required field, e.g. txSignature ->
// MISSING_TX_SIGNATURE.
func Missing(field string) Code {
	var b strings.Builder
	b.WriteString("MISSING_")
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			continue
		}
		b.WriteString(strings.ToUpper(string(r)))
	}
	return Code(b.String())
}

// Error is a pipeline failure value: a code, a human message and any ledger
// diagnostics that were retrievable.
type Error struct {
	Code    Code
	Message string
	Logs    []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New returns a failure without diagnostics
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap converts err into a failure with code, keeping the ledger log lines when err
// carries them.
func Wrap(code Code, err error) *Error {
	f := &Error{Code: code, Message: err.Error()}
	var lp types.LogProvider
	if errors.As(err, &lp) {
		f.Logs = append([]string(nil), lp.Logs()...)
	}
	return f
}

// Retryable reports whether re-running the whole request is safe and may succeed.
// Only failures that happen before the mint is ready qualify.
func Retryable(code Code) bool {
	switch code {
	case MintTxFailed, CreatePoolFailed, PrepareAtaOrMintFailed, Internal:
		return true
	}
	return false
}
