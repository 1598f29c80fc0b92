package store

import (
	"context"
	"errors"
	"time"
)

// Request processing statuses
const (
	StatusReceived   = "RECEIVED"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
)

// MaxListLimit caps the number of proofs returned for one user
const MaxListLimit = 200

var ErrNotFound = errors.New("not found")

// AnchoredProof is one persisted runtime proof. Rows are append-only.
type AnchoredProof struct {
	ID               string    `json:"id"`
	TxSignature      string    `json:"txSignature"`
	TxBytesBase58    string    `json:"txBytesBase58"`
	RuntimeProofHash string    `json:"runtimeProofHash"`
	UserID           string    `json:"userId"`
	RuntimeID        *string   `json:"runtimeId"`
	TimestampMs      int64     `json:"timestamp"`
	MintAddress      string    `json:"mint"`
	MintTxID         string    `json:"mintTxId"` // Empty when a master mint was reused
	CompressedTxID   string    `json:"compressedTxId"`
	Chain            string    `json:"chain"`
	CreatedAt        time.Time `json:"createdAt"`
}

// RequestStatus tracks an asynchronously submitted proof request
type RequestStatus struct {
	RequestID      string    `json:"requestId"`
	TxSignature    string    `json:"txSignature"`
	UserID         string    `json:"userId"`
	Status         string    `json:"status"`
	Attempts       int       `json:"attempts"`
	Retryable      bool      `json:"retryable"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	ProofID        string    `json:"proofId,omitempty"`
	CompressedTxID string    `json:"compressedTxId,omitempty"`
	ReceivedAt     time.Time `json:"receivedAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// CompletionRecord marks a request as anchored
type CompletionRecord struct {
	RequestID      string
	ProofID        string
	CompressedTxID string
}

// FailureRecord marks a request as failed. Retryable failures may be claimed again
// until the attempt limit is reached.
type FailureRecord struct {
	RequestID    string
	ErrorCode    string
	ErrorMessage string
	Retryable    bool
}

// Store is the durable storage used by the API and the engine
type Store interface {
	// InsertProof appends one anchored proof. Duplicate tx signatures are accepted.
	InsertProof(ctx context.Context, proof *AnchoredProof) error

	// ListProofsByUser returns the user's proofs newest first, at most limit rows
	// (clamped to MaxListLimit).
	ListProofsByUser(ctx context.Context, userID string, limit int) ([]*AnchoredProof, error)

	// InsertRequestStatusBatch records accepted async requests as RECEIVED
	InsertRequestStatusBatch(ctx context.Context, statuses []*RequestStatus) error

	// GetRequestStatus returns ErrNotFound for unknown ids
	GetRequestStatus(ctx context.Context, requestID string) (*RequestStatus, error)

	// ClaimRequests atomically moves claimable requests to PROCESSING and bumps their
	// attempt counter. A request is claimable when RECEIVED, or FAILED, retryable and
	// below maxAttempts. Every known id is returned with its resulting status.
	ClaimRequests(ctx context.Context, requestIDs []string, maxAttempts int) (map[string]*RequestStatus, error)

	MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error
	MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error

	Ping(ctx context.Context) error
	Close()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func claimable(s *RequestStatus, maxAttempts int) bool {
	switch s.Status {
	case StatusReceived:
		return true
	case StatusFailed:
		return s.Retryable && s.Attempts < maxAttempts
	}
	return false
}
