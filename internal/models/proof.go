package models

import "time"

// ProofRequest is a caller's claim that a runtime action occurred.
// Shared by the HTTP/gRPC surfaces, the queue and the pipeline.
type ProofRequest struct {
	TxSignature      string `json:"txSignature"`
	TxBytesBase58    string `json:"txBytesBase58"`
	RuntimeProofHash string `json:"runtimeProofHash"`
	Timestamp        int64  `json:"timestamp"` // Epoch millis claimed by the caller
	UserID           string `json:"userId"`
	RuntimeID        string `json:"runtimeId,omitempty"`
	BatchCount       *int   `json:"batchCount,omitempty"`
}

// ProofRequestMessage carries an accepted async request through the queue
type ProofRequestMessage struct {
	RequestID         string       `json:"requestId"`
	Request           ProofRequest `json:"request"`
	ReceivedTimestamp string       `json:"receivedTimestamp"` // RFC 3339
}

// ProofOutcomeMessage is the event emitted after each pipeline run
type ProofOutcomeMessage struct {
	RequestID      string    `json:"requestId,omitempty"`
	TxSignature    string    `json:"txSignature"`
	UserID         string    `json:"userId"`
	OK             bool      `json:"ok"`
	State          string    `json:"state"`
	ErrorCode      string    `json:"errorCode,omitempty"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	MintAddress    string    `json:"mint,omitempty"`
	CompressedTxID string    `json:"compressedTxId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}
