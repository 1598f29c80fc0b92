package producer

import (
	"context"

	"proofanchor/internal/models"
)

// Producer defines the interface for message queue producer
type Producer interface {
	// Publish sends a single accepted proof request to the request topic
	Publish(ctx context.Context, msg *models.ProofRequestMessage) error

	// PublishBatch sends accepted proof requests in batch to the request topic
	PublishBatch(ctx context.Context, msgs []*models.ProofRequestMessage) error

	// PublishOutcome sends a pipeline outcome to the events topic. It is a no-op
	// when no events topic is configured.
	PublishOutcome(ctx context.Context, msg *models.ProofOutcomeMessage) error

	// Close closes the producer connection
	Close() error
}
