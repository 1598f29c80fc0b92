package producer

import (
	"context"
	"errors"
	"sync"

	"proofanchor/internal/models"

	"github.com/sirupsen/logrus"
)

// MockProducer keeps published messages in memory. It backs the "mock://local"
// broker setting and tests.
type MockProducer struct {
	mu       sync.Mutex
	logger   *logrus.Entry
	requests []*models.ProofRequestMessage
	outcomes []*models.ProofOutcomeMessage
	closed   bool

	// OnPublish, when set, receives every published request, e.g. an in-process consumer
	OnPublish func(msg *models.ProofRequestMessage)

	// FailPublish makes request publishing return the error when set
	FailPublish error
}

// NewMockProducer creates an empty MockProducer
func NewMockProducer(logger *logrus.Entry) *MockProducer {
	return &MockProducer{logger: logger}
}

func (m *MockProducer) Publish(ctx context.Context, msg *models.ProofRequestMessage) error {
	return m.PublishBatch(ctx, []*models.ProofRequestMessage{msg})
}

func (m *MockProducer) PublishBatch(ctx context.Context, msgs []*models.ProofRequestMessage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("producer closed")
	}
	if m.FailPublish != nil {
		m.mu.Unlock()
		return m.FailPublish
	}
	m.requests = append(m.requests, msgs...)
	deliver := m.OnPublish
	m.mu.Unlock()

	for _, msg := range msgs {
		m.logger.Debugf("[MockProducer] Published request_id=%s", msg.RequestID)
		if deliver != nil {
			deliver(msg)
		}
	}
	return nil
}

func (m *MockProducer) PublishOutcome(ctx context.Context, msg *models.ProofOutcomeMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, msg)
	return nil
}

// Requests returns the published requests in order
func (m *MockProducer) Requests() []*models.ProofRequestMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ProofRequestMessage(nil), m.requests...)
}

// Outcomes returns the published outcomes in order
func (m *MockProducer) Outcomes() []*models.ProofOutcomeMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.ProofOutcomeMessage(nil), m.outcomes...)
}

func (m *MockProducer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ Producer = (*MockProducer)(nil)
