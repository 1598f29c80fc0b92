package consumer

import (
	"context"
	"errors"
	"sync"

	"proofanchor/internal/models"

	"github.com/sirupsen/logrus"
)

// MockConsumer serves messages pushed in-process. It backs the "mock://local"
// broker setting and tests.
type MockConsumer struct {
	logger   *logrus.Entry
	messages chan *models.ProofRequestMessage

	mu     sync.Mutex
	closed bool
	acks   map[string][]bool
}

// NewMockConsumer creates a MockConsumer buffering up to size messages
func NewMockConsumer(logger *logrus.Entry, size int) *MockConsumer {
	if size <= 0 {
		size = 100
	}
	return &MockConsumer{
		logger:   logger,
		messages: make(chan *models.ProofRequestMessage, size),
		acks:     make(map[string][]bool),
	}
}

// Push enqueues msg. It drops the message with a warning when the buffer is full
// or the consumer is closed.
func (m *MockConsumer) Push(msg *models.ProofRequestMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.logger.Warnf("[MockConsumer] Closed, dropping request_id=%s", msg.RequestID)
		return
	}
	select {
	case m.messages <- msg:
	default:
		m.logger.Warnf("[MockConsumer] Buffer full, dropping request_id=%s", msg.RequestID)
	}
}

// Consume reads pushed messages from the channel.
func (m *MockConsumer) Consume(ctx context.Context) (msg *models.ProofRequestMessage, ack func(success bool), err error) {
	select {
	case <-ctx.Done():
		m.logger.Debug("[MockConsumer] Context cancelled, stopping consumption")
		return nil, nil, ctx.Err()
	case msg, ok := <-m.messages:
		if !ok {
			return nil, nil, errors.New("message channel closed")
		}
		m.logger.Debugf("[MockConsumer] Consumed message: request_id=%s", msg.RequestID)

		ackCallback := func(success bool) {
			m.mu.Lock()
			m.acks[msg.RequestID] = append(m.acks[msg.RequestID], success)
			m.mu.Unlock()
			if !success {
				m.logger.Debugf("[MockConsumer] NACK received for request_id=%s. Re-queueing", msg.RequestID)
				m.Push(msg)
			}
		}
		return msg, ackCallback, nil
	}
}

// Acks returns the ack results recorded for requestID, in order
func (m *MockConsumer) Acks(requestID string) []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.acks[requestID]...)
}

// Close closes the message channel.
func (m *MockConsumer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.messages)
	return nil
}

var _ Consumer = (*MockConsumer)(nil)
