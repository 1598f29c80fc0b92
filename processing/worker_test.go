package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/pipeline"
	"proofanchor/config"
	"proofanchor/internal/messaging/consumer"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	mu      sync.Mutex
	results []func() (*pipeline.Result, error)
	calls   int
	ids     []string
}

func (r *scriptedRunner) Run(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := pipeline.RequestIDFromContext(ctx)
	r.ids = append(r.ids, id)
	step := r.results[len(r.results)-1]
	if r.calls < len(r.results) {
		step = r.results[r.calls]
	}
	r.calls++
	return step()
}

func (r *scriptedRunner) requestIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func (r *scriptedRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func succeed() (*pipeline.Result, error) {
	return &pipeline.Result{OK: true, State: pipeline.StatePersisted, Proof: &store.AnchoredProof{ID: "proof-1", CompressedTxID: "ctx-1"}}, nil
}

func failWith(code failure.Code) func() (*pipeline.Result, error) {
	return func() (*pipeline.Result, error) {
		return &pipeline.Result{State: pipeline.StateTxConfirmed, Failure: failure.New(code, "simulated")}, nil
	}
}

type harness struct {
	store    *store.MemoryStore
	consumer *consumer.MockConsumer
	runner   *scriptedRunner
	cancel   context.CancelFunc
	done     chan struct{}
}

func startWorker(t *testing.T, maxRetries int, steps ...func() (*pipeline.Result, error)) *harness {
	t.Helper()
	l := logrus.New()
	l.Out = io.Discard
	logger := logrus.NewEntry(l)

	h := &harness{
		store:    store.NewMemoryStore(),
		consumer: consumer.NewMockConsumer(logger, 16),
		runner:   &scriptedRunner{results: steps},
		done:     make(chan struct{}),
	}
	w := New(config.WorkerConfig{
		Concurrency:        1,
		BatchSize:          4,
		BatchTimeout:       "10ms",
		ConsumerRetryDelay: "10ms",
	}, maxRetries, time.Second, logger, h.store, h.consumer, h.runner)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		w.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) submit(t *testing.T, requestID string) {
	t.Helper()
	require.NoError(t, h.store.InsertRequestStatusBatch(context.Background(), []*store.RequestStatus{{
		RequestID:   requestID,
		TxSignature: "sig-" + requestID,
		UserID:      "user-1",
	}}))
	h.consumer.Push(&models.ProofRequestMessage{
		RequestID: requestID,
		Request:   models.ProofRequest{TxSignature: "sig-" + requestID, UserID: "user-1"},
	})
}

func (h *harness) waitForStatus(t *testing.T, requestID, status string) *store.RequestStatus {
	t.Helper()
	var last *store.RequestStatus
	require.Eventually(t, func() bool {
		s, err := h.store.GetRequestStatus(context.Background(), requestID)
		if err != nil {
			return false
		}
		last = s
		return s.Status == status
	}, 2*time.Second, 5*time.Millisecond)
	return last
}

func (h *harness) waitForAcks(t *testing.T, requestID string, n int) []bool {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(h.consumer.Acks(requestID)) >= n
	}, 2*time.Second, 5*time.Millisecond)
	return h.consumer.Acks(requestID)
}

func TestWorkerCompletesRequest(t *testing.T) {
	h := startWorker(t, 3, succeed)
	h.submit(t, "req-1")

	status := h.waitForStatus(t, "req-1", store.StatusCompleted)
	assert.Equal(t, "proof-1", status.ProofID)
	assert.Equal(t, "ctx-1", status.CompressedTxID)
	assert.Equal(t, 1, status.Attempts)
	assert.Equal(t, []bool{true}, h.waitForAcks(t, "req-1", 1))
	assert.Equal(t, []string{"req-1"}, h.runner.requestIDs())
}

func TestWorkerRetriesRetryableFailure(t *testing.T) {
	h := startWorker(t, 3, failWith(failure.CreatePoolFailed), succeed)
	h.submit(t, "req-1")

	h.waitForStatus(t, "req-1", store.StatusCompleted)
	acks := h.waitForAcks(t, "req-1", 2)
	assert.Equal(t, []bool{false, true}, acks)
	status, err := h.store.GetRequestStatus(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, 2, status.Attempts)
}

func TestWorkerDoesNotRetryClaimRejection(t *testing.T) {
	h := startWorker(t, 3, failWith(failure.RuntimeHashMismatch))
	h.submit(t, "req-1")

	status := h.waitForStatus(t, "req-1", store.StatusFailed)
	assert.Equal(t, string(failure.RuntimeHashMismatch), status.ErrorCode)
	assert.False(t, status.Retryable)
	assert.Equal(t, []bool{true}, h.waitForAcks(t, "req-1", 1))
	assert.Equal(t, 1, h.runner.callCount())
}

func TestWorkerStopsAtAttemptLimit(t *testing.T) {
	h := startWorker(t, 2, failWith(failure.MintTxFailed))
	h.submit(t, "req-1")

	acks := h.waitForAcks(t, "req-1", 2)
	assert.Equal(t, []bool{false, true}, acks)
	status := h.waitForStatus(t, "req-1", store.StatusFailed)
	assert.Equal(t, 2, status.Attempts)
	assert.True(t, status.Retryable)
	assert.Equal(t, 2, h.runner.callCount())
}

func TestWorkerTreatsPipelineFaultAsInternal(t *testing.T) {
	h := startWorker(t, 1, func() (*pipeline.Result, error) { return nil, errors.New("rpc down") })
	h.submit(t, "req-1")

	status := h.waitForStatus(t, "req-1", store.StatusFailed)
	assert.Equal(t, string(failure.Internal), status.ErrorCode)
	assert.Equal(t, []bool{true}, h.waitForAcks(t, "req-1", 1))
}

func TestWorkerAcksUnknownRequest(t *testing.T) {
	h := startWorker(t, 3, succeed)
	h.consumer.Push(&models.ProofRequestMessage{RequestID: "ghost"})

	assert.Equal(t, []bool{true}, h.waitForAcks(t, "ghost", 1))
	assert.Equal(t, 0, h.runner.callCount())
}

func TestWorkerSkipsCompletedRequest(t *testing.T) {
	h := startWorker(t, 3, succeed)
	h.submit(t, "req-1")
	h.waitForStatus(t, "req-1", store.StatusCompleted)
	h.waitForAcks(t, "req-1", 1)

	// Duplicate delivery of an already anchored request
	h.consumer.Push(&models.ProofRequestMessage{RequestID: "req-1"})
	h.waitForAcks(t, "req-1", 2)
	assert.Equal(t, 1, h.runner.callCount())
}
