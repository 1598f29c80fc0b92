package service

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/pipeline"
	"proofanchor/config"
	"proofanchor/internal/messaging/producer"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	result *pipeline.Result
	err    error
}

func (r *stubRunner) Run(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error) {
	return r.result, r.err
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

var fastBatches = config.BatchProcessorConfig{BatchSize: 2, BatchTimeout: 5 * time.Millisecond, FlushChannelBuffer: 4}

func TestSubmitProofRecordsAndPublishes(t *testing.T) {
	s := store.NewMemoryStore()
	p := producer.NewMockProducer(testLogger())
	svc := NewService(&stubRunner{}, s, p, testLogger(), fastBatches, 0)

	req := &models.ProofRequest{TxSignature: "sig-1", UserID: "user-1"}
	res, err := svc.SubmitProof(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.RequestID)

	require.Eventually(t, func() bool { return len(p.Requests()) == 1 }, time.Second, 5*time.Millisecond)
	msg := p.Requests()[0]
	assert.Equal(t, res.RequestID, msg.RequestID)
	assert.Equal(t, "sig-1", msg.Request.TxSignature)

	status, f, err := svc.RequestStatus(context.Background(), res.RequestID)
	require.NoError(t, err)
	require.Nil(t, f)
	assert.Equal(t, store.StatusReceived, status.Status)
	assert.Equal(t, "user-1", status.UserID)
	svc.Close()
}

func TestCloseFlushesPendingSubmissions(t *testing.T) {
	s := store.NewMemoryStore()
	p := producer.NewMockProducer(testLogger())
	svc := NewService(&stubRunner{}, s, p, testLogger(), config.BatchProcessorConfig{BatchSize: 100, BatchTimeout: time.Hour, FlushChannelBuffer: 1}, 0)

	for i := 0; i < 3; i++ {
		_, err := svc.SubmitProof(context.Background(), &models.ProofRequest{TxSignature: "sig"})
		require.NoError(t, err)
	}
	svc.Close()
	assert.Len(t, p.Requests(), 3)
}

func TestSubmitProofPublishFailureMarksRequests(t *testing.T) {
	s := store.NewMemoryStore()
	p := producer.NewMockProducer(testLogger())
	p.FailPublish = errors.New("broker unavailable")
	svc := NewService(&stubRunner{}, s, p, testLogger(), fastBatches, 0)
	defer svc.Close()

	res, err := svc.SubmitProof(context.Background(), &models.ProofRequest{TxSignature: "sig-1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := s.GetRequestStatus(context.Background(), res.RequestID)
		return err == nil && st.Status == store.StatusFailed
	}, time.Second, 5*time.Millisecond)
	st, err := s.GetRequestStatus(context.Background(), res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, string(failure.Internal), st.ErrorCode)
}

func TestSubmitProofStatusInsertFailure(t *testing.T) {
	s := store.NewMemoryStore()
	s.FailStatusInserts = errors.New("db down")
	p := producer.NewMockProducer(testLogger())
	svc := NewService(&stubRunner{}, s, p, testLogger(), fastBatches, 0)

	res, err := svc.SubmitProof(context.Background(), &models.ProofRequest{TxSignature: "sig-1"})
	require.Error(t, err)
	assert.Nil(t, res)
	svc.Close()
	assert.Empty(t, p.Requests())
}

func TestSubmitProofStatusVisibleImmediately(t *testing.T) {
	s := store.NewMemoryStore()
	p := producer.NewMockProducer(testLogger())
	svc := NewService(&stubRunner{}, s, p, testLogger(), config.BatchProcessorConfig{BatchSize: 100, BatchTimeout: time.Hour, FlushChannelBuffer: 1}, 0)
	defer svc.Close()

	res, err := svc.SubmitProof(context.Background(), &models.ProofRequest{TxSignature: "sig-1", UserID: "user-1"})
	require.NoError(t, err)

	status, f, err := svc.RequestStatus(context.Background(), res.RequestID)
	require.NoError(t, err)
	require.Nil(t, f)
	assert.Equal(t, store.StatusReceived, status.Status)
}

func TestCloseIsIdempotent(t *testing.T) {
	p := producer.NewMockProducer(testLogger())
	svc := NewService(&stubRunner{}, store.NewMemoryStore(), p, testLogger(), config.BatchProcessorConfig{BatchSize: 100, BatchTimeout: time.Hour, FlushChannelBuffer: 1}, 0)
	_, err := svc.SubmitProof(context.Background(), &models.ProofRequest{TxSignature: "sig"})
	require.NoError(t, err)

	svc.Close()
	svc.Close()
	assert.Len(t, p.Requests(), 1)
}

type ctxRunner struct {
	cancelCaller context.CancelFunc
	ctxErr       error
	hasDeadline  bool
}

func (r *ctxRunner) Run(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error) {
	r.cancelCaller()
	r.ctxErr = ctx.Err()
	_, r.hasDeadline = ctx.Deadline()
	return &pipeline.Result{OK: true, State: pipeline.StatePersisted, Proof: &store.AnchoredProof{ID: "p"}}, nil
}

func TestInitProofOutlivesCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &ctxRunner{cancelCaller: cancel}
	svc := NewService(runner, store.NewMemoryStore(), nil, testLogger(), fastBatches, time.Minute)
	defer svc.Close()

	res, err := svc.InitProof(ctx, &models.ProofRequest{TxSignature: "sig-1"})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.NoError(t, runner.ctxErr)
	assert.True(t, runner.hasDeadline)
}

func TestSubmitProofWithoutQueue(t *testing.T) {
	svc := NewService(&stubRunner{}, store.NewMemoryStore(), nil, testLogger(), fastBatches, 0)
	assert.False(t, svc.AsyncEnabled())
	_, err := svc.SubmitProof(context.Background(), &models.ProofRequest{})
	assert.ErrorIs(t, err, ErrAsyncDisabled)
	svc.Close()
}

func TestRequestStatusUnknown(t *testing.T) {
	svc := NewService(&stubRunner{}, store.NewMemoryStore(), nil, testLogger(), fastBatches, 0)
	_, f, err := svc.RequestStatus(context.Background(), "nope")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, failure.RequestNotFound, f.Code)
}

func TestRetrieveProofs(t *testing.T) {
	s := store.NewMemoryStore()
	wallet := "WalletAddress1234567890"
	base := time.Now()
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.InsertProof(context.Background(), &store.AnchoredProof{
			ID: id, UserID: wallet, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	svc := NewService(&stubRunner{}, s, nil, testLogger(), fastBatches, 0)

	proofs, f, err := svc.RetrieveProofs(context.Background(), wallet)
	require.NoError(t, err)
	require.Nil(t, f)
	require.Len(t, proofs, 3)
	assert.Equal(t, "t3", proofs[0].ID)
	assert.Equal(t, "t2", proofs[1].ID)
	assert.Equal(t, "t1", proofs[2].ID)

	_, f, err = svc.RetrieveProofs(context.Background(), "short")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, failure.InvalidWallet, f.Code)

	proofs, f, err = svc.RetrieveProofs(context.Background(), "AnotherWallet1234567890")
	require.NoError(t, err)
	require.Nil(t, f)
	assert.Empty(t, proofs)
	assert.NotNil(t, proofs)
}
