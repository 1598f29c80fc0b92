package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/pipeline"
	"proofanchor/config"
	"proofanchor/internal/messaging/producer"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrAsyncDisabled is returned by SubmitProof when no queue is configured
var ErrAsyncDisabled = errors.New("asynchronous submission is not configured")

// Runner executes one proof request through the anchoring pipeline
type Runner interface {
	Run(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error)
}

// SubmitResult is returned after an asynchronous submission is accepted
type SubmitResult struct {
	RequestID  string
	ReceivedAt time.Time
}

// Service encapsulates the core logic shared by the HTTP and gRPC surfaces
type Service struct {
	runner         Runner
	store          store.Store
	logger         *logrus.Entry
	runTimeout     time.Duration
	batchProcessor *BatchProcessor // Nil when asynchronous submission is disabled
	closeOnce      sync.Once
}

// NewService creates a new Service. A nil producer disables asynchronous submission.
// runTimeout bounds one synchronous pipeline run.
func NewService(r Runner, s store.Store, p producer.Producer, l *logrus.Entry, bpCfg config.BatchProcessorConfig, runTimeout time.Duration) *Service {
	if runTimeout <= 0 {
		runTimeout = 3 * time.Minute
	}
	svc := &Service{runner: r, store: s, logger: l, runTimeout: runTimeout}
	if p != nil {
		svc.batchProcessor = NewBatchProcessor(bpCfg.BatchSize, bpCfg.BatchTimeout, bpCfg.FlushChannelBuffer, s, p, l.WithField("component", "batch_processor"))
	}
	return svc
}

// InitProof runs req through the pipeline synchronously. Once started, the run is
// not cancelled by the caller going away; only runTimeout bounds it.
func (s *Service) InitProof(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.runTimeout)
	defer cancel()
	res, err := s.runner.Run(runCtx, req)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"tx_signature": req.TxSignature,
		"ok":           res.OK,
		"state":        res.State,
	}).Debugf("InitProof finished in %v", time.Since(start))
	return res, nil
}

// RetrieveProofs lists the proofs of wallet, newest first
func (s *Service) RetrieveProofs(ctx context.Context, wallet string) ([]*store.AnchoredProof, *failure.Error, error) {
	if f := ValidateWallet(wallet); f != nil {
		return nil, f, nil
	}
	proofs, err := s.store.ListProofsByUser(ctx, wallet, store.MaxListLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list proofs: %w", err)
	}
	return proofs, nil, nil
}

// SubmitProof accepts req for asynchronous anchoring and returns immediately
func (s *Service) SubmitProof(ctx context.Context, req *models.ProofRequest) (*SubmitResult, error) {
	if s.batchProcessor == nil {
		return nil, ErrAsyncDisabled
	}
	result := &SubmitResult{RequestID: uuid.NewString(), ReceivedAt: time.Now().UTC()}
	// The status row exists before the request id is handed out
	if err := s.store.InsertRequestStatusBatch(ctx, []*store.RequestStatus{{
		RequestID:   result.RequestID,
		TxSignature: req.TxSignature,
		UserID:      req.UserID,
		Status:      store.StatusReceived,
		ReceivedAt:  result.ReceivedAt,
	}}); err != nil {
		return nil, fmt.Errorf("failed to record request: %w", err)
	}
	s.batchProcessor.Submit(req, result.RequestID, result.ReceivedAt)
	return result, nil
}

// AsyncEnabled reports whether SubmitProof is available
func (s *Service) AsyncEnabled() bool {
	return s.batchProcessor != nil
}

// RequestStatus returns the state of an asynchronous request
func (s *Service) RequestStatus(ctx context.Context, requestID string) (*store.RequestStatus, *failure.Error, error) {
	status, err := s.store.GetRequestStatus(ctx, requestID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure.New(failure.RequestNotFound, "request %s not found", requestID), nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read request status: %w", err)
	}
	return status, nil, nil
}

// Ping checks the store
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close gracefully shuts down the service, flushing pending submissions. It is
// safe to call more than once.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		if s.batchProcessor != nil {
			s.batchProcessor.Close()
		}
	})
}
