package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/pipeline"
	"proofanchor/config"
	"proofanchor/internal/messaging/consumer"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/sirupsen/logrus"
)

// Runner executes one proof request through the anchoring pipeline
type Runner interface {
	Run(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error)
}

// Worker consumes queued proof requests in batches and runs each claimed request
// through the pipeline.
type Worker struct {
	workerConfig       config.WorkerConfig
	batchTimeout       time.Duration // Parsed from workerConfig.BatchTimeout
	consumerRetryDelay time.Duration // Parsed from workerConfig.ConsumerRetryDelay
	runTimeout         time.Duration

	maxTaskRetries int // Business rule for maximum attempts per request
	logger         *logrus.Entry
	store          store.Store
	consumer       consumer.Consumer
	runner         Runner
}

// New creates a new Worker instance
func New(cfg config.WorkerConfig, maxTaskRetries int, runTimeout time.Duration, logger *logrus.Entry, s store.Store, c consumer.Consumer, r Runner) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	batchTimeout, err := time.ParseDuration(cfg.BatchTimeout)
	if err != nil {
		logger.Warnf("Invalid batch_timeout '%s', using default 1s", cfg.BatchTimeout)
		batchTimeout = 1 * time.Second
	}

	consumerRetryDelay, err := time.ParseDuration(cfg.ConsumerRetryDelay)
	if err != nil {
		logger.Warnf("Invalid consumer_retry_delay '%s', using default 5s", cfg.ConsumerRetryDelay)
		consumerRetryDelay = 5 * time.Second
	}

	if runTimeout <= 0 {
		runTimeout = 3 * time.Minute
	}

	return &Worker{
		workerConfig:       cfg,
		batchTimeout:       batchTimeout,
		consumerRetryDelay: consumerRetryDelay,
		runTimeout:         runTimeout,
		maxTaskRetries:     maxTaskRetries,
		logger:             logger,
		store:              s,
		consumer:           c,
		runner:             r,
	}
}

// Run starts the worker pool and blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	w.logger.Infof("Starting worker pool with concurrency: %d, BatchSize: %d, BatchTimeout: %s",
		w.workerConfig.Concurrency, w.workerConfig.BatchSize, w.batchTimeout)
	var wg sync.WaitGroup
	for i := 0; i < w.workerConfig.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			w.logger.Debugf("Worker %d started", workerID)
			w.processMessagesInBatch(ctx, workerID)
			w.logger.Debugf("Worker %d stopped", workerID)
		}(i + 1)
	}
	wg.Wait()
	w.logger.Info("Worker pool stopped.")
}

// processMessagesInBatch is the main loop for a worker goroutine
func (w *Worker) processMessagesInBatch(ctx context.Context, workerID int) {
	batchMessages := make([]*models.ProofRequestMessage, 0, w.workerConfig.BatchSize)
	acks := make([]func(success bool), 0, w.workerConfig.BatchSize)
	batchTimer := time.NewTimer(0)
	if !batchTimer.Stop() {
		select {
		case <-batchTimer.C:
		default:
		}
	}

	processBatch := func() {
		if len(batchMessages) == 0 {
			return
		}

		if !batchTimer.Stop() {
			select {
			case <-batchTimer.C:
			default:
			}
		}

		w.processAndAckBatch(ctx, workerID, batchMessages, acks)

		batchMessages = make([]*models.ProofRequestMessage, 0, w.workerConfig.BatchSize)
		acks = make([]func(success bool), 0, w.workerConfig.BatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Debugf("Worker %d: Context cancelled, stopping.", workerID)
			for _, ack := range acks {
				ack(false)
			}
			return

		case <-batchTimer.C:
			processBatch()

		default:
			consumeCtx, consumeCancel := context.WithTimeout(ctx, 100*time.Millisecond)
			msg, ack, err := w.consumer.Consume(consumeCtx)
			consumeCancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					continue
				}
				w.logger.Errorf("Worker %d: Consumer error: %v", workerID, err)
				select {
				case <-ctx.Done():
				case <-time.After(w.consumerRetryDelay):
				}
				continue
			}

			if msg != nil {
				if len(batchMessages) == 0 {
					batchTimer.Reset(w.batchTimeout)
				}

				batchMessages = append(batchMessages, msg)
				acks = append(acks, ack)

				if len(batchMessages) >= w.workerConfig.BatchSize {
					processBatch()
				}
			}
		}
	}
}

// processAndAckBatch handles processing and per-message acknowledgement. A NACK is
// only sent for requests that failed retryably and may be attempted again.
func (w *Worker) processAndAckBatch(ctx context.Context, workerID int, batch []*models.ProofRequestMessage, acks []func(success bool)) {
	redeliver, err := w.handleBatch(ctx, batch)
	if err != nil {
		w.logger.Errorf("Worker %d: Batch failed: %v (nacking %d messages)", workerID, err, len(acks))
		for _, ack := range acks {
			ack(false)
		}
		return
	}
	nacked := make(map[string]bool, len(redeliver))
	for i, msg := range batch {
		if redeliver[msg.RequestID] && !nacked[msg.RequestID] {
			nacked[msg.RequestID] = true
			acks[i](false)
			continue
		}
		acks[i](true)
	}
}

// outcome is the bookkeeping result of one claimed request
type outcome struct {
	completion *store.CompletionRecord
	failure    *store.FailureRecord
	redeliver  bool
}

// handleBatch claims the batch, runs every claimed request and records the results.
// It returns the request ids whose messages should be redelivered.
func (w *Worker) handleBatch(ctx context.Context, batch []*models.ProofRequestMessage) (map[string]bool, error) {
	redeliver := make(map[string]bool)
	if len(batch) == 0 {
		return redeliver, nil
	}
	batchStart := time.Now()

	requestIDs := make([]string, 0, len(batch))
	msgMap := make(map[string]*models.ProofRequestMessage, len(batch)) // request_id -> message
	for _, msg := range batch {
		if msg.RequestID == "" {
			continue
		}
		if _, dup := msgMap[msg.RequestID]; dup {
			continue
		}
		requestIDs = append(requestIDs, msg.RequestID)
		msgMap[msg.RequestID] = msg
	}
	if len(requestIDs) == 0 {
		return redeliver, nil
	}

	dbStart := time.Now()
	tasks, err := w.store.ClaimRequests(ctx, requestIDs, w.maxTaskRetries)
	dbQueryDuration := time.Since(dbStart)
	if err != nil {
		return nil, fmt.Errorf("DB error: ClaimRequests failed: %w", err)
	}

	var completions []store.CompletionRecord
	var failures []store.FailureRecord
	runStart := time.Now()
	claimed := 0
	for _, reqID := range requestIDs {
		task, ok := tasks[reqID]
		if !ok {
			w.logger.Warnf("Request %s has no status row, dropping message", reqID)
			continue
		}
		if task.Status != store.StatusProcessing {
			// Completed, exhausted or owned elsewhere
			continue
		}
		claimed++
		out := w.runOne(ctx, msgMap[reqID], task)
		if out.completion != nil {
			completions = append(completions, *out.completion)
		}
		if out.failure != nil {
			failures = append(failures, *out.failure)
		}
		if out.redeliver {
			redeliver[reqID] = true
		}
	}
	runDuration := time.Since(runStart)

	// Detached so outcomes are recorded during shutdown
	updateCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	dbUpdateStart := time.Now()
	var updateErrors []string
	if len(completions) > 0 {
		if err := w.store.MarkBatchAsCompleted(updateCtx, completions); err != nil {
			updateErrors = append(updateErrors, fmt.Sprintf("completion update failed: %v", err))
		}
	}
	if len(failures) > 0 {
		if err := w.store.MarkBatchAsFailed(updateCtx, failures); err != nil {
			updateErrors = append(updateErrors, fmt.Sprintf("failure update failed: %v", err))
		}
	}
	dbUpdateDuration := time.Since(dbUpdateStart)

	w.logger.Infof("Batch performance: size=%d, claimed=%d, completions=%d, failures=%d, db_query=%v, db_updates=%v, pipeline=%v, total=%v",
		len(batch), claimed, len(completions), len(failures), dbQueryDuration, dbUpdateDuration, runDuration, time.Since(batchStart))

	if len(updateErrors) > 0 {
		w.logger.Errorf("CRITICAL: DB update errors: %s", strings.Join(updateErrors, "; "))
	}
	return redeliver, nil
}

func (w *Worker) runOne(ctx context.Context, msg *models.ProofRequestMessage, task *store.RequestStatus) outcome {
	logger := w.logger.WithFields(logrus.Fields{"request_id": msg.RequestID, "attempt": task.Attempts})
	runCtx, cancel := context.WithTimeout(pipeline.WithRequestID(ctx, msg.RequestID), w.runTimeout)
	defer cancel()

	req := msg.Request
	res, err := w.runner.Run(runCtx, &req)
	if err != nil {
		logger.Errorf("Pipeline fault: %v", err)
		return w.failed(task, failure.Internal, err.Error())
	}
	if res.OK {
		return outcome{completion: &store.CompletionRecord{
			RequestID:      msg.RequestID,
			ProofID:        res.Proof.ID,
			CompressedTxID: res.Proof.CompressedTxID,
		}}
	}
	logger.Infof("Request stopped after %s with %s", res.State, res.Failure.Code)
	return w.failed(task, res.Failure.Code, res.Failure.Message)
}

func (w *Worker) failed(task *store.RequestStatus, code failure.Code, message string) outcome {
	retryable := failure.Retryable(code)
	return outcome{
		failure: &store.FailureRecord{
			RequestID:    task.RequestID,
			ErrorCode:    string(code),
			ErrorMessage: message,
			Retryable:    retryable,
		},
		redeliver: retryable && task.Attempts < w.maxTaskRetries,
	}
}
