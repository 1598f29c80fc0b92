package service

import (
	"context"
	"sync"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/internal/messaging/producer"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/sirupsen/logrus"
)

// BatchProcessor handles batching of asynchronous proof requests. Status rows are
// written by the service before a request is buffered; batches are only published.
type BatchProcessor struct {
	batchSize    int
	batchTimeout time.Duration
	logger       *logrus.Entry
	store        store.Store
	producer     producer.Producer

	// Buffers
	buffer      []*batchEntry
	bufferMutex sync.Mutex
	flushChan   chan []*batchEntry

	// Context for graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type batchEntry struct {
	request    *models.ProofRequest
	requestID  string
	receivedAt time.Time
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(batchSize int, batchTimeout time.Duration, flushChannelBuffer int,
	store store.Store, producer producer.Producer, logger *logrus.Entry) *BatchProcessor {

	if batchSize <= 0 {
		batchSize = 50
	}
	if batchTimeout <= 0 {
		batchTimeout = 200 * time.Millisecond
	}
	if flushChannelBuffer <= 0 {
		flushChannelBuffer = 100
	}
	ctx, cancel := context.WithCancel(context.Background())

	bp := &BatchProcessor{
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		logger:       logger,
		store:        store,
		producer:     producer,
		buffer:       make([]*batchEntry, 0, batchSize),
		flushChan:    make(chan []*batchEntry, flushChannelBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}

	bp.wg.Add(2)
	go bp.batchTimer()
	go bp.batchProcessor()

	return bp
}

// Submit adds a request to the batch with a pre-generated request ID
func (bp *BatchProcessor) Submit(req *models.ProofRequest, requestID string, receivedAt time.Time) {
	entry := &batchEntry{request: req, requestID: requestID, receivedAt: receivedAt}

	bp.bufferMutex.Lock()
	bp.buffer = append(bp.buffer, entry)
	shouldFlush := len(bp.buffer) >= bp.batchSize
	bp.bufferMutex.Unlock()

	if shouldFlush {
		bp.flushIfNeeded()
	}
}

// batchTimer handles periodic flushing
func (bp *BatchProcessor) batchTimer() {
	defer bp.wg.Done()

	ticker := time.NewTicker(bp.batchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bp.flushIfNeeded()
		case <-bp.ctx.Done():
			return
		}
	}
}

// batchProcessor handles actual batch processing
func (bp *BatchProcessor) batchProcessor() {
	defer bp.wg.Done()

	for {
		select {
		case batch := <-bp.flushChan:
			bp.processBatch(batch)
		case <-bp.ctx.Done():
			bp.drain()
			return
		}
	}
}

// drain processes queued batches and the buffer before shutdown
func (bp *BatchProcessor) drain() {
	for {
		select {
		case batch := <-bp.flushChan:
			bp.processBatch(batch)
		default:
			bp.bufferMutex.Lock()
			remaining := bp.buffer
			bp.buffer = nil
			bp.bufferMutex.Unlock()

			bp.processBatch(remaining)
			return
		}
	}
}

// flushIfNeeded hands the buffered entries to the processor goroutine. When the
// flush channel is full they stay buffered for the next tick.
func (bp *BatchProcessor) flushIfNeeded() {
	bp.bufferMutex.Lock()
	if len(bp.buffer) == 0 {
		bp.bufferMutex.Unlock()
		return
	}

	batch := make([]*batchEntry, len(bp.buffer))
	copy(batch, bp.buffer)
	bp.buffer = bp.buffer[:0]
	bp.bufferMutex.Unlock()

	select {
	case bp.flushChan <- batch:
	default:
		bp.logger.Warn("Flush channel full, will flush on next timer")
		bp.bufferMutex.Lock()
		bp.buffer = append(batch, bp.buffer...)
		bp.bufferMutex.Unlock()
	}
}

// processBatch publishes the requests; a failed publish marks them FAILED
func (bp *BatchProcessor) processBatch(batch []*batchEntry) {
	if len(batch) == 0 {
		return
	}
	ctx := context.Background()
	start := time.Now()

	messages := make([]*models.ProofRequestMessage, len(batch))
	for i, entry := range batch {
		messages[i] = &models.ProofRequestMessage{
			RequestID:         entry.requestID,
			Request:           *entry.request,
			ReceivedTimestamp: entry.receivedAt.Format(time.RFC3339Nano),
		}
	}

	kafkaStart := time.Now()
	if err := bp.producer.PublishBatch(ctx, messages); err != nil {
		bp.logger.Errorf("Batch publish failed: %v", err)
		failures := make([]store.FailureRecord, len(batch))
		for i, entry := range batch {
			failures[i] = store.FailureRecord{
				RequestID:    entry.requestID,
				ErrorCode:    string(failure.Internal),
				ErrorMessage: "failed to enqueue request: " + err.Error(),
			}
		}
		if markErr := bp.store.MarkBatchAsFailed(ctx, failures); markErr != nil {
			bp.logger.Errorf("Failed to mark unpublished requests as failed: %v", markErr)
		}
		return
	}
	kafkaDuration := time.Since(kafkaStart)

	bp.logger.Infof("Batch processed: %d requests, Queue: %v, Total: %v",
		len(batch), kafkaDuration, time.Since(start))
}

// Close gracefully shuts down the batch processor
func (bp *BatchProcessor) Close() {
	bp.cancel()
	bp.wg.Wait()
}
