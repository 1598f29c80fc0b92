package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"proofanchor/config"
	"proofanchor/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// KafkaProducer implements the Producer interface
type KafkaProducer struct {
	requests *kafka.Writer // Nil when only events are produced
	events   *kafka.Writer // Nil when no events topic is configured
	logger   *logrus.Entry
	topic    string
}

// NewKafkaProducer creates a new KafkaProducer. At least one of topic and
// events_topic must be set.
func NewKafkaProducer(cfg config.KafkaProducerConfig, logger *logrus.Entry) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 || (cfg.Topic == "" && cfg.EventsTopic == "") {
		return nil, errors.New("kafka producer configuration incomplete: brokers and a topic or events_topic are required")
	}

	p := &KafkaProducer{logger: logger, topic: cfg.Topic}
	if cfg.Topic != "" {
		p.requests = newWriter(cfg, cfg.Topic, logger)
	}
	if cfg.EventsTopic != "" {
		p.events = newWriter(cfg, cfg.EventsTopic, logger)
	}

	logger.Infof("Kafka producer created, connected to Brokers: %v, Topic: %q, EventsTopic: %q", cfg.Brokers, cfg.Topic, cfg.EventsTopic)
	return p, nil
}

func newWriter(cfg config.KafkaProducerConfig, topic string, logger *logrus.Entry) *kafka.Writer {
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = 100
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 100 * time.Millisecond
	}

	batchBytes := cfg.BatchBytes
	if batchBytes == 0 {
		batchBytes = 5 * 1024 * 1024 // 5MB
	}

	var requiredAcks kafka.RequiredAcks
	switch cfg.RequiredAcks {
	case "none":
		requiredAcks = kafka.RequireNone
	case "all":
		requiredAcks = kafka.RequireAll
	default:
		requiredAcks = kafka.RequireOne
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 5 * time.Second
	}

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 5 * time.Second
	}

	return &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{}, // Same key, same partition

		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		BatchBytes:   int64(batchBytes),

		// Reliability settings
		RequiredAcks: requiredAcks,
		Async:        cfg.Async,

		WriteTimeout: writeTimeout,
		ReadTimeout:  readTimeout,

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Errorf("Kafka Writer Error: "+msg, args...)
		}),
	}
}

func requestMessage(msg *models.ProofRequestMessage) (kafka.Message, error) {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to serialize proof request (RequestID: %s): %w", msg.RequestID, err)
	}
	return kafka.Message{
		Key:   []byte(msg.RequestID),
		Value: msgBytes,
	}, nil
}

// Publish sends a message
func (p *KafkaProducer) Publish(ctx context.Context, msg *models.ProofRequestMessage) error {
	return p.PublishBatch(ctx, []*models.ProofRequestMessage{msg})
}

// PublishBatch sends proof requests in batch to the request topic
func (p *KafkaProducer) PublishBatch(ctx context.Context, msgs []*models.ProofRequestMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	if p.requests == nil {
		return errors.New("kafka producer has no request topic configured")
	}

	kafkaMsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		m, err := requestMessage(msg)
		if err != nil {
			return err
		}
		kafkaMsgs[i] = m
	}

	if err := p.requests.WriteMessages(ctx, kafkaMsgs...); err != nil {
		p.logger.Errorf("Failed to send Kafka messages in batch (count: %d): %v", len(msgs), err)
		return fmt.Errorf("failed to batch write to Kafka: %w", err)
	}

	p.logger.Debugf("Successfully added %d Kafka messages to send queue (Topic: %s)", len(msgs), p.topic)
	return nil
}

// PublishOutcome sends a pipeline outcome keyed by transaction signature
func (p *KafkaProducer) PublishOutcome(ctx context.Context, msg *models.ProofOutcomeMessage) error {
	if p.events == nil {
		return nil
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize outcome for %s: %w", msg.TxSignature, err)
	}
	if err := p.events.WriteMessages(ctx, kafka.Message{Key: []byte(msg.TxSignature), Value: msgBytes}); err != nil {
		return fmt.Errorf("failed to write outcome to Kafka: %w", err)
	}
	return nil
}

// Close closes the producer, flushing buffered messages
func (p *KafkaProducer) Close() error {
	p.logger.Info("Closing Kafka producer (and flushing buffer)...")
	var errs []error
	for _, w := range []*kafka.Writer{p.requests, p.events} {
		if w != nil {
			errs = append(errs, w.Close())
		}
	}
	return errors.Join(errs...)
}

var _ Producer = (*KafkaProducer)(nil) // Compile-time interface check
