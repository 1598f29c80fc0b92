package consumer

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

// KafkaConsumer implements the Consumer interface to consume proof requests from Kafka
type KafkaConsumer struct {
	reader  *kafka.Reader
	requeue *kafka.Writer // Republishes NACKed messages to the same topic
	logger  *logrus.Entry
}

// NewKafkaConsumer creates a new KafkaConsumer instance
func NewKafkaConsumer(cfg config.KafkaConsumerConfig, logger *logrus.Entry) (*KafkaConsumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, errors.New("incomplete kafka configuration: brokers, topic, group_id are all required")
	}

	// Parse session timeout with default
	sessionTimeout, err := time.ParseDuration(cfg.SessionTimeout)
	if err != nil {
		logger.Warnf("Invalid session_timeout '%s', using default 30s", cfg.SessionTimeout)
		sessionTimeout = 30 * time.Second
	}

	// Parse heartbeat interval with default
	heartbeatInterval, err := time.ParseDuration(cfg.HeartbeatInterval)
	if err != nil {
		logger.Warnf("Invalid heartbeat_interval '%s', using default 3s", cfg.HeartbeatInterval)
		heartbeatInterval = 3 * time.Second
	}

	// Set default auto offset reset
	autoOffsetReset := cfg.AutoOffsetReset
	if autoOffsetReset == "" {
		autoOffsetReset = "earliest"
	}

	// Configure Kafka reader
	readerConfig := kafka.ReaderConfig{
		Brokers:           cfg.Brokers,
		GroupID:           cfg.GroupID,
		Topic:             cfg.Topic,
		MinBytes:          10e3,            // 10KB
		MaxBytes:          10e6,            // 10MB
		MaxWait:           1 * time.Second, // Max wait time for message fetch
		CommitInterval:    time.Second,     // Auto commit interval (used if not manually committing)
		SessionTimeout:    sessionTimeout,
		HeartbeatInterval: heartbeatInterval,
		StartOffset:       kafka.FirstOffset, // Will be overridden by autoOffsetReset
	}

	// Set start offset based on autoOffsetReset
	switch autoOffsetReset {
	case "latest":
		readerConfig.StartOffset = kafka.LastOffset
	case "earliest":
		readerConfig.StartOffset = kafka.FirstOffset
	default:
		logger.Warnf("Unknown auto_offset_reset '%s', using earliest", autoOffsetReset)
		readerConfig.StartOffset = kafka.FirstOffset
	}

	r := kafka.NewReader(readerConfig)

	logger.Infof("Kafka consumer created, connected to Brokers: %v, Topic: %s, GroupID: %s", cfg.Brokers, cfg.Topic, cfg.GroupID)

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	return &KafkaConsumer{
		reader:  r,
		requeue: w,
		logger:  logger,
	}, nil
}

// Consume implements the Consumer interface by reading messages from Kafka
func (k *KafkaConsumer) Consume(ctx context.Context) (msg *models.ProofRequestMessage, ack func(success bool), err error) {
	// Fetch message from Kafka
	kafkaMsg, err := k.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			k.logger.Info("Kafka consumer: Context cancelled, stopping consumption.")
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}

	// Deserialize message body (assumes JSON format)
	var reqMsg models.ProofRequestMessage
	if err := json.Unmarshal(kafkaMsg.Value, &reqMsg); err != nil {
		k.logger.Errorf("Kafka consumer: Failed to deserialize message (Offset: %d): %v. Message will be discarded.", kafkaMsg.Offset, err)
		_ = k.reader.CommitMessages(ctx, kafkaMsg) // Commit offset to avoid blocking
		return nil, nil, fmt.Errorf("message deserialization failed: %w", err)
	}

	// Create ack callback
	ackCallback := func(success bool) {
		commitCtx := context.Background()
		if success {
			if err := k.reader.CommitMessages(commitCtx, kafkaMsg); err != nil {
				k.logger.Errorf("Kafka consumer: Failed to commit offset %d: %v", kafkaMsg.Offset, err)
			}
			return
		}
		// A consumer group never re-reads an uncommitted offset within a session, so
		// redelivery goes through the topic tail.
		k.logger.Warnf("Kafka consumer: NACK received for offset %d (request_id %s). Re-queueing.", kafkaMsg.Offset, reqMsg.RequestID)
		requeued := kafka.Message{Key: kafkaMsg.Key, Value: kafkaMsg.Value, Headers: kafkaMsg.Headers}
		if err := k.requeue.WriteMessages(commitCtx, requeued); err != nil {
			k.logger.Errorf("Kafka consumer: Failed to re-queue request_id %s, offset %d left uncommitted: %v", reqMsg.RequestID, kafkaMsg.Offset, err)
			return
		}
		if err := k.reader.CommitMessages(commitCtx, kafkaMsg); err != nil {
			k.logger.Errorf("Kafka consumer: Failed to commit offset %d: %v", kafkaMsg.Offset, err)
		}
	}

	return &reqMsg, ackCallback, nil
}

// Close implements the Consumer interface by closing the Kafka reader
func (k *KafkaConsumer) Close() error {
	k.logger.Info("Closing Kafka consumer...")
	return errors.Join(k.requeue.Close(), k.reader.Close())
}

// Ensure KafkaConsumer implements the Consumer interface
var _ Consumer = (*KafkaConsumer)(nil)
