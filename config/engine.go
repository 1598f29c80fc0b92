package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// KafkaConsumerConfig defines configuration for Kafka consumer
type KafkaConsumerConfig struct {
	Brokers           []string `yaml:"brokers"`             // e.g., ["kafka1:9092", "kafka2:9092"]
	Topic             string   `yaml:"topic"`               // Topic to consume from
	GroupID           string   `yaml:"group_id"`            // Consumer group ID
	Count             int      `yaml:"count"`               // Number of consumers to create
	SessionTimeout    string   `yaml:"session_timeout"`     // Kafka session timeout
	HeartbeatInterval string   `yaml:"heartbeat_interval"`  // Kafka heartbeat interval
	AutoOffsetReset   string   `yaml:"auto_offset_reset"`   // earliest/latest
}

// Enabled reports whether a real broker is configured
func (c *KafkaConsumerConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Brokers[0] != "mock://local"
}

// SetDefaults sets reasonable default values for Kafka consumer configuration
func (c *KafkaConsumerConfig) SetDefaults() {
	if c.Count <= 0 {
		c.Count = 1
		fmt.Printf("Warning: kafka_consumer.count not set or invalid, defaulting to %d\n", c.Count)
	}
	if c.SessionTimeout == "" {
		c.SessionTimeout = "30s"
	}
	if c.HeartbeatInterval == "" {
		c.HeartbeatInterval = "3s"
	}
	if c.AutoOffsetReset == "" {
		c.AutoOffsetReset = "earliest"
	}
}

// WorkerConfig defines configuration for worker processing
type WorkerConfig struct {
	Concurrency        int    `yaml:"concurrency"`          // Worker goroutines per consumer
	BatchSize          int    `yaml:"batch_size"`           // Messages claimed together
	BatchTimeout       string `yaml:"batch_timeout"`        // Flush a partial batch after this delay
	ConsumerRetryDelay string `yaml:"consumer_retry_delay"` // Delay when consumer encounters errors
}

// SetDefaults sets reasonable default values for worker configuration
func (c *WorkerConfig) SetDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
		fmt.Printf("Warning: worker.concurrency not set or invalid, defaulting to %d\n", c.Concurrency)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchTimeout == "" {
		c.BatchTimeout = "1s"
	}
	if c.ConsumerRetryDelay == "" {
		c.ConsumerRetryDelay = "5s"
	}
}

// EngineConfig defines all configuration for the anchoring engine
type EngineConfig struct {
	Database      DatabaseConfig      `yaml:"database"`
	KafkaConsumer KafkaConsumerConfig `yaml:"kafka_consumer"`
	KafkaProducer KafkaProducerConfig `yaml:"kafka_producer"` // Only events_topic is used
	Worker        WorkerConfig        `yaml:"worker"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`

	// Business Rules Configuration
	MaxTaskRetries int `yaml:"max_task_retries"` // Maximum attempts per async request

	LedgerClientConfigPath string `yaml:"ledger_client_config_path"`
}

// LoadEngineConfig loads configuration from the specified YAML file path
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg EngineConfig
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}
	if err := applyDatabaseOverride(&cfg.Database); err != nil {
		return nil, err
	}

	cfg.Database.SetDefaults()
	cfg.KafkaConsumer.SetDefaults()
	cfg.Worker.SetDefaults()
	cfg.Pipeline.SetDefaults()
	cfg.Monitoring.SetDefaults()

	if cfg.MaxTaskRetries <= 0 {
		cfg.MaxTaskRetries = 3
		fmt.Printf("Warning: max_task_retries not set or invalid, defaulting to %d\n", cfg.MaxTaskRetries)
	}
	if cfg.LedgerClientConfigPath == "" {
		return nil, fmt.Errorf("configuration error: ledger_client_config_path is required")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}

	return &cfg, nil
}
