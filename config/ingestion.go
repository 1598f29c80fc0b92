package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// KafkaProducerConfig defines configuration for Kafka producer
type KafkaProducerConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`        // Async proof requests
	EventsTopic string   `yaml:"events_topic"` // Pipeline outcome events, optional

	// Batch processing settings
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	BatchBytes   int           `yaml:"batch_bytes"`

	// Reliability settings
	RequiredAcks string `yaml:"required_acks"`
	Async        bool   `yaml:"async"`

	// Performance settings
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

// Enabled reports whether a real broker is configured
func (c *KafkaProducerConfig) Enabled() bool {
	return len(c.Brokers) > 0 && c.Brokers[0] != "mock://local"
}

// BatchProcessorConfig defines configuration for batching async submissions
type BatchProcessorConfig struct {
	BatchSize          int           `yaml:"batch_size"`
	BatchTimeout       time.Duration `yaml:"batch_timeout"`
	MaxBufferSize      int           `yaml:"max_buffer_size"`
	FlushChannelBuffer int           `yaml:"flush_channel_buffer"` // Buffer size for flush channel
}

// SetDefaults sets reasonable default values for batch processor configuration
func (c *BatchProcessorConfig) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 50
		fmt.Printf("Warning: batch_processor.batch_size not set, defaulting to %d\n", c.BatchSize)
	}
	if c.BatchTimeout == 0 {
		c.BatchTimeout = 200 * time.Millisecond
		fmt.Printf("Warning: batch_processor.batch_timeout not set, defaulting to %v\n", c.BatchTimeout)
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = 5000
	}
	if c.FlushChannelBuffer == 0 {
		c.FlushChannelBuffer = 100
	}
}

// HttpServerConfig defines HTTP server configuration
type HttpServerConfig struct {
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`
}

// SetDefaults fills zero timeouts. Write timeout must cover a full pipeline run.
func (c *HttpServerConfig) SetDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 4 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.MaxHeaderBytes == 0 {
		c.MaxHeaderBytes = 1 << 20 // 1 MB
	}
	if c.MaxBodyBytes == 0 {
		c.MaxBodyBytes = 2 << 20
	}
}

// MonitoringConfig defines logging and health configuration
type MonitoringConfig struct {
	HealthCheckPath string `yaml:"health_check_path"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"` // text | json
}

// SetDefaults sets reasonable default values for monitoring configuration
func (c *MonitoringConfig) SetDefaults() {
	if c.HealthCheckPath == "" {
		c.HealthCheckPath = "/health"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// ApiConfig defines all configuration required by the proof API service
type ApiConfig struct {
	HttpListenAddr string `yaml:"http_listen_addr"`
	GrpcListenAddr string `yaml:"grpc_listen_addr"`

	Database       DatabaseConfig       `yaml:"database"`
	KafkaProducer  KafkaProducerConfig  `yaml:"kafka_producer"`
	BatchProcessor BatchProcessorConfig `yaml:"batch_processor"`
	HttpServer     HttpServerConfig     `yaml:"http_server"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`

	// Ledger Client Configuration
	LedgerClientConfigPath string `yaml:"ledger_client_config_path"`
}

// envOverrides are secrets and endpoints operators set outside the YAML files
type envOverrides struct {
	DatabaseDSN string `envconfig:"DATABASE_DSN"`
}

func applyDatabaseOverride(db *DatabaseConfig) error {
	var env envOverrides
	if err := envconfig.Process("ANCHOR", &env); err != nil {
		return fmt.Errorf("failed to read environment overrides: %w", err)
	}
	if env.DatabaseDSN != "" {
		db.DSN = env.DatabaseDSN
	}
	return nil
}

// LoadApiConfig loads API configuration from the specified YAML file path
func LoadApiConfig(path string) (*ApiConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read API config file '%s': %w", path, err)
	}

	var cfg ApiConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse API YAML config file: %w", err)
	}
	if err := applyDatabaseOverride(&cfg.Database); err != nil {
		return nil, err
	}

	cfg.Database.SetDefaults()
	cfg.BatchProcessor.SetDefaults()
	cfg.HttpServer.SetDefaults()
	cfg.Monitoring.SetDefaults()
	cfg.Pipeline.SetDefaults()

	if cfg.HttpListenAddr == "" && cfg.GrpcListenAddr == "" {
		return nil, fmt.Errorf("configuration error: at least one of http_listen_addr or grpc_listen_addr must be configured")
	}
	if cfg.LedgerClientConfigPath == "" {
		return nil, fmt.Errorf("configuration error: ledger_client_config_path is required")
	}
	if err := cfg.Database.Validate(); err != nil {
		return nil, fmt.Errorf("database configuration error: %w", err)
	}

	return &cfg, nil
}
