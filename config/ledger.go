package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// LedgerConfig stores common ledger configuration across all ledger types
type LedgerConfig struct {
	// --- Ledger Type Selection ---
	LedgerType string `yaml:"ledger_type"` // "solana"

	// --- Common Behavior Configuration ---
	RetryLimit          int    `yaml:"retry_limit"`           // RPC transport retries, never transaction resubmission
	RetryInterval       int    `yaml:"retry_interval"`        // Milliseconds between transport retries
	TimeoutSeconds      int    `yaml:"timeout_seconds"`       // Bounded wait for transaction confirmation
	ConfirmPollInterval string `yaml:"confirm_poll_interval"` // Signature status polling period

	// --- Chain-specific Configuration ---
	// This will be loaded separately based on ledger type
	ChainSpecific any `yaml:"-"`
}

// SetDefaults sets reasonable default values for the ledger configuration
func (c *LedgerConfig) SetDefaults() {
	if c.LedgerType == "" {
		c.LedgerType = "solana"
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 500
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 60
		fmt.Printf("Warning: timeout_seconds not set or invalid, defaulting to %d\n", c.TimeoutSeconds)
	}
	if c.ConfirmPollInterval == "" {
		c.ConfirmPollInterval = "500ms"
	}
}

// LoadLedgerConfig loads ledger configuration from the specified YAML file path
func LoadLedgerConfig(path string) (*LedgerConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config file: %w", err)
	}

	fmt.Printf("Loading ledger configuration from '%s'...\n", absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", absPath, err)
	}

	var cfg LedgerConfig
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config file: %w", err)
	}
	cfg.SetDefaults()

	fmt.Println("Ledger configuration loaded successfully.")
	return &cfg, nil
}
