package config

import (
	"fmt"
	"time"
)

// PipelineConfig defines the anchoring pipeline's business settings
type PipelineConfig struct {
	Chain           string `yaml:"chain"`             // Constant ledger identifier stored with every proof
	TokenName       string `yaml:"token_name"`        // Metadata name of freshly created mints
	TokenSymbol     string `yaml:"token_symbol"`      // Metadata symbol of freshly created mints
	MetadataURIBase string `yaml:"metadata_uri_base"` // Caller-facing URI prefix, the tx signature is appended
	Decimals        uint8  `yaml:"decimals"`
	EnableMemo      *bool  `yaml:"enable_memo"`
	MemoTimeout     string `yaml:"memo_timeout"` // Bound on the best-effort memo submission
	RunTimeout      string `yaml:"run_timeout"`  // Upper bound on one full pipeline run
}

// SetDefaults sets reasonable default values for the pipeline configuration
func (c *PipelineConfig) SetDefaults() {
	if c.Chain == "" {
		c.Chain = "solana-devnet"
		fmt.Printf("Warning: pipeline.chain not set, defaulting to %s\n", c.Chain)
	}
	if c.TokenName == "" {
		c.TokenName = "Runtime Proof"
	}
	if c.TokenSymbol == "" {
		c.TokenSymbol = "RPROOF"
	}
	if c.MetadataURIBase == "" {
		c.MetadataURIBase = "https://proofs.invalid/tx"
		fmt.Printf("Warning: pipeline.metadata_uri_base not set, defaulting to %s\n", c.MetadataURIBase)
	}
	if c.EnableMemo == nil {
		enabled := true
		c.EnableMemo = &enabled
	}
	if c.MemoTimeout == "" {
		c.MemoTimeout = "20s"
	}
	if c.RunTimeout == "" {
		c.RunTimeout = "3m"
	}
}

// MemoTimeoutDuration parses MemoTimeout, falling back to 20s
func (c *PipelineConfig) MemoTimeoutDuration() time.Duration {
	return parseDurationOr(c.MemoTimeout, 20*time.Second)
}

// RunTimeoutDuration parses RunTimeout, falling back to 3m
func (c *PipelineConfig) RunTimeoutDuration() time.Duration {
	return parseDurationOr(c.RunTimeout, 3*time.Minute)
}

// MemoEnabled reports whether the best-effort memo is submitted
func (c *PipelineConfig) MemoEnabled() bool {
	return c.EnableMemo == nil || *c.EnableMemo
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		if value != "" {
			fmt.Printf("Warning: invalid duration '%s', using default %s\n", value, fallback)
		}
		return fallback
	}
	return d
}
