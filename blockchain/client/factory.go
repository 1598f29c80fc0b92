package blockchain

import (
	"fmt"
	"path/filepath"

	"proofanchor/blockchain/client/mock"
	"proofanchor/blockchain/client/solana"
	"proofanchor/blockchain/types"
	"proofanchor/config"

	"github.com/sirupsen/logrus"
)

// LedgerType represents the type of ledger client
type LedgerType string

const (
	Solana LedgerType = "solana"
	// Mock is an in-process ledger for local runs without a cluster
	Mock LedgerType = "mock"
)

// LoadChainSpecificConfig loads chain-specific configuration based on ledger type
func LoadChainSpecificConfig(ledgerType string, configDir string) (any, error) {
	switch LedgerType(ledgerType) {
	case Solana, "":
		return solana.LoadSolanaConfig(filepath.Join(configDir, "clients", "solana.yml"))
	case Mock:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", ledgerType)
	}
}

// NewLedgerClient creates a ledger client based on the configuration
func NewLedgerClient(cfg *config.LedgerConfig, logger *logrus.Entry) (LedgerClient, error) {
	switch LedgerType(cfg.LedgerType) {
	case Solana, "":
		return solana.NewSolanaClient(cfg, logger)
	case Mock:
		logger.Warn("Using in-memory mock ledger; nothing is anchored on a real cluster")
		return mock.NewLedger(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.LedgerType)
	}
}

// NewLedgerClientFromFile creates a ledger client from configuration files
func NewLedgerClientFromFile(configPath string, logger *logrus.Entry) (LedgerClient, error) {
	// Load common configuration
	cfg, err := config.LoadLedgerConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load common config from file '%s': %w", configPath, err)
	}

	// Load chain-specific configuration
	configDir := filepath.Dir(configPath)
	chainSpecificCfg, err := LoadChainSpecificConfig(cfg.LedgerType, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load chain-specific config: %w", err)
	}

	cfg.ChainSpecific = chainSpecificCfg
	return NewLedgerClient(cfg, logger)
}

// LoadSigners resolves the signing keys for the client's ledger type. The mock ledger
// signs with a fresh random fee payer and has no master mint.
func LoadSigners(client LedgerClient) (*types.Signers, error) {
	switch cfg := client.Config().(type) {
	case *solana.SolanaConfig:
		return cfg.LoadSigners()
	default:
		return mock.RandomSigners()
	}
}
