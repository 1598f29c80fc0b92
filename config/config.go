package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete application configuration
type Config struct {
	Engine *EngineConfig
	Api    *ApiConfig
	Ledger *LedgerConfig
}

// LoadConfig loads all configuration files present in a directory
func LoadConfig(configDir string) (*Config, error) {
	absDir, err := filepath.Abs(configDir)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of config directory: %w", err)
	}

	config := &Config{}

	enginePath := filepath.Join(absDir, "engine.defaults.yml")
	if _, err := os.Stat(enginePath); err == nil {
		engineCfg, err := LoadEngineConfig(enginePath)
		if err != nil {
			return nil, fmt.Errorf("failed to load engine config: %w", err)
		}
		config.Engine = engineCfg
	}

	apiPath := filepath.Join(absDir, "api.defaults.yml")
	if _, err := os.Stat(apiPath); err == nil {
		apiCfg, err := LoadApiConfig(apiPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load API config: %w", err)
		}
		config.Api = apiCfg
	}

	ledgerPath := filepath.Join(absDir, "client_config.yml")
	if _, err := os.Stat(ledgerPath); err == nil {
		ledgerCfg, err := LoadLedgerConfig(ledgerPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load ledger config: %w", err)
		}
		config.Ledger = ledgerCfg
	}

	return config, nil
}
