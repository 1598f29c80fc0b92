// Package bootstrap assembles the shared runtime pieces of both binaries.
package bootstrap

import (
	"context"
	"fmt"
	"os"

	"proofanchor/anchoring/pipeline"
	blockchain "proofanchor/blockchain/client"
	"proofanchor/config"
	"proofanchor/storage/store"

	"github.com/sirupsen/logrus"
)

// NewLogger builds the process logger from the monitoring settings
func NewLogger(cfg config.MonitoringConfig, service string) *logrus.Entry {
	l := logrus.New()
	l.Out = os.Stdout
	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		l.Warnf("Invalid log_level '%s', using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return l.WithField("service", service)
}

// OpenStore migrates the schema when configured and opens the store
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Entry) (store.Store, error) {
	cfg.LogConfiguration(logger)
	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.DSN, logger); err != nil {
			return nil, err
		}
	}
	return store.Open(ctx, cfg.DSN, store.PoolOptions{
		MinConnections: cfg.MinConnections,
		MaxConnections: cfg.MaxConnections,
		MaxIdleTime:    cfg.MaxIdleTimeDuration(),
		MaxLifetime:    cfg.MaxLifetimeDuration(),
	}, logger)
}

// Anchoring is a ready pipeline together with the ledger client it owns
type Anchoring struct {
	Ledger       blockchain.LedgerClient
	Orchestrator *pipeline.Orchestrator
}

// Close releases the orchestrator and the ledger client
func (a *Anchoring) Close() {
	a.Orchestrator.Close()
	if err := a.Ledger.Close(); err != nil {
		logrus.Warnf("Failed to close ledger client: %v", err)
	}
}

// NewAnchoring connects the ledger described by ledgerConfigPath and builds the
// orchestrator on top of it. notifier may be nil.
func NewAnchoring(cfg config.PipelineConfig, ledgerConfigPath string, s store.Store, notifier pipeline.Notifier, logger *logrus.Entry) (*Anchoring, error) {
	ledger, err := blockchain.NewLedgerClientFromFile(ledgerConfigPath, logger.WithField("component", "ledger"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ledger client: %w", err)
	}
	signers, err := blockchain.LoadSigners(ledger)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to load signing keys: %w", err)
	}
	if signers.MasterMint != nil {
		logger.Infof("Reusing master mint %s", signers.MasterMint)
	}

	orch, err := pipeline.New(pipeline.Config{
		Chain:           cfg.Chain,
		TokenName:       cfg.TokenName,
		TokenSymbol:     cfg.TokenSymbol,
		MetadataURIBase: cfg.MetadataURIBase,
		Decimals:        cfg.Decimals,
		EnableMemo:      cfg.MemoEnabled(),
		MemoTimeout:     cfg.MemoTimeoutDuration(),
	}, ledger, signers, s, notifier, logger.WithField("component", "pipeline"))
	if err != nil {
		ledger.Close()
		return nil, err
	}
	logger.Infof("Anchoring on %s with fee payer %s", cfg.Chain, signers.FeePayer.PublicKey())
	return &Anchoring{Ledger: ledger, Orchestrator: orch}, nil
}
