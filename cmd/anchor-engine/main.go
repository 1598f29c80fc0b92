package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"proofanchor/config"
	"proofanchor/internal/bootstrap"
	"proofanchor/internal/messaging/consumer"
	"proofanchor/internal/messaging/producer"
	worker "proofanchor/processing"
	"proofanchor/storage/store"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "anchor-engine",
		Short: "Asynchronous runtime proof anchoring engine",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/engine.defaults.yml", "Engine configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Consume queued proof requests and anchor them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEngineConfig(configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadEngineConfig(configPath)
			if err != nil {
				return err
			}
			return store.Migrate(cfg.Database.DSN, bootstrap.NewLogger(cfg.Monitoring, "anchor-engine"))
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.EngineConfig) error {
	logger := bootstrap.NewLogger(cfg.Monitoring, "anchor-engine")
	logger.Info("Starting anchoring engine...")

	if !cfg.KafkaConsumer.Enabled() {
		return fmt.Errorf("configuration error: kafka_consumer.brokers must name a real broker; mock://local only works inside anchor-api")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStore, err := bootstrap.OpenStore(ctx, cfg.Database, logger.WithField("component", "store"))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer dbStore.Close()

	// Outcome events are optional
	var notifier producer.Producer
	if cfg.KafkaProducer.Enabled() && cfg.KafkaProducer.EventsTopic != "" {
		eventsProducer, err := producer.NewKafkaProducer(cfg.KafkaProducer, logger.WithField("component", "producer"))
		if err != nil {
			return fmt.Errorf("failed to initialize events producer: %w", err)
		}
		defer eventsProducer.Close()
		notifier = eventsProducer
	}

	anchoring, err := bootstrap.NewAnchoring(cfg.Pipeline, cfg.LedgerClientConfigPath, dbStore, notifier, logger)
	if err != nil {
		return err
	}
	defer anchoring.Close()

	logger.Infof("Initializing %d Kafka message queue consumers...", cfg.KafkaConsumer.Count)
	var mqConsumers []consumer.Consumer
	defer func() {
		for _, c := range mqConsumers {
			c.Close()
		}
	}()
	for i := 0; i < cfg.KafkaConsumer.Count; i++ {
		kafkaConsumer, err := consumer.NewKafkaConsumer(cfg.KafkaConsumer, logger.WithField("consumer", i+1))
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka consumer %d: %w", i, err)
		}
		mqConsumers = append(mqConsumers, kafkaConsumer)
	}

	var wg sync.WaitGroup
	for i, c := range mqConsumers {
		w := worker.New(cfg.Worker, cfg.MaxTaskRetries, cfg.Pipeline.RunTimeoutDuration(),
			logger.WithField("worker", i+1), dbStore, c, anchoring.Orchestrator)
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			logger.Infof("Starting worker %d with its dedicated consumer...", workerID)
			w.Run(ctx)
			logger.Infof("Worker %d stopped.", workerID)
		}(i + 1)
	}

	logger.Infof("Anchoring engine started with %d workers. Press Ctrl+C to stop.", len(mqConsumers))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Received shutdown signal, initiating graceful shutdown...")
	cancel()

	logger.Info("Waiting for all workers to finish...")
	wg.Wait()

	logger.Info("Anchoring engine shut down gracefully.")
	return nil
}
