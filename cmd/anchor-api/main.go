package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"proofanchor/config"
	core "proofanchor/ingestion/service/core"
	grpchandler "proofanchor/ingestion/service/grpc"
	httphandler "proofanchor/ingestion/service/http"
	"proofanchor/internal/bootstrap"
	"proofanchor/internal/messaging/consumer"
	"proofanchor/internal/messaging/producer"
	worker "proofanchor/processing"
	"proofanchor/storage/store"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "anchor-api",
		Short: "Runtime proof anchoring API",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/api.defaults.yml", "API configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and gRPC proof endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadApiConfig(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadApiConfig(configPath)
			if err != nil {
				return err
			}
			return store.Migrate(cfg.Database.DSN, bootstrap.NewLogger(cfg.Monitoring, "anchor-api"))
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(cfg *config.ApiConfig) error {
	logger := bootstrap.NewLogger(cfg.Monitoring, "anchor-api")
	logger.Info("Starting proof anchoring API...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbStore, err := bootstrap.OpenStore(ctx, cfg.Database, logger.WithField("component", "store"))
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer dbStore.Close()

	var wg sync.WaitGroup

	// Optional async path: a real broker, or an in-process queue for mock://local
	var proofProducer producer.Producer
	var notifier producer.Producer
	switch {
	case cfg.KafkaProducer.Enabled():
		logger.Info("Initializing Kafka producer...")
		kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaProducer, logger.WithField("component", "producer"))
		if err != nil {
			return fmt.Errorf("failed to initialize Kafka producer: %w", err)
		}
		defer kafkaProducer.Close()
		if cfg.KafkaProducer.Topic != "" {
			proofProducer = kafkaProducer
		}
		if cfg.KafkaProducer.EventsTopic != "" {
			notifier = kafkaProducer
		}
	case len(cfg.KafkaProducer.Brokers) > 0:
		logger.Info("Initializing in-process queue (mock://local)...")
		mockProducer := producer.NewMockProducer(logger.WithField("component", "producer"))
		proofProducer = mockProducer
		defer mockProducer.Close()
	default:
		logger.Info("kafka_producer not configured, asynchronous submission disabled.")
	}

	anchoring, err := bootstrap.NewAnchoring(cfg.Pipeline, cfg.LedgerClientConfigPath, dbStore, notifier, logger)
	if err != nil {
		return err
	}
	defer anchoring.Close()

	if mockProducer, ok := proofProducer.(*producer.MockProducer); ok {
		localConsumer := consumer.NewMockConsumer(logger.WithField("component", "consumer"), cfg.BatchProcessor.MaxBufferSize)
		mockProducer.OnPublish = localConsumer.Push
		defer localConsumer.Close()

		workerCfg := config.WorkerConfig{}
		workerCfg.SetDefaults()
		localWorker := worker.New(workerCfg, 3, cfg.Pipeline.RunTimeoutDuration(), logger.WithField("component", "worker"),
			dbStore, localConsumer, anchoring.Orchestrator)
		wg.Add(1)
		go func() {
			defer wg.Done()
			localWorker.Run(ctx)
		}()
	}

	coreService := core.NewService(anchoring.Orchestrator, dbStore, proofProducer, logger.WithField("component", "service"), cfg.BatchProcessor, cfg.Pipeline.RunTimeoutDuration())
	defer coreService.Close()

	var httpServer *http.Server
	if cfg.HttpListenAddr != "" {
		handler := httphandler.NewProofHandler(coreService, logger.WithField("component", "http"), cfg.HttpServer.MaxBodyBytes)
		httpServer = &http.Server{
			Addr:           cfg.HttpListenAddr,
			Handler:        httphandler.NewRouter(handler, cfg.Monitoring.HealthCheckPath),
			ReadTimeout:    cfg.HttpServer.ReadTimeout,
			WriteTimeout:   cfg.HttpServer.WriteTimeout,
			IdleTimeout:    cfg.HttpServer.IdleTimeout,
			MaxHeaderBytes: cfg.HttpServer.MaxHeaderBytes,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infof("HTTP server listening on %s", cfg.HttpListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("HTTP server startup failed: %v", err)
			}
			logger.Info("HTTP server stopped listening.")
		}()
	} else {
		logger.Info("http_listen_addr not configured, skipping HTTP server startup.")
	}

	var grpcServer *grpc.Server
	if cfg.GrpcListenAddr != "" {
		lis, err := net.Listen("tcp", cfg.GrpcListenAddr)
		if err != nil {
			return fmt.Errorf("unable to listen on gRPC port %s: %w", cfg.GrpcListenAddr, err)
		}
		grpcServer = grpchandler.NewGRPCServer(grpchandler.NewServer(coreService, logger.WithField("component", "grpc")))
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Infof("gRPC server listening on %s", cfg.GrpcListenAddr)
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				logger.Fatalf("gRPC server startup failed: %v", err)
			}
			logger.Info("gRPC server stopped listening.")
		}()
	} else {
		logger.Info("grpc_listen_addr not configured, skipping gRPC server startup.")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP server shutdown failed: %v", err)
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	// Servers drain in-flight runs, then pending submissions are flushed while the
	// local worker still consumes
	coreService.Close()
	cancel()

	wg.Wait()
	logger.Info("All servers stopped.")
	return nil
}
