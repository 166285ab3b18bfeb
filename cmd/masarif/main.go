package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"masarif/internal/amqp"
	"masarif/internal/backend"
	"masarif/internal/banking"
	"masarif/internal/classify"
	"masarif/internal/config"
	apphttp "masarif/internal/http"
	"masarif/internal/log"
	"masarif/internal/services"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentApp})
	log.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	if result.Cleanup != nil {
		defer result.Cleanup()
	}

	// Open banking source
	source := banking.NewClient(banking.ClientConfig{
		BaseURL:      cfg.BankBaseURL,
		TokenURL:     cfg.BankTokenURL,
		ClientID:     cfg.BankClientID,
		ClientSecret: cfg.BankClientSecret,
		Timeout:      cfg.BankTimeout,
	})

	// Classifier with deterministic fallback inside the ingestor
	classifier, err := classify.NewGeminiClassifier(ctx, cfg.GeminiModel, cfg.ClassifyTimeout, logger.WithComponent(log.ComponentClassifier))
	if err != nil {
		logger.Error("Failed to initialize classifier", "error", err)
		os.Exit(1)
	}

	ingestor := services.NewIngestor(result.Store, source, classifier, cfg.ClassifyConcurrency)
	ingestor.SetWindowDays(cfg.SyncWindowDays)
	aggregator := services.NewAggregator(result.Store)
	aggregator.SetTopN(cfg.TopCategories)

	// AMQP publisher (optional). Without it sync requests run inline.
	var publisher apphttp.SyncPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, sync requests will run inline", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = amqpClient
			logger.Info("Initialized AMQP client", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, result.Store, ingestor, aggregator, publisher)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting masarif server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
