package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Aidin1998/orbit-engine/internal/api"
	"github.com/Aidin1998/orbit-engine/internal/config"
	"github.com/Aidin1998/orbit-engine/internal/events"
	"github.com/Aidin1998/orbit-engine/internal/market"
	"github.com/Aidin1998/orbit-engine/internal/persistence"
	"github.com/Aidin1998/orbit-engine/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store, err := persistence.NewGormStore(db, log)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, log)
		log.Info("kafka event emission enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	}

	registry := market.NewRegistry(market.Options{
		Store:           store,
		Events:          publisher,
		Logger:          log,
		QueueSize:       cfg.WorkerPoolSize,
		RejectSelfTrade: cfg.RejectSelfTrade,
		TreasuryAddrs:   cfg.TreasuryAddresses,
	})
	if err := registry.Recover(context.Background()); err != nil {
		return fmt.Errorf("recover engine state: %w", err)
	}

	server := api.NewServer(registry, log)
	errCh := make(chan error, 1)
	go func() {
		log.Info("engine listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.Run(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("http server failed", zap.Error(err))
	}

	registry.Close()
	if err := publisher.Close(); err != nil {
		log.Warn("failed to close event publisher", zap.Error(err))
	}
	return nil
}
