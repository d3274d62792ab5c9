package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/config"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/rewards"
	"github.com/caspy-social/caspy-backend/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	config.ChdirRepoRoot()
	cfg, err := config.LoadRewardsConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "rewards",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting rewards distributor",
		zap.String("schedule", cfg.Rewards.Schedule),
		zap.Uint64("pool_motes", cfg.Rewards.PoolMotes))

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	clock := adapter.NewClock()
	distributor := rewards.NewDistributor(dataStore, clock, cfg.Rewards.PoolMotes)

	if cfg.Rewards.RunOnStartup {
		result, err := distributor.Distribute(ctx)
		if err != nil {
			logger.FatalCtx(ctx, "Startup distribution failed", zap.Error(err))
		}
		logger.InfoCtx(ctx, "Startup distribution complete",
			zap.Bool("skipped", result.Skipped),
			zap.Int("distributed", result.Distributed))
	}

	scheduler, err := rewards.NewScheduler(distributor, clock, cfg.Rewards.Schedule)
	if err != nil {
		logger.FatalCtx(ctx, "Invalid rewards schedule", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- scheduler.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, err, zap.String("component", "scheduler"))
		}
		cancel()
	}

	logger.Info("Rewards distributor stopped")
}
