package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/caspy-social/caspy-backend/internal/access"
	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/api/middleware"
	"github.com/caspy-social/caspy-backend/internal/api/rest"
	"github.com/caspy-social/caspy-backend/internal/api/server"
	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/config"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/providers/jetstream"
	"github.com/caspy-social/caspy-backend/internal/rewards"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/trades"
	"github.com/caspy-social/caspy-backend/internal/ws"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadAPIConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "api-server",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting Caspy API")

	// Connect to database
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
	logger.InfoCtx(ctx, "Connected to database",
		zap.Int("max_open_conns", cfg.Database.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.Database.MaxIdleConns),
	)

	// Initialize store and core services
	dataStore := store.NewPGStore(db)
	clock := adapter.NewClock()

	evaluator := access.NewEvaluator(dataStore, clock, cfg.CTO.InactivityDays)
	ledger := access.NewLedger(dataStore, clock, evaluator, cfg.CTO.PriceMotes)

	monitored := make([]trades.Token, 0, len(cfg.Trades.Tokens))
	for _, t := range cfg.Trades.Tokens {
		monitored = append(monitored, trades.Token{
			Symbol:              t.Symbol,
			ContractPackageHash: t.ContractPackageHash,
			Decimals:            t.Decimals,
		})
	}
	classifier := trades.NewClassifier(cfg.Trades.RouterContract, cfg.Trades.PairContracts)
	feed := trades.NewFeed(classifier, monitored, cfg.Trades.RingSize, nil)

	hub := ws.NewHub()
	waiter := rest.NewPaymentWaiter()
	rpc := casper.NewRPCClient(cfg.RPC.URL, adapter.NewHTTPClient(cfg.RPC.Timeout))
	cloud := casper.NewCloudClient(cfg.Cloud.APIURL, cfg.Cloud.AccessKey, adapter.NewHTTPClient(cfg.Cloud.Timeout))
	distributor := rewards.NewDistributor(dataStore, clock, cfg.Rewards.PoolMotes)

	handler := rest.NewHandler(dataStore, ledger, feed, hub, rpc, cloud, clock, waiter, distributor, rest.CTOSettings{
		ReceiverWallet:      cfg.CTO.ReceiverWallet,
		ReceiverAccountHash: cfg.CTO.ReceiverAccountHash,
		PriceMotes:          cfg.CTO.PriceMotes,
		InactivityDays:      cfg.CTO.InactivityDays,
		Network:             cfg.CTO.Network,
	})

	// Subscribe to the chain activity the listeners publish
	subscriber, err := jetstream.NewSubscriber(ctx, jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: "caspy-api",
	}, adapter.NewNatsJetStream())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
	}
	defer subscriber.Close()

	if err := subscriber.SubscribePayments(ctx, "api-payments", handler.NotifyPayment); err != nil {
		logger.FatalCtx(ctx, "Failed to subscribe to payments", zap.Error(err))
	}
	if err := subscriber.SubscribeTrades(ctx, "api-trades", handler.NotifyTrade); err != nil {
		logger.FatalCtx(ctx, "Failed to subscribe to trades", zap.Error(err))
	}

	// Create and start server
	srv := server.New(server.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		Auth: middleware.AuthConfig{
			JWTPublicKey: cfg.Auth.JWTPublicKey,
			APIKeys:      cfg.Auth.APIKeys,
		},
	}, handler, hub, dataStore, clock)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
		cancel()
	}

	// Create shutdown context with timeout (don't use canceled ctx)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.FatalCtx(shutdownCtx, "Server forced to shutdown", zap.Error(err))
	}

	logger.Info("API server stopped")
}
