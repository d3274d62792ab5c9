package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/config"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/listener"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/providers/jetstream"
	"github.com/caspy-social/caspy-backend/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

// transfersURL builds the streaming endpoint for native transfers toward the
// receiver account
func transfersURL(base, receiverAccountHash string) string {
	u := base + "/transfers"
	if receiverAccountHash != "" {
		u += "?account_hash=" + url.QueryEscape(domain.NormalizeHash(receiverAccountHash))
	}
	return u
}

func main() {
	flag.Parse()

	config.ChdirRepoRoot()
	cfg, err := config.LoadPaymentListenerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "payment-listener",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting payment listener")

	if cfg.CTO.ReceiverAccountHash == "" {
		logger.FatalCtx(ctx, "cto.receiver_account_hash is required")
	}

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

	publisher, err := jetstream.NewPublisher(ctx, jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: "caspy-payment-listener",
	}, adapter.NewNatsJetStream())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()

	rpc := casper.NewRPCClient(cfg.RPC.URL, adapter.NewHTTPClient(cfg.RPC.Timeout))
	clock := adapter.NewClock()

	paymentListener := listener.NewPaymentListener(listener.PaymentListenerConfig{
		ReceiverAccountHash: cfg.CTO.ReceiverAccountHash,
		PriceMotes:          cfg.CTO.PriceMotes,
		Network:             cfg.CTO.Network,
		PoolSize:            cfg.Worker.PoolSize,
		QueueSize:           cfg.Worker.QueueSize,
	}, dataStore, rpc, publisher, clock)
	paymentListener.Start(ctx)
	defer paymentListener.Stop()

	stream := casper.NewStreamClient(
		transfersURL(cfg.Streaming.URL, cfg.CTO.ReceiverAccountHash),
		cfg.Streaming.AccessKey,
		paymentListener.HandleFrame,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- stream.Run(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "stream"))
		}
		cancel()
	}

	logger.Info("Payment listener stopped")
}
