package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/config"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/providers/jetstream"
	"github.com/caspy-social/caspy-backend/internal/trades"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

// contractEventsURL builds the streaming endpoint filtered to the monitored
// token contracts
func contractEventsURL(base string, tokens []trades.Token) string {
	hashes := make([]string, 0, len(tokens))
	for _, t := range tokens {
		hashes = append(hashes, domain.NormalizeHash(t.ContractPackageHash))
	}
	u := base + "/contract-events"
	if len(hashes) > 0 {
		u += "?contract_package_hash=" + url.QueryEscape(strings.Join(hashes, ","))
	}
	return u
}

func main() {
	flag.Parse()

	config.ChdirRepoRoot()
	cfg, err := config.LoadEventListenerConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
		Tags: map[string]string{
			"service": "event-listener",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting contract event listener")

	if len(cfg.Trades.Tokens) == 0 {
		logger.FatalCtx(ctx, "trades.tokens must list at least one monitored token")
	}

	publisher, err := jetstream.NewPublisher(ctx, jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: "caspy-event-listener",
	}, adapter.NewNatsJetStream())
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to NATS", zap.Error(err))
	}
	defer publisher.Close()

	monitored := make([]trades.Token, 0, len(cfg.Trades.Tokens))
	for _, t := range cfg.Trades.Tokens {
		monitored = append(monitored, trades.Token{
			Symbol:              t.Symbol,
			ContractPackageHash: t.ContractPackageHash,
			Decimals:            t.Decimals,
		})
	}

	classifier := trades.NewClassifier(cfg.Trades.RouterContract, cfg.Trades.PairContracts)
	feed := trades.NewFeed(classifier, monitored, cfg.Trades.RingSize,
		func(ctx context.Context, trade *domain.Trade) {
			if err := publisher.PublishTrade(ctx, trade); err != nil {
				logger.ErrorCtx(ctx, err, zap.String("deploy_hash", trade.DeployHash))
			}
		})

	stream := casper.NewStreamClient(
		contractEventsURL(cfg.Streaming.URL, monitored),
		cfg.Streaming.AccessKey,
		feed.HandleFrame,
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

	logger.Info("Event listener stopped")
}
