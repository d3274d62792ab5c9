package jetstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/messaging"
)

type subscriber struct {
	nc         adapter.NatsConn
	js         adapter.JetStream
	streamName string

	contexts []adapter.ConsumeContext
}

// NewSubscriber creates a new NATS JetStream subscriber and ensures the
// stream exists
func NewSubscriber(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream) (messaging.Subscriber, error) {
	nc, js, err := connect(cfg, natsJS)
	if err != nil {
		return nil, err
	}

	if err := ensureStream(ctx, js, cfg.StreamName); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &subscriber{
		nc:         nc,
		js:         js,
		streamName: cfg.StreamName,
	}, nil
}

func (s *subscriber) consume(ctx context.Context, consumerName, filterSubject string, handler adapter.MessageHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, s.streamName, jetstream.ConsumerConfig{
		Durable:       consumerName,
		FilterSubject: filterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		// New consumers only care about live activity
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer %s: %w", consumerName, err)
	}

	cc, err := consumer.Consume(handler)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", consumerName, err)
	}
	s.contexts = append(s.contexts, cc)
	return nil
}

// SubscribePayments delivers observed payments to the handler
func (s *subscriber) SubscribePayments(ctx context.Context, consumerName string, handler messaging.PaymentHandler) error {
	return s.consume(ctx, consumerName, messaging.PaymentSubjects(), func(msg adapter.Message) {
		var payment domain.PaymentObserved
		if err := json.Unmarshal(msg.Data(), &payment); err != nil {
			logger.Error(err, zap.String("message", "Failed to unmarshal payment, terminating"),
				zap.String("subject", msg.Subject()))
			_ = msg.Term()
			return
		}
		handler(ctx, &payment)
		if err := msg.Ack(); err != nil {
			logger.Error(err, zap.String("message", "Failed to ack payment"))
		}
	})
}

// SubscribeTrades delivers observed trades to the handler
func (s *subscriber) SubscribeTrades(ctx context.Context, consumerName string, handler messaging.TradeHandler) error {
	return s.consume(ctx, consumerName, messaging.TradeSubjects(), func(msg adapter.Message) {
		var trade domain.Trade
		if err := json.Unmarshal(msg.Data(), &trade); err != nil {
			logger.Error(err, zap.String("message", "Failed to unmarshal trade, terminating"),
				zap.String("subject", msg.Subject()))
			_ = msg.Term()
			return
		}
		handler(ctx, &trade)
		if err := msg.Ack(); err != nil {
			logger.Error(err, zap.String("message", "Failed to ack trade"))
		}
	})
}

// Close stops all consumers and closes the NATS connection
func (s *subscriber) Close() {
	for _, cc := range s.contexts {
		cc.Drain()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
