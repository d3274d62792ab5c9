// Package messaging defines the transport between the listener processes and
// the API. Listeners publish what they observe on chain; the API fans it out
// to connected clients and pending-payment waiters.
package messaging

import (
	"context"
	"fmt"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

const (
	// StreamName is the JetStream stream holding all observed chain activity
	StreamName = "CHAIN_ACTIVITY"

	paymentSubjectPrefix = "payments.observed"
	tradeSubjectPrefix   = "trades"
)

// PaymentSubject is the subject payments on the given network are published to.
func PaymentSubject(network domain.Network) string {
	return fmt.Sprintf("%s.%s", paymentSubjectPrefix, network)
}

// PaymentSubjects matches payments on every network.
func PaymentSubjects() string {
	return paymentSubjectPrefix + ".*"
}

// TradeSubject is the subject trades of the given token are published to.
func TradeSubject(tokenHash string) string {
	return fmt.Sprintf("%s.%s", tradeSubjectPrefix, tokenHash)
}

// TradeSubjects matches trades of every monitored token.
func TradeSubjects() string {
	return tradeSubjectPrefix + ".*"
}

// Publisher publishes observed chain activity
type Publisher interface {
	PublishPayment(ctx context.Context, payment *domain.PaymentObserved) error
	PublishTrade(ctx context.Context, trade *domain.Trade) error
	Close()
}

// PaymentHandler consumes one observed payment
type PaymentHandler func(ctx context.Context, payment *domain.PaymentObserved)

// TradeHandler consumes one observed trade
type TradeHandler func(ctx context.Context, trade *domain.Trade)

// Subscriber delivers observed chain activity to handlers
type Subscriber interface {
	SubscribePayments(ctx context.Context, consumerName string, handler PaymentHandler) error
	SubscribeTrades(ctx context.Context, consumerName string, handler TradeHandler) error
	Close()
}
