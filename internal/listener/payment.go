// Package listener contains the long-running chain observers: the payment
// listener watching transfers toward the takeover receiver, and the event
// listener watching monitored token contracts.
package listener

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/casper"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/messaging"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

// pendingPaymentRetention is how long an unlinked payment stays claimable.
const pendingPaymentRetention = 48 * time.Hour

// janitorInterval is how often expired pending payments are swept.
const janitorInterval = time.Hour

// PaymentListenerConfig configures a PaymentListener.
type PaymentListenerConfig struct {
	// ReceiverAccountHash is the takeover receiver as it appears on the
	// transfer stream
	ReceiverAccountHash string
	// PriceMotes is the minimum qualifying amount
	PriceMotes uint64
	Network    domain.Network
	PoolSize   int
	QueueSize  int
}

// PaymentListener filters the transfer stream for takeover payments, recovers
// each sender's public key over RPC, stores the payment as pending, and
// announces it on the bus.
type PaymentListener struct {
	cfg       PaymentListenerConfig
	store     store.Store
	rpc       *casper.RPCClient
	publisher messaging.Publisher
	clock     adapter.Clock
	pool      pond.Pool

	receiver string
	// entropy is shared by all pool workers; MonotonicEntropy alone is not
	// safe for concurrent use, so it rides behind the locked reader
	entropy *ulid.LockedMonotonicReader
}

// NewPaymentListener creates the listener. Start must be called before
// HandleFrame is wired to a stream.
func NewPaymentListener(cfg PaymentListenerConfig, s store.Store, rpc *casper.RPCClient, publisher messaging.Publisher, clock adapter.Clock) *PaymentListener {
	return &PaymentListener{
		cfg:       cfg,
		store:     s,
		rpc:       rpc,
		publisher: publisher,
		clock:     clock,
		receiver:  domain.NormalizeHash(cfg.ReceiverAccountHash),
		entropy: &ulid.LockedMonotonicReader{
			MonotonicReader: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0), //nolint:gosec
		},
	}
}

// Start creates the worker pool and the pending-payment janitor.
func (l *PaymentListener) Start(ctx context.Context) {
	poolSize := l.cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	queueSize := l.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	l.pool = pond.NewPool(
		poolSize,
		pond.WithQueueSize(queueSize),
		pond.WithContext(ctx),
	)

	go l.janitor(ctx)
}

// Stop drains the worker pool.
func (l *PaymentListener) Stop() {
	if l.pool != nil {
		l.pool.StopAndWait()
	}
}

// HandleFrame is the stream callback. Qualification checks run inline; the
// RPC round trip and persistence run on the pool so a slow node never stalls
// the stream reader.
func (l *PaymentListener) HandleFrame(ctx context.Context, frame casper.Frame) error {
	if frame.Action != casper.ActionCreated || len(frame.Data) == 0 {
		return nil
	}

	transfer, err := casper.DecodeTransfer(frame)
	if err != nil {
		return fmt.Errorf("decode transfer: %w", err)
	}

	if domain.NormalizeHash(transfer.ToAccountHash) != l.receiver {
		logger.DebugCtx(ctx, "transfer to a different account, ignoring",
			zap.String("deploy", transfer.DeployHash),
			zap.String("to", transfer.ToAccountHash))
		return nil
	}

	amount, err := domain.ParseMotes(transfer.Amount)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", transfer.DeployHash, err)
	}
	if amount < l.cfg.PriceMotes {
		logger.DebugCtx(ctx, "transfer below takeover price, ignoring",
			zap.String("deploy", transfer.DeployHash),
			zap.String("amount", domain.FormatCSPR(amount)))
		return nil
	}

	raw := frame.Data
	l.pool.Submit(func() {
		l.process(ctx, transfer, amount, raw)
	})
	return nil
}

func (l *PaymentListener) process(ctx context.Context, transfer *casper.Transfer, amount uint64, raw []byte) {
	deployHash := domain.NormalizeHash(transfer.DeployHash)

	sender, err := l.rpc.ResolveSender(ctx, deployHash)
	if err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("resolve sender of %s: %w", deployHash, err))
		return
	}

	payment := &schema.PendingPayment{
		ID:                ulid.MustNew(ulid.Timestamp(l.clock.Now()), l.entropy).String(),
		DeployHash:        deployHash,
		SenderPublicKey:   sender,
		SenderAccountHash: domain.NormalizeHash(transfer.InitiatorAccountHash),
		Amount:            amount,
		Network:           l.cfg.Network,
		Raw:               raw,
		ObservedAt:        l.clock.Now(),
	}
	if err := l.store.CreatePendingPayment(ctx, payment); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("store pending payment %s: %w", deployHash, err))
		return
	}

	logger.InfoCtx(ctx, "takeover payment observed",
		zap.String("deploy", deployHash),
		zap.String("sender", sender),
		zap.String("amount_cspr", domain.FormatCSPR(amount)))

	observed := &domain.PaymentObserved{
		DeployHash:        deployHash,
		SenderPublicKey:   sender,
		SenderAccountHash: payment.SenderAccountHash,
		Amount:            amount,
		Network:           l.cfg.Network,
		ObservedAt:        payment.ObservedAt,
	}
	if err := l.publisher.PublishPayment(ctx, observed); err != nil {
		logger.ErrorCtx(ctx, fmt.Errorf("publish payment %s: %w", deployHash, err))
	}
}

// janitor sweeps pending payments that were never linked
func (l *PaymentListener) janitor(ctx context.Context) {
	ticker := l.clock.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			cutoff := l.clock.Now().Add(-pendingPaymentRetention)
			deleted, err := l.store.DeleteExpiredPendingPayments(ctx, cutoff)
			if err != nil {
				logger.ErrorCtx(ctx, fmt.Errorf("sweep pending payments: %w", err))
				continue
			}
			if deleted > 0 {
				logger.InfoCtx(ctx, "expired pending payments removed", zap.Int64("count", deleted))
			}
		}
	}
}
