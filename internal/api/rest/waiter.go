package rest

import (
	"context"
	"sync"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

// PaymentWaiter lets the pending-payment endpoint block until the listener
// announces a payment for a given deploy hash. Notify is fed from the
// JetStream payment subscription.
type PaymentWaiter struct {
	mu      sync.Mutex
	waiters map[string][]chan *domain.PaymentObserved
}

// NewPaymentWaiter creates an empty waiter registry.
func NewPaymentWaiter() *PaymentWaiter {
	return &PaymentWaiter{
		waiters: make(map[string][]chan *domain.PaymentObserved),
	}
}

// Notify wakes every waiter registered for the payment's deploy hash.
func (w *PaymentWaiter) Notify(payment *domain.PaymentObserved) {
	w.mu.Lock()
	chans := w.waiters[payment.DeployHash]
	delete(w.waiters, payment.DeployHash)
	w.mu.Unlock()

	for _, ch := range chans {
		ch <- payment
		close(ch)
	}
}

// Wait blocks until a payment for deployHash is announced or the context
// expires. Returns nil when the context ended first.
func (w *PaymentWaiter) Wait(ctx context.Context, deployHash string) *domain.PaymentObserved {
	ch := make(chan *domain.PaymentObserved, 1)

	w.mu.Lock()
	w.waiters[deployHash] = append(w.waiters[deployHash], ch)
	w.mu.Unlock()

	select {
	case payment := <-ch:
		return payment
	case <-ctx.Done():
		w.remove(deployHash, ch)
		return nil
	}
}

func (w *PaymentWaiter) remove(deployHash string, ch chan *domain.PaymentObserved) {
	w.mu.Lock()
	defer w.mu.Unlock()

	chans := w.waiters[deployHash]
	for i, c := range chans {
		if c == ch {
			w.waiters[deployHash] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(w.waiters[deployHash]) == 0 {
		delete(w.waiters, deployHash)
	}
}
