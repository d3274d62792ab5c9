// Package access owns the publishing-rights ledger: who controls a token's
// content, how a community takeover claims it, and when inactivity makes it
// reclaimable.
package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

// ErrDuplicatePayment is returned when a payment deploy hash already backs a
// grant for a different token or wallet.
var ErrDuplicatePayment = errors.New("payment already consumed by another grant")

// ErrPaymentTooSmall is returned when the payment does not cover the
// takeover price.
var ErrPaymentTooSmall = errors.New("payment below takeover price")

// HeldError reports a claim rejected because the current holder is still
// protected.
type HeldError struct {
	CurrentHolder string
	DaysRemaining int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("token held by %s for %d more days", e.CurrentHolder, e.DaysRemaining)
}

// Claim is a request to take over a token's publishing rights.
type Claim struct {
	TokenHash string
	Network   domain.Network
	// Wallet is the claimant's public key
	Wallet string
	// TransactionHash is the payment deploy hash; empty for owner claims
	TransactionHash string
	// PaidAmount is the verified payment in motes; zero for owner claims
	PaidAmount uint64
	// IsOwner marks a free claim by the token's on-chain owner
	IsOwner bool
}

// Ledger is the authority over access grants. All claim paths funnel through
// it so the per-token lock plus the store's conditional replace give exactly
// one winner per takeover race.
type Ledger struct {
	store      store.Store
	clock      adapter.Clock
	evaluator  *Evaluator
	priceMotes uint64

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates the access ledger.
func NewLedger(s store.Store, clock adapter.Clock, evaluator *Evaluator, priceMotes uint64) *Ledger {
	return &Ledger{
		store:      s,
		clock:      clock,
		evaluator:  evaluator,
		priceMotes: priceMotes,
		locks:      map[string]*sync.Mutex{},
	}
}

// Evaluator exposes the availability evaluator the ledger claims against.
func (l *Ledger) Evaluator() *Evaluator {
	return l.evaluator
}

// tokenLock returns the mutex serializing claims for one token on one network
func (l *Ledger) tokenLock(tokenHash string, network domain.Network) *sync.Mutex {
	key := tokenHash + "/" + string(network)
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Grant executes a claim. On success the claimant holds the token. Possible
// failures: ErrDuplicatePayment, ErrPaymentTooSmall, and *HeldError when the
// current holder is protected. Re-submitting a claim that already succeeded
// is idempotent.
func (l *Ledger) Grant(ctx context.Context, claim Claim) (*schema.AccessGrant, error) {
	tokenHash := domain.NormalizeHash(claim.TokenHash)
	wallet := domain.NormalizeHash(claim.Wallet)
	txHash := domain.NormalizeHash(claim.TransactionHash)

	if !claim.IsOwner && claim.PaidAmount < l.priceMotes {
		return nil, ErrPaymentTooSmall
	}

	lock := l.tokenLock(tokenHash, claim.Network)
	lock.Lock()
	defer lock.Unlock()

	if txHash != "" {
		existing, err := l.store.GetGrantByTransactionHash(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if existing.TokenHash == tokenHash && existing.HolderAddress == wallet {
				return existing, nil
			}
			return nil, ErrDuplicatePayment
		}
	}

	availability, err := l.evaluator.Evaluate(ctx, tokenHash, claim.Network)
	if err != nil {
		return nil, err
	}
	if !availability.Available && availability.CurrentHolder != wallet {
		return nil, &HeldError{
			CurrentHolder: availability.CurrentHolder,
			DaysRemaining: availability.DaysRemaining,
		}
	}
	if !availability.Available && availability.CurrentHolder == wallet {
		// Already the holder, nothing to replace
		return l.store.GetActiveGrant(ctx, tokenHash, claim.Network)
	}

	now := l.clock.Now()
	grant := &schema.AccessGrant{
		TokenHash:      tokenHash,
		Network:        claim.Network,
		HolderAddress:  wallet,
		IsOwner:        claim.IsOwner,
		PaidAmount:     claim.PaidAmount,
		GrantedAt:      now,
		LastActivityAt: now,
	}
	if txHash != "" {
		grant.TransactionHash = &txHash
	}

	err = l.store.ReplaceActiveGrant(ctx, grant, l.evaluator.StaleBefore(now))
	if err != nil {
		if errors.Is(err, store.ErrGrantConflict) {
			return nil, l.explainConflict(ctx, tokenHash, claim.Network, txHash)
		}
		return nil, err
	}

	logger.InfoCtx(ctx, "access grant installed",
		zap.String("token", tokenHash),
		zap.String("holder", wallet),
		zap.Bool("is_owner", claim.IsOwner))
	return grant, nil
}

// explainConflict turns a lost replace race into the caller-facing error
func (l *Ledger) explainConflict(ctx context.Context, tokenHash string, network domain.Network, txHash string) error {
	if txHash != "" {
		existing, err := l.store.GetGrantByTransactionHash(ctx, txHash)
		if err == nil && existing != nil {
			return ErrDuplicatePayment
		}
	}

	availability, err := l.evaluator.Evaluate(ctx, tokenHash, network)
	if err == nil && !availability.Available {
		return &HeldError{
			CurrentHolder: availability.CurrentHolder,
			DaysRemaining: availability.DaysRemaining,
		}
	}
	return store.ErrGrantConflict
}

// AccessStatus is the result of an access check for one wallet on one token.
type AccessStatus struct {
	// IsOwner reports on-chain ownership of the token's contract package
	IsOwner bool
	// IsCTOHolder reports an active grant held by the wallet
	IsCTOHolder bool
	HasAccess   bool
	// Grant is the token's active grant, whoever holds it; nil when unclaimed
	Grant *schema.AccessGrant
}

// CheckAccess reports whether wallet currently controls the token. owner is
// the token's on-chain owner as resolved from the contract package, empty
// when unknown. A holder keeps publishing rights right up until someone else
// completes a takeover, no matter how long they have been silent.
func (l *Ledger) CheckAccess(ctx context.Context, tokenHash string, network domain.Network, wallet, owner string) (*AccessStatus, error) {
	wallet = domain.NormalizeHash(wallet)
	grant, err := l.store.GetActiveGrant(ctx, domain.NormalizeHash(tokenHash), network)
	if err != nil {
		return nil, err
	}

	status := &AccessStatus{
		IsOwner: owner != "" && domain.NormalizeHash(owner) == wallet,
		Grant:   grant,
	}
	status.IsCTOHolder = grant != nil && grant.HolderAddress == wallet
	status.HasAccess = status.IsOwner || status.IsCTOHolder
	return status, nil
}

// RecordActivity refreshes the holder's inactivity clock. Calls by anyone but
// the holder are ignored.
func (l *Ledger) RecordActivity(ctx context.Context, tokenHash string, network domain.Network, wallet string) (bool, error) {
	return l.store.UpdateGrantActivity(ctx,
		domain.NormalizeHash(tokenHash), network, domain.NormalizeHash(wallet), l.clock.Now())
}

// Release gives up the wallet's own grant, leaving the token unclaimed.
func (l *Ledger) Release(ctx context.Context, tokenHash string, network domain.Network, wallet string) error {
	tokenHash = domain.NormalizeHash(tokenHash)
	lock := l.tokenLock(tokenHash, network)
	lock.Lock()
	defer lock.Unlock()
	return l.store.DeleteGrant(ctx, tokenHash, network, domain.NormalizeHash(wallet))
}
