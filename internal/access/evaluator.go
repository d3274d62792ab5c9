package access

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/store"
)

// Reasons a token is or is not claimable.
const (
	ReasonUnclaimed      = "unclaimed"
	ReasonOwnerInactive  = "owner_inactive"
	ReasonHolderInactive = "holder_inactive"
	ReasonHolderActive   = "holder_active"
)

// Availability is the claimability verdict for one token.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason"`
	// CurrentHolder is empty when the token is unclaimed
	CurrentHolder string `json:"current_holder,omitempty"`
	IsOwner       bool   `json:"is_owner,omitempty"`
	// LastActivityAt is the holder's effective last publish time
	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	// DaysRemaining until the holder becomes reclaimable; zero when
	// Available is true
	DaysRemaining int `json:"days_remaining,omitempty"`
}

// Evaluator decides whether a token's publishing rights can be (re)claimed.
// A holder silent for the full inactivity window loses protection; until
// then the time remaining is reported so clients can show a countdown.
type Evaluator struct {
	store          store.Store
	clock          adapter.Clock
	inactivityDays int
}

// NewEvaluator creates an evaluator with the given inactivity threshold in
// days.
func NewEvaluator(s store.Store, clock adapter.Clock, inactivityDays int) *Evaluator {
	return &Evaluator{store: s, clock: clock, inactivityDays: inactivityDays}
}

// Threshold returns the inactivity window as a duration.
func (e *Evaluator) Threshold() time.Duration {
	return time.Duration(e.inactivityDays) * 24 * time.Hour
}

// StaleBefore returns the activity cutoff: holders whose last activity is at
// or before it are reclaimable.
func (e *Evaluator) StaleBefore(now time.Time) time.Time {
	return now.Add(-e.Threshold())
}

// Evaluate returns the token's availability as of now.
func (e *Evaluator) Evaluate(ctx context.Context, tokenHash string, network domain.Network) (*Availability, error) {
	grant, err := e.store.GetActiveGrant(ctx, tokenHash, network)
	if err != nil {
		return nil, fmt.Errorf("evaluate availability: %w", err)
	}
	if grant == nil {
		return &Availability{Available: true, Reason: ReasonUnclaimed}, nil
	}

	now := e.clock.Now()
	lastActivity, err := e.effectiveLastActivity(ctx, grant.TokenHash, grant.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("evaluate availability: %w", err)
	}
	elapsed := now.Sub(lastActivity)

	availability := &Availability{
		CurrentHolder:  grant.HolderAddress,
		IsOwner:        grant.IsOwner,
		LastActivityAt: &lastActivity,
	}

	if elapsed >= e.Threshold() {
		availability.Available = true
		if grant.IsOwner {
			availability.Reason = ReasonOwnerInactive
		} else {
			availability.Reason = ReasonHolderInactive
		}
		return availability, nil
	}

	availability.Available = false
	availability.Reason = ReasonHolderActive
	remaining := e.Threshold() - elapsed
	availability.DaysRemaining = int(math.Ceil(remaining.Hours() / 24))
	return availability, nil
}

// effectiveLastActivity takes the later of the grant's recorded activity and
// the token's latest published story. Stories published before the grant
// table existed still count as activity, so a failed lookup must not be
// mistaken for silence.
func (e *Evaluator) effectiveLastActivity(ctx context.Context, tokenHash string, recorded time.Time) (time.Time, error) {
	latestStory, err := e.store.LatestStoryTime(ctx, tokenHash)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest story time for %s: %w", tokenHash, err)
	}
	if latestStory != nil && latestStory.After(recorded) {
		return *latestStory, nil
	}
	return recorded, nil
}
