package store

import (
	"context"
	"errors"
	"time"

	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

var (
	// ErrGrantConflict is returned when an atomic grant replacement loses to a
	// concurrent writer (another claim committed first, or the payment's
	// transaction hash is already consumed).
	ErrGrantConflict = errors.New("access grant conflict")
)

// Store defines the interface for database operations
type Store interface {
	// GetActiveGrant retrieves the single active grant for a token on a
	// network, or nil when the token is unclaimed
	GetActiveGrant(ctx context.Context, tokenHash string, network domain.Network) (*schema.AccessGrant, error)
	// GetGrantByTransactionHash retrieves a grant by its payment deploy hash,
	// or nil when the payment has never been consumed
	GetGrantByTransactionHash(ctx context.Context, txHash string) (*schema.AccessGrant, error)
	// ReplaceActiveGrant atomically installs grant as the token's active
	// grant. Any existing grant whose last activity is at or before
	// staleBefore is removed in the same transaction; if a non-stale grant
	// remains, ErrGrantConflict is returned and nothing changes.
	ReplaceActiveGrant(ctx context.Context, grant *schema.AccessGrant, staleBefore time.Time) error
	// UpdateGrantActivity moves the holder's last activity forward. Returns
	// false without error when holder is not the token's active holder or the
	// timestamp would move backward.
	UpdateGrantActivity(ctx context.Context, tokenHash string, network domain.Network, holder string, now time.Time) (bool, error)
	// DeleteGrant removes the holder's own grant, returning domain.ErrGrantNotFound
	// when the holder is not the active holder
	DeleteGrant(ctx context.Context, tokenHash string, network domain.Network, holder string) error

	// CreatePendingPayment records an observed-but-unlinked payment.
	// Redelivery of the same deploy hash is a no-op.
	CreatePendingPayment(ctx context.Context, payment *schema.PendingPayment) error
	// GetPendingPayment retrieves a pending payment by deploy hash, or nil
	GetPendingPayment(ctx context.Context, deployHash string) (*schema.PendingPayment, error)
	// MarkPaymentLinked stamps the pending payment as consumed
	MarkPaymentLinked(ctx context.Context, deployHash string, linkedAt time.Time) error
	// DeleteExpiredPendingPayments removes unlinked payments observed before
	// the cutoff, returning the number deleted
	DeleteExpiredPendingPayments(ctx context.Context, cutoff time.Time) (int64, error)

	// CreateStory inserts a story row
	CreateStory(ctx context.Context, story *schema.Story) error
	// GetStory retrieves a story by ID, or nil
	GetStory(ctx context.Context, id int64) (*schema.Story, error)
	// AddStoryEngagement increments engagement counters
	AddStoryEngagement(ctx context.Context, id int64, views, likes, comments, shares int64) error
	// LatestStoryTime returns when the token last had content published, or
	// nil when it never had any
	LatestStoryTime(ctx context.Context, tokenHash string) (*time.Time, error)
	// ListRewardCandidates returns unrewarded stories created inside
	// [windowStart, windowEnd), ordered by engagement score descending
	ListRewardCandidates(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]schema.Story, error)
	// RecordDistribution persists a distribution plan and marks the selected
	// stories rewarded in one transaction
	RecordDistribution(ctx context.Context, payouts []schema.RewardPayout, storyIDs []int64, distributedAt time.Time) error

	// SaveChatMessage appends a message to a token's chat log
	SaveChatMessage(ctx context.Context, msg *schema.ChatMessage) error
	// GetRecentChatMessages returns the latest messages for a token in
	// chronological order
	GetRecentChatMessages(ctx context.Context, tokenHash string, limit int) ([]schema.ChatMessage, error)

	// GetValue retrieves a state value by key, empty string when unset
	GetValue(ctx context.Context, key string) (string, error)
	// SetValue stores a state value
	SetValue(ctx context.Context, key string, value string) error
}
