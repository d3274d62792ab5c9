package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

// MemoryStore is an in-memory Store used by unit tests. It enforces the same
// uniqueness rules as the Postgres schema: one active grant per
// (token_hash, network), one grant per transaction hash, one pending payment
// per deploy hash.
type MemoryStore struct {
	mu sync.Mutex

	grants   []schema.AccessGrant
	payments []schema.PendingPayment
	stories  []schema.Story
	payouts  []schema.RewardPayout
	messages []schema.ChatMessage
	values   map[string]string

	nextGrantID   int64
	nextStoryID   int64
	nextMessageID int64
	nextPayoutID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:        map[string]string{},
		nextGrantID:   1,
		nextStoryID:   1,
		nextMessageID: 1,
		nextPayoutID:  1,
	}
}

func (s *MemoryStore) GetActiveGrant(_ context.Context, tokenHash string, network domain.Network) (*schema.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		if s.grants[i].TokenHash == tokenHash && s.grants[i].Network == network {
			g := s.grants[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetGrantByTransactionHash(_ context.Context, txHash string) (*schema.AccessGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		if s.grants[i].TransactionHash != nil && *s.grants[i].TransactionHash == txHash {
			g := s.grants[i]
			return &g, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ReplaceActiveGrant(_ context.Context, grant *schema.AccessGrant, staleBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.grants[:0]
	for _, g := range s.grants {
		if g.TokenHash == grant.TokenHash && g.Network == grant.Network && !g.LastActivityAt.After(staleBefore) {
			continue
		}
		kept = append(kept, g)
	}
	s.grants = kept

	for _, g := range s.grants {
		if g.TokenHash == grant.TokenHash && g.Network == grant.Network {
			return ErrGrantConflict
		}
		if g.TransactionHash != nil && grant.TransactionHash != nil && *g.TransactionHash == *grant.TransactionHash {
			return ErrGrantConflict
		}
	}

	grant.ID = s.nextGrantID
	s.nextGrantID++
	s.grants = append(s.grants, *grant)
	return nil
}

func (s *MemoryStore) UpdateGrantActivity(_ context.Context, tokenHash string, network domain.Network, holder string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		g := &s.grants[i]
		if g.TokenHash == tokenHash && g.Network == network && g.HolderAddress == holder && g.LastActivityAt.Before(now) {
			g.LastActivityAt = now
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeleteGrant(_ context.Context, tokenHash string, network domain.Network, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.grants {
		g := s.grants[i]
		if g.TokenHash == tokenHash && g.Network == network && g.HolderAddress == holder {
			s.grants = append(s.grants[:i], s.grants[i+1:]...)
			return nil
		}
	}
	return domain.ErrGrantNotFound
}

func (s *MemoryStore) CreatePendingPayment(_ context.Context, payment *schema.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		if s.payments[i].DeployHash == payment.DeployHash {
			return nil
		}
	}
	s.payments = append(s.payments, *payment)
	return nil
}

func (s *MemoryStore) GetPendingPayment(_ context.Context, deployHash string) (*schema.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		if s.payments[i].DeployHash == deployHash {
			p := s.payments[i]
			return &p, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) MarkPaymentLinked(_ context.Context, deployHash string, linkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.payments {
		p := &s.payments[i]
		if p.DeployHash == deployHash && p.LinkedAt == nil {
			t := linkedAt
			p.LinkedAt = &t
			return nil
		}
	}
	return domain.ErrPendingPaymentNotFound
}

func (s *MemoryStore) DeleteExpiredPendingPayments(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	kept := s.payments[:0]
	for _, p := range s.payments {
		if p.LinkedAt == nil && p.ObservedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, p)
	}
	s.payments = kept
	return deleted, nil
}

func (s *MemoryStore) CreateStory(_ context.Context, story *schema.Story) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	story.ID = s.nextStoryID
	s.nextStoryID++
	s.stories = append(s.stories, *story)
	return nil
}

func (s *MemoryStore) GetStory(_ context.Context, id int64) (*schema.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.stories {
		if s.stories[i].ID == id {
			st := s.stories[i]
			return &st, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) AddStoryEngagement(_ context.Context, id int64, views, likes, comments, shares int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.stories {
		st := &s.stories[i]
		if st.ID == id {
			st.Views += views
			st.Likes += likes
			st.Comments += comments
			st.Shares += shares
			return nil
		}
	}
	return domain.ErrStoryNotFound
}

func (s *MemoryStore) LatestStoryTime(_ context.Context, tokenHash string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for i := range s.stories {
		st := s.stories[i]
		if st.TokenHash != tokenHash {
			continue
		}
		if latest == nil || st.CreatedAt.After(*latest) {
			t := st.CreatedAt
			latest = &t
		}
	}
	return latest, nil
}

func (s *MemoryStore) ListRewardCandidates(_ context.Context, windowStart, windowEnd time.Time, limit int) ([]schema.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.Story
	for _, st := range s.stories {
		if st.RewardedAt != nil {
			continue
		}
		if st.CreatedAt.Before(windowStart) || !st.CreatedAt.Before(windowEnd) {
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := out[i].Score(), out[j].Score()
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) RecordDistribution(_ context.Context, payouts []schema.RewardPayout, storyIDs []int64, distributedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range payouts {
		p.ID = s.nextPayoutID
		s.nextPayoutID++
		s.payouts = append(s.payouts, p)
	}
	for _, id := range storyIDs {
		for i := range s.stories {
			if s.stories[i].ID == id {
				t := distributedAt
				s.stories[i].RewardedAt = &t
			}
		}
	}
	return nil
}

// Payouts returns all recorded payouts. Test helper.
func (s *MemoryStore) Payouts() []schema.RewardPayout {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.RewardPayout, len(s.payouts))
	copy(out, s.payouts)
	return out
}

func (s *MemoryStore) SaveChatMessage(_ context.Context, msg *schema.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg.ID = s.nextMessageID
	s.nextMessageID++
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) GetRecentChatMessages(_ context.Context, tokenHash string, limit int) ([]schema.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schema.ChatMessage
	for _, m := range s.messages {
		if m.TokenHash == tokenHash {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) GetValue(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *MemoryStore) SetValue(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}
