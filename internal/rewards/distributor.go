// Package rewards selects the best-performing stories of the day and records
// their share of the reward pool.
package rewards

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/caspy-social/caspy-backend/internal/adapter"
	"github.com/caspy-social/caspy-backend/internal/logger"
	"github.com/caspy-social/caspy-backend/internal/store"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

// TopStoriesCount is how many stories share the pool each run.
const TopStoriesCount = 10

// lastRunKey tracks the most recent distribution day so restarts never pay
// the same day twice.
const lastRunKey = "rewards:last_run"

// tierBasisPoints is each rank's share of the pool in basis points, rank 1
// first. The remainder from integer division stays in the pool.
var tierBasisPoints = []uint64{3000, 2000, 1500, 1000, 800, 600, 400, 300, 200, 200}

// Distributor runs the daily story reward distribution.
type Distributor struct {
	store     store.Store
	clock     adapter.Clock
	poolMotes uint64
}

// NewDistributor creates a distributor paying out of a fixed pool per run.
func NewDistributor(s store.Store, clock adapter.Clock, poolMotes uint64) *Distributor {
	return &Distributor{store: s, clock: clock, poolMotes: poolMotes}
}

// CalculateRewards maps ranked stories to payouts. Stories beyond the tier
// table get nothing; a short candidate list simply leaves pool shares unpaid.
func CalculateRewards(stories []schema.Story, poolMotes uint64, distributedAt time.Time) []schema.RewardPayout {
	n := len(stories)
	if n > TopStoriesCount {
		n = TopStoriesCount
	}

	payouts := make([]schema.RewardPayout, 0, n)
	for i := 0; i < n; i++ {
		story := stories[i]
		payouts = append(payouts, schema.RewardPayout{
			StoryID:       story.ID,
			WalletAddress: story.WalletAddress,
			Rank:          i + 1,
			AmountMotes:   poolMotes * tierBasisPoints[i] / 10000,
			PoolMotes:     poolMotes,
			Score:         story.Score(),
			TokenHash:     story.TokenHash,
			DistributedAt: distributedAt,
		})
	}
	return payouts
}

// RunResult summarizes one distribution run.
type RunResult struct {
	Skipped     bool                  `json:"skipped"`
	Distributed int                   `json:"distributed"`
	TotalMotes  uint64                `json:"total_motes"`
	Payouts     []schema.RewardPayout `json:"payouts,omitempty"`
}

// Distribute performs one run: stories that aged out of their live day since
// the previous run are ranked by engagement and the tiers recorded. Runs are
// keyed by UTC day, so calling it twice on the same day is a no-op.
func (d *Distributor) Distribute(ctx context.Context) (*RunResult, error) {
	now := d.clock.Now().UTC()
	day := now.Format("2006-01-02")

	lastRun, err := d.store.GetValue(ctx, lastRunKey)
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	if lastRun == day {
		logger.InfoCtx(ctx, "rewards already distributed today, skipping", zap.String("day", day))
		return &RunResult{Skipped: true}, nil
	}

	candidates, err := d.store.ListRewardCandidates(ctx, now.Add(-48*time.Hour), now.Add(-24*time.Hour), TopStoriesCount)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	if len(candidates) == 0 {
		logger.InfoCtx(ctx, "no eligible stories for rewards", zap.String("day", day))
		if err := d.store.SetValue(ctx, lastRunKey, day); err != nil {
			return nil, fmt.Errorf("record run day: %w", err)
		}
		return &RunResult{}, nil
	}

	payouts := CalculateRewards(candidates, d.poolMotes, now)
	storyIDs := make([]int64, len(payouts))
	var total uint64
	for i, p := range payouts {
		storyIDs[i] = p.StoryID
		total += p.AmountMotes
	}

	if err := d.store.RecordDistribution(ctx, payouts, storyIDs, now); err != nil {
		return nil, fmt.Errorf("record distribution: %w", err)
	}
	if err := d.store.SetValue(ctx, lastRunKey, day); err != nil {
		return nil, fmt.Errorf("record run day: %w", err)
	}

	logger.InfoCtx(ctx, "story rewards distributed",
		zap.String("day", day),
		zap.Int("payouts", len(payouts)),
		zap.Uint64("total_motes", total))
	return &RunResult{Distributed: len(payouts), TotalMotes: total, Payouts: payouts}, nil
}

// Scheduler triggers a distribution once a day at a fixed UTC time.
type Scheduler struct {
	distributor *Distributor
	clock       adapter.Clock
	hour        int
	minute      int
}

// NewScheduler creates a scheduler. schedule is "HH:MM" in UTC; empty means
// midnight.
func NewScheduler(d *Distributor, clock adapter.Clock, schedule string) (*Scheduler, error) {
	hour, minute := 0, 0
	if schedule != "" {
		if _, err := fmt.Sscanf(schedule, "%d:%d", &hour, &minute); err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("invalid schedule %q", schedule)
		}
	}
	return &Scheduler{distributor: d, clock: clock, hour: hour, minute: minute}, nil
}

// nextRun returns the next scheduled time strictly after now
func (s *Scheduler) nextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}

// Run blocks until ctx is cancelled, distributing at each scheduled time.
// Failures are logged and retried at the next scheduled run.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.nextRun(s.clock.Now())
		wait := next.Sub(s.clock.Now())
		logger.InfoCtx(ctx, "next rewards run scheduled", zap.Time("at", next))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.clock.After(wait):
			if _, err := s.distributor.Distribute(ctx); err != nil {
				logger.ErrorCtx(ctx, fmt.Errorf("rewards distribution: %w", err))
			}
		}
	}
}
