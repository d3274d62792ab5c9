package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/caspy-social/caspy-backend/internal/domain"
	"github.com/caspy-social/caspy-backend/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance. The gorm connection must
// be opened with TranslateError enabled so unique violations surface as
// gorm.ErrDuplicatedKey.
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// AutoMigrate creates or updates the tables backing the store
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.AccessGrant{},
		&schema.PendingPayment{},
		&schema.Story{},
		&schema.RewardPayout{},
		&schema.ChatMessage{},
		&schema.KeyValueStore{},
	)
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// GetActiveGrant retrieves the single active grant for a token on a network
func (s *pgStore) GetActiveGrant(ctx context.Context, tokenHash string, network domain.Network) (*schema.AccessGrant, error) {
	var grant schema.AccessGrant
	err := s.db.WithContext(ctx).
		Where("token_hash = ? AND network = ?", tokenHash, network).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active grant: %w", err)
	}
	return &grant, nil
}

// GetGrantByTransactionHash retrieves a grant by its payment deploy hash
func (s *pgStore) GetGrantByTransactionHash(ctx context.Context, txHash string) (*schema.AccessGrant, error) {
	var grant schema.AccessGrant
	err := s.db.WithContext(ctx).
		Where("transaction_hash = ?", txHash).
		First(&grant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get grant by transaction hash: %w", err)
	}
	return &grant, nil
}

// ReplaceActiveGrant atomically installs grant as the token's active grant.
// The delete-then-insert runs in one transaction; the unique index on
// (token_hash, network) turns a lost race into ErrGrantConflict instead of a
// second active holder.
func (s *pgStore) ReplaceActiveGrant(ctx context.Context, grant *schema.AccessGrant, staleBefore time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("token_hash = ? AND network = ? AND last_activity_at <= ?",
				grant.TokenHash, grant.Network, staleBefore).
			Delete(&schema.AccessGrant{})
		if res.Error != nil {
			return fmt.Errorf("failed to remove stale grant: %w", res.Error)
		}

		if err := tx.Create(grant).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrGrantConflict
			}
			return fmt.Errorf("failed to create grant: %w", err)
		}
		return nil
	})
}

// UpdateGrantActivity moves the holder's last activity forward
func (s *pgStore) UpdateGrantActivity(ctx context.Context, tokenHash string, network domain.Network, holder string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&schema.AccessGrant{}).
		Where("token_hash = ? AND network = ? AND holder_address = ? AND last_activity_at < ?",
			tokenHash, network, holder, now).
		Update("last_activity_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to update grant activity: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteGrant removes the holder's own grant
func (s *pgStore) DeleteGrant(ctx context.Context, tokenHash string, network domain.Network, holder string) error {
	res := s.db.WithContext(ctx).
		Where("token_hash = ? AND network = ? AND holder_address = ?", tokenHash, network, holder).
		Delete(&schema.AccessGrant{})
	if res.Error != nil {
		return fmt.Errorf("failed to delete grant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrGrantNotFound
	}
	return nil
}

// CreatePendingPayment records an observed-but-unlinked payment. The stream
// redelivers across reconnects, so an existing deploy hash is a no-op.
func (s *pgStore) CreatePendingPayment(ctx context.Context, payment *schema.PendingPayment) error {
	err := s.db.WithContext(ctx).Create(payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("failed to create pending payment: %w", err)
	}
	return nil
}

// GetPendingPayment retrieves a pending payment by deploy hash
func (s *pgStore) GetPendingPayment(ctx context.Context, deployHash string) (*schema.PendingPayment, error) {
	var payment schema.PendingPayment
	err := s.db.WithContext(ctx).
		Where("deploy_hash = ?", deployHash).
		First(&payment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get pending payment: %w", err)
	}
	return &payment, nil
}

// MarkPaymentLinked stamps the pending payment as consumed
func (s *pgStore) MarkPaymentLinked(ctx context.Context, deployHash string, linkedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&schema.PendingPayment{}).
		Where("deploy_hash = ? AND linked_at IS NULL", deployHash).
		Update("linked_at", linkedAt)
	if res.Error != nil {
		return fmt.Errorf("failed to mark payment linked: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrPendingPaymentNotFound
	}
	return nil
}

// DeleteExpiredPendingPayments removes unlinked payments observed before the cutoff
func (s *pgStore) DeleteExpiredPendingPayments(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("observed_at < ? AND linked_at IS NULL", cutoff).
		Delete(&schema.PendingPayment{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete expired pending payments: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CreateStory inserts a story row
func (s *pgStore) CreateStory(ctx context.Context, story *schema.Story) error {
	if err := s.db.WithContext(ctx).Create(story).Error; err != nil {
		return fmt.Errorf("failed to create story: %w", err)
	}
	return nil
}

// GetStory retrieves a story by ID
func (s *pgStore) GetStory(ctx context.Context, id int64) (*schema.Story, error) {
	var story schema.Story
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&story).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	return &story, nil
}

// AddStoryEngagement increments engagement counters
func (s *pgStore) AddStoryEngagement(ctx context.Context, id int64, views, likes, comments, shares int64) error {
	res := s.db.WithContext(ctx).
		Model(&schema.Story{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"views":    gorm.Expr("views + ?", views),
			"likes":    gorm.Expr("likes + ?", likes),
			"comments": gorm.Expr("comments + ?", comments),
			"shares":   gorm.Expr("shares + ?", shares),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to add story engagement: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrStoryNotFound
	}
	return nil
}

// LatestStoryTime returns when the token last had content published
func (s *pgStore) LatestStoryTime(ctx context.Context, tokenHash string) (*time.Time, error) {
	var story schema.Story
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Order("created_at DESC").
		First(&story).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest story time: %w", err)
	}
	return &story.CreatedAt, nil
}

// ListRewardCandidates returns unrewarded stories created inside the window,
// best engagement first
func (s *pgStore) ListRewardCandidates(ctx context.Context, windowStart, windowEnd time.Time, limit int) ([]schema.Story, error) {
	var stories []schema.Story
	err := s.db.WithContext(ctx).
		Where("rewarded_at IS NULL AND created_at >= ? AND created_at < ?", windowStart, windowEnd).
		Order("(views + 2*likes + comments + 5*shares) DESC, id ASC").
		Limit(limit).
		Find(&stories).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list reward candidates: %w", err)
	}
	return stories, nil
}

// RecordDistribution persists a distribution plan and marks the selected
// stories rewarded in one transaction
func (s *pgStore) RecordDistribution(ctx context.Context, payouts []schema.RewardPayout, storyIDs []int64, distributedAt time.Time) error {
	if len(payouts) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&payouts).Error; err != nil {
			return fmt.Errorf("failed to create reward payouts: %w", err)
		}
		err := tx.Model(&schema.Story{}).
			Where("id IN ?", storyIDs).
			Update("rewarded_at", distributedAt).Error
		if err != nil {
			return fmt.Errorf("failed to mark stories rewarded: %w", err)
		}
		return nil
	})
}

// SaveChatMessage appends a message to a token's chat log
func (s *pgStore) SaveChatMessage(ctx context.Context, msg *schema.ChatMessage) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to save chat message: %w", err)
	}
	return nil
}

// GetRecentChatMessages returns the latest messages for a token in
// chronological order
func (s *pgStore) GetRecentChatMessages(ctx context.Context, tokenHash string, limit int) ([]schema.ChatMessage, error) {
	var messages []schema.ChatMessage
	err := s.db.WithContext(ctx).
		Where("token_hash = ?", tokenHash).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get chat messages: %w", err)
	}

	// Oldest first for replay
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// GetValue retrieves a state value by key
func (s *pgStore) GetValue(ctx context.Context, key string) (string, error) {
	var kv schema.KeyValueStore
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&kv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get value: %w", err)
	}
	return kv.Value, nil
}

// SetValue stores a state value
func (s *pgStore) SetValue(ctx context.Context, key string, value string) error {
	kv := schema.KeyValueStore{Key: key, Value: value}
	err := s.db.WithContext(ctx).
		Save(&kv).Error
	if err != nil {
		return fmt.Errorf("failed to set value: %w", err)
	}
	return nil
}
