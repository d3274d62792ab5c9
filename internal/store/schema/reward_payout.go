package schema

import "time"

// RewardPayout represents the reward_payouts table - the recorded distribution
// plan of one rewards run. Actual fund transfer happens out of band.
type RewardPayout struct {
	ID      int64 `gorm:"column:id;primaryKey;autoIncrement"`
	StoryID int64 `gorm:"column:story_id;not null;index"`
	// WalletAddress is the story publisher receiving the payout
	WalletAddress string `gorm:"column:wallet_address;not null;type:text"`
	// Rank is the story's position in the run, 1-based
	Rank int `gorm:"column:rank;not null"`
	// AmountMotes is the payout share in motes, floored
	AmountMotes uint64 `gorm:"column:amount_motes;not null"`
	// PoolMotes is the total pool the run split
	PoolMotes     uint64    `gorm:"column:pool_motes;not null"`
	Score         int64     `gorm:"column:score;not null"`
	TokenHash     string    `gorm:"column:token_hash;not null;type:text"`
	DistributedAt time.Time `gorm:"column:distributed_at;not null;default:now();index"`
}

// TableName specifies the table name for the RewardPayout model
func (RewardPayout) TableName() string {
	return "reward_payouts"
}
