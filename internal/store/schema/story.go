package schema

import "time"

// Story represents the stories table - content published by the token
// controller. Only the columns the access ledger and reward distributor touch
// are modeled here; media handling lives elsewhere.
type Story struct {
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TokenHash is the canonical token package hash the story belongs to
	TokenHash string `gorm:"column:token_hash;not null;type:text;index"`
	// WalletAddress is the publisher's public key
	WalletAddress string `gorm:"column:wallet_address;not null;type:text;index"`
	Caption       string `gorm:"column:caption;type:text"`
	MediaURL      string `gorm:"column:media_url;type:text"`

	// Engagement counters feeding the reward score
	Views    int64 `gorm:"column:views;not null;default:0"`
	Likes    int64 `gorm:"column:likes;not null;default:0"`
	Comments int64 `gorm:"column:comments;not null;default:0"`
	Shares   int64 `gorm:"column:shares;not null;default:0"`

	CreatedAt time.Time `gorm:"column:created_at;not null;default:now();index"`
	// RewardedAt is set once the story has been selected by a distribution
	// run; rewarded stories are never selected again.
	RewardedAt *time.Time `gorm:"column:rewarded_at"`
}

// TableName specifies the table name for the Story model
func (Story) TableName() string {
	return "stories"
}

// Score is the deterministic engagement score used for reward ranking.
func (s *Story) Score() int64 {
	return s.Views + 2*s.Likes + s.Comments + 5*s.Shares
}
