package schema

import (
	"time"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

// AccessGrant represents the access_grants table - the authoritative record of
// who currently controls publishing rights for a token on a given network.
//
// The unique index on (token_hash, network) is what makes the claim operation
// race-free: a reclaim deletes the stale row and inserts the new holder inside
// one transaction, so two racing claims cannot both commit.
type AccessGrant struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TokenHash is the canonical contract package hash (hex, no prefix)
	TokenHash string `gorm:"column:token_hash;not null;type:text;uniqueIndex:idx_access_grants_token_network,priority:1"`
	// Network is the Casper network the grant belongs to
	Network domain.Network `gorm:"column:network;not null;type:text;default:'mainnet';uniqueIndex:idx_access_grants_token_network,priority:2"`
	// HolderAddress is the public key of the current controller
	HolderAddress string `gorm:"column:holder_address;not null;type:text;index"`
	// IsOwner marks a free grant held by the token's on-chain owner, as
	// opposed to a paid CTO claim
	IsOwner bool `gorm:"column:is_owner;not null;default:false"`
	// PaidAmount is the payment in motes (zero for owner grants)
	PaidAmount uint64 `gorm:"column:paid_amount;not null;default:0"`
	// TransactionHash is the deploy hash of the payment. Globally unique so
	// the same payment can never back two grants. Nil for owner grants.
	TransactionHash *string `gorm:"column:transaction_hash;type:text;uniqueIndex"`
	// GrantedAt is when the grant was created
	GrantedAt time.Time `gorm:"column:granted_at;not null;default:now()"`
	// LastActivityAt moves forward whenever the holder publishes content.
	// Indexed for the reclaim-evaluation scan.
	LastActivityAt time.Time `gorm:"column:last_activity_at;not null;default:now();index"`
}

// TableName specifies the table name for the AccessGrant model
func (AccessGrant) TableName() string {
	return "access_grants"
}
