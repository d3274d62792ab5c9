package schema

import (
	"time"

	"gorm.io/datatypes"

	"github.com/caspy-social/caspy-backend/internal/domain"
)

// PendingPayment represents the pending_payments table - a payment observed on
// the transfer stream whose target token is not yet known. The linking
// endpoint consumes it; unconsumed rows age out of the lookup window.
type PendingPayment struct {
	// ID is a ULID assigned at observation time
	ID string `gorm:"column:id;primaryKey;type:text"`
	// DeployHash is the canonical deploy hash of the transfer
	DeployHash string `gorm:"column:deploy_hash;not null;type:text;uniqueIndex"`
	// SenderPublicKey is recovered via RPC from the deploy header
	SenderPublicKey string `gorm:"column:sender_public_key;not null;type:text"`
	// SenderAccountHash is the account hash carried by the streaming event
	SenderAccountHash string `gorm:"column:sender_account_hash;not null;type:text"`
	// Amount is the transfer amount in motes
	Amount uint64 `gorm:"column:amount;not null"`
	// Network is the network the transfer was seen on
	Network domain.Network `gorm:"column:network;not null;type:text"`
	// Raw is the original streaming frame, kept for provenance
	Raw datatypes.JSON `gorm:"column:raw"`
	// ObservedAt is when the stream delivered the transfer
	ObservedAt time.Time `gorm:"column:observed_at;not null;default:now();index"`
	// LinkedAt is set when the linking endpoint consumes the payment
	LinkedAt *time.Time `gorm:"column:linked_at"`
}

// TableName specifies the table name for the PendingPayment model
func (PendingPayment) TableName() string {
	return "pending_payments"
}
