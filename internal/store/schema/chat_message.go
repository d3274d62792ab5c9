package schema

import "time"

// ChatMessage represents the chat_messages table - the append-only message log
// per token room. Room membership itself is in-memory only.
type ChatMessage struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	TokenHash     string    `gorm:"column:token_hash;not null;type:text;index"`
	WalletAddress string    `gorm:"column:wallet_address;not null;type:text"`
	UserName      string    `gorm:"column:user_name;type:text"`
	Body          string    `gorm:"column:body;not null;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;not null;default:now();index"`
}

// TableName specifies the table name for the ChatMessage model
func (ChatMessage) TableName() string {
	return "chat_messages"
}
