// Package domain defines the core persistence models for the application.
package domain

import "time"

// SendReceipt records the result of a previously processed outbound send,
// keyed by (shop_id, conversation_id, key). It enables safe client retries of
// POST sends: a replay returns the originally produced message without
// contacting the provider a second time.
type SendReceipt struct {
	ID             string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	ShopID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_shop_conv_key,priority:1"`
	ConversationID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_shop_conv_key,priority:2"`
	Key            string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_shop_conv_key,priority:3"`
	MessageID      string    `gorm:"type:TEXT NOT NULL"`
	Status         int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt      time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt      time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (SendReceipt) TableName() string { return "send_receipts" }
