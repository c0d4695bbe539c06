// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the SendReceipt
// model used to implement safe-retry semantics for outbound sends.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// GetSendReceipt returns a non-expired receipt or ErrNotFound.
func GetSendReceipt(ctx context.Context, db *gorm.DB, shopID, conversationID, key string, now time.Time) (*domain.SendReceipt, error) {
	if strings.TrimSpace(conversationID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.SendReceipt
	err := db.WithContext(ctx).
		Where("shop_id = ? AND conversation_id = ? AND key = ? AND expires_at > ?", shopID, conversationID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateSendReceipt inserts a receipt and returns ErrDuplicate on unique
// violation (a concurrent retry of the same send already recorded one).
func CreateSendReceipt(ctx context.Context, db *gorm.DB, shopID, conversationID, key, messageID string, status int, ttl time.Duration) (*domain.SendReceipt, error) {
	now := time.Now().UTC()
	rec := &domain.SendReceipt{
		ID:             uuid.NewString(),
		ShopID:         shopID,
		ConversationID: conversationID,
		Key:            key,
		MessageID:      messageID,
		Status:         status,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
