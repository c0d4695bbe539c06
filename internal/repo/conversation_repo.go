// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model.
//
// Error semantics:
//   - When a conversation is not found, functions return ErrNotFound.
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// UpsertConversation returns the conversation for the natural key
// (shopID, provider, externalID), inserting it lazily on the first message
// to or from a new thread.
//
// last_message_at advances with a monotonic max: the guarded update only
// fires when occurredAt is newer than the stored value, so out-of-order
// delivery cannot move the timestamp backwards.
func UpsertConversation(ctx context.Context, db *gorm.DB, shopID string, provider domain.ProviderType, externalID, customerID string, occurredAt time.Time) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := db.WithContext(ctx).
		Where("shop_id = ? AND provider_type = ? AND external_id = ?", shopID, provider, externalID).
		First(&conv).Error
	if err == nil {
		if occurredAt.After(conv.LastMessageAt) {
			res := db.WithContext(ctx).Model(&domain.Conversation{}).
				Where("id = ? AND last_message_at < ?", conv.ID, occurredAt).
				Update("last_message_at", occurredAt)
			if res.Error != nil {
				return nil, res.Error
			}
			if res.RowsAffected > 0 {
				conv.LastMessageAt = occurredAt
			}
		}
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = domain.Conversation{
		ID:            uuid.NewString(),
		ShopID:        shopID,
		ProviderType:  provider,
		ExternalID:    externalID,
		CustomerID:    customerID,
		LastMessageAt: occurredAt,
		IsActive:      true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&conv).Error; err != nil {
		if isUniqueViolation(err) {
			// Another ingest won the insert race; recurse once through the
			// fetch path so the monotonic update still applies.
			return UpsertConversation(ctx, db, shopID, provider, externalID, customerID, occurredAt)
		}
		return nil, err
	}
	return &conv, nil
}

// GetConversation fetches a conversation by id ensuring it belongs to the
// shop, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id, shopID string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := db.WithContext(ctx).
		Where("id = ? AND shop_id = ?", id, shopID).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// IncrementUnread adds one to the unread counter. Callers run it in the same
// transaction as the message insert so the counter cannot drift from the
// message set.
func IncrementUnread(ctx context.Context, db *gorm.DB, conversationID string) error {
	res := db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("unread_count", gorm.Expr("unread_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ResetUnread zeroes the unread counter on an explicit read action and marks
// the customer-originated messages of the thread as read.
func ResetUnread(ctx context.Context, db *gorm.DB, conversationID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Conversation{}).
			Where("id = ?", conversationID).
			Update("unread_count", 0)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&domain.Message{}).
			Where("conversation_id = ? AND is_from_customer = ? AND is_read = ?", conversationID, true, false).
			Update("is_read", true).Error
	})
}

// CountConversations returns the total number of conversations for a shop.
func CountConversations(ctx context.Context, db *gorm.DB, shopID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Conversation{}).
		Where("shop_id = ?", shopID).
		Count(&total).Error
	return total, err
}

// ListConversationsPage returns a page of a shop's conversations ordered by
// recency (last_message_at DESC, id ASC as a deterministic tiebreak).
func ListConversationsPage(ctx context.Context, db *gorm.DB, shopID string, offset, limit int) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("shop_id = ?", shopID).
		Order("last_message_at DESC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
