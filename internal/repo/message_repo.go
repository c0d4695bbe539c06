// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model, including the insert-or-get idempotent write the ingestion pipeline
// depends on.
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

// ErrDuplicate indicates that a message with the same external id already
// exists in the conversation. Redelivery is expected; callers treat this as
// a no-op, not a failure.
var ErrDuplicate = errors.New("duplicate")

// NewMessageParams carries the fields of a message insert. ExternalID may be
// empty (locally originated rows without a provider id yet).
type NewMessageParams struct {
	ConversationID string
	ExternalID     string
	Content        string
	MediaKind      domain.MediaKind
	MediaURL       string
	IsFromCustomer bool
	Status         domain.MessageStatus
	OccurredAt     time.Time
	RawPayload     string
}

// InsertMessageIfAbsent inserts a message row with insert-or-get semantics.
//
// When p.ExternalID is set and a row with that id already exists in the
// conversation, the existing row is returned together with ErrDuplicate.
// The unique constraint on (conversation_id, external_id) is the arbiter, so
// concurrent redeliveries race safely without an external lock.
func InsertMessageIfAbsent(ctx context.Context, db *gorm.DB, p NewMessageParams) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: p.ConversationID,
		Content:        p.Content,
		MediaKind:      p.MediaKind,
		MediaURL:       p.MediaURL,
		IsFromCustomer: p.IsFromCustomer,
		Status:         p.Status,
		OccurredAt:     p.OccurredAt,
		RawPayload:     p.RawPayload,
		CreatedAt:      time.Now().UTC(),
	}
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if p.ExternalID != "" {
		ext := p.ExternalID
		m.ExternalID = &ext

		var existing domain.Message
		err := db.WithContext(ctx).
			Where("conversation_id = ? AND external_id = ?", p.ConversationID, ext).
			First(&existing).Error
		if err == nil {
			return &existing, ErrDuplicate
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if err := db.WithContext(ctx).Create(m).Error; err != nil {
		if p.ExternalID != "" && isUniqueViolation(err) {
			var existing domain.Message
			if ferr := db.WithContext(ctx).
				Where("conversation_id = ? AND external_id = ?", p.ConversationID, p.ExternalID).
				First(&existing).Error; ferr == nil {
				return &existing, ErrDuplicate
			}
		}
		return nil, err
	}
	return m, nil
}

// FindMessageByExternalID locates a message by its provider id within a
// shop's data, used by receipt handling. Returns ErrNotFound when the message
// was never ingested (or fell out of a pruned window).
func FindMessageByExternalID(ctx context.Context, db *gorm.DB, shopID string, provider domain.ProviderType, externalID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Joins("JOIN conversations ON conversations.id = messages.conversation_id").
		Where("conversations.shop_id = ? AND conversations.provider_type = ? AND messages.external_id = ?", shopID, provider, externalID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMessage fetches a single message by primary key.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMessageStatus advances a message's delivery status in place. Status
// only moves forward (sent → delivered → read); a late "delivered" after a
// "read" is ignored. Content is never touched.
func UpdateMessageStatus(ctx context.Context, db *gorm.DB, id string, status domain.MessageStatus) error {
	updates := map[string]any{"status": status}
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("id = ?", id)
	switch status {
	case domain.StatusRead:
		updates["is_read"] = true
	case domain.StatusDelivered:
		q = q.Where("status <> ?", domain.StatusRead)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	// RowsAffected == 0 covers both a missing row and a forward-only skip;
	// neither is an error for receipt processing.
	return nil
}

// CountMessages uses a raw COUNT so a missing table surfaces as an error.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM messages WHERE conversation_id = ? AND deleted_at IS NULL", conversationID).
		Scan(&total).Error
	return total, err
}

// ListMessagesPage returns a paginated slice ordered by the provider
// timestamp (OccurredAt ASC, ID ASC) for deterministic presentation.
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("occurred_at ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations, so
// string matching backs up the typed check.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key")
}
