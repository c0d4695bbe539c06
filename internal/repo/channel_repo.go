// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Channel
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only CRUD persistence and query composition.
// The activity flag itself is only ever flipped through the registry service.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// UpsertChannel returns the channel row for (shopID, provider, externalID),
// inserting it when absent. The insert races safely against concurrent
// upserts: a unique-constraint violation falls back to a fetch.
func UpsertChannel(ctx context.Context, db *gorm.DB, shopID string, provider domain.ProviderType, externalID, credentialsRef string) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.WithContext(ctx).
		Where("shop_id = ? AND provider_type = ? AND external_id = ?", shopID, provider, externalID).
		First(&ch).Error
	if err == nil {
		if credentialsRef != "" && ch.CredentialsRef != credentialsRef {
			ch.CredentialsRef = credentialsRef
			if err := db.WithContext(ctx).Model(&ch).Update("credentials_ref", credentialsRef).Error; err != nil {
				return nil, err
			}
		}
		return &ch, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ch = domain.Channel{
		ID:             uuid.NewString(),
		ShopID:         shopID,
		ProviderType:   provider,
		ExternalID:     externalID,
		CredentialsRef: credentialsRef,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&ch).Error; err != nil {
		if isUniqueViolation(err) {
			// Lost the insert race; the winner's row is authoritative.
			var existing domain.Channel
			if ferr := db.WithContext(ctx).
				Where("shop_id = ? AND provider_type = ? AND external_id = ?", shopID, provider, externalID).
				First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &ch, nil
}

// SetChannelActive flips the activity flag of one channel row.
func SetChannelActive(ctx context.Context, db *gorm.DB, id string, active bool) error {
	res := db.WithContext(ctx).Model(&domain.Channel{}).
		Where("id = ?", id).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetChannel fetches a shop's channel for one provider, or ErrNotFound.
// Shops hold at most one channel per provider type.
func GetChannel(ctx context.Context, db *gorm.DB, shopID string, provider domain.ProviderType) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.WithContext(ctx).
		Where("shop_id = ? AND provider_type = ?", shopID, provider).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// FindChannelByExternal resolves a channel from provider identity alone, the
// lookup webhook routing relies on. Returns ErrNotFound for unknown accounts.
func FindChannelByExternal(ctx context.Context, db *gorm.DB, provider domain.ProviderType, externalID string) (*domain.Channel, error) {
	var ch domain.Channel
	err := db.WithContext(ctx).
		Where("provider_type = ? AND external_id = ?", provider, externalID).
		First(&ch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// ListActiveChannels returns every active channel of one provider type, used
// to resume socket sessions on boot.
func ListActiveChannels(ctx context.Context, db *gorm.DB, provider domain.ProviderType) ([]domain.Channel, error) {
	var out []domain.Channel
	err := db.WithContext(ctx).
		Where("provider_type = ? AND is_active = ?", provider, true).
		Order("shop_id ASC").
		Find(&out).Error
	return out, err
}
