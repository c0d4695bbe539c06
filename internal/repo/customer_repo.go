// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Customer
// model.
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

// UpsertCustomer returns the customer row for (shopID, externalHandle),
// inserting it lazily on the first inbound event from an unseen handle.
//
// Existing rows are left untouched except for an opportunistic refresh: a
// non-empty displayName or avatarURL from a newer provider payload replaces a
// stale or placeholder value. Concurrent inserts for the same handle resolve
// through the unique constraint with a fetch fallback.
func UpsertCustomer(ctx context.Context, db *gorm.DB, shopID, externalHandle, displayName, avatarURL string) (*domain.Customer, error) {
	var cu domain.Customer
	err := db.WithContext(ctx).
		Where("shop_id = ? AND external_handle = ?", shopID, externalHandle).
		First(&cu).Error
	if err == nil {
		updates := map[string]any{}
		if displayName != "" && displayName != cu.DisplayName {
			updates["display_name"] = displayName
		}
		if avatarURL != "" && avatarURL != cu.AvatarURL {
			updates["avatar_url"] = avatarURL
		}
		if len(updates) > 0 {
			if err := db.WithContext(ctx).Model(&cu).Updates(updates).Error; err != nil {
				return nil, err
			}
		}
		return &cu, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if displayName == "" {
		displayName = placeholderName(externalHandle)
	}
	cu = domain.Customer{
		ID:             uuid.NewString(),
		ShopID:         shopID,
		ExternalHandle: externalHandle,
		DisplayName:    displayName,
		AvatarURL:      avatarURL,
		CreatedAt:      time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(&cu).Error; err != nil {
		if isUniqueViolation(err) {
			var existing domain.Customer
			if ferr := db.WithContext(ctx).
				Where("shop_id = ? AND external_handle = ?", shopID, externalHandle).
				First(&existing).Error; ferr == nil {
				return &existing, nil
			}
		}
		return nil, err
	}
	return &cu, nil
}

// GetCustomer fetches a customer by id, or ErrNotFound.
func GetCustomer(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var cu domain.Customer
	err := db.WithContext(ctx).Where("id = ?", id).First(&cu).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cu, nil
}

// placeholderName derives a readable default from the external handle until a
// provider payload supplies the real profile name.
func placeholderName(handle string) string {
	h := strings.TrimPrefix(handle, "+")
	if len(h) > 4 {
		return "Customer " + h[len(h)-4:]
	}
	return "Customer " + h
}
