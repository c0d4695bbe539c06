package services

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
)

// ChannelRegistry owns the lifecycle of channel records. It is the only
// component that flips a channel's is_active flag, so that activation state
// always reflects a real transport transition and not a guess made by a
// webhook parser or an HTTP handler.
type ChannelRegistry struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewChannelRegistry builds a registry over the given database handle.
func NewChannelRegistry(db *gorm.DB, log zerolog.Logger) *ChannelRegistry {
	return &ChannelRegistry{db: db, log: log.With().Str("component", "channel_registry").Logger()}
}

// Activate upserts the channel identified by (shopID, provider, externalID)
// and marks it active. Called when a socket session reaches the connected
// state or when a webhook channel completes subscription verification.
func (r *ChannelRegistry) Activate(ctx context.Context, shopID string, provider domain.ProviderType, externalID, credentialsRef string) (*domain.Channel, error) {
	ch, err := repo.UpsertChannel(ctx, r.db, shopID, provider, externalID, credentialsRef)
	if err != nil {
		return nil, err
	}
	if !ch.IsActive {
		if err := repo.SetChannelActive(ctx, r.db, ch.ID, true); err != nil {
			return nil, err
		}
		ch.IsActive = true
	}
	r.log.Info().
		Str("shop_id", shopID).
		Str("provider", string(provider)).
		Str("external_id", externalID).
		Msg("channel activated")
	return ch, nil
}

// Deactivate marks the shop's channel for the given provider inactive.
// Inbound events for an inactive channel are ignored at the routing layer.
// Missing channels are a no-op so that teardown is idempotent.
func (r *ChannelRegistry) Deactivate(ctx context.Context, shopID string, provider domain.ProviderType) error {
	ch, err := repo.GetChannel(ctx, r.db, shopID, provider)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil
		}
		return err
	}
	if err := repo.SetChannelActive(ctx, r.db, ch.ID, false); err != nil {
		return err
	}
	r.log.Info().
		Str("shop_id", shopID).
		Str("provider", string(provider)).
		Msg("channel deactivated")
	return nil
}

// Resolve maps a provider-scoped external identifier to its owning channel.
// Only active channels are routable; an inactive or unknown channel yields
// ErrUnknownChannel so that callers ack-and-drop instead of retrying.
func (r *ChannelRegistry) Resolve(ctx context.Context, provider domain.ProviderType, externalID string) (*domain.Channel, error) {
	ch, err := repo.FindChannelByExternal(ctx, r.db, provider, externalID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, ErrUnknownChannel
		}
		return nil, err
	}
	if !ch.IsActive {
		return nil, ErrUnknownChannel
	}
	return ch, nil
}

// Status returns the shop's channel for a provider regardless of activation
// state, or repo.ErrNotFound when the shop never paired that provider.
func (r *ChannelRegistry) Status(ctx context.Context, shopID string, provider domain.ProviderType) (*domain.Channel, error) {
	return repo.GetChannel(ctx, r.db, shopID, provider)
}

// ActiveChannels lists every active channel for a provider. Used on boot to
// resume socket sessions whose credentials are still on disk.
func (r *ChannelRegistry) ActiveChannels(ctx context.Context, provider domain.ProviderType) ([]domain.Channel, error) {
	return repo.ListActiveChannels(ctx, r.db, provider)
}
