// Package domain defines the persistence models and the normalized event
// shapes shared by the provider adapters, the conversation store, and the
// broadcaster.
package domain

import "time"

// EventKind discriminates the normalized inbound event union. Provider
// adapters tag every event they emit; consumers switch on the kind instead of
// on provider-specific payload shapes.
type EventKind string

// Normalized inbound event kinds.
const (
	// EventMessage is a regular inbound or echoed outbound message.
	EventMessage EventKind = "message"
	// EventPostback is a button/quick-reply press, normalized into a
	// synthetic inbound message carrying the postback payload.
	EventPostback EventKind = "postback"
	// EventDeliveryReceipt marks a previously sent message as delivered.
	EventDeliveryReceipt EventKind = "delivery_receipt"
	// EventReadReceipt marks a previously sent message as read.
	EventReadReceipt EventKind = "read_receipt"
	// EventSubscription reports a change of the webhook subscription state.
	EventSubscription EventKind = "subscription"
)

// InboundEvent is the provider-agnostic representation of one inbound wire
// event. Both the socket transport and the webhook adapters produce this
// shape; the conversation store consumes it uniformly.
//
// ExternalMessageID, when present, is the idempotency key: redelivery of the
// same provider event must not produce a second message row. Deduplication is
// enforced by the store's unique constraints, not by the producers.
type InboundEvent struct {
	ShopID       string       `json:"shop_id"`
	ChannelID    string       `json:"channel_id"`
	ProviderType ProviderType `json:"provider_type"`

	// PeerExternalID identifies the remote thread/peer (phone number or
	// platform-scoped id). It doubles as the conversation external id.
	PeerExternalID string `json:"peer_external_id"`
	// PeerDisplayName is an opportunistic profile name refresh; may be empty.
	PeerDisplayName string `json:"peer_display_name,omitempty"`
	// PeerAvatarURL is an opportunistic avatar refresh; may be empty.
	PeerAvatarURL string `json:"peer_avatar_url,omitempty"`

	Kind              EventKind `json:"kind"`
	ExternalMessageID string    `json:"external_message_id,omitempty"`
	Content           string    `json:"content,omitempty"`
	MediaURL          string    `json:"media_url,omitempty"`
	MediaKind         MediaKind `json:"media_kind,omitempty"`

	// FromCustomer is false for echoes of the shop's own outbound messages
	// (the socket provider replays them on other devices).
	FromCustomer bool `json:"from_customer"`

	// OccurredAt is the provider-supplied timestamp. Presentation ordering
	// and the conversation's last_message_at derive from it.
	OccurredAt time.Time `json:"occurred_at"`

	// RawPayload is the provider payload as received, kept for audit/replay.
	RawPayload string `json:"raw_payload,omitempty"`
}

// LifecycleType labels channel lifecycle notifications pushed to real-time
// dashboard subscribers.
type LifecycleType string

// Lifecycle notification types.
const (
	LifecyclePairingArtifact LifecycleType = "pairing_artifact"
	LifecycleConnected       LifecycleType = "connected"
	LifecycleDisconnected    LifecycleType = "disconnected"
	LifecycleMessageReceived LifecycleType = "message_received"
)

// LifecycleEvent is one entry on a shop's real-time event stream.
type LifecycleEvent struct {
	Type    LifecycleType `json:"type"`
	ShopID  string        `json:"shop_id"`
	At      time.Time     `json:"at"`
	Payload any           `json:"payload,omitempty"`
}
