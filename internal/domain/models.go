// Package domain defines the persistence models for channels, customers,
// conversations, and messages. These types are mapped with GORM and form the
// core data layer of the messaging gateway.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// ProviderType identifies which messaging network a channel or conversation
// belongs to.
type ProviderType string

// Supported provider types.
const (
	// ProviderSocketWA is the socket-based WhatsApp provider. The gateway
	// owns a persistent authenticated connection per shop.
	ProviderSocketWA ProviderType = "SOCKET_WA"
	// ProviderWebhookMeta is the Meta Graph webhook provider (Cloud API).
	ProviderWebhookMeta ProviderType = "WEBHOOK_META"
	// ProviderWebhookGeneric is the generic HTTP webhook provider.
	ProviderWebhookGeneric ProviderType = "WEBHOOK_GENERIC"
)

// Valid reports whether p is one of the known provider types.
func (p ProviderType) Valid() bool {
	switch p {
	case ProviderSocketWA, ProviderWebhookMeta, ProviderWebhookGeneric:
		return true
	}
	return false
}

// Channel represents one configured connection to a provider account for one
// shop. A channel is active only while its underlying session or webhook
// subscription is confirmed live; the registry service is the only writer of
// IsActive.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ShopID: owning tenant; part of the natural key.
//   - ProviderType / ExternalID: provider account identity; unique together
//     with ShopID.
//   - IsActive: flips true only on a confirmed open/verified transition.
//   - CredentialsRef: opaque reference into the credential store (session
//     blob location for socket providers); never the credentials themselves.
//   - DeletedAt: soft deletion marker; rows with linked conversations are
//     never physically removed.
type Channel struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ShopID         string         `json:"shop_id"         gorm:"type:varchar(64);not null;uniqueIndex:ux_shop_provider_ext,priority:1"`
	ProviderType   ProviderType   `json:"provider_type"   gorm:"type:varchar(32);not null;uniqueIndex:ux_shop_provider_ext,priority:2"`
	ExternalID     string         `json:"external_id"     gorm:"type:varchar(128);not null;uniqueIndex:ux_shop_provider_ext,priority:3;index:idx_provider_ext"`
	IsActive       bool           `json:"is_active"       gorm:"not null;default:false"`
	CredentialsRef string         `json:"-"               gorm:"type:varchar(255)"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Channel.
func (Channel) TableName() string { return "channels" }

// Customer represents a peer identity (phone number or platform id) scoped to
// a shop. Customers are created lazily on the first inbound event from an
// unseen handle and refreshed opportunistically when an event carries a newer
// display name or avatar.
type Customer struct {
	ID             string         `json:"id"              gorm:"type:char(36);primaryKey"`
	ShopID         string         `json:"shop_id"         gorm:"type:varchar(64);not null;uniqueIndex:ux_shop_handle,priority:1"`
	ExternalHandle string         `json:"external_handle" gorm:"type:varchar(128);not null;uniqueIndex:ux_shop_handle,priority:2"`
	DisplayName    string         `json:"display_name"    gorm:"type:varchar(255);not null"`
	AvatarURL      string         `json:"avatar_url,omitempty" gorm:"type:varchar(512)"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"               gorm:"index"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// Conversation is one message thread between a shop and a customer on one
// provider.
//
// Invariants:
//   - unique (shop_id, provider_type, external_id),
//   - UnreadCount increments only for customer-originated messages and resets
//     to zero only on an explicit read action,
//   - LastMessageAt is a monotonic maximum over provider-supplied timestamps,
//     never ingestion time.
type Conversation struct {
	ID            string         `json:"id"            gorm:"type:char(36);primaryKey"`
	ShopID        string         `json:"shop_id"       gorm:"type:varchar(64);not null;uniqueIndex:ux_conv_natural,priority:1;index:idx_shop_convs"`
	ProviderType  ProviderType   `json:"provider_type" gorm:"type:varchar(32);not null;uniqueIndex:ux_conv_natural,priority:2"`
	ExternalID    string         `json:"external_id"   gorm:"type:varchar(128);not null;uniqueIndex:ux_conv_natural,priority:3"`
	CustomerID    string         `json:"customer_id"   gorm:"type:char(36);not null;index"`
	LastMessageAt time.Time      `json:"last_message_at"`
	UnreadCount   int            `json:"unread_count"  gorm:"not null;default:0"`
	IsActive      bool           `json:"is_active"     gorm:"not null;default:true"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-"             gorm:"index"`

	// Customer is a lookup relation, not an ownership edge; customer deletion
	// is blocked upstream while conversations exist.
	Customer Customer `json:"-" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// MediaKind classifies message payloads beyond plain text.
type MediaKind string

// Known media kinds.
const (
	MediaNone     MediaKind = ""
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
	MediaSticker  MediaKind = "sticker"
	MediaLocation MediaKind = "location"
)

// MessageStatus tracks delivery progression. Content is immutable; only
// status fields are ever updated in place.
type MessageStatus string

// Message delivery states.
const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Message is a single utterance within a conversation.
//
// When ExternalID is present it is the provider message id and acts as the
// idempotency key for redelivery: unique per conversation, insert-or-get
// semantics in the repository. Ordering is by OccurredAt, the
// provider-supplied timestamp, not ingestion time.
type Message struct {
	ID             string         `json:"id"               gorm:"type:char(36);primaryKey"`
	ConversationID string         `json:"conversation_id"  gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1;uniqueIndex:ux_conv_extmsg,priority:1"`
	ExternalID     *string        `json:"external_id,omitempty" gorm:"type:varchar(255);uniqueIndex:ux_conv_extmsg,priority:2"`
	Content        string         `json:"content"          gorm:"type:text;not null"`
	MediaKind      MediaKind      `json:"media_kind,omitempty" gorm:"type:varchar(16)"`
	MediaURL       string         `json:"media_url,omitempty"  gorm:"type:varchar(1024)"`
	IsFromCustomer bool           `json:"is_from_customer" gorm:"not null"`
	Status         MessageStatus  `json:"status"           gorm:"type:varchar(16);not null;default:'sent'"`
	IsRead         bool           `json:"is_read"          gorm:"not null;default:false"`
	OccurredAt     time.Time      `json:"occurred_at"      gorm:"index:idx_conv_msgs,priority:2"`
	RawPayload     string         `json:"-"                gorm:"type:text"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-"                gorm:"index"`

	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
