// Channel HTTP handlers.
//
// This file exposes the dashboard endpoints for the socket channel
// lifecycle:
//   - POST   /channels/whatsapp/pairing   (request a pairing QR)
//   - GET    /channels/whatsapp           (connection status)
//   - DELETE /channels/whatsapp           (disconnect / logout)
//
// Handlers are transport-thin: they validate input, call the session layer,
// and translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
	"github.com/shoptalk/go-gateway-backend/internal/services"
	"github.com/shoptalk/go-gateway-backend/internal/session"
	"github.com/shoptalk/go-gateway-backend/internal/utils"
	"gorm.io/gorm"
)

//
// Service contracts (context-aware)
//

// SessionService defines the socket-session operations consumed by HTTP
// handlers. Implementations must be safe for concurrent use.
type SessionService interface {
	// RequestPairing starts or joins a pairing attempt and returns the
	// current artifact.
	RequestPairing(ctx context.Context, shopID string) (*session.PairingArtifact, error)
	// Status reports the session state and provider account id.
	Status(shopID string) (session.State, string)
	// SendText delivers a text to a peer over the live session.
	SendText(ctx context.Context, shopID, peerID, text string) (*services.IngestResult, error)
	// Disconnect closes the live session but keeps the pairing.
	Disconnect(ctx context.Context, shopID string) error
	// Logout revokes the pairing and deactivates the channel.
	Logout(ctx context.Context, shopID string) error
}

// ConversationService defines the inbox operations consumed by HTTP
// handlers.
type ConversationService interface {
	// Ingest applies one normalized inbound event.
	Ingest(ctx context.Context, ev domain.InboundEvent) (*services.IngestResult, error)
	// MarkRead zeroes a conversation's unread counter.
	MarkRead(ctx context.Context, shopID, conversationID string) error
}

// ChannelService defines the registry operations consumed by HTTP handlers.
type ChannelService interface {
	// Resolve maps a provider external id to its active channel.
	Resolve(ctx context.Context, provider domain.ProviderType, externalID string) (*domain.Channel, error)
	// Status returns the shop's channel regardless of activation state.
	Status(ctx context.Context, shopID string, provider domain.ProviderType) (*domain.Channel, error)
	// Activate provisions (or re-activates) a channel. Webhook handlers call
	// it on subscription verification so deliveries become routable.
	Activate(ctx context.Context, shopID string, provider domain.ProviderType, externalID, credentialsRef string) (*domain.Channel, error)
	// Deactivate parks a channel; its deliveries are dropped until the next
	// activation.
	Deactivate(ctx context.Context, shopID string, provider domain.ProviderType) error
}

//
// Handler wiring
//

// WebhookConfig carries the shared secrets of the webhook providers.
type WebhookConfig struct {
	// MetaAppSecret signs Meta webhook bodies (X-Hub-Signature-256).
	MetaAppSecret string
	// MetaVerifyToken answers the Meta subscription handshake.
	MetaVerifyToken string
	// GenericSecret signs generic webhook bodies (X-Signature).
	GenericSecret string
}

// Handlers groups the HTTP endpoints for channels, conversations, webhooks,
// and the event stream. It depends on abstract service interfaces to keep
// transport concerns separate from business logic.
type Handlers struct {
	db       *gorm.DB
	sessions SessionService
	convs    ConversationService
	channels ChannelService
	events   EventSource
	webhooks WebhookConfig

	// sendTTL bounds how long a send idempotency key replays the original
	// response.
	sendTTL time.Duration
}

// New constructs a Handlers instance bound to the given services.
func New(db *gorm.DB, sessions SessionService, convs ConversationService, channels ChannelService, events EventSource, webhooks WebhookConfig, sendTTL time.Duration) *Handlers {
	if sendTTL <= 0 {
		sendTTL = 24 * time.Hour
	}
	return &Handlers{
		db:       db,
		sessions: sessions,
		convs:    convs,
		channels: channels,
		events:   events,
		webhooks: webhooks,
		sendTTL:  sendTTL,
	}
}

// shopID extracts the authenticated shop id from Gin context (set by the
// auth middleware). If absent, it falls back to the "X-Shop-ID" header
// (tests use it), and finally to "demo-shop". It never touches c.Request if
// it's nil.
func shopID(c *gin.Context) string {
	if v, ok := c.Get("shopID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-Shop-ID")); h != "" {
			return h
		}
	}
	return "demo-shop"
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

//
// DTOs
//

// PairingResponse is returned by the pairing endpoint.
type PairingResponse struct {
	State string `json:"state"`
	// QRImage is a data URI with a base64 PNG, empty when already connected.
	QRImage   string     `json:"qr_image,omitempty"`
	IssuedAt  *time.Time `json:"issued_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// ChannelStatusResponse describes the shop's socket channel.
type ChannelStatusResponse struct {
	State      string `json:"state"`
	ExternalID string `json:"external_id,omitempty"`
	IsActive   bool   `json:"is_active"`
	PairedAt   string `json:"paired_at,omitempty"`
}

//
// Handlers
//

// RequestPairing starts (or joins) a pairing attempt for the current shop
// and returns the QR artifact to render.
func (h *Handlers) RequestPairing(c *gin.Context) {
	art, err := h.sessions.RequestPairing(c.Request.Context(), shopID(c))
	switch {
	case errors.Is(err, services.ErrAlreadyConnected):
		fail(c, http.StatusConflict, ErrCodeAlreadyConnected, "channel is already connected")
		return
	case errors.Is(err, services.ErrPairingTimeout):
		fail(c, http.StatusGatewayTimeout, ErrCodePairingTimeout, "no pairing code arrived in time")
		return
	case errors.Is(err, session.ErrPairingAborted):
		fail(c, http.StatusBadGateway, ErrCodePairingFailed, "pairing attempt failed, try again")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	state, _ := h.sessions.Status(shopID(c))
	resp := PairingResponse{State: string(state)}
	if art != nil {
		resp.QRImage = art.QRImage
		resp.IssuedAt = &art.IssuedAt
		resp.ExpiresAt = &art.ExpiresAt
	}
	ok(c, http.StatusOK, resp)
}

// ChannelStatus reports the shop's socket session state and channel record.
func (h *Handlers) ChannelStatus(c *gin.Context) {
	sid := shopID(c)
	state, selfID := h.sessions.Status(sid)
	resp := ChannelStatusResponse{State: string(state), ExternalID: selfID}

	ch, err := h.channels.Status(c.Request.Context(), sid, domain.ProviderSocketWA)
	if err == nil {
		resp.IsActive = ch.IsActive
		if resp.ExternalID == "" {
			resp.ExternalID = ch.ExternalID
		}
		resp.PairedAt = ch.CreatedAt.UTC().Format(time.RFC3339)
	} else if !errors.Is(err, repo.ErrNotFound) {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, resp)
}

// DisconnectChannel closes the shop's session. By default the pairing
// survives for a later resume; ?logout=true revokes it entirely (credentials
// wiped, channel deactivated). Idempotent either way.
func (h *Handlers) DisconnectChannel(c *gin.Context) {
	ctx := c.Request.Context()
	sid := shopID(c)

	var err error
	if logout, _ := strconv.ParseBool(c.DefaultQuery("logout", "false")); logout {
		err = h.sessions.Logout(ctx, sid)
	} else {
		err = h.sessions.Disconnect(ctx, sid)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
