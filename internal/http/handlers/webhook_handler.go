// Webhook HTTP handlers.
//
// This file exposes the provider-facing ingestion endpoints:
//   - GET  /webhooks/meta      (subscription verification handshake)
//   - POST /webhooks/meta      (Meta Graph event deliveries)
//   - POST /webhooks/generic   (flat-event provider deliveries)
//
// Status-code contract: 401 when the signature cannot be authenticated, 500
// when the server-side secret is missing, 200 for everything else — including
// malformed-but-signed bodies and routing misses. Any non-2xx answer to an
// authentic delivery puts it on the provider's retry schedule and amplifies
// load, so processing outcomes are never surfaced as errors.
//
// Channels are provisioned here too: the Meta handshake and the generic
// provider's subscription-state events are the first signal that a webhook
// subscription is live, so they create/activate the channel before any
// delivery routing happens.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/http/middleware"
	"github.com/shoptalk/go-gateway-backend/internal/observability"
	"github.com/shoptalk/go-gateway-backend/internal/services"
	"github.com/shoptalk/go-gateway-backend/internal/webhook"
)

// VerifyMeta answers the Meta subscription handshake: echo hub.challenge
// when hub.mode is "subscribe" and the verify token matches.
//
// The callback URL the merchant registers with Meta may embed shop_id and
// phone_number_id query parameters; Meta preserves them on the GET. When
// both are present, a successful handshake provisions the channel, so the
// deliveries that follow have somewhere to route.
func (h *Handlers) VerifyMeta(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode != "subscribe" || !webhook.VerifyToken(h.webhooks.MetaVerifyToken, token) {
		fail(c, http.StatusForbidden, ErrCodeVerificationFailed, "verification failed")
		return
	}

	if shopID, phoneID := c.Query("shop_id"), c.Query("phone_number_id"); shopID != "" && phoneID != "" {
		if _, err := h.channels.Activate(c.Request.Context(), shopID, domain.ProviderWebhookMeta, phoneID, ""); err != nil {
			middleware.LoggerFrom(c).Error().Err(err).
				Str("shop_id", shopID).
				Str("phone_number_id", phoneID).
				Msg("channel activation failed during handshake")
			fail(c, http.StatusInternalServerError, ErrCodeInternal, "channel activation failed")
			return
		}
	}

	c.String(http.StatusOK, challenge)
}

// ReceiveMeta ingests a Meta Graph webhook delivery.
func (h *Handlers) ReceiveMeta(c *gin.Context) {
	body, authentic := h.authenticate(c, domain.ProviderWebhookMeta, h.webhooks.MetaAppSecret, "X-Hub-Signature-256")
	if !authentic {
		return
	}

	deliveries, err := webhook.ParseMeta(body)
	if err != nil {
		// Signed but unparseable: ack it, or the provider redelivers the
		// same broken body forever.
		observability.WebhooksRejected.WithLabelValues(string(domain.ProviderWebhookMeta), "malformed").Inc()
		middleware.LoggerFrom(c).Warn().Err(err).Msg("malformed meta payload ignored")
		ok(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	for _, d := range deliveries {
		h.ingestDelivery(c, domain.ProviderWebhookMeta, d)
	}
	ok(c, http.StatusOK, gin.H{"status": "received"})
}

// ReceiveGeneric ingests a flat-event webhook delivery signed with a bare
// hex digest in X-Signature.
func (h *Handlers) ReceiveGeneric(c *gin.Context) {
	body, authentic := h.authenticate(c, domain.ProviderWebhookGeneric, h.webhooks.GenericSecret, "X-Signature")
	if !authentic {
		return
	}

	d, err := webhook.ParseGeneric(body)
	if err != nil {
		observability.WebhooksRejected.WithLabelValues(string(domain.ProviderWebhookGeneric), "malformed").Inc()
		middleware.LoggerFrom(c).Warn().Err(err).Msg("malformed generic payload ignored")
		ok(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}
	h.ingestDelivery(c, domain.ProviderWebhookGeneric, d)
	ok(c, http.StatusOK, gin.H{"status": "received"})
}

// authenticate reads and verifies a signed webhook body. It writes the
// response itself on failure: 500 when the secret was never configured (the
// operator's problem, not the provider's) and 401 when the signature does
// not check out.
func (h *Handlers) authenticate(c *gin.Context, provider domain.ProviderType, secret, header string) ([]byte, bool) {
	if secret == "" {
		middleware.LoggerFrom(c).Error().
			Str("provider", string(provider)).
			Msg("webhook secret not configured")
		fail(c, http.StatusInternalServerError, ErrCodeMisconfigured, "webhook secret not configured")
		return nil, false
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		observability.WebhooksRejected.WithLabelValues(string(provider), "invalid_signature").Inc()
		fail(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "unreadable body")
		return nil, false
	}
	if !webhook.VerifySHA256(secret, body, c.GetHeader(header)) {
		observability.WebhooksRejected.WithLabelValues(string(provider), "invalid_signature").Inc()
		fail(c, http.StatusUnauthorized, ErrCodeInvalidSignature, "signature verification failed")
		return nil, false
	}
	return body, true
}

// ingestDelivery routes one delivery's events into the conversation store.
// Subscription-state events are applied to the channel registry first: a
// brand-new channel cannot resolve yet, so they must run before the
// active-channel filter. Routing misses and persistence failures are logged
// but never surfaced to the provider; the delivery was authentic, so it is
// acked either way.
func (h *Handlers) ingestDelivery(c *gin.Context, provider domain.ProviderType, d webhook.Delivery) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)

	var routable []domain.InboundEvent
	for _, ev := range d.Events {
		if ev.Kind == domain.EventSubscription {
			h.applySubscription(c, provider, d.ChannelExternalID, ev)
			continue
		}
		routable = append(routable, ev)
	}
	if len(routable) == 0 {
		return
	}

	ch, err := h.channels.Resolve(ctx, provider, d.ChannelExternalID)
	if err != nil {
		if errors.Is(err, services.ErrUnknownChannel) {
			observability.WebhooksRejected.WithLabelValues(string(provider), "unknown_channel").Inc()
			lg.Warn().
				Str("provider", string(provider)).
				Str("channel_external_id", d.ChannelExternalID).
				Msg("webhook for unknown channel ignored")
			return
		}
		lg.Error().Err(err).Msg("channel resolution failed")
		return
	}

	for _, ev := range routable {
		ev.ShopID = ch.ShopID
		ev.ChannelID = ch.ID
		ev.ProviderType = provider
		if _, err := h.convs.Ingest(ctx, ev); err != nil {
			lg.Error().Err(err).
				Str("external_message_id", ev.ExternalMessageID).
				Msg("webhook event not persisted")
		}
	}
}

// applySubscription provisions or parks the channel a subscription-state
// event describes. The event must carry the shop id the provider was
// registered with; without it there is no tenant to attach the channel to.
func (h *Handlers) applySubscription(c *gin.Context, provider domain.ProviderType, externalID string, ev domain.InboundEvent) {
	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c).With().
		Str("provider", string(provider)).
		Str("channel_external_id", externalID).
		Logger()

	if ev.ShopID == "" {
		observability.WebhooksRejected.WithLabelValues(string(provider), "unknown_channel").Inc()
		lg.Warn().Msg("subscription event without shop id ignored")
		return
	}

	switch ev.Content {
	case "unsubscribed", "cancelled":
		if err := h.channels.Deactivate(ctx, ev.ShopID, provider); err != nil {
			lg.Error().Err(err).Msg("channel deactivation failed")
		}
	default:
		if _, err := h.channels.Activate(ctx, ev.ShopID, provider, externalID, ""); err != nil {
			lg.Error().Err(err).Msg("channel activation failed")
		}
	}
}
