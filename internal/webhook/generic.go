package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// Flat-event payload of the second webhook provider: one channel id and an
// event list, signed with a bare hex digest in X-Signature.
type genericPayload struct {
	ChannelID string         `json:"channel_id"`
	Events    []genericEvent `json:"events"`
}

type genericEvent struct {
	Type       string `json:"type"`
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	AvatarURL  string `json:"avatar_url"`
	Text       string `json:"text"`
	Payload    string `json:"payload"`
	MediaURL   string `json:"media_url"`
	MediaType  string `json:"media_type"`
	// Direction is "inbound" (default) or "outbound" for echoes of messages
	// the shop sent from the provider's own console.
	Direction string `json:"direction"`
	// Timestamp is RFC 3339.
	Timestamp string `json:"timestamp"`
	// ShopID and Status only appear on subscription events. The provider
	// echoes back the shop identifier it was registered with, which is what
	// lets the first subscription event provision the channel.
	ShopID string `json:"shop_id"`
	Status string `json:"status"`
}

// ParseGeneric normalizes a flat-event webhook body. Unknown event types are
// skipped; an empty channel id rejects the whole delivery since nothing in it
// can be routed.
func ParseGeneric(body []byte) (Delivery, error) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Delivery{}, fmt.Errorf("malformed payload: %w", err)
	}
	if p.ChannelID == "" {
		return Delivery{}, fmt.Errorf("missing channel_id")
	}

	d := Delivery{ChannelExternalID: p.ChannelID}
	for _, e := range p.Events {
		ev, ok := normalizeGenericEvent(e)
		if !ok {
			continue
		}
		d.Events = append(d.Events, ev)
	}
	return d, nil
}

func normalizeGenericEvent(e genericEvent) (domain.InboundEvent, bool) {
	raw, _ := json.Marshal(e)
	ev := domain.InboundEvent{
		PeerExternalID:    e.SenderID,
		PeerDisplayName:   e.SenderName,
		PeerAvatarURL:     e.AvatarURL,
		ExternalMessageID: e.MessageID,
		FromCustomer:      e.Direction != "outbound",
		OccurredAt:        rfc3339Time(e.Timestamp),
		RawPayload:        string(raw),
	}

	switch e.Type {
	case "message":
		ev.Kind = domain.EventMessage
		ev.Content = e.Text
		ev.MediaURL = e.MediaURL
		ev.MediaKind = genericMediaKind(e.MediaType)
	case "postback":
		ev.Kind = domain.EventPostback
		ev.Content = e.Text
		if ev.Content == "" {
			ev.Content = e.Payload
		}
	case "delivery_receipt":
		ev.Kind = domain.EventDeliveryReceipt
	case "read_receipt":
		ev.Kind = domain.EventReadReceipt
	case "subscription":
		ev.Kind = domain.EventSubscription
		ev.ShopID = e.ShopID
		ev.Content = e.Status
	default:
		return domain.InboundEvent{}, false
	}

	if ev.Kind == domain.EventMessage && ev.Content == "" && ev.MediaURL == "" {
		return domain.InboundEvent{}, false
	}
	return ev, true
}

func genericMediaKind(t string) domain.MediaKind {
	switch t {
	case "image":
		return domain.MediaImage
	case "video":
		return domain.MediaVideo
	case "audio":
		return domain.MediaAudio
	case "document", "file":
		return domain.MediaDocument
	default:
		return domain.MediaNone
	}
}

func rfc3339Time(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Now().UTC()
}
