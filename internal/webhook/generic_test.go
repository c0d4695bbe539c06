package webhook

import (
	"testing"
	"time"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

func TestParseGeneric_FullDelivery(t *testing.T) {
	body := []byte(`{
		"channel_id": "gc-42",
		"events": [
			{"type": "message", "message_id": "g1", "sender_id": "cust-1", "sender_name": "Nikos",
			 "avatar_url": "https://cdn/n.png", "text": "do you ship to Crete?", "timestamp": "2026-03-01T10:00:00Z"},
			{"type": "message", "message_id": "g2", "sender_id": "cust-1",
			 "media_url": "https://cdn/broken-item.jpg", "media_type": "image", "timestamp": "2026-03-01T10:01:00Z"},
			{"type": "postback", "message_id": "g3", "sender_id": "cust-1", "payload": "ORDER_STATUS", "timestamp": "2026-03-01T10:02:00Z"},
			{"type": "delivery_receipt", "message_id": "out-1", "sender_id": "cust-1", "timestamp": "2026-03-01T10:03:00Z"},
			{"type": "read_receipt", "message_id": "out-1", "sender_id": "cust-1", "timestamp": "2026-03-01T10:04:00Z"},
			{"type": "subscription", "sender_id": "cust-1", "timestamp": "2026-03-01T10:05:00Z"}
		]
	}`)

	d, err := ParseGeneric(body)
	if err != nil {
		t.Fatalf("ParseGeneric: %v", err)
	}
	if d.ChannelExternalID != "gc-42" {
		t.Fatalf("channel: %q", d.ChannelExternalID)
	}
	if len(d.Events) != 6 {
		t.Fatalf("expected 6 events, got %d", len(d.Events))
	}

	wantKinds := []domain.EventKind{
		domain.EventMessage,
		domain.EventMessage,
		domain.EventPostback,
		domain.EventDeliveryReceipt,
		domain.EventReadReceipt,
		domain.EventSubscription,
	}
	for i, k := range wantKinds {
		if d.Events[i].Kind != k {
			t.Fatalf("event %d: kind %s, want %s", i, d.Events[i].Kind, k)
		}
	}

	text := d.Events[0]
	if text.PeerDisplayName != "Nikos" || text.PeerAvatarURL != "https://cdn/n.png" {
		t.Fatalf("peer profile: %+v", text)
	}
	if !text.FromCustomer {
		t.Fatalf("default direction must be inbound")
	}
	if want := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC); !text.OccurredAt.Equal(want) {
		t.Fatalf("timestamp: got %v", text.OccurredAt)
	}

	media := d.Events[1]
	if media.MediaKind != domain.MediaImage || media.MediaURL != "https://cdn/broken-item.jpg" {
		t.Fatalf("media event: %+v", media)
	}

	// Postback without text falls back to the payload token.
	if d.Events[2].Content != "ORDER_STATUS" {
		t.Fatalf("postback content: %q", d.Events[2].Content)
	}
}

func TestParseGeneric_SubscriptionCarriesShopAndStatus(t *testing.T) {
	body := []byte(`{
		"channel_id": "page-42",
		"events": [{"type": "subscription", "shop_id": "s9", "status": "subscribed",
			"timestamp": "2026-03-01T09:00:00Z"}]
	}`)
	d, err := ParseGeneric(body)
	if err != nil {
		t.Fatalf("ParseGeneric: %v", err)
	}
	if len(d.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(d.Events))
	}
	ev := d.Events[0]
	if ev.Kind != domain.EventSubscription || ev.ShopID != "s9" || ev.Content != "subscribed" {
		t.Fatalf("subscription event not normalized: %+v", ev)
	}
}

func TestParseGeneric_OutboundEcho(t *testing.T) {
	body := []byte(`{
		"channel_id": "gc-1",
		"events": [{"type": "message", "message_id": "g9", "sender_id": "cust-1",
			"text": "sent from the console", "direction": "outbound", "timestamp": "2026-03-01T10:00:00Z"}]
	}`)
	d, err := ParseGeneric(body)
	if err != nil {
		t.Fatalf("ParseGeneric: %v", err)
	}
	if len(d.Events) != 1 || d.Events[0].FromCustomer {
		t.Fatalf("outbound echo mis-normalized: %+v", d.Events)
	}
}

func TestParseGeneric_SkipsUnknownAndEmptyMessages(t *testing.T) {
	body := []byte(`{
		"channel_id": "gc-1",
		"events": [
			{"type": "typing_indicator", "sender_id": "cust-1"},
			{"type": "message", "message_id": "g1", "sender_id": "cust-1", "text": ""}
		]
	}`)
	d, err := ParseGeneric(body)
	if err != nil {
		t.Fatalf("ParseGeneric: %v", err)
	}
	if len(d.Events) != 0 {
		t.Fatalf("expected both events skipped, got %+v", d.Events)
	}
}

func TestParseGeneric_MissingChannelID(t *testing.T) {
	if _, err := ParseGeneric([]byte(`{"events": []}`)); err == nil {
		t.Fatalf("expected error for missing channel_id")
	}
}

func TestParseGeneric_MalformedBody(t *testing.T) {
	if _, err := ParseGeneric([]byte(`[`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestGenericMediaKind(t *testing.T) {
	cases := map[string]domain.MediaKind{
		"image":    domain.MediaImage,
		"video":    domain.MediaVideo,
		"audio":    domain.MediaAudio,
		"document": domain.MediaDocument,
		"file":     domain.MediaDocument,
		"gif":      domain.MediaNone,
		"":         domain.MediaNone,
	}
	for in, want := range cases {
		if got := genericMediaKind(in); got != want {
			t.Fatalf("genericMediaKind(%q) = %s, want %s", in, got, want)
		}
	}
}
