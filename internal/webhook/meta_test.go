package webhook

import (
	"fmt"
	"testing"
	"time"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

func metaBody(messages, statuses string) []byte {
	return []byte(fmt.Sprintf(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-1",
			"changes": [{
				"field": "messages",
				"value": {
					"metadata": {"phone_number_id": "pn-100"},
					"contacts": [{"wa_id": "306912345678", "profile": {"name": "Maria"}}],
					"messages": [%s],
					"statuses": [%s]
				}
			}]
		}]
	}`, messages, statuses))
}

func TestParseMeta_TextMessage(t *testing.T) {
	body := metaBody(`{
		"from": "306912345678",
		"id": "wamid.t1",
		"timestamp": "1772523600",
		"type": "text",
		"text": {"body": "is it in stock?"}
	}`, "")

	ds, err := ParseMeta(body)
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}
	if len(ds) != 1 || len(ds[0].Events) != 1 {
		t.Fatalf("expected 1 delivery with 1 event, got %+v", ds)
	}
	if ds[0].ChannelExternalID != "pn-100" {
		t.Fatalf("channel id: got %q", ds[0].ChannelExternalID)
	}

	ev := ds[0].Events[0]
	if ev.Kind != domain.EventMessage || !ev.FromCustomer {
		t.Fatalf("event: %+v", ev)
	}
	if ev.PeerExternalID != "306912345678" || ev.PeerDisplayName != "Maria" {
		t.Fatalf("peer: %q / %q", ev.PeerExternalID, ev.PeerDisplayName)
	}
	if ev.ExternalMessageID != "wamid.t1" || ev.Content != "is it in stock?" {
		t.Fatalf("payload: %q / %q", ev.ExternalMessageID, ev.Content)
	}
	if want := time.Unix(1772523600, 0).UTC(); !ev.OccurredAt.Equal(want) {
		t.Fatalf("timestamp: got %v, want %v", ev.OccurredAt, want)
	}
	if ev.RawPayload == "" {
		t.Fatalf("raw payload not preserved")
	}
}

func TestParseMeta_MessageVariants(t *testing.T) {
	cases := []struct {
		name        string
		message     string
		wantKind    domain.EventKind
		wantMedia   domain.MediaKind
		wantContent string
		wantURL     string
	}{
		{
			name:      "image with caption",
			message:   `{"from":"p","id":"m1","timestamp":"1772523600","type":"image","image":{"link":"https://cdn/x.jpg","caption":"front view"}}`,
			wantKind:  domain.EventMessage,
			wantMedia: domain.MediaImage, wantContent: "front view", wantURL: "https://cdn/x.jpg",
		},
		{
			name:      "document falls back to filename",
			message:   `{"from":"p","id":"m2","timestamp":"1772523600","type":"document","document":{"link":"https://cdn/a.pdf","filename":"invoice.pdf"}}`,
			wantKind:  domain.EventMessage,
			wantMedia: domain.MediaDocument, wantContent: "invoice.pdf", wantURL: "https://cdn/a.pdf",
		},
		{
			name:      "location renders coordinates",
			message:   `{"from":"p","id":"m3","timestamp":"1772523600","type":"location","location":{"latitude":37.98,"longitude":23.72,"name":"Shop"}}`,
			wantKind:  domain.EventMessage,
			wantMedia: domain.MediaLocation, wantContent: "Shop (37.980000, 23.720000)",
		},
		{
			name:     "button reply becomes postback",
			message:  `{"from":"p","id":"m4","timestamp":"1772523600","type":"button","button":{"text":"Track order","payload":"TRACK"}}`,
			wantKind: domain.EventPostback, wantContent: "Track order",
		},
		{
			name:     "interactive list reply becomes postback",
			message:  `{"from":"p","id":"m5","timestamp":"1772523600","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"sku-2","title":"Blue, size M"}}}`,
			wantKind: domain.EventPostback, wantContent: "Blue, size M",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds, err := ParseMeta(metaBody(tc.message, ""))
			if err != nil {
				t.Fatalf("ParseMeta: %v", err)
			}
			if len(ds) != 1 || len(ds[0].Events) != 1 {
				t.Fatalf("expected 1 event, got %+v", ds)
			}
			ev := ds[0].Events[0]
			if ev.Kind != tc.wantKind || ev.MediaKind != tc.wantMedia {
				t.Fatalf("kind/media: got %s/%s", ev.Kind, ev.MediaKind)
			}
			if ev.Content != tc.wantContent || ev.MediaURL != tc.wantURL {
				t.Fatalf("content/url: got %q/%q", ev.Content, ev.MediaURL)
			}
		})
	}
}

func TestParseMeta_SkipsUnknownAndEmpty(t *testing.T) {
	body := metaBody(`{
		"from": "p", "id": "m1", "timestamp": "1772523600", "type": "reaction"
	}, {
		"from": "p", "id": "m2", "timestamp": "1772523600", "type": "text", "text": {"body": ""}
	}`, "")

	ds, err := ParseMeta(body)
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("unknown and empty messages should be skipped, got %+v", ds)
	}
}

func TestParseMeta_Statuses(t *testing.T) {
	body := metaBody("", `{
		"id": "wamid.out1", "status": "delivered", "timestamp": "1772523600", "recipient_id": "306912345678"
	}, {
		"id": "wamid.out1", "status": "read", "timestamp": "1772523700", "recipient_id": "306912345678"
	}, {
		"id": "wamid.out2", "status": "sent", "timestamp": "1772523800", "recipient_id": "306912345678"
	}`)

	ds, err := ParseMeta(body)
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}
	if len(ds) != 1 || len(ds[0].Events) != 2 {
		t.Fatalf("expected delivered+read only, got %+v", ds)
	}
	if ds[0].Events[0].Kind != domain.EventDeliveryReceipt || ds[0].Events[1].Kind != domain.EventReadReceipt {
		t.Fatalf("kinds: %s / %s", ds[0].Events[0].Kind, ds[0].Events[1].Kind)
	}
	if ds[0].Events[0].ExternalMessageID != "wamid.out1" {
		t.Fatalf("receipt target: %q", ds[0].Events[0].ExternalMessageID)
	}
}

func TestParseMeta_ChannelFallsBackToEntryID(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{
			"id": "entry-9",
			"changes": [{
				"field": "messages",
				"value": {
					"messages": [{"from":"p","id":"m1","timestamp":"1772523600","type":"text","text":{"body":"hi"}}]
				}
			}]
		}]
	}`)
	ds, err := ParseMeta(body)
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}
	if len(ds) != 1 || ds[0].ChannelExternalID != "entry-9" {
		t.Fatalf("expected entry id fallback, got %+v", ds)
	}
}

func TestParseMeta_IgnoresOtherChangeFields(t *testing.T) {
	body := []byte(`{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e", "changes": [{"field": "account_update", "value": {}}]}]
	}`)
	ds, err := ParseMeta(body)
	if err != nil {
		t.Fatalf("ParseMeta: %v", err)
	}
	if len(ds) != 0 {
		t.Fatalf("non-message changes should be ignored, got %+v", ds)
	}
}

func TestParseMeta_MalformedBody(t *testing.T) {
	if _, err := ParseMeta([]byte(`{"entry": "nope"`)); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestUnixStringTime_FallsBackToNow(t *testing.T) {
	before := time.Now().UTC()
	got := unixStringTime("not-a-number")
	if got.Before(before.Add(-time.Second)) || got.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("malformed timestamp should fall back to now, got %v", got)
	}
}
