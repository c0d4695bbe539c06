package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// Delivery groups the events of one webhook POST by the channel they target.
// The HTTP layer resolves ChannelExternalID against the registry and fills
// the shop/channel fields before ingestion.
type Delivery struct {
	ChannelExternalID string
	Events            []domain.InboundEvent
}

// Meta Graph-style payload shapes. Only the fields the gateway consumes are
// declared; the raw JSON is preserved per message for audit.
type metaPayload struct {
	Object string      `json:"object"`
	Entry  []metaEntry `json:"entry"`
}

type metaEntry struct {
	ID      string       `json:"id"`
	Changes []metaChange `json:"changes"`
}

type metaChange struct {
	Field string    `json:"field"`
	Value metaValue `json:"value"`
}

type metaValue struct {
	Metadata struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []metaMessage `json:"messages"`
	Statuses []metaStatus  `json:"statuses"`
}

type metaMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *metaMedia `json:"image"`
	Video    *metaMedia `json:"video"`
	Audio    *metaMedia `json:"audio"`
	Document *metaMedia `json:"document"`
	Sticker  *metaMedia `json:"sticker"`
	Location *struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Name      string  `json:"name"`
	} `json:"location"`
	Button *struct {
		Text    string `json:"text"`
		Payload string `json:"payload"`
	} `json:"button"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type metaMedia struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

type metaStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}

// ParseMeta normalizes a Meta Graph webhook body into per-channel event
// batches. Unknown message types and statuses are skipped, not rejected: the
// provider versions its payloads faster than the gateway does.
func ParseMeta(body []byte) ([]Delivery, error) {
	var p metaPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}

	var out []Delivery
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}
			chID := change.Value.Metadata.PhoneNumberID
			if chID == "" {
				chID = entry.ID
			}
			d := Delivery{ChannelExternalID: chID}

			names := map[string]string{}
			for _, c := range change.Value.Contacts {
				names[c.WaID] = c.Profile.Name
			}

			for _, m := range change.Value.Messages {
				ev, ok := normalizeMetaMessage(m, names)
				if !ok {
					continue
				}
				d.Events = append(d.Events, ev)
			}
			for _, st := range change.Value.Statuses {
				ev, ok := normalizeMetaStatus(st)
				if !ok {
					continue
				}
				d.Events = append(d.Events, ev)
			}
			if len(d.Events) > 0 {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

func normalizeMetaMessage(m metaMessage, names map[string]string) (domain.InboundEvent, bool) {
	raw, _ := json.Marshal(m)
	ev := domain.InboundEvent{
		PeerExternalID:    m.From,
		PeerDisplayName:   names[m.From],
		Kind:              domain.EventMessage,
		ExternalMessageID: m.ID,
		FromCustomer:      true,
		OccurredAt:        unixStringTime(m.Timestamp),
		RawPayload:        string(raw),
	}

	switch m.Type {
	case "text":
		if m.Text != nil {
			ev.Content = m.Text.Body
		}
	case "image":
		fillMedia(&ev, m.Image, domain.MediaImage)
	case "video":
		fillMedia(&ev, m.Video, domain.MediaVideo)
	case "audio":
		fillMedia(&ev, m.Audio, domain.MediaAudio)
	case "document":
		fillMedia(&ev, m.Document, domain.MediaDocument)
		if ev.Content == "" && m.Document != nil {
			ev.Content = m.Document.Filename
		}
	case "sticker":
		fillMedia(&ev, m.Sticker, domain.MediaSticker)
	case "location":
		if m.Location != nil {
			ev.MediaKind = domain.MediaLocation
			ev.Content = fmt.Sprintf("%s (%f, %f)", m.Location.Name, m.Location.Latitude, m.Location.Longitude)
		}
	case "button":
		ev.Kind = domain.EventPostback
		if m.Button != nil {
			ev.Content = m.Button.Text
			if ev.Content == "" {
				ev.Content = m.Button.Payload
			}
		}
	case "interactive":
		ev.Kind = domain.EventPostback
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				ev.Content = m.Interactive.ButtonReply.Title
			} else if m.Interactive.ListReply != nil {
				ev.Content = m.Interactive.ListReply.Title
			}
		}
	default:
		return domain.InboundEvent{}, false
	}

	if ev.Content == "" && ev.MediaURL == "" && ev.MediaKind == domain.MediaNone {
		return domain.InboundEvent{}, false
	}
	return ev, true
}

func fillMedia(ev *domain.InboundEvent, m *metaMedia, kind domain.MediaKind) {
	if m == nil {
		return
	}
	ev.MediaKind = kind
	ev.MediaURL = m.Link
	ev.Content = m.Caption
}

func normalizeMetaStatus(st metaStatus) (domain.InboundEvent, bool) {
	var kind domain.EventKind
	switch st.Status {
	case "delivered":
		kind = domain.EventDeliveryReceipt
	case "read":
		kind = domain.EventReadReceipt
	default:
		// "sent" and "failed" statuses are not surfaced in the inbox.
		return domain.InboundEvent{}, false
	}
	raw, _ := json.Marshal(st)
	return domain.InboundEvent{
		PeerExternalID:    st.RecipientID,
		Kind:              kind,
		ExternalMessageID: st.ID,
		OccurredAt:        unixStringTime(st.Timestamp),
		RawPayload:        string(raw),
	}, true
}

// unixStringTime parses the provider's unix-seconds string timestamps,
// falling back to now for absent or malformed values.
func unixStringTime(s string) time.Time {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return time.Now().UTC()
}
