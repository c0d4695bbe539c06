package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	// Postgres credential containers go through the pgx stdlib driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// waTransport drives one shop's WhatsApp socket via whatsmeow. The library's
// own auto-reconnect is disabled: supervision, backoff, and re-dial belong to
// the owning session actor, which expects exactly one terminal event per
// transport.
type waTransport struct {
	shopID string
	creds  CredentialStore
	log    zerolog.Logger

	client    *whatsmeow.Client
	container *sqlstore.Container

	out       chan Event
	closeOnce sync.Once
}

// NewWhatsAppFactory returns a TransportFactory producing whatsmeow-backed
// transports with credentials resolved through creds.
func NewWhatsAppFactory(creds CredentialStore, log zerolog.Logger) TransportFactory {
	return func(shopID string) (Transport, error) {
		return &waTransport{
			shopID: shopID,
			creds:  creds,
			log:    log.With().Str("component", "wa_transport").Str("shop_id", shopID).Logger(),
			out:    make(chan Event, 32),
		}, nil
	}
}

func (t *waTransport) Dial(ctx context.Context) (<-chan Event, error) {
	driver, dsn := t.creds.DSN(t.shopID)
	container, err := sqlstore.New(ctx, driver, dsn, nil)
	if err != nil {
		return nil, err
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, err
	}
	t.container = container

	client := whatsmeow.NewClient(device, nil)
	client.EnableAutoReconnect = false
	client.AddEventHandler(t.handleEvent)
	t.client = client

	if client.Store.ID == nil {
		// Fresh pairing: the QR channel must be armed before connecting.
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			container.Close()
			return nil, err
		}
		if err := client.Connect(); err != nil {
			container.Close()
			return nil, err
		}
		go t.pumpQR(qrChan)
		return t.out, nil
	}

	if err := client.Connect(); err != nil {
		container.Close()
		return nil, err
	}
	return t.out, nil
}

func (t *waTransport) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			t.emit(Event{Type: EvtQRCode, QRCode: item.Code, At: time.Now().UTC()})
		case "success":
			t.emit(Event{Type: EvtPaired, At: time.Now().UTC()})
		case "timeout":
			t.log.Info().Msg("pairing window expired")
			t.terminate(Event{Type: EvtDisconnected, At: time.Now().UTC()})
			return
		default:
			t.terminate(Event{Type: EvtDisconnected, Err: item.Error, At: time.Now().UTC()})
			return
		}
	}
}

func (t *waTransport) handleEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		var selfID string
		if t.client.Store.ID != nil {
			selfID = t.client.Store.ID.User
		}
		t.emit(Event{Type: EvtConnected, SelfID: selfID, At: time.Now().UTC()})
	case *events.Message:
		t.handleMessage(evt)
	case *events.Receipt:
		t.handleReceipt(evt)
	case *events.Disconnected:
		t.terminate(Event{Type: EvtDisconnected, At: time.Now().UTC()})
	case *events.StreamReplaced:
		t.terminate(Event{Type: EvtDisconnected, Err: errStreamReplaced, At: time.Now().UTC()})
	case *events.LoggedOut:
		t.terminate(Event{Type: EvtLoggedOut, At: time.Now().UTC()})
	}
}

var (
	errStreamReplaced = errors.New("stream replaced by another device")
	errNotDialed      = errors.New("transport not dialed")
)

func (t *waTransport) handleMessage(evt *events.Message) {
	// Group and broadcast chats are out of scope; the inbox is 1:1 only.
	if evt.Info.Chat.Server != types.DefaultUserServer {
		return
	}

	content, mediaKind, mediaURL := extractContent(evt.Message)
	if content == "" && mediaURL == "" {
		// Protocol messages (reactions, revokes, polls) carry no inbox text.
		return
	}

	raw, _ := json.Marshal(map[string]any{
		"id":        evt.Info.ID,
		"chat":      evt.Info.Chat.String(),
		"sender":    evt.Info.Sender.String(),
		"push_name": evt.Info.PushName,
		"timestamp": evt.Info.Timestamp,
	})

	in := &domain.InboundEvent{
		PeerExternalID:    evt.Info.Chat.User,
		PeerDisplayName:   evt.Info.PushName,
		Kind:              domain.EventMessage,
		ExternalMessageID: evt.Info.ID,
		Content:           content,
		MediaKind:         mediaKind,
		MediaURL:          mediaURL,
		FromCustomer:      !evt.Info.IsFromMe,
		OccurredAt:        evt.Info.Timestamp.UTC(),
		RawPayload:        string(raw),
	}
	if evt.Info.IsFromMe {
		// Echoes carry the push name of the shop account, not the peer.
		in.PeerDisplayName = ""
	}
	t.emit(Event{Type: EvtMessage, Inbound: in, At: time.Now().UTC()})
}

func (t *waTransport) handleReceipt(evt *events.Receipt) {
	var kind domain.EventKind
	switch evt.Type {
	case types.ReceiptTypeDelivered:
		kind = domain.EventDeliveryReceipt
	case types.ReceiptTypeRead:
		kind = domain.EventReadReceipt
	default:
		return
	}
	for _, id := range evt.MessageIDs {
		t.emit(Event{Type: EvtReceipt, Inbound: &domain.InboundEvent{
			PeerExternalID:    evt.Chat.User,
			Kind:              kind,
			ExternalMessageID: id,
			OccurredAt:        evt.Timestamp.UTC(),
		}, At: time.Now().UTC()})
	}
}

// extractContent pulls inbox-renderable content out of the message union.
func extractContent(msg *waE2E.Message) (content string, kind domain.MediaKind, url string) {
	if msg == nil {
		return "", "", ""
	}
	if text := msg.GetConversation(); text != "" {
		return text, "", ""
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText(), "", ""
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption(), domain.MediaImage, img.GetURL()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption(), domain.MediaVideo, vid.GetURL()
	}
	if aud := msg.GetAudioMessage(); aud != nil {
		return "", domain.MediaAudio, aud.GetURL()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetFileName(), domain.MediaDocument, doc.GetURL()
	}
	return "", "", ""
}

func (t *waTransport) emit(ev Event) {
	select {
	case t.out <- ev:
	default:
		// The actor fell behind; dropping lifecycle noise is preferable to
		// blocking the socket read loop. Messages are recovered on the next
		// history sync.
		t.log.Warn().Str("type", string(ev.Type)).Msg("transport event dropped")
	}
}

// terminate emits the terminal event and closes the stream exactly once.
func (t *waTransport) terminate(ev Event) {
	t.closeOnce.Do(func() {
		t.out <- ev
		close(t.out)
	})
}

func (t *waTransport) SendText(ctx context.Context, peerID, text string) (string, error) {
	if t.client == nil {
		return "", errNotDialed
	}
	jid := types.NewJID(peerID, types.DefaultUserServer)
	resp, err := t.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return string(resp.ID), nil
}

func (t *waTransport) Logout(ctx context.Context) error {
	if t.client == nil {
		return nil
	}
	return t.client.Logout(ctx)
}

func (t *waTransport) Close() error {
	if t.client != nil {
		t.client.Disconnect()
	}
	if t.container != nil {
		t.container.Close()
	}
	t.closeOnce.Do(func() { close(t.out) })
	return nil
}
