package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
	"github.com/shoptalk/go-gateway-backend/internal/services"
	"github.com/shoptalk/go-gateway-backend/internal/session"
)

//
// Shared test fixture
//

// fakeSessions is a scripted SessionService. SendText records a real
// outbound message through the conversation store so the idempotency
// receipt path has a row to replay.
type fakeSessions struct {
	mu         sync.Mutex
	artifact   *session.PairingArtifact
	pairingErr error
	state      session.State
	selfID     string
	sendErr     error
	sends       int
	disconnects int
	logouts     int
	store       *services.ConversationStore
}

func (f *fakeSessions) RequestPairing(context.Context, string) (*session.PairingArtifact, error) {
	return f.artifact, f.pairingErr
}

func (f *fakeSessions) Status(string) (session.State, string) { return f.state, f.selfID }

func (f *fakeSessions) SendText(ctx context.Context, shopID, peerID, text string) (*services.IngestResult, error) {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return nil, err
	}
	f.sends++
	n := f.sends
	f.mu.Unlock()
	return f.store.RecordOutbound(ctx, shopID, domain.ProviderSocketWA, peerID, fmt.Sprintf("wamid.out-%d", n), text)
}

func (f *fakeSessions) Disconnect(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeSessions) Logout(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

func (f *fakeSessions) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sends
}

type fixture struct {
	db       *gorm.DB
	router   *gin.Engine
	sessions *fakeSessions
	store    *services.ConversationStore
	registry *services.ChannelRegistry
}

func newFixture(t *testing.T, webhooks WebhookConfig) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	store := services.NewConversationStore(db, nil, nil, services.StoreOptions{}, zerolog.Nop())
	registry := services.NewChannelRegistry(db, zerolog.Nop())
	sessions := &fakeSessions{state: session.StateIdle, store: store}

	h := New(db, sessions, store, registry, nil, webhooks, time.Hour)

	r := gin.New()
	r.GET("/webhooks/meta", h.VerifyMeta)
	r.POST("/webhooks/meta", h.ReceiveMeta)
	r.POST("/webhooks/generic", h.ReceiveGeneric)
	r.POST("/channels/whatsapp/pairing", h.RequestPairing)
	r.GET("/channels/whatsapp", h.ChannelStatus)
	r.DELETE("/channels/whatsapp", h.DisconnectChannel)
	r.GET("/conversations", h.ListConversations)
	r.GET("/conversations/:id/messages", h.ListMessages)
	r.POST("/conversations/:id/messages", h.SendMessage)
	r.POST("/conversations/:id/read", h.MarkRead)

	return &fixture{db: db, router: r, sessions: sessions, store: store, registry: registry}
}

func bytesReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}

func (f *fixture) do(t *testing.T, method, path, shop string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytesReader(body))
	if shop != "" {
		req.Header.Set("X-Shop-ID", shop)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// seedConversation ingests one customer message and returns the conversation.
func (f *fixture) seedConversation(t *testing.T, shop, handle string) *domain.Conversation {
	t.Helper()
	res, err := f.store.Ingest(context.Background(), domain.InboundEvent{
		ShopID:            shop,
		ProviderType:      domain.ProviderSocketWA,
		PeerExternalID:    handle,
		PeerDisplayName:   "Maria",
		Kind:              domain.EventMessage,
		ExternalMessageID: "wamid.seed-" + handle,
		Content:           "is it in stock?",
		FromCustomer:      true,
		OccurredAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return res.Conversation
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return v
}

//
// Channel endpoints
//

func TestRequestPairing_ReturnsArtifact(t *testing.T) {
	f := newFixture(t, WebhookConfig{})
	now := time.Now().UTC()
	f.sessions.artifact = &session.PairingArtifact{
		QRImage:   "data:image/png;base64,abc",
		IssuedAt:  now,
		ExpiresAt: now.Add(30 * time.Second),
	}
	f.sessions.state = session.StatePairing

	w := f.do(t, http.MethodPost, "/channels/whatsapp/pairing", "s1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	resp := decode[PairingResponse](t, w)
	if resp.State != string(session.StatePairing) || resp.QRImage != "data:image/png;base64,abc" {
		t.Fatalf("response: %+v", resp)
	}
	if resp.IssuedAt == nil || resp.ExpiresAt == nil {
		t.Fatalf("artifact window missing: %+v", resp)
	}
}

func TestRequestPairing_ErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"already connected", services.ErrAlreadyConnected, http.StatusConflict, ErrCodeAlreadyConnected},
		{"timeout", services.ErrPairingTimeout, http.StatusGatewayTimeout, ErrCodePairingTimeout},
		{"aborted", session.ErrPairingAborted, http.StatusBadGateway, ErrCodePairingFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, WebhookConfig{})
			f.sessions.pairingErr = tc.err

			w := f.do(t, http.MethodPost, "/channels/whatsapp/pairing", "s1", nil, nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status %d, want %d", w.Code, tc.wantStatus)
			}
			resp := decode[ErrorResponse](t, w)
			if resp.Code != tc.wantCode {
				t.Fatalf("code %q, want %q", resp.Code, tc.wantCode)
			}
		})
	}
}

func TestChannelStatus(t *testing.T) {
	f := newFixture(t, WebhookConfig{})

	// No session, no channel row.
	w := f.do(t, http.MethodGet, "/channels/whatsapp", "s1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	resp := decode[ChannelStatusResponse](t, w)
	if resp.State != string(session.StateIdle) || resp.IsActive {
		t.Fatalf("fresh shop: %+v", resp)
	}

	// Paired channel on record while the process knows no live session:
	// the registry row fills the external id.
	if _, err := f.registry.Activate(context.Background(), "s1", domain.ProviderSocketWA, "306900000001", "ref"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	w = f.do(t, http.MethodGet, "/channels/whatsapp", "s1", nil, nil)
	resp = decode[ChannelStatusResponse](t, w)
	if !resp.IsActive || resp.ExternalID != "306900000001" || resp.PairedAt == "" {
		t.Fatalf("registered shop: %+v", resp)
	}
}

func TestDisconnectChannel(t *testing.T) {
	f := newFixture(t, WebhookConfig{})

	// Default keeps the pairing.
	w := f.do(t, http.MethodDelete, "/channels/whatsapp", "s1", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d", w.Code)
	}
	if f.sessions.disconnects != 1 || f.sessions.logouts != 0 {
		t.Fatalf("disconnects=%d logouts=%d", f.sessions.disconnects, f.sessions.logouts)
	}

	// ?logout=true revokes it.
	w = f.do(t, http.MethodDelete, "/channels/whatsapp?logout=true", "s1", nil, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status %d", w.Code)
	}
	if f.sessions.logouts != 1 {
		t.Fatalf("logout calls: %d", f.sessions.logouts)
	}
}
