package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/services"
)

// ManagerOptions tunes the session manager.
type ManagerOptions struct {
	// PairingTimeout bounds one pairing attempt; zero selects
	// DefaultPairingTimeout.
	PairingTimeout time.Duration
	// Backoff is the reconnect policy; zero value selects DefaultBackoff.
	Backoff Backoff
}

// Manager owns one Session per shop. It is the HTTP layer's entry point into
// the socket provider: pairing, status, sends, logout, and boot-time resume
// all go through it.
type Manager struct {
	factory  TransportFactory
	creds    CredentialStore
	registry *services.ChannelRegistry
	store    *services.ConversationStore
	notify   services.Notifier
	backoff  Backoff
	log      zerolog.Logger

	pairingTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	pairing  map[string]*pairingCall
	closed   bool
}

// NewManager wires a Manager over its collaborators.
func NewManager(factory TransportFactory, creds CredentialStore, registry *services.ChannelRegistry, store *services.ConversationStore, notify services.Notifier, opts ManagerOptions, log zerolog.Logger) *Manager {
	if opts.PairingTimeout <= 0 {
		opts.PairingTimeout = DefaultPairingTimeout
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff
	}
	return &Manager{
		factory:        factory,
		creds:          creds,
		registry:       registry,
		store:          store,
		notify:         notify,
		backoff:        opts.Backoff,
		log:            log.With().Str("component", "session_manager").Logger(),
		pairingTimeout: opts.PairingTimeout,
		sessions:       make(map[string]*Session),
		pairing:        make(map[string]*pairingCall),
	}
}

// session returns the shop's actor, creating it on first use.
func (m *Manager) session(shopID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[shopID]
	if !ok {
		s = newSession(shopID, m.factory, m.creds, m.registry, m.store, m.notify, m.backoff, m.log)
		m.sessions[shopID] = s
	}
	return s
}

// RequestPairing starts (or joins) the shop's pairing attempt and returns
// the current artifact. Returns services.ErrAlreadyConnected for a live
// session and services.ErrPairingTimeout when no artifact arrived in time.
func (m *Manager) RequestPairing(ctx context.Context, shopID string) (*PairingArtifact, error) {
	return m.requestPairing(ctx, m.session(shopID))
}

// Status reports the shop's session state and provider account id.
func (m *Manager) Status(shopID string) (State, string) {
	m.mu.Lock()
	s, ok := m.sessions[shopID]
	m.mu.Unlock()
	if !ok {
		return StateIdle, ""
	}
	return s.State(), s.SelfID()
}

// SendText delivers a text message through the shop's live session.
func (m *Manager) SendText(ctx context.Context, shopID, peerID, text string) (*services.IngestResult, error) {
	if text == "" {
		return nil, services.ErrEmptyContent
	}
	m.mu.Lock()
	s, ok := m.sessions[shopID]
	m.mu.Unlock()
	if !ok {
		return nil, services.ErrChannelNotConnected
	}
	return s.SendText(ctx, peerID, text)
}

// Disconnect closes the shop's live session while keeping its credentials, so
// the pairing survives and can be resumed. Idempotent.
func (m *Manager) Disconnect(ctx context.Context, shopID string) error {
	m.mu.Lock()
	s, ok := m.sessions[shopID]
	m.mu.Unlock()
	if !ok {
		return m.registry.Deactivate(ctx, shopID, domain.ProviderSocketWA)
	}
	return s.Disconnect(ctx)
}

// Logout revokes the shop's pairing and deactivates the channel. Idempotent;
// a shop without a session only has its channel deactivated.
func (m *Manager) Logout(ctx context.Context, shopID string) error {
	m.mu.Lock()
	s, ok := m.sessions[shopID]
	m.mu.Unlock()
	if !ok {
		if err := m.creds.Wipe(shopID); err != nil {
			return err
		}
		return m.registry.Deactivate(ctx, shopID, domain.ProviderSocketWA)
	}
	return s.Logout(ctx)
}

// ResumeAll dials a session for every shop whose socket channel is active.
// Called once on boot so paired shops come back online without operator
// action. Failures are logged per shop and do not abort the others.
func (m *Manager) ResumeAll(ctx context.Context) error {
	channels, err := m.registry.ActiveChannels(ctx, domain.ProviderSocketWA)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		s := m.session(ch.ShopID)
		if err := s.Connect(ctx); err != nil {
			m.log.Error().Err(err).Str("shop_id", ch.ShopID).Msg("session resume failed")
			continue
		}
		m.log.Info().Str("shop_id", ch.ShopID).Msg("session resume started")
	}
	return nil
}

// Close tears down every session without revoking credentials.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
}
