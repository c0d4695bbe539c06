package session

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/rs/zerolog"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/observability"
	"github.com/shoptalk/go-gateway-backend/internal/services"
)

// State is the lifecycle phase of a shop's socket session.
type State string

// Session states. LoggedOut is terminal; a new pairing starts a new session.
const (
	StateIdle         State = "IDLE"
	StatePairing      State = "PAIRING"
	StateConnected    State = "CONNECTED"
	StateReconnecting State = "RECONNECTING"
	StateLoggedOut    State = "LOGGED_OUT"
)

// PairingArtifact is the rendered QR payload handed to the dashboard.
type PairingArtifact struct {
	// QRImage is a data URI with a base64 PNG of the pairing code.
	QRImage   string    `json:"qr_image"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// artifactTTL is how long a rendered QR stays servable to concurrent pairing
// requests before a fresh one is demanded. Provider codes rotate faster than
// this; rotation replaces the cached artifact as codes arrive.
const artifactTTL = 30 * time.Second

// Session is one shop's socket-session actor. A single goroutine consumes
// the transport's event stream and is the only writer of the state machine;
// exported methods observe state under the mutex and hand work to the
// transport.
type Session struct {
	shopID   string
	factory  TransportFactory
	creds    CredentialStore
	registry *services.ChannelRegistry
	store    *services.ConversationStore
	notify   services.Notifier
	backoff  Backoff
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	selfID    string
	transport Transport
	artifact  *PairingArtifact
	// changed is closed and replaced on every state or artifact update so
	// waiters can poll without busy loops.
	changed chan struct{}
	// cancelRetry aborts an in-flight reconnect wait; set while the actor is
	// in RECONNECTING.
	cancelRetry context.CancelFunc

	runCtx    context.Context
	runCancel context.CancelFunc
}

func newSession(shopID string, factory TransportFactory, creds CredentialStore, registry *services.ChannelRegistry, store *services.ConversationStore, notify services.Notifier, backoff Backoff, log zerolog.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		shopID:    shopID,
		factory:   factory,
		creds:     creds,
		registry:  registry,
		store:     store,
		notify:    notify,
		backoff:   backoff,
		log:       log.With().Str("component", "session").Str("shop_id", shopID).Logger(),
		state:     StateIdle,
		changed:   make(chan struct{}),
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SelfID returns the provider account id, empty until first connected.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Artifact returns the cached pairing artifact when one is still fresh.
func (s *Session) Artifact() *PairingArtifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact == nil || time.Now().After(s.artifact.ExpiresAt) {
		return nil
	}
	a := *s.artifact
	return &a
}

// Connect dials the transport and starts the actor loop. Idempotent while a
// dial or live connection is in progress; a logged-out session is revived
// into a fresh pairing attempt.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StatePairing, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return nil
	}
	// A shop with stored credentials is resuming, not pairing.
	if s.creds.Exists(s.shopID) {
		s.setStateLocked(StateReconnecting)
	} else {
		s.setStateLocked(StatePairing)
	}
	s.mu.Unlock()

	return s.dial(ctx)
}

func (s *Session) dial(ctx context.Context) error {
	t, err := s.factory(s.shopID)
	if err != nil {
		s.fail(err)
		return err
	}
	events, err := t.Dial(ctx)
	if err != nil {
		t.Close()
		s.fail(err)
		return err
	}

	s.mu.Lock()
	if s.transport != nil {
		s.transport.Close()
	}
	s.transport = t
	s.mu.Unlock()

	go s.consume(events)
	return nil
}

// fail parks the actor back in IDLE after a dial error so a later pairing
// request can retry from scratch.
func (s *Session) fail(err error) {
	s.log.Error().Err(err).Msg("transport dial failed")
	s.mu.Lock()
	if s.state == StatePairing || s.state == StateReconnecting {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()
}

func (s *Session) consume(events <-chan Event) {
	for ev := range events {
		switch ev.Type {
		case EvtQRCode:
			s.onQRCode(ev)
		case EvtPaired:
			s.log.Info().Msg("pairing code accepted")
		case EvtConnected:
			s.onConnected(ev)
		case EvtMessage, EvtReceipt:
			s.onInbound(ev)
		case EvtDisconnected:
			s.onDisconnected(ev)
			return
		case EvtLoggedOut:
			s.onLoggedOut(ev)
			return
		}
	}
	// Stream closed without a terminal event: treat as a disconnect.
	s.onDisconnected(Event{Type: EvtDisconnected, At: time.Now().UTC()})
}

func (s *Session) onQRCode(ev Event) {
	png, err := qrcode.Encode(ev.QRCode, qrcode.Medium, 256)
	if err != nil {
		s.log.Error().Err(err).Msg("qr render failed")
		return
	}
	now := time.Now().UTC()
	art := &PairingArtifact{
		QRImage:   "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		IssuedAt:  now,
		ExpiresAt: now.Add(artifactTTL),
	}

	s.mu.Lock()
	s.artifact = art
	s.setStateLocked(StatePairing)
	s.mu.Unlock()

	s.log.Info().Msg("pairing artifact issued")
	if s.notify != nil {
		s.notify.Notify(s.shopID, domain.LifecycleEvent{
			Type:    domain.LifecyclePairingArtifact,
			ShopID:  s.shopID,
			At:      now,
			Payload: art,
		})
	}
}

func (s *Session) onConnected(ev Event) {
	s.mu.Lock()
	s.selfID = ev.SelfID
	s.artifact = nil
	s.setStateLocked(StateConnected)
	s.mu.Unlock()

	s.log.Info().Str("self_id", ev.SelfID).Msg("session connected")

	ctx, cancel := context.WithTimeout(s.runCtx, 10*time.Second)
	defer cancel()
	if _, err := s.registry.Activate(ctx, s.shopID, domain.ProviderSocketWA, ev.SelfID, s.creds.Ref(s.shopID)); err != nil {
		s.log.Error().Err(err).Msg("channel activation failed")
	}
	if s.notify != nil {
		s.notify.Notify(s.shopID, domain.LifecycleEvent{
			Type:   domain.LifecycleConnected,
			ShopID: s.shopID,
			At:     time.Now().UTC(),
			Payload: map[string]any{
				"external_id": ev.SelfID,
			},
		})
	}
}

func (s *Session) onInbound(ev Event) {
	if ev.Inbound == nil {
		return
	}
	in := *ev.Inbound
	in.ShopID = s.shopID
	in.ProviderType = domain.ProviderSocketWA

	ctx, cancel := context.WithTimeout(s.runCtx, 30*time.Second)
	defer cancel()
	if _, err := s.store.Ingest(ctx, in); err != nil {
		s.log.Error().Err(err).
			Str("external_message_id", in.ExternalMessageID).
			Msg("inbound event not persisted")
	}
}

func (s *Session) onDisconnected(ev Event) {
	s.mu.Lock()
	switch s.state {
	case StateLoggedOut, StateIdle:
		// Terminal or operator-parked; nothing to reconnect.
		s.mu.Unlock()
		return
	case StatePairing:
		// Pairing attempt ended (timeout or abort). No credentials yet, so
		// there is nothing to reconnect to.
		s.setStateLocked(StateIdle)
		t := s.transport
		s.transport = nil
		s.mu.Unlock()
		if t != nil {
			t.Close()
		}
		s.log.Info().Err(ev.Err).Msg("pairing attempt ended without scan")
		return
	}
	s.setStateLocked(StateReconnecting)
	// Release the dead transport before redialing; the whatsmeow client
	// holds sqlite handles that would otherwise pile up across retries.
	t := s.transport
	s.transport = nil
	retryCtx, cancel := context.WithCancel(s.runCtx)
	s.cancelRetry = cancel
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}

	s.log.Warn().Err(ev.Err).Msg("session disconnected, reconnecting")
	if s.notify != nil {
		s.notify.Notify(s.shopID, domain.LifecycleEvent{
			Type:   domain.LifecycleDisconnected,
			ShopID: s.shopID,
			At:     time.Now().UTC(),
			Payload: map[string]any{
				"transient": true,
			},
		})
	}
	go s.reconnect(retryCtx)
}

func (s *Session) reconnect(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		delay := s.backoff.Delay(attempt)
		s.log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("reconnect scheduled")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if s.State() != StateReconnecting {
			return
		}
		if err := s.dial(ctx); err == nil {
			return
		}
		s.mu.Lock()
		// dial's failure path parked us in IDLE; stay in the retry loop.
		if s.state == StateIdle {
			s.setStateLocked(StateReconnecting)
		}
		s.mu.Unlock()
	}
}

func (s *Session) onLoggedOut(ev Event) {
	s.mu.Lock()
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	s.setStateLocked(StateLoggedOut)
	s.artifact = nil
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	s.log.Info().Err(ev.Err).Msg("session logged out remotely")

	if err := s.creds.Wipe(s.shopID); err != nil {
		s.log.Error().Err(err).Msg("credential wipe failed")
	}
	ctx, cancel := context.WithTimeout(s.runCtx, 10*time.Second)
	defer cancel()
	if err := s.registry.Deactivate(ctx, s.shopID, domain.ProviderSocketWA); err != nil {
		s.log.Error().Err(err).Msg("channel deactivation failed")
	}
	if s.notify != nil {
		s.notify.Notify(s.shopID, domain.LifecycleEvent{
			Type:   domain.LifecycleDisconnected,
			ShopID: s.shopID,
			At:     time.Now().UTC(),
			Payload: map[string]any{
				"logged_out": true,
			},
		})
	}
}

// Disconnect closes the live socket without revoking the pairing. Credentials
// stay on disk so the next boot or pairing request resumes the session.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	t := s.transport
	s.transport = nil
	s.artifact = nil
	s.setStateLocked(StateIdle)
	s.mu.Unlock()

	if t != nil {
		t.Close()
	}
	if err := s.registry.Deactivate(ctx, s.shopID, domain.ProviderSocketWA); err != nil {
		return err
	}
	s.log.Info().Msg("session disconnected")
	return nil
}

// Logout revokes the pairing from our side: credentials are wiped, the
// channel deactivated, and any pending reconnect aborted. Safe to call in
// every state.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	t := s.transport
	s.transport = nil
	s.artifact = nil
	s.setStateLocked(StateLoggedOut)
	s.mu.Unlock()

	if t != nil {
		if err := t.Logout(ctx); err != nil {
			s.log.Warn().Err(err).Msg("provider logout failed, wiping locally")
		}
		t.Close()
	}
	if err := s.creds.Wipe(s.shopID); err != nil {
		return err
	}
	if err := s.registry.Deactivate(ctx, s.shopID, domain.ProviderSocketWA); err != nil {
		return err
	}
	s.log.Info().Msg("session logged out")
	return nil
}

// SendText delivers a text to a peer over the live socket, then records the
// outbound message so receipts can be matched later. Returns
// services.ErrChannelNotConnected unless the session is CONNECTED.
func (s *Session) SendText(ctx context.Context, peerID, text string) (*services.IngestResult, error) {
	s.mu.Lock()
	t := s.transport
	connected := s.state == StateConnected
	s.mu.Unlock()
	if !connected || t == nil {
		return nil, services.ErrChannelNotConnected
	}

	extID, err := t.SendText(ctx, peerID, text)
	if err != nil {
		return nil, err
	}
	return s.store.RecordOutbound(ctx, s.shopID, domain.ProviderSocketWA, peerID, extID, text)
}

// waitArtifact blocks until a pairing artifact is available, the session
// connects (returns nil artifact), or ctx expires.
func (s *Session) waitArtifact(ctx context.Context) (*PairingArtifact, error) {
	for {
		s.mu.Lock()
		switch {
		case s.state == StateConnected:
			s.mu.Unlock()
			return nil, nil
		case s.artifact != nil && time.Now().Before(s.artifact.ExpiresAt):
			a := *s.artifact
			s.mu.Unlock()
			return &a, nil
		case s.state == StateLoggedOut || s.state == StateIdle:
			s.mu.Unlock()
			return nil, ErrPairingAborted
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, services.ErrPairingTimeout
		case <-ch:
		}
	}
}

// close stops the actor for good. Used on manager shutdown.
func (s *Session) close() {
	s.mu.Lock()
	if s.cancelRetry != nil {
		s.cancelRetry()
		s.cancelRetry = nil
	}
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		t.Close()
	}
	s.runCancel()
}

// setStateLocked updates state and wakes waiters. Caller holds s.mu.
func (s *Session) setStateLocked(st State) {
	if s.state != st {
		s.log.Debug().Str("from", string(s.state)).Str("to", string(st)).Msg("state transition")
		if st == StateConnected {
			observability.SessionsConnected.Inc()
		} else if s.state == StateConnected {
			observability.SessionsConnected.Dec()
		}
	}
	s.state = st
	close(s.changed)
	s.changed = make(chan struct{})
}
