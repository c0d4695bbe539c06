package session

import (
	"context"
	"errors"
	"time"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/observability"
	"github.com/shoptalk/go-gateway-backend/internal/repo"
	"github.com/shoptalk/go-gateway-backend/internal/services"
)

// ErrPairingAborted is returned to pairing waiters when the attempt ended
// before an artifact was produced (dial failure or concurrent logout).
var ErrPairingAborted = errors.New("pairing aborted")

// DefaultPairingTimeout bounds how long one pairing attempt may take to
// produce its first artifact.
const DefaultPairingTimeout = 60 * time.Second

// pairingCall is one in-flight pairing attempt shared by every concurrent
// requester of the same shop.
type pairingCall struct {
	done     chan struct{}
	artifact *PairingArtifact
	err      error
}

// requestPairing implements single-flight pairing on the manager: the first
// caller for a shop starts the attempt, later callers latch onto it and all
// receive the same artifact or error. A still-fresh cached artifact is
// returned without touching the transport at all.
func (m *Manager) requestPairing(ctx context.Context, s *Session) (*PairingArtifact, error) {
	// The channel row is the authoritative signal here, not the in-process
	// state: it also answers for a shop whose boot-time resume has not
	// reattached a live session yet.
	ch, err := m.registry.Status(ctx, s.shopID, domain.ProviderSocketWA)
	if err != nil && err != repo.ErrNotFound {
		return nil, err
	}
	if err == nil && ch.IsActive {
		return nil, services.ErrAlreadyConnected
	}
	if s.State() == StateConnected {
		return nil, services.ErrAlreadyConnected
	}
	if art := s.Artifact(); art != nil {
		return art, nil
	}

	m.mu.Lock()
	call, inflight := m.pairing[s.shopID]
	if !inflight {
		call = &pairingCall{done: make(chan struct{})}
		m.pairing[s.shopID] = call
		go m.runPairing(s, call)
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.done:
	}
	if call.err != nil {
		return nil, call.err
	}
	if call.artifact == nil {
		// The scan won the race against artifact delivery.
		return nil, services.ErrAlreadyConnected
	}
	return call.artifact, nil
}

func (m *Manager) runPairing(s *Session, call *pairingCall) {
	defer func() {
		close(call.done)
		m.mu.Lock()
		delete(m.pairing, s.shopID)
		m.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.pairingTimeout)
	defer cancel()

	// Revive a terminal session so re-pairing after logout works.
	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.setStateLocked(StateIdle)
	}
	s.mu.Unlock()

	if err := s.Connect(ctx); err != nil {
		call.err = err
		observability.PairingAttempts.WithLabelValues("dial_failed").Inc()
		return
	}
	call.artifact, call.err = s.waitArtifact(ctx)
	switch {
	case call.err == nil && call.artifact != nil:
		observability.PairingAttempts.WithLabelValues("artifact_issued").Inc()
	case call.err == nil:
		observability.PairingAttempts.WithLabelValues("connected").Inc()
	case errors.Is(call.err, services.ErrPairingTimeout):
		observability.PairingAttempts.WithLabelValues("timeout").Inc()
	default:
		observability.PairingAttempts.WithLabelValues("aborted").Inc()
	}
}
