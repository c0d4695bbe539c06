// Package session manages the socket-provider session lifecycle: one actor
// per shop driving pairing, connection supervision with backoff, and outbound
// sends over a pluggable transport.
package session

import (
	"context"
	"time"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
)

// EventType labels events emitted by a Transport.
type EventType string

// Transport event types.
const (
	// EvtQRCode carries a fresh pairing code to render for the shop owner.
	EvtQRCode EventType = "qr_code"
	// EvtPaired reports that a pairing code was scanned and accepted.
	EvtPaired EventType = "paired"
	// EvtConnected reports a live authenticated socket.
	EvtConnected EventType = "connected"
	// EvtDisconnected reports a dropped socket; credentials remain valid.
	EvtDisconnected EventType = "disconnected"
	// EvtLoggedOut reports a remote credential revocation. Terminal.
	EvtLoggedOut EventType = "logged_out"
	// EvtMessage carries a normalized inbound message or echo.
	EvtMessage EventType = "message"
	// EvtReceipt carries a delivery or read receipt.
	EvtReceipt EventType = "receipt"
)

// Event is one notification from the transport to the owning session actor.
// Inbound is set for EvtMessage and EvtReceipt; its ShopID/ChannelID fields
// are blank and filled in by the session before ingestion.
type Event struct {
	Type EventType

	// QRCode is the raw pairing payload for EvtQRCode.
	QRCode string
	// SelfID is the provider-assigned account id, set on EvtPaired and
	// EvtConnected.
	SelfID string

	Inbound *domain.InboundEvent

	// Err is the cause of an EvtDisconnected or EvtLoggedOut, when known.
	Err error
	At  time.Time
}

// Transport is one shop's connection to the socket provider. Implementations
// are single-use: a transport that disconnected is discarded and a new one
// dialed for the next attempt.
type Transport interface {
	// Dial opens the socket and returns the event stream. When no pairing
	// credentials exist, the stream starts with EvtQRCode events; otherwise
	// the transport resumes the stored session. The channel is closed when
	// the transport shuts down.
	Dial(ctx context.Context) (<-chan Event, error)

	// SendText delivers a text message to a peer and returns the
	// provider-assigned message id.
	SendText(ctx context.Context, peerID, text string) (string, error)

	// Logout revokes the pairing with the remote provider.
	Logout(ctx context.Context) error

	// Close tears down the socket without revoking credentials.
	Close() error
}

// TransportFactory builds a fresh transport for a shop. Called for the
// initial dial and again for every reconnect attempt.
type TransportFactory func(shopID string) (Transport, error)
