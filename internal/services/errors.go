// Package services defines the business logic of the gateway: channel
// registry, conversation store, and the error taxonomy shared with the
// session and HTTP layers. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages or HTTP status codes is performed at
// the handler layer; retry behavior is decided where each error is produced:
// transient transport and persistence failures are recovered locally,
// authentication and signature failures never retry automatically.
package services

import "errors"

var (
	// ErrChannelNotConnected is returned when an outbound send is attempted
	// while the shop's session is not in the connected state.
	ErrChannelNotConnected = errors.New("channel not connected")

	// ErrAlreadyConnected is returned when pairing is requested for a shop
	// whose channel is already active.
	ErrAlreadyConnected = errors.New("channel already connected")

	// ErrPairingTimeout is returned when a pairing attempt does not resolve
	// within the configured window. The single-flight slot is freed so a
	// retry can start a fresh attempt.
	ErrPairingTimeout = errors.New("pairing timed out")

	// ErrLoggedOut indicates a terminal session end: credentials are gone
	// and the shop must re-pair.
	ErrLoggedOut = errors.New("session logged out")

	// ErrUnknownChannel indicates an event that could not be routed to an
	// active channel. Webhook handlers log and ignore it (HTTP 200) so the
	// remote provider's retry policy does not amplify load.
	ErrUnknownChannel = errors.New("unknown or inactive channel")

	// ErrInvalidSignature is returned when a webhook body fails HMAC
	// verification. Rejected at the edge; never reaches normalization.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrUnverifiedWebhook is returned when a subscription-verification
	// handshake carries the wrong verify token.
	ErrUnverifiedWebhook = errors.New("webhook verification failed")

	// ErrConversationNotFound indicates that the requested conversation does
	// not exist or is not accessible to the current shop.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrEmptyContent is returned when an outbound send carries no content.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrPersistenceFailure wraps a store write that kept failing after the
	// configured retries. The event is dead-lettered for manual replay.
	ErrPersistenceFailure = errors.New("persistence failure")
)
