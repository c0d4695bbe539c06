// Package handlers defines the HTTP-layer error codes used across all API
// endpoints.
//
// Codes are lowercase snake_case. Generic codes mirror common HTTP status
// semantics; domain-specific codes cover business outcomes a status code
// alone cannot convey (pairing lifecycle, send failures). Handlers pick the
// most specific matching code and pass it to `fail()`.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeAlreadyConnected   = "already_connected"
	ErrCodeNotConnected       = "not_connected"
	ErrCodePairingTimeout     = "pairing_timeout"
	ErrCodePairingFailed      = "pairing_failed"
	ErrCodeSendFailed         = "send_failed"
	ErrCodeListFailed         = "list_failed"
	ErrCodeInvalidSignature   = "invalid_signature"
	ErrCodeVerificationFailed = "verification_failed"
	ErrCodeMisconfigured      = "server_misconfigured"
	ErrCodeMethodNotAllowed   = "method_not_allowed"
)
