// Package webhook parses and verifies inbound webhook deliveries from the
// HTTP providers, normalizing them into domain events for the conversation
// store.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifySHA256 checks a hex HMAC-SHA256 body signature in constant time.
// header accepts both the bare hex digest and the "sha256=<hex>" form.
func VerifySHA256(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	sig := strings.TrimPrefix(header, "sha256=")
	want, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), want)
}

// VerifyToken compares the subscription-handshake verify token in constant
// time.
func VerifyToken(want, got string) bool {
	if want == "" {
		return false
	}
	return hmac.Equal([]byte(want), []byte(got))
}
