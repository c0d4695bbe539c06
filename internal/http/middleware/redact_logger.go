// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, an access logger that scrubs
// customer identifiers before anything reaches the log stream. Phone numbers
// double as customer handles on messaging channels, so a plain access log of
// webhook traffic would otherwise accumulate PII. Bodies are never logged;
// query strings and header values are pattern-scrubbed, and credential and
// signature headers are masked outright.
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Scrub patterns, applied in declaration order. UUIDs go first: the loose
// phone pattern would otherwise chew on a UUID's digit runs.
var (
	redactUUID  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`)
	redactEmail = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	// Digits-only so hex from IDs never matches. Covers "+30 210 555 1212",
	// "(212) 555-1212", "555-123-4567".
	redactPhone = regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`)
)

func scrub(s string) string {
	if s == "" {
		return s
	}
	s = redactUUID.ReplaceAllString(s, "[REDACTED:id]")
	s = redactEmail.ReplaceAllString(s, "[REDACTED:email]")
	return redactPhone.ReplaceAllString(s, "[REDACTED:phone]")
}

// RedactOptions configures RedactingLogger.
//
// MaskHeaders lists extra header names to replace wholesale with
// "[REDACTED]". Matching is case-insensitive and merges with the built-in
// set: Authorization, Cookie, Set-Cookie, and the webhook signature headers
// X-Hub-Signature-256 and X-Signature.
type RedactOptions struct {
	MaskHeaders []string
}

// RedactingLogger returns a Gin middleware emitting one scrubbed JSON access
// line per request: method, route path, redacted query, status, size,
// latency, and redacted headers. Level follows status (warn for 4xx, error
// for 5xx). The request_id field prefers the response header, set by
// RequestID upstream, and falls back to the inbound header.
//
// Scrubbing lowers, not removes, the chance of PII in logs; keep identifiers
// out of query strings where the API design allows.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization":       {},
		"cookie":              {},
		"set-cookie":          {},
		"x-hub-signature-256": {},
		"x-signature":         {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		safeQuery := scrub(c.Request.URL.RawQuery)

		safeHeaders := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				safeHeaders[k] = "[REDACTED]"
				continue
			}
			safeHeaders[k] = scrub(strings.Join(vv, ", "))
		}

		c.Next()

		status := c.Writer.Status()

		reqID := c.Writer.Header().Get("X-Request-ID")
		if reqID == "" {
			reqID = c.GetHeader("X-Request-ID")
		}

		ev := log.Info()
		switch {
		case status >= 500:
			ev = log.Error()
		case status >= 400:
			ev = log.Warn()
		}

		ev.
			Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", safeQuery).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", safeHeaders).
			Msg("http_request")
	}
}
