// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the request-observability chain: RequestID, Logger, and
// Recovery. The intended order is RequestID first, then Logger, then
// Recovery, so that a panicking webhook delivery still produces an access
// log line carrying the correlation ID the provider can quote back to us.
// Logger also plants a request-scoped zerolog.Logger in the Gin context
// (key "logger"); handlers retrieve it with LoggerFrom and enrich it with
// domain fields such as conversation or channel IDs.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	// Webhook providers sometimes stuff sizeable payloads into query strings;
	// cap what reaches the log.
	maxQueryLogLength = 2048
)

// RequestID reuses the caller's X-Request-ID when present, otherwise mints a
// UUIDv4. The ID is echoed on the response and stored in the Gin context so
// every later log line and error body can carry it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// accessLogger builds the request-scoped logger with the fields known before
// the handler runs. The shop ID is included when tenant resolution has
// already happened upstream; for unauthenticated webhook routes it is empty.
func accessLogger(c *gin.Context) zerolog.Logger {
	rid, _ := c.Get(requestIDKey)
	sid, _ := c.Get("shopID")

	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}

	return log.With().
		Str("request_id", asString(rid)).
		Str("shop_id", asString(sid)).
		Str("method", c.Request.Method).
		Str("path", path).
		Str("remote_ip", c.ClientIP()).
		Str("user_agent", c.Request.UserAgent()).
		Str("referer", c.Request.Referer()).
		Str("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)).
		Int64("bytes_in", c.Request.ContentLength).
		Logger()
}

// Logger emits one structured access-log line per request and attaches the
// request-scoped logger to the context under "logger".
//
// The level follows the outcome: error when the handler recorded Gin errors
// or responded 5xx, warn for 4xx (the steady drizzle of bad webhook
// signatures lands here), info otherwise.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		l := accessLogger(c)
		c.Set("logger", &l)

		c.Next()

		status := c.Writer.Status()
		ev := l.With().
			Int("status", status).
			Dur("latency", time.Since(start)).
			Int("bytes_out", c.Writer.Size()).
			Logger()

		switch {
		case len(c.Errors) > 0:
			ev.Error().Str("errors", c.Errors.String()).Msg("request")
		case status >= 500:
			ev.Error().Msg("request")
		case status >= 400:
			ev.Warn().Msg("request")
		default:
			ev.Info().Msg("request")
		}
	}
}

// Recovery turns a handler panic into a JSON 500 that still carries the
// correlation ID, and logs the panic value with a stack trace. When the
// handler already wrote part of a response (streaming endpoints can), only
// the status is aborted; no JSON body is appended to a half-written reply.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid, _ := c.Get(requestIDKey)
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("request_id", asString(rid)).
					Msg("panic recovered")

				if c.Writer.Written() {
					c.AbortWithStatus(http.StatusInternalServerError)
					return
				}
				c.Header("Content-Type", "application/json")
				c.Header(requestIDHeader, asString(rid))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"request_id": asString(rid),
					"code":       "internal_error",
					"message":    "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger planted by Logger, or the
// process logger when none is attached. Never returns nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get("logger"); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// truncate caps s at max bytes, appending an ellipsis. Byte-level slicing is
// fine here; the result only feeds logs. max <= 0 disables the cap.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
