// Real-time event stream handler.
//
// GET /ws/events upgrades to a WebSocket and pushes the shop's lifecycle
// events (pairing artifacts, connection changes, new messages) as JSON
// frames. One subscription per connection; a reader that stops draining is
// evicted by the broadcaster and the socket closed with a going-away status.
package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/shoptalk/go-gateway-backend/internal/domain"
	"github.com/shoptalk/go-gateway-backend/internal/http/middleware"
)

// EventSource is the broadcaster surface the stream handler consumes.
type EventSource interface {
	// Subscribe registers a listener for one shop; cancel releases it.
	Subscribe(shopID string) (<-chan domain.LifecycleEvent, func())
}

// streamWriteTimeout bounds one frame write so a dead peer cannot pin the
// handler goroutine.
const streamWriteTimeout = 5 * time.Second

// keepaliveInterval is the idle ping cadence.
const keepaliveInterval = 30 * time.Second

// StreamEvents serves the shop's lifecycle event stream over WebSocket.
func (h *Handlers) StreamEvents(c *gin.Context) {
	sid := shopID(c)
	lg := middleware.LoggerFrom(c).With().Str("shop_id", sid).Logger()

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Browser dashboards connect cross-origin; auth happened upstream.
		InsecureSkipVerify: true,
	})
	if err != nil {
		lg.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	events, cancel := h.events.Subscribe(sid)
	defer cancel()

	// CloseRead surfaces client disconnects through ctx while discarding
	// any frames the client sends.
	ctx := conn.CloseRead(c.Request.Context())

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "client gone")
			return
		case <-keepalive.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				lg.Debug().Err(err).Msg("keepalive failed, closing stream")
				return
			}
		case ev, open := <-events:
			if !open {
				// Evicted by the broadcaster for falling behind.
				conn.Close(websocket.StatusGoingAway, "subscriber evicted")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, streamWriteTimeout)
			err := wsjson.Write(writeCtx, conn, ev)
			writeCancel()
			if err != nil {
				lg.Debug().Err(err).Msg("event write failed, closing stream")
				return
			}
		}
	}
}
