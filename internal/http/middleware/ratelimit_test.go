package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

func limiterContext(t *testing.T) *gin.Context {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = net.JoinHostPort("203.0.113.9", "12345")
	c.Request = req
	return c
}

func TestKeyByShopOrIP_PrefersShopFallsBackToIP(t *testing.T) {
	c := limiterContext(t)

	if key := KeyByShopOrIP()(c); !strings.HasPrefix(key, "ip:") || !strings.Contains(key, "203.0.113.9") {
		t.Fatalf("anonymous request should key by IP; got %q", key)
	}

	c.Set("shopID", "s123")
	if key := KeyByShopOrIP()(c); key != "shop:s123" {
		t.Fatalf("authenticated request should key by shop; got %q", key)
	}

	// Empty shopID is treated as anonymous.
	c.Set("shopID", "")
	if key := KeyByShopOrIP()(c); !strings.HasPrefix(key, "ip:") {
		t.Fatalf("empty shopID should fall back to IP; got %q", key)
	}
}

func TestRateLimiter_BucketLifecycle(t *testing.T) {
	rl := NewRateLimiter(2.0, 0, KeyByShopOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst <= 0 must coerce to 1, got %d", rl.burst)
	}

	lim := rl.getVisitor("shop:a")
	if lim == nil {
		t.Fatalf("expected bucket to be created on first lookup")
	}
	if got := rl.getVisitor("shop:a"); got != lim {
		t.Fatalf("repeat lookup must reuse the existing bucket")
	}
	if other := rl.getVisitor("shop:b"); other == lim {
		t.Fatalf("distinct keys must not share a bucket")
	}
}

func TestRateLimiter_SweepEvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1.0, 1, KeyByShopOrIP())
	rl.ttl = time.Nanosecond

	rl.mu.Lock()
	rl.visitors["stale"] = &visitor{
		limiter:  rate.NewLimiter(1, 1),
		lastSeen: time.Now().Add(-time.Hour),
	}
	// Next lookup crosses the sweep threshold.
	rl.cleanupN = 4999
	rl.mu.Unlock()

	_ = rl.getVisitor("fresh")

	rl.mu.Lock()
	_, staleKept := rl.visitors["stale"]
	_, freshKept := rl.visitors["fresh"]
	rl.mu.Unlock()

	if staleKept {
		t.Fatalf("idle bucket survived the sweep")
	}
	if !freshKept {
		t.Fatalf("bucket requested during the sweep went missing")
	}
}

func TestIsRateBypass(t *testing.T) {
	c := limiterContext(t)

	if IsRateBypass(c) {
		t.Fatalf("bypass must default to false")
	}
	c.Set(ctxKeyRateBypass, true)
	if !IsRateBypass(c) {
		t.Fatalf("bypass flag not honored")
	}
	// A stray non-bool value reads as false rather than panicking.
	c.Set(ctxKeyRateBypass, "yes")
	if IsRateBypass(c) {
		t.Fatalf("non-bool bypass value must read as false")
	}
}

func TestRateLimiter_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// rps=1 burst=1: one immediate request per key, then empty.
	rl := NewRateLimiter(1.0, 1, KeyByShopOrIP())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Header("X-Request-ID", "rid-1"); c.Next() })
	r.Use(rl.Handler())
	r.GET("/send", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	hit := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/send", nil))
		return w
	}

	if w := hit(); w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w := hit()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("drained bucket should answer 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("expected Retry-After=1, got %q", got)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["code"] != "rate_limited" || body["message"] != "rate limit exceeded" || body["request_id"] != "rid-1" {
		t.Fatalf("unexpected error envelope: %v", body)
	}

	// Idempotent replays flagged upstream skip the bucket entirely, even
	// when it is empty.
	replay := gin.New()
	replay.Use(func(c *gin.Context) { c.Set(ctxKeyRateBypass, true); c.Next() })
	replay.Use(rl.Handler())
	replay.GET("/send", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w2 := httptest.NewRecorder()
	replay.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/send", nil))
	if w2.Code != http.StatusOK {
		t.Fatalf("replay should bypass the limiter, got %d", w2.Code)
	}
}
