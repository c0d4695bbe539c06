package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RecordsRequestsAndInFlight(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/ok", func(c *gin.Context) {
		c.String(http.StatusOK, "hello")
	})
	// 204 with no body leaves Writer.Size() at -1; the size histogram must
	// skip the observation rather than record a negative value.
	r.GET("/nobody", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	// Collectors are package globals shared across tests; measure deltas.
	baseOK := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ok", "200"))
	base404 := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/missing", "404"))

	for _, path := range []string{"/ok", "/missing", "/nobody"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code >= 500 {
			t.Fatalf("GET %s -> %d", path, w.Code)
		}
	}

	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ok", "200")); got != baseOK+1 {
		t.Fatalf("counter /ok 200 = %v; want %v", got, baseOK+1)
	}
	// Unmatched routes label by raw URL path.
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/missing", "404")); got != base404+1 {
		t.Fatalf("counter /missing 404 = %v; want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpInFlight); got != 0 {
		t.Fatalf("in-flight gauge = %v after completion; want 0", got)
	}
}

func TestRouteLabel_PrefersRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	var matched, unmatched string
	r.GET("/conversations/:id", func(c *gin.Context) {
		matched = routeLabel(c)
		c.Status(http.StatusOK)
	})
	r.NoRoute(func(c *gin.Context) {
		unmatched = routeLabel(c)
		c.Status(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/conversations/abc-123", nil))
	if matched != "/conversations/:id" {
		t.Fatalf("matched route label = %q; want pattern", matched)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if unmatched != "/nope" {
		t.Fatalf("unmatched route label = %q; want raw path", unmatched)
	}
}
