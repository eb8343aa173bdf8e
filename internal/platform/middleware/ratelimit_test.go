package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/rounding/internal/platform/auth"
)

func TestTokenBucket(t *testing.T) {
	b := newTokenBucket(1, 2)
	now := time.Now()

	if ok, _ := b.take(now); !ok {
		t.Fatal("first request should pass")
	}
	if ok, _ := b.take(now); !ok {
		t.Fatal("burst of 2 should pass")
	}
	ok, retry := b.take(now)
	if ok {
		t.Fatal("third request should be limited")
	}
	if retry < 1 {
		t.Errorf("expected positive retry-after, got %d", retry)
	}
	if ok, _ := b.take(now.Add(1100 * time.Millisecond)); !ok {
		t.Error("bucket should refill after a second")
	}
}

func TestTokenBucket_CapsAtBurst(t *testing.T) {
	b := newTokenBucket(10, 1)
	now := time.Now()
	b.take(now)
	b.take(now.Add(time.Hour))
	if ok, _ := b.take(now.Add(time.Hour)); ok {
		t.Error("refill must not exceed burst size")
	}
}

func newLimitedContext(e *echo.Echo, userID, ip string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/rounding-sheets", nil)
	req.RemoteAddr = ip + ":1234"
	if userID != "" {
		req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{ID: userID}, nil))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRateLimit(t *testing.T) {
	e := echo.New()
	mw := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 2})
	h := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 2; i++ {
		c, rec := newLimitedContext(e, "dr-1", "10.0.0.1")
		if err := h(c); err != nil {
			t.Fatalf("request %d: unexpected error %v", i, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") == "" {
			t.Error("expected X-RateLimit-Limit header")
		}
	}

	c, rec := newLimitedContext(e, "dr-1", "10.0.0.1")
	err := h(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" || rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Error("expected Retry-After and X-RateLimit-Remaining headers")
	}

	// Another user behind the same IP has its own bucket.
	c, _ = newLimitedContext(e, "dr-2", "10.0.0.1")
	if err := h(c); err != nil {
		t.Errorf("separate user should not be limited: %v", err)
	}
}

func TestRateLimit_AnonymousKeyedByIP(t *testing.T) {
	e := echo.New()
	h := RateLimit(RateLimitConfig{RequestsPerSecond: 0.001, BurstSize: 1})(func(c echo.Context) error { return nil })

	c, _ := newLimitedContext(e, "", "10.0.0.1")
	if err := h(c); err != nil {
		t.Fatal(err)
	}
	c, _ = newLimitedContext(e, "", "10.0.0.1")
	if err := h(c); err == nil {
		t.Error("same IP should be limited")
	}
	c, _ = newLimitedContext(e, "", "10.0.0.2")
	if err := h(c); err != nil {
		t.Errorf("different IP should pass: %v", err)
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize < int(cfg.RequestsPerSecond) {
		t.Errorf("unexpected defaults %+v", cfg)
	}
}
