package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func limitedEngine(rl *RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(rl.Handler())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func hit(r *gin.Engine, ip string) int {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := NewRateLimiter(0.0001, 2, KeyByUserOrIP())
	r := limitedEngine(rl)

	if code := hit(r, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("first request = %d", code)
	}
	if code := hit(r, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("second request = %d", code)
	}
	if code := hit(r, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("third request = %d, want 429", code)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := NewRateLimiter(0.0001, 1, KeyByUserOrIP())
	r := limitedEngine(rl)

	if code := hit(r, "203.0.113.7"); code != http.StatusOK {
		t.Fatalf("ip A first = %d", code)
	}
	if code := hit(r, "203.0.113.7"); code != http.StatusTooManyRequests {
		t.Fatalf("ip A second = %d, want 429", code)
	}
	// A different client still has a full bucket.
	if code := hit(r, "198.51.100.9"); code != http.StatusOK {
		t.Fatalf("ip B first = %d", code)
	}
}

func TestRateLimiter_BurstCoercedToOne(t *testing.T) {
	rl := NewRateLimiter(1, 0, KeyByUserOrIP())
	if rl.burst != 1 {
		t.Fatalf("burst = %d, want 1", rl.burst)
	}
}

func TestKeyByUserOrIP(t *testing.T) {
	gin.SetMode(gin.TestMode)
	keyFn := KeyByUserOrIP()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "203.0.113.7:9"
	if k := keyFn(c); k != "ip:203.0.113.7" {
		t.Fatalf("key = %q, want ip fallback", k)
	}

	c.Set("userID", "traveler-1")
	if k := keyFn(c); k != "user:traveler-1" {
		t.Fatalf("key = %q, want user identity", k)
	}

	// Non-string or empty user values fall back to the IP.
	c.Set("userID", "")
	if k := keyFn(c); k != "ip:203.0.113.7" {
		t.Fatalf("key = %q, want ip fallback for empty user", k)
	}
}

func TestRateLimiter_EvictsIdleBuckets(t *testing.T) {
	rl := NewRateLimiter(1, 1, KeyByUserOrIP())
	rl.take("ip:203.0.113.7")

	rl.mu.Lock()
	rl.buckets["ip:203.0.113.7"].lastSeen = time.Now().Add(-idleTTL - time.Minute)
	rl.lookups = sweepEvery - 1
	rl.mu.Unlock()

	rl.take("ip:198.51.100.9")

	rl.mu.Lock()
	_, stale := rl.buckets["ip:203.0.113.7"]
	rl.mu.Unlock()
	if stale {
		t.Fatal("idle bucket survived the sweep")
	}
}
