package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"email=ana.b+tag@example.com", "email=[REDACTED:email]"},
		{"call +1-555-123-4567 now", "call [REDACTED:phone] now"},
		{"id=123e4567-e89b-12d3-a456-426614174000", "id=[REDACTED:id]"},
		{"plain text stays", "plain text stays"},
	}
	for _, tc := range cases {
		if got := redactPII(tc.in); got != tc.want {
			t.Fatalf("redactPII(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestRedactingLogger_ScrubsQueryAndHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := swapGlobalLogger(t)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Header("X-Request-ID", "rid-resp")
		c.Next()
	})
	r.Use(RedactingLogger(RedactOptions{MaskHeaders: []string{"X-Api-Key"}}))
	r.GET("/bookings/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	query := "email=traveler@example.com&phone=+1-555-123-4567&booking=123e4567-e89b-12d3-a456-426614174000"
	req := httptest.NewRequest(http.MethodGet, "/bookings/b1?"+query, nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "sid=topsecret")
	req.Header.Set("X-Api-Key", "shhh")
	req.Header.Set("X-Custom", "contact traveler@example.com id=123e4567-e89b-12d3-a456-426614174000")
	req.Header.Set("X-Request-ID", "rid-req")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	logs := buf.String()
	for _, want := range []string{
		`"level":"info"`,
		`"path":"/bookings/:id"`,      // route pattern, not raw URL
		`"request_id":"rid-resp"`,     // response header wins over the request one
		`[REDACTED:email]`,
		`[REDACTED:phone]`,
		`[REDACTED:id]`,
		`"Authorization":"[REDACTED]"`,
		`"Cookie":"[REDACTED]"`,
		`"X-Api-Key":"[REDACTED]"`,
		`"X-Custom":"contact [REDACTED:email] id=[REDACTED:id]"`,
	} {
		if !strings.Contains(logs, want) {
			t.Fatalf("log missing %s:\n%s", want, logs)
		}
	}
	if strings.Contains(logs, "traveler@example.com") || strings.Contains(logs, "topsecret") {
		t.Fatalf("PII leaked into log:\n%s", logs)
	}
}

func TestRedactingLogger_Severity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	buf := swapGlobalLogger(t)

	r := gin.New()
	r.Use(RedactingLogger(RedactOptions{}))
	r.GET("/missing", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/broken", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, rid := range map[string]string{"/missing": "rid-w", "/broken": "rid-e"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		// Only the request header carries an id here; the logger falls back to it.
		req.Header.Set("X-Request-ID", rid)
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	logs := buf.String()
	if !strings.Contains(logs, `"level":"warn"`) || !strings.Contains(logs, `"request_id":"rid-w"`) {
		t.Fatalf("4xx should log warn with fallback id:\n%s", logs)
	}
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, `"request_id":"rid-e"`) {
		t.Fatalf("5xx should log error with fallback id:\n%s", logs)
	}
}
