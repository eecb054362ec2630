package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Metrics())
	r.GET("/feed", func(c *gin.Context) { c.String(http.StatusOK, `{"items":[]}`) })
	r.GET("/empty", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	hit := func(path string, want int) {
		t.Helper()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != want {
			t.Fatalf("GET %s -> %d, want %d", path, w.Code, want)
		}
	}

	// Counters are package globals shared across tests, so assert deltas.
	baseOK := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/feed", "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404"))

	hit("/feed", http.StatusOK)
	hit("/nope", http.StatusNotFound)
	hit("/empty", http.StatusNoContent) // size -1: exercises the skip branch

	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/feed", "200")); got != baseOK+1 {
		t.Fatalf("matched-route counter = %v, want %v", got, baseOK+1)
	}
	// Unmatched requests label by raw path.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/nope", "404")); got != base404+1 {
		t.Fatalf("fallback-path counter = %v, want %v", got, base404+1)
	}
	if got := testutil.ToFloat64(httpInflight); got != 0 {
		t.Fatalf("inflight gauge = %v after completion, want 0", got)
	}
}
