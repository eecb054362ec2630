package config

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("GIN_MODE", "weird")    // will normalize to "release"
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	t.Setenv("DB_PATH", "cache.sqlite")
	t.Setenv("KV_PATH", "buckets.kv")
	t.Setenv("MONGO_URI", "mongodb://mongo:27017")
	t.Setenv("MONGO_DB", "exp")

	t.Setenv("FETCH_TIMEOUT", "7s")
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Port != "8088" || cfg.ReadTimeout != 2*time.Second {
		t.Fatalf("server overrides not applied: %+v", cfg)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q, want normalized release", cfg.GinMode)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty {
		t.Fatalf("logging normalization failed: %q %v", cfg.LogLevel, cfg.LogPretty)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q", cfg.APIBasePath)
	}
	if cfg.DBPath != "cache.sqlite" || cfg.KVPath != "buckets.kv" {
		t.Fatalf("store paths not applied: %+v", cfg)
	}
	if cfg.Remote.MongoURI != "mongodb://mongo:27017" || cfg.Remote.Database != "exp" {
		t.Fatalf("remote config not applied: %+v", cfg.Remote)
	}
	if cfg.Sync.FetchTimeout != 7*time.Second {
		t.Fatalf("FetchTimeout = %v", cfg.Sync.FetchTimeout)
	}
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate fallback failed: %v %v", cfg.RateRPS, cfg.RateBurst)
	}
	if want := []string{"https://a.com", "http://b"}; !reflect.DeepEqual(cfg.CORS.AllowedOrigins, want) {
		t.Fatalf("CORS origins = %v, want %v", cfg.CORS.AllowedOrigins, want)
	}
}

func TestLoad_SyncDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.Sync
	if s.FetchTimeout != 5*time.Second || s.EnrichTimeout != 2*time.Second {
		t.Fatalf("fetch/enrich defaults: %v / %v", s.FetchTimeout, s.EnrichTimeout)
	}
	if s.FeedRetryBase != 15*time.Second || s.BookingRetry != 30*time.Second {
		t.Fatalf("retry base defaults: %v / %v", s.FeedRetryBase, s.BookingRetry)
	}
	if s.PersistMax != 7 || s.BucketTopK != 5 || s.ImageCacheMax != 12 {
		t.Fatalf("persist defaults: %+v", s)
	}
}

// --- validation failures ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := map[string]struct {
		key, val string
		wantSub  string
	}{
		"bad log level":     {"LOG_LEVEL", "loud", "LOG_LEVEL"},
		"empty db path":     {"DB_PATH", " ", "DB_PATH"},
		"empty kv path":     {"KV_PATH", " ", "KV_PATH"},
		"empty mongo uri":   {"MONGO_URI", " ", "MONGO_URI"},
		"zero fetch":        {"FETCH_TIMEOUT", "0s", "fetch/enrich"},
		"zero retry base":   {"FEED_RETRY_BASE", "0s", "retry base"},
		"low ceiling":       {"BACKOFF_CEILING", "1s", "BACKOFF_CEILING"},
		"jitter too big":    {"BACKOFF_JITTER", "1.5", "BACKOFF_JITTER"},
		"zero persist":      {"PERSIST_MAX", "0", "PERSIST_MAX"},
		"zero feed limit":   {"FEED_LIMIT", "0", "FEED_LIMIT"},
		"zero image cache":  {"IMAGE_CACHE_MAX", "0", "IMAGE_CACHE_MAX"},
		"negative rate":     {"RATE_RPS", "-1", "RATE_RPS"},
		"zero burst":        {"RATE_BURST", "0", "RATE_BURST"},
		"bad sample ratio":  {"OTEL_TRACES_SAMPLER_ARG", "2", "OTEL_TRACES_SAMPLER_ARG"},
		"negative hsts age": {"HSTS_MAX_AGE", "-1s", "HSTS_MAX_AGE"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.val)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tc.wantSub)
			}
		})
	}
}

// --- helpers ---

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"api":     "/api",
		"/api/":   "/api",
		" /api/ ": "/api",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("B1", "On")
	t.Setenv("B2", "off")
	t.Setenv("B3", "maybe")
	if !getbool("B1", false) || getbool("B2", true) || !getbool("B3", true) {
		t.Fatal("getbool parsing wrong")
	}
}
