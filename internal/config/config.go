// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, the local store paths (SQLite cache, key-value file, image dir),
// the remote document store connection, and the refresh/retry policy knobs
// used by the orchestrators.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RemoteConfig defines the remote document store connection.
type RemoteConfig struct {
	MongoURI string // MONGO_URI
	Database string // MONGO_DB
}

// SyncConfig groups the offline-sync and refresh policy knobs. The timeout
// and interval defaults are deliberate product constants: 5 s primary fetch,
// 2 s rating enrichment, 15 s feed retry base, 30 s booking retry base.
type SyncConfig struct {
	FetchTimeout    time.Duration // FETCH_TIMEOUT, primary remote fetch budget
	EnrichTimeout   time.Duration // ENRICH_TIMEOUT, rating overlay budget
	FeedRetryBase   time.Duration // FEED_RETRY_BASE, feed poller initial interval
	BookingRetry    time.Duration // BOOKING_RETRY_BASE, booking loop initial interval
	BackoffCeiling  time.Duration // BACKOFF_CEILING, max interval after growth
	BackoffJitter   float64       // BACKOFF_JITTER, fraction of interval in [0,1)
	PersistMax      int           // PERSIST_MAX, records written per refresh
	BucketTopK      int           // BUCKET_TOP_K, ids kept per geo bucket
	NearestTopK     int           // NEAREST_TOP_K, default map result size
	FeedLimit       int           // FEED_LIMIT, default feed size
	ImageCacheMax   int           // IMAGE_CACHE_MAX, local image file cap
	ProbeAddr       string        // PROBE_ADDR, connectivity probe host:port
	ProbeTimeout    time.Duration // PROBE_TIMEOUT
	PrefetchImages  bool          // PREFETCH_IMAGES, catalogue image prefetch
	DeviceLabel     string        // DEVICE_LABEL, install distribution counter key
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool
	SwaggerEnabled bool
	APIBasePath    string

	// Local stores
	DBPath  string // SQLite cache path
	KVPath  string // bbolt file for buckets/policy/profile
	DataDir string // image cache directory

	// UserEmail identifies the signed-in user whose profile this
	// instance syncs. Profile endpoints are disabled when empty.
	UserEmail string

	// Remote
	Remote RemoteConfig

	// Sync policy
	Sync SyncConfig

	// Rate limiting
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Local stores
		DBPath:  getenv("DB_PATH", "cache.db"),
		KVPath:  getenv("KV_PATH", "local.kv"),
		DataDir: getenv("DATA_DIR", "data"),

		UserEmail: strings.ToLower(strings.TrimSpace(getenv("USER_EMAIL", ""))),

		// Remote
		Remote: RemoteConfig{
			MongoURI: getenv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getenv("MONGO_DB", "experiences"),
		},

		// Sync policy
		Sync: SyncConfig{
			FetchTimeout:   getdur("FETCH_TIMEOUT", 5*time.Second),
			EnrichTimeout:  getdur("ENRICH_TIMEOUT", 2*time.Second),
			FeedRetryBase:  getdur("FEED_RETRY_BASE", 15*time.Second),
			BookingRetry:   getdur("BOOKING_RETRY_BASE", 30*time.Second),
			BackoffCeiling: getdur("BACKOFF_CEILING", 5*time.Minute),
			BackoffJitter:  getfloat("BACKOFF_JITTER", 0.2),
			PersistMax:     getint("PERSIST_MAX", 7),
			BucketTopK:     getint("BUCKET_TOP_K", 5),
			NearestTopK:    getint("NEAREST_TOP_K", 20),
			FeedLimit:      getint("FEED_LIMIT", 20),
			ImageCacheMax:  getint("IMAGE_CACHE_MAX", 12),
			ProbeAddr:      getenv("PROBE_ADDR", "1.1.1.1:443"),
			ProbeTimeout:   getdur("PROBE_TIMEOUT", 2*time.Second),
			PrefetchImages: getbool("PREFETCH_IMAGES", true),
			DeviceLabel:    getenv("DEVICE_LABEL", "server"),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-experiences-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.KVPath) == "" {
		return cfg, errors.New("KV_PATH must not be empty")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return cfg, errors.New("DATA_DIR must not be empty")
	}
	if strings.TrimSpace(cfg.Remote.MongoURI) == "" {
		return cfg, errors.New("MONGO_URI must not be empty")
	}
	if strings.TrimSpace(cfg.Remote.Database) == "" {
		return cfg, errors.New("MONGO_DB must not be empty")
	}
	if cfg.Sync.FetchTimeout <= 0 || cfg.Sync.EnrichTimeout <= 0 {
		return cfg, errors.New("fetch/enrich timeouts must be positive")
	}
	if cfg.Sync.FeedRetryBase <= 0 || cfg.Sync.BookingRetry <= 0 {
		return cfg, errors.New("retry base intervals must be positive")
	}
	if cfg.Sync.BackoffCeiling < cfg.Sync.FeedRetryBase || cfg.Sync.BackoffCeiling < cfg.Sync.BookingRetry {
		return cfg, errors.New("BACKOFF_CEILING must be >= both retry bases")
	}
	if cfg.Sync.BackoffJitter < 0 || cfg.Sync.BackoffJitter >= 1 {
		return cfg, errors.New("BACKOFF_JITTER must be in [0,1)")
	}
	if cfg.Sync.PersistMax < 1 || cfg.Sync.BucketTopK < 1 {
		return cfg, errors.New("PERSIST_MAX and BUCKET_TOP_K must be >= 1")
	}
	if cfg.Sync.NearestTopK < 1 || cfg.Sync.FeedLimit < 1 {
		return cfg, errors.New("NEAREST_TOP_K and FEED_LIMIT must be >= 1")
	}
	if cfg.Sync.ImageCacheMax < 1 {
		return cfg, errors.New("IMAGE_CACHE_MAX must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
