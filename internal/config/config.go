// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, provider credentials,
// session policy, rate limiting, and observability.
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-gateway-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SessionConfig tunes the socket-session layer.
type SessionConfig struct {
	// StoreDir is where per-shop credential containers live when the sqlite
	// driver is selected.
	StoreDir string // WA_STORE_DIR
	// StoreDriver selects the credential container backend: sqlite|postgres.
	StoreDriver string // WA_STORE_DRIVER
	// StoreDSN is required for the postgres driver.
	StoreDSN string // WA_STORE_DSN
	// PairingTimeout bounds one pairing attempt.
	PairingTimeout time.Duration // PAIRING_TIMEOUT
	// ReconnectBase and ReconnectMax bound the jittered reconnect backoff.
	ReconnectBase time.Duration // RECONNECT_BASE
	ReconnectMax  time.Duration // RECONNECT_MAX
}

// WebhookSecrets holds the shared secrets of the webhook providers.
type WebhookSecrets struct {
	MetaAppSecret   string // META_APP_SECRET
	MetaVerifyToken string // META_VERIFY_TOKEN
	GenericSecret   string // GENERIC_WEBHOOK_SECRET
}

// DeadLetterConfig configures the failed-event queue.
type DeadLetterConfig struct {
	// AMQPURL enables the broker publisher when non-empty; an empty value
	// selects the logging no-op.
	AMQPURL string // AMQP_URL
	// Exchange is the topic exchange dead-lettered events are published to.
	Exchange string // DEADLETTER_EXCHANGE
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path for the gateway's relational store

	// Auth
	JWTSecret string // JWT_SECRET; empty disables auth (dev mode)

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Providers
	Session    SessionConfig
	Webhooks   WebhookSecrets
	DeadLetter DeadLetterConfig

	// Ingest retry policy
	IngestMaxRetries   int           // INGEST_MAX_RETRIES
	IngestRetryBackoff time.Duration // INGEST_RETRY_BACKOFF

	// Broadcast
	StreamBuffer int // STREAM_BUFFER, per-subscriber event buffer

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

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "gateway.db"),

		// Auth
		JWTSecret: getenv("JWT_SECRET", ""),

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

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Providers
		Session: SessionConfig{
			StoreDir:       getenv("WA_STORE_DIR", "data/sessions"),
			StoreDriver:    strings.ToLower(getenv("WA_STORE_DRIVER", "sqlite")),
			StoreDSN:       getenv("WA_STORE_DSN", ""),
			PairingTimeout: getdur("PAIRING_TIMEOUT", 60*time.Second),
			ReconnectBase:  getdur("RECONNECT_BASE", time.Second),
			ReconnectMax:   getdur("RECONNECT_MAX", time.Minute),
		},
		Webhooks: WebhookSecrets{
			MetaAppSecret:   getenv("META_APP_SECRET", ""),
			MetaVerifyToken: getenv("META_VERIFY_TOKEN", ""),
			GenericSecret:   getenv("GENERIC_WEBHOOK_SECRET", ""),
		},
		DeadLetter: DeadLetterConfig{
			AMQPURL:  getenv("AMQP_URL", ""),
			Exchange: getenv("DEADLETTER_EXCHANGE", "gateway.deadletter"),
		},

		// Ingest retry policy
		IngestMaxRetries:   getint("INGEST_MAX_RETRIES", 3),
		IngestRetryBackoff: getdur("INGEST_RETRY_BACKOFF", 200*time.Millisecond),

		// Broadcast
		StreamBuffer: getint("STREAM_BUFFER", 64),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-gateway-backend"),
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
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	switch cfg.Session.StoreDriver {
	case "sqlite":
	case "postgres", "pgx":
		if strings.TrimSpace(cfg.Session.StoreDSN) == "" {
			return cfg, errors.New("WA_STORE_DSN is required when WA_STORE_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("WA_STORE_DRIVER must be sqlite or postgres")
	}
	if cfg.Session.PairingTimeout <= 0 {
		return cfg, errors.New("PAIRING_TIMEOUT must be > 0")
	}
	if cfg.Session.ReconnectBase <= 0 || cfg.Session.ReconnectMax < cfg.Session.ReconnectBase {
		return cfg, errors.New("RECONNECT_BASE must be > 0 and RECONNECT_MAX >= RECONNECT_BASE")
	}
	if cfg.IngestMaxRetries < 0 {
		return cfg, errors.New("INGEST_MAX_RETRIES must be >= 0")
	}
	if cfg.IngestRetryBackoff <= 0 {
		return cfg, errors.New("INGEST_RETRY_BACKOFF must be > 0")
	}
	if cfg.StreamBuffer < 1 {
		return cfg, errors.New("STREAM_BUFFER must be >= 1")
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
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeBasePath ensures the base path begins with "/" and carries no
// trailing slash. Empty input maps to the router root.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
