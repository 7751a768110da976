// Package config validates and exposes the room fabric's environment
// configuration, following the same "validate everything at startup, fail
// loud" discipline the rest of the stack uses.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for the room fabric.
type Config struct {
	// Server
	Port              string
	NodeEnv           string
	TLSCertPath       string
	TLSKeyPath        string
	HeartbeatInterval time.Duration

	// CORS
	CORSOrigin             string
	CORSCredentials        bool
	CORSStrictMode         bool
	CORSDevelopmentOrigins []string

	// Token service boundary (external collaborator)
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool

	// AdminHMACSecret signs the admin-only cleanup/force endpoints,
	// distinct from the Auth0-validated connection tokens above.
	AdminHMACSecret string

	// Distributed bus (optional horizontal-scale hook)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limiting (C3) — per-event-kind caps, per spec.md §4.3
	RateLimitPerMinute     map[string]int
	DisableSynthRateLimit  bool
	DisableVoiceRateLimit  bool
	IPConnectionsPerMinute int

	// Connection/IP layer (ulule/limiter, formatted rate strings e.g. "100-M")
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
	RateLimitWsUser      string

	// Admission (C10)
	MaxConnectionsPerRoom int
	MaxConnectionsGlobal  int
	QueueSize             int
	ConnectionTimeout     time.Duration
	BatchSize             int
	BatchDelay            time.Duration
	CompressionEnabled    bool
	BatchingEnabled       bool

	// Cleanup (C11)
	CleanupInterval           time.Duration
	AggressiveCleanupInterval time.Duration
	InactiveThreshold         time.Duration
	EmptyThreshold            time.Duration
	StaleApprovalThreshold    time.Duration
	MemoryPressureThresholdMB int

	// Logging (C2)
	LogLevel string
	LogDir   string

	// Persistence / storage boundary
	PostgresDSN   string
	MinioEndpoint string
	MinioBucket   string
}

// defaultRateLimits mirrors the event-kind cap table in spec.md §4.3.
func defaultRateLimits() map[string]int {
	return map[string]int{
		"play_note":            2400,
		"chat_message":         30,
		"voice_offer":          60,
		"voice_answer":         60,
		"voice_ice_candidate":  200,
		"update_synth_params":  3600,
		"update_effects_chain": 1800,
		"create_room":          5,
		"join_room":            20,
		"change_instrument":    120,
	}
}

// ValidateEnv validates all required environment variables and returns a
// Config. It collects every violation instead of failing on the first one,
// so operators fix configuration in one pass.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.AdminHMACSecret = os.Getenv("ADMIN_HMAC_SECRET")
	if cfg.AdminHMACSecret == "" {
		errs = append(errs, "ADMIN_HMAC_SECRET is required")
	} else if len(cfg.AdminHMACSecret) < 32 {
		errs = append(errs, fmt.Sprintf("ADMIN_HMAC_SECRET must be at least 32 characters (got %d)", len(cfg.AdminHMACSecret)))
	}

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.NodeEnv = getEnvOrDefault("NODE_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.LogDir = os.Getenv("LOG_DIR")
	cfg.TLSCertPath = os.Getenv("TLS_CERT_PATH")
	cfg.TLSKeyPath = os.Getenv("TLS_KEY_PATH")
	cfg.HeartbeatInterval = getEnvDurationOrDefault("HEARTBEAT_INTERVAL", 25*time.Second)

	cfg.CORSOrigin = getEnvOrDefault("CORS_ORIGIN", "*")
	cfg.CORSCredentials = os.Getenv("CORS_CREDENTIALS") == "true"
	cfg.CORSStrictMode = os.Getenv("CORS_STRICT_MODE") == "true"
	cfg.CORSDevelopmentOrigins = strings.Split(getEnvOrDefault("CORS_DEV_ORIGINS", "http://localhost:3000"), ",")

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	cfg.RateLimitPerMinute = defaultRateLimits()
	for kind := range cfg.RateLimitPerMinute {
		envKey := "RATE_LIMIT_" + strings.ToUpper(kind)
		if v := os.Getenv(envKey); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				cfg.RateLimitPerMinute[kind] = n
			}
		}
	}
	cfg.DisableSynthRateLimit = os.Getenv("DISABLE_SYNTH_RATE_LIMIT") == "true"
	cfg.DisableVoiceRateLimit = os.Getenv("DISABLE_VOICE_RATE_LIMIT") == "true"
	cfg.IPConnectionsPerMinute = getEnvIntOrDefault("IP_CONNECTIONS_PER_MINUTE", 10)

	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "20-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "60-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "20-M")
	cfg.RateLimitWsUser = getEnvOrDefault("RATE_LIMIT_WS_USER", "10-M")

	cfg.MaxConnectionsPerRoom = getEnvIntOrDefault("MAX_CONNECTIONS_PER_ROOM", 50)
	cfg.MaxConnectionsGlobal = getEnvIntOrDefault("MAX_CONNECTIONS_GLOBAL", 1000)
	cfg.QueueSize = getEnvIntOrDefault("QUEUE_SIZE", 100)
	cfg.ConnectionTimeout = getEnvDurationOrDefault("CONNECTION_TIMEOUT", 30*time.Second)
	cfg.BatchSize = getEnvIntOrDefault("BATCH_SIZE", 10)
	cfg.BatchDelay = getEnvDurationOrDefault("BATCH_DELAY", 100*time.Millisecond)
	cfg.CompressionEnabled = getEnvOrDefault("COMPRESSION_ENABLED", "true") == "true"
	cfg.BatchingEnabled = getEnvOrDefault("BATCHING_ENABLED", "true") == "true"

	cfg.CleanupInterval = getEnvDurationOrDefault("CLEANUP_INTERVAL", 5*time.Minute)
	cfg.AggressiveCleanupInterval = getEnvDurationOrDefault("AGGRESSIVE_CLEANUP_INTERVAL", 30*time.Minute)
	cfg.InactiveThreshold = getEnvDurationOrDefault("INACTIVE_THRESHOLD", 30*time.Minute)
	cfg.EmptyThreshold = getEnvDurationOrDefault("EMPTY_THRESHOLD", 5*time.Minute)
	cfg.StaleApprovalThreshold = getEnvDurationOrDefault("STALE_APPROVAL_THRESHOLD", 10*time.Minute)
	cfg.MemoryPressureThresholdMB = getEnvIntOrDefault("MEMORY_PRESSURE_THRESHOLD_MB", 600)

	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.MinioEndpoint = os.Getenv("MINIO_ENDPOINT")
	cfg.MinioBucket = getEnvOrDefault("MINIO_BUCKET", "jamfabric-audio")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port".
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}
	return parts[0] != ""
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"admin_hmac_secret", redactSecret(cfg.AdminHMACSecret),
		"port", cfg.Port,
		"node_env", cfg.NodeEnv,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"log_level", cfg.LogLevel,
		"max_connections_per_room", cfg.MaxConnectionsPerRoom,
		"max_connections_global", cfg.MaxConnectionsGlobal,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

// redactSecret shows only the first 8 characters of a secret.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
