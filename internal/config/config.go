// Package config provides environment configuration for the bridge.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Upstream transparency feed
	UpstreamWSURL      string
	UpstreamSSEURL     string
	UpstreamSendURL    string
	UpstreamToken      string
	PreferredTransport string
	AutoConnect        bool

	// Connection supervision
	HealthCheckInterval  time.Duration
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration

	// Transport reconnect backoff
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// State retention
	MaxTraces int

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	RelayEnabled bool

	// JWT settings
	JWTSecret string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// Upstream
		UpstreamWSURL:      getEnv("UPSTREAM_WS_URL", "ws://localhost:5000/transparency/ws"),
		UpstreamSSEURL:     getEnv("UPSTREAM_SSE_URL", "http://localhost:5000/transparency/stream"),
		UpstreamSendURL:    getEnv("UPSTREAM_SEND_URL", "http://localhost:5000/transparency/send"),
		UpstreamToken:      getEnv("UPSTREAM_TOKEN", ""),
		PreferredTransport: getEnv("PREFERRED_TRANSPORT", "websocket"),
		AutoConnect:        getBoolEnv("AUTO_CONNECT", true),

		// Supervision
		HealthCheckInterval:  getDurationEnv("HEALTH_CHECK_INTERVAL", 10*time.Second),
		MaxReconnectAttempts: getIntEnv("MAX_RECONNECT_ATTEMPTS", 3),
		ConnectTimeout:       getDurationEnv("CONNECT_TIMEOUT", 15*time.Second),

		// Backoff
		RetryMaxAttempts: getIntEnv("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   getDurationEnv("RETRY_BASE_DELAY", time.Second),
		RetryMaxDelay:    getDurationEnv("RETRY_MAX_DELAY", 30*time.Second),

		// Retention
		MaxTraces: getIntEnv("MAX_TRACES", 500),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		RelayEnabled: getBoolEnv("RELAY_ENABLED", true),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 120),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
