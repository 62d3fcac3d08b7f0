package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultBindAddr is where the server listens when neither the flag nor
// the environment say otherwise.
const DefaultBindAddr = "0.0.0.0:2053"

// Config holds validated environment configuration
type Config struct {
	// Bind address for the HTTP/WebSocket listener, host:port.
	BindAddr string

	// Optional variables with defaults
	DevelopmentMode bool
	LogLevel        string
	AllowedOrigins  string

	// Redis (optional, shared rate-limit store + readiness probe)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Rate limits ("<count>-<period>", M = minute, H = hour)
	RateLimitWsIP string

	// Tracing (optional)
	TracingEnabled bool
	OTLPEndpoint   string
}

// ValidateEnv validates all environment variables and returns a Config.
// Returns an error if any variable is present but invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// BIND_ADDR (HOST also accepted, matching older deployments)
	cfg.BindAddr = os.Getenv("BIND_ADDR")
	if cfg.BindAddr == "" {
		cfg.BindAddr = os.Getenv("HOST")
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = DefaultBindAddr
	}
	if !isValidBindAddr(cfg.BindAddr) {
		errors = append(errors, fmt.Sprintf("BIND_ADDR must be in format 'host:port' (got '%s')", cfg.BindAddr))
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
		if cfg.OTLPEndpoint == "" {
			cfg.OTLPEndpoint = "localhost:4317"
		}
	}

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// AllowedOriginList splits the configured origins; empty means every
// origin is allowed.
func (c *Config) AllowedOriginList() []string {
	if c.AllowedOrigins == "" {
		return nil
	}
	parts := strings.Split(c.AllowedOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// isValidBindAddr accepts host:port where the host may be empty or an
// interface address like 0.0.0.0.
func isValidBindAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	_ = host // empty host binds all interfaces
	return isValidPort(port)
}

// isValidHostPort checks if a string is in the format "host:port" with a
// non-empty host.
func isValidHostPort(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	return isValidPort(port)
}

func isValidPort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated",
		"bind_addr", cfg.BindAddr,
		"development_mode", cfg.DevelopmentMode,
		"log_level", cfg.LogLevel,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
		"tracing_enabled", cfg.TracingEnabled,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
