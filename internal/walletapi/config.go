package walletapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr        = ":9090"
	defaultAllowedOrigin     = "http://localhost:8000"
	defaultSessionIssuer     = "tauth"
	defaultSessionCookie     = "app_session"
	defaultRequestTimeout    = 3 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
	defaultNotificationLimit = 20
	defaultRateBurst         = 10
)

// Config aggregates runtime settings for the wallet HTTP API.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	NotificationLimit int
	// RateLimit caps API requests per second across all callers; zero disables the limit.
	RateLimit float64
	RateBurst int
}

// Validate fills defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.NotificationLimit <= 0 {
		cfg.NotificationLimit = defaultNotificationLimit
	}
	if cfg.RateLimit < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	if cfg.RateLimit > 0 && cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
