package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and environment variables.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Logging        LoggingConfig        `yaml:"logging"`
	Promo          PromoConfig          `yaml:"promo"`
	GiftCards      GiftCardConfig       `yaml:"gift_cards"`
	Cobre          CobreConfig          `yaml:"cobre"`
	Callbacks      CallbacksConfig      `yaml:"callbacks"`
	Monitoring     MonitoringConfig     `yaml:"monitoring"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	APIKey         APIKeyConfig         `yaml:"api_key"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Idempotency    IdempotencyConfig    `yaml:"idempotency"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // Optional prefix for all routes (e.g., "/api", "/promo")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // Optional API key to protect /metrics endpoint (leave empty to disable protection)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`       // debug, info, warn, error (default: info)
	Format      string `yaml:"format"`      // json, console (default: json)
	Environment string `yaml:"environment"` // production, staging, development
}

// PromoConfig holds promotion storage and validation configuration.
type PromoConfig struct {
	Backend             string             `yaml:"backend"`              // "postgres", "mongodb", or "memory"
	PostgresURL         string             `yaml:"postgres_url"`         // PostgreSQL connection string
	MongoDBURL          string             `yaml:"mongodb_url"`          // MongoDB connection string
	MongoDBDatabase     string             `yaml:"mongodb_database"`     // MongoDB database name
	GiftCardTable       string             `yaml:"gift_card_table"`      // Table/collection name (default: "gift_cards")
	CouponTable         string             `yaml:"coupon_table"`         // Table/collection name (default: "coupons")
	RedemptionTable     string             `yaml:"redemption_table"`     // Table/collection name (default: "code_redemptions")
	LookupCacheTTL      Duration           `yaml:"lookup_cache_ttl"`     // Cache TTL for code lookups (0 = no cache)
	PostgresPool        PostgresPoolConfig `yaml:"postgres_pool"`        // PostgreSQL connection pool settings
}

// GiftCardConfig holds gift card issuance configuration.
type GiftCardConfig struct {
	DefaultValidityDays int   `yaml:"default_validity_days"` // Expiration window for issued cards (default: 365)
	MinAmount           int64 `yaml:"min_amount"`            // Minimum issuable amount in minor units (default: 10000)
	MaxAmount           int64 `yaml:"max_amount"`            // Maximum issuable amount in minor units (default: 5000000)
	MaxBatchSize        int   `yaml:"max_batch_size"`        // Maximum cards per issuance request (default: 100)
}

// CobreConfig holds Cobre payment provider configuration.
type CobreConfig struct {
	BaseURL       string   `yaml:"base_url"`       // Cobre API base URL
	UserID        string   `yaml:"user_id"`        // API credential user id
	Secret        string   `yaml:"secret"`         // API credential secret
	DestinationID string   `yaml:"destination_id"` // Settlement account for checkout payments
	Alias         string   `yaml:"alias"`          // Merchant alias shown on checkout
	CheckoutRails []string `yaml:"checkout_rails"` // Enabled payment rails (default: pse, bancolombia, nequi, breb)
	RedirectURL   string   `yaml:"redirect_url"`   // Post-payment redirect
	LinkValidity  Duration `yaml:"link_validity"`  // How long payment links stay valid (default: 15m)
	Timeout       Duration `yaml:"timeout"`        // Request timeout (default: 10s)
	TokenTTL      Duration `yaml:"token_ttl"`      // How long to reuse an access token (default: 50m)
}

// CallbacksConfig holds order sync callback configuration.
type CallbacksConfig struct {
	OrderSyncURL string            `yaml:"order_sync_url"` // Endpoint notified after successful redemptions
	SyncSecret   string            `yaml:"sync_secret"`    // Shared secret sent as X-Sync-Secret
	Headers      map[string]string `yaml:"headers"`
	Timeout      Duration          `yaml:"timeout"`
	Retry        RetryConfig       `yaml:"retry"`       // Retry configuration with exponential backoff
	DLQEnabled   bool              `yaml:"dlq_enabled"` // Enable dead letter queue for failed callbacks
	DLQPath      string            `yaml:"dlq_path"`    // File path for DLQ storage (default: ./data/callback-dlq.json)
}

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	Enabled         bool     `yaml:"enabled"`          // Enable retry with exponential backoff (default: true)
	MaxAttempts     int      `yaml:"max_attempts"`     // Maximum retry attempts (default: 5)
	InitialInterval Duration `yaml:"initial_interval"` // Initial backoff interval (default: 1s)
	MaxInterval     Duration `yaml:"max_interval"`     // Maximum backoff interval (default: 5m)
	Multiplier      float64  `yaml:"multiplier"`       // Backoff multiplier (default: 2.0)
}

// MonitoringConfig holds Cobre balance monitoring configuration.
type MonitoringConfig struct {
	LowBalanceAlertURL  string            `yaml:"low_balance_alert_url"` // Webhook URL for low balance alerts (Discord, Slack, etc.)
	LowBalanceThreshold int64             `yaml:"low_balance_threshold"` // Balance in minor units below which to alert (default: 100000)
	CheckInterval       Duration          `yaml:"check_interval"`        // How often to check the balance (default: 15m)
	Headers             map[string]string `yaml:"headers"`               // Custom headers for the alert webhook
	BodyTemplate        string            `yaml:"body_template"`         // Custom body template (Go template)
	Timeout             Duration          `yaml:"timeout"`               // Request timeout (default: 5s)
}

// PostgresPoolConfig holds PostgreSQL connection pool settings.
type PostgresPoolConfig struct {
	MaxOpenConns    int      `yaml:"max_open_conns"`    // Maximum number of open connections (default: 25)
	MaxIdleConns    int      `yaml:"max_idle_conns"`    // Maximum number of idle connections (default: 5)
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"` // Maximum lifetime of connections (default: 5m)
}

// RateLimitConfig holds rate limiting configuration.
// Provides multi-tier rate limiting to prevent spam while allowing legitimate use.
type RateLimitConfig struct {
	// Global rate limiting (across all users)
	GlobalEnabled bool     `yaml:"global_enabled"` // Enable global rate limiting
	GlobalLimit   int      `yaml:"global_limit"`   // Requests allowed per global window
	GlobalWindow  Duration `yaml:"global_window"`  // Time window for global limit

	// Per-IP rate limiting
	PerIPEnabled bool     `yaml:"per_ip_enabled"` // Enable per-IP rate limiting
	PerIPLimit   int      `yaml:"per_ip_limit"`   // Requests allowed per IP per window
	PerIPWindow  Duration `yaml:"per_ip_window"`  // Time window for per-IP limit
}

// APIKeyConfig holds API key authentication and tier configuration.
// Allows trusted storefront instances to bypass rate limits via X-API-Key header.
type APIKeyConfig struct {
	Enabled bool              `yaml:"enabled"` // Enable API key authentication (default: false)
	Keys    map[string]string `yaml:"keys"`    // Map of API key -> tier (public, storefront, internal)
}

// CircuitBreakerConfig holds circuit breaker configuration for external services.
// Prevents cascading failures by failing fast when external services are degraded.
type CircuitBreakerConfig struct {
	Enabled  bool                 `yaml:"enabled"`   // Enable circuit breakers (default: true)
	CobreAPI BreakerServiceConfig `yaml:"cobre_api"` // Cobre API circuit breaker
	Webhook  BreakerServiceConfig `yaml:"webhook"`   // Callback delivery circuit breaker
}

// BreakerServiceConfig configures a circuit breaker for a specific external service.
type BreakerServiceConfig struct {
	MaxRequests         uint32   `yaml:"max_requests"`         // Max requests in half-open state (default: 3)
	Interval            Duration `yaml:"interval"`             // Stats reset interval in closed state (default: 60s)
	Timeout             Duration `yaml:"timeout"`              // Open state timeout before half-open (default: 30s)
	ConsecutiveFailures uint32   `yaml:"consecutive_failures"` // Consecutive failures to trip (default: 5)
	FailureRatio        float64  `yaml:"failure_ratio"`        // Failure ratio to trip 0.0-1.0 (default: 0.5)
	MinRequests         uint32   `yaml:"min_requests"`         // Minimum requests before checking ratio (default: 10)
}

// IdempotencyConfig holds Idempotency-Key replay cache configuration.
type IdempotencyConfig struct {
	Enabled    bool     `yaml:"enabled"`     // Enable Idempotency-Key middleware (default: true)
	TTL        Duration `yaml:"ttl"`         // How long cached responses stay replayable (default: 24h)
	MaxEntries int      `yaml:"max_entries"` // LRU cap on cached responses (default: 10000)
}
