package config

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// finalize applies defaults and validates the configuration.
func (c *Config) finalize() error {
	// Apply defaults
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Environment == "" {
		c.Logging.Environment = "production"
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Promo.Backend == "" {
		c.Promo.Backend = "memory"
	}
	if c.Promo.GiftCardTable == "" {
		c.Promo.GiftCardTable = "gift_cards"
	}
	if c.Promo.CouponTable == "" {
		c.Promo.CouponTable = "coupons"
	}
	if c.Promo.RedemptionTable == "" {
		c.Promo.RedemptionTable = "code_redemptions"
	}

	if c.GiftCards.DefaultValidityDays <= 0 {
		c.GiftCards.DefaultValidityDays = 365
	}
	if c.GiftCards.MinAmount <= 0 {
		c.GiftCards.MinAmount = 10_000
	}
	if c.GiftCards.MaxAmount <= 0 {
		c.GiftCards.MaxAmount = 5_000_000
	}
	if c.GiftCards.MaxBatchSize <= 0 {
		c.GiftCards.MaxBatchSize = 100
	}

	if c.Cobre.BaseURL == "" {
		c.Cobre.BaseURL = "https://api.cobre.co"
	}
	c.Cobre.BaseURL = strings.TrimSuffix(c.Cobre.BaseURL, "/")
	if len(c.Cobre.CheckoutRails) == 0 {
		c.Cobre.CheckoutRails = []string{"pse", "bancolombia", "nequi", "breb"}
	}
	if c.Cobre.LinkValidity.Duration <= 0 {
		c.Cobre.LinkValidity = Duration{Duration: 15 * time.Minute}
	}
	if c.Cobre.Timeout.Duration <= 0 {
		c.Cobre.Timeout = Duration{Duration: 10 * time.Second}
	}
	if c.Cobre.TokenTTL.Duration <= 0 {
		c.Cobre.TokenTTL = Duration{Duration: 50 * time.Minute}
	}

	if c.Callbacks.Timeout.Duration == 0 {
		c.Callbacks.Timeout = Duration{Duration: 3 * time.Second}
	}
	if c.Callbacks.Headers == nil {
		c.Callbacks.Headers = make(map[string]string)
	}

	if c.Monitoring.LowBalanceThreshold <= 0 {
		c.Monitoring.LowBalanceThreshold = 100_000
	}
	if c.Monitoring.CheckInterval.Duration <= 0 {
		c.Monitoring.CheckInterval = Duration{Duration: 15 * time.Minute}
	}
	if c.Monitoring.Timeout.Duration <= 0 {
		c.Monitoring.Timeout = Duration{Duration: 5 * time.Second}
	}
	if c.Monitoring.Headers == nil {
		c.Monitoring.Headers = make(map[string]string)
	}

	if c.Idempotency.TTL.Duration <= 0 {
		c.Idempotency.TTL = Duration{Duration: 24 * time.Hour}
	}
	if c.Idempotency.MaxEntries <= 0 {
		c.Idempotency.MaxEntries = 10_000
	}

	return c.validate()
}

// validate checks that required configuration fields are set correctly.
func (c *Config) validate() error {
	var errs []string

	switch c.Promo.Backend {
	case "postgres":
		if c.Promo.PostgresURL == "" {
			errs = append(errs, "promo.postgres_url is required when backend is 'postgres'")
		}
	case "mongodb":
		if c.Promo.MongoDBURL == "" {
			errs = append(errs, "promo.mongodb_url is required when backend is 'mongodb'")
		}
		if c.Promo.MongoDBDatabase == "" {
			errs = append(errs, "promo.mongodb_database is required when backend is 'mongodb'")
		}
	case "memory":
		// No connection settings needed. The server logs a warning at startup
		// because redemptions do not survive restarts.
	default:
		errs = append(errs, fmt.Sprintf("promo.backend %q must be one of: postgres, mongodb, memory", c.Promo.Backend))
	}

	if c.GiftCards.MinAmount > c.GiftCards.MaxAmount {
		errs = append(errs, fmt.Sprintf("gift_cards.min_amount (%d) cannot exceed gift_cards.max_amount (%d)",
			c.GiftCards.MinAmount, c.GiftCards.MaxAmount))
	}

	// Cobre credentials are optional: without them the payment link endpoints
	// are disabled but code validation still works.
	if (c.Cobre.UserID == "") != (c.Cobre.Secret == "") {
		errs = append(errs, "cobre.user_id and cobre.secret must be set together")
	}
	if c.Cobre.UserID != "" && c.Cobre.DestinationID == "" {
		errs = append(errs, "cobre.destination_id is required when cobre credentials are set")
	}

	if c.Callbacks.OrderSyncURL != "" && c.Callbacks.SyncSecret == "" {
		errs = append(errs, "callbacks.sync_secret is required when callbacks.order_sync_url is set")
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// CobreEnabled reports whether payment link creation is configured.
func (c *Config) CobreEnabled() bool {
	return c.Cobre.UserID != "" && c.Cobre.Secret != ""
}

// ApplyPostgresPoolSettings applies connection pool settings to a database connection.
// If pool config is not specified, applies sensible defaults.
func ApplyPostgresPoolSettings(db *sql.DB, pool PostgresPoolConfig) {
	maxOpen := pool.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25 // default
	}

	maxIdle := pool.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5 // default
	}

	// Validate: maxIdle cannot exceed maxOpen
	if maxIdle > maxOpen {
		maxIdle = maxOpen
	}

	maxLifetime := pool.ConnMaxLifetime.Duration
	if maxLifetime <= 0 {
		maxLifetime = 5 * time.Minute // default
	}

	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)
}
