package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration.
// All env vars use TELAR_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	// Server config
	setIfEnv(&c.Server.Address, "TELAR_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "TELAR_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "TELAR_ADMIN_METRICS_API_KEY")

	// Normalize route prefix: ensure it starts with / and doesn't end with /
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	// Promo storage config
	setIfEnv(&c.Promo.Backend, "TELAR_PROMO_BACKEND")
	setIfEnv(&c.Promo.PostgresURL, "TELAR_PROMO_POSTGRES_URL")
	setIfEnv(&c.Promo.MongoDBURL, "TELAR_PROMO_MONGODB_URL")
	setIfEnv(&c.Promo.MongoDBDatabase, "TELAR_PROMO_MONGODB_DATABASE")
	setDurationIfEnv(&c.Promo.LookupCacheTTL, "TELAR_PROMO_LOOKUP_CACHE_TTL")

	// Cobre config
	setIfEnv(&c.Cobre.BaseURL, "TELAR_COBRE_BASE_URL")
	setIfEnv(&c.Cobre.UserID, "TELAR_COBRE_USER_ID")
	setIfEnv(&c.Cobre.Secret, "TELAR_COBRE_SECRET")
	setIfEnv(&c.Cobre.DestinationID, "TELAR_COBRE_DESTINATION_ID")
	setIfEnv(&c.Cobre.Alias, "TELAR_COBRE_ALIAS")
	setIfEnv(&c.Cobre.RedirectURL, "TELAR_COBRE_REDIRECT_URL")
	setDurationIfEnv(&c.Cobre.LinkValidity, "TELAR_COBRE_LINK_VALIDITY")
	setDurationIfEnv(&c.Cobre.Timeout, "TELAR_COBRE_TIMEOUT")

	// Callbacks config
	setIfEnv(&c.Callbacks.OrderSyncURL, "TELAR_CALLBACK_ORDER_SYNC_URL")
	setIfEnv(&c.Callbacks.SyncSecret, "TELAR_CALLBACK_SYNC_SECRET")
	setDurationIfEnv(&c.Callbacks.Timeout, "TELAR_CALLBACK_TIMEOUT")
	// Load callback headers (TELAR_CALLBACK_HEADER_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "TELAR_CALLBACK_HEADER_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "TELAR_CALLBACK_HEADER_")
		if name == "" {
			continue
		}
		if c.Callbacks.Headers == nil {
			c.Callbacks.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Callbacks.Headers[headerName] = parts[1]
	}

	// Monitoring config
	setIfEnv(&c.Monitoring.LowBalanceAlertURL, "TELAR_MONITORING_LOW_BALANCE_ALERT_URL")
	if v := os.Getenv("TELAR_MONITORING_LOW_BALANCE_THRESHOLD"); v != "" {
		if threshold, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Monitoring.LowBalanceThreshold = threshold
		}
	}
	setDurationIfEnv(&c.Monitoring.CheckInterval, "TELAR_MONITORING_CHECK_INTERVAL")
	setDurationIfEnv(&c.Monitoring.Timeout, "TELAR_MONITORING_TIMEOUT")

	// API Key config
	setBoolIfEnv(&c.APIKey.Enabled, "TELAR_API_KEY_ENABLED")
	// Load API keys (TELAR_API_KEY_*)
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "TELAR_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "TELAR_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		// TELAR_API_KEY_STOREFRONT_ABC123=partner -> key: "storefront_abc123", tier: "partner"
		key := strings.ToLower(name)
		tier := strings.TrimSpace(parts[1])
		c.APIKey.Keys[key] = tier
	}

	// Idempotency config
	setBoolIfEnv(&c.Idempotency.Enabled, "TELAR_IDEMPOTENCY_ENABLED")
	setDurationIfEnv(&c.Idempotency.TTL, "TELAR_IDEMPOTENCY_TTL")
}

// setIfEnv sets a string pointer to the environment variable value if it exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean pointer from an environment variable.
// Accepts "1", "true", "TRUE", "True" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

// setDurationIfEnv sets a Duration pointer from an environment variable.
// Uses time.ParseDuration to parse values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end with /.
// Examples: "api" -> "/api", "/api/" -> "/api", "telar-promo" -> "/telar-promo"
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	// Ensure it starts with /
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	// Ensure it doesn't end with /
	prefix = strings.TrimSuffix(prefix, "/")
	return prefix
}
