package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/telar-co/promo-server/internal/apikey"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/metrics"
)

// Config holds rate limiting settings for the promo endpoints.
type Config struct {
	// Global limit across all callers. Caps aggregate throughput so a
	// coupon-guessing burst cannot starve the redemption path.
	GlobalEnabled bool
	GlobalLimit   int
	GlobalWindow  time.Duration

	// Per-IP limit, the main defense against code enumeration from a
	// single client.
	PerIPEnabled bool
	PerIPLimit   int
	PerIPWindow  time.Duration

	Metrics *metrics.Metrics
}

// DefaultConfig returns limits sized for a single storefront's traffic.
func DefaultConfig() Config {
	return Config{
		GlobalEnabled: true,
		GlobalLimit:   1000,
		GlobalWindow:  1 * time.Minute,

		PerIPEnabled: true,
		PerIPLimit:   60,
		PerIPWindow:  1 * time.Minute,
	}
}

// FromConfig builds a Config from the loaded configuration.
func FromConfig(cfg config.RateLimitConfig, m *metrics.Metrics) Config {
	return Config{
		GlobalEnabled: cfg.GlobalEnabled,
		GlobalLimit:   cfg.GlobalLimit,
		GlobalWindow:  cfg.GlobalWindow.Duration,
		PerIPEnabled:  cfg.PerIPEnabled,
		PerIPLimit:    cfg.PerIPLimit,
		PerIPWindow:   cfg.PerIPWindow.Duration,
		Metrics:       m,
	}
}

type rateLimitResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func limitHandler(limitType string, windowSeconds int, identify func(*http.Request) string, m *metrics.Metrics) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := "all"
		if identify != nil {
			if id := identify(r); id != "" {
				identifier = id
			}
		}

		if m != nil {
			m.ObserveRateLimit(limitType, identifier)
		}

		message := "Rate limit exceeded. Please try again later."
		if limitType == "per_ip" {
			message = "IP rate limit exceeded. Please try again later."
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", windowSeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(rateLimitResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: windowSeconds,
		})
	}
}

// GlobalLimiter caps aggregate request throughput. Internal-tier API keys
// bypass it so batch gift card issuance is never throttled by shopper
// traffic.
func GlobalLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.GlobalEnabled {
		return passthrough
	}

	limiter := httprate.Limit(
		cfg.GlobalLimit,
		cfg.GlobalWindow,
		httprate.WithLimitHandler(
			limitHandler("global", int(cfg.GlobalWindow.Seconds()), nil, cfg.Metrics),
		),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.ShouldBypassGlobalLimit(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

// IPLimiter limits each client IP. Storefront and internal tiers are exempt
// since many shoppers arrive through the storefront's shared egress.
func IPLimiter(cfg Config) func(http.Handler) http.Handler {
	if !cfg.PerIPEnabled {
		return passthrough
	}

	limiter := httprate.Limit(
		cfg.PerIPLimit,
		cfg.PerIPWindow,
		httprate.WithKeyByIP(),
		httprate.WithLimitHandler(
			limitHandler("per_ip", int(cfg.PerIPWindow.Seconds()), func(r *http.Request) string { return r.RemoteAddr }, cfg.Metrics),
		),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apikey.IsExemptFromIPLimits(r) {
				next.ServeHTTP(w, r)
				return
			}
			limiter(next).ServeHTTP(w, r)
		})
	}
}

func passthrough(next http.Handler) http.Handler {
	return next
}
