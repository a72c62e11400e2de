package apikey

import (
	"context"
	"net/http"
	"strings"

	"github.com/telar-co/promo-server/internal/config"
)

// Tier classifies the caller of the promo API.
type Tier string

const (
	// TierPublic is the default for unauthenticated traffic. Standard
	// per-IP rate limits apply.
	TierPublic Tier = "public"

	// TierStorefront identifies the Telar web checkout. Exempt from
	// per-IP limits since many shoppers share the storefront's egress.
	TierStorefront Tier = "storefront"

	// TierInternal identifies backend services such as the order
	// processor issuing gift card batches. Bypasses all limits.
	TierInternal Tier = "internal"
)

type contextKey string

const contextKeyTier contextKey = "api_key_tier"

// Config maps API keys to tiers.
type Config struct {
	Keys    map[string]Tier
	Enabled bool
}

// FromConfig converts the loaded configuration into a Config, dropping keys
// with unknown tier names.
func FromConfig(cfg config.APIKeyConfig) Config {
	keys := make(map[string]Tier, len(cfg.Keys))
	for key, tier := range cfg.Keys {
		switch Tier(strings.ToLower(tier)) {
		case TierPublic, TierStorefront, TierInternal:
			keys[key] = Tier(strings.ToLower(tier))
		}
	}
	return Config{Enabled: cfg.Enabled, Keys: keys}
}

// Middleware resolves the caller's tier from the X-API-Key header and stores
// it in the request context. Unknown or missing keys fall back to TierPublic
// rather than rejecting, so a misconfigured storefront degrades to public
// rate limits instead of a checkout outage.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled || len(cfg.Keys) == 0 {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := context.WithValue(r.Context(), contextKeyTier, TierPublic)
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := TierPublic

			if apiKey := strings.TrimSpace(r.Header.Get("X-API-Key")); apiKey != "" {
				if keyTier, ok := cfg.Keys[apiKey]; ok {
					tier = keyTier
				}
			}

			ctx := context.WithValue(r.Context(), contextKeyTier, tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetTier returns the tier stored in the request context, TierPublic when
// the middleware did not run.
func GetTier(r *http.Request) Tier {
	if tier, ok := r.Context().Value(contextKeyTier).(Tier); ok {
		return tier
	}
	return TierPublic
}

// IsExemptFromIPLimits reports whether per-IP rate limits should skip this
// request.
func IsExemptFromIPLimits(r *http.Request) bool {
	tier := GetTier(r)
	return tier == TierStorefront || tier == TierInternal
}

// ShouldBypassGlobalLimit reports whether the request also skips the global
// throughput cap. Reserved for internal services so a gift card batch import
// cannot be throttled by shopper traffic.
func ShouldBypassGlobalLimit(r *http.Request) bool {
	return GetTier(r) == TierInternal
}
