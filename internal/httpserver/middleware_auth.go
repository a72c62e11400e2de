package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/telar-co/promo-server/internal/apikey"
	apierrors "github.com/telar-co/promo-server/internal/errors"
)

// adminMetricsAuth protects the /metrics endpoint with a bearer key. An empty
// key leaves the endpoint open, which is the right default for deployments
// where Prometheus scrapes over a private network.
func adminMetricsAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			if r.Header.Get("Authorization") != "Bearer "+adminKey {
				resp := apierrors.NewErrorResponse(apierrors.ErrCodeUnauthorized, "Invalid or missing admin API key", nil)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(resp)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func passthroughMW(next http.Handler) http.Handler {
	return next
}

// requireTier rejects requests whose API key tier is not in the allowed set.
// Used on issuance and admin endpoints so public traffic cannot mint gift
// cards or read the settlement balance.
func requireTier(allowed ...apikey.Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := apikey.GetTier(r)
			for _, t := range allowed {
				if tier == t {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierrors.WriteSimpleError(w, apierrors.ErrCodeForbidden, "API key tier does not allow this operation")
		})
	}
}
