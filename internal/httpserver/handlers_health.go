package httpserver

import (
	"net/http"
	"time"

	"github.com/telar-co/promo-server/pkg/responders"
)

// health reports service status and enabled features.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	response := map[string]any{
		"status":    "ok",
		"uptime":    now.Sub(serverStartTime).String(),
		"timestamp": now.UTC(),
	}

	if h.cfg.Server.RoutePrefix != "" {
		response["routePrefix"] = h.cfg.Server.RoutePrefix
	}

	features := []string{}
	if h.cobre != nil && h.cobre.Configured() {
		features = append(features, "payment-links")
	}
	if h.cfg.Callbacks.OrderSyncURL != "" {
		features = append(features, "order-sync")
	}
	if h.cfg.Monitoring.LowBalanceAlertURL != "" {
		features = append(features, "balance-monitoring")
	}
	if h.cfg.Idempotency.Enabled {
		features = append(features, "idempotency")
	}
	if len(features) > 0 {
		response["features"] = features
	}

	responders.JSON(w, http.StatusOK, response)
}
