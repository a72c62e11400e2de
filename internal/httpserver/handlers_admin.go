package httpserver

import (
	"net/http"

	"github.com/telar-co/promo-server/internal/callbacks"
	apierrors "github.com/telar-co/promo-server/internal/errors"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/pkg/responders"
)

// ListFailedSyncRequest is the request body for listing dead-lettered
// order-sync events.
type ListFailedSyncRequest struct {
	Limit int `json:"limit,omitempty"` // Defaults to 50
}

// ListFailedSyncResponse carries the dead-lettered events so an operator can
// inspect and replay them against the marketplace backend.
type ListFailedSyncResponse struct {
	Events []callbacks.FailedCallback `json:"events"`
	Count  int                        `json:"count"`
}

const defaultDLQListLimit = 50

// listFailedSyncEvents lists order-sync callbacks that exhausted retries.
func (h *handlers) listFailedSyncEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if h.dlqStore == nil {
		responders.JSON(w, http.StatusOK, ListFailedSyncResponse{Events: []callbacks.FailedCallback{}})
		return
	}

	var req ListFailedSyncRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if req.Limit <= 0 {
		req.Limit = defaultDLQListLimit
	}

	events, err := h.dlqStore.ListFailedCallbacks(r.Context(), req.Limit)
	if err != nil {
		log.Error().Err(err).Msg("redemptions.dlq.list_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to list pending sync events")
		return
	}
	if events == nil {
		events = []callbacks.FailedCallback{}
	}

	responders.JSON(w, http.StatusOK, ListFailedSyncResponse{Events: events, Count: len(events)})
}
