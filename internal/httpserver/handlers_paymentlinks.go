package httpserver

import (
	"net/http"
	"time"

	"github.com/telar-co/promo-server/internal/cobre"
	apierrors "github.com/telar-co/promo-server/internal/errors"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/pkg/responders"
)

// CreatePaymentLinkRequest is the request body for a hosted checkout link.
type CreatePaymentLinkRequest struct {
	Amount     int64  `json:"amount"` // COP minor units, post-discount
	ExternalID string `json:"externalId"`
	Header     string `json:"header,omitempty"`
	Item       string `json:"item,omitempty"`
}

// CreatePaymentLinkResponse carries the hosted checkout URL.
type CreatePaymentLinkResponse struct {
	Success      bool   `json:"success"`
	CheckoutURL  string `json:"checkoutUrl,omitempty"`
	IntentID     string `json:"intentId,omitempty"`
	ValidUntil   string `json:"validUntil,omitempty"`
	ErrorMessage string `json:"error,omitempty"`
}

// PaymentLinkBalanceResponse is the settlement account state.
type PaymentLinkBalanceResponse struct {
	Available int64  `json:"available"` // COP minor units
	Pending   int64  `json:"pending"`
	Currency  string `json:"currency"`
}

// createPaymentLink creates a Cobre hosted checkout link for an order.
func (h *handlers) createPaymentLink(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if h.cobre == nil || !h.cobre.Configured() {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "payment links are not configured")
		return
	}

	var req CreatePaymentLinkRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("payment_links.create.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if req.Amount <= 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "amount must be positive")
		return
	}
	if req.ExternalID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "externalId is required")
		return
	}

	link, err := h.cobre.CreateCheckoutLink(r.Context(), cobre.CheckoutRequest{
		Amount:     req.Amount,
		ExternalID: req.ExternalID,
		Header:     req.Header,
		Item:       req.Item,
	})
	if err != nil {
		log.Error().Err(err).Str("external_id", req.ExternalID).Msg("payment_links.create.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentProviderError, "Error al generar el link de pago")
		return
	}

	if h.metrics != nil {
		h.metrics.ObservePaymentLink("created")
	}

	responders.JSON(w, http.StatusOK, CreatePaymentLinkResponse{
		Success:     true,
		CheckoutURL: link.CheckoutURL,
		IntentID:    link.IntentID,
		ValidUntil:  link.ValidUntil.Format(time.RFC3339),
	})
}

// paymentLinkBalance returns the Cobre settlement account balance.
func (h *handlers) paymentLinkBalance(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	if h.cobre == nil || !h.cobre.Configured() {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeConfigError, "payment links are not configured")
		return
	}

	balance, err := h.cobre.AccountBalance(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("payment_links.balance.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodePaymentProviderError, "Error al consultar el saldo")
		return
	}

	responders.JSON(w, http.StatusOK, PaymentLinkBalanceResponse{
		Available: balance.Available,
		Pending:   balance.Pending,
		Currency:  balance.Currency,
	})
}
