package httpserver

import (
	"errors"
	"net/http"

	"github.com/telar-co/promo-server/internal/callbacks"
	apierrors "github.com/telar-co/promo-server/internal/errors"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/internal/promo"
	"github.com/telar-co/promo-server/pkg/responders"
)

// ValidateCodeRequest is the request body for code validation.
type ValidateCodeRequest struct {
	Code      string `json:"code"`
	CartTotal int64  `json:"cartTotal"`
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
}

// ValidateCodeResponse mirrors the storefront contract: the caller branches
// on the valid flag, so rule failures are 200 with valid=false rather than
// an error status.
type ValidateCodeResponse struct {
	Valid                    bool   `json:"valid"`
	Type                     string `json:"type,omitempty"` // "GIFTCARD" or "COUPON"
	DiscountAmount           int64  `json:"discountAmount,omitempty"`
	NewTotal                 *int64 `json:"newTotal,omitempty"`
	Message                  string `json:"message,omitempty"`
	RemainingBalanceAfterUse *int64 `json:"remainingBalanceAfterUse,omitempty"`
	ErrorMessage             string `json:"error,omitempty"`
}

// ApplyCodeRequest is the request body for recording a redemption.
type ApplyCodeRequest struct {
	Code      string `json:"code"`
	OrderID   string `json:"orderId"`
	CartTotal int64  `json:"cartTotal"`
	UserID    string `json:"userId,omitempty"`
	UserEmail string `json:"userEmail,omitempty"`
}

// ApplyCodeResponse is the outcome of a recorded (or replayed) redemption.
type ApplyCodeResponse struct {
	Success          bool   `json:"success"`
	Type             string `json:"type,omitempty"`
	DiscountApplied  int64  `json:"discountApplied,omitempty"`
	NewTotal         *int64 `json:"newTotal,omitempty"`
	Message          string `json:"message,omitempty"`
	RemainingBalance *int64 `json:"remainingBalance,omitempty"`
	ErrorMessage     string `json:"error,omitempty"`
}

// validateCode quotes a code against a cart without side effects.
func (h *handlers) validateCode(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req ValidateCodeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("codes.validate.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if req.CartTotal < 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "cartTotal must be non-negative")
		return
	}

	result, err := h.promo.Validate(r.Context(), promo.ValidateRequest{
		Code:      req.Code,
		CartTotal: req.CartTotal,
		Identity:  promo.Identity{UserID: req.UserID, Email: req.UserEmail},
	})
	if err != nil {
		if msg, ok := rejectionMessage(err); ok {
			responders.JSON(w, http.StatusOK, ValidateCodeResponse{Valid: false, ErrorMessage: msg})
			return
		}
		log.Error().Err(err).Msg("codes.validate.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Error al validar el código")
		return
	}

	newTotal := result.NewTotal
	responders.JSON(w, http.StatusOK, ValidateCodeResponse{
		Valid:                    true,
		Type:                     string(result.Kind),
		DiscountAmount:           result.DiscountAmount,
		NewTotal:                 &newTotal,
		Message:                  result.Message,
		RemainingBalanceAfterUse: result.RemainingBalanceAfterUse,
	})
}

// applyCode records a redemption for a completed order. Repeats of the same
// (code, orderId) pair replay the original result.
func (h *handlers) applyCode(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req ApplyCodeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("codes.apply.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}
	if req.OrderID == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "orderId is required")
		return
	}
	if req.CartTotal < 0 {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidAmount, "cartTotal must be non-negative")
		return
	}

	result, err := h.promo.Apply(r.Context(), promo.ApplyRequest{
		Code:      req.Code,
		OrderID:   req.OrderID,
		CartTotal: req.CartTotal,
		Identity:  promo.Identity{UserID: req.UserID, Email: req.UserEmail},
	})
	if err != nil {
		if msg, ok := rejectionMessage(err); ok {
			responders.JSON(w, http.StatusOK, ApplyCodeResponse{Success: false, ErrorMessage: msg})
			return
		}
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("codes.apply.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Error al aplicar el código")
		return
	}

	if !result.Replayed {
		h.notifyRedemption(r, req, result)
	}

	newTotal := result.NewTotal
	responders.JSON(w, http.StatusOK, ApplyCodeResponse{
		Success:          true,
		Type:             string(result.Kind),
		DiscountApplied:  result.DiscountApplied,
		NewTotal:         &newTotal,
		Message:          result.Message,
		RemainingBalance: result.RemainingBalance,
	})
}

// rejectionMessage maps rule failures to their storefront text. Unknown codes
// get the generic message so the response does not reveal which namespace
// was checked.
func rejectionMessage(err error) (string, bool) {
	if errors.Is(err, promo.ErrCodeNotFound) {
		return promo.MsgCodeNotFound, true
	}
	if ie, ok := promo.AsIneligible(err); ok {
		return ie.Message, true
	}
	return "", false
}

func (h *handlers) notifyRedemption(r *http.Request, req ApplyCodeRequest, result promo.ApplyResult) {
	h.notifier.RedemptionApplied(r.Context(), callbacks.RedemptionEvent{
		Code:             promo.NormalizeCode(req.Code),
		Kind:             string(result.Kind),
		OrderID:          req.OrderID,
		UserID:           req.UserID,
		UserEmail:        req.UserEmail,
		DiscountApplied:  result.DiscountApplied,
		NewTotal:         result.NewTotal,
		RemainingBalance: result.RemainingBalance,
	})
}
