package promo

import (
	stderrors "errors"

	"github.com/telar-co/promo-server/internal/errors"
	"github.com/telar-co/promo-server/internal/money"
)

// ErrCodeNotFound is returned when a code matches neither a gift card nor a
// coupon. Callers surface it as a generic message that does not reveal which
// namespace was checked.
var ErrCodeNotFound = stderrors.New("promo code not found")

// ErrAlreadyRedeemed is returned by storage when a redemption already exists
// for the same (code, order) pair. The service resolves it by replaying the
// recorded result instead of failing the request.
var ErrAlreadyRedeemed = stderrors.New("code already redeemed for this order")

// ErrUpdateConflict is returned when the conditional balance/usage update
// matched no rows, meaning a concurrent redemption or state change won the race.
var ErrUpdateConflict = stderrors.New("concurrent update conflict")

// MsgCodeNotFound is the user-facing message for unknown codes.
const MsgCodeNotFound = "Código inválido o no encontrado"

// IneligibleError reports a rule failure during eligibility evaluation.
// Message is the Spanish storefront text shown to the buyer; Reason is the
// machine-readable code used for logs and metrics.
type IneligibleError struct {
	Reason  errors.ErrorCode
	Message string
}

func (e *IneligibleError) Error() string {
	return e.Message
}

// AsIneligible unwraps an IneligibleError from err, if present.
func AsIneligible(err error) (*IneligibleError, bool) {
	var ie *IneligibleError
	if stderrors.As(err, &ie) {
		return ie, true
	}
	return nil, false
}

func errGiftCardStatus(status GiftCardStatus) *IneligibleError {
	switch status {
	case GiftCardExpired:
		return &IneligibleError{Reason: errors.ErrCodeGiftCardExpired, Message: "Esta gift card ha expirado"}
	case GiftCardDepleted:
		return &IneligibleError{Reason: errors.ErrCodeGiftCardDepleted, Message: "Esta gift card ya fue utilizada completamente"}
	case GiftCardBlocked:
		return &IneligibleError{Reason: errors.ErrCodeGiftCardBlocked, Message: "Esta gift card está bloqueada"}
	default:
		return &IneligibleError{Reason: errors.ErrCodeInvalidCode, Message: "Gift card no válida"}
	}
}

func errGiftCardExpired() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeGiftCardExpired, Message: "Esta gift card ha expirado"}
}

func errGiftCardNoFunds() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeGiftCardNoFunds, Message: "Gift card sin saldo disponible"}
}

func errCouponInactive() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeCouponInactive, Message: "Cupón inactivo"}
}

func errCouponNotStarted() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeCouponNotStarted, Message: "Este cupón aún no está activo"}
}

func errCouponExpired() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeCouponExpired, Message: "Este cupón ha expirado"}
}

func errCouponBelowMinimum(minOrderAmount int64) *IneligibleError {
	return &IneligibleError{
		Reason:  errors.ErrCodeCouponBelowMinimum,
		Message: "Monto mínimo de compra: " + money.FormatCOP(minOrderAmount),
	}
}

func errCouponUsageLimit() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeCouponUsageLimitReached, Message: "Este cupón ya alcanzó su límite de usos"}
}

func errCouponUserLimit() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeCouponUserLimitReached, Message: "Ya usaste este cupón el máximo de veces permitido"}
}

func errCouponFirstPurchaseOnly() *IneligibleError {
	return &IneligibleError{Reason: errors.ErrCodeCouponFirstPurchaseOnly, Message: "Este cupón es solo para primera compra"}
}
