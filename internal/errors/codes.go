package errors

// ErrorCode represents a machine-readable error identifier for frontend error handling.
type ErrorCode string

// Promo code errors
const (
	// Code string matches no gift card or coupon. Deliberately generic so
	// the response does not reveal which namespace was checked.
	ErrCodeInvalidCode ErrorCode = "invalid_code"

	// Gift card rule failures
	ErrCodeGiftCardExpired  ErrorCode = "gift_card_expired"
	ErrCodeGiftCardDepleted ErrorCode = "gift_card_depleted"
	ErrCodeGiftCardBlocked  ErrorCode = "gift_card_blocked"
	ErrCodeGiftCardNoFunds  ErrorCode = "gift_card_no_funds"

	// Coupon rule failures
	ErrCodeCouponInactive          ErrorCode = "coupon_inactive"
	ErrCodeCouponNotStarted        ErrorCode = "coupon_not_started"
	ErrCodeCouponExpired           ErrorCode = "coupon_expired"
	ErrCodeCouponBelowMinimum      ErrorCode = "coupon_below_minimum"
	ErrCodeCouponUsageLimitReached ErrorCode = "coupon_usage_limit_reached"
	ErrCodeCouponUserLimitReached  ErrorCode = "coupon_user_limit_reached"
	ErrCodeCouponFirstPurchaseOnly ErrorCode = "coupon_first_purchase_only"

	// Application conflicts
	ErrCodeAlreadyRedeemed ErrorCode = "already_redeemed"
	ErrCodeUpdateConflict  ErrorCode = "update_conflict"
)

// Request validation errors
const (
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
	ErrCodeInvalidAmount ErrorCode = "invalid_amount"
)

// Authorization errors
const (
	ErrCodeUnauthorized ErrorCode = "unauthorized"
	ErrCodeForbidden    ErrorCode = "forbidden"
)

// External service errors
const (
	ErrCodePaymentProviderError ErrorCode = "payment_provider_error"
	ErrCodeNetworkError         ErrorCode = "network_error"
)

// Internal/system errors
const (
	ErrCodeInternalError ErrorCode = "internal_error"
	ErrCodeDatabaseError ErrorCode = "database_error"
	ErrCodeConfigError   ErrorCode = "config_error"
)

// IsRetryable returns whether an error code represents a retryable error.
// Retryable errors are transient network/service issues, not rule failures.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodePaymentProviderError,
		ErrCodeNetworkError,
		ErrCodeDatabaseError,
		ErrCodeUpdateConflict:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	// 400 Bad Request - malformed or incomplete requests
	case ErrCodeMissingField,
		ErrCodeInvalidField,
		ErrCodeInvalidAmount,
		ErrCodeInvalidCode:
		return 400

	// 401/403 - authorization failures on admin endpoints
	case ErrCodeUnauthorized:
		return 401
	case ErrCodeForbidden:
		return 403

	// 409 Conflict - business rule conflicts on the application path
	case ErrCodeGiftCardExpired,
		ErrCodeGiftCardDepleted,
		ErrCodeGiftCardBlocked,
		ErrCodeGiftCardNoFunds,
		ErrCodeCouponInactive,
		ErrCodeCouponNotStarted,
		ErrCodeCouponExpired,
		ErrCodeCouponBelowMinimum,
		ErrCodeCouponUsageLimitReached,
		ErrCodeCouponUserLimitReached,
		ErrCodeCouponFirstPurchaseOnly,
		ErrCodeAlreadyRedeemed,
		ErrCodeUpdateConflict:
		return 409

	// 502 Bad Gateway - external service errors
	case ErrCodePaymentProviderError,
		ErrCodeNetworkError:
		return 502

	// 500 Internal Server Error - system/internal errors
	default:
		return 500
	}
}
