package promo

import (
	"fmt"
	"math"

	"github.com/telar-co/promo-server/internal/money"
)

// GiftCardDiscount computes the discount a gift card grants against a cart
// total: the full remaining balance, capped at the cart total.
func GiftCardDiscount(card GiftCard, cartTotal int64) int64 {
	return money.Min(cartTotal, card.RemainingAmount)
}

// CouponDiscount computes the discount a coupon grants against a cart total.
// Percentage values round half-up to the nearest minor unit; the result is
// capped by MaxDiscountAmount (when set) and never exceeds the cart total.
// Pure arithmetic: validation and application must call this with the same
// inputs to quote and charge the same amount.
func CouponDiscount(coupon Coupon, cartTotal int64) (int64, error) {
	var raw int64
	switch coupon.Type {
	case CouponPercent:
		amount, err := money.PercentOf(cartTotal, coupon.Value)
		if err != nil {
			return 0, fmt.Errorf("percent discount for %s: %w", coupon.Code, err)
		}
		raw = amount
	case CouponFixed:
		raw = int64(math.Round(coupon.Value))
	default:
		return 0, fmt.Errorf("unknown coupon type %q", coupon.Type)
	}

	if coupon.MaxDiscountAmount != nil && raw > *coupon.MaxDiscountAmount {
		raw = *coupon.MaxDiscountAmount
	}

	return money.Min(raw, cartTotal), nil
}
