package promo

import (
	"context"
	"fmt"
	"time"
)

// RedemptionCounter provides the redemption counts needed by coupon
// eligibility rules. Implemented by the storage repository.
type RedemptionCounter interface {
	// CountByCoupon returns how many times the identity has redeemed the
	// given coupon code.
	CountByCoupon(ctx context.Context, code string, identity Identity) (int, error)

	// CountByIdentity returns how many coupon redemptions the identity has
	// across all codes.
	CountByIdentity(ctx context.Context, identity Identity) (int, error)
}

// Evaluator decides whether a code may be used right now. The clock is
// injectable so date-window rules are testable.
type Evaluator struct {
	counter RedemptionCounter
	now     func() time.Time
}

// NewEvaluator creates an Evaluator backed by the given redemption counts.
func NewEvaluator(counter RedemptionCounter) *Evaluator {
	return &Evaluator{counter: counter, now: time.Now}
}

// WithClock overrides the evaluator's clock. Test helper.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

// EvaluateGiftCard returns nil if the card is usable, or an IneligibleError.
// The stored status flag is advisory: the expiration date is checked
// independently so a stale "active" status cannot resurrect an expired card.
func (e *Evaluator) EvaluateGiftCard(card GiftCard) error {
	if card.Status != GiftCardActive {
		return errGiftCardStatus(card.Status)
	}
	if card.ExpirationDate != nil && card.ExpirationDate.Before(e.now()) {
		return errGiftCardExpired()
	}
	if card.RemainingAmount <= 0 {
		return errGiftCardNoFunds()
	}
	return nil
}

// EvaluateCoupon returns nil if the coupon may be applied to a cart of the
// given total, or an IneligibleError for the first rule that fails.
//
// Checks run cheapest-first: flags and dates before anything that needs a
// database count. A zero identity (guest checkout) skips the per-user and
// first-purchase checks entirely; the storefront treats those dimensions as
// satisfied when it cannot attribute the purchase to anyone.
func (e *Evaluator) EvaluateCoupon(ctx context.Context, coupon Coupon, cartTotal int64, identity Identity) error {
	if !coupon.IsActive {
		return errCouponInactive()
	}

	now := e.now()
	if coupon.StartDate != nil && now.Before(*coupon.StartDate) {
		return errCouponNotStarted()
	}
	if coupon.EndDate != nil && now.After(*coupon.EndDate) {
		return errCouponExpired()
	}

	if coupon.MinOrderAmount != nil && cartTotal < *coupon.MinOrderAmount {
		return errCouponBelowMinimum(*coupon.MinOrderAmount)
	}

	if coupon.UsageLimitTotal != nil && coupon.TimesUsed >= *coupon.UsageLimitTotal {
		return errCouponUsageLimit()
	}

	if coupon.UsageLimitPerUser != nil && !identity.IsZero() {
		count, err := e.counter.CountByCoupon(ctx, coupon.Code, identity)
		if err != nil {
			return fmt.Errorf("count coupon redemptions: %w", err)
		}
		if count >= *coupon.UsageLimitPerUser {
			return errCouponUserLimit()
		}
	}

	if coupon.FirstPurchaseOnly() && !identity.IsZero() {
		count, err := e.counter.CountByIdentity(ctx, identity)
		if err != nil {
			return fmt.Errorf("count identity redemptions: %w", err)
		}
		if count > 0 {
			return errCouponFirstPurchaseOnly()
		}
	}

	return nil
}
