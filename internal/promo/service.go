package promo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/internal/metrics"
	"github.com/telar-co/promo-server/internal/money"
)

// ValidateRequest carries everything needed to quote a code against a cart.
type ValidateRequest struct {
	Code      string
	CartTotal int64
	Identity  Identity
}

// ValidateResult is the outcome of a successful validation.
type ValidateResult struct {
	Kind                     Kind
	DiscountAmount           int64
	NewTotal                 int64
	Message                  string
	RemainingBalanceAfterUse *int64
}

// ApplyRequest carries everything needed to record a redemption.
type ApplyRequest struct {
	Code      string
	OrderID   string
	CartTotal int64
	Identity  Identity
}

// ApplyResult is the outcome of a recorded (or replayed) redemption.
type ApplyResult struct {
	Kind             Kind
	DiscountApplied  int64
	NewTotal         int64
	Message          string
	RemainingBalance *int64
	Replayed         bool
}

// Service validates and redeems promo codes. Validation is read-only and
// repeatable; Apply records the redemption and is idempotent per
// (code, orderID).
type Service struct {
	repo      Repository
	evaluator *Evaluator
	metrics   *metrics.Metrics
}

// NewService creates a Service on top of the given repository.
func NewService(repo Repository, m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		evaluator: NewEvaluator(repo),
		metrics:   m,
	}
}

// WithClock overrides the eligibility clock. Test helper.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.evaluator.WithClock(now)
	return s
}

// Validate quotes a code against a cart without recording anything.
// Gift cards are checked before coupons: when a code exists in both
// namespaces the gift card wins.
func (s *Service) Validate(ctx context.Context, req ValidateRequest) (ValidateResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)
	code := NormalizeCode(req.Code)

	if code == "" {
		s.observeValidation(string(KindCoupon), false, start)
		return ValidateResult{}, ErrCodeNotFound
	}

	card, err := s.repo.FindGiftCard(ctx, code)
	if err == nil {
		result, verr := s.validateGiftCard(card, req.CartTotal)
		s.recordValidation(log, string(KindGiftCard), code, result.DiscountAmount, verr, start)
		return result, verr
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return ValidateResult{}, fmt.Errorf("lookup gift card: %w", err)
	}

	coupon, err := s.repo.FindCoupon(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		s.observeValidation(string(KindCoupon), false, start)
		return ValidateResult{}, ErrCodeNotFound
	}
	if err != nil {
		return ValidateResult{}, fmt.Errorf("lookup coupon: %w", err)
	}

	result, verr := s.validateCoupon(ctx, coupon, req.CartTotal, req.Identity)
	s.recordValidation(log, string(KindCoupon), code, result.DiscountAmount, verr, start)
	return result, verr
}

func (s *Service) validateGiftCard(card GiftCard, cartTotal int64) (ValidateResult, error) {
	if err := s.evaluator.EvaluateGiftCard(card); err != nil {
		return ValidateResult{}, err
	}

	discount := GiftCardDiscount(card, cartTotal)
	remaining := card.RemainingAmount - discount

	return ValidateResult{
		Kind:                     KindGiftCard,
		DiscountAmount:           discount,
		NewTotal:                 money.Sub(cartTotal, discount),
		Message:                  "Gift card válida - Saldo disponible: " + money.FormatCOP(card.RemainingAmount),
		RemainingBalanceAfterUse: &remaining,
	}, nil
}

func (s *Service) validateCoupon(ctx context.Context, coupon Coupon, cartTotal int64, identity Identity) (ValidateResult, error) {
	if err := s.evaluator.EvaluateCoupon(ctx, coupon, cartTotal, identity); err != nil {
		return ValidateResult{}, err
	}

	discount, err := CouponDiscount(coupon, cartTotal)
	if err != nil {
		return ValidateResult{}, err
	}

	return ValidateResult{
		Kind:           KindCoupon,
		DiscountAmount: discount,
		NewTotal:       money.Sub(cartTotal, discount),
		Message:        couponValidMessage(coupon),
	}, nil
}

func couponValidMessage(coupon Coupon) string {
	if coupon.Type == CouponPercent {
		return "Cupón válido - " + strconv.FormatFloat(coupon.Value, 'f', -1, 64) + "% de descuento"
	}
	return "Cupón válido - " + money.FormatCOP(int64(coupon.Value)) + " de descuento"
}

// Apply records a redemption for an order. The discount is re-derived from
// current stored state, never taken from the caller. A repeated call with the
// same (code, orderID) returns the originally recorded result.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (ApplyResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx)
	code := NormalizeCode(req.Code)

	if code == "" || req.OrderID == "" {
		s.observeRedemption(string(KindCoupon), "rejected", 0, start)
		return ApplyResult{}, ErrCodeNotFound
	}

	card, err := s.repo.FindGiftCard(ctx, code)
	if err == nil {
		return s.applyGiftCard(ctx, log, card, req, start)
	}
	if !errors.Is(err, ErrCodeNotFound) {
		return ApplyResult{}, fmt.Errorf("lookup gift card: %w", err)
	}

	coupon, err := s.repo.FindCoupon(ctx, code)
	if errors.Is(err, ErrCodeNotFound) {
		s.observeRedemption(string(KindCoupon), "rejected", 0, start)
		return ApplyResult{}, ErrCodeNotFound
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("lookup coupon: %w", err)
	}

	return s.applyCoupon(ctx, log, coupon, req, start)
}

func (s *Service) applyGiftCard(ctx context.Context, log zerolog.Logger, card GiftCard, req ApplyRequest, start time.Time) (ApplyResult, error) {
	kind := string(KindGiftCard)

	if err := s.evaluator.EvaluateGiftCard(card); err != nil {
		// An order that already consumed this card may legitimately retry
		// after the balance dropped. Replay before rejecting.
		if result, ok := s.replay(ctx, card.Code, req.OrderID, req.CartTotal, start); ok {
			return result, nil
		}
		s.observeRedemption(kind, "rejected", 0, start)
		return ApplyResult{}, err
	}

	amount := GiftCardDiscount(card, req.CartTotal)
	red := Redemption{
		Code:      card.Code,
		Kind:      KindGiftCard,
		OrderID:   req.OrderID,
		UserID:    req.Identity.UserID,
		UserEmail: req.Identity.Email,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}

	updated, err := s.repo.RedeemGiftCard(ctx, red)
	if errors.Is(err, ErrAlreadyRedeemed) {
		if result, ok := s.replay(ctx, card.Code, req.OrderID, req.CartTotal, start); ok {
			return result, nil
		}
		s.observeRedemption(kind, "conflict", 0, start)
		return ApplyResult{}, ErrAlreadyRedeemed
	}
	if errors.Is(err, ErrUpdateConflict) {
		// A concurrent redemption won the race between our read and the
		// conditional decrement. Re-read for a precise rejection reason.
		if current, ferr := s.repo.FindGiftCard(ctx, card.Code); ferr == nil {
			if verr := s.evaluator.EvaluateGiftCard(current); verr != nil {
				s.observeRedemption(kind, "rejected", 0, start)
				return ApplyResult{}, verr
			}
		}
		s.observeRedemption(kind, "conflict", 0, start)
		return ApplyResult{}, ErrUpdateConflict
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("redeem gift card: %w", err)
	}

	s.observeRedemption(kind, "applied", amount, start)
	log.Info().
		Str("code", card.Code).
		Str("order_id", req.OrderID).
		Int64("amount", amount).
		Int64("remaining", updated.RemainingAmount).
		Msg("gift card redeemed")

	remaining := updated.RemainingAmount
	return ApplyResult{
		Kind:             KindGiftCard,
		DiscountApplied:  amount,
		NewTotal:         money.Sub(req.CartTotal, amount),
		Message:          "Gift card aplicada exitosamente",
		RemainingBalance: &remaining,
	}, nil
}

func (s *Service) applyCoupon(ctx context.Context, log zerolog.Logger, coupon Coupon, req ApplyRequest, start time.Time) (ApplyResult, error) {
	kind := string(KindCoupon)

	if err := s.evaluator.EvaluateCoupon(ctx, coupon, req.CartTotal, req.Identity); err != nil {
		// The per-user limit may only be exhausted because this very order
		// already redeemed. Replay before rejecting.
		if result, ok := s.replay(ctx, coupon.Code, req.OrderID, req.CartTotal, start); ok {
			return result, nil
		}
		s.observeRedemption(kind, "rejected", 0, start)
		return ApplyResult{}, err
	}

	amount, err := CouponDiscount(coupon, req.CartTotal)
	if err != nil {
		return ApplyResult{}, err
	}

	red := Redemption{
		Code:      coupon.Code,
		Kind:      KindCoupon,
		OrderID:   req.OrderID,
		UserID:    req.Identity.UserID,
		UserEmail: req.Identity.Email,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}

	err = s.repo.RedeemCoupon(ctx, red)
	if errors.Is(err, ErrAlreadyRedeemed) {
		if result, ok := s.replay(ctx, coupon.Code, req.OrderID, req.CartTotal, start); ok {
			return result, nil
		}
		s.observeRedemption(kind, "conflict", 0, start)
		return ApplyResult{}, ErrAlreadyRedeemed
	}
	if errors.Is(err, ErrUpdateConflict) {
		s.observeRedemption(kind, "rejected", 0, start)
		return ApplyResult{}, errCouponInactive()
	}
	if err != nil {
		return ApplyResult{}, fmt.Errorf("redeem coupon: %w", err)
	}

	s.observeRedemption(kind, "applied", amount, start)
	log.Info().
		Str("code", coupon.Code).
		Str("order_id", req.OrderID).
		Int64("amount", amount).
		Msg("coupon redeemed")

	return ApplyResult{
		Kind:            KindCoupon,
		DiscountApplied: amount,
		NewTotal:        money.Sub(req.CartTotal, amount),
		Message:         "Cupón aplicado exitosamente",
	}, nil
}

// replay reconstructs the result previously recorded for (code, orderID).
// The new total is re-derived from the recorded amount so a retried Apply
// returns the same totals as the original. Returns false when no prior
// redemption exists.
func (s *Service) replay(ctx context.Context, code, orderID string, cartTotal int64, start time.Time) (ApplyResult, bool) {
	red, err := s.repo.FindRedemption(ctx, code, orderID)
	if err != nil {
		return ApplyResult{}, false
	}

	result := ApplyResult{
		Kind:            red.Kind,
		DiscountApplied: red.Amount,
		NewTotal:        money.Sub(cartTotal, red.Amount),
		Replayed:        true,
	}

	switch red.Kind {
	case KindGiftCard:
		result.Message = "Gift card aplicada exitosamente"
		if card, err := s.repo.FindGiftCard(ctx, code); err == nil {
			remaining := card.RemainingAmount
			result.RemainingBalance = &remaining
		}
	default:
		result.Message = "Cupón aplicado exitosamente"
	}

	if s.metrics != nil {
		s.metrics.ObserveRedemptionReplay(string(red.Kind))
		s.metrics.ObserveRedemption(string(red.Kind), "replayed", 0, time.Since(start))
	}

	return result, true
}

func (s *Service) recordValidation(log zerolog.Logger, kind, code string, discount int64, verr error, start time.Time) {
	s.observeValidation(kind, verr == nil, start)
	if verr == nil {
		log.Debug().Str("code", code).Int64("discount", discount).Msg("code validated")
		return
	}
	if ie, ok := AsIneligible(verr); ok && s.metrics != nil {
		s.metrics.ObserveValidationFailure(kind, string(ie.Reason))
	}
}

func (s *Service) observeValidation(kind string, valid bool, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveValidation(kind, valid, time.Since(start))
	}
}

func (s *Service) observeRedemption(kind, status string, amount int64, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRedemption(kind, status, amount, time.Since(start))
	}
}
