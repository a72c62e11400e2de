package promo

import (
	"context"
	"testing"
	"time"
)

// fixedNow is the reference instant for date-window tests.
var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestEvaluator(repo *MemoryRepository) *Evaluator {
	return NewEvaluator(repo).WithClock(func() time.Time { return fixedNow })
}

func timePtr(t time.Time) *time.Time { return &t }

func TestEvaluateGiftCard(t *testing.T) {
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name       string
		card       GiftCard
		wantErr    bool
		wantReason string
	}{
		{
			name: "active card with balance",
			card: GiftCard{Status: GiftCardActive, RemainingAmount: 10000},
		},
		{
			name: "active card with future expiration",
			card: GiftCard{Status: GiftCardActive, RemainingAmount: 10000, ExpirationDate: timePtr(future)},
		},
		{
			name:    "expired status",
			card:    GiftCard{Status: GiftCardExpired, RemainingAmount: 10000},
			wantErr: true,
		},
		{
			name:    "depleted status",
			card:    GiftCard{Status: GiftCardDepleted, RemainingAmount: 0},
			wantErr: true,
		},
		{
			name:    "blocked status",
			card:    GiftCard{Status: GiftCardBlocked, RemainingAmount: 10000},
			wantErr: true,
		},
		{
			name:    "active but past expiration date",
			card:    GiftCard{Status: GiftCardActive, RemainingAmount: 10000, ExpirationDate: timePtr(past)},
			wantErr: true,
		},
		{
			name:    "active but zero balance",
			card:    GiftCard{Status: GiftCardActive, RemainingAmount: 0},
			wantErr: true,
		},
	}

	ev := newTestEvaluator(NewMemoryRepository())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ev.EvaluateGiftCard(tt.card)
			if tt.wantErr && err == nil {
				t.Error("expected ineligibility error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr {
				if _, ok := AsIneligible(err); !ok {
					t.Errorf("expected IneligibleError, got %T", err)
				}
			}
		})
	}
}

func TestEvaluateGiftCard_StatusBeatsExpiration(t *testing.T) {
	// A blocked card that is also expired reports the status reason, not expiration.
	past := fixedNow.Add(-time.Hour)
	card := GiftCard{Status: GiftCardBlocked, RemainingAmount: 5000, ExpirationDate: timePtr(past)}

	err := newTestEvaluator(NewMemoryRepository()).EvaluateGiftCard(card)
	ie, ok := AsIneligible(err)
	if !ok {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	if ie.Message != "Esta gift card está bloqueada" {
		t.Errorf("message = %q, want blocked message", ie.Message)
	}
}

func TestEvaluateCoupon_DateWindow(t *testing.T) {
	tests := []struct {
		name    string
		coupon  Coupon
		wantMsg string
	}{
		{
			name:   "no dates",
			coupon: Coupon{Code: "A", IsActive: true, Type: CouponPercent, Value: 10},
		},
		{
			name: "inside window",
			coupon: Coupon{
				Code: "B", IsActive: true, Type: CouponPercent, Value: 10,
				StartDate: timePtr(fixedNow.Add(-time.Hour)),
				EndDate:   timePtr(fixedNow.Add(time.Hour)),
			},
		},
		{
			name:    "inactive",
			coupon:  Coupon{Code: "C", IsActive: false, Type: CouponPercent, Value: 10},
			wantMsg: "Cupón inactivo",
		},
		{
			name: "not started",
			coupon: Coupon{
				Code: "D", IsActive: true, Type: CouponPercent, Value: 10,
				StartDate: timePtr(fixedNow.Add(time.Hour)),
			},
			wantMsg: "Este cupón aún no está activo",
		},
		{
			name: "expired",
			coupon: Coupon{
				Code: "E", IsActive: true, Type: CouponPercent, Value: 10,
				EndDate: timePtr(fixedNow.Add(-time.Hour)),
			},
			wantMsg: "Este cupón ha expirado",
		},
	}

	ev := newTestEvaluator(NewMemoryRepository())
	identity := Identity{UserID: "user-1"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ev.EvaluateCoupon(context.Background(), tt.coupon, 100000, identity)
			if tt.wantMsg == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			ie, ok := AsIneligible(err)
			if !ok {
				t.Fatalf("expected IneligibleError, got %v", err)
			}
			if ie.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", ie.Message, tt.wantMsg)
			}
		})
	}
}

func TestEvaluateCoupon_MinOrderAmount(t *testing.T) {
	coupon := Coupon{
		Code: "SAVE20", IsActive: true, Type: CouponPercent, Value: 20,
		MinOrderAmount: int64Ptr(50000),
	}
	ev := newTestEvaluator(NewMemoryRepository())

	err := ev.EvaluateCoupon(context.Background(), coupon, 40000, Identity{UserID: "u1"})
	ie, ok := AsIneligible(err)
	if !ok {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	if ie.Message != "Monto mínimo de compra: $50.000" {
		t.Errorf("message = %q, want formatted minimum", ie.Message)
	}

	if err := ev.EvaluateCoupon(context.Background(), coupon, 50000, Identity{UserID: "u1"}); err != nil {
		t.Errorf("cart at exact minimum should pass, got %v", err)
	}
}

func TestEvaluateCoupon_TotalUsageLimit(t *testing.T) {
	coupon := Coupon{
		Code: "LIM", IsActive: true, Type: CouponFixed, Value: 1000,
		UsageLimitTotal: intPtr(100), TimesUsed: 100,
	}
	ev := newTestEvaluator(NewMemoryRepository())

	err := ev.EvaluateCoupon(context.Background(), coupon, 10000, Identity{UserID: "u1"})
	ie, ok := AsIneligible(err)
	if !ok {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	if ie.Message != "Este cupón ya alcanzó su límite de usos" {
		t.Errorf("message = %q", ie.Message)
	}
}

func TestEvaluateCoupon_PerUserLimit(t *testing.T) {
	repo := NewMemoryRepository()
	ev := newTestEvaluator(repo)
	ctx := context.Background()

	coupon := Coupon{
		Code: "ONCE", IsActive: true, Type: CouponFixed, Value: 1000,
		UsageLimitPerUser: intPtr(1),
	}

	repo.SeedCoupon(coupon)

	identity := Identity{UserID: "user-1"}
	if err := ev.EvaluateCoupon(ctx, coupon, 10000, identity); err != nil {
		t.Fatalf("first use should pass: %v", err)
	}

	if err := repo.RedeemCoupon(ctx, Redemption{
		Code: "ONCE", Kind: KindCoupon, OrderID: "order-1",
		UserID: "user-1", Amount: 1000, CreatedAt: fixedNow,
	}); err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	err := ev.EvaluateCoupon(ctx, coupon, 10000, identity)
	ie, ok := AsIneligible(err)
	if !ok {
		t.Fatalf("expected IneligibleError after limit, got %v", err)
	}
	if ie.Message != "Ya usaste este cupón el máximo de veces permitido" {
		t.Errorf("message = %q", ie.Message)
	}

	// A different user is unaffected.
	if err := ev.EvaluateCoupon(ctx, coupon, 10000, Identity{UserID: "user-2"}); err != nil {
		t.Errorf("other user should pass: %v", err)
	}
}

func TestEvaluateCoupon_PerUserLimitByEmail(t *testing.T) {
	repo := NewMemoryRepository()
	ev := newTestEvaluator(repo)
	ctx := context.Background()

	coupon := Coupon{
		Code: "MAIL", IsActive: true, Type: CouponFixed, Value: 1000,
		UsageLimitPerUser: intPtr(1),
	}
	repo.SeedCoupon(coupon)

	if err := repo.RedeemCoupon(ctx, Redemption{
		Code: "MAIL", Kind: KindCoupon, OrderID: "order-1",
		UserEmail: "ana@example.com", Amount: 1000, CreatedAt: fixedNow,
	}); err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	err := ev.EvaluateCoupon(ctx, coupon, 10000, Identity{Email: "ana@example.com"})
	if _, ok := AsIneligible(err); !ok {
		t.Errorf("expected limit error for matching email, got %v", err)
	}
}

func TestEvaluateCoupon_FirstPurchaseOnly(t *testing.T) {
	repo := NewMemoryRepository()
	ev := newTestEvaluator(repo)
	ctx := context.Background()

	coupon := Coupon{
		Code: "WELCOME", IsActive: true, Type: CouponPercent, Value: 15,
		Conditions: map[string]bool{ConditionFirstPurchase: true},
	}

	identity := Identity{UserID: "user-1"}
	if err := ev.EvaluateCoupon(ctx, coupon, 10000, identity); err != nil {
		t.Fatalf("fresh identity should pass: %v", err)
	}

	// Any prior coupon redemption disqualifies, not just this code.
	other := Coupon{Code: "OTHER", IsActive: true, Type: CouponFixed, Value: 500}
	repo.SeedCoupon(other)
	if err := repo.RedeemCoupon(ctx, Redemption{
		Code: "OTHER", Kind: KindCoupon, OrderID: "order-1",
		UserID: "user-1", Amount: 500, CreatedAt: fixedNow,
	}); err != nil {
		t.Fatalf("seed redemption: %v", err)
	}

	err := ev.EvaluateCoupon(ctx, coupon, 10000, identity)
	ie, ok := AsIneligible(err)
	if !ok {
		t.Fatalf("expected IneligibleError, got %v", err)
	}
	if ie.Message != "Este cupón es solo para primera compra" {
		t.Errorf("message = %q", ie.Message)
	}
}

func TestEvaluateCoupon_GuestSkipsIdentityChecks(t *testing.T) {
	repo := NewMemoryRepository()
	ev := newTestEvaluator(repo)

	coupon := Coupon{
		Code: "WELCOME", IsActive: true, Type: CouponPercent, Value: 15,
		UsageLimitPerUser: intPtr(1),
		Conditions:        map[string]bool{ConditionFirstPurchase: true},
	}

	// No identity: per-user and first-purchase checks cannot run and pass.
	if err := ev.EvaluateCoupon(context.Background(), coupon, 10000, Identity{}); err != nil {
		t.Errorf("guest checkout should skip identity checks, got %v", err)
	}
}
