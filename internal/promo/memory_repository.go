package promo

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository implements Repository with in-process maps. It backs the
// "memory" backend for local development and tests.
type MemoryRepository struct {
	mu          sync.RWMutex
	giftCards   map[string]GiftCard
	coupons     map[string]Coupon
	redemptions map[redemptionKey]Redemption
}

type redemptionKey struct {
	code    string
	orderID string
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		giftCards:   make(map[string]GiftCard),
		coupons:     make(map[string]Coupon),
		redemptions: make(map[redemptionKey]Redemption),
	}
}

// SeedGiftCard stores a gift card, replacing any existing entry.
func (r *MemoryRepository) SeedGiftCard(card GiftCard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.giftCards[card.Code] = card
}

// SeedCoupon stores a coupon, replacing any existing entry.
func (r *MemoryRepository) SeedCoupon(coupon Coupon) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.coupons[coupon.Code] = coupon
}

func (r *MemoryRepository) FindGiftCard(ctx context.Context, code string) (GiftCard, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	card, ok := r.giftCards[code]
	if !ok {
		return GiftCard{}, ErrCodeNotFound
	}
	return card, nil
}

func (r *MemoryRepository) FindCoupon(ctx context.Context, code string) (Coupon, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	coupon, ok := r.coupons[code]
	if !ok {
		return Coupon{}, ErrCodeNotFound
	}
	return coupon, nil
}

func (r *MemoryRepository) CreateGiftCard(ctx context.Context, card GiftCard) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.giftCards[card.Code]; exists {
		return ErrAlreadyRedeemed
	}
	r.giftCards[card.Code] = card
	return nil
}

func (r *MemoryRepository) CountByCoupon(ctx context.Context, code string, identity Identity) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, red := range r.redemptions {
		if red.Code != code {
			continue
		}
		if matchesIdentity(red, identity) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) CountByIdentity(ctx context.Context, identity Identity) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, red := range r.redemptions {
		if red.Kind != KindCoupon {
			continue
		}
		if matchesIdentity(red, identity) {
			count++
		}
	}
	return count, nil
}

// matchesIdentity mirrors the lookup precedence used at eligibility time:
// match on user ID when the caller has one, otherwise on email.
func matchesIdentity(red Redemption, identity Identity) bool {
	if identity.UserID != "" {
		return red.UserID == identity.UserID
	}
	return identity.Email != "" && red.UserEmail == identity.Email
}

func (r *MemoryRepository) FindRedemption(ctx context.Context, code, orderID string) (Redemption, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	red, ok := r.redemptions[redemptionKey{code: code, orderID: orderID}]
	if !ok {
		return Redemption{}, ErrCodeNotFound
	}
	return red, nil
}

func (r *MemoryRepository) RedeemGiftCard(ctx context.Context, red Redemption) (GiftCard, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := redemptionKey{code: red.Code, orderID: red.OrderID}
	if _, exists := r.redemptions[key]; exists {
		return GiftCard{}, ErrAlreadyRedeemed
	}

	card, ok := r.giftCards[red.Code]
	if !ok {
		return GiftCard{}, ErrUpdateConflict
	}
	if card.Status != GiftCardActive || card.RemainingAmount < red.Amount {
		return GiftCard{}, ErrUpdateConflict
	}

	card.RemainingAmount -= red.Amount
	if card.RemainingAmount == 0 {
		card.Status = GiftCardDepleted
	}
	card.UpdatedAt = time.Now().UTC()

	r.giftCards[red.Code] = card
	r.redemptions[key] = red
	return card, nil
}

func (r *MemoryRepository) RedeemCoupon(ctx context.Context, red Redemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := redemptionKey{code: red.Code, orderID: red.OrderID}
	if _, exists := r.redemptions[key]; exists {
		return ErrAlreadyRedeemed
	}

	coupon, ok := r.coupons[red.Code]
	if !ok {
		return ErrUpdateConflict
	}
	if !coupon.IsActive {
		return ErrUpdateConflict
	}
	if coupon.UsageLimitTotal != nil && coupon.TimesUsed >= *coupon.UsageLimitTotal {
		return ErrUpdateConflict
	}

	coupon.TimesUsed++
	coupon.UpdatedAt = time.Now().UTC()

	r.coupons[red.Code] = coupon
	r.redemptions[key] = red
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}
