package promo

import (
	"context"
	"sync"
	"time"

	"github.com/telar-co/promo-server/internal/cacheutil"
)

// CachedRepository wraps any Repository with a TTL-based lookup cache.
// Only code lookups are cached; redemption counts and writes always hit
// the underlying store so eligibility decisions never run on stale data.
type CachedRepository struct {
	underlying      Repository
	cacheTTL        time.Duration
	mu              sync.RWMutex
	cachedGiftCards map[string]cacheutil.CachedValue[GiftCard]
	cachedCoupons   map[string]cacheutil.CachedValue[Coupon]
}

// NewCachedRepository wraps a repository with caching.
func NewCachedRepository(underlying Repository, cacheTTL time.Duration) *CachedRepository {
	return &CachedRepository{
		underlying:      underlying,
		cacheTTL:        cacheTTL,
		cachedGiftCards: make(map[string]cacheutil.CachedValue[GiftCard]),
		cachedCoupons:   make(map[string]cacheutil.CachedValue[Coupon]),
	}
}

// FindGiftCard retrieves a gift card with caching.
func (r *CachedRepository) FindGiftCard(ctx context.Context, code string) (GiftCard, error) {
	if r.cacheTTL == 0 {
		return r.underlying.FindGiftCard(ctx, code)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (GiftCard, bool) {
			if entry, ok := r.cachedGiftCards[code]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return GiftCard{}, false
		},
		func(now time.Time) (GiftCard, error) {
			card, err := r.underlying.FindGiftCard(ctx, code)
			if err != nil {
				return GiftCard{}, err
			}
			r.cachedGiftCards[code] = cacheutil.CachedValue[GiftCard]{
				Value:     card,
				FetchedAt: now,
			}
			return card, nil
		},
	)
}

// FindCoupon retrieves a coupon with caching.
func (r *CachedRepository) FindCoupon(ctx context.Context, code string) (Coupon, error) {
	if r.cacheTTL == 0 {
		return r.underlying.FindCoupon(ctx, code)
	}

	return cacheutil.ReadThrough(
		&r.mu,
		func(now time.Time) (Coupon, bool) {
			if entry, ok := r.cachedCoupons[code]; ok && now.Sub(entry.FetchedAt) < r.cacheTTL {
				return entry.Value, true
			}
			return Coupon{}, false
		},
		func(now time.Time) (Coupon, error) {
			coupon, err := r.underlying.FindCoupon(ctx, code)
			if err != nil {
				return Coupon{}, err
			}
			r.cachedCoupons[code] = cacheutil.CachedValue[Coupon]{
				Value:     coupon,
				FetchedAt: now,
			}
			return coupon, nil
		},
	)
}

// CreateGiftCard creates a gift card and invalidates its cache entry.
func (r *CachedRepository) CreateGiftCard(ctx context.Context, card GiftCard) error {
	return cacheutil.WriteThrough(func() {
		r.invalidateGiftCard(card.Code)
	}, func() error {
		return r.underlying.CreateGiftCard(ctx, card)
	})
}

// CountByCoupon delegates to the underlying repository (no caching).
func (r *CachedRepository) CountByCoupon(ctx context.Context, code string, identity Identity) (int, error) {
	return r.underlying.CountByCoupon(ctx, code, identity)
}

// CountByIdentity delegates to the underlying repository (no caching).
func (r *CachedRepository) CountByIdentity(ctx context.Context, identity Identity) (int, error) {
	return r.underlying.CountByIdentity(ctx, identity)
}

// FindRedemption delegates to the underlying repository (no caching).
func (r *CachedRepository) FindRedemption(ctx context.Context, code, orderID string) (Redemption, error) {
	return r.underlying.FindRedemption(ctx, code, orderID)
}

// RedeemGiftCard redeems and invalidates the card's cache entry.
func (r *CachedRepository) RedeemGiftCard(ctx context.Context, red Redemption) (GiftCard, error) {
	card, err := r.underlying.RedeemGiftCard(ctx, red)
	if err != nil {
		return GiftCard{}, err
	}

	r.mu.Lock()
	r.cachedGiftCards[red.Code] = cacheutil.CachedValue[GiftCard]{
		Value:     card,
		FetchedAt: time.Now(),
	}
	r.mu.Unlock()

	return card, nil
}

// RedeemCoupon redeems and invalidates the coupon's cache entry.
func (r *CachedRepository) RedeemCoupon(ctx context.Context, red Redemption) error {
	err := r.underlying.RedeemCoupon(ctx, red)
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cachedCoupons, red.Code)
	r.mu.Unlock()

	return nil
}

// Close closes the underlying repository.
func (r *CachedRepository) Close() error {
	return r.underlying.Close()
}

// InvalidateCache forces the next lookups to fetch fresh data.
func (r *CachedRepository) InvalidateCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cachedGiftCards = make(map[string]cacheutil.CachedValue[GiftCard])
	r.cachedCoupons = make(map[string]cacheutil.CachedValue[Coupon])
}

func (r *CachedRepository) invalidateGiftCard(code string) {
	r.mu.Lock()
	delete(r.cachedGiftCards, code)
	r.mu.Unlock()
}
