package promo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/metrics"
)

// Repository defines the storage interface for promo codes and redemptions.
type Repository interface {
	// FindGiftCard retrieves a gift card by normalized code.
	// Returns ErrCodeNotFound when no card matches.
	FindGiftCard(ctx context.Context, code string) (GiftCard, error)

	// FindCoupon retrieves a coupon by normalized code.
	// Returns ErrCodeNotFound when no coupon matches.
	FindCoupon(ctx context.Context, code string) (Coupon, error)

	// CreateGiftCard persists a newly issued gift card.
	CreateGiftCard(ctx context.Context, card GiftCard) error

	// CountByCoupon returns redemption counts for a coupon by one identity.
	CountByCoupon(ctx context.Context, code string, identity Identity) (int, error)

	// CountByIdentity returns an identity's redemption count across all coupons.
	CountByIdentity(ctx context.Context, identity Identity) (int, error)

	// FindRedemption retrieves the redemption recorded for (code, orderID).
	// Returns ErrCodeNotFound when none exists.
	FindRedemption(ctx context.Context, code, orderID string) (Redemption, error)

	// RedeemGiftCard atomically decrements the card's balance by red.Amount,
	// flips its status to depleted at zero, and inserts the redemption record.
	// Returns the card state after the decrement.
	// Returns ErrAlreadyRedeemed when (code, orderID) was already recorded and
	// ErrUpdateConflict when the conditional decrement matched no rows.
	RedeemGiftCard(ctx context.Context, red Redemption) (GiftCard, error)

	// RedeemCoupon atomically increments the coupon's usage counter and
	// inserts the redemption record.
	// Returns ErrAlreadyRedeemed when (code, orderID) was already recorded and
	// ErrUpdateConflict when the coupon vanished or went inactive mid-flight.
	RedeemCoupon(ctx context.Context, red Redemption) error

	// Close closes any open connections.
	Close() error
}

// NewRepository creates a promo repository based on config.
func NewRepository(cfg config.PromoConfig, m *metrics.Metrics) (Repository, error) {
	return NewRepositoryWithDB(cfg, nil, m)
}

// NewRepositoryWithDB creates a promo repository with an optional shared
// database pool. If sharedDB is non-nil for the postgres backend, it is used
// instead of opening a new connection.
func NewRepositoryWithDB(cfg config.PromoConfig, sharedDB *sql.DB, m *metrics.Metrics) (Repository, error) {
	var underlying Repository
	var err error

	switch cfg.Backend {
	case "memory", "":
		underlying = NewMemoryRepository()
	case "postgres":
		if cfg.PostgresURL == "" && sharedDB == nil {
			return nil, errors.New("postgres_url required when promo backend is 'postgres'")
		}
		var pgRepo *PostgresRepository
		if sharedDB != nil {
			pgRepo, err = NewPostgresRepositoryWithDB(sharedDB)
		} else {
			pgRepo, err = NewPostgresRepository(cfg.PostgresURL, cfg.PostgresPool)
		}
		if err != nil {
			return nil, err
		}
		pgRepo.WithTableNames(cfg.GiftCardTable, cfg.CouponTable, cfg.RedemptionTable)
		pgRepo.WithMetrics(m)
		underlying = pgRepo
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, errors.New("mongodb_url required when promo backend is 'mongodb'")
		}
		if cfg.MongoDBDatabase == "" {
			return nil, errors.New("mongodb_database required when promo backend is 'mongodb'")
		}
		mongoRepo, err := NewMongoDBRepository(cfg.MongoDBURL, cfg.MongoDBDatabase, cfg)
		if err != nil {
			return nil, err
		}
		mongoRepo.WithMetrics(m)
		underlying = mongoRepo
	default:
		return nil, errors.New("invalid promo backend: must be 'postgres', 'mongodb', or 'memory'")
	}

	// Wrap with a short-lived lookup cache when configured. Redemptions always
	// hit the backing store; only code lookups are cached.
	if ttl := cfg.LookupCacheTTL.Duration; ttl > 0 {
		return NewCachedRepository(underlying, ttl), nil
	}

	return underlying, nil
}
