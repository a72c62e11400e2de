package promo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/metrics"
)

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db              *sql.DB
	ownsDB          bool
	giftCardTable   string
	couponTable     string
	redemptionTable string
	metrics         *metrics.Metrics
}

// NewPostgresRepository creates a PostgreSQL-backed repository.
func NewPostgresRepository(connectionString string, poolConfig config.PostgresPoolConfig) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	config.ApplyPostgresPoolSettings(db, poolConfig)

	repo := &PostgresRepository{
		db:              db,
		ownsDB:          true,
		giftCardTable:   "gift_cards",
		couponTable:     "coupons",
		redemptionTable: "code_redemptions",
	}

	if err := repo.createTables(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return repo, nil
}

// NewPostgresRepositoryWithDB creates a PostgreSQL-backed repository using an
// existing connection pool, allowing one pool to serve multiple repositories.
func NewPostgresRepositoryWithDB(db *sql.DB) (*PostgresRepository, error) {
	repo := &PostgresRepository{
		db:              db,
		ownsDB:          false,
		giftCardTable:   "gift_cards",
		couponTable:     "coupons",
		redemptionTable: "code_redemptions",
	}

	if err := repo.createTables(); err != nil {
		return nil, err
	}

	return repo, nil
}

// WithTableNames sets custom table names and recreates missing tables.
func (r *PostgresRepository) WithTableNames(giftCards, coupons, redemptions string) *PostgresRepository {
	if giftCards != "" {
		r.giftCardTable = giftCards
	}
	if coupons != "" {
		r.couponTable = coupons
	}
	if redemptions != "" {
		r.redemptionTable = redemptions
	}

	_ = r.createTables()

	return r
}

// WithMetrics attaches query instrumentation.
func (r *PostgresRepository) WithMetrics(m *metrics.Metrics) *PostgresRepository {
	r.metrics = m
	return r
}

// createTables creates the necessary tables if they don't exist.
// The redemption table carries a UNIQUE (code, order_id) constraint: it is
// the idempotency boundary for Apply and the guard against double-spend.
func (r *PostgresRepository) createTables() error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			code TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			initial_amount BIGINT NOT NULL,
			remaining_amount BIGINT NOT NULL,
			currency TEXT NOT NULL DEFAULT 'COP',
			expiration_date TIMESTAMP,
			purchaser_email TEXT,
			recipient_email TEXT,
			message TEXT,
			order_id TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			code TEXT PRIMARY KEY,
			description TEXT,
			is_active BOOLEAN NOT NULL DEFAULT true,
			start_date TIMESTAMP,
			end_date TIMESTAMP,
			type TEXT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			max_discount_amount BIGINT,
			min_order_amount BIGINT,
			usage_limit_total INTEGER,
			usage_limit_per_user INTEGER,
			times_used INTEGER NOT NULL DEFAULT 0,
			conditions_json JSONB,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);

		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			code TEXT NOT NULL,
			kind TEXT NOT NULL,
			order_id TEXT NOT NULL,
			user_id TEXT,
			user_email TEXT,
			amount BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (code, order_id)
		);

		CREATE INDEX IF NOT EXISTS idx_redemptions_code_user ON %s(code, user_id) WHERE user_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_redemptions_code_email ON %s(code, user_email) WHERE user_email IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_redemptions_user ON %s(user_id) WHERE user_id IS NOT NULL;
		CREATE INDEX IF NOT EXISTS idx_redemptions_email ON %s(user_email) WHERE user_email IS NOT NULL;
	`,
		r.giftCardTable,
		r.couponTable,
		r.redemptionTable,
		r.redemptionTable, r.redemptionTable, r.redemptionTable, r.redemptionTable,
	)

	_, err := r.db.Exec(schema)
	return err
}

// FindGiftCard retrieves a gift card by code.
func (r *PostgresRepository) FindGiftCard(ctx context.Context, code string) (GiftCard, error) {
	defer metrics.MeasureDBQuery(r.metrics, "find_gift_card", "postgres")()

	query := fmt.Sprintf(`
		SELECT code, status, initial_amount, remaining_amount, currency, expiration_date,
		       COALESCE(purchaser_email, ''), COALESCE(recipient_email, ''), COALESCE(message, ''),
		       COALESCE(order_id, ''), created_at, updated_at
		FROM %s
		WHERE code = $1
	`, r.giftCardTable)

	var card GiftCard
	var status string

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&card.Code,
		&status,
		&card.InitialAmount,
		&card.RemainingAmount,
		&card.Currency,
		&card.ExpirationDate,
		&card.PurchaserEmail,
		&card.RecipientEmail,
		&card.Message,
		&card.OrderID,
		&card.CreatedAt,
		&card.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return GiftCard{}, ErrCodeNotFound
	}
	if err != nil {
		return GiftCard{}, fmt.Errorf("query gift card: %w", err)
	}

	card.Status = GiftCardStatus(status)
	return card, nil
}

// FindCoupon retrieves a coupon by code.
func (r *PostgresRepository) FindCoupon(ctx context.Context, code string) (Coupon, error) {
	defer metrics.MeasureDBQuery(r.metrics, "find_coupon", "postgres")()

	query := fmt.Sprintf(`
		SELECT code, COALESCE(description, ''), is_active, start_date, end_date, type, value,
		       max_discount_amount, min_order_amount, usage_limit_total, usage_limit_per_user,
		       times_used, conditions_json, created_at, updated_at
		FROM %s
		WHERE code = $1
	`, r.couponTable)

	var c Coupon
	var couponType string
	var conditionsJSON []byte

	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.Code,
		&c.Description,
		&c.IsActive,
		&c.StartDate,
		&c.EndDate,
		&couponType,
		&c.Value,
		&c.MaxDiscountAmount,
		&c.MinOrderAmount,
		&c.UsageLimitTotal,
		&c.UsageLimitPerUser,
		&c.TimesUsed,
		&conditionsJSON,
		&c.CreatedAt,
		&c.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return Coupon{}, ErrCodeNotFound
	}
	if err != nil {
		return Coupon{}, fmt.Errorf("query coupon: %w", err)
	}

	c.Type = CouponType(couponType)

	if len(conditionsJSON) > 0 {
		if err := json.Unmarshal(conditionsJSON, &c.Conditions); err != nil {
			return Coupon{}, fmt.Errorf("parse conditions_json: %w", err)
		}
	}

	return c, nil
}

// CreateGiftCard persists a newly issued gift card.
func (r *PostgresRepository) CreateGiftCard(ctx context.Context, card GiftCard) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_gift_card", "postgres")()

	query := fmt.Sprintf(`
		INSERT INTO %s (code, status, initial_amount, remaining_amount, currency, expiration_date,
		                purchaser_email, recipient_email, message, order_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, r.giftCardTable)

	_, err := r.db.ExecContext(ctx, query,
		card.Code,
		string(card.Status),
		card.InitialAmount,
		card.RemainingAmount,
		card.Currency,
		card.ExpirationDate,
		card.PurchaserEmail,
		card.RecipientEmail,
		card.Message,
		card.OrderID,
		card.CreatedAt,
		card.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("gift card code already exists: %s", card.Code)
		}
		return fmt.Errorf("insert gift card: %w", err)
	}

	return nil
}

// CountByCoupon returns redemption counts for a coupon by one identity.
// UserID takes precedence over email when both are present.
func (r *PostgresRepository) CountByCoupon(ctx context.Context, code string, identity Identity) (int, error) {
	defer metrics.MeasureDBQuery(r.metrics, "count_by_coupon", "postgres")()

	var query string
	var arg string
	if identity.UserID != "" {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE code = $1 AND user_id = $2`, r.redemptionTable)
		arg = identity.UserID
	} else {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE code = $1 AND user_email = $2`, r.redemptionTable)
		arg = identity.Email
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, code, arg).Scan(&count); err != nil {
		return 0, fmt.Errorf("count coupon redemptions: %w", err)
	}
	return count, nil
}

// CountByIdentity returns an identity's coupon redemption count across all codes.
func (r *PostgresRepository) CountByIdentity(ctx context.Context, identity Identity) (int, error) {
	defer metrics.MeasureDBQuery(r.metrics, "count_by_identity", "postgres")()

	var query string
	var arg string
	if identity.UserID != "" {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE kind = $1 AND user_id = $2`, r.redemptionTable)
		arg = identity.UserID
	} else {
		query = fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE kind = $1 AND user_email = $2`, r.redemptionTable)
		arg = identity.Email
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, string(KindCoupon), arg).Scan(&count); err != nil {
		return 0, fmt.Errorf("count identity redemptions: %w", err)
	}
	return count, nil
}

// FindRedemption retrieves the redemption recorded for (code, orderID).
func (r *PostgresRepository) FindRedemption(ctx context.Context, code, orderID string) (Redemption, error) {
	defer metrics.MeasureDBQuery(r.metrics, "find_redemption", "postgres")()

	query := fmt.Sprintf(`
		SELECT code, kind, order_id, COALESCE(user_id, ''), COALESCE(user_email, ''), amount, created_at
		FROM %s
		WHERE code = $1 AND order_id = $2
	`, r.redemptionTable)

	var red Redemption
	var kind string

	err := r.db.QueryRowContext(ctx, query, code, orderID).Scan(
		&red.Code,
		&kind,
		&red.OrderID,
		&red.UserID,
		&red.UserEmail,
		&red.Amount,
		&red.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return Redemption{}, ErrCodeNotFound
	}
	if err != nil {
		return Redemption{}, fmt.Errorf("query redemption: %w", err)
	}

	red.Kind = Kind(kind)
	return red, nil
}

// RedeemGiftCard records a gift card redemption in one transaction: the
// redemption insert and the conditional balance decrement either both land or
// neither does. The insert runs first so a replayed order surfaces as
// ErrAlreadyRedeemed before the balance is touched.
func (r *PostgresRepository) RedeemGiftCard(ctx context.Context, red Redemption) (GiftCard, error) {
	defer metrics.MeasureDBQuery(r.metrics, "redeem_gift_card", "postgres")()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return GiftCard{}, fmt.Errorf("begin redemption tx: %w", err)
	}

	if err := r.insertRedemption(ctx, tx, red); err != nil {
		tx.Rollback()
		return GiftCard{}, err
	}

	// Conditional decrement: only an active card with sufficient balance
	// matches, so a concurrent redemption cannot drive the balance negative.
	update := fmt.Sprintf(`
		UPDATE %s
		SET remaining_amount = remaining_amount - $1,
		    status = CASE WHEN remaining_amount - $1 = 0 THEN 'depleted' ELSE status END,
		    updated_at = $2
		WHERE code = $3 AND status = 'active' AND remaining_amount >= $1
		RETURNING code, status, initial_amount, remaining_amount, currency, expiration_date,
		          COALESCE(purchaser_email, ''), COALESCE(recipient_email, ''), COALESCE(message, ''),
		          COALESCE(order_id, ''), created_at, updated_at
	`, r.giftCardTable)

	var card GiftCard
	var status string

	err = tx.QueryRowContext(ctx, update, red.Amount, time.Now().UTC(), red.Code).Scan(
		&card.Code,
		&status,
		&card.InitialAmount,
		&card.RemainingAmount,
		&card.Currency,
		&card.ExpirationDate,
		&card.PurchaserEmail,
		&card.RecipientEmail,
		&card.Message,
		&card.OrderID,
		&card.CreatedAt,
		&card.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return GiftCard{}, ErrUpdateConflict
	}
	if err != nil {
		tx.Rollback()
		return GiftCard{}, fmt.Errorf("decrement gift card balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return GiftCard{}, fmt.Errorf("commit redemption tx: %w", err)
	}

	card.Status = GiftCardStatus(status)
	return card, nil
}

// RedeemCoupon records a coupon redemption and usage increment in one transaction.
func (r *PostgresRepository) RedeemCoupon(ctx context.Context, red Redemption) error {
	defer metrics.MeasureDBQuery(r.metrics, "redeem_coupon", "postgres")()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin redemption tx: %w", err)
	}

	if err := r.insertRedemption(ctx, tx, red); err != nil {
		tx.Rollback()
		return err
	}

	// The cap guard serializes racing redemptions: past the limit the
	// conditional update matches no rows.
	update := fmt.Sprintf(`
		UPDATE %s
		SET times_used = times_used + 1, updated_at = $2
		WHERE code = $1 AND is_active = true
		  AND (usage_limit_total IS NULL OR times_used < usage_limit_total)
	`, r.couponTable)

	result, err := tx.ExecContext(ctx, update, red.Code, time.Now().UTC())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("increment coupon usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		tx.Rollback()
		return ErrUpdateConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit redemption tx: %w", err)
	}

	return nil
}

// insertRedemption inserts the redemption row, mapping the (code, order_id)
// unique violation to ErrAlreadyRedeemed.
func (r *PostgresRepository) insertRedemption(ctx context.Context, tx *sql.Tx, red Redemption) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (code, kind, order_id, user_id, user_email, amount, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	`, r.redemptionTable)

	_, err := tx.ExecContext(ctx, query,
		red.Code,
		string(red.Kind),
		red.OrderID,
		red.UserID,
		red.UserEmail,
		red.Amount,
		red.CreatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrAlreadyRedeemed
		}
		return fmt.Errorf("insert redemption: %w", err)
	}

	return nil
}

// Close closes the database connection when this repository owns it.
func (r *PostgresRepository) Close() error {
	if r.ownsDB {
		return r.db.Close()
	}
	return nil
}
