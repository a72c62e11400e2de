package promo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/metrics"
)

// MongoDBRepository implements Repository using MongoDB.
type MongoDBRepository struct {
	client      *mongo.Client
	giftCards   *mongo.Collection
	coupons     *mongo.Collection
	redemptions *mongo.Collection
	metrics     *metrics.Metrics
}

// mongoGiftCard represents the MongoDB document structure for a gift card.
type mongoGiftCard struct {
	Code            string     `bson:"_id"`
	Status          string     `bson:"status"`
	InitialAmount   int64      `bson:"initialAmount"`
	RemainingAmount int64      `bson:"remainingAmount"`
	Currency        string     `bson:"currency"`
	ExpirationDate  *time.Time `bson:"expirationDate,omitempty"`
	PurchaserEmail  string     `bson:"purchaserEmail,omitempty"`
	RecipientEmail  string     `bson:"recipientEmail,omitempty"`
	Message         string     `bson:"message,omitempty"`
	OrderID         string     `bson:"orderId,omitempty"`
	CreatedAt       time.Time  `bson:"createdAt"`
	UpdatedAt       time.Time  `bson:"updatedAt"`
}

// mongoCoupon represents the MongoDB document structure for a coupon.
type mongoCoupon struct {
	Code              string          `bson:"_id"`
	Description       string          `bson:"description,omitempty"`
	IsActive          bool            `bson:"isActive"`
	StartDate         *time.Time      `bson:"startDate,omitempty"`
	EndDate           *time.Time      `bson:"endDate,omitempty"`
	Type              string          `bson:"type"`
	Value             float64         `bson:"value"`
	MaxDiscountAmount *int64          `bson:"maxDiscountAmount,omitempty"`
	MinOrderAmount    *int64          `bson:"minOrderAmount,omitempty"`
	UsageLimitTotal   *int            `bson:"usageLimitTotal,omitempty"`
	UsageLimitPerUser *int            `bson:"usageLimitPerUser,omitempty"`
	TimesUsed         int             `bson:"timesUsed"`
	Conditions        map[string]bool `bson:"conditions,omitempty"`
	CreatedAt         time.Time       `bson:"createdAt"`
	UpdatedAt         time.Time       `bson:"updatedAt"`
}

// mongoRedemption represents the MongoDB document structure for a redemption.
type mongoRedemption struct {
	Code      string    `bson:"code"`
	Kind      string    `bson:"kind"`
	OrderID   string    `bson:"orderId"`
	UserID    string    `bson:"userId,omitempty"`
	UserEmail string    `bson:"userEmail,omitempty"`
	Amount    int64     `bson:"amount"`
	CreatedAt time.Time `bson:"createdAt"`
}

// NewMongoDBRepository creates a MongoDB-backed repository. Collection names
// follow the configured table names so both backends share configuration.
func NewMongoDBRepository(connectionString, database string, cfg config.PromoConfig) (*MongoDBRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connectionString))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	db := client.Database(database)
	repo := &MongoDBRepository{
		client:      client,
		giftCards:   db.Collection(cfg.GiftCardTable),
		coupons:     db.Collection(cfg.CouponTable),
		redemptions: db.Collection(cfg.RedemptionTable),
	}

	// Unique (code, orderId) index is the idempotency boundary for redemptions.
	redemptionIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "code", Value: 1}, {Key: "orderId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "code", Value: 1}, {Key: "userId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "code", Value: 1}, {Key: "userEmail", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "kind", Value: 1}, {Key: "userId", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "kind", Value: 1}, {Key: "userEmail", Value: 1}},
		},
	}

	if _, err := repo.redemptions.Indexes().CreateMany(ctx, redemptionIndexes); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("create redemption indexes: %w", err)
	}

	return repo, nil
}

// WithMetrics attaches query instrumentation.
func (r *MongoDBRepository) WithMetrics(m *metrics.Metrics) *MongoDBRepository {
	r.metrics = m
	return r
}

// FindGiftCard retrieves a gift card by code.
func (r *MongoDBRepository) FindGiftCard(ctx context.Context, code string) (GiftCard, error) {
	defer metrics.MeasureDBQuery(r.metrics, "find_gift_card", "mongodb")()

	var mc mongoGiftCard
	err := r.giftCards.FindOne(ctx, bson.M{"_id": code}).Decode(&mc)
	if err == mongo.ErrNoDocuments {
		return GiftCard{}, ErrCodeNotFound
	}
	if err != nil {
		return GiftCard{}, fmt.Errorf("find gift card: %w", err)
	}

	return mongoToGiftCard(mc), nil
}

// FindCoupon retrieves a coupon by code.
func (r *MongoDBRepository) FindCoupon(ctx context.Context, code string) (Coupon, error) {
	defer metrics.MeasureDBQuery(r.metrics, "find_coupon", "mongodb")()

	var mc mongoCoupon
	err := r.coupons.FindOne(ctx, bson.M{"_id": code}).Decode(&mc)
	if err == mongo.ErrNoDocuments {
		return Coupon{}, ErrCodeNotFound
	}
	if err != nil {
		return Coupon{}, fmt.Errorf("find coupon: %w", err)
	}

	return mongoToCoupon(mc), nil
}

// CreateGiftCard persists a newly issued gift card.
func (r *MongoDBRepository) CreateGiftCard(ctx context.Context, card GiftCard) error {
	defer metrics.MeasureDBQuery(r.metrics, "create_gift_card", "mongodb")()

	_, err := r.giftCards.InsertOne(ctx, giftCardToMongo(card))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("gift card code already exists: %s", card.Code)
		}
		return fmt.Errorf("insert gift card: %w", err)
	}

	return nil
}

// CountByCoupon returns redemption counts for a coupon by one identity.
// UserID takes precedence over email when both are present.
func (r *MongoDBRepository) CountByCoupon(ctx context.Context, code string, identity Identity) (int, error) {
	defer metrics.MeasureDBQuery(r.metrics, "count_by_coupon", "mongodb")()

	filter := bson.M{"code": code}
	if identity.UserID != "" {
		filter["userId"] = identity.UserID
	} else {
		filter["userEmail"] = identity.Email
	}

	count, err := r.redemptions.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count coupon redemptions: %w", err)
	}
	return int(count), nil
}

// CountByIdentity returns an identity's coupon redemption count across all codes.
func (r *MongoDBRepository) CountByIdentity(ctx context.Context, identity Identity) (int, error) {
	defer metrics.MeasureDBQuery(r.metrics, "count_by_identity", "mongodb")()

	filter := bson.M{"kind": string(KindCoupon)}
	if identity.UserID != "" {
		filter["userId"] = identity.UserID
	} else {
		filter["userEmail"] = identity.Email
	}

	count, err := r.redemptions.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count identity redemptions: %w", err)
	}
	return int(count), nil
}

// FindRedemption retrieves the redemption recorded for (code, orderID).
func (r *MongoDBRepository) FindRedemption(ctx context.Context, code, orderID string) (Redemption, error) {
	defer metrics.MeasureDBQuery(r.metrics, "find_redemption", "mongodb")()

	var mr mongoRedemption
	err := r.redemptions.FindOne(ctx, bson.M{"code": code, "orderId": orderID}).Decode(&mr)
	if err == mongo.ErrNoDocuments {
		return Redemption{}, ErrCodeNotFound
	}
	if err != nil {
		return Redemption{}, fmt.Errorf("find redemption: %w", err)
	}

	return mongoToRedemption(mr), nil
}

// RedeemGiftCard records the redemption and decrements the balance. The
// redemption insert goes first so a replayed order surfaces as
// ErrAlreadyRedeemed; if the conditional decrement then fails, the insert is
// compensated by deleting the redemption document.
func (r *MongoDBRepository) RedeemGiftCard(ctx context.Context, red Redemption) (GiftCard, error) {
	defer metrics.MeasureDBQuery(r.metrics, "redeem_gift_card", "mongodb")()

	if _, err := r.redemptions.InsertOne(ctx, redemptionToMongo(red)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return GiftCard{}, ErrAlreadyRedeemed
		}
		return GiftCard{}, fmt.Errorf("insert redemption: %w", err)
	}

	filter := bson.M{
		"_id":             red.Code,
		"status":          string(GiftCardActive),
		"remainingAmount": bson.M{"$gte": red.Amount},
	}
	// Pipeline update so the depleted flip lands in the same atomic write as
	// the decrement; a crash between two updates cannot leave an active card
	// at zero balance.
	newBalance := bson.M{"$subtract": bson.A{"$remainingAmount", red.Amount}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"remainingAmount": newBalance,
			"status": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{newBalance, 0}},
				string(GiftCardDepleted),
				"$status",
			}},
			"updatedAt": time.Now().UTC(),
		}}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var mc mongoGiftCard
	err := r.giftCards.FindOneAndUpdate(ctx, filter, update, opts).Decode(&mc)
	if err == mongo.ErrNoDocuments {
		r.compensateRedemption(ctx, red)
		return GiftCard{}, ErrUpdateConflict
	}
	if err != nil {
		r.compensateRedemption(ctx, red)
		return GiftCard{}, fmt.Errorf("decrement gift card balance: %w", err)
	}

	return mongoToGiftCard(mc), nil
}

// RedeemCoupon records the redemption and increments the usage counter.
func (r *MongoDBRepository) RedeemCoupon(ctx context.Context, red Redemption) error {
	defer metrics.MeasureDBQuery(r.metrics, "redeem_coupon", "mongodb")()

	if _, err := r.redemptions.InsertOne(ctx, redemptionToMongo(red)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyRedeemed
		}
		return fmt.Errorf("insert redemption: %w", err)
	}

	// The cap condition keeps racing increments from pushing timesUsed past
	// usageLimitTotal; past the limit the filter matches no document.
	filter := bson.M{
		"_id":      red.Code,
		"isActive": true,
		"$or": bson.A{
			bson.M{"usageLimitTotal": nil},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$timesUsed", "$usageLimitTotal"}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"timesUsed": 1},
		"$set": bson.M{"updatedAt": time.Now().UTC()},
	}

	result, err := r.coupons.UpdateOne(ctx, filter, update)
	if err != nil {
		r.compensateRedemption(ctx, red)
		return fmt.Errorf("increment coupon usage: %w", err)
	}
	if result.MatchedCount == 0 {
		r.compensateRedemption(ctx, red)
		return ErrUpdateConflict
	}

	return nil
}

// compensateRedemption removes the redemption document after a failed
// counterpart update. Best effort: a leftover document blocks replays of the
// same order, which is the safer failure mode.
func (r *MongoDBRepository) compensateRedemption(ctx context.Context, red Redemption) {
	_, _ = r.redemptions.DeleteOne(ctx, bson.M{"code": red.Code, "orderId": red.OrderID})
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.client.Disconnect(ctx)
}

func mongoToGiftCard(mc mongoGiftCard) GiftCard {
	return GiftCard{
		Code:            mc.Code,
		Status:          GiftCardStatus(mc.Status),
		InitialAmount:   mc.InitialAmount,
		RemainingAmount: mc.RemainingAmount,
		Currency:        mc.Currency,
		ExpirationDate:  mc.ExpirationDate,
		PurchaserEmail:  mc.PurchaserEmail,
		RecipientEmail:  mc.RecipientEmail,
		Message:         mc.Message,
		OrderID:         mc.OrderID,
		CreatedAt:       mc.CreatedAt,
		UpdatedAt:       mc.UpdatedAt,
	}
}

func giftCardToMongo(card GiftCard) mongoGiftCard {
	return mongoGiftCard{
		Code:            card.Code,
		Status:          string(card.Status),
		InitialAmount:   card.InitialAmount,
		RemainingAmount: card.RemainingAmount,
		Currency:        card.Currency,
		ExpirationDate:  card.ExpirationDate,
		PurchaserEmail:  card.PurchaserEmail,
		RecipientEmail:  card.RecipientEmail,
		Message:         card.Message,
		OrderID:         card.OrderID,
		CreatedAt:       card.CreatedAt,
		UpdatedAt:       card.UpdatedAt,
	}
}

func mongoToCoupon(mc mongoCoupon) Coupon {
	return Coupon{
		Code:              mc.Code,
		Description:       mc.Description,
		IsActive:          mc.IsActive,
		StartDate:         mc.StartDate,
		EndDate:           mc.EndDate,
		Type:              CouponType(mc.Type),
		Value:             mc.Value,
		MaxDiscountAmount: mc.MaxDiscountAmount,
		MinOrderAmount:    mc.MinOrderAmount,
		UsageLimitTotal:   mc.UsageLimitTotal,
		UsageLimitPerUser: mc.UsageLimitPerUser,
		TimesUsed:         mc.TimesUsed,
		Conditions:        mc.Conditions,
		CreatedAt:         mc.CreatedAt,
		UpdatedAt:         mc.UpdatedAt,
	}
}

func mongoToRedemption(mr mongoRedemption) Redemption {
	return Redemption{
		Code:      mr.Code,
		Kind:      Kind(mr.Kind),
		OrderID:   mr.OrderID,
		UserID:    mr.UserID,
		UserEmail: mr.UserEmail,
		Amount:    mr.Amount,
		CreatedAt: mr.CreatedAt,
	}
}

func redemptionToMongo(red Redemption) mongoRedemption {
	return mongoRedemption{
		Code:      red.Code,
		Kind:      string(red.Kind),
		OrderID:   red.OrderID,
		UserID:    red.UserID,
		UserEmail: red.UserEmail,
		Amount:    red.Amount,
		CreatedAt: red.CreatedAt,
	}
}
