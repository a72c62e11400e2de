package promo

import (
	"strings"
	"time"
)

// Kind identifies which namespace a promo code resolved to.
// The values double as the wire-level "type" field in API responses.
type Kind string

const (
	KindGiftCard Kind = "GIFTCARD"
	KindCoupon   Kind = "COUPON"
)

// GiftCardStatus represents the lifecycle state of a gift card.
type GiftCardStatus string

const (
	GiftCardActive   GiftCardStatus = "active"
	GiftCardDepleted GiftCardStatus = "depleted"
	GiftCardExpired  GiftCardStatus = "expired"
	GiftCardBlocked  GiftCardStatus = "blocked"
)

// GiftCard is a prepaid code with a depletable balance in COP minor units.
type GiftCard struct {
	Code            string         // Unique code (e.g., "GC-A7K2-M9P4-X3W8"), stored upper-cased
	Status          GiftCardStatus // Advisory flag; expiration date is checked independently
	InitialAmount   int64          // Face value at issuance
	RemainingAmount int64          // Invariant: 0 <= RemainingAmount <= InitialAmount
	Currency        string         // "COP"
	ExpirationDate  *time.Time     // nil = never expires
	PurchaserEmail  string
	RecipientEmail  string
	Message         string // Optional gift note shown to the recipient
	OrderID         string // Marketplace order that paid for this card
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CouponType determines how a coupon's Value is interpreted.
type CouponType string

const (
	CouponPercent CouponType = "percent"      // Value is a percentage of the cart total (0-100)
	CouponFixed   CouponType = "fixed_amount" // Value is a flat discount in minor units
)

// ConditionFirstPurchase is the conditions key restricting a coupon to
// identities with no prior coupon redemption.
const ConditionFirstPurchase = "primera_compra"

// Coupon is a reusable promotional code subject to usage caps and conditions.
type Coupon struct {
	Code              string
	Description       string
	IsActive          bool
	StartDate         *time.Time // nil = valid immediately
	EndDate           *time.Time // nil = never expires
	Type              CouponType
	Value             float64 // Percentage (0-100) or fixed amount in minor units
	MaxDiscountAmount *int64  // Cap applied after percentage computation, nil = uncapped
	MinOrderAmount    *int64  // Floor on cart total, nil = no minimum
	UsageLimitTotal   *int    // Aggregate cap across all users, nil = unlimited
	UsageLimitPerUser *int    // Per-identity cap, nil = unlimited
	TimesUsed         int     // Incremented on each redemption
	Conditions        map[string]bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// FirstPurchaseOnly reports whether the coupon is restricted to first-time buyers.
func (c Coupon) FirstPurchaseOnly() bool {
	return c.Conditions[ConditionFirstPurchase]
}

// Identity is the buyer identity used for per-user usage accounting.
// UserID takes precedence over Email when both are present. A zero Identity
// is a guest checkout: per-user and first-purchase checks are skipped.
type Identity struct {
	UserID string
	Email  string
}

// IsZero reports whether no identity information was supplied.
func (id Identity) IsZero() bool {
	return id.UserID == "" && id.Email == ""
}

// Redemption is an immutable record of a code applied to a specific order.
type Redemption struct {
	Code      string
	Kind      Kind
	OrderID   string
	UserID    string
	UserEmail string
	Amount    int64 // Discount actually applied in minor units
	CreatedAt time.Time
}

// NormalizeCode trims surrounding whitespace and upper-cases a raw code string.
// All lookups and persistence use the normalized form.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
