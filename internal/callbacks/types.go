package callbacks

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Notifier delivers order-sync events to the marketplace backend.
type Notifier interface {
	RedemptionApplied(ctx context.Context, event RedemptionEvent)
	GiftCardsIssued(ctx context.Context, event GiftCardIssueEvent)
}

// NoopNotifier ignores all events.
type NoopNotifier struct{}

func (NoopNotifier) RedemptionApplied(context.Context, RedemptionEvent)  {}
func (NoopNotifier) GiftCardsIssued(context.Context, GiftCardIssueEvent) {}

// RedemptionEvent notifies the marketplace that a code was applied to an
// order. EventID is the idempotency key: consumers must deduplicate on it.
type RedemptionEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"` // Always "redemption.applied"
	EventTimestamp time.Time `json:"eventTimestamp"`

	Code             string `json:"code"`
	Kind             string `json:"kind"` // "GIFTCARD" or "COUPON"
	OrderID          string `json:"orderId"`
	UserID           string `json:"userId,omitempty"`
	UserEmail        string `json:"userEmail,omitempty"`
	DiscountApplied  int64  `json:"discountApplied"`
	NewTotal         int64  `json:"newTotal"`
	RemainingBalance *int64 `json:"remainingBalance,omitempty"` // Gift cards only

	RedeemedAt time.Time `json:"redeemedAt"`
}

// GiftCardIssueEvent notifies the marketplace that gift cards were created
// for an order, typically so it can email the codes to the recipient.
type GiftCardIssueEvent struct {
	EventID        string    `json:"eventId"`
	EventType      string    `json:"eventType"` // Always "giftcards.issued"
	EventTimestamp time.Time `json:"eventTimestamp"`

	OrderID        string   `json:"orderId"`
	Codes          []string `json:"codes"`
	AmountEach     int64    `json:"amountEach"`
	TotalAmount    int64    `json:"totalAmount"`
	PurchaserEmail string   `json:"purchaserEmail"`
	RecipientEmail string   `json:"recipientEmail,omitempty"`

	IssuedAt time.Time `json:"issuedAt"`
}

// ErrCallbackDisabled is returned when callbacks are not configured.
var ErrCallbackDisabled = errors.New("callbacks: disabled")

// generateEventID creates a unique event identifier for idempotency.
// Format: "evt_" + 24 hex characters.
func generateEventID() string {
	randomBytes := make([]byte, 12)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Sprintf("evt_%d", time.Now().UnixNano())
	}
	return "evt_" + hex.EncodeToString(randomBytes)
}

// prepareEventFields fills the idempotency fields shared by all events.
// An EventID set by the caller is preserved so retries reuse it.
func prepareEventFields(eventID, eventType *string, eventTimestamp *time.Time, defaultEventType string) {
	if *eventID == "" {
		*eventID = generateEventID()
	}
	if *eventType == "" {
		*eventType = defaultEventType
	}
	if eventTimestamp.IsZero() {
		*eventTimestamp = time.Now().UTC()
	}
}

// PrepareRedemptionEvent ensures the event has its idempotency fields set.
func PrepareRedemptionEvent(event *RedemptionEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, "redemption.applied")
	if event.RedeemedAt.IsZero() {
		event.RedeemedAt = time.Now().UTC()
	}
}

// PrepareGiftCardIssueEvent ensures the event has its idempotency fields set.
func PrepareGiftCardIssueEvent(event *GiftCardIssueEvent) {
	prepareEventFields(&event.EventID, &event.EventType, &event.EventTimestamp, "giftcards.issued")
	if event.IssuedAt.IsZero() {
		event.IssuedAt = time.Now().UTC()
	}
}
