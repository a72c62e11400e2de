package giftcards

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/internal/metrics"
	"github.com/telar-co/promo-server/internal/money"
	"github.com/telar-co/promo-server/internal/promo"
)

// IssueRequest describes a batch of gift cards to create, typically one
// marketplace order buying one or more cards of the same denomination.
type IssueRequest struct {
	Amount         int64
	Quantity       int
	PurchaserEmail string
	RecipientEmail string
	Message        string
	OrderID        string
	ExpirationDays int
}

// IssueResult reports the cards created for one request.
type IssueResult struct {
	Cards       []promo.GiftCard
	TotalAmount int64
}

// Issuer creates gift cards with unique codes.
type Issuer struct {
	repo    promo.Repository
	cfg     config.GiftCardConfig
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewIssuer creates an Issuer bound to the given repository and limits.
func NewIssuer(repo promo.Repository, cfg config.GiftCardConfig, m *metrics.Metrics) *Issuer {
	return &Issuer{
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

// WithClock overrides the issuance clock. Test helper.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue validates the request against the configured bounds and creates the
// cards one by one. Cards created before a mid-batch failure remain issued;
// the caller sees the error and the partial result.
func (i *Issuer) Issue(ctx context.Context, req IssueRequest) (IssueResult, error) {
	log := logger.FromContext(ctx)

	if err := i.validate(req); err != nil {
		return IssueResult{}, err
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}

	days := req.ExpirationDays
	if days == 0 {
		days = i.cfg.DefaultValidityDays
	}

	now := i.now().UTC()
	expiration := now.AddDate(0, 0, days)

	result := IssueResult{Cards: make([]promo.GiftCard, 0, quantity)}

	for n := 0; n < quantity; n++ {
		code, err := generateUniqueCode(ctx, i.repo)
		if err != nil {
			return result, err
		}

		card := promo.GiftCard{
			Code:            code,
			Status:          promo.GiftCardActive,
			InitialAmount:   req.Amount,
			RemainingAmount: req.Amount,
			Currency:        "COP",
			ExpirationDate:  &expiration,
			PurchaserEmail:  req.PurchaserEmail,
			RecipientEmail:  req.RecipientEmail,
			Message:         req.Message,
			OrderID:         req.OrderID,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		if err := i.repo.CreateGiftCard(ctx, card); err != nil {
			return result, fmt.Errorf("create gift card %d of %d: %w", n+1, quantity, err)
		}

		result.Cards = append(result.Cards, card)
		result.TotalAmount += req.Amount
	}

	if i.metrics != nil {
		i.metrics.ObserveGiftCardsIssued(len(result.Cards), result.TotalAmount)
	}
	logIssue(log, req, result)

	return result, nil
}

func (i *Issuer) validate(req IssueRequest) error {
	if req.Amount < i.cfg.MinAmount {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf(
			"el monto mínimo es %s", money.FormatCOP(i.cfg.MinAmount))}
	}
	if req.Amount > i.cfg.MaxAmount {
		return &ValidationError{Field: "amount", Message: fmt.Sprintf(
			"el monto máximo es %s", money.FormatCOP(i.cfg.MaxAmount))}
	}
	if req.Quantity < 0 || req.Quantity > i.cfg.MaxBatchSize {
		return &ValidationError{Field: "quantity", Message: fmt.Sprintf(
			"la cantidad debe estar entre 1 y %d", i.cfg.MaxBatchSize)}
	}
	if req.ExpirationDays < 0 {
		return &ValidationError{Field: "expiration_days", Message: "los días de vigencia no pueden ser negativos"}
	}
	if req.PurchaserEmail == "" {
		return &ValidationError{Field: "purchaser_email", Message: "el email del comprador es requerido"}
	}
	return nil
}

// ValidationError reports a rejected issuance field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func logIssue(log zerolog.Logger, req IssueRequest, result IssueResult) {
	log.Info().
		Int("count", len(result.Cards)).
		Int64("amount_each", req.Amount).
		Int64("total", result.TotalAmount).
		Str("order_id", req.OrderID).
		Str("purchaser", logger.RedactEmail(req.PurchaserEmail)).
		Msg("gift cards issued")
}
