package httpserver

import (
	"errors"
	"net/http"
	"time"

	"github.com/telar-co/promo-server/internal/callbacks"
	apierrors "github.com/telar-co/promo-server/internal/errors"
	"github.com/telar-co/promo-server/internal/giftcards"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/pkg/responders"
)

// IssueGiftCardsRequest is the request body for batch gift card issuance.
type IssueGiftCardsRequest struct {
	Amount         int64  `json:"amount"`
	Quantity       int    `json:"quantity,omitempty"` // Defaults to 1
	PurchaserEmail string `json:"purchaserEmail"`
	RecipientEmail string `json:"recipientEmail,omitempty"`
	Message        string `json:"message,omitempty"`
	OrderID        string `json:"orderId"`
	ExpirationDays int    `json:"expirationDays,omitempty"`
}

// IssuedGiftCard is one card in the issuance response.
type IssuedGiftCard struct {
	Code           string `json:"code"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	ExpirationDate string `json:"expirationDate,omitempty"`
}

// IssueGiftCardsResponse reports the created batch.
type IssueGiftCardsResponse struct {
	Success      bool             `json:"success"`
	Cards        []IssuedGiftCard `json:"cards,omitempty"`
	TotalAmount  int64            `json:"totalAmount,omitempty"`
	ErrorMessage string           `json:"error,omitempty"`
}

// issueGiftCards creates a batch of gift cards for a paid order.
func (h *handlers) issueGiftCards(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req IssueGiftCardsRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		log.Warn().Err(err).Msg("giftcards.issue.invalid_body")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidField, "invalid request body")
		return
	}

	result, err := h.issuer.Issue(r.Context(), giftcards.IssueRequest{
		Amount:         req.Amount,
		Quantity:       req.Quantity,
		PurchaserEmail: req.PurchaserEmail,
		RecipientEmail: req.RecipientEmail,
		Message:        req.Message,
		OrderID:        req.OrderID,
		ExpirationDays: req.ExpirationDays,
	})
	if err != nil {
		var verr *giftcards.ValidationError
		if errors.As(err, &verr) {
			responders.JSON(w, http.StatusBadRequest, IssueGiftCardsResponse{
				Success:      false,
				ErrorMessage: verr.Message,
			})
			return
		}
		log.Error().Err(err).Str("order_id", req.OrderID).Msg("giftcards.issue.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "Error al crear las gift cards")
		return
	}

	cards := make([]IssuedGiftCard, 0, len(result.Cards))
	codes := make([]string, 0, len(result.Cards))
	for _, card := range result.Cards {
		issued := IssuedGiftCard{
			Code:     card.Code,
			Amount:   card.InitialAmount,
			Currency: card.Currency,
		}
		if card.ExpirationDate != nil {
			issued.ExpirationDate = card.ExpirationDate.Format(time.RFC3339)
		}
		cards = append(cards, issued)
		codes = append(codes, card.Code)
	}

	h.notifier.GiftCardsIssued(r.Context(), callbacks.GiftCardIssueEvent{
		OrderID:        req.OrderID,
		Codes:          codes,
		AmountEach:     req.Amount,
		TotalAmount:    result.TotalAmount,
		PurchaserEmail: req.PurchaserEmail,
		RecipientEmail: req.RecipientEmail,
	})

	responders.JSON(w, http.StatusOK, IssueGiftCardsResponse{
		Success:     true,
		Cards:       cards,
		TotalAmount: result.TotalAmount,
	})
}
