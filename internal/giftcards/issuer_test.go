package giftcards

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/promo"
)

var issueNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func testConfig() config.GiftCardConfig {
	return config.GiftCardConfig{
		DefaultValidityDays: 365,
		MinAmount:           10000,
		MaxAmount:           5000000,
		MaxBatchSize:        100,
	}
}

func newTestIssuer(repo *promo.MemoryRepository) *Issuer {
	return NewIssuer(repo, testConfig(), nil).WithClock(func() time.Time { return issueNow })
}

func TestGenerateCode_Format(t *testing.T) {
	for i := 0; i < 100; i++ {
		code, err := GenerateCode()
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}

		parts := strings.Split(code, "-")
		if len(parts) != 4 || parts[0] != "GC" {
			t.Fatalf("code %q does not match GC-XXXX-XXXX-XXXX", code)
		}
		for _, group := range parts[1:] {
			if len(group) != 4 {
				t.Fatalf("code %q has a group of length %d", code, len(group))
			}
			for _, c := range group {
				if !strings.ContainsRune(codeCharset, c) {
					t.Fatalf("code %q contains %q outside the charset", code, c)
				}
			}
		}

		if code != promo.NormalizeCode(code) {
			t.Fatalf("code %q is not in normalized form", code)
		}
	}
}

func TestIssue_SingleCard(t *testing.T) {
	repo := promo.NewMemoryRepository()
	issuer := newTestIssuer(repo)

	result, err := issuer.Issue(context.Background(), IssueRequest{
		Amount:         50000,
		PurchaserEmail: "ana@example.com",
		RecipientEmail: "luis@example.com",
		Message:        "Feliz cumpleaños",
		OrderID:        "order-77",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(result.Cards) != 1 {
		t.Fatalf("issued %d cards, want 1", len(result.Cards))
	}

	card := result.Cards[0]
	if card.InitialAmount != 50000 || card.RemainingAmount != 50000 {
		t.Errorf("amounts = %d/%d, want 50000/50000", card.InitialAmount, card.RemainingAmount)
	}
	if card.Status != promo.GiftCardActive {
		t.Errorf("status = %q, want active", card.Status)
	}
	if card.Currency != "COP" {
		t.Errorf("currency = %q, want COP", card.Currency)
	}

	wantExpiry := issueNow.AddDate(0, 0, 365)
	if card.ExpirationDate == nil || !card.ExpirationDate.Equal(wantExpiry) {
		t.Errorf("expiration = %v, want %v", card.ExpirationDate, wantExpiry)
	}

	// The card is immediately findable and usable.
	stored, err := repo.FindGiftCard(context.Background(), card.Code)
	if err != nil {
		t.Fatalf("issued card not stored: %v", err)
	}
	if stored.OrderID != "order-77" {
		t.Errorf("OrderID = %q", stored.OrderID)
	}
}

func TestIssue_Batch(t *testing.T) {
	repo := promo.NewMemoryRepository()
	issuer := newTestIssuer(repo)

	result, err := issuer.Issue(context.Background(), IssueRequest{
		Amount:         20000,
		Quantity:       5,
		PurchaserEmail: "ana@example.com",
		OrderID:        "order-88",
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(result.Cards) != 5 {
		t.Fatalf("issued %d cards, want 5", len(result.Cards))
	}
	if result.TotalAmount != 100000 {
		t.Errorf("TotalAmount = %d, want 100000", result.TotalAmount)
	}

	seen := make(map[string]bool)
	for _, card := range result.Cards {
		if seen[card.Code] {
			t.Errorf("duplicate code in batch: %s", card.Code)
		}
		seen[card.Code] = true
	}
}

func TestIssue_CustomExpirationDays(t *testing.T) {
	issuer := newTestIssuer(promo.NewMemoryRepository())

	result, err := issuer.Issue(context.Background(), IssueRequest{
		Amount:         20000,
		PurchaserEmail: "ana@example.com",
		ExpirationDays: 30,
	})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	wantExpiry := issueNow.AddDate(0, 0, 30)
	if got := result.Cards[0].ExpirationDate; got == nil || !got.Equal(wantExpiry) {
		t.Errorf("expiration = %v, want %v", got, wantExpiry)
	}
}

func TestIssue_Validation(t *testing.T) {
	tests := []struct {
		name      string
		req       IssueRequest
		wantField string
	}{
		{
			name:      "below minimum amount",
			req:       IssueRequest{Amount: 5000, PurchaserEmail: "a@b.co"},
			wantField: "amount",
		},
		{
			name:      "above maximum amount",
			req:       IssueRequest{Amount: 10000000, PurchaserEmail: "a@b.co"},
			wantField: "amount",
		},
		{
			name:      "batch too large",
			req:       IssueRequest{Amount: 20000, Quantity: 101, PurchaserEmail: "a@b.co"},
			wantField: "quantity",
		},
		{
			name:      "negative expiration",
			req:       IssueRequest{Amount: 20000, ExpirationDays: -1, PurchaserEmail: "a@b.co"},
			wantField: "expiration_days",
		},
		{
			name:      "missing purchaser email",
			req:       IssueRequest{Amount: 20000},
			wantField: "purchaser_email",
		},
	}

	issuer := newTestIssuer(promo.NewMemoryRepository())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Issue(context.Background(), tt.req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}
