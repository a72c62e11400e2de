package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/telar-co/promo-server/internal/callbacks"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/giftcards"
	"github.com/telar-co/promo-server/internal/idempotency"
	"github.com/telar-co/promo-server/internal/promo"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: ":0"},
		GiftCards: config.GiftCardConfig{
			DefaultValidityDays: 365,
			MinAmount:           10000,
			MaxAmount:           5000000,
			MaxBatchSize:        100,
		},
		Idempotency: config.IdempotencyConfig{Enabled: true, TTL: config.Duration{Duration: time.Hour}},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, repo *promo.MemoryRepository) chi.Router {
	t.Helper()

	store := idempotency.NewMemoryStoreWithSize(100)
	t.Cleanup(store.Stop)

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, Deps{
		Promo:            promo.NewService(repo, nil),
		Issuer:           giftcards.NewIssuer(repo, cfg.GiftCards, nil),
		Notifier:         callbacks.NoopNotifier{},
		IdempotencyStore: store,
		Logger:           zerolog.Nop(),
	})
	return router
}

func seedTestCard(repo *promo.MemoryRepository, code string, remaining int64) {
	repo.SeedGiftCard(promo.GiftCard{
		Code:            code,
		Status:          promo.GiftCardActive,
		InitialAmount:   remaining,
		RemainingAmount: remaining,
		Currency:        "COP",
	})
}

func postJSON(t *testing.T, router chi.Router, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshaling request: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestValidateCode_GiftCard(t *testing.T) {
	repo := promo.NewMemoryRepository()
	seedTestCard(repo, "GC-AAAA-BBBB-CCCC", 10000)
	router := newTestRouter(t, testConfig(), repo)

	rec := postJSON(t, router, "/promo/v1/codes/validate", ValidateCodeRequest{
		Code:      "gc-aaaa-bbbb-cccc",
		CartTotal: 15000,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ValidateCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Valid {
		t.Fatalf("valid = false, error = %q", resp.ErrorMessage)
	}
	if resp.Type != "GIFTCARD" {
		t.Errorf("type = %s, want GIFTCARD", resp.Type)
	}
	if resp.DiscountAmount != 10000 {
		t.Errorf("discountAmount = %d, want 10000", resp.DiscountAmount)
	}
	if resp.NewTotal == nil || *resp.NewTotal != 5000 {
		t.Errorf("newTotal = %v, want 5000", resp.NewTotal)
	}
	if resp.RemainingBalanceAfterUse == nil || *resp.RemainingBalanceAfterUse != 0 {
		t.Errorf("remainingBalanceAfterUse = %v, want 0", resp.RemainingBalanceAfterUse)
	}
}

func TestValidateCode_UnknownCode(t *testing.T) {
	router := newTestRouter(t, testConfig(), promo.NewMemoryRepository())

	rec := postJSON(t, router, "/promo/v1/codes/validate", ValidateCodeRequest{
		Code:      "NADA",
		CartTotal: 10000,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with valid=false", rec.Code)
	}
	var resp ValidateCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Valid {
		t.Error("expected valid = false")
	}
	if resp.ErrorMessage != "Código inválido o no encontrado" {
		t.Errorf("error = %q", resp.ErrorMessage)
	}
}

func TestValidateCode_CouponBelowMinimum(t *testing.T) {
	repo := promo.NewMemoryRepository()
	min := int64(50000)
	repo.SeedCoupon(promo.Coupon{
		Code:           "SAVE20",
		IsActive:       true,
		Type:           promo.CouponPercent,
		Value:          20,
		MinOrderAmount: &min,
	})
	router := newTestRouter(t, testConfig(), repo)

	rec := postJSON(t, router, "/promo/v1/codes/validate", ValidateCodeRequest{
		Code:      "SAVE20",
		CartTotal: 40000,
	})

	var resp ValidateCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Valid {
		t.Error("expected valid = false below minimum")
	}
	if resp.ErrorMessage != "Monto mínimo de compra: $50.000" {
		t.Errorf("error = %q", resp.ErrorMessage)
	}
}

func TestValidateCode_MalformedBody(t *testing.T) {
	router := newTestRouter(t, testConfig(), promo.NewMemoryRepository())

	req := httptest.NewRequest("POST", "/promo/v1/codes/validate", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestValidateCode_IgnoresUnknownFields(t *testing.T) {
	repo := promo.NewMemoryRepository()
	seedTestCard(repo, "GC-AAAA-BBBB-CCCC", 10000)
	router := newTestRouter(t, testConfig(), repo)

	body := []byte(`{"code":"GC-AAAA-BBBB-CCCC","cartTotal":15000,"sessionId":"sess-1","clientVersion":"2.4.0"}`)
	req := httptest.NewRequest("POST", "/promo/v1/codes/validate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ValidateCodeResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Valid {
		t.Fatalf("valid = false, error = %q", resp.ErrorMessage)
	}
}

func TestApplyCode_RecordsAndReplays(t *testing.T) {
	repo := promo.NewMemoryRepository()
	seedTestCard(repo, "GC-AAAA-BBBB-CCCC", 10000)
	router := newTestRouter(t, testConfig(), repo)

	body := ApplyCodeRequest{
		Code:      "GC-AAAA-BBBB-CCCC",
		OrderID:   "order-1",
		CartTotal: 4000,
	}

	first := postJSON(t, router, "/promo/v1/codes/apply", body)
	if first.Code != http.StatusOK {
		t.Fatalf("first apply status = %d: %s", first.Code, first.Body.String())
	}
	var resp ApplyCodeResponse
	if err := json.NewDecoder(first.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || resp.DiscountApplied != 4000 {
		t.Fatalf("first apply = %+v", resp)
	}
	if resp.RemainingBalance == nil || *resp.RemainingBalance != 6000 {
		t.Errorf("remainingBalance = %v, want 6000", resp.RemainingBalance)
	}

	// Same order retried: same discount, no second decrement.
	second := postJSON(t, router, "/promo/v1/codes/apply", body)
	var replay ApplyCodeResponse
	if err := json.NewDecoder(second.Body).Decode(&replay); err != nil {
		t.Fatalf("decoding replay: %v", err)
	}
	if !replay.Success || replay.DiscountApplied != 4000 {
		t.Fatalf("replay = %+v", replay)
	}

	card, err := repo.FindGiftCard(context.Background(), "GC-AAAA-BBBB-CCCC")
	if err != nil {
		t.Fatalf("reading card: %v", err)
	}
	if card.RemainingAmount != 6000 {
		t.Errorf("remainingAmount = %d, want 6000 after replay", card.RemainingAmount)
	}
}

func TestApplyCode_MissingOrderID(t *testing.T) {
	router := newTestRouter(t, testConfig(), promo.NewMemoryRepository())

	rec := postJSON(t, router, "/promo/v1/codes/apply", ApplyCodeRequest{
		Code:      "SAVE20",
		CartTotal: 10000,
	})

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without orderId", rec.Code)
	}
}

func TestApplyCode_IdempotencyKeyReplaysResponse(t *testing.T) {
	repo := promo.NewMemoryRepository()
	seedTestCard(repo, "GC-AAAA-BBBB-CCCC", 10000)
	router := newTestRouter(t, testConfig(), repo)

	raw, _ := json.Marshal(ApplyCodeRequest{
		Code:      "GC-AAAA-BBBB-CCCC",
		OrderID:   "order-9",
		CartTotal: 3000,
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/promo/v1/codes/apply", bytes.NewReader(raw))
		req.Header.Set("Idempotency-Key", "retry-token")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d", first.Code)
	}
	second := send()
	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("expected replay header on repeated Idempotency-Key")
	}
	if second.Body.String() != first.Body.String() {
		t.Error("replayed body differs from original")
	}
}

func TestIssueGiftCards(t *testing.T) {
	repo := promo.NewMemoryRepository()
	router := newTestRouter(t, testConfig(), repo)

	rec := postJSON(t, router, "/promo/v1/giftcards/issue", IssueGiftCardsRequest{
		Amount:         50000,
		Quantity:       3,
		PurchaserEmail: "comprador@example.com",
		OrderID:        "order-77",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp IssueGiftCardsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if !resp.Success || len(resp.Cards) != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if resp.TotalAmount != 150000 {
		t.Errorf("totalAmount = %d, want 150000", resp.TotalAmount)
	}
	for _, card := range resp.Cards {
		if card.Amount != 50000 || card.Currency != "COP" {
			t.Errorf("card = %+v", card)
		}
		if _, err := repo.FindGiftCard(context.Background(), card.Code); err != nil {
			t.Errorf("issued card %s not findable: %v", card.Code, err)
		}
	}
}

func TestIssueGiftCards_ValidationFailure(t *testing.T) {
	router := newTestRouter(t, testConfig(), promo.NewMemoryRepository())

	rec := postJSON(t, router, "/promo/v1/giftcards/issue", IssueGiftCardsRequest{
		Amount:         500, // below configured minimum
		PurchaserEmail: "comprador@example.com",
		OrderID:        "order-78",
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp IssueGiftCardsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Success || resp.ErrorMessage == "" {
		t.Errorf("response = %+v, want failure with message", resp)
	}
}

func TestCreatePaymentLink_NotConfigured(t *testing.T) {
	router := newTestRouter(t, testConfig(), promo.NewMemoryRepository())

	rec := postJSON(t, router, "/promo/v1/payment-links", CreatePaymentLinkRequest{
		Amount:     10000,
		ExternalID: "order-1",
	})

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 when Cobre is unconfigured", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	cfg := testConfig()
	cfg.Callbacks.OrderSyncURL = "https://console.example.com/sync"
	router := newTestRouter(t, cfg, promo.NewMemoryRepository())

	req := httptest.NewRequest("GET", "/telar-health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status field = %v", resp["status"])
	}
	features, _ := resp["features"].([]any)
	found := false
	for _, f := range features {
		if f == "order-sync" {
			found = true
		}
	}
	if !found {
		t.Errorf("features = %v, want order-sync listed", features)
	}
}

func TestListFailedSyncEvents(t *testing.T) {
	cfg := testConfig()
	repo := promo.NewMemoryRepository()

	store := idempotency.NewMemoryStoreWithSize(100)
	t.Cleanup(store.Stop)
	dlq := callbacks.NewMemoryDLQStore()
	_ = dlq.SaveFailedCallback(context.Background(), callbacks.FailedCallback{
		ID:        "callback_1",
		EventType: "redemption.applied",
		Attempts:  5,
	})

	router := chi.NewRouter()
	ConfigureRouter(router, cfg, Deps{
		Promo:            promo.NewService(repo, nil),
		Issuer:           giftcards.NewIssuer(repo, cfg.GiftCards, nil),
		Notifier:         callbacks.NoopNotifier{},
		DLQStore:         dlq,
		IdempotencyStore: store,
		Logger:           zerolog.Nop(),
	})

	rec := postJSON(t, router, "/promo/v1/redemptions/pending-dlq", ListFailedSyncRequest{})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp ListFailedSyncResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 || len(resp.Events) != 1 {
		t.Fatalf("response = %+v, want one event", resp)
	}
	if resp.Events[0].EventType != "redemption.applied" {
		t.Errorf("eventType = %s", resp.Events[0].EventType)
	}
}
