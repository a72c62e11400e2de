package cobre

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/telar-co/promo-server/internal/config"
)

func testCobreConfig(baseURL string) config.CobreConfig {
	return config.CobreConfig{
		BaseURL:       baseURL,
		UserID:        "user-123",
		Secret:        "secret-456",
		DestinationID: "bal_789",
		Alias:         "Marketplace Telar - pagos",
		CheckoutRails: []string{"pse", "bancolombia", "nequi", "breb"},
		RedirectURL:   "https://www.telar.co",
		LinkValidity:  config.Duration{Duration: 15 * time.Minute},
		Timeout:       config.Duration{Duration: 5 * time.Second},
		TokenTTL:      config.Duration{Duration: 50 * time.Minute},
	}
}

func TestCreateCheckoutLink(t *testing.T) {
	var authCalls, checkoutCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth":
			atomic.AddInt32(&authCalls, 1)
			var creds map[string]string
			if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
				t.Errorf("decode auth body: %v", err)
			}
			if creds["user_id"] != "user-123" || creds["secret"] != "secret-456" {
				t.Errorf("unexpected credentials: %v", creds)
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-abc"})

		case "/v1/checkouts":
			call := atomic.AddInt32(&checkoutCalls, 1)
			if got := r.Header.Get("Authorization"); got != "Bearer tok-abc" {
				t.Errorf("Authorization = %q", got)
			}

			var payload map[string]interface{}
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode checkout body: %v", err)
				w.WriteHeader(http.StatusBadRequest)
				return
			}

			wantAmount, wantExternalID := float64(125000), "order-55"
			if call == 2 {
				wantAmount, wantExternalID = 50000, "order-56"
			}
			if payload["amount"].(float64) != wantAmount {
				t.Errorf("call %d amount = %v, want %v", call, payload["amount"], wantAmount)
			}
			if payload["external_id"] != wantExternalID {
				t.Errorf("call %d external_id = %v, want %q", call, payload["external_id"], wantExternalID)
			}
			if payload["destination_id"] != "bal_789" {
				t.Errorf("destination_id = %v", payload["destination_id"])
			}
			if payload["money_movement_intent_limit"].(float64) != 1 {
				t.Errorf("money_movement_intent_limit = %v", payload["money_movement_intent_limit"])
			}
			rails := payload["checkout_rails"].([]interface{})
			if len(rails) != 4 || rails[0] != "pse" {
				t.Errorf("checkout_rails = %v", rails)
			}
			if payload["valid_until"] == "" {
				t.Error("valid_until missing")
			}

			json.NewEncoder(w).Encode(map[string]string{
				"id":           "mmi_001",
				"checkout_url": "https://checkout.cobre.co/mmi_001",
			})

		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(testCobreConfig(server.URL), nil, nil)

	link, err := client.CreateCheckoutLink(context.Background(), CheckoutRequest{
		Amount:     125000,
		ExternalID: "order-55",
		Header:     "Pago - Telar",
		Item:       "Pago carrito marketplace por medios digitales",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutLink: %v", err)
	}
	if link.CheckoutURL != "https://checkout.cobre.co/mmi_001" {
		t.Errorf("CheckoutURL = %q", link.CheckoutURL)
	}
	if link.IntentID != "mmi_001" {
		t.Errorf("IntentID = %q", link.IntentID)
	}

	// A second link reuses the cached token.
	if _, err := client.CreateCheckoutLink(context.Background(), CheckoutRequest{
		Amount: 50000, ExternalID: "order-56",
	}); err != nil {
		t.Fatalf("second CreateCheckoutLink: %v", err)
	}
	if n := atomic.LoadInt32(&authCalls); n != 1 {
		t.Errorf("auth calls = %d, want 1 (token cached)", n)
	}
	if n := atomic.LoadInt32(&checkoutCalls); n != 2 {
		t.Errorf("checkout calls = %d, want 2", n)
	}
}

func TestCreateCheckoutLink_RefreshesTokenOn401(t *testing.T) {
	var authCalls int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth":
			n := atomic.AddInt32(&authCalls, 1)
			token := "tok-stale"
			if n > 1 {
				token = "tok-fresh"
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": token})

		case "/v1/checkouts":
			if r.Header.Get("Authorization") == "Bearer tok-stale" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"id":           "mmi_002",
				"checkout_url": "https://checkout.cobre.co/mmi_002",
			})
		}
	}))
	defer server.Close()

	client := NewClient(testCobreConfig(server.URL), nil, nil)

	link, err := client.CreateCheckoutLink(context.Background(), CheckoutRequest{
		Amount: 10000, ExternalID: "order-57",
	})
	if err != nil {
		t.Fatalf("CreateCheckoutLink: %v", err)
	}
	if link.IntentID != "mmi_002" {
		t.Errorf("IntentID = %q", link.IntentID)
	}
	if n := atomic.LoadInt32(&authCalls); n != 2 {
		t.Errorf("auth calls = %d, want 2 after 401 refresh", n)
	}
}

func TestAccountBalance(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth":
			json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-abc"})
		case "/v1/accounts/bal_789":
			if r.URL.Query().Get("sensitive_data") != "true" {
				t.Errorf("missing sensitive_data query param")
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"obtained_balance": 3500000,
				"pending_balance":  120000,
				"currency":         "COP",
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient(testCobreConfig(server.URL), nil, nil)

	balance, err := client.AccountBalance(context.Background())
	if err != nil {
		t.Fatalf("AccountBalance: %v", err)
	}
	if balance.Available != 3500000 {
		t.Errorf("Available = %d", balance.Available)
	}
	if balance.Pending != 120000 {
		t.Errorf("Pending = %d", balance.Pending)
	}
	if balance.Currency != "COP" {
		t.Errorf("Currency = %q", balance.Currency)
	}
}

func TestClient_NotConfigured(t *testing.T) {
	client := NewClient(config.CobreConfig{BaseURL: "https://api.cobre.co"}, nil, nil)

	if client.Configured() {
		t.Error("Configured() = true without credentials")
	}

	_, err := client.CreateCheckoutLink(context.Background(), CheckoutRequest{Amount: 1000})
	if err != ErrNotConfigured {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
}

func TestPaymentDescription(t *testing.T) {
	at := time.Date(2025, 12, 3, 10, 30, 0, 0, time.UTC)
	if got := paymentDescription(at); got != "Pago - 03/12/2025 10:30" {
		t.Errorf("paymentDescription = %q", got)
	}
}
