package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/telar-co/promo-server/internal/apikey"
	"github.com/telar-co/promo-server/internal/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.GlobalEnabled || cfg.GlobalLimit != 1000 {
		t.Errorf("global defaults = %v/%d, want enabled/1000", cfg.GlobalEnabled, cfg.GlobalLimit)
	}
	if !cfg.PerIPEnabled || cfg.PerIPLimit != 60 {
		t.Errorf("per-IP defaults = %v/%d, want enabled/60", cfg.PerIPEnabled, cfg.PerIPLimit)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(config.RateLimitConfig{
		GlobalEnabled: true,
		GlobalLimit:   10,
		GlobalWindow:  config.Duration{Duration: time.Minute},
		PerIPEnabled:  true,
		PerIPLimit:    5,
		PerIPWindow:   config.Duration{Duration: 30 * time.Second},
	}, nil)

	if cfg.GlobalWindow != time.Minute {
		t.Errorf("GlobalWindow = %v, want 1m", cfg.GlobalWindow)
	}
	if cfg.PerIPWindow != 30*time.Second {
		t.Errorf("PerIPWindow = %v, want 30s", cfg.PerIPWindow)
	}
}

func TestGlobalLimiter_Disabled(t *testing.T) {
	handler := GlobalLimiter(Config{GlobalEnabled: false})(okHandler())

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/promo/v1/codes/validate", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestGlobalLimiter_EnforcesLimit(t *testing.T) {
	cfg := Config{
		GlobalEnabled: true,
		GlobalLimit:   3,
		GlobalWindow:  time.Minute,
	}
	handler := GlobalLimiter(cfg)(okHandler())

	var rejected *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/promo/v1/codes/validate", nil))
		if rec.Code == http.StatusTooManyRequests {
			rejected = rec
		}
	}

	if rejected == nil {
		t.Fatal("expected at least one request over the limit to be rejected")
	}
	if rejected.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %s, want 60", rejected.Header().Get("Retry-After"))
	}

	var body rateLimitResponse
	if err := json.NewDecoder(rejected.Body).Decode(&body); err != nil {
		t.Fatalf("decoding rejection body: %v", err)
	}
	if body.Error != "rate_limit_exceeded" {
		t.Errorf("error = %s, want rate_limit_exceeded", body.Error)
	}
	if body.RetryAfterSeconds != 60 {
		t.Errorf("retry_after_seconds = %d, want 60", body.RetryAfterSeconds)
	}
}

func TestIPLimiter_SeparatesClients(t *testing.T) {
	cfg := Config{
		PerIPEnabled: true,
		PerIPLimit:   2,
		PerIPWindow:  time.Minute,
	}
	handler := IPLimiter(cfg)(okHandler())

	send := func(remoteAddr string) int {
		req := httptest.NewRequest("POST", "/promo/v1/codes/validate", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	// First client exhausts its allowance.
	for i := 0; i < 2; i++ {
		if code := send("10.0.0.1:1234"); code != http.StatusOK {
			t.Fatalf("client A request %d: status = %d", i, code)
		}
	}
	if code := send("10.0.0.1:1234"); code != http.StatusTooManyRequests {
		t.Errorf("client A over limit: status = %d, want 429", code)
	}

	// A different client is unaffected.
	if code := send("10.0.0.2:1234"); code != http.StatusOK {
		t.Errorf("client B: status = %d, want 200", code)
	}
}

func withTier(r *http.Request, cfg apikey.Config, key string) *http.Request {
	var out *http.Request
	probe := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		out = req
	})
	r.Header.Set("X-API-Key", key)
	apikey.Middleware(cfg)(probe).ServeHTTP(httptest.NewRecorder(), r)
	return out
}

func TestIPLimiter_StorefrontExempt(t *testing.T) {
	cfg := Config{
		PerIPEnabled: true,
		PerIPLimit:   1,
		PerIPWindow:  time.Minute,
	}
	handler := IPLimiter(cfg)(okHandler())

	keyCfg := apikey.Config{
		Enabled: true,
		Keys:    map[string]apikey.Tier{"sf_key": apikey.TierStorefront},
	}

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("POST", "/promo/v1/codes/validate", nil)
		req.RemoteAddr = "10.0.0.9:1234"
		req = withTier(req, keyCfg, "sf_key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("storefront request %d: status = %d, want 200", i, rec.Code)
		}
	}
}

func TestGlobalLimiter_InternalBypass(t *testing.T) {
	cfg := Config{
		GlobalEnabled: true,
		GlobalLimit:   1,
		GlobalWindow:  time.Minute,
	}
	handler := GlobalLimiter(cfg)(okHandler())

	keyCfg := apikey.Config{
		Enabled: true,
		Keys:    map[string]apikey.Tier{"int_key": apikey.TierInternal},
	}

	// Exhaust the global allowance with public traffic.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/promo/v1/giftcards/issue", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("first public request: status = %d", rec.Code)
	}

	// Internal traffic still goes through.
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/promo/v1/giftcards/issue", nil)
		req = withTier(req, keyCfg, "int_key")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("internal request %d: status = %d, want 200", i, rec.Code)
		}
	}
}
