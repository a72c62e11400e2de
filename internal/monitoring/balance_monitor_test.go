package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/telar-co/promo-server/internal/cobre"
	"github.com/telar-co/promo-server/internal/config"
)

type fakeBalanceFetcher struct {
	available int64
	err       error
}

func (f *fakeBalanceFetcher) AccountBalance(context.Context) (cobre.Balance, error) {
	if f.err != nil {
		return cobre.Balance{}, f.err
	}
	return cobre.Balance{Available: f.available, Currency: "COP"}, nil
}

func testMonitorConfig(alertURL string) config.MonitoringConfig {
	return config.MonitoringConfig{
		LowBalanceAlertURL:  alertURL,
		LowBalanceThreshold: 100_000,
		CheckInterval:       config.Duration{Duration: time.Hour},
		Timeout:             config.Duration{Duration: time.Second},
	}
}

func TestCheckBalance_AlertsBelowThreshold(t *testing.T) {
	var alerts int32
	var gotBody atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alerts, 1)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode alert body: %v", err)
		}
		gotBody.Store(body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	m := NewBalanceMonitor(testMonitorConfig(server.URL), &fakeBalanceFetcher{available: 50_000})

	m.checkBalance(context.Background())

	if n := atomic.LoadInt32(&alerts); n != 1 {
		t.Fatalf("alerts = %d, want 1", n)
	}
	body, _ := gotBody.Load().(map[string]any)
	content, _ := body["content"].(string)
	if !strings.Contains(content, "Saldo bajo") {
		t.Errorf("alert content = %q, want low balance message", content)
	}
}

func TestCheckBalance_ThrottlesRepeatAlerts(t *testing.T) {
	var alerts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alerts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := NewBalanceMonitor(testMonitorConfig(server.URL), &fakeBalanceFetcher{available: 10_000})

	m.checkBalance(context.Background())
	m.checkBalance(context.Background())

	if n := atomic.LoadInt32(&alerts); n != 1 {
		t.Errorf("alerts = %d, want 1 (second check within 24h window)", n)
	}
}

func TestCheckBalance_RecoveryRearmsAlert(t *testing.T) {
	var alerts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&alerts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fetcher := &fakeBalanceFetcher{available: 10_000}
	m := NewBalanceMonitor(testMonitorConfig(server.URL), fetcher)

	m.checkBalance(context.Background())

	fetcher.available = 500_000
	m.checkBalance(context.Background())

	fetcher.available = 10_000
	m.checkBalance(context.Background())

	if n := atomic.LoadInt32(&alerts); n != 2 {
		t.Errorf("alerts = %d, want 2 (re-armed after recovery)", n)
	}
}

func TestCheckBalance_NoAlertAboveThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected alert for healthy balance")
	}))
	defer server.Close()

	m := NewBalanceMonitor(testMonitorConfig(server.URL), &fakeBalanceFetcher{available: 500_000})
	m.checkBalance(context.Background())
}

func TestRenderTemplate_CustomBody(t *testing.T) {
	cfg := testMonitorConfig("http://example.test")
	cfg.BodyTemplate = `{"text":"saldo {{.Available.Formatted}} de {{.Threshold.Formatted}}"}`
	m := NewBalanceMonitor(cfg, nil)

	body, err := m.renderTemplate(BalanceAlert{
		Available: AlertAmount{Amount: 50_000, Formatted: "$500"},
		Threshold: AlertAmount{Amount: 100_000, Formatted: "$1.000"},
		Currency:  "COP",
	})
	if err != nil {
		t.Fatalf("renderTemplate: %v", err)
	}
	if got := string(body); got != `{"text":"saldo $500 de $1.000"}` {
		t.Errorf("rendered body = %s", got)
	}
}

func TestStart_InertWithoutURL(t *testing.T) {
	m := NewBalanceMonitor(config.MonitoringConfig{}, &fakeBalanceFetcher{})
	m.Start(context.Background())
	// No goroutine was started, so Stop must not block.
	m.Stop()
}
