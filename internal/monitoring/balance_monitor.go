package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/telar-co/promo-server/internal/cobre"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/httputil"
	"github.com/telar-co/promo-server/internal/money"
)

// BalanceFetcher provides the settlement account balance.
// Implemented by the Cobre client.
type BalanceFetcher interface {
	AccountBalance(ctx context.Context) (cobre.Balance, error)
}

// BalanceMonitor periodically checks the Cobre settlement balance and sends
// an alert webhook when it falls below the configured threshold.
type BalanceMonitor struct {
	cfg        config.MonitoringConfig
	fetcher    BalanceFetcher
	httpClient *http.Client

	mu          sync.Mutex
	lastAlertAt time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert contains the data rendered into an alert notification.
// Amounts are in COP minor units; Formatted carries the display strings.
type BalanceAlert struct {
	Available AlertAmount `json:"available"`
	Threshold AlertAmount `json:"threshold"`
	Currency  string      `json:"currency"`
	Timestamp time.Time   `json:"timestamp"`
}

// AlertAmount wraps an amount with both raw and formatted representations so body
// templates can pick either.
type AlertAmount struct {
	Amount    int64  `json:"amount"`
	Formatted string `json:"formatted"`
}

// NewBalanceMonitor creates a monitor over the given balance source.
func NewBalanceMonitor(cfg config.MonitoringConfig, fetcher BalanceFetcher) *BalanceMonitor {
	return &BalanceMonitor{
		cfg:        cfg,
		fetcher:    fetcher,
		httpClient: httputil.NewClient(cfg.Timeout.Duration),
		stopCh:     make(chan struct{}),
	}
}

// Start begins the monitoring loop. Without an alert URL or balance source
// the monitor stays inert.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if m.cfg.LowBalanceAlertURL == "" {
		log.Info().Msg("balance_monitor.disabled_no_url")
		return
	}
	if m.fetcher == nil {
		log.Info().Msg("balance_monitor.disabled_no_source")
		return
	}

	log.Info().
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Str("threshold", money.FormatCOP(m.cfg.LowBalanceThreshold)).
		Msg("balance_monitor.started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	log.Info().Msg("balance_monitor.stopped")
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.CheckInterval.Duration)
	defer ticker.Stop()

	m.checkBalance(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalance(ctx)
		}
	}
}

// checkBalance fetches the balance and alerts when it is below threshold.
func (m *BalanceMonitor) checkBalance(ctx context.Context) {
	balance, err := m.fetcher.AccountBalance(ctx)
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.fetch_error")
		return
	}

	log.Debug().
		Int64("available", balance.Available).
		Int64("pending", balance.Pending).
		Msg("balance_monitor.balance_checked")

	if balance.Available < m.cfg.LowBalanceThreshold {
		if m.shouldAlert() {
			m.sendAlert(ctx, balance)
		}
	} else {
		// Balance recovered, re-arm the alert
		m.mu.Lock()
		m.lastAlertAt = time.Time{}
		m.mu.Unlock()
	}
}

// shouldAlert limits alerts to one per 24 hours.
func (m *BalanceMonitor) shouldAlert() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.lastAlertAt.IsZero() || time.Since(m.lastAlertAt) > 24*time.Hour
}

// sendAlert posts a webhook notification about the low balance.
func (m *BalanceMonitor) sendAlert(ctx context.Context, balance cobre.Balance) {
	alert := BalanceAlert{
		Available: AlertAmount{Amount: balance.Available, Formatted: money.FormatCOP(balance.Available)},
		Threshold: AlertAmount{Amount: m.cfg.LowBalanceThreshold, Formatted: money.FormatCOP(m.cfg.LowBalanceThreshold)},
		Currency:  balance.Currency,
		Timestamp: time.Now().UTC(),
	}

	var body []byte
	var err error

	if m.cfg.BodyTemplate != "" {
		body, err = m.renderTemplate(alert)
		if err != nil {
			log.Error().Err(err).Msg("balance_monitor.template_error")
			return
		}
	} else {
		// Default Discord/Slack webhook format
		body, err = json.Marshal(map[string]any{
			"content": fmt.Sprintf(
				"⚠️ **Saldo bajo en cuenta Cobre**\n\n"+
					"Disponible: **%s %s**\n"+
					"Umbral: %s\n\n"+
					"Recarga la cuenta para seguir generando links de pago.",
				alert.Available.Formatted, alert.Currency, alert.Threshold.Formatted,
			),
		})
		if err != nil {
			log.Error().Err(err).Msg("balance_monitor.marshal_error")
			return
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.request_error")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("balance_monitor.send_error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Info().
			Int64("available", balance.Available).
			Int("status_code", resp.StatusCode).
			Msg("balance_monitor.alert_sent")
		m.mu.Lock()
		m.lastAlertAt = time.Now()
		m.mu.Unlock()
	} else {
		log.Warn().
			Int("status_code", resp.StatusCode).
			Msg("balance_monitor.alert_failed")
	}
}

// renderTemplate renders the custom body template with alert data.
func (m *BalanceMonitor) renderTemplate(alert BalanceAlert) ([]byte, error) {
	tmpl, err := template.New("alert").Parse(m.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}

	return buf.Bytes(), nil
}
