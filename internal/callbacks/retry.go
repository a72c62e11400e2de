package callbacks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telar-co/promo-server/internal/auth"
	"github.com/telar-co/promo-server/internal/circuitbreaker"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/httputil"
	"github.com/telar-co/promo-server/internal/metrics"
)

// RetryConfig holds callback retry configuration.
type RetryConfig struct {
	MaxAttempts     int           // Maximum retry attempts (default: 5)
	InitialInterval time.Duration // Initial backoff interval (default: 1s)
	MaxInterval     time.Duration // Maximum backoff interval (default: 5m)
	Multiplier      float64       // Backoff multiplier (default: 2.0)
	Timeout         time.Duration // Per-attempt timeout (default: 10s)
}

// DefaultRetryConfig returns sensible defaults for callback retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     5,
		InitialInterval: 1 * time.Second,
		MaxInterval:     5 * time.Minute,
		Multiplier:      2.0,
		Timeout:         10 * time.Second,
	}
}

// RetryableClient posts order-sync events with exponential backoff.
type RetryableClient struct {
	cfg        config.CallbacksConfig
	retryCfg   RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
	dlqStore   DLQStore
	metrics    *metrics.Metrics
	breaker    *circuitbreaker.Manager
}

// DLQStore persists failed callbacks for manual retry or analysis.
type DLQStore interface {
	SaveFailedCallback(ctx context.Context, cb FailedCallback) error
	ListFailedCallbacks(ctx context.Context, limit int) ([]FailedCallback, error)
	DeleteFailedCallback(ctx context.Context, id string) error
}

// FailedCallback represents a callback that exhausted all retry attempts.
type FailedCallback struct {
	ID          string            `json:"id"`
	URL         string            `json:"url"`
	Payload     json.RawMessage   `json:"payload"`
	Headers     map[string]string `json:"headers"`
	EventType   string            `json:"eventType"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"lastError"`
	LastAttempt time.Time         `json:"lastAttempt"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// RetryOption customizes the retry client behavior.
type RetryOption func(*RetryableClient)

// WithRetryLogger sets a custom logger for retry operations.
func WithRetryLogger(logger zerolog.Logger) RetryOption {
	return func(c *RetryableClient) {
		c.logger = logger
	}
}

// WithDLQStore enables the dead letter queue for exhausted callbacks.
func WithDLQStore(store DLQStore) RetryOption {
	return func(c *RetryableClient) {
		c.dlqStore = store
	}
}

// WithRetryConfig sets custom retry configuration.
func WithRetryConfig(cfg RetryConfig) RetryOption {
	return func(c *RetryableClient) {
		c.retryCfg = cfg
	}
}

// WithMetrics sets the metrics collector for callback observability.
func WithMetrics(m *metrics.Metrics) RetryOption {
	return func(c *RetryableClient) {
		c.metrics = m
	}
}

// WithBreaker routes deliveries through the webhook circuit breaker.
func WithBreaker(breaker *circuitbreaker.Manager) RetryOption {
	return func(c *RetryableClient) {
		c.breaker = breaker
	}
}

// NewRetryableClient constructs a callback client with retry support.
// Without an order-sync URL configured it degrades to a no-op.
func NewRetryableClient(cfg config.CallbacksConfig, opts ...RetryOption) Notifier {
	if cfg.OrderSyncURL == "" {
		return NoopNotifier{}
	}

	timeout := cfg.Timeout.Duration
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &RetryableClient{
		cfg:        cfg,
		retryCfg:   retryConfigFrom(cfg.Retry, timeout),
		httpClient: httputil.NewClient(timeout),
		logger:     zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

func retryConfigFrom(cfg config.RetryConfig, timeout time.Duration) RetryConfig {
	out := DefaultRetryConfig()
	out.Timeout = timeout
	if cfg.MaxAttempts > 0 {
		out.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialInterval.Duration > 0 {
		out.InitialInterval = cfg.InitialInterval.Duration
	}
	if cfg.MaxInterval.Duration > 0 {
		out.MaxInterval = cfg.MaxInterval.Duration
	}
	if cfg.Multiplier > 0 {
		out.Multiplier = cfg.Multiplier
	}
	return out
}

// RedemptionApplied dispatches the event asynchronously with retry logic.
// The EventID is fixed before serialization so every retry carries the same
// idempotency key.
func (c *RetryableClient) RedemptionApplied(ctx context.Context, event RedemptionEvent) {
	if c == nil || c.cfg.OrderSyncURL == "" {
		return
	}

	PrepareRedemptionEvent(&event)
	c.dispatch(event.EventID, event.EventType, event)
}

// GiftCardsIssued dispatches the event asynchronously with retry logic.
func (c *RetryableClient) GiftCardsIssued(ctx context.Context, event GiftCardIssueEvent) {
	if c == nil || c.cfg.OrderSyncURL == "" {
		return
	}

	PrepareGiftCardIssueEvent(&event)
	c.dispatch(event.EventID, event.EventType, event)
}

func (c *RetryableClient) dispatch(eventID, eventType string, event interface{}) {
	go func() {
		payload, err := json.Marshal(event)
		if err != nil {
			c.logger.Error().Err(err).Str("event_type", eventType).Msg("callbacks: failed to serialize event")
			return
		}

		if err := c.sendWithRetry(context.Background(), payload, eventType); err != nil {
			c.logger.Error().
				Err(err).
				Str("event_id", eventID).
				Str("event_type", eventType).
				Msg("callbacks: delivery failed after all retries")
			if c.dlqStore != nil {
				c.saveToDLQ(context.Background(), payload, eventType, err)
			}
		}
	}()
}

// sendWithRetry attempts delivery with exponential backoff.
func (c *RetryableClient) sendWithRetry(ctx context.Context, payload []byte, eventType string) error {
	var lastErr error
	interval := c.retryCfg.InitialInterval
	startTime := time.Now()

	if !c.cfg.Retry.Enabled {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.send(reqCtx, payload)
		cancel()
		c.observe(eventType, err, time.Since(startTime), 1, false)
		return err
	}

	for attempt := 1; attempt <= c.retryCfg.MaxAttempts; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, c.retryCfg.Timeout)
		err := c.send(reqCtx, payload)
		cancel()

		if err == nil {
			c.observe(eventType, nil, time.Since(startTime), attempt, false)
			if attempt > 1 {
				c.logger.Info().
					Int("attempt", attempt).
					Str("event_type", eventType).
					Msg("callbacks: delivery succeeded after retry")
			}
			return nil
		}

		lastErr = err
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.retryCfg.MaxAttempts).
			Str("event_type", eventType).
			Dur("next_retry", interval).
			Msg("callbacks: delivery attempt failed")

		if attempt < c.retryCfg.MaxAttempts {
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * c.retryCfg.Multiplier)
			if interval > c.retryCfg.MaxInterval {
				interval = c.retryCfg.MaxInterval
			}
		}
	}

	c.observe(eventType, lastErr, time.Since(startTime), c.retryCfg.MaxAttempts, false)
	return fmt.Errorf("callback failed after %d attempts: %w", c.retryCfg.MaxAttempts, lastErr)
}

// send performs one HTTP delivery, through the webhook breaker when set.
func (c *RetryableClient) send(ctx context.Context, payload []byte) error {
	do := func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OrderSyncURL, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.cfg.SyncSecret != "" {
			req.Header.Set("X-Sync-Secret", c.cfg.SyncSecret)
			req.Header.Set(auth.HeaderSignature, auth.Sign(c.cfg.SyncSecret, payload))
		}
		for k, v := range c.cfg.Headers {
			if k == "" || strings.EqualFold(k, "content-type") {
				continue
			}
			req.Header.Set(k, v)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("received status %d from %s", resp.StatusCode, c.cfg.OrderSyncURL)
		}
		return nil, nil
	}

	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(circuitbreaker.ServiceWebhook, do)
	} else {
		_, err = do()
	}
	return err
}

// saveToDLQ persists an exhausted callback to the dead letter queue.
func (c *RetryableClient) saveToDLQ(ctx context.Context, payload []byte, eventType string, lastErr error) {
	cb := FailedCallback{
		ID:          fmt.Sprintf("callback_%d", time.Now().UnixNano()),
		URL:         c.cfg.OrderSyncURL,
		Payload:     json.RawMessage(payload),
		Headers:     c.cfg.Headers,
		EventType:   eventType,
		Attempts:    c.retryCfg.MaxAttempts,
		LastError:   lastErr.Error(),
		LastAttempt: time.Now().UTC(),
		CreatedAt:   time.Now().UTC(),
	}

	if err := c.dlqStore.SaveFailedCallback(ctx, cb); err != nil {
		c.logger.Error().Err(err).Str("callback_id", cb.ID).Msg("callbacks: failed to save to DLQ")
		return
	}

	c.observe(eventType, lastErr, 0, cb.Attempts, true)
	c.logger.Info().
		Str("callback_id", cb.ID).
		Str("event_type", eventType).
		Int("attempts", cb.Attempts).
		Msg("callbacks: saved failed delivery to DLQ")
}

func (c *RetryableClient) observe(eventType string, err error, duration time.Duration, attempt int, dlq bool) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	if dlq {
		status = "dlq"
	}
	c.metrics.ObserveCallback(eventType, status, duration, attempt, dlq)
}
