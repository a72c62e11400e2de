package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the promotion server.
type Metrics struct {
	// Validation metrics
	ValidationsTotal        *prometheus.CounterVec
	ValidationFailuresTotal *prometheus.CounterVec
	ValidationDuration      *prometheus.HistogramVec

	// Redemption metrics
	RedemptionsTotal       *prometheus.CounterVec
	RedemptionAmountTotal  *prometheus.CounterVec
	RedemptionReplaysTotal *prometheus.CounterVec
	RedemptionDuration     *prometheus.HistogramVec

	// Gift card issuance metrics
	GiftCardsIssuedTotal  prometheus.Counter
	GiftCardAmountIssued  prometheus.Counter

	// Payment link metrics
	PaymentLinksTotal   *prometheus.CounterVec
	CobreCallsTotal     *prometheus.CounterVec
	CobreCallDuration   *prometheus.HistogramVec
	CobreErrorsTotal    *prometheus.CounterVec

	// Callback metrics
	CallbacksTotal       *prometheus.CounterVec
	CallbackRetriesTotal *prometheus.CounterVec
	CallbackDLQTotal     *prometheus.CounterVec
	CallbackDuration     *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec

	// Database metrics
	DBQueryDuration     *prometheus.HistogramVec
	DBConnectionsActive prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Validation metrics
		ValidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_validations_total",
				Help: "Total number of code validation requests",
			},
			[]string{"kind", "result"},
		),
		ValidationFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_validation_failures_total",
				Help: "Total number of failed validations by reason",
			},
			[]string{"kind", "reason"},
		),
		ValidationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telar_promo_validation_duration_seconds",
				Help:    "Time taken to validate a code (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"kind"},
		),

		// Redemption metrics
		RedemptionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_redemptions_total",
				Help: "Total number of redemption attempts",
			},
			[]string{"kind", "status"},
		),
		RedemptionAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_redemption_amount_total",
				Help: "Total discount amount granted in COP minor units",
			},
			[]string{"kind"},
		),
		RedemptionReplaysTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_redemption_replays_total",
				Help: "Total number of redemption requests replayed from a prior result",
			},
			[]string{"kind"},
		),
		RedemptionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telar_promo_redemption_duration_seconds",
				Help:    "Time taken to record a redemption",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"kind"},
		),

		// Gift card issuance metrics
		GiftCardsIssuedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "telar_promo_gift_cards_issued_total",
				Help: "Total number of gift cards issued",
			},
		),
		GiftCardAmountIssued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "telar_promo_gift_card_amount_issued_total",
				Help: "Total face value of issued gift cards in COP minor units",
			},
		),

		// Payment link metrics
		PaymentLinksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_payment_links_total",
				Help: "Total number of payment link creation requests",
			},
			[]string{"status"},
		),
		CobreCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_cobre_calls_total",
				Help: "Total number of Cobre API calls",
			},
			[]string{"operation"},
		),
		CobreCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telar_promo_cobre_call_duration_seconds",
				Help:    "Duration of Cobre API calls (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"operation"},
		),
		CobreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_cobre_errors_total",
				Help: "Total number of Cobre API errors",
			},
			[]string{"operation", "error_type"},
		),

		// Callback metrics
		CallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_callbacks_total",
				Help: "Total number of order sync callback deliveries",
			},
			[]string{"event_type", "status"},
		),
		CallbackRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_callback_retries_total",
				Help: "Total number of callback retry attempts",
			},
			[]string{"event_type", "attempt"},
		),
		CallbackDLQTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_callback_dlq_total",
				Help: "Total number of callbacks sent to DLQ",
			},
			[]string{"event_type"},
		),
		CallbackDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telar_promo_callback_duration_seconds",
				Help:    "Time taken for callback delivery",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
			},
			[]string{"event_type"},
		),

		// Rate limiting metrics
		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "telar_promo_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),

		// Database metrics
		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "telar_promo_db_query_duration_seconds",
				Help:    "Database query duration (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
		DBConnectionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "telar_promo_db_connections_active",
				Help: "Number of active database connections",
			},
		),
	}
}

// ObserveValidation records a validation request and its outcome.
func (m *Metrics) ObserveValidation(kind string, valid bool, duration time.Duration) {
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.ValidationsTotal.WithLabelValues(kind, result).Inc()
	m.ValidationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveValidationFailure records a failed validation with its reason code.
func (m *Metrics) ObserveValidationFailure(kind, reason string) {
	m.ValidationFailuresTotal.WithLabelValues(kind, reason).Inc()
}

// ObserveRedemption records a redemption attempt and its outcome.
func (m *Metrics) ObserveRedemption(kind, status string, amount int64, duration time.Duration) {
	m.RedemptionsTotal.WithLabelValues(kind, status).Inc()
	if status == "applied" {
		m.RedemptionAmountTotal.WithLabelValues(kind).Add(float64(amount))
	}
	m.RedemptionDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveRedemptionReplay records a redemption request answered from a prior result.
func (m *Metrics) ObserveRedemptionReplay(kind string) {
	m.RedemptionReplaysTotal.WithLabelValues(kind).Inc()
}

// ObserveGiftCardsIssued records a batch of issued gift cards.
func (m *Metrics) ObserveGiftCardsIssued(count int, totalAmount int64) {
	m.GiftCardsIssuedTotal.Add(float64(count))
	m.GiftCardAmountIssued.Add(float64(totalAmount))
}

// ObservePaymentLink records a payment link creation attempt.
func (m *Metrics) ObservePaymentLink(status string) {
	m.PaymentLinksTotal.WithLabelValues(status).Inc()
}

// ObserveCobreCall records a Cobre API call.
func (m *Metrics) ObserveCobreCall(operation string, duration time.Duration, err error) {
	m.CobreCallsTotal.WithLabelValues(operation).Inc()
	m.CobreCallDuration.WithLabelValues(operation).Observe(duration.Seconds())

	if err != nil {
		errorType := "unknown"
		if errStr := err.Error(); errStr != "" {
			switch {
			case contains(errStr, "timeout"):
				errorType = "timeout"
			case contains(errStr, "rate limit"):
				errorType = "rate_limit"
			case contains(errStr, "connection"):
				errorType = "connection"
			case contains(errStr, "circuit"):
				errorType = "circuit_open"
			default:
				errorType = "other"
			}
		}
		m.CobreErrorsTotal.WithLabelValues(operation, errorType).Inc()
	}
}

// ObserveCallback records a callback delivery.
func (m *Metrics) ObserveCallback(eventType, status string, duration time.Duration, attempt int, sentToDLQ bool) {
	m.CallbacksTotal.WithLabelValues(eventType, status).Inc()
	m.CallbackDuration.WithLabelValues(eventType).Observe(duration.Seconds())

	if attempt > 1 {
		m.CallbackRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}

	if sentToDLQ {
		m.CallbackDLQTotal.WithLabelValues(eventType).Inc()
	}
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// Helper functions
func contains(s, substr string) bool {
	return len(s) >= len(substr) && s[:len(substr)] == substr ||
		len(s) > len(substr) && contains(s[1:], substr)
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return string(rune('0' + attempt))
	}
	return "5+"
}
