package cobre

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/telar-co/promo-server/internal/cacheutil"
	"github.com/telar-co/promo-server/internal/circuitbreaker"
	"github.com/telar-co/promo-server/internal/config"
	"github.com/telar-co/promo-server/internal/httputil"
	"github.com/telar-co/promo-server/internal/logger"
	"github.com/telar-co/promo-server/internal/metrics"
)

// ErrNotConfigured is returned when Cobre credentials are missing.
var ErrNotConfigured = errors.New("cobre: credentials not configured")

// APIError is a non-2xx response from the Cobre API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cobre api error: status %d: %s", e.StatusCode, e.Body)
}

// CheckoutRequest describes a payment link to create.
type CheckoutRequest struct {
	// Amount in COP minor units.
	Amount int64

	// ExternalID ties the link back to a marketplace order or cart.
	ExternalID string

	// Header and Item are the texts shown on the hosted checkout page.
	Header string
	Item   string
}

// CheckoutLink is a created payment link.
type CheckoutLink struct {
	CheckoutURL string
	IntentID    string
	ValidUntil  time.Time
}

// Balance is the settlement account state in COP minor units.
type Balance struct {
	Available int64
	Pending   int64
	Currency  string
}

// Client talks to the Cobre payments API. Access tokens are cached for
// TokenTTL and refreshed on demand; a 401 mid-flight invalidates the cache
// and retries once with a fresh token.
type Client struct {
	cfg     config.CobreConfig
	http    *http.Client
	breaker *circuitbreaker.Manager
	metrics *metrics.Metrics
	now     func() time.Time

	mu           sync.RWMutex
	token        string
	tokenFetched time.Time
}

// NewClient creates a Cobre API client.
func NewClient(cfg config.CobreConfig, breaker *circuitbreaker.Manager, m *metrics.Metrics) *Client {
	return &Client{
		cfg:     cfg,
		http:    httputil.NewClient(cfg.Timeout.Duration),
		breaker: breaker,
		metrics: m,
		now:     time.Now,
	}
}

// Configured reports whether the client has credentials to work with.
func (c *Client) Configured() bool {
	return c.cfg.UserID != "" && c.cfg.Secret != ""
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// accessToken returns a cached token or authenticates for a fresh one.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	ttl := c.cfg.TokenTTL.Duration
	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (string, bool) {
			if c.token != "" && now.Sub(c.tokenFetched) < ttl {
				return c.token, true
			}
			return "", false
		},
		func(now time.Time) (string, error) {
			token, err := c.authenticate(ctx)
			if err != nil {
				return "", err
			}
			c.token = token
			c.tokenFetched = now
			return token, nil
		},
	)
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	start := time.Now()

	body, err := json.Marshal(map[string]string{
		"user_id": c.cfg.UserID,
		"secret":  c.cfg.Secret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/auth", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	var auth authResponse
	err = c.doJSON(req, &auth)
	c.observe("auth", start, err)
	if err != nil {
		return "", err
	}
	if auth.AccessToken == "" {
		return "", errors.New("cobre auth response missing access_token")
	}

	return auth.AccessToken, nil
}

// invalidateToken drops the cached token so the next call re-authenticates.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

type checkoutPayload struct {
	Alias                    string   `json:"alias"`
	Amount                   int64    `json:"amount"`
	ExternalID               string   `json:"external_id"`
	DestinationID            string   `json:"destination_id"`
	CheckoutRails            []string `json:"checkout_rails"`
	CheckoutHeader           string   `json:"checkout_header"`
	CheckoutItem             string   `json:"checkout_item"`
	DescriptionToPayee       string   `json:"description_to_payee"`
	ValidUntil               string   `json:"valid_until"`
	MoneyMovementIntentLimit int      `json:"money_movement_intent_limit"`
	RedirectURL              string   `json:"redirect_url"`
}

type checkoutResponse struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
}

// CreateCheckoutLink creates a single-use hosted payment link.
func (c *Client) CreateCheckoutLink(ctx context.Context, req CheckoutRequest) (CheckoutLink, error) {
	log := logger.FromContext(ctx)

	token, err := c.accessToken(ctx)
	if err != nil {
		return CheckoutLink{}, err
	}

	now := c.now()
	validUntil := now.Add(c.cfg.LinkValidity.Duration).UTC()

	payload := checkoutPayload{
		Alias:                    c.cfg.Alias,
		Amount:                   req.Amount,
		ExternalID:               req.ExternalID,
		DestinationID:            c.cfg.DestinationID,
		CheckoutRails:            c.cfg.CheckoutRails,
		CheckoutHeader:           req.Header,
		CheckoutItem:             req.Item,
		DescriptionToPayee:       paymentDescription(now),
		ValidUntil:               validUntil.Format(time.RFC3339),
		MoneyMovementIntentLimit: 1,
		RedirectURL:              c.cfg.RedirectURL,
	}

	var resp checkoutResponse
	err = c.authorizedJSON(ctx, "create_checkout", http.MethodPost, "/v1/checkouts", token, payload, &resp)
	if err != nil {
		return CheckoutLink{}, err
	}

	log.Info().
		Str("external_id", req.ExternalID).
		Int64("amount", req.Amount).
		Str("intent_id", resp.ID).
		Msg("payment link created")

	return CheckoutLink{
		CheckoutURL: resp.CheckoutURL,
		IntentID:    resp.ID,
		ValidUntil:  validUntil,
	}, nil
}

type accountResponse struct {
	ObtainedBalance int64  `json:"obtained_balance"`
	Balance         int64  `json:"balance"`
	Available       int64  `json:"available"`
	PendingBalance  int64  `json:"pending_balance"`
	Pending         int64  `json:"pending"`
	Currency        string `json:"currency"`
}

// AccountBalance fetches the settlement account balance.
func (c *Client) AccountBalance(ctx context.Context) (Balance, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return Balance{}, err
	}

	path := "/v1/accounts/" + c.cfg.DestinationID + "?sensitive_data=true"

	var resp accountResponse
	if err := c.authorizedJSON(ctx, "account_balance", http.MethodGet, path, token, nil, &resp); err != nil {
		return Balance{}, err
	}

	// Several balance field names exist across API versions; obtained_balance
	// is the current one.
	available := resp.ObtainedBalance
	if available == 0 {
		if resp.Balance != 0 {
			available = resp.Balance
		} else {
			available = resp.Available
		}
	}
	pending := resp.PendingBalance
	if pending == 0 {
		pending = resp.Pending
	}
	currency := resp.Currency
	if currency == "" {
		currency = "COP"
	}

	return Balance{Available: available, Pending: pending, Currency: currency}, nil
}

// authorizedJSON performs a bearer-authorized request through the circuit
// breaker, retrying once with a fresh token on 401.
func (c *Client) authorizedJSON(ctx context.Context, operation, method, path, token string, payload, out interface{}) error {
	start := time.Now()

	do := func(tok string) error {
		var body io.Reader
		if payload != nil {
			data, err := json.Marshal(payload)
			if err != nil {
				return fmt.Errorf("marshal %s request: %w", operation, err)
			}
			body = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
		if err != nil {
			return fmt.Errorf("build %s request: %w", operation, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+tok)

		return c.doJSON(req, out)
	}

	_, err := c.execute(func() (interface{}, error) {
		err := do(token)

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			c.invalidateToken()
			fresh, terr := c.accessToken(ctx)
			if terr != nil {
				return nil, terr
			}
			err = do(fresh)
		}
		return nil, err
	})

	c.observe(operation, start, err)
	return err
}

// execute routes a call through the Cobre breaker when one is configured.
func (c *Client) execute(fn func() (interface{}, error)) (interface{}, error) {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(circuitbreaker.ServiceCobreAPI, fn)
}

// doJSON sends the request and decodes a 2xx JSON response into out.
func (c *Client) doJSON(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cobre request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read cobre response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode cobre response: %w", err)
		}
	}
	return nil
}

func (c *Client) observe(operation string, start time.Time, err error) {
	if c.metrics != nil {
		c.metrics.ObserveCobreCall(operation, time.Since(start), err)
	}
}

// paymentDescription renders the payee description with the creation
// timestamp, e.g. "Pago - 03/12/2025 10:30".
func paymentDescription(now time.Time) string {
	return "Pago - " + now.Format("02/01/2006 15:04")
}
