package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	liveBaseURL    = "https://api-m.paypal.com"
	sandboxBaseURL = "https://api-m.sandbox.paypal.com"

	tokenEndpoint  = "/v1/oauth2/token"
	ordersEndpoint = "/v2/checkout/orders"

	requestTimeout = 15 * time.Second
)

// APIError is the error body the processor returns on non-2xx responses.
type APIError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
}

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	Amount amount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type captureResponse struct {
	ID            string      `json:"id"`
	Status        OrderStatus `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// Client is a PayPal Orders v2 client authenticated with OAuth2 client
// credentials.
type Client struct {
	baseURL      string
	environment  string
	clientID     string
	clientSecret string
	attempts     uint
	retryDelay   time.Duration

	base       *http.Client
	httpClient *http.Client
	logger     zerolog.Logger
}

type OptFunc func(*Client)

// WithEnvironment selects the API host. Valid values are "live" and
// "sandbox"; anything else leaves the current host.
func WithEnvironment(env string) OptFunc {
	return func(c *Client) {
		switch env {
		case "live":
			c.baseURL = liveBaseURL
			c.environment = env
		case "sandbox":
			c.baseURL = sandboxBaseURL
			c.environment = env
		}
	}
}

// WithBaseURL points the client at another host, e.g. a test server.
func WithBaseURL(baseURL string) OptFunc {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client used for token and API requests.
func WithHTTPClient(httpClient *http.Client) OptFunc {
	return func(c *Client) {
		c.base = httpClient
	}
}

// WithRetry sets how often idempotent reads are attempted.
func WithRetry(attempts uint, delay time.Duration) OptFunc {
	return func(c *Client) {
		c.attempts = attempts
		c.retryDelay = delay
	}
}

func WithLogger(logger zerolog.Logger) OptFunc {
	return func(c *Client) {
		c.logger = logger.With().Str("component", "paypal").Logger()
	}
}

// NewClient creates a client for the live environment unless overridden.
func NewClient(clientID, clientSecret string, opts ...OptFunc) *Client {
	c := &Client{
		baseURL:      liveBaseURL,
		environment:  "live",
		clientID:     clientID,
		clientSecret: clientSecret,
		attempts:     3,
		retryDelay:   250 * time.Millisecond,
		base: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		logger: zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(c)
	}

	cc := &clientcredentials.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		TokenURL:     c.baseURL + tokenEndpoint,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, c.base)
	c.httpClient = cc.Client(tokenCtx)
	c.httpClient.Timeout = c.base.Timeout

	return c
}

// IsConfigured reports whether credentials were supplied.
func (c *Client) IsConfigured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

func (c *Client) Environment() string {
	return c.environment
}

// CreateOrder creates a CAPTURE intent order for amount in currency.
func (c *Client) CreateOrder(ctx context.Context, value, currency string) (*Order, error) {
	body := createOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{
			{Amount: amount{CurrencyCode: currency, Value: value}},
		},
	}

	var order Order
	if err := c.do(ctx, http.MethodPost, ordersEndpoint, body, nil, &order); err != nil {
		return nil, errors.Wrap(classify(err), "create order")
	}
	if order.ID == "" {
		return nil, errors.Wrap(ErrUpstream, "create order: response without id")
	}

	c.logger.Info().Str("order_id", order.ID).Str("status", string(order.Status)).Msg("order created")
	return &order, nil
}

// GetOrderStatus fetches the order. Transient failures are retried since
// the read has no side effects.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	if orderID == "" {
		return "", ErrOrderNotFound
	}

	var order Order
	err := retry.Do(
		func() error {
			return c.do(ctx, http.MethodGet, ordersEndpoint+"/"+url.PathEscape(orderID), nil, nil, &order)
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("order_id", orderID).Msg("retrying order lookup")
		}),
	)
	if err != nil {
		return "", errors.Wrapf(classify(err), "get order %s", orderID)
	}
	return order.Status, nil
}

// CaptureOrder captures an approved order and returns the capture id. A
// fresh PayPal-Request-Id is sent so a replay by the transport is not
// charged twice.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (string, error) {
	if orderID == "" {
		return "", ErrOrderNotFound
	}

	headers := map[string]string{"PayPal-Request-Id": uuid.NewString()}

	var resp captureResponse
	err := c.do(ctx, http.MethodPost, ordersEndpoint+"/"+url.PathEscape(orderID)+"/capture", struct{}{}, headers, &resp)
	if err != nil {
		return "", errors.Wrapf(classify(err), "capture order %s", orderID)
	}

	captureID := resp.ID
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		captureID = resp.PurchaseUnits[0].Payments.Captures[0].ID
	}

	c.logger.Info().Str("order_id", orderID).Str("capture_id", captureID).Msg("order captured")
	return captureID, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, in any, headers map[string]string, out any) error {
	if !c.IsConfigured() {
		return ErrNotConfigured
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return ErrOrderNotFound
	default:
		var apiErr APIError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Name != "" {
			return &statusError{code: resp.StatusCode, api: apiErr}
		}
		return &statusError{code: resp.StatusCode}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrap(ErrUpstream, "decode response: "+err.Error())
	}
	return nil
}

type statusError struct {
	code int
	api  APIError
}

func (e *statusError) Error() string {
	if e.api.Name != "" {
		return fmt.Sprintf("%s: status %d: %s: %s", ErrUpstream, e.code, e.api.Name, e.api.Message)
	}
	return fmt.Sprintf("%s: status %d", ErrUpstream, e.code)
}

func (e *statusError) Unwrap() error {
	return ErrUpstream
}

// isTransient decides whether a failed read is worth another attempt.
func isTransient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	// rejected credentials do not get better on retry
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.Response == nil || re.Response.StatusCode >= 500
	}
	switch {
	case errors.Is(err, ErrUpstream), errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrNotConfigured):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// classify maps transport failures onto the package sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUpstream) || errors.Is(err, ErrUpstreamTimeout) ||
		errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrNotConfigured) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(ErrUpstreamTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(ErrUpstreamTimeout, err.Error())
	}
	return errors.Wrap(ErrUpstream, err.Error())
}
