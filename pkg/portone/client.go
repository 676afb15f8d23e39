// Package portone implements renew.Gateway on top of the PortOne v2 REST API.
package portone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mihaimyh/gorenew/pkg/renew"
)

const (
	// DefaultBaseURL is the production PortOne API endpoint.
	DefaultBaseURL     = "https://api.portone.io"
	defaultHTTPTimeout = 10 * time.Second
	authScheme         = "PortOne "
	maxErrorBodyBytes  = 4 << 10
)

// Endpoint labels used for metrics and APIError.
const (
	EndpointGetPayment        = "get_payment"
	EndpointReserveSchedule   = "reserve_schedule"
	EndpointListSchedules     = "list_schedules"
	EndpointCancelSchedules   = "cancel_schedules"
	EndpointPayWithBillingKey = "pay_with_billing_key"
)

// Config configures the PortOne client.
type Config struct {
	// APISecret is the V2 API secret sent as "Authorization: PortOne <secret>".
	// An empty secret is reported by CheckConfig instead of failing New, so
	// the webhook can still answer with a configuration error.
	APISecret string

	// BaseURL overrides DefaultBaseURL (tests, sandboxes).
	BaseURL string

	// HTTPClient is an optional HTTP client for API calls.
	// If nil, a default client with 10s timeout will be used.
	HTTPClient *http.Client

	// Metrics is optional; nil disables gateway call metrics.
	Metrics renew.Metrics
}

// DefaultConfig returns a config pointing at the production API.
func DefaultConfig() Config {
	return Config{BaseURL: DefaultBaseURL}
}

// Client talks to the PortOne payment and payment-schedule APIs.
type Client struct {
	secret     string
	baseURL    string
	httpClient *http.Client
	metrics    renew.Metrics
}

var _ renew.Gateway = (*Client)(nil)

// New creates a PortOne client.
func New(config Config) *Client {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &renew.NoopMetrics{}
	}

	secret := strings.TrimSpace(config.APISecret)
	// Accept secrets pasted together with their scheme
	if strings.HasPrefix(strings.ToLower(secret), strings.ToLower(authScheme)) {
		secret = strings.TrimSpace(secret[len(authScheme):])
	}

	return &Client{
		secret:     secret,
		baseURL:    baseURL,
		httpClient: httpClient,
		metrics:    metrics,
	}
}

// CheckConfig reports renew.ErrConfiguration when no API secret is set.
func (c *Client) CheckConfig() error {
	if c.secret == "" {
		return fmt.Errorf("%w: portone API secret not configured", renew.ErrConfiguration)
	}
	return nil
}

// do sends a JSON request and decodes a 2xx JSON response into out (if non-nil).
// Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, endpoint, method, path string, in, out any) error {
	if err := c.CheckConfig(); err != nil {
		return err
	}

	var body io.Reader = http.NoBody
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", authScheme+c.secret)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	c.metrics.RecordGatewayCallDuration(endpoint, time.Since(start))
	if err != nil {
		c.metrics.RecordGatewayCall(endpoint, "error")
		return fmt.Errorf("portone %s request failed: %w", endpoint, err)
	}
	defer res.Body.Close()
	c.metrics.RecordGatewayCall(endpoint, strconv.Itoa(res.StatusCode))

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return newAPIError(endpoint, res.StatusCode, raw)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return nil
}
