package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/odla-network/settlement"
)

// ============================================================================
// Relay Client
// ============================================================================

// RelayClient calls a settlement relay over HTTP
type RelayClient struct {
	url        string
	httpClient *http.Client
}

// RelayConfig configures the relay client
type RelayConfig struct {
	// URL is the base URL of the relay
	URL string

	// HTTPClient is the HTTP client to use (optional)
	HTTPClient *http.Client

	// Timeout for requests (optional, defaults to 30s)
	Timeout time.Duration
}

// DefaultRelayURL is where a locally started relay listens
const DefaultRelayURL = "http://127.0.0.1:8000"

// DefaultClientTimeout bounds requests when no HTTP client is supplied
const DefaultClientTimeout = 30 * time.Second

// NewRelayClient creates a new relay client
func NewRelayClient(config *RelayConfig) *RelayClient {
	if config == nil {
		config = &RelayConfig{}
	}

	baseURL := config.URL
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}

	return &RelayClient{
		url:        strings.TrimRight(baseURL, "/"),
		httpClient: httpClient(config.HTTPClient, config.Timeout),
	}
}

// URL returns the relay base URL
func (c *RelayClient) URL() string {
	return c.url
}

// Pay submits a payment
func (c *RelayClient) Pay(ctx context.Context, req PayRequest) (*PayResponse, error) {
	var resp PayResponse
	if err := c.do(ctx, http.MethodPost, "/pay", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Balance queries the balance of an account
func (c *RelayClient) Balance(ctx context.Context, address string) (*BalanceResponse, error) {
	var resp BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/balance/"+url.PathEscape(address), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Transaction queries the status of a transaction
func (c *RelayClient) Transaction(ctx context.Context, hash string) (*TransactionResponse, error) {
	var resp TransactionResponse
	if err := c.do(ctx, http.MethodGet, "/transaction/"+url.PathEscape(hash), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent payments, newest first. An empty address lists all.
func (c *RelayClient) History(ctx context.Context, limit int, address string) ([]settlement.TransactionRecord, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if address != "" {
		query.Set("address", address)
	}
	path := "/history"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// Health queries the relay health. An unhealthy relay returns its report
// together with ErrNetworkUnavailable.
func (c *RelayClient) Health(ctx context.Context) (settlement.Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return settlement.Health{}, errors.Wrap(err, "failed to create health request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return settlement.Health{}, settlement.WrapError(settlement.ErrCodeNetworkUnavailable, err, "health request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		var health settlement.Health
		body, _ := io.ReadAll(resp.Body)
		if err := json.Unmarshal(body, &health); err == nil && health.Status != "" {
			return health, settlement.NewError(settlement.ErrCodeNetworkUnavailable, "relay reports "+health.Status, nil)
		}
		return settlement.Health{}, decodeError(resp.StatusCode, body)
	}

	var health settlement.Health
	if err := decodeResponse(resp, &health); err != nil {
		return settlement.Health{}, err
	}
	return health, nil
}

func (c *RelayClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return errors.WithStack(ctx.Err())
		}
		return settlement.WrapError(settlement.ErrCodeNetworkUnavailable, err, method+" "+path+" failed")
	}
	defer resp.Body.Close()

	return decodeResponse(resp, out)
}

func httpClient(client *http.Client, timeout time.Duration) *http.Client {
	if client != nil {
		return client
	}
	if timeout == 0 {
		timeout = DefaultClientTimeout
	}
	return &http.Client{Timeout: timeout}
}
