package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/psantana5/operator-dao/pkg/api"
	"github.com/psantana5/operator-dao/pkg/governance"
	"github.com/psantana5/operator-dao/pkg/middleware"
	"github.com/psantana5/operator-dao/pkg/models"
	"github.com/psantana5/operator-dao/pkg/retry"
	"github.com/psantana5/operator-dao/pkg/tracing"
)

// APIError is a non-2xx reply from the daemon. Governance rejections
// unwrap to their sentinel, so errors.Is(err, governance.ErrAlreadyVoted)
// works across the wire.
type APIError struct {
	Status  int
	Name    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Name, e.Message, e.Status)
	}
	return fmt.Sprintf("HTTP %d", e.Status)
}

func (e *APIError) Unwrap() error {
	if g, ok := governance.ErrorByCode(e.Code); ok {
		return g
	}
	return nil
}

// Client talks to daod over HTTP
type Client struct {
	baseURL    string
	caller     models.Address
	apiKey     string
	httpClient *http.Client
	retry      retry.Config
}

// Option configures a Client
type Option func(*Client)

// WithCaller sets the address sent in X-Caller-Address
func WithCaller(addr models.Address) Option {
	return func(c *Client) { c.caller = addr }
}

// WithAPIKey sets the bearer key
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// WithRetry sets the retry policy for transient failures
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client for the daemon at baseURL
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Construct(ctx context.Context, bootstrapRef string) (bool, error) {
	var resp api.ConstructResponse
	err := c.do(ctx, http.MethodPost, "/construct", api.ConstructRequest{BootstrapRef: bootstrapRef}, &resp)
	return resp.Constructed, err
}

func (c *Client) CreateProposal(ctx context.Context, description, actionRef string) (uint64, error) {
	var resp api.CreateProposalResponse
	err := c.do(ctx, http.MethodPost, "/proposals", api.CreateProposalRequest{
		Description: description,
		ActionRef:   actionRef,
	}, &resp)
	return resp.ID, err
}

func (c *Client) Signal(ctx context.Context, id uint64, approve bool, actionRef string) (*api.SignalResponse, error) {
	var resp api.SignalResponse
	path := fmt.Sprintf("/proposals/%d/signal", id)
	if err := c.do(ctx, http.MethodPost, path, api.NewSignalRequest(approve, actionRef), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Proposal(ctx context.Context, id uint64) (*api.ProposalResponse, error) {
	var resp api.ProposalResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/proposals/%d", id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Proposals(ctx context.Context) ([]api.ProposalResponse, error) {
	var resp []api.ProposalResponse
	err := c.do(ctx, http.MethodGet, "/proposals", nil, &resp)
	return resp, err
}

func (c *Client) IsProposalApproved(ctx context.Context, id uint64) (bool, error) {
	var resp api.ApprovedResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/proposals/%d/approved", id), nil, &resp)
	return resp.Approved, err
}

func (c *Client) Operators(ctx context.Context) ([]models.Operator, error) {
	var resp []models.Operator
	err := c.do(ctx, http.MethodGet, "/operators", nil, &resp)
	return resp, err
}

func (c *Client) IsOperator(ctx context.Context, addr models.Address) (bool, error) {
	var resp api.OperatorCheckResponse
	err := c.do(ctx, http.MethodGet, "/operators/"+url.PathEscape(string(addr)), nil, &resp)
	return resp.IsOperator, err
}

func (c *Client) Extensions(ctx context.Context) ([]models.Extension, error) {
	var resp []models.Extension
	err := c.do(ctx, http.MethodGet, "/extensions", nil, &resp)
	return resp, err
}

func (c *Client) State(ctx context.Context) (*models.DAOState, error) {
	var resp models.DAOState
	if err := c.do(ctx, http.MethodGet, "/state", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) TreasuryBalance(ctx context.Context) (uint64, error) {
	var resp api.TreasuryResponse
	err := c.do(ctx, http.MethodGet, "/treasury", nil, &resp)
	return resp.Balance, err
}

// Deposit funds the treasury from the configured caller
func (c *Client) Deposit(ctx context.Context, amount uint64) (uint64, error) {
	var resp api.TreasuryResponse
	err := c.do(ctx, http.MethodPost, "/treasury/deposit", api.DepositRequest{Amount: amount}, &resp)
	return resp.Balance, err
}

func (c *Client) Transfers(ctx context.Context) ([]models.TransferReceipt, error) {
	var resp []models.TransferReceipt
	err := c.do(ctx, http.MethodGet, "/treasury/transfers", nil, &resp)
	return resp, err
}

func (c *Client) Balance(ctx context.Context, addr models.Address) (uint64, error) {
	var resp api.BalanceResponse
	err := c.do(ctx, http.MethodGet, "/accounts/"+url.PathEscape(string(addr))+"/balance", nil, &resp)
	return resp.Balance, err
}

// Health returns nil when the daemon and its store are reachable
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// do sends one request with retries. GETs retry on any transient
// failure; POSTs retry only when the connection was never established,
// because a timed-out vote may already have committed.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	return retry.Do(ctx, c.retry, func() error {
		err := c.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		if !c.retryable(method, err) {
			return retry.Permanent(err)
		}
		return err
	})
}

func (c *Client) retryable(method string, err error) bool {
	if apiErr, ok := err.(*APIError); ok {
		if method != http.MethodGet {
			return false
		}
		switch apiErr.Status {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
		return false
	}
	if method == http.MethodGet {
		return retry.IsRetryable(err)
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection refused")
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.caller != "" {
		req.Header.Set(middleware.CallerHeader, string(c.caller))
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	tracing.InjectHTTPHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var e api.ErrorResponse
		if json.Unmarshal(data, &e) == nil {
			apiErr.Name, apiErr.Code, apiErr.Message = e.Error, e.Code, e.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
