// Package authority is the thin request layer over the remote authority: the
// backend that is ground truth for identity and product existence.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/clientsync/internal/domain/session"
	"github.com/storefront/clientsync/internal/domain/shared"
	"go.uber.org/zap"
)

// Config holds the authority endpoint settings
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("authority: base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("authority: invalid base URL: %w", err)
	}
	return nil
}

// Client calls the remote authority endpoints. All calls are idempotent from
// the caller's point of view except Login. Transport failures are mapped to
// the domain error taxonomy; callers never see raw HTTP errors.
//
// The client holds the per-context continuation token: the server returns a
// refreshed token on every successful session check and the client re-sends
// it as a bearer header on the next request.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *zap.Logger

	mu      sync.Mutex
	token   string
	onToken func(token string)
}

// ClientOption is a functional option for configuring the client
type ClientOption func(*Client)

// WithToken seeds the continuation token, typically restored from the
// per-context store record.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithTokenListener registers a callback fired whenever the server rotates
// the continuation token, so the caller can persist it.
func WithTokenListener(fn func(token string)) ClientOption {
	return func(c *Client) {
		c.onToken = fn
	}
}

// NewClient creates an authority client
func NewClient(cfg Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// userPayload is the wire shape of an authenticated identity
type userPayload struct {
	ID            int64           `json:"id"`
	Username      string          `json:"username"`
	Role          string          `json:"role"`
	FirstName     string          `json:"first_name"`
	LastName      string          `json:"last_name"`
	WalletBalance decimal.Decimal `json:"wallet_balance"`
}

// sessionPayload is the wire shape of a confirmed session
type sessionPayload struct {
	User  userPayload `json:"user"`
	Token string      `json:"token"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type existsPayload struct {
	Exists bool `json:"exists"`
}

// CurrentSession asks the authority who is logged in for this context.
// Returns (nil, nil) when the authority definitively answers "not
// authenticated" - distinct from a transport failure.
func (c *Client) CurrentSession(ctx context.Context) (*session.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/session", nil)
	if err != nil {
		return nil, shared.ErrNetworkFailure
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decodeSession(resp)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, nil
	default:
		c.logger.Warn("unexpected session check status", zap.Int("status", resp.StatusCode))
		return nil, shared.ErrNetworkFailure
	}
}

// Login authenticates with the authority
func (c *Client) Login(ctx context.Context, creds session.Credentials) (*session.Snapshot, error) {
	body, err := json.Marshal(loginRequest{Username: creds.Username, Password: creds.Password})
	if err != nil {
		return nil, shared.ErrInvalidInput
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/login", body)
	if err != nil {
		return nil, shared.ErrNetworkFailure
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.decodeSession(resp)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, shared.ErrInvalidCredentials
	default:
		c.logger.Warn("unexpected login status", zap.Int("status", resp.StatusCode))
		return nil, shared.ErrNetworkFailure
	}
}

// Logout invalidates the server-side session for this context
func (c *Client) Logout(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/logout", nil)
	if err != nil {
		return shared.ErrNetworkFailure
	}
	defer resp.Body.Close()

	c.setToken("")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		c.logger.Warn("unexpected logout status", zap.Int("status", resp.StatusCode))
		return shared.ErrNetworkFailure
	}
	return nil
}

// ProductExists asks whether the product is still purchasable
func (c *Client) ProductExists(ctx context.Context, productID int64) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/products/%d/exists", productID), nil)
	if err != nil {
		return false, shared.ErrNetworkFailure
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var payload existsPayload
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return false, shared.ErrNetworkFailure
		}
		return payload.Exists, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, shared.ErrNetworkFailure
	}
}

// Token returns the current continuation token
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	onToken := c.onToken
	c.mu.Unlock()

	if onToken != nil {
		onToken(token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.config.BaseURL, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	return c.httpClient.Do(req)
}

func (c *Client) decodeSession(resp *http.Response) (*session.Snapshot, error) {
	var payload sessionPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Error("failed to decode session payload", zap.Error(err))
		return nil, shared.ErrNetworkFailure
	}

	role, err := session.ParseRole(payload.User.Role)
	if err != nil {
		c.logger.Warn("authority returned unknown role, treating as guest",
			zap.String("role", payload.User.Role))
	}

	if payload.Token != "" {
		c.setToken(payload.Token)
	}

	return &session.Snapshot{
		UserID:        payload.User.ID,
		Username:      payload.User.Username,
		Role:          role,
		FirstName:     payload.User.FirstName,
		LastName:      payload.User.LastName,
		WalletBalance: payload.User.WalletBalance,
		CheckedAt:     time.Now(),
	}, nil
}
