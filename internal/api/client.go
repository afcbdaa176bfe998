package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/rickgao/lighter-data/internal/auth"
)

const (
	// DefaultTimeout bounds one whole request, dial to body.
	DefaultTimeout = 30 * time.Second

	// maxConnsPerHost limits the pooled connections one account's
	// client keeps toward the exchange.
	maxConnsPerHost = 10

	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// Client calls the Lighter REST API for one account. Each account gets
// its own Client so the proxy and the connection pool stay per-account.
type Client struct {
	baseURL    string
	minter     *auth.Minter
	httpClient *http.Client
	logger     *slog.Logger
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client for one account. proxyURL may be
// empty for a direct connection.
func NewClient(baseURL string, minter *auth.Minter, proxyURL string, opts ...ClientOption) (*Client, error) {
	transport := &http.Transport{
		MaxConnsPerHost: maxConnsPerHost,
	}
	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(parsed)
	}

	c := &Client{
		baseURL: baseURL,
		minter:  minter,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: transport,
		},
		logger:    slog.Default(),
		userAgent: defaultUserAgent,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client. The proxy configured at
// construction is discarded; the caller owns the transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}
