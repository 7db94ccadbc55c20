package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/clinicdesk/appointment-sync/internal/version"
)

// AuthFunc returns the Authorization header value for a request, or "".
type AuthFunc func() string

// Client talks to the scheduling backend's REST API.
type Client struct {
	baseURL   string
	auth      AuthFunc
	userAgent string
	http      *http.Client
	logger    *slog.Logger
	retry     retryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a REST client rooted at baseURL. auth is consulted on
// every request so a token refreshed by the session is picked up; it may be
// nil for unauthenticated use.
func NewClient(baseURL string, auth AuthFunc, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		auth:      auth,
		userAgent: "appointment-sync/" + version.Version,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    slog.Default(),
		retry: retryPolicy{
			retries: 3,
			base:    time.Second,
			ceiling: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithRetries sets how many times a temporary failure is retried and the
// first delay, which doubles per retry.
func WithRetries(retries int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.retries = retries
		c.retry.base = backoff
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithUserAgent overrides the default "appointment-sync/<version>" agent.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}
