package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 16 << 20

// ErrUnauthorized matches (via errors.Is) an APIError for a 401 or 403.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	StatusCode int
	Path       string
	Message    string        // Server-supplied message, else the status text
	RetryAfter time.Duration // From the Retry-After header, 0 if absent
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d for %s: %s", e.StatusCode, e.Path, e.Message)
}

// Temporary reports whether the request may succeed if sent again.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

// retryPolicy spaces out retries of temporary failures.
type retryPolicy struct {
	retries int           // Retries after the first attempt
	base    time.Duration // Delay before the first retry, doubled each time
	ceiling time.Duration // Upper bound on any single delay
}

// delay returns how long to wait before retry number attempt (0-based).
// A server hint wins over the computed backoff.
func (p retryPolicy) delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return min(hint, p.ceiling)
	}
	if p.base <= 0 {
		return 0
	}

	d := p.base << attempt
	if d <= 0 || d > p.ceiling {
		d = p.ceiling
	}
	// Jitter into [d/2, 3d/2).
	d = d/2 + time.Duration(rand.Int63n(int64(d)))
	return min(d, p.ceiling)
}

// getJSON fetches path, retrying temporary failures, and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.getWithRetry(ctx, path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (c *Client) getWithRetry(ctx context.Context, path string) ([]byte, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		body, err := c.get(ctx, path)
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Temporary() {
			return nil, err
		}
		if attempt >= c.retry.retries {
			break
		}

		wait := c.retry.delay(attempt, apiErr.RetryAfter)
		c.logger.Debug("retrying request",
			"path", path,
			"status", apiErr.StatusCode,
			"retry", attempt+1,
			"wait", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("giving up after %d retries: %w", c.retry.retries, lastErr)
}

// get performs a single GET and turns non-2xx answers into an *APIError.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.auth != nil {
		if auth := c.auth(); auth != "" {
			req.Header.Set("Authorization", auth)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Path:       path,
			Message:    errorMessage(resp.StatusCode, body),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Body:       body,
		}
	}

	return body, nil
}

// errorMessage extracts the backend's error text from a JSON error body
// ({"message": ...} or {"error": ...}), falling back to the status text.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return http.StatusText(status)
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
