package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// APIError is a non-2xx response from the exchange.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lighter api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the failure is transient upstream.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Kind maps an error to the error-log taxonomy: "timeout", "429",
// "HTTP_<status>", "connection" or "exception". code is the HTTP
// status when one applies, else nil.
func Kind(err error) (kind string, code *int) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		status := apiErr.StatusCode
		if status == http.StatusTooManyRequests {
			return "429", &status
		}
		return fmt.Sprintf("HTTP_%d", status), &status
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", nil
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", nil
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection", nil
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "connection", nil
	}

	return "exception", nil
}

// get performs one signed GET and decodes the body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	token, err := c.minter.Token()
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
