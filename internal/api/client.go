package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"
)

// Retry and backoff constants.
const (
	defaultMaxRetries = 3
	baseBackoff       = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
	backoffFactor     = 2.0
	jitterFraction    = 0.25
	defaultUserAgent  = "timeline-go/0.1"
)

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	// Timeout bounds each network call, including reading the response body.
	// Zero disables the per-call timeout.
	Timeout time.Duration

	// MaxRetries is the number of retries after a network error or a
	// retryable status. Negative disables retries.
	MaxRetries int

	UserAgent string
}

// Client is an HTTP client for the timeline backend. It handles request
// construction, bearer authentication, retry with exponential backoff, and
// error classification. Credentials are passed per call because the session
// manager decides which credential is valid at the instant of use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries int
	userAgent  string

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an API client. baseURL is the server root, e.g.
// "http://localhost:8080".
func NewClient(baseURL string, httpClient *http.Client, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	maxRetries := opts.MaxRetries
	switch {
	case maxRetries == 0:
		maxRetries = defaultMaxRetries
	case maxRetries < 0:
		maxRetries = 0
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		timeout:    opts.Timeout,
		maxRetries: maxRetries,
		userAgent:  ua,
		sleepFunc:  timeSleep,
	}
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do executes a request against the backend and decodes a JSON response into
// out (when out is non-nil and the response has a body). token is sent as a
// bearer credential when non-empty. body, when non-nil, is JSON-encoded.
// Returns the final HTTP status code.
func (c *Client) Do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("api: encoding request body: %w", err)
		}
	}

	url := c.baseURL + path

	var attempt int
	for {
		status, retryAfter, err := c.doOnce(ctx, method, url, token, payload, out)
		if err == nil {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", status),
			)

			return status, nil
		}

		// Caller cancellation is not retryable.
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: request canceled: %w", ErrNetwork, ctx.Err())
		}

		var apiErr *Error
		isStatusErr := errors.As(err, &apiErr)

		retryable := !isStatusErr || isRetryable(apiErr.StatusCode)
		if !retryable || attempt >= c.maxRetries {
			if attempt > 0 {
				c.logger.Error("request failed after retries",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempts", attempt+1),
					slog.String("error", err.Error()),
				)
			}

			if isStatusErr {
				return apiErr.StatusCode, err
			}

			return 0, fmt.Errorf("%w: %s %s: %w", ErrNetwork, method, path, err)
		}

		backoff := c.calcBackoff(attempt)
		if retryAfter > 0 {
			backoff = retryAfter
		}

		c.logger.Warn("retrying request",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
			return 0, fmt.Errorf("%w: request canceled: %w", ErrNetwork, sleepErr)
		}

		attempt++
	}
}

// doOnce executes a single HTTP request (no retry) under the per-call
// timeout. Non-2xx responses are returned as *Error; transport failures are
// returned as-is. retryAfter is non-zero when the server asked for a delay.
func (c *Client) doOnce(
	ctx context.Context, method, url, token string, payload []byte, out any,
) (status int, retryAfter time.Duration, err error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, 0, fmt.Errorf("creating request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return resp.StatusCode, parseRetryAfter(resp), newError(resp.StatusCode, data)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent && len(bytes.TrimSpace(data)) > 0 {
		if err := unmarshalNumbers(data, out); err != nil {
			return resp.StatusCode, 0, &Error{
				StatusCode: resp.StatusCode,
				Message:    "malformed response from server",
				Body:       data,
				Err:        ErrServer,
			}
		}
	}

	return resp.StatusCode, 0, nil
}

// parseRetryAfter honors a numeric Retry-After header on 429 responses.
func parseRetryAfter(resp *http.Response) time.Duration {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}

	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// unmarshalNumbers decodes JSON keeping numbers as json.Number.
func unmarshalNumbers(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	return dec.Decode(v)
}
