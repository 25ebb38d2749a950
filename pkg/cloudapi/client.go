package cloudapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackpilot/stackpilot/pkg/telemetry"
)

// Credential supplies the bearer token attached to every control-plane call.
// It is owned by the caller and passed in explicitly; the client never caches
// tokens in package state.
type Credential interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a Credential wrapping a fixed bearer token string.
type StaticToken string

// Token implements Credential.
func (t StaticToken) Token(_ context.Context) (string, error) {
	if t == "" {
		return "", fmt.Errorf("bearer token is empty")
	}
	return string(t), nil
}

// Options tunes the retry and timeout behavior of the client. Every numeric
// here is empirically matched to the provider's observed latency and must stay
// configurable.
type Options struct {
	// MaxAttempts is the per-call attempt budget.
	MaxAttempts int

	// AttemptTimeout bounds each individual attempt.
	AttemptTimeout time.Duration

	// RetryBaseDelay is multiplied by the attempt number for the backoff wait.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the backoff wait.
	RetryMaxDelay time.Duration

	// TimeoutGrowth scales the next attempt's deadline after a timeout.
	TimeoutGrowth float64

	// MaxAttemptTimeout caps the escalated per-attempt deadline.
	MaxAttemptTimeout time.Duration

	// UserAgent is sent on every request.
	UserAgent string

	// HTTPClient overrides the underlying transport, mainly for tests.
	HTTPClient *http.Client

	// Logger receives per-attempt debug logs.
	Logger zerolog.Logger

	// Metrics receives call/retry counters. May be nil.
	Metrics *telemetry.Metrics
}

// DefaultOptions returns the client defaults: 3 attempts, linear 2s backoff
// capped at 30s, 2-minute attempt deadline escalating x1.5 up to 10 minutes.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		AttemptTimeout:    2 * time.Minute,
		RetryBaseDelay:    2 * time.Second,
		RetryMaxDelay:     30 * time.Second,
		TimeoutGrowth:     1.5,
		MaxAttemptTimeout: 10 * time.Minute,
		UserAgent:         "stackpilot",
	}
}

// Client issues authenticated control-plane requests with bounded retries and
// uniform error classification. It is stateless apart from configuration and
// safe to share across steps.
type Client struct {
	cred    Credential
	opts    Options
	http    *http.Client
	logger  zerolog.Logger
	metrics *telemetry.Metrics
}

// NewClient creates a client around the given credential.
func NewClient(cred Credential, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaults.AttemptTimeout
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = defaults.RetryBaseDelay
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = defaults.RetryMaxDelay
	}
	if opts.TimeoutGrowth <= 1 {
		opts.TimeoutGrowth = defaults.TimeoutGrowth
	}
	if opts.MaxAttemptTimeout <= 0 {
		opts.MaxAttemptTimeout = defaults.MaxAttemptTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaults.UserAgent
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cred:    cred,
		opts:    opts,
		http:    httpClient,
		logger:  opts.Logger.With().Str("component", "cloudapi").Logger(),
		metrics: opts.Metrics,
	}
}

// CallSpec describes a single logical control-plane call.
type CallSpec struct {
	// Method is the HTTP method.
	Method string

	// URL is the absolute endpoint URL.
	URL string

	// Body, when non-nil, is JSON-encoded as the request body.
	Body interface{}

	// RawBody, when non-nil, is sent verbatim. Takes precedence over Body.
	RawBody []byte

	// ContentType overrides the request content type (default application/json).
	ContentType string

	// NoAuth suppresses the Authorization header, for pre-signed upload URLs.
	NoAuth bool

	// MaxAttempts overrides the client attempt budget when > 0.
	MaxAttempts int

	// Timeout overrides the initial per-attempt deadline when > 0.
	Timeout time.Duration
}

// Call performs the request with bounded retries, decoding a 2xx response
// body into out when out is non-nil. 5xx responses, timeouts, and connection
// failures are retried with a linear backoff of attempt x RetryBaseDelay;
// after a timeout the next attempt's deadline is extended by TimeoutGrowth up
// to MaxAttemptTimeout. Any other failure surfaces immediately as *APIError.
func (c *Client) Call(ctx context.Context, spec CallSpec, out interface{}) error {
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = c.opts.MaxAttempts
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = c.opts.AttemptTimeout
	}

	body := spec.RawBody
	if body == nil && spec.Body != nil {
		encoded, err := json.Marshal(spec.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		body = encoded
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		err := c.attempt(ctx, spec, body, timeout, out)
		if err == nil {
			c.recordCall(spec.Method, "success", time.Since(start))
			return nil
		}
		lastErr = err

		reason, retryable := classifyAttemptError(err)
		c.recordCall(spec.Method, reason, time.Since(start))
		if !retryable {
			return err
		}

		if reason == "timeout" {
			timeout = time.Duration(float64(timeout) * c.opts.TimeoutGrowth)
			if timeout > c.opts.MaxAttemptTimeout {
				timeout = c.opts.MaxAttemptTimeout
			}
		}

		if attempt == maxAttempts {
			break
		}

		delay := time.Duration(attempt) * c.opts.RetryBaseDelay
		if delay > c.opts.RetryMaxDelay {
			delay = c.opts.RetryMaxDelay
		}

		c.logger.Debug().
			Str("method", spec.Method).
			Str("url", spec.URL).
			Int("attempt", attempt).
			Str("reason", reason).
			Dur("backoff", delay).
			Msg("retrying control-plane call")
		if c.metrics != nil {
			c.metrics.RecordAPIRetry(reason)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("call cancelled after %d attempts: %w", attempt, ctx.Err())
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("call failed after %d attempts: %w", maxAttempts, lastErr)
}

// attempt performs one HTTP round trip under its own deadline.
func (c *Client) attempt(ctx context.Context, spec CallSpec, body []byte, timeout time.Duration, out interface{}) error {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(attemptCtx, spec.Method, spec.URL, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		contentType := spec.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	if !spec.NoAuth {
		token, err := c.cred.Token(attemptCtx)
		if err != nil {
			return fmt.Errorf("failed to obtain bearer token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}

	return nil
}

// classifyAttemptError maps an attempt failure to a metrics reason and
// whether it may be retried.
func classifyAttemptError(err error) (string, bool) {
	if apiErr, ok := AsAPIError(err); ok {
		if apiErr.Retryable() {
			return "server_error", true
		}
		return "client_error", false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout", true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return "timeout", true
		}
		return "connection", true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout", true
	}

	return "error", false
}

func (c *Client) recordCall(method, outcome string, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordAPICall(method, outcome, duration)
	}
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, endpoint string, out interface{}) error {
	return c.Call(ctx, CallSpec{Method: http.MethodGet, URL: endpoint}, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Call(ctx, CallSpec{Method: http.MethodPost, URL: endpoint, Body: body}, out)
}

// Patch issues an authenticated PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Call(ctx, CallSpec{Method: http.MethodPatch, URL: endpoint, Body: body}, out)
}

// Delete issues an authenticated DELETE.
func (c *Client) Delete(ctx context.Context, endpoint string, out interface{}) error {
	return c.Call(ctx, CallSpec{Method: http.MethodDelete, URL: endpoint}, out)
}

// Upload PUTs raw bytes to a pre-signed URL without attaching credentials.
func (c *Client) Upload(ctx context.Context, endpoint, contentType string, payload []byte) error {
	return c.Call(ctx, CallSpec{
		Method:      http.MethodPut,
		URL:         endpoint,
		RawBody:     payload,
		ContentType: contentType,
		NoAuth:      true,
	}, nil)
}
