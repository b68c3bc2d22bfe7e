package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the root of the Pulse REST API.
const DefaultBaseURL = "https://pulse.neat.no/api/v1"

const (
	requestTimeout             = 10 * time.Second
	defaultRetryAfter          = 60 * time.Second
	defaultMaxRateLimitRetries = 5
	errorBodyLimit             = 4096
)

// Fetcher is the part of the client the coordinator depends on.
type Fetcher interface {
	SensorData(ctx context.Context, endpointID string) (*SensorData, error)
	EndpointDetails(ctx context.Context, endpointID string) (EndpointDetails, error)
}

type Client struct {
	client     *http.Client
	limit      *rate.Limiter
	log        *zap.Logger
	baseURL    string
	token      string
	orgID      string
	maxRetries int
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(c *Client) error

// NewClient builds a client for one organization. The token is sent as a
// bearer credential on every request.
func NewClient(token, orgID string, opts ...Option) (*Client, error) {
	if token == "" {
		return nil, errors.New("pulse: access token is required")
	}
	if orgID == "" {
		return nil, errors.New("pulse: organization id is required")
	}

	c := &Client{
		log:        zap.L(),
		limit:      rate.NewLimiter(rate.Every(time.Second), 4),
		client:     &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		baseURL:    DefaultBaseURL,
		token:      token,
		orgID:      orgID,
		maxRetries: defaultMaxRateLimitRetries,
		sleep:      sleepContext,
	}

	// apply the options
	for _, o := range opts {
		err := o(c)
		if err != nil {
			return nil, err
		}
	}

	return c, nil
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) error {
		c.log = l
		return nil
	}
}

func WithBaseURL(u string) Option {
	return func(c *Client) error {
		if u == "" {
			return errors.New("pulse: base url must not be empty")
		}
		c.baseURL = strings.TrimRight(u, "/")
		return nil
	}
}

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.client = hc
		return nil
	}
}

// WithRateLimit sets the client-side request pacing.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) error {
		c.limit = rate.NewLimiter(r, burst)
		return nil
	}
}

// WithMaxRateLimitRetries caps how many 429 responses a single request
// will wait out before giving up.
func WithMaxRateLimitRetries(n int) Option {
	return func(c *Client) error {
		if n < 0 {
			return fmt.Errorf("pulse: max rate limit retries must be >= 0, got %d", n)
		}
		c.maxRetries = n
		return nil
	}
}

// RequestOption mutates an outgoing request before the auth headers are set.
type RequestOption func(r *http.Request)

func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

func WithQuery(key, value string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		q.Set(key, value)
		r.URL.RawQuery = q.Encode()
	}
}

// rateLimitedError is internal: a 429 that Request waits out.
type rateLimitedError struct {
	wait time.Duration
}

func (e *rateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.wait)
}

// Request issues method on path (relative to the base URL) and decodes the
// JSON body into out. Rate-limited responses are retried after the
// server-provided delay, up to the configured ceiling.
func (c *Client) Request(ctx context.Context, method, path string, out any, opts ...RequestOption) error {
	for retries := 0; ; retries++ {
		err := c.attempt(ctx, method, path, out, opts)

		var rl *rateLimitedError
		if !errors.As(err, &rl) {
			return err
		}
		if retries >= c.maxRetries {
			c.log.Error("rate limit retries exhausted",
				zap.String("path", path),
				zap.Int("retries", retries),
			)
			return &APIError{StatusCode: http.StatusTooManyRequests, Message: "rate limit retries exhausted"}
		}

		c.log.Warn("rate limit exceeded, retrying",
			zap.String("path", path),
			zap.Duration("retryAfter", rl.wait),
			zap.Int("attempt", retries+1),
		)
		if err := c.sleep(ctx, rl.wait); err != nil {
			return &APIError{Message: "interrupted while waiting for rate limit", Err: err}
		}
	}
}

func (c *Client) attempt(ctx context.Context, method, path string, out any, opts []RequestOption) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	url := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		c.log.Error("cannot create request", zap.Error(err))
		return &APIError{Message: "cannot create request", Err: err}
	}
	for _, o := range opts {
		o(req)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	// apply the ratelimit
	err = c.limit.Wait(ctx)
	if err != nil {
		c.log.Error("cannot await rate limit", zap.Error(err))
		return &APIError{Message: "cannot await rate limit", Err: err}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Error("timeout during api request", zap.String("path", path))
			return &APIError{Message: "timeout during api request", Err: err}
		}
		c.log.Error("network error during api request", zap.String("path", path), zap.Error(err))
		return &APIError{Message: "network error during api request", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		body := readBody(resp.Body)
		c.log.Error("authentication failed", zap.Int("status", resp.StatusCode), zap.String("body", body))
		return &AuthenticationError{StatusCode: resp.StatusCode, Body: body}
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, errorBodyLimit))
		return &rateLimitedError{wait: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= http.StatusBadRequest:
		body := readBody(resp.Body)
		c.log.Error("api request failed", zap.Int("status", resp.StatusCode), zap.String("body", body))
		return &APIError{StatusCode: resp.StatusCode, Message: body}
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	err = dec.Decode(out)
	if err != nil {
		c.log.Error("error decoding response", zap.String("path", path), zap.Error(err))
		return &APIError{Message: "cannot decode response", Err: err}
	}

	return nil
}

// SensorData fetches the recent sensor samples of an endpoint.
func (c *Client) SensorData(ctx context.Context, endpointID string) (*SensorData, error) {
	c.log.Debug("fetching sensor data", zap.String("endpointId", endpointID))
	var data SensorData
	path := fmt.Sprintf("orgs/%s/endpoints/%s/sensor", c.orgID, endpointID)
	if err := c.Request(ctx, http.MethodGet, path, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// EndpointDetails fetches the metadata of an endpoint.
func (c *Client) EndpointDetails(ctx context.Context, endpointID string) (EndpointDetails, error) {
	c.log.Debug("fetching endpoint details", zap.String("endpointId", endpointID))
	var details EndpointDetails
	path := fmt.Sprintf("orgs/%s/endpoints/%s", c.orgID, endpointID)
	if err := c.Request(ctx, http.MethodGet, path, &details); err != nil {
		return nil, err
	}
	if details == nil {
		details = EndpointDetails{}
	}
	return details, nil
}

// Close releases idle connections held by the underlying transport.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}

// parseRetryAfter reads a Retry-After value in seconds, falling back to the
// default for missing, negative or HTTP-date values.
func parseRetryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return defaultRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func readBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, errorBodyLimit))
	if err != nil {
		return fmt.Sprintf("(failed to read body: %v)", err)
	}
	return string(b)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
