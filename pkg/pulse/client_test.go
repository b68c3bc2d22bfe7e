package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type recordingSleeper struct {
	waits []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *recordingSleeper) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	base := []Option{
		WithLogger(zap.NewNop()),
		WithBaseURL(srv.URL + "/api/v1"),
		WithHTTPClient(srv.Client()),
		WithRateLimit(rate.Inf, 1),
	}
	c, err := NewClient("secret-token", "org-1", append(base, opts...)...)
	require.NoError(t, err)

	s := &recordingSleeper{}
	c.sleep = s.sleep
	return c, s
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient("", "org")
	require.Error(t, err)

	_, err = NewClient("token", "")
	require.Error(t, err)

	_, err = NewClient("token", "org", WithMaxRateLimitRetries(-1))
	require.Error(t, err)
}

func TestClient_SensorData_PathAndHeaders(t *testing.T) {
	var gotPath, gotAuth, gotAccept string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"endpointData":{"data":[{"temp":"21.5","timestamp":1700000000}]}}`))
	}))

	data, err := c.SensorData(context.Background(), "ep-9")
	require.NoError(t, err)

	assert.Equal(t, "/api/v1/orgs/org-1/endpoints/ep-9/sensor", gotPath)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)

	latest := data.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, "21.5", latest["temp"])
	assert.Equal(t, json.Number("1700000000"), latest["timestamp"])
}

func TestClient_EndpointDetails(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orgs/org-1/endpoints/ep-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"roomName":"Huddle","inCallStatus":"NONE"}`))
	}))

	details, err := c.EndpointDetails(context.Background(), "ep-9")
	require.NoError(t, err)
	assert.Equal(t, "Huddle", details.String("roomName"))
	assert.Equal(t, "NONE", details.String("inCallStatus"))
	assert.Equal(t, "", details.String("missing"))
}

func TestClient_AuthHeadersOverrideCaller(t *testing.T) {
	var gotAuth, gotAccept, gotExtra string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotExtra = r.Header.Get("X-Trace")
		_, _ = w.Write([]byte(`{}`))
	}))

	var out map[string]any
	err := c.Request(context.Background(), http.MethodGet, "ping", &out,
		WithHeader("Authorization", "Bearer nope"),
		WithHeader("Accept", "text/plain"),
		WithHeader("X-Trace", "abc"),
	)
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "application/json", gotAccept)
	assert.Equal(t, "abc", gotExtra)
}

func TestClient_Unauthorized_NoRetry(t *testing.T) {
	var calls atomic.Int32
	c, s := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad token"}`))
	}))

	_, err := c.SensorData(context.Background(), "ep")
	require.Error(t, err)

	var ae *AuthenticationError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, `{"error":"bad token"}`, ae.Body)
	assert.True(t, IsAuthentication(err))
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, s.waits)
}

func TestClient_RateLimited_RetriesAfterHeader(t *testing.T) {
	var calls atomic.Int32
	c, s := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/orgs/org-1/endpoints/ep/sensor", r.URL.Path)
		switch n {
		case 1:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"endpointData":{"data":[{"co2":"400"}]}}`))
		}
	}))

	data, err := c.SensorData(context.Background(), "ep")
	require.NoError(t, err)
	assert.Equal(t, "400", data.Latest()["co2"])
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, []time.Duration{7 * time.Second, 60 * time.Second}, s.waits)
}

func TestClient_RateLimited_CeilingExceeded(t *testing.T) {
	var calls atomic.Int32
	c, s := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}), WithMaxRateLimitRetries(2))

	_, err := c.SensorData(context.Background(), "ep")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, s.waits, 2)
}

func TestClient_RateLimited_WaitInterrupted(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	c.sleep = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.SensorData(ctx, "ep")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ServerError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))

	_, err := c.EndpointDetails(context.Background(), "ep")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Message)
	assert.False(t, IsAuthentication(err))
}

func TestClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient("t", "o",
		WithLogger(zap.NewNop()),
		WithBaseURL(url),
		WithRateLimit(rate.Inf, 1),
	)
	require.NoError(t, err)

	_, err = c.SensorData(context.Background(), "ep")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
	assert.Error(t, errors.Unwrap(apiErr))
}

func TestClient_DecodeError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))

	_, err := c.SensorData(context.Background(), "ep")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 60 * time.Second},
		{"0", 0},
		{"12", 12 * time.Second},
		{" 3 ", 3 * time.Second},
		{"-4", 60 * time.Second},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 60 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.in))
		})
	}
}
