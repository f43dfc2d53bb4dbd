package httpkit

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Timeouts(t *testing.T) {
	assert.Equal(t, DefaultTimeout, NewClient().Timeout)
	assert.Equal(t, 3*time.Second, NewClient(WithTimeout(3*time.Second)).Timeout)
	assert.Zero(t, NewClient(WithTimeout(0)).Timeout)
}

func TestNewClient_UserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	tests := []struct {
		name string
		opts []ClientOption
		want string
	}{
		{"default", nil, "ouman2mqtt/dev"},
		{"override", []ClientOption{WithUserAgent("probe/1.0")}, "probe/1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := NewClient(tt.opts...).Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(body))
		})
	}
}

func TestNewTransport_SingleConnection(t *testing.T) {
	tr := NewTransport()
	assert.Equal(t, 1, tr.MaxIdleConnsPerHost)
	assert.Equal(t, DefaultResponseHeader, tr.ResponseHeaderTimeout)
	assert.False(t, tr.ForceAttemptHTTP2)
}

// failingRoundTripper fails with a dial error for the first failures
// calls, then answers 200.
type failingRoundTripper struct {
	failures int
	calls    int
	err      error
}

func (f *failingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.err != nil {
			return nil, f.err
		}
		return nil, &net.OpError{
			Op:  "dial",
			Net: "tcp",
			Err: &net.OpError{Op: "connect", Err: syscall.ECONNREFUSED},
		}
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("ok")),
		Request:    req,
	}, nil
}

func TestRetry_RecoversAfterDialError(t *testing.T) {
	ft := &failingRoundTripper{failures: 2}
	c := NewClient(WithTransport(ft), WithRetry(3, time.Millisecond))

	resp, err := c.Get("http://ouman.invalid/request")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, ft.calls)
}

func TestRetry_ExhaustsRetries(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	c := NewClient(WithTransport(ft), WithRetry(2, time.Millisecond))

	_, err := c.Get("http://ouman.invalid/request")
	require.Error(t, err)
	assert.True(t, IsDialError(err))
	assert.Equal(t, 3, ft.calls, "1 initial + 2 retries")
}

func TestRetry_IgnoresOtherErrors(t *testing.T) {
	ft := &failingRoundTripper{failures: 10, err: errors.New("malformed response")}
	c := NewClient(WithTransport(ft), WithRetry(5, time.Millisecond))

	_, err := c.Get("http://ouman.invalid/request")
	require.Error(t, err)
	assert.Equal(t, 1, ft.calls)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ft := &failingRoundTripper{failures: 10}
	c := NewClient(WithTransport(ft), WithRetry(5, 5*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://ouman.invalid/request", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Do(req)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestIsDialError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"refused", syscall.ECONNREFUSED, true},
		{"host unreachable wrapped", &net.OpError{Op: "dial", Err: syscall.EHOSTUNREACH}, true},
		{"reset", &net.OpError{Op: "read", Err: syscall.ECONNRESET}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDialError(tt.err))
		})
	}
}

func TestDrainAndClose(t *testing.T) {
	DrainAndClose(nil, 1024)

	rc := io.NopCloser(strings.NewReader(strings.Repeat("x", 4096)))
	DrainAndClose(rc, 1024)
}

func TestReadErrorBody(t *testing.T) {
	assert.Equal(t, "", ReadErrorBody(nil, 16))

	rc := io.NopCloser(strings.NewReader("  Service Unavailable\n"))
	assert.Equal(t, "Service Unavailable", ReadErrorBody(rc, 512))

	rc = io.NopCloser(strings.NewReader(strings.Repeat("y", 100)))
	assert.Len(t, ReadErrorBody(rc, 8), 8)
}
