package integration

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		body      string
		wantNil   bool
		wantLabel string
	}{
		{name: "success", status: http.StatusOK, wantNil: true},
		{name: "created", status: http.StatusCreated, wantNil: true},
		{name: "deadline", err: fmt.Errorf("post: %w", context.DeadlineExceeded), wantLabel: "timeout"},
		{name: "net timeout", err: timeoutErr{}, wantLabel: "timeout"},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), wantLabel: "unavailable"},
		{name: "server error", status: http.StatusBadGateway, wantLabel: "unavailable"},
		{name: "rate limited", status: http.StatusTooManyRequests, wantLabel: "rate_limited"},
		{name: "unauthorized", status: http.StatusUnauthorized, wantLabel: "unauthorized"},
		{name: "forbidden", status: http.StatusForbidden, wantLabel: "unauthorized"},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"name too long"}`, wantLabel: "rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("inventory create", tt.err, tt.status, []byte(tt.body))
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			require.Error(t, got)
			assert.Equal(t, tt.wantLabel, ErrorTypeLabel(got))
			assert.Contains(t, got.Error(), "inventory create")
			if tt.err != nil {
				assert.ErrorIs(t, got, tt.err)
			}
		})
	}
}

func TestClassifyIncludesBodySnippet(t *testing.T) {
	err := Classify("listing", nil, http.StatusBadRequest, []byte("  {\"error\":\n  \"vendor code taken\"}  "))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `HTTP 400: {"error": "vendor code taken"}`)

	long := strings.Repeat("x", 1000)
	err = Classify("listing", nil, http.StatusBadRequest, []byte(long))
	assert.Less(t, len(err.Error()), 300)
}

func TestErrorTypeLabel(t *testing.T) {
	assert.Equal(t, "unknown", ErrorTypeLabel(nil))
	assert.Equal(t, "other", ErrorTypeLabel(errors.New("boom")))
	assert.Equal(t, "rejected", ErrorTypeLabel(Rejectf("image %dx%d too small", 100, 100)))
	assert.Equal(t, "timeout", ErrorTypeLabel(fmt.Errorf("stage: %w", ErrTimeout{Err: context.DeadlineExceeded})))
}

func TestHTTPProber(t *testing.T) {
	prober := NewHTTPProber("https://discovery.example.com/health", time.Second)
	transport := httpmock.NewMockTransport()
	prober.client.SetTransport(transport)

	transport.RegisterResponder("GET", "https://discovery.example.com/health",
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	status, err := prober.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)

	transport.RegisterResponder("GET", "https://discovery.example.com/health",
		httpmock.NewErrorResponder(errors.New("connection reset")))
	_, err = prober.Ping(context.Background())
	assert.Error(t, err)
}
