package rest

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.WriteString(w, `[]`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := countingServer(t, &calls)

	// Two requests per second with a burst of two: the third waits ~500ms.
	c := NewClient(srv.URL, "tok", "anon", 2)

	start := time.Now()
	for range 3 {
		var out []any
		require.NoError(t, c.Get(context.Background(), "/rest/v1/event_notifications", &out))
	}
	elapsed := time.Since(start)

	assert.EqualValues(t, 3, calls.Load())
	assert.GreaterOrEqual(t, elapsed, 400*time.Millisecond)
}

func TestClientRateLimitRespectsContext(t *testing.T) {
	var calls atomic.Int32
	srv := countingServer(t, &calls)
	c := NewClient(srv.URL, "tok", "anon", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Get(ctx, "/rest/v1/event_notifications", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "waiting for rate limiter")
	assert.Zero(t, calls.Load())
}

func TestClientWithoutRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := countingServer(t, &calls)
	c := NewClient(srv.URL, "tok", "anon", 0)

	start := time.Now()
	for range 10 {
		require.NoError(t, c.Get(context.Background(), "/", nil))
	}
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.EqualValues(t, 10, calls.Load())
}
