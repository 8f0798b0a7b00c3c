package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/source"
)

func newTestAdapter(baseURL string) *Adapter {
	return NewAdapter(
		model.BackendConfig{BaseURL: baseURL, APIKey: "anon"},
		"tok", "user-1",
		WithReconnectDelay(10*time.Millisecond),
		WithHeartbeat(time.Hour),
	)
}

func TestFetchUnread(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/event_notifications", r.URL.Path)
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "eq.false", r.URL.Query().Get("read"))
		assert.Equal(t, "created_at.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[
			{"id":"r2","user_id":"user-1","type":"sale","entity_id":"s9","message":"Deal closed","created_at":"2026-03-01T10:00:00Z","read":false,"metadata":{"amount":1200}},
			{"id":"r1","user_id":"user-1","type":"visit","entity_id":"v1","message":"Visit booked","created_at":"2026-03-01T09:00:00Z","read":false}
		]`)
	}))
	defer srv.Close()

	rows, err := newTestAdapter(srv.URL).FetchUnread(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "r2", rows[0].ID)
	assert.Equal(t, model.KindSale, rows[0].Type)
	assert.Equal(t, float64(1200), rows[0].Metadata["amount"])
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), rows[0].CreatedAt.UTC())
	assert.Equal(t, "r1", rows[1].ID)
}

func TestMarkRead(t *testing.T) {
	var got map[string]bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.r1", r.URL.Query().Get("id"))
		assert.Equal(t, "eq.user-1", r.URL.Query().Get("user_id"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, newTestAdapter(srv.URL).MarkRead(context.Background(), "r1"))
	assert.Equal(t, map[string]bool{"read": true}, got)
}

func TestUnauthorizedIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).FetchUnread(context.Background())
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestAPIErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"message":"column events.foo does not exist","code":"42703"}`)
	}))
	defer srv.Close()

	_, err := newTestAdapter(srv.URL).FetchUnread(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column events.foo does not exist")
	assert.False(t, source.IsAuthError(err))
}

func TestRetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	rows, err := newTestAdapter(srv.URL).FetchUnread(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.EqualValues(t, 2, calls.Load())
}

func TestRealtimeURL(t *testing.T) {
	a := newTestAdapter("https://backend.example.com/base")
	u, err := a.realtimeURL()
	require.NoError(t, err)
	assert.Equal(t, "wss://backend.example.com/base/realtime/v1/websocket?apikey=anon&vsn=1.0.0", u)
}

// changeFrame builds a postgres_changes frame for topic.
func changeFrame(topic, typ, table, userID string) string {
	return `{"topic":"` + topic + `","event":"postgres_changes","payload":{"data":{"type":"` +
		typ + `","table":"` + table + `","record":{"user_id":"` + userID + `"}}}}`
}

func replyFrame(topic string) string {
	return `{"topic":"` + topic + `","event":"phx_reply","payload":{"status":"ok","response":{}},"ref":"1"}`
}

// realtimeServer starts a websocket server that runs script for every
// connection after reading the join frame.
func realtimeServer(t *testing.T, script func(conn *websocket.Conn, join frame, n int)) *httptest.Server {
	t.Helper()

	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realtime/v1/websocket", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var join frame
		if err := conn.ReadJSON(&join); err != nil {
			return
		}
		script(conn, join, int(connections.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func waitSignals(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for signal %d of %d", i+1, n)
		}
	}
}

func TestSubscribeDeliversRelevantChanges(t *testing.T) {
	srv := realtimeServer(t, func(conn *websocket.Conn, join frame, _ int) {
		assert.Equal(t, "phx_join", join.Event)
		assert.Equal(t, "realtime:public:event_notifications:user_id=eq.user-1", join.Topic)

		for _, f := range []string{
			replyFrame(join.Topic),
			changeFrame(join.Topic, "INSERT", "event_notifications", "user-1"),
			changeFrame(join.Topic, "INSERT", "event_notifications", "user-2"),
			changeFrame(join.Topic, "DELETE", "event_notifications", "user-1"),
			changeFrame(join.Topic, "UPDATE", "leads", "user-1"),
			changeFrame(join.Topic, "UPDATE", "event_notifications", "user-1"),
		} {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	signals := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- newTestAdapter(srv.URL).Subscribe(ctx, func() { signals <- struct{}{} })
	}()

	// join ack, INSERT and UPDATE for user-1
	waitSignals(t, signals, 3)
	select {
	case <-signals:
		t.Fatal("unexpected extra change signal")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe did not stop after cancel")
	}
}

func TestSubscribeReconnects(t *testing.T) {
	srv := realtimeServer(t, func(conn *websocket.Conn, join frame, n int) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(replyFrame(join.Topic)))
		if n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	signals := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go newTestAdapter(srv.URL).Subscribe(ctx, func() { signals <- struct{}{} })

	waitSignals(t, signals, 2)
}

func TestSubscribeUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := newTestAdapter(srv.URL).Subscribe(ctx, func() {})
	require.Error(t, err)
	assert.True(t, source.IsAuthError(err))
}

func TestSubscribeReportsPushState(t *testing.T) {
	srv := realtimeServer(t, func(conn *websocket.Conn, join frame, n int) {
		if n == 1 {
			// Drop the first connection before acknowledging the join.
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(replyFrame(join.Topic)))
		if n == 2 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	states := make(chan bool, 10)
	a := newTestAdapter(srv.URL)
	a.OnPushState(func(connected bool) { states <- connected })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Subscribe(ctx, func() {})

	var got []bool
	for len(got) < 3 {
		select {
		case s := <-states:
			got = append(got, s)
		case <-time.After(2 * time.Second):
			t.Fatalf("push states so far: %v", got)
		}
	}
	assert.Equal(t, []bool{true, false, true}, got)
}
