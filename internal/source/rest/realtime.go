package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nhle/crm-notifications/internal/source"
)

// frame is one message on the realtime socket.
type frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// replyPayload is the payload of a phx_reply frame.
type replyPayload struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// changePayload is the payload of a postgres_changes frame.
type changePayload struct {
	Data struct {
		Type   string `json:"type"`
		Table  string `json:"table"`
		Record struct {
			UserID string `json:"user_id"`
		} `json:"record"`
	} `json:"data"`
}

// Subscribe listens on the realtime change feed and calls onChange for
// every insert or update of the session user's rows. Dropped connections
// are retried after a fixed delay. A successful (re)join also calls
// onChange so changes missed while disconnected are picked up.
func (a *Adapter) Subscribe(ctx context.Context, onChange func()) error {
	for {
		err := a.listen(ctx, onChange)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if source.IsAuthError(err) {
			return err
		}

		a.log.WithError(err).Debug("realtime connection lost, reconnecting")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(a.reconnectDelay):
		}
	}
}

// OnPushState registers fn to hear when the realtime channel is joined
// and when it drops.
func (a *Adapter) OnPushState(fn func(connected bool)) {
	a.pushMu.Lock()
	a.pushState = fn
	a.pushMu.Unlock()
}

func (a *Adapter) reportPush(connected bool) {
	a.pushMu.Lock()
	fn := a.pushState
	a.pushMu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

// realtimeURL converts the backend base URL into the websocket endpoint.
func (a *Adapter) realtimeURL() (string, error) {
	u, err := url.Parse(a.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base url: %w", err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = u.Path + "/realtime/v1/websocket"

	q := url.Values{}
	q.Set("vsn", "1.0.0")
	if a.apiKey != "" {
		q.Set("apikey", a.apiKey)
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// channelTopic is the realtime topic carrying this user's row changes.
func (a *Adapter) channelTopic() string {
	return "realtime:public:" + table + ":user_id=eq." + a.userID
}

// listen runs one realtime connection until it fails or ctx ends.
func (a *Adapter) listen(ctx context.Context, onChange func()) error {
	wsURL, err := a.realtimeURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.token)

	conn, resp, err := a.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return &source.AuthError{Message: "realtime connection rejected the session token"}
		}
		return fmt.Errorf("dialing realtime: %w", err)
	}
	defer conn.Close()

	topic := a.channelTopic()
	join := map[string]any{
		"config": map[string]any{
			"postgres_changes": []map[string]string{{
				"event":  "*",
				"schema": "public",
				"table":  table,
				"filter": "user_id=eq." + a.userID,
			}},
		},
		"access_token": a.token,
	}
	if err := writeFrame(conn, topic, "phx_join", join, "1"); err != nil {
		return fmt.Errorf("joining channel: %w", err)
	}

	// Closing the connection unblocks the read loop below.
	done := make(chan struct{})
	defer close(done)
	go a.keepAlive(ctx, conn, done)

	joined := false
	defer func() {
		if joined {
			a.reportPush(false)
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading realtime frame: %w", err)
		}

		switch f.Event {
		case "phx_reply":
			if f.Topic != topic {
				continue
			}
			var reply replyPayload
			if err := json.Unmarshal(f.Payload, &reply); err != nil {
				continue
			}
			if reply.Status != "ok" {
				return fmt.Errorf("realtime join refused: %s", string(reply.Response))
			}
			if f.Ref == "1" {
				joined = true
				a.reportPush(true)
				onChange()
			}

		case "postgres_changes":
			var change changePayload
			if err := json.Unmarshal(f.Payload, &change); err != nil {
				a.log.WithError(err).Debug("skipping malformed change frame")
				continue
			}
			if !a.relevant(change) {
				continue
			}
			onChange()

		case "phx_error", "phx_close":
			if f.Topic == topic {
				return errors.New("realtime channel closed by server")
			}
		}
	}
}

// relevant reports whether a change frame concerns this user's rows.
func (a *Adapter) relevant(change changePayload) bool {
	switch change.Data.Type {
	case "INSERT", "UPDATE":
	default:
		return false
	}
	if change.Data.Table != "" && change.Data.Table != table {
		return false
	}
	uid := change.Data.Record.UserID
	return uid == "" || uid == a.userID
}

// keepAlive sends heartbeats until done is closed, and closes conn when ctx
// is cancelled. It is the only writer after the join frame.
func (a *Adapter) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()

	ref := 1
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			conn.Close()
			return
		case <-ticker.C:
			ref++
			if err := writeFrame(conn, "phoenix", "heartbeat", struct{}{}, strconv.Itoa(ref)); err != nil {
				a.log.WithError(err).Debug("realtime heartbeat failed")
				conn.Close()
				return
			}
		}
	}
}

// writeFrame encodes and sends one frame.
func writeFrame(conn *websocket.Conn, topic, event string, payload any, ref string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", event, err)
	}
	return conn.WriteJSON(frame{
		Topic:   topic,
		Event:   event,
		Payload: data,
		Ref:     ref,
	})
}
