// Package rest implements source.EventSource against the managed backend:
// a REST table API for reads and write-backs, and a websocket change feed
// for push notifications.
package rest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/nhle/crm-notifications/internal/logging"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/source"
)

// table is the backend table holding event rows.
const table = "event_notifications"

// Adapter implements source.EventSource for one session user.
type Adapter struct {
	client         *Client
	baseURL        string
	apiKey         string
	token          string
	userID         string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	heartbeat      time.Duration
	log            logrus.FieldLogger

	pushMu    sync.Mutex
	pushState func(connected bool)
}

var (
	_ source.EventSource  = (*Adapter)(nil)
	_ source.PushReporter = (*Adapter)(nil)
)

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Adapter) {
		a.log = l.WithField("component", "source")
	}
}

// WithReconnectDelay sets the fixed wait between realtime reconnects.
func WithReconnectDelay(d time.Duration) Option {
	return func(a *Adapter) {
		a.reconnectDelay = d
	}
}

// WithHeartbeat sets the realtime heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(a *Adapter) {
		a.heartbeat = d
	}
}

// NewAdapter creates an adapter for the given backend and session.
func NewAdapter(cfg model.BackendConfig, token, userID string, opts ...Option) *Adapter {
	a := &Adapter{
		client:         NewClient(cfg.BaseURL, token, cfg.APIKey, cfg.RequestsPerSecond),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:         cfg.APIKey,
		token:          token,
		userID:         userID,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: 5 * time.Second,
		heartbeat:      25 * time.Second,
		log:            logging.Discard().WithField("component", "source"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchUnread lists the session user's unread rows, newest first.
func (a *Adapter) FetchUnread(ctx context.Context) ([]model.EventRow, error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("user_id", "eq."+a.userID)
	q.Set("read", "eq.false")
	q.Set("order", "created_at.desc")

	var rows []model.EventRow
	if err := a.client.Get(ctx, "/rest/v1/"+table+"?"+q.Encode(), &rows); err != nil {
		return nil, fmt.Errorf("fetching unread events: %w", err)
	}
	return rows, nil
}

// MarkRead sets read=true on one of the session user's rows.
func (a *Adapter) MarkRead(ctx context.Context, rowID string) error {
	q := url.Values{}
	q.Set("id", "eq."+rowID)
	q.Set("user_id", "eq."+a.userID)

	body := map[string]bool{"read": true}
	if err := a.client.Patch(ctx, "/rest/v1/"+table+"?"+q.Encode(), body, nil); err != nil {
		return fmt.Errorf("marking event %s read: %w", rowID, err)
	}
	return nil
}
