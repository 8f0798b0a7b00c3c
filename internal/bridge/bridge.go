// Package bridge turns unread rows from the backend event feed into
// in-app notifications. A single loop goroutine runs every pass so rows are
// never delivered twice within a session.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nhle/crm-notifications/internal/logging"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/notify"
	"github.com/nhle/crm-notifications/internal/source"
)

// State is the current state of the bridge.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "idle"
	}
}

// Stats describes what the bridge has done so far.
type Stats struct {
	State             State     `json:"-"`
	StateName         string    `json:"state"`
	Passes            int       `json:"passes"`
	Delivered         int       `json:"delivered"`
	Skipped           int       `json:"skipped"`
	WriteBackFailures int       `json:"writeBackFailures"`
	LastPass          time.Time `json:"lastPass,omitzero"`
	LastError         string    `json:"lastError,omitempty"`
	AuthExpired       bool      `json:"authExpired"`
	PushActive        bool      `json:"pushActive"`
}

// Notifier is the part of the notification store the bridge writes to.
type Notifier interface {
	Notify(t model.NotificationType, title string, opts ...notify.NotifyOption) string
}

const (
	// DefaultPollInterval is used when no interval is configured.
	DefaultPollInterval = 30 * time.Second

	// fetchTimeout bounds a single FetchUnread call.
	fetchTimeout = 30 * time.Second

	// writeBackTimeout bounds a single MarkRead call.
	writeBackTimeout = 10 * time.Second
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used by the bridge.
func WithLogger(l logrus.FieldLogger) Option {
	return func(b *Bridge) {
		b.log = l.WithField("component", "bridge")
	}
}

// WithPollInterval sets the fallback poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.interval = d
		}
	}
}

// WithPush enables or disables the realtime change subscription.
func WithPush(enabled bool) Option {
	return func(b *Bridge) {
		b.push = enabled
	}
}

// WithToastDuration attaches a display hint to every bridged notification.
func WithToastDuration(d time.Duration) Option {
	return func(b *Bridge) {
		b.toast = d
	}
}

// Bridge polls and listens to an EventSource and publishes each unseen row
// once to a Notifier, then writes the read flag back to the source.
type Bridge struct {
	src      source.EventSource
	store    Notifier
	interval time.Duration
	push     bool
	toast    time.Duration
	log      logrus.FieldLogger

	// seen holds the row ids already delivered in this session. The value
	// is true once the read flag was written back.
	seenMu sync.Mutex
	seen   map[string]bool

	// pushReported is set when the source reports its own connection state.
	pushReported bool

	group     singleflight.Group
	triggerCh chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stats   Stats
}

// New creates a Bridge reading from src and writing to store.
func New(src source.EventSource, store Notifier, opts ...Option) *Bridge {
	b := &Bridge{
		src:       src,
		store:     store,
		interval:  DefaultPollInterval,
		push:      true,
		log:       logging.Discard().WithField("component", "bridge"),
		seen:      make(map[string]bool),
		triggerCh: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	if r, ok := src.(source.PushReporter); ok {
		r.OnPushState(b.setPushActive)
		b.pushReported = true
	}
	return b
}

// Start runs an initial pass and then keeps the bridge running until ctx
// is cancelled or Stop is called. Calling Start on a running bridge does
// nothing.
func (b *Bridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.loop(ctx)
	}()

	if b.push {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.listen(ctx)
		}()
	}
}

// Stop cancels the poll timer and the push subscription and waits for the
// running pass to finish.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.cancel()
	b.running = false
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	b.stats.PushActive = false
	b.mu.Unlock()
}

// Refresh asks the loop for another pass. Requests made while a pass is
// already queued collapse into that pass.
func (b *Bridge) Refresh() {
	select {
	case b.triggerCh <- struct{}{}:
	default:
	}
}

// Sync runs a pass now and returns how many notifications it published.
// Concurrent callers share the pass already in flight.
func (b *Bridge) Sync(ctx context.Context) (int, error) {
	v, err, _ := b.group.Do("pass", func() (any, error) {
		return b.pass(ctx)
	})
	n, _ := v.(int)
	return n, err
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stats
	st.StateName = st.State.String()
	return st
}

// Seen reports whether the row id was already delivered in this session
// and is still tracked.
func (b *Bridge) Seen(rowID string) bool {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	_, ok := b.seen[rowID]
	return ok
}

// Tracked returns how many row ids the seen set holds.
func (b *Bridge) Tracked() int {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	return len(b.seen)
}

func (b *Bridge) loop(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.run(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.run(ctx)
		case <-b.triggerCh:
			b.run(ctx)
		}
	}
}

// run performs a pass on behalf of the loop. Errors are already recorded
// and logged by pass.
func (b *Bridge) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = b.Sync(ctx)
}

// listen keeps the push subscription open. When it fails the bridge falls
// back to polling only.
func (b *Bridge) listen(ctx context.Context) {
	if !b.pushReported {
		b.setPushActive(true)
	}

	err := b.src.Subscribe(ctx, b.Refresh)
	b.setPushActive(false)

	if err == nil || ctx.Err() != nil {
		return
	}
	if source.IsAuthError(err) {
		b.setAuthExpired()
		b.log.WithError(err).Error("push subscription rejected, continuing with polling")
		return
	}
	b.log.WithError(err).Debug("push subscription ended, continuing with polling")
}

// pass fetches unread rows and delivers the unseen ones in fetch order.
func (b *Bridge) pass(ctx context.Context) (int, error) {
	b.setState(StateRunning, nil)

	fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
	rows, err := b.src.FetchUnread(fetchCtx)
	cancel()
	if err != nil {
		b.setState(StateError, err)
		if source.IsAuthError(err) {
			b.setAuthExpired()
			b.log.WithError(err).Error("fetching event notifications: session rejected")
		} else {
			b.log.WithError(err).Debug("fetching event notifications failed")
		}
		return 0, err
	}
	b.prune(rows)

	var delivered, skipped, failures int
	for _, row := range rows {
		if !b.claim(row.ID) {
			skipped++
			continue
		}

		t := Translate(row)
		b.store.Notify(t.Type, t.Title,
			notify.WithMessage(t.Message),
			notify.WithPriority(t.Priority),
			notify.WithMeta(t.Meta),
			notify.WithDuration(b.toast),
		)
		delivered++

		wbCtx, cancel := context.WithTimeout(ctx, writeBackTimeout)
		err := b.src.MarkRead(wbCtx, row.ID)
		cancel()
		if err != nil {
			failures++
			b.log.WithError(err).WithField("row", row.ID).Debug("marking event notification read failed")
			continue
		}
		b.confirm(row.ID)
	}

	b.mu.Lock()
	b.stats.Passes++
	b.stats.Delivered += delivered
	b.stats.Skipped += skipped
	b.stats.WriteBackFailures += failures
	b.stats.LastPass = time.Now()
	b.stats.AuthExpired = false
	b.mu.Unlock()
	b.setState(StateIdle, nil)

	if delivered > 0 {
		b.log.WithFields(logrus.Fields{
			"delivered": delivered,
			"skipped":   skipped,
		}).Debug("bridge pass complete")
	}
	return delivered, nil
}

// claim adds rowID to the seen set and reports whether it was new. Rows
// without an id cannot be tracked and are never delivered.
func (b *Bridge) claim(rowID string) bool {
	if rowID == "" {
		return false
	}
	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	if _, ok := b.seen[rowID]; ok {
		return false
	}
	b.seen[rowID] = false
	return true
}

// confirm records that the read flag of rowID reached the backend.
func (b *Bridge) confirm(rowID string) {
	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	if _, ok := b.seen[rowID]; ok {
		b.seen[rowID] = true
	}
}

// prune forgets confirmed ids the backend no longer lists as unread. Ids
// whose write-back failed are kept, since the row can still come back.
func (b *Bridge) prune(rows []model.EventRow) {
	unread := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		unread[row.ID] = struct{}{}
	}

	b.seenMu.Lock()
	defer b.seenMu.Unlock()
	for id, confirmed := range b.seen {
		if _, ok := unread[id]; confirmed && !ok {
			delete(b.seen, id)
		}
	}
}

func (b *Bridge) setState(state State, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.State = state
	if err != nil {
		b.stats.LastError = err.Error()
	} else if state == StateIdle {
		b.stats.LastError = ""
	}
}

func (b *Bridge) setPushActive(active bool) {
	b.mu.Lock()
	b.stats.PushActive = active
	b.mu.Unlock()
}

func (b *Bridge) setAuthExpired() {
	b.mu.Lock()
	b.stats.AuthExpired = true
	b.mu.Unlock()
}
