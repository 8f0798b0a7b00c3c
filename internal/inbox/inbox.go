// Package inbox is the facade views use to read and act on the
// notification history. Read actions on backend-origin items are written
// back to the event feed so other devices see them too.
package inbox

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/nhle/crm-notifications/internal/logging"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/notify"
)

// ErrNotFound is returned for actions on an id the history does not hold.
var ErrNotFound = errors.New("notification not found")

// ReadMarker writes the read flag of an event row back to the backend.
type ReadMarker interface {
	MarkRead(ctx context.Context, rowID string) error
}

// Refresher requests an immediate refetch of the event feed.
type Refresher interface {
	Refresh()
}

// Inbox wraps a notification store with remote write-back.
type Inbox struct {
	store     *notify.Store
	remote    ReadMarker
	refresher Refresher
	log       logrus.FieldLogger
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(i *Inbox) {
		i.log = l.WithField("component", "inbox")
	}
}

// New returns an Inbox over store. remote and refresher may be nil when no
// backend is configured.
func New(store *notify.Store, remote ReadMarker, refresher Refresher, opts ...Option) *Inbox {
	i := &Inbox{
		store:     store,
		remote:    remote,
		refresher: refresher,
		log:       logging.Discard().WithField("component", "inbox"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// List returns the history, newest first.
func (i *Inbox) List() []model.Notification {
	return i.store.List()
}

// UnreadCount returns the number of unread items.
func (i *Inbox) UnreadCount() int {
	return i.store.UnreadCount()
}

// Get returns a single item.
func (i *Inbox) Get(id string) (model.Notification, bool) {
	return i.store.Get(id)
}

// MarkRead marks one item read locally and, for items that came from the
// event feed, remotely. A failed write-back is logged; the local change
// stands.
func (i *Inbox) MarkRead(ctx context.Context, id string) error {
	n, ok := i.store.Get(id)
	if !ok {
		return ErrNotFound
	}

	i.store.Update(id, model.MarkRead())

	if rowID, ok := n.FromEventFeed(); ok {
		i.writeBack(ctx, rowID)
	}
	return nil
}

// MarkAllRead marks every item read and writes back the read flag of each
// unread backend-origin item. It returns how many items were unread.
func (i *Inbox) MarkAllRead(ctx context.Context) int {
	var unread int
	var rows []string
	for _, n := range i.store.List() {
		if n.Read {
			continue
		}
		unread++
		if rowID, ok := n.FromEventFeed(); ok {
			rows = append(rows, rowID)
		}
	}

	i.store.MarkAllRead()

	for _, rowID := range rows {
		if ctx.Err() != nil {
			break
		}
		i.writeBack(ctx, rowID)
	}
	return unread
}

// Remove deletes an item from the history.
func (i *Inbox) Remove(id string) error {
	if _, ok := i.store.Get(id); !ok {
		return ErrNotFound
	}
	i.store.Remove(id)
	return nil
}

// ClearRead removes every read item and returns how many were removed.
func (i *Inbox) ClearRead() int {
	var removed int
	for _, n := range i.store.List() {
		if n.Read {
			i.store.Remove(n.ID)
			removed++
		}
	}
	return removed
}

// Refresh asks the bridge for an immediate pass. It does nothing without a
// backend.
func (i *Inbox) Refresh() {
	if i.refresher != nil {
		i.refresher.Refresh()
	}
}

// Watch calls fn for every store event until the returned function is
// called.
func (i *Inbox) Watch(fn notify.Listener) (unsubscribe func()) {
	unsubs := make([]func(), 0, len(model.Topics))
	for _, topic := range model.Topics {
		unsubs = append(unsubs, i.store.Subscribe(topic, fn))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (i *Inbox) writeBack(ctx context.Context, rowID string) {
	if i.remote == nil {
		return
	}
	if err := i.remote.MarkRead(ctx, rowID); err != nil {
		i.log.WithError(err).WithField("row", rowID).Debug("writing read flag back failed")
	}
}
