// Package notify holds the in-process notification history shared by every
// consumer of the application.
//
// A Store is built once at startup and passed to whoever needs it. Every
// mutation replaces the history slice wholesale, writes the full history to
// the durable KV under HistoryKey and then publishes an event on one of the
// model topics. Readers always get a snapshot from a single point in time.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/nhle/crm-notifications/internal/logging"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/store"
)

// DefaultCapacity is the maximum number of items kept in history.
const DefaultCapacity = 200

// HistoryKey is the KV key the serialized history lives under.
const HistoryKey = "notification_history"

// persistTimeout bounds a single history write or read.
const persistTimeout = 5 * time.Second

// Listener receives store events. See model.Event for the payload of each topic.
type Listener func(model.Event)

// Option configures a Store.
type Option func(*Store)

// WithCapacity overrides DefaultCapacity. Non-positive values are ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithLogger sets the logger used for persistence and listener failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		s.log = l.WithField("component", "notify")
	}
}

// WithClock replaces time.Now as the source of CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDFunc replaces the UUID generator used for new notifications.
func WithIDFunc(newID func() string) Option {
	return func(s *Store) {
		s.newID = newID
	}
}

// NotifyOption sets an optional field on a new notification.
type NotifyOption func(*model.Notification)

// WithMessage sets the long text of a notification.
func WithMessage(msg string) NotifyOption {
	return func(n *model.Notification) {
		n.Message = msg
	}
}

// WithPriority overrides the default medium priority.
func WithPriority(p model.Priority) NotifyOption {
	return func(n *model.Notification) {
		if p != "" {
			n.Priority = p
		}
	}
}

// WithDuration sets the advisory toast display time.
func WithDuration(d time.Duration) NotifyOption {
	return func(n *model.Notification) {
		n.DurationMs = d.Milliseconds()
	}
}

// WithMeta attaches correlation data. The map is copied.
func WithMeta(meta map[string]string) NotifyOption {
	return func(n *model.Notification) {
		if len(meta) == 0 {
			return
		}
		n.Meta = make(map[string]string, len(meta))
		for k, v := range meta {
			n.Meta[k] = v
		}
	}
}

// Store is the authoritative notification history.
type Store struct {
	mu          sync.RWMutex
	items       []model.Notification // newest insert first
	lastCreated time.Time

	kv       store.KV
	capacity int
	now      func() time.Time
	newID    func() string
	log      logrus.FieldLogger

	subMu   sync.RWMutex
	subs    map[model.Topic]map[uint64]Listener
	nextSub uint64
}

// New builds a Store backed by kv and hydrates it from HistoryKey.
// A nil kv gives a memory-only store.
func New(kv store.KV, opts ...Option) *Store {
	s := &Store{
		kv:       kv,
		capacity: DefaultCapacity,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		log:      logging.Discard().WithField("component", "notify"),
		subs:     make(map[model.Topic]map[uint64]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.hydrate()
	return s
}

// Capacity returns the maximum history length.
func (s *Store) Capacity() int {
	return s.capacity
}

// Notify creates a notification, puts it at the head of the history and
// returns its id. Items beyond capacity are dropped oldest first and
// reported on TopicEvicted; TopicRemoved is not emitted for them.
func (s *Store) Notify(t model.NotificationType, title string, opts ...NotifyOption) string {
	n := model.Notification{
		Type:     t,
		Title:    title,
		Priority: model.PriorityMedium,
	}
	for _, opt := range opts {
		opt(&n)
	}
	n.ID = s.newID()

	s.mu.Lock()
	n.CreatedAt = s.stamp()

	next := make([]model.Notification, 0, min(len(s.items)+1, s.capacity))
	next = append(next, n)
	next = append(next, s.items...)

	var evicted []string
	if len(next) > s.capacity {
		for _, old := range next[s.capacity:] {
			evicted = append(evicted, old.ID)
		}
		next = slices.Clip(next[:s.capacity])
	}

	s.items = next
	s.persistLocked()
	s.mu.Unlock()

	added := n.Clone()
	s.emit(model.Event{Topic: model.TopicAdded, Item: &added})
	if len(evicted) > 0 {
		s.emit(model.Event{Topic: model.TopicEvicted, IDs: evicted})
	}

	return n.ID
}

// Update merges patch into the item with the given id. Missing ids are
// ignored.
func (s *Store) Update(id string, patch model.Patch) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	next := slices.Clone(s.items)
	merged := patch.Apply(next[idx])
	merged.ID = id
	next[idx] = merged
	// Later inserts must still sort ahead of a moved timestamp.
	if merged.CreatedAt.After(s.lastCreated) {
		s.lastCreated = merged.CreatedAt
	}

	s.items = next
	s.persistLocked()
	s.mu.Unlock()

	updated := merged.Clone()
	s.emit(model.Event{Topic: model.TopicUpdated, Item: &updated})
}

// Remove deletes the item with the given id. Missing ids are ignored.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}

	next := make([]model.Notification, 0, len(s.items)-1)
	next = append(next, s.items[:idx]...)
	next = append(next, s.items[idx+1:]...)

	s.items = next
	s.persistLocked()
	s.mu.Unlock()

	s.emit(model.Event{Topic: model.TopicRemoved, ID: id})
}

// MarkAllRead flags every item as read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	next := make([]model.Notification, len(s.items))
	for i, n := range s.items {
		n.Read = true
		next[i] = n
	}

	s.items = next
	s.persistLocked()
	s.mu.Unlock()

	s.emit(model.Event{Topic: model.TopicReadAll})
}

// Get returns a copy of the item with the given id.
func (s *Store) Get(id string) (model.Notification, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Notification{}, false
	}
	return s.items[idx].Clone(), true
}

// List returns a snapshot of the history, most recent CreatedAt first.
// Items with equal timestamps keep insertion order, newest first.
func (s *Store) List() []model.Notification {
	s.mu.RLock()
	out := make([]model.Notification, len(s.items))
	for i, n := range s.items {
		out[i] = n.Clone()
	}
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b model.Notification) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// UnreadCount returns the number of unread items.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.items {
		if !n.Read {
			count++
		}
	}
	return count
}

// Subscribe registers fn for topic and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (s *Store) Subscribe(topic model.Topic, fn Listener) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[uint64]Listener)
	}
	s.subs[topic][id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs[topic], id)
			s.subMu.Unlock()
		})
	}
}

// emit delivers ev to every listener of its topic in subscription order.
func (s *Store) emit(ev model.Event) {
	s.subMu.RLock()
	ids := make([]uint64, 0, len(s.subs[ev.Topic]))
	for id := range s.subs[ev.Topic] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.subs[ev.Topic][id])
	}
	s.subMu.RUnlock()

	for _, fn := range listeners {
		s.dispatch(fn, ev)
	}
}

// dispatch calls one listener, containing any panic it raises.
func (s *Store) dispatch(fn Listener, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithFields(logrus.Fields{
				"topic": ev.Topic,
				"panic": r,
			}).Warn("notification listener failed")
		}
	}()
	fn(ev)
}

// stamp returns the CreatedAt for a new item. Must hold mu.
func (s *Store) stamp() time.Time {
	t := s.now().UTC().Round(0)
	if t.Before(s.lastCreated) {
		t = s.lastCreated
	}
	s.lastCreated = t
	return t
}

// indexLocked returns the position of id in items, or -1. Must hold mu.
func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.items, func(n model.Notification) bool {
		return n.ID == id
	})
}

// persistLocked writes the full history to the KV. Failures are logged and
// otherwise ignored; memory stays authoritative. Must hold mu.
func (s *Store) persistLocked() {
	if s.kv == nil {
		return
	}

	data, err := json.Marshal(s.items)
	if err != nil {
		s.log.WithError(err).Debug("encoding notification history")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.kv.Set(ctx, HistoryKey, data); err != nil {
		s.log.WithError(err).Debug("persisting notification history")
	}
}

// hydrate loads the history once at construction. Anything unreadable
// leaves the store empty.
func (s *Store) hydrate() {
	if s.kv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	data, err := s.kv.Get(ctx, HistoryKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.WithError(err).Debug("loading notification history")
		}
		return
	}

	var items []model.Notification
	if err := json.Unmarshal(data, &items); err != nil {
		s.log.WithError(err).Debug("discarding malformed notification history")
		return
	}

	items = slices.DeleteFunc(items, func(n model.Notification) bool {
		return n.ID == ""
	})
	if len(items) > s.capacity {
		items = items[:s.capacity]
	}

	for i := range items {
		if items[i].Priority == "" {
			items[i].Priority = model.PriorityMedium
		}
		if items[i].CreatedAt.After(s.lastCreated) {
			s.lastCreated = items[i].CreatedAt
		}
	}

	s.items = items
}
