package notify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/notify"
	"github.com/nhle/crm-notifications/internal/store"
	"github.com/nhle/crm-notifications/tests/testutil"
)

// stepClock returns a clock that advances one millisecond per call.
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

// brokenKV fails every call.
type brokenKV struct{}

func (brokenKV) Get(context.Context, string) ([]byte, error) { return nil, errors.New("disk gone") }
func (brokenKV) Set(context.Context, string, []byte) error   { return errors.New("disk gone") }
func (brokenKV) Delete(context.Context, string) error        { return errors.New("disk gone") }

func newStore(t *testing.T, opts ...notify.Option) *notify.Store {
	t.Helper()
	opts = append([]notify.Option{notify.WithClock(stepClock())}, opts...)
	return notify.New(testutil.NewTestStore(t), opts...)
}

func TestNotifyNewestFirst(t *testing.T) {
	s := newStore(t)

	s.Notify(model.TypeInfo, "Hello")
	s.Notify(model.TypeSuccess, "Ok")

	items := s.List()
	require.Len(t, items, 2)
	assert.Equal(t, "Ok", items[0].Title)
	assert.Equal(t, "Hello", items[1].Title)
}

func TestNotifyTiesKeepInsertionOrder(t *testing.T) {
	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := notify.New(nil, notify.WithClock(func() time.Time { return frozen }))

	s.Notify(model.TypeInfo, "Hello")
	s.Notify(model.TypeSuccess, "Ok")

	items := s.List()
	require.Len(t, items, 2)
	assert.Equal(t, "Ok", items[0].Title)
}

func TestNotifyDefaultsAndOptions(t *testing.T) {
	s := newStore(t)

	id := s.Notify(model.TypeWarning, "Quota",
		notify.WithMessage("80% used"),
		notify.WithPriority(model.PriorityHigh),
		notify.WithDuration(4*time.Second),
		notify.WithMeta(map[string]string{"k": "v"}),
	)
	plain := s.Notify(model.TypeInfo, "Plain")

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "80% used", got.Message)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.EqualValues(t, 4000, got.DurationMs)
	assert.Equal(t, "v", got.Meta["k"])
	assert.False(t, got.Read)

	got, ok = s.Get(plain)
	require.True(t, ok)
	assert.Equal(t, model.PriorityMedium, got.Priority)
	assert.Empty(t, got.Message)
	assert.NotEqual(t, id, plain)
}

func TestMarkAllRead(t *testing.T) {
	s := newStore(t)

	s.Notify(model.TypeWarning, "Pay attention")
	s.Notify(model.TypeInfo, "Other")
	assert.Equal(t, 2, s.UnreadCount())

	s.MarkAllRead()

	assert.Zero(t, s.UnreadCount())
	for _, n := range s.List() {
		assert.True(t, n.Read)
	}
}

func TestMarkAllReadOnEmptyStoreEmits(t *testing.T) {
	s := newStore(t)

	var got []model.Topic
	s.Subscribe(model.TopicReadAll, func(ev model.Event) { got = append(got, ev.Topic) })

	s.MarkAllRead()
	assert.Equal(t, []model.Topic{model.TopicReadAll}, got)
	assert.Zero(t, s.UnreadCount())
}

func TestRemove(t *testing.T) {
	s := newStore(t)

	keep := s.Notify(model.TypeInfo, "Keep", notify.WithMessage("body"))
	x := s.Notify(model.TypeError, "Failure")
	before, _ := s.Get(keep)

	var removed []string
	s.Subscribe(model.TopicRemoved, func(ev model.Event) { removed = append(removed, ev.ID) })

	s.Remove(x)

	items := s.List()
	require.Len(t, items, 1)
	assert.Equal(t, before, items[0])
	assert.Equal(t, []string{x}, removed)

	s.Remove("missing")
	assert.Len(t, s.List(), 1)
	assert.Equal(t, []string{x}, removed)
}

func TestRemoveOnlyItem(t *testing.T) {
	s := newStore(t)

	x := s.Notify(model.TypeError, "Failure")
	require.Len(t, s.List(), 1)

	s.Remove(x)
	assert.Empty(t, s.List())
}

func TestUpdate(t *testing.T) {
	s := newStore(t)
	id := s.Notify(model.TypeInfo, "Draft", notify.WithMeta(map[string]string{"a": "1"}))

	var updated []model.Notification
	s.Subscribe(model.TopicUpdated, func(ev model.Event) { updated = append(updated, *ev.Item) })

	title := "Final"
	patch := model.MarkRead()
	patch.Title = &title
	patch.Meta = map[string]string{"b": "2"}
	s.Update(id, patch)

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "Final", got.Title)
	assert.True(t, got.Read)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got.Meta)
	assert.Equal(t, model.TypeInfo, got.Type)

	require.Len(t, updated, 1)
	assert.Equal(t, got, updated[0])
}

func TestUpdateMissingIsNoop(t *testing.T) {
	s := newStore(t)
	s.Notify(model.TypeInfo, "Only")

	calls := 0
	s.Subscribe(model.TopicUpdated, func(model.Event) { calls++ })

	assert.NotPanics(t, func() { s.Update("nope", model.MarkRead()) })
	assert.Len(t, s.List(), 1)
	assert.Zero(t, calls)
	assert.Equal(t, 1, s.UnreadCount())
}

func TestNotifyAfterMovedTimestampStaysAtHead(t *testing.T) {
	s := newStore(t)
	a := s.Notify(model.TypeInfo, "a")
	s.Notify(model.TypeInfo, "b")

	later := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.Update(a, model.Patch{CreatedAt: &later})
	require.Equal(t, "a", s.List()[0].Title)

	s.Notify(model.TypeInfo, "c")
	items := s.List()
	assert.Equal(t, "c", items[0].Title)
	assert.False(t, items[0].CreatedAt.Before(later))
}

func TestCapacityEvictsOldest(t *testing.T) {
	s := newStore(t)

	var evicted []string
	removedCalls := 0
	s.Subscribe(model.TopicEvicted, func(ev model.Event) { evicted = append(evicted, ev.IDs...) })
	s.Subscribe(model.TopicRemoved, func(model.Event) { removedCalls++ })

	ids := make([]string, 0, 250)
	for i := range 250 {
		ids = append(ids, s.Notify(model.TypeInfo, fmt.Sprintf("n%d", i)))
		assert.LessOrEqual(t, len(s.List()), notify.DefaultCapacity)
	}

	items := s.List()
	require.Len(t, items, notify.DefaultCapacity)
	for i, n := range items {
		assert.Equal(t, ids[len(ids)-1-i], n.ID)
	}
	assert.Equal(t, ids[:50], evicted)
	assert.Zero(t, removedCalls)
}

func TestWithCapacity(t *testing.T) {
	s := newStore(t, notify.WithCapacity(3))
	for i := range 5 {
		s.Notify(model.TypeInfo, fmt.Sprintf("n%d", i))
	}

	items := s.List()
	require.Len(t, items, 3)
	assert.Equal(t, "n4", items[0].Title)
	assert.Equal(t, "n2", items[2].Title)
}

func TestCreatedAtNeverDecreases(t *testing.T) {
	times := []time.Time{
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	i := 0
	s := notify.New(nil, notify.WithClock(func() time.Time {
		t := times[i%len(times)]
		i++
		return t
	}))

	first := s.Notify(model.TypeInfo, "first")
	second := s.Notify(model.TypeInfo, "second")

	a, _ := s.Get(first)
	b, _ := s.Get(second)
	assert.False(t, b.CreatedAt.Before(a.CreatedAt))
	assert.Equal(t, "second", s.List()[0].Title)
}

func TestPersistenceRoundTrip(t *testing.T) {
	kv := testutil.NewTestStore(t)
	s := notify.New(kv, notify.WithClock(stepClock()))

	a := s.Notify(model.TypeInfo, "a", notify.WithMeta(map[string]string{
		model.MetaSource: model.SourceEventNotifications,
		model.MetaID:     "row-1",
	}))
	s.Notify(model.TypeError, "b", notify.WithMessage("boom"), notify.WithPriority(model.PriorityCritical))
	s.Update(a, model.MarkRead())
	before := s.List()

	reloaded := notify.New(kv)
	assert.Equal(t, before, reloaded.List())
	assert.Equal(t, 1, reloaded.UnreadCount())
}

func TestHydratedStoreKeepsOrdering(t *testing.T) {
	kv := testutil.NewTestStore(t)
	s := notify.New(kv, notify.WithClock(stepClock()))
	s.Notify(model.TypeInfo, "old")

	// A clock behind the persisted items must not produce older timestamps.
	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	reloaded := notify.New(kv, notify.WithClock(func() time.Time { return past }))
	reloaded.Notify(model.TypeInfo, "new")

	assert.Equal(t, "new", reloaded.List()[0].Title)
}

func TestHydrateTruncatesToCapacity(t *testing.T) {
	kv := testutil.NewTestStore(t)
	s := notify.New(kv, notify.WithClock(stepClock()), notify.WithCapacity(5))

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = s.Notify(model.TypeInfo, fmt.Sprintf("n%d", i))
	}
	s.Update(ids[4], model.MarkRead())
	s.Update(ids[0], model.MarkRead())

	reloaded := notify.New(kv, notify.WithCapacity(3))
	items := reloaded.List()
	require.Len(t, items, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{items[0].ID, items[1].ID, items[2].ID})
	assert.Equal(t, 2, reloaded.UnreadCount())

	_, ok := reloaded.Get(ids[0])
	assert.False(t, ok)
}

func TestMalformedHistoryIsDiscarded(t *testing.T) {
	kv := testutil.NewTestStore(t)
	require.NoError(t, kv.Set(context.Background(), notify.HistoryKey, []byte(`{"not":"an array"`)))

	s := notify.New(kv)
	assert.Empty(t, s.List())

	s.Notify(model.TypeInfo, "fresh")
	assert.Len(t, notify.New(kv).List(), 1)
}

func TestHydrateToleratesMissingFields(t *testing.T) {
	kv := testutil.NewTestStore(t)
	raw := `[{"id":"x","title":"legacy","createdAt":"2026-01-01T00:00:00Z"},{"title":"no id"}]`
	require.NoError(t, kv.Set(context.Background(), notify.HistoryKey, []byte(raw)))

	items := notify.New(kv).List()
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].ID)
	assert.Equal(t, model.PriorityMedium, items[0].Priority)
}

func TestPersistenceFailuresAreAbsorbed(t *testing.T) {
	logger, hook := testutil.NewTestLogger(t)
	s := notify.New(brokenKV{}, notify.WithLogger(logger))

	id := s.Notify(model.TypeInfo, "still here")
	s.Update(id, model.MarkRead())

	items := s.List()
	require.Len(t, items, 1)
	assert.True(t, items[0].Read)
	assert.NotEmpty(t, hook.Records(logrus.DebugLevel))
}

func TestListenerPanicIsIsolated(t *testing.T) {
	logger, hook := testutil.NewTestLogger(t)
	s := newStore(t, notify.WithLogger(logger))

	var got []string
	s.Subscribe(model.TopicAdded, func(model.Event) { panic("bad subscriber") })
	s.Subscribe(model.TopicAdded, func(ev model.Event) { got = append(got, ev.Item.Title) })

	assert.NotPanics(t, func() { s.Notify(model.TypeInfo, "hi") })
	assert.Equal(t, []string{"hi"}, got)
	assert.Len(t, s.List(), 1)

	warnings := hook.Records(logrus.WarnLevel)
	require.Len(t, warnings, 1)
	assert.Equal(t, model.TopicAdded, warnings[0].Data["topic"])
}

func TestUnsubscribe(t *testing.T) {
	s := newStore(t)

	calls := 0
	unsubscribe := s.Subscribe(model.TopicAdded, func(model.Event) { calls++ })

	s.Notify(model.TypeInfo, "one")
	unsubscribe()
	unsubscribe()
	s.Notify(model.TypeInfo, "two")

	assert.Equal(t, 1, calls)
}

func TestListIsSnapshot(t *testing.T) {
	s := newStore(t)
	id := s.Notify(model.TypeInfo, "a", notify.WithMeta(map[string]string{"k": "v"}))

	snapshot := s.List()
	snapshot[0].Meta["k"] = "changed"
	s.Update(id, model.MarkRead())
	s.Notify(model.TypeInfo, "b")

	require.Len(t, snapshot, 1)
	assert.False(t, snapshot[0].Read)

	got, _ := s.Get(id)
	assert.Equal(t, "v", got.Meta["k"])
}

func TestConcurrentNotify(t *testing.T) {
	s := notify.New(nil, notify.WithCapacity(50))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				s.Notify(model.TypeInfo, "x")
				_ = s.List()
				_ = s.UnreadCount()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, s.List(), 50)
}

func TestMemoryOnlyStore(t *testing.T) {
	var kv store.KV
	s := notify.New(kv)
	s.Notify(model.TypeInfo, "volatile")
	assert.Len(t, s.List(), 1)
}
