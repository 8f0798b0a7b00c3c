package inbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-notifications/internal/inbox"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/notify"
	"github.com/nhle/crm-notifications/tests/testutil"
)

type recordingRemote struct {
	mu   sync.Mutex
	rows []string
	err  error
}

func (r *recordingRemote) MarkRead(_ context.Context, rowID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, rowID)
	return r.err
}

type countingRefresher struct{ n int }

func (c *countingRefresher) Refresh() { c.n++ }

func feedMeta(rowID string) map[string]string {
	return map[string]string{
		model.MetaSource: model.SourceEventNotifications,
		model.MetaID:     rowID,
	}
}

func TestMarkReadWritesBackFeedItems(t *testing.T) {
	store := notify.New(nil)
	remote := &recordingRemote{}
	ib := inbox.New(store, remote, nil)

	feed := store.Notify(model.TypeSuccess, "New sale", notify.WithMeta(feedMeta("r1")))
	local := store.Notify(model.TypeInfo, "Saved")

	require.NoError(t, ib.MarkRead(context.Background(), feed))
	require.NoError(t, ib.MarkRead(context.Background(), local))

	assert.Equal(t, []string{"r1"}, remote.rows)
	assert.Zero(t, ib.UnreadCount())
}

func TestMarkReadUnknownID(t *testing.T) {
	ib := inbox.New(notify.New(nil), nil, nil)
	err := ib.MarkRead(context.Background(), "missing")
	assert.ErrorIs(t, err, inbox.ErrNotFound)
}

func TestMarkReadWriteBackFailureKeepsLocalChange(t *testing.T) {
	store := notify.New(nil)
	remote := &recordingRemote{err: errors.New("offline")}
	log, hook := testutil.NewTestLogger(t)
	ib := inbox.New(store, remote, nil, inbox.WithLogger(log))

	id := store.Notify(model.TypeSuccess, "New sale", notify.WithMeta(feedMeta("r1")))
	require.NoError(t, ib.MarkRead(context.Background(), id))

	n, ok := ib.Get(id)
	require.True(t, ok)
	assert.True(t, n.Read)
	assert.Len(t, hook.Records(logrus.DebugLevel), 1)
}

func TestMarkAllReadWritesBackUnreadFeedItems(t *testing.T) {
	store := notify.New(nil)
	remote := &recordingRemote{}
	ib := inbox.New(store, remote, nil)

	already := store.Notify(model.TypeSuccess, "Old", notify.WithMeta(feedMeta("r0")))
	store.Update(already, model.MarkRead())
	store.Notify(model.TypeSuccess, "A", notify.WithMeta(feedMeta("r1")))
	store.Notify(model.TypeInfo, "Local")
	store.Notify(model.TypeSuccess, "B", notify.WithMeta(feedMeta("r2")))

	assert.Equal(t, 3, ib.MarkAllRead(context.Background()))
	assert.ElementsMatch(t, []string{"r1", "r2"}, remote.rows)
	assert.Zero(t, ib.UnreadCount())
}

func TestRemove(t *testing.T) {
	store := notify.New(nil)
	ib := inbox.New(store, nil, nil)

	id := store.Notify(model.TypeInfo, "x")
	require.NoError(t, ib.Remove(id))
	assert.Empty(t, ib.List())
	assert.ErrorIs(t, ib.Remove(id), inbox.ErrNotFound)
}

func TestRefreshWithoutBackend(t *testing.T) {
	ib := inbox.New(notify.New(nil), nil, nil)
	assert.NotPanics(t, ib.Refresh)

	r := &countingRefresher{}
	inbox.New(notify.New(nil), nil, r).Refresh()
	assert.Equal(t, 1, r.n)
}

func TestWatchSeesEveryTopic(t *testing.T) {
	store := notify.New(nil, notify.WithCapacity(1))
	ib := inbox.New(store, nil, nil)

	var mu sync.Mutex
	var topics []model.Topic
	unsubscribe := ib.Watch(func(ev model.Event) {
		mu.Lock()
		topics = append(topics, ev.Topic)
		mu.Unlock()
	})

	store.Notify(model.TypeInfo, "a")
	b := store.Notify(model.TypeInfo, "b") // evicts a
	store.Update(b, model.MarkRead())
	store.MarkAllRead()
	store.Remove(b)

	assert.Equal(t, []model.Topic{
		model.TopicAdded,
		model.TopicAdded, model.TopicEvicted,
		model.TopicUpdated,
		model.TopicReadAll,
		model.TopicRemoved,
	}, topics)

	unsubscribe()
	store.Notify(model.TypeInfo, "c")
	assert.Len(t, topics, 6)
}

func TestClearRead(t *testing.T) {
	store := notify.New(nil)
	ib := inbox.New(store, nil, nil)

	read := store.Notify(model.TypeInfo, "read")
	store.Update(read, model.MarkRead())
	store.Notify(model.TypeInfo, "unread")

	assert.Equal(t, 1, ib.ClearRead())
	items := ib.List()
	require.Len(t, items, 1)
	assert.Equal(t, "unread", items[0].Title)
}
