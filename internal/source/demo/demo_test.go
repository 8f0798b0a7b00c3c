package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/crm-notifications/internal/model"
)

func TestFetchUnreadNewestFirst(t *testing.T) {
	s := New("u1")
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	old := s.Add(model.EventRow{Type: model.KindVisit, CreatedAt: base})
	newer := s.Add(model.EventRow{Type: model.KindSale, CreatedAt: base.Add(time.Minute)})
	s.Add(model.EventRow{Type: model.KindSale, UserID: "someone-else"})

	rows, err := s.FetchUnread(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.ID, rows[0].ID)
	assert.Equal(t, old.ID, rows[1].ID)

	require.NoError(t, s.MarkRead(context.Background(), newer.ID))
	rows, err = s.FetchUnread(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, old.ID, rows[0].ID)
}

func TestSubscribeSignalsUntilCancelled(t *testing.T) {
	s := New("u1")
	signals := make(chan struct{}, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Subscribe(ctx, func() { signals <- struct{}{} }) }()

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.subscribers) == 1
	}, time.Second, 5*time.Millisecond)

	s.Add(Random())
	select {
	case <-signals:
	case <-time.After(time.Second):
		t.Fatal("no signal after Add")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	s.Add(Random())
	assert.Empty(t, signals)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := New("u1")
	ctx, cancel := context.WithCancel(context.Background())

	finished := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(finished)
	}()

	require.Eventually(t, func() bool { return len(s.Rows()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("generator kept running after cancel")
	}
}

func TestRandomRowsAreValid(t *testing.T) {
	kinds := map[model.EventKind]bool{
		model.KindVisit: true, model.KindSale: true, model.KindGoal: true,
		model.KindDistributor: true, model.KindGraduate: true,
	}
	for range 50 {
		row := Random()
		assert.True(t, kinds[row.Type], "unexpected kind %q", row.Type)
		assert.NotEmpty(t, row.Message)
		assert.NotEmpty(t, row.EntityID)
	}
}
