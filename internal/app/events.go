package app

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/crm-notifications/internal/model"
)

// eventBuffer is how many store events may queue before the UI catches up.
// Dropped events only cost a toast: every event triggers a full reload.
const eventBuffer = 64

// storeEventMsg is a tea.Msg carrying one store event.
type storeEventMsg struct {
	event model.Event
}

// statusTickMsg refreshes the sync status in the header.
type statusTickMsg struct{}

// watchStore subscribes to every store topic and forwards events into a
// buffered channel that the Bubble Tea runtime drains.
func (m *Model) watchStore() {
	events := make(chan model.Event, eventBuffer)
	m.events = events
	m.unsubscribe = m.inbox.Watch(func(ev model.Event) {
		select {
		case events <- ev:
		default:
		}
	})
}

// waitForEvent returns a tea.Cmd that waits for the next store event.
// It must be re-issued after each storeEventMsg to keep listening.
func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return storeEventMsg{event: ev}
	}
}

func tickStatus() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return statusTickMsg{}
	})
}
