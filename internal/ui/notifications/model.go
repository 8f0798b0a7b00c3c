// Package notifications is the terminal history panel: the list of
// notifications, the toast line and the actions bound to them.
package notifications

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/crm-notifications/internal/inbox"
	"github.com/nhle/crm-notifications/internal/keys"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/theme"
)

// ActionTimeout bounds the write-backs started by a user action.
const ActionTimeout = 15 * time.Second

// ItemsLoadedMsg carries a fresh snapshot of the history.
type ItemsLoadedMsg struct {
	Items []model.Notification
}

// ActionErrMsg reports a failed panel action.
type ActionErrMsg struct {
	Err error
}

// toastExpiredMsg hides the toast with the given sequence number.
type toastExpiredMsg struct {
	seq int
}

// Model is the history panel.
type Model struct {
	list   list.Model
	inbox  *inbox.Inbox
	keys   *keys.KeyMap
	width  int
	height int

	toast    *model.Notification
	toastSeq int
	lastErr  error
}

// New creates the panel.
func New(ib *inbox.Inbox, k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, Delegate{now: time.Now}, width, height)
	l.Title = "Notifications"
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.SetStatusBarItemName("notification", "notifications")
	l.Styles.Title = theme.HeaderStyle
	l.KeyMap.Quit.SetEnabled(false)
	l.KeyMap.ForceQuit.SetEnabled(false)

	return Model{
		list:   l,
		inbox:  ib,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Init loads the initial history.
func (m Model) Init() tea.Cmd {
	return m.Load()
}

// Load returns a command that snapshots the history.
func (m Model) Load() tea.Cmd {
	ib := m.inbox
	return func() tea.Msg {
		return ItemsLoadedMsg{Items: ib.List()}
	}
}

// Update handles messages for the panel.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ItemsLoadedMsg:
		items := make([]list.Item, len(msg.Items))
		for i, n := range msg.Items {
			items[i] = Item{Notification: n}
		}
		return m, m.list.SetItems(items)

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = nil
		}
		return m, nil

	case ActionErrMsg:
		m.lastErr = msg.Err
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleKeys(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	ib := m.inbox

	switch {
	case key.Matches(msg, m.keys.MarkRead):
		n, ok := m.Selected()
		if !ok || n.Read {
			return nil, true
		}
		m.lastErr = nil
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), ActionTimeout)
			defer cancel()
			if err := ib.MarkRead(ctx, n.ID); err != nil {
				return ActionErrMsg{Err: err}
			}
			return nil
		}, true

	case key.Matches(msg, m.keys.MarkAllRead):
		m.lastErr = nil
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), ActionTimeout)
			defer cancel()
			ib.MarkAllRead(ctx)
			return nil
		}, true

	case key.Matches(msg, m.keys.Remove):
		n, ok := m.Selected()
		if !ok {
			return nil, true
		}
		return func() tea.Msg {
			if err := ib.Remove(n.ID); err != nil {
				return ActionErrMsg{Err: err}
			}
			return nil
		}, true

	case key.Matches(msg, m.keys.Refresh):
		ib.Refresh()
		return nil, true
	}
	return nil, false
}

// ShowToast displays n in the toast line for its DurationMs. Items without
// a positive duration are not toasted.
func (m Model) ShowToast(n model.Notification) (Model, tea.Cmd) {
	if n.DurationMs <= 0 {
		return m, nil
	}
	m.toastSeq++
	m.toast = &n
	seq := m.toastSeq
	return m, tea.Tick(time.Duration(n.DurationMs)*time.Millisecond, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}

// ToastVisible reports whether a toast is currently shown.
func (m Model) ToastVisible() bool {
	return m.toast != nil
}

// ToastView renders the toast line, or "" when there is none.
func (m Model) ToastView() string {
	if m.toast == nil {
		return ""
	}
	text := theme.TypeStyle(m.toast.Type).Render(m.toast.Title)
	if m.toast.Message != "" {
		text += " " + m.toast.Message
	}
	return theme.ToastStyle(m.toast.Type).Width(max(m.width-2, 0)).Render(text)
}

// LastError returns the error of the most recent failed action.
func (m Model) LastError() error {
	return m.lastErr
}

// Selected returns the focused notification.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// View renders the panel.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notifications yet.\n\nNew CRM activity will show up here.")
	}
	return m.list.View()
}

// SetSize updates the panel dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
