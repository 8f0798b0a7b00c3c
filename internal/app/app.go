package app

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"

	"github.com/nhle/crm-notifications/internal/bridge"
	"github.com/nhle/crm-notifications/internal/inbox"
	"github.com/nhle/crm-notifications/internal/keys"
	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/ui"
	"github.com/nhle/crm-notifications/internal/ui/command"
	helpview "github.com/nhle/crm-notifications/internal/ui/help"
	"github.com/nhle/crm-notifications/internal/ui/notifications"
)

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewHelp
	ViewCommand
)

// StatusReporter supplies bridge counters for the header. It is nil when
// the UI runs without a backend.
type StatusReporter interface {
	Stats() bridge.Stats
}

// Model is the root Bubble Tea model that manages view routing, layout and
// the store subscription.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	inbox        *inbox.Inbox
	status       StatusReporter
	keys         *keys.KeyMap
	panel        notifications.Model
	helpView     helpview.Model
	commandView  command.Model

	events      chan model.Event
	unsubscribe func()

	ready       bool
	unreadCount int
	notice      string
}

// New creates the root model. It subscribes to the store immediately so no
// event is missed between construction and Init.
func New(ib *inbox.Inbox, status StatusReporter) Model {
	k := keys.DefaultKeyMap()
	m := Model{
		currentView: ViewList,
		inbox:       ib,
		status:      status,
		keys:        k,
		panel:       notifications.New(ib, k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		unreadCount: ib.UnreadCount(),
	}
	m.watchStore()
	return m
}

// Init loads the history and starts listening for store events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.panel.Init(),
		m.waitForEvent(),
		tickStatus(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
		m.panel.SetSize(w, h)
		m.helpView.SetSize(w, h)
		m.commandView.SetSize(w, h)
		return m, nil

	case storeEventMsg:
		m.unreadCount = m.inbox.UnreadCount()
		cmds := []tea.Cmd{m.panel.Load(), m.waitForEvent()}
		if msg.event.Topic == model.TopicAdded && msg.event.Item != nil {
			var cmd tea.Cmd
			m.panel, cmd = m.panel.ShowToast(*msg.event.Item)
			cmds = append(cmds, cmd)
		}
		return m, tea.Batch(cmds...)

	case statusTickMsg:
		return m, tickStatus()

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, m.quit()

		case "q":
			if m.currentView == ViewList {
				return m, m.quit()
			}

		case "?":
			if m.currentView == ViewCommand {
				break
			}
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case ":":
			if m.currentView == ViewList {
				m.previousView = m.currentView
				m.currentView = ViewCommand
				return m, m.commandView.Focus()
			}

		case "esc":
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
		}

		m.notice = ""
		return m.updateActiveView(msg)
	}

	// Everything else (loads, toast timers, action results) belongs to the
	// panel regardless of which view is on top.
	var cmd tea.Cmd
	m.panel, cmd = m.panel.Update(msg)
	return m, cmd
}

// updateActiveView dispatches a key to the currently active view.
func (m Model) updateActiveView(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.panel, cmd = m.panel.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	}

	return m, cmd
}

// quit releases the store subscription and exits.
func (m Model) quit() tea.Cmd {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	return tea.Quit
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	badge := ""
	if m.unreadCount > 0 {
		badge = fmt.Sprintf("%d unread", m.unreadCount)
	}
	header := m.layout.RenderHeader("CRM Notifications", badge, m.syncStatus())

	layout := m.layout.WithToast(m.panel.ToastVisible())
	toast := m.panel.ToastView()

	var content string
	switch m.currentView {
	case ViewHelp:
		content = m.helpView.View()
	case ViewCommand:
		content = m.commandView.View()
	default:
		panel := m.panel
		panel.SetSize(layout.ContentWidth(), layout.ContentHeight())
		content = panel.View()
	}

	statusBar := m.layout.RenderStatusBar(m.keyHints())

	return layout.RenderWithFrame(header, toast, content, statusBar)
}

// syncStatus returns a short string describing the bridge state.
func (m Model) syncStatus() string {
	if m.status == nil {
		return "local only"
	}

	st := m.status.Stats()
	switch {
	case st.AuthExpired:
		return "session expired"
	case st.State == bridge.StateRunning:
		return "syncing..."
	case st.State == bridge.StateError:
		return "backend unreachable"
	case st.LastPass.IsZero():
		return "connecting"
	}

	mode := "polling"
	if st.PushActive {
		mode = "live"
	}
	return fmt.Sprintf("%s, synced %s", mode, humanize.Time(st.LastPass))
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.currentView == ViewList {
		if err := m.panel.LastError(); err != nil {
			return "error: " + err.Error()
		}
		if m.notice != "" {
			return m.notice
		}
		if m.status != nil && m.status.Stats().AuthExpired {
			return "session expired: run 'crmnotify setup' to sign in again"
		}
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | tab complete | esc back"
	default:
		return m.helpView.ShortView()
	}
}

// executeCommand handles a command from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	ib := m.inbox

	switch cmd {
	case command.Refresh:
		ib.Refresh()
		m.notice = "refresh requested"
		return nil
	case command.MarkAllRead:
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), notifications.ActionTimeout)
			defer cancel()
			ib.MarkAllRead(ctx)
			return nil
		}
	case command.ClearRead:
		n := ib.ClearRead()
		m.notice = fmt.Sprintf("removed %d read notifications", n)
		return nil
	case command.Help:
		m.previousView = ViewList
		m.currentView = ViewHelp
		return nil
	case command.Quit:
		return m.quit()
	default:
		m.notice = fmt.Sprintf("unknown command %q", cmd)
		return nil
	}
}
