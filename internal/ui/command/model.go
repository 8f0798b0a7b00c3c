package command

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/crm-notifications/internal/theme"
)

// Known commands. Aliases resolve to these names.
const (
	Refresh     = "refresh"
	MarkAllRead = "read all"
	ClearRead   = "clear read"
	Help        = "help"
	Quit        = "quit"
)

var aliases = map[string]string{
	"fetch":    Refresh,
	"sync":     Refresh,
	"readall":  MarkAllRead,
	"read-all": MarkAllRead,
	"clear":    ClearRead,
	"?":        Help,
	"q":        Quit,
	"exit":     Quit,
}

// CommandMsg is emitted when the user executes a command. Unknown input is
// passed through unchanged.
type CommandMsg string

// CancelMsg is emitted when the palette is dismissed.
type CancelMsg struct{}

// Normalize resolves aliases and surrounding whitespace.
func Normalize(input string) string {
	cmd := strings.ToLower(strings.Join(strings.Fields(input), " "))
	if canonical, ok := aliases[cmd]; ok {
		return canonical
	}
	return cmd
}

// Model is the command palette view.
type Model struct {
	input  textinput.Model
	width  int
	height int
}

// New creates a new command palette model.
func New(width, height int) Model {
	ti := textinput.New()
	ti.Placeholder = "refresh, read all, clear read, help, quit"
	ti.Prompt = ": "
	ti.Width = width - 6
	ti.ShowSuggestions = true
	ti.SetSuggestions([]string{Refresh, MarkAllRead, ClearRead, Help, Quit})

	return Model{
		input:  ti,
		width:  width,
		height: height,
	}
}

// Update handles messages for the command palette.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "enter":
			cmd := Normalize(m.input.Value())
			m.input.Reset()
			if cmd == "" {
				return m, nil
			}
			return m, func() tea.Msg { return CommandMsg(cmd) }
		case "esc":
			m.input.Reset()
			return m, func() tea.Msg { return CancelMsg{} }
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the command palette.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Command")

	return theme.PanelStyle.
		Width(max(m.width-4, 0)).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, m.input.View()))
}

// SetSize updates the command palette dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.input.Width = width - 6
}

// Focus gives keyboard focus to the text input.
func (m *Model) Focus() tea.Cmd {
	return m.input.Focus()
}
