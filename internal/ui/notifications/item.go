package notifications

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/crm-notifications/internal/model"
	"github.com/nhle/crm-notifications/internal/theme"
)

// Item wraps a notification so it can be used in a bubbles/list.
type Item struct {
	model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Title }

// Delegate renders one history row per notification.
type Delegate struct {
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d Delegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d Delegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d Delegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single row:
//
//	● SUCCESS high  New sale  $1,200 - Deal closed  2 minutes ago
func (d Delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	n := it.Notification

	marker := "●"
	if n.Read {
		marker = "○"
	}

	typeBadge := theme.TypeStyle(n.Type).Render(strings.ToUpper(string(n.Type)))
	priBadge := theme.PriorityStyle(n.Priority).Render(string(n.Priority))

	text := oneLine(n.Title)
	if msg := oneLine(n.Message); msg != "" {
		text += "  " + msg
	}

	when := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(n.CreatedAt, d.now()))

	line := fmt.Sprintf("%s %s %s  %s  %s", marker, typeBadge, priBadge, text, when)

	if n.Read {
		line = theme.DimmedStyle.Render(line)
	}
	if index == m.Index() {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}
	if width := m.Width(); width > 0 {
		line = lipgloss.NewStyle().MaxWidth(width).Render(line)
	}

	fmt.Fprint(w, line)
}

// oneLine collapses runs of whitespace, newlines included, to one space.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	if now.Sub(t) < time.Minute {
		return "just now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}
