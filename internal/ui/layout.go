package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/crm-notifications/internal/theme"
)

// toastHeight is the space reserved for a bordered one-line toast.
const toastHeight = 3

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
	ToastHeight     int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1. No toast space is reserved
// until WithToast is used.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// WithToast returns a copy of l that reserves room for a toast when shown
// is true.
func (l Layout) WithToast(shown bool) Layout {
	l.ToastHeight = 0
	if shown {
		l.ToastHeight = toastHeight
	}
	return l
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area.
func (l Layout) ContentHeight() int {
	return max(l.Height-l.HeaderHeight-l.StatusBarHeight-l.ToastHeight, 0)
}

// RenderHeader renders the title bar: title, an optional unread badge, and
// right-aligned sync status.
func (l Layout) RenderHeader(title, badge, syncStatus string) string {
	left := theme.HeaderStyle.Render(title)
	if badge != "" {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left, theme.UnreadBadgeStyle.Render(badge))
	}
	right := theme.HeaderStyle.Render(syncStatus)

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		left,
		fill(theme.HeaderStyle, l.Width-lipgloss.Width(left)-lipgloss.Width(right)),
		right,
	)
}

// RenderStatusBar renders the bottom status bar.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)
	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		rendered,
		fill(theme.StatusBarStyle, l.Width-lipgloss.Width(rendered)),
	)
}

// RenderWithFrame stacks header, optional toast, content and status bar.
func (l Layout) RenderWithFrame(header, toast, content, statusBar string) string {
	parts := []string{header}
	if toast != "" {
		parts = append(parts, toast)
	}
	parts = append(parts, content, statusBar)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// fill renders width blank cells in the background of style.
func fill(style lipgloss.Style, width int) string {
	if width <= 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Width(width).
		Background(style.GetBackground()).
		Render("")
}
