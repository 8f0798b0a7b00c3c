package command

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, Refresh, Normalize("  fetch "))
	assert.Equal(t, MarkAllRead, Normalize("Read   All"))
	assert.Equal(t, MarkAllRead, Normalize("read-all"))
	assert.Equal(t, Quit, Normalize("q"))
	assert.Equal(t, "frobnicate", Normalize("frobnicate"))
	assert.Empty(t, Normalize("   "))
}

func TestEnterEmitsCommand(t *testing.T) {
	m := New(80, 10)
	m.Focus()
	for _, r := range "sync" {
		m, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}

	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	assert.Equal(t, CommandMsg(Refresh), cmd())
	assert.Empty(t, m.input.Value())
}

func TestEscCancels(t *testing.T) {
	m := New(80, 10)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, CancelMsg{}, cmd())
}
