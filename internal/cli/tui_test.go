// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/multichat/internal/orchestrator"
)

func newTestTUI(t *testing.T, models ...string) *tuiModel {
	t.Helper()
	app, _ := newTestApp(t, models...)
	m := newTUIModel(context.Background(), app.Orchestrator, app.Logger)
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return m
}

func typeLine(m *tuiModel, line string) tea.Cmd {
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(line)})
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestTUI_OnePanePerSession(t *testing.T) {
	m := newTestTUI(t, "4o-mini", "sonnet")

	require.Len(t, m.panes, 2)
	require.Equal(t, 58, m.panes[0].Width)
	require.Equal(t, 24, m.panes[0].Height)

	view := m.View()
	require.Contains(t, view, "GPT-4o mini")
	require.Contains(t, view, "Claude 3.5 Sonnet")
}

func TestTUI_SendFillsEveryPane(t *testing.T) {
	m := newTestTUI(t, "4o-mini", "sonnet")

	cmd := typeLine(m, "hello")
	require.NotNil(t, cmd)
	require.True(t, m.sending)
	require.Empty(t, m.input.Value())

	msg := cmd()
	done, ok := msg.(sendDoneMsg)
	require.True(t, ok)
	require.NoError(t, done.err)
	m.Update(msg)

	require.False(t, m.sending)
	for _, s := range m.state.Active {
		require.Len(t, s.Messages, 2)
	}
	view := m.View()
	require.Contains(t, view, "reply from openai/gpt-4o-mini")
	require.Contains(t, view, "reply from anthropic/claude-3.5-sonnet")
}

func TestTUI_ProgressLine(t *testing.T) {
	m := newTestTUI(t, "4o-mini", "sonnet")
	busy, idle := m.state.Active[0], m.state.Active[1]

	start := time.Now()
	m.state.InFlight = []string{busy.ID}
	m.state.Progress = map[string]orchestrator.Progress{
		busy.ID: {CharsReceived: 42, StartTime: start, LastUpdateTime: start.Add(2 * time.Second)},
	}

	require.Contains(t, m.paneProgress(busy, 40), "42 chars  21 chars/s")
	require.Contains(t, m.paneProgress(idle, 40), "0 messages")
}

func TestTUI_CtrlCStopsBeforeQuitting(t *testing.T) {
	m := newTestTUI(t, "4o-mini")

	m.sending = true
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.Nil(t, cmd)
	require.True(t, m.sending)

	m.sending = false
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTUI_CommandsStayInREPL(t *testing.T) {
	m := newTestTUI(t, "4o-mini")

	require.Nil(t, typeLine(m, "/add sonnet"))
	require.Contains(t, m.status, "line REPL")
	require.Len(t, m.panes, 1)

	cmd := typeLine(m, "quit")
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())
}
