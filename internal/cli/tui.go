// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/orchestrator"
	"github.com/jeranaias/multichat/internal/util"
)

// =============================================================================
// MESSAGES
// =============================================================================

// refreshMsg asks the view to re-read orchestrator state.
type refreshMsg struct{}

// sendDoneMsg reports the end of a dispatch.
type sendDoneMsg struct{ err error }

// =============================================================================
// PANE VIEW
// =============================================================================

// paneChrome is the rows each pane spends outside its viewport: two border
// rows, the header and the progress line. The status and input lines sit
// below the panes.
const paneChrome = 4 + 2

// tuiModel shows one scrollable pane per active session side by side, with
// a single input that sends to all of them.
type tuiModel struct {
	ctx    context.Context
	orch   *orchestrator.Orchestrator
	logger *zap.Logger

	state   orchestrator.State
	panes   []viewport.Model
	spinner spinner.Model
	input   textinput.Model

	width   int
	height  int
	sending bool
	status  string
}

func newTUIModel(ctx context.Context, orch *orchestrator.Orchestrator, logger *zap.Logger) *tuiModel {
	ti := textinput.New()
	ti.Placeholder = "Message every model (Enter sends, Esc stops, Ctrl+C quits)"
	ti.CharLimit = 4096
	ti.Prompt = "> "
	ti.PromptStyle = PromptStyle
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = InfoStyle

	m := &tuiModel{
		ctx:     ctx,
		orch:    orch,
		logger:  logger,
		spinner: sp,
		input:   ti,
		width:   DefaultTerminalWidth,
		height:  24,
	}
	m.refresh()
	return m
}

// Init starts the cursor blink and the spinner.
func (m *tuiModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

// Update handles one program message.
func (m *tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.sending {
				m.orch.StopStreaming("")
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEsc:
			if m.sending {
				m.orch.StopStreaming("")
			}
			return m, nil
		case tea.KeyEnter:
			return m, m.submit()
		case tea.KeyPgUp:
			for i := range m.panes {
				m.panes[i].ViewUp()
			}
			return m, nil
		case tea.KeyPgDown:
			for i := range m.panes {
				m.panes[i].ViewDown()
			}
			return m, nil
		}

	case refreshMsg:
		m.refresh()
		return m, nil

	case sendDoneMsg:
		m.sending = false
		m.status = ""
		if msg.err != nil {
			m.status = msg.err.Error()
			m.logger.Debug("send rejected", zap.Error(msg.err))
		}
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit dispatches the input line to every active session.
func (m *tuiModel) submit() tea.Cmd {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.sending {
		return nil
	}
	m.input.Reset()

	switch {
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"),
		line == "/quit", line == "/exit":
		return tea.Quit
	case strings.HasPrefix(line, "/"):
		m.status = "commands run in the line REPL; /quit leaves"
		return nil
	}

	m.sending = true
	m.status = ""
	ctx, orch := m.ctx, m.orch
	return func() tea.Msg {
		return sendDoneMsg{err: orch.SendMessageToAll(ctx, line)}
	}
}

// refresh re-reads state and lays the panes out for the current size.
func (m *tuiModel) refresh() {
	m.state = m.orch.Snapshot()
	n := len(m.state.Active)
	w, h := m.paneSize(n)

	for len(m.panes) < n {
		m.panes = append(m.panes, viewport.New(w, h))
	}
	m.panes = m.panes[:n]
	for i, s := range m.state.Active {
		vp := &m.panes[i]
		follow := vp.AtBottom()
		vp.Width, vp.Height = w, h
		vp.SetContent(renderTranscript(s, w))
		if follow {
			vp.GotoBottom()
		}
	}
	m.input.Width = max(m.width-4, 10)
}

// paneSize returns the inner width and viewport height of each of n panes.
func (m *tuiModel) paneSize(n int) (int, int) {
	if n < 1 {
		n = 1
	}
	return max(m.width/n-2, 10), max(m.height-paneChrome, 3)
}

func (m *tuiModel) inFlight(id string) bool {
	for _, f := range m.state.InFlight {
		if f == id {
			return true
		}
	}
	return false
}

// paneProgress is the line under a pane header.
func (m *tuiModel) paneProgress(s model.Session, width int) string {
	if m.inFlight(s.ID) || s.IsLoading {
		p := m.state.Progress[s.ID]
		line := fmt.Sprintf("%d chars  %.0f chars/s", p.CharsReceived, p.CharsPerSecond())
		return m.spinner.View() + " " + DimStyle.Render(util.TruncateWidth(line, width-2))
	}
	if s.Error != "" {
		return WarningStyle.Render(util.TruncateWidth(s.Error, width))
	}
	return DimStyle.Render(fmt.Sprintf("%d messages", len(s.Messages)))
}

// View draws the panes, the status line and the input.
func (m *tuiModel) View() string {
	w, _ := m.paneSize(len(m.state.Active))

	boxes := make([]string, 0, len(m.state.Active))
	for i, s := range m.state.Active {
		header := SessionHeaderStyle(i).Render(util.TruncateWidth("● "+model.DisplayName(s.ModelID), w))
		body := lipgloss.JoinVertical(lipgloss.Left, header, m.paneProgress(s, w), m.panes[i].View())
		boxes = append(boxes, lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(sessionColors[i%len(sessionColors)]).
			Width(w).
			Render(body))
	}

	status := DimStyle.Render("PgUp/PgDn scroll")
	if m.status != "" {
		status = ErrorStyle.Render(m.status)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, boxes...),
		status,
		m.input.View())
}

// renderTranscript renders a session's messages wrapped to width.
func renderTranscript(s model.Session, width int) string {
	var b strings.Builder
	for _, msg := range s.Messages {
		text := msg.Content.String()
		switch {
		case msg.Role == model.RoleUser:
			b.WriteString(PromptStyle.Render("you>"))
			b.WriteString("\n")
			b.WriteString(WrapText(text, width))
		case msg.Streaming && text == model.PlaceholderContent:
			b.WriteString(DimStyle.Render(text))
		case strings.HasPrefix(text, model.ErrorPrefix):
			b.WriteString(ErrorStyle.Render(WrapText(text, width)))
		default:
			b.WriteString(WrapText(text, width))
		}
		for i, url := range msg.Content.Images() {
			b.WriteString("\n")
			b.WriteString(InfoStyle.Render(fmt.Sprintf("[image %d] ", i+1)))
			b.WriteString(DimStyle.Render(util.TruncateWidth(url, width-10)))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// =============================================================================
// RUN
// =============================================================================

// RunTUI runs the multi-pane view until the user quits. Orchestrator events
// are coalesced into refreshes so listeners never wait on the program loop.
func RunTUI(ctx context.Context, app *App, opts ...tea.ProgramOption) error {
	m := newTUIModel(ctx, app.Orchestrator, app.Logger)
	p := tea.NewProgram(m, append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)

	dirty := make(chan struct{}, 1)
	unsubscribe := app.Orchestrator.Subscribe(func(orchestrator.Event) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-dirty:
				p.Send(refreshMsg{})
			}
		}
	}()

	_, err := p.Run()
	app.Orchestrator.StopStreaming("")
	return err
}
