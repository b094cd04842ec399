// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/orchestrator"
	"github.com/jeranaias/multichat/internal/util"
)

// =============================================================================
// MARKDOWN
// =============================================================================

// newMarkdownRenderer returns nil when glamour cannot initialize; callers
// print plain text then.
func newMarkdownRenderer(width int) *glamour.TermRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return r
}

// =============================================================================
// PRINTER
// =============================================================================

// Printer writes orchestrator events to the terminal. With one active
// session deltas stream live; with several, each reply prints whole once it
// resolves so the outputs do not interleave.
type Printer struct {
	mu       sync.Mutex
	out      io.Writer
	orch     *orchestrator.Orchestrator
	markdown *glamour.TermRenderer
	// width wraps plain replies; zero follows the terminal.
	width int

	live    bool
	started map[string]bool
	slots   map[string]int
}

// NewPrinter creates a printer. A nil renderer prints plain text.
func NewPrinter(out io.Writer, orch *orchestrator.Orchestrator, markdown *glamour.TermRenderer) *Printer {
	return &Printer{
		out:      out,
		orch:     orch,
		markdown: markdown,
		started:  make(map[string]bool),
		slots:    make(map[string]int),
	}
}

// Begin prepares for a send to the current active sessions.
func (p *Printer) Begin() {
	state := p.orch.Snapshot()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.live = len(state.Active) == 1
	p.started = make(map[string]bool)
	p.slots = make(map[string]int, len(state.Active))
	for i, s := range state.Active {
		p.slots[s.ID] = i
	}
}

// Handle is the orchestrator listener.
func (p *Printer) Handle(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventDelta:
		p.mu.Lock()
		defer p.mu.Unlock()
		if !p.live {
			return
		}
		if !p.started[ev.SessionID] {
			p.started[ev.SessionID] = true
			fmt.Fprintln(p.out, p.header(ev.SessionID, ev.ModelID))
		}
		fmt.Fprint(p.out, ev.Delta)

	case orchestrator.EventResolved:
		msg, ok := p.lastAssistant(ev.SessionID)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.live && p.started[ev.SessionID] {
			fmt.Fprint(p.out, "\n\n")
			if ok && msg.Content.HasImage() {
				p.printImages(msg)
			}
			return
		}
		if !ok {
			return
		}
		fmt.Fprintln(p.out, p.header(ev.SessionID, ev.ModelID))
		p.printMessage(msg)
	}
}

func (p *Printer) header(sessionID, modelID string) string {
	slot, ok := p.slots[sessionID]
	if !ok {
		slot = -1
	}
	return SessionHeaderStyle(slot).Render("● " + model.DisplayName(modelID))
}

func (p *Printer) lastAssistant(sessionID string) (model.Message, bool) {
	state := p.orch.Snapshot()
	for _, list := range [][]model.Session{state.Active, state.Sessions} {
		for _, s := range list {
			if s.ID != sessionID {
				continue
			}
			last, ok := s.LastMessage()
			if !ok || last.Role != model.RoleAssistant {
				return model.Message{}, false
			}
			return last, true
		}
	}
	return model.Message{}, false
}

// printMessage writes a final message. Caller holds mu.
func (p *Printer) printMessage(m model.Message) {
	text := m.Content.String()
	switch {
	case strings.HasPrefix(text, model.ErrorPrefix):
		fmt.Fprintln(p.out, ErrorStyle.Render(text))
	case p.markdown != nil && text != "":
		rendered, err := p.markdown.Render(text)
		if err != nil {
			rendered = text
		}
		fmt.Fprint(p.out, rendered)
	case text != "":
		fmt.Fprintln(p.out, WrapText(text, p.width))
	}
	p.printImages(m)
	fmt.Fprintln(p.out)
}

func (p *Printer) printImages(m model.Message) {
	for i, url := range m.Content.Images() {
		fmt.Fprintf(p.out, "%s %s\n",
			InfoStyle.Render(fmt.Sprintf("[image %d]", i+1)),
			DimStyle.Render(util.TruncateWidth(url, 72)))
	}
}

// PrintSession writes every message of a session.
func (p *Printer) PrintSession(slot int, s model.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, "%s %s\n",
		SessionHeaderStyle(slot).Render("● "+s.ModelName),
		DimStyle.Render(shortID(s.ID)))
	for _, m := range s.Messages {
		if m.Role == model.RoleUser {
			fmt.Fprintf(p.out, "%s %s\n", PromptStyle.Render("you>"), m.Content.String())
			continue
		}
		p.printMessage(m)
	}
	if s.Error != "" {
		fmt.Fprintln(p.out, WarningStyle.Render("last error: "+s.Error))
	}
}
