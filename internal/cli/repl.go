// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// repl.go - Interactive chat loop for multichat.
//
// Every plain line is sent to all active sessions at once. Ctrl+C while
// replies stream cancels them and keeps the partial text; Ctrl+C or Ctrl+D
// at the prompt exits.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"
	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/config"
	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/orchestrator"
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// LineReader reads one line of input.
type LineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides line editing and a persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor whose history lives in the config
// directory.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the
// terminal.
func (c *ChatCLI) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// REPL
// =============================================================================

// REPL drives the orchestrator from typed input.
type REPL struct {
	app     *App
	orch    *orchestrator.Orchestrator
	out     io.Writer
	errOut  io.Writer
	input   LineReader
	printer *Printer
	logger  *zap.Logger
}

// NewREPL creates a REPL reading from the terminal.
func NewREPL(app *App, out, errOut io.Writer) *REPL {
	var md *glamour.TermRenderer
	if IsStdoutTTY() {
		md = newMarkdownRenderer(GetTerminalWidth() - 4)
	}
	return newREPL(app, out, errOut, NewChatCLI(), NewPrinter(out, app.Orchestrator, md))
}

func newREPL(app *App, out, errOut io.Writer, input LineReader, printer *Printer) *REPL {
	return &REPL{
		app:     app,
		orch:    app.Orchestrator,
		out:     out,
		errOut:  errOut,
		input:   input,
		printer: printer,
		logger:  app.Logger.Named("repl"),
	}
}

// Run loops until the user quits or input ends.
func (r *REPL) Run(ctx context.Context) error {
	defer r.input.Close()

	unsubscribe := r.orch.Subscribe(r.printer.Handle)
	defer unsubscribe()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if len(r.orch.Snapshot().InFlight) > 0 {
				r.orch.StopStreaming("")
				fmt.Fprintln(r.errOut, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	r.printWelcome()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := r.input.ReadInput(PromptStyle.Render(r.prompt()))
		if err != nil {
			// Ctrl+C (liner.ErrPromptAborted), Ctrl+D and EOF all exit.
			fmt.Fprintln(r.out)
			r.printExitSummary()
			return nil
		}

		if err := r.HandleLine(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				r.printExitSummary()
				return nil
			}
			fmt.Fprintf(r.errOut, "%s %v\n", RenderStatus("error"), err)
		}
	}
}

// HandleLine runs one line of input.
func (r *REPL) HandleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return nil
	case strings.HasPrefix(line, "/"):
		return r.command(ctx, line)
	case strings.EqualFold(line, "exit"), strings.EqualFold(line, "quit"):
		return errQuit
	}
	return r.send(ctx, func(ctx context.Context) error {
		return r.orch.SendMessageToAll(ctx, line)
	})
}

// send runs a dispatching operation with the printer primed for it.
func (r *REPL) send(ctx context.Context, fn func(context.Context) error) error {
	r.printer.Begin()
	fmt.Fprintln(r.out)
	if err := fn(ctx); err != nil {
		r.logger.Debug("send rejected", zap.Error(err))
		return err
	}
	return nil
}

func (r *REPL) runnableNames() []string {
	state := r.orch.Snapshot()
	names := make([]string, 0, len(state.Active))
	for _, s := range state.Active {
		if s.IsRunnable() {
			names = append(names, model.DisplayName(s.ModelID))
		}
	}
	return names
}

func (r *REPL) prompt() string {
	names := r.runnableNames()
	if len(names) == 0 {
		return "multichat> "
	}
	return fmt.Sprintf("multichat [%s]> ", strings.Join(names, ", "))
}

// =============================================================================
// DISPLAY
// =============================================================================

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, TitleStyle.Render("multichat"))
	fmt.Fprintln(r.out, RenderSeparator(30))

	state := r.orch.Snapshot()
	for i, s := range state.Active {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel(fmt.Sprintf("Session %d:", i+1)), SessionHeaderStyle(i).Render(s.ModelName))
	}

	current := r.app.Settings.Get()
	if current.HasAPIKey() {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("API key:"), ValueStyle.Render(current.MaskedKey()))
	} else {
		fmt.Fprintf(r.out, "%s %s\n", RenderLabel("API key:"),
			WarningStyle.Render("not set (/settings key KEY or "+APIKeyEnv+")"))
	}
	if len(r.runnableNames()) == 0 {
		fmt.Fprintln(r.out, WarningStyle.Render("No model selected. Use /add MODEL or /settings model MODEL."))
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, DimStyle.Render("Type a message to send it to every session. Commands: /help, /quit"))
	fmt.Fprintln(r.out)
}

func (r *REPL) printExitSummary() {
	state := r.orch.Snapshot()
	fmt.Fprintf(r.out, "%s %d saved sessions\n", DimStyle.Render("[Bye]"), len(state.Sessions))
}
