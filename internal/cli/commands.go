// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeranaias/multichat/internal/cloud"
	"github.com/jeranaias/multichat/internal/export"
	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/orchestrator"
	"github.com/jeranaias/multichat/internal/settings"
	"github.com/jeranaias/multichat/internal/storage"
	"github.com/jeranaias/multichat/internal/templates"
)

// slashCommand is one REPL command.
type slashCommand struct {
	name    string
	aliases []string
	usage   string
	desc    string
	run     func(r *REPL, ctx context.Context, args []string) error
}

var slashCommands []slashCommand

func init() {
	slashCommands = []slashCommand{
		{name: "/help", aliases: []string{"/h", "/?"}, usage: "/help", desc: "Show this help", run: (*REPL).cmdHelp},
		{name: "/models", usage: "/models", desc: "List known models and aliases", run: (*REPL).cmdModels},
		{name: "/add", usage: "/add MODEL", desc: "Add a model session (up to three)", run: (*REPL).cmdAdd},
		{name: "/remove", usage: "/remove MODEL", desc: "Remove a model session", run: (*REPL).cmdRemove},
		{name: "/new", usage: "/new", desc: "Start fresh sessions for the selected models", run: (*REPL).cmdNew},
		{name: "/sessions", aliases: []string{"/ls"}, usage: "/sessions", desc: "List saved sessions", run: (*REPL).cmdSessions},
		{name: "/use", usage: "/use ID", desc: "Focus a saved session", run: (*REPL).cmdUse},
		{name: "/delete", usage: "/delete ID", desc: "Delete a saved session", run: (*REPL).cmdDelete},
		{name: "/history", usage: "/history", desc: "Show the active conversations", run: (*REPL).cmdHistory},
		{name: "/export", usage: "/export [MODEL|ID] [md|json]", desc: "Save a conversation to a file", run: (*REPL).cmdExport},
		{name: "/stop", usage: "/stop [MODEL]", desc: "Cancel in-flight replies", run: (*REPL).cmdStop},
		{name: "/regen", aliases: []string{"/r"}, usage: "/regen [MODEL]", desc: "Regenerate the last reply", run: (*REPL).cmdRegen},
		{name: "/template", aliases: []string{"/t"}, usage: "/template [ID TEXT]", desc: "List templates or send one", run: (*REPL).cmdTemplate},
		{name: "/action", aliases: []string{"/a"}, usage: "/action KIND[:ARG] [MSG]", desc: "Apply a quick action to a message", run: (*REPL).cmdAction},
		{name: "/settings", aliases: []string{"/set"}, usage: "/settings [FIELD VALUE]", desc: "Show or change settings", run: (*REPL).cmdSettings},
		{name: "/stats", usage: "/stats", desc: "Show usage statistics", run: (*REPL).cmdStats},
		{name: "/quit", aliases: []string{"/q", "/exit"}, usage: "/quit", desc: "Exit", run: (*REPL).cmdQuit},
	}
}

func lookupCommand(name string) (slashCommand, bool) {
	for _, c := range slashCommands {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return slashCommand{}, false
}

// command dispatches a slash command line.
func (r *REPL) command(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])
	if name == "/" {
		name = "/help"
	}
	c, ok := lookupCommand(name)
	if !ok {
		return fmt.Errorf("unknown command: %s (type /help for commands)", name)
	}
	return c.run(r, ctx, parts[1:])
}

func (r *REPL) ok(format string, args ...any) {
	fmt.Fprintf(r.out, "%s %s\n", RenderStatus("ok"), fmt.Sprintf(format, args...))
}

// =============================================================================
// GENERAL
// =============================================================================

func (r *REPL) cmdHelp(context.Context, []string) error {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, TitleStyle.Render("Commands"))
	fmt.Fprintln(r.out, RenderSeparator(20))
	for _, c := range slashCommands {
		fmt.Fprintf(r.out, "  %s  %s\n",
			SuccessStyle.Render(fmt.Sprintf("%-28s", c.usage)),
			DimStyle.Render(c.desc))
	}
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, DimStyle.Render("Ctrl+C cancels streaming replies; Ctrl+D exits."))
	return nil
}

func (r *REPL) cmdQuit(context.Context, []string) error {
	return errQuit
}

func (r *REPL) cmdModels(context.Context, []string) error {
	selected := make(map[string]bool)
	for _, id := range r.orch.Snapshot().SelectedModels {
		selected[id] = true
	}
	for _, m := range model.Catalog {
		mark := " "
		if selected[m.ID] {
			mark = "*"
		}
		extra := ""
		if cloud.SupportsImages(m.ID) {
			extra = DimStyle.Render(" (images)")
		}
		fmt.Fprintf(r.out, "%s %-18s %s%s\n", mark, m.Alias, ValueStyle.Render(m.ID), extra)
	}
	fmt.Fprintln(r.out, DimStyle.Render("Any other OpenRouter model id is accepted."))
	return nil
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

func (r *REPL) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /add MODEL")
	}
	id := model.ResolveModelID(args[0])
	if !r.orch.AddModel(ctx, id) {
		return fmt.Errorf("cannot add %s: already selected, unbound, or %d sessions open",
			id, orchestrator.MaxActiveSessions)
	}
	r.ok("Added %s", model.DisplayName(id))
	return nil
}

func (r *REPL) cmdRemove(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /remove MODEL")
	}
	id := model.ResolveModelID(args[0])
	if !r.orch.RemoveModel(id) {
		return fmt.Errorf("cannot remove %s: not selected or last session", id)
	}
	r.ok("Removed %s", model.DisplayName(id))
	return nil
}

func (r *REPL) cmdNew(ctx context.Context, _ []string) error {
	created := r.orch.CreateNewSession(ctx)
	names := make([]string, len(created))
	for i, s := range created {
		names[i] = s.ModelName
	}
	r.ok("New conversation with %s", strings.Join(names, ", "))
	return nil
}

func (r *REPL) cmdSessions(context.Context, []string) error {
	state := r.orch.Snapshot()
	active := make(map[string]bool, len(state.Active))
	for _, s := range state.Active {
		active[s.ID] = true
	}

	printSessionList(r.out, storage.Summarize(state.Sessions), active)
	return nil
}

func (r *REPL) cmdUse(_ context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /use ID")
	}
	s, err := resolveSession(r.orch.Snapshot().Sessions, args[0])
	if err != nil {
		return err
	}
	if err := r.orch.SetActiveSession(s.ID); err != nil {
		return err
	}
	r.ok("Focused %s (%s)", shortID(s.ID), s.ModelName)
	return nil
}

func (r *REPL) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: /delete ID")
	}
	state := r.orch.Snapshot()
	s, err := resolveSession(append(state.Sessions, state.Active...), args[0])
	if err != nil {
		return err
	}
	if err := r.orch.DeleteSession(ctx, s.ID); err != nil {
		return err
	}
	r.ok("Deleted %s", shortID(s.ID))
	return nil
}

func (r *REPL) cmdHistory(context.Context, []string) error {
	for i, s := range r.orch.Snapshot().Active {
		r.printer.PrintSession(i, s)
	}
	return nil
}

func (r *REPL) cmdExport(_ context.Context, args []string) error {
	format, target := "md", ""
	for _, a := range args {
		switch {
		case export.IsFormat(a):
			format = a
		case target == "":
			target = a
		default:
			return errors.New("usage: /export [MODEL|ID] [md|json]")
		}
	}
	exporter, err := export.New(format, nil)
	if err != nil {
		return err
	}

	s, err := r.activeSession(target)
	if err != nil && target != "" {
		s, err = resolveSession(r.orch.Snapshot().Sessions, target)
	}
	if err != nil {
		return err
	}

	path, err := export.ToFile(s, exporter, r.app.Config.Chat.ExportDir)
	if err != nil {
		return err
	}
	r.ok("Exported %s to %s", s.ModelName, path)
	return nil
}

// =============================================================================
// STREAM CONTROL
// =============================================================================

func (r *REPL) cmdStop(_ context.Context, args []string) error {
	if len(args) == 0 {
		r.orch.StopStreaming("")
		r.ok("Stopped all replies")
		return nil
	}
	s, err := r.activeSession(args[0])
	if err != nil {
		return err
	}
	r.orch.StopStreaming(s.ID)
	r.ok("Stopped %s", s.ModelName)
	return nil
}

func (r *REPL) cmdRegen(ctx context.Context, args []string) error {
	name := ""
	if len(args) > 0 {
		name = args[0]
	}
	s, err := r.activeSession(name)
	if err != nil {
		return err
	}
	msg, ok := lastMessage(s, model.RoleAssistant)
	if !ok {
		return fmt.Errorf("%s has no reply to regenerate", s.ModelName)
	}
	return r.send(ctx, func(ctx context.Context) error {
		return r.orch.Regenerate(ctx, s.ID, msg.ID)
	})
}

// =============================================================================
// TEMPLATES AND ACTIONS
// =============================================================================

func (r *REPL) cmdTemplate(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printTemplates(r.out, r.orch.Templates())
		return nil
	}
	id, input := args[0], strings.Join(args[1:], " ")
	return r.send(ctx, func(ctx context.Context) error {
		return r.orch.SendTemplate(ctx, id, input)
	})
}

func (r *REPL) cmdAction(ctx context.Context, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("usage: /action KIND[:ARG] [MSG] (kinds: %s)", strings.Join(templates.ActionNames(), ", "))
	}
	if _, err := templates.ParseAction(args[0]); err != nil {
		return err
	}

	var msgID string
	if len(args) == 2 {
		m, err := r.resolveMessage(args[1])
		if err != nil {
			return err
		}
		msgID = m.ID
	} else {
		s, err := r.activeSession("")
		if err != nil {
			return err
		}
		m, ok := lastMessage(s, model.RoleAssistant)
		if !ok {
			return errors.New("no reply to act on")
		}
		msgID = m.ID
	}
	return r.send(ctx, func(ctx context.Context) error {
		return r.orch.ApplyQuickAction(ctx, args[0], msgID)
	})
}

// =============================================================================
// SETTINGS AND STATS
// =============================================================================

func (r *REPL) cmdSettings(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printSettings(r.out, r.app.Settings.Get())
		return nil
	}
	field := strings.ToLower(args[0])
	value := strings.TrimSpace(strings.Join(args[1:], " "))

	var apply func(*settings.Settings)
	switch field {
	case "key":
		if value == "" {
			return errors.New("usage: /settings key KEY")
		}
		apply = func(s *settings.Settings) { s.APIKey = value }
	case "model":
		if value == "" {
			return errors.New("usage: /settings model MODEL")
		}
		id := model.ResolveModelID(value)
		apply = func(s *settings.Settings) { s.SelectedModel = id }
	case "tone":
		if value == "off" {
			value = ""
		}
		apply = func(s *settings.Settings) { s.Tone = value }
	case "prompt":
		if value == "off" {
			value = ""
		}
		apply = func(s *settings.Settings) { s.SystemPrompt = value }
	case "rag":
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}
		apply = func(s *settings.Settings) { s.RAGEnabled = on }
	case "notifications", "notify":
		on, err := parseOnOff(value)
		if err != nil {
			return err
		}
		apply = func(s *settings.Settings) { s.NotificationsEnabled = on }
	default:
		return fmt.Errorf("unknown setting %q (key, model, tone, prompt, rag, notifications)", field)
	}

	if _, err := r.app.Settings.Update(ctx, apply); err != nil {
		return fmt.Errorf("settings changed for this run but not saved: %w", err)
	}
	r.ok("Updated %s", field)
	return nil
}

func (r *REPL) cmdStats(context.Context, []string) error {
	printUsage(r.out, r.app.Usage.Snapshot())
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// activeSession finds the active session bound to nameOrID, or the first
// runnable one when nameOrID is empty.
func (r *REPL) activeSession(nameOrID string) (model.Session, error) {
	active := r.orch.Snapshot().Active
	if nameOrID == "" {
		for _, s := range active {
			if s.IsRunnable() {
				return s, nil
			}
		}
		return model.Session{}, orchestrator.ErrNoRunnableSessions
	}
	id := model.ResolveModelID(nameOrID)
	for _, s := range active {
		if s.ModelID == id {
			return s, nil
		}
	}
	return resolveSession(active, nameOrID)
}

func (r *REPL) resolveMessage(prefix string) (model.Message, error) {
	state := r.orch.Snapshot()
	found := make(map[string]model.Message)
	for _, s := range append(state.Active, state.Sessions...) {
		for _, m := range s.Messages {
			if strings.HasPrefix(m.ID, prefix) {
				found[m.ID] = m
			}
		}
	}
	if len(found) == 0 {
		return model.Message{}, orchestrator.ErrMessageNotFound
	}
	if len(found) > 1 {
		return model.Message{}, fmt.Errorf("message id %q is ambiguous", prefix)
	}
	for _, m := range found {
		return m, nil
	}
	return model.Message{}, orchestrator.ErrMessageNotFound
}

// resolveSession matches a full id or a unique id prefix.
func resolveSession(sessions []model.Session, prefix string) (model.Session, error) {
	var match *model.Session
	for i := range sessions {
		s := &sessions[i]
		if s.ID == prefix {
			return *s, nil
		}
		if !strings.HasPrefix(s.ID, prefix) {
			continue
		}
		if match != nil && match.ID != s.ID {
			return model.Session{}, fmt.Errorf("session id %q is ambiguous", prefix)
		}
		match = s
	}
	if match == nil {
		return model.Session{}, orchestrator.ErrSessionNotFound
	}
	return *match, nil
}

func lastMessage(s model.Session, role model.Role) (model.Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == role {
			return s.Messages[i], true
		}
	}
	return model.Message{}, false
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}
