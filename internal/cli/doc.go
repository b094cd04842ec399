// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides the interactive chat REPL and the wiring that
// assembles the orchestrator from configuration.
//
// # Key Types
//
//   - App: the opened stack (logger, storage, settings, usage, orchestrator)
//   - REPL: line-edited prompt loop with slash commands
//   - Printer: renders streamed and final replies to the terminal
//   - RunTUI: side-by-side panes, one per session (chat --tui)
//
// # Usage
//
//	app, err := cli.Open(ctx, cfg, cli.AppOptions{Models: models, Watch: true})
//	if err != nil {
//	    return err
//	}
//	defer app.Close()
//	return cli.NewREPL(app, os.Stdout, os.Stderr).Run(ctx)
//
// # Interactive Commands
//
//	/add MODEL          Add a model session (up to three)
//	/remove MODEL       Remove a model session
//	/new                Start fresh sessions for the selected models
//	/sessions           List saved sessions
//	/use ID             Focus a saved session
//	/delete ID          Delete a saved session
//	/export [ID] [FMT]  Save a conversation as md or json
//	/stop [MODEL]       Cancel in-flight replies
//	/regen [MODEL]      Regenerate the last reply
//	/template [ID TEXT] List templates or send one
//	/action KIND [ID]   Apply a quick action to a message
//	/settings [...]     Show or change settings
//	/quit               Exit
package cli
