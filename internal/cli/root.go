// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/jeranaias/multichat/internal/config"
	"github.com/jeranaias/multichat/internal/export"
	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/orchestrator"
	"github.com/jeranaias/multichat/internal/server"
)

// Version is set at build time.
var Version = "dev"

// MetricsTokenEnv supplies the status server token when the flag is unset.
const MetricsTokenEnv = "MULTICHAT_METRICS_TOKEN"

type rootFlags struct {
	configPath string
}

// NewRootCommand builds the multichat command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "multichat",
		Short:         "Chat with up to three models side by side",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (default ~/.multichat/config.toml)")

	root.AddCommand(
		newChatCommand(flags),
		newSessionsCommand(flags),
		newStatsCommand(flags),
		newTemplatesCommand(flags),
		newConfigCommand(flags),
	)
	return root
}

func (f *rootFlags) load() (*config.Config, error) {
	return config.Load(f.configPath)
}

// =============================================================================
// CHAT
// =============================================================================

func newChatCommand(flags *rootFlags) *cobra.Command {
	var models []string
	var metricsAddr, metricsToken string
	var tui bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive multi-model chat",
		Example: `  multichat chat
  multichat chat -m sonnet -m 4o
  multichat chat --model openai/gpt-5-image
  multichat chat --tui -m sonnet -m 4o`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			app, err := Open(ctx, cfg, AppOptions{Models: models, Watch: true})
			if err != nil {
				return err
			}
			defer app.Close()

			if metricsAddr != "" {
				if metricsToken == "" {
					metricsToken = os.Getenv(MetricsTokenEnv)
				}
				stop, err := serveStatus(app, metricsAddr, metricsToken)
				if err != nil {
					return err
				}
				defer stop()
			}
			if tui {
				return RunTUI(ctx, app)
			}
			return NewREPL(app, cmd.OutOrStdout(), cmd.ErrOrStderr()).Run(ctx)
		},
	}
	cmd.Flags().StringSliceVarP(&models, "model", "m", nil, "model id or alias to open (repeatable, up to three)")
	cmd.Flags().BoolVar(&tui, "tui", false, "show one pane per session instead of the line REPL")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /health and /status on this address")
	cmd.Flags().StringVar(&metricsToken, "metrics-token", "", "bearer token required by the status server (default $"+MetricsTokenEnv+")")
	return cmd
}

// serveStatus exposes usage metrics and chat status until the returned func
// runs.
func serveStatus(app *App, addr, token string) (func(), error) {
	srv := server.New(server.Options{
		Addr:     addr,
		Token:    token,
		Version:  Version,
		Gatherer: app.Usage.Registry(),
		Status:   func() server.Status { return chatStatus(app.Orchestrator.Snapshot()) },
		Logger:   app.Logger,
	})
	if err := srv.Start(); err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func chatStatus(state orchestrator.State) server.Status {
	st := server.Status{
		Active:        make([]server.SessionStatus, 0, len(state.Active)),
		SavedSessions: len(state.Sessions),
		InFlight:      len(state.InFlight),
	}
	for _, s := range state.Active {
		st.Active = append(st.Active, server.SessionStatus{
			ID:        s.ID,
			Model:     s.ModelID,
			Messages:  len(s.Messages),
			Streaming: s.IsLoading,
			Error:     s.Error,
		})
	}
	return st
}

// =============================================================================
// SESSIONS
// =============================================================================

func newSessionsCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, delete or export saved sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			printSessionList(cmd.OutOrStdout(), app.Sessions.List(cmd.Context()), nil)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a saved session by id or unique prefix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			sessions := app.Sessions.Load(ctx)
			target, err := resolveSession(sessions, args[0])
			if err != nil {
				return err
			}
			kept := make([]model.Session, 0, len(sessions)-1)
			for _, s := range sessions {
				if s.ID != target.ID {
					kept = append(kept, s)
				}
			}
			app.Sessions.Save(ctx, kept)
			fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s\n", RenderStatus("ok"), shortID(target.ID))
			return nil
		},
	})

	cmd.AddCommand(newSessionsExportCommand(flags))
	return cmd
}

func newSessionsExportCommand(flags *rootFlags) *cobra.Command {
	var format, outDir string

	cmd := &cobra.Command{
		Use:   "export ID",
		Short: "Write a saved session to a Markdown or JSON file",
		Example: `  multichat sessions export 3f2a
  multichat sessions export 3f2a --format json --out .`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := export.New(format, nil)
			if err != nil {
				return err
			}
			app, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()

			target, err := resolveSession(app.Sessions.Load(cmd.Context()), args[0])
			if err != nil {
				return err
			}
			dir := outDir
			if dir == "" {
				dir = app.Config.Chat.ExportDir
			}
			path, err := export.ToFile(target, exporter, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Exported %s\n", RenderStatus("ok"), path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "md or json")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default from config chat.export_dir)")
	return cmd
}

// =============================================================================
// STATS, TEMPLATES
// =============================================================================

func newStatsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-model usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			printUsage(cmd.OutOrStdout(), app.Usage.Snapshot())
			return nil
		},
	}
}

func newTemplatesCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List prompt templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := openStore(cmd, flags)
			if err != nil {
				return err
			}
			defer app.Close()
			printTemplates(cmd.OutOrStdout(), app.Templates.List())
			return nil
		},
	}
}

func openStore(cmd *cobra.Command, flags *rootFlags) (*App, error) {
	cfg, err := flags.load()
	if err != nil {
		return nil, err
	}
	return OpenStore(cmd.Context(), cfg)
}

// =============================================================================
// CONFIG
// =============================================================================

func newConfigCommand(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or show the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := flags.configPath
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(config.Default(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Wrote %s\n", RenderStatus("ok"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
