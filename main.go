// multichat - Chat with up to three AI models side by side.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/jeranaias/multichat/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func init() {
	// A missing .env file is the normal case.
	_ = godotenv.Load()
}

func main() {
	cli.Version = fmt.Sprintf("%s (%s)", Version, GitCommit)

	// SIGTERM ends the process; Ctrl+C is left to the REPL.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.RenderStatus("error"), err)
		stop()
		os.Exit(1)
	}
}
