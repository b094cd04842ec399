// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package notify delivers fire-and-forget user notifications.
//
// Notifiers never return errors and never panic into the caller; a failed
// delivery is logged and dropped.
package notify

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/term"
)

// Notifier delivers a short notification.
type Notifier interface {
	Notify(title, body string)
}

// Func adapts a function to Notifier.
type Func func(title, body string)

func (f Func) Notify(title, body string) { f(title, body) }

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string) {}

// Log writes notifications to a zap logger.
type Log struct {
	Logger *zap.Logger
}

func (l Log) Notify(title, body string) {
	if l.Logger != nil {
		l.Logger.Info("notification", zap.String("title", title), zap.String("body", body))
	}
}

// Terminal rings the bell and prints a one-line notice.
type Terminal struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTerminal returns a terminal notifier writing to w.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{w: w}
}

func (t *Terminal) Notify(title, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "\a[%s] %s\n", title, body)
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(title, body string) {
	for _, n := range m {
		n.Notify(title, body)
	}
}

// Gated forwards to Next only when the user enabled notifications and the
// runtime permits them. Nil checks count as true.
type Gated struct {
	Next      Notifier
	Enabled   func() bool
	Permitted func() bool
	Logger    *zap.Logger
}

func (g Gated) Notify(title, body string) {
	if g.Next == nil {
		return
	}
	if g.Enabled != nil && !g.Enabled() {
		return
	}
	if g.Permitted != nil && !g.Permitted() {
		return
	}

	defer func() {
		if r := recover(); r != nil && g.Logger != nil {
			g.Logger.Error("notifier panicked", zap.Any("panic", r))
		}
	}()
	g.Next.Notify(title, body)
}

// TerminalPermitted reports whether fd is an interactive terminal.
func TerminalPermitted(fd int) func() bool {
	return func() bool {
		return term.IsTerminal(fd)
	}
}
