// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/jeranaias/multichat/internal/model"
	"github.com/jeranaias/multichat/internal/settings"
	"github.com/jeranaias/multichat/internal/storage"
	"github.com/jeranaias/multichat/internal/telemetry"
	"github.com/jeranaias/multichat/internal/templates"
	"github.com/jeranaias/multichat/internal/util"
)

func printTemplates(w io.Writer, list []templates.Template) {
	category := ""
	for _, t := range list {
		if t.Category != category {
			category = t.Category
			fmt.Fprintln(w, TitleStyle.Render(category))
		}
		fmt.Fprintf(w, "  %s %s\n", SuccessStyle.Render(fmt.Sprintf("%-16s", t.ID)), t.Name)
		if t.Description != "" {
			fmt.Fprintf(w, "  %-16s %s\n", "", DimStyle.Render(t.Description))
		}
	}
}

func printSettings(w io.Writer, s settings.Settings) {
	row := func(label, value string) {
		fmt.Fprintf(w, "%s %s\n", RenderLabel(label), ValueStyle.Render(value))
	}
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	orNone := func(v string) string {
		if v == "" {
			return "(none)"
		}
		return v
	}

	row("API key:", s.MaskedKey())
	row("Model:", model.DisplayName(s.SelectedModel))
	row("Tone:", orNone(s.Tone))
	row("System prompt:", orNone(util.TruncateRunes(util.SingleLine(s.SystemPrompt), 60)))
	row("RAG:", onOff(s.RAGEnabled))
	row("Notifications:", onOff(s.NotificationsEnabled))
}

func printUsage(w io.Writer, stats telemetry.UsageStats) {
	rows := stats.Sorted()
	if len(rows) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No usage recorded yet."))
		return
	}
	fmt.Fprintf(w, "%s %s\n", DimStyle.Render("Since"), stats.Since.Format(time.DateOnly))
	fmt.Fprintf(w, "%-32s %6s %6s %6s %10s\n", "MODEL", "CONV", "SENT", "RECV", "AVG")
	for _, m := range rows {
		fmt.Fprintf(w, "%-32s %6d %6d %6d %10s\n",
			util.TruncateRunes(m.ModelID, 32),
			m.Conversations,
			m.UserMessages,
			m.AssistantMessages,
			m.AverageResponse().Round(10*time.Millisecond))
	}
}

// printSessionList marks sessions in active with a star.
func printSessionList(w io.Writer, metas []storage.SessionMeta, active map[string]bool) {
	if len(metas) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No saved sessions."))
		return
	}
	for _, m := range metas {
		mark := " "
		if active[m.ID] {
			mark = "*"
		}
		fmt.Fprintf(w, "%s %s  %-20s %3d msgs  %s  %s\n",
			mark,
			InfoStyle.Render(shortID(m.ID)),
			m.ModelName,
			m.MessageCount,
			DimStyle.Render(m.UpdatedAt.Format(time.DateTime)),
			m.Preview)
	}
}
