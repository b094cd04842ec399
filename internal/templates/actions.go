// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package templates

import (
	"fmt"
	"strings"
)

// ActionKind names a quick action applied to an existing message.
type ActionKind string

const (
	ActionExplain   ActionKind = "explain"
	ActionSummarize ActionKind = "summarize"
	ActionTranslate ActionKind = "translate"
	ActionImprove   ActionKind = "improve"
	ActionContinue  ActionKind = "continue"
)

// DefaultLanguage is the translate target when none is given.
const DefaultLanguage = "English"

// Action is a parsed quick action such as "translate:French".
type Action struct {
	Kind ActionKind
	Arg  string
}

// ParseAction parses "kind" or "kind:arg".
func ParseAction(s string) (Action, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(s), ":")
	kind := ActionKind(strings.ToLower(strings.TrimSpace(name)))
	arg = strings.TrimSpace(arg)

	switch kind {
	case ActionExplain, ActionSummarize, ActionImprove, ActionContinue:
		return Action{Kind: kind}, nil
	case ActionTranslate:
		if arg == "" {
			arg = DefaultLanguage
		}
		return Action{Kind: kind, Arg: arg}, nil
	default:
		return Action{}, fmt.Errorf("unknown action %q (want one of: %s)", name, strings.Join(ActionNames(), ", "))
	}
}

// ActionNames lists the supported action kinds.
func ActionNames() []string {
	return []string{
		string(ActionExplain),
		string(ActionSummarize),
		"translate[:lang]",
		string(ActionImprove),
		string(ActionContinue),
	}
}

// Prompt builds the message sent for the action applied to text.
func (a Action) Prompt(text string) string {
	text = strings.TrimSpace(text)
	switch a.Kind {
	case ActionExplain:
		return "Explain the following in simpler terms:\n\n" + text
	case ActionSummarize:
		return "Summarize the following concisely:\n\n" + text
	case ActionTranslate:
		return fmt.Sprintf("Translate the following into %s:\n\n%s", a.Arg, text)
	case ActionImprove:
		return "Improve the following response. Make it clearer, more accurate and better organized:\n\n" + text
	case ActionContinue:
		return "Continue from where this left off:\n\n" + text
	default:
		return text
	}
}

func (a Action) String() string {
	if a.Arg != "" {
		return string(a.Kind) + ":" + a.Arg
	}
	return string(a.Kind)
}
