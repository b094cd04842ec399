// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package templates

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name  string
		tmpl  Template
		input string
		want  string
	}{
		{
			name:  "prompt with input",
			tmpl:  Template{ID: "a", Prompt: "Summarize: {{.Input}}"},
			input: "  long text ",
			want:  "Summarize: long text",
		},
		{
			name:  "system and prompt",
			tmpl:  Template{ID: "b", System: "Be terse.", Prompt: "Q: {{.Input}}"},
			input: "why",
			want:  "Be terse.\n\nQ: why",
		},
		{
			name:  "input appended when unreferenced",
			tmpl:  Template{ID: "c", Prompt: "Tell me a joke."},
			input: "about cats",
			want:  "Tell me a joke.\n\nabout cats",
		},
		{
			name: "no input",
			tmpl: Template{ID: "d", Prompt: "Tell me a joke."},
			want: "Tell me a joke.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.tmpl.Render(tc.input)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestRender_BadSyntax(t *testing.T) {
	_, err := Template{ID: "x", Prompt: "{{.Input"}.Render("a")
	require.Error(t, err)

	_, err = Template{ID: "y", Prompt: "{{.Missing}}"}.Render("a")
	require.Error(t, err)
}

func TestBuiltInsValid(t *testing.T) {
	seen := map[string]bool{}
	for _, tmpl := range BuiltIn() {
		require.NoError(t, tmpl.Validate(), tmpl.ID)
		require.False(t, seen[tmpl.ID], "duplicate id %s", tmpl.ID)
		seen[tmpl.ID] = true
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	got, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Nil(t, got)

	path := filepath.Join(dir, "templates.yaml")
	content := `templates:
  - id: summarize
    name: Short summary
    prompt: "TL;DR: {{.Input}}"
  - id: haiku
    prompt: "Write a haiku about {{.Input}}"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	user, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, user, 2)

	lib := NewLibrary(user...)
	summarize, ok := lib.Get("summarize")
	require.True(t, ok)
	require.Equal(t, "Short summary", summarize.Name)

	haiku, ok := lib.Get("haiku")
	require.True(t, ok)
	require.Equal(t, "haiku", haiku.Name)

	require.Len(t, lib.List(), len(BuiltIn())+1)
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte("templates:\n  - name: no id\n"), 0600))

	_, err := LoadFile(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "id is required")
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		in   string
		want Action
		err  bool
	}{
		{in: "explain", want: Action{Kind: ActionExplain}},
		{in: "Summarize", want: Action{Kind: ActionSummarize}},
		{in: "translate", want: Action{Kind: ActionTranslate, Arg: DefaultLanguage}},
		{in: "translate: French", want: Action{Kind: ActionTranslate, Arg: "French"}},
		{in: "dance", err: true},
	}
	for _, tc := range tests {
		got, err := ParseAction(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestActionPrompt(t *testing.T) {
	a := Action{Kind: ActionTranslate, Arg: "German"}
	p := a.Prompt(" hello ")
	require.True(t, strings.HasPrefix(p, "Translate the following into German"))
	require.True(t, strings.HasSuffix(p, "hello"))
	require.Equal(t, "translate:German", a.String())
}
