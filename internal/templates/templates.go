// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package templates supplies canned prompts and quick actions.
//
// A template renders to a single string payload; the orchestrator sends it
// like any typed message. User templates are read from a YAML file and
// override built-ins with the same id.
package templates

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template is a reusable prompt. System and Prompt may reference {{.Input}}.
type Template struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Category    string `yaml:"category,omitempty"`
	Description string `yaml:"description,omitempty"`
	System      string `yaml:"system,omitempty"`
	Prompt      string `yaml:"prompt"`
}

type renderData struct {
	Input string
}

// Render fills the template with input. When the prompt does not reference
// the input, non-empty input is appended after a blank line.
func (t Template) Render(input string) (string, error) {
	input = strings.TrimSpace(input)

	system, err := execute(t.ID+".system", t.System, input)
	if err != nil {
		return "", err
	}
	prompt, err := execute(t.ID+".prompt", t.Prompt, input)
	if err != nil {
		return "", err
	}
	if input != "" && !strings.Contains(t.Prompt, ".Input") {
		prompt = strings.TrimRight(prompt, "\n") + "\n\n" + input
	}

	var parts []string
	if s := strings.TrimSpace(system); s != "" {
		parts = append(parts, s)
	}
	if p := strings.TrimSpace(prompt); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(parts, "\n\n"), nil
}

func execute(name, text, input string) (string, error) {
	if text == "" {
		return "", nil
	}
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", name, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, renderData{Input: input}); err != nil {
		return "", fmt.Errorf("render template %s: %w", name, err)
	}
	return sb.String(), nil
}

// Validate checks required fields and template syntax.
func (t Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("template id is required")
	}
	if strings.TrimSpace(t.Prompt) == "" {
		return fmt.Errorf("template %s: prompt is required", t.ID)
	}
	if _, err := t.Render("x"); err != nil {
		return err
	}
	return nil
}

// File is the on-disk layout of the user template file.
type File struct {
	Templates []Template `yaml:"templates"`
}

// LoadFile reads user templates from path. A missing file yields no
// templates and no error.
func LoadFile(path string) ([]Template, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse template file: %w", err)
	}

	var errs []error
	for _, t := range f.Templates {
		if err := t.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return f.Templates, nil
}

// Library indexes templates by id.
type Library struct {
	byID map[string]Template
}

// NewLibrary returns the built-ins overlaid with user templates.
func NewLibrary(user ...Template) *Library {
	l := &Library{byID: make(map[string]Template)}
	for _, t := range BuiltIn() {
		l.byID[t.ID] = t
	}
	for _, t := range user {
		if t.Name == "" {
			t.Name = t.ID
		}
		l.byID[t.ID] = t
	}
	return l
}

// Get returns the template with id.
func (l *Library) Get(id string) (Template, bool) {
	t, ok := l.byID[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		t, ok = l.byID[id]
	}
	return t, ok
}

// List returns all templates sorted by category then name.
func (l *Library) List() []Template {
	out := make([]Template, 0, len(l.byID))
	for _, t := range l.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// BuiltIn returns the bundled templates.
func BuiltIn() []Template {
	return []Template{
		{
			ID:       "code-review",
			Name:     "Code review",
			Category: "coding",
			System:   "You are a senior engineer reviewing code for correctness, clarity and security.",
			Prompt:   "Review the following code. List concrete problems first, then suggestions.\n\n{{.Input}}",
		},
		{
			ID:       "explain-code",
			Name:     "Explain code",
			Category: "coding",
			Prompt:   "Explain what this code does, step by step:\n\n{{.Input}}",
		},
		{
			ID:       "summarize",
			Name:     "Summarize",
			Category: "writing",
			Prompt:   "Summarize the following text in a few bullet points:\n\n{{.Input}}",
		},
		{
			ID:       "email",
			Name:     "Draft an email",
			Category: "writing",
			System:   "You write clear, polite, concise emails.",
			Prompt:   "Draft an email about: {{.Input}}",
		},
		{
			ID:       "brainstorm",
			Name:     "Brainstorm",
			Category: "ideas",
			Prompt:   "Give me ten distinct ideas for: {{.Input}}",
		},
		{
			ID:       "compare",
			Name:     "Compare options",
			Category: "ideas",
			Prompt:   "Compare these options in a table with pros and cons, then recommend one:\n\n{{.Input}}",
		},
	}
}
