// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"sort"
	"strings"
)

// =============================================================================
// MODEL INFO TYPE
// =============================================================================

// ModelInfo describes a model known to the catalog.
type ModelInfo struct {
	// ID is the OpenRouter model identifier used in API calls.
	ID string `json:"id"`

	// Name is the human-readable display name.
	Name string `json:"name"`

	// Provider is the upstream vendor.
	Provider string `json:"provider"`

	// Alias is a short name accepted by the REPL.
	Alias string `json:"alias,omitempty"`
}

// =============================================================================
// MODEL CATALOG
// =============================================================================

// Catalog lists well-known OpenRouter models. Any other model id is still
// accepted; the catalog only supplies display names and aliases.
var Catalog = []ModelInfo{
	{ID: "openai/gpt-4o-mini", Name: "GPT-4o mini", Provider: "OpenAI", Alias: "4o-mini"},
	{ID: "openai/gpt-4o", Name: "GPT-4o", Provider: "OpenAI", Alias: "4o"},
	{ID: "openai/gpt-5-image", Name: "GPT-5 Image", Provider: "OpenAI", Alias: "gpt5-image"},
	{ID: "openai/gpt-5-image-mini", Name: "GPT-5 Image mini", Provider: "OpenAI", Alias: "gpt5-image-mini"},
	{ID: "anthropic/claude-3.5-sonnet", Name: "Claude 3.5 Sonnet", Provider: "Anthropic", Alias: "sonnet"},
	{ID: "anthropic/claude-3-haiku", Name: "Claude 3 Haiku", Provider: "Anthropic", Alias: "haiku"},
	{ID: "google/gemini-2.0-flash-001", Name: "Gemini 2.0 Flash", Provider: "Google", Alias: "flash"},
	{ID: "google/gemini-2.5-flash-image-preview", Name: "Gemini 2.5 Flash Image", Provider: "Google", Alias: "nano-banana"},
	{ID: "meta-llama/llama-3.3-70b-instruct", Name: "Llama 3.3 70B", Provider: "Meta", Alias: "llama"},
	{ID: "mistralai/mistral-small-3.1-24b-instruct", Name: "Mistral Small 3.1", Provider: "Mistral", Alias: "mistral"},
	{ID: "deepseek/deepseek-chat", Name: "DeepSeek V3", Provider: "DeepSeek", Alias: "deepseek"},
}

// PendingPrefix marks a session slot that has no model yet.
const PendingPrefix = "pending-"

// DefaultPendingModel is the binding of the startup session when no model has
// been chosen in settings.
const DefaultPendingModel = PendingPrefix + "default"

// IsPending reports whether modelID is an unbound placeholder.
func IsPending(modelID string) bool {
	return modelID == "" || strings.HasPrefix(modelID, PendingPrefix)
}

// LookupModel finds a catalog entry by id or alias.
func LookupModel(nameOrID string) (ModelInfo, bool) {
	for _, m := range Catalog {
		if m.ID == nameOrID || (m.Alias != "" && m.Alias == nameOrID) {
			return m, true
		}
	}
	return ModelInfo{}, false
}

// ResolveModelID maps an alias to its id. Unknown names are returned as-is.
func ResolveModelID(nameOrID string) string {
	if m, ok := LookupModel(nameOrID); ok {
		return m.ID
	}
	return nameOrID
}

// DisplayName returns a human-readable name for a model id.
func DisplayName(modelID string) string {
	if IsPending(modelID) {
		return "Select a model"
	}
	if m, ok := LookupModel(modelID); ok {
		return m.Name
	}
	if i := strings.LastIndex(modelID, "/"); i >= 0 && i < len(modelID)-1 {
		return modelID[i+1:]
	}
	return modelID
}

// Aliases returns the sorted list of catalog aliases.
func Aliases() []string {
	out := make([]string, 0, len(Catalog))
	for _, m := range Catalog {
		if m.Alias != "" {
			out = append(out, m.Alias)
		}
	}
	sort.Strings(out)
	return out
}
