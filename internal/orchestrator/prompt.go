// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// DefaultSystemPrompt follows a tone tag when no prompt is configured.
const DefaultSystemPrompt = "You are a helpful assistant."

// EffectiveSystemPrompt combines the configured prompt and tone. Neither set
// yields "", meaning no system message is sent.
func EffectiveSystemPrompt(systemPrompt, tone string) string {
	systemPrompt = strings.TrimSpace(systemPrompt)
	tone = strings.TrimSpace(tone)

	switch {
	case tone == "":
		return systemPrompt
	case systemPrompt == "":
		return "[Tone: " + tone + "] " + DefaultSystemPrompt
	default:
		return "[Tone: " + tone + "] " + systemPrompt
	}
}

// ImageClassifier decides whether a prompt asks for an image.
type ImageClassifier interface {
	IsImageRequest(text string) bool
}

// ClassifierFunc adapts a function to ImageClassifier.
type ClassifierFunc func(text string) bool

func (f ClassifierFunc) IsImageRequest(text string) bool { return f(text) }

// KeywordClassifier matches whole-word phrases after NFKC folding,
// lowercasing and punctuation stripping.
type KeywordClassifier struct {
	Phrases []string
}

// DefaultImagePhrases is the built-in image request vocabulary.
var DefaultImagePhrases = []string{
	"generate an image",
	"generate image",
	"create an image",
	"create image",
	"make an image",
	"draw a",
	"draw an",
	"draw me",
	"paint a",
	"paint me",
	"sketch of",
	"illustrate",
	"illustration of",
	"picture of",
	"image of",
	"photo of",
	"render an image",
	"generate a picture",
	"create a picture",
	"logo for",
	"wallpaper",
}

// NewKeywordClassifier returns a classifier over DefaultImagePhrases.
func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{Phrases: DefaultImagePhrases}
}

func (k KeywordClassifier) IsImageRequest(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(norm.NFKC.String(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	folded := " " + strings.Join(words, " ") + " "
	for _, p := range k.Phrases {
		if strings.Contains(folded, " "+p+" ") {
			return true
		}
	}
	return false
}
