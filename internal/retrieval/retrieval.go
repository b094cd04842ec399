// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retrieval picks the prior messages most relevant to a new prompt.
//
// Each query builds a throwaway in-memory chromem collection from the
// session's own history, so nothing is shared between sessions or kept
// between calls.
package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/model"
)

// DefaultTopK is used when NewSelector gets a non-positive k.
const DefaultTopK = 6

// LocalDimensions is the vector width of LocalEmbedding.
const LocalDimensions = 1024

const addConcurrency = 4

// Selector ranks history by similarity to a query.
type Selector struct {
	embed  chromem.EmbeddingFunc
	topK   int
	logger *zap.Logger
}

// NewSelector returns a selector keeping at most topK messages.
func NewSelector(embed chromem.EmbeddingFunc, topK int, logger *zap.Logger) *Selector {
	if embed == nil {
		embed = LocalEmbedding(LocalDimensions)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{embed: embed, topK: topK, logger: logger}
}

// SelectRelevantHistory returns the subset of history most similar to
// query, in original order. Short histories and blank queries are returned
// whole.
func (s *Selector) SelectRelevantHistory(ctx context.Context, query string, history []model.Message) ([]model.Message, error) {
	if len(history) <= s.topK || strings.TrimSpace(query) == "" {
		return cloneAll(history), nil
	}

	db := chromem.NewDB()
	collection, err := db.CreateCollection("history", nil, s.embed)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	docs := make([]chromem.Document, 0, len(history))
	for i, msg := range history {
		text := strings.TrimSpace(msg.Content.String())
		if text == "" || msg.IsPlaceholder() {
			continue
		}
		docs = append(docs, chromem.Document{
			ID:       strconv.Itoa(i),
			Content:  text,
			Metadata: map[string]string{"role": string(msg.Role)},
		})
	}
	if len(docs) <= s.topK {
		return cloneAll(history), nil
	}
	if err := collection.AddDocuments(ctx, docs, addConcurrency); err != nil {
		return nil, fmt.Errorf("index history: %w", err)
	}

	k := s.topK
	if count := collection.Count(); k > count {
		k = count
	}
	results, err := collection.Query(ctx, query, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	indexes := make([]int, 0, len(results))
	for _, r := range results {
		i, err := strconv.Atoi(r.ID)
		if err != nil || i < 0 || i >= len(history) {
			continue
		}
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	out := make([]model.Message, 0, len(indexes))
	for _, i := range indexes {
		out = append(out, history[i].Clone())
	}
	s.logger.Debug("selected relevant history",
		zap.Int("history", len(history)),
		zap.Int("selected", len(out)))
	return out, nil
}

func cloneAll(history []model.Message) []model.Message {
	out := make([]model.Message, len(history))
	for i, m := range history {
		out[i] = m.Clone()
	}
	return out
}

// LocalEmbedding returns a hashed bag-of-words embedding. It needs no
// network and is deterministic, which is enough to rank a few dozen chat
// turns by shared vocabulary.
func LocalEmbedding(dims int) chromem.EmbeddingFunc {
	if dims <= 0 {
		dims = LocalDimensions
	}
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, dims)
		tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		for _, tok := range tokens {
			h := fnv.New32a()
			h.Write([]byte(tok))
			vec[h.Sum32()%uint32(dims)]++
		}
		if len(tokens) == 0 {
			vec[0] = 1
		}

		var sum float64
		for _, v := range vec {
			sum += float64(v) * float64(v)
		}
		norm := float32(math.Sqrt(sum))
		for i := range vec {
			vec[i] /= norm
		}
		return vec, nil
	}
}

// RemoteEmbedding calls an OpenAI-compatible embeddings endpoint. apiKey is
// read on every call so key changes apply without rebuilding the selector.
func RemoteEmbedding(baseURL, modelName string, apiKey func() string) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey(), modelName, nil)(ctx, text)
	}
}
