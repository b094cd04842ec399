// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/jeranaias/multichat/internal/storage"
)

// =============================================================================
// USAGE TYPES
// =============================================================================

// ModelUsage aggregates activity for one model.
type ModelUsage struct {
	ModelID           string    `json:"modelId"`
	UserMessages      int       `json:"userMessages"`
	AssistantMessages int       `json:"assistantMessages"`
	Conversations     int       `json:"conversations"`
	Responses         int       `json:"responses"`
	TotalResponseMs   int64     `json:"totalResponseMs"`
	LastUsed          time.Time `json:"lastUsed"`
}

// AverageResponse returns the mean recorded latency.
func (m ModelUsage) AverageResponse() time.Duration {
	if m.Responses == 0 {
		return 0
	}
	return time.Duration(m.TotalResponseMs/int64(m.Responses)) * time.Millisecond
}

// Messages returns the total message count.
func (m ModelUsage) Messages() int {
	return m.UserMessages + m.AssistantMessages
}

// UsageStats is the persisted aggregate.
type UsageStats struct {
	Since  time.Time              `json:"since"`
	Models map[string]*ModelUsage `json:"models"`
}

// Sorted returns per-model usage, most messages first.
func (u UsageStats) Sorted() []ModelUsage {
	out := make([]ModelUsage, 0, len(u.Models))
	for _, m := range u.Models {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Messages() != out[j].Messages() {
			return out[i].Messages() > out[j].Messages()
		}
		return out[i].ModelID < out[j].ModelID
	})
	return out
}

// =============================================================================
// USAGE TRACKER
// =============================================================================

// UsageTracker records usage. All methods are safe for concurrent use.
type UsageTracker struct {
	mu    sync.RWMutex
	stats UsageStats
	dirty bool

	kv     storage.KV
	logger *zap.Logger

	// flushMu spans snapshot and write so an older snapshot never lands
	// after a newer one.
	flushMu sync.Mutex

	registry      *prometheus.Registry
	messages      *prometheus.CounterVec
	conversations *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

// NewUsageTracker creates a tracker persisting to kv. A nil kv keeps
// statistics in memory only.
func NewUsageTracker(kv storage.KV, logger *zap.Logger) *UsageTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &UsageTracker{
		stats:    UsageStats{Since: time.Now(), Models: make(map[string]*ModelUsage)},
		kv:       kv,
		logger:   logger.Named("telemetry"),
		registry: reg,
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multichat",
			Name:      "messages_total",
			Help:      "Chat messages recorded per model and role.",
		}, []string{"model", "role"}),
		conversations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multichat",
			Name:      "conversations_total",
			Help:      "Conversations started per model.",
		}, []string{"model"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multichat",
			Name:      "response_seconds",
			Help:      "Time from dispatch to final reply per model.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}, []string{"model"}),
	}
}

// Registry exposes the metrics registry.
func (t *UsageTracker) Registry() *prometheus.Registry {
	return t.registry
}

// usageFor returns the entry for modelID, creating it. Caller holds mu.
func (t *UsageTracker) usageFor(modelID string) *ModelUsage {
	u, ok := t.stats.Models[modelID]
	if !ok {
		u = &ModelUsage{ModelID: modelID}
		t.stats.Models[modelID] = u
	}
	u.LastUsed = time.Now()
	t.dirty = true
	return u
}

// RecordConversation counts a new conversation for modelID.
func (t *UsageTracker) RecordConversation(modelID string) {
	t.conversations.WithLabelValues(modelID).Inc()

	t.mu.Lock()
	t.usageFor(modelID).Conversations++
	t.mu.Unlock()
}

// RecordMessage counts one message of the given role for modelID.
func (t *UsageTracker) RecordMessage(modelID, role string) {
	t.messages.WithLabelValues(modelID, role).Inc()

	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.usageFor(modelID)
	if role == "user" {
		u.UserMessages++
	} else {
		u.AssistantMessages++
	}
}

// RecordResponseTime records the latency of one completed reply.
func (t *UsageTracker) RecordResponseTime(modelID string, d time.Duration) {
	t.latency.WithLabelValues(modelID).Observe(d.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.usageFor(modelID)
	u.Responses++
	u.TotalResponseMs += d.Milliseconds()
}

// Snapshot returns a deep copy of the aggregate.
func (t *UsageTracker) Snapshot() UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := UsageStats{Since: t.stats.Since, Models: make(map[string]*ModelUsage, len(t.stats.Models))}
	for id, u := range t.stats.Models {
		c := *u
		out.Models[id] = &c
	}
	return out
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Load replaces the in-memory aggregate with the persisted one. Unreadable
// data is logged and ignored.
func (t *UsageTracker) Load(ctx context.Context) {
	if t.kv == nil {
		return
	}
	data, err := t.kv.Get(ctx, storage.KeyUsage)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		t.logger.Warn("failed to read usage stats", zap.Error(err))
		return
	}

	var stats UsageStats
	if err := json.Unmarshal(data, &stats); err != nil {
		t.logger.Warn("discarding corrupt usage stats", zap.Error(err))
		return
	}
	if stats.Models == nil {
		stats.Models = make(map[string]*ModelUsage)
	}
	for id, u := range stats.Models {
		if u == nil {
			delete(stats.Models, id)
			continue
		}
		u.ModelID = id
	}

	t.mu.Lock()
	t.stats = stats
	t.dirty = false
	t.mu.Unlock()
}

// Flush persists the aggregate if it changed since the last flush. Write
// failures are logged.
func (t *UsageTracker) Flush(ctx context.Context) {
	if t.kv == nil {
		return
	}

	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	data, err := json.Marshal(t.stats)
	t.dirty = false
	t.mu.Unlock()

	if err == nil {
		err = t.kv.Set(ctx, storage.KeyUsage, data)
	}
	if err != nil {
		t.logger.Warn("failed to save usage stats", zap.Error(err))
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}
