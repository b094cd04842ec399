// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jeranaias/multichat/internal/storage"
)

func TestUsageTracker_Counts(t *testing.T) {
	tracker := NewUsageTracker(nil, nil)

	tracker.RecordConversation("m1")
	tracker.RecordMessage("m1", "user")
	tracker.RecordMessage("m1", "assistant")
	tracker.RecordMessage("m2", "user")
	tracker.RecordResponseTime("m1", 1000*time.Millisecond)
	tracker.RecordResponseTime("m1", 3000*time.Millisecond)

	snap := tracker.Snapshot()
	m1 := snap.Models["m1"]
	if m1 == nil {
		t.Fatal("no usage for m1")
	}
	if m1.Conversations != 1 || m1.UserMessages != 1 || m1.AssistantMessages != 1 {
		t.Errorf("unexpected m1 usage %+v", m1)
	}
	if m1.AverageResponse() != 2*time.Second {
		t.Errorf("AverageResponse = %v", m1.AverageResponse())
	}

	sorted := snap.Sorted()
	if len(sorted) != 2 || sorted[0].ModelID != "m1" {
		t.Errorf("Sorted = %+v", sorted)
	}

	if got := testutil.ToFloat64(tracker.messages.WithLabelValues("m1", "user")); got != 1 {
		t.Errorf("messages_total{m1,user} = %v", got)
	}
	if got := testutil.ToFloat64(tracker.conversations.WithLabelValues("m1")); got != 1 {
		t.Errorf("conversations_total{m1} = %v", got)
	}
	if n := testutil.CollectAndCount(tracker.latency); n != 1 {
		t.Errorf("latency series = %d, want 1", n)
	}
}

func TestUsageTracker_SnapshotIsCopy(t *testing.T) {
	tracker := NewUsageTracker(nil, nil)
	tracker.RecordMessage("m1", "user")

	snap := tracker.Snapshot()
	snap.Models["m1"].UserMessages = 99

	if tracker.Snapshot().Models["m1"].UserMessages != 1 {
		t.Error("Snapshot shares state with tracker")
	}
}

func TestUsageTracker_PersistRoundTrip(t *testing.T) {
	kv, err := storage.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tracker := NewUsageTracker(kv, nil)
	tracker.RecordConversation("m1")
	tracker.RecordMessage("m1", "user")
	tracker.RecordResponseTime("m1", 1500*time.Millisecond)
	tracker.Flush(ctx)

	reloaded := NewUsageTracker(kv, nil)
	reloaded.Load(ctx)
	m1 := reloaded.Snapshot().Models["m1"]
	if m1 == nil || m1.Conversations != 1 || m1.UserMessages != 1 || m1.TotalResponseMs != 1500 {
		t.Errorf("reloaded usage = %+v", m1)
	}
}

func TestUsageTracker_CorruptStatsIgnored(t *testing.T) {
	kv, err := storage.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := kv.Set(ctx, storage.KeyUsage, []byte("not json")); err != nil {
		t.Fatal(err)
	}

	tracker := NewUsageTracker(kv, nil)
	tracker.Load(ctx)
	if len(tracker.Snapshot().Models) != 0 {
		t.Error("corrupt stats should be ignored")
	}
}

func TestUsageTracker_Concurrent(t *testing.T) {
	tracker := NewUsageTracker(nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordMessage("m1", "assistant")
			tracker.RecordResponseTime("m1", time.Millisecond)
			_ = tracker.Snapshot()
		}()
	}
	wg.Wait()

	if got := tracker.Snapshot().Models["m1"].AssistantMessages; got != 50 {
		t.Errorf("AssistantMessages = %d, want 50", got)
	}
}

func TestUsageTracker_ConcurrentFlushKeepsLatest(t *testing.T) {
	kv, err := storage.NewFileKV(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	tracker := NewUsageTracker(kv, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.RecordMessage("m1", "user")
			tracker.Flush(ctx)
		}()
	}
	wg.Wait()
	tracker.Flush(ctx)

	reloaded := NewUsageTracker(kv, nil)
	reloaded.Load(ctx)
	m1 := reloaded.Snapshot().Models["m1"]
	if m1 == nil || m1.UserMessages != 50 {
		t.Errorf("persisted usage = %+v, want 50 user messages", m1)
	}
}
