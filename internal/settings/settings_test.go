// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/multichat/internal/storage"
)

func newFileStore(t *testing.T) (*Store, *storage.FileKV) {
	t.Helper()
	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	return NewStore(context.Background(), kv, nil), kv
}

func TestNewStore_Defaults(t *testing.T) {
	s, _ := newFileStore(t)
	require.Equal(t, Default(), s.Get())
	require.False(t, s.Get().HasAPIKey())
}

func TestNewStore_CorruptDataUsesDefaults(t *testing.T) {
	kv, err := storage.NewFileKV(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, kv.Set(context.Background(), storage.KeySettings, []byte("{not json")))

	s := NewStore(context.Background(), kv, nil)
	require.Equal(t, Default(), s.Get())
}

func TestUpdate_PersistsAndNotifies(t *testing.T) {
	ctx := context.Background()
	s, kv := newFileStore(t)

	var calls []Settings
	unsubscribe := s.Subscribe(func(old, updated Settings) {
		require.Equal(t, "", old.SelectedModel)
		calls = append(calls, updated)
	})

	updated, err := s.Update(ctx, func(v *Settings) {
		v.SelectedModel = "openai/gpt-4o"
		v.Tone = "friendly"
	})
	require.NoError(t, err)
	require.Equal(t, "openai/gpt-4o", updated.SelectedModel)
	require.Len(t, calls, 1)

	reopened := NewStore(ctx, kv, nil)
	require.Equal(t, "friendly", reopened.Get().Tone)

	unsubscribe()
	_, err = s.Update(ctx, func(v *Settings) { v.Tone = "formal" })
	require.NoError(t, err)
	require.Len(t, calls, 1, "unsubscribed callback must not fire")
}

func TestUpdate_NoChangeNoNotify(t *testing.T) {
	s, _ := newFileStore(t)
	fired := false
	s.Subscribe(func(Settings, Settings) { fired = true })

	_, err := s.Update(context.Background(), func(*Settings) {})
	require.NoError(t, err)
	require.False(t, fired)
}

func TestFallbackAPIKey(t *testing.T) {
	ctx := context.Background()
	s, kv := newFileStore(t)
	s.SetFallbackAPIKey("sk-env")
	require.Equal(t, "sk-env", s.Get().APIKey)

	_, err := s.Update(ctx, func(v *Settings) { v.Tone = "calm" })
	require.NoError(t, err)

	data, err := kv.Get(ctx, storage.KeySettings)
	require.NoError(t, err)
	require.NotContains(t, string(data), "sk-env")

	_, err = s.Update(ctx, func(v *Settings) { v.APIKey = "sk-stored" })
	require.NoError(t, err)
	require.Equal(t, "sk-stored", s.Get().APIKey)
}

func TestMaskedKey(t *testing.T) {
	require.Equal(t, "(not set)", Settings{}.MaskedKey())
	require.Equal(t, "*****", Settings{APIKey: "short"}.MaskedKey())
	require.Equal(t, "sk-o********6789", Settings{APIKey: "sk-or-v1-abcdef6789"}.MaskedKey())
}

func TestReload_ExternalChange(t *testing.T) {
	ctx := context.Background()
	s, kv := newFileStore(t)

	other := NewStore(ctx, kv, nil)
	_, err := other.Update(ctx, func(v *Settings) { v.RAGEnabled = true })
	require.NoError(t, err)

	var got Settings
	s.Subscribe(func(_, updated Settings) { got = updated })
	require.NoError(t, s.Reload(ctx))
	require.True(t, got.RAGEnabled)
	require.True(t, s.Get().RAGEnabled)
}

func TestWatch_ReloadsOnFileWrite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, kv := newFileStore(t)

	var mu sync.Mutex
	var seen string
	s.Subscribe(func(_, updated Settings) {
		mu.Lock()
		seen = updated.SelectedModel
		mu.Unlock()
	})

	require.NoError(t, s.Watch(ctx, kv.Path(storage.KeySettings), 10*time.Millisecond))

	data := []byte(`{"selectedModel":"anthropic/claude-3.5-sonnet","notificationsEnabled":true}`)
	require.NoError(t, os.WriteFile(kv.Path(storage.KeySettings), data, 0600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen == "anthropic/claude-3.5-sonnet"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestUpdate_ConcurrentWritesKeepLatest(t *testing.T) {
	ctx := context.Background()
	s, kv := newFileStore(t)

	for i := 0; i < 200; i++ {
		var wg sync.WaitGroup
		for _, tone := range []string{"A", "B"} {
			wg.Add(1)
			go func(tone string) {
				defer wg.Done()
				_, err := s.Update(ctx, func(v *Settings) { v.Tone = tone })
				require.NoError(t, err)
			}(tone)
		}
		wg.Wait()

		stored := NewStore(ctx, kv, nil).Get().Tone
		require.Equal(t, s.Get().Tone, stored, "round %d", i)
	}
}
