// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("MULTICHAT_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := Default()
	if cfg.Cloud.BaseURL != d.Cloud.BaseURL || cfg.Storage.Backend != "file" || cfg.Chat.RAGTopK != d.Chat.RAGTopK {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoad_FileAndDefaultsMerge(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MULTICHAT_HOME", dir)
	path := filepath.Join(dir, "config.toml")
	content := `
[cloud]
base_url = "http://localhost:8080/v1"
requests_per_second = 2.5

[storage]
backend = "sqlite"

[chat]
rag_top_k = 3
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Cloud.BaseURL != "http://localhost:8080/v1" || cfg.Cloud.RequestsPerSecond != 2.5 {
		t.Errorf("cloud = %+v", cfg.Cloud)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLitePath == "" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Chat.RAGTopK != 3 || cfg.Chat.ImageSize == "" {
		t.Errorf("chat = %+v", cfg.Chat)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MULTICHAT_HOME", t.TempDir())
	t.Setenv("MULTICHAT_STORAGE", "redis")
	t.Setenv("MULTICHAT_REDIS_URL", "redis://localhost:6379/2")
	t.Setenv("MULTICHAT_LOG_FILE", "-")
	t.Setenv("MULTICHAT_RPS", "4")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Backend != "redis" || cfg.Storage.RedisURL != "redis://localhost:6379/2" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Logging.File != "" {
		t.Errorf("log file should be disabled, got %q", cfg.Logging.File)
	}
	if cfg.Cloud.RequestsPerSecond != 4 {
		t.Errorf("rps = %v", cfg.Cloud.RequestsPerSecond)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[cloud\nbase_url="), 0600)

	if _, err := Load(path); err == nil {
		t.Error("expected decode error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Cloud.BaseURL = "not a url" }, "cloud.base_url"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage.backend"},
		{"redis without url", func(c *Config) { c.Storage.Backend = "redis" }, "storage.redis_url"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"retries", func(c *Config) { c.Chat.ImageMaxRetries = 9 }, "chat.image_max_retries"},
		{"top k", func(c *Config) { c.Chat.RAGTopK = 0 }, "chat.rag_top_k"},
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()

			var verrs ValidateErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("err = %v, want ValidateErrors", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tc.field, verrs)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MULTICHAT_HOME", dir)
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	cfg.Cloud.SiteName = "saved"
	cfg.Storage.Backend = "sqlite"
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("permissions = %o, want 600", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Cloud.SiteName != "saved" || loaded.Storage.Backend != "sqlite" {
		t.Errorf("reloaded = %+v", loaded)
	}
}

func TestStorageOptions(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "redis"
	cfg.Storage.RedisURL = "redis://x"
	opts := cfg.StorageOptions()
	if opts.Backend != "redis" || opts.RedisURL != "redis://x" || opts.Dir != cfg.Storage.Dir {
		t.Errorf("StorageOptions = %+v", opts)
	}
}
