// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/multichat/internal/storage"
	"github.com/jeranaias/multichat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete application configuration.
type Config struct {
	Cloud     CloudConfig     `toml:"cloud"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Chat      ChatConfig      `toml:"chat"`
	Templates TemplatesConfig `toml:"templates"`
}

// CloudConfig configures the completion gateway.
type CloudConfig struct {
	BaseURL           string  `toml:"base_url"`
	SiteURL           string  `toml:"site_url"`
	SiteName          string  `toml:"site_name"`
	TimeoutSecs       int     `toml:"timeout_secs"`
	MaxRetries        int     `toml:"max_retries"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// Timeout returns TimeoutSecs as a duration.
func (c CloudConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend    string `toml:"backend"`
	Dir        string `toml:"dir"`
	SQLitePath string `toml:"sqlite_path"`
	RedisURL   string `toml:"redis_url"`
	KeyPrefix  string `toml:"key_prefix"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// ChatConfig tunes orchestration details.
type ChatConfig struct {
	ImageMaxRetries int    `toml:"image_max_retries"`
	ImageSize       string `toml:"image_size"`
	ImageQuality    string `toml:"image_quality"`

	// RAGTopK is how many prior messages relevant-context mode keeps.
	RAGTopK int `toml:"rag_top_k"`

	// EmbeddingModel enables remote embeddings for relevant-context mode.
	// Empty uses the built-in local embedder.
	EmbeddingModel   string `toml:"embedding_model"`
	EmbeddingBaseURL string `toml:"embedding_base_url"`

	// ExportDir receives files written by /export and "sessions export".
	ExportDir string `toml:"export_dir"`
}

// TemplatesConfig points at the user template file.
type TemplatesConfig struct {
	File string `toml:"file"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	dir, err := ConfigDir()
	if err != nil {
		dir = ".multichat"
	}
	return &Config{
		Cloud: CloudConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			SiteURL:     "https://github.com/jeranaias/multichat",
			SiteName:    "multichat",
			TimeoutSecs: 120,
			MaxRetries:  2,
		},
		Storage: StorageConfig{
			Backend:    "file",
			Dir:        filepath.Join(dir, "data"),
			SQLitePath: filepath.Join(dir, "multichat.db"),
			KeyPrefix:  "multichat:",
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       filepath.Join(dir, "logs", "multichat.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Chat: ChatConfig{
			ImageMaxRetries: 2,
			ImageSize:       "1024x1024",
			ImageQuality:    "standard",
			RAGTopK:         6,
			ExportDir:       filepath.Join(dir, "exports"),
		},
		Templates: TemplatesConfig{
			File: filepath.Join(dir, "templates.yaml"),
		},
	}
}

// ConfigDir returns the configuration directory.
func ConfigDir() (string, error) {
	if dir := os.Getenv("MULTICHAT_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".multichat"), nil
}

// ConfigPath returns the default config file path.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// fillDefaults replaces zero values with defaults.
func fillDefaults(cfg *Config) {
	d := Default()

	if cfg.Cloud.BaseURL == "" {
		cfg.Cloud.BaseURL = d.Cloud.BaseURL
	}
	if cfg.Cloud.SiteName == "" {
		cfg.Cloud.SiteName = d.Cloud.SiteName
	}
	if cfg.Cloud.TimeoutSecs == 0 {
		cfg.Cloud.TimeoutSecs = d.Cloud.TimeoutSecs
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = d.Storage.Backend
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = d.Storage.Dir
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = d.Storage.SQLitePath
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = d.Storage.KeyPrefix
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = d.Logging.MaxSizeMB
	}

	if cfg.Chat.ImageSize == "" {
		cfg.Chat.ImageSize = d.Chat.ImageSize
	}
	if cfg.Chat.ImageQuality == "" {
		cfg.Chat.ImageQuality = d.Chat.ImageQuality
	}
	if cfg.Chat.RAGTopK == 0 {
		cfg.Chat.RAGTopK = d.Chat.RAGTopK
	}
	if cfg.Chat.ExportDir == "" {
		cfg.Chat.ExportDir = d.Chat.ExportDir
	}

	if cfg.Templates.File == "" {
		cfg.Templates.File = d.Templates.File
	}
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config at path, or the default path when empty. A missing
// file yields defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg as TOML with owner-only permissions.
func Save(cfg *Config, path string) error {
	if path == "" {
		p, err := ConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	var buf bytes.Buffer
	buf.WriteString("# multichat configuration\n")
	buf.WriteString("# Chat preferences (API key, models, tone) are stored separately.\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// StorageOptions converts the storage section for storage.Open.
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{
		Backend:    c.Storage.Backend,
		Dir:        c.Storage.Dir,
		SQLitePath: c.Storage.SQLitePath,
		RedisURL:   c.Storage.RedisURL,
		KeyPrefix:  c.Storage.KeyPrefix,
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies MULTICHAT_* variables:
//   - MULTICHAT_BASE_URL: cloud.base_url
//   - MULTICHAT_STORAGE: storage.backend
//   - MULTICHAT_DATA_DIR: storage.dir
//   - MULTICHAT_SQLITE_PATH: storage.sqlite_path
//   - MULTICHAT_REDIS_URL: storage.redis_url
//   - MULTICHAT_LOG_LEVEL: logging.level
//   - MULTICHAT_LOG_FILE: logging.file ("-" disables the file)
//   - MULTICHAT_RPS: cloud.requests_per_second
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("MULTICHAT_BASE_URL"); v != "" {
		c.Cloud.BaseURL = v
	}
	if v := os.Getenv("MULTICHAT_STORAGE"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("MULTICHAT_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("MULTICHAT_SQLITE_PATH"); v != "" {
		c.Storage.SQLitePath = v
	}
	if v := os.Getenv("MULTICHAT_REDIS_URL"); v != "" {
		c.Storage.RedisURL = v
	}
	if v := os.Getenv("MULTICHAT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("MULTICHAT_LOG_FILE"); v != "" {
		if v == "-" {
			v = ""
		}
		c.Logging.File = v
	}
	if v := os.Getenv("MULTICHAT_RPS"); v != "" {
		if rps, err := strconv.ParseFloat(v, 64); err == nil {
			c.Cloud.RequestsPerSecond = rps
		}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError is one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects every invalid field.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate returns ValidateErrors when any field is unusable.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.Cloud.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{"cloud.base_url", fmt.Sprintf("invalid URL %q", c.Cloud.BaseURL)})
	}
	if c.Cloud.TimeoutSecs < 0 {
		errs = append(errs, ValidationError{"cloud.timeout_secs", "must not be negative"})
	}
	if c.Cloud.MaxRetries < 0 || c.Cloud.MaxRetries > 10 {
		errs = append(errs, ValidationError{"cloud.max_retries", "must be between 0 and 10"})
	}
	if c.Cloud.RequestsPerSecond < 0 {
		errs = append(errs, ValidationError{"cloud.requests_per_second", "must not be negative"})
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite":
	case "redis":
		if c.Storage.RedisURL == "" {
			errs = append(errs, ValidationError{"storage.redis_url", "required when backend is redis"})
		}
	default:
		errs = append(errs, ValidationError{"storage.backend", fmt.Sprintf("invalid backend %q, must be one of: file, sqlite, redis", c.Storage.Backend)})
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("invalid level %q", c.Logging.Level)})
	}

	if c.Chat.ImageMaxRetries < 0 || c.Chat.ImageMaxRetries > 5 {
		errs = append(errs, ValidationError{"chat.image_max_retries", "must be between 0 and 5"})
	}
	if c.Chat.RAGTopK < 1 {
		errs = append(errs, ValidationError{"chat.rag_top_k", "must be at least 1"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
