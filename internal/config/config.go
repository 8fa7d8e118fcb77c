// Package config loads chatvault configuration from the environment with an
// optional YAML overlay, and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/chatvault/chatvault/internal/cache"
	"github.com/chatvault/chatvault/internal/conversation"
	"github.com/chatvault/chatvault/internal/storage/surreal"
	"gopkg.in/yaml.v3"
)

// Supported storage backends.
const (
	BackendMemory  = "memory"
	BackendSQLite  = "sqlite"
	BackendSurreal = "surreal"
)

// Config holds all configuration values. Defaults come from envDefault tags;
// a YAML file passed to Load overrides them field by field.
type Config struct {
	// Storage backend: memory, sqlite or surreal
	Backend    string `env:"CHATVAULT_BACKEND" envDefault:"sqlite" yaml:"backend"`
	SQLitePath string `env:"CHATVAULT_SQLITE_PATH" envDefault:"chatvault.db" yaml:"sqlite_path"`

	// SurrealDB connection
	SurrealURL       string `env:"CHATVAULT_SURREAL_URL" envDefault:"ws://localhost:8000/rpc" yaml:"surreal_url"`
	SurrealNamespace string `env:"CHATVAULT_SURREAL_NAMESPACE" envDefault:"chatvault" yaml:"surreal_namespace"`
	SurrealDatabase  string `env:"CHATVAULT_SURREAL_DATABASE" envDefault:"conversations" yaml:"surreal_database"`
	SurrealUser      string `env:"CHATVAULT_SURREAL_USER" envDefault:"root" yaml:"surreal_user"`
	SurrealPass      string `env:"CHATVAULT_SURREAL_PASS" envDefault:"root" yaml:"surreal_pass"`
	SurrealAuthLevel string `env:"CHATVAULT_SURREAL_AUTH_LEVEL" envDefault:"root" yaml:"surreal_auth_level"`

	// Conversation lifecycle
	ReuseWindow                time.Duration `env:"CHATVAULT_REUSE_WINDOW" envDefault:"336h" yaml:"reuse_window"`
	MaxMessagesPerConversation int           `env:"CHATVAULT_MAX_MESSAGES" envDefault:"10000" yaml:"max_messages_per_conversation"`
	AutoCleanup                bool          `env:"CHATVAULT_AUTO_CLEANUP" envDefault:"true" yaml:"auto_cleanup"`
	CleanupAfter               time.Duration `env:"CHATVAULT_CLEANUP_AFTER" envDefault:"2160h" yaml:"cleanup_after"`
	CleanupInterval            time.Duration `env:"CHATVAULT_CLEANUP_INTERVAL" envDefault:"1h" yaml:"cleanup_interval"`
	DefaultContextLimit        int           `env:"CHATVAULT_CONTEXT_LIMIT" envDefault:"50" yaml:"default_context_limit"`
	EnableCompression          bool          `env:"CHATVAULT_COMPRESSION" envDefault:"false" yaml:"enable_compression"`
	CompressionThreshold       int           `env:"CHATVAULT_COMPRESSION_THRESHOLD" envDefault:"4096" yaml:"compression_threshold"`

	// Cache
	CacheEnabled bool          `env:"CHATVAULT_CACHE" envDefault:"true" yaml:"cache_enabled"`
	CacheTTL     time.Duration `env:"CHATVAULT_CACHE_TTL" envDefault:"5m" yaml:"cache_ttl"`
	CacheSize    int           `env:"CHATVAULT_CACHE_SIZE" envDefault:"2048" yaml:"cache_size"`

	// Logging
	LogFile  string `env:"CHATVAULT_LOG_FILE" envDefault:"/tmp/chatvault.log" yaml:"log_file"`
	LogLevel string `env:"CHATVAULT_LOG_LEVEL" envDefault:"INFO" yaml:"log_level"`
}

// Load reads configuration from the environment, then overlays the YAML file
// at path when given. Fields present in the file win.
func Load(path string) (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite, BackendSurreal:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.ReuseWindow <= 0 {
		return fmt.Errorf("reuse window must be positive, got %s", c.ReuseWindow)
	}
	if c.CleanupAfter <= 0 {
		return fmt.Errorf("cleanup age must be positive, got %s", c.CleanupAfter)
	}
	if c.MaxMessagesPerConversation <= 0 {
		return fmt.Errorf("max messages per conversation must be positive, got %d", c.MaxMessagesPerConversation)
	}
	if c.Backend == BackendSQLite && c.SQLitePath == "" {
		return fmt.Errorf("sqlite backend needs a database path")
	}
	return nil
}

// ConversationConfig maps the loaded values onto the lifecycle tuning.
func (c Config) ConversationConfig() conversation.Config {
	conv := conversation.DefaultConfig()
	conv.ReuseWindow = c.ReuseWindow
	conv.MaxMessagesPerConversation = c.MaxMessagesPerConversation
	conv.AutoCleanup = c.AutoCleanup
	conv.CleanupAfter = c.CleanupAfter
	conv.DefaultContextLimit = c.DefaultContextLimit
	conv.EnableCompression = c.EnableCompression
	conv.CompressionThreshold = c.CompressionThreshold
	return conv
}

// CacheOptions maps the loaded values onto the cache layer tuning.
func (c Config) CacheOptions() cache.Options {
	return cache.Options{Enabled: c.CacheEnabled, TTL: c.CacheTTL, Size: c.CacheSize}
}

// SurrealConfig maps the loaded values onto the SurrealDB client config.
func (c Config) SurrealConfig() surreal.Config {
	return surreal.Config{
		URL:       c.SurrealURL,
		Namespace: c.SurrealNamespace,
		Database:  c.SurrealDatabase,
		Username:  c.SurrealUser,
		Password:  c.SurrealPass,
		AuthLevel: c.SurrealAuthLevel,
	}
}

// Level parses the configured log level, defaulting to info.
func (c Config) Level() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
