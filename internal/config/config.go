// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Broker    BrokerConfig    `mapstructure:"broker"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Poller    PollerConfig    `mapstructure:"poller"`
	Sources   SourcesConfig   `mapstructure:"sources"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Enricher  EnricherConfig  `mapstructure:"enricher"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// BrokerConfig selects and configures the message log.
type BrokerConfig struct {
	// Provider is "pubsub" or "memory".
	Provider     string `mapstructure:"provider"`
	ProjectID    string `mapstructure:"project_id"`
	ItemsTopic   string `mapstructure:"items_topic"`
	AlertsTopic  string `mapstructure:"alerts_topic"`
	Subscription string `mapstructure:"subscription"`
}

// StorageConfig selects and configures the article store.
type StorageConfig struct {
	// Provider is "postgres", "sqlite" or "memory".
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	Path     string `mapstructure:"path"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PollerConfig governs the feed polling loop.
type PollerConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
	JitterSeconds   int `mapstructure:"jitter_seconds"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
}

// SourcesConfig points at the feed registry.
type SourcesConfig struct {
	// File is an optional YAML registry; empty uses the built-in feeds.
	File       string   `mapstructure:"file"`
	Categories []string `mapstructure:"categories"`
}

// DedupConfig tunes the duplicate detector.
type DedupConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	FingerprintPrefix   int     `mapstructure:"fingerprint_prefix"`
	TitleWindow         int     `mapstructure:"title_window"`
	SeedFromStorage     bool    `mapstructure:"seed_from_storage"`
}

// PublisherConfig controls publish retry behavior.
type PublisherConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
}

// WorkerConfig controls the consume loop.
type WorkerConfig struct {
	Concurrency        int `mapstructure:"concurrency"`
	BatchSize          int `mapstructure:"batch_size"`
	MaxItems           int `mapstructure:"max_items"`
	MaxDurationSeconds int `mapstructure:"max_duration_seconds"`
}

// EnricherConfig controls content fetching and classification.
type EnricherConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MinBodyBytes     int `mapstructure:"min_body_bytes"`
	// UserAgents overrides the built-in browser identity pool when set.
	UserAgents []string `mapstructure:"user_agents"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("broker.provider", "memory")
	v.SetDefault("broker.items_topic", "rss.items")
	v.SetDefault("broker.alerts_topic", "alerts.feed_failures")
	v.SetDefault("broker.subscription", "rss.items.workers")
	v.SetDefault("storage.provider", "sqlite")
	v.SetDefault("storage.path", "data/articles.db")
	v.SetDefault("storage.table", "articles")
	v.SetDefault("poller.interval_seconds", 900)
	v.SetDefault("poller.jitter_seconds", 60)
	v.SetDefault("poller.timeout_seconds", 20)
	v.SetDefault("dedup.similarity_threshold", 0.85)
	v.SetDefault("dedup.fingerprint_prefix", 200)
	v.SetDefault("dedup.title_window", 256)
	v.SetDefault("dedup.seed_from_storage", true)
	v.SetDefault("publisher.max_attempts", 3)
	v.SetDefault("publisher.backoff_initial_ms", 250)
	v.SetDefault("publisher.backoff_max_ms", 5000)
	v.SetDefault("publisher.timeout_seconds", 10)
	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("enricher.max_attempts", 3)
	v.SetDefault("enricher.backoff_initial_ms", 500)
	v.SetDefault("enricher.backoff_max_ms", 5000)
	v.SetDefault("enricher.timeout_seconds", 10)
	v.SetDefault("enricher.min_body_bytes", 800)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", false)
}

// Validate checks cross-field requirements that defaults cannot guarantee.
func (c Config) Validate() error {
	switch c.Broker.Provider {
	case "memory":
	case "pubsub":
		if c.Broker.ProjectID == "" {
			return fmt.Errorf("broker.project_id is required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown broker provider %q", c.Broker.Provider)
	}

	switch c.Storage.Provider {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite provider")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}

	// Zero is rejected rather than treated as "fuzzy off": at threshold 0
	// every title pair qualifies as similar, which rejects all items.
	if c.Dedup.SimilarityThreshold <= 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1], got %v", c.Dedup.SimilarityThreshold)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port, got %d", c.Server.Port)
	}
	return nil
}

// PollInterval returns the poll interval as a duration.
func (c PollerConfig) PollInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Jitter returns the poll jitter as a duration.
func (c PollerConfig) Jitter() time.Duration {
	return time.Duration(c.JitterSeconds) * time.Second
}

// Timeout returns the per-feed fetch timeout as a duration.
func (c PollerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
