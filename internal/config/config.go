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
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	DB         DBConfig         `mapstructure:"db"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Retry      RetryConfig      `mapstructure:"retry"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Expansion  ExpansionConfig  `mapstructure:"expansion"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Clustering ClusteringConfig `mapstructure:"clustering"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Export     ExportConfig     `mapstructure:"export"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// ProviderConfig configures the keyword-data API client.
type ProviderConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Login    string        `mapstructure:"login"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RPS      float64       `mapstructure:"rps"`
	Burst    int           `mapstructure:"burst"`
}

// RetryConfig shapes the backoff applied to provider calls.
type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	InitialDelay      time.Duration `mapstructure:"initial_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
}

// ExtractionConfig tunes seed extraction.
type ExtractionConfig struct {
	MaxPerCompetitor int           `mapstructure:"max_per_competitor"`
	LocationCode     int           `mapstructure:"location_code"`
	LanguageCode     string        `mapstructure:"language_code"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ExpansionConfig tunes longtail expansion.
type ExpansionConfig struct {
	SourceLimit  int `mapstructure:"source_limit"`
	MaxLongtails int `mapstructure:"max_longtails"`
}

// FilterConfig tunes keyword filtering.
type FilterConfig struct {
	MinSearchVolume     int     `mapstructure:"min_search_volume"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

// ClusteringConfig tunes topic clustering.
type ClusteringConfig struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxSpokesPerHub     int     `mapstructure:"max_spokes_per_hub"`
	MinClusterSize      int     `mapstructure:"min_cluster_size"`
}

// AnalyticsConfig configures the progress hub and its sinks.
type AnalyticsConfig struct {
	LogEnabled bool `mapstructure:"log_enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	// Topic enables the publisher sink. Without ProjectID events are kept in
	// process instead of going to Pub/Sub.
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ExportConfig selects where cluster plans are written.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
	BaseDir string `mapstructure:"base_dir"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KEYWORDINTEL")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("db.max_conn_lifetime", time.Hour)
	v.SetDefault("provider.base_url", "https://api.dataforseo.com")
	v.SetDefault("provider.login", "")
	v.SetDefault("provider.password", "")
	v.SetDefault("provider.timeout", 60*time.Second)
	v.SetDefault("provider.rps", 5.0)
	v.SetDefault("provider.burst", 5)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.backoff_multiplier", 2.0)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("extraction.max_per_competitor", 25)
	v.SetDefault("extraction.location_code", 2840)
	v.SetDefault("extraction.language_code", "en")
	v.SetDefault("extraction.timeout", 5*time.Minute)
	v.SetDefault("expansion.source_limit", 50)
	v.SetDefault("expansion.max_longtails", 12)
	v.SetDefault("filter.min_search_volume", 100)
	v.SetDefault("filter.similarity_threshold", 0.85)
	v.SetDefault("clustering.similarity_threshold", 0.4)
	v.SetDefault("clustering.max_spokes_per_hub", 8)
	v.SetDefault("clustering.min_cluster_size", 3)
	v.SetDefault("analytics.log_enabled", true)
	v.SetDefault("analytics.buffer_size", 1024)
	v.SetDefault("analytics.project_id", "")
	v.SetDefault("analytics.topic", "")
	v.SetDefault("export.backend", "memory")
	v.SetDefault("export.bucket", "")
	v.SetDefault("export.prefix", "cluster-plans")
	v.SetDefault("export.base_dir", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("provider.timeout must be > 0")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("retry.backoff_multiplier must be >= 1")
	}
	if c.Extraction.MaxPerCompetitor <= 0 {
		return fmt.Errorf("extraction.max_per_competitor must be > 0")
	}
	if c.Expansion.MaxLongtails <= 0 || c.Expansion.MaxLongtails > 12 {
		return fmt.Errorf("expansion.max_longtails must be in [1, 12]")
	}
	if c.Filter.SimilarityThreshold <= 0 || c.Filter.SimilarityThreshold > 1 {
		return fmt.Errorf("filter.similarity_threshold must be in (0, 1]")
	}
	if c.Clustering.MinClusterSize < 2 {
		return fmt.Errorf("clustering.min_cluster_size must be >= 2")
	}
	switch c.Export.Backend {
	case "memory":
	case "gcs":
		if c.Export.Bucket == "" {
			return fmt.Errorf("export.bucket must be set when export.backend is gcs")
		}
	case "local":
		if c.Export.BaseDir == "" {
			return fmt.Errorf("export.base_dir must be set when export.backend is local")
		}
	default:
		return fmt.Errorf("export.backend must be one of memory, local, gcs")
	}
	if c.Analytics.ProjectID != "" && c.Analytics.Topic == "" {
		return fmt.Errorf("analytics.topic must be set when analytics.project_id is set")
	}
	return nil
}

// HasProviderCredentials reports whether the provider client can be built.
func (c Config) HasProviderCredentials() bool {
	return c.Provider.Login != "" && c.Provider.Password != ""
}
