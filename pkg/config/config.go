// Package config loads and validates the repository index configuration from
// YAML files with environment-variable overrides. It provides typed structs
// for the on-disk indices, the search backend and the optional services
// (Redis query cache, Kafka change feed, HTTP and metrics servers).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/digitalroastery/weblounge-sub005/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Repository RepositoryConfig `yaml:"repository"`
	Index      IndexConfig      `yaml:"index"`
	Search     SearchConfig     `yaml:"search"`
	Server     ServerConfig     `yaml:"server"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// RepositoryConfig locates the repository root. Index files live in
// <root>/structure and search data in <root>/fulltext.
type RepositoryConfig struct {
	Root     string `yaml:"root"`
	ReadOnly bool   `yaml:"readOnly"`
	Journal  bool   `yaml:"journal"`
}

// StructureDir is the directory holding the fixed record index files.
func (r RepositoryConfig) StructureDir() string {
	return filepath.Join(r.Root, "structure")
}

// FulltextDir is the directory holding the search backend data.
func (r RepositoryConfig) FulltextDir() string {
	return filepath.Join(r.Root, "fulltext")
}

// IndexConfig holds the initial sizing of the fixed record indices. Existing
// files that were resized beyond these values keep their larger layout.
type IndexConfig struct {
	TypeBytes          int `yaml:"typeBytes"`
	PathBytes          int `yaml:"pathBytes"`
	IDSlots            int `yaml:"idSlots"`
	IDEntriesPerSlot   int `yaml:"idEntriesPerSlot"`
	PathSlots          int `yaml:"pathSlots"`
	PathEntriesPerSlot int `yaml:"pathEntriesPerSlot"`
	VersionsPerEntry   int `yaml:"versionsPerEntry"`
	LanguagesPerEntry  int `yaml:"languagesPerEntry"`
	URICacheSize       int `yaml:"uriCacheSize"`
}

// SearchConfig controls the full-text engine's flush policy and query limits.
type SearchConfig struct {
	SegmentMaxSize         int64         `yaml:"segmentMaxSize"`
	FlushInterval          time.Duration `yaml:"flushInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
	DefaultLimit           int           `yaml:"defaultLimit"`
	MaxResults             int           `yaml:"maxResults"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	IndexEvents    string `yaml:"indexEvents"`
	ResourceEvents string `yaml:"resourceEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with the defaults used for local development and
// tests.
func Default() *Config {
	return &Config{
		Repository: RepositoryConfig{
			Root:    "./data",
			Journal: true,
		},
		Index: IndexConfig{
			TypeBytes:          8,
			PathBytes:          128,
			IDSlots:            128,
			IDEntriesPerSlot:   64,
			PathSlots:          128,
			PathEntriesPerSlot: 64,
			VersionsPerEntry:   10,
			LanguagesPerEntry:  10,
			URICacheSize:       1024,
		},
		Search: SearchConfig{
			SegmentMaxSize:         4 << 20,
			FlushInterval:          30 * time.Second,
			MaxSegmentsBeforeMerge: 8,
			DefaultLimit:           10,
			MaxResults:             1000,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "content-index",
			Topics: KafkaTopics{
				IndexEvents:    "content-index.events",
				ResourceEvents: "content-repository.resources",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects contradictory or unusable size parameters.
func (c *Config) Validate() error {
	const op = "config.validate"
	if c.Repository.Root == "" {
		return apperrors.New(apperrors.ErrConfiguration, op, "repository root is empty")
	}
	ix := c.Index
	checks := []struct {
		name  string
		value int
		min   int
	}{
		{"index.typeBytes", ix.TypeBytes, 1},
		{"index.pathBytes", ix.PathBytes, 2},
		{"index.idSlots", ix.IDSlots, 1},
		{"index.idEntriesPerSlot", ix.IDEntriesPerSlot, 1},
		{"index.pathSlots", ix.PathSlots, 1},
		{"index.pathEntriesPerSlot", ix.PathEntriesPerSlot, 1},
		{"index.versionsPerEntry", ix.VersionsPerEntry, 1},
		{"index.languagesPerEntry", ix.LanguagesPerEntry, 1},
	}
	for _, ch := range checks {
		if ch.value < ch.min {
			return apperrors.Newf(apperrors.ErrConfiguration, op, "%s must be at least %d, got %d", ch.name, ch.min, ch.value)
		}
	}
	if ix.URICacheSize < 0 {
		return apperrors.Newf(apperrors.ErrConfiguration, op, "index.uriCacheSize must not be negative, got %d", ix.URICacheSize)
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		return apperrors.Newf(apperrors.ErrConfiguration, op,
			"search limits are inconsistent: defaultLimit=%d maxResults=%d", c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// applyEnvOverrides reads CRI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CRI_REPOSITORY_ROOT"); v != "" {
		cfg.Repository.Root = v
	}
	if v := os.Getenv("CRI_REPOSITORY_READONLY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Repository.ReadOnly = b
		}
	}
	if v := os.Getenv("CRI_INDEX_PATH_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.PathBytes = n
		}
	}
	if v := os.Getenv("CRI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CRI_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("CRI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CRI_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("CRI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("CRI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CRI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CRI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("CRI_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
