// Package config provides unified configuration for the errata services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	// ModeServe runs the HTTP API, task dispatcher, and compaction daemon.
	ModeServe Mode = "serve"
	// ModeCompact runs a single compaction pass and exits.
	ModeCompact Mode = "compact"
)

// Config holds the unified configuration for all errata services.
type Config struct {
	// Mode specifies what to run: serve, compact
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP server configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// Storage backend configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Compaction configuration
	Compaction CompactionConfig `json:"compaction" yaml:"compaction"`

	// QueryStore configuration
	QueryStore QueryStoreConfig `json:"query_store" yaml:"query_store"`

	// Tasks configuration
	Tasks TasksConfig `json:"tasks" yaml:"tasks"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the listen address of the API server
	Addr string `json:"addr" yaml:"addr"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout. Streaming responses are
	// exempt via per-route handling, so this bounds the JSON routes only.
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage root (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing (MinIO, LocalStack)
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// CompactionConfig holds compaction scheduling configuration.
type CompactionConfig struct {
	// Enabled controls whether the compaction daemon runs in serve mode
	Enabled bool `json:"enabled" yaml:"enabled"`

	// CurrentDayInterval is how often the current day is compacted
	CurrentDayInterval time.Duration `json:"current_day_interval" yaml:"current_day_interval"`

	// PreviousDayInterval is how often the previous day is compacted
	PreviousDayInterval time.Duration `json:"previous_day_interval" yaml:"previous_day_interval"`

	// JournalPath is the sqlite file recording compaction runs
	JournalPath string `json:"journal_path" yaml:"journal_path"`
}

// QueryStoreConfig holds Async Query Store configuration.
type QueryStoreConfig struct {
	// Path is the badger directory for query state
	Path string `json:"path" yaml:"path"`

	// InMemory runs the store without persistence (dev only)
	InMemory bool `json:"in_memory" yaml:"in_memory"`

	// TTL is how long query records are retained
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// TasksConfig holds the in-process task dispatcher configuration.
type TasksConfig struct {
	// Workers is the dispatcher pool size
	Workers int `json:"workers" yaml:"workers"`

	// QueueSize is the dispatcher queue capacity
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeServe,
		DataDir: "./data/errata",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
		Compaction: CompactionConfig{
			Enabled:             true,
			CurrentDayInterval:  5 * time.Minute,
			PreviousDayInterval: time.Hour,
			JournalPath:         "",
		},
		QueryStore: QueryStoreConfig{
			Path: "",
			TTL:  24 * time.Hour,
		},
		Tasks: TasksConfig{
			Workers:   4,
			QueueSize: 256,
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/errata"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "events")
	}
	if c.QueryStore.Path == "" {
		c.QueryStore.Path = filepath.Join(c.DataDir, "queries")
	}
	if c.Compaction.JournalPath == "" {
		c.Compaction.JournalPath = filepath.Join(c.DataDir, "compaction.db")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeServe, ModeCompact:
	default:
		return fmt.Errorf("invalid mode: %s (must be serve or compact)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}
	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Tasks.Workers < 0 {
		return fmt.Errorf("tasks.workers must not be negative, got %d", c.Tasks.Workers)
	}
	if c.QueryStore.TTL < 0 {
		return fmt.Errorf("query_store.ttl must not be negative, got %s", c.QueryStore.TTL)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides configuration from environment variables.
// Environment variables use the ERRATA_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("ERRATA_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("ERRATA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ERRATA_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := os.Getenv("ERRATA_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("ERRATA_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("ERRATA_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("ERRATA_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("ERRATA_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("ERRATA_S3_PATH_STYLE"); v != "" {
		cfg.Storage.S3.UsePathStyle = v == "true" || v == "1"
	}

	if v := os.Getenv("ERRATA_COMPACTION_ENABLED"); v != "" {
		cfg.Compaction.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ERRATA_COMPACTION_CURRENT_DAY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compaction.CurrentDayInterval = d
		}
	}
	if v := os.Getenv("ERRATA_COMPACTION_PREVIOUS_DAY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Compaction.PreviousDayInterval = d
		}
	}

	if v := os.Getenv("ERRATA_QUERY_STORE_PATH"); v != "" {
		cfg.QueryStore.Path = v
	}
	if v := os.Getenv("ERRATA_QUERY_STORE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.QueryStore.TTL = d
		}
	}

	if v := os.Getenv("ERRATA_TASK_WORKERS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Tasks.Workers)
	}
	if v := os.Getenv("ERRATA_TASK_QUEUE_SIZE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Tasks.QueueSize)
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.QueryStore.Path}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
