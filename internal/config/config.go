// Package config holds the broker's process-wide and per-topic configuration
// structs, following the same nested-struct-with-json-tags style the rest of
// this codebase uses for options (inline default-value comments, a
// DefaultConfig constructor, and environment-variable overrides applied on
// top of a loaded file).
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled"`      // Default: false
	Exporter    string  `json:"exporter"`     // otlp-http, stdout
	Endpoint    string  `json:"endpoint"`     // localhost:4318
	ServiceName string  `json:"service_name"` // mbroker
	SampleRate  float64 `json:"sample_rate"`  // 1.0
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`   // Default: true
	Namespace string `json:"namespace"` // mbroker
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level          string `json:"level"`            // debug, info, warn, error
	Format         string `json:"format"`           // text, json
	IncludeTraceID bool   `json:"include_trace_id"` // correlate with traces
}

// LogCollectorConfig controls the chunked, asynchronous delivery-log emitter
// (internal/logcollector). Mirrors the teacher's ExecutorConfig knobs.
type LogCollectorConfig struct {
	BatchSize     int           `json:"batch_size"`     // entries batched before flushing (default: 100)
	BufferSize    int           `json:"buffer_size"`    // channel buffer for pending entries (default: 1000)
	FlushInterval time.Duration `json:"flush_interval"` // periodic flush interval (default: 500ms)
	FlushTimeout  time.Duration `json:"flush_timeout"`  // per-flush deadline (default: 5s)
}

// ObservabilityConfig holds all observability-related settings.
type ObservabilityConfig struct {
	Tracing TracingConfig `json:"tracing"`
	Metrics MetricsConfig `json:"metrics"`
	Logging LoggingConfig `json:"logging"`
}

// StorageBackend selects the persistent key/value store a topic's
// MessageStorage flushes to.
type StorageBackend string

const (
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendRedis    StorageBackend = "redis"
	StorageBackendPostgres StorageBackend = "postgres"
)

// RedisStoreConfig configures the optional Redis-backed persistent store.
type RedisStoreConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// PostgresStoreConfig configures the optional Postgres-backed persistent store.
type PostgresStoreConfig struct {
	DSN   string `json:"dsn"`
	Table string `json:"table"` // default: mbroker_kv
}

// ArchiveConfig configures the optional S3 cold-archival hook invoked by the
// retention sweep once a message has aged past ArchivalThresholdMs.
type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Bucket  string `json:"bucket"`
	Prefix  string `json:"prefix"` // default: mbroker/
	Region  string `json:"region"`
}

// StoreConfig is the process-wide persistence configuration, shared by every
// topic's MessageStorage.
type StoreConfig struct {
	Backend  StorageBackend      `json:"backend"` // memory, redis, postgres
	Redis    RedisStoreConfig    `json:"redis"`
	Postgres PostgresStoreConfig `json:"postgres"`
	Archive  ArchiveConfig       `json:"archive"`
}

// TopicConfig is the per-topic configuration surface of spec.md §6, carried
// over field-for-field.
type TopicConfig struct {
	Schema                         string        `json:"schema,omitempty"`
	Persist                        bool          `json:"persist"`                              // default: true
	PersistThresholdMs             int64         `json:"persist_threshold_ms"`                  // default: 100
	RetentionMs                    int64         `json:"retention_ms"`                          // default: 86_400_000
	ArchivalThresholdMs            int64         `json:"archival_threshold_ms"`                 // default: 100_000
	MaxSizeBytes                   int64         `json:"max_size_bytes,omitempty"`              // 0 = unlimited
	MaxDeliveryAttempts            int           `json:"max_delivery_attempts,omitempty"`       // 0 = unset (AttemptsProcessor absent)
	MaxMessageSize                 int           `json:"max_message_size,omitempty"`             // 0 = unlimited
	AckTimeoutMs                   int64         `json:"ack_timeout_ms"`                        // default: 30_000
	ConsumerInactivityThresholdMs  int64         `json:"consumer_inactivity_threshold_ms"`      // default: 600_000
	ConsumerProcessingTimeThresholdMs int64      `json:"consumer_processing_time_threshold_ms,omitempty"`
	ConsumerPendingThresholdMs     int64         `json:"consumer_pending_threshold_ms,omitempty"`
	Replicas                       int           `json:"replicas"`   // hash ring replicas per consumer, default: 3
	ChunkSize                      int           `json:"chunk_size"` // storage flush chunk size, default: 256
}

// DefaultTopicConfig returns a TopicConfig with the defaults named in spec.md §6.
func DefaultTopicConfig() *TopicConfig {
	return &TopicConfig{
		Persist:                       true,
		PersistThresholdMs:            100,
		RetentionMs:                   86_400_000,
		ArchivalThresholdMs:           100_000,
		AckTimeoutMs:                  30_000,
		ConsumerInactivityThresholdMs: 600_000,
		Replicas:                      3,
		ChunkSize:                     256,
	}
}

// BrokerConfig is the process-wide configuration: the default topic options,
// the storage backend, and ambient observability settings.
type BrokerConfig struct {
	DefaultTopic  TopicConfig         `json:"default_topic"`
	Store         StoreConfig         `json:"store"`
	Observability ObservabilityConfig `json:"observability"`
	LogCollector  LogCollectorConfig  `json:"log_collector"`
}

// DefaultConfig returns a BrokerConfig with sensible defaults.
func DefaultConfig() *BrokerConfig {
	return &BrokerConfig{
		DefaultTopic: *DefaultTopicConfig(),
		Store: StoreConfig{
			Backend: StorageBackendMemory,
			Postgres: PostgresStoreConfig{
				Table: "mbroker_kv",
			},
			Archive: ArchiveConfig{
				Prefix: "mbroker/",
			},
		},
		Observability: ObservabilityConfig{
			Tracing: TracingConfig{
				Enabled:     false,
				Exporter:    "otlp-http",
				Endpoint:    "localhost:4318",
				ServiceName: "mbroker",
				SampleRate:  1.0,
			},
			Metrics: MetricsConfig{
				Enabled:   true,
				Namespace: "mbroker",
			},
			Logging: LoggingConfig{
				Level:          "info",
				Format:         "text",
				IncludeTraceID: true,
			},
		},
		LogCollector: LogCollectorConfig{
			BatchSize:     100,
			BufferSize:    1000,
			FlushInterval: 500 * time.Millisecond,
			FlushTimeout:  5 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file (chosen by
// extension; YAML for .yml/.yaml, JSON otherwise), layered on top of
// DefaultConfig.
func LoadFromFile(path string) (*BrokerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if strings.HasSuffix(path, ".yml") || strings.HasSuffix(path, ".yaml") {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to the config.
func LoadFromEnv(cfg *BrokerConfig) {
	if v := os.Getenv("MBROKER_LOG_LEVEL"); v != "" {
		cfg.Observability.Logging.Level = v
	}
	if v := os.Getenv("MBROKER_LOG_FORMAT"); v != "" {
		cfg.Observability.Logging.Format = v
	}
	if v := os.Getenv("MBROKER_TRACING_ENABLED"); v != "" {
		cfg.Observability.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("MBROKER_TRACING_ENDPOINT"); v != "" {
		cfg.Observability.Tracing.Endpoint = v
	}
	if v := os.Getenv("MBROKER_METRICS_ENABLED"); v != "" {
		cfg.Observability.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("MBROKER_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = StorageBackend(v)
	}
	if v := os.Getenv("MBROKER_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("MBROKER_POSTGRES_DSN"); v != "" {
		cfg.Store.Postgres.DSN = v
	}
	if v := os.Getenv("MBROKER_ARCHIVE_BUCKET"); v != "" {
		cfg.Store.Archive.Bucket = v
		cfg.Store.Archive.Enabled = true
	}
	if v := os.Getenv("MBROKER_ACK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DefaultTopic.AckTimeoutMs = n
		}
	}
	if v := os.Getenv("MBROKER_LOG_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogCollector.BatchSize = n
		}
	}
	if v := os.Getenv("MBROKER_LOG_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LogCollector.FlushInterval = d
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
