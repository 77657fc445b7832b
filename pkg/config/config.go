// Package config loads the platform configuration from an optional JSON file
// with SHOPSTREAM_* environment overrides on top. Values that point at
// secrets (DSNs, broker URLs) may be references resolved through
// ResolveDSN.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Store adapters.
const (
	AdapterSQLite   = "sqlite"
	AdapterPostgres = "postgres"
	AdapterMemory   = "memory"
)

// Bus adapters.
const (
	BusInproc = "inproc"
	BusNATS   = "nats"
)

// Config is the platform configuration tree.
type Config struct {
	EventStore  EventStoreConfig            `json:"event_store"`
	ReadModel   ReadModelConfig             `json:"read_model"`
	Bus         BusConfig                   `json:"bus"`
	Saga        SagaConfig                  `json:"saga"`
	CommandBus  CommandBusConfig            `json:"command_bus"`
	Breakers    map[string]BreakerConfig    `json:"circuit_breaker"`
	Projections map[string]ProjectionConfig `json:"projection"`
}

// EventStoreConfig selects and tunes the write-side store.
type EventStoreConfig struct {
	Adapter string `json:"adapter"`
	DSN     string `json:"dsn"`
	// ArchiveAfterDays moves events older than this to the archive table.
	// Zero disables the archival pass.
	ArchiveAfterDays int `json:"archive_after_days"`
	// SnapshotFrequency snapshots an aggregate every N events.
	SnapshotFrequency int `json:"snapshot_frequency"`
}

// ReadModelConfig locates the SQLite database holding projections and
// checkpoints. Read models stay on SQLite regardless of the event store
// adapter.
type ReadModelConfig struct {
	DSN string `json:"dsn"`
}

// BusConfig selects the event bus.
type BusConfig struct {
	Adapter string `json:"adapter"`
	// URL of the NATS server; ignored by the in-process bus.
	URL string `json:"url"`
	// Embedded hosts a JetStream-enabled broker inside this process.
	Embedded bool `json:"embedded"`
}

// SagaConfig tunes the saga coordinator.
type SagaConfig struct {
	DefaultTimeoutMS int64 `json:"default_timeout_ms"`
}

// DefaultTimeout returns the saga deadline as a duration.
func (c SagaConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}

// CommandBusConfig tunes command dispatch.
type CommandBusConfig struct {
	// MaxRetries bounds the optimistic-concurrency retry loop.
	MaxRetries int `json:"max_retries"`
}

// BreakerConfig tunes one named circuit breaker.
type BreakerConfig struct {
	Threshold  int   `json:"threshold"`
	WindowMS   int64 `json:"window_ms"`
	CooldownMS int64 `json:"cooldown_ms"`
}

// Window returns the rolling failure window as a duration.
func (c BreakerConfig) Window() time.Duration {
	return time.Duration(c.WindowMS) * time.Millisecond
}

// Cooldown returns the open-state cooldown as a duration.
func (c BreakerConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

// ProjectionConfig tunes one named projection.
type ProjectionConfig struct {
	BatchSize int `json:"batch_size"`
}

// Default returns the configuration used when no file and no environment
// overrides are present: a single-file SQLite store shared with the read
// models and the in-process bus.
func Default() *Config {
	return &Config{
		EventStore: EventStoreConfig{
			Adapter:           AdapterSQLite,
			DSN:               "shopstream.db",
			SnapshotFrequency: 100,
		},
		ReadModel:  ReadModelConfig{DSN: "shopstream.db"},
		Bus:        BusConfig{Adapter: BusInproc},
		Saga:       SagaConfig{DefaultTimeoutMS: 120_000},
		CommandBus: CommandBusConfig{MaxRetries: 3},
	}
}

// Load reads the JSON file at path over the defaults, applies SHOPSTREAM_*
// environment overrides, and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SHOPSTREAM_* variables. Per-name breaker and projection
// settings are file-only.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if value, ok := os.LookupEnv(key); ok {
			*dst = value
		}
	}
	setInt := func(key string, dst *int) error {
		value, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setInt64 := func(key string, dst *int64) error {
		value, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	setBool := func(key string, dst *bool) error {
		value, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	setString("SHOPSTREAM_EVENT_STORE_ADAPTER", &c.EventStore.Adapter)
	setString("SHOPSTREAM_EVENT_STORE_DSN", &c.EventStore.DSN)
	setString("SHOPSTREAM_READ_MODEL_DSN", &c.ReadModel.DSN)
	setString("SHOPSTREAM_BUS_ADAPTER", &c.Bus.Adapter)
	setString("SHOPSTREAM_BUS_URL", &c.Bus.URL)
	for _, err := range []error{
		setInt("SHOPSTREAM_EVENT_STORE_ARCHIVE_AFTER_DAYS", &c.EventStore.ArchiveAfterDays),
		setInt("SHOPSTREAM_EVENT_STORE_SNAPSHOT_FREQUENCY", &c.EventStore.SnapshotFrequency),
		setInt64("SHOPSTREAM_SAGA_DEFAULT_TIMEOUT_MS", &c.Saga.DefaultTimeoutMS),
		setInt("SHOPSTREAM_COMMAND_BUS_MAX_RETRIES", &c.CommandBus.MaxRetries),
		setBool("SHOPSTREAM_BUS_EMBEDDED", &c.Bus.Embedded),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects configurations the platform cannot start with.
func (c *Config) Validate() error {
	switch c.EventStore.Adapter {
	case AdapterSQLite, AdapterPostgres, AdapterMemory:
	default:
		return fmt.Errorf("unknown event store adapter %q", c.EventStore.Adapter)
	}
	if c.EventStore.Adapter != AdapterMemory && c.EventStore.DSN == "" {
		return fmt.Errorf("event_store.dsn is required for the %s adapter", c.EventStore.Adapter)
	}
	if c.EventStore.ArchiveAfterDays < 0 {
		return fmt.Errorf("event_store.archive_after_days must not be negative")
	}
	if c.EventStore.SnapshotFrequency < 0 {
		return fmt.Errorf("event_store.snapshot_frequency must not be negative")
	}
	if c.ReadModel.DSN == "" {
		return fmt.Errorf("read_model.dsn is required")
	}
	switch c.Bus.Adapter {
	case BusInproc, BusNATS:
	default:
		return fmt.Errorf("unknown bus adapter %q", c.Bus.Adapter)
	}
	if c.Bus.Adapter == BusNATS && !c.Bus.Embedded && c.Bus.URL == "" {
		return fmt.Errorf("bus.url is required for the nats adapter unless bus.embedded is set")
	}
	if c.Saga.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("saga.default_timeout_ms must be positive")
	}
	if c.CommandBus.MaxRetries < 1 {
		return fmt.Errorf("command_bus.max_retries must be at least 1")
	}
	for name, breaker := range c.Breakers {
		if breaker.Threshold < 1 {
			return fmt.Errorf("circuit_breaker.%s.threshold must be at least 1", name)
		}
		if breaker.WindowMS < 0 || breaker.CooldownMS < 0 {
			return fmt.Errorf("circuit_breaker.%s durations must not be negative", name)
		}
	}
	for name, projection := range c.Projections {
		if projection.BatchSize < 1 {
			return fmt.Errorf("projection.%s.batch_size must be at least 1", name)
		}
	}
	return nil
}
