// Package config loads emberdb's storage configuration from environment
// variables or a YAML file.
//
// LoadFromEnv reads environment variables prefixed with EMBERDB_;
// LoadFromFile and SaveToFile read and write the same keys as YAML.
// Every variable has a sensible default, so LoadFromEnv
// can be called without any environment set up at all, and Validate
// catches malformed values before the engine opens.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//	engine, err := storage.NewEngine(cfg.ToStorageConfig(), nil)
//
// Environment Variables:
//
//	EMBERDB_DATA_DIR=./data
//	EMBERDB_PROPERTIES_ON_EDGES=false
//	EMBERDB_STORAGE_MODE=in_memory_transactional
//	EMBERDB_ISOLATION_LEVEL=snapshot_isolation
//	EMBERDB_SNAPSHOT_INTERVAL_SEC=300
//	EMBERDB_SNAPSHOT_RETENTION_COUNT=3
//	EMBERDB_WAL_ENABLED=true
//	EMBERDB_GC_INTERVAL_SEC=10
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/emberdb/emberdb/pkg/storage"
)

// Config holds the seven configuration keys §6 names, loaded from
// EMBERDB_* environment variables or an emberdb.yaml file.
type Config struct {
	// DataDir is the directory snapshots, the WAL, and (when StorageMode
	// is on_disk_transactional) the badger store live under.
	DataDir string `yaml:"data_dir"`

	// PropertiesOnEdges controls whether edges carry their own property
	// maps and delta chains, or are represented purely as adjacency-list
	// entries between vertices (§1, §2.2).
	PropertiesOnEdges bool `yaml:"properties_on_edges"`

	// StorageMode selects in-memory transactional, in-memory analytical,
	// or the on-disk transactional stub (§1).
	StorageMode string `yaml:"storage_mode"`

	// IsolationLevel selects snapshot isolation or read-uncommitted (§3).
	IsolationLevel string `yaml:"isolation_level"`

	// SnapshotIntervalSec is how often the background loop writes a new
	// snapshot to DataDir. Zero disables periodic snapshotting.
	SnapshotIntervalSec uint64 `yaml:"snapshot_interval_sec"`

	// SnapshotRetentionCount is how many of the most recent snapshots
	// PruneSnapshots keeps; older ones are deleted after a new one lands.
	SnapshotRetentionCount uint64 `yaml:"snapshot_retention_count"`

	// WalEnabled controls whether committed transactions are logged to
	// the write-ahead log for crash recovery (§4.4).
	WalEnabled bool `yaml:"wal_enabled"`

	// GCIntervalSec is how often the epoch-based garbage collector
	// advances the graveyard and reclaims buried deltas (§4.5).
	GCIntervalSec uint64 `yaml:"gc_interval_sec"`

	// Logging settings.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// LoadFromEnv loads configuration from environment variables, applying
// defaults matching storage.DefaultConfig wherever a variable is unset.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.DataDir = getEnv("EMBERDB_DATA_DIR", "./data")
	cfg.PropertiesOnEdges = getEnvBool("EMBERDB_PROPERTIES_ON_EDGES", false)
	cfg.StorageMode = getEnv("EMBERDB_STORAGE_MODE", "in_memory_transactional")
	cfg.IsolationLevel = getEnv("EMBERDB_ISOLATION_LEVEL", "snapshot_isolation")
	cfg.SnapshotIntervalSec = getEnvUint("EMBERDB_SNAPSHOT_INTERVAL_SEC", 300)
	cfg.SnapshotRetentionCount = getEnvUint("EMBERDB_SNAPSHOT_RETENTION_COUNT", 3)
	cfg.WalEnabled = getEnvBool("EMBERDB_WAL_ENABLED", true)
	cfg.GCIntervalSec = getEnvUint("EMBERDB_GC_INTERVAL_SEC", 10)

	cfg.LogLevel = getEnv("EMBERDB_LOG_LEVEL", "INFO")
	cfg.LogFormat = getEnv("EMBERDB_LOG_FORMAT", "text")

	return cfg
}

// LoadFromFile reads a YAML config file (the format `emberdb init`
// writes), starting from the environment/default config so a partial
// file only needs to name the keys it overrides.
func LoadFromFile(path string) (*Config, error) {
	cfg := LoadFromEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes cfg as YAML, the format `emberdb init` seeds a new
// data directory with.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshaling: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks the configuration for unknown enum values and other
// logical errors before the engine opens.
func (c *Config) Validate() error {
	switch c.StorageMode {
	case "in_memory_transactional", "in_memory_analytical", "on_disk_transactional":
	default:
		return fmt.Errorf("config: unknown storage mode %q", c.StorageMode)
	}

	switch c.IsolationLevel {
	case "snapshot_isolation", "read_uncommitted":
	default:
		return fmt.Errorf("config: unknown isolation level %q", c.IsolationLevel)
	}

	if c.DataDir == "" {
		return fmt.Errorf("config: data dir must not be empty")
	}

	return nil
}

// ToStorageConfig translates the loaded environment configuration into
// storage.Config, the shape the engine actually consumes.
func (c *Config) ToStorageConfig() storage.Config {
	mode := storage.InMemoryTransactional
	switch c.StorageMode {
	case "in_memory_analytical":
		mode = storage.InMemoryAnalytical
	case "on_disk_transactional":
		mode = storage.OnDiskTransactional
	}

	isolation := storage.SnapshotIsolation
	if c.IsolationLevel == "read_uncommitted" {
		isolation = storage.ReadUncommitted
	}

	return storage.Config{
		PropertiesOnEdges:      c.PropertiesOnEdges,
		StorageMode:            mode,
		IsolationLevel:         isolation,
		SnapshotIntervalSec:    c.SnapshotIntervalSec,
		SnapshotRetentionCount: c.SnapshotRetentionCount,
		WalEnabled:             c.WalEnabled,
		GCIntervalSec:          c.GCIntervalSec,
		DataDir:                c.DataDir,
	}
}

// String returns a representation of the Config safe for logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DataDir: %s, StorageMode: %s, IsolationLevel: %s, PropertiesOnEdges: %v, WalEnabled: %v}",
		c.DataDir, c.StorageMode, c.IsolationLevel, c.PropertiesOnEdges, c.WalEnabled,
	)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvUint(key string, defaultVal uint64) uint64 {
	if val := os.Getenv(key); val != "" {
		if u, err := strconv.ParseUint(val, 10, 64); err == nil {
			return u
		}
	}
	return defaultVal
}
