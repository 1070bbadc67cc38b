// Package config loads and validates the reporting node's TOML
// configuration, one key at a time.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// DatabaseType selects the backend implementation.
type DatabaseType string

const (
	DatabaseCassandra DatabaseType = "cassandra"
	DatabasePostgres  DatabaseType = "postgres"
	DatabaseMock      DatabaseType = "mock"
)

// CassandraConfig holds connection parameters for the Cassandra backend.
type CassandraConfig struct {
	ContactPoints          []string `toml:"contact_points"`
	Port                   int      `toml:"port"`
	Keyspace               string   `toml:"keyspace"`
	TablePrefix            string   `toml:"table_prefix"`
	MaxRequestsOutstanding int      `toml:"max_requests_outstanding"`
	Threads                int      `toml:"threads"`
	ReplicationFactor      int      `toml:"replication_factor"`
	TTLSeconds             int      `toml:"ttl"`
}

// PostgresConfig holds connection parameters for the Postgres backend.
type PostgresConfig struct {
	ContactPoints          []string `toml:"contact_points"`
	Port                   int      `toml:"port"`
	Keyspace               string   `toml:"keyspace"` // database name
	TablePrefix            string   `toml:"table_prefix"`
	MaxRequestsOutstanding int      `toml:"max_requests_outstanding"`
	Threads                int      `toml:"threads"`
}

// DatabaseConfig is the `database` section.
type DatabaseConfig struct {
	Type      DatabaseType     `toml:"type"`
	Cassandra CassandraConfig  `toml:"cassandra"`
	Postgres  PostgresConfig   `toml:"postgres"`
}

// CacheLoadMode selects the startup cache population style.
type CacheLoadMode string

const (
	CacheLoadSync  CacheLoadMode = "sync"
	CacheLoadAsync CacheLoadMode = "async"
	CacheLoadNone  CacheLoadMode = "none"
)

// CacheConfig is the `cache` section.
type CacheConfig struct {
	Load     CacheLoadMode `toml:"load"`
	NumDiffs int           `toml:"num_diffs"`

	// L2Bytes sizes an optional bounded read-through byte cache ahead of
	// the backend, for cold objects the MVCC cache has no opinion on.
	// Zero disables it.
	L2Bytes int `toml:"l2_bytes"`

	// HintFile, if set, persists the last NumDiffs ledgers' worth of object
	// diffs to this path so a restarted process can warm its cache before
	// the background full load finishes. Empty keeps the ring in-process
	// memory only (no benefit across a restart, but still free to build).
	HintFile string `toml:"hint_file"`
}

// EtlSource is one entry of `etl_sources`.
type EtlSource struct {
	IP       string   `toml:"ip"`
	WSPort   int      `toml:"ws_port"`
	GRPCPort int      `toml:"grpc_port"`
	Cache    []string `toml:"cache"`
}

// LogConfig is the logging sub-table.
type LogConfig struct {
	Level                string `toml:"log_level"`
	Format               string `toml:"log_format"`
	Directory            string `toml:"log_directory"`
	RotationSizeBytes    int64  `toml:"log_rotation_size"`
	RotationHourInterval int    `toml:"log_rotation_hour_interval"`
	DirectoryMaxBytes    int64  `toml:"log_directory_max_size"`
}

// Config is the top-level configuration object.
type Config struct {
	Database        DatabaseConfig `toml:"database"`
	EtlSources      []EtlSource    `toml:"etl_sources"`
	Cache           CacheConfig    `toml:"cache"`
	NumMarkers      int            `toml:"num_markers"`
	ExtractorThreads int           `toml:"extractor_threads"`
	ReadOnly        bool           `toml:"read_only"`
	OnlineDelete    *int           `toml:"online_delete"`
	StartSequence   *uint32        `toml:"start_sequence"`
	FinishSequence  *uint32        `toml:"finish_sequence"`
	SSLCertFile     string         `toml:"ssl_cert_file"`
	SSLKeyFile      string         `toml:"ssl_key_file"`
	Log             LogConfig      `toml:"log"`

	MetricsListenAddr string `toml:"metrics_listen_addr"`
}

// Default returns a Config with the documented defaults applied.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Type: DatabaseMock},
		Cache: CacheConfig{
			Load:     CacheLoadAsync,
			NumDiffs: 10,
			L2Bytes:  64 * 1024 * 1024,
		},
		NumMarkers:       16,
		ExtractorThreads: 1,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		MetricsListenAddr: "127.0.0.1:9090",
	}
}

// Load reads and validates a TOML configuration file.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decoding %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency, independent of
// any live backend or network resource.
func (c Config) Validate() error {
	switch c.Database.Type {
	case DatabaseCassandra, DatabasePostgres, DatabaseMock:
	default:
		return fmt.Errorf("config: database.type must be one of cassandra|postgres|mock, got %q", c.Database.Type)
	}
	if !c.ReadOnly && len(c.EtlSources) == 0 {
		return fmt.Errorf("config: etl_sources must be non-empty unless read_only is set")
	}
	switch c.Cache.Load {
	case CacheLoadSync, CacheLoadAsync, CacheLoadNone, "":
	default:
		return fmt.Errorf("config: cache.load must be one of sync|async|none, got %q", c.Cache.Load)
	}
	if c.NumMarkers <= 0 {
		return fmt.Errorf("config: num_markers must be positive")
	}
	if c.ExtractorThreads <= 0 {
		return fmt.Errorf("config: extractor_threads must be positive")
	}
	if c.OnlineDelete != nil && *c.OnlineDelete <= 0 {
		return fmt.Errorf("config: online_delete must be positive when set")
	}
	if c.StartSequence != nil && c.FinishSequence != nil && *c.StartSequence > *c.FinishSequence {
		return fmt.Errorf("config: start_sequence must be <= finish_sequence")
	}
	if (c.SSLCertFile == "") != (c.SSLKeyFile == "") {
		return fmt.Errorf("config: ssl_cert_file and ssl_key_file must be set together")
	}
	return nil
}

// RotationInterval returns the configured hour interval as a time.Duration.
func (l LogConfig) RotationInterval() time.Duration {
	if l.RotationHourInterval <= 0 {
		return 0
	}
	return time.Duration(l.RotationHourInterval) * time.Hour
}

// WriteExample writes a fully-populated example TOML file, used by the
// `example-config` command to document every key.
func WriteExample(path string) error {
	cfg := Default()
	cfg.EtlSources = []EtlSource{{IP: "127.0.0.1", WSPort: 6006, GRPCPort: 50051}}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}
