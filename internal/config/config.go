// Package config provides the engine configuration: defaults, YAML/JSON
// file loading, environment overrides, and validation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/storage"
)

// Duration is a time.Duration that reads "90s"-style strings from YAML
// and JSON.
type Duration time.Duration

// UnmarshalYAML decodes a duration string or integer nanosecond count.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		var ns int64
		if err := node.Decode(&ns); err != nil {
			return fmt.Errorf("invalid duration %q", node.Value)
		}
		*d = Duration(ns)
		return nil
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON decodes a duration string or integer nanosecond count.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q", s)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	*d = Duration(ns)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds the engine configuration.
type Config struct {
	// DBDirectory is the base directory for all persistent state.
	DBDirectory string `json:"db_directory" yaml:"db-directory"`

	// ListenAddr is the HTTP endpoint bound by the start command.
	ListenAddr string `json:"listen_addr" yaml:"listen-addr"`

	// MaxPartitionSize is the target number of events per shard. Must be
	// a power of two.
	MaxPartitionSize uint64 `json:"max_partition_size" yaml:"max-partition-size"`

	// MaxResidentPartitions caps concurrently in-memory shards per query.
	MaxResidentPartitions int `json:"max_resident_partitions" yaml:"max-resident-partitions"`

	// MaxTastePartitions is the size of the first evaluation wave. Must
	// not exceed MaxResidentPartitions.
	MaxTastePartitions int `json:"max_taste_partitions" yaml:"max-taste-partitions"`

	// MaxQueries is the concurrency cap on active queries.
	MaxQueries int `json:"max_queries" yaml:"max-queries"`

	// MetaIndexFPRate is the target false-positive rate of the meta-index
	// bloom synopses. Must lie in (0, 1).
	MetaIndexFPRate float64 `json:"meta_index_fp_rate" yaml:"meta-index-fp-rate"`

	// MaxSegmentSize is the builder size threshold in bytes.
	MaxSegmentSize int `json:"max_segment_size" yaml:"max-segment-size"`

	// SegmentsCached is the number of decoded segments kept in memory.
	SegmentsCached int `json:"segments_cached" yaml:"segments-cached"`

	// ShutdownGracePeriod bounds graceful shutdown before lingering
	// components are abandoned.
	ShutdownGracePeriod Duration `json:"shutdown_grace_period" yaml:"shutdown-grace-period"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level" yaml:"log-level"`

	// Archive configures optional object-storage archival of sealed
	// segments.
	Archive ArchiveConfig `json:"archive" yaml:"archive"`
}

// ArchiveConfig configures segment archival.
type ArchiveConfig struct {
	// Type selects the archive backend: none, local, or s3.
	Type string `json:"type" yaml:"type"`

	// Path is the local archive directory (for the local type).
	Path string `json:"path" yaml:"path"`

	// S3 configures the S3 backend.
	S3 storage.S3Config `json:"s3" yaml:"s3"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DBDirectory:           "vast.db",
		ListenAddr:            ":42000",
		MaxPartitionSize:      1 << 20,
		MaxResidentPartitions: 10,
		MaxTastePartitions:    5,
		MaxQueries:            10,
		MetaIndexFPRate:       0.01,
		MaxSegmentSize:        128 << 20,
		SegmentsCached:        10,
		ShutdownGracePeriod:   Duration(3 * time.Minute),
		LogLevel:              "info",
		Archive:               ArchiveConfig{Type: "none"},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidConfiguration, err, "reading config file %s", path)
	}
	cfg := DefaultConfig()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindInvalidConfiguration, err, "parsing YAML config %s", path)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindInvalidConfiguration, err, "parsing JSON config %s", path)
		}
	default:
		return nil, errors.New(errors.KindInvalidConfiguration, "unsupported config file format: %s", ext)
	}
	return cfg, nil
}

// LoadFromEnv applies VAST_* environment overrides.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VAST_DB_DIRECTORY"); v != "" {
		cfg.DBDirectory = v
	}
	if v := os.Getenv("VAST_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("VAST_MAX_PARTITION_SIZE"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.MaxPartitionSize = n
		}
	}
	if v := os.Getenv("VAST_MAX_RESIDENT_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxResidentPartitions = n
		}
	}
	if v := os.Getenv("VAST_MAX_TASTE_PARTITIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTastePartitions = n
		}
	}
	if v := os.Getenv("VAST_MAX_QUERIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxQueries = n
		}
	}
	if v := os.Getenv("VAST_META_INDEX_FP_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MetaIndexFPRate = f
		}
	}
	if v := os.Getenv("VAST_MAX_SEGMENT_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSegmentSize = n
		}
	}
	if v := os.Getenv("VAST_SEGMENTS_CACHED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SegmentsCached = n
		}
	}
	if v := os.Getenv("VAST_SHUTDOWN_GRACE_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownGracePeriod = Duration(d)
		}
	}
	if v := os.Getenv("VAST_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("VAST_ARCHIVE_TYPE"); v != "" {
		cfg.Archive.Type = v
	}
	if v := os.Getenv("VAST_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}
	if v := os.Getenv("VAST_ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3.Bucket = v
	}
	if v := os.Getenv("VAST_ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3.Region = v
	}
	if v := os.Getenv("VAST_ARCHIVE_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3.Endpoint = v
	}
}

// Validate checks the configuration; violations are fatal at startup.
func (c *Config) Validate() error {
	if c.DBDirectory == "" {
		return errors.New(errors.KindInvalidConfiguration, "db-directory is required")
	}
	if c.MaxPartitionSize == 0 || c.MaxPartitionSize&(c.MaxPartitionSize-1) != 0 {
		return errors.New(errors.KindInvalidConfiguration,
			"max-partition-size must be a positive power of two, got %d", c.MaxPartitionSize)
	}
	if c.MaxResidentPartitions <= 0 {
		return errors.New(errors.KindInvalidConfiguration,
			"max-resident-partitions must be positive, got %d", c.MaxResidentPartitions)
	}
	if c.MaxTastePartitions <= 0 || c.MaxTastePartitions > c.MaxResidentPartitions {
		return errors.New(errors.KindInvalidConfiguration,
			"max-taste-partitions must lie in [1, max-resident-partitions], got %d", c.MaxTastePartitions)
	}
	if c.MaxQueries <= 0 {
		return errors.New(errors.KindInvalidConfiguration,
			"max-queries must be positive, got %d", c.MaxQueries)
	}
	if c.MetaIndexFPRate <= 0 || c.MetaIndexFPRate >= 1 {
		return errors.New(errors.KindInvalidConfiguration,
			"meta-index-fp-rate must lie in (0, 1), got %g", c.MetaIndexFPRate)
	}
	if c.MaxSegmentSize <= 0 {
		return errors.New(errors.KindInvalidConfiguration,
			"max-segment-size must be positive, got %d", c.MaxSegmentSize)
	}
	if c.SegmentsCached <= 0 {
		return errors.New(errors.KindInvalidConfiguration,
			"segments-cached must be positive, got %d", c.SegmentsCached)
	}
	switch c.Archive.Type {
	case "", "none", "local", "s3":
	default:
		return errors.New(errors.KindInvalidConfiguration,
			"archive.type must be none, local, or s3, got %s", c.Archive.Type)
	}
	if c.Archive.Type == "s3" && c.Archive.S3.Bucket == "" {
		return errors.New(errors.KindInvalidConfiguration,
			"archive.s3.bucket is required for s3 archival")
	}
	return nil
}

// SchemaPath returns the path of the schema registry snapshot.
func (c *Config) SchemaPath() string {
	return filepath.Join(c.DBDirectory, "schema.bin")
}

// TypeRegistryPath returns the path of the layout history snapshot.
func (c *Config) TypeRegistryPath() string {
	return filepath.Join(c.DBDirectory, "type-registry.bin")
}
