package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"lsmkv/pkg/dberrors"
)

// Config is the root configuration of an lsmkv process.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
}

type StorageConfig struct {
	RootPath    string            `yaml:"path"`
	Memtable    MemtableConfig    `yaml:"memtable"`
	SSTable     SSTableConfig     `yaml:"sstable"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	WAL         WALConfig         `yaml:"wal"`
}

type MemtableConfig struct {
	// A flush runs once the memtable's encoded size reaches this many bytes.
	FlushThresholdBytes int `yaml:"flush_threshold"`
}

type SSTableConfig struct {
	// Fraction of records that get a sparse index checkpoint, in (0,1].
	IndexRatio float64 `yaml:"index_ratio"`
}

type BloomFilterConfig struct {
	FPRate float64 `yaml:"fp_rate"`
}

type WALConfig struct {
	Enabled bool `yaml:"enabled"`
	Sync    bool `yaml:"sync"`
}

type LoggerConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns a baseline development config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "INFO",
			JSON:  false,
		},
		Storage: StorageConfig{
			RootPath: "./data",
			Memtable: MemtableConfig{
				FlushThresholdBytes: 64 << 10,
			},
			SSTable: SSTableConfig{
				IndexRatio: 0.1,
			},
			BloomFilter: BloomFilterConfig{
				FPRate: 0.01,
			},
			WAL: WALConfig{
				Enabled: true,
				Sync:    true,
			},
		},
	}
}

// Load reads a YAML file over Default. A missing file yields Default.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse config %s: %w", dberrors.ErrInvalidInput, path, err)
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Storage.RootPath == "" {
		return fmt.Errorf("%w: storage.path is empty", dberrors.ErrInvalidInput)
	}
	if c.Storage.Memtable.FlushThresholdBytes <= 0 {
		return fmt.Errorf("%w: storage.memtable.flush_threshold must be positive, got %d",
			dberrors.ErrInvalidInput, c.Storage.Memtable.FlushThresholdBytes)
	}
	if r := c.Storage.SSTable.IndexRatio; r <= 0 || r > 1 {
		return fmt.Errorf("%w: storage.sstable.index_ratio must be in (0,1], got %v", dberrors.ErrInvalidInput, r)
	}
	if p := c.Storage.BloomFilter.FPRate; p <= 0 || p >= 1 {
		return fmt.Errorf("%w: storage.bloom_filter.fp_rate must be in (0,1), got %v", dberrors.ErrInvalidInput, p)
	}
	if _, err := c.Logger.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel maps the configured level name onto slog.
func (l LoggerConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", dberrors.ErrInvalidInput, l.Level)
	}
}
