// Package config provides configuration loading and validation for the
// collector. Supports YAML files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds all configuration for one collected heap.
type Config struct {
	Heap          HeapConfig          `yaml:"heap"`
	Collector     CollectorConfig     `yaml:"collector"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type HeapConfig struct {
	Regions        int    `yaml:"regions" env:"GCENGINE_HEAP_REGIONS"`
	RegionWords    int    `yaml:"regionWords" env:"GCENGINE_HEAP_REGION_WORDS"`
	Base           uint64 `yaml:"base" env:"GCENGINE_HEAP_BASE"`
	CompressedRefs bool   `yaml:"compressedRefs" env:"GCENGINE_HEAP_COMPRESSED_REFS"`
	Threads        int    `yaml:"threads" env:"GCENGINE_HEAP_THREADS"`
	EdenRegions    int    `yaml:"edenRegions" env:"GCENGINE_HEAP_EDEN_REGIONS"`
}

type CollectorConfig struct {
	Workers                int  `yaml:"workers" env:"GCENGINE_WORKERS"`
	DeadRatioPercent       int  `yaml:"deadRatioPercent" env:"GCENGINE_DEAD_RATIO"`
	TenuringThreshold      int  `yaml:"tenuringThreshold" env:"GCENGINE_TENURING_THRESHOLD"`
	LABWords               int  `yaml:"labWords" env:"GCENGINE_LAB_WORDS"`
	DirectAllocDivisor     int  `yaml:"directAllocDivisor" env:"GCENGINE_DIRECT_ALLOC_DIVISOR"`
	ChunkThreshold         int  `yaml:"chunkThreshold" env:"GCENGINE_CHUNK_THRESHOLD"`
	ChunkStride            int  `yaml:"chunkStride" env:"GCENGINE_CHUNK_STRIDE"`
	MaxSurvivorRegions     int  `yaml:"maxSurvivorRegions" env:"GCENGINE_MAX_SURVIVOR_REGIONS"`
	QueueCapacity          int  `yaml:"queueCapacity" env:"GCENGINE_QUEUE_CAPACITY"`
	StripeCards            int  `yaml:"stripeCards" env:"GCENGINE_STRIPE_CARDS"`
	SerialCompaction       bool `yaml:"serialCompaction" env:"GCENGINE_SERIAL_COMPACTION"`
	FullOnPromotionFailure bool `yaml:"fullOnPromotionFailure" env:"GCENGINE_FULL_ON_PROMOTION_FAILURE"`
	VerifyHeap             bool `yaml:"verifyHeap" env:"GCENGINE_VERIFY_HEAP"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr" env:"GCENGINE_METRICS_ADDR"`
	LogLevel    string `yaml:"logLevel" env:"GCENGINE_LOG_LEVEL"`
	LogFormat   string `yaml:"logFormat" env:"GCENGINE_LOG_FORMAT"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Heap: HeapConfig{
			Regions:     64,
			RegionWords: 4096, // 32KB
			Base:        0x10000,
			Threads:     4,
			EdenRegions: 16,
		},
		Collector: CollectorConfig{
			Workers:                4,
			DeadRatioPercent:       5,
			TenuringThreshold:      7,
			LABWords:               256,
			DirectAllocDivisor:     4,
			ChunkThreshold:         256,
			ChunkStride:            128,
			MaxSurvivorRegions:     8,
			QueueCapacity:          1 << 13,
			StripeCards:            16,
			SerialCompaction:       true,
			FullOnPromotionFailure: false,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load reads a YAML file over the defaults, applies environment overrides
// and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(cfg, nil); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result without
// consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides every field carrying an env tag whose variable is set
// in environ. A nil environ reads the process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	err := env.ParseWithOptions(cfg, env.Options{
		Environment: environ,
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(uint64(0)): parseUint64,
		},
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// parseUint64 accepts 0x-prefixed values so addresses read naturally.
func parseUint64(v string) (any, error) {
	return strconv.ParseUint(v, 0, 64)
}

// Validate checks the configuration for values the collector cannot run with.
func (c *Config) Validate() error {
	h, col := c.Heap, c.Collector
	switch {
	case h.Regions < 1:
		return fmt.Errorf("%w: heap.regions must be positive, got %d", ErrInvalid, h.Regions)
	case h.RegionWords < 64 || h.RegionWords&(h.RegionWords-1) != 0:
		return fmt.Errorf("%w: heap.regionWords must be a power of two >= 64, got %d", ErrInvalid, h.RegionWords)
	case h.Base%8 != 0:
		return fmt.Errorf("%w: heap.base must be word aligned, got %#x", ErrInvalid, h.Base)
	case h.Threads < 1:
		return fmt.Errorf("%w: heap.threads must be positive, got %d", ErrInvalid, h.Threads)
	case h.EdenRegions < 1 || h.EdenRegions > h.Regions:
		return fmt.Errorf("%w: heap.edenRegions must be in [1, %d], got %d", ErrInvalid, h.Regions, h.EdenRegions)
	case col.Workers < 1:
		return fmt.Errorf("%w: collector.workers must be positive, got %d", ErrInvalid, col.Workers)
	case col.DeadRatioPercent < 0 || col.DeadRatioPercent > 100:
		return fmt.Errorf("%w: collector.deadRatioPercent must be in [0, 100], got %d", ErrInvalid, col.DeadRatioPercent)
	case col.TenuringThreshold < 0 || col.TenuringThreshold > 15:
		return fmt.Errorf("%w: collector.tenuringThreshold must be in [0, 15], got %d", ErrInvalid, col.TenuringThreshold)
	case col.LABWords < 2 || col.LABWords%2 != 0 || col.LABWords > h.RegionWords:
		return fmt.Errorf("%w: collector.labWords must be even and in [2, %d], got %d", ErrInvalid, h.RegionWords, col.LABWords)
	case col.DirectAllocDivisor < 1:
		return fmt.Errorf("%w: collector.directAllocDivisor must be positive, got %d", ErrInvalid, col.DirectAllocDivisor)
	case col.ChunkStride < 1 || col.ChunkThreshold < col.ChunkStride:
		return fmt.Errorf("%w: collector.chunkThreshold (%d) must be >= chunkStride (%d) >= 1", ErrInvalid, col.ChunkThreshold, col.ChunkStride)
	case col.MaxSurvivorRegions < 0:
		return fmt.Errorf("%w: collector.maxSurvivorRegions must not be negative, got %d", ErrInvalid, col.MaxSurvivorRegions)
	case col.QueueCapacity < 2:
		return fmt.Errorf("%w: collector.queueCapacity must be >= 2, got %d", ErrInvalid, col.QueueCapacity)
	case col.StripeCards < 1:
		return fmt.Errorf("%w: collector.stripeCards must be positive, got %d", ErrInvalid, col.StripeCards)
	}
	return nil
}

// Marshal encodes the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
