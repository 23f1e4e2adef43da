// Package config loads tiercache settings from YAML files and the
// environment and turns them into cache options.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/IvanBrykalov/tiercache/cache"
	"github.com/IvanBrykalov/tiercache/codec"
	"github.com/IvanBrykalov/tiercache/disk"
	"github.com/IvanBrykalov/tiercache/lifecycle"
	"github.com/IvanBrykalov/tiercache/memory"
	"github.com/IvanBrykalov/tiercache/metrics/prom"
)

// Configuration is the on-disk configuration of one cache namespace.
type Configuration struct {
	Name     string `yaml:"name"`
	Dir      string `yaml:"dir"`
	LogLevel string `yaml:"log_level"`
	Workers  int    `yaml:"workers"`

	Memory  memory.Options `yaml:"memory"`
	Disk    disk.Options   `yaml:"disk"`
	Watcher WatcherConfig  `yaml:"memory_watcher"`
	Metrics MetricsConfig  `yaml:"metrics"`
}

// WatcherConfig drives a lifecycle.Watcher that raises memory pressure.
type WatcherConfig struct {
	// HeapLimit in bytes; 0 disables the watcher.
	HeapLimit uint64        `yaml:"heap_limit"`
	Interval  time.Duration `yaml:"interval"`
}

// MetricsConfig enables Prometheus adapters for both tiers.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// NewDefault returns the configuration used when no file is given.
func NewDefault() *Configuration {
	return &Configuration{
		Name:     cache.DefaultName,
		LogLevel: "info",
		Disk: disk.Options{
			MaxAge:          disk.DefaultMaxAge,
			SweepInterval:   disk.DefaultSweepInterval,
			InlineThreshold: disk.DefaultInlineThreshold,
			CodecName:       codec.Default.Name(),
		},
		Watcher: WatcherConfig{Interval: 5 * time.Second},
		Metrics: MetricsConfig{Namespace: "tiercache"},
	}
}

// LoadFromFile overlays the YAML file onto c. Unknown keys are errors.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// LoadFromEnv overlays TIERCACHE_* environment variables onto c.
// Malformed numeric values are reported rather than ignored.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("TIERCACHE_NAME"); val != "" {
		c.Name = val
	}
	if val := os.Getenv("TIERCACHE_DIR"); val != "" {
		c.Dir = val
	}
	if val := os.Getenv("TIERCACHE_LOG_LEVEL"); val != "" {
		c.LogLevel = val
	}
	if val := os.Getenv("TIERCACHE_DISK_CODEC"); val != "" {
		c.Disk.CodecName = val
	}
	if val := os.Getenv("TIERCACHE_DISK_COMPRESS"); val != "" {
		c.Disk.Compress = strings.ToLower(val) == "true"
	}

	var errs []error
	if val := os.Getenv("TIERCACHE_MEMORY_COUNT_LIMIT"); val != "" {
		n, err := strconv.Atoi(val)
		errs = append(errs, envErr("TIERCACHE_MEMORY_COUNT_LIMIT", err))
		c.Memory.CountLimit = n
	}
	if val := os.Getenv("TIERCACHE_MEMORY_COST_LIMIT"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		errs = append(errs, envErr("TIERCACHE_MEMORY_COST_LIMIT", err))
		c.Memory.CostLimit = n
	}
	if val := os.Getenv("TIERCACHE_DISK_SIZE_LIMIT"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		errs = append(errs, envErr("TIERCACHE_DISK_SIZE_LIMIT", err))
		c.Disk.SizeLimit = n
	}
	if val := os.Getenv("TIERCACHE_DISK_MAX_AGE"); val != "" {
		d, err := time.ParseDuration(val)
		errs = append(errs, envErr("TIERCACHE_DISK_MAX_AGE", err))
		c.Disk.MaxAge = d
	}
	return errors.Join(errs...)
}

func envErr(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}

// SaveToFile writes c as YAML, creating the parent directory.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks ranges and names. Negative durations are allowed: they
// disable the sweep or expiry.
func (c *Configuration) Validate() error {
	if c.Name == "" || c.Name == "." || c.Name == ".." || strings.ContainsAny(c.Name, `/\`) {
		return fmt.Errorf("invalid namespace name %q", c.Name)
	}
	if c.Memory.CostLimit < 0 || c.Memory.CountLimit < 0 {
		return errors.New("memory limits must not be negative")
	}
	if c.Disk.SizeLimit < 0 || c.Disk.CountLimit < 0 {
		return errors.New("disk limits must not be negative")
	}
	if c.Disk.InlineThreshold < 0 {
		return errors.New("disk inline_threshold must not be negative")
	}
	if _, ok := codec.ByName(c.Disk.CodecName); !ok {
		return fmt.Errorf("unknown codec %q (known: %s)", c.Disk.CodecName, strings.Join(codec.Names(), ", "))
	}
	if _, err := zap.ParseAtomicLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	if c.Watcher.HeapLimit > 0 && c.Watcher.Interval < 0 {
		return errors.New("memory_watcher interval must not be negative")
	}
	return nil
}

// NewLogger builds a production zap logger at level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}

// CacheOptions converts c into cache.Options. signals may be nil. When
// metrics are enabled, one adapter per tier is registered on reg
// (nil => prometheus.DefaultRegisterer) under subsystems "memory" and
// "disk", labelled with the namespace name.
func (c *Configuration) CacheOptions(log *zap.Logger, signals lifecycle.Source, reg prometheus.Registerer) cache.Options {
	opt := cache.Options{
		Name:    c.Name,
		Dir:     c.Dir,
		Memory:  c.Memory,
		Disk:    c.Disk,
		Workers: c.Workers,
		Logger:  log,
	}
	opt.Memory.Signals = signals
	if c.Metrics.Enabled {
		labels := prometheus.Labels{"cache": c.Name}
		opt.Memory.Metrics = prom.New(reg, c.Metrics.Namespace, "memory", labels)
		opt.Disk.Metrics = prom.New(reg, c.Metrics.Namespace, "disk", labels)
	}
	return opt
}

// NewWatcher returns a heap watcher raising on b, or nil when the
// configuration disables it. The caller starts and stops it.
func (c *Configuration) NewWatcher(b *lifecycle.Broadcaster, log *zap.Logger) *lifecycle.Watcher {
	if c.Watcher.HeapLimit == 0 {
		return nil
	}
	return lifecycle.NewWatcher(b, lifecycle.WatcherConfig{
		HeapLimit: c.Watcher.HeapLimit,
		Interval:  c.Watcher.Interval,
		Logger:    log,
	})
}
