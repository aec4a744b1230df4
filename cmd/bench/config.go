package main

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config mirrors the harness YAML file. Command-line flags override
// whatever the file sets.
type Config struct {
	Name        string `yaml:"name"`         // eviction policy
	Capacity    uint64 `yaml:"capacity"`     // entries
	Shards      int    `yaml:"shards"`       // 0 = auto
	Requests    uint64 `yaml:"requests"`     // total operations
	Threads     int    `yaml:"threads"`      // worker goroutines
	DiskLatency int    `yaml:"disk_latency"` // simulated miss penalty, microseconds
	Trace       string `yaml:"trace"`        // workload kind
	Path        string `yaml:"path"`         // trace file, unused for zipf

	Keys  uint64  `yaml:"keys"`   // zipf keyspace size
	ZipfS float64 `yaml:"zipf_s"` // zipf skew, s > 1
	ZipfV float64 `yaml:"zipf_v"` // zipf v, >= 1
}

func defaultConfig() Config {
	return Config{
		Name:        "lru",
		Capacity:    100_000,
		Requests:    1_000_000,
		Threads:     2 * runtime.GOMAXPROCS(0),
		DiskLatency: 100,
		Trace:       "zipf",
		Keys:        1_000_000,
		ZipfS:       1.1,
		ZipfV:       1.0,
	}
}

func loadConfig(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config yaml file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal yaml from %s: %w", path, err)
	}
	return nil
}

func (c Config) validate() error {
	switch c.Trace {
	case "zipf":
	case "twitter":
		return fmt.Errorf("trace %q needs an external trace loader, which this harness does not ship", c.Trace)
	default:
		return fmt.Errorf("unknown trace kind %q", c.Trace)
	}
	if c.Capacity == 0 {
		return fmt.Errorf("capacity must be positive")
	}
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.Requests < uint64(c.Threads) {
		return fmt.Errorf("requests (%d) must cover at least one per thread (%d)", c.Requests, c.Threads)
	}
	if c.Keys < 2 {
		return fmt.Errorf("keys must be at least 2, got %d", c.Keys)
	}
	if c.ZipfS <= 1 {
		return fmt.Errorf("zipf_s must be > 1, got %v", c.ZipfS)
	}
	if c.ZipfV < 1 {
		return fmt.Errorf("zipf_v must be >= 1, got %v", c.ZipfV)
	}
	return nil
}
