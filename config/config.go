// Package config handles zonegc.toml collector configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/chazu/zonegc/gc"
)

// FileName is the configuration file FindAndLoad looks for.
const FileName = "zonegc.toml"

var log = commonlog.GetLogger("zonegc.config")

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config represents a zonegc.toml file.
type Config struct {
	GC        GCConfig        `toml:"gc" json:"gc"`
	Log       LogConfig       `toml:"log" json:"log"`
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`

	// Path is the file the configuration was loaded from (set at load
	// time, empty for defaults).
	Path string `toml:"-" json:"-"`
}

// GCConfig tunes the collector. Byte sizes are strings such as "256KiB";
// an empty size means no limit.
type GCConfig struct {
	Nursery              string `toml:"nursery" json:"nursery"`
	MarkStackLimit       int    `toml:"mark-stack-limit" json:"mark-stack-limit"`
	SliceBudget          int    `toml:"slice-budget" json:"slice-budget"`
	SliceInterval        string `toml:"slice-interval" json:"slice-interval"`
	SweepGroupDepthLimit int    `toml:"sweep-group-depth-limit" json:"sweep-group-depth-limit"`
	ParallelSweep        int    `toml:"parallel-sweep" json:"parallel-sweep"`
	Compacting           bool   `toml:"compacting" json:"compacting"`
	MallocTrigger        string `toml:"malloc-trigger" json:"malloc-trigger"`
	MaxMalloc            string `toml:"max-malloc" json:"max-malloc"`
	GCTrigger            string `toml:"gc-trigger" json:"gc-trigger"`
	MaxGC                string `toml:"max-gc" json:"max-gc"`
	HeapTrigger          string `toml:"heap-trigger" json:"heap-trigger"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Level string `toml:"level" json:"level"`
	File  string `toml:"file" json:"file,omitempty"`
	// Levels overrides the level of individual loggers, keyed by logger
	// path ("zonegc.gc").
	Levels map[string]string `toml:"levels" json:"levels,omitempty"`
}

// TelemetryConfig configures the sqlite cycle history.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled" json:"enabled"`
	Database string `toml:"database" json:"database"`
	// SnapshotEvery records a heap snapshot every N cycles; 0 disables
	// snapshots.
	SnapshotEvery int `toml:"snapshot-every" json:"snapshot-every"`
}

// Default returns the configuration used when no file is found. It
// matches gc.DefaultConfig.
func Default() *Config {
	return &Config{
		GC: GCConfig{
			Nursery:              "256KiB",
			MarkStackLimit:       4096,
			SliceBudget:          1000,
			SliceInterval:        "10ms",
			SweepGroupDepthLimit: 1000,
			ParallelSweep:        4,
			MallocTrigger:        "32MiB",
			GCTrigger:            "64MiB",
			HeapTrigger:          "96MiB",
		},
		Log: LogConfig{Level: "notice"},
		Telemetry: TelemetryConfig{
			Database: "zonegc-stats.db",
		},
	}
}

// Parse decodes TOML data over the defaults and validates the result. name
// is used in error messages.
func Parse(data []byte, name string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(string(data), c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalid, name, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return c, nil
}

// LoadFile parses the configuration file at path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	c, err := Parse(data, path)
	if err != nil {
		return nil, err
	}
	c.Path, err = filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	// A relative database path is relative to the configuration file.
	if db := c.Telemetry.Database; db != "" && !filepath.IsAbs(db) {
		c.Telemetry.Database = filepath.Join(filepath.Dir(c.Path), db)
	}
	log.Debugf("loaded %s", c.Path)
	return c, nil
}

// Load parses the zonegc.toml file in dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// FindAndLoad walks up from startDir to find a zonegc.toml file, then
// loads and returns it. Returns nil if no file is found.
func FindAndLoad(startDir string) (*Config, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// ---------------------------------------------------------------------------
// Conversion
// ---------------------------------------------------------------------------

// ToGC converts the [gc] table to a runtime configuration.
func (c *Config) ToGC() (gc.Config, error) {
	g := c.GC
	cfg := gc.Config{
		MarkStackLimit:       g.MarkStackLimit,
		SliceBudget:          g.SliceBudget,
		SweepGroupDepthLimit: g.SweepGroupDepthLimit,
		ParallelSweep:        g.ParallelSweep,
		Compacting:           g.Compacting,
	}
	sizes := []struct {
		key string
		src string
		dst *uint64
	}{
		{"nursery", g.Nursery, &cfg.NurseryBytes},
		{"malloc-trigger", g.MallocTrigger, &cfg.MallocTriggerBytes},
		{"max-malloc", g.MaxMalloc, &cfg.MaxMallocBytes},
		{"gc-trigger", g.GCTrigger, &cfg.GCTriggerBytes},
		{"max-gc", g.MaxGC, &cfg.MaxGCBytes},
		{"heap-trigger", g.HeapTrigger, &cfg.HeapTriggerBytes},
	}
	for _, s := range sizes {
		n, err := parseBytes(s.src)
		if err != nil {
			return gc.Config{}, fmt.Errorf("%w: gc.%s: %w", ErrInvalid, s.key, err)
		}
		*s.dst = n
	}
	d, err := time.ParseDuration(g.SliceInterval)
	if err != nil {
		return gc.Config{}, fmt.Errorf("%w: gc.slice-interval: %w", ErrInvalid, err)
	}
	cfg.SliceInterval = d
	return cfg, nil
}

func parseBytes(s string) (uint64, error) {
	if s == "" {
		return 0, nil
	}
	return humanize.ParseBytes(s)
}
