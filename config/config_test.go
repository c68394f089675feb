package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/zonegc/gc"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
nursery = "1MiB"
mark-stack-limit = 64
slice-budget = -1
slice-interval = "250us"
sweep-group-depth-limit = 10
parallel-sweep = 8
compacting = true
malloc-trigger = "4 MB"
max-malloc = "1GiB"
gc-trigger = "128KiB"
max-gc = ""
heap-trigger = "512MiB"

[log]
level = "debug"
file = "gc.log"

[log.levels]
"zonegc.telemetry" = "warning"

[telemetry]
enabled = true
database = "stats.db"
snapshot-every = 5
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.GC.Nursery != "1MiB" || c.GC.MarkStackLimit != 64 || !c.GC.Compacting {
		t.Errorf("gc = %+v", c.GC)
	}
	if c.Log.Level != "debug" || c.Log.Levels["zonegc.telemetry"] != "warning" {
		t.Errorf("log = %+v", c.Log)
	}
	if !c.Telemetry.Enabled || c.Telemetry.SnapshotEvery != 5 {
		t.Errorf("telemetry = %+v", c.Telemetry)
	}
	if want := filepath.Join(filepath.Dir(c.Path), "stats.db"); c.Telemetry.Database != want {
		t.Errorf("database = %q, want %q", c.Telemetry.Database, want)
	}

	g, err := c.ToGC()
	if err != nil {
		t.Fatalf("ToGC: %v", err)
	}
	want := gc.Config{
		NurseryBytes:         1 << 20,
		MarkStackLimit:       64,
		SliceBudget:          gc.Unlimited,
		SliceInterval:        250 * time.Microsecond,
		SweepGroupDepthLimit: 10,
		ParallelSweep:        8,
		Compacting:           true,
		MallocTriggerBytes:   4_000_000,
		MaxMallocBytes:       1 << 30,
		GCTriggerBytes:       128 << 10,
		HeapTriggerBytes:     512 << 20,
	}
	if g != want {
		t.Errorf("ToGC = %+v\nwant   %+v", g, want)
	}
}

func TestDefaultsMatchRuntime(t *testing.T) {
	g, err := Default().ToGC()
	if err != nil {
		t.Fatalf("ToGC: %v", err)
	}
	if g != gc.DefaultConfig() {
		t.Errorf("Default().ToGC() = %+v\nwant              %+v", g, gc.DefaultConfig())
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[gc]
parallel-sweep = 2
`)
	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d := Default()
	if c.GC.ParallelSweep != 2 {
		t.Errorf("parallel-sweep = %d, want 2", c.GC.ParallelSweep)
	}
	if c.GC.Nursery != d.GC.Nursery || c.GC.SliceInterval != d.GC.SliceInterval {
		t.Errorf("defaults not applied: %+v", c.GC)
	}
	if c.Log.Level != "notice" || c.Telemetry.Enabled {
		t.Errorf("defaults not applied: %+v %+v", c.Log, c.Telemetry)
	}
}

func TestInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "[gc]\nturbo = true\n"},
		{"unknown table", "[vm]\nx = 1\n"},
		{"zero slice budget", "[gc]\nslice-budget = 0\n"},
		{"too many sweepers", "[gc]\nparallel-sweep = 100\n"},
		{"bad size", "[gc]\nnursery = \"lots\"\n"},
		{"bad interval", "[gc]\nslice-interval = \"soon\"\n"},
		{"bad level", "[log]\nlevel = \"loud\"\n"},
		{"bad logger level", "[log.levels]\n\"zonegc.gc\" = \"chatty\"\n"},
		{"telemetry without database", "[telemetry]\nenabled = true\ndatabase = \"\"\n"},
		{"negative snapshots", "[telemetry]\nsnapshot-every = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content), "test.toml")
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse([]byte("[gc\n"), "broken.toml")
	if err == nil || errors.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want a parse error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[gc]\nparallel-sweep = 3\n")
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(nested)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c == nil || c.GC.ParallelSweep != 3 {
		t.Fatalf("config = %+v", c)
	}
}

func TestCheckedInConfigLoads(t *testing.T) {
	c, err := Load("..")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg, err := c.ToGC()
	if err != nil {
		t.Fatal(err)
	}
	if cfg != gc.DefaultConfig() {
		t.Errorf("ToGC() = %+v, want the runtime defaults", cfg)
	}
	if c.Log.Levels["zonegc.telemetry"] != "warning" {
		t.Errorf("levels = %v", c.Log.Levels)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c != nil {
		t.Fatalf("found %s", c.Path)
	}
}

// ---------------------------------------------------------------------------
// Logging
// ---------------------------------------------------------------------------

func TestVerbosity(t *testing.T) {
	tests := []struct {
		level string
		want  int
	}{
		{"none", -4},
		{"critical", -3},
		{"warning", -1},
		{"notice", 0},
		{"info", 1},
		{"debug", 2},
		{"bogus", 0},
	}
	for _, tt := range tests {
		if got := (LogConfig{Level: tt.level}).Verbosity(); got != tt.want {
			t.Errorf("Verbosity(%q) = %d, want %d", tt.level, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("info"); err != nil || l != commonlog.Info {
		t.Errorf("ParseLevel(info) = %v, %v", l, err)
	}
	if _, err := ParseLevel("INFO"); !errors.Is(err, ErrInvalid) {
		t.Errorf("ParseLevel(INFO) err = %v", err)
	}
}

func TestApplyRejectsBadOverride(t *testing.T) {
	l := LogConfig{Level: "notice", Levels: map[string]string{"zonegc.gc": "loud"}}
	if err := l.Apply(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Apply err = %v", err)
	}
}
