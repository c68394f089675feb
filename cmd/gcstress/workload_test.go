package main

import (
	"maps"
	"testing"

	"github.com/chazu/zonegc/gc"
)

func runWorkload(t *testing.T, cfg gc.Config, seed uint64, steps int) (*gc.Runtime, *workload) {
	t.Helper()
	rt := gc.NewRuntime(cfg)
	w := newWorkload(rt, seed, 4, 64)
	for i := 0; i < steps; i++ {
		if err := w.step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if i%50 == 0 {
			rt.Slice(cfg.SliceBudget)
		}
	}
	return rt, w
}

func TestWorkloadKeepsRootsAlive(t *testing.T) {
	cfg := gc.DefaultConfig()
	cfg.SliceBudget = 20
	cfg.MallocTriggerBytes = 16 << 10
	rt, w := runWorkload(t, cfg, 7, 5000)

	rt.FinishGC()
	stats := rt.GC("check", true)
	if rt.CycleCount() < 2 {
		t.Fatalf("only %d cycles ran", rt.CycleCount())
	}
	if !stats.Compacted {
		t.Error("shrinking GC did not compact")
	}
	for i, r := range w.roots {
		c := r.Get()
		if c == nil {
			t.Fatalf("root %d cleared", i)
		}
		if c.Zone().IsDestroyed() {
			t.Fatalf("root %d lives in a destroyed zone", i)
		}
	}
	for _, comp := range w.comps {
		if comp.IsDestroyed() || comp.Zone().IsDestroyed() {
			t.Fatalf("held compartment %s destroyed", comp)
		}
	}
}

// Weak map keys are rooted zero-slot objects; every op that picks a root
// must cope with them.
func TestWorkloadWithCommandDefaults(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3} {
		rt := gc.NewRuntime(gc.DefaultConfig())
		w := newWorkload(rt, seed, 8, 512)
		for i := 0; i < 20000; i++ {
			if err := w.step(); err != nil {
				t.Fatalf("seed %d, step %d: %v", seed, i, err)
			}
		}
		if w.ops["weakmap"] == 0 || w.ops["object"] == 0 {
			t.Fatalf("seed %d: op mix %v", seed, w.ops)
		}
		rt.FinishGC()
		rt.GC("check", false)
	}
}

func TestWorkloadIsDeterministic(t *testing.T) {
	cfg := gc.DefaultConfig()
	_, a := runWorkload(t, cfg, 42, 2000)
	_, b := runWorkload(t, cfg, 42, 2000)
	if !maps.Equal(a.ops, b.ops) {
		t.Fatalf("same seed, different runs: %v vs %v", a.ops, b.ops)
	}
}

func TestWorkloadCountsOOM(t *testing.T) {
	cfg := gc.DefaultConfig()
	cfg.NurseryBytes = 0
	cfg.MaxMallocBytes = 4 << 10
	rt, w := runWorkload(t, cfg, 3, 3000)
	if w.oom == 0 {
		t.Fatal("malloc limit never hit")
	}
	rt.FinishGC()
	rt.GC("after oom", false)
}
