package gc

import (
	"testing"
)

// newRuntime returns a runtime without a nursery unless a configure func
// adds one, so allocations land straight in arenas.
func newRuntime(t *testing.T, configure ...func(*Config)) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.NurseryBytes = 0
	for _, fn := range configure {
		fn(&cfg)
	}
	return NewRuntime(cfg)
}

func withNursery(cfg *Config) { cfg.NurseryBytes = 256 << 10 }

func zoneWithComp(t *testing.T, rt *Runtime, name string) (*Zone, *Compartment) {
	t.Helper()
	z := rt.NewZone(name)
	return z, z.NewCompartment(name + "-comp")
}

func newObject(t *testing.T, rt *Runtime, comp *Compartment, nslots int) *Cell {
	t.Helper()
	c, err := rt.NewObject(comp, nslots)
	if err != nil {
		t.Fatalf("NewObject: %v", err)
	}
	return c
}

func newMap(t *testing.T, rt *Runtime, comp *Compartment) (*Cell, *MapObject) {
	t.Helper()
	c, err := rt.NewMap(comp)
	if err != nil {
		t.Fatalf("NewMap: %v", err)
	}
	return c, c.Thing().(*MapObject)
}

func object(c *Cell) *Object { return c.Resolve().Thing().(*Object) }

func setSlot(c *Cell, i int, v Value) { object(c).SetSlot(i, v) }

// isLive reports whether c (or the cell it was moved to) still occupies
// its arena slot.
func isLive(c *Cell) bool {
	c = c.Resolve()
	if c.nursery {
		return true
	}
	return c.arena != nil && c.arena.cells[c.index] == c
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

// reachable returns every cell reachable from the runtime's roots.
func reachable(rt *Runtime) map[*Cell]bool {
	seen := make(map[*Cell]bool)
	var work []*Cell
	for r := range rt.roots {
		if c := r.Get(); c != nil {
			work = append(work, c)
		}
	}
	for len(work) > 0 {
		c := work[len(work)-1].Resolve()
		work = work[:len(work)-1]
		if seen[c] {
			continue
		}
		seen[c] = true
		work = append(work, Children(c)...)
	}
	return seen
}
