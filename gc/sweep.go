package gc

import "fmt"

func (z *Zone) assertSweeping(op string) {
	if z.state != Sweep {
		panic(fmt.Sprintf("gc: zone %s: %s called in state %s", z, op, z.state))
	}
}

// zoneSweepResult counts what one zone's sweep removed.
type zoneSweepResult struct {
	cells            int
	weakMapEntries   int
	weakRefs         int
	weakCacheEntries int
	uniqueIDs        int
	compartments     int
}

// sweep finalizes the zone's dead cells and prunes every weak structure.
// It runs on a helper goroutine that owns the zone; it reads, but never
// writes, cells of other zones.
func (z *Zone) sweep() zoneSweepResult {
	var r zoneSweepResult
	r.weakMapEntries = z.SweepWeakMaps()
	r.weakRefs = z.SweepWeakRefs()
	r.weakCacheEntries = z.SweepWeakCaches()
	r.cells = z.sweepArenas()
	r.uniqueIDs = z.SweepUniqueIDs()

	live := z.CellCount() > 0 || z.IsPinned() || z.hasLiveCompartment()
	r.compartments = z.SweepCompartments(live, false)
	return r
}

// SweepWeakCaches sweeps every cache registered with the zone.
func (z *Zone) SweepWeakCaches() int {
	z.assertSweeping("SweepWeakCaches")
	n := 0
	for _, cache := range z.weakCaches {
		n += cache.Sweep()
	}
	return n
}

// SweepUniqueIDs drops ids of cells that died this cycle. The dead cell
// keeps its cached id so weak tables swept later can still hash it.
func (z *Zone) SweepUniqueIDs() int {
	z.assertSweeping("SweepUniqueIDs")
	removed := 0
	for c := range z.uniqueIDs {
		if c.nursery || c.IsMarked() {
			continue
		}
		delete(z.uniqueIDs, c)
		z.removeMemory(uniqueIDEntryBytes, MemoryUseUniqueIDTable)
		removed++
	}
	return removed
}

// sweepArenas finalizes and frees every unmarked cell.
func (z *Zone) sweepArenas() int {
	freed := 0
	z.forEachArena(func(a *Arena) {
		for i, c := range a.cells {
			if c == nil || a.isMarked(uint32(i)) {
				continue
			}
			if f, ok := c.thing.(Finalizer); ok {
				f.Finalize()
			}
			a.remove(c)
			freed++
		}
	})
	return freed
}

func (z *Zone) hasLiveCompartment() bool {
	for _, c := range z.compartments {
		if c.isLive() {
			return true
		}
	}
	return false
}

func (z *Zone) releaseSweptSlots() {
	z.forEachArena(func(a *Arena) { a.releaseSwept() })
}

func (z *Zone) clearMarks() {
	z.forEachArena(func(a *Arena) { a.clearMarks() })
	for _, c := range z.compartments {
		c.marked = false
	}
}
