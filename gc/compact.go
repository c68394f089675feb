package gc

import (
	"cmp"
	"slices"
)

// ---------------------------------------------------------------------------
// Compaction
// ---------------------------------------------------------------------------

// compact moves cells out of sparse arenas of the collected zones and then
// rewrites every edge to a moved cell. It returns the number of cells
// moved.
func (rt *Runtime) compact() int {
	moved := 0
	for _, z := range rt.collecting {
		for k := range z.arenas {
			moved += z.relocateArenas(Kind(k))
		}
	}
	if moved == 0 {
		return 0
	}
	updated := rt.updatePointersAfterMove()
	log.Debugf("compaction moved %d cells and updated %d edges", moved, updated)
	return moved
}

// relocateArenas keeps the fullest arenas of kind that can hold every live
// cell and empties the rest into them. Moved cells keep their mark color
// and unique id.
func (z *Zone) relocateArenas(kind Kind) int {
	z.assertCompacting("relocateArenas")
	arenas := z.arenas[kind]
	live := 0
	for _, a := range arenas {
		live += a.live
	}
	keep := (live + ArenaCells - 1) / ArenaCells
	if keep >= len(arenas) {
		return 0
	}

	sorted := slices.Clone(arenas)
	slices.SortStableFunc(sorted, func(a, b *Arena) int { return cmp.Compare(b.live, a.live) })
	targets, sources := sorted[:keep], sorted[keep:]

	moved := 0
	for _, src := range sources {
		for i := range src.cells {
			c := src.cells[i]
			if c == nil {
				continue
			}
			dst := &Cell{kind: c.kind, zone: z, comp: c.comp}
			target := firstWithRoom(targets)
			target.insert(dst)
			switch {
			case src.isBlack(c.index):
				target.markBlack(dst.index)
			case src.isGray(c.index):
				target.markGray(dst.index)
			}
			c.moveTo(dst)
			z.TransferUniqueID(dst, c)
			src.remove(c)
			moved++
		}
		src.releaseSwept()
	}
	return moved
}

func firstWithRoom(arenas []*Arena) *Arena {
	for _, a := range arenas {
		if !a.IsFull() {
			return a
		}
	}
	panic("gc: compaction ran out of target slots")
}

func (z *Zone) assertCompacting(op string) {
	if z.state != Compact {
		panic("gc: zone " + z.String() + ": " + op + " called in state " + z.state.String())
	}
}

// updatePointersAfterMove resolves every forwarded edge in the heap: roots,
// gray roots, cell payloads, the zones' weak lists and weak caches.
func (rt *Runtime) updatePointersAfterMove() int {
	trc := &movingTracer{}
	for r := range rt.roots {
		TraceEdge(trc, &r.cell, "root")
	}
	for _, z := range rt.zones {
		for i := range z.grayRoots {
			TraceEdge(trc, &z.grayRoots[i], "gray root")
		}
		z.forEachCell(func(c *Cell) { c.thing.Trace(trc) })
		for i := range z.weakMaps {
			TraceEdge(trc, &z.weakMaps[i], "weak map")
		}
		for i := range z.weakRefs {
			TraceEdge(trc, &z.weakRefs[i], "weak ref")
		}
		for _, cache := range z.weakCaches {
			cache.Relocate(trc)
		}
	}
	return trc.updated
}
