package gc

import (
	"fmt"
	"time"
)

// nurseryBase is the start of the simulated nursery address range.
const nurseryBase = 1 << 40

// nursery holds young cells. Cells are bump-allocated and never freed
// individually: a minor GC tenures the survivors and drops the rest.
type nursery struct {
	cells    []*Cell
	used     uint64
	capacity uint64

	// Tables with iterators allocated in the nursery.
	rangeOwners map[nurseryRangeOwner]struct{}
}

func (n *nursery) alloc(c *Cell) {
	c.nursery = true
	c.addr = nurseryBase + n.used
	n.used += c.kind.Size()
	n.cells = append(n.cells, c)
	c.zone.nurseryCells++
}

func (n *nursery) isFull() bool { return n.capacity != 0 && n.used >= n.capacity }
func (n *nursery) isEmpty() bool { return len(n.cells) == 0 }

// Len returns the number of cells currently in the nursery.
func (n *nursery) Len() int { return len(n.cells) }

// tenurer copies reachable nursery cells into their zone's arenas and
// rewrites the edges that pointed at them.
type tenurer struct {
	rt       *Runtime
	worklist []*Cell
	tenured  int
}

func (t *tenurer) Kind() TracerKind { return Tenuring }

func (t *tenurer) OnEdge(edge **Cell, _ string) {
	c := *edge
	if !c.nursery {
		return
	}
	if c.forward != nil {
		*edge = c.forward
		return
	}
	dst := &Cell{kind: c.kind, zone: c.zone, comp: c.comp}
	if err := c.zone.allocTenured(dst, false); err != nil {
		panic(fmt.Sprintf("gc: tenuring failed: %v", err))
	}
	c.moveTo(dst)
	c.zone.TransferUniqueID(dst, c)
	if dst.zone.state == Mark || dst.zone.state == Sweep {
		t.rt.allocatedDuringGC(dst)
	}
	if h, ok := dst.thing.(tenureHook); ok {
		h.onTenure()
	}
	t.worklist = append(t.worklist, dst)
	t.tenured++
	*edge = dst
}

// MinorGC tenures every nursery cell reachable from roots, gray roots and
// the store buffer, and discards the rest.
func (rt *Runtime) MinorGC(reason string) MinorStats {
	rt.assertNotBusy("MinorGC")
	rt.busy = true
	defer func() { rt.busy = false }()
	return rt.minorGC(reason)
}

func (rt *Runtime) minorGC(reason string) MinorStats {
	rt.minorRequested = false
	stats := MinorStats{
		Number:    rt.minorCount + 1,
		Reason:    reason,
		StartedAt: time.Now(),
		Nursery:   rt.nursery.Len(),
		Buffered:  rt.storeBuffer.len(),
	}
	if rt.nursery.isEmpty() {
		rt.storeBuffer.clear()
		stats.Duration = time.Since(stats.StartedAt)
		return stats
	}

	t := &tenurer{rt: rt}
	for r := range rt.roots {
		TraceEdge(t, &r.cell, "root")
	}
	for _, z := range rt.zones {
		for i := range z.grayRoots {
			TraceEdge(t, &z.grayRoots[i], "gray root")
		}
	}
	rt.storeBuffer.trace(t)
	for len(t.worklist) > 0 {
		n := len(t.worklist) - 1
		c := t.worklist[n]
		t.worklist = t.worklist[:n]
		c.thing.Trace(t)
	}

	for owner := range rt.nursery.rangeOwners {
		stats.RangesCleared += owner.clearNurseryRanges()
	}
	clear(rt.nursery.rangeOwners)

	for _, z := range rt.zones {
		z.weakRefs = sweepNurseryList(z.weakRefs)
	}

	for _, c := range rt.nursery.cells {
		c.zone.nurseryCells--
		if c.forward != nil {
			continue
		}
		if f, ok := c.thing.(Finalizer); ok {
			f.Finalize()
		}
		c.zone.RemoveUniqueID(c)
		stats.Freed++
	}
	clear(rt.nursery.cells)
	rt.nursery.cells = rt.nursery.cells[:0]
	rt.nursery.used = 0
	rt.storeBuffer.clear()

	stats.Tenured = t.tenured
	stats.Duration = time.Since(stats.StartedAt)
	rt.minorCount++
	rt.lastMinor = stats
	log.Debugf("minor GC %d (%s): tenured %d, freed %d, %d nursery ranges cleared",
		stats.Number, reason, stats.Tenured, stats.Freed, stats.RangesCleared)
	return stats
}

// sweepNurseryList resolves tenured entries and drops dead nursery ones.
func sweepNurseryList(cells []*Cell) []*Cell {
	kept := cells[:0]
	for _, c := range cells {
		if c.nursery && c.forward == nil {
			continue
		}
		kept = append(kept, c.Resolve())
	}
	clear(cells[len(kept):])
	return kept
}
