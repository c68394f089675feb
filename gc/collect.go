package gc

import (
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Major collection
// ---------------------------------------------------------------------------

// StartGC begins an incremental major cycle over every scheduled zone that
// no helper is using. It empties the nursery first and returns false if a
// cycle is already running or no zone is scheduled.
func (rt *Runtime) StartGC(reason string, shrinking bool) bool {
	rt.assertNotBusy("StartGC")
	if rt.IsIncrementalGCInProgress() {
		return false
	}
	rt.busy = true
	defer func() { rt.busy = false }()

	rt.minorGC("major GC")

	if rt.heapPressure.Swap(false) {
		for _, z := range rt.zones {
			z.scheduled = true
		}
	}
	var zones []*Zone
	for _, z := range rt.zones {
		if z.scheduled && !z.destroyed && !z.UsedByHelperThread() {
			zones = append(zones, z)
		}
	}
	if len(zones) == 0 {
		rt.majorRequested.Store(false)
		rt.majorReason.Store(nil)
		return false
	}
	if reason == "" {
		if r := rt.majorReason.Load(); r != nil {
			reason = *r
		}
	}
	rt.majorRequested.Store(false)
	rt.majorReason.Store(nil)

	rt.collecting = zones
	rt.shrinking = shrinking
	rt.cycle = CycleStats{
		Number:          rt.cycleCount + 1,
		Reason:          reason,
		Shrinking:       shrinking,
		Zones:           len(zones),
		HeapBytesBefore: rt.HeapBytes(),
		StartedAt:       time.Now(),
	}
	for _, z := range zones {
		z.clearMarks()
		z.clearSweepGroupEdges()
		z.ChangeGCState(NoGC, Mark)
	}
	rt.marker.reset()
	rt.incState = stateMark
	rt.markRoots()

	log.Infof("major GC %d started (%s): %d of %d zones", rt.cycle.Number, reason, len(zones), len(rt.zones))
	return true
}

// markRoots marks everything held by roots and by zones that are not being
// collected. Cells outside the collected zones are treated as live.
func (rt *Runtime) markRoots() {
	m := rt.marker
	for r := range rt.roots {
		if r.cell != nil {
			m.mark(r.cell, markBlack)
		}
	}
	for _, z := range rt.zones {
		if z.IsGCMarking() {
			continue
		}
		z.forEachCell(func(c *Cell) {
			m.current, m.color = c, markBlack
			c.thing.Trace(m)
			m.current = nil
		})
	}
}

// Slice runs one increment of the current cycle. budget bounds the cells
// marked during marking and the sweep groups swept during sweeping;
// Unlimited runs the cycle to completion. It returns true once the cycle
// has finished, or if none was running.
func (rt *Runtime) Slice(budget int) bool {
	rt.assertNotBusy("Slice")
	if !rt.IsIncrementalGCInProgress() {
		return true
	}
	if budget == 0 {
		budget = 1
	}
	rt.busy = true
	done := rt.slice(budget)
	rt.busy = false
	if done {
		rt.afterCycle()
	}
	return done
}

func (rt *Runtime) slice(budget int) bool {
	rt.cycle.Slices++
	for {
		switch rt.incState {
		case stateMark:
			if !rt.marker.markSlice(budget) {
				return false
			}
			rt.endMarking()
		case stateSweep:
			rt.sweepNextGroup()
			if rt.groupIndex < len(rt.sweepGroups) {
				if budget == Unlimited {
					continue
				}
				return false
			}
			rt.endSweeping()
			return true
		default:
			return true
		}
	}
}

// endMarking moves every collected zone to Sweep at once, so weak readers
// in any zone see the final liveness, and computes the sweep groups.
func (rt *Runtime) endMarking() {
	m := rt.marker
	rt.cycle.Marked = m.marked
	rt.cycle.Scanned = m.scanned
	rt.cycle.MarkStackOverflows = m.overflows
	for _, z := range rt.collecting {
		z.ChangeGCState(Mark, Sweep)
	}
	groups, merged := rt.computeSweepGroups(rt.collecting)
	rt.sweepGroups = groups
	rt.groupIndex = 0
	rt.cycle.SweepGroups = len(groups)
	rt.cycle.MergedSweepGroups = merged
	rt.incState = stateSweep
	log.Debugf("major GC %d: marked %d cells, %d sweep groups", rt.cycle.Number, m.marked, len(groups))
}

// sweepNextGroup sweeps the zones of one group in parallel. Each zone is
// claimed by its sweeping goroutine for the duration.
func (rt *Runtime) sweepNextGroup() {
	group := rt.sweepGroups[rt.groupIndex]
	rt.groupIndex++

	results := make([]zoneSweepResult, len(group))
	var g errgroup.Group
	g.SetLimit(max(1, rt.cfg.ParallelSweep))
	for i, z := range group {
		g.Go(func() error {
			cx := &HelperContext{Name: "sweep " + z.String()}
			z.BeginHelperThreadUse(cx)
			defer z.EndHelperThreadUse(cx)
			results[i] = z.sweep()
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		rt.cycle.addSweep(r)
	}
}

func (rt *Runtime) endSweeping() {
	for _, z := range rt.collecting {
		z.releaseSweptSlots()
	}
	if rt.shrinking || rt.cfg.Compacting {
		for _, z := range rt.collecting {
			z.ChangeGCState(Sweep, Compact)
		}
		rt.cycle.Compacted = true
		rt.cycle.Relocated = rt.compact()
		for _, z := range rt.collecting {
			z.ChangeGCState(Compact, Finished)
		}
	} else {
		for _, z := range rt.collecting {
			z.ChangeGCState(Sweep, Finished)
		}
	}
	rt.finishCycle()
}

func (rt *Runtime) finishCycle() {
	var dead []*Zone
	for _, z := range rt.collecting {
		rt.cycle.ArenasReleased += z.releaseEmptyArenas()
		z.ChangeGCState(Finished, NoGC)
		z.scheduled = false
		rt.finalizers = append(rt.finalizers, z.pendingFinalizers...)
		clear(z.pendingFinalizers)
		z.pendingFinalizers = z.pendingFinalizers[:0]
		if rt.canDestroy(z) {
			dead = append(dead, z)
		}
	}
	for _, z := range dead {
		rt.destroyZone(z)
	}
	rt.cycle.ZonesDestroyed = len(dead)

	rt.incState = stateNotActive
	rt.collecting = nil
	rt.sweepGroups = nil
	rt.groupIndex = 0
	rt.shrinking = false

	rt.cycle.HeapBytesAfter = rt.HeapBytes()
	rt.resetHeapTrigger()
	if rt.heapTotal.Load() < rt.heapThreshold.Load() {
		rt.heapPressure.Store(false)
	}
	rt.cycle.Duration = time.Since(rt.cycle.StartedAt)
	rt.cycleCount++
	rt.lastCycle = rt.cycle

	s := rt.cycle
	log.Infof("major GC %d finished in %s over %d slices: freed %d cells, heap %s -> %s",
		s.Number, s.Duration, s.Slices, s.Freed,
		humanize.Bytes(s.HeapBytesBefore), humanize.Bytes(s.HeapBytesAfter))
}

// canDestroy reports whether a zone swept this cycle is empty and unused.
func (rt *Runtime) canDestroy(z *Zone) bool {
	return z != rt.atomsZone && !z.IsPinned() && len(z.compartments) == 0 &&
		z.isEmpty() && !z.UsedByHelperThread()
}

func (rt *Runtime) destroyZone(z *Zone) {
	z.destroyed = true
	rt.heapShrank(z.gcBytes + z.mallocTotal)
	rt.zones = slices.DeleteFunc(rt.zones, func(other *Zone) bool { return other == z })
	for _, other := range rt.zones {
		delete(other.sweepGroupEdges, z)
	}
	log.Debugf("zone %s destroyed", z)
}

// afterCycle runs weak reference finalizers and the cycle hook once the
// heap is no longer busy.
func (rt *Runtime) afterCycle() {
	pending := rt.finalizers
	rt.finalizers = nil
	for _, w := range pending {
		w.runFinalizer()
	}
	if rt.onCycleEnd != nil {
		rt.onCycleEnd(rt.lastCycle)
	}
}

// FinishGC runs the current cycle, if any, to completion.
func (rt *Runtime) FinishGC() {
	if rt.IsIncrementalGCInProgress() {
		rt.Slice(Unlimited)
	}
}

// AbortGC stops incremental work on the current cycle. Marking cannot be
// undone, so the cycle is finished synchronously.
func (rt *Runtime) AbortGC() {
	if !rt.IsIncrementalGCInProgress() {
		return
	}
	log.Noticef("major GC %d aborted; finishing non-incrementally", rt.cycle.Number)
	rt.FinishGC()
}

// GC schedules every zone and runs a full non-incremental cycle. A cycle
// already in progress is finished first.
func (rt *Runtime) GC(reason string, shrinking bool) CycleStats {
	rt.FinishGC()
	for _, z := range rt.zones {
		z.ScheduleGC()
	}
	if rt.StartGC(reason, shrinking) {
		rt.FinishGC()
	}
	return rt.lastCycle
}

// MaybeGC does whatever collection work is due: a minor GC if the nursery
// is full, a slice if a cycle is running, or a new cycle if a memory
// trigger fired. It returns true if it did anything.
func (rt *Runtime) MaybeGC() bool {
	if rt.busy {
		return false
	}
	did := false
	if rt.minorRequested && !rt.IsIncrementalGCInProgress() {
		rt.MinorGC("nursery full")
		did = true
	}
	switch {
	case rt.IsIncrementalGCInProgress():
		rt.Slice(rt.cfg.SliceBudget)
		did = true
	case rt.majorRequested.Load():
		if rt.StartGC("", false) {
			did = true
		}
	}
	return did
}
