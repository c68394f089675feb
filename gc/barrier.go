package gc

// ---------------------------------------------------------------------------
// Barriers
//
// Mutators that store cell references in traced slots go through SetEdge or
// SetValue. Code that manages slots itself calls the individual barriers:
// PreWriteBarrier before overwriting, PostWriteBarrier after storing.
// ---------------------------------------------------------------------------

// PreWriteBarrier shades old, the value about to be overwritten, while its
// zone is marking. This keeps everything reachable at the start of marking
// alive through the end of it.
func PreWriteBarrier(old *Cell) {
	if old == nil {
		return
	}
	old = old.Resolve()
	if !collecting(old) {
		return
	}
	old.zone.rt.marker.shade(old)
}

// PostWriteBarrier records edge in the store buffer when a tenured holder
// now points at a nursery cell.
func PostWriteBarrier(holder *Cell, edge **Cell, next *Cell) {
	if holder == nil || next == nil || holder.nursery || !next.nursery {
		return
	}
	holder.zone.rt.storeBuffer.putEdge(edge)
}

// PostWriteBarrierValue is PostWriteBarrier for value slots.
func PostWriteBarrierValue(holder *Cell, slot *Value) {
	if holder == nil || holder.nursery || slot.tag != tagCell || !slot.c.nursery {
		return
	}
	holder.zone.rt.storeBuffer.putValue(slot)
}

// dijkstraBarrier shades target if holder has already been scanned, so no
// black cell points at a white one between slices. Holders outside the
// collected zones were scanned as roots and count as black.
func dijkstraBarrier(holder, target *Cell) {
	if holder == nil || target == nil {
		return
	}
	target = target.Resolve()
	if !collecting(target) {
		return
	}
	if holder.zone != target.zone && holder.zone.IsGCMarking() {
		holder.zone.AddSweepGroupEdgeTo(target.zone)
	}
	if collecting(holder) && !holder.IsMarkedBlack() {
		return
	}
	target.zone.rt.marker.shade(target)
}

// SetEdge stores next in *edge, a slot owned by holder, with all barriers.
func SetEdge(holder *Cell, edge **Cell, next *Cell) {
	next = next.Resolve()
	PreWriteBarrier(*edge)
	dijkstraBarrier(holder, next)
	*edge = next
	PostWriteBarrier(holder, edge, next)
}

// SetValue stores next in *slot, a slot owned by holder, with all barriers.
func SetValue(holder *Cell, slot *Value, next Value) {
	next = next.resolved()
	if slot.tag == tagCell {
		PreWriteBarrier(slot.c)
	}
	if next.tag == tagCell {
		dijkstraBarrier(holder, next.c)
	}
	*slot = next
	PostWriteBarrierValue(holder, slot)
}

// ReadBarrier must be applied to a cell read out of a weak or gray-able
// location before the mutator uses it. During marking the cell is marked
// black; otherwise a gray cell and everything gray below it become black.
func ReadBarrier(c *Cell) {
	if c == nil {
		return
	}
	c = c.Resolve()
	if c.nursery {
		return
	}
	if c.zone.IsGCMarking() {
		c.zone.rt.marker.shade(c)
		return
	}
	if c.IsMarkedGray() {
		UnmarkGray(c)
	}
}

// UnmarkGray blackens c and every gray cell reachable from it. It returns
// the number of cells it changed.
func UnmarkGray(c *Cell) int {
	c = c.Resolve()
	if !c.IsMarkedGray() {
		return 0
	}
	n := 0
	work := []*Cell{c}
	visit := &CallbackTracer{Fn: func(target *Cell, _ string) {
		target = target.Resolve()
		if target.IsMarkedGray() {
			work = append(work, target)
		}
	}}
	for len(work) > 0 {
		next := work[len(work)-1]
		work = work[:len(work)-1]
		if !next.IsMarkedGray() {
			continue
		}
		next.arena.markBlack(next.index)
		n++
		next.thing.Trace(visit)
	}
	return n
}
