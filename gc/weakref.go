package gc

// ---------------------------------------------------------------------------
// WeakRef: a reference that does not keep its target alive
// ---------------------------------------------------------------------------

// WeakRef holds its target weakly. When the target is collected the
// reference is cleared during its zone's sweep, and the optional finalizer
// runs once the cycle has finished.
type WeakRef struct {
	Header
	target    *Cell
	targetID  uint64
	finalizer func(targetID uint64)
}

// Deref returns the target, or nil if it has been collected or is about to
// be. A non-nil result passes through the read barrier.
func (w *WeakRef) Deref() *Cell {
	if w.target == nil {
		return nil
	}
	t := w.target.Resolve()
	if IsAboutToBeFinalized(t) {
		return nil
	}
	ReadBarrier(t)
	return t
}

// IsAlive reports whether Deref would return a cell.
func (w *WeakRef) IsAlive() bool {
	return w.target != nil && !IsAboutToBeFinalized(w.target)
}

// Clear drops the target and returns what it was.
func (w *WeakRef) Clear() *Cell {
	old := w.target.Resolve()
	w.target = nil
	return old
}

// SetFinalizer registers fn to run after the target is collected. fn gets
// the target's unique id, or 0 if it never had one.
func (w *WeakRef) SetFinalizer(fn func(targetID uint64)) {
	w.finalizer = fn
}

func (w *WeakRef) Trace(trc Tracer) {
	if trc.Kind() == Marking || w.target == nil {
		return
	}
	trc.OnEdge(&w.target, "weakref target")
}

// SweepWeakRefs clears weak references in this zone whose targets died and
// drops dead references from the zone's list. It returns the number
// cleared.
func (z *Zone) SweepWeakRefs() int {
	z.assertSweeping("SweepWeakRefs")
	cleared := 0
	kept := z.weakRefs[:0]
	for _, c := range z.weakRefs {
		c = c.Resolve()
		if !c.IsMarked() {
			continue
		}
		kept = append(kept, c)
		w := c.thing.(*WeakRef)
		if w.target == nil {
			continue
		}
		t := w.target.Resolve()
		if t.zone.state != Sweep || t.nursery || t.IsMarked() {
			continue
		}
		w.targetID = t.uid
		w.target = nil
		cleared++
		if w.finalizer != nil {
			z.pendingFinalizers = append(z.pendingFinalizers, w)
		}
	}
	clear(z.weakRefs[len(kept):])
	z.weakRefs = kept
	return cleared
}

func (w *WeakRef) runFinalizer() {
	fn := w.finalizer
	w.finalizer = nil
	fn(w.targetID)
}
