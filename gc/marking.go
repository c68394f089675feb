package gc

import (
	"math"

	"github.com/chazu/zonegc/ordered"
)

// Unlimited is a slice budget with no limit.
const Unlimited = -1

type markColor uint8

const (
	markBlack markColor = iota
	markGray
)

type markPhase uint8

const (
	phaseBlack markPhase = iota
	phaseGray
	phaseDone
)

// marker is the incremental marking tracer. Marked cells are pushed on a
// bounded stack; when the stack is full the cell's arena is flagged for
// delayed marking and rescanned once the stack drains.
type marker struct {
	rt    *Runtime
	limit int

	stack   []*Cell
	delayed []*Arena
	phase   markPhase

	// Color applied to edges reported while scanning the current cell.
	color   markColor
	current *Cell

	weakMaps map[*WeakMap]struct{}

	marked    uint64
	scanned   uint64
	overflows int
}

func newMarker(rt *Runtime, limit int) *marker {
	if limit <= 0 {
		limit = math.MaxInt
	}
	return &marker{rt: rt, limit: limit, weakMaps: make(map[*WeakMap]struct{})}
}

func (m *marker) reset() {
	clear(m.stack)
	m.stack = m.stack[:0]
	m.delayed = nil
	m.phase = phaseBlack
	m.color = markBlack
	m.current = nil
	clear(m.weakMaps)
	m.marked, m.scanned, m.overflows = 0, 0, 0
}

func (m *marker) Kind() TracerKind { return Marking }

func (m *marker) OnEdge(edge **Cell, _ string) {
	m.mark(*edge, m.color)
}

func (m *marker) noteWeakMap(w *WeakMap) {
	m.weakMaps[w] = struct{}{}
}

// collecting reports whether c's mark bits matter this cycle.
func collecting(c *Cell) bool {
	return !c.nursery && c.zone.IsGCMarking()
}

// mark colors c and queues it for scanning. It returns true if c's color
// changed.
func (m *marker) mark(c *Cell, color markColor) bool {
	c = c.Resolve()
	if !collecting(c) {
		return false
	}
	if src := m.current; src != nil && src.zone != c.zone && src.zone.IsGCMarking() {
		src.zone.AddSweepGroupEdgeTo(c.zone)
	}
	var changed bool
	if color == markBlack {
		changed = c.arena.markBlack(c.index)
	} else {
		changed = c.arena.markGray(c.index)
	}
	if !changed {
		return false
	}
	m.marked++
	if c.comp != nil {
		c.comp.marked = true
	}
	m.push(c)
	return true
}

// shade marks c black from outside a scan, as barriers do.
func (m *marker) shade(c *Cell) {
	cur, col := m.current, m.color
	m.current = nil
	m.mark(c, markBlack)
	m.current, m.color = cur, col
}

func (m *marker) push(c *Cell) {
	if len(m.stack) >= m.limit {
		m.delayMarkingArena(c.arena)
		return
	}
	m.stack = append(m.stack, c)
}

func (m *marker) delayMarkingArena(a *Arena) {
	if a.delayedMarking {
		return
	}
	if m.overflows == 0 {
		log.Warningf("mark stack limit %d reached; delaying marking of %s arenas", m.limit, a.kind)
	}
	a.delayedMarking = true
	m.delayed = append(m.delayed, a)
	m.overflows++
}

func (m *marker) scan(c *Cell) {
	m.current = c
	if c.IsMarkedBlack() {
		m.color = markBlack
	} else {
		m.color = markGray
	}
	c.thing.Trace(m)
	m.current = nil
	m.scanned++
}

// drain scans queued cells until the stack and the delayed arenas are
// empty or the budget runs out. It returns true when nothing is left.
func (m *marker) drain(budget *int) bool {
	for {
		for len(m.stack) > 0 {
			if *budget == 0 {
				return false
			}
			n := len(m.stack) - 1
			c := m.stack[n]
			m.stack[n] = nil
			m.stack = m.stack[:n]
			m.scan(c)
			if *budget > 0 {
				*budget--
			}
		}
		if len(m.delayed) == 0 {
			return true
		}
		m.markDelayedArenas()
	}
}

// markDelayedArenas rescans every marked cell of each delayed arena.
// Rescanning a cell whose children are already marked does nothing.
func (m *marker) markDelayedArenas() {
	arenas := m.delayed
	m.delayed = nil
	for _, a := range arenas {
		a.delayedMarking = false
		for i, c := range a.cells {
			if c != nil && a.isMarked(uint32(i)) {
				m.scan(c)
			}
		}
	}
}

// markSlice runs marking for up to budget cells. It returns true once
// marking is complete: black marking, ephemerons, then gray roots.
func (m *marker) markSlice(budget int) bool {
	for {
		if !m.drain(&budget) {
			return false
		}
		if m.markEphemerons() {
			continue
		}
		switch m.phase {
		case phaseBlack:
			m.phase = phaseGray
			m.markGrayRoots()
		case phaseGray:
			m.phase = phaseDone
			return true
		default:
			return true
		}
	}
}

func (m *marker) markGrayRoots() {
	for _, z := range m.rt.collecting {
		for _, c := range z.grayRoots {
			m.mark(c, markGray)
		}
	}
}

// markEphemerons marks weak map values whose map and key are both live. It
// returns true if it marked anything.
func (m *marker) markEphemerons() bool {
	progress := false
	for w := range m.weakMaps {
		holder := w.cell
		holderLive, holderBlack := liveness(holder)
		if !holderLive {
			continue
		}
		m.current = holder
		w.table.Trace(func(e *ordered.Entry[Value, Value]) {
			k := e.Key.c
			if holder.zone.IsGCMarking() && k.zone != holder.zone {
				holder.zone.AddSweepGroupEdgeTo(k.zone)
			}
			keyLive, keyBlack := liveness(k)
			if !keyLive || e.Value.tag != tagCell {
				return
			}
			color := markGray
			if holderBlack && keyBlack {
				color = markBlack
			}
			if m.mark(e.Value.c, color) {
				progress = true
			}
		})
		m.current = nil
	}
	return progress
}

// liveness reports whether c is known live this cycle and whether it is
// black. Cells outside the collected zones count as black.
func liveness(c *Cell) (live, black bool) {
	c = c.Resolve()
	if !collecting(c) {
		return true, true
	}
	return c.IsMarked(), c.IsMarkedBlack()
}
