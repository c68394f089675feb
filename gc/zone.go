package gc

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// GCState is a zone's phase in the current major cycle.
type GCState uint8

const (
	NoGC GCState = iota
	Mark
	Sweep
	Compact
	Finished
)

func (s GCState) String() string {
	switch s {
	case NoGC:
		return "NoGC"
	case Mark:
		return "Mark"
	case Sweep:
		return "Sweep"
	case Compact:
		return "Compact"
	case Finished:
		return "Finished"
	}
	return fmt.Sprintf("GCState(%d)", uint8(s))
}

func legalTransition(prev, next GCState) bool {
	switch prev {
	case NoGC:
		return next == Mark
	case Mark:
		return next == Sweep
	case Sweep:
		return next == Compact || next == Finished
	case Compact:
		return next == Finished
	case Finished:
		return next == NoGC
	}
	return false
}

type helperThreadUse uint32

const (
	helperNone helperThreadUse = iota
	helperPending
	helperActive
)

// HelperContext identifies a helper goroutine that has claimed a zone.
type HelperContext struct {
	Name string
}

// Zone groups compartments that are collected together.
type Zone struct {
	rt   *Runtime
	id   uuid.UUID
	name string

	state     GCState
	scheduled bool
	pins      int
	destroyed bool

	compartments []*Compartment
	arenas       [numKinds][]*Arena
	nurseryCells int

	uniqueIDs  map[*Cell]uint64
	weakCaches []WeakCache
	weakMaps   []*Cell
	weakRefs   []*Cell
	grayRoots  []*Cell

	pendingFinalizers []*WeakRef

	sweepGroupEdges map[*Zone]struct{}

	createdForHelperThread bool
	helperUse              atomic.Uint32
	helperOwner            atomic.Pointer[HelperContext]

	mallocBytes [numMemoryUses]uint64
	mallocTotal uint64
	gcBytes     uint64
}

func newZone(rt *Runtime, name string) *Zone {
	return &Zone{
		rt:              rt,
		id:              uuid.New(),
		name:            name,
		uniqueIDs:       make(map[*Cell]uint64),
		sweepGroupEdges: make(map[*Zone]struct{}),
	}
}

func (z *Zone) ID() uuid.UUID        { return z.id }
func (z *Zone) Name() string         { return z.name }
func (z *Zone) Runtime() *Runtime    { return z.rt }
func (z *Zone) GCState() GCState     { return z.state }
func (z *Zone) IsDestroyed() bool    { return z.destroyed }
func (z *Zone) WasGCStarted() bool   { return z.state != NoGC }
func (z *Zone) IsGCMarking() bool    { return z.state == Mark }
func (z *Zone) IsGCSweeping() bool   { return z.state == Sweep }
func (z *Zone) IsGCCompacting() bool { return z.state == Compact }

func (z *Zone) String() string {
	if z.name != "" {
		return z.name
	}
	return z.id.String()
}

// ---------------------------------------------------------------------------
// Phase machine and scheduling
// ---------------------------------------------------------------------------

// ChangeGCState moves the zone from prev to next. It panics if the zone is
// not in prev or the transition is not part of the phase machine.
func (z *Zone) ChangeGCState(prev, next GCState) {
	if z.state != prev {
		panic(fmt.Sprintf("gc: zone %s: ChangeGCState(%s, %s) while in %s", z, prev, next, z.state))
	}
	if !legalTransition(prev, next) {
		panic(fmt.Sprintf("gc: zone %s: illegal transition %s -> %s", z, prev, next))
	}
	z.state = next
	log.Debugf("zone %s: %s -> %s", z, prev, next)
}

// ScheduleGC makes the zone eligible for the next major cycle.
func (z *Zone) ScheduleGC() {
	z.rt.assertNotBusy("ScheduleGC")
	z.scheduled = true
}

func (z *Zone) UnscheduleGC() {
	z.rt.assertNotBusy("UnscheduleGC")
	z.scheduled = false
}

func (z *Zone) IsGCScheduled() bool {
	z.rt.assertNotBusy("IsGCScheduled")
	return z.scheduled
}

// Pin keeps the zone alive while it holds no cells or compartments.
func (z *Zone) Pin() { z.pins++ }

func (z *Zone) Unpin() {
	if z.pins == 0 {
		panic("gc: Unpin of unpinned zone")
	}
	z.pins--
}

func (z *Zone) IsPinned() bool { return z.pins > 0 }

// ---------------------------------------------------------------------------
// Gray roots
// ---------------------------------------------------------------------------

// AddGrayRoot registers c as a gray root: reachable, but only through a
// path the cycle collector owns. Gray roots are marked after everything
// reachable from black roots.
func (z *Zone) AddGrayRoot(c *Cell) {
	z.grayRoots = append(z.grayRoots, c)
}

// RemoveGrayRoot removes one registration of c.
func (z *Zone) RemoveGrayRoot(c *Cell) bool {
	c = c.Resolve()
	for i, r := range z.grayRoots {
		if r.Resolve() == c {
			z.grayRoots = append(z.grayRoots[:i], z.grayRoots[i+1:]...)
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Sweep group edges
// ---------------------------------------------------------------------------

// AddSweepGroupEdgeTo records that this zone holds live edges into other,
// so other must be swept no later than this zone. Edges are only recorded
// while other is marking.
func (z *Zone) AddSweepGroupEdgeTo(other *Zone) {
	if other == z || !other.IsGCMarking() {
		return
	}
	z.sweepGroupEdges[other] = struct{}{}
}

func (z *Zone) HasSweepGroupEdgeTo(other *Zone) bool {
	_, ok := z.sweepGroupEdges[other]
	return ok
}

func (z *Zone) clearSweepGroupEdges() {
	clear(z.sweepGroupEdges)
}

// ---------------------------------------------------------------------------
// Helper thread use
// ---------------------------------------------------------------------------

// CreatedForHelperThread reports whether the zone was created by
// Runtime.NewZoneForHelperThread and not yet handed to the main heap.
func (z *Zone) CreatedForHelperThread() bool { return z.createdForHelperThread }

// BeginHelperThreadUse claims the zone for cx. It panics if another
// context already holds it.
func (z *Zone) BeginHelperThreadUse(cx *HelperContext) {
	if !z.helperUse.CompareAndSwap(uint32(helperNone), uint32(helperActive)) &&
		!z.helperUse.CompareAndSwap(uint32(helperPending), uint32(helperActive)) {
		panic(fmt.Sprintf("gc: zone %s already in use by a helper thread", z))
	}
	z.helperOwner.Store(cx)
}

// EndHelperThreadUse releases a claim made by BeginHelperThreadUse.
func (z *Zone) EndHelperThreadUse(cx *HelperContext) {
	if !z.OwnedBy(cx) {
		panic(fmt.Sprintf("gc: zone %s released by a context that does not own it", z))
	}
	z.helperOwner.Store(nil)
	z.helperUse.Store(uint32(helperNone))
}

// UsedByHelperThread reports whether a helper has claimed or reserved the
// zone. Such zones are never collected.
func (z *Zone) UsedByHelperThread() bool {
	return helperThreadUse(z.helperUse.Load()) != helperNone
}

func (z *Zone) OwnedBy(cx *HelperContext) bool {
	return z.helperOwner.Load() == cx
}

// ---------------------------------------------------------------------------
// Cells and arenas
// ---------------------------------------------------------------------------

// Arenas returns the zone's arenas of kind k.
func (z *Zone) Arenas(k Kind) []*Arena { return z.arenas[k] }

// CellCount returns the number of tenured cells in the zone.
func (z *Zone) CellCount() int {
	n := 0
	z.forEachArena(func(a *Arena) { n += a.live })
	return n
}

func (z *Zone) isEmpty() bool {
	return z.CellCount() == 0 && z.nurseryCells == 0
}

func (z *Zone) forEachArena(fn func(a *Arena)) {
	for k := range z.arenas {
		for _, a := range z.arenas[k] {
			fn(a)
		}
	}
}

func (z *Zone) forEachCell(fn func(c *Cell)) {
	z.forEachArena(func(a *Arena) { a.forEachCell(fn) })
}

// allocTenured places c in an arena of its kind, creating one if needed.
// Unchecked allocations ignore heap limits; tenuring must not fail.
func (z *Zone) allocTenured(c *Cell, checked bool) error {
	arenas := z.arenas[c.kind]
	for i := len(arenas) - 1; i >= 0; i-- {
		if !arenas[i].IsFull() {
			arenas[i].insert(c)
			return nil
		}
	}
	a, err := z.newArena(c.kind, checked)
	if err != nil {
		return err
	}
	a.insert(c)
	return nil
}

func (z *Zone) newArena(kind Kind, checked bool) (*Arena, error) {
	size := ArenaCells * kind.Size()
	if checked {
		if err := z.rt.checkSimulatedOOM(); err != nil {
			return nil, err
		}
		if limit := z.rt.cfg.MaxGCBytes; limit != 0 && z.gcBytes+size > limit {
			return nil, fmt.Errorf("%w: zone %s gc heap limit", ErrOutOfMemory, z)
		}
	}
	a := newArena(z, kind, z.rt.nextArenaAddr(size))
	z.arenas[kind] = append(z.arenas[kind], a)
	z.gcBytes += size
	z.rt.heapGrew(size)
	if trigger := z.rt.cfg.GCTriggerBytes; trigger != 0 && z.gcBytes >= trigger {
		z.rt.requestMajorGC(z, "gc bytes trigger")
	}
	return a, nil
}

func (z *Zone) releaseEmptyArenas() int {
	released := 0
	for k := range z.arenas {
		kept := z.arenas[k][:0]
		for _, a := range z.arenas[k] {
			if a.IsEmpty() {
				z.gcBytes -= a.bytes()
				z.rt.heapShrank(a.bytes())
				released++
				continue
			}
			kept = append(kept, a)
		}
		clear(z.arenas[k][len(kept):])
		z.arenas[k] = kept
	}
	return released
}
