package gc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/zonegc/ordered"
)

var log = commonlog.GetLogger("zonegc.gc")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config tunes a Runtime. Zero values mean "no limit" for the byte limits.
type Config struct {
	// NurseryBytes is the nursery size that requests a minor GC.
	NurseryBytes uint64
	// MarkStackLimit bounds the mark stack; overflow falls back to delayed
	// arena marking.
	MarkStackLimit int
	// SliceBudget is the number of cells marked per incremental slice.
	SliceBudget int
	// SliceInterval is the SliceScheduler's tick.
	SliceInterval time.Duration
	// SweepGroupDepthLimit bounds the sweep group search depth.
	SweepGroupDepthLimit int
	// ParallelSweep is the number of zones of one sweep group swept at once.
	ParallelSweep int
	// Compacting makes every major cycle compact, not just shrinking ones.
	Compacting bool

	MallocTriggerBytes uint64
	MaxMallocBytes     uint64
	GCTriggerBytes     uint64
	MaxGCBytes         uint64

	// HeapTriggerBytes is the runtime-wide arena plus malloc total that
	// requests a collection of every zone. After each cycle the trigger
	// rises to twice the surviving heap if that is larger.
	HeapTriggerBytes uint64
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		NurseryBytes:         256 << 10,
		MarkStackLimit:       4096,
		SliceBudget:          1000,
		SliceInterval:        10 * time.Millisecond,
		SweepGroupDepthLimit: 1000,
		ParallelSweep:        4,
		MallocTriggerBytes:   32 << 20,
		GCTriggerBytes:       64 << 20,
		HeapTriggerBytes:     96 << 20,
	}
}

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

type incrementalState uint8

const (
	stateNotActive incrementalState = iota
	stateMark
	stateSweep
)

// Runtime owns zones, the nursery and the collector state. All heap access
// happens on one goroutine at a time; use WithExclusiveAccess when more
// than one goroutine is involved.
type Runtime struct {
	id  uuid.UUID
	cfg Config
	mu  sync.Mutex

	zones     []*Zone
	atomsZone *Zone
	atomsComp *Compartment
	atoms     *AtomCache

	roots       map[*Root]struct{}
	nursery     nursery
	storeBuffer storeBuffer
	marker      *marker

	uniqueIDCounter uint64
	arenaAddr       uint64
	oomAfter        atomic.Int64

	// Updated from sweeping goroutines.
	heapTotal     atomic.Uint64
	heapThreshold atomic.Uint64
	heapPressure  atomic.Bool

	busy           bool
	minorRequested bool
	majorRequested atomic.Bool
	majorReason    atomic.Pointer[string]

	incState    incrementalState
	collecting  []*Zone
	shrinking   bool
	sweepGroups [][]*Zone
	groupIndex  int
	cycle       CycleStats

	cycleCount uint64
	minorCount uint64
	lastCycle  CycleStats
	lastMinor  MinorStats
	onCycleEnd func(CycleStats)
	finalizers []*WeakRef
}

// NewRuntime creates a runtime with an atoms zone.
func NewRuntime(cfg Config) *Runtime {
	rt := &Runtime{
		id:          uuid.New(),
		cfg:         cfg,
		roots:       make(map[*Root]struct{}),
		storeBuffer: newStoreBuffer(),
		arenaAddr:   1 << 20,
	}
	rt.nursery.capacity = cfg.NurseryBytes
	rt.nursery.rangeOwners = make(map[nurseryRangeOwner]struct{})
	rt.marker = newMarker(rt, cfg.MarkStackLimit)
	rt.heapThreshold.Store(cfg.HeapTriggerBytes)

	rt.atomsZone = rt.NewZone("atoms")
	rt.atomsZone.Pin()
	rt.atomsComp = rt.atomsZone.NewCompartment("atoms")
	rt.atomsComp.Hold()
	rt.atoms = newAtomCache(rt.atomsZone)
	rt.atomsZone.RegisterWeakCache(rt.atoms)

	log.Infof("runtime %s created (nursery %d bytes, mark stack %d)", rt.id, cfg.NurseryBytes, cfg.MarkStackLimit)
	return rt
}

func (rt *Runtime) ID() uuid.UUID       { return rt.id }
func (rt *Runtime) Config() Config      { return rt.cfg }
func (rt *Runtime) AtomsZone() *Zone    { return rt.atomsZone }
func (rt *Runtime) Atoms() *AtomCache   { return rt.atoms }
func (rt *Runtime) IsHeapBusy() bool    { return rt.busy }
func (rt *Runtime) NurseryCells() int   { return rt.nursery.Len() }
func (rt *Runtime) StoreBufferLen() int { return rt.storeBuffer.len() }

// WithExclusiveAccess runs fn while holding the runtime's heap lock.
func (rt *Runtime) WithExclusiveAccess(fn func()) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	fn()
}

// NewZone creates an empty zone.
func (rt *Runtime) NewZone(name string) *Zone {
	z := newZone(rt, name)
	rt.zones = append(rt.zones, z)
	return z
}

// NewZoneForHelperThread creates a zone reserved for a helper. It is not
// collected until AdoptHelperZone hands it to the main heap.
func (rt *Runtime) NewZoneForHelperThread(name string) *Zone {
	z := rt.NewZone(name)
	z.createdForHelperThread = true
	z.helperUse.Store(uint32(helperPending))
	return z
}

// AdoptHelperZone ends the helper reservation of a zone created with
// NewZoneForHelperThread.
func (rt *Runtime) AdoptHelperZone(z *Zone) {
	if !z.createdForHelperThread {
		panic(fmt.Sprintf("gc: zone %s was not created for a helper thread", z))
	}
	if helperThreadUse(z.helperUse.Load()) == helperActive {
		panic(fmt.Sprintf("gc: zone %s is still in use by a helper thread", z))
	}
	z.helperUse.Store(uint32(helperNone))
	z.createdForHelperThread = false
}

// Zones returns the runtime's live zones, atoms zone first.
func (rt *Runtime) Zones() []*Zone { return rt.zones }

func (rt *Runtime) assertNotBusy(op string) {
	if rt.busy {
		panic("gc: " + op + " called while the heap is busy")
	}
}

// SimulateOOMAfter makes the allocation check after the next n succeed
// fail once with ErrSimulatedOOM.
func (rt *Runtime) SimulateOOMAfter(n int) {
	rt.oomAfter.Store(int64(n) + 1)
}

func (rt *Runtime) checkSimulatedOOM() error {
	for {
		v := rt.oomAfter.Load()
		if v == 0 {
			return nil
		}
		if rt.oomAfter.CompareAndSwap(v, v-1) {
			if v == 1 {
				return ErrSimulatedOOM
			}
			return nil
		}
	}
}

func (rt *Runtime) newUniqueID() uint64 {
	rt.uniqueIDCounter++
	return rt.uniqueIDCounter
}

func (rt *Runtime) nextArenaAddr(size uint64) uint64 {
	addr := rt.arenaAddr
	rt.arenaAddr += size
	return addr
}

// requestMajorGC may run on sweeping goroutines; it only touches the zone
// and atomics.
func (rt *Runtime) requestMajorGC(z *Zone, reason string) {
	z.scheduled = true
	rt.noteMajorRequest(reason)
}

func (rt *Runtime) noteMajorRequest(reason string) {
	if rt.majorRequested.CompareAndSwap(false, true) {
		rt.majorReason.Store(&reason)
	}
}

// ---------------------------------------------------------------------------
// Runtime-wide heap pressure
// ---------------------------------------------------------------------------

// heapGrew adds n bytes to the runtime total. Crossing the heap trigger
// requests a GC of every zone; StartGC schedules them.
func (rt *Runtime) heapGrew(n uint64) {
	total := rt.heapTotal.Add(n)
	if t := rt.heapThreshold.Load(); t != 0 && total >= t {
		if rt.heapPressure.CompareAndSwap(false, true) {
			rt.noteMajorRequest("heap trigger")
		}
	}
}

func (rt *Runtime) heapShrank(n uint64) {
	rt.heapTotal.Add(^(n - 1))
}

// resetHeapTrigger sets the next trigger from the heap that survived a
// cycle.
func (rt *Runtime) resetHeapTrigger() {
	base := rt.cfg.HeapTriggerBytes
	if base == 0 {
		return
	}
	rt.heapThreshold.Store(max(base, 2*rt.heapTotal.Load()))
}

// HeapTriggerBytes returns the runtime-wide total that will request the
// next full collection, or 0 if there is none.
func (rt *Runtime) HeapTriggerBytes() uint64 { return rt.heapThreshold.Load() }

// MajorGCRequested reports whether a memory trigger asked for a major GC.
func (rt *Runtime) MajorGCRequested() bool { return rt.majorRequested.Load() }

// MinorGCRequested reports whether the nursery is full.
func (rt *Runtime) MinorGCRequested() bool { return rt.minorRequested }

func (rt *Runtime) newScrambler() ordered.Scrambler {
	return ordered.RandomScrambler()
}

// ---------------------------------------------------------------------------
// Roots
// ---------------------------------------------------------------------------

// Root is a strong reference held outside the heap.
type Root struct {
	rt   *Runtime
	cell *Cell
}

// NewRoot roots c until Release.
func (rt *Runtime) NewRoot(c *Cell) *Root {
	r := &Root{rt: rt}
	rt.roots[r] = struct{}{}
	r.Set(c)
	return r
}

// Get returns the rooted cell.
func (r *Root) Get() *Cell {
	r.cell = r.cell.Resolve()
	return r.cell
}

// Set replaces the rooted cell. Roots are never rescanned, so both the old
// and the new cell are shaded while marking.
func (r *Root) Set(c *Cell) {
	c = c.Resolve()
	PreWriteBarrier(r.cell)
	if c != nil && collecting(c) {
		r.rt.marker.shade(c)
	}
	r.cell = c
}

// Release unroots the cell.
func (r *Root) Release() {
	PreWriteBarrier(r.cell)
	delete(r.rt.roots, r)
	r.cell = nil
}

// RootCount returns the number of live roots.
func (rt *Runtime) RootCount() int { return len(rt.roots) }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// IsIncrementalGCInProgress reports whether a major cycle has started and
// not finished.
func (rt *Runtime) IsIncrementalGCInProgress() bool {
	return rt.incState != stateNotActive
}

// Alloc allocates a cell of kind for thing in comp. Cells go to the nursery
// unless their kind owns table storage or a major cycle is in progress.
// Alloc never runs a collection; a full nursery only sets
// MinorGCRequested.
func (rt *Runtime) Alloc(comp *Compartment, kind Kind, thing Thing) (*Cell, error) {
	if comp == nil || comp.destroyed {
		panic("gc: Alloc in a missing or destroyed compartment")
	}
	z := comp.zone
	c := newCell(kind, z, comp, thing)
	if kind.nurseryAllocatable() && !rt.IsIncrementalGCInProgress() && rt.cfg.NurseryBytes != 0 {
		rt.nursery.alloc(c)
		if rt.nursery.isFull() {
			rt.minorRequested = true
		}
		return c, nil
	}
	if err := z.allocTenured(c, true); err != nil {
		return nil, fmt.Errorf("allocating %s: %w", kind, err)
	}
	if z.state == Mark || z.state == Sweep {
		rt.allocatedDuringGC(c)
	}
	return c, nil
}

// allocatedDuringGC blackens a cell created while its zone is being
// collected so this cycle cannot free it.
func (rt *Runtime) allocatedDuringGC(c *Cell) {
	if c.zone.IsGCMarking() {
		rt.marker.shade(c)
		return
	}
	c.arena.markBlack(c.index)
	if c.comp != nil {
		c.comp.marked = true
	}
}

const slotBytes = 16

// NewObject allocates an object with nslots undefined slots.
func (rt *Runtime) NewObject(comp *Compartment, nslots int) (*Cell, error) {
	n := uint64(nslots) * slotBytes
	if err := comp.zone.AddCellMemory(nil, n, MemoryUseObjectSlots); err != nil {
		return nil, fmt.Errorf("allocating object slots: %w", err)
	}
	c, err := rt.Alloc(comp, KindObject, &Object{slots: make([]Value, nslots)})
	if err != nil {
		comp.zone.RemoveCellMemory(nil, n, MemoryUseObjectSlots)
		return nil, err
	}
	return c, nil
}

// NewString allocates a string.
func (rt *Runtime) NewString(comp *Compartment, s string) (*Cell, error) {
	if err := comp.zone.AddCellMemory(nil, uint64(len(s)), MemoryUseStringChars); err != nil {
		return nil, fmt.Errorf("allocating string chars: %w", err)
	}
	c, err := rt.Alloc(comp, KindString, &String{s: s})
	if err != nil {
		comp.zone.RemoveCellMemory(nil, uint64(len(s)), MemoryUseStringChars)
		return nil, err
	}
	return c, nil
}

// NewSymbol allocates a symbol.
func (rt *Runtime) NewSymbol(comp *Compartment, desc string) (*Cell, error) {
	return rt.Alloc(comp, KindSymbol, &Symbol{desc: desc})
}

// Atomize returns the interned string for s, creating it in the atoms zone
// if needed.
func (rt *Runtime) Atomize(s string) (*Cell, error) {
	if c, ok := rt.atoms.Lookup(s); ok {
		return c, nil
	}
	if err := rt.atomsZone.AddCellMemory(nil, uint64(len(s)), MemoryUseStringChars); err != nil {
		return nil, fmt.Errorf("atomizing: %w", err)
	}
	c := newCell(KindString, rt.atomsZone, rt.atomsComp, &String{s: s})
	if err := rt.atomsZone.allocTenured(c, true); err != nil {
		rt.atomsZone.RemoveCellMemory(nil, uint64(len(s)), MemoryUseStringChars)
		return nil, fmt.Errorf("atomizing: %w", err)
	}
	if st := rt.atomsZone.state; st == Mark || st == Sweep {
		rt.allocatedDuringGC(c)
	}
	if err := rt.atoms.add(c); err != nil {
		// The cell is unreferenced and will be swept.
		return nil, fmt.Errorf("atomizing: %w", err)
	}
	return c, nil
}

// NewMap allocates an empty MapObject.
func (rt *Runtime) NewMap(comp *Compartment) (*Cell, error) {
	m := &MapObject{table: ordered.NewMap[Value, Value](valuePolicy{}, comp.zone.AllocPolicy(MemoryUseMapObjectTable))}
	if err := m.table.Init(rt.newScrambler()); err != nil {
		return nil, fmt.Errorf("allocating map table: %w", err)
	}
	c, err := rt.Alloc(comp, KindMap, m)
	if err != nil {
		m.table.Destroy()
		return nil, err
	}
	return c, nil
}

// NewSet allocates an empty SetObject.
func (rt *Runtime) NewSet(comp *Compartment) (*Cell, error) {
	s := &SetObject{table: ordered.NewSet[Value](valuePolicy{}, comp.zone.AllocPolicy(MemoryUseSetObjectTable))}
	if err := s.table.Init(rt.newScrambler()); err != nil {
		return nil, fmt.Errorf("allocating set table: %w", err)
	}
	c, err := rt.Alloc(comp, KindSet, s)
	if err != nil {
		s.table.Destroy()
		return nil, err
	}
	return c, nil
}

// NewWeakMap allocates an empty WeakMap.
func (rt *Runtime) NewWeakMap(comp *Compartment) (*Cell, error) {
	w := &WeakMap{table: ordered.NewMap[Value, Value](valuePolicy{}, comp.zone.AllocPolicy(MemoryUseWeakMapTable))}
	if err := w.table.Init(rt.newScrambler()); err != nil {
		return nil, fmt.Errorf("allocating weak map table: %w", err)
	}
	c, err := rt.Alloc(comp, KindWeakMap, w)
	if err != nil {
		w.table.Destroy()
		return nil, err
	}
	comp.zone.weakMaps = append(comp.zone.weakMaps, c)
	return c, nil
}

// NewWeakRef allocates a weak reference to target.
func (rt *Runtime) NewWeakRef(comp *Compartment, target *Cell) (*Cell, error) {
	w := &WeakRef{}
	c, err := rt.Alloc(comp, KindWeakRef, w)
	if err != nil {
		return nil, err
	}
	w.target = target.Resolve()
	PostWriteBarrier(c, &w.target, w.target)
	comp.zone.weakRefs = append(comp.zone.weakRefs, c)
	return c, nil
}

// NewIterator allocates an iterator over a MapObject or SetObject. The
// iterator lives in its target's compartment.
func (rt *Runtime) NewIterator(target *Cell) (*Cell, error) {
	target = target.Resolve()
	it := &Iterator{}
	c, err := rt.Alloc(target.comp, KindIterator, it)
	if err != nil {
		return nil, err
	}
	it.target = target
	switch t := target.thing.(type) {
	case *MapObject:
		if c.nursery {
			it.mapRange = t.table.AllNursery()
			rt.nursery.rangeOwners[t] = struct{}{}
		} else {
			it.mapRange = t.table.All()
		}
		it.r = it.mapRange
	case *SetObject:
		if c.nursery {
			it.setRange = t.table.AllNursery()
			rt.nursery.rangeOwners[t] = struct{}{}
		} else {
			it.setRange = t.table.All()
		}
		it.r = it.setRange
	default:
		panic(fmt.Sprintf("gc: cannot iterate a %s", target.kind))
	}
	return c, nil
}
