package gc

import "time"

// ---------------------------------------------------------------------------
// Collection statistics
// ---------------------------------------------------------------------------

// CycleStats describes one major collection.
type CycleStats struct {
	Number    uint64
	Reason    string
	Shrinking bool
	Zones     int
	Slices    int

	Marked             uint64
	Scanned            uint64
	MarkStackOverflows int

	SweepGroups       int
	MergedSweepGroups bool
	Freed             int
	WeakMapEntries    int
	WeakRefsCleared   int
	WeakCacheEntries  int
	UniqueIDsSwept    int
	CompartmentsSwept int
	ZonesDestroyed    int

	Compacted      bool
	Relocated      int
	ArenasReleased int

	HeapBytesBefore uint64
	HeapBytesAfter  uint64

	StartedAt time.Time
	Duration  time.Duration
}

// MinorStats describes one nursery collection.
type MinorStats struct {
	Number        uint64
	Reason        string
	Nursery       int
	Buffered      int
	Tenured       int
	Freed         int
	RangesCleared int
	StartedAt     time.Time
	Duration      time.Duration
}

func (s *CycleStats) addSweep(r zoneSweepResult) {
	s.Freed += r.cells
	s.WeakMapEntries += r.weakMapEntries
	s.WeakRefsCleared += r.weakRefs
	s.WeakCacheEntries += r.weakCacheEntries
	s.UniqueIDsSwept += r.uniqueIDs
	s.CompartmentsSwept += r.compartments
}

// LastCycle returns the stats of the most recent finished major cycle.
func (rt *Runtime) LastCycle() CycleStats { return rt.lastCycle }

// LastMinor returns the stats of the most recent minor GC.
func (rt *Runtime) LastMinor() MinorStats { return rt.lastMinor }

// CycleCount returns the number of finished major cycles.
func (rt *Runtime) CycleCount() uint64 { return rt.cycleCount }

// MinorCount returns the number of minor GCs that found a non-empty
// nursery.
func (rt *Runtime) MinorCount() uint64 { return rt.minorCount }

// OnCycleEnd registers fn to run after every major cycle, outside the
// collector. fn may allocate.
func (rt *Runtime) OnCycleEnd(fn func(CycleStats)) { rt.onCycleEnd = fn }

// HeapBytes returns arena and malloc bytes summed over every zone.
func (rt *Runtime) HeapBytes() uint64 {
	var n uint64
	for _, z := range rt.zones {
		n += z.gcBytes + z.mallocTotal
	}
	return n
}
