package gc

import (
	"time"

	"github.com/google/uuid"
)

// HeapSnapshot is a point-in-time summary of a runtime's heap.
type HeapSnapshot struct {
	RuntimeID    uuid.UUID
	TakenAt      time.Time
	Cycles       uint64
	MinorGCs     uint64
	NurseryCells int
	Roots        int
	Atoms        int
	Zones        []ZoneSnapshot
}

// ZoneSnapshot summarizes one zone.
type ZoneSnapshot struct {
	ID           uuid.UUID
	Name         string
	State        GCState
	Scheduled    bool
	Compartments int
	Arenas       int
	Cells        map[Kind]int
	GCBytes      uint64
	MallocBytes  map[MemoryUse]uint64
	UniqueIDs    int
	WeakMaps     int
	WeakRefs     int
	GrayRoots    int
}

// Snapshot summarizes the heap. It must not be called while the heap is
// busy.
func (rt *Runtime) Snapshot() HeapSnapshot {
	rt.assertNotBusy("Snapshot")
	s := HeapSnapshot{
		RuntimeID:    rt.id,
		TakenAt:      time.Now(),
		Cycles:       rt.cycleCount,
		MinorGCs:     rt.minorCount,
		NurseryCells: rt.nursery.Len(),
		Roots:        len(rt.roots),
		Atoms:        rt.atoms.Len(),
	}
	for _, z := range rt.zones {
		s.Zones = append(s.Zones, z.snapshot())
	}
	return s
}

func (z *Zone) snapshot() ZoneSnapshot {
	zs := ZoneSnapshot{
		ID:           z.id,
		Name:         z.name,
		State:        z.state,
		Scheduled:    z.scheduled,
		Compartments: len(z.compartments),
		Cells:        make(map[Kind]int),
		GCBytes:      z.gcBytes,
		MallocBytes:  make(map[MemoryUse]uint64),
		UniqueIDs:    len(z.uniqueIDs),
		WeakMaps:     len(z.weakMaps),
		WeakRefs:     len(z.weakRefs),
		GrayRoots:    len(z.grayRoots),
	}
	for k := range z.arenas {
		zs.Arenas += len(z.arenas[k])
		for _, a := range z.arenas[k] {
			if a.live > 0 {
				zs.Cells[Kind(k)] += a.live
			}
		}
	}
	for use, n := range z.mallocBytes {
		if n > 0 {
			zs.MallocBytes[MemoryUse(use)] = n
		}
	}
	return zs
}
