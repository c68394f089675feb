package gc

import (
	"errors"
	"fmt"

	"github.com/chazu/zonegc/ordered"
)

// ErrOutOfMemory is returned by every allocation path that can fail.
var ErrOutOfMemory = ordered.ErrOutOfMemory

// ErrSimulatedOOM marks failures injected by Runtime.SimulateOOMAfter.
var ErrSimulatedOOM = fmt.Errorf("%w: simulated", ErrOutOfMemory)

// IsOutOfMemory reports whether err is an allocation failure.
func IsOutOfMemory(err error) bool {
	return errors.Is(err, ErrOutOfMemory)
}

// MemoryUse tags malloc memory charged to a zone on behalf of a cell.
type MemoryUse uint8

const (
	MemoryUseMapObjectTable MemoryUse = iota
	MemoryUseSetObjectTable
	MemoryUseWeakMapTable
	MemoryUseUniqueIDTable
	MemoryUseObjectSlots
	MemoryUseStringChars
	MemoryUseAtomCache

	numMemoryUses
)

var memoryUseNames = [numMemoryUses]string{
	MemoryUseMapObjectTable: "MapObjectTable",
	MemoryUseSetObjectTable: "SetObjectTable",
	MemoryUseWeakMapTable:   "WeakMapTable",
	MemoryUseUniqueIDTable:  "UniqueIDTable",
	MemoryUseObjectSlots:    "ObjectSlots",
	MemoryUseStringChars:    "StringChars",
	MemoryUseAtomCache:      "AtomCache",
}

func (u MemoryUse) String() string {
	if u < numMemoryUses {
		return memoryUseNames[u]
	}
	return fmt.Sprintf("MemoryUse(%d)", uint8(u))
}

// Approximate malloc cost of one unique-id table entry.
const uniqueIDEntryBytes = 16

// AddCellMemory charges n malloc bytes owned by c to the zone. Crossing the
// malloc trigger requests a major GC of the zone and crossing the
// runtime's heap trigger one of every zone; crossing MaxMallocBytes fails
// with ErrOutOfMemory and charges nothing.
func (z *Zone) AddCellMemory(c *Cell, n uint64, use MemoryUse) error {
	if c != nil && c.zone != z {
		panic(fmt.Sprintf("gc: cell memory charged to zone %s but cell is in %s", z, c.zone))
	}
	return z.addMemory(n, use)
}

// RemoveCellMemory releases bytes charged with AddCellMemory.
func (z *Zone) RemoveCellMemory(c *Cell, n uint64, use MemoryUse) {
	if c != nil && c.zone != z {
		panic(fmt.Sprintf("gc: cell memory released from zone %s but cell is in %s", z, c.zone))
	}
	z.removeMemory(n, use)
}

func (z *Zone) addMemory(n uint64, use MemoryUse) error {
	if err := z.rt.checkSimulatedOOM(); err != nil {
		return err
	}
	if limit := z.rt.cfg.MaxMallocBytes; limit != 0 && (n > limit || z.mallocTotal > limit-n) {
		return fmt.Errorf("%w: zone %s malloc limit (%s)", ErrOutOfMemory, z, use)
	}
	z.mallocBytes[use] += n
	z.mallocTotal += n
	z.rt.heapGrew(n)
	if trigger := z.rt.cfg.MallocTriggerBytes; trigger != 0 && z.mallocTotal >= trigger {
		z.rt.requestMajorGC(z, "malloc trigger")
	}
	return nil
}

func (z *Zone) removeMemory(n uint64, use MemoryUse) {
	if n > z.mallocBytes[use] {
		panic(fmt.Sprintf("gc: zone %s releasing %d %s bytes with %d charged", z, n, use, z.mallocBytes[use]))
	}
	z.mallocBytes[use] -= n
	z.mallocTotal -= n
	z.rt.heapShrank(n)
}

// MallocBytes returns all malloc bytes charged to the zone.
func (z *Zone) MallocBytes() uint64 { return z.mallocTotal }

// MallocBytesFor returns the malloc bytes charged under one tag.
func (z *Zone) MallocBytesFor(use MemoryUse) uint64 { return z.mallocBytes[use] }

// GCBytes returns the bytes held by the zone's arenas.
func (z *Zone) GCBytes() uint64 { return z.gcBytes }

// AllocPolicy returns an ordered.AllocPolicy that charges table storage to
// the zone under use.
func (z *Zone) AllocPolicy(use MemoryUse) ordered.AllocPolicy {
	return zoneAllocPolicy{zone: z, use: use}
}

type zoneAllocPolicy struct {
	zone *Zone
	use  MemoryUse
}

func (p zoneAllocPolicy) Reserve(n uint64) error { return p.zone.addMemory(n, p.use) }
func (p zoneAllocPolicy) Release(n uint64)       { p.zone.removeMemory(n, p.use) }
