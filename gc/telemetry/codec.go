// Package telemetry encodes collector statistics and heap snapshots as
// CBOR and records cycle history in a sqlite database.
package telemetry

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/zonegc/gc"
)

var log = commonlog.GetLogger("zonegc.telemetry")

// cborEncMode uses canonical encoding so equal records encode to equal
// bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("telemetry: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// CycleRecord is the wire form of gc.CycleStats.
type CycleRecord struct {
	RuntimeID  [16]byte `cbor:"1,keyasint"`
	Number     uint64   `cbor:"2,keyasint"`
	Reason     string   `cbor:"3,keyasint,omitempty"`
	Shrinking  bool     `cbor:"4,keyasint,omitempty"`
	Zones      int      `cbor:"5,keyasint"`
	Slices     int      `cbor:"6,keyasint"`
	Marked     uint64   `cbor:"7,keyasint"`
	Scanned    uint64   `cbor:"8,keyasint"`
	Overflows  int      `cbor:"9,keyasint,omitempty"`
	Groups     int      `cbor:"10,keyasint"`
	Merged     bool     `cbor:"11,keyasint,omitempty"`
	Freed      int      `cbor:"12,keyasint"`
	WeakMap    int      `cbor:"13,keyasint,omitempty"`
	WeakRefs   int      `cbor:"14,keyasint,omitempty"`
	WeakCache  int      `cbor:"15,keyasint,omitempty"`
	UniqueIDs  int      `cbor:"16,keyasint,omitempty"`
	Comps      int      `cbor:"17,keyasint,omitempty"`
	ZonesDead  int      `cbor:"18,keyasint,omitempty"`
	Compacted  bool     `cbor:"19,keyasint,omitempty"`
	Relocated  int      `cbor:"20,keyasint,omitempty"`
	Released   int      `cbor:"21,keyasint,omitempty"`
	HeapBefore uint64   `cbor:"22,keyasint"`
	HeapAfter  uint64   `cbor:"23,keyasint"`
	StartedAt  int64    `cbor:"24,keyasint"` // unix nanoseconds
	DurationNS int64    `cbor:"25,keyasint"`
}

// NewCycleRecord converts the stats of a cycle run by runtime id.
func NewCycleRecord(id uuid.UUID, s gc.CycleStats) CycleRecord {
	return CycleRecord{
		RuntimeID:  id,
		Number:     s.Number,
		Reason:     s.Reason,
		Shrinking:  s.Shrinking,
		Zones:      s.Zones,
		Slices:     s.Slices,
		Marked:     s.Marked,
		Scanned:    s.Scanned,
		Overflows:  s.MarkStackOverflows,
		Groups:     s.SweepGroups,
		Merged:     s.MergedSweepGroups,
		Freed:      s.Freed,
		WeakMap:    s.WeakMapEntries,
		WeakRefs:   s.WeakRefsCleared,
		WeakCache:  s.WeakCacheEntries,
		UniqueIDs:  s.UniqueIDsSwept,
		Comps:      s.CompartmentsSwept,
		ZonesDead:  s.ZonesDestroyed,
		Compacted:  s.Compacted,
		Relocated:  s.Relocated,
		Released:   s.ArenasReleased,
		HeapBefore: s.HeapBytesBefore,
		HeapAfter:  s.HeapBytesAfter,
		StartedAt:  s.StartedAt.UnixNano(),
		DurationNS: int64(s.Duration),
	}
}

// Stats converts the record back. The runtime id is not part of
// gc.CycleStats; use Runtime.
func (r CycleRecord) Stats() gc.CycleStats {
	return gc.CycleStats{
		Number:             r.Number,
		Reason:             r.Reason,
		Shrinking:          r.Shrinking,
		Zones:              r.Zones,
		Slices:             r.Slices,
		Marked:             r.Marked,
		Scanned:            r.Scanned,
		MarkStackOverflows: r.Overflows,
		SweepGroups:        r.Groups,
		MergedSweepGroups:  r.Merged,
		Freed:              r.Freed,
		WeakMapEntries:     r.WeakMap,
		WeakRefsCleared:    r.WeakRefs,
		WeakCacheEntries:   r.WeakCache,
		UniqueIDsSwept:     r.UniqueIDs,
		CompartmentsSwept:  r.Comps,
		ZonesDestroyed:     r.ZonesDead,
		Compacted:          r.Compacted,
		Relocated:          r.Relocated,
		ArenasReleased:     r.Released,
		HeapBytesBefore:    r.HeapBefore,
		HeapBytesAfter:     r.HeapAfter,
		StartedAt:          time.Unix(0, r.StartedAt),
		Duration:           time.Duration(r.DurationNS),
	}
}

// Runtime returns the id of the runtime that ran the cycle.
func (r CycleRecord) Runtime() uuid.UUID { return uuid.UUID(r.RuntimeID) }

// ZoneRecord is the wire form of gc.ZoneSnapshot. Map keys are the
// collector's kind and memory-use names.
type ZoneRecord struct {
	ID           [16]byte          `cbor:"1,keyasint"`
	Name         string            `cbor:"2,keyasint,omitempty"`
	State        string            `cbor:"3,keyasint"`
	Scheduled    bool              `cbor:"4,keyasint,omitempty"`
	Compartments int               `cbor:"5,keyasint"`
	Arenas       int               `cbor:"6,keyasint"`
	Cells        map[string]int    `cbor:"7,keyasint,omitempty"`
	GCBytes      uint64            `cbor:"8,keyasint"`
	MallocBytes  map[string]uint64 `cbor:"9,keyasint,omitempty"`
	UniqueIDs    int               `cbor:"10,keyasint,omitempty"`
	WeakMaps     int               `cbor:"11,keyasint,omitempty"`
	WeakRefs     int               `cbor:"12,keyasint,omitempty"`
	GrayRoots    int               `cbor:"13,keyasint,omitempty"`
}

// SnapshotRecord is the wire form of gc.HeapSnapshot.
type SnapshotRecord struct {
	RuntimeID    [16]byte     `cbor:"1,keyasint"`
	TakenAt      int64        `cbor:"2,keyasint"`
	Cycles       uint64       `cbor:"3,keyasint"`
	MinorGCs     uint64       `cbor:"4,keyasint"`
	NurseryCells int          `cbor:"5,keyasint"`
	Roots        int          `cbor:"6,keyasint"`
	Atoms        int          `cbor:"7,keyasint"`
	Zones        []ZoneRecord `cbor:"8,keyasint"`
}

// NewSnapshotRecord converts a heap snapshot.
func NewSnapshotRecord(s gc.HeapSnapshot) SnapshotRecord {
	r := SnapshotRecord{
		RuntimeID:    s.RuntimeID,
		TakenAt:      s.TakenAt.UnixNano(),
		Cycles:       s.Cycles,
		MinorGCs:     s.MinorGCs,
		NurseryCells: s.NurseryCells,
		Roots:        s.Roots,
		Atoms:        s.Atoms,
		Zones:        make([]ZoneRecord, 0, len(s.Zones)),
	}
	for _, z := range s.Zones {
		zr := ZoneRecord{
			ID:           z.ID,
			Name:         z.Name,
			State:        z.State.String(),
			Scheduled:    z.Scheduled,
			Compartments: z.Compartments,
			Arenas:       z.Arenas,
			GCBytes:      z.GCBytes,
			UniqueIDs:    z.UniqueIDs,
			WeakMaps:     z.WeakMaps,
			WeakRefs:     z.WeakRefs,
			GrayRoots:    z.GrayRoots,
		}
		if len(z.Cells) > 0 {
			zr.Cells = make(map[string]int, len(z.Cells))
			for k, n := range z.Cells {
				zr.Cells[k.String()] = n
			}
		}
		if len(z.MallocBytes) > 0 {
			zr.MallocBytes = make(map[string]uint64, len(z.MallocBytes))
			for u, n := range z.MallocBytes {
				zr.MallocBytes[u.String()] = n
			}
		}
		r.Zones = append(r.Zones, zr)
	}
	return r
}

// ---------------------------------------------------------------------------
// Marshalling
// ---------------------------------------------------------------------------

// MarshalCycle serializes a CycleRecord to CBOR bytes.
func MarshalCycle(r *CycleRecord) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalCycle deserializes a CycleRecord from CBOR bytes.
func UnmarshalCycle(data []byte) (*CycleRecord, error) {
	var r CycleRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("telemetry: unmarshal cycle: %w", err)
	}
	return &r, nil
}

// MarshalSnapshot serializes a SnapshotRecord to CBOR bytes.
func MarshalSnapshot(r *SnapshotRecord) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalSnapshot deserializes a SnapshotRecord from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*SnapshotRecord, error) {
	var r SnapshotRecord
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("telemetry: unmarshal snapshot: %w", err)
	}
	return &r, nil
}
