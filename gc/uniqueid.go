package gc

import "fmt"

// ---------------------------------------------------------------------------
// Unique ids: stable 64-bit handles for cells whose address may change
// ---------------------------------------------------------------------------

// GetOrCreateUniqueID returns c's unique id, allocating one on first use.
// It fails only if the zone cannot charge the table entry.
func (z *Zone) GetOrCreateUniqueID(c *Cell) (uint64, error) {
	c = z.ownCell(c)
	if id, ok := z.uniqueIDs[c]; ok {
		return id, nil
	}
	if err := z.addMemory(uniqueIDEntryBytes, MemoryUseUniqueIDTable); err != nil {
		return 0, fmt.Errorf("unique id for %s cell: %w", c.kind, err)
	}
	id := z.rt.newUniqueID()
	z.uniqueIDs[c] = id
	c.uid = id
	return id, nil
}

// MaybeGetUniqueID returns c's id without allocating.
func (z *Zone) MaybeGetUniqueID(c *Cell) (uint64, bool) {
	id, ok := z.uniqueIDs[z.ownCell(c)]
	return id, ok
}

func (z *Zone) HasUniqueID(c *Cell) bool {
	_, ok := z.uniqueIDs[z.ownCell(c)]
	return ok
}

// RemoveUniqueID forgets c's id. Removing an absent id is a no-op.
func (z *Zone) RemoveUniqueID(c *Cell) {
	c = z.ownCell(c)
	if _, ok := z.uniqueIDs[c]; !ok {
		return
	}
	delete(z.uniqueIDs, c)
	c.uid = 0
	z.removeMemory(uniqueIDEntryBytes, MemoryUseUniqueIDTable)
}

// TransferUniqueID moves src's id to dst. Both cells must be in this zone
// and dst must not already have an id. If src has none, nothing happens.
func (z *Zone) TransferUniqueID(dst, src *Cell) {
	dst, src = dst.Resolve(), src.Resolve()
	if dst.zone != z || src.zone != z {
		panic(fmt.Sprintf("gc: TransferUniqueID across zones in %s", z))
	}
	if _, ok := z.uniqueIDs[dst]; ok {
		panic("gc: TransferUniqueID onto a cell that already has an id")
	}
	id, ok := z.uniqueIDs[src]
	if !ok {
		return
	}
	delete(z.uniqueIDs, src)
	src.uid = 0
	z.uniqueIDs[dst] = id
	dst.uid = id
}

// UniqueIDCount returns the number of ids the zone holds.
func (z *Zone) UniqueIDCount() int { return len(z.uniqueIDs) }

func (z *Zone) ownCell(c *Cell) *Cell {
	c = c.Resolve()
	if c.zone != z {
		panic(fmt.Sprintf("gc: cell of zone %s used with zone %s", c.zone, z))
	}
	return c
}
