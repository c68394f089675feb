package gc

import "github.com/zeebo/xxh3"

// WeakCache is a zone-owned table of weak references. Sweep drops entries
// whose cells are about to be finalized and returns how many it dropped.
// Relocate rewrites entries after compaction.
type WeakCache interface {
	Sweep() int
	Relocate(trc Tracer)
}

// RegisterWeakCache arranges for cache to be swept with the zone.
func (z *Zone) RegisterWeakCache(cache WeakCache) {
	z.weakCaches = append(z.weakCaches, cache)
}

// UnregisterWeakCache removes a cache registered with RegisterWeakCache.
func (z *Zone) UnregisterWeakCache(cache WeakCache) {
	for i, c := range z.weakCaches {
		if c == cache {
			z.weakCaches = append(z.weakCaches[:i], z.weakCaches[i+1:]...)
			return
		}
	}
}

// IsAboutToBeFinalized reports whether c is dead in the current cycle: its
// zone is sweeping and it was not marked. Weak readers must treat such
// cells as already gone.
func IsAboutToBeFinalized(c *Cell) bool {
	c = c.Resolve()
	return c.zone.state == Sweep && !c.nursery && !c.IsMarked()
}

// ---------------------------------------------------------------------------
// AtomCache: the runtime's interned strings
// ---------------------------------------------------------------------------

const atomEntryBytes = 32

// AtomCache interns strings in the atoms zone. Atoms are held weakly: an
// atom nobody references is dropped when its zone is swept.
type AtomCache struct {
	zone    *Zone
	buckets map[uint64][]*Cell
	count   int
}

func newAtomCache(z *Zone) *AtomCache {
	return &AtomCache{zone: z, buckets: make(map[uint64][]*Cell)}
}

// Len returns the number of cached atoms.
func (a *AtomCache) Len() int { return a.count }

// Lookup returns the atom for s without creating one.
func (a *AtomCache) Lookup(s string) (*Cell, bool) {
	for _, c := range a.buckets[xxh3.HashString(s)] {
		if c.thing.(*String).s == s && !IsAboutToBeFinalized(c) {
			ReadBarrier(c)
			return c, true
		}
	}
	return nil, false
}

func (a *AtomCache) add(c *Cell) error {
	if err := a.zone.addMemory(atomEntryBytes, MemoryUseAtomCache); err != nil {
		return err
	}
	h := xxh3.HashString(c.thing.(*String).s)
	a.buckets[h] = append(a.buckets[h], c)
	a.count++
	return nil
}

func (a *AtomCache) Sweep() int {
	dropped := 0
	for h, cells := range a.buckets {
		kept := cells[:0]
		for _, c := range cells {
			if IsAboutToBeFinalized(c) {
				dropped++
				continue
			}
			kept = append(kept, c)
		}
		clear(cells[len(kept):])
		if len(kept) == 0 {
			delete(a.buckets, h)
		} else {
			a.buckets[h] = kept
		}
	}
	a.count -= dropped
	a.zone.removeMemory(uint64(dropped)*atomEntryBytes, MemoryUseAtomCache)
	return dropped
}

func (a *AtomCache) Relocate(trc Tracer) {
	for _, cells := range a.buckets {
		for i := range cells {
			trc.OnEdge(&cells[i], "atom")
		}
	}
}
