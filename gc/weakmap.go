package gc

import (
	"fmt"

	"github.com/chazu/zonegc/ordered"
)

// WeakMap is an ephemeron table: an entry's value is kept alive only while
// both the map and the key are. Keys must be non-string cells.
type WeakMap struct {
	Header
	table *ordered.Map[Value, Value, valuePolicy]
}

func weakMapKey(key Value) (Value, error) {
	key = key.resolved()
	if key.tag != tagCell {
		return key, fmt.Errorf("%w: weak map key must be a cell, got %s", ErrInvalidKey, key)
	}
	if _, ok := key.c.thing.(*String); ok {
		return key, fmt.Errorf("%w: weak map key cannot be a string", ErrInvalidKey)
	}
	return key, nil
}

func (w *WeakMap) Size() int { return w.table.Count() }

func (w *WeakMap) Has(key Value) bool {
	key, ok := prepareKey(key)
	return ok && key.tag == tagCell && w.table.Has(key)
}

func (w *WeakMap) Get(key Value) (Value, bool) {
	key, ok := prepareKey(key)
	if !ok || key.tag != tagCell {
		return Undefined(), false
	}
	v, ok := w.table.Get(key)
	if !ok {
		return Undefined(), false
	}
	return readValue(v), true
}

func (w *WeakMap) Set(key, value Value) error {
	key, err := weakMapKey(key)
	if err != nil {
		return err
	}
	value = value.resolved()
	if err := ensureKeyID(key); err != nil {
		return err
	}
	if e := w.table.Lookup(key); e != nil {
		preBarrierValue(e.Value)
	}
	insertBarriers(w.cell, key, value)
	return w.table.Put(key, value)
}

func (w *WeakMap) Delete(key Value) bool {
	key, ok := prepareKey(key)
	if !ok || key.tag != tagCell {
		return false
	}
	e := w.table.Lookup(key)
	if e == nil {
		return false
	}
	preBarrierValue(e.Value)
	return w.table.Remove(key)
}

// Trace reports nothing to a marking tracer: the marker handles weak maps
// as ephemerons once ordinary marking is done. Other tracers see keys and
// values as strong edges.
func (w *WeakMap) Trace(trc Tracer) {
	if !w.table.Initialized() {
		return
	}
	if m, ok := trc.(*marker); ok {
		m.noteWeakMap(w)
		return
	}
	var moved []movedKey
	w.table.Trace(func(e *ordered.Entry[Value, Value]) {
		k := e.Key
		TraceValue(trc, &k, "weakmap key")
		TraceValue(trc, &e.Value, "weakmap value")
		if k.c != e.Key.c {
			moved = append(moved, movedKey{from: e.Key, to: k, value: e.Value})
		}
	})
	for _, mk := range moved {
		w.table.RekeyOneEntry(mk.from, mk.to, mk.value)
	}
}

func (w *WeakMap) Finalize() {
	if w.table.Initialized() {
		w.table.Destroy()
	}
}

// SweepWeakMaps removes entries whose keys died from every live weak map in
// the zone and forgets dead maps. It returns the number of entries removed.
func (z *Zone) SweepWeakMaps() int {
	z.assertSweeping("SweepWeakMaps")
	removed := 0
	kept := z.weakMaps[:0]
	for _, c := range z.weakMaps {
		c = c.Resolve()
		if !c.IsMarked() {
			continue
		}
		kept = append(kept, c)
		w := c.thing.(*WeakMap)
		var dead []Value
		w.table.Trace(func(e *ordered.Entry[Value, Value]) {
			k := e.Key.c
			if k.zone.state == Sweep && !k.nursery && !k.IsMarked() {
				dead = append(dead, e.Key)
			}
		})
		for _, k := range dead {
			w.table.Remove(k)
		}
		removed += len(dead)
	}
	clear(z.weakMaps[len(kept):])
	z.weakMaps = kept
	return removed
}
