package gc

import (
	"errors"

	"github.com/zeebo/xxh3"

	"github.com/chazu/zonegc/ordered"
)

// ErrInvalidKey is returned when a value cannot be used as a key.
var ErrInvalidKey = errors.New("invalid key")

// ---------------------------------------------------------------------------
// Hash policy for Value keys
// ---------------------------------------------------------------------------

const undefinedHash = 0x5bd1e9955bd1e995

// valuePolicy hashes ints by value, strings by content and every other
// cell by its zone unique id, so a key's hash survives tenuring and
// compaction. Callers must create the id before inserting such a key.
type valuePolicy struct{}

func (valuePolicy) Hash(v Value, s *ordered.Scrambler) ordered.HashNumber {
	switch v.tag {
	case tagInt:
		return s.Scramble(uint64(v.i))
	case tagCell:
		c := v.c.Resolve()
		if str, ok := c.thing.(*String); ok {
			return s.Scramble(xxh3.HashString(str.s))
		}
		if c.uid == 0 {
			panic("gc: hashing a " + c.kind.String() + " cell without a unique id")
		}
		return s.Scramble(c.uid)
	}
	return s.Scramble(undefinedHash)
}

func (valuePolicy) Match(key, lookup Value) bool {
	if key.tag != lookup.tag {
		return false
	}
	switch key.tag {
	case tagInt:
		return key.i == lookup.i
	case tagCell:
		if key.c == lookup.c {
			return true
		}
		ks, ok1 := key.c.thing.(*String)
		ls, ok2 := lookup.c.thing.(*String)
		return ok1 && ok2 && ks.s == ls.s
	case tagEmpty:
		return false
	}
	return true
}

func (valuePolicy) IsEmpty(key Value) bool { return key.tag == tagEmpty }
func (valuePolicy) MakeEmpty(key *Value)   { *key = Value{tag: tagEmpty} }

// prepareKey resolves k and reports whether it can be present in a table.
// Identity-hashed cells without a unique id were never inserted.
func prepareKey(k Value) (Value, bool) {
	k = k.resolved()
	if k.tag != tagCell {
		return k, true
	}
	if _, ok := k.c.thing.(*String); ok {
		return k, true
	}
	return k, k.c.uid != 0
}

// ensureKeyID gives identity-hashed key cells a unique id before insertion.
func ensureKeyID(k Value) error {
	if k.tag != tagCell {
		return nil
	}
	if _, ok := k.c.thing.(*String); ok {
		return nil
	}
	_, err := k.c.zone.GetOrCreateUniqueID(k.c)
	return err
}

func readValue(v Value) Value {
	if v.tag == tagCell {
		ReadBarrier(v.c)
	}
	return v.resolved()
}

func preBarrierValue(v Value) {
	if v.tag == tagCell {
		PreWriteBarrier(v.c)
	}
}

// insertBarriers shades new referents of a marked holder and records
// nursery referents of a tenured one.
func insertBarriers(holder *Cell, vs ...Value) {
	for _, v := range vs {
		if v.tag != tagCell {
			continue
		}
		dijkstraBarrier(holder, v.c)
		if !holder.nursery && v.c.nursery {
			holder.zone.rt.storeBuffer.putCell(holder)
		}
	}
}

type movedKey struct {
	from, to Value
	value    Value
}

// ---------------------------------------------------------------------------
// MapObject
// ---------------------------------------------------------------------------

// MapObject is an insertion-ordered map from Value to Value. Keys are held
// strongly.
type MapObject struct {
	Header
	table *ordered.Map[Value, Value, valuePolicy]
}

func (m *MapObject) Size() int { return m.table.Count() }

func (m *MapObject) Has(key Value) bool {
	key, ok := prepareKey(key)
	return ok && m.table.Has(key)
}

func (m *MapObject) Get(key Value) (Value, bool) {
	key, ok := prepareKey(key)
	if !ok {
		return Undefined(), false
	}
	v, ok := m.table.Get(key)
	if !ok {
		return Undefined(), false
	}
	return readValue(v), true
}

// Set inserts or overwrites key. It fails only on allocation failure, in
// which case the map is unchanged.
func (m *MapObject) Set(key, value Value) error {
	key, value = key.resolved(), value.resolved()
	if err := ensureKeyID(key); err != nil {
		return err
	}
	if e := m.table.Lookup(key); e != nil {
		preBarrierValue(e.Value)
	}
	insertBarriers(m.cell, key, value)
	return m.table.Put(key, value)
}

func (m *MapObject) Delete(key Value) bool {
	key, ok := prepareKey(key)
	if !ok {
		return false
	}
	e := m.table.Lookup(key)
	if e == nil {
		return false
	}
	preBarrierValue(e.Key)
	preBarrierValue(e.Value)
	return m.table.Remove(key)
}

func (m *MapObject) Clear() {
	m.table.Trace(func(e *ordered.Entry[Value, Value]) {
		preBarrierValue(e.Key)
		preBarrierValue(e.Value)
	})
	m.table.Clear()
}

// Keys returns the keys in iteration order.
func (m *MapObject) Keys() []Value {
	var keys []Value
	r := m.table.All()
	defer r.Close()
	for ; !r.Empty(); r.PopFront() {
		keys = append(keys, readValue(r.Front().Key))
	}
	return keys
}

// StorageBytes returns the bytes charged for the map's table.
func (m *MapObject) StorageBytes() uint64 { return m.table.StorageBytes() }

func (m *MapObject) Trace(trc Tracer) {
	if !m.table.Initialized() {
		return
	}
	var moved []movedKey
	m.table.Trace(func(e *ordered.Entry[Value, Value]) {
		k := e.Key
		TraceValue(trc, &k, "map key")
		TraceValue(trc, &e.Value, "map value")
		if k.c != e.Key.c {
			moved = append(moved, movedKey{from: e.Key, to: k, value: e.Value})
		}
	})
	for _, mk := range moved {
		m.table.RekeyOneEntry(mk.from, mk.to, mk.value)
	}
}

func (m *MapObject) Finalize() {
	if m.table.Initialized() {
		m.table.Destroy()
	}
}

func (m *MapObject) clearNurseryRanges() int { return m.table.ClearNurseryRanges() }

// ---------------------------------------------------------------------------
// SetObject
// ---------------------------------------------------------------------------

// SetObject is an insertion-ordered set of Values held strongly.
type SetObject struct {
	Header
	table *ordered.Set[Value, valuePolicy]
}

func (s *SetObject) Size() int { return s.table.Count() }

func (s *SetObject) Has(key Value) bool {
	key, ok := prepareKey(key)
	return ok && s.table.Has(key)
}

func (s *SetObject) Add(key Value) error {
	key = key.resolved()
	if err := ensureKeyID(key); err != nil {
		return err
	}
	insertBarriers(s.cell, key)
	return s.table.Put(key)
}

func (s *SetObject) Delete(key Value) bool {
	key, ok := prepareKey(key)
	if !ok || !s.table.Has(key) {
		return false
	}
	preBarrierValue(key)
	return s.table.Remove(key)
}

func (s *SetObject) Clear() {
	s.table.Trace(func(k *Value) { preBarrierValue(*k) })
	s.table.Clear()
}

// Values returns the elements in iteration order.
func (s *SetObject) Values() []Value {
	var out []Value
	r := s.table.All()
	defer r.Close()
	for ; !r.Empty(); r.PopFront() {
		out = append(out, readValue(r.Front().Key))
	}
	return out
}

func (s *SetObject) StorageBytes() uint64 { return s.table.StorageBytes() }

func (s *SetObject) Trace(trc Tracer) {
	if !s.table.Initialized() {
		return
	}
	var moved []movedKey
	s.table.Trace(func(k *Value) {
		nk := *k
		TraceValue(trc, &nk, "set element")
		if nk.c != k.c {
			moved = append(moved, movedKey{from: *k, to: nk})
		}
	})
	for _, mk := range moved {
		s.table.RekeyOneEntry(mk.from, mk.to)
	}
}

func (s *SetObject) Finalize() {
	if s.table.Initialized() {
		s.table.Destroy()
	}
}

func (s *SetObject) clearNurseryRanges() int { return s.table.ClearNurseryRanges() }

type nurseryRangeOwner interface {
	clearNurseryRanges() int
}

// ---------------------------------------------------------------------------
// Iterator: a live cursor over a MapObject or SetObject
// ---------------------------------------------------------------------------

type iterRange interface {
	Empty() bool
	PopFront()
	Tenure()
	Close()
	Detached() bool
}

// Iterator walks a map or set in insertion order and keeps working while
// its target is mutated. Removing the entry an iterator is positioned on
// moves it to the next live entry.
type Iterator struct {
	Header
	target   *Cell
	r        iterRange
	mapRange *ordered.Range[Value, Value, valuePolicy]
	setRange *ordered.Range[Value, struct{}, valuePolicy]
}

// Next returns the next entry. For sets value is undefined.
func (it *Iterator) Next() (key, value Value, ok bool) {
	if it.r == nil || it.r.Empty() {
		return Undefined(), Undefined(), false
	}
	if it.mapRange != nil {
		e := it.mapRange.Front()
		key, value = e.Key, e.Value
	} else {
		key = it.setRange.Front().Key
	}
	it.r.PopFront()
	return readValue(key), readValue(value), true
}

// Done reports whether the iterator is exhausted or closed.
func (it *Iterator) Done() bool { return it.r == nil || it.r.Empty() }

// Close unregisters the iterator from its target.
func (it *Iterator) Close() {
	if it.r != nil {
		it.r.Close()
	}
}

func (it *Iterator) Trace(trc Tracer) {
	TraceEdge(trc, &it.target, "iterator target")
}

func (it *Iterator) Finalize() { it.Close() }

func (it *Iterator) onTenure() {
	if it.r != nil && !it.r.Detached() {
		it.r.Tenure()
	}
}

type tenureHook interface {
	onTenure()
}
