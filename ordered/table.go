package ordered

import (
	"math/bits"
	"unsafe"
)

const (
	// InitialBucketsLog is log2 of the bucket count of a fresh table.
	InitialBucketsLog = 1

	// InitialBuckets is the bucket count of a fresh table.
	InitialBuckets = 1 << InitialBucketsLog

	// FillFactor is the number of data slots allocated per bucket.
	FillFactor = 8.0 / 3.0

	// MinDataFill is the live/dataLength ratio below which a table shrinks
	// after a removal.
	MinDataFill = 0.25

	hashNumberBits   = 32
	initialHashShift = hashNumberBits - InitialBucketsLog

	// minHashShift bounds the bucket array at 2^29 entries, so every data
	// index fits the int32 chain links.
	minHashShift = 3

	// maxStorageBytes caps a single storage block; anything larger is
	// reported as an allocation overflow.
	maxStorageBytes = uint64(1) << 40

	noEntry int32 = -1
)

// Entry is one slot of a table's data array.
type Entry[K, V any] struct {
	Key   K
	Value V
	chain int32
}

// storage is the single block holding everything a table owns. Keeping the
// scrambler in it means swapping the block swaps the scrambler with it.
type storage[K, V any] struct {
	buckets   []int32
	data      []Entry[K, V]
	scrambler Scrambler
	nbytes    uint64
}

type tableState uint8

const (
	tableUninitialized tableState = iota
	tableLive
	tableDestroyed
)

// Table is an insertion-ordered hash table. Entries live in a contiguous
// data array in insertion order; bucket chains are threaded through the
// entries by index and each chain is kept in descending index order.
//
// A Table must be initialised with Init before use and released with
// Destroy. It is not safe for concurrent use.
type Table[K, V any, P Policy[K]] struct {
	policy P
	alloc  AllocPolicy
	st     *storage[K, V]
	state  tableState

	dataLength   uint32
	dataCapacity uint32
	liveCount    uint32
	hashShift    uint32

	ranges        *Range[K, V, P]
	nurseryRanges *Range[K, V, P]
}

// NewTable returns an uninitialised table. A nil alloc means Unaccounted.
func NewTable[K, V any, P Policy[K]](policy P, alloc AllocPolicy) *Table[K, V, P] {
	if alloc == nil {
		alloc = Unaccounted
	}
	return &Table[K, V, P]{policy: policy, alloc: alloc}
}

// Init allocates the initial storage. It must be called exactly once.
func (t *Table[K, V, P]) Init(s Scrambler) error {
	if t.state != tableUninitialized {
		panic("ordered: table initialised twice")
	}
	if t.alloc == nil {
		t.alloc = Unaccounted
	}
	st, capacity, err := t.allocStorage(InitialBuckets)
	if err != nil {
		return err
	}
	st.scrambler = s
	t.st = st
	t.state = tableLive
	t.hashShift = initialHashShift
	t.dataLength = 0
	t.dataCapacity = capacity
	t.liveCount = 0
	return nil
}

// Destroy releases the table's storage. Outstanding ranges become empty and
// are detached from the table.
func (t *Table[K, V, P]) Destroy() {
	t.assertLive()
	t.forEachRange(func(r *Range[K, V, P]) { r.onTableDestroyed() })
	t.alloc.Release(t.st.nbytes)
	t.st = nil
	t.state = tableDestroyed
	t.dataLength, t.dataCapacity, t.liveCount = 0, 0, 0
}

// Initialized reports whether Init has succeeded and Destroy has not run.
func (t *Table[K, V, P]) Initialized() bool {
	return t.state == tableLive
}

// Count returns the number of live entries.
func (t *Table[K, V, P]) Count() int {
	t.assertLive()
	return int(t.liveCount)
}

// Has reports whether an entry matches lookup.
func (t *Table[K, V, P]) Has(lookup K) bool {
	return t.Lookup(lookup) != nil
}

// Get returns the value stored for lookup.
func (t *Table[K, V, P]) Get(lookup K) (V, bool) {
	if e := t.Lookup(lookup); e != nil {
		return e.Value, true
	}
	var zero V
	return zero, false
}

// Lookup returns the entry matching lookup, or nil. The pointer is valid
// until the next mutation of the table.
func (t *Table[K, V, P]) Lookup(lookup K) *Entry[K, V] {
	t.assertLive()
	if idx := t.lookup(lookup, t.prepareHash(lookup)); idx != noEntry {
		return &t.st.data[idx]
	}
	return nil
}

// Put inserts key with value, or overwrites the value of an existing entry
// in place without changing its position in iteration order. On error the
// table is unchanged.
func (t *Table[K, V, P]) Put(key K, value V) error {
	t.assertLive()
	if t.policy.IsEmpty(key) {
		panic("ordered: cannot insert the empty key")
	}
	h := t.prepareHash(key)
	if idx := t.lookup(key, h); idx != noEntry {
		t.st.data[idx].Value = value
		return nil
	}

	if t.dataLength == t.dataCapacity {
		if err := t.rehashOnFull(); err != nil {
			return err
		}
	}

	st := t.st
	b := h >> t.hashShift
	idx := t.dataLength
	t.dataLength++
	e := &st.data[idx]
	e.Key = key
	e.Value = value
	e.chain = st.buckets[b]
	st.buckets[b] = int32(idx)
	t.liveCount++
	return nil
}

// Remove tombstones the entry matching lookup and reports whether one was
// found. Ranges are told about the removal. The table may shrink afterwards;
// a failed shrink is ignored.
func (t *Table[K, V, P]) Remove(lookup K) bool {
	t.assertLive()
	idx := t.lookup(lookup, t.prepareHash(lookup))
	if idx == noEntry {
		return false
	}

	t.liveCount--
	e := &t.st.data[idx]
	t.policy.MakeEmpty(&e.Key)
	var zero V
	e.Value = zero

	pos := uint32(idx)
	t.forEachRange(func(r *Range[K, V, P]) { r.onRemove(pos) })

	if t.HashBuckets() > InitialBuckets && float64(t.liveCount) < float64(t.dataLength)*MinDataFill {
		_ = t.rehash(t.hashShift + 1)
	}
	return true
}

// Clear removes every entry. Ranges are reset to the start, and the table
// tries to shrink back to InitialBuckets; a failed shrink is ignored.
func (t *Table[K, V, P]) Clear() {
	t.assertLive()
	if t.dataLength != 0 {
		st := t.st
		var zero Entry[K, V]
		for i := uint32(0); i < t.dataLength; i++ {
			st.data[i] = zero
		}
		for i := range st.buckets {
			st.buckets[i] = noEntry
		}
		t.dataLength = 0
		t.liveCount = 0
		t.forEachRange(func(r *Range[K, V, P]) { r.onClear() })
	}

	if t.HashBuckets() > InitialBuckets {
		st, capacity, err := t.allocStorage(InitialBuckets)
		if err != nil {
			return
		}
		st.scrambler = t.st.scrambler
		t.alloc.Release(t.st.nbytes)
		t.st = st
		t.hashShift = initialHashShift
		t.dataCapacity = capacity
	}
}

// RekeyOneEntry replaces the key of the entry matching current with newKey
// and its value with value. The entry keeps its data index, so iteration
// order is unchanged; only its bucket chain changes. The entry must exist.
func (t *Table[K, V, P]) RekeyOneEntry(current, newKey K, value V) {
	t.assertLive()
	st := t.st
	currentHash := t.prepareHash(current)
	idx := t.lookup(current, currentHash)
	if idx == noEntry {
		panic("ordered: rekey of missing entry")
	}
	e := &st.data[idx]
	e.Key = newKey
	e.Value = value
	if t.policy.Match(newKey, current) {
		return
	}

	oldBucket := currentHash >> t.hashShift
	newBucket := t.prepareHash(newKey) >> t.hashShift
	if oldBucket == newBucket {
		return
	}

	// Unlink from the old chain.
	link := &st.buckets[oldBucket]
	for *link != idx {
		link = &st.data[*link].chain
	}
	*link = e.chain

	// Link into the new chain, keeping it in descending index order.
	link = &st.buckets[newBucket]
	for *link != noEntry && *link > idx {
		link = &st.data[*link].chain
	}
	e.chain = *link
	*link = idx
}

// Trace calls fn for every live entry in data order. fn may rekey the entry
// it is given but must not otherwise mutate the table.
func (t *Table[K, V, P]) Trace(fn func(e *Entry[K, V])) {
	t.assertLive()
	data := t.st.data
	for i := uint32(0); i < t.dataLength; i++ {
		if !t.policy.IsEmpty(data[i].Key) {
			fn(&data[i])
		}
	}
}

// All returns a Range over the live entries, registered with the table.
func (t *Table[K, V, P]) All() *Range[K, V, P] {
	t.assertLive()
	r := &Range[K, V, P]{ht: t}
	r.link(&t.ranges)
	r.seek()
	return r
}

// AllNursery is like All but registers the range on the nursery list, which
// a minor collection drops wholesale with ClearNurseryRanges.
func (t *Table[K, V, P]) AllNursery() *Range[K, V, P] {
	t.assertLive()
	r := &Range[K, V, P]{ht: t, nursery: true}
	r.link(&t.nurseryRanges)
	r.seek()
	return r
}

// ClearNurseryRanges detaches every range on the nursery list and returns
// how many there were. Detached ranges report Empty.
func (t *Table[K, V, P]) ClearNurseryRanges() int {
	n := 0
	for r := t.nurseryRanges; r != nil; {
		next := r.next
		r.onTableDestroyed()
		r = next
		n++
	}
	t.nurseryRanges = nil
	return n
}

// HasNurseryRanges reports whether any range is on the nursery list.
func (t *Table[K, V, P]) HasNurseryRanges() bool {
	return t.nurseryRanges != nil
}

// HashBuckets returns the size of the bucket array.
func (t *Table[K, V, P]) HashBuckets() uint32 {
	return 1 << (hashNumberBits - t.hashShift)
}

// Capacity returns the size of the data array.
func (t *Table[K, V, P]) Capacity() int { return int(t.dataCapacity) }

// DataLength returns the number of used data slots, tombstones included.
func (t *Table[K, V, P]) DataLength() int { return int(t.dataLength) }

// StorageBytes returns the size charged to the AllocPolicy for the current
// storage block.
func (t *Table[K, V, P]) StorageBytes() uint64 {
	if t.st == nil {
		return 0
	}
	return t.st.nbytes
}

// ---------------------------------------------------------------------------
// Internals
// ---------------------------------------------------------------------------

func (t *Table[K, V, P]) assertLive() {
	switch t.state {
	case tableUninitialized:
		panic("ordered: table used before Init")
	case tableDestroyed:
		panic("ordered: table used after Destroy")
	}
}

func (t *Table[K, V, P]) prepareHash(lookup K) HashNumber {
	return scrambleHashCode(t.policy.Hash(lookup, &t.st.scrambler))
}

func (t *Table[K, V, P]) lookup(lookup K, h HashNumber) int32 {
	st := t.st
	for i := st.buckets[h>>t.hashShift]; i != noEntry; i = st.data[i].chain {
		if t.policy.Match(st.data[i].Key, lookup) {
			return i
		}
	}
	return noEntry
}

func capacityFor(buckets uint32) uint32 {
	return uint32(float64(buckets) * FillFactor)
}

// allocStorage reserves and builds a storage block for the given bucket
// count. The scrambler is left zero for the caller to fill in.
func (t *Table[K, V, P]) allocStorage(buckets uint32) (*storage[K, V], uint32, error) {
	capacity := capacityFor(buckets)
	nbytes, err := storageBytes[K, V](buckets, capacity)
	if err != nil {
		return nil, 0, err
	}
	if err := t.alloc.Reserve(nbytes); err != nil {
		return nil, 0, err
	}
	st := &storage[K, V]{
		buckets: make([]int32, buckets),
		data:    make([]Entry[K, V], capacity),
		nbytes:  nbytes,
	}
	for i := range st.buckets {
		st.buckets[i] = noEntry
	}
	return st, capacity, nil
}

func storageBytes[K, V any](buckets, capacity uint32) (uint64, error) {
	var e Entry[K, V]
	var s Scrambler
	hi, dataBytes := bits.Mul64(uint64(capacity), uint64(unsafe.Sizeof(e)))
	if hi != 0 {
		return 0, ErrAllocationOverflow
	}
	bucketBytes := uint64(buckets) * uint64(unsafe.Sizeof(int32(0)))
	total, carry := bits.Add64(dataBytes, bucketBytes, 0)
	if carry != 0 {
		return 0, ErrAllocationOverflow
	}
	total, carry = bits.Add64(total, uint64(unsafe.Sizeof(s)), 0)
	if carry != 0 || total > maxStorageBytes {
		return 0, ErrAllocationOverflow
	}
	return total, nil
}

// rehashOnFull makes room for one more entry: it grows when at least three
// quarters of the capacity is live, and otherwise compacts the tombstones
// away in place.
func (t *Table[K, V, P]) rehashOnFull() error {
	newHashShift := t.hashShift
	if float64(t.liveCount) >= float64(t.dataCapacity)*0.75 {
		newHashShift--
	}
	return t.rehash(newHashShift)
}

// rehash rebuilds the table with 2^(32-newHashShift) buckets, dropping
// tombstones. On error the table is unchanged.
func (t *Table[K, V, P]) rehash(newHashShift uint32) error {
	if newHashShift == t.hashShift {
		t.rehashInPlace()
		return nil
	}
	if newHashShift < minHashShift {
		return ErrAllocationOverflow
	}

	newBuckets := uint32(1) << (hashNumberBits - newHashShift)
	st, capacity, err := t.allocStorage(newBuckets)
	if err != nil {
		return err
	}
	old := t.st
	st.scrambler = old.scrambler

	var wp uint32
	for rp := uint32(0); rp < t.dataLength; rp++ {
		src := &old.data[rp]
		if t.policy.IsEmpty(src.Key) {
			continue
		}
		h := scrambleHashCode(t.policy.Hash(src.Key, &st.scrambler)) >> newHashShift
		dst := &st.data[wp]
		dst.Key = src.Key
		dst.Value = src.Value
		dst.chain = st.buckets[h]
		st.buckets[h] = int32(wp)
		wp++
	}

	t.alloc.Release(old.nbytes)
	t.st = st
	t.hashShift = newHashShift
	t.dataLength = t.liveCount
	t.dataCapacity = capacity
	t.forEachRange(func(r *Range[K, V, P]) { r.onCompact() })
	return nil
}

// rehashInPlace slides live entries left over the tombstones and rebuilds
// every chain. Entries are rethreaded in ascending order, so each chain ends
// up in descending index order.
func (t *Table[K, V, P]) rehashInPlace() {
	st := t.st
	for i := range st.buckets {
		st.buckets[i] = noEntry
	}
	var wp uint32
	for rp := uint32(0); rp < t.dataLength; rp++ {
		if t.policy.IsEmpty(st.data[rp].Key) {
			continue
		}
		if wp != rp {
			st.data[wp] = st.data[rp]
		}
		h := t.prepareHash(st.data[wp].Key) >> t.hashShift
		st.data[wp].chain = st.buckets[h]
		st.buckets[h] = int32(wp)
		wp++
	}
	var zero Entry[K, V]
	for i := wp; i < t.dataLength; i++ {
		st.data[i] = zero
	}
	t.dataLength = wp
	t.forEachRange(func(r *Range[K, V, P]) { r.onCompact() })
}

func (t *Table[K, V, P]) forEachRange(fn func(r *Range[K, V, P])) {
	for r := t.ranges; r != nil; {
		next := r.next
		fn(r)
		r = next
	}
	for r := t.nurseryRanges; r != nil; {
		next := r.next
		fn(r)
		r = next
	}
}
