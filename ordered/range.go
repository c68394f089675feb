package ordered

// Range is a live iterator over a Table. The table keeps every outstanding
// Range on one of two intrusive lists and repositions it when entries are
// removed, the table is cleared, or tombstones are compacted away, so a
// Range is never invalidated by mutation.
//
// If the entry at the front of a Range is removed, the Range moves on to the
// next live entry and that is what Front returns next. Callers that must not
// skip an entry should PopFront before removing it.
//
// A Range holds i, an index into the table's data, and count, the number of
// live entries strictly before i. Close unregisters it.
type Range[K, V any, P Policy[K]] struct {
	ht      *Table[K, V, P]
	i       uint32
	count   uint32
	prevp   **Range[K, V, P]
	next    *Range[K, V, P]
	nursery bool
}

// Empty reports whether the range is exhausted or its table is gone.
func (r *Range[K, V, P]) Empty() bool {
	return r.ht == nil || r.i >= r.ht.dataLength
}

// Front returns the current entry. It panics if the range is empty.
func (r *Range[K, V, P]) Front() *Entry[K, V] {
	if r.Empty() {
		panic("ordered: Front of empty range")
	}
	return &r.ht.st.data[r.i]
}

// PopFront advances past the current entry. It panics if the range is empty.
func (r *Range[K, V, P]) PopFront() {
	if r.Empty() {
		panic("ordered: PopFront of empty range")
	}
	r.count++
	r.i++
	r.seek()
}

// Count returns the number of live entries the range has already passed.
func (r *Range[K, V, P]) Count() int {
	return int(r.count)
}

// IsNursery reports whether the range is on its table's nursery list.
func (r *Range[K, V, P]) IsNursery() bool {
	return r.nursery
}

// Detached reports whether the range has been closed or outlived its table.
func (r *Range[K, V, P]) Detached() bool {
	return r.ht == nil
}

// Close unregisters the range from its table. Closing twice is harmless.
func (r *Range[K, V, P]) Close() {
	if r.prevp != nil {
		r.unlink()
	}
	r.ht = nil
}

// Tenure moves a nursery range onto its table's long-lived list. It is a
// no-op for ranges that are already tenured or detached.
func (r *Range[K, V, P]) Tenure() {
	if !r.nursery || r.ht == nil {
		return
	}
	r.unlink()
	r.nursery = false
	r.link(&r.ht.ranges)
}

func (r *Range[K, V, P]) seek() {
	ht := r.ht
	for r.i < ht.dataLength && ht.policy.IsEmpty(ht.st.data[r.i].Key) {
		r.i++
	}
}

func (r *Range[K, V, P]) onRemove(pos uint32) {
	if pos < r.i {
		r.count--
	} else if pos == r.i {
		r.seek()
	}
}

func (r *Range[K, V, P]) onClear() {
	r.i = 0
	r.count = 0
}

// onCompact relies on count being exactly the number of live entries left
// of i, which after compaction is the new index of the front entry.
func (r *Range[K, V, P]) onCompact() {
	r.i = r.count
}

func (r *Range[K, V, P]) onTableDestroyed() {
	r.unlink()
	r.ht = nil
}

func (r *Range[K, V, P]) link(head **Range[K, V, P]) {
	r.prevp = head
	r.next = *head
	if r.next != nil {
		r.next.prevp = &r.next
	}
	*head = r
}

func (r *Range[K, V, P]) unlink() {
	*r.prevp = r.next
	if r.next != nil {
		r.next.prevp = r.prevp
	}
	r.prevp = nil
	r.next = nil
}
