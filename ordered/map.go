package ordered

// Map is an insertion-ordered map from K to V.
type Map[K, V any, P Policy[K]] struct {
	Table[K, V, P]
}

// NewMap returns an uninitialised Map. A nil alloc means Unaccounted.
func NewMap[K, V any, P Policy[K]](policy P, alloc AllocPolicy) *Map[K, V, P] {
	m := &Map[K, V, P]{}
	m.policy = policy
	m.alloc = alloc
	if m.alloc == nil {
		m.alloc = Unaccounted
	}
	return m
}

// Set is an insertion-ordered set of K.
type Set[K any, P Policy[K]] struct {
	t Table[K, struct{}, P]
}

// NewSet returns an uninitialised Set. A nil alloc means Unaccounted.
func NewSet[K any, P Policy[K]](policy P, alloc AllocPolicy) *Set[K, P] {
	s := &Set[K, P]{}
	s.t.policy = policy
	s.t.alloc = alloc
	if s.t.alloc == nil {
		s.t.alloc = Unaccounted
	}
	return s
}

func (s *Set[K, P]) Init(sc Scrambler) error     { return s.t.Init(sc) }
func (s *Set[K, P]) Destroy()                    { s.t.Destroy() }
func (s *Set[K, P]) Initialized() bool           { return s.t.Initialized() }
func (s *Set[K, P]) Count() int                  { return s.t.Count() }
func (s *Set[K, P]) Has(k K) bool                { return s.t.Has(k) }
func (s *Set[K, P]) Put(k K) error               { return s.t.Put(k, struct{}{}) }
func (s *Set[K, P]) Remove(k K) bool             { return s.t.Remove(k) }
func (s *Set[K, P]) Clear()                      { s.t.Clear() }
func (s *Set[K, P]) All() *Range[K, struct{}, P] { return s.t.All() }

// AllNursery returns a Range registered on the nursery list.
func (s *Set[K, P]) AllNursery() *Range[K, struct{}, P] { return s.t.AllNursery() }

// ClearNurseryRanges detaches every nursery range.
func (s *Set[K, P]) ClearNurseryRanges() int { return s.t.ClearNurseryRanges() }

// HasNurseryRanges reports whether any range is on the nursery list.
func (s *Set[K, P]) HasNurseryRanges() bool { return s.t.HasNurseryRanges() }

// RekeyOneEntry replaces the element matching current with newKey in place.
func (s *Set[K, P]) RekeyOneEntry(current, newKey K) {
	s.t.RekeyOneEntry(current, newKey, struct{}{})
}

// Trace calls fn with a pointer to every live element.
func (s *Set[K, P]) Trace(fn func(k *K)) {
	s.t.Trace(func(e *Entry[K, struct{}]) { fn(&e.Key) })
}

// StorageBytes returns the bytes charged for the set's storage.
func (s *Set[K, P]) StorageBytes() uint64 { return s.t.StorageBytes() }

// HashBuckets returns the size of the bucket array.
func (s *Set[K, P]) HashBuckets() uint32 { return s.t.HashBuckets() }
