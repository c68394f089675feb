package ordered

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func newStringTable(t *testing.T, alloc AllocPolicy) *Table[string, int, Strings] {
	t.Helper()
	tbl := NewTable[string, int](Strings{}, alloc)
	if err := tbl.Init(NewScrambler(0x0123456789abcdef, 0xfedcba9876543210)); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return tbl
}

func keysOf[V any, P Policy[string]](tbl *Table[string, V, P]) []string {
	var keys []string
	r := tbl.All()
	defer r.Close()
	for !r.Empty() {
		keys = append(keys, r.Front().Key)
		r.PopFront()
	}
	return keys
}

func equalKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// checkChains verifies that every bucket chain is in strictly descending
// index order and that every live entry sits in the bucket its hash selects.
func checkChains[K, V any, P Policy[K]](t *testing.T, tbl *Table[K, V, P]) {
	t.Helper()
	st := tbl.st
	seen := 0
	for b, head := range st.buckets {
		prev := int32(math.MaxInt32)
		for i := head; i != noEntry; i = st.data[i].chain {
			if i >= prev {
				t.Fatalf("bucket %d: chain not descending (%d after %d)", b, i, prev)
			}
			if uint32(i) >= tbl.dataLength {
				t.Fatalf("bucket %d: chain index %d beyond dataLength %d", b, i, tbl.dataLength)
			}
			if !tbl.policy.IsEmpty(st.data[i].Key) {
				if got := tbl.prepareHash(st.data[i].Key) >> tbl.hashShift; int(got) != b {
					t.Fatalf("entry %d is in bucket %d, hash selects %d", i, b, got)
				}
				seen++
			}
			prev = i
		}
	}
	if seen != int(tbl.liveCount) {
		t.Fatalf("chains reach %d live entries, liveCount is %d", seen, tbl.liveCount)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestInitialGeometry(t *testing.T) {
	tbl := newStringTable(t, nil)
	if tbl.HashBuckets() != InitialBuckets {
		t.Errorf("HashBuckets = %d, want %d", tbl.HashBuckets(), InitialBuckets)
	}
	if tbl.Capacity() != 5 {
		t.Errorf("Capacity = %d, want 5", tbl.Capacity())
	}
	if tbl.Count() != 0 {
		t.Errorf("Count = %d, want 0", tbl.Count())
	}
}

func TestUseBeforeInitPanics(t *testing.T) {
	tbl := NewTable[string, int](Strings{}, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("Put before Init should panic")
		}
	}()
	_ = tbl.Put("a", 1)
}

func TestInitTwicePanics(t *testing.T) {
	tbl := newStringTable(t, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("second Init should panic")
		}
	}()
	_ = tbl.Init(NewScrambler(1, 2))
}

func TestPutEmptyKeyPanics(t *testing.T) {
	tbl := newStringTable(t, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("Put of the empty marker should panic")
		}
	}()
	_ = tbl.Put(EmptyString, 1)
}

func TestDestroyReleasesStorageAndDetachesRanges(t *testing.T) {
	var budget Budget
	tbl := newStringTable(t, &budget)
	for i := 0; i < 20; i++ {
		if err := tbl.Put(fmt.Sprint(i), i); err != nil {
			t.Fatal(err)
		}
	}
	r := tbl.All()
	n := tbl.AllNursery()
	if budget.Used() == 0 {
		t.Fatal("storage should be charged to the budget")
	}

	tbl.Destroy()

	if budget.Used() != 0 {
		t.Errorf("budget still holds %d bytes after Destroy", budget.Used())
	}
	if !r.Empty() || !r.Detached() {
		t.Error("tenured range should be empty and detached after Destroy")
	}
	if !n.Empty() || !n.Detached() {
		t.Error("nursery range should be empty and detached after Destroy")
	}
	r.Close() // harmless after destruction

	defer func() {
		if recover() == nil {
			t.Fatal("Count after Destroy should panic")
		}
	}()
	tbl.Count()
}

// ---------------------------------------------------------------------------
// Basic operations
// ---------------------------------------------------------------------------

func TestPutOverwritesInPlace(t *testing.T) {
	tbl := newStringTable(t, nil)
	for i, k := range []string{"a", "b", "c"} {
		if err := tbl.Put(k, i); err != nil {
			t.Fatal(err)
		}
	}
	if err := tbl.Put("a", 100); err != nil {
		t.Fatal(err)
	}

	if v, ok := tbl.Get("a"); !ok || v != 100 {
		t.Errorf("Get(a) = %d, %v; want 100, true", v, ok)
	}
	if tbl.Count() != 3 {
		t.Errorf("Count = %d, want 3", tbl.Count())
	}
	if got := keysOf(tbl); !equalKeys(got, []string{"a", "b", "c"}) {
		t.Errorf("order = %v, want [a b c]", got)
	}
}

func TestRemoveAndHas(t *testing.T) {
	tbl := newStringTable(t, nil)
	_ = tbl.Put("x", 1)
	_ = tbl.Put("y", 2)

	if !tbl.Remove("x") {
		t.Fatal("Remove(x) should report found")
	}
	if tbl.Remove("x") {
		t.Error("second Remove(x) should report not found")
	}
	if tbl.Has("x") {
		t.Error("x should be gone")
	}
	if !tbl.Has("y") {
		t.Error("y should remain")
	}
	if tbl.Count() != 1 {
		t.Errorf("Count = %d, want 1", tbl.Count())
	}
	if tbl.DataLength() != 2 {
		t.Errorf("DataLength = %d, want 2 (tombstone kept)", tbl.DataLength())
	}
	checkChains(t, tbl)
}

func TestTraceSkipsTombstones(t *testing.T) {
	tbl := newStringTable(t, nil)
	for i, k := range []string{"a", "b", "c", "d"} {
		_ = tbl.Put(k, i)
	}
	tbl.Remove("b")
	tbl.Remove("d")

	var traced []string
	tbl.Trace(func(e *Entry[string, int]) { traced = append(traced, e.Key) })
	if !equalKeys(traced, []string{"a", "c"}) {
		t.Errorf("traced %v, want [a c]", traced)
	}
}

// ---------------------------------------------------------------------------
// Ordering and churn
// ---------------------------------------------------------------------------

func TestIterationFollowsInsertionOrder(t *testing.T) {
	tbl := newStringTable(t, nil)
	var want []string
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%02d", i)
		want = append(want, k)
		_ = tbl.Put(k, i)
		// Churn unrelated keys between the ones we track.
		_ = tbl.Put("tmp"+k, -1)
		tbl.Remove("tmp" + k)
	}
	if got := keysOf(tbl); !equalKeys(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	checkChains(t, tbl)
}

func TestChurnMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tbl := newStringTable(t, nil)
	live := map[string]int{}
	var order []string

	for step := 0; step < 5000; step++ {
		k := fmt.Sprintf("k%d", rng.Intn(200))
		if rng.Intn(3) == 0 {
			found := tbl.Remove(k)
			if _, ok := live[k]; ok != found {
				t.Fatalf("step %d: Remove(%s) = %v, reference says %v", step, k, found, ok)
			}
			if found {
				delete(live, k)
				for i, o := range order {
					if o == k {
						order = append(order[:i], order[i+1:]...)
						break
					}
				}
			}
			continue
		}
		if err := tbl.Put(k, step); err != nil {
			t.Fatal(err)
		}
		if _, ok := live[k]; !ok {
			order = append(order, k)
		}
		live[k] = step
	}

	if tbl.Count() != len(live) {
		t.Fatalf("Count = %d, want %d", tbl.Count(), len(live))
	}
	if got := keysOf(tbl); !equalKeys(got, order) {
		t.Fatalf("iteration does not match insertion order of survivors")
	}
	for k, v := range live {
		if got, ok := tbl.Get(k); !ok || got != v {
			t.Errorf("Get(%s) = %d, %v; want %d", k, got, ok, v)
		}
	}
	checkChains(t, tbl)
}

// ---------------------------------------------------------------------------
// Resizing
// ---------------------------------------------------------------------------

func TestGrowKeepsEveryKey(t *testing.T) {
	tbl := newStringTable(t, nil)
	const n = 1000
	for i := 0; i < n; i++ {
		if err := tbl.Put(fmt.Sprint(i), i); err != nil {
			t.Fatal(err)
		}
	}
	if tbl.HashBuckets() <= InitialBuckets {
		t.Fatalf("table did not grow: %d buckets", tbl.HashBuckets())
	}
	for i := 0; i < n; i++ {
		if v, ok := tbl.Get(fmt.Sprint(i)); !ok || v != i {
			t.Fatalf("Get(%d) = %d, %v after grow", i, v, ok)
		}
	}
	checkChains(t, tbl)
}

func TestShrinkAfterMassRemoval(t *testing.T) {
	tbl := newStringTable(t, nil)
	const n = 400
	for i := 0; i < n; i++ {
		_ = tbl.Put(fmt.Sprint(i), i)
	}
	grown := tbl.HashBuckets()

	const keep = n/4 - 10
	for i := keep; i < n; i++ {
		tbl.Remove(fmt.Sprint(i))
	}

	if tbl.HashBuckets() >= grown {
		t.Fatalf("table did not shrink: %d buckets, was %d", tbl.HashBuckets(), grown)
	}
	if tbl.Count() != keep {
		t.Fatalf("Count = %d, want %d", tbl.Count(), keep)
	}
	var want []string
	for i := 0; i < keep; i++ {
		want = append(want, fmt.Sprint(i))
	}
	if got := keysOf(tbl); !equalKeys(got, want) {
		t.Fatalf("order after shrink = %v", got)
	}
	checkChains(t, tbl)
}

func TestFullTableWithTombstonesCompactsInPlace(t *testing.T) {
	tbl := newStringTable(t, nil)
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_ = tbl.Put(k, 0)
	}
	for _, k := range []string{"a", "b", "c", "d"} {
		tbl.Remove(k)
	}
	if tbl.DataLength() != tbl.Capacity() {
		t.Fatalf("DataLength = %d, want full (%d)", tbl.DataLength(), tbl.Capacity())
	}

	_ = tbl.Put("f", 0)

	if tbl.HashBuckets() != InitialBuckets {
		t.Errorf("HashBuckets = %d, want %d (compact, not grow)", tbl.HashBuckets(), InitialBuckets)
	}
	if tbl.DataLength() != 2 {
		t.Errorf("DataLength = %d, want 2", tbl.DataLength())
	}
	if got := keysOf(tbl); !equalKeys(got, []string{"e", "f"}) {
		t.Errorf("order = %v, want [e f]", got)
	}
	checkChains(t, tbl)
}

func TestClearResetsAndShrinks(t *testing.T) {
	tbl := newStringTable(t, nil)
	for i := 0; i < 100; i++ {
		_ = tbl.Put(fmt.Sprint(i), i)
	}
	r := tbl.All()
	r.PopFront()
	r.PopFront()

	tbl.Clear()

	if tbl.Count() != 0 || tbl.DataLength() != 0 {
		t.Fatalf("Count = %d, DataLength = %d after Clear", tbl.Count(), tbl.DataLength())
	}
	if tbl.HashBuckets() != InitialBuckets {
		t.Errorf("HashBuckets = %d after Clear, want %d", tbl.HashBuckets(), InitialBuckets)
	}
	if !r.Empty() {
		t.Error("range should be empty after Clear")
	}

	_ = tbl.Put("fresh", 1)
	if r.Empty() || r.Front().Key != "fresh" {
		t.Error("range should see entries added after Clear")
	}
	r.Close()
}

// ---------------------------------------------------------------------------
// Allocation failure
// ---------------------------------------------------------------------------

func TestPutFailsCleanlyWhenGrowIsRefused(t *testing.T) {
	budget := &Budget{}
	tbl := newStringTable(t, budget)
	for i := 0; i < tbl.Capacity(); i++ {
		if err := tbl.Put(fmt.Sprint(i), i); err != nil {
			t.Fatal(err)
		}
	}
	budget.Limit = budget.Used() + 8
	r := tbl.All()
	defer r.Close()
	r.PopFront()

	err := tbl.Put("overflow", 99)
	if !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Put = %v, want ErrOutOfMemory", err)
	}
	if tbl.Count() != 5 {
		t.Errorf("Count = %d after failed Put, want 5", tbl.Count())
	}
	if tbl.Has("overflow") {
		t.Error("failed Put must not insert")
	}
	if got := keysOf(tbl); !equalKeys(got, []string{"0", "1", "2", "3", "4"}) {
		t.Errorf("order after failed Put = %v", got)
	}
	if r.Empty() || r.Front().Key != "1" {
		t.Error("range should be undisturbed by a failed Put")
	}
	checkChains(t, tbl)
}

func TestShrinkFailureIsIgnored(t *testing.T) {
	budget := &Budget{}
	tbl := newStringTable(t, budget)
	for i := 0; i < 64; i++ {
		_ = tbl.Put(fmt.Sprint(i), i)
	}
	buckets := tbl.HashBuckets()
	budget.Limit = budget.Used()

	for i := 1; i < 64; i++ {
		if !tbl.Remove(fmt.Sprint(i)) {
			t.Fatalf("Remove(%d) failed", i)
		}
	}
	if tbl.HashBuckets() != buckets {
		t.Errorf("HashBuckets = %d, want unchanged %d when shrink is refused", tbl.HashBuckets(), buckets)
	}
	if got := keysOf(tbl); !equalKeys(got, []string{"0"}) {
		t.Errorf("order = %v, want [0]", got)
	}
	checkChains(t, tbl)
}

func TestStorageSizeOverflow(t *testing.T) {
	_, err := storageBytes[int64, [1 << 12]byte](1<<30, capacityFor(1<<30))
	if !errors.Is(err, ErrAllocationOverflow) {
		t.Fatalf("err = %v, want ErrAllocationOverflow", err)
	}
	if !errors.Is(err, ErrOutOfMemory) {
		t.Error("overflow should also be reported as out of memory")
	}
}

func TestLargestTableFitsChainLinks(t *testing.T) {
	maxBuckets := uint32(1) << (hashNumberBits - minHashShift)
	if c := capacityFor(maxBuckets); uint64(c) > math.MaxInt32 {
		t.Fatalf("capacity %d of the largest table overflows int32 links", c)
	}

	tbl := newStringTable(t, nil)
	for _, k := range []string{"a", "b", "c"} {
		if err := tbl.Put(k, 1); err != nil {
			t.Fatal(err)
		}
	}
	if err := tbl.rehash(minHashShift - 1); !errors.Is(err, ErrAllocationOverflow) {
		t.Fatalf("rehash past the limit: err = %v", err)
	}
	if tbl.Count() != 3 || !equalKeys(keysOf(tbl), []string{"a", "b", "c"}) {
		t.Fatalf("failed rehash changed the table: %v", keysOf(tbl))
	}
	checkChains(t, tbl)
}

func TestInitFailure(t *testing.T) {
	tbl := NewTable[string, int](Strings{}, &Budget{Limit: 8})
	if err := tbl.Init(NewScrambler(1, 2)); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("Init = %v, want ErrOutOfMemory", err)
	}
	if tbl.Initialized() {
		t.Error("table should not be initialised after a failed Init")
	}
}

// ---------------------------------------------------------------------------
// Rekeying
// ---------------------------------------------------------------------------

func TestRekeyOneEntry(t *testing.T) {
	tbl := newStringTable(t, nil)
	for i, k := range []string{"a", "b", "c"} {
		_ = tbl.Put(k, i)
	}

	tbl.RekeyOneEntry("b", "z", 42)

	if v, ok := tbl.Get("z"); !ok || v != 42 {
		t.Errorf("Get(z) = %d, %v; want 42, true", v, ok)
	}
	if tbl.Has("b") {
		t.Error("old key should be gone after rekey")
	}
	if got := keysOf(tbl); !equalKeys(got, []string{"a", "z", "c"}) {
		t.Errorf("order = %v, want [a z c]", got)
	}
	checkChains(t, tbl)
}

func TestRekeyKeepsChainsOrdered(t *testing.T) {
	tbl := newStringTable(t, nil)
	for i := 0; i < 200; i++ {
		_ = tbl.Put(fmt.Sprintf("old%d", i), i)
	}
	for i := 0; i < 200; i += 3 {
		tbl.RekeyOneEntry(fmt.Sprintf("old%d", i), fmt.Sprintf("new%d", i), i)
		checkChains(t, tbl)
	}
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("old%d", i)
		if i%3 == 0 {
			k = fmt.Sprintf("new%d", i)
		}
		if v, ok := tbl.Get(k); !ok || v != i {
			t.Fatalf("Get(%s) = %d, %v", k, v, ok)
		}
	}
}

func TestRekeyMissingEntryPanics(t *testing.T) {
	tbl := newStringTable(t, nil)
	_ = tbl.Put("a", 1)
	defer func() {
		if recover() == nil {
			t.Fatal("rekey of a missing key should panic")
		}
	}()
	tbl.RekeyOneEntry("nope", "z", 0)
}

// ---------------------------------------------------------------------------
// Ints and Set
// ---------------------------------------------------------------------------

func TestIntSet(t *testing.T) {
	s := NewSet[int64](Ints{}, nil)
	if err := s.Init(RandomScrambler()); err != nil {
		t.Fatal(err)
	}
	for i := int64(-50); i < 50; i++ {
		if err := s.Put(i); err != nil {
			t.Fatal(err)
		}
	}
	for i := int64(-50); i < 50; i += 2 {
		s.Remove(i)
	}
	if s.Count() != 50 {
		t.Fatalf("Count = %d, want 50", s.Count())
	}

	r := s.All()
	defer r.Close()
	want := int64(-49)
	for !r.Empty() {
		if r.Front().Key != want {
			t.Fatalf("Front = %d, want %d", r.Front().Key, want)
		}
		want += 2
		r.PopFront()
	}

	s.RekeyOneEntry(-49, 1000)
	if s.Has(-49) || !s.Has(1000) {
		t.Error("set rekey failed")
	}
	s.Destroy()
}
