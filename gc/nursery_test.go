package gc

import "testing"

func TestNurseryAllocation(t *testing.T) {
	rt := newRuntime(t, withNursery)
	_, comp := zoneWithComp(t, rt, "z")

	o := newObject(t, rt, comp, 1)
	if !o.IsNursery() || o.Addr() < nurseryBase {
		t.Fatalf("object not in the nursery (addr %#x)", o.Addr())
	}
	m, _ := newMap(t, rt, comp)
	if m.IsNursery() {
		t.Fatal("map allocated in the nursery")
	}
	if rt.NurseryCells() != 1 {
		t.Fatalf("NurseryCells = %d, want 1", rt.NurseryCells())
	}
}

func TestNurseryDisabledDuringMajorGC(t *testing.T) {
	rt := newRuntime(t, withNursery)
	z, comp := zoneWithComp(t, rt, "z")
	comp.Hold()
	z.ScheduleGC()
	rt.StartGC("test", false)
	o := newObject(t, rt, comp, 0)
	if o.IsNursery() {
		t.Fatal("nursery allocation during an incremental cycle")
	}
	rt.FinishGC()
}

func TestMinorGCTenuresRootedAndDropsGarbage(t *testing.T) {
	rt := newRuntime(t, withNursery)
	z, comp := zoneWithComp(t, rt, "z")

	parent := newObject(t, rt, comp, 1)
	child := newObject(t, rt, comp, 0)
	setSlot(parent, 0, CellValue(child))
	newObject(t, rt, comp, 4)
	root := rt.NewRoot(parent)

	stats := rt.MinorGC("test")

	if stats.Nursery != 3 || stats.Tenured != 2 || stats.Freed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	p := root.Get()
	if p.IsNursery() || !parent.IsForwarded() || parent.Resolve() != p {
		t.Fatal("rooted cell not tenured and forwarded")
	}
	c := object(p).Slot(0).Cell()
	if c == nil || c.IsNursery() || c != child.Resolve() {
		t.Fatal("child edge not updated to the tenured copy")
	}
	if object(p).Cell() != p {
		t.Fatal("header not moved to the tenured cell")
	}
	if rt.NurseryCells() != 0 || z.CellCount() != 2 {
		t.Fatalf("nursery %d cells, zone %d cells", rt.NurseryCells(), z.CellCount())
	}
	if got := z.MallocBytesFor(MemoryUseObjectSlots); got != slotBytes {
		t.Fatalf("slot bytes = %d; the dead cell's slots were not released", got)
	}
	if rt.LastMinor().Number != 1 || rt.MinorCount() != 1 {
		t.Fatalf("minor count %d", rt.MinorCount())
	}
}

func TestStoreBufferKeepsNurseryCellsAlive(t *testing.T) {
	rt := newRuntime(t, withNursery)
	_, comp := zoneWithComp(t, rt, "z")

	root := rt.NewRoot(newObject(t, rt, comp, 1))
	rt.MinorGC("tenure holder")
	holder := root.Get()
	if holder.IsNursery() {
		t.Fatal("holder not tenured")
	}

	young := newObject(t, rt, comp, 0)
	setSlot(holder, 0, CellValue(young))
	if rt.StoreBufferLen() != 1 {
		t.Fatalf("StoreBufferLen = %d, want 1", rt.StoreBufferLen())
	}

	stats := rt.MinorGC("test")
	if stats.Buffered != 1 || stats.Tenured != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	got := object(holder).Slot(0).Cell()
	if got == nil || got.IsNursery() || got != young.Resolve() {
		t.Fatal("store-buffered edge not updated")
	}
	if rt.StoreBufferLen() != 0 {
		t.Fatal("store buffer not cleared")
	}
}

func TestMinorGCRekeysTenuredMap(t *testing.T) {
	rt := newRuntime(t, withNursery)
	_, comp := zoneWithComp(t, rt, "z")
	mc, m := newMap(t, rt, comp)
	rt.NewRoot(mc)

	key := newObject(t, rt, comp, 0)
	val := newObject(t, rt, comp, 0)
	if err := m.Set(CellValue(key), CellValue(val)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := m.Set(Int(7), Int(70)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if rt.StoreBufferLen() == 0 {
		t.Fatal("map holding nursery cells not in the store buffer")
	}

	rt.MinorGC("test")

	if !key.IsForwarded() || !val.IsForwarded() {
		t.Fatal("key and value not tenured")
	}
	got, ok := m.Get(CellValue(key))
	if !ok || got.Cell() != val.Resolve() {
		t.Fatal("lookup by the old key reference failed after tenuring")
	}
	if !m.Has(CellValue(key.Resolve())) {
		t.Fatal("lookup by the tenured key failed")
	}
	keys := m.Keys()
	if len(keys) != 2 || keys[0].Cell() != key.Resolve() || keys[1].Int64() != 7 {
		t.Fatalf("keys = %v", keys)
	}
}

func TestMinorGCHandlesNurseryIterators(t *testing.T) {
	rt := newRuntime(t, withNursery)
	_, comp := zoneWithComp(t, rt, "z")
	mc, m := newMap(t, rt, comp)
	rt.NewRoot(mc)
	for i := int64(1); i <= 3; i++ {
		m.Set(Int(i), Int(i*i))
	}

	live, err := rt.NewIterator(mc)
	if err != nil {
		t.Fatalf("NewIterator: %v", err)
	}
	if !live.IsNursery() {
		t.Fatal("iterator not in the nursery")
	}
	liveRoot := rt.NewRoot(live)
	if _, err := rt.NewIterator(mc); err != nil {
		t.Fatalf("NewIterator: %v", err)
	}

	it := live.Thing().(*Iterator)
	k, v, ok := it.Next()
	if !ok || k.Int64() != 1 || v.Int64() != 1 {
		t.Fatalf("first entry = %v %v %v", k, v, ok)
	}

	stats := rt.MinorGC("test")
	if stats.RangesCleared != 1 {
		t.Fatalf("RangesCleared = %d, want 1 (the dead iterator)", stats.RangesCleared)
	}
	if m.table.HasNurseryRanges() {
		t.Fatal("nursery ranges left on the table")
	}

	tenured := liveRoot.Get().Thing().(*Iterator)
	if tenured != it {
		t.Fatal("payload not carried over by tenuring")
	}
	m.Delete(Int(2))
	m.Set(Int(4), Int(16))
	var rest []int64
	for !it.Done() {
		k, _, _ := it.Next()
		rest = append(rest, k.Int64())
	}
	if len(rest) != 2 || rest[0] != 3 || rest[1] != 4 {
		t.Fatalf("iteration after tenuring = %v, want [3 4]", rest)
	}
}

func TestFullNurseryRequestsMinorGC(t *testing.T) {
	rt := newRuntime(t, func(cfg *Config) { cfg.NurseryBytes = 4 * KindObject.Size() })
	_, comp := zoneWithComp(t, rt, "z")
	for i := 0; i < 4; i++ {
		newObject(t, rt, comp, 0)
	}
	if !rt.MinorGCRequested() {
		t.Fatal("full nursery did not request a minor GC")
	}
	if !rt.MaybeGC() {
		t.Fatal("MaybeGC did nothing")
	}
	if rt.MinorGCRequested() || rt.NurseryCells() != 0 {
		t.Fatal("minor GC request not served")
	}
}

func TestMajorGCEmptiesNurseryFirst(t *testing.T) {
	rt := newRuntime(t, withNursery)
	_, comp := zoneWithComp(t, rt, "z")
	root := rt.NewRoot(newObject(t, rt, comp, 0))
	newObject(t, rt, comp, 0)

	rt.GC("test", false)
	if rt.NurseryCells() != 0 || root.Get().IsNursery() {
		t.Fatal("major GC left cells in the nursery")
	}
	if !isLive(root.Get()) {
		t.Fatal("rooted cell lost")
	}
}
