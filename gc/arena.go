package gc

// ArenaCells is the number of cells in one arena.
const ArenaCells = 64

const markWords = 2 * ArenaCells / 64

// Arena is a fixed-size block of same-kind cells in one zone. Each slot has
// two mark bits: black and gray. A slot with neither is white.
type Arena struct {
	zone  *Zone
	kind  Kind
	addr  uint64
	cells [ArenaCells]*Cell
	marks [markWords]uint64
	free  []uint32
	swept []uint32
	live  int

	// Set when a cell in this arena was marked but could not be pushed on
	// the mark stack. The marker rescans the arena later.
	delayedMarking bool
}

func newArena(z *Zone, kind Kind, addr uint64) *Arena {
	a := &Arena{zone: z, kind: kind, addr: addr, free: make([]uint32, 0, ArenaCells)}
	for i := ArenaCells - 1; i >= 0; i-- {
		a.free = append(a.free, uint32(i))
	}
	return a
}

func (a *Arena) Kind() Kind     { return a.kind }
func (a *Arena) Addr() uint64   { return a.addr }
func (a *Arena) LiveCells() int { return a.live }
func (a *Arena) IsFull() bool   { return len(a.free) == 0 }
func (a *Arena) IsEmpty() bool  { return a.live == 0 }
func (a *Arena) bytes() uint64  { return ArenaCells * a.kind.Size() }
func (a *Arena) cellAddr(i uint32) uint64 {
	return a.addr + uint64(i)*a.kind.Size()
}

// insert places c in a free slot.
func (a *Arena) insert(c *Cell) {
	n := len(a.free) - 1
	i := a.free[n]
	a.free = a.free[:n]
	a.cells[i] = c
	a.clearCellMarks(i)
	a.live++
	c.arena = a
	c.index = i
	c.addr = a.cellAddr(i)
	c.nursery = false
}

// remove empties c's slot. The slot and its mark bits stay untouched until
// releaseSwept, so weak tables swept later in the cycle can still see that
// c is dead.
func (a *Arena) remove(c *Cell) {
	a.cells[c.index] = nil
	a.swept = append(a.swept, c.index)
	a.live--
}

// releaseSwept makes slots emptied by remove available for allocation.
func (a *Arena) releaseSwept() {
	for _, i := range a.swept {
		a.clearCellMarks(i)
	}
	a.free = append(a.free, a.swept...)
	a.swept = a.swept[:0]
}

func (a *Arena) forEachCell(fn func(c *Cell)) {
	for _, c := range a.cells {
		if c != nil {
			fn(c)
		}
	}
}

// ---------------------------------------------------------------------------
// Mark bits
// ---------------------------------------------------------------------------

func blackBit(i uint32) (int, uint64) { return int(2 * i / 64), 1 << (2 * i % 64) }
func grayBit(i uint32) (int, uint64)  { return int((2*i + 1) / 64), 1 << ((2*i + 1) % 64) }

func (a *Arena) isBlack(i uint32) bool {
	w, b := blackBit(i)
	return a.marks[w]&b != 0
}

func (a *Arena) isGray(i uint32) bool {
	w, b := grayBit(i)
	return a.marks[w]&b != 0 && !a.isBlack(i)
}

func (a *Arena) isMarked(i uint32) bool {
	return a.isBlack(i) || a.isGray(i)
}

// markBlack returns true if the cell was not already black.
func (a *Arena) markBlack(i uint32) bool {
	if a.isBlack(i) {
		return false
	}
	w, b := blackBit(i)
	a.marks[w] |= b
	gw, gb := grayBit(i)
	a.marks[gw] &^= gb
	return true
}

// markGray only colors white cells.
func (a *Arena) markGray(i uint32) bool {
	if a.isMarked(i) {
		return false
	}
	w, b := grayBit(i)
	a.marks[w] |= b
	return true
}

func (a *Arena) clearCellMarks(i uint32) {
	w, b := blackBit(i)
	a.marks[w] &^= b
	gw, gb := grayBit(i)
	a.marks[gw] &^= gb
}

func (a *Arena) clearMarks() {
	a.marks = [markWords]uint64{}
	a.delayedMarking = false
}

func (a *Arena) markedCount() int {
	n := 0
	for i := uint32(0); i < ArenaCells; i++ {
		if a.cells[i] != nil && a.isMarked(i) {
			n++
		}
	}
	return n
}

func (a *Arena) anyMarked() bool {
	for _, w := range a.marks {
		if w != 0 {
			return true
		}
	}
	return false
}
