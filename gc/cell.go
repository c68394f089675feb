package gc

// Thing is the payload of a cell. Trace must report every cell reference
// the payload holds exactly once, skipping empty slots.
type Thing interface {
	Trace(trc Tracer)
}

// Finalizer is implemented by payloads that own resources outside the GC
// heap. Finalize runs once, while the owning zone is being swept.
type Finalizer interface {
	Finalize()
}

// Header is embedded by payloads that want to know their own cell. The
// collector keeps it current across tenuring and compaction.
type Header struct {
	cell *Cell
}

// Cell returns the cell currently holding the payload.
func (h *Header) Cell() *Cell { return h.cell }

func (h *Header) setCell(c *Cell) { h.cell = c }

type cellHolder interface {
	setCell(c *Cell)
}

// Cell is the unit of allocation. Mutators hold *Cell references and must
// store them only in places reported by some Thing.Trace or a Root.
type Cell struct {
	kind    Kind
	zone    *Zone
	comp    *Compartment
	arena   *Arena // nil while in the nursery
	index   uint32
	addr    uint64
	nursery bool
	uid     uint64 // mirrors the zone's unique-id entry for hashing
	forward *Cell
	thing   Thing
}

func newCell(kind Kind, z *Zone, comp *Compartment, thing Thing) *Cell {
	c := &Cell{kind: kind, zone: z, comp: comp, thing: thing}
	if h, ok := thing.(cellHolder); ok {
		h.setCell(c)
	}
	return c
}

func (c *Cell) Kind() Kind                { return c.kind }
func (c *Cell) Zone() *Zone               { return c.zone }
func (c *Cell) Compartment() *Compartment { return c.comp }
func (c *Cell) Thing() Thing              { return c.thing }

// Addr returns the cell's simulated address. It changes when the cell is
// tenured or relocated.
func (c *Cell) Addr() uint64 { return c.addr }

// IsNursery reports whether the cell still lives in the nursery.
func (c *Cell) IsNursery() bool { return c.nursery }

// IsForwarded reports whether the cell has been moved.
func (c *Cell) IsForwarded() bool { return c.forward != nil }

// Resolve follows forwarding pointers left by tenuring and compaction and
// returns the cell's current location. It is nil-safe.
func (c *Cell) Resolve() *Cell {
	if c == nil {
		return nil
	}
	for c.forward != nil {
		c = c.forward
	}
	return c
}

func (c *Cell) IsMarkedBlack() bool {
	return c.arena != nil && c.arena.isBlack(c.index)
}

func (c *Cell) IsMarkedGray() bool {
	return c.arena != nil && c.arena.isGray(c.index)
}

// IsMarked reports whether the cell is black or gray.
func (c *Cell) IsMarked() bool {
	return c.arena != nil && c.arena.isMarked(c.index)
}

// moveTo makes dst the new home of c's payload and leaves a forwarding
// pointer behind.
func (c *Cell) moveTo(dst *Cell) {
	dst.thing = c.thing
	dst.uid = c.uid
	if h, ok := dst.thing.(cellHolder); ok {
		h.setCell(dst)
	}
	c.forward = dst
}
