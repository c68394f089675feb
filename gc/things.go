package gc

// ---------------------------------------------------------------------------
// Object: a fixed number of value slots
// ---------------------------------------------------------------------------

// Object is a plain GC thing with a fixed array of value slots.
type Object struct {
	Header
	slots []Value
}

// Len returns the number of slots.
func (o *Object) Len() int { return len(o.slots) }

// Slot returns slot i. Cell values pass through the read barrier.
func (o *Object) Slot(i int) Value {
	v := o.slots[i]
	if v.tag == tagCell {
		ReadBarrier(v.c)
	}
	return v.resolved()
}

// SetSlot stores v in slot i with full barriers.
func (o *Object) SetSlot(i int, v Value) {
	SetValue(o.cell, &o.slots[i], v)
}

func (o *Object) Trace(trc Tracer) {
	for i := range o.slots {
		TraceValue(trc, &o.slots[i], "slot")
	}
}

func (o *Object) Finalize() {
	if c := o.cell; c != nil {
		c.zone.RemoveCellMemory(c, uint64(len(o.slots))*slotBytes, MemoryUseObjectSlots)
	}
}

// ---------------------------------------------------------------------------
// String and Symbol
// ---------------------------------------------------------------------------

// String is an immutable character string. Map and Set compare strings by
// content.
type String struct {
	Header
	s string
}

func (s *String) String() string { return s.s }

func (s *String) Trace(Tracer) {}

func (s *String) Finalize() {
	if c := s.cell; c != nil {
		c.zone.RemoveCellMemory(c, uint64(len(s.s)), MemoryUseStringChars)
	}
}

// Symbol is a unique identity with a description. Symbols compare by
// identity and hash by unique id.
type Symbol struct {
	Header
	desc string
}

func (s *Symbol) Description() string { return s.desc }

func (s *Symbol) Trace(Tracer) {}
