package gc

// storeBuffer remembers tenured locations that point into the nursery. A
// minor GC treats every entry as a root and then discards the buffer.
type storeBuffer struct {
	edges  map[**Cell]struct{}
	values map[*Value]struct{}
	cells  map[*Cell]struct{}
}

func newStoreBuffer() storeBuffer {
	return storeBuffer{
		edges:  make(map[**Cell]struct{}),
		values: make(map[*Value]struct{}),
		cells:  make(map[*Cell]struct{}),
	}
}

func (sb *storeBuffer) putEdge(e **Cell)  { sb.edges[e] = struct{}{} }
func (sb *storeBuffer) putValue(v *Value) { sb.values[v] = struct{}{} }

// putCell records a whole tenured cell whose slots cannot be addressed
// individually, such as a table that may reallocate.
func (sb *storeBuffer) putCell(c *Cell) { sb.cells[c] = struct{}{} }

func (sb *storeBuffer) len() int {
	return len(sb.edges) + len(sb.values) + len(sb.cells)
}

func (sb *storeBuffer) isEmpty() bool { return sb.len() == 0 }

func (sb *storeBuffer) clear() {
	clear(sb.edges)
	clear(sb.values)
	clear(sb.cells)
}

// trace reports every buffered location to trc.
func (sb *storeBuffer) trace(trc Tracer) {
	for e := range sb.edges {
		TraceEdge(trc, e, "store buffer edge")
	}
	for v := range sb.values {
		TraceValue(trc, v, "store buffer value")
	}
	for c := range sb.cells {
		c.Resolve().thing.Trace(trc)
	}
}
