package gc

// TracerKind tells a Thing what the tracer will do with its edges.
type TracerKind uint8

const (
	// Marking tracers color referents and never modify edges.
	Marking TracerKind = iota
	// Tenuring tracers copy nursery referents out and update edges.
	Tenuring
	// Moving tracers update edges to relocated cells.
	Moving
	// Callback tracers are arbitrary visitors.
	Callback
)

func (k TracerKind) String() string {
	switch k {
	case Marking:
		return "Marking"
	case Tenuring:
		return "Tenuring"
	case Moving:
		return "Moving"
	}
	return "Callback"
}

// Tracer visits the edges reported by Thing.Trace. OnEdge is never called
// with a nil edge target; use TraceEdge and TraceValue.
type Tracer interface {
	Kind() TracerKind
	OnEdge(edge **Cell, name string)
}

// TraceEdge reports *edge to trc if it is non-nil.
func TraceEdge(trc Tracer, edge **Cell, name string) {
	if *edge != nil {
		trc.OnEdge(edge, name)
	}
}

// TraceValue reports the cell held by v, if any.
func TraceValue(trc Tracer, v *Value, name string) {
	if v.tag == tagCell {
		trc.OnEdge(&v.c, name)
	}
}

// UpdatesEdges reports whether trc may rewrite the edges it visits. Things
// that hash on their referents must rekey after tracing with such a tracer.
func UpdatesEdges(trc Tracer) bool {
	k := trc.Kind()
	return k == Tenuring || k == Moving
}

// CallbackTracer calls Fn for every edge. Fn sees the current target and
// must not retain the edge pointer.
type CallbackTracer struct {
	Fn func(target *Cell, name string)
}

func (t *CallbackTracer) Kind() TracerKind { return Callback }

func (t *CallbackTracer) OnEdge(edge **Cell, name string) {
	t.Fn(*edge, name)
}

// Children returns the cells directly referenced by c, in trace order.
func Children(c *Cell) []*Cell {
	var out []*Cell
	c.thing.Trace(&CallbackTracer{Fn: func(target *Cell, _ string) {
		out = append(out, target)
	}})
	return out
}

// movingTracer resolves forwarded edges after compaction.
type movingTracer struct {
	updated int
}

func (t *movingTracer) Kind() TracerKind { return Moving }

func (t *movingTracer) OnEdge(edge **Cell, _ string) {
	if (*edge).forward != nil {
		*edge = (*edge).Resolve()
		t.updated++
	}
}
