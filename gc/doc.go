// Package gc is a generational, incremental, zone-scoped tracing collector.
//
// A Runtime owns a set of Zones. Every GC thing is a *Cell allocated in one
// zone, either in the nursery or in a per-kind Arena. Things report their
// references through Thing.Trace, and mutators keep the collector informed
// with the barrier functions (SetEdge, SetValue, PreWriteBarrier,
// PostWriteBarrier, ReadBarrier).
//
// A major cycle moves every collected zone through the fixed phase machine
//
//	NoGC -> Mark -> Sweep -> [Compact] -> Finished -> NoGC
//
// and may be run in slices (StartGC, Slice, FinishGC) with the mutator
// resuming in between. Zones are swept in sweep groups: strongly connected
// components of the cross-zone edge graph, sinks first.
//
// The heap is single-mutator. Callers running on more than one goroutine
// serialize through Runtime.WithExclusiveAccess.
package gc
