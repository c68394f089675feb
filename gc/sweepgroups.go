package gc

import "github.com/chazu/zonegc/gc/graph"

// sweepGroupEdges lists the collected zones z has edges to, in runtime
// zone order.
func (rt *Runtime) sweepGroupEdges(z *Zone) []*Zone {
	if len(z.sweepGroupEdges) == 0 {
		return nil
	}
	out := make([]*Zone, 0, len(z.sweepGroupEdges))
	for _, other := range rt.zones {
		if z.HasSweepGroupEdgeTo(other) {
			out = append(out, other)
		}
	}
	return out
}

// computeSweepGroups splits the collected zones into sweep groups, sinks
// first. If the search overflows its depth limit every zone lands in one
// group.
func (rt *Runtime) computeSweepGroups(zones []*Zone) (groups [][]*Zone, merged bool) {
	f := graph.NewFinder(rt.sweepGroupEdges, rt.cfg.SweepGroupDepthLimit)
	for _, z := range zones {
		f.AddNode(z)
	}
	groups = f.Components()
	if f.Overflowed() {
		log.Warningf("sweep group search exceeded depth %d; sweeping %d zones as one group",
			rt.cfg.SweepGroupDepthLimit, len(zones))
		return groups, true
	}
	return groups, false
}
