// Package graph finds strongly connected components of small directed
// graphs. The collector uses it to split zones into sweep groups.
package graph

import (
	"cmp"
	"slices"
)

// Finder runs Tarjan's algorithm over the nodes added with AddNode. Edges to
// nodes that were never added are ignored.
//
// Components are returned in reverse topological order: if a node in
// component A has an edge to a node in component B, B comes first.
//
// The search is recursive. If it would go deeper than the depth limit the
// Finder gives up and reports every node as a single component, which is
// always a safe (if coarse) answer.
type Finder[N comparable] struct {
	edges      func(N) []N
	depthLimit int

	nodes []N
	state map[N]*nodeState

	counter    int
	stack      []N
	components [][]N
	overflowed bool
}

type nodeState struct {
	order   int
	index   int
	lowLink int
	visited bool
	onStack bool
}

// NewFinder returns a Finder that reads outgoing edges with edges. A
// depthLimit of zero or less means unlimited.
func NewFinder[N comparable](edges func(N) []N, depthLimit int) *Finder[N] {
	return &Finder[N]{
		edges:      edges,
		depthLimit: depthLimit,
		state:      make(map[N]*nodeState),
	}
}

// AddNode adds n to the graph. Adding a node twice has no effect.
func (f *Finder[N]) AddNode(n N) {
	if _, ok := f.state[n]; ok {
		return
	}
	f.state[n] = &nodeState{order: len(f.nodes)}
	f.nodes = append(f.nodes, n)
}

// Len returns the number of nodes.
func (f *Finder[N]) Len() int { return len(f.nodes) }

// Overflowed reports whether the last call to Components hit the depth
// limit.
func (f *Finder[N]) Overflowed() bool { return f.overflowed }

// Components returns the strongly connected components, sinks first. Nodes
// inside a component keep the order they were added in.
func (f *Finder[N]) Components() [][]N {
	f.reset()
	for _, n := range f.nodes {
		if f.state[n].visited {
			continue
		}
		f.strongConnect(n, 1)
		if f.overflowed {
			return f.merged()
		}
	}
	return f.components
}

func (f *Finder[N]) reset() {
	for _, s := range f.state {
		*s = nodeState{order: s.order}
	}
	f.counter = 0
	f.stack = f.stack[:0]
	f.components = nil
	f.overflowed = false
}

func (f *Finder[N]) merged() [][]N {
	if len(f.nodes) == 0 {
		return nil
	}
	all := make([]N, len(f.nodes))
	copy(all, f.nodes)
	f.components = [][]N{all}
	return f.components
}

func (f *Finder[N]) strongConnect(v N, depth int) {
	if f.depthLimit > 0 && depth > f.depthLimit {
		f.overflowed = true
		return
	}

	s := f.state[v]
	s.visited = true
	s.index = f.counter
	s.lowLink = f.counter
	f.counter++
	f.stack = append(f.stack, v)
	s.onStack = true

	for _, w := range f.edges(v) {
		ws, ok := f.state[w]
		if !ok {
			continue
		}
		if !ws.visited {
			f.strongConnect(w, depth+1)
			if f.overflowed {
				return
			}
			s.lowLink = min(s.lowLink, ws.lowLink)
		} else if ws.onStack {
			s.lowLink = min(s.lowLink, ws.index)
		}
	}

	if s.lowLink != s.index {
		return
	}

	var component []N
	for {
		n := len(f.stack) - 1
		w := f.stack[n]
		f.stack = f.stack[:n]
		f.state[w].onStack = false
		component = append(component, w)
		if w == v {
			break
		}
	}
	f.sortByOrder(component)
	f.components = append(f.components, component)
}

func (f *Finder[N]) sortByOrder(c []N) {
	slices.SortFunc(c, func(a, b N) int {
		return cmp.Compare(f.state[a].order, f.state[b].order)
	})
}
