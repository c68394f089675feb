package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/chazu/zonegc/gc"
)

// workload is a synthetic mutator. It keeps a bounded set of rooted cells
// spread over several zones and rewires the graph between them through the
// barriered setters.
type workload struct {
	rt  *gc.Runtime
	rng *rand.Rand

	comps    []*gc.Compartment
	roots    []*gc.Root
	maxRoots int

	ops       map[string]int
	oom       int
	zoneChurn int
	finalized int
	zonesMade int
}

func newWorkload(rt *gc.Runtime, seed uint64, zones, maxRoots int) *workload {
	w := &workload{
		rt:       rt,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		maxRoots: maxRoots,
		ops:      make(map[string]int),
	}
	for i := 0; i < zones; i++ {
		w.addZone()
	}
	return w
}

func (w *workload) addZone() *gc.Compartment {
	z := w.rt.NewZone(fmt.Sprintf("zone-%d", w.zonesMade))
	w.zonesMade++
	comp := z.NewCompartment("main")
	comp.Hold()
	w.comps = append(w.comps, comp)
	return comp
}

func (w *workload) comp() *gc.Compartment { return w.comps[w.rng.IntN(len(w.comps))] }

func (w *workload) root() *gc.Cell {
	if len(w.roots) == 0 {
		return nil
	}
	return w.roots[w.rng.IntN(len(w.roots))].Get()
}

func (w *workload) keep(c *gc.Cell) {
	if len(w.roots) < w.maxRoots {
		w.roots = append(w.roots, w.rt.NewRoot(c))
		return
	}
	w.roots[w.rng.IntN(len(w.roots))].Set(c)
}

// step performs one random mutation. Allocation failures are counted, not
// returned: a stress run is expected to hit configured heap limits.
func (w *workload) step() error {
	var err error
	switch n := w.rng.IntN(100); {
	case n < 35:
		err = w.allocObject()
	case n < 55:
		err = w.link()
	case n < 65:
		err = w.mapInsert()
	case n < 72:
		err = w.weakMapInsert()
	case n < 77:
		err = w.weakRef()
	case n < 82:
		err = w.atomize()
	case n < 92:
		w.drop()
	case n < 95:
		w.churnZone()
	default:
		w.ops["maybe-gc"]++
		w.rt.MaybeGC()
	}
	if gc.IsOutOfMemory(err) {
		w.oom++
		return nil
	}
	return err
}

func (w *workload) allocObject() error {
	c, err := w.rt.NewObject(w.comp(), 1+w.rng.IntN(4))
	if err != nil {
		return err
	}
	w.ops["object"]++
	if w.rng.IntN(3) == 0 {
		w.keep(c)
		return nil
	}
	// Unrooted objects live only if linked from a rooted one.
	if r := w.root(); r != nil {
		if o, ok := r.Thing().(*gc.Object); ok && o.Len() > 0 {
			o.SetSlot(w.rng.IntN(o.Len()), gc.CellValue(c))
		}
	}
	return nil
}

func (w *workload) link() error {
	from, to := w.root(), w.root()
	if from == nil || to == nil {
		return nil
	}
	o, ok := from.Thing().(*gc.Object)
	if !ok || o.Len() == 0 {
		return nil
	}
	w.ops["link"]++
	if w.rng.IntN(4) == 0 {
		o.SetSlot(w.rng.IntN(o.Len()), gc.Undefined())
		return nil
	}
	o.SetSlot(w.rng.IntN(o.Len()), gc.CellValue(to))
	return nil
}

func (w *workload) mapInsert() error {
	c, err := w.rt.NewMap(w.comp())
	if err != nil {
		return err
	}
	m := c.Thing().(*gc.MapObject)
	for i := 0; i < 1+w.rng.IntN(16); i++ {
		key := gc.Int(int64(w.rng.IntN(64)))
		if r := w.root(); r != nil && w.rng.IntN(2) == 0 {
			key = gc.CellValue(r)
		}
		if err := m.Set(key, gc.Int(int64(i))); err != nil {
			return err
		}
	}
	w.ops["map"]++
	w.keep(c)
	return nil
}

func (w *workload) weakMapInsert() error {
	c, err := w.rt.NewWeakMap(w.comp())
	if err != nil {
		return err
	}
	wm := c.Thing().(*gc.WeakMap)
	for i := 0; i < 4; i++ {
		key, err := w.rt.NewObject(w.comp(), 0)
		if err != nil {
			return err
		}
		if err := wm.Set(gc.CellValue(key), gc.Int(int64(i))); err != nil {
			return err
		}
		if i%2 == 0 {
			w.keep(key)
		}
	}
	w.ops["weakmap"]++
	w.keep(c)
	return nil
}

func (w *workload) weakRef() error {
	target := w.root()
	if target == nil {
		return nil
	}
	c, err := w.rt.NewWeakRef(w.comp(), target)
	if err != nil {
		return err
	}
	c.Thing().(*gc.WeakRef).SetFinalizer(func(uint64) { w.finalized++ })
	w.ops["weakref"]++
	w.keep(c)
	return nil
}

func (w *workload) atomize() error {
	c, err := w.rt.Atomize(fmt.Sprintf("atom-%d", w.rng.IntN(256)))
	if err != nil {
		return err
	}
	w.ops["atom"]++
	if w.rng.IntN(4) == 0 {
		w.keep(c)
	}
	return nil
}

func (w *workload) drop() {
	if len(w.roots) == 0 {
		return
	}
	i := w.rng.IntN(len(w.roots))
	w.roots[i].Release()
	w.roots[i] = w.roots[len(w.roots)-1]
	w.roots = w.roots[:len(w.roots)-1]
	w.ops["drop"]++
}

// churnZone retires a compartment and opens a fresh zone. The retired
// zone is destroyed by a later cycle once nothing references it.
func (w *workload) churnZone() {
	if len(w.comps) < 2 {
		return
	}
	i := w.rng.IntN(len(w.comps))
	w.comps[i].Release()
	w.comps[i] = w.comps[len(w.comps)-1]
	w.comps = w.comps[:len(w.comps)-1]
	w.addZone()
	w.zoneChurn++
}
