package gc

import "fmt"

// Compartment is a realm boundary inside a zone. A compartment survives a
// collection if any of its cells was marked or it is held.
type Compartment struct {
	zone      *Zone
	name      string
	holds     int
	marked    bool
	destroyed bool
}

// NewCompartment creates a compartment in z.
func (z *Zone) NewCompartment(name string) *Compartment {
	if z.destroyed {
		panic(fmt.Sprintf("gc: NewCompartment in destroyed zone %s", z))
	}
	c := &Compartment{zone: z, name: name}
	z.compartments = append(z.compartments, c)
	return c
}

// Compartments returns the zone's live compartments.
func (z *Zone) Compartments() []*Compartment { return z.compartments }

func (c *Compartment) Zone() *Zone       { return c.zone }
func (c *Compartment) Name() string      { return c.name }
func (c *Compartment) IsDestroyed() bool { return c.destroyed }

// Hold keeps the compartment alive across collections until Release.
func (c *Compartment) Hold() { c.holds++ }

func (c *Compartment) Release() {
	if c.holds == 0 {
		panic(fmt.Sprintf("gc: Release of unheld compartment %s", c.name))
	}
	c.holds--
}

func (c *Compartment) String() string { return c.zone.String() + "/" + c.name }

func (c *Compartment) isLive() bool { return c.holds > 0 || c.marked }

// SweepCompartments destroys compartments that are neither held nor
// reachable. When keepAtLeastOne is set and every compartment would go, the
// last one is kept so a live zone never ends up empty. destroyingRuntime
// disables that rule.
func (z *Zone) SweepCompartments(keepAtLeastOne, destroyingRuntime bool) int {
	z.assertSweeping("SweepCompartments")
	if destroyingRuntime {
		keepAtLeastOne = false
	}

	removed := 0
	kept := z.compartments[:0]
	for i, comp := range z.compartments {
		last := i == len(z.compartments)-1
		if comp.isLive() || (last && keepAtLeastOne) {
			comp.marked = false
			kept = append(kept, comp)
			keepAtLeastOne = false
			continue
		}
		comp.destroyed = true
		removed++
	}
	clear(z.compartments[len(kept):])
	z.compartments = kept
	return removed
}
