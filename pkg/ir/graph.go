package ir

import (
	"fmt"
	"sort"
)

// UnitID names one compilation unit (a function or a module).
type UnitID string

// CallSiteID names one call site within a unit. IDs are assigned by the
// front end and are stable across builds of the same source.
type CallSiteID string

// DynFeature marks a dynamic construct a unit relies on. The classifier
// treats any of these as contact with the dynamically-typed sibling language;
// the link planner additionally gates them when ahead-compiled linking is
// requested.
type DynFeature string

const (
	FeatDynCall      DynFeature = "dyn_call"      // call into the dynamic sibling language
	FeatReflection   DynFeature = "reflection"    // runtime reflection over values
	FeatDynLiteral   DynFeature = "dyn_literal"   // fully dynamic object literal
	FeatEval         DynFeature = "eval"          // runtime code evaluation
	FeatPrototypeMut DynFeature = "prototype_mut" // shape mutation after construction
)

// CallSite is one static call edge origin inside a unit.
type CallSite struct {
	ID     CallSiteID
	Caller UnitID
	Callee UnitID
}

// Unit is a single compilation unit in typed IR form. Units are immutable
// after graph construction; classification results live on the classifier's
// side, not here.
type Unit struct {
	ID        UnitID
	Module    string
	Signature Signature
	CallSites []CallSite
	Features  []DynFeature
}

// UsesDynamicFeatures reports whether the unit itself touches any dynamic
// construct, independent of what it calls.
func (u *Unit) UsesDynamicFeatures() bool {
	return len(u.Features) > 0
}

// Graph is the module dependency graph over compilation units. Iteration
// order is deterministic: unit IDs are kept sorted.
type Graph struct {
	units map[UnitID]*Unit
	order []UnitID
}

// NewGraph builds a graph from the supplied units, validating that every
// call edge targets a unit present in the same build.
func NewGraph(units []*Unit) (*Graph, error) {
	g := &Graph{units: make(map[UnitID]*Unit, len(units))}
	for _, u := range units {
		if u == nil || u.ID == "" {
			return nil, fmt.Errorf("ir: unit with empty id")
		}
		if _, dup := g.units[u.ID]; dup {
			return nil, fmt.Errorf("ir: duplicate unit %q", u.ID)
		}
		g.units[u.ID] = u
		g.order = append(g.order, u.ID)
	}
	sort.Slice(g.order, func(i, j int) bool { return g.order[i] < g.order[j] })
	for _, id := range g.order {
		for _, cs := range g.units[id].CallSites {
			if cs.Caller != id {
				return nil, fmt.Errorf("ir: call site %q claims caller %q inside unit %q", cs.ID, cs.Caller, id)
			}
			if _, ok := g.units[cs.Callee]; !ok {
				return nil, fmt.Errorf("ir: call site %q targets unknown unit %q", cs.ID, cs.Callee)
			}
		}
	}
	return g, nil
}

// Unit returns the unit with the given id, or nil.
func (g *Graph) Unit(id UnitID) *Unit {
	return g.units[id]
}

// Units returns all units in sorted id order.
func (g *Graph) Units() []*Unit {
	out := make([]*Unit, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.units[id])
	}
	return out
}

// Len returns the number of units.
func (g *Graph) Len() int { return len(g.order) }

// Callees returns the distinct callee ids of a unit, sorted.
func (g *Graph) Callees(id UnitID) []UnitID {
	u := g.units[id]
	if u == nil {
		return nil
	}
	seen := make(map[UnitID]struct{}, len(u.CallSites))
	var out []UnitID
	for _, cs := range u.CallSites {
		if _, ok := seen[cs.Callee]; ok {
			continue
		}
		seen[cs.Callee] = struct{}{}
		out = append(out, cs.Callee)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CallSites returns every call site in the graph in (caller, site id) order.
func (g *Graph) CallSites() []CallSite {
	var out []CallSite
	for _, id := range g.order {
		sites := append([]CallSite(nil), g.units[id].CallSites...)
		sort.Slice(sites, func(i, j int) bool { return sites[i].ID < sites[j].ID })
		out = append(out, sites...)
	}
	return out
}

// TopoBatches partitions the graph into dependency-ordered batches: every
// unit's callees appear in an earlier batch. Units inside one batch are
// mutually independent and sorted by id. Call cycles (mutual recursion) are
// grouped into the batch where the last of their members becomes ready, by
// collapsing strongly connected components first.
func (g *Graph) TopoBatches() [][]UnitID {
	var batches [][]UnitID
	for _, comps := range g.ComponentBatches() {
		var batch []UnitID
		for _, members := range comps {
			batch = append(batch, members...)
		}
		sort.Slice(batch, func(i, j int) bool { return batch[i] < batch[j] })
		batches = append(batches, batch)
	}
	return batches
}

// ComponentBatches is TopoBatches with call cycles kept intact: each batch
// is a list of mutually independent strongly connected components, each
// component a sorted list of its member units. Single units appear as
// one-element components.
func (g *Graph) ComponentBatches() [][][]UnitID {
	comp, members := g.sccs()

	// Component-level dependency counts.
	deps := make(map[int]map[int]struct{})
	for _, id := range g.order {
		from := comp[id]
		for _, callee := range g.Callees(id) {
			to := comp[callee]
			if to == from {
				continue
			}
			if deps[from] == nil {
				deps[from] = make(map[int]struct{})
			}
			deps[from][to] = struct{}{}
		}
	}

	remaining := make(map[int]int, len(members))
	for c := range members {
		remaining[c] = len(deps[c])
	}

	var batches [][][]UnitID
	done := make(map[int]struct{})
	for len(done) < len(members) {
		var ready []int
		for c := range members {
			if _, ok := done[c]; ok {
				continue
			}
			if remaining[c] == 0 {
				ready = append(ready, c)
			}
		}
		if len(ready) == 0 {
			// Unreachable for a well-formed SCC condensation.
			break
		}
		// Order components by their smallest member id for determinism.
		sort.Slice(ready, func(i, j int) bool {
			return members[ready[i]][0] < members[ready[j]][0]
		})
		var batch [][]UnitID
		for _, c := range ready {
			batch = append(batch, members[c])
			done[c] = struct{}{}
		}
		batches = append(batches, batch)
		for c := range members {
			if _, ok := done[c]; ok {
				continue
			}
			n := 0
			for d := range deps[c] {
				if _, ok := done[d]; !ok {
					n++
				}
			}
			remaining[c] = n
		}
	}
	return batches
}

// sccs computes strongly connected components (Tarjan) and returns the
// component index per unit plus each component's members in sorted order.
func (g *Graph) sccs() (map[UnitID]int, map[int][]UnitID) {
	index := make(map[UnitID]int)
	lowlink := make(map[UnitID]int)
	onStack := make(map[UnitID]bool)
	comp := make(map[UnitID]int)
	members := make(map[int][]UnitID)
	var stack []UnitID
	next := 0
	nComp := 0

	var strongconnect func(v UnitID)
	strongconnect = func(v UnitID) {
		index[v] = next
		lowlink[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range g.Callees(v) {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}
		if lowlink[v] == index[v] {
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp[w] = nComp
				members[nComp] = append(members[nComp], w)
				if w == v {
					break
				}
			}
			sort.Slice(members[nComp], func(i, j int) bool { return members[nComp][i] < members[nComp][j] })
			nComp++
		}
	}
	for _, id := range g.order {
		if _, seen := index[id]; !seen {
			strongconnect(id)
		}
	}
	return comp, members
}

func sortedFieldNames(fields map[string]*StaticType) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
