// Package classifier partitions the module dependency graph into units that
// can be compiled fully ahead-of-time and units that cross into
// dynamically-typed territory. Classification is a bottom-up fixed point
// over the dependency graph: a unit's class depends on its callees, so units
// are processed in topological batches, in parallel within a batch. The
// result is a pure function of the graph — identical inputs always produce
// identical tags.
package classifier

import (
	"context"
	"fmt"
	"sync"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// Class tags a compilation unit's relationship to the dynamic boundary.
type Class int

const (
	// ClassAOT units reach only fully resolved static types; they compile
	// to finished native code with no residual specialization machinery.
	ClassAOT Class = iota
	// ClassBoundary units touch dynamic values or unresolved types
	// themselves.
	ClassBoundary
	// ClassMixed units are statically typed but call Boundary units. They
	// are compiled like Boundary units yet keep their static signature for
	// the marshalling layer.
	ClassMixed
)

func (c Class) String() string {
	switch c {
	case ClassAOT:
		return "aot"
	case ClassBoundary:
		return "boundary"
	case ClassMixed:
		return "mixed"
	default:
		return fmt.Sprintf("class_%d", int(c))
	}
}

// Result is the classification verdict for one build.
type Result struct {
	Classes map[ir.UnitID]Class
}

// Class returns a unit's tag. Unknown units answer ClassBoundary: treating
// an unclassified unit as dynamic is always sound, never the reverse.
func (r *Result) Class(id ir.UnitID) Class {
	if r == nil {
		return ClassBoundary
	}
	if c, ok := r.Classes[id]; ok {
		return c
	}
	return ClassBoundary
}

// BoundaryUnits returns the ids of all Boundary and Mixed units, sorted.
func (r *Result) BoundaryUnits() []ir.UnitID {
	var out []ir.UnitID
	for id, c := range r.Classes {
		if c == ClassBoundary || c == ClassMixed {
			out = append(out, id)
		}
	}
	sortUnitIDs(out)
	return out
}

// PureStatic reports whether the build contains no Boundary or Mixed units.
func (r *Result) PureStatic() bool {
	for _, c := range r.Classes {
		if c != ClassAOT {
			return false
		}
	}
	return true
}

// Crossing reports whether a call edge between the two units crosses the
// static/dynamic boundary and therefore needs a marshalling stub. Mixed
// units sit on the static side of their own signature: calls from AOT or
// Mixed into Boundary cross, as do calls from Boundary into AOT or Mixed.
func (r *Result) Crossing(caller, callee ir.UnitID) bool {
	from, to := r.Class(caller), r.Class(callee)
	if from == to {
		return false
	}
	return from == ClassBoundary || to == ClassBoundary
}

// Classifier runs classification over a worker pool.
type Classifier struct {
	workers int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithWorkers sets the worker-pool size used per topological batch.
func WithWorkers(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New constructs a classifier. The default pool uses four workers.
func New(opts ...Option) *Classifier {
	c := &Classifier{workers: 4}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify computes the class of every unit in the graph. Units are
// processed in dependency order; within a batch, units are classified
// concurrently. Cancellation is honoured between batches: a cancelled build
// discards the partial result entirely.
func (c *Classifier) Classify(ctx context.Context, g *ir.Graph) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("classifier: nil graph")
	}
	res := &Result{Classes: make(map[ir.UnitID]Class, g.Len())}
	var mu sync.Mutex

	for _, batch := range g.ComponentBatches() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("classifier: build cancelled: %w", err)
		}
		work := make(chan []ir.UnitID)
		var wg sync.WaitGroup
		workers := c.workers
		if workers > len(batch) {
			workers = len(batch)
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for comp := range work {
					classes := classifyComponent(g, comp, res, &mu)
					mu.Lock()
					for id, class := range classes {
						res.Classes[id] = class
					}
					mu.Unlock()
				}
			}()
		}
		for _, comp := range batch {
			work <- comp
		}
		close(work)
		wg.Wait()
	}
	return res, nil
}

// classifyComponent decides one strongly connected component. Every member
// of a call cycle reaches every other member, so dynamism anywhere in the
// component, or in any already-classified external callee, taints the whole
// component: intrinsically dynamic members are Boundary, the rest Mixed.
func classifyComponent(g *ir.Graph, comp []ir.UnitID, res *Result, mu *sync.Mutex) map[ir.UnitID]Class {
	inComp := make(map[ir.UnitID]struct{}, len(comp))
	for _, id := range comp {
		inComp[id] = struct{}{}
	}

	dynamic := make(map[ir.UnitID]bool, len(comp))
	anyDynamic := false
	for _, id := range comp {
		u := g.Unit(id)
		if u.UsesDynamicFeatures() || !u.Signature.Resolved() {
			dynamic[id] = true
			anyDynamic = true
		}
	}

	callsBoundary := false
	if !anyDynamic {
		for _, id := range comp {
			for _, callee := range g.Callees(id) {
				if _, internal := inComp[callee]; internal {
					continue
				}
				mu.Lock()
				calleeClass := res.Classes[callee]
				mu.Unlock()
				if calleeClass == ClassBoundary || calleeClass == ClassMixed {
					callsBoundary = true
				}
			}
			if callsBoundary {
				break
			}
		}
	}

	out := make(map[ir.UnitID]Class, len(comp))
	for _, id := range comp {
		switch {
		case dynamic[id]:
			out[id] = ClassBoundary
		case anyDynamic || callsBoundary:
			out[id] = ClassMixed
		default:
			out[id] = ClassAOT
		}
	}
	return out
}
