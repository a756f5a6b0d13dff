package classifier

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// Reclassify re-evaluates classification after the graph changed underneath
// an earlier verdict: the named units and every transitive caller of them
// are recomputed against the new graph, all other tags are carried over
// unchanged. This is the only mutation path a classification has — Mixed
// callers of a unit whose class flipped must be re-evaluated, everything
// else stays immutable.
func (c *Classifier) Reclassify(ctx context.Context, g *ir.Graph, prev *Result, changed ...ir.UnitID) (*Result, error) {
	if g == nil {
		return nil, fmt.Errorf("classifier: nil graph")
	}
	if prev == nil || len(changed) == 0 {
		return c.Classify(ctx, g)
	}

	affected := affectedSet(g, changed)
	res := &Result{Classes: make(map[ir.UnitID]Class, g.Len())}
	for id, class := range prev.Classes {
		if g.Unit(id) == nil {
			continue // unit dropped from the graph
		}
		if _, hit := affected[id]; !hit {
			res.Classes[id] = class
		}
	}

	var mu sync.Mutex
	for _, batch := range g.ComponentBatches() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("classifier: build cancelled: %w", err)
		}
		for _, comp := range batch {
			if !componentAffected(comp, affected) {
				continue
			}
			classes := classifyComponent(g, comp, res, &mu)
			mu.Lock()
			for id, class := range classes {
				res.Classes[id] = class
			}
			mu.Unlock()
		}
	}
	return res, nil
}

// affectedSet walks caller edges upward from the changed units.
func affectedSet(g *ir.Graph, changed []ir.UnitID) map[ir.UnitID]struct{} {
	callers := make(map[ir.UnitID][]ir.UnitID)
	for _, u := range g.Units() {
		for _, callee := range g.Callees(u.ID) {
			callers[callee] = append(callers[callee], u.ID)
		}
	}
	affected := make(map[ir.UnitID]struct{})
	queue := append([]ir.UnitID(nil), changed...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := affected[id]; seen {
			continue
		}
		affected[id] = struct{}{}
		queue = append(queue, callers[id]...)
	}
	return affected
}

func componentAffected(comp []ir.UnitID, affected map[ir.UnitID]struct{}) bool {
	for _, id := range comp {
		if _, hit := affected[id]; hit {
			return true
		}
	}
	return false
}

func sortUnitIDs(ids []ir.UnitID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
