// Package deopt implements the deoptimization and on-stack-replacement
// controller: the per-frame state machine that abandons a specialized
// execution path on guard failure and resumes the generic implementation
// from an equivalent logical program point. Deoptimization is invisible to
// the caller — same observable results, same side-effect order, no
// re-executed effects — and never blocks other frames of the same unit.
package deopt

import (
	"fmt"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
)

// Slot describes one live value location in a specialized frame and the
// static type its unboxed representation carries.
type Slot struct {
	Name     string
	Declared *ir.StaticType
}

// Point maps a specialized program location to the generic-execution state
// needed to resume there. Points are created alongside each speculative
// variant and consumed only by the controller.
type Point struct {
	Unit     ir.UnitID
	Location string
	Slots    []Slot
}

// Fault is returned by specialized code when an interior guard fails
// mid-execution. Live carries the frame's live values in their specialized
// (unboxed native) representation; Committed counts side effects already
// performed, which rehydration must not replay.
type Fault struct {
	Point     *Point
	Live      []any
	Committed int
}

func (f *Fault) Error() string {
	if f.Point == nil {
		return "deopt: guard fault"
	}
	return fmt.Sprintf("deopt: guard fault in %s at %s", f.Point.Unit, f.Point.Location)
}

// Rehydrate converts a faulting frame's live values back into the generic
// tagged representation using the heap service. The path is allocation-only
// and unconditionally bounded: no locks, no blocking.
func (f *Fault) Rehydrate(heap runtime.Allocator) ([]runtime.Tagged, error) {
	if f.Point == nil {
		return nil, fmt.Errorf("deopt: fault without a deopt point")
	}
	if len(f.Live) != len(f.Point.Slots) {
		return nil, fmt.Errorf("deopt: %s at %s: %d live values for %d slots",
			f.Point.Unit, f.Point.Location, len(f.Live), len(f.Point.Slots))
	}
	out := make([]runtime.Tagged, len(f.Live))
	for i, native := range f.Live {
		boxed, err := heap.Box(native, f.Point.Slots[i].Declared)
		if err != nil {
			return nil, fmt.Errorf("deopt: rehydrate slot %s: %w", f.Point.Slots[i].Name, err)
		}
		out[i] = boxed
	}
	return out, nil
}
