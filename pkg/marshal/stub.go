// Package marshal generates calling-convention adapters for call edges that
// cross the static/dynamic classification boundary. Calls into dynamic code
// box native arguments into tagged values; dynamic calls into static code
// unbox tagged arguments against the declared signature, where an
// incompatible runtime value is a hard ShapeMismatch, not a guard miss.
// Thrown values cross the boundary as tagged error values in both
// directions, preserving the original throw semantics.
package marshal

import (
	"errors"
	"fmt"
	"sort"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
)

// Direction distinguishes the two crossing orientations.
type Direction int

const (
	// IntoDynamic adapts a statically-typed caller invoking boundary code.
	IntoDynamic Direction = iota
	// IntoStatic adapts a dynamic caller invoking AOT code.
	IntoStatic
)

func (d Direction) String() string {
	if d == IntoStatic {
		return "into-static"
	}
	return "into-dynamic"
}

// Convention names a calling convention end.
type Convention string

const (
	ConvNative Convention = "native"
	ConvTagged Convention = "tagged"
)

// LinkageMismatchError reports a calling-convention or symbol-resolution
// failure between static and dynamic artifacts. Fatal to the build.
type LinkageMismatchError struct {
	Site   ir.CallSiteID
	Caller ir.UnitID
	Callee ir.UnitID
	Reason string
}

func (e *LinkageMismatchError) Error() string {
	return fmt.Sprintf("marshal: linkage mismatch at %s (%s -> %s): %s", e.Site, e.Caller, e.Callee, e.Reason)
}

// Stub is the generated adapter for one crossing call edge.
type Stub struct {
	Site       ir.CallSiteID
	Caller     ir.UnitID
	Callee     ir.UnitID
	Direction  Direction
	CallerConv Convention
	CalleeConv Convention
	// Signature is the static side's declared signature: the callee's for
	// IntoStatic, the call site's expectation for IntoDynamic.
	Signature ir.Signature
}

// Generate produces one stub per crossing call edge, in deterministic
// (caller, site) order. A dynamic edge into a unit whose signature is not
// fully resolved cannot be adapted and is a LinkageMismatchError.
func Generate(g *ir.Graph, res *classifier.Result) ([]*Stub, error) {
	if g == nil || res == nil {
		return nil, fmt.Errorf("marshal: nil graph or classification")
	}
	var stubs []*Stub
	for _, cs := range g.CallSites() {
		if !res.Crossing(cs.Caller, cs.Callee) {
			continue
		}
		callee := g.Unit(cs.Callee)
		dir := IntoDynamic
		callerConv, calleeConv := ConvNative, ConvTagged
		sig := callee.Signature
		if res.Class(cs.Callee) != classifier.ClassBoundary {
			dir = IntoStatic
			callerConv, calleeConv = ConvTagged, ConvNative
			if !sig.Resolved() {
				return nil, &LinkageMismatchError{
					Site:   cs.ID,
					Caller: cs.Caller,
					Callee: cs.Callee,
					Reason: "static callee signature not fully resolved",
				}
			}
		}
		stubs = append(stubs, &Stub{
			Site:       cs.ID,
			Caller:     cs.Caller,
			Callee:     cs.Callee,
			Direction:  dir,
			CallerConv: callerConv,
			CalleeConv: calleeConv,
			Signature:  sig,
		})
	}
	sort.Slice(stubs, func(i, j int) bool {
		if stubs[i].Caller != stubs[j].Caller {
			return stubs[i].Caller < stubs[j].Caller
		}
		return stubs[i].Site < stubs[j].Site
	})
	return stubs, nil
}

// TaggedFunc is the dynamic-side entrypoint of a callee.
type TaggedFunc func(args []runtime.Tagged) (runtime.Tagged, error)

// NativeFunc is the static-side entrypoint of a callee.
type NativeFunc func(args []any) (any, error)

// CallDynamic adapts a statically-typed caller invoking dynamic code: boxes
// each native argument under its declared type, invokes, and returns the
// tagged result. A thrown dynamic value surfaces as *runtime.ErrorValue,
// exactly as the dynamic language threw it.
func (s *Stub) CallDynamic(heap runtime.Allocator, callee TaggedFunc, args []any) (runtime.Tagged, error) {
	if s.Direction != IntoDynamic {
		return nil, fmt.Errorf("marshal: stub %s is %s, not into-dynamic", s.Site, s.Direction)
	}
	tagged := make([]runtime.Tagged, len(args))
	for i, arg := range args {
		var declared *ir.StaticType
		if i < len(s.Signature.Params) {
			declared = s.Signature.Params[i]
		}
		boxed, err := heap.Box(arg, declared)
		if err != nil {
			return nil, fmt.Errorf("marshal: box arg %d at %s: %w", i, s.Site, err)
		}
		tagged[i] = boxed
	}
	out, err := callee(tagged)
	if err != nil {
		return nil, PropagateThrown(err)
	}
	return out, nil
}

// CallStatic adapts a dynamic caller invoking AOT code: unboxes each tagged
// argument against the callee's declared parameter type — a mismatch is a
// hard ShapeMismatch propagated as a thrown dynamic error — invokes the
// native entry, and boxes the result back.
func (s *Stub) CallStatic(heap runtime.Allocator, callee NativeFunc, args []runtime.Tagged) (runtime.Tagged, error) {
	if s.Direction != IntoStatic {
		return nil, fmt.Errorf("marshal: stub %s is %s, not into-static", s.Site, s.Direction)
	}
	if len(args) != len(s.Signature.Params) {
		return nil, (&runtime.ShapeMismatchError{
			Expected: fmt.Sprintf("%d arguments", len(s.Signature.Params)),
			Got:      fmt.Sprintf("%d arguments", len(args)),
			Path:     string(s.Site),
		}).AsThrown()
	}
	native := make([]any, len(args))
	for i, arg := range args {
		v, err := heap.Unbox(arg, s.Signature.Params[i])
		if err != nil {
			return nil, PropagateThrown(err)
		}
		native[i] = v
	}
	out, err := callee(native)
	if err != nil {
		return nil, PropagateThrown(err)
	}
	boxed, err := heap.Box(out, s.Signature.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal: box result at %s: %w", s.Site, err)
	}
	return boxed, nil
}

// PropagateThrown normalizes an error crossing the boundary into the
// dynamic language's thrown representation without reordering or
// swallowing: tagged error values pass through untouched, shape mismatches
// become their thrown form, anything else is wrapped as a host error. Both
// recognized forms are matched through error chains, so an allocator that
// wraps its failures still surfaces a ShapeMismatch rather than a host
// error.
func PropagateThrown(err error) error {
	var thrown *runtime.ErrorValue
	if errors.As(err, &thrown) {
		return thrown
	}
	var mismatch *runtime.ShapeMismatchError
	if errors.As(err, &mismatch) {
		return mismatch.AsThrown()
	}
	return &runtime.ErrorValue{TypeName: "HostError", Message: err.Error()}
}
