package shape

import "github.com/DevCheckOG/lltsc-idea/pkg/runtime"

// Guard is the cheap runtime predicate gating a specialized code path. A
// guard is pure: it reads tags, never payloads' behaviour, and performs no
// allocation or blocking. Soundness invariant: Check(v) returning true
// implies the guard's keyed shape subsumes Of(v).
type Guard struct {
	shapes []*Shape
}

// NewGuard builds a guard over one shape per argument slot. A nil slot shape
// means the slot is unconstrained (treated as Unknown, which still passes
// only because Unknown subsumes everything — but a variant keyed on Unknown
// is never requested in the first place).
func NewGuard(shapes []*Shape) *Guard {
	copied := make([]*Shape, len(shapes))
	for i, s := range shapes {
		if s == nil {
			s = Unknown
		}
		copied[i] = s
	}
	return &Guard{shapes: copied}
}

// Shapes returns the guard's keyed shapes, one per slot.
func (g *Guard) Shapes() []*Shape {
	return append([]*Shape(nil), g.shapes...)
}

// Check evaluates the guard against the call's argument values. Arity
// mismatch always fails.
func (g *Guard) Check(args []runtime.Tagged) bool {
	if len(args) != len(g.shapes) {
		return false
	}
	for i, arg := range args {
		if !g.shapes[i].Subsumes(Of(arg)) {
			return false
		}
	}
	return true
}

// Key returns a canonical key for the guarded shape combination.
func (g *Guard) Key() string {
	return KeyOf(g.shapes)
}

// KeyOf returns a canonical key for a shape combination.
func KeyOf(shapes []*Shape) string {
	out := ""
	for i, s := range shapes {
		if i > 0 {
			out += "|"
		}
		if s == nil {
			out += Unknown.Key()
			continue
		}
		out += s.Key()
	}
	return out
}

// SignatureKey returns a canonical key for a full call signature: the
// argument combination plus the return slot. An unprofiled return slot
// (nil, or widened all the way to unknown) keys on the arguments alone.
func SignatureKey(args []*Shape, ret *Shape) string {
	k := KeyOf(args)
	if ret.IsUnknown() {
		return k
	}
	return k + "->" + ret.Key()
}

// OfArgs computes the shape of every argument slot.
func OfArgs(args []runtime.Tagged) []*Shape {
	out := make([]*Shape, len(args))
	for i, arg := range args {
		out[i] = Of(arg)
	}
	return out
}
