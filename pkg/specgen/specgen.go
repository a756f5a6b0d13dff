// Package specgen emits guarded, shape-specialized code variants for
// boundary compilation units. Actual instruction emission belongs to an
// external backend reached through the Backend interface; this package owns
// variant lifetime, guard construction, atomic publication, and the
// most-recently-successful dispatch order. Every unit keeps exactly one
// generic implementation — the semantic ground truth — which is never
// itself specialized.
package specgen

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/DevCheckOG/lltsc-idea/pkg/deopt"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
	"github.com/DevCheckOG/lltsc-idea/pkg/shape"
)

// Entry is a piece of emitted native code. Address feeds manifests and the
// boundary descriptor table; Invoke is the executable hook test backends
// attach so engine semantics stay checkable without a real code emitter.
type Entry struct {
	Address uint64
	Invoke  func(args []runtime.Tagged) (runtime.Tagged, error)
	// Resume re-enters generic code at a logical program point with
	// rehydrated live values. Set on generic entries only.
	Resume func(location string, live []runtime.Tagged) (runtime.Tagged, error)
}

// Specialization is the shape assumption a backend compiles under. A nil
// Specialization requests the generic implementation. Return is the
// observed return shape the variant may compile against; nil leaves the
// return slot unspeculated.
type Specialization struct {
	Shapes []*shape.Shape
	Return *shape.Shape
}

// Backend is the external code-emission service.
type Backend interface {
	Emit(unit *ir.Unit, spec *Specialization) (Entry, error)
}

// Variant is specialized native code for one unit keyed by one shape per
// argument slot plus the return slot. Immutable once published.
type Variant struct {
	Unit       ir.UnitID
	Key        string
	Shapes     []*shape.Shape
	Return     *shape.Shape
	Guard      *shape.Guard
	Entry      Entry
	DeoptPoint *deopt.Point
}

// UnitCode aggregates a unit's generic implementation and its live
// speculative variants. Readers dispatch against an atomically published
// snapshot; writers serialize on the unit's mutex. A reader can observe a
// slightly stale variant list but never a half-constructed variant.
type UnitCode struct {
	Unit    ir.UnitID
	Generic Entry

	mu       sync.Mutex
	variants atomic.Pointer[[]*Variant]
}

// Variants returns the current dispatch-ordered snapshot.
func (uc *UnitCode) Variants() []*Variant {
	p := uc.variants.Load()
	if p == nil {
		return nil
	}
	return *p
}

// MarkHit moves the variant whose guard just passed to the front of the
// dispatch order.
func (uc *UnitCode) MarkHit(v *Variant) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	cur := uc.Variants()
	if len(cur) < 2 || cur[0] == v {
		return
	}
	next := make([]*Variant, 0, len(cur))
	next = append(next, v)
	for _, other := range cur {
		if other != v {
			next = append(next, other)
		}
	}
	uc.variants.Store(&next)
}

// Generator owns speculative code for all boundary units of a session.
type Generator struct {
	backend Backend
	// maxVariants bounds live variants per unit; shares the profiler's
	// overflow limit.
	maxVariants int

	mu    sync.Mutex
	units map[ir.UnitID]*UnitCode

	emitted atomic.Int64
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxVariants bounds coexisting variants per unit.
func WithMaxVariants(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxVariants = n
		}
	}
}

// New constructs a generator over the given backend.
func New(backend Backend, opts ...Option) *Generator {
	g := &Generator{
		backend:     backend,
		maxVariants: 4,
		units:       make(map[ir.UnitID]*UnitCode),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prepare emits the generic implementation for a unit. Idempotent; every
// boundary unit must be prepared before any specialization request.
func (g *Generator) Prepare(unit *ir.Unit) (*UnitCode, error) {
	if unit == nil {
		return nil, fmt.Errorf("specgen: nil unit")
	}
	g.mu.Lock()
	if uc, ok := g.units[unit.ID]; ok {
		g.mu.Unlock()
		return uc, nil
	}
	g.mu.Unlock()

	entry, err := g.backend.Emit(unit, nil)
	if err != nil {
		return nil, fmt.Errorf("specgen: emit generic %s: %w", unit.ID, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if uc, ok := g.units[unit.ID]; ok {
		return uc, nil
	}
	uc := &UnitCode{Unit: unit.ID, Generic: entry}
	g.units[unit.ID] = uc
	g.emitted.Add(1)
	return uc, nil
}

// Unit returns the prepared code for a unit, or nil.
func (g *Generator) Unit(id ir.UnitID) *UnitCode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.units[id]
}

// Specialize emits a variant for the given stable shape combination and
// publishes it atomically. The key covers every argument slot and the
// return slot; a nil or unknown ret leaves the return slot unspeculated. A
// combination already covered by a live variant is answered from the cache;
// a unit at its variant bound refuses further specialization and keeps
// running the paths it has.
func (g *Generator) Specialize(unit *ir.Unit, shapes []*shape.Shape, ret *shape.Shape) (*Variant, error) {
	if unit == nil {
		return nil, fmt.Errorf("specgen: nil unit")
	}
	for _, s := range shapes {
		if s.IsUnknown() {
			return nil, fmt.Errorf("specgen: refusing to specialize %s on unknown shape", unit.ID)
		}
	}
	if ret.IsUnknown() {
		ret = nil
	}
	uc, err := g.Prepare(unit)
	if err != nil {
		return nil, err
	}

	key := shape.SignatureKey(shapes, ret)
	uc.mu.Lock()
	for _, v := range uc.Variants() {
		if v.Key == key {
			uc.mu.Unlock()
			return v, nil
		}
	}
	if len(uc.Variants()) >= g.maxVariants {
		uc.mu.Unlock()
		return nil, fmt.Errorf("specgen: %s at variant bound %d", unit.ID, g.maxVariants)
	}
	uc.mu.Unlock()

	// Emit outside the unit lock: compilation may be slow and other frames
	// keep dispatching against the old snapshot meanwhile.
	entry, err := g.backend.Emit(unit, &Specialization{Shapes: shapes, Return: ret})
	if err != nil {
		return nil, fmt.Errorf("specgen: emit %s %s: %w", unit.ID, key, err)
	}

	variant := &Variant{
		Unit:   unit.ID,
		Key:    key,
		Shapes: append([]*shape.Shape(nil), shapes...),
		Return: ret,
		Guard:  shape.NewGuard(shapes),
		Entry:  entry,
		DeoptPoint: &deopt.Point{
			Unit:     unit.ID,
			Location: "entry",
			Slots:    entrySlots(unit),
		},
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	cur := uc.Variants()
	for _, v := range cur {
		if v.Key == key {
			return v, nil // lost the emit race; the published variant wins
		}
	}
	if len(cur) >= g.maxVariants {
		return nil, fmt.Errorf("specgen: %s at variant bound %d", unit.ID, g.maxVariants)
	}
	next := make([]*Variant, 0, len(cur)+1)
	next = append(next, cur...)
	next = append(next, variant)
	uc.variants.Store(&next)
	g.emitted.Add(1)
	return variant, nil
}

// Invalidate discards the variant keyed by the given shape combination,
// typically because the profiler widened the underlying shape. In-flight
// frames already dispatched into the variant finish on it; new dispatches
// no longer see it.
func (g *Generator) Invalidate(id ir.UnitID, key string) bool {
	uc := g.Unit(id)
	if uc == nil {
		return false
	}
	uc.mu.Lock()
	defer uc.mu.Unlock()
	cur := uc.Variants()
	next := make([]*Variant, 0, len(cur))
	removed := false
	for _, v := range cur {
		if v.Key == key {
			removed = true
			continue
		}
		next = append(next, v)
	}
	if removed {
		uc.variants.Store(&next)
	}
	return removed
}

// Emitted returns the total number of entries emitted this session.
func (g *Generator) Emitted() int64 { return g.emitted.Load() }

func entrySlots(unit *ir.Unit) []deopt.Slot {
	slots := make([]deopt.Slot, len(unit.Signature.Params))
	for i, p := range unit.Signature.Params {
		slots[i] = deopt.Slot{Name: fmt.Sprintf("arg%d", i), Declared: p}
	}
	return slots
}
