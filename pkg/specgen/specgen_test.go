package specgen

import (
	"fmt"
	"sync"
	"testing"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
	"github.com/DevCheckOG/lltsc-idea/pkg/shape"
)

func testUnit(id ir.UnitID) *ir.Unit {
	return &ir.Unit{
		ID: id,
		Signature: ir.Signature{
			Params: []*ir.StaticType{ir.Unknown, ir.Unknown},
			Result: ir.Unknown,
		},
	}
}

func numShapes() []*shape.Shape {
	return []*shape.Shape{
		shape.Primitive(runtime.KindNumber),
		shape.Primitive(runtime.KindNumber),
	}
}

func strShapes() []*shape.Shape {
	return []*shape.Shape{
		shape.Primitive(runtime.KindString),
		shape.Primitive(runtime.KindString),
	}
}

func TestPrepareIsIdempotent(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	a, err := gen.Prepare(unit)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	b, err := gen.Prepare(unit)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if a != b {
		t.Fatalf("prepare must reuse the emitted generic")
	}
	if gen.Emitted() != 1 {
		t.Fatalf("emitted = %d, want 1", gen.Emitted())
	}
}

func TestSpecializePublishesGuardedVariant(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	v, err := gen.Specialize(unit, numShapes(), nil)
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if v.Guard == nil || v.DeoptPoint == nil {
		t.Fatalf("variant published without guard or deopt point")
	}
	if v.DeoptPoint.Unit != "add" || len(v.DeoptPoint.Slots) != 2 {
		t.Fatalf("bad deopt point: %+v", v.DeoptPoint)
	}
	args := []runtime.Tagged{runtime.NumberValue{Val: 1}, runtime.NumberValue{Val: 2}}
	if !v.Guard.Check(args) {
		t.Fatalf("variant guard rejects its keyed shapes")
	}
	got := gen.Unit("add").Variants()
	if len(got) != 1 || got[0] != v {
		t.Fatalf("variant not visible in snapshot")
	}
}

func TestSpecializeSameKeyReturnsCachedVariant(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	a, _ := gen.Specialize(unit, numShapes(), nil)
	b, err := gen.Specialize(unit, numShapes(), nil)
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if a != b {
		t.Fatalf("same shape combination must reuse the live variant")
	}
}

func TestSpecializeKeysReturnSlot(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	num := shape.Primitive(runtime.KindNumber)
	str := shape.Primitive(runtime.KindString)

	a, err := gen.Specialize(unit, numShapes(), num)
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if a.Key != "number|number->number" {
		t.Fatalf("key = %q", a.Key)
	}
	if !a.Return.Equal(num) {
		t.Fatalf("return shape = %v", a.Return)
	}

	// Same arguments, different return slot: a distinct variant.
	b, err := gen.Specialize(unit, numShapes(), str)
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if a == b || a.Key == b.Key {
		t.Fatalf("return slot did not key the variant: %q vs %q", a.Key, b.Key)
	}

	// An unknown return slot collapses to the argument-only key.
	c, err := gen.Specialize(unit, numShapes(), shape.Unknown)
	if err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if c.Key != "number|number" || c.Return != nil {
		t.Fatalf("unknown return keyed as %q (return %v)", c.Key, c.Return)
	}
}

func TestSpecializeRefusesUnknownShape(t *testing.T) {
	gen := New(NewAddressBackend(0))
	_, err := gen.Specialize(testUnit("add"), []*shape.Shape{shape.Unknown, shape.Unknown}, nil)
	if err == nil {
		t.Fatalf("unknown shape must not specialize")
	}
}

func TestVariantBound(t *testing.T) {
	gen := New(NewAddressBackend(0), WithMaxVariants(1))
	unit := testUnit("add")
	if _, err := gen.Specialize(unit, numShapes(), nil); err != nil {
		t.Fatalf("specialize: %v", err)
	}
	if _, err := gen.Specialize(unit, strShapes(), nil); err == nil {
		t.Fatalf("expected variant bound to refuse a second variant")
	}
}

func TestMarkHitReordersDispatch(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	first, _ := gen.Specialize(unit, numShapes(), nil)
	second, _ := gen.Specialize(unit, strShapes(), nil)
	uc := gen.Unit("add")
	if got := uc.Variants(); got[0] != first {
		t.Fatalf("initial order unexpected")
	}
	uc.MarkHit(second)
	if got := uc.Variants(); got[0] != second || got[1] != first {
		t.Fatalf("MarkHit did not front the successful variant")
	}
}

func TestInvalidateRemovesVariant(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	v, _ := gen.Specialize(unit, numShapes(), nil)
	if !gen.Invalidate("add", v.Key) {
		t.Fatalf("invalidate reported no removal")
	}
	if len(gen.Unit("add").Variants()) != 0 {
		t.Fatalf("variant survived invalidation")
	}
	// The slot is free again.
	if _, err := gen.Specialize(unit, numShapes(), nil); err != nil {
		t.Fatalf("re-specialize after invalidation: %v", err)
	}
}

func TestConcurrentSpecializeRace(t *testing.T) {
	gen := New(NewAddressBackend(0))
	unit := testUnit("add")
	var wg sync.WaitGroup
	variants := make([]*Variant, 8)
	for i := range variants {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := gen.Specialize(unit, numShapes(), nil)
			if err != nil {
				panic(fmt.Sprintf("specialize: %v", err))
			}
			variants[i] = v
		}(i)
	}
	wg.Wait()
	published := gen.Unit("add").Variants()
	if len(published) != 1 {
		t.Fatalf("race published %d variants, want 1", len(published))
	}
	for i, v := range variants {
		if v != published[0] {
			t.Fatalf("goroutine %d saw a non-published variant", i)
		}
	}
}
