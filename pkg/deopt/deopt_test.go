package deopt

import (
	"testing"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
)

func TestFrameHappyPaths(t *testing.T) {
	specialized := &Frame{}
	specialized.Transition(StateExecutingSpecialized)
	specialized.Transition(StateReturned)
	if !specialized.Terminal() {
		t.Fatalf("specialized frame not terminal after return")
	}

	deoptimized := &Frame{}
	deoptimized.Transition(StateExecutingSpecialized)
	deoptimized.Transition(StateDeoptimizing)
	deoptimized.Transition(StateRehydrating)
	deoptimized.Transition(StateExecutingGeneric)
	deoptimized.Transition(StateReturned)
	if !deoptimized.Terminal() {
		t.Fatalf("deoptimized frame not terminal after return")
	}
}

func TestFrameIllegalTransitionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on illegal transition")
		}
	}()
	f := &Frame{}
	f.Transition(StateExecutingSpecialized)
	f.Transition(StateRehydrating) // must pass through Deoptimizing first
}

func TestFrameNoResurrection(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic leaving Returned")
		}
	}()
	f := &Frame{}
	f.Transition(StateExecutingGeneric)
	f.Transition(StateReturned)
	f.Transition(StateSpeculating)
}

func numberType() *ir.StaticType {
	return &ir.StaticType{Kind: ir.TypeNumber}
}

func TestRehydrateBoxesLiveValues(t *testing.T) {
	heap := runtime.NewHeap()
	fault := &Fault{
		Point: &Point{
			Unit:     "sum",
			Location: "loop_head",
			Slots: []Slot{
				{Name: "acc", Declared: numberType()},
				{Name: "i", Declared: numberType()},
			},
		},
		Live:      []any{float64(41), float64(7)},
		Committed: 3,
	}
	live, err := fault.Rehydrate(heap)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("rehydrated %d values, want 2", len(live))
	}
	acc, ok := live[0].(runtime.NumberValue)
	if !ok || acc.Val != 41 {
		t.Fatalf("acc rehydrated as %v", live[0])
	}
}

func TestRehydrateSlotCountMismatch(t *testing.T) {
	heap := runtime.NewHeap()
	fault := &Fault{
		Point: &Point{Unit: "sum", Location: "entry", Slots: []Slot{{Name: "x", Declared: numberType()}}},
		Live:  []any{float64(1), float64(2)},
	}
	if _, err := fault.Rehydrate(heap); err == nil {
		t.Fatalf("expected slot count mismatch")
	}
}

func TestDemotionThreshold(t *testing.T) {
	heap := runtime.NewHeap()
	var demoted []ir.UnitID
	ctrl := NewController(Config{DemotionThreshold: 3}, heap, func(id ir.UnitID) {
		demoted = append(demoted, id)
	})

	fault := &Fault{
		Point: &Point{Unit: "add", Location: "entry", Slots: []Slot{{Name: "arg0", Declared: numberType()}}},
		Live:  []any{float64(1)},
	}
	for i := 0; i < 3; i++ {
		frame := &Frame{}
		if _, err := ctrl.Deoptimize(frame, fault); err != nil {
			t.Fatalf("deopt %d: %v", i, err)
		}
		if frame.State() != StateExecutingGeneric {
			t.Fatalf("deopt %d left frame in %s", i, frame.State())
		}
	}

	if len(demoted) != 1 || demoted[0] != "add" {
		t.Fatalf("demotions = %v, want [add]", demoted)
	}
	if got := ctrl.DeoptCount("add"); got != 0 {
		t.Fatalf("count after demotion = %d, want reset to 0", got)
	}
	stats := ctrl.Stats()
	if stats.Deopts != 3 || stats.Demotions != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestDemotionCountsPerUnit(t *testing.T) {
	heap := runtime.NewHeap()
	var demoted []ir.UnitID
	ctrl := NewController(Config{DemotionThreshold: 2}, heap, func(id ir.UnitID) {
		demoted = append(demoted, id)
	})
	faultFor := func(unit ir.UnitID) *Fault {
		return &Fault{
			Point: &Point{Unit: unit, Location: "entry", Slots: nil},
			Live:  nil,
		}
	}
	units := []ir.UnitID{"a", "b", "a"}
	for _, u := range units {
		frame := &Frame{}
		if _, err := ctrl.Deoptimize(frame, faultFor(u)); err != nil {
			t.Fatalf("deopt %s: %v", u, err)
		}
	}
	if len(demoted) != 1 || demoted[0] != "a" {
		t.Fatalf("demotions = %v, want only a", demoted)
	}
	if got := ctrl.DeoptCount("b"); got != 1 {
		t.Fatalf("b count = %d, want 1", got)
	}
}
