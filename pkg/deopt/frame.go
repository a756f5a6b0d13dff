package deopt

import "fmt"

// FrameState enumerates the per-frame speculation state machine.
//
//	Speculating → ExecutingSpecialized   (guard passed)
//	Speculating → Deoptimizing           (guard failed)
//	ExecutingSpecialized → Returned
//	ExecutingSpecialized → Deoptimizing  (interior guard fault)
//	Deoptimizing → Rehydrating → ExecutingGeneric → Returned
type FrameState int

const (
	StateSpeculating FrameState = iota
	StateExecutingSpecialized
	StateDeoptimizing
	StateRehydrating
	StateExecutingGeneric
	StateReturned
)

func (s FrameState) String() string {
	switch s {
	case StateSpeculating:
		return "speculating"
	case StateExecutingSpecialized:
		return "executing-specialized"
	case StateDeoptimizing:
		return "deoptimizing"
	case StateRehydrating:
		return "rehydrating"
	case StateExecutingGeneric:
		return "executing-generic"
	case StateReturned:
		return "returned"
	default:
		return fmt.Sprintf("frame_state_%d", int(s))
	}
}

var legalTransitions = map[FrameState][]FrameState{
	StateSpeculating:          {StateExecutingSpecialized, StateDeoptimizing, StateExecutingGeneric},
	StateExecutingSpecialized: {StateReturned, StateDeoptimizing},
	StateDeoptimizing:         {StateRehydrating},
	StateRehydrating:          {StateExecutingGeneric},
	StateExecutingGeneric:     {StateReturned},
}

// Frame tracks one in-flight call's speculation state. Frames are owned by
// a single goroutine; the zero value starts in Speculating.
type Frame struct {
	state FrameState
}

// State returns the current state.
func (f *Frame) State() FrameState { return f.state }

// Transition moves the frame to the next state, enforcing the legal edge
// set. An illegal transition is a controller bug and panics.
func (f *Frame) Transition(next FrameState) {
	for _, legal := range legalTransitions[f.state] {
		if legal == next {
			f.state = next
			return
		}
	}
	panic(fmt.Sprintf("deopt: illegal frame transition %s -> %s", f.state, next))
}

// Terminal reports whether the frame finished.
func (f *Frame) Terminal() bool { return f.state == StateReturned }
