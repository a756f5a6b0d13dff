// Package engine drives boundary call sites at runtime: each invocation is
// profiled, dispatched against the site's speculative variants in
// most-recently-successful order, and routed through the deoptimization
// controller when a guard fails. The generic implementation is always the
// fallback and always the semantic ground truth — any dispatch path must be
// observationally identical to calling it directly.
package engine

import (
	"errors"
	"fmt"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/deopt"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/linkplan"
	"github.com/DevCheckOG/lltsc-idea/pkg/profiler"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
	"github.com/DevCheckOG/lltsc-idea/pkg/specgen"
)

// Options configures an engine.
type Options struct {
	Profiler profiler.Config
	Deopt    deopt.Config
}

// Engine owns the runtime side of one session.
type Engine struct {
	graph   *ir.Graph
	classes *classifier.Result
	session *profiler.Session
	gen     *specgen.Generator
	ctrl    *deopt.Controller
	heap    runtime.Allocator

	siteCallee map[ir.CallSiteID]ir.UnitID
	unitSites  map[ir.UnitID][]ir.CallSiteID
}

// New wires an engine over a classified graph, a code-emission backend, and
// the managed heap.
func New(g *ir.Graph, classes *classifier.Result, backend specgen.Backend, heap runtime.Allocator, opts Options) (*Engine, error) {
	if g == nil || classes == nil {
		return nil, fmt.Errorf("engine: nil graph or classification")
	}
	e := &Engine{
		graph:      g,
		classes:    classes,
		session:    profiler.NewSession(opts.Profiler),
		gen:        specgen.New(backend, specgen.WithMaxVariants(opts.Profiler.TableCapacity)),
		heap:       heap,
		siteCallee: make(map[ir.CallSiteID]ir.UnitID),
		unitSites:  make(map[ir.UnitID][]ir.CallSiteID),
	}
	for _, cs := range g.CallSites() {
		if classes.Class(cs.Callee) == classifier.ClassAOT {
			continue
		}
		e.siteCallee[cs.ID] = cs.Callee
		e.unitSites[cs.Callee] = append(e.unitSites[cs.Callee], cs.ID)
	}
	// Repeated deoptimization of a unit puts every site calling it into
	// cooldown.
	e.ctrl = deopt.NewController(opts.Deopt, heap, func(unit ir.UnitID) {
		for _, site := range e.unitSites[unit] {
			e.session.Demote(site)
		}
	})
	return e, nil
}

// Session exposes the profiling session (diagnostics, reset between runs).
func (e *Engine) Session() *profiler.Session { return e.session }

// Controller exposes the deopt controller's counters.
func (e *Engine) Controller() *deopt.Controller { return e.ctrl }

// Generator exposes the speculative code generator.
func (e *Engine) Generator() *specgen.Generator { return e.gen }

// Invoke executes one call through a boundary call site. Dispatch tries the
// site's variants most-recently-successful first; a total guard miss or an
// interior guard fault deoptimizes to the generic implementation. Values
// returned by the generic path are profiled too, so stability triggers
// carry a return shape alongside the argument shapes. Thrown dynamic
// values propagate unchanged.
func (e *Engine) Invoke(siteID ir.CallSiteID, args []runtime.Tagged) (runtime.Tagged, error) {
	calleeID, ok := e.siteCallee[siteID]
	if !ok {
		return nil, fmt.Errorf("engine: %s is not a boundary call site", siteID)
	}
	unit := e.graph.Unit(calleeID)
	uc, err := e.gen.Prepare(unit)
	if err != nil {
		return nil, err
	}

	obs := e.session.Observe(siteID, args)
	if obs.Stable {
		// Stability trigger: request a variant. Hitting the per-unit
		// variant bound is a policy outcome, not a failure.
		if _, err := e.gen.Specialize(unit, obs.Shapes, obs.Return); err != nil {
			e.session.Invalidate(siteID, obs.Key)
		}
	}

	frame := &deopt.Frame{}
	if !obs.Polymorphic {
		variants := uc.Variants()
		for _, v := range variants {
			if !v.Guard.Check(args) {
				continue
			}
			frame.Transition(deopt.StateExecutingSpecialized)
			uc.MarkHit(v)
			out, err := v.Entry.Invoke(args)
			var fault *deopt.Fault
			if errors.As(err, &fault) {
				return e.resumeGeneric(frame, uc, fault)
			}
			frame.Transition(deopt.StateReturned)
			return out, err
		}
		if len(variants) > 0 {
			// GuardMiss: every variant's entry guard rejected the call.
			// Internal, recoverable, resolved by running generic.
			return e.missToGeneric(frame, uc, siteID, calleeID, args)
		}
	}

	frame.Transition(deopt.StateExecutingGeneric)
	out, err := uc.Generic.Invoke(args)
	frame.Transition(deopt.StateReturned)
	if err == nil {
		e.session.ObserveReturn(siteID, args, out)
	}
	return out, err
}

// missToGeneric routes an entry-guard miss through the deopt path. Nothing
// specialized ran, so the live state is exactly the original arguments.
func (e *Engine) missToGeneric(frame *deopt.Frame, uc *specgen.UnitCode, site ir.CallSiteID, unit ir.UnitID, args []runtime.Tagged) (runtime.Tagged, error) {
	live, err := e.ctrl.Deoptimize(frame, &deopt.Fault{
		Point: &deopt.Point{Unit: unit, Location: "entry", Slots: taggedSlots(len(args))},
		Live:  anySlice(args),
	})
	if err != nil {
		return nil, err
	}
	out, err := uc.Generic.Invoke(live)
	frame.Transition(deopt.StateReturned)
	if err == nil {
		e.session.ObserveReturn(site, args, out)
	}
	return out, err
}

// resumeGeneric rehydrates a mid-execution fault and resumes generic code
// at the fault's logical program point. Side effects committed before the
// fault stay committed; the generic resume continues after them.
func (e *Engine) resumeGeneric(frame *deopt.Frame, uc *specgen.UnitCode, fault *deopt.Fault) (runtime.Tagged, error) {
	live, err := e.ctrl.Deoptimize(frame, fault)
	if err != nil {
		return nil, err
	}
	if uc.Generic.Resume == nil {
		return nil, fmt.Errorf("engine: unit %s has no generic resume entry", fault.Point.Unit)
	}
	out, err := uc.Generic.Resume(fault.Point.Location, live)
	frame.Transition(deopt.StateReturned)
	return out, err
}

// DescriptorTable snapshots the boundary descriptor table for the session:
// one record per boundary call site with the site's current variant entries
// and generic entry, in deterministic site order.
func (e *Engine) DescriptorTable() *linkplan.DescriptorTable {
	table := &linkplan.DescriptorTable{}
	var offset uint32
	for _, cs := range e.graph.CallSites() {
		calleeID, ok := e.siteCallee[cs.ID]
		if !ok {
			continue
		}
		rec := linkplan.DescriptorRecord{
			CallSite:         cs.ID,
			Unit:             calleeID,
			DeoptTableOffset: offset,
		}
		if uc := e.gen.Unit(calleeID); uc != nil {
			rec.GenericEntry = uc.Generic.Address
			for _, v := range uc.Variants() {
				rec.VariantEntries = append(rec.VariantEntries, v.Entry.Address)
			}
		}
		table.Records = append(table.Records, rec)
		offset += uint32(8 + 8*len(rec.VariantEntries))
	}
	return table
}

func taggedSlots(n int) []deopt.Slot {
	slots := make([]deopt.Slot, n)
	for i := range slots {
		slots[i] = deopt.Slot{Name: fmt.Sprintf("arg%d", i), Declared: ir.Unknown}
	}
	return slots
}

func anySlice(args []runtime.Tagged) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
	}
	return out
}
