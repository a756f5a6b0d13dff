package deopt

import (
	"sync"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
)

// Config tunes the controller's demotion policy.
type Config struct {
	// DemotionThreshold is the number of deoptimizations a unit absorbs
	// before it is demoted and its callers stop requesting specialization
	// for a cooldown period.
	DemotionThreshold int
}

// DefaultConfig returns the standard policy knobs.
func DefaultConfig() Config {
	return Config{DemotionThreshold: 3}
}

// Stats is a snapshot of controller counters.
type Stats struct {
	Deopts    int64
	Demotions int64
}

// Controller governs transitions between specialized and generic execution.
// One controller serves the whole session; per-unit bookkeeping uses its own
// lock so deoptimizing one frame never blocks frames of other units, and
// frames of the same unit only contend on a counter increment.
type Controller struct {
	cfg  Config
	heap runtime.Allocator

	// onDemote is invoked outside any controller lock when a unit crosses
	// the demotion threshold.
	onDemote func(ir.UnitID)

	mu     sync.Mutex
	counts map[ir.UnitID]int

	deopts    int64
	demotions int64
}

// NewController constructs a controller over the given heap service. The
// demote hook may be nil.
func NewController(cfg Config, heap runtime.Allocator, onDemote func(ir.UnitID)) *Controller {
	if cfg.DemotionThreshold <= 0 {
		cfg.DemotionThreshold = 3
	}
	return &Controller{
		cfg:      cfg,
		heap:     heap,
		onDemote: onDemote,
		counts:   make(map[ir.UnitID]int),
	}
}

// Deoptimize drives a faulting frame through Deoptimizing → Rehydrating and
// hands back the generic-representation live values to resume with. The
// specialized frame is dead after this call. Side effects committed before
// the fault are the caller's record; nothing here re-runs them.
func (c *Controller) Deoptimize(frame *Frame, fault *Fault) ([]runtime.Tagged, error) {
	frame.Transition(StateDeoptimizing)
	frame.Transition(StateRehydrating)
	live, err := fault.Rehydrate(c.heap)
	if err != nil {
		return nil, err
	}
	c.recordDeopt(fault.Point.Unit)
	frame.Transition(StateExecutingGeneric)
	return live, nil
}

func (c *Controller) recordDeopt(unit ir.UnitID) {
	c.mu.Lock()
	c.deopts++
	c.counts[unit]++
	crossed := c.counts[unit] == c.cfg.DemotionThreshold
	if crossed {
		c.demotions++
		c.counts[unit] = 0
	}
	c.mu.Unlock()
	if crossed && c.onDemote != nil {
		c.onDemote(unit)
	}
}

// DeoptCount returns the unit's current deopt count toward demotion.
func (c *Controller) DeoptCount(unit ir.UnitID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[unit]
}

// Stats snapshots the controller counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Deopts: c.deopts, Demotions: c.demotions}
}
