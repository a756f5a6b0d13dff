// Package profiler observes runtime value shapes at boundary call sites and
// decides when a shape is stable enough to justify speculative compilation.
// Each call site owns a small fixed-capacity inline cache of observed shape
// combinations; a combination that repeats unchallenged for a configurable
// streak becomes a specialization trigger. A site that overflows its cache
// is permanently polymorphic and never specializes again.
//
// Profiling state is scoped to a session: it is created per run, shared
// across threads with per-call-site locking only, and reset between runs.
package profiler

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/runtime"
	"github.com/DevCheckOG/lltsc-idea/pkg/shape"
)

// Config tunes the profiler's policy knobs.
type Config struct {
	// TableCapacity bounds distinct shape combinations per call site.
	TableCapacity int
	// StableStreak is the number of consecutive unchallenged matches a
	// combination needs before it is declared stable.
	StableStreak int
	// DemotionCooldown is the number of observations a demoted site skips
	// the stability trigger for.
	DemotionCooldown int
}

// DefaultConfig returns the standard policy knobs.
func DefaultConfig() Config {
	return Config{TableCapacity: 4, StableStreak: 8, DemotionCooldown: 64}
}

func (c Config) normalized() Config {
	if c.TableCapacity <= 0 {
		c.TableCapacity = 4
	}
	if c.StableStreak <= 0 {
		c.StableStreak = 8
	}
	if c.DemotionCooldown <= 0 {
		c.DemotionCooldown = 64
	}
	return c
}

// Observation is the profiler's verdict for one invocation.
type Observation struct {
	// Shapes are the observed argument shapes, post-widening.
	Shapes []*shape.Shape
	// Return is the combination's observed return shape, post-widening.
	// Nil until the first return value is folded in.
	Return *shape.Shape
	// Key is the canonical signature key of Shapes and Return.
	Key string
	// Stable is set exactly once per (site, key): on the observation whose
	// streak crossed the threshold. It is the specialization trigger.
	Stable bool
	// Polymorphic reports the site has permanently opted out of
	// specialization.
	Polymorphic bool
}

// Stats is a snapshot of session-wide counters.
type Stats struct {
	Observations      int64
	StabilityTriggers int64
	PolymorphicSites  int64
	Demotions         int64
}

// Session owns all profiling state for one run.
type Session struct {
	id  string
	cfg Config

	mu    sync.Mutex
	sites map[ir.CallSiteID]*site

	observations      atomic.Int64
	stabilityTriggers atomic.Int64
	polymorphicSites  atomic.Int64
	demotions         atomic.Int64
}

type site struct {
	mu          sync.Mutex
	entries     []*cacheEntry
	requested   map[string]bool
	polymorphic bool
	cooldown    int
}

type cacheEntry struct {
	shapes []*shape.Shape
	ret    *shape.Shape
	key    string
	streak int
	hits   int64
}

// fullKey is the signature key a specialization of this combination would
// carry.
func (e *cacheEntry) fullKey() string {
	return shape.SignatureKey(e.shapes, e.ret)
}

// NewSession creates a profiling session with its own identity.
func NewSession(cfg Config) *Session {
	return &Session{
		id:    uuid.NewString(),
		cfg:   cfg.normalized(),
		sites: make(map[ir.CallSiteID]*site),
	}
}

// ID returns the session identity stamped into diagnostics and manifests.
func (s *Session) ID() string { return s.id }

// Reset discards all profiling state and starts a fresh session identity.
func (s *Session) Reset() {
	s.mu.Lock()
	s.sites = make(map[ir.CallSiteID]*site)
	s.id = uuid.NewString()
	s.mu.Unlock()
	s.observations.Store(0)
	s.stabilityTriggers.Store(0)
	s.polymorphicSites.Store(0)
	s.demotions.Store(0)
}

// Stats snapshots the session counters. Values may lag concurrent activity.
func (s *Session) Stats() Stats {
	return Stats{
		Observations:      s.observations.Load(),
		StabilityTriggers: s.stabilityTriggers.Load(),
		PolymorphicSites:  s.polymorphicSites.Load(),
		Demotions:         s.demotions.Load(),
	}
}

func (s *Session) site(id ir.CallSiteID) *site {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sites[id]
	if !ok {
		st = &site{requested: make(map[string]bool)}
		s.sites[id] = st
	}
	return st
}

// Observe records one invocation's argument values at a call site and
// returns the profiling verdict. Safe for concurrent use; contention is
// per call site only.
func (s *Session) Observe(siteID ir.CallSiteID, args []runtime.Tagged) Observation {
	s.observations.Add(1)
	return s.observeShapes(siteID, shape.OfArgs(args))
}

func (s *Session) observeShapes(siteID ir.CallSiteID, shapes []*shape.Shape) Observation {
	key := shape.KeyOf(shapes)
	st := s.site(siteID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.polymorphic {
		return Observation{Shapes: shapes, Key: key, Polymorphic: true}
	}
	inCooldown := st.cooldown > 0
	if inCooldown {
		st.cooldown--
	}

	entry := st.match(shapes, key)
	if entry == nil {
		if len(st.entries) >= s.cfg.TableCapacity {
			// PolymorphicOverflow: a policy decision, not an error. The
			// site runs the generic path for the rest of the session.
			st.polymorphic = true
			st.entries = nil
			s.polymorphicSites.Add(1)
			return Observation{Shapes: shapes, Key: key, Polymorphic: true}
		}
		entry = &cacheEntry{shapes: shapes, key: key}
		st.entries = append(st.entries, entry)
	}
	entry.hits++
	entry.streak++
	for _, other := range st.entries {
		if other != entry {
			other.streak = 0
		}
	}

	obs := Observation{Shapes: entry.shapes, Return: entry.ret, Key: entry.fullKey()}
	if !inCooldown &&
		entry.streak >= s.cfg.StableStreak &&
		!st.requested[obs.Key] &&
		!unknownAnywhere(entry.shapes) {
		st.requested[obs.Key] = true
		obs.Stable = true
		s.stabilityTriggers.Add(1)
	}
	return obs
}

// ObserveReturn folds one invocation's return value into the cache entry
// its arguments matched, so the return slot participates in the signature
// key a stability trigger carries. A return shape that contradicts the one
// already recorded widens it, resets the streak, and re-arms the trigger:
// the speculation must be renegotiated under the wider signature. Returns
// the combination's updated verdict shape; never triggers stability itself.
func (s *Session) ObserveReturn(siteID ir.CallSiteID, args []runtime.Tagged, ret runtime.Tagged) Observation {
	shapes := shape.OfArgs(args)
	key := shape.KeyOf(shapes)
	rs := shape.Of(ret)
	st := s.site(siteID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.polymorphic {
		return Observation{Shapes: shapes, Return: rs, Key: shape.SignatureKey(shapes, rs), Polymorphic: true}
	}
	entry := st.match(shapes, key)
	if entry == nil {
		return Observation{Shapes: shapes, Return: rs, Key: shape.SignatureKey(shapes, rs)}
	}
	switch {
	case entry.ret == nil:
		entry.ret = rs
	case entry.ret.Subsumes(rs):
		// Covered; the recorded return shape stands.
	default:
		delete(st.requested, entry.fullKey())
		entry.ret = entry.ret.Widen(rs)
		entry.streak = 0
	}
	return Observation{Shapes: entry.shapes, Return: entry.ret, Key: entry.fullKey()}
}

// match finds the cache entry for an observed combination. An exact key hit
// is a match; a stored combination subsuming the observed one is a match (a
// specialization keyed on the stored shapes still covers the value); an
// observed combination strictly wider than a stored one widens that entry in
// place, resetting its streak and re-arming its trigger.
func (st *site) match(shapes []*shape.Shape, key string) *cacheEntry {
	for _, entry := range st.entries {
		if entry.key == key {
			return entry
		}
	}
	for _, entry := range st.entries {
		if len(entry.shapes) != len(shapes) {
			continue
		}
		if combinationSubsumes(entry.shapes, shapes) {
			return entry
		}
		if combinationSubsumes(shapes, entry.shapes) {
			delete(st.requested, entry.fullKey())
			entry.shapes = widenCombination(entry.shapes, shapes)
			entry.key = shape.KeyOf(entry.shapes)
			entry.streak = 0
			delete(st.requested, entry.fullKey())
			return entry
		}
	}
	return nil
}

// Invalidate re-arms the stability trigger for a signature key at a site,
// allowing re-stabilization after its variant was discarded.
func (s *Session) Invalidate(siteID ir.CallSiteID, key string) {
	st := s.site(siteID)
	st.mu.Lock()
	delete(st.requested, key)
	for _, entry := range st.entries {
		if entry.fullKey() == key {
			entry.streak = 0
		}
	}
	st.mu.Unlock()
}

// Demote puts a site into cooldown after repeated deoptimization: the
// stability trigger is suppressed for the configured number of observations,
// preventing specialize/deopt thrash.
func (s *Session) Demote(siteID ir.CallSiteID) {
	st := s.site(siteID)
	st.mu.Lock()
	st.cooldown = s.cfg.DemotionCooldown
	for key := range st.requested {
		delete(st.requested, key)
	}
	for _, entry := range st.entries {
		entry.streak = 0
	}
	st.mu.Unlock()
	s.demotions.Add(1)
}

// Polymorphic reports whether the site has permanently opted out.
func (s *Session) Polymorphic(siteID ir.CallSiteID) bool {
	st := s.site(siteID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.polymorphic
}

// SiteKeys returns the cached shape combination keys at a site, sorted.
// Diagnostics only.
func (s *Session) SiteKeys(siteID ir.CallSiteID) []string {
	st := s.site(siteID)
	st.mu.Lock()
	defer st.mu.Unlock()
	keys := make([]string, 0, len(st.entries))
	for _, entry := range st.entries {
		keys = append(keys, entry.key)
	}
	sort.Strings(keys)
	return keys
}

func combinationSubsumes(wider, narrower []*shape.Shape) bool {
	if len(wider) != len(narrower) {
		return false
	}
	for i := range wider {
		if !wider[i].Subsumes(narrower[i]) {
			return false
		}
	}
	return true
}

func widenCombination(a, b []*shape.Shape) []*shape.Shape {
	out := make([]*shape.Shape, len(a))
	for i := range a {
		out[i] = a[i].Widen(b[i])
	}
	return out
}

func unknownAnywhere(shapes []*shape.Shape) bool {
	for _, s := range shapes {
		if s.IsUnknown() {
			return true
		}
	}
	return false
}
