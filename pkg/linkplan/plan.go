// Package linkplan chooses the final linking strategy for a build and
// produces the artifacts the external linker consumes: the LinkPlan
// manifest and the boundary descriptor table. A project with no boundary
// units links pure-static; otherwise the build configuration explicitly
// selects between embedding a dynamic-execution engine and compiling the
// dynamic portion ahead of time against a restricted feature set.
package linkplan

import (
	"fmt"
	"sort"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/marshal"
)

// Mode is the build-wide linking strategy.
type Mode string

const (
	// ModePureStatic emits one native binary with no runtime shape tables
	// and no boundary stubs retained.
	ModePureStatic Mode = "pure-static"
	// ModeEmbeddedEngine embeds a dynamic-execution engine and binds
	// native and dynamic symbols at load time.
	ModeEmbeddedEngine Mode = "embedded-engine"
	// ModeAheadCompiled compiles the dynamic portion ahead of time to a
	// restricted sandboxed target and links it at build time.
	ModeAheadCompiled Mode = "ahead-compiled"
)

// Valid reports whether the mode names a known strategy.
func (m Mode) Valid() bool {
	switch m {
	case ModePureStatic, ModeEmbeddedEngine, ModeAheadCompiled:
		return true
	}
	return false
}

// Config is the explicit link configuration for a build. DynamicMode is the
// strategy used when boundary units exist; it is configuration, never
// inference.
type Config struct {
	DynamicMode  Mode
	TargetTriple string
	// FeatureFlags name dynamic constructs additionally admitted under
	// ahead-compiled linking, beyond the always-allowed base set.
	FeatureFlags []string
}

// UnsupportedDynamicConstructError reports a dynamic construct outside the
// restricted feature set during ahead-compiled planning. Fatal to the
// build; names the construct and the offending unit.
type UnsupportedDynamicConstructError struct {
	Construct ir.DynFeature
	Unit      ir.UnitID
}

func (e *UnsupportedDynamicConstructError) Error() string {
	return fmt.Sprintf("linkplan: unsupported dynamic construct %q in unit %s under ahead-compiled linking", e.Construct, e.Unit)
}

// ModuleEntry is one module's slice of the plan.
type ModuleEntry struct {
	Name  string
	Units []UnitEntry
}

// UnitEntry records one unit's classification in the plan.
type UnitEntry struct {
	ID    ir.UnitID
	Class classifier.Class
}

// Plan is the process-wide linking decision, created once per build.
type Plan struct {
	BuildID      string
	Mode         Mode
	TargetTriple string
	FeatureFlags []string
	Modules      []ModuleEntry
}

// aheadCompiledBase is the always-admitted dynamic subset under
// ahead-compiled linking. Reflection, eval, and post-construction shape
// mutation need per-build feature flags.
var aheadCompiledBase = map[ir.DynFeature]bool{
	ir.FeatDynCall:    true,
	ir.FeatDynLiteral: true,
}

// New computes the plan for a classified build. Deterministic: identical
// inputs yield identical plans and identical failures.
func New(buildID string, cfg Config, g *ir.Graph, res *classifier.Result) (*Plan, error) {
	if g == nil || res == nil {
		return nil, fmt.Errorf("linkplan: nil graph or classification")
	}
	mode := ModePureStatic
	if !res.PureStatic() {
		mode = cfg.DynamicMode
		if !mode.Valid() || mode == ModePureStatic {
			if mode == ModePureStatic {
				return nil, &marshal.LinkageMismatchError{
					Reason: "pure-static link requested but the build contains boundary units",
				}
			}
			return nil, fmt.Errorf("linkplan: invalid dynamic link mode %q", cfg.DynamicMode)
		}
	}

	if mode == ModeAheadCompiled {
		if err := checkRestricted(g, res, cfg.FeatureFlags); err != nil {
			return nil, err
		}
	}

	return &Plan{
		BuildID:      buildID,
		Mode:         mode,
		TargetTriple: cfg.TargetTriple,
		FeatureFlags: append([]string(nil), cfg.FeatureFlags...),
		Modules:      moduleEntries(g, res),
	}, nil
}

// checkRestricted scans boundary units in sorted order and fails on the
// first construct outside the admitted set — no best-effort translation.
func checkRestricted(g *ir.Graph, res *classifier.Result, flags []string) error {
	flagged := make(map[ir.DynFeature]bool, len(flags))
	for _, f := range flags {
		flagged[ir.DynFeature(f)] = true
	}
	for _, id := range res.BoundaryUnits() {
		u := g.Unit(id)
		if u == nil {
			continue
		}
		feats := append([]ir.DynFeature(nil), u.Features...)
		sort.Slice(feats, func(i, j int) bool { return feats[i] < feats[j] })
		for _, feat := range feats {
			if !aheadCompiledBase[feat] && !flagged[feat] {
				return &UnsupportedDynamicConstructError{Construct: feat, Unit: id}
			}
		}
	}
	return nil
}

func moduleEntries(g *ir.Graph, res *classifier.Result) []ModuleEntry {
	byModule := make(map[string][]UnitEntry)
	for _, u := range g.Units() {
		byModule[u.Module] = append(byModule[u.Module], UnitEntry{ID: u.ID, Class: res.Class(u.ID)})
	}
	names := make([]string, 0, len(byModule))
	for name := range byModule {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]ModuleEntry, 0, len(names))
	for _, name := range names {
		units := byModule[name]
		sort.Slice(units, func(i, j int) bool { return units[i].ID < units[j].ID })
		out = append(out, ModuleEntry{Name: name, Units: units})
	}
	return out
}
