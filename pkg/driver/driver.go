package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/linkplan"
	"github.com/DevCheckOG/lltsc-idea/pkg/marshal"
	"github.com/DevCheckOG/lltsc-idea/pkg/specgen"
)

// BuildResult aggregates the artifacts of one build.
type BuildResult struct {
	BuildID string
	Classes *classifier.Result
	Stubs   []*marshal.Stub
	Plan    *linkplan.Plan
	Table   *linkplan.DescriptorTable
}

// Build runs the compilation core over a typed IR graph: classification,
// boundary stub generation, link planning, and the boundary descriptor
// table. Build-time failures (UnsupportedDynamicConstruct, LinkageMismatch)
// abort deterministically; cancellation between phases discards partial
// state.
func Build(ctx context.Context, cfg BuildConfig, g *ir.Graph) (*BuildResult, error) {
	if g == nil {
		return nil, fmt.Errorf("driver: nil graph")
	}
	buildID := uuid.NewString()

	classes, err := classifier.New(classifier.WithWorkers(cfg.Workers)).Classify(ctx, g)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("driver: build cancelled: %w", err)
	}

	stubs, err := marshal.Generate(g, classes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("driver: build cancelled: %w", err)
	}

	plan, err := linkplan.New(buildID, linkplan.Config{
		DynamicMode:  cfg.DynamicMode,
		TargetTriple: cfg.TargetTriple,
		FeatureFlags: cfg.FeatureFlags,
	}, g, classes)
	if err != nil {
		return nil, err
	}

	table, err := buildDescriptorTable(g, classes)
	if err != nil {
		return nil, err
	}
	if plan.Mode == linkplan.ModePureStatic && !table.Empty() {
		// No boundary call sites can exist in a pure-static build.
		return nil, &marshal.LinkageMismatchError{Reason: "pure-static plan with boundary descriptor records"}
	}

	return &BuildResult{
		BuildID: buildID,
		Classes: classes,
		Stubs:   stubs,
		Plan:    plan,
		Table:   table,
	}, nil
}

// buildDescriptorTable seeds one record per boundary call site with the
// generic entry address from a placeholder backend. Variant entries are
// populated at runtime; at build time every site starts generic-only.
func buildDescriptorTable(g *ir.Graph, classes *classifier.Result) (*linkplan.DescriptorTable, error) {
	backend := specgen.NewAddressBackend(0x1000)
	gen := specgen.New(backend)
	table := &linkplan.DescriptorTable{}
	var offset uint32
	for _, cs := range g.CallSites() {
		if classes.Class(cs.Callee) == classifier.ClassAOT {
			continue
		}
		uc, err := gen.Prepare(g.Unit(cs.Callee))
		if err != nil {
			return nil, err
		}
		table.Records = append(table.Records, linkplan.DescriptorRecord{
			CallSite:         cs.ID,
			Unit:             cs.Callee,
			GenericEntry:     uc.Generic.Address,
			DeoptTableOffset: offset,
		})
		offset += 8
	}
	return table, nil
}

// Write persists the build artifacts: the LinkPlan manifest and, for builds
// with boundary units, the boundary descriptor table.
func (r *BuildResult) Write(dir string) error {
	if r == nil {
		return fmt.Errorf("driver: nil build result")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("driver: resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("driver: create %s: %w", abs, err)
	}
	if err := r.Plan.WriteManifest(filepath.Join(abs, "linkplan.yml")); err != nil {
		return err
	}
	if r.Plan.Mode == linkplan.ModePureStatic {
		return nil
	}
	data, err := r.Table.Encode()
	if err != nil {
		return fmt.Errorf("driver: encode descriptor table: %w", err)
	}
	if err := os.WriteFile(filepath.Join(abs, "boundary.ldbt"), data, 0o644); err != nil {
		return fmt.Errorf("driver: write descriptor table: %w", err)
	}
	return nil
}
