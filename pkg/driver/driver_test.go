package driver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/linkplan"
)

const testGraphYAML = `units:
  - id: main
    module: app
    result: nil
    calls:
      - id: "main#0"
        callee: render
      - id: "main#1"
        callee: area
  - id: area
    module: app
    params: [number, number]
    result: number
  - id: render
    module: ui
    params: [unknown]
    result: unknown
    features: [dyn_call, dyn_literal]
`

const testConfigYAML = `target_triple: aarch64-apple-darwin
link:
  dynamic_mode: embedded-engine
workers: 2
profiler:
  stable_streak: 6
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadBuildConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "build.yml", testConfigYAML)
	cfg, err := LoadBuildConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TargetTriple != "aarch64-apple-darwin" {
		t.Fatalf("triple = %q", cfg.TargetTriple)
	}
	if cfg.DynamicMode != linkplan.ModeEmbeddedEngine || cfg.Workers != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Profiler.StableStreak != 6 {
		t.Fatalf("stable streak = %d", cfg.Profiler.StableStreak)
	}
	// Unset knobs keep their defaults.
	if cfg.Profiler.TableCapacity != DefaultBuildConfig().Profiler.TableCapacity {
		t.Fatalf("table capacity = %d", cfg.Profiler.TableCapacity)
	}
}

func TestLoadBuildConfigRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "build.yml", "target_tripel: oops\n")
	if _, err := LoadBuildConfig(path); err == nil {
		t.Fatalf("typo accepted")
	}
}

func TestLoadGraph(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "graph.yml", testGraphYAML)
	g, err := LoadGraph(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if g.Len() != 3 {
		t.Fatalf("units = %d", g.Len())
	}
	area := g.Unit("area")
	if !area.Signature.Resolved() {
		t.Fatalf("area signature unresolved")
	}
	render := g.Unit("render")
	if !render.UsesDynamicFeatures() {
		t.Fatalf("render features dropped")
	}
}

func TestParseType(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"number", "number"},
		{"[string]", "[string]"},
		{"{y:number,x:string}", "{x:string,y:number}"},
		{"{p:{q:[bool]}}", "{p:{q:[bool]}}"},
		{"unknown", "unknown"},
	}
	for _, tc := range cases {
		got, err := ParseType(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("%q parsed as %q, want %q", tc.in, got.String(), tc.want)
		}
	}

	fn, err := ParseType("fn(2)")
	if err != nil {
		t.Fatalf("fn(2): %v", err)
	}
	if fn.Kind != ir.TypeCallable || len(fn.Params) != 2 {
		t.Fatalf("fn(2) parsed as %+v", fn)
	}

	for _, bad := range []string{"", "nmber", "[number", "{x}", "fn(x)", "number]"} {
		if _, err := ParseType(bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestBuildEndToEnd(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGraph(writeFile(t, dir, "graph.yml", testGraphYAML))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	cfg := DefaultBuildConfig()
	result, err := Build(context.Background(), cfg, g)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result.BuildID == "" {
		t.Fatalf("missing build id")
	}
	if result.Plan.Mode != linkplan.ModeEmbeddedEngine {
		t.Fatalf("mode = %s", result.Plan.Mode)
	}
	if got := result.Classes.Class("render"); got != classifier.ClassBoundary {
		t.Fatalf("render classified %s", got)
	}
	// One crossing edge (main -> render), one stub, one descriptor record.
	if len(result.Stubs) != 1 || result.Stubs[0].Site != "main#0" {
		t.Fatalf("stubs = %+v", result.Stubs)
	}
	if len(result.Table.Records) != 1 || result.Table.Records[0].Unit != "render" {
		t.Fatalf("table = %+v", result.Table)
	}

	out := filepath.Join(dir, "out")
	if err := result.Write(out); err != nil {
		t.Fatalf("write: %v", err)
	}
	plan, err := linkplan.LoadManifest(filepath.Join(out, "linkplan.yml"))
	if err != nil {
		t.Fatalf("reload manifest: %v", err)
	}
	if plan.BuildID != result.BuildID {
		t.Fatalf("manifest build id drifted")
	}
	data, err := os.ReadFile(filepath.Join(out, "boundary.ldbt"))
	if err != nil {
		t.Fatalf("descriptor table not written: %v", err)
	}
	table, err := linkplan.DecodeDescriptorTable(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(table.Records) != 1 {
		t.Fatalf("persisted table = %+v", table)
	}
}

func TestBuildPureStaticWritesNoTable(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGraph(writeFile(t, dir, "graph.yml", `units:
  - id: main
    module: app
    result: nil
    calls:
      - id: "main#0"
        callee: area
  - id: area
    module: app
    params: [number, number]
    result: number
`))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	result, err := Build(context.Background(), DefaultBuildConfig(), g)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if result.Plan.Mode != linkplan.ModePureStatic {
		t.Fatalf("mode = %s", result.Plan.Mode)
	}
	if !result.Table.Empty() || len(result.Stubs) != 0 {
		t.Fatalf("pure-static build kept boundary artifacts")
	}

	out := filepath.Join(dir, "out")
	if err := result.Write(out); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "boundary.ldbt")); !os.IsNotExist(err) {
		t.Fatalf("pure-static build wrote a descriptor table")
	}
	if _, err := os.Stat(filepath.Join(out, "linkplan.yml")); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestBuildAheadCompiledRestriction(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGraph(writeFile(t, dir, "graph.yml", `units:
  - id: dyn
    module: app
    result: unknown
    features: [eval]
`))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	cfg := DefaultBuildConfig()
	cfg.DynamicMode = linkplan.ModeAheadCompiled
	_, err = Build(context.Background(), cfg, g)
	var ude *linkplan.UnsupportedDynamicConstructError
	if !errors.As(err, &ude) {
		t.Fatalf("want UnsupportedDynamicConstructError, got %v", err)
	}
	cfg.FeatureFlags = []string{"eval"}
	if _, err := Build(context.Background(), cfg, g); err != nil {
		t.Fatalf("flagged eval rejected: %v", err)
	}
}

func TestBuildCancellation(t *testing.T) {
	dir := t.TempDir()
	g, err := LoadGraph(writeFile(t, dir, "graph.yml", testGraphYAML))
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Build(ctx, DefaultBuildConfig(), g); err == nil {
		t.Fatalf("cancelled build succeeded")
	}
}
