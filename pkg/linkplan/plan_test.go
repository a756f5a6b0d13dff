package linkplan

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
	"github.com/DevCheckOG/lltsc-idea/pkg/marshal"
)

func numberType() *ir.StaticType { return &ir.StaticType{Kind: ir.TypeNumber} }

func unit(id ir.UnitID, module string, feats ...ir.DynFeature) *ir.Unit {
	return &ir.Unit{
		ID:     id,
		Module: module,
		Signature: ir.Signature{
			Params: []*ir.StaticType{numberType()},
			Result: numberType(),
		},
		Features: feats,
	}
}

func classify(t *testing.T, units ...*ir.Unit) (*ir.Graph, *classifier.Result) {
	t.Helper()
	g, err := ir.NewGraph(units)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	res, err := classifier.New().Classify(context.Background(), g)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	return g, res
}

func TestPureStaticChosenAutomatically(t *testing.T) {
	g, res := classify(t, unit("a", "main"), unit("b", "main"))
	plan, err := New("build-1", Config{DynamicMode: ModeEmbeddedEngine}, g, res)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Mode != ModePureStatic {
		t.Fatalf("mode = %s, want pure-static for a build with no boundary units", plan.Mode)
	}
}

func TestForcedPureStaticWithBoundaryUnitsFails(t *testing.T) {
	g, res := classify(t, unit("a", "main"), unit("dyn", "main", ir.FeatDynCall))
	_, err := New("build-1", Config{DynamicMode: ModePureStatic}, g, res)
	var lme *marshal.LinkageMismatchError
	if !errors.As(err, &lme) {
		t.Fatalf("want LinkageMismatchError, got %v", err)
	}
}

func TestEmbeddedEngineMode(t *testing.T) {
	g, res := classify(t, unit("a", "main"), unit("dyn", "main", ir.FeatEval))
	plan, err := New("build-1", Config{DynamicMode: ModeEmbeddedEngine, TargetTriple: "x86_64-unknown-linux-gnu"}, g, res)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Mode != ModeEmbeddedEngine {
		t.Fatalf("mode = %s", plan.Mode)
	}
}

func TestAheadCompiledRejectsRestrictedConstruct(t *testing.T) {
	g, res := classify(t,
		unit("a", "main"),
		unit("dyn", "main", ir.FeatDynCall, ir.FeatEval),
	)
	_, err := New("build-1", Config{DynamicMode: ModeAheadCompiled}, g, res)
	var ude *UnsupportedDynamicConstructError
	if !errors.As(err, &ude) {
		t.Fatalf("want UnsupportedDynamicConstructError, got %v", err)
	}
	if ude.Construct != ir.FeatEval || ude.Unit != "dyn" {
		t.Fatalf("blamed %q in %s", ude.Construct, ude.Unit)
	}
}

func TestAheadCompiledBaseSetAndFlags(t *testing.T) {
	g, res := classify(t, unit("dyn", "main", ir.FeatDynCall, ir.FeatDynLiteral))
	if _, err := New("b", Config{DynamicMode: ModeAheadCompiled}, g, res); err != nil {
		t.Fatalf("base set rejected: %v", err)
	}

	g2, res2 := classify(t, unit("dyn", "main", ir.FeatReflection))
	if _, err := New("b", Config{DynamicMode: ModeAheadCompiled}, g2, res2); err == nil {
		t.Fatalf("reflection admitted without a flag")
	}
	if _, err := New("b", Config{DynamicMode: ModeAheadCompiled, FeatureFlags: []string{"reflection"}}, g2, res2); err != nil {
		t.Fatalf("flagged reflection rejected: %v", err)
	}
}

func TestPlanModulesSortedAndClassified(t *testing.T) {
	g, res := classify(t,
		unit("z_unit", "zmod"),
		unit("a_unit", "amod", ir.FeatDynCall),
		unit("b_unit", "amod"),
	)
	plan, err := New("b", Config{DynamicMode: ModeEmbeddedEngine}, g, res)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Modules) != 2 || plan.Modules[0].Name != "amod" || plan.Modules[1].Name != "zmod" {
		t.Fatalf("module order: %+v", plan.Modules)
	}
	amod := plan.Modules[0]
	if amod.Units[0].ID != "a_unit" || amod.Units[0].Class != classifier.ClassBoundary {
		t.Fatalf("a_unit entry: %+v", amod.Units[0])
	}
	if amod.Units[1].ID != "b_unit" || amod.Units[1].Class != classifier.ClassAOT {
		t.Fatalf("b_unit entry: %+v", amod.Units[1])
	}
}

func TestManifestRoundTrip(t *testing.T) {
	g, res := classify(t,
		unit("a", "main"),
		unit("dyn", "main", ir.FeatDynCall),
	)
	plan, err := New("build-42", Config{
		DynamicMode:  ModeAheadCompiled,
		TargetTriple: "aarch64-apple-darwin",
		FeatureFlags: []string{"reflection"},
	}, g, res)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}

	path := filepath.Join(t.TempDir(), "linkplan.yml")
	if err := plan.WriteManifest(path); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(plan, loaded) {
		t.Fatalf("round trip drifted:\nwrote  %+v\nloaded %+v", plan, loaded)
	}
}

func TestDescriptorTableRoundTrip(t *testing.T) {
	table := &DescriptorTable{Records: []DescriptorRecord{
		{
			CallSite:         "main#3",
			Unit:             "dyn",
			VariantEntries:   []uint64{0x1000, 0x1010},
			GenericEntry:     0x2000,
			DeoptTableOffset: 64,
		},
		{
			CallSite:     "main#7",
			Unit:         "other",
			GenericEntry: 0x2010,
		},
	}}
	data, err := table.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(data[:4]) != "LDBT" {
		t.Fatalf("magic = %q", data[:4])
	}
	decoded, err := DecodeDescriptorTable(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(table, decoded) {
		t.Fatalf("round trip drifted:\n%+v\n%+v", table, decoded)
	}
}

func TestDescriptorTableRejectsCorruption(t *testing.T) {
	empty := (&DescriptorTable{}).Encode
	data, err := empty()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeDescriptorTable(append(data, 0xFF)); err == nil {
		t.Fatalf("trailing bytes accepted")
	}
	bad := append([]byte(nil), data...)
	bad[0] = 'X'
	if _, err := DecodeDescriptorTable(bad); err == nil {
		t.Fatalf("bad magic accepted")
	}
	if _, err := DecodeDescriptorTable(data[:3]); err == nil {
		t.Fatalf("truncated table accepted")
	}
}

func TestEmptyTable(t *testing.T) {
	var nilTable *DescriptorTable
	if !nilTable.Empty() {
		t.Fatalf("nil table not empty")
	}
	data, err := nilTable.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeDescriptorTable(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Empty() {
		t.Fatalf("decoded empty table has records")
	}
}
