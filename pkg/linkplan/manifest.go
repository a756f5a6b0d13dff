package linkplan

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/DevCheckOG/lltsc-idea/pkg/classifier"
	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// manifestDisk is the on-disk layout of the LinkPlan manifest.
type manifestDisk struct {
	BuildID      string            `yaml:"build_id"`
	Mode         string            `yaml:"mode"`
	TargetTriple string            `yaml:"target_triple"`
	FeatureFlags []string          `yaml:"restricted_feature_flags,omitempty"`
	Modules      []moduleEntryDisk `yaml:"modules"`
}

type moduleEntryDisk struct {
	Name  string          `yaml:"name"`
	Units []unitEntryDisk `yaml:"units"`
}

type unitEntryDisk struct {
	ID    string `yaml:"id"`
	Class string `yaml:"class"`
}

// MarshalManifest serialises the plan for the external linker/emitter.
func (p *Plan) MarshalManifest() ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("linkplan: nil plan")
	}
	disk := manifestDisk{
		BuildID:      p.BuildID,
		Mode:         string(p.Mode),
		TargetTriple: p.TargetTriple,
		FeatureFlags: p.FeatureFlags,
	}
	for _, mod := range p.Modules {
		entry := moduleEntryDisk{Name: mod.Name}
		for _, u := range mod.Units {
			entry.Units = append(entry.Units, unitEntryDisk{ID: string(u.ID), Class: u.Class.String()})
		}
		disk.Modules = append(disk.Modules, entry)
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(disk); err != nil {
		return nil, fmt.Errorf("linkplan: marshal manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("linkplan: encoder close: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteManifest writes the manifest to disk.
func (p *Plan) WriteManifest(path string) error {
	data, err := p.MarshalManifest()
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("linkplan: resolve %s: %w", path, err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return fmt.Errorf("linkplan: write %s: %w", abs, err)
	}
	return nil
}

// LoadManifest parses a manifest back into a plan. Round-tripping exists so
// downstream consumers read the plan the same way the linker does.
func LoadManifest(path string) (*Plan, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var disk manifestDisk
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&disk); err != nil {
		return nil, fmt.Errorf("linkplan: parse %s: %w", path, err)
	}
	mode := Mode(disk.Mode)
	if !mode.Valid() {
		return nil, fmt.Errorf("linkplan: %s: unknown mode %q", path, disk.Mode)
	}
	plan := &Plan{
		BuildID:      disk.BuildID,
		Mode:         mode,
		TargetTriple: disk.TargetTriple,
		FeatureFlags: disk.FeatureFlags,
	}
	for _, mod := range disk.Modules {
		entry := ModuleEntry{Name: mod.Name}
		for _, u := range mod.Units {
			class, err := parseClass(u.Class)
			if err != nil {
				return nil, fmt.Errorf("linkplan: %s: unit %s: %w", path, u.ID, err)
			}
			entry.Units = append(entry.Units, UnitEntry{ID: ir.UnitID(u.ID), Class: class})
		}
		plan.Modules = append(plan.Modules, entry)
	}
	return plan, nil
}

func parseClass(s string) (classifier.Class, error) {
	switch s {
	case "aot":
		return classifier.ClassAOT, nil
	case "boundary":
		return classifier.ClassBoundary, nil
	case "mixed":
		return classifier.ClassMixed, nil
	default:
		return 0, fmt.Errorf("unknown class %q", s)
	}
}
