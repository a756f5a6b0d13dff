// Package driver orchestrates a build of the compilation core: it loads the
// build configuration and the typed IR graph description, runs
// classification, generates boundary stubs, computes the link plan, and
// writes the artifacts the external linker consumes. All outputs are
// deterministic functions of the inputs.
package driver

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/DevCheckOG/lltsc-idea/pkg/linkplan"
	"github.com/DevCheckOG/lltsc-idea/pkg/profiler"
)

// BuildConfig is the explicit per-build configuration. Link mode for builds
// with boundary units is chosen here, never inferred.
type BuildConfig struct {
	TargetTriple string
	DynamicMode  linkplan.Mode
	FeatureFlags []string
	Workers      int
	Profiler     profiler.Config
}

type buildConfigDisk struct {
	TargetTriple string             `yaml:"target_triple"`
	Link         linkConfigDisk     `yaml:"link"`
	Workers      int                `yaml:"workers,omitempty"`
	Profiler     profilerConfigDisk `yaml:"profiler,omitempty"`
}

type linkConfigDisk struct {
	DynamicMode  string   `yaml:"dynamic_mode"`
	FeatureFlags []string `yaml:"feature_flags,omitempty"`
}

type profilerConfigDisk struct {
	TableCapacity    int `yaml:"table_capacity,omitempty"`
	StableStreak     int `yaml:"stable_streak,omitempty"`
	DemotionCooldown int `yaml:"demotion_cooldown,omitempty"`
}

// DefaultBuildConfig returns a configuration with standard policy knobs and
// embedded-engine dynamic linking.
func DefaultBuildConfig() BuildConfig {
	return BuildConfig{
		TargetTriple: "x86_64-unknown-linux-gnu",
		DynamicMode:  linkplan.ModeEmbeddedEngine,
		Workers:      4,
		Profiler:     profiler.DefaultConfig(),
	}
}

// LoadBuildConfig parses a build configuration file. Unknown keys are
// rejected so a typo never silently changes a build.
func LoadBuildConfig(path string) (BuildConfig, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return BuildConfig{}, fmt.Errorf("driver: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return BuildConfig{}, err
	}
	defer file.Close()

	var disk buildConfigDisk
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&disk); err != nil {
		return BuildConfig{}, fmt.Errorf("driver: parse %s: %w", abs, err)
	}

	cfg := DefaultBuildConfig()
	if disk.TargetTriple != "" {
		cfg.TargetTriple = disk.TargetTriple
	}
	if disk.Link.DynamicMode != "" {
		mode := linkplan.Mode(disk.Link.DynamicMode)
		if !mode.Valid() {
			return BuildConfig{}, fmt.Errorf("driver: %s: unknown link mode %q", abs, disk.Link.DynamicMode)
		}
		cfg.DynamicMode = mode
	}
	cfg.FeatureFlags = disk.Link.FeatureFlags
	if disk.Workers > 0 {
		cfg.Workers = disk.Workers
	}
	if disk.Profiler.TableCapacity > 0 {
		cfg.Profiler.TableCapacity = disk.Profiler.TableCapacity
	}
	if disk.Profiler.StableStreak > 0 {
		cfg.Profiler.StableStreak = disk.Profiler.StableStreak
	}
	if disk.Profiler.DemotionCooldown > 0 {
		cfg.Profiler.DemotionCooldown = disk.Profiler.DemotionCooldown
	}
	return cfg, nil
}
