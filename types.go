package simdext

import (
	"path/filepath"
	"runtime"
	"time"
)

// Config controls one build invocation. It is passed by value and never
// mutated by the pipeline.
//
// Target selection:
//   - Platform: build target; zero value means the host platform
//   - Toggles: extensions the user switched off
//
// Build behavior:
//   - Parallel: compile workers per variant (0 = number of CPUs)
//   - Debug: debug symbols and trace macros instead of NDEBUG; it changes
//     how variants are compiled, never which variants are planned
//   - Force: rebuild everything regardless of timestamps
//   - Verbose: log every command line
//
// Directories (relative paths resolve against the project root):
//   - BuildTemp: per-variant scratch tree and probe directory
//   - BuildLib: static support libraries, patched headers, linked artifacts
//   - OutputDir: where artifacts and the manifest are installed
type Config struct {
	Platform Platform
	Toggles  ToggleSet

	Parallel int
	Debug    bool
	Force    bool
	Verbose  bool

	BuildTemp string
	BuildLib  string
	OutputDir string

	ProbeTimeout time.Duration
	Env          map[string]string // extra environment for source generators

	Logger *Logger
}

// Default directory layout under the project root.
const (
	DefaultBuildTemp = "build/temp"
	DefaultBuildLib  = "build/lib"
)

func (c Config) withDefaults(root string) Config {
	if c.Platform.CPU == "" {
		c.Platform = HostPlatform()
	}
	if c.BuildTemp == "" {
		c.BuildTemp = DefaultBuildTemp
	}
	if c.BuildLib == "" {
		c.BuildLib = DefaultBuildLib
	}
	if c.OutputDir == "" {
		c.OutputDir = c.BuildLib
	}
	c.BuildTemp = resolveAgainst(root, c.BuildTemp)
	c.BuildLib = resolveAgainst(root, c.BuildLib)
	c.OutputDir = resolveAgainst(root, c.OutputDir)
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.Logger == nil {
		c.Logger = NoopLogger()
	}
	return c
}

// variantDir is the private scratch directory of a variant.
func (c Config) variantDir(name string) string {
	return filepath.Join(c.BuildTemp, variantTempDir, name)
}

// libraryDir is the scratch directory of a support library.
func (c Config) libraryDir(name string) string {
	return filepath.Join(c.BuildTemp, libraryTempDir, name)
}

// probeDir holds the per-probe temporary directories.
func (c Config) probeDir() string {
	return filepath.Join(c.BuildTemp, probeTempDir)
}

// Workers returns the bounded compile worker count.
func (c Config) Workers() int {
	if c.Parallel > 0 {
		return c.Parallel
	}
	return runtime.NumCPU()
}

// modeMacros returns the macros selected by debug/release mode.
func (c Config) modeMacros() map[string]int {
	if c.Debug {
		return map[string]int{"SIMDEXT_TRACE": 1}
	}
	return map[string]int{"NDEBUG": 1}
}

func resolveAgainst(root, path string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}

// LibraryResult describes a built static support library.
type LibraryResult struct {
	Name     string
	Archive  string         // path of the static library
	Macros   map[string]int // macros found by function checks
	LinkArgs []string       // extra link args for variants linking it
	Compiled int            // objects compiled in this invocation
}

// VariantResult contains the output and status of building one variant.
type VariantResult struct {
	Variant   string
	Requires  string   // required extension, "" for the baseline
	Success   bool     // True if compile and link completed
	Output    []string // Lines of output from generator and compiler runs
	Artifact  string   // linked artifact in the build tree
	Installed string   // installed copy, relative to the output dir
	Compiled  int      // translation units compiled in this invocation
	UpToDate  bool     // nothing was recompiled or relinked
	Error     error
}

// BuildReport is the outcome of a pipeline run.
type BuildReport struct {
	Platform  Platform
	Matrix    *CapabilityMatrix
	Plan      *BuildPlan
	Libraries []*LibraryResult
	Variants  []*VariantResult
	Manifest  string
}

// Artifacts returns installed artifact paths keyed by variant name.
func (r *BuildReport) Artifacts() map[string]string {
	out := make(map[string]string, len(r.Variants))
	for _, v := range r.Variants {
		if v.Success {
			out[v.Variant] = v.Installed
		}
	}
	return out
}
