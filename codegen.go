package simdext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/magefile/mage/target"
)

// GeneratorConfig declares a source-to-source step that runs before
// compilation, such as a Cython or template expander.
//
//	generator:
//	  name: cython
//	  patterns: ["*.pyx"]
//	  output_ext: .cpp
//	  command: [cython, --cplus, -3, -o, "{{output}}", "{{input}}"]
//	  tools:
//	    - name: cython
//	      purpose: Cython source generator
type GeneratorConfig struct {
	// Name is used in logs and error messages.
	Name string `yaml:"name"`

	// Patterns are glob patterns matched against source base names.
	Patterns []string `yaml:"patterns"`

	// OutputExt replaces the input extension on the generated file.
	OutputExt string `yaml:"output_ext"`

	// Command is the command template. Supports placeholders:
	//   {{input}}  - the declared source file
	//   {{output}} - the generated file in the variant scratch dir
	//   {{dir}}    - the variant scratch dir
	Command []string `yaml:"command"`

	// Tools are checked before any probing starts. When empty, the first
	// word of Command is required.
	Tools []ToolRequirement `yaml:"tools,omitempty"`

	// Env is added to the generator environment.
	Env map[string]string `yaml:"env,omitempty"`
}

// SourceGenerator turns declared sources into compilable ones inside a
// variant's scratch directory.
type SourceGenerator struct {
	config GeneratorConfig
	run    commandRunner
}

// NewSourceGenerator creates a SourceGenerator from configuration.
func NewSourceGenerator(config *GeneratorConfig) *SourceGenerator {
	return &SourceGenerator{config: *config, run: execCommand}
}

// Name returns the generator name.
func (g *SourceGenerator) Name() string {
	if g.config.Name == "" {
		return "generator"
	}
	return g.config.Name
}

// RequiredTools returns the tools needed for this generator
func (g *SourceGenerator) RequiredTools() []ToolRequirement {
	if len(g.config.Tools) > 0 {
		return g.config.Tools
	}
	if len(g.config.Command) == 0 {
		return nil
	}
	return []ToolRequirement{{Name: g.config.Command[0], Purpose: g.Name() + " source generator"}}
}

// CheckTools verifies that all required tools are available
func (g *SourceGenerator) CheckTools() error {
	return CheckRequiredTools(g.RequiredTools())
}

// Handles checks if this generator transforms the source file
func (g *SourceGenerator) Handles(source string) bool {
	filename := strings.ToLower(filepath.Base(source))

	for _, pattern := range g.config.Patterns {
		if matched, _ := filepath.Match(strings.ToLower(pattern), filename); matched {
			return true
		}
	}

	return false
}

// OutputFor returns the generated file path for source inside dir.
func (g *SourceGenerator) OutputFor(source, dir string) string {
	base := filepath.Base(source)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	ext := g.config.OutputExt
	if ext == "" {
		ext = ".c"
	}
	return filepath.Join(dir, base+ext)
}

// Generate runs the command for input when its output is missing or older
// than the input. It returns the generated path and whether it ran.
func (g *SourceGenerator) Generate(ctx context.Context, input, dir string, env map[string]string, force bool) (string, bool, []string, error) {
	output := g.OutputFor(input, dir)

	if !force {
		stale, err := target.Path(output, input)
		if err != nil {
			return output, false, nil, fmt.Errorf("%s: %w", g.Name(), err)
		}
		if !stale {
			return output, false, nil, nil
		}
	}

	if len(g.config.Command) == 0 {
		return output, false, nil, fmt.Errorf("no command configured for %s", g.Name())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return output, false, nil, err
	}

	args := make([]string, len(g.config.Command))
	for i, arg := range g.config.Command {
		arg = strings.ReplaceAll(arg, "{{input}}", input)
		arg = strings.ReplaceAll(arg, "{{output}}", output)
		arg = strings.ReplaceAll(arg, "{{dir}}", dir)
		args[i] = arg
	}

	merged := make(map[string]string, len(g.config.Env)+len(env))
	for k, v := range g.config.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}

	lines, err := g.run(ctx, merged, args[0], args[1:]...)
	if err != nil {
		return output, true, lines, BuildError(g.Name()+" "+filepath.Base(input), lines, err)
	}
	return output, true, lines, nil
}

// generatorEnv describes the target to a source generator so generated
// code can be specialized per platform and per available backend.
func generatorEnv(platform Platform, matrix *CapabilityMatrix, debug bool, extra map[string]string) map[string]string {
	env := map[string]string{
		"TARGET_CPU":    string(platform.CPU),
		"TARGET_SYSTEM": string(platform.OS),
		"SIMDEXT_DEBUG": strconv.FormatBool(debug),
	}
	if matrix != nil {
		for name, ok := range matrix.BuildSupport() {
			if ok {
				env[name] = "1"
			} else {
				env[name] = "0"
			}
		}
	}
	for k, v := range extra {
		env[k] = v
	}
	return env
}
