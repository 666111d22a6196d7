package simdext

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/magefile/mage/target"
)

// compilable source suffixes; anything else listed as a source (.inl, .h)
// is copied into the build tree for inclusion but not compiled.
var compilableSuffixes = []string{".c", ".cc", ".cpp", ".cxx"}

// LibraryBuilder builds the static support libraries shared by variants.
// Each library is built once per invocation, before any variant, and is
// only read afterwards.
type LibraryBuilder struct {
	Compiler *Compiler
	Probe    *CapabilityProbe
	Patcher  *Patcher
	Project  *Project
	Config   Config
}

// Build compiles and archives lib into the build-lib directory.
func (b *LibraryBuilder) Build(ctx context.Context, lib LibraryDescriptor) (*LibraryResult, error) {
	cfg := b.Config
	platform := cfg.Platform
	profile := b.Compiler.Profile()
	logger := cfg.Logger.With("library", lib.Name)

	result := &LibraryResult{
		Name:    lib.Name,
		Archive: filepath.Join(cfg.BuildLib, profile.StaticLibraryName(lib.Name)),
		Macros:  map[string]int{},
	}

	optional := false
	for _, check := range lib.FunctionChecks {
		if len(check.Systems) > 0 && !slices.Contains(check.Systems, platform.OS) {
			continue
		}
		if b.Probe.CheckFunction(ctx, check.Name, check.Header, check.Args) {
			if check.Macro != "" {
				result.Macros[check.Macro] = 1
			}
			if check.EnablesOptional {
				optional = true
			}
		}
	}

	sources := slices.Clone(lib.Sources)
	if optional && (len(lib.OptionalSystems) == 0 || slices.Contains(lib.OptionalSystems, platform.OS)) {
		sources = append(sources, lib.OptionalSources...)
	}

	// Headers go to the build-lib directory where every variant includes
	// them from.
	headerRoot := b.Project.resolve(lib.HeaderRoot)
	var headers []string
	for _, h := range lib.Headers {
		input := b.Project.resolve(expandPlaceholders(h, platform))
		rel, err := filepath.Rel(headerRoot, input)
		if err != nil || lib.HeaderRoot == "" || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(input)
		}
		output := filepath.Join(cfg.BuildLib, rel)
		if _, err := b.Patcher.Prepare(input, output); err != nil {
			return result, fmt.Errorf("library %s: header %s: %w", lib.Name, h, err)
		}
		headers = append(headers, output)
	}

	libDir := cfg.libraryDir(lib.Name)
	srcDir := filepath.Join(libDir, "src")
	objDir := filepath.Join(libDir, "obj")

	var copied []string
	for _, s := range sources {
		input := b.Project.resolve(expandPlaceholders(s, platform))
		output := filepath.Join(srcDir, filepath.Base(input))
		if _, err := b.Patcher.Prepare(input, output); err != nil {
			return result, fmt.Errorf("library %s: source %s: %w", lib.Name, s, err)
		}
		copied = append(copied, output)
	}

	lang := lib.lang()
	includes := []string{srcDir}
	for _, dir := range lib.IncludeDirs {
		includes = append(includes, b.Project.resolve(expandPlaceholders(dir, platform)))
	}
	includes = append(includes, cfg.BuildLib)

	flags := slices.Clone(profile.CompileFlags(lang, KindLibrary))
	if cfg.Debug {
		flags = append(flags, profile.DebugFlags()...)
	}
	flags = append(flags, lib.ExtraCompileArgs...)
	macros := mergeMacros(nil, profile.PlatformMacros(), lib.Macros, result.Macros)

	if err := os.MkdirAll(objDir, 0o755); err != nil {
		return result, err
	}
	stamp := flagStamp{path: filepath.Join(libDir, stampName), content: renderStamp(
		b.Compiler.Toolchain,
		CompileSpec{Language: lang, IncludeDirs: includes, Macros: macros, Flags: flags},
		nil,
	)}
	rebuild, err := stamp.invalidate()
	if err != nil {
		return result, err
	}

	var tasks []compileTask
	for _, src := range copied {
		if !MatchesExtension(src, compilableSuffixes...) {
			continue
		}
		base := filepath.Base(src)
		base = base[:len(base)-len(filepath.Ext(base))]
		tasks = append(tasks, compileTask{
			spec: CompileSpec{
				Source:      src,
				Object:      filepath.Join(objDir, profile.ObjectName(base)),
				Language:    lang,
				IncludeDirs: includes,
				Macros:      macros,
				Flags:       flags,
			},
			depends: append(slices.Clone(copied), headers...),
		})
	}
	if len(tasks) == 0 {
		return result, fmt.Errorf("library %s has no compilable sources", lib.Name)
	}

	pool := &compilePool{compiler: b.Compiler, workers: cfg.Workers(), force: cfg.Force || rebuild}
	compiled, err := pool.Run(ctx, tasks)
	result.Compiled = compiled
	if err != nil {
		return result, fmt.Errorf("library %s: %w", lib.Name, err)
	}
	if rebuild {
		if err := stamp.commit(); err != nil {
			return result, err
		}
	}

	objects := taskObjects(tasks)
	stale := cfg.Force || compiled > 0
	if !stale {
		stale, err = target.Path(result.Archive, objects...)
		if err != nil {
			return result, err
		}
	}
	if stale {
		if err := os.MkdirAll(filepath.Dir(result.Archive), 0o755); err != nil {
			return result, err
		}
		if err := b.Compiler.Archive(ctx, result.Archive, objects); err != nil {
			return result, fmt.Errorf("library %s: %w", lib.Name, err)
		}
	}

	result.LinkArgs = append(slices.Clone(lib.ExtraLinkArgs), profile.LinkFlags(lang, KindLibrary)...)
	logger.InfoContext(ctx, "support library ready",
		"archive", result.Archive,
		"compiled", compiled,
		"macros", sortedMacros(result.Macros),
	)
	return result, nil
}

// librariesFor returns the declared libraries linked by planned variants,
// in project order.
func librariesFor(project *Project, plan *BuildPlan) []LibraryDescriptor {
	used := make(map[string]struct{})
	for _, v := range plan.variants {
		for _, name := range v.Descriptor.Libraries {
			used[name] = struct{}{}
		}
	}
	var libs []LibraryDescriptor
	for _, lib := range project.Libraries {
		if _, ok := used[lib.Name]; ok {
			libs = append(libs, lib)
		}
	}
	return libs
}
