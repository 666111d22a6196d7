package simdext

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/magefile/mage/target"
)

// stampName is the file in each scratch directory recording the arguments
// its objects were compiled with.
const stampName = ".simdext-flags"

// Subtrees of the build-temp directory. Variants, libraries and probes
// never share a directory, whatever they are named.
const (
	variantTempDir = "variant"
	libraryTempDir = "lib"
	probeTempDir   = "probes"
)

// VariantCompiler compiles planned variants, each in its own scratch
// directory under Config.BuildTemp, so objects built with one extension's
// flags are never reused by another variant.
type VariantCompiler struct {
	Compiler  *Compiler
	Generator *SourceGenerator // optional
	Project   *Project
	Matrix    *CapabilityMatrix
	Libraries map[string]*LibraryResult
	Config    Config
}

// variantWork is the private state of one variant build.
type variantWork struct {
	planned PlannedVariant
	dir     string
	lang    Language
	rebuild bool // arguments changed since the last build
	stamp   flagStamp
	tasks   []compileTask
	result  *VariantResult
}

// ScratchDir returns the private build directory of a variant.
func (vc *VariantCompiler) ScratchDir(name string) string {
	return vc.Config.variantDir(name)
}

// ArtifactPath returns where the linked artifact of a variant is written.
func (vc *VariantCompiler) ArtifactPath(desc VariantDescriptor) string {
	return filepath.Join(vc.Config.BuildLib, vc.Compiler.Profile().SharedName(desc.ArtifactBase()))
}

// BuildAll builds the plan's variants in order. The first failure aborts
// the build; results gathered so far are returned with the error.
func (vc *VariantCompiler) BuildAll(ctx context.Context, plan *BuildPlan) ([]*VariantResult, error) {
	results := make([]*VariantResult, 0, plan.Len())
	for _, v := range plan.Variants() {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result, err := vc.Build(ctx, v)
		vc.Config.Logger.LogVariant(ctx, result)
		results = append(results, result)
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// Build compiles and links one planned variant.
func (vc *VariantCompiler) Build(ctx context.Context, v PlannedVariant) (*VariantResult, error) {
	w := &variantWork{
		planned: v,
		dir:     vc.ScratchDir(v.Descriptor.Name),
		lang:    v.Descriptor.lang(),
		result: &VariantResult{
			Variant:  v.Descriptor.Name,
			Requires: v.Requires(),
			Artifact: vc.ArtifactPath(v.Descriptor),
			UpToDate: true,
		},
	}
	return runVariantSteps(ctx, w, variantSteps{
		PrepareFunc: vc.prepare,
		CompileFunc: vc.compile,
		LinkFunc:    vc.link,
	})
}

func (vc *VariantCompiler) compileSpecBase(w *variantWork) CompileSpec {
	cfg := vc.Config
	profile := vc.Compiler.Profile()
	desc := w.planned.Descriptor

	includes := []string{w.dir}
	for _, dir := range desc.IncludeDirs {
		includes = append(includes, vc.Project.resolve(expandPlaceholders(dir, cfg.Platform)))
	}
	includes = append(includes, cfg.BuildLib)

	flags := slices.Clone(profile.CompileFlags(w.lang, KindVariant))
	if cfg.Debug {
		flags = append(flags, profile.DebugFlags()...)
	}
	flags = append(flags, w.planned.CompileArgs...)

	return CompileSpec{
		Language:    w.lang,
		IncludeDirs: uniqueStrings(includes),
		Macros:      mergeMacros(nil, profile.PlatformMacros(), cfg.modeMacros(), w.planned.Macros),
		Flags:       flags,
	}
}

func (vc *VariantCompiler) prepare(ctx context.Context, w *variantWork) error {
	cfg := vc.Config
	desc := w.planned.Descriptor

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	base := vc.compileSpecBase(w)
	env := generatorEnv(cfg.Platform, vc.Matrix, cfg.Debug, cfg.Env)

	w.stamp = flagStamp{path: filepath.Join(w.dir, stampName), content: vc.stamp(base, env)}
	changed, err := w.stamp.invalidate()
	if err != nil {
		return err
	}
	w.rebuild = changed

	var depends []string
	for _, dir := range base.IncludeDirs {
		if dir == cfg.BuildLib {
			continue
		}
		depends = append(depends, headersIn(dir)...)
	}

	for _, src := range desc.Sources {
		source := vc.Project.resolve(expandPlaceholders(src, cfg.Platform))

		if vc.Generator != nil && vc.Generator.Handles(source) {
			out, ran, lines, err := vc.Generator.Generate(ctx, source, filepath.Join(w.dir, "gen"), env, cfg.Force || w.rebuild)
			w.result.Output = append(w.result.Output, lines...)
			if err != nil {
				return err
			}
			if ran {
				w.result.UpToDate = false
				cfg.Logger.WithVariant(desc.Name).DebugContext(ctx, "generated source", "input", source, "output", out)
			}
			source = out
		}

		spec := base
		spec.Source = source
		spec.Object = vc.objectPath(w.dir, source)
		w.tasks = append(w.tasks, compileTask{spec: spec, depends: depends})
	}
	return nil
}

func (vc *VariantCompiler) compile(ctx context.Context, w *variantWork) error {
	pool := &compilePool{
		compiler: vc.Compiler,
		workers:  vc.Config.Workers(),
		force:    vc.Config.Force || w.rebuild,
	}
	compiled, err := pool.Run(ctx, w.tasks)
	w.result.Compiled = compiled
	if compiled > 0 {
		w.result.UpToDate = false
	}
	if err != nil {
		return err
	}
	if w.rebuild {
		return w.stamp.commit()
	}
	return nil
}

func (vc *VariantCompiler) link(ctx context.Context, w *variantWork) error {
	cfg := vc.Config
	profile := vc.Compiler.Profile()
	artifact := w.result.Artifact

	inputs := taskObjects(w.tasks)
	flags := slices.Clone(w.planned.LinkArgs)
	for _, name := range w.planned.Descriptor.Libraries {
		lib, ok := vc.Libraries[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownLibrary, name)
		}
		inputs = append(inputs, lib.Archive)
		flags = append(flags, lib.LinkArgs...)
	}
	flags = append(flags, profile.LinkFlags(w.lang, KindVariant)...)
	if cfg.Debug {
		flags = append(flags, profile.DebugFlags()...)
	}

	stale := cfg.Force || w.rebuild || !w.result.UpToDate
	if !stale {
		var err error
		stale, err = target.Path(artifact, inputs...)
		if err != nil {
			return err
		}
	}
	if !stale {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(artifact), 0o755); err != nil {
		return err
	}
	w.result.UpToDate = false
	return vc.Compiler.LinkShared(ctx, LinkSpec{
		Objects:  inputs,
		Output:   artifact,
		Language: w.lang,
		Flags:    uniqueStrings(flags),
	})
}

// objectPath maps a source to an object inside the variant's obj dir,
// keeping its relative path so equal base names do not collide.
func (vc *VariantCompiler) objectPath(dir, source string) string {
	rel, ok := within(dir, source)
	if !ok {
		rel, ok = within(vc.Project.Root, source)
	}
	if !ok {
		rel = filepath.Base(source)
	}
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.Join(dir, "obj", vc.Compiler.Profile().ObjectName(rel))
}

func within(root, path string) (string, bool) {
	if root == "" {
		return "", false
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// stamp renders everything that changes the produced objects.
func (vc *VariantCompiler) stamp(base CompileSpec, env map[string]string) []byte {
	return renderStamp(vc.Compiler.Toolchain, base, env)
}

func renderStamp(tc *Toolchain, base CompileSpec, env map[string]string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "driver %s\n", tc.driver(base.Language))
	for _, f := range append(slices.Clone(tc.CFlags), base.Flags...) {
		fmt.Fprintf(&buf, "flag %s\n", f)
	}
	for _, name := range sortedMacros(base.Macros) {
		fmt.Fprintf(&buf, "macro %s=%s\n", name, strconv.Itoa(base.Macros[name]))
	}
	for _, dir := range base.IncludeDirs {
		fmt.Fprintf(&buf, "include %s\n", dir)
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "env %s=%s\n", k, env[k])
	}
	return buf.Bytes()
}

// flagStamp records the arguments a scratch directory was compiled with.
//
// A stamp that no longer matches is removed before anything compiles and
// written back only once every object compiled, so a failed or cancelled
// build leaves no stamp and the next run recompiles everything.
type flagStamp struct {
	path    string
	content []byte
}

// invalidate reports whether the recorded arguments differ from content,
// removing the stale record when they do.
func (s flagStamp) invalidate() (bool, error) {
	old, err := os.ReadFile(s.path)
	if err == nil && bytes.Equal(old, s.content) {
		return false, nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return false, err
	}
	return true, nil
}

// commit records the arguments after a successful compile.
func (s flagStamp) commit() error {
	return os.WriteFile(s.path, s.content, 0o644) //nolint:gosec // Build tree files are not secrets
}

// headersIn lists header files directly inside dir.
func headersIn(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var headers []string
	for _, e := range entries {
		if !e.IsDir() && MatchesExtension(e.Name(), ".h", ".hpp", ".inl", ".pxd") {
			headers = append(headers, filepath.Join(dir, e.Name()))
		}
	}
	return headers
}
