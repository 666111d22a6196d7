package simdext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineBuildsEveryX86Variant(t *testing.T) {
	stubLookPath(t)
	project := kernelProject(t)
	tools := newFakeTools()

	report, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"pkg._kernel", "pkg._kernel_sse2", "pkg._kernel_sse4", "pkg._kernel_avx2"},
		report.Plan.Names())
	assert.False(t, report.Plan.Has("pkg._kernel_neon"))

	require.Len(t, report.Variants, 4)
	for _, v := range report.Variants {
		assert.True(t, v.Success, v.Variant)
		assert.FileExists(t, v.Artifact)
	}

	buildLib := filepath.Join(project.Root, DefaultBuildLib)
	assert.FileExists(t, filepath.Join(buildLib, "pkg", "_kernel.so"))
	assert.FileExists(t, filepath.Join(buildLib, "pkg", "_kernel_avx2.so"))

	m, err := ReadManifest(report.Manifest)
	require.NoError(t, err)
	assert.Equal(t, "x86/linux_or_android", m.Platform)
	require.Len(t, m.Variants, 4)
	assert.Equal(t, ManifestEntry{Name: "pkg._kernel_avx2", Requires: "AVX2", Rank: 3, Artifact: "pkg/_kernel_avx2.so"}, m.Variants[3])
	assert.Empty(t, m.Variants[0].Requires)
}

func TestPipelineNeverProbesForeignFamily(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()

	_, err := fakePipeline(kernelProject(t), tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, tools.callsWith("have_neon"))
	assert.NotEmpty(t, tools.callsWith("have_avx2"))
	assert.NotEmpty(t, tools.callsWith("have_sse4"))
	assert.NotEmpty(t, tools.callsWith("have_sse2"))
}

func TestPipelineProbesBeforeCompiling(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()

	_, err := fakePipeline(kernelProject(t), tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	lastProbe, firstVariant := -1, -1
	for i, call := range tools.calls {
		line := strings.Join(call, " ")
		if strings.Contains(line, string(filepath.Separator)+"probes"+string(filepath.Separator)) {
			lastProbe = i
		}
		if firstVariant < 0 && strings.Contains(line, "pkg._kernel") {
			firstVariant = i
		}
	}
	require.GreaterOrEqual(t, lastProbe, 0)
	require.GreaterOrEqual(t, firstVariant, 0)
	assert.Less(t, lastProbe, firstVariant)
}

func TestPipelineIsolatesVariantObjects(t *testing.T) {
	stubLookPath(t)
	project := kernelProject(t)
	tools := newFakeTools()

	_, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	temp := filepath.Join(project.Root, DefaultBuildTemp)
	objects := map[string]string{}
	for _, call := range tools.callsWith("-c", "align.cpp") {
		obj := call[slices.Index(call, "-o")+1]
		require.NotContains(t, objects, obj, "object shared between variants")
		objects[obj] = strings.Join(call, " ")
	}
	require.Len(t, objects, 4)

	avx2Obj := filepath.Join(temp, "variant", "pkg._kernel_avx2", "obj", "src", "align.o")
	require.Contains(t, objects, avx2Obj)
	assert.Contains(t, objects[avx2Obj], "-mavx2")
	assert.Contains(t, objects[avx2Obj], "-D__AVX2__=1")

	baseObj := filepath.Join(temp, "variant", "pkg._kernel", "obj", "src", "align.o")
	require.Contains(t, objects, baseObj)
	assert.NotContains(t, objects[baseObj], "-msse")
	assert.NotContains(t, objects[baseObj], "-mavx")
	assert.Contains(t, objects[baseObj], "-DNDEBUG=1")
}

func TestPipelineDisabledExtension(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()

	report, err := fakePipeline(kernelProject(t), tools, Config{Toggles: NewToggleSet("sse2")}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"pkg._kernel", "pkg._kernel_sse4", "pkg._kernel_avx2"}, report.Plan.Names())
	assert.Empty(t, tools.callsWith("have_sse2"), "disabled extension must not be probed")

	row, ok := report.Matrix.Lookup(SSE2)
	require.True(t, ok)
	assert.True(t, row.Disabled)
	assert.False(t, row.Supported)
}

func TestPipelineUnrunnableProbeIsAssumed(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()
	tools.badRuns["have_avx2"] = true

	report, err := fakePipeline(kernelProject(t), tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Plan.Has("pkg._kernel_avx2"))
	row, _ := report.Matrix.Lookup(AVX2)
	assert.Equal(t, OutcomeAssumed, row.Outcome)
	assert.Equal(t, []string{"-mavx", "-mavx2"}, row.Flags)
}

func TestPipelineUnsupportedFlagDropsVariant(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()
	tools.badFlags["-mavx2"] = true

	report, err := fakePipeline(kernelProject(t), tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"pkg._kernel", "pkg._kernel_sse2", "pkg._kernel_sse4"}, report.Plan.Names())
	assert.NoFileExists(t, filepath.Join(report.Variants[0].Artifact, "..", "_kernel_avx2.so"))
}

func TestPipelineEmptyPlanOnMips(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()

	_, err := fakePipeline(kernelProject(t), tools, Config{Platform: mipsLinux}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyBuildPlan))
	assert.Contains(t, err.Error(), "mips")
	assert.Empty(t, tools.callsWith("-c"), "nothing may be compiled for an empty plan")
}

func TestPipelineMissingToolFailsFast(t *testing.T) {
	stubLookPath(t, "ar")
	tools := newFakeTools()

	_, err := fakePipeline(kernelProject(t), tools, Config{}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolingUnavailable))
	assert.Contains(t, err.Error(), "ar (static library archiver)")
	assert.Empty(t, tools.calls, "no probe may run without tools")
}

func TestPipelineCompileFailureAborts(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()
	tools.failSource = "kernel.cpp"

	report, err := fakePipeline(kernelProject(t), tools, Config{Parallel: 1}).Run(context.Background())
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "Build output:")

	var ve *VariantError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "pkg._kernel", ve.Variant)

	require.Len(t, report.Variants, 1, "later variants are not attempted")
	assert.False(t, report.Variants[0].Success)
	assert.Empty(t, report.Manifest)
}

func TestPipelineSecondRunIsUpToDate(t *testing.T) {
	stubLookPath(t)
	project := kernelProject(t)
	tools := newFakeTools()

	_, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	tools.reset()
	report, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	for _, v := range report.Variants {
		assert.True(t, v.UpToDate, v.Variant)
		assert.Zero(t, v.Compiled, v.Variant)
	}
	assert.Empty(t, tools.callsWith("-shared"), "nothing is relinked")
}

func TestPipelineModeChangeRebuilds(t *testing.T) {
	stubLookPath(t)
	project := kernelProject(t)
	tools := newFakeTools()

	_, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	tools.reset()
	report, err := fakePipeline(project, tools, Config{Debug: true}).Run(context.Background())
	require.NoError(t, err)

	// Debug changes how variants compile, never which are planned.
	assert.Equal(t,
		[]string{"pkg._kernel", "pkg._kernel_sse2", "pkg._kernel_sse4", "pkg._kernel_avx2"},
		report.Plan.Names())
	for _, v := range report.Variants {
		assert.Equal(t, 2, v.Compiled, v.Variant)
	}
	for _, call := range tools.callsWith("-c", "pkg._kernel") {
		assert.Contains(t, call, "-g")
		assert.Contains(t, call, "-DSIMDEXT_TRACE=1")
	}
}

func TestPipelineFailedBuildKeepsFlagsStale(t *testing.T) {
	stubLookPath(t)
	project := kernelProject(t)
	tools := newFakeTools()

	_, err := fakePipeline(project, tools, Config{Parallel: 1}).Run(context.Background())
	require.NoError(t, err)

	// The debug build fails before align.cpp is recompiled.
	tools.reset()
	tools.failSource = "kernel.cpp"
	_, err = fakePipeline(project, tools, Config{Parallel: 1, Debug: true}).Run(context.Background())
	require.Error(t, err)

	tools.reset()
	tools.failSource = ""
	report, err := fakePipeline(project, tools, Config{Parallel: 1, Debug: true}).Run(context.Background())
	require.NoError(t, err)

	baseObj := filepath.Join(project.Root, DefaultBuildTemp, "variant", "pkg._kernel", "obj", "src", "align.o")
	compiles := tools.callsWith("-c", "align.cpp", baseObj)
	require.Len(t, compiles, 1, "release object must not pass for a debug one")
	assert.Contains(t, compiles[0], "-g")
	for _, v := range report.Variants {
		assert.Equal(t, 2, v.Compiled, v.Variant)
	}
}

func TestPipelineLibraryAndVariantMayShareName(t *testing.T) {
	stubLookPath(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "k.c"), "int variant_k(void) { return 1; }\n")
	writeFile(t, filepath.Join(root, "vendor", "k.c"), "int library_k(void) { return 2; }\n")
	project := &Project{
		Root:      root,
		Libraries: []LibraryDescriptor{{Name: "core", Sources: []string{"vendor/k.c"}}},
		Variants:  []VariantDescriptor{{Name: "core", Language: LangC, Sources: []string{"k.c"}, Libraries: []string{"core"}}},
	}
	require.NoError(t, project.Validate())
	tools := newFakeTools()

	_, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)

	temp := filepath.Join(root, DefaultBuildTemp)
	libObj := filepath.Join(temp, "lib", "core", "obj", "k.o")
	variantObj := filepath.Join(temp, "variant", "core", "obj", "k.o")
	require.Len(t, tools.callsWith("-c", libObj), 1)
	require.Len(t, tools.callsWith("-c", variantObj), 1)
	assert.FileExists(t, filepath.Join(temp, "lib", "core", stampName))
	assert.FileExists(t, filepath.Join(temp, "variant", "core", stampName))

	tools.reset()
	report, err := fakePipeline(project, tools, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tools.callsWith("-c", "k.c"), "separate stamps keep both builds fresh")
	assert.Zero(t, report.Libraries[0].Compiled)
}

func TestPipelineRejectsNegativeParallelism(t *testing.T) {
	stubLookPath(t)
	tools := newFakeTools()

	_, err := fakePipeline(kernelProject(t), tools, Config{Parallel: -1}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not be negative")
	assert.Empty(t, tools.calls)
}

func TestPipelineInstallsIntoOutputDir(t *testing.T) {
	stubLookPath(t)
	project := kernelProject(t)
	tools := newFakeTools()
	out := filepath.Join(t.TempDir(), "site")

	report, err := fakePipeline(project, tools, Config{OutputDir: out}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, ManifestName), report.Manifest)
	for _, rel := range report.Artifacts() {
		assert.FileExists(t, filepath.Join(out, filepath.FromSlash(rel)))
	}

	removed, err := Clean(project, Config{Platform: x86Linux, OutputDir: out}, true)
	require.NoError(t, err)
	assert.Contains(t, removed, filepath.Join(out, ManifestName))
	assert.NoDirExists(t, filepath.Join(project.Root, DefaultBuildTemp))
	_, statErr := os.Stat(filepath.Join(out, "pkg", "_kernel.so"))
	assert.True(t, os.IsNotExist(statErr))
}
