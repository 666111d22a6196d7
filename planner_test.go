package simdext

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func supported(ext Extension, flags ...string) Capability {
	return Capability{
		Extension: ext,
		Supported: true,
		Outcome:   OutcomeSupported,
		Flags:     flags,
		Macros:    map[string]int{ext.Macro: 1},
	}
}

func x86Matrix() *CapabilityMatrix {
	return NewCapabilityMatrix(x86Linux,
		supported(AVX2, "-mavx", "-mavx2"),
		supported(SSE4, "-msse4.1"),
		supported(SSE2, "-msse2"),
	)
}

func declared() []VariantDescriptor {
	return []VariantDescriptor{
		{Name: "base", Sources: []string{"k.cpp"}, Architectures: []CPUFamily{CPUX86, CPUArm, CPUAArch64}},
		{Name: "sse2", Requires: "SSE2", Sources: []string{"k.cpp"}},
		{Name: "sse4", Requires: "SSE4", Sources: []string{"k.cpp"}},
		{Name: "avx2", Requires: "AVX2", Sources: []string{"k.cpp"}, ExtraCompileArgs: []string{"-O3"}},
		{Name: "neon", Requires: "NEON", Sources: []string{"k.cpp"}},
	}
}

func TestPlanX86(t *testing.T) {
	plan, err := Plan(declared(), x86Matrix(), ToggleSet{}, x86Linux)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "sse2", "sse4", "avx2"}, plan.Names())

	variants := plan.Variants()
	avx2 := variants[3]
	assert.Equal(t, "AVX2", avx2.Requires())
	assert.Equal(t, []string{"-O3", "-mavx", "-mavx2"}, avx2.CompileArgs)
	assert.Equal(t, []string{"-mavx", "-mavx2"}, avx2.LinkArgs)
	assert.Equal(t, map[string]int{"__AVX2__": 1}, avx2.Macros)

	base := variants[0]
	assert.Empty(t, base.Requires())
	assert.Empty(t, base.CompileArgs)
}

func TestPlanToggleOverridesDetection(t *testing.T) {
	plan, err := Plan(declared(), x86Matrix(), NewToggleSet("SSE2"), x86Linux)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "sse4", "avx2"}, plan.Names())
}

func TestPlanNeverIncludesForeignFamily(t *testing.T) {
	// Even a matrix claiming NEON support cannot put it in an x86 plan.
	matrix := NewCapabilityMatrix(x86Linux, supported(NEON), supported(SSE2, "-msse2"))
	plan, err := Plan(declared(), matrix, ToggleSet{}, x86Linux)
	require.NoError(t, err)
	assert.False(t, plan.Has("neon"))
	assert.Equal(t, []string{"base", "sse2"}, plan.Names())
}

func TestPlanBaselineSafetyNet(t *testing.T) {
	nothing := NewCapabilityMatrix(x86Linux,
		Capability{Extension: AVX2},
		Capability{Extension: SSE4},
		Capability{Extension: SSE2},
	)
	plan, err := Plan(declared(), nothing, NewToggleSet("avx2", "sse4", "sse2"), x86Linux)
	require.NoError(t, err)
	assert.Equal(t, []string{"base"}, plan.Names())
}

func TestPlanEmpty(t *testing.T) {
	_, err := Plan(declared(), NewCapabilityMatrix(mipsLinux), ToggleSet{}, mipsLinux)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyBuildPlan))

	var planErr *EmptyBuildPlanError
	require.True(t, errors.As(err, &planErr))
	assert.Equal(t, "cannot build for platform mips, no SIMD backend supported", err.Error())
}

func TestPlanIsImmutable(t *testing.T) {
	plan, err := Plan(declared(), x86Matrix(), ToggleSet{}, x86Linux)
	require.NoError(t, err)

	v := plan.Variants()
	v[3].CompileArgs[0] = "-O0"
	v[3].Macros["EXTRA"] = 1
	v[3].Descriptor.Sources[0] = "other.cpp"

	again := plan.Variants()
	assert.Equal(t, "-O3", again[3].CompileArgs[0])
	assert.NotContains(t, again[3].Macros, "EXTRA")
	assert.Equal(t, "k.cpp", again[3].Descriptor.Sources[0])
}

func TestPlanUnknownExtension(t *testing.T) {
	_, err := Plan([]VariantDescriptor{{Name: "x", Requires: "AVX512", Sources: []string{"k.c"}}}, x86Matrix(), ToggleSet{}, x86Linux)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown extension")
}

func TestMatrixClearsUnsupportedFlags(t *testing.T) {
	m := NewCapabilityMatrix(x86Linux, Capability{Extension: AVX2, Flags: []string{"-mavx2"}})
	assert.False(t, m.Supported(AVX2))
	assert.Empty(t, m.Flags(AVX2))
	assert.Equal(t, map[string]bool{
		"AVX2_BUILD_SUPPORT": false,
		"SSE4_BUILD_SUPPORT": false,
		"SSE2_BUILD_SUPPORT": false,
		"NEON_BUILD_SUPPORT": false,
	}, m.BuildSupport())

	flags := x86Matrix().Flags(AVX2)
	flags[0] = "-mno-avx"
	assert.Equal(t, []string{"-mavx", "-mavx2"}, x86Matrix().Flags(AVX2))
}

func TestDetectCapabilitiesARM(t *testing.T) {
	tools := newFakeTools()
	probe := &CapabilityProbe{Prober: tools.compiler(arm64Linux), Dir: t.TempDir()}

	m, err := DetectCapabilities(context.Background(), probe, arm64Linux, ToggleSet{})
	require.NoError(t, err)

	rows := m.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, NEON, rows[0].Extension)
	assert.True(t, rows[0].Supported)
	assert.Empty(t, rows[0].Flags, "NEON is default-on for aarch64")
	assert.Empty(t, tools.callsWith("have_avx2"))
	assert.Empty(t, tools.callsWith("have_sse"))
}

func TestDetectCapabilitiesCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := &CapabilityProbe{Prober: newFakeTools().compiler(x86Linux), Dir: t.TempDir()}
	_, err := DetectCapabilities(ctx, probe, x86Linux, ToggleSet{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseToggles(t *testing.T) {
	toggles := ParseToggles("avx2, sse2,,")
	assert.True(t, toggles.Disabled(AVX2))
	assert.True(t, toggles.Disabled(SSE2))
	assert.False(t, toggles.Disabled(SSE4))
	assert.Equal(t, []string{"AVX2", "SSE2"}, toggles.Names())
}
