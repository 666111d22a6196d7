package simdext

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const widthSource = `#ifndef KERNEL_WIDTH
#define KERNEL_WIDTH 1
#endif
int kernel_width(void) { return KERNEL_WIDTH; }
`

// TestIntegrationRealToolchain builds a small project with the system C
// compiler. It runs only on Linux amd64/arm64 hosts with cc, c++ and ar installed.
func TestIntegrationRealToolchain(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if runtime.GOOS != "linux" || (runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64") {
		t.Skip("integration test needs a Linux amd64 or arm64 toolchain")
	}
	for _, tool := range []string{"cc", "c++", "ar"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("%s not installed", tool)
		}
	}
	t.Setenv("CC", "")
	t.Setenv("CXX", "")
	t.Setenv("AR", "")
	t.Setenv("CFLAGS", "")
	t.Setenv("LDFLAGS", "")

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "width.c"), widthSource)

	src := []string{"src/width.c"}
	project := &Project{
		Root: root,
		Variants: []VariantDescriptor{
			{Name: "pkg._width", Language: LangC, Sources: src},
			{Name: "pkg._width_sse2", Requires: "SSE2", Language: LangC, Sources: src, Macros: map[string]int{"KERNEL_WIDTH": 16}},
			{Name: "pkg._width_avx2", Requires: "AVX2", Language: LangC, Sources: src, Macros: map[string]int{"KERNEL_WIDTH": 32}},
			{Name: "pkg._width_neon", Requires: "NEON", Language: LangC, Sources: src, Macros: map[string]int{"KERNEL_WIDTH": 16}},
		},
	}

	report, err := NewPipeline(project, Config{}).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.Plan.Has("pkg._width"))

	m, err := ReadManifest(report.Manifest)
	require.NoError(t, err)
	require.Len(t, m.Variants, report.Plan.Len())

	for _, entry := range m.Variants {
		info, err := os.Stat(filepath.Join(filepath.Dir(report.Manifest), filepath.FromSlash(entry.Artifact)))
		require.NoError(t, err, entry.Name)
		assert.Positive(t, info.Size(), entry.Name)
	}

	// Probe scratch directories never outlive the probe.
	entries, err := os.ReadDir(filepath.Join(root, DefaultBuildTemp, "probes"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
