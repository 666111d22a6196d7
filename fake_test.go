package simdext

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeTools stands in for cc, c++ and ar. Compiles and links write their
// -o output, ar writes its archive, probe binaries "run" unless listed in
// badRuns. Output directories are never created, as with a real compiler.
type fakeTools struct {
	mu    sync.Mutex
	calls [][]string

	badFlags   map[string]bool // any command using the flag fails
	badRuns    map[string]bool // probe binaries (base name) that fail to run
	badFuncs   map[string]bool // function checks that fail to link
	failSource string          // compiles of sources containing this fail
}

func newFakeTools() *fakeTools {
	return &fakeTools{
		badFlags: map[string]bool{},
		badRuns:  map[string]bool{},
		badFuncs: map[string]bool{},
	}
}

func (f *fakeTools) run(_ context.Context, _ map[string]string, name string, args ...string) ([]string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	base := filepath.Base(name)
	switch {
	case name == "ar":
		return nil, touch(args[1])
	case strings.HasPrefix(base, "have_"):
		if f.badRuns[base] {
			return []string{"Illegal instruction"}, errors.New("signal: illegal instruction")
		}
		return nil, nil
	}

	for _, a := range args {
		if f.badFlags[a] {
			return []string{"error: unrecognized command-line option '" + a + "'"}, errors.New("exit status 1")
		}
	}

	if i := slices.Index(args, "-c"); i >= 0 {
		src := args[i+1]
		for fn := range f.badFuncs {
			if strings.HasPrefix(filepath.Base(src), "have_"+fn) {
				return []string{"undefined reference to `" + fn + "'"}, errors.New("exit status 1")
			}
		}
		if f.failSource != "" && strings.Contains(src, f.failSource) {
			return []string{src + ":1:1: error: expected declaration"}, errors.New("exit status 1")
		}
	}

	if i := slices.Index(args, "-o"); i >= 0 && i+1 < len(args) {
		return nil, touch(args[i+1])
	}
	return nil, nil
}

// callsWith returns the recorded command lines containing every fragment.
func (f *fakeTools) callsWith(fragments ...string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out [][]string
	for _, call := range f.calls {
		line := strings.Join(call, " ")
		matched := true
		for _, frag := range fragments {
			if !strings.Contains(line, frag) {
				matched = false
				break
			}
		}
		if matched {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeTools) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func (f *fakeTools) compiler(target Platform) *Compiler {
	c := NewCompiler(&Toolchain{
		CC:      "cc",
		CXX:     "c++",
		AR:      "ar",
		Profile: &GNUProfile{Target: target},
	}, nil)
	c.run = f.run
	return c
}

func touch(path string) error {
	return os.WriteFile(path, []byte("built"), 0o600)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

// stubLookPath makes every tool appear installed except the listed ones.
func stubLookPath(t *testing.T, missing ...string) {
	t.Helper()
	orig := execLookPath
	execLookPath = func(file string) (string, error) {
		if slices.Contains(missing, file) {
			return "", errors.New("executable file not found in $PATH")
		}
		return "/usr/bin/" + file, nil
	}
	t.Cleanup(func() { execLookPath = orig })
}

var (
	x86Linux   = Identify("x86_64", "Linux")
	arm64Linux = Identify("aarch64", "Linux")
	mipsLinux  = Identify("mips", "Linux")
)

// kernelProject declares the alignment kernel the way a real project does:
// one baseline and one variant per extension, all sharing align.cpp.
func kernelProject(t *testing.T) *Project {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "kernel.cpp"), "int kernel() { return 0; }\n")
	writeFile(t, filepath.Join(root, "src", "align.cpp"), "int align() { return 0; }\n")
	writeFile(t, filepath.Join(root, "src", "align.h"), "int align();\n")

	sources := []string{"src/kernel.cpp", "src/align.cpp"}
	return &Project{
		Root: root,
		Variants: []VariantDescriptor{
			{Name: "pkg._kernel", Sources: sources, IncludeDirs: []string{"src"},
				Architectures: []CPUFamily{CPUX86, CPUArm, CPUAArch64}},
			{Name: "pkg._kernel_sse2", Requires: "SSE2", Sources: sources, IncludeDirs: []string{"src"}},
			{Name: "pkg._kernel_sse4", Requires: "SSE4", Sources: sources, IncludeDirs: []string{"src"}},
			{Name: "pkg._kernel_avx2", Requires: "AVX2", Sources: sources, IncludeDirs: []string{"src"}},
			{Name: "pkg._kernel_neon", Requires: "NEON", Sources: sources, IncludeDirs: []string{"src"}},
		},
	}
}

func fakePipeline(project *Project, tools *fakeTools, cfg Config) *Pipeline {
	if cfg.Platform.CPU == "" {
		cfg.Platform = x86Linux
	}
	if cfg.Parallel == 0 {
		cfg.Parallel = 2
	}
	p := NewPipeline(project, cfg)
	p.Toolchain = tools.compiler(cfg.Platform).Toolchain
	p.run = tools.run
	return p
}
