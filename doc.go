// Package simdext builds one native artifact per SIMD variant of an
// accelerated routine and lets the runtime pick the best one.
//
// The compiler is probed for each instruction set extension of the target
// CPU family (SSE2, SSE4.1 and AVX2 on x86, NEON on ARM). Every extension
// the toolchain can target yields a variant compiled with that extension's
// flags in its own scratch directory; a baseline variant is always built
// when the architecture allows it. Package dispatch chooses among the
// installed artifacts at load time from the machine's actual features.
//
// # Basic Usage
//
//	project, err := simdext.LoadProject("simdext.yaml")
//	if err != nil {
//	    return err
//	}
//
//	report, err := simdext.NewPipeline(project, simdext.Config{
//	    Parallel: 4,
//	    Logger:   simdext.NewTextLogger(os.Stderr, slog.LevelInfo),
//	}).Run(ctx)
//
// # Architecture
//
//	Pipeline
//	├── ToolchainFromEnv    CC, CXX, AR, CFLAGS, LDFLAGS → Toolchain + profile
//	├── DetectCapabilities  CapabilityProbe per extension → CapabilityMatrix
//	├── Plan                declared variants × matrix × toggles → BuildPlan
//	├── LibraryBuilder      support libraries, patched and archived once
//	├── VariantCompiler     generate, compile (errgroup pool), link per variant
//	└── installVariants     artifacts + simdext-manifest.json
//
// Compiler families are handled by ToolchainProfile implementations
// (GNUProfile for gcc/clang, MSVCProfile for cl/clang-cl) chosen through a
// ProfileRegistry, where the first profile matching the compiler wins.
//
// # Requirements
//
// Requires Go 1.25 or later and a C/C++ toolchain on PATH.
//
// # Platform Support
//
// Linux, FreeBSD and macOS with gcc or clang; Windows with MSVC.
// Cross-compilation is supported: a probe binary that builds but cannot be
// run on the build host is assumed supported.
package simdext
