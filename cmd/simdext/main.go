// Package main is the command-line front end of the SIMD variant builder.
// It probes the toolchain, builds every variant the compiler can target
// and installs them with a manifest for the runtime dispatcher.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/magefile/mage/mg"

	"github.com/contriboss/simdext-go"
	"github.com/contriboss/simdext-go/dispatch"
)

// Exit codes.
const (
	exitFailure   = 1
	exitTooling   = 2
	exitEmptyPlan = 3
)

var (
	project      = flag.String("project", "simdext.yaml", "project declaration")
	disableAVX2  = flag.Bool("disable-avx2", false, "do not build the AVX2 variant")
	disableSSE2  = flag.Bool("disable-sse2", false, "do not build the SSE2 variant")
	disableSSE4  = flag.Bool("disable-sse4", false, "do not build the SSE4 variant")
	disableNEON  = flag.Bool("disable-neon", false, "do not build the NEON variant")
	parallel     = flag.Int("j", 0, "parallel compile jobs (0 = number of CPUs)")
	debug        = flag.Bool("debug", false, "debug symbols and tracing instead of NDEBUG")
	force        = flag.Bool("force", false, "rebuild everything")
	verbose      = flag.Bool("v", false, "verbose output")
	jsonLogs     = flag.Bool("json", false, "log JSON records")
	buildTemp    = flag.String("build-temp", "", "scratch directory (default: build/temp)")
	buildLib     = flag.String("build-lib", "", "library and artifact directory (default: build/lib)")
	outputDir    = flag.String("o", "", "install directory (default: build-lib)")
	probeTimeout = flag.Duration("probe-timeout", simdext.DefaultProbeTimeout, "limit for running one probe binary")
	clean        = flag.Bool("clean", false, "remove generator annotations and exit")
	cleanAll     = flag.Bool("all", false, "with -clean, remove every build product")
	selectFrom   = flag.String("select", "", "print the variant the dispatcher picks from this manifest and exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(mg.ExitStatus(err))
	}
}

func run() error {
	if err := checkFlags(); err != nil {
		return err
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := simdext.NewTextLogger(os.Stderr, level)
	if *jsonLogs {
		logger = simdext.NewJSONLogger(os.Stderr, level)
	}

	if *selectFrom != "" {
		return selectVariant(*selectFrom)
	}

	proj, err := simdext.LoadProject(*project)
	if err != nil {
		return err
	}

	cfg := simdext.Config{
		Toggles:      toggles(),
		Parallel:     *parallel,
		Debug:        *debug,
		Force:        *force,
		Verbose:      *verbose,
		BuildTemp:    *buildTemp,
		BuildLib:     *buildLib,
		OutputDir:    *outputDir,
		ProbeTimeout: *probeTimeout,
		Logger:       logger,
	}

	if *clean {
		removed, err := simdext.Clean(proj, cfg, *cleanAll)
		for _, path := range removed {
			logger.Info("removed", "path", path)
		}
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	report, err := simdext.NewPipeline(proj, cfg).Run(ctx)
	switch {
	case errors.Is(err, simdext.ErrToolingUnavailable):
		return mg.Fatalf(exitTooling, "%v", err)
	case errors.Is(err, simdext.ErrEmptyBuildPlan):
		return mg.Fatalf(exitEmptyPlan, "%v", err)
	case err != nil:
		return mg.Fatalf(exitFailure, "%v", err)
	}

	fmt.Printf("Built %d variant(s) for %s in %s: %s\n",
		len(report.Variants), report.Platform, time.Since(start).Round(time.Millisecond),
		strings.Join(report.Plan.Names(), ", "))
	fmt.Printf("Manifest: %s\n", report.Manifest)
	return nil
}

// checkFlags rejects flag values that have no meaning.
func checkFlags() error {
	if *parallel < 0 {
		return mg.Fatalf(exitFailure, "-j must be 0 (number of CPUs) or a positive job count, got %d", *parallel)
	}
	if *probeTimeout < 0 {
		return mg.Fatalf(exitFailure, "-probe-timeout must not be negative, got %s", *probeTimeout)
	}
	return nil
}

func toggles() simdext.ToggleSet {
	var names []string
	if *disableAVX2 {
		names = append(names, simdext.AVX2.Name)
	}
	if *disableSSE2 {
		names = append(names, simdext.SSE2.Name)
	}
	if *disableSSE4 {
		names = append(names, simdext.SSE4.Name)
	}
	if *disableNEON {
		names = append(names, simdext.NEON.Name)
	}
	return simdext.NewToggleSet(names...)
}

func selectVariant(manifest string) error {
	registry, err := dispatch.LoadManifest(manifest)
	if err != nil {
		return err
	}

	features := dispatch.DetectFeatures()
	host := dispatch.Host()
	v, err := registry.Lookup(features)
	if err != nil {
		return err
	}

	fmt.Printf("CPU: %s (%s), %d logical cores\n", host.Brand, host.Vendor, host.LogicalCores)
	fmt.Printf("Extensions: %s\n", strings.Join(features.Names(), " "))
	fmt.Printf("Selected: %s\n", v.Name)
	fmt.Printf("Artifact: %s\n", v.Artifact)
	return nil
}
