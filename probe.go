package simdext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Prober compiles, links and runs probe programs. *Compiler implements it;
// the capability detection never shells out on its own.
type Prober interface {
	Profile() ToolchainProfile
	CompileObject(ctx context.Context, spec CompileSpec) error
	LinkExecutable(ctx context.Context, spec LinkSpec) error
	Execute(ctx context.Context, binary string) error
}

// Outcome is the tri-state result of a capability probe.
type Outcome int

// Probe outcomes.
const (
	// OutcomeUnsupported: the probe did not compile or link.
	OutcomeUnsupported Outcome = iota
	// OutcomeSupported: the probe compiled, linked and returned 0.
	OutcomeSupported
	// OutcomeAssumed: the probe compiled and linked but could not be run
	// to success on the build host. Support is assumed so a cross build
	// still ships the variant; runtime dispatch checks the real hardware.
	OutcomeAssumed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSupported:
		return "supported"
	case OutcomeAssumed:
		return "assumed"
	default:
		return "unsupported"
	}
}

// ProbeResult is the outcome of probing one extension with one flag set.
type ProbeResult struct {
	Extension Extension
	Outcome   Outcome
	Flags     []string
	Err       error
}

// Supported reports whether the variant may be built.
func (r ProbeResult) Supported() bool {
	return r.Outcome != OutcomeUnsupported
}

// Ran reports whether the probe binary ran to success on the build host.
func (r ProbeResult) Ran() bool {
	return r.Outcome == OutcomeSupported
}

// Report renders the result the way configure scripts do, distinguishing
// "works with no special flags" from "works only with flags X".
func (r ProbeResult) Report() string {
	switch r.Outcome {
	case OutcomeAssumed:
		return "yes, but cannot run code"
	case OutcomeSupported:
		if len(r.Flags) == 0 {
			return "yes"
		}
		return "yes, with " + strings.Join(r.Flags, " ")
	default:
		return "no"
	}
}

// probeSource synthesizes a program that exercises ext's set, transform and
// extract intrinsics and returns 0 only if lane 1 reads back as 1.
func probeSource(ext Extension) string {
	return fmt.Sprintf(`#include <%s>
int main() {
    %s      a = %s(1);
            a = %s(a);
    short   x = %s(a, 1);
    return (x == 1) ? 0 : 1;
}
`, ext.Header, ext.Vector, ext.Set, ext.Transform, ext.Extract)
}

// functionSource synthesizes a program that calls a library function.
func functionSource(header, name, args string) string {
	return fmt.Sprintf(`#include <%s>
int main() {
    %s%s;
    return 0;
}
`, header, name, args)
}

// CapabilityProbe runs probe programs inside a scratch directory.
//
// Debug applies to function checks only; extension probes always compile
// with plain flags so the result does not depend on the build mode.
//
// Every probe gets its own temporary directory under Dir, so concurrent
// probes would never collide even though the pipeline runs them one by one.
// The directory is removed on every exit path.
type CapabilityProbe struct {
	Prober Prober
	Dir    string
	Debug  bool
	Logger *Logger
}

// Probe compiles, links and runs the synthesized program for ext with flags.
//
// Compile or link failure means the toolchain cannot target ext. A binary
// that builds but fails or cannot launch is assumed supported: the build
// host not running it says nothing about the target host.
func (p *CapabilityProbe) Probe(ctx context.Context, ext Extension, flags []string) ProbeResult {
	result := ProbeResult{Extension: ext, Flags: append([]string{}, flags...)}

	err := p.withScratch("have_"+strings.ToLower(ext.Name), func(dir, base string) error {
		return p.build(ctx, dir, base, probeSource(ext), flags, false, true)
	})

	switch {
	case err == nil:
		result.Outcome = OutcomeSupported
	case isExecFailure(err):
		result.Outcome = OutcomeAssumed
		result.Err = err
	default:
		result.Outcome = OutcomeUnsupported
		result.Err = err
	}

	p.logger().LogProbe(ctx, result)
	return result
}

// CheckFunction reports whether a C library function compiles and links,
// e.g. CheckFunction(ctx, "getauxval", "sys/auxv.h", "(0)").
func (p *CapabilityProbe) CheckFunction(ctx context.Context, name, header, args string) bool {
	if args == "" {
		args = "()"
	}
	err := p.withScratch("have_"+name, func(dir, base string) error {
		return p.build(ctx, dir, base, functionSource(header, name, args), nil, p.Debug, false)
	})
	ok := err == nil
	p.logger().LogFunctionCheck(ctx, name, ok)
	return ok
}

func (p *CapabilityProbe) build(ctx context.Context, dir, base, source string, flags []string, debug, run bool) error {
	profile := p.Prober.Profile()

	src := filepath.Join(dir, base+".c")
	if err := os.WriteFile(src, []byte(source), 0o600); err != nil {
		return err
	}

	compileFlags := append([]string{}, flags...)
	if debug {
		compileFlags = append(compileFlags, profile.DebugFlags()...)
	}

	obj := filepath.Join(dir, profile.ObjectName(base))
	if err := p.Prober.CompileObject(ctx, CompileSpec{
		Source:   src,
		Object:   obj,
		Language: LangC,
		Flags:    compileFlags,
	}); err != nil {
		return err
	}

	exe := filepath.Join(dir, profile.ExecutableName(base))
	if err := p.Prober.LinkExecutable(ctx, LinkSpec{
		Objects:  []string{obj},
		Output:   exe,
		Language: LangC,
		Flags:    flags,
	}); err != nil {
		return err
	}

	if !run {
		return nil
	}
	return p.Prober.Execute(ctx, exe)
}

// withScratch creates a unique directory for one probe and removes it,
// with everything generated inside, when fn returns or panics.
func (p *CapabilityProbe) withScratch(base string, fn func(dir, base string) error) error {
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return err
	}
	dir, err := os.MkdirTemp(p.Dir, base+"_*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	return fn(dir, base)
}

func (p *CapabilityProbe) logger() *Logger {
	if p.Logger == nil {
		return NoopLogger()
	}
	return p.Logger
}

func isExecFailure(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr)
}
