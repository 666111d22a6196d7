package simdext

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyBuildPlan is returned when no variant can be built for the
	// detected platform. It is always fatal.
	ErrEmptyBuildPlan = errors.New("no variant can be built")

	// ErrToolingUnavailable is returned before any probing when a required
	// build tool (compiler, archiver, source generator) is missing.
	ErrToolingUnavailable = errors.New("required build tool unavailable")

	// ErrUnknownLibrary is returned when a variant links a support library
	// that the project does not declare.
	ErrUnknownLibrary = errors.New("unknown support library")

	// ErrUnknownCompiler is returned when no toolchain profile matches the
	// configured compiler.
	ErrUnknownCompiler = errors.New("unknown compiler family")
)

// EmptyBuildPlanError names the host that has no usable backend.
//
// errors.Is(err, ErrEmptyBuildPlan) reports true.
type EmptyBuildPlanError struct {
	Platform Platform
}

func (e *EmptyBuildPlanError) Error() string {
	machine := e.Platform.Machine
	if machine == "" {
		machine = string(e.Platform.CPU)
	}
	return fmt.Sprintf("cannot build for platform %s, no SIMD backend supported", machine)
}

func (e *EmptyBuildPlanError) Unwrap() error { return ErrEmptyBuildPlan }

// ToolingError lists the tools that were not found.
//
// errors.Is(err, ErrToolingUnavailable) reports true.
type ToolingError struct {
	Missing []string
}

func (e *ToolingError) Error() string {
	if len(e.Missing) == 1 {
		return fmt.Sprintf("%s not found in PATH", e.Missing[0])
	}
	return fmt.Sprintf("missing required tools: %s", strings.Join(e.Missing, ", "))
}

func (e *ToolingError) Unwrap() error { return ErrToolingUnavailable }

// CompileError reports a failed compiler invocation together with its output.
type CompileError struct {
	Source string
	Output []string
	cause  error
}

func (e *CompileError) Error() string {
	return BuildError("compile "+e.Source, e.Output, e.cause).Error()
}

func (e *CompileError) Unwrap() error { return e.cause }

// LinkError reports a failed link or archive step together with its output.
type LinkError struct {
	Target string
	Output []string
	cause  error
}

func (e *LinkError) Error() string {
	return BuildError("link "+e.Target, e.Output, e.cause).Error()
}

func (e *LinkError) Unwrap() error { return e.cause }

// ExecError reports a probe binary that could not be run to a zero exit.
//
// Started is false when the binary could not be launched at all, which is
// what happens when cross-compiling for a foreign architecture. A started
// binary either exited with Status (Ran) or was killed: by a signal, or
// because it outlived Timeout (TimedOut).
type ExecError struct {
	Binary   string
	Started  bool
	Ran      bool
	Status   int
	TimedOut bool
	Timeout  time.Duration
	cause    error
}

func (e *ExecError) Error() string {
	switch {
	case !e.Started:
		return fmt.Sprintf("cannot launch %s: %v", e.Binary, e.cause)
	case e.TimedOut:
		return fmt.Sprintf("%s timed out after %s and was killed", e.Binary, e.Timeout)
	case !e.Ran:
		return fmt.Sprintf("%s was killed: %v", e.Binary, e.cause)
	}
	return fmt.Sprintf("%s exited with status %d", e.Binary, e.Status)
}

func (e *ExecError) Unwrap() error { return e.cause }

// VariantError wraps a failure while building a planned variant.
type VariantError struct {
	Variant string
	cause   error
}

func (e *VariantError) Error() string {
	return fmt.Sprintf("variant %s: %v", e.Variant, e.cause)
}

func (e *VariantError) Unwrap() error { return e.cause }
