package simdext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/magefile/mage/sh"
)

// DefaultProbeTimeout bounds a single probe binary execution.
const DefaultProbeTimeout = 30 * time.Second

// Toolchain names the programs used to compile, archive and link, plus the
// user flags taken from the environment.
type Toolchain struct {
	CC     string // C compiler command, may include a wrapper ("ccache gcc")
	CXX    string // C++ compiler command
	AR     string // static archiver (ar, lib)
	Linker string // separate linker for MSVC (link); empty means link with the compiler driver

	CFlags  []string
	LDFlags []string

	Profile ToolchainProfile
}

// ToolchainFromEnv builds a toolchain for target from CC, CXX, AR, CFLAGS
// and LDFLAGS, falling back to the platform default compilers.
//
// The archiver and linker defaults follow the compiler family, not the
// target OS: gcc on Windows archives with ar, and clang-cl anywhere uses
// llvm-lib and lld-link.
//
// On macOS, foreign "-arch X" pairs inherited from universal-binary
// interpreters are stripped because the SIMD code only builds for the
// host architecture.
func ToolchainFromEnv(target Platform, registry *ProfileRegistry) (*Toolchain, error) {
	tc := &Toolchain{CC: "cc"}
	if target.OS == OSWindows {
		tc.CC = "cl"
	}
	if v := os.Getenv("CC"); v != "" {
		tc.CC = v
	}

	if registry == nil {
		registry = NewProfileRegistry()
	}
	profile, err := registry.ProfileFor(tc.CC, target)
	if err != nil {
		return nil, err
	}
	tc.Profile = profile

	switch {
	case profile.Family() != CompilerMSVC:
		tc.CXX, tc.AR = "c++", "ar"
	case isClangCL(tc.CC):
		tc.CXX, tc.AR, tc.Linker = tc.CC, "llvm-lib", "lld-link"
	default:
		tc.CXX, tc.AR, tc.Linker = tc.CC, "lib", "link"
	}

	if v := os.Getenv("CXX"); v != "" {
		tc.CXX = v
	}
	if v := os.Getenv("AR"); v != "" {
		tc.AR = v
	}
	tc.CFlags = strings.Fields(os.Getenv("CFLAGS"))
	tc.LDFlags = strings.Fields(os.Getenv("LDFLAGS"))

	if target.OS == OSMacOS {
		tc.CFlags = stripForeignArch(tc.CFlags, target.Machine)
		tc.LDFlags = stripForeignArch(tc.LDFlags, target.Machine)
	}
	return tc, nil
}

// isClangCL reports whether a compiler command runs clang-cl.
func isClangCL(command string) bool {
	for _, f := range strings.Fields(command) {
		name := strings.TrimSuffix(strings.ToLower(filepath.Base(f)), ".exe")
		if strings.HasPrefix(name, "clang-cl") {
			return true
		}
	}
	return false
}

// stripForeignArch removes "-arch X" pairs whose X is not the host machine.
func stripForeignArch(flags []string, machine string) []string {
	out := make([]string, 0, len(flags))
	for i := 0; i < len(flags); i++ {
		if flags[i] == "-arch" && i+1 < len(flags) {
			if flags[i+1] != machine {
				i++
				continue
			}
		}
		out = append(out, flags[i])
	}
	return out
}

// RequiredTools returns the tools this toolchain needs on PATH.
func (tc *Toolchain) RequiredTools() []ToolRequirement {
	reqs := []ToolRequirement{
		{Name: commandName(tc.CC), Purpose: "C compiler"},
		{Name: commandName(tc.CXX), Purpose: "C++ compiler"},
		{Name: commandName(tc.AR), Purpose: "static library archiver"},
	}
	if tc.Linker != "" {
		reqs = append(reqs, ToolRequirement{Name: commandName(tc.Linker), Purpose: "linker"})
	}
	return reqs
}

func (tc *Toolchain) driver(lang Language) string {
	if lang == LangCXX {
		return tc.CXX
	}
	return tc.CC
}

func (tc *Toolchain) linker(lang Language) string {
	if tc.Linker != "" {
		return tc.Linker
	}
	return tc.driver(lang)
}

func commandName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// commandRunner executes a program and returns its combined output lines.
type commandRunner func(ctx context.Context, env map[string]string, name string, args ...string) ([]string, error)

// execCommand is the default commandRunner.
func execCommand(ctx context.Context, env map[string]string, name string, args ...string) ([]string, error) {
	//nolint:gosec // Command comes from the configured toolchain
	cmd := exec.CommandContext(ctx, name, args...)

	cmd.Env = os.Environ()
	for key, value := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	output, err := cmd.CombinedOutput()
	text := strings.TrimRight(string(output), "\n")
	if text == "" {
		return nil, err
	}
	return strings.Split(text, "\n"), err
}

// Compiler runs toolchain commands. It holds no mutable state after
// construction and is safe for concurrent use by the compile pool.
type Compiler struct {
	Toolchain    *Toolchain
	Env          map[string]string
	Verbose      bool
	ProbeTimeout time.Duration
	Logger       *Logger

	run commandRunner
}

// NewCompiler creates a Compiler for tc.
func NewCompiler(tc *Toolchain, logger *Logger) *Compiler {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Compiler{
		Toolchain:    tc,
		ProbeTimeout: DefaultProbeTimeout,
		Logger:       logger,
		run:          execCommand,
	}
}

// Profile returns the toolchain profile.
func (c *Compiler) Profile() ToolchainProfile {
	return c.Toolchain.Profile
}

func (c *Compiler) invoke(ctx context.Context, command string, args []string) ([]string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrToolingUnavailable)
	}
	argv := append(fields[1:len(fields):len(fields)], args...)
	if c.Verbose {
		c.Logger.DebugContext(ctx, "running", "command", fields[0]+" "+strings.Join(argv, " "))
	}
	return c.run(ctx, c.Env, fields[0], argv...)
}

// CompileObject compiles one translation unit. User CFLAGS come first so
// extension flags win when both set the same option.
func (c *Compiler) CompileObject(ctx context.Context, spec CompileSpec) error {
	spec.Flags = append(append([]string{}, c.Toolchain.CFlags...), spec.Flags...)
	args := c.Toolchain.Profile.CompileArgs(spec)
	output, err := c.invoke(ctx, c.Toolchain.driver(spec.Language), args)
	if err != nil {
		return &CompileError{Source: spec.Source, Output: output, cause: err}
	}
	return nil
}

// LinkExecutable links objects into a program.
func (c *Compiler) LinkExecutable(ctx context.Context, spec LinkSpec) error {
	spec.Flags = append(append([]string{}, c.Toolchain.LDFlags...), spec.Flags...)
	args := c.Toolchain.Profile.LinkExecutableArgs(spec)
	output, err := c.invoke(ctx, c.Toolchain.linker(spec.Language), args)
	if err != nil {
		return &LinkError{Target: spec.Output, Output: output, cause: err}
	}
	return nil
}

// LinkShared links objects into a loadable variant artifact.
func (c *Compiler) LinkShared(ctx context.Context, spec LinkSpec) error {
	spec.Flags = append(append([]string{}, c.Toolchain.LDFlags...), spec.Flags...)
	args := c.Toolchain.Profile.LinkSharedArgs(spec)
	output, err := c.invoke(ctx, c.Toolchain.linker(spec.Language), args)
	if err != nil {
		return &LinkError{Target: spec.Output, Output: output, cause: err}
	}
	return nil
}

// Archive bundles objects into a static library.
func (c *Compiler) Archive(ctx context.Context, output string, objects []string) error {
	args := c.Toolchain.Profile.ArchiveArgs(output, objects)
	lines, err := c.invoke(ctx, c.Toolchain.AR, args)
	if err != nil {
		return &LinkError{Target: output, Output: lines, cause: err}
	}
	return nil
}

// Execute runs a probe binary with a timeout and checks its exit status.
// A hung binary is killed when the timeout expires and reported as an
// ExecError like any other failed run.
func (c *Compiler) Execute(ctx context.Context, binary string) error {
	timeout := c.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := c.run(runCtx, nil, binary)
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	return &ExecError{
		Binary:   binary,
		Started:  errors.As(err, &exitErr),
		Ran:      sh.CmdRan(err),
		Status:   sh.ExitStatus(err),
		TimedOut: ctx.Err() == nil && errors.Is(runCtx.Err(), context.DeadlineExceeded),
		Timeout:  timeout,
		cause:    err,
	}
}
