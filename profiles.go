package simdext

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// CompilerFamily identifies a command-line dialect.
type CompilerFamily string

// Supported compiler families.
const (
	CompilerGNU  CompilerFamily = "unix" // gcc, clang, cc and cross prefixes
	CompilerMSVC CompilerFamily = "msvc" // cl, clang-cl
)

// Language selects the compiler front end and language-level flags.
type Language string

// Source languages.
const (
	LangC   Language = "c"
	LangCXX Language = "c++"
)

// TargetKind distinguishes variant artifacts from support libraries; the
// two get different language-level flags.
type TargetKind int

// Target kinds.
const (
	KindVariant TargetKind = iota
	KindLibrary
)

// CompileSpec is the immutable input of one compiler invocation.
type CompileSpec struct {
	Source      string
	Object      string
	Language    Language
	IncludeDirs []string
	Macros      map[string]int
	Flags       []string
}

// LinkSpec is the immutable input of one link invocation.
type LinkSpec struct {
	Objects  []string
	Output   string
	Language Language
	Flags    []string
}

// ToolchainProfile hides compiler-family differences from the planner and
// the compiler stages. There is one implementation per family.
type ToolchainProfile interface {
	Family() CompilerFamily

	// FlagsFor returns the flags needed to target ext. An extension that
	// is default-on for this compiler returns no flags.
	FlagsFor(ext Extension) []string
	// MacrosFor returns the preprocessor macros announcing ext.
	MacrosFor(ext Extension) map[string]int

	DebugFlags() []string
	CompileFlags(lang Language, kind TargetKind) []string
	LinkFlags(lang Language, kind TargetKind) []string
	PlatformMacros() map[string]int

	CompileArgs(spec CompileSpec) []string
	LinkExecutableArgs(spec LinkSpec) []string
	LinkSharedArgs(spec LinkSpec) []string
	ArchiveArgs(output string, objects []string) []string

	ObjectName(base string) string
	ExecutableName(base string) string
	StaticLibraryName(name string) string
	SharedName(name string) string
}

func macrosFor(ext Extension) map[string]int {
	if ext.Macro == "" {
		return map[string]int{}
	}
	return map[string]int{ext.Macro: 1}
}

func renderMacros(prefix string, macros map[string]int) []string {
	args := make([]string, 0, len(macros))
	for _, name := range sortedMacros(macros) {
		args = append(args, prefix+name+"="+strconv.Itoa(macros[name]))
	}
	return args
}

// GNUProfile covers gcc, clang and compatible drivers using -m flags.
type GNUProfile struct {
	Target Platform
}

// Family returns CompilerGNU.
func (p *GNUProfile) Family() CompilerFamily { return CompilerGNU }

// FlagsFor maps an extension to -m flags. NEON needs -mfpu=neon on 32-bit
// ARM only; it is always on for aarch64.
func (p *GNUProfile) FlagsFor(ext Extension) []string {
	switch ext.Name {
	case AVX2.Name:
		return []string{"-mavx", "-mavx2"}
	case SSE4.Name:
		return []string{"-msse4.1"}
	case SSE2.Name:
		return []string{"-msse2"}
	case NEON.Name:
		if p.Target.CPU == CPUArm {
			return []string{"-mfpu=neon"}
		}
		return []string{}
	default:
		return []string{}
	}
}

// MacrosFor returns the extension macro.
func (p *GNUProfile) MacrosFor(ext Extension) map[string]int { return macrosFor(ext) }

// DebugFlags adds debug symbols.
func (p *GNUProfile) DebugFlags() []string { return []string{"-g"} }

// CompileFlags returns language-level compile flags.
func (p *GNUProfile) CompileFlags(lang Language, kind TargetKind) []string {
	if lang != LangCXX {
		return nil
	}
	if kind == KindLibrary {
		return []string{"-std=c++11"}
	}
	return []string{
		"-funroll-loops",
		"-std=c++17",
		"-Wno-unused-variable",
		"-Wno-maybe-uninitialized",
		"-Wno-return-type",
	}
}

// LinkFlags returns language-level link flags.
func (p *GNUProfile) LinkFlags(lang Language, kind TargetKind) []string {
	if lang == LangCXX && kind == KindLibrary {
		return []string{"-Wno-alloc-size-larger-than"}
	}
	return nil
}

// PlatformMacros returns no macros.
func (p *GNUProfile) PlatformMacros() map[string]int { return map[string]int{} }

// CompileArgs builds "-c src -o obj" with position-independent code outside Windows.
func (p *GNUProfile) CompileArgs(spec CompileSpec) []string {
	args := []string{"-c", spec.Source, "-o", spec.Object}
	if p.Target.OS != OSWindows {
		args = append(args, "-fPIC")
	}
	for _, dir := range spec.IncludeDirs {
		args = append(args, "-I"+dir)
	}
	args = append(args, renderMacros("-D", spec.Macros)...)
	return append(args, spec.Flags...)
}

// LinkExecutableArgs builds the link line for a probe executable.
func (p *GNUProfile) LinkExecutableArgs(spec LinkSpec) []string {
	args := append([]string{}, spec.Objects...)
	args = append(args, "-o", spec.Output)
	return append(args, spec.Flags...)
}

// LinkSharedArgs builds the link line for a variant artifact.
func (p *GNUProfile) LinkSharedArgs(spec LinkSpec) []string {
	var args []string
	if p.Target.OS == OSMacOS {
		args = append(args, "-bundle", "-undefined", "dynamic_lookup")
	} else {
		args = append(args, "-shared")
	}
	args = append(args, spec.Objects...)
	args = append(args, "-o", spec.Output)
	return append(args, spec.Flags...)
}

// ArchiveArgs builds an "ar rcs" line.
func (p *GNUProfile) ArchiveArgs(output string, objects []string) []string {
	return append([]string{"rcs", output}, objects...)
}

// ObjectName appends the object suffix.
func (p *GNUProfile) ObjectName(base string) string {
	if p.Target.OS == OSWindows {
		return base + ".obj"
	}
	return base + ".o"
}

// ExecutableName appends the executable suffix.
func (p *GNUProfile) ExecutableName(base string) string {
	if p.Target.OS == OSWindows {
		return base + ".exe"
	}
	return base
}

// StaticLibraryName returns lib<name>.a.
func (p *GNUProfile) StaticLibraryName(name string) string {
	return "lib" + name + ".a"
}

// SharedName returns the loadable module name of a variant.
func (p *GNUProfile) SharedName(name string) string {
	if p.Target.OS == OSWindows {
		return name + ".dll"
	}
	return name + ".so"
}

// MSVCProfile covers cl and clang-cl using /arch flags.
type MSVCProfile struct {
	Target Platform
}

// Family returns CompilerMSVC.
func (p *MSVCProfile) Family() CompilerFamily { return CompilerMSVC }

// FlagsFor maps an extension to /arch flags. SSE2 is the x64 default and
// there is no /arch switch for SSE4.1 alone, so SSE4 uses /arch:AVX.
func (p *MSVCProfile) FlagsFor(ext Extension) []string {
	switch ext.Name {
	case AVX2.Name:
		return []string{"/arch:AVX2"}
	case SSE4.Name:
		return []string{"/arch:AVX"}
	default:
		return []string{}
	}
}

// MacrosFor returns the extension macro.
func (p *MSVCProfile) MacrosFor(ext Extension) map[string]int { return macrosFor(ext) }

// DebugFlags embeds debug info in objects.
func (p *MSVCProfile) DebugFlags() []string { return []string{"/Z7"} }

// CompileFlags returns language-level compile flags.
func (p *MSVCProfile) CompileFlags(lang Language, kind TargetKind) []string {
	if lang != LangCXX {
		return nil
	}
	if kind == KindLibrary {
		return []string{"/std:c11"}
	}
	return []string{"/std:c17"}
}

// LinkFlags returns no flags.
func (p *MSVCProfile) LinkFlags(Language, TargetKind) []string { return nil }

// PlatformMacros defines WIN32.
func (p *MSVCProfile) PlatformMacros() map[string]int { return map[string]int{"WIN32": 1} }

// CompileArgs builds "/c src /Foobj".
func (p *MSVCProfile) CompileArgs(spec CompileSpec) []string {
	args := []string{"/nologo", "/c", spec.Source, "/Fo" + spec.Object}
	if spec.Language == LangCXX {
		args = append(args, "/EHsc")
	}
	for _, dir := range spec.IncludeDirs {
		args = append(args, "/I"+dir)
	}
	args = append(args, renderMacros("/D", spec.Macros)...)
	return append(args, spec.Flags...)
}

// LinkExecutableArgs builds a link.exe line for a probe executable.
func (p *MSVCProfile) LinkExecutableArgs(spec LinkSpec) []string {
	args := []string{"/nologo", "/OUT:" + spec.Output}
	args = append(args, spec.Objects...)
	return append(args, linkerOnly(spec.Flags)...)
}

// LinkSharedArgs builds a link.exe /DLL line.
func (p *MSVCProfile) LinkSharedArgs(spec LinkSpec) []string {
	args := []string{"/nologo", "/DLL", "/OUT:" + spec.Output}
	args = append(args, spec.Objects...)
	return append(args, linkerOnly(spec.Flags)...)
}

// ArchiveArgs builds a lib.exe line.
func (p *MSVCProfile) ArchiveArgs(output string, objects []string) []string {
	return append([]string{"/nologo", "/OUT:" + output}, objects...)
}

// ObjectName appends .obj.
func (p *MSVCProfile) ObjectName(base string) string { return base + ".obj" }

// ExecutableName appends .exe.
func (p *MSVCProfile) ExecutableName(base string) string { return base + ".exe" }

// StaticLibraryName returns <name>.lib.
func (p *MSVCProfile) StaticLibraryName(name string) string { return name + ".lib" }

// SharedName returns <name>.dll.
func (p *MSVCProfile) SharedName(name string) string { return name + ".dll" }

// linkerOnly drops compiler switches (/arch, /Z7) that link.exe rejects.
func linkerOnly(flags []string) []string {
	var out []string
	for _, f := range flags {
		if strings.HasPrefix(f, "/arch:") || f == "/Z7" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// ProfileFactory creates a profile for a target platform.
type ProfileFactory func(target Platform) ToolchainProfile

type profileEntry struct {
	patterns []string
	factory  ProfileFactory
}

// ProfileRegistry selects a ToolchainProfile from a compiler executable name.
//
// Entries are checked in registration order and the first match wins.
// Not safe for concurrent registration; register everything up front.
type ProfileRegistry struct {
	entries []profileEntry
}

// NewProfileRegistry creates a registry with the MSVC and GNU profiles.
// MSVC is registered first so clang-cl is not mistaken for clang.
func NewProfileRegistry() *ProfileRegistry {
	r := &ProfileRegistry{}
	r.Register(func(t Platform) ToolchainProfile { return &MSVCProfile{Target: t} },
		`^cl$`, `^clang-cl(-[0-9.]+)?$`)
	r.Register(func(t Platform) ToolchainProfile { return &GNUProfile{Target: t} },
		`(^|-)(gcc|g\+\+|cc|c\+\+|clang|clang\+\+)(-[0-9.]+)?$`)
	return r
}

// Register adds a profile factory matched by regex patterns on the
// compiler base name (without .exe).
func (r *ProfileRegistry) Register(factory ProfileFactory, patterns ...string) {
	r.entries = append(r.entries, profileEntry{patterns: patterns, factory: factory})
}

// ProfileFor returns the profile for a compiler command such as
// "/usr/bin/x86_64-linux-gnu-gcc-13" or "cl.exe".
func (r *ProfileRegistry) ProfileFor(compiler string, target Platform) (ToolchainProfile, error) {
	fields := strings.Fields(compiler)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty compiler command", ErrUnknownCompiler)
	}
	// Wrappers like "ccache gcc -m64" name the real compiler last among
	// the non-flag words.
	name := fields[0]
	for _, f := range fields {
		if !strings.HasPrefix(f, "-") && !strings.HasPrefix(f, "/") || filepath.IsAbs(f) {
			name = f
		}
	}
	name = filepath.Base(name)
	name = strings.TrimSuffix(strings.ToLower(name), ".exe")

	for _, entry := range r.entries {
		if MatchesPattern(name, entry.patterns...) {
			return entry.factory(target), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCompiler, name)
}
