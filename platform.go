package simdext

import (
	"regexp"
	"runtime"
	"strings"
)

// CPUFamily is the normalized architecture family of a build target.
type CPUFamily string

// Known CPU families. CPUUnknown means no accelerated variant is possible;
// it is never an error on its own.
const (
	CPUMips    CPUFamily = "mips"
	CPUAArch64 CPUFamily = "aarch64"
	CPUArm     CPUFamily = "arm"
	CPUX86     CPUFamily = "x86"
	CPUPPC     CPUFamily = "ppc"
	CPUUnknown CPUFamily = "unknown"
)

// OSFamily is the normalized operating system family of a build target.
type OSFamily string

// Known OS families.
const (
	OSLinuxOrAndroid OSFamily = "linux_or_android"
	OSFreeBSD        OSFamily = "freebsd"
	OSMacOS          OSFamily = "macos"
	OSWindows        OSFamily = "windows"
	OSUnknown        OSFamily = "unknown"
)

// Platform is the normalized (cpu, os) pair of the build target.
//
// Machine and System keep the raw strings the platform was identified
// from, so error messages can name the host exactly as it reported itself.
type Platform struct {
	CPU     CPUFamily
	OS      OSFamily
	Machine string
	System  string
}

func (p Platform) String() string {
	return string(p.CPU) + "/" + string(p.OS)
}

// Patterns are evaluated in order, first match wins.
var cpuPatterns = []struct {
	re     *regexp.Regexp
	family CPUFamily
}{
	{regexp.MustCompile(`^mips`), CPUMips},
	{regexp.MustCompile(`^(aarch64|arm64)$`), CPUAArch64},
	{regexp.MustCompile(`^arm`), CPUArm},
	{regexp.MustCompile(`(x86_64)|(AMD64|amd64)|(^i.86$)`), CPUX86},
	{regexp.MustCompile(`^(powerpc|ppc)`), CPUPPC},
}

// Identify maps a raw machine string (as reported by uname -m) and a raw
// system name (as reported by uname -s) to a Platform.
//
// A JVM-hosted runtime reports its system as "Java"; it is folded into the
// linux/android family.
func Identify(machine, system string) Platform {
	return Platform{
		CPU:     identifyCPU(machine),
		OS:      identifyOS(system),
		Machine: machine,
		System:  system,
	}
}

func identifyCPU(machine string) CPUFamily {
	for _, p := range cpuPatterns {
		if p.re.MatchString(machine) {
			return p.family
		}
	}
	return CPUUnknown
}

func identifyOS(system string) OSFamily {
	switch {
	case system == "Linux" || system == "Java":
		return OSLinuxOrAndroid
	case strings.HasSuffix(system, "FreeBSD"):
		return OSFreeBSD
	case system == "Darwin":
		return OSMacOS
	case MatchesPattern(system, `^Windows`, `^MSYS`, `^MINGW`, `^CYGWIN`):
		return OSWindows
	default:
		return OSUnknown
	}
}

// goarchMachines translates GOARCH values to the uname-style machine names
// Identify understands.
var goarchMachines = map[string]string{
	"386":      "i686",
	"amd64":    "x86_64",
	"arm":      "armv7l",
	"arm64":    "aarch64",
	"ppc64":    "ppc64",
	"ppc64le":  "ppc64le",
	"mips":     "mips",
	"mipsle":   "mipsel",
	"mips64":   "mips64",
	"mips64le": "mips64el",
}

var goosSystems = map[string]string{
	"linux":   "Linux",
	"android": "Linux",
	"freebsd": "FreeBSD",
	"darwin":  "Darwin",
	"ios":     "Darwin",
	"windows": "Windows",
}

// HostPlatform identifies the platform the current process runs on.
func HostPlatform() Platform {
	return platformFor(runtime.GOARCH, runtime.GOOS)
}

func platformFor(goarch, goos string) Platform {
	machine, ok := goarchMachines[goarch]
	if !ok {
		machine = goarch
	}
	system, ok := goosSystems[goos]
	if !ok {
		system = goos
	}
	return Identify(machine, system)
}
