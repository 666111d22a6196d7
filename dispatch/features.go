// Package dispatch selects, at load time, which compiled variant of the
// accelerated routine the current machine should use.
//
// The build pipeline installs one artifact per variant plus a manifest.
// At run time the manifest is read, the CPU is inspected once, and the
// highest-ranked variant whose extension the hardware supports is chosen,
// falling back to the baseline.
package dispatch

import (
	"strings"
	"sync"
)

// Features describes the SIMD extensions the running CPU supports.
type Features struct {
	HasSSE2  bool
	HasSSE41 bool
	HasAVX2  bool
	HasNEON  bool // ARM NEON / AArch64 Advanced SIMD

	// ForceBaseline disables every extension (testing/debugging).
	ForceBaseline bool

	Architecture string // runtime.GOARCH
}

// Has reports whether the extension named by a variant's Requires field is
// usable. The empty name (baseline) is always usable.
func (f Features) Has(extension string) bool {
	name := strings.ToUpper(strings.TrimSpace(extension))
	if name == "" {
		return true
	}
	if f.ForceBaseline {
		return false
	}
	switch name {
	case "SSE2":
		return f.HasSSE2
	case "SSE4", "SSE4.1", "SSE41":
		return f.HasSSE41
	case "AVX2":
		return f.HasAVX2
	case "NEON":
		return f.HasNEON
	default:
		return false
	}
}

// Names returns the supported extension names.
func (f Features) Names() []string {
	var names []string
	for _, n := range []string{"SSE2", "SSE4", "AVX2", "NEON"} {
		if f.Has(n) {
			names = append(names, n)
		}
	}
	return names
}

var (
	detectedFeatures Features
	detectOnce       sync.Once
	detectMutex      sync.Mutex

	forcedFeatures *Features
	forcedMutex    sync.RWMutex
)

// DetectFeatures returns the CPU features of this machine. Detection runs
// once and is cached.
func DetectFeatures() Features {
	forcedMutex.RLock()
	forced := forcedFeatures
	forcedMutex.RUnlock()

	if forced != nil {
		return *forced
	}

	detectMutex.Lock()
	detectOnce.Do(func() {
		detectedFeatures = detectFeaturesImpl()
	})
	features := detectedFeatures
	detectMutex.Unlock()

	return features
}

// SetForcedFeatures overrides hardware detection. Intended for tests.
func SetForcedFeatures(f Features) {
	forcedMutex.Lock()
	defer forcedMutex.Unlock()
	forced := f
	forcedFeatures = &forced
}

// ResetDetection clears forced features and the detection cache.
func ResetDetection() {
	forcedMutex.Lock()
	forcedFeatures = nil
	forcedMutex.Unlock()

	detectMutex.Lock()
	detectOnce = sync.Once{}
	detectedFeatures = Features{}
	detectMutex.Unlock()
}
