package simdext

import (
	"slices"
	"strings"
)

// Family groups the CPU families that share an instruction-set ladder.
// Extension ranks are only comparable inside one family.
type Family string

// Extension families.
const (
	FamilyX86 Family = "x86"
	FamilyARM Family = "arm"
)

var familyCPUs = map[Family][]CPUFamily{
	FamilyX86: {CPUX86},
	FamilyARM: {CPUArm, CPUAArch64},
}

// Matches reports whether a CPU family belongs to f.
func (f Family) Matches(cpu CPUFamily) bool {
	return slices.Contains(familyCPUs[f], cpu)
}

// Extension is a named CPU instruction-set capability a variant may require.
//
// Header, Vector, Set, Transform and Extract describe the intrinsics used to
// synthesize the probe program: a vector is loaded with Set(1), passed
// through Transform, and lane 1 is read back with Extract.
type Extension struct {
	Name   string
	Family Family
	Rank   int

	Header    string
	Vector    string
	Set       string
	Transform string
	Extract   string

	// Macro is defined to 1 for every variant compiled against the extension.
	Macro string
}

// Stronger reports whether e ranks above other. Extensions of different
// families are never comparable and Stronger returns false both ways.
func (e Extension) Stronger(other Extension) bool {
	return e.Family == other.Family && e.Rank > other.Rank
}

// Applies reports whether the extension can exist on the given platform.
func (e Extension) Applies(p Platform) bool {
	return e.Family.Matches(p.CPU)
}

// Built-in extensions, ordered by rank within their family.
var (
	SSE2 = Extension{
		Name: "SSE2", Family: FamilyX86, Rank: 1,
		Header: "emmintrin.h", Vector: "__m128i",
		Set: "_mm_set1_epi16", Transform: "_mm_move_epi64", Extract: "_mm_extract_epi16",
		Macro: "__SSE2__",
	}
	SSE4 = Extension{
		Name: "SSE4", Family: FamilyX86, Rank: 2,
		Header: "smmintrin.h", Vector: "__m128i",
		Set: "_mm_set1_epi8", Transform: "_mm_cvtepi8_epi16", Extract: "_mm_extract_epi16",
		Macro: "__SSE4_1__",
	}
	AVX2 = Extension{
		Name: "AVX2", Family: FamilyX86, Rank: 3,
		Header: "immintrin.h", Vector: "__m256i",
		Set: "_mm256_set1_epi16", Transform: "_mm256_abs_epi32", Extract: "_mm256_extract_epi16",
		Macro: "__AVX2__",
	}
	NEON = Extension{
		Name: "NEON", Family: FamilyARM, Rank: 1,
		Header: "arm_neon.h", Vector: "int16x8_t",
		Set: "vdupq_n_s16", Transform: "vabsq_s16", Extract: "vgetq_lane_s16",
		Macro: "__ARM_NEON__",
	}
)

// Extensions lists every known extension. Probing follows this order, which
// is strongest-first inside the x86 family.
var Extensions = []Extension{AVX2, SSE4, SSE2, NEON}

// LookupExtension finds an extension by name, ignoring case.
func LookupExtension(name string) (Extension, bool) {
	for _, ext := range Extensions {
		if strings.EqualFold(ext.Name, strings.TrimSpace(name)) {
			return ext, true
		}
	}
	return Extension{}, false
}

// ExtensionsFor returns the extensions that apply to a platform, in probe order.
// Unknown platforms get none.
func ExtensionsFor(p Platform) []Extension {
	var out []Extension
	for _, ext := range Extensions {
		if ext.Applies(p) {
			out = append(out, ext)
		}
	}
	return out
}
