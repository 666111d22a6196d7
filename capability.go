package simdext

import (
	"context"
	"sort"
	"strings"
)

// ToggleSet holds the user's per-extension disable switches. A disabled
// extension is unsupported regardless of what probing would say.
// The zero value enables everything.
type ToggleSet struct {
	disabled map[string]struct{}
}

// NewToggleSet disables the named extensions.
func NewToggleSet(disabled ...string) ToggleSet {
	t := ToggleSet{disabled: make(map[string]struct{}, len(disabled))}
	for _, name := range disabled {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name != "" {
			t.disabled[name] = struct{}{}
		}
	}
	return t
}

// ParseToggles reads a comma-separated list such as "avx2,sse2".
func ParseToggles(list string) ToggleSet {
	return NewToggleSet(strings.Split(list, ",")...)
}

// Disabled reports whether ext was switched off.
func (t ToggleSet) Disabled(ext Extension) bool {
	_, ok := t.disabled[strings.ToUpper(ext.Name)]
	return ok
}

// Names returns the disabled extension names in sorted order.
func (t ToggleSet) Names() []string {
	names := make([]string, 0, len(t.disabled))
	for name := range t.disabled {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capability is one row of the CapabilityMatrix.
type Capability struct {
	Extension Extension
	Supported bool
	Outcome   Outcome
	Disabled  bool
	Flags     []string
	Macros    map[string]int
}

// CapabilityMatrix records which extensions the toolchain can target in
// this build. It is built once per invocation, never mutated afterwards,
// and never persisted: the toolchain may change between builds.
type CapabilityMatrix struct {
	platform Platform
	rows     map[string]Capability
	order    []string
}

// NewCapabilityMatrix builds a matrix from explicit rows. Rows for
// unsupported extensions carry no flags or macros.
func NewCapabilityMatrix(platform Platform, rows ...Capability) *CapabilityMatrix {
	m := &CapabilityMatrix{platform: platform, rows: make(map[string]Capability, len(rows))}
	for _, row := range rows {
		if !row.Supported {
			row.Flags, row.Macros = nil, nil
		}
		row.Flags = append([]string{}, row.Flags...)
		row.Macros = mergeMacros(nil, row.Macros)
		if _, seen := m.rows[row.Extension.Name]; !seen {
			m.order = append(m.order, row.Extension.Name)
		}
		m.rows[row.Extension.Name] = row
	}
	return m
}

// Platform returns the platform the matrix was detected for.
func (m *CapabilityMatrix) Platform() Platform { return m.platform }

// Supported reports whether ext may be required by a planned variant.
func (m *CapabilityMatrix) Supported(ext Extension) bool {
	row, ok := m.rows[ext.Name]
	return ok && row.Supported
}

// Lookup returns a copy of the row for ext.
func (m *CapabilityMatrix) Lookup(ext Extension) (Capability, bool) {
	row, ok := m.rows[ext.Name]
	if !ok {
		return Capability{}, false
	}
	row.Flags = append([]string{}, row.Flags...)
	row.Macros = mergeMacros(nil, row.Macros)
	return row, true
}

// Flags returns a copy of the flags needed for ext.
func (m *CapabilityMatrix) Flags(ext Extension) []string {
	row, _ := m.Lookup(ext)
	return row.Flags
}

// Macros returns a copy of the macros defined for ext.
func (m *CapabilityMatrix) Macros(ext Extension) map[string]int {
	row, _ := m.Lookup(ext)
	return row.Macros
}

// Rows returns copies of all rows in detection order.
func (m *CapabilityMatrix) Rows() []Capability {
	rows := make([]Capability, 0, len(m.order))
	for _, name := range m.order {
		row, _ := m.Lookup(m.rows[name].Extension)
		rows = append(rows, row)
	}
	return rows
}

// BuildSupport returns the <NAME>_BUILD_SUPPORT switches handed to source
// generators, one per known extension.
func (m *CapabilityMatrix) BuildSupport() map[string]bool {
	out := make(map[string]bool, len(Extensions))
	for _, ext := range Extensions {
		out[ext.Name+"_BUILD_SUPPORT"] = m.Supported(ext)
	}
	return out
}

// DetectCapabilities probes every extension that applies to the platform.
//
// Extensions of another architecture family are never probed, and
// disabled extensions are skipped before probing. Probes run one after
// another; nothing here is parallel.
func DetectCapabilities(ctx context.Context, probe *CapabilityProbe, platform Platform, toggles ToggleSet) (*CapabilityMatrix, error) {
	profile := probe.Prober.Profile()

	var rows []Capability
	for _, ext := range ExtensionsFor(platform) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row := Capability{Extension: ext}
		if toggles.Disabled(ext) {
			row.Disabled = true
			rows = append(rows, row)
			continue
		}

		flags := profile.FlagsFor(ext)
		result := probe.Probe(ctx, ext, flags)
		row.Outcome = result.Outcome
		row.Supported = result.Supported()
		if row.Supported {
			row.Flags = flags
			row.Macros = profile.MacrosFor(ext)
		}
		rows = append(rows, row)
	}

	return NewCapabilityMatrix(platform, rows...), nil
}
