package simdext

import (
	"slices"
)

// PlannedVariant is a declared variant resolved against the capability
// matrix: the extension flags are already folded into its arguments.
type PlannedVariant struct {
	Descriptor  VariantDescriptor
	Extension   *Extension // nil for the baseline
	CompileArgs []string
	LinkArgs    []string
	Macros      map[string]int
}

// Requires returns the required extension name, or "" for the baseline.
func (v PlannedVariant) Requires() string {
	if v.Extension == nil {
		return ""
	}
	return v.Extension.Name
}

func (v PlannedVariant) clone() PlannedVariant {
	c := v
	c.Descriptor = v.Descriptor.clone()
	if v.Extension != nil {
		ext := *v.Extension
		c.Extension = &ext
	}
	c.CompileArgs = slices.Clone(v.CompileArgs)
	c.LinkArgs = slices.Clone(v.LinkArgs)
	c.Macros = mergeMacros(nil, v.Macros)
	return c
}

// BuildPlan is the ordered, non-empty set of variants to compile in this
// invocation. It is finalized before any compilation starts.
type BuildPlan struct {
	Platform Platform
	variants []PlannedVariant
}

// Variants returns a copy of the planned variants in declaration order.
func (p *BuildPlan) Variants() []PlannedVariant {
	out := make([]PlannedVariant, len(p.variants))
	for i, v := range p.variants {
		out[i] = v.clone()
	}
	return out
}

// Len returns the number of planned variants.
func (p *BuildPlan) Len() int { return len(p.variants) }

// Names returns the planned variant names in order.
func (p *BuildPlan) Names() []string {
	names := make([]string, len(p.variants))
	for i, v := range p.variants {
		names[i] = v.Descriptor.Name
	}
	return names
}

// Has reports whether a variant of that name is planned.
func (p *BuildPlan) Has(name string) bool {
	return slices.Contains(p.Names(), name)
}

// Plan selects the declared variants that can be built.
//
// The baseline is included whenever its architecture list admits the
// platform. A conditional variant is included only if its extension
// belongs to the platform's family, is not disabled, and the matrix
// reports it supported; the disable switch wins over any probe result.
// An empty result is an *EmptyBuildPlanError.
func Plan(declared []VariantDescriptor, matrix *CapabilityMatrix, toggles ToggleSet, platform Platform) (*BuildPlan, error) {
	plan := &BuildPlan{Platform: platform}

	for _, desc := range declared {
		if !desc.AppliesTo(platform) {
			continue
		}

		ext, conditional, err := desc.Extension()
		if err != nil {
			return nil, err
		}

		planned := PlannedVariant{
			Descriptor:  desc.clone(),
			CompileArgs: slices.Clone(desc.ExtraCompileArgs),
			LinkArgs:    slices.Clone(desc.ExtraLinkArgs),
			Macros:      mergeMacros(nil, desc.Macros),
		}

		if conditional {
			if !ext.Applies(platform) || toggles.Disabled(ext) || matrix == nil || !matrix.Supported(ext) {
				continue
			}
			flags := matrix.Flags(ext)
			planned.Extension = &ext
			planned.CompileArgs = append(planned.CompileArgs, flags...)
			planned.LinkArgs = append(planned.LinkArgs, flags...)
			planned.Macros = mergeMacros(planned.Macros, matrix.Macros(ext))
		}

		plan.variants = append(plan.variants, planned)
	}

	if len(plan.variants) == 0 {
		return nil, &EmptyBuildPlanError{Platform: platform}
	}
	return plan, nil
}
