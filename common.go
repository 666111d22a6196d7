package simdext

import (
	"context"
)

// variantSteps are the three stages every planned variant goes through:
//  1. Prepare: create the scratch directory, generate and patch sources
//  2. Compile: compile translation units through the worker pool
//  3. Link: link objects and support libraries into the artifact
type variantSteps struct {
	PrepareFunc func(ctx context.Context, w *variantWork) error
	CompileFunc func(ctx context.Context, w *variantWork) error
	LinkFunc    func(ctx context.Context, w *variantWork) error
}

// runVariantSteps executes the steps in order.
//
// If any step fails, processing stops: result.Error is set, Success stays
// false and subsequent steps are not executed. Steps append tool output to
// result.Output as they run.
//
// Safe to call for several variants at once as long as each call gets its
// own variantWork; nothing else is written.
func runVariantSteps(ctx context.Context, w *variantWork, steps variantSteps) (*VariantResult, error) {
	result := w.result

	if err := steps.PrepareFunc(ctx, w); err != nil {
		result.Error = &VariantError{Variant: result.Variant, cause: err}
		return result, result.Error
	}

	if err := steps.CompileFunc(ctx, w); err != nil {
		result.Error = &VariantError{Variant: result.Variant, cause: err}
		return result, result.Error
	}

	if err := steps.LinkFunc(ctx, w); err != nil {
		result.Error = &VariantError{Variant: result.Variant, cause: err}
		return result, result.Error
	}

	result.Success = true
	return result, nil
}
