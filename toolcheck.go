package simdext

import (
	"fmt"
	"os/exec"
)

// execLookPath is swapped out in tests.
var execLookPath = exec.LookPath

// ToolChecker is implemented by pipeline stages that need external tools.
//
// The pipeline calls CheckTools on every stage before any probing or
// compilation starts, so a missing tool fails the build immediately.
//
//	func (g *SourceGenerator) RequiredTools() []ToolRequirement {
//	    return []ToolRequirement{{Name: "cython", Purpose: "Cython source generator"}}
//	}
type ToolChecker interface {
	// RequiredTools returns the list of tools the stage needs.
	RequiredTools() []ToolRequirement

	// CheckTools verifies that all required tools are available.
	// Optional tools don't cause errors if missing.
	CheckTools() error
}

// ToolRequirement describes a build tool dependency.
//
// Tool with alternatives:
//
//	ToolRequirement{
//	    Name:         "gcc",
//	    Alternatives: []string{"clang", "cc"},
//	    Purpose:      "C compiler",
//	}
type ToolRequirement struct {
	// Name is the primary tool binary name (e.g., "cc", "cython").
	Name string

	// Alternatives can satisfy the requirement when Name is missing.
	Alternatives []string

	// Optional tools never fail the check.
	Optional bool

	// Purpose is a human-readable description used in error messages.
	Purpose string
}

// CheckToolAvailable checks if a tool is available in the system PATH.
func CheckToolAvailable(tool string) error {
	if _, err := execLookPath(tool); err != nil {
		return fmt.Errorf("%s not found in PATH", tool)
	}
	return nil
}

// CheckRequiredTools verifies all required tools are available.
//
// The primary name is tried first, then each alternative in order. All
// missing required tools are reported in a single *ToolingError, so
// errors.Is(err, ErrToolingUnavailable) holds for the result.
//
// Single missing tool:
//
//	cython not found in PATH (Cython source generator)
//
// Multiple missing tools:
//
//	missing required tools: cc (C compiler), ar (static library archiver)
func CheckRequiredTools(requirements []ToolRequirement) error {
	var missing []string

	for _, req := range requirements {
		found := CheckToolAvailable(req.Name) == nil

		if !found {
			for _, alt := range req.Alternatives {
				if CheckToolAvailable(alt) == nil {
					found = true
					break
				}
			}
		}

		if !found && !req.Optional {
			if req.Purpose != "" {
				missing = append(missing, fmt.Sprintf("%s (%s)", req.Name, req.Purpose))
			} else {
				missing = append(missing, req.Name)
			}
		}
	}

	if len(missing) == 0 {
		return nil
	}
	return &ToolingError{Missing: uniqueStrings(missing)}
}

// CheckTools verifies the toolchain programs are on PATH.
func (tc *Toolchain) CheckTools() error {
	return CheckRequiredTools(tc.RequiredTools())
}
