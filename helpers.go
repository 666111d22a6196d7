package simdext

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MatchesPattern checks if a name matches any of the given regex patterns.
//
// Invalid patterns are skipped.
//
//	if MatchesPattern(system, `^Windows`, `^MINGW`) {
//	    // Windows-like host
//	}
func MatchesPattern(name string, patterns ...string) bool {
	for _, pattern := range patterns {
		if matched, _ := regexp.MatchString(pattern, name); matched {
			return true
		}
	}
	return false
}

// MatchesExtension checks if a filename has any of the given extensions.
//
// This is a case-insensitive check; extensions may be given with or
// without a leading dot.
func MatchesExtension(filename string, extensions ...string) bool {
	for _, ext := range extensions {
		if strings.HasSuffix(strings.ToLower(filename), strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// BuildError creates a standardized build error with output context.
//
// With error and output:
//
//	compile vendor/opal/src/opal.cpp failed: exit status 1
//
//	Build output:
//	opal.cpp:12:10: fatal error: immintrin.h: No such file or directory
//
// With output but no error the first line reads "<step> failed".
func BuildError(step string, output []string, err error) error {
	outputStr := strings.TrimSpace(strings.Join(output, "\n"))

	var prefix string
	if err != nil {
		prefix = fmt.Sprintf("%s failed: %v", step, err)
	} else {
		prefix = fmt.Sprintf("%s failed", step)
	}

	if outputStr != "" {
		return fmt.Errorf("%s\n\nBuild output:\n%s", prefix, outputStr)
	}

	return fmt.Errorf("%s", prefix)
}

// sortedMacros returns macro names in lexical order so command lines are
// reproducible across invocations.
func sortedMacros(macros map[string]int) []string {
	names := make([]string, 0, len(macros))
	for name := range macros {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func mergeMacros(dst map[string]int, srcs ...map[string]int) map[string]int {
	if dst == nil {
		dst = make(map[string]int)
	}
	for _, src := range srcs {
		for k, v := range src {
			dst[k] = v
		}
	}
	return dst
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	var result []string

	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}

	return result
}

// expandPlaceholders substitutes {{cpu}} and {{system}} in a declared path.
func expandPlaceholders(s string, p Platform) string {
	s = strings.ReplaceAll(s, "{{cpu}}", string(p.CPU))
	s = strings.ReplaceAll(s, "{{system}}", string(p.OS))
	return s
}
