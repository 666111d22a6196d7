package simdext

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bluekeyes/go-gitdiff/gitdiff"
	"github.com/magefile/mage/sh"
	"github.com/magefile/mage/target"
)

// Patcher copies vendored sources into the build tree, applying a local
// patch when one exists for the file.
//
// The patch for "src/impl_x86_linux.c" is "<Dir>/impl_x86_linux.c.patch".
type Patcher struct {
	Dir   string
	Force bool
}

// PatchFor returns the patch path for input, or "" when there is none.
func (p *Patcher) PatchFor(input string) string {
	if p.Dir == "" {
		return ""
	}
	path := filepath.Join(p.Dir, filepath.Base(input)+".patch")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Prepare writes input to output, patched if a patch exists. Nothing is
// done when output is newer than both input and its patch. It reports
// whether output was written.
func (p *Patcher) Prepare(input, output string) (bool, error) {
	patch := p.PatchFor(input)

	if !p.Force {
		sources := []string{input}
		if patch != "" {
			sources = append(sources, patch)
		}
		stale, err := target.Path(output, sources...)
		if err != nil {
			return false, err
		}
		if !stale {
			return false, nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return false, err
	}

	if patch == "" {
		if err := sh.Copy(output, input); err != nil {
			return false, err
		}
		return true, nil
	}

	src, err := os.ReadFile(input)
	if err != nil {
		return false, err
	}
	diff, err := os.ReadFile(patch)
	if err != nil {
		return false, err
	}
	patched, err := ApplyPatch(src, diff)
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", patch, err)
	}
	if err := os.WriteFile(output, patched, 0o644); err != nil { //nolint:gosec // Build tree files are not secrets
		return false, err
	}
	return true, nil
}

// ApplyPatch applies a single-file unified diff to src.
func ApplyPatch(src, patch []byte) ([]byte, error) {
	files, _, err := gitdiff.Parse(bytes.NewReader(patch))
	if err != nil {
		return nil, err
	}
	if len(files) != 1 {
		return nil, fmt.Errorf("patch must change exactly one file, found %d", len(files))
	}

	var out bytes.Buffer
	if err := gitdiff.Apply(&out, bytes.NewReader(src), files[0]); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
