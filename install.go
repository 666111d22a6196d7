package simdext

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var nativeLibraryExtensions = map[string]struct{}{
	".so":     {},
	".bundle": {},
	".dll":    {},
	".dylib":  {},
}

// installVariants copies linked artifacts into the output directory and
// records their paths, relative to it, in each result. When the output
// directory is the build-lib directory the artifacts are already in place.
func installVariants(cfg Config, results []*VariantResult) error {
	for _, r := range results {
		if !r.Success {
			continue
		}
		if !isNativeLibrary(r.Artifact) {
			return fmt.Errorf("variant %s: %s is not a loadable library", r.Variant, r.Artifact)
		}

		rel, err := filepath.Rel(cfg.BuildLib, r.Artifact)
		if err != nil {
			rel = filepath.Base(r.Artifact)
		}
		rel = safeRelativePath(rel)
		dest := filepath.Join(cfg.OutputDir, rel)

		if filepath.Clean(dest) != filepath.Clean(r.Artifact) {
			if err := copyFile(r.Artifact, dest); err != nil {
				return fmt.Errorf("install %s: %w", r.Variant, err)
			}
		}
		r.Installed = filepath.ToSlash(rel)
	}
	return nil
}

func isNativeLibrary(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := nativeLibraryExtensions[ext]
	return ok
}

func copyFile(srcPath, destPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(destPath)
	if mkErr := os.MkdirAll(dir, 0o755); mkErr != nil {
		return mkErr
	}

	in, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}

	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}

func safeRelativePath(path string) string {
	clean := filepath.Clean(path)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return filepath.Base(path)
	}
	return clean
}
