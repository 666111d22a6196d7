package simdext

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/sh"
)

// Clean removes build products of project.
//
// By default only generator annotations (*.html) in the scratch tree go.
// With all, the scratch tree, the build-lib directory, the installed
// artifacts and the manifest are removed as well.
func Clean(project *Project, cfg Config, all bool) ([]string, error) {
	cfg = cfg.withDefaults(project.Root)
	var removed []string

	rm := func(path string) error {
		if _, err := os.Lstat(path); err != nil {
			return nil
		}
		if err := sh.Rm(path); err != nil {
			return err
		}
		removed = append(removed, path)
		return nil
	}

	if !all {
		err := filepath.WalkDir(cfg.BuildTemp, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".html") {
				return rm(path)
			}
			return nil
		})
		return removed, err
	}

	if cfg.OutputDir != cfg.BuildLib {
		tc, err := ToolchainFromEnv(cfg.Platform, nil)
		if err != nil {
			tc = &Toolchain{Profile: profileFor(cfg.Platform)}
		}
		c := &VariantCompiler{Config: cfg, Compiler: &Compiler{Toolchain: tc}}
		for _, v := range project.Variants {
			rel, err := filepath.Rel(cfg.BuildLib, c.ArtifactPath(v))
			if err != nil {
				continue
			}
			if err := rm(filepath.Join(cfg.OutputDir, rel)); err != nil {
				return removed, err
			}
		}
		if err := rm(filepath.Join(cfg.OutputDir, ManifestName)); err != nil {
			return removed, err
		}
	}

	for _, dir := range []string{cfg.BuildTemp, cfg.BuildLib} {
		if err := rm(dir); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// profileFor picks the default profile family of a platform.
func profileFor(p Platform) ToolchainProfile {
	if p.OS == OSWindows {
		return &MSVCProfile{Target: p}
	}
	return &GNUProfile{Target: p}
}
