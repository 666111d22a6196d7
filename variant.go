package simdext

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"go.yaml.in/yaml/v3"
)

// VariantDescriptor declares one build of the accelerated routine.
//
// Requires names the extension the variant needs; an empty Requires marks
// the baseline, which is planned whenever its architecture matches.
// Architectures optionally limits a descriptor to some CPU families, for
// sources that only exist for those targets.
type VariantDescriptor struct {
	Name             string         `yaml:"name"`
	Requires         string         `yaml:"requires,omitempty"`
	Language         Language       `yaml:"language,omitempty"`
	Sources          []string       `yaml:"sources"`
	IncludeDirs      []string       `yaml:"include_dirs,omitempty"`
	Macros           map[string]int `yaml:"macros,omitempty"`
	ExtraCompileArgs []string       `yaml:"extra_compile_args,omitempty"`
	ExtraLinkArgs    []string       `yaml:"extra_link_args,omitempty"`
	Libraries        []string       `yaml:"libraries,omitempty"`
	Architectures    []CPUFamily    `yaml:"architectures,omitempty"`
}

// Baseline reports whether the variant has no extension requirement.
func (d VariantDescriptor) Baseline() bool {
	return strings.TrimSpace(d.Requires) == ""
}

// Extension resolves Requires. ok is false for the baseline.
func (d VariantDescriptor) Extension() (ext Extension, ok bool, err error) {
	if d.Baseline() {
		return Extension{}, false, nil
	}
	ext, found := LookupExtension(d.Requires)
	if !found {
		return Extension{}, false, fmt.Errorf("variant %s requires unknown extension %q", d.Name, d.Requires)
	}
	return ext, true, nil
}

// AppliesTo reports whether the descriptor's architecture list admits p.
func (d VariantDescriptor) AppliesTo(p Platform) bool {
	return len(d.Architectures) == 0 || slices.Contains(d.Architectures, p.CPU)
}

// ArtifactBase maps a dotted variant name ("pkg._kernel_avx2") to the
// relative artifact path without suffix ("pkg/_kernel_avx2"). Every
// variant name yields a distinct artifact, so all of them coexist on disk.
func (d VariantDescriptor) ArtifactBase() string {
	return filepath.Join(strings.Split(d.Name, ".")...)
}

func (d VariantDescriptor) lang() Language {
	if d.Language == "" {
		return LangCXX
	}
	return d.Language
}

func (d VariantDescriptor) clone() VariantDescriptor {
	c := d
	c.Sources = slices.Clone(d.Sources)
	c.IncludeDirs = slices.Clone(d.IncludeDirs)
	c.Macros = mergeMacros(nil, d.Macros)
	c.ExtraCompileArgs = slices.Clone(d.ExtraCompileArgs)
	c.ExtraLinkArgs = slices.Clone(d.ExtraLinkArgs)
	c.Libraries = slices.Clone(d.Libraries)
	c.Architectures = slices.Clone(d.Architectures)
	return c
}

// FunctionCheck declares a C library function probe for a support library.
// When the function links, Macro is defined for the library. EnablesOptional
// checks also switch on the library's OptionalSources.
type FunctionCheck struct {
	Name            string     `yaml:"name"`
	Header          string     `yaml:"header"`
	Args            string     `yaml:"args,omitempty"`
	Macro           string     `yaml:"macro"`
	Systems         []OSFamily `yaml:"systems,omitempty"`
	EnablesOptional bool       `yaml:"enables_optional,omitempty"`
}

// LibraryDescriptor declares a static support library shared read-only
// by every variant that lists it, such as a CPU feature detection library.
//
// Headers are copied (through the patch step) into the library build
// directory, relative to HeaderRoot, so variants include the patched copies.
type LibraryDescriptor struct {
	Name             string          `yaml:"name"`
	Language         Language        `yaml:"language,omitempty"`
	Sources          []string        `yaml:"sources"`
	IncludeDirs      []string        `yaml:"include_dirs,omitempty"`
	Headers          []string        `yaml:"headers,omitempty"`
	HeaderRoot       string          `yaml:"header_root,omitempty"`
	Macros           map[string]int  `yaml:"macros,omitempty"`
	ExtraCompileArgs []string        `yaml:"extra_compile_args,omitempty"`
	ExtraLinkArgs    []string        `yaml:"extra_link_args,omitempty"`
	FunctionChecks   []FunctionCheck `yaml:"function_checks,omitempty"`
	OptionalSources  []string        `yaml:"optional_sources,omitempty"`
	OptionalSystems  []OSFamily      `yaml:"optional_systems,omitempty"`
}

func (l LibraryDescriptor) lang() Language {
	if l.Language == "" {
		return LangC
	}
	return l.Language
}

// Project is the static declaration of everything a build may produce.
// Paths are relative to Root unless absolute.
type Project struct {
	Root      string              `yaml:"-"`
	PatchDir  string              `yaml:"patch_dir,omitempty"`
	Generator *GeneratorConfig    `yaml:"generator,omitempty"`
	Libraries []LibraryDescriptor `yaml:"libraries,omitempty"`
	Variants  []VariantDescriptor `yaml:"variants"`
}

// LoadProject reads a YAML project declaration. Root defaults to the
// directory holding the file.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}

	var project Project
	if err := yaml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", path, err)
	}

	project.Root, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	if err := project.Validate(); err != nil {
		return nil, err
	}
	return &project, nil
}

// Validate checks names are unique, extensions exist and libraries resolve.
func (p *Project) Validate() error {
	libs := make(map[string]struct{}, len(p.Libraries))
	for _, lib := range p.Libraries {
		if err := checkName("library", lib.Name); err != nil {
			return err
		}
		if _, dup := libs[lib.Name]; dup {
			return fmt.Errorf("duplicate library %s", lib.Name)
		}
		libs[lib.Name] = struct{}{}
	}

	names := make(map[string]struct{}, len(p.Variants))
	for _, v := range p.Variants {
		if err := checkName("variant", v.Name); err != nil {
			return err
		}
		if _, dup := names[v.Name]; dup {
			return fmt.Errorf("duplicate variant %s", v.Name)
		}
		names[v.Name] = struct{}{}

		if len(v.Sources) == 0 {
			return fmt.Errorf("variant %s has no sources", v.Name)
		}
		if _, _, err := v.Extension(); err != nil {
			return err
		}
		for _, lib := range v.Libraries {
			if _, ok := libs[lib]; !ok {
				return fmt.Errorf("%w: variant %s links %s", ErrUnknownLibrary, v.Name, lib)
			}
		}
	}
	return nil
}

// checkName rejects names that cannot be used as a single directory
// component: path separators, and empty dot-separated parts such as ".."
// or "pkg..kernel".
func checkName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s without name", kind)
	}
	if strings.ContainsAny(name, `/\`) || slices.Contains(strings.Split(name, "."), "") {
		return fmt.Errorf("invalid %s name %q", kind, name)
	}
	return nil
}

// Library returns the named library declaration.
func (p *Project) Library(name string) (LibraryDescriptor, bool) {
	for _, lib := range p.Libraries {
		if lib.Name == name {
			return lib, true
		}
	}
	return LibraryDescriptor{}, false
}

// resolve makes a declared path absolute against Root.
func (p *Project) resolve(path string) string {
	if filepath.IsAbs(path) || p.Root == "" {
		return path
	}
	return filepath.Join(p.Root, path)
}
