package simdext

import (
	"context"
	"fmt"
)

// Pipeline builds every variant of a project that the toolchain can target.
//
// # Stages
//
//  1. Check that the compiler, archiver and source generator exist
//  2. Probe each extension of the platform's family (sequential)
//  3. Finalize the BuildPlan; nothing is compiled before this point
//  4. Build the support libraries the planned variants link
//  5. Generate, compile and link each variant in its own scratch directory
//  6. Install the artifacts and write the manifest
//
// Any failure stops the pipeline. An empty plan is reported as
// *EmptyBuildPlanError before anything is compiled.
//
// # Usage
//
//	project, err := simdext.LoadProject("simdext.yaml")
//	if err != nil {
//	    return err
//	}
//	report, err := simdext.NewPipeline(project, simdext.Config{
//	    Toggles: simdext.NewToggleSet("avx2"),
//	    Logger:  simdext.NewTextLogger(os.Stderr, slog.LevelInfo),
//	}).Run(ctx)
type Pipeline struct {
	Project *Project
	Config  Config

	// Registry selects the toolchain profile; nil uses NewProfileRegistry.
	Registry *ProfileRegistry
	// Toolchain overrides the environment-derived toolchain.
	Toolchain *Toolchain

	run commandRunner
}

// NewPipeline creates a pipeline for project.
func NewPipeline(project *Project, cfg Config) *Pipeline {
	return &Pipeline{Project: project, Config: cfg}
}

// Run executes all stages.
func (p *Pipeline) Run(ctx context.Context) (*BuildReport, error) {
	cfg := p.Config.withDefaults(p.Project.Root)
	logger := cfg.Logger
	report := &BuildReport{Platform: cfg.Platform}
	if cfg.Parallel < 0 {
		return report, fmt.Errorf("parallel job count must not be negative, got %d", cfg.Parallel)
	}

	compiler, err := p.compiler(cfg)
	if err != nil {
		return report, err
	}

	var generator *SourceGenerator
	if p.Project.Generator != nil {
		generator = NewSourceGenerator(p.Project.Generator)
		if p.run != nil {
			generator.run = p.run
		}
	}

	stages := []ToolChecker{compiler.Toolchain}
	if generator != nil {
		stages = append(stages, generator)
	}
	if err := checkStages(stages...); err != nil {
		return report, err
	}

	logger.InfoContext(ctx, "target platform",
		"platform", cfg.Platform.String(),
		"machine", cfg.Platform.Machine,
		"compiler", string(compiler.Profile().Family()),
		"disabled", cfg.Toggles.Names(),
	)

	probe := &CapabilityProbe{
		Prober: compiler,
		Dir:    cfg.probeDir(),
		Debug:  cfg.Debug,
		Logger: logger,
	}

	report.Matrix, err = DetectCapabilities(ctx, probe, cfg.Platform, cfg.Toggles)
	if err != nil {
		return report, err
	}

	report.Plan, err = Plan(p.Project.Variants, report.Matrix, cfg.Toggles, cfg.Platform)
	if err != nil {
		return report, err
	}
	logger.LogPlan(ctx, report.Plan)

	libs := make(map[string]*LibraryResult)
	builder := &LibraryBuilder{
		Compiler: compiler,
		Probe:    probe,
		Patcher:  &Patcher{Dir: p.patchDir(), Force: cfg.Force},
		Project:  p.Project,
		Config:   cfg,
	}
	for _, lib := range librariesFor(p.Project, report.Plan) {
		result, err := builder.Build(ctx, lib)
		if result != nil {
			report.Libraries = append(report.Libraries, result)
		}
		if err != nil {
			return report, err
		}
		libs[lib.Name] = result
	}

	vc := &VariantCompiler{
		Compiler:  compiler,
		Generator: generator,
		Project:   p.Project,
		Matrix:    report.Matrix,
		Libraries: libs,
		Config:    cfg,
	}
	report.Variants, err = vc.BuildAll(ctx, report.Plan)
	if err != nil {
		return report, err
	}

	if err := installVariants(cfg, report.Variants); err != nil {
		return report, err
	}
	report.Manifest, err = WriteManifest(cfg.OutputDir, NewManifest(cfg.Platform, report.Variants))
	if err != nil {
		return report, fmt.Errorf("write manifest: %w", err)
	}

	logger.InfoContext(ctx, "build complete",
		"variants", len(report.Variants),
		"manifest", report.Manifest,
	)
	return report, nil
}

func (p *Pipeline) compiler(cfg Config) (*Compiler, error) {
	tc := p.Toolchain
	if tc == nil {
		var err error
		tc, err = ToolchainFromEnv(cfg.Platform, p.Registry)
		if err != nil {
			return nil, err
		}
	}

	c := NewCompiler(tc, cfg.Logger)
	c.Verbose = cfg.Verbose
	c.ProbeTimeout = cfg.ProbeTimeout
	if p.run != nil {
		c.run = p.run
	}
	return c, nil
}

func (p *Pipeline) patchDir() string {
	if p.Project.PatchDir == "" {
		return p.Project.resolve("patches")
	}
	return p.Project.resolve(p.Project.PatchDir)
}

// checkStages reports every missing tool of every stage in one error.
func checkStages(stages ...ToolChecker) error {
	var reqs []ToolRequirement
	for _, s := range stages {
		reqs = append(reqs, s.RequiredTools()...)
	}
	return CheckRequiredTools(reqs)
}
