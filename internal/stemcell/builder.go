package stemcell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/stemcell/internal/archive"
	"github.com/cochaviz/stemcell/internal/logging"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

// Pipeline stage names, as they appear in logs and StageErrors.
const (
	StageSanity  = "sanity"
	StageSetup   = "setup"
	StageBuildVM = "build_vm"
	StagePackage = "package_stemcell"
)

// Dependencies are the external collaborators of a Builder. Nil fields are
// replaced with the real implementations.
type Dependencies struct {
	Driver   VMDriver
	Runner   Runner
	Archiver Archiver
	// Reaper is handed to the default driver; ignored when Driver is set.
	Reaper DomainReaper
	Logger *slog.Logger
}

// Builder runs the stemcell pipeline: setup, build_vm, package_stemcell.
type Builder struct {
	variant  Variant
	config   Config
	manifest Manifest

	driver   VMDriver
	runner   Runner
	archiver Archiver
	logger   *slog.Logger
}

// NewBuilder resolves the configuration for variant, computes the manifest
// and runs the sanity check. No stage runs before the check passes.
func NewBuilder(variant Variant, opts Options, override map[string]any, deps Dependencies) (*Builder, error) {
	if variant == nil {
		variant = Noop{}
	}
	if d, ok := variant.(OptionDefaulter); ok {
		opts = d.DefaultOptions(opts)
	}

	cfg, err := Resolve(opts, variant.Kind())
	if err != nil {
		return nil, err
	}

	logger := logging.Ensure(deps.Logger).With(
		"component", "stemcell",
		"name", cfg.Name,
		"type", string(cfg.Type),
	)

	b := &Builder{
		variant:  variant,
		config:   cfg,
		manifest: BuildManifest(override, cfg),
		driver:   deps.Driver,
		runner:   deps.Runner,
		archiver: deps.Archiver,
		logger:   logger,
	}
	if b.runner == nil {
		b.runner = &ExecRunner{Logger: logger}
	}
	if b.archiver == nil {
		b.archiver = archive.Tool{}
	}
	if b.driver == nil {
		b.driver = &VeeweeDriver{
			Provider: cfg.Provider,
			Dir:      cfg.Prefix,
			Runner:   b.runner,
			Reaper:   deps.Reaper,
			Logger:   logger,
		}
	}

	if err := b.sanityCheck(); err != nil {
		return nil, err
	}
	return b, nil
}

// Config returns the resolved configuration.
func (b *Builder) Config() Config { return b.config }

// Manifest returns a copy of the computed stemcell manifest.
func (b *Builder) Manifest() Manifest { return Manifest(DeepMerge(nil, b.manifest)) }

// Type is the variant kind.
func (b *Builder) Type() Kind { return b.variant.Kind() }

// Close releases whatever the variant staged outside the prefix.
func (b *Builder) Close() error {
	if c, ok := b.variant.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (b *Builder) sanityCheck() error {
	target := b.config.Target
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		backup := target + BackupSuffix
		b.logger.Warn("target already exists, moving it out of the way", "target", target, "backup", backup)
		if err := os.Rename(target, backup); err != nil {
			return stageError(StageSanity, target, fmt.Errorf("backup existing target: %w", err))
		}
	}

	if _, err := os.Stat(b.config.AgentSrcPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return stageError(StageSanity, b.config.AgentSrcPath, ErrAgentSourceNotFound)
		}
		return stageError(StageSanity, b.config.AgentSrcPath, err)
	}

	defDir := b.config.DefinitionDir()
	if info, err := os.Stat(defDir); err != nil || !info.IsDir() {
		return stageError(StageSanity, defDir, ErrDefinitionNotFound)
	}
	return nil
}

// Run executes the stages in order. The first failing stage aborts the run
// and leaves the prefix as it was for inspection.
func (b *Builder) Run(ctx context.Context) error {
	runLogger := b.logger.With("run_id", uuid.NewString())
	stages := []struct {
		name string
		fn   func(context.Context, *slog.Logger) error
	}{
		{StageSetup, b.setup},
		{StageBuildVM, b.buildVM},
		{StagePackage, b.packageStemcell},
	}

	for _, stage := range stages {
		stageLogger := runLogger.With(logging.StageKey, stage.name)
		stageLogger.Info("starting stage")
		if err := stage.fn(ctx, stageLogger); err != nil {
			return err
		}
		stageLogger.Info("stage completed")
	}
	runLogger.Info("stemcell built", "target", b.config.Target)
	return nil
}

// Setup stages the definition, renders it and adds the payloads.
func (b *Builder) Setup(ctx context.Context) error {
	return b.setup(ctx, b.logger.With(logging.StageKey, StageSetup))
}

// BuildVM builds, exports and destroys the VM.
func (b *Builder) BuildVM(ctx context.Context) error {
	return b.buildVM(ctx, b.logger.With(logging.StageKey, StageBuildVM))
}

// PackageStemcell assembles the image and writes the final archive.
func (b *Builder) PackageStemcell(ctx context.Context) error {
	return b.packageStemcell(ctx, b.logger.With(logging.StageKey, StagePackage))
}

func (b *Builder) stageContext(logger *slog.Logger) StageContext {
	return StageContext{
		Config:        b.config,
		DefinitionDir: b.config.DefinitionDestDir(),
		Runner:        b.runner,
		Logger:        logger,
	}
}

func (b *Builder) setup(ctx context.Context, logger *slog.Logger) error {
	cfg := b.config
	dest := cfg.DefinitionDestDir()

	if err := StageDefinitions(cfg.DefinitionDir(), dest); err != nil {
		return stageError(StageSetup, cfg.DefinitionDir(), err)
	}
	logger.Debug("staged definition", "src", cfg.DefinitionDir(), "dest", dest)

	rc := cfg.RenderContext()
	if ext, ok := b.variant.(TemplateExtender); ok {
		for k, v := range ext.TemplateValues() {
			rc.Extra[k] = v
		}
	}
	rendered, err := RenderTemplates(dest, rc)
	if err != nil {
		return stageError(StageSetup, dest, err)
	}
	logger.Debug("rendered templates", "count", len(rendered))

	if err := PackageAgent(ctx, b.runner, cfg, dest); err != nil {
		return stageError(StageSetup, cfg.AgentSrcPath, err)
	}

	if err := VerifyLocalISO(cfg, logger); err != nil {
		return stageError(StageSetup, cfg.LocalISOPath(), err)
	}

	if ext, ok := b.variant.(SetupExtender); ok {
		if err := ext.SetupExtra(ctx, b.stageContext(logger)); err != nil {
			return stageError(StageSetup, dest, err)
		}
	}
	return nil
}

func (b *Builder) buildVM(ctx context.Context, logger *slog.Logger) error {
	name := b.config.Name

	if err := b.driver.Build(ctx, name); err != nil {
		return stageError(StageBuildVM, name, err)
	}
	logger.Info("vm built")

	if hook, ok := b.variant.(PostBuildHook); ok {
		if err := hook.PostBuild(ctx, b.stageContext(logger)); err != nil {
			return stageError(StageBuildVM, name, err)
		}
	}

	// Destroy is not reached when the export fails; the VM is kept around.
	if err := b.driver.Export(ctx, name); err != nil {
		return stageError(StageBuildVM, name, err)
	}
	logger.Info("vm exported", "box", b.config.BoxPath())

	if err := b.driver.Destroy(ctx, name); err != nil {
		logger.Debug("could not destroy vm", "error", err)
	}
	return nil
}

func (b *Builder) packageStemcell(ctx context.Context, logger *slog.Logger) error {
	cfg := b.config

	image, err := AssembleImage(b.archiver, cfg.Prefix, cfg.Name)
	if err != nil {
		return stageError(StagePackage, cfg.BoxPath(), err)
	}
	logger.Debug("assembled image", "image", image)

	data, err := b.manifest.Marshal()
	if err != nil {
		return stageError(StagePackage, ManifestName, err)
	}
	if err := os.WriteFile(filepath.Join(cfg.Prefix, ManifestName), data, 0o644); err != nil {
		return stageError(StagePackage, ManifestName, err)
	}

	if err := touch(filepath.Join(cfg.Prefix, PackageListName)); err != nil {
		return stageError(StagePackage, PackageListName, err)
	}

	members := []string{ImageName, ManifestName, PackageListName}
	if ext, ok := b.variant.(PackageExtender); ok {
		extra, err := ext.PackageExtra(ctx, b.stageContext(logger))
		if err != nil {
			return stageError(StagePackage, cfg.Prefix, err)
		}
		members = append(members, extra...)
	}

	if err := b.archiver.Create(cfg.Prefix, cfg.Target, members...); err != nil {
		return stageError(StagePackage, cfg.Target, err)
	}

	dgst, err := fileDigest(cfg.Target)
	if err != nil {
		return stageError(StagePackage, cfg.Target, err)
	}
	logger.Info("stemcell archive written", "target", cfg.Target, "members", len(members), "digest", dgst.String())
	return nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func fileDigest(path string) (digest.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}
