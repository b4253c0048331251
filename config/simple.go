package simple

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cochaviz/stemcell/internal/logging"
	"github.com/cochaviz/stemcell/internal/stemcell"
	"github.com/cochaviz/stemcell/internal/stemcell/libvirt"
)

// BuildRequest is everything the CLI collects for one build.
type BuildRequest struct {
	Kind     stemcell.Kind
	Options  stemcell.Options
	Manifest map[string]any
	// ConnectURI is the libvirt URI used to reap leftover domains for the kvm provider.
	ConnectURI string
}

// NewBuilder wires a Builder for the request with the real collaborators.
func NewBuilder(req BuildRequest, logger *slog.Logger) (*stemcell.Builder, error) {
	logger = logging.Ensure(logger).With("component", "config.simple")

	variant, err := stemcell.NewVariant(req.Kind, req.Options, stemcell.VariantDeps{
		Logger: logger.With("variant", string(req.Kind)),
	})
	if err != nil {
		return nil, err
	}

	builder, err := stemcell.NewBuilder(variant, req.Options, req.Manifest, dependencies(req, logger))
	if err != nil {
		if c, ok := variant.(io.Closer); ok {
			runFuncAndLogErr(logger, c.Close)
		}
		return nil, err
	}
	return builder, nil
}

func runFuncAndLogErr(logger *slog.Logger, f func() error) {
	if err := f(); err != nil {
		logger.Warn("cleanup failed", "error", err)
	}
}

func dependencies(req BuildRequest, logger *slog.Logger) stemcell.Dependencies {
	logger = logging.Ensure(logger)
	deps := stemcell.Dependencies{Logger: logger}

	// kvm builds leave libvirt domains behind when veewee's destroy fails
	if strings.EqualFold(req.Options.Provider, "kvm") {
		deps.Reaper = libvirt.NewDomainReaper(req.ConnectURI, logger)
	}
	return deps
}

// Build executes the end-to-end flow for the request.
func Build(ctx context.Context, req BuildRequest, logger *slog.Logger) error {
	builder, err := NewBuilder(req, logger)
	if err != nil {
		return err
	}
	defer runFuncAndLogErr(logging.Ensure(logger), builder.Close)
	return builder.Run(ctx)
}

// List returns the known stemcell types and whether templatesDir carries a
// definition for each.
func List(templatesDir string) ([]stemcell.Kind, []bool, error) {
	if templatesDir == "" {
		templatesDir = stemcell.DefaultTemplatesDir
	}

	kinds := stemcell.Kinds()
	available := make([]bool, len(kinds))
	for i, kind := range kinds {
		info, err := os.Stat(filepath.Join(templatesDir, string(kind)))
		switch {
		case err == nil:
			available[i] = info.IsDir()
		case os.IsNotExist(err):
		default:
			return nil, nil, fmt.Errorf("stat template dir for %s: %w", kind, err)
		}
	}
	return kinds, available, nil
}

// ResolveManifest returns the stemcell.MF that a build of req would write.
// No sanity check is run and nothing is touched on disk.
func ResolveManifest(req BuildRequest) (stemcell.Manifest, error) {
	opts := stemcell.ApplyDefaults(req.Kind, req.Options)
	cfg, err := stemcell.Resolve(opts, req.Kind)
	if err != nil {
		return nil, err
	}
	return stemcell.BuildManifest(req.Manifest, cfg), nil
}
