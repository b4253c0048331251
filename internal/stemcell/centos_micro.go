package stemcell

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/stemcell/internal/archive"
	"github.com/cochaviz/stemcell/internal/logging"
	"github.com/cochaviz/stemcell/internal/remote"
)

// Payload names inside the staged definition directory.
const (
	PackageCompilerPayload = "_package_compiler.tar"
	ReleaseTarPayload      = "_release.tgz"
	ReleaseManifestPayload = "_release.yml"
)

// Files pulled off the micro VM before it is shut down.
var microRemoteFiles = []string{
	"/var/vcap/bosh/stemcell_yum_list_installed.out",
	"/var/vcap/micro/apply_spec.yml",
}

// CentosMicro builds a CentOS stemcell with a release and package compiler
// baked in.
type CentosMicro struct {
	Centos

	ReleaseManifest    string
	ReleaseTar         string
	PackageCompilerTar string

	// tempDir holds a package compiler tarred from a directory; see Close.
	tempDir    string
	downloader remote.Downloader
	logger     *slog.Logger
}

var (
	_ OptionDefaulter  = CentosMicro{}
	_ TemplateExtender = (*CentosMicro)(nil)
	_ SetupExtender    = (*CentosMicro)(nil)
	_ PostBuildHook    = (*CentosMicro)(nil)
	_ PackageExtender  = (*CentosMicro)(nil)
	_ io.Closer        = (*CentosMicro)(nil)
)

// NewCentosMicro validates the release inputs. A package compiler given as a
// directory is tarred into a temporary file first.
func NewCentosMicro(opts Options, deps VariantDeps) (*CentosMicro, error) {
	logger := logging.Ensure(deps.Logger).With("component", "centosmicro")

	v := &CentosMicro{
		ReleaseManifest:    opts.ReleaseManifest,
		ReleaseTar:         opts.ReleaseTar,
		PackageCompilerTar: opts.PackageCompilerTar,
		downloader:         deps.Downloader,
		logger:             logger,
	}

	if info, err := os.Stat(v.PackageCompilerTar); err == nil && info.IsDir() {
		tarball, err := tarPackageCompiler(v.PackageCompilerTar)
		if err != nil {
			return nil, err
		}
		logger.Debug("packed package compiler directory", "dir", v.PackageCompilerTar, "tar", tarball)
		v.PackageCompilerTar = tarball
		v.tempDir = filepath.Dir(tarball)
	}

	for _, input := range []string{v.ReleaseManifest, v.ReleaseTar, v.PackageCompilerTar} {
		if input == "" || !fileExists(input) {
			v.Close()
			return nil, fmt.Errorf("%w: please confirm that %q, %q and %q exist",
				ErrMissingReleaseInput, v.ReleaseManifest, v.ReleaseTar, v.PackageCompilerTar)
		}
	}

	if v.downloader == nil {
		client, err := remote.NewSSHClient(opts.SSH, logger)
		if err != nil {
			v.Close()
			return nil, err
		}
		v.downloader = client
	}
	return v, nil
}

func (CentosMicro) Kind() Kind { return KindCentosMicro }

// Close removes the package compiler tarball created from a directory.
func (v *CentosMicro) Close() error {
	if v.tempDir == "" {
		return nil
	}
	dir := v.tempDir
	v.tempDir = ""
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove package compiler temp dir %q: %w", dir, err)
	}
	return nil
}

// TemplateValues exposes the payload names to the definition templates.
func (*CentosMicro) TemplateValues() map[string]string {
	return map[string]string{
		"PackageCompiler": PackageCompilerPayload,
		"ReleaseTar":      ReleaseTarPayload,
		"ReleaseManifest": ReleaseManifestPayload,
	}
}

// SetupExtra copies the release inputs next to the rendered definition.
func (v *CentosMicro) SetupExtra(_ context.Context, sc StageContext) error {
	copies := []struct{ src, name string }{
		{v.PackageCompilerTar, PackageCompilerPayload},
		{v.ReleaseTar, ReleaseTarPayload},
		{v.ReleaseManifest, ReleaseManifestPayload},
	}
	for _, c := range copies {
		dst := filepath.Join(sc.DefinitionDir, c.name)
		if err := copyFile(c.src, dst, 0o644); err != nil {
			return fmt.Errorf("copy %s to %s: %w", c.src, dst, err)
		}
		logging.Ensure(sc.Logger).Debug("staged release input", "src", c.src, "dst", dst)
	}
	return nil
}

// PostBuild downloads the package list and apply spec from the running VM
// into the prefix.
func (v *CentosMicro) PostBuild(ctx context.Context, sc StageContext) error {
	for _, remotePath := range microRemoteFiles {
		local := filepath.Join(sc.Config.Prefix, filepath.Base(remotePath))
		if err := v.downloader.Download(ctx, remotePath, local); err != nil {
			return fmt.Errorf("download %s: %w", remotePath, err)
		}
		v.logger.Info("downloaded from vm", "remote", remotePath, "local", local)
	}
	return nil
}

// PackageExtra reports the downloaded files as archive members.
func (v *CentosMicro) PackageExtra(_ context.Context, _ StageContext) ([]string, error) {
	members := make([]string, 0, len(microRemoteFiles))
	for _, remotePath := range microRemoteFiles {
		members = append(members, filepath.Base(remotePath))
	}
	return members, nil
}

func tarPackageCompiler(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read package compiler dir %q: %w", dir, err)
	}
	members := make([]string, 0, len(entries))
	for _, e := range entries {
		members = append(members, e.Name())
	}

	tmpDir, err := os.MkdirTemp("", "stemcell-package-compiler-")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	target := filepath.Join(tmpDir, PackageCompilerPayload)
	if err := archive.CreatePlain(dir, target, members...); err != nil {
		os.RemoveAll(tmpDir)
		return "", fmt.Errorf("unable to tar package compiler %q: %w", dir, err)
	}
	return target, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
