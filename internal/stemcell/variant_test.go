package stemcell

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cochaviz/stemcell/internal/archive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	t.Parallel()

	for _, k := range Kinds() {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind(" CentOS ")
	require.NoError(t, err)
	assert.Equal(t, KindCentos, got)

	_, err = ParseKind("windows")
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestNewVariantKinds(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindNoop, KindUbuntu, KindRedhat, KindCentos} {
		v, err := NewVariant(k, Options{}, VariantDeps{})
		require.NoError(t, err)
		assert.Equal(t, k, v.Kind())
	}

	_, err := NewVariant(Kind("solaris"), Options{}, VariantDeps{})
	require.ErrorIs(t, err, ErrUnknownVariant)
}

func TestBaseVariantsHaveNoHooks(t *testing.T) {
	t.Parallel()

	for _, v := range []Variant{Noop{}, Ubuntu{}, Redhat{}} {
		_, setup := v.(SetupExtender)
		_, post := v.(PostBuildHook)
		_, pkg := v.(PackageExtender)
		assert.False(t, setup || post || pkg, "%s should not extend the pipeline", v.Kind())
	}
}

func TestCentosDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := Centos{}.DefaultOptions(Options{Name: "c"})
	assert.Equal(t, CentosISO, opts.ISO)
	assert.Equal(t, CentosISOMD5, opts.ISOMD5)
	assert.Equal(t, CentosISOFilename, opts.ISOFilename)
	assert.Equal(t, "c", opts.Name)

	custom := Centos{}.DefaultOptions(Options{ISO: "http://mirror/other.iso", ISOMD5: "abc"})
	assert.Equal(t, "http://mirror/other.iso", custom.ISO)
	assert.Equal(t, "abc", custom.ISOMD5)
	assert.Empty(t, custom.ISOFilename)

	pinned := Centos{}.DefaultOptions(Options{ISOMD5: "local-md5", ISOFilename: "mirror.iso"})
	assert.Equal(t, CentosISO, pinned.ISO)
	assert.Equal(t, "local-md5", pinned.ISOMD5)
	assert.Equal(t, "mirror.iso", pinned.ISOFilename)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	for _, kind := range []Kind{KindCentos, KindCentosMicro} {
		assert.Equal(t, CentosISO, ApplyDefaults(kind, Options{}).ISO, kind)
	}
	for _, kind := range []Kind{KindNoop, KindUbuntu, KindRedhat, Kind("beos")} {
		assert.Empty(t, ApplyDefaults(kind, Options{}).ISO, kind)
	}
}

func microInputs(t *testing.T) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		ReleaseManifest:    writeFile(t, filepath.Join(dir, "micro.yml"), "name: micro\n"),
		ReleaseTar:         writeFile(t, filepath.Join(dir, "micro.tgz"), "release"),
		PackageCompilerTar: writeFile(t, filepath.Join(dir, "package_compiler.tar"), "compiler"),
	}
}

func TestNewCentosMicroRequiresInputs(t *testing.T) {
	t.Parallel()

	opts := microInputs(t)
	opts.ReleaseTar = filepath.Join(t.TempDir(), "missing.tgz")

	_, err := NewVariant(KindCentosMicro, opts, VariantDeps{Downloader: &stubDownloader{}})
	require.ErrorIs(t, err, ErrMissingReleaseInput)
	assert.Contains(t, err.Error(), "please confirm")

	_, err = NewVariant(KindCentosMicro, Options{}, VariantDeps{Downloader: &stubDownloader{}})
	require.ErrorIs(t, err, ErrMissingReleaseInput)
}

func TestNewCentosMicroTarsCompilerDirectory(t *testing.T) {
	t.Parallel()

	opts := microInputs(t)
	compiler := t.TempDir()
	writeFile(t, filepath.Join(compiler, "bin", "compile"), "#!/bin/sh\n")
	writeFile(t, filepath.Join(compiler, "README"), "compiler")
	opts.PackageCompilerTar = compiler

	v, err := NewCentosMicro(opts, VariantDeps{Downloader: &stubDownloader{}})
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(filepath.Dir(v.PackageCompilerTar)) })

	assert.Equal(t, PackageCompilerPayload, filepath.Base(v.PackageCompilerTar))
	members, err := archive.List(v.PackageCompilerTar)
	require.NoError(t, err)
	assert.Contains(t, members, "README")
	assert.Contains(t, members, "bin/compile")

	require.NoError(t, v.Close())
	assert.NoDirExists(t, filepath.Dir(v.PackageCompilerTar))
	require.NoError(t, v.Close())
}

func TestCentosMicroCloseKeepsUserTarball(t *testing.T) {
	t.Parallel()

	opts := microInputs(t)
	v, err := NewCentosMicro(opts, VariantDeps{Downloader: &stubDownloader{}})
	require.NoError(t, err)

	require.NoError(t, v.Close())
	assert.FileExists(t, opts.PackageCompilerTar)
}

func TestNewCentosMicroRejectsUnstatableInput(t *testing.T) {
	t.Parallel()

	opts := microInputs(t)
	// stat fails with ENOTDIR, which is not fs.ErrNotExist
	opts.ReleaseTar = filepath.Join(opts.ReleaseManifest, "micro.tgz")

	_, err := NewCentosMicro(opts, VariantDeps{Downloader: &stubDownloader{}})
	require.ErrorIs(t, err, ErrMissingReleaseInput)
	assert.False(t, fileExists(opts.ReleaseTar))
	assert.True(t, fileExists(opts.ReleaseManifest))
}

func TestCentosMicroHooks(t *testing.T) {
	t.Parallel()

	downloader := &stubDownloader{}
	v, err := NewCentosMicro(microInputs(t), VariantDeps{Downloader: downloader, Logger: discardLogger()})
	require.NoError(t, err)
	assert.Equal(t, KindCentosMicro, v.Kind())

	opts := v.DefaultOptions(Options{})
	assert.Equal(t, CentosISO, opts.ISO)

	prefix := t.TempDir()
	sc := StageContext{
		Config:        Config{Prefix: prefix},
		DefinitionDir: filepath.Join(prefix, DefinitionsDir, "micro"),
		Logger:        discardLogger(),
	}
	ctx := context.Background()

	require.NoError(t, v.SetupExtra(ctx, sc))
	for name, want := range map[string]string{
		PackageCompilerPayload: "compiler",
		ReleaseTarPayload:      "release",
		ReleaseManifestPayload: "name: micro\n",
	} {
		data, err := os.ReadFile(filepath.Join(sc.DefinitionDir, name))
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}

	require.NoError(t, v.PostBuild(ctx, sc))
	assert.Equal(t, microRemoteFiles, downloader.fetched)
	assert.FileExists(t, filepath.Join(prefix, "stemcell_yum_list_installed.out"))
	assert.FileExists(t, filepath.Join(prefix, "apply_spec.yml"))

	extra, err := v.PackageExtra(ctx, sc)
	require.NoError(t, err)
	assert.Equal(t, []string{"stemcell_yum_list_installed.out", "apply_spec.yml"}, extra)

	assert.Equal(t, ReleaseTarPayload, v.TemplateValues()["ReleaseTar"])
}

func TestCentosMicroPostBuildFailure(t *testing.T) {
	t.Parallel()

	v, err := NewCentosMicro(microInputs(t), VariantDeps{Downloader: &stubDownloader{err: errors.New("connection refused")}})
	require.NoError(t, err)

	err = v.PostBuild(context.Background(), StageContext{Config: Config{Prefix: t.TempDir()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stemcell_yum_list_installed.out")
}
