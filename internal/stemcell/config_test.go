package stemcell

import (
	"path/filepath"
	"testing"

	"github.com/cochaviz/stemcell/arch"
	"github.com/cochaviz/stemcell/internal/agent"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveDefaults(t *testing.T) {
	wd := t.TempDir()
	orig := workingDir
	workingDir = func() (string, error) { return wd, nil }
	t.Cleanup(func() { workingDir = orig })

	cfg, err := Resolve(Options{}, KindUbuntu)
	require.NoError(t, err)

	assert.Equal(t, DefaultStemcellName, cfg.Name)
	assert.Equal(t, KindUbuntu, cfg.Type)
	assert.Equal(t, DefaultInfrastructure, cfg.Infrastructure)
	assert.Equal(t, arch.X86_64, cfg.Architecture)
	assert.Equal(t, DefaultProvider, cfg.Provider)
	assert.Equal(t, wd, cfg.Prefix)
	assert.Equal(t, filepath.Join(wd, "templates"), cfg.TemplatesDir)
	assert.Equal(t, filepath.Join(wd, "templates", "ubuntu"), cfg.DefinitionDir())
	assert.Equal(t, filepath.Join(wd, "bosh_agent-"+agent.Version+".gem"), cfg.AgentSrcPath)
	assert.Equal(t, filepath.Join(wd, "bosh-ubuntu-"+agent.Version+".tgz"), cfg.Target)
	assert.Equal(t, agent.Version, cfg.AgentVersion)
	assert.Equal(t, agent.Protocol, cfg.BoshProtocol)
	assert.Equal(t, 7222, cfg.SSH.Port)
	assert.Empty(t, cfg.LocalISOPath())
}

func TestResolveRelativePathsAgainstWorkingDir(t *testing.T) {
	wd := t.TempDir()
	orig := workingDir
	workingDir = func() (string, error) { return wd, nil }
	t.Cleanup(func() { workingDir = orig })

	cfg, err := Resolve(Options{Prefix: "build", Target: "out/stemcell.tgz", AgentSrcPath: "agent"}, KindNoop)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(wd, "build"), cfg.Prefix)
	assert.Equal(t, filepath.Join(wd, "out", "stemcell.tgz"), cfg.Target)
	assert.Equal(t, filepath.Join(wd, "agent"), cfg.AgentSrcPath)
	assert.Equal(t, filepath.Join(wd, "build", DefinitionsDir, DefaultStemcellName), cfg.DefinitionDestDir())
	assert.Equal(t, filepath.Join(wd, "build", DefaultStemcellName+".box"), cfg.BoxPath())
}

func TestResolveISO(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		opts     Options
		wantErr  error
		filename string
	}{
		{name: "no iso", opts: Options{}},
		{
			name:    "iso without md5",
			opts:    Options{ISO: "http://mirror/centos.iso"},
			wantErr: ErrISOChecksumRequired,
		},
		{
			name:     "filename derived from url",
			opts:     Options{ISO: "http://mirror/isos/CentOS-minimal.iso", ISOMD5: "abc"},
			filename: "CentOS-minimal.iso",
		},
		{
			name:     "explicit filename",
			opts:     Options{ISO: "http://mirror/isos/CentOS-minimal.iso", ISOMD5: "abc", ISOFilename: "local.iso"},
			filename: "local.iso",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.opts.Prefix = "/build"
			cfg, err := Resolve(tt.opts, KindCentos)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.filename, cfg.ISO.Filename)
			if tt.filename != "" {
				assert.Equal(t, filepath.Join("/build", ISODir, tt.filename), cfg.LocalISOPath())
			}
		})
	}
}

func TestResolveNormalizesAndValidates(t *testing.T) {
	t.Parallel()

	cfg, err := Resolve(Options{Prefix: "/build", Architecture: "amd64", Provider: "KVM"}, KindRedhat)
	require.NoError(t, err)
	assert.Equal(t, arch.X86_64, cfg.Architecture)
	assert.Equal(t, "kvm", cfg.Provider)

	_, err = Resolve(Options{Prefix: "/build", Architecture: "sparc"}, KindRedhat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported architecture")

	_, err = Resolve(Options{Prefix: "/build", Provider: "hyperv"}, KindRedhat)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestDefaultTargetIsPure(t *testing.T) {
	t.Parallel()

	a := DefaultTarget("/p", KindCentos, "1.2.3")
	b := DefaultTarget("/p", KindCentos, "1.2.3")
	assert.Equal(t, a, b)
	assert.Equal(t, "/p/bosh-centos-1.2.3.tgz", a)
	assert.NotEqual(t, a, DefaultTarget("/p", KindUbuntu, "1.2.3"))
}
