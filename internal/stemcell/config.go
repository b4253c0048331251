package stemcell

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/stemcell/arch"
	"github.com/cochaviz/stemcell/internal/agent"
	"github.com/cochaviz/stemcell/internal/remote"
)

// Options are the user supplied construction options. Empty fields fall
// back to the defaults in defaults.go. The agent version and protocol are
// not options: they always come from the embedded agent package.
type Options struct {
	Name           string `yaml:"name"`
	Target         string `yaml:"target"`
	Infrastructure string `yaml:"infrastructure"`
	AgentSrcPath   string `yaml:"agent_src_path"`
	Architecture   string `yaml:"architecture"`
	Prefix         string `yaml:"prefix"`
	TemplatesDir   string `yaml:"templates_dir"`
	Provider       string `yaml:"provider"`

	ISO         string `yaml:"iso"`
	ISOMD5      string `yaml:"iso_md5"`
	ISOFilename string `yaml:"iso_filename"`

	ReleaseManifest    string `yaml:"release_manifest"`
	ReleaseTar         string `yaml:"release_tar"`
	PackageCompilerTar string `yaml:"package_compiler_tar"`

	SSH remote.Config `yaml:"ssh"`
}

// ISO identifies the installer image the external builder boots from.
type ISO struct {
	URL      string
	MD5      string
	Filename string
}

// Config is the resolved build configuration. It is produced once by
// Resolve and handed to every stage by value.
type Config struct {
	Name           string
	Type           Kind
	Infrastructure string
	Architecture   arch.Architecture
	AgentSrcPath   string
	AgentVersion   string
	BoshProtocol   string
	Prefix         string
	Target         string
	TemplatesDir   string
	Provider       string
	ISO            ISO
	SSH            remote.Config
}

// DefinitionDir is the variant's template directory.
func (c Config) DefinitionDir() string {
	return filepath.Join(c.TemplatesDir, string(c.Type))
}

// DefinitionDestDir is where the rendered definition is staged for the
// external builder.
func (c Config) DefinitionDestDir() string {
	return filepath.Join(c.Prefix, DefinitionsDir, c.Name)
}

// BoxPath is the exporter's output for the named VM.
func (c Config) BoxPath() string {
	return filepath.Join(c.Prefix, c.Name+".box")
}

// LocalISOPath is where a pre-fetched installer ISO is looked up.
func (c Config) LocalISOPath() string {
	if c.ISO.Filename == "" {
		return ""
	}
	return filepath.Join(c.Prefix, ISODir, c.ISO.Filename)
}

// DefaultTarget returns the archive path used when no target is configured.
func DefaultTarget(prefix string, kind Kind, agentVersion string) string {
	return filepath.Join(prefix, fmt.Sprintf("bosh-%s-%s.tgz", kind, agentVersion))
}

var workingDir = os.Getwd

// Resolve merges opts with the defaults and the embedded agent identity.
func Resolve(opts Options, kind Kind) (Config, error) {
	wd, err := workingDir()
	if err != nil {
		return Config{}, fmt.Errorf("determine working directory: %w", err)
	}

	prefix := absFrom(wd, valueOr(opts.Prefix, wd))

	architecture, err := arch.Parse(valueOr(opts.Architecture, DefaultArchitecture))
	if err != nil {
		return Config{}, err
	}

	provider := strings.ToLower(valueOr(opts.Provider, DefaultProvider))
	if _, ok := supportedProviders[provider]; !ok {
		return Config{}, fmt.Errorf("unsupported provider %q (supported: %s)", provider, strings.Join(providerNames(), ", "))
	}

	cfg := Config{
		Name:           valueOr(opts.Name, DefaultStemcellName),
		Type:           kind,
		Infrastructure: valueOr(opts.Infrastructure, DefaultInfrastructure),
		Architecture:   architecture,
		AgentVersion:   agent.Version,
		BoshProtocol:   agent.Protocol,
		Prefix:         prefix,
		TemplatesDir:   absFrom(wd, valueOr(opts.TemplatesDir, DefaultTemplatesDir)),
		Provider:       provider,
		SSH:            opts.SSH.WithDefaults(),
	}

	cfg.AgentSrcPath = absFrom(wd, valueOr(opts.AgentSrcPath, fmt.Sprintf("bosh_agent-%s.gem", cfg.AgentVersion)))

	if opts.Target != "" {
		cfg.Target = absFrom(wd, opts.Target)
	} else {
		cfg.Target = DefaultTarget(prefix, kind, cfg.AgentVersion)
	}

	cfg.ISO = ISO{URL: opts.ISO, MD5: opts.ISOMD5, Filename: opts.ISOFilename}
	if cfg.ISO.URL != "" {
		if cfg.ISO.MD5 == "" {
			return Config{}, ErrISOChecksumRequired
		}
		if cfg.ISO.Filename == "" {
			cfg.ISO.Filename = path.Base(cfg.ISO.URL)
		}
	}

	return cfg, nil
}

func valueOr(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func absFrom(base, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(base, p)
}

func providerNames() []string {
	names := make([]string, 0, len(supportedProviders))
	for name := range supportedProviders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
