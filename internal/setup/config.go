package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/stemcell/internal/stemcell"
)

const appName = "stemcell"

// OptionsFileName is the options file looked up under the config directory.
const OptionsFileName = "options.yaml"

// ConfigDir is where the default options file lives.
//
//	Linux:   $XDG_CONFIG_HOME/stemcell or ~/.config/stemcell
//	macOS:   ~/Library/Application Support/stemcell
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, appName)
}

// DefaultOptionsFile is the options file used when none is given.
func DefaultOptionsFile() string {
	return filepath.Join(ConfigDir(), OptionsFileName)
}

// Verify reports whether the options file at path exists.
func Verify(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file %s does not exist", path)
	}
	return nil
}

// ClearConfig removes the options file at path. A missing file is fine.
func ClearConfig(path string) error {
	getLogger().Info("clearing configuration file", "path", path)

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

// InitOptions writes opts to path, creating parent directories. An existing
// file is left alone unless overwrite is set.
func InitOptions(path string, opts stemcell.Options, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("options file %s already exists", path)
		}
	}

	data, err := yaml.Marshal(opts)
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write options %s: %w", path, err)
	}
	getLogger().Info("wrote options file", "path", path)
	return nil
}

// DefaultOptions are the values written by InitOptions.
func DefaultOptions() stemcell.Options {
	return stemcell.Options{
		Name:           stemcell.DefaultStemcellName,
		Infrastructure: stemcell.DefaultInfrastructure,
		Architecture:   stemcell.DefaultArchitecture,
		Provider:       stemcell.DefaultProvider,
		TemplatesDir:   stemcell.DefaultTemplatesDir,
	}
}

// LoadOptions decodes the options file at path. Unknown keys are rejected.
// When optional is set a missing file yields zero options.
func LoadOptions(path string, optional bool) (stemcell.Options, error) {
	var opts stemcell.Options

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			getLogger().Debug("no options file", "path", path)
			return opts, nil
		}
		return opts, fmt.Errorf("read options %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return opts, fmt.Errorf("decode options %s: %w", path, err)
	}
	getLogger().Debug("loaded options file", "path", path)
	return opts, nil
}

// LoadManifest decodes a manifest override file.
func LoadManifest(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := stemcell.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return map[string]any(m), nil
}
