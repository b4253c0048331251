package stemcell

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cochaviz/stemcell/internal/archive"
	"github.com/cochaviz/stemcell/internal/logging"

	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	mu       sync.Mutex
	commands []Command
	errFor   map[string]error
	onRun    func(Command) error
}

func (s *stubRunner) Run(_ context.Context, cmd Command) error {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()

	if s.onRun != nil {
		if err := s.onRun(cmd); err != nil {
			return err
		}
	}
	if err, ok := s.errFor[cmd.Name]; ok {
		return &CommandError{Command: cmd.String(), Err: err}
	}
	return nil
}

type stubDriver struct {
	calls      []string
	buildErr   error
	exportErr  error
	destroyErr error
	onExport   func(name string) error
}

func (s *stubDriver) Build(_ context.Context, name string) error {
	s.calls = append(s.calls, "build:"+name)
	return s.buildErr
}

func (s *stubDriver) Export(_ context.Context, name string) error {
	s.calls = append(s.calls, "export:"+name)
	if s.exportErr != nil {
		return s.exportErr
	}
	if s.onExport != nil {
		return s.onExport(name)
	}
	return nil
}

func (s *stubDriver) Destroy(_ context.Context, name string) error {
	s.calls = append(s.calls, "destroy:"+name)
	return s.destroyErr
}

type stubDownloader struct {
	fetched []string
	err     error
}

func (s *stubDownloader) Download(_ context.Context, remotePath, localPath string) error {
	if s.err != nil {
		return s.err
	}
	s.fetched = append(s.fetched, remotePath)
	return os.WriteFile(localPath, []byte("from "+remotePath+"\n"), 0o644)
}

func discardLogger() *slog.Logger {
	return logging.NewCLI(io.Discard, slog.LevelDebug)
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// buildEnv lays out a prefix with an agent gem and a template directory for
// kind and returns options pointing at them.
func buildEnv(t *testing.T, kind Kind) Options {
	t.Helper()
	root := t.TempDir()
	templates := filepath.Join(root, "templates")
	writeFile(t, filepath.Join(templates, string(kind), "definition.rb.tmpl"),
		"Veewee::Session.declare({ :vm_name => '{{ .Name }}', :os_type_id => '{{ .Type | upper }}' })\n")
	writeFile(t, filepath.Join(templates, string(kind), "postinstall.sh"), "#!/bin/sh\n")

	prefix := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(prefix, 0o755))

	return Options{
		Name:         "x",
		Prefix:       prefix,
		TemplatesDir: templates,
		AgentSrcPath: writeFile(t, filepath.Join(root, "bosh_agent.gem"), "gem bytes"),
	}
}

// writeBox produces the tarball vagrant's exporter would leave at <prefix>/<name>.box.
func writeBox(t *testing.T, prefix, name string) {
	t.Helper()
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "box-disk1.vmdk"), "disk")
	writeFile(t, filepath.Join(src, "box.ovf"), "<Envelope/>")
	writeFile(t, filepath.Join(src, "Vagrantfile"), "Vagrant.configure")
	require.NoError(t, archive.Create(src, filepath.Join(prefix, name+".box"), "box-disk1.vmdk", "box.ovf", "Vagrantfile"))
}
