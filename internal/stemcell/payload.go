package stemcell

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// PackageAgent places the agent payload into destDir as AgentPayloadName.
// A directory source is built with `gem build` first; a file source is
// copied as is.
func PackageAgent(ctx context.Context, runner Runner, cfg Config, destDir string) error {
	src := cfg.AgentSrcPath
	dest := filepath.Join(destDir, AgentPayloadName)

	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrAgentSourceNotFound, src)
		}
		return fmt.Errorf("stat agent source %q: %w", src, err)
	}

	if !info.IsDir() {
		if err := copyFile(src, dest, 0o644); err != nil {
			return fmt.Errorf("copy agent %s to %s: %w", src, dest, err)
		}
		return nil
	}

	build := Command{Name: "gem", Args: []string{"build", "bosh_agent.gemspec"}, Dir: src}
	if err := runner.Run(ctx, build); err != nil {
		return fmt.Errorf("unable to build agent gem: %w", err)
	}

	built := filepath.Join(src, fmt.Sprintf("bosh_agent-%s.gem", cfg.AgentVersion))
	if err := moveFile(built, dest); err != nil {
		return fmt.Errorf("move built agent %s to %s: %w", built, dest, err)
	}
	return nil
}
