package stemcell

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Command is one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the current one.
	Dir string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner executes external commands and reports non-zero exits as errors.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec, streaming their output.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func (r *ExecRunner) logger() *slog.Logger {
	if r != nil && r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if c.Name == "" {
		return &CommandError{Command: c.String(), Err: exec.ErrNotFound}
	}

	r.logger().Debug("executing", "command", c.String(), "dir", c.Dir)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if r != nil && r.Stdout != nil {
		cmd.Stdout = r.Stdout
	}
	if r != nil && r.Stderr != nil {
		cmd.Stderr = r.Stderr
	}

	if err := cmd.Run(); err != nil {
		return &CommandError{Command: c.String(), Err: err}
	}
	return nil
}
