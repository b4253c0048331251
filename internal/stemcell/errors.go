package stemcell

import (
	"errors"
	"fmt"
	"os/exec"
)

var (
	ErrAgentSourceNotFound = errors.New("agent source not found")
	ErrDefinitionNotFound  = errors.New("definition not found")
	ErrISOChecksumRequired = errors.New("MD5 must be specified if ISO is specified")
	ErrISOChecksumMismatch = errors.New("iso checksum mismatch")
	ErrUnknownVariant      = errors.New("unknown stemcell type")
	ErrMissingReleaseInput = errors.New("release input missing")
)

// A CommandError reports an external process that could not be started or
// exited non-zero.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the process exit status, or -1 when the process did not exit normally.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// A StageError identifies the pipeline stage and the resource it was working
// on when it failed.
type StageError struct {
	Stage    string
	Resource string
	Err      error
}

func (e *StageError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Stage, e.Resource, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage, resource string, err error) error {
	return &StageError{Stage: stage, Resource: resource, Err: err}
}
