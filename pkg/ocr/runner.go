package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type ProcessResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ProcessRunner starts an external tool and waits for it to exit. A non-zero exit code is
// reported as *ProcessRunError.
type ProcessRunner interface {
	Run(ctx context.Context, command string, args ...string) (ProcessResult, error)
}

type ProcessRunError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *ProcessRunError) Error() string {
	return fmt.Sprintf("process '%s' exited with code %d. %s", e.Command, e.ExitCode, strings.TrimSpace(e.Stderr))
}

// ExecRunner runs commands with os/exec. The process is killed when ctx is cancelled.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, command string, args ...string) (ProcessResult, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ProcessResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, &ProcessRunError{Command: command, Args: args, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	return result, fmt.Errorf("process '%s' could not be started: %w", command, err)
}
