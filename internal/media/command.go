// Package media wraps the external audio tools: ffprobe for durations and
// ffmpeg for exporting millisecond ranges of a recording.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// CommandLog captures one external command invocation result.
type CommandLog struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exitCode"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// CommandResult is the captured output of one process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// CommandError is a failed external command with its captured output.
type CommandError struct {
	Message string
	Log     CommandLog
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s (cmd=%s exit=%d)", e.Message, e.Log.Command, e.Log.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Run executes name through runner and returns its log. Failures come back
// as *CommandError carrying message.
func Run(ctx context.Context, runner Runner, message, name string, args ...string) (CommandLog, error) {
	result, err := runner.Run(ctx, name, args...)
	log := CommandLog{
		Command:  name,
		Args:     args,
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
	}
	if err != nil {
		return log, &CommandError{Message: message, Log: log, Err: err}
	}
	return log, nil
}
