package transcribe

import (
	"errors"
	"fmt"

	"batch-transcriber/internal/media"
)

// Stages a run can fail in.
const (
	StageSetup         = "setup"
	StageProduction    = "production"
	StageTranscription = "transcription"
	StageJournal       = "journal"
)

// PipelineError is a stage-aware error with optional command context.
type PipelineError struct {
	Stage      string           `json:"stage"`
	Message    string           `json:"message"`
	CommandLog media.CommandLog `json:"commandLog"`
	Err        error            `json:"-"`
}

// Error formats pipeline failures for logs.
func (e *PipelineError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Message)
	if e.CommandLog.Command != "" {
		msg = fmt.Sprintf("%s (cmd=%s exit=%d)", msg, e.CommandLog.Command, e.CommandLog.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes underlying error for errors.Is / errors.As.
func (e *PipelineError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Wrap tags err with stage. Errors already tagged keep their stage, and a
// failed command's log is lifted into CommandLog.
func Wrap(stage, message string, err error) error {
	if err == nil {
		return nil
	}
	var existing *PipelineError
	if errors.As(err, &existing) {
		return err
	}

	pErr := &PipelineError{Stage: stage, Message: message, Err: err}
	var cmdErr *media.CommandError
	if errors.As(err, &cmdErr) {
		pErr.CommandLog = cmdErr.Log
	}
	return pErr
}
