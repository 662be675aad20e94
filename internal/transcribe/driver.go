package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"batch-transcriber/internal/chunking"
	"batch-transcriber/internal/domain"
)

// Checkpoints is the part of the checkpoint store the driver needs.
type Checkpoints interface {
	IsDone(ctx context.Context, baseName string, index int) (bool, error)
	MarkDone(ctx context.Context, baseName string, index int, text string) error
}

// Transcript is where the driver appends text and completion lines.
type Transcript interface {
	AppendChunkText(text string) error
	LogChunkDone(index int) error
}

// ChunkOutcome describes what happened to one chunk.
type ChunkOutcome struct {
	Artifact domain.ChunkArtifact
	Skipped  bool
	Text     string
	Elapsed  time.Duration
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	Language       string
	DeleteAfterUse bool
	Logger         *slog.Logger
	OnStart        func(domain.ChunkArtifact)
	OnChunk        func(ChunkOutcome)
}

// Driver transcribes the chunks of one file strictly in index order, one
// engine call at a time, checkpointing each before moving on.
type Driver struct {
	engine      Engine
	checkpoints Checkpoints
	transcript  Transcript
	opts        DriverOptions
	remove      func(name string) error
}

// NewDriver builds a driver. It is meant to be owned by one goroutine.
func NewDriver(engine Engine, checkpoints Checkpoints, transcript Transcript, opts DriverOptions) *Driver {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{
		engine:      engine,
		checkpoints: checkpoints,
		transcript:  transcript,
		opts:        opts,
		remove:      os.Remove,
	}
}

// Drive processes artifacts in ascending index order and returns how many
// engine calls it made. Any failure stops the drive; chunks checkpointed so
// far stay done.
func (d *Driver) Drive(ctx context.Context, artifacts []domain.ChunkArtifact) (int, error) {
	ordered := slices.Clone(artifacts)
	chunking.SortByIndex(ordered)

	transcribed := 0
	for _, artifact := range ordered {
		if err := ctx.Err(); err != nil {
			return transcribed, err
		}

		done, err := d.checkpoints.IsDone(ctx, artifact.BaseName, artifact.Index)
		if err != nil {
			return transcribed, Wrap(StageJournal, fmt.Sprintf("read checkpoint of chunk %d of %s", artifact.Index, artifact.BaseName), err)
		}
		if done {
			d.opts.Logger.Debug("chunk already transcribed", "file", artifact.BaseName, "chunk", artifact.Index)
			d.discard(artifact)
			d.emit(ChunkOutcome{Artifact: artifact, Skipped: true})
			continue
		}

		if err := d.transcribeOne(ctx, artifact); err != nil {
			return transcribed, err
		}
		transcribed++
	}
	return transcribed, nil
}

func (d *Driver) transcribeOne(ctx context.Context, artifact domain.ChunkArtifact) error {
	if d.opts.OnStart != nil {
		d.opts.OnStart(artifact)
	}
	d.opts.Logger.Info("transcribing chunk", "file", artifact.BaseName, "chunk", artifact.Index)

	started := time.Now()
	text, err := d.engine.Transcribe(ctx, artifact.Path, d.opts.Language)
	if err != nil {
		return Wrap(StageTranscription, fmt.Sprintf("transcribe chunk %d of %s", artifact.Index, artifact.BaseName), err)
	}
	elapsed := time.Since(started)

	// Once the engine returned, the result is recorded even if the run is
	// being cancelled.
	writeCtx := context.WithoutCancel(ctx)
	if err := d.transcript.AppendChunkText(text); err != nil {
		return Wrap(StageJournal, "append transcript", err)
	}
	if err := d.checkpoints.MarkDone(writeCtx, artifact.BaseName, artifact.Index, text); err != nil {
		return Wrap(StageJournal, fmt.Sprintf("checkpoint chunk %d of %s", artifact.Index, artifact.BaseName), err)
	}
	if err := d.transcript.LogChunkDone(artifact.Index); err != nil {
		return Wrap(StageJournal, "append session log", err)
	}

	d.opts.Logger.Info("chunk transcribed", "file", artifact.BaseName, "chunk", artifact.Index, "elapsed", elapsed.Round(time.Millisecond))
	d.discard(artifact)
	d.emit(ChunkOutcome{Artifact: artifact, Text: text, Elapsed: elapsed})
	return nil
}

// discard removes a transcribed artifact when configured to.
func (d *Driver) discard(artifact domain.ChunkArtifact) {
	if !d.opts.DeleteAfterUse {
		return
	}
	if err := d.remove(artifact.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.opts.Logger.Warn("cannot delete chunk", "path", artifact.Path, "error", err)
	}
}

func (d *Driver) emit(outcome ChunkOutcome) {
	if d.opts.OnChunk != nil {
		d.opts.OnChunk(outcome)
	}
}
