// Package pipeline runs the resumable transcription pass: recover leftover
// chunks, discover new recordings, then split and transcribe them one file
// at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/rs/xid"

	"batch-transcriber/internal/checkpoint"
	"batch-transcriber/internal/chunking"
	"batch-transcriber/internal/config"
	"batch-transcriber/internal/discovery"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/journal"
	"batch-transcriber/internal/media"
	"batch-transcriber/internal/session"
	"batch-transcriber/internal/transcribe"
)

// Segmenter is the audio collaborator: it measures recordings and exports
// millisecond ranges of them.
type Segmenter interface {
	chunking.Exporter
	DurationMs(ctx context.Context, path string) (int64, error)
}

// Options holds the collaborators of a Runner.
type Options struct {
	Settings  domain.Settings
	Segmenter Segmenter
	Engine    transcribe.Engine
	Store     checkpoint.Store
	Jobs      *jobs.Manager
	Events    *jobs.EventBus
	Logger    *slog.Logger
}

// Summary reports what one run did.
type Summary struct {
	RunID       string
	Session     domain.Session
	Recovered   int
	Files       int
	Transcribed int
}

// Runner executes pipeline runs. Runs never overlap.
type Runner struct {
	settings  domain.Settings
	segmenter Segmenter
	engine    transcribe.Engine
	store     checkpoint.Store
	sessions  *session.Manager
	jobs      *jobs.Manager
	events    *jobs.EventBus
	logger    *slog.Logger
	newRunID  func() string
	now       func() time.Time
	mkdirAll  func(path string, perm os.FileMode) error
}

// New builds a runner. Settings are expected to be normalized.
func New(opts Options) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Jobs == nil {
		opts.Jobs = jobs.NewManager()
	}
	if opts.Events == nil {
		opts.Events = jobs.NewEventBus(0)
	}
	return &Runner{
		settings:  opts.Settings,
		segmenter: opts.Segmenter,
		engine:    opts.Engine,
		store:     opts.Store,
		sessions:  session.NewManager(opts.Settings.OutputDir, opts.Settings.ChunksDir, opts.Store, opts.Logger),
		jobs:      opts.Jobs,
		events:    opts.Events,
		logger:    opts.Logger,
		newRunID:  func() string { return xid.New().String() },
		now:       time.Now,
		mkdirAll:  os.MkdirAll,
	}
}

// Events returns the bus progress is published on.
func (r *Runner) Events() *jobs.EventBus {
	return r.events
}

// run carries the state of one Run call.
type run struct {
	*Runner
	id      string
	log     *slog.Logger
	journal *journal.Journal
	driver  *transcribe.Driver
	summary Summary
}

// Run performs one full pass. The first error aborts it; whatever was
// checkpointed stays done and the next run continues from there.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	id := r.newRunID()
	if err := r.jobs.Start(id); err != nil {
		return Summary{}, err
	}

	cur := &run{Runner: r, id: id, log: r.logger.With("run_id", id)}
	cur.summary.RunID = id
	cur.publish(jobs.Event{Type: jobs.EventTypeStatus, Status: domain.RunStatusResuming})

	err := cur.execute(ctx)
	if cur.journal != nil {
		if closeErr := cur.journal.Close(); closeErr != nil && err == nil {
			err = transcribe.Wrap(transcribe.StageJournal, "close session files", closeErr)
		}
	}

	if err != nil {
		_ = r.jobs.Fail(err)
		cur.publishError(err)
		cur.log.Error("run failed", "error", err)
		return cur.summary, err
	}

	_ = r.jobs.Transition(domain.RunStatusDone)
	cur.publish(jobs.Event{Type: jobs.EventTypeStatus, Status: domain.RunStatusDone})
	cur.log.Info("run finished",
		"recovered", cur.summary.Recovered,
		"files", cur.summary.Files,
		"transcribed", cur.summary.Transcribed,
		"transcript", cur.summary.Session.TranscriptPath)
	return cur.summary, nil
}

func (c *run) execute(ctx context.Context) error {
	s := c.settings
	for _, dir := range []string{s.AudioDir, s.ChunksDir, s.OutputDir} {
		if err := c.mkdirAll(dir, 0o755); err != nil {
			return transcribe.Wrap(transcribe.StageSetup, fmt.Sprintf("create directory %s", dir), err)
		}
	}

	sess, err := c.sessions.Resolve(ctx)
	if err != nil {
		return transcribe.Wrap(transcribe.StageSetup, "resolve session", err)
	}
	c.summary.Session = sess

	j, err := journal.Open(sess)
	if err != nil {
		return transcribe.Wrap(transcribe.StageSetup, "open session files", err)
	}
	c.journal = j
	c.driver = transcribe.NewDriver(c.engine, c.store, j, transcribe.DriverOptions{
		Language:       s.Language,
		DeleteAfterUse: s.DeleteChunksAfterUse,
		Logger:         c.log,
		OnStart:        c.onChunkStart,
		OnChunk:        c.onChunk,
	})

	if err := c.recoverLeftovers(ctx); err != nil {
		return err
	}
	return c.processNewFiles(ctx)
}

// processNewFiles handles every recording without a [FICHIER] marker in the
// session log, oldest first.
func (c *run) processNewFiles(ctx context.Context) error {
	c.transition(domain.RunStatusDiscovering)

	completed, err := journal.CompletedFiles(c.summary.Session.LogPath)
	if err != nil {
		return transcribe.Wrap(transcribe.StageJournal, "read completed files", err)
	}
	files, err := discovery.Discover(c.settings.AudioDir, completed)
	if err != nil {
		return transcribe.Wrap(transcribe.StageSetup, "discover recordings", err)
	}
	c.log.Info("recordings to process", "count", len(files), "already_done", len(completed))

	started := c.now()
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.processFile(ctx, file); err != nil {
			return err
		}
		c.summary.Files++
	}

	if err := c.journal.LogTotalTiming(c.now().Sub(started)); err != nil {
		return transcribe.Wrap(transcribe.StageJournal, "write total timing", err)
	}
	return nil
}

// processFile writes the file's header and marker, produces its chunks and
// transcribes them. The marker goes first; a crash after it is covered by
// the leftover scan of the next run.
func (c *run) processFile(ctx context.Context, file domain.AudioFile) error {
	log := c.log.With("file", file.Name)
	log.Info("processing recording", "modified", file.ModTime.Format(journal.DateLayout))

	if err := c.journal.WriteFileHeader(file); err != nil {
		return transcribe.Wrap(transcribe.StageJournal, "write file header", err)
	}

	c.transition(domain.RunStatusSplitting)
	specs, err := c.plan(ctx, file)
	if err != nil {
		return err
	}

	splitStarted := c.now()
	artifacts, err := c.produce(ctx, file, specs)
	if err != nil {
		return err
	}
	splitElapsed := c.now().Sub(splitStarted)
	log.Info("chunks produced", "chunks", len(specs), "produced", len(artifacts), "workers", config.Workers(c.settings), "elapsed", splitElapsed.Round(time.Millisecond))
	if err := c.journal.LogSplitTiming(splitElapsed, len(specs)); err != nil {
		return transcribe.Wrap(transcribe.StageJournal, "write split timing", err)
	}

	c.transition(domain.RunStatusTranscribing)
	transStarted := c.now()
	if err := c.drive(ctx, artifacts); err != nil {
		return err
	}
	if err := c.journal.LogTranscriptionTiming(c.now().Sub(transStarted)); err != nil {
		return transcribe.Wrap(transcribe.StageJournal, "write transcription timing", err)
	}
	return nil
}

// plan measures file and splits it into chunk specs.
func (c *run) plan(ctx context.Context, file domain.AudioFile) ([]domain.ChunkSpec, error) {
	totalMs, err := c.segmenter.DurationMs(ctx, file.Path)
	if err != nil {
		return nil, transcribe.Wrap(transcribe.StageProduction, fmt.Sprintf("read duration of %s", file.Name), err)
	}
	specs, err := chunking.Plan(file.Name, totalMs, config.ChunkLengthMs(c.settings))
	if err != nil {
		return nil, transcribe.Wrap(transcribe.StageProduction, fmt.Sprintf("plan chunks of %s", file.Name), err)
	}
	c.publish(jobs.Event{Type: jobs.EventTypeFilePlanned, File: file.Name, Total: len(specs)})
	return specs, nil
}

// produce materializes the specs that are not checkpointed yet and returns
// the artifacts in spec order.
func (c *run) produce(ctx context.Context, file domain.AudioFile, specs []domain.ChunkSpec) ([]domain.ChunkArtifact, error) {
	pending := make([]domain.ChunkSpec, 0, len(specs))
	for _, spec := range specs {
		done, err := c.store.IsDone(ctx, chunking.BaseName(spec.FileName), spec.Index)
		if err != nil {
			return nil, transcribe.Wrap(transcribe.StageJournal, "read checkpoint", err)
		}
		if !done {
			pending = append(pending, spec)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}

	producer := chunking.NewProducer(c.segmenter, c.settings.ChunksDir, config.Workers(c.settings), func(a domain.ChunkArtifact) {
		c.publish(jobs.Event{Type: jobs.EventTypeChunkProduced, File: file.Name, Chunk: a.Index, Total: len(pending)})
	})
	artifacts, err := producer.Produce(ctx, file.Path, pending)
	if err != nil {
		return nil, transcribe.Wrap(transcribe.StageProduction, fmt.Sprintf("produce chunks of %s", file.Name), err)
	}
	return artifacts, nil
}

func (c *run) drive(ctx context.Context, artifacts []domain.ChunkArtifact) error {
	n, err := c.driver.Drive(ctx, artifacts)
	c.summary.Transcribed += n
	return err
}

func (c *run) transition(status domain.RunStatus) {
	if err := c.jobs.Transition(status); err != nil {
		c.log.Warn("unexpected run transition", "to", status, "error", err)
		return
	}
	c.publish(jobs.Event{Type: jobs.EventTypeStatus, Status: status})
}

func (c *run) onChunkStart(a domain.ChunkArtifact) {
	c.publish(jobs.Event{Type: jobs.EventTypeChunkStarted, File: a.BaseName, Chunk: a.Index})
}

func (c *run) onChunk(o transcribe.ChunkOutcome) {
	eventType := jobs.EventTypeChunkTranscribed
	if o.Skipped {
		eventType = jobs.EventTypeChunkSkipped
	}
	c.publish(jobs.Event{Type: eventType, File: o.Artifact.BaseName, Chunk: o.Artifact.Index})
}

func (c *run) publish(event jobs.Event) {
	event.RunID = c.id
	c.events.Publish(event)
}

func (c *run) publishError(err error) {
	event := jobs.Event{Type: jobs.EventTypeError, Status: domain.RunStatusFailed, Message: err.Error()}
	var pErr *transcribe.PipelineError
	if errors.As(err, &pErr) {
		event.Command = pErr.CommandLog.Command
		event.ExitCode = pErr.CommandLog.ExitCode
		event.Stderr = pErr.CommandLog.Stderr
	}
	var cmdErr *media.CommandError
	if event.Command == "" && errors.As(err, &cmdErr) {
		event.Command = cmdErr.Log.Command
		event.ExitCode = cmdErr.Log.ExitCode
		event.Stderr = cmdErr.Log.Stderr
	}
	c.publish(event)
}
