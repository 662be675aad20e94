package pipeline

import (
	"context"
	"errors"
	"slices"

	"batch-transcriber/internal/chunking"
	"batch-transcriber/internal/discovery"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/journal"
	"batch-transcriber/internal/transcribe"
)

// recoverLeftovers finishes what an interrupted run left behind, before any
// new recording is looked at: chunk artifacts without a checkpoint, and the
// file whose log block was left open (its marker written, its transcription
// line not), which may have no artifact at all.
func (c *run) recoverLeftovers(ctx context.Context) error {
	groups, err := chunking.ScanLeftovers(ctx, c.settings.ChunksDir, c.store, func(name string, err error) {
		c.log.Warn("skipping unrecognized chunk file", "name", name, "error", err)
	})
	if err != nil {
		return transcribe.Wrap(transcribe.StageSetup, "scan leftover chunks", err)
	}

	unfinished, open, err := journal.UnfinishedFile(c.summary.Session.LogPath)
	if err != nil {
		return transcribe.Wrap(transcribe.StageJournal, "read session log", err)
	}
	openBase := ""
	if open {
		openBase = chunking.BaseName(unfinished)
		if !slices.ContainsFunc(groups, func(g chunking.LeftoverGroup) bool { return g.BaseName == openBase }) {
			groups = append(groups, chunking.LeftoverGroup{BaseName: openBase})
		}
	}
	if len(groups) == 0 {
		return nil
	}

	total := 0
	for _, g := range groups {
		total += len(g.Artifacts)
	}
	c.log.Info("resuming interrupted work", "files", len(groups), "chunks", total, "open_file", unfinished)

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}

		artifacts, err := c.fillGaps(ctx, group)
		if err != nil {
			var pErr *transcribe.PipelineError
			if ctx.Err() != nil || !errors.As(err, &pErr) || pErr.Stage != transcribe.StageProduction {
				return err
			}
			// The marker already counts the recording as taken up.
			c.log.Warn("cannot complete interrupted recording, keeping chunks already produced",
				"file", group.BaseName, "chunks", len(group.Artifacts), "error", err)
			artifacts = group.Artifacts
		}

		c.transition(domain.RunStatusTranscribing)
		started := c.now()
		before := c.summary.Transcribed
		if err := c.drive(ctx, artifacts); err != nil {
			return err
		}
		c.summary.Recovered += c.summary.Transcribed - before

		if group.BaseName == openBase {
			if err := c.journal.LogTranscriptionTiming(c.now().Sub(started)); err != nil {
				return transcribe.Wrap(transcribe.StageJournal, "write transcription timing", err)
			}
		}
	}
	return nil
}

// fillGaps completes a leftover group whose production was cut short. When
// the source recording is still present it is planned again, and every chunk
// that is neither on disk nor checkpointed is produced. Without the source
// the group is driven as found.
func (c *run) fillGaps(ctx context.Context, group chunking.LeftoverGroup) ([]domain.ChunkArtifact, error) {
	file, ok, err := discovery.FindByBaseName(c.settings.AudioDir, group.BaseName)
	if err != nil {
		return nil, transcribe.Wrap(transcribe.StageSetup, "look up source recording", err)
	}
	if !ok {
		c.log.Debug("source recording gone, transcribing leftovers as found", "file", group.BaseName)
		return group.Artifacts, nil
	}

	c.transition(domain.RunStatusSplitting)
	specs, err := c.plan(ctx, file)
	if err != nil {
		return nil, err
	}

	onDisk := make(map[int]bool, len(group.Artifacts))
	for _, a := range group.Artifacts {
		onDisk[a.Index] = true
	}

	// produce skips the missing specs that are already checkpointed.
	var missing []domain.ChunkSpec
	for _, spec := range specs {
		if !onDisk[spec.Index] {
			missing = append(missing, spec)
		}
	}
	if len(missing) == 0 {
		return group.Artifacts, nil
	}

	produced, err := c.produce(ctx, file, missing)
	if err != nil {
		return nil, err
	}
	if len(produced) > 0 {
		c.log.Info("produced chunks missing from interrupted run", "file", file.Name, "produced", len(produced))
	}

	artifacts := append(append([]domain.ChunkArtifact(nil), group.Artifacts...), produced...)
	chunking.SortByIndex(artifacts)
	return artifacts, nil
}
