package chunking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"batch-transcriber/internal/domain"
)

// Exporter writes the [startMs, endMs) range of a source recording to target.
type Exporter interface {
	Export(ctx context.Context, sourcePath, targetPath string, startMs, endMs int64) error
}

// Producer materializes chunk specs into artifact files with a bounded pool.
type Producer struct {
	exporter   Exporter
	chunksDir  string
	workers    int
	rename     func(oldpath, newpath string) error
	remove     func(name string) error
	onProduced func(domain.ChunkArtifact)
}

// NewProducer builds a producer writing to chunksDir with at most workers
// concurrent exports. onProduced may be nil and is called from worker goroutines.
func NewProducer(exporter Exporter, chunksDir string, workers int, onProduced func(domain.ChunkArtifact)) *Producer {
	return &Producer{
		exporter:   exporter,
		chunksDir:  chunksDir,
		workers:    max(1, workers),
		rename:     os.Rename,
		remove:     os.Remove,
		onProduced: onProduced,
	}
}

// Produce exports every spec of sourcePath and returns the artifacts in spec
// order, whatever order the workers finish in. The first failure cancels the
// remaining exports and is returned; already renamed artifacts stay on disk.
func (p *Producer) Produce(ctx context.Context, sourcePath string, specs []domain.ChunkSpec) ([]domain.ChunkArtifact, error) {
	artifacts := make([]domain.ChunkArtifact, len(specs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			artifact, err := p.produceOne(gctx, sourcePath, spec)
			if err != nil {
				return err
			}
			artifacts[i] = artifact
			if p.onProduced != nil {
				p.onProduced(artifact)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return artifacts, nil
}

// produceOne writes to a .part file and renames it into place so a killed run
// never leaves a truncated artifact under the final name.
func (p *Producer) produceOne(ctx context.Context, sourcePath string, spec domain.ChunkSpec) (domain.ChunkArtifact, error) {
	base := BaseName(spec.FileName)
	target := filepath.Join(p.chunksDir, ArtifactName(base, spec.Index))
	partial := target + ".part"

	if err := p.exporter.Export(ctx, sourcePath, partial, spec.StartMs, spec.EndMs); err != nil {
		_ = p.remove(partial)
		return domain.ChunkArtifact{}, fmt.Errorf("export chunk %d of %s: %w", spec.Index, spec.FileName, err)
	}
	if err := p.rename(partial, target); err != nil {
		_ = p.remove(partial)
		return domain.ChunkArtifact{}, fmt.Errorf("move chunk %d of %s into place: %w", spec.Index, spec.FileName, err)
	}

	return domain.ChunkArtifact{BaseName: base, Index: spec.Index, Path: target}, nil
}
