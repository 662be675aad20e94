package chunking

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"batch-transcriber/internal/domain"
)

// DoneChecker answers whether a chunk has already been transcribed.
type DoneChecker interface {
	IsDone(ctx context.Context, baseName string, index int) (bool, error)
}

// LeftoverGroup holds the not-yet-transcribed artifacts of one source file,
// ordered by chunk index.
type LeftoverGroup struct {
	BaseName  string
	Artifacts []domain.ChunkArtifact
	firstSeen time.Time
}

// ListArtifacts returns every well-formed chunk artifact in chunksDir with its
// modification time. Entries that are not chunk artifacts are reported
// through skip (when non-nil) and otherwise ignored. A missing directory holds
// no artifacts.
func ListArtifacts(chunksDir string, skip func(name string, err error)) ([]domain.ChunkArtifact, map[string]time.Time, error) {
	entries, err := os.ReadDir(chunksDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read chunks dir %s: %w", chunksDir, err)
	}

	var artifacts []domain.ChunkArtifact
	modTimes := make(map[string]time.Time)
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ArtifactExt {
			continue
		}

		base, index, err := ParseArtifactName(entry.Name())
		if err != nil {
			if skip != nil {
				skip(entry.Name(), err)
			}
			continue
		}

		path := filepath.Join(chunksDir, entry.Name())
		if info, err := entry.Info(); err == nil {
			modTimes[path] = info.ModTime()
		}
		artifacts = append(artifacts, domain.ChunkArtifact{BaseName: base, Index: index, Path: path})
	}
	return artifacts, modTimes, nil
}

// ScanLeftovers finds artifacts not yet checkpointed and groups them by source
// file. Groups are ordered by their oldest artifact, which follows the order
// files were produced in; chunks inside a group by index.
func ScanLeftovers(ctx context.Context, chunksDir string, done DoneChecker, skip func(name string, err error)) ([]LeftoverGroup, error) {
	artifacts, modTimes, err := ListArtifacts(chunksDir, skip)
	if err != nil {
		return nil, err
	}

	byBase := make(map[string]*LeftoverGroup)
	for _, artifact := range artifacts {
		isDone, err := done.IsDone(ctx, artifact.BaseName, artifact.Index)
		if err != nil {
			return nil, fmt.Errorf("check chunk %d of %s: %w", artifact.Index, artifact.BaseName, err)
		}
		if isDone {
			continue
		}

		group, ok := byBase[artifact.BaseName]
		if !ok {
			group = &LeftoverGroup{BaseName: artifact.BaseName, firstSeen: modTimes[artifact.Path]}
			byBase[artifact.BaseName] = group
		}
		if mt := modTimes[artifact.Path]; mt.Before(group.firstSeen) {
			group.firstSeen = mt
		}
		group.Artifacts = append(group.Artifacts, artifact)
	}

	groups := make([]LeftoverGroup, 0, len(byBase))
	for _, group := range byBase {
		SortByIndex(group.Artifacts)
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].firstSeen.Equal(groups[j].firstSeen) {
			return groups[i].firstSeen.Before(groups[j].firstSeen)
		}
		return groups[i].BaseName < groups[j].BaseName
	})
	return groups, nil
}

// SortByIndex orders artifacts by ascending chunk index.
func SortByIndex(artifacts []domain.ChunkArtifact) {
	sort.SliceStable(artifacts, func(i, j int) bool {
		return artifacts[i].Index < artifacts[j].Index
	})
}
