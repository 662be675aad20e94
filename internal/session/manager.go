// Package session picks the transcript/log pair a run writes to.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"batch-transcriber/internal/checkpoint"
	"batch-transcriber/internal/chunking"
	"batch-transcriber/internal/domain"
)

const (
	TranscriptPrefix = "transcription_globale"
	LogPrefix        = "log"
	StampLayout      = "20060102_1504"
	autoSuffix       = "auto"
)

// DoneLister lists checkpointed chunks.
type DoneLister interface {
	ListDone(ctx context.Context) ([]checkpoint.Key, error)
}

// Manager decides between resuming the latest session and starting a new one.
type Manager struct {
	outputDir string
	chunksDir string
	done      DoneLister
	now       func() time.Time
	logger    *slog.Logger
}

// NewManager builds a manager over the output and chunks directories.
func NewManager(outputDir, chunksDir string, done DoneLister, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		outputDir: outputDir,
		chunksDir: chunksDir,
		done:      done,
		now:       time.Now,
		logger:    logger,
	}
}

// NewManagerForTests builds a manager with a fixed clock.
func NewManagerForTests(outputDir, chunksDir string, done DoneLister, now func() time.Time) *Manager {
	m := NewManager(outputDir, chunksDir, done, slog.Default())
	m.now = now
	return m
}

// Resolve returns the session of this run. A run resumes when earlier work
// is visible: chunk artifacts in the chunks directory or any checkpoint. It
// then continues the newest transcript and log (or the "auto" pair when none
// exist). Otherwise it starts a pair stamped with the current minute.
func (m *Manager) Resolve(ctx context.Context) (domain.Session, error) {
	resume, err := m.hasPriorWork(ctx)
	if err != nil {
		return domain.Session{}, err
	}

	if !resume {
		stamp := m.now().Format(StampLayout)
		s := domain.Session{
			TranscriptPath: filepath.Join(m.outputDir, TranscriptPrefix+"_"+stamp+".txt"),
			LogPath:        filepath.Join(m.outputDir, LogPrefix+"_"+stamp+".txt"),
		}
		m.logger.Info("starting new session", "transcript", s.TranscriptPath, "log", s.LogPath)
		return s, nil
	}

	transcript, err := newest(m.outputDir, TranscriptPrefix)
	if err != nil {
		return domain.Session{}, err
	}
	logPath, err := newest(m.outputDir, LogPrefix)
	if err != nil {
		return domain.Session{}, err
	}
	if transcript == "" {
		transcript = filepath.Join(m.outputDir, TranscriptPrefix+"_"+autoSuffix+".txt")
	}
	if logPath == "" {
		logPath = filepath.Join(m.outputDir, LogPrefix+"_"+autoSuffix+".txt")
	}

	s := domain.Session{TranscriptPath: transcript, LogPath: logPath, Resumed: true}
	m.logger.Info("resuming session", "transcript", s.TranscriptPath, "log", s.LogPath)
	return s, nil
}

func (m *Manager) hasPriorWork(ctx context.Context) (bool, error) {
	artifacts, _, err := chunking.ListArtifacts(m.chunksDir, nil)
	if err != nil {
		return false, err
	}
	if len(artifacts) > 0 {
		return true, nil
	}
	if m.done == nil {
		return false, nil
	}

	keys, err := m.done.ListDone(ctx)
	if err != nil {
		return false, fmt.Errorf("list checkpoints: %w", err)
	}
	return len(keys) > 0, nil
}

// newest returns the most recently modified {prefix}_*.txt in dir, or "".
// Equal times prefer the lexically greater name, which is the later stamp.
func newest(dir, prefix string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*.txt"))
	if err != nil {
		return "", err
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	candidates := make([]candidate, 0, len(matches))
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		candidates = append(candidates, candidate{path: path, modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].modTime.Equal(candidates[j].modTime) {
			return candidates[i].modTime.After(candidates[j].modTime)
		}
		return candidates[i].path > candidates[j].path
	})
	return candidates[0].path, nil
}
