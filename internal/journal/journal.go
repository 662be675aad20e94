// Package journal owns the two append-only files of a session: the
// transcript document and the session log. Every write is flushed to stable
// storage before it returns, so a killed process loses at most the chunk it
// was working on.
package journal

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"batch-transcriber/internal/domain"
)

// FileMarkerPrefix starts the log line recorded when a source file is taken
// up. Work discovery relies on it to skip files already handled.
const FileMarkerPrefix = "[FICHIER]"

// DateLayout formats source modification dates in headers and markers.
const DateLayout = "2006-01-02 15:04"

const (
	sectionRule               = "=============================="
	transcriptionTimingPrefix = "Transcription : "
)

// Journal appends to the transcript and log of one session. It is safe for
// concurrent use, though the pipeline only ever has one writer.
type Journal struct {
	mu         sync.Mutex
	transcript *os.File
	log        *os.File
}

// Open opens (creating when needed) both files of session in append mode.
func Open(session domain.Session) (*Journal, error) {
	transcript, err := openAppend(session.TranscriptPath)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	logFile, err := openAppend(session.LogPath)
	if err != nil {
		_ = transcript.Close()
		return nil, fmt.Errorf("open session log: %w", err)
	}
	return &Journal{transcript: transcript, log: logFile}, nil
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// WriteFileHeader starts the transcript section of file and records its
// [FICHIER] marker in the log.
func (j *Journal) WriteFileHeader(file domain.AudioFile) error {
	date := file.ModTime.Local().Format(DateLayout)

	var header strings.Builder
	header.WriteString(sectionRule + "\n")
	header.WriteString(file.Name + "  |  Modified: " + date + "\n")
	header.WriteString(sectionRule + "\n\n")

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := writeSynced(j.transcript, header.String()); err != nil {
		return fmt.Errorf("write transcript header for %s: %w", file.Name, err)
	}
	if err := writeSynced(j.log, FileMarkerPrefix+" "+file.Name+" | Date : "+date+"\n"); err != nil {
		return fmt.Errorf("write file marker for %s: %w", file.Name, err)
	}
	return nil
}

// AppendChunkText adds one chunk's text, trimmed and followed by a blank line.
func (j *Journal) AppendChunkText(text string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := writeSynced(j.transcript, strings.TrimSpace(text)+"\n\n"); err != nil {
		return fmt.Errorf("append transcript text: %w", err)
	}
	return nil
}

// LogChunkDone records that chunk index was transcribed and saved.
func (j *Journal) LogChunkDone(index int) error {
	return j.logLine(fmt.Sprintf("Chunk %d transcrit et sauvegardé.\n", index))
}

// LogSplitTiming records how long producing chunks of one file took.
func (j *Journal) LogSplitTiming(elapsed time.Duration, chunks int) error {
	return j.logLine(fmt.Sprintf("Découpage : %s secondes pour %d chunks\n", FormatSeconds(elapsed), chunks))
}

// LogTranscriptionTiming records how long transcribing one file took and
// closes its log block with a blank line.
func (j *Journal) LogTranscriptionTiming(elapsed time.Duration) error {
	return j.logLine(fmt.Sprintf("%s%s secondes\n\n", transcriptionTimingPrefix, FormatSeconds(elapsed)))
}

// LogTotalTiming records the duration of the whole discovery pass.
func (j *Journal) LogTotalTiming(elapsed time.Duration) error {
	return j.logLine(fmt.Sprintf("Durée totale du traitement : %s secondes\n", FormatSeconds(elapsed)))
}

func (j *Journal) logLine(line string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := writeSynced(j.log, line); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

// Close syncs and closes both files.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	for _, f := range []*os.File{j.transcript, j.log} {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	j.transcript, j.log = nil, nil
	return firstErr
}

func writeSynced(f *os.File, s string) error {
	if f == nil {
		return os.ErrClosed
	}
	if _, err := f.WriteString(s); err != nil {
		return err
	}
	return f.Sync()
}

// FormatSeconds renders elapsed seconds rounded to two decimals, without
// trailing zeros beyond the first decimal (1.5, 12.0, 0.07).
func FormatSeconds(elapsed time.Duration) string {
	seconds := math.Round(elapsed.Seconds()*100) / 100
	s := strconv.FormatFloat(seconds, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
