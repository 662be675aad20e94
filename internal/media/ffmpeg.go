package media

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
)

// Segmenter reads durations with ffprobe and exports ranges with ffmpeg.
// Exports are 16 kHz mono PCM WAV, the input whisper.cpp expects.
type Segmenter struct {
	ffmpegPath  string
	ffprobePath string
	runner      Runner
	stat        func(name string) (os.FileInfo, error)
	logger      *slog.Logger
}

// NewSegmenter constructs a segmenter running the given binaries.
func NewSegmenter(ffmpegPath, ffprobePath string, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      ExecRunner{},
		stat:        os.Stat,
		logger:      logger,
	}
}

// NewSegmenterForTests constructs a segmenter with an injectable runner.
func NewSegmenterForTests(ffmpegPath, ffprobePath string, runner Runner, stat func(name string) (os.FileInfo, error)) *Segmenter {
	return &Segmenter{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		runner:      runner,
		stat:        stat,
		logger:      slog.Default(),
	}
}

// DurationMs returns the length of the recording at path in milliseconds.
func (s *Segmenter) DurationMs(ctx context.Context, path string) (int64, error) {
	args := buildProbeArgs(path)
	log, err := Run(ctx, s.runner, "ffprobe duration probe failed", s.ffprobePath, args...)
	if err != nil {
		return 0, err
	}

	ms, err := parseProbeDuration(log.Stdout)
	if err != nil {
		return 0, &CommandError{Message: fmt.Sprintf("cannot read duration of %s", path), Log: log, Err: err}
	}
	return ms, nil
}

// Export writes [startMs, endMs) of sourcePath to targetPath.
func (s *Segmenter) Export(ctx context.Context, sourcePath, targetPath string, startMs, endMs int64) error {
	if endMs < startMs {
		return fmt.Errorf("invalid range [%d, %d)", startMs, endMs)
	}

	args := buildExportArgs(sourcePath, targetPath, startMs, endMs)
	log, err := Run(ctx, s.runner, "ffmpeg chunk export failed", s.ffmpegPath, args...)
	if err != nil {
		return err
	}
	if _, err := s.stat(targetPath); err != nil {
		return &CommandError{Message: "ffmpeg completed but chunk file is missing", Log: log, Err: err}
	}

	s.logger.Debug("chunk exported", "source", sourcePath, "target", targetPath, "start_ms", startMs, "end_ms", endMs)
	return nil
}

func buildProbeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
}

// buildExportArgs seeks before -i so ffmpeg does not decode the skipped part.
func buildExportArgs(sourcePath, targetPath string, startMs, endMs int64) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-ss", formatSeconds(startMs),
		"-t", formatSeconds(endMs - startMs),
		"-i", sourcePath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		targetPath,
	}
}

func formatSeconds(ms int64) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// parseProbeDuration reads the bare seconds value ffprobe prints.
func parseProbeDuration(out string) (int64, error) {
	raw := strings.TrimSpace(out)
	if i := strings.IndexByte(raw, '\n'); i >= 0 {
		raw = strings.TrimSpace(raw[:i])
	}
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("no duration reported")
	}

	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return int64(math.Round(seconds * 1000)), nil
}
