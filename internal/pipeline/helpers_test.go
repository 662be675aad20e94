package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"batch-transcriber/internal/checkpoint"
	"batch-transcriber/internal/config"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/journal"
)

// fakeSegmenter knows durations by file name and writes the exported range
// into each chunk so transcripts show exactly which range was used.
type fakeSegmenter struct {
	mu           sync.Mutex
	durations    map[string]int64
	failDuration map[string]bool
	failExport   map[string]bool
	exports      []string
}

func (f *fakeSegmenter) DurationMs(_ context.Context, path string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := filepath.Base(path)
	if f.failDuration[name] {
		return 0, fmt.Errorf("cannot decode %s", name)
	}
	d, ok := f.durations[name]
	if !ok {
		return 0, fmt.Errorf("unknown recording %s", name)
	}
	return d, nil
}

func (f *fakeSegmenter) Export(ctx context.Context, sourcePath, targetPath string, startMs, endMs int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(targetPath), ".part")

	f.mu.Lock()
	f.exports = append(f.exports, name)
	fail := f.failExport[name]
	f.mu.Unlock()
	if fail {
		return errors.New("decoder crashed")
	}

	content := fmt.Sprintf("%s[%d,%d)", filepath.Base(sourcePath), startMs, endMs)
	return os.WriteFile(targetPath, []byte(content), 0o644)
}

func (f *fakeSegmenter) exported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.exports...)
}

// fakeEngine returns the chunk file content, padded to check trimming.
type fakeEngine struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (e *fakeEngine) Transcribe(_ context.Context, audioPath, language string) (string, error) {
	name := filepath.Base(audioPath)
	e.mu.Lock()
	e.calls = append(e.calls, name)
	fail := e.failOn[name]
	e.mu.Unlock()
	if fail {
		return "", errors.New("out of memory")
	}
	if language != "fr" {
		return "", fmt.Errorf("language = %q", language)
	}
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return "", err
	}
	return "  " + string(data) + " \n", nil
}

func (e *fakeEngine) callList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *fakeEngine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
	e.failOn = nil
}

type harness struct {
	t        *testing.T
	settings domain.Settings
	seg      *fakeSegmenter
	engine   *fakeEngine
	store    checkpoint.Store
}

func newHarness(t *testing.T, mutate func(*domain.Settings)) *harness {
	t.Helper()
	root := t.TempDir()
	settings := config.DefaultSettings()
	settings.BaseDir = root
	settings.AudioDir = filepath.Join(root, "audio")
	settings.ChunksDir = filepath.Join(root, "chunks")
	settings.OutputDir = filepath.Join(root, "transcriptions")
	settings.WorkerCount = 2
	if mutate != nil {
		mutate(&settings)
	}

	h := &harness{
		t:        t,
		settings: settings,
		seg:      &fakeSegmenter{durations: map[string]int64{}},
		engine:   &fakeEngine{},
	}
	if settings.CheckpointBackend == config.CheckpointSQLite {
		store, err := checkpoint.OpenSQLStore(filepath.Join(settings.OutputDir, "checkpoints.db"))
		if err != nil {
			t.Fatalf("OpenSQLStore() error = %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		h.store = store
	} else {
		h.store = checkpoint.NewFileStore(settings.ChunksDir)
	}
	return h
}

// runner builds a fresh runner, as a restarted process would.
func (h *harness) runner() *Runner {
	return New(Options{
		Settings:  h.settings,
		Segmenter: h.seg,
		Engine:    h.engine,
		Store:     h.store,
	})
}

func (h *harness) run() (Summary, error) {
	return h.runner().Run(context.Background())
}

func (h *harness) mustRun() Summary {
	h.t.Helper()
	summary, err := h.run()
	if err != nil {
		h.t.Fatalf("Run() error = %v", err)
	}
	return summary
}

func (h *harness) addAudio(name string, durationMs int64, modTime time.Time) domain.AudioFile {
	h.t.Helper()
	path := filepath.Join(h.settings.AudioDir, name)
	mustWrite(h.t, path, "audio")
	if err := os.Chtimes(path, modTime, modTime); err != nil {
		h.t.Fatalf("chtimes: %v", err)
	}
	h.seg.mu.Lock()
	h.seg.durations[name] = durationMs
	h.seg.mu.Unlock()
	return domain.AudioFile{Name: name, Path: path, ModTime: modTime}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

// section renders the transcript section expected for file and chunk texts.
func section(file domain.AudioFile, texts ...string) string {
	var b strings.Builder
	b.WriteString("==============================\n")
	b.WriteString(file.Name + "  |  Modified: " + file.ModTime.Local().Format(journal.DateLayout) + "\n")
	b.WriteString("==============================\n\n")
	for _, text := range texts {
		b.WriteString(text + "\n\n")
	}
	return b.String()
}

func assertCalls(t *testing.T, got []string, want ...string) {
	t.Helper()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("engine calls = %v, want %v", got, want)
	}
}

// logLines returns the log lines with timing values masked.
func logLines(t *testing.T, path string) []string {
	t.Helper()
	var out []string
	for _, line := range strings.Split(strings.TrimRight(readFile(t, path), "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "Découpage : "):
			_, rest, _ := strings.Cut(line, " secondes")
			line = "Découpage : * secondes" + rest
		case strings.HasPrefix(line, "Transcription : "):
			line = "Transcription : * secondes"
		case strings.HasPrefix(line, "Durée totale du traitement : "):
			line = "Durée totale du traitement : * secondes"
		}
		out = append(out, line)
	}
	return out
}
