package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/transcribe"
)

var baseTime = time.Date(2024, 2, 3, 9, 30, 0, 0, time.Local)

// TestRunFreshDirectory covers a first run over two recordings.
func TestRunFreshDirectory(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addAudio("a.mp3", 150000, baseTime)
	b := h.addAudio("b.mp3", 30000, baseTime.Add(time.Hour))

	summary := h.mustRun()

	if summary.Session.Resumed {
		t.Fatal("first run should start a new session")
	}
	if !strings.HasPrefix(filepath.Base(summary.Session.TranscriptPath), "transcription_globale_") {
		t.Fatalf("transcript = %q", summary.Session.TranscriptPath)
	}
	if summary.Files != 2 || summary.Transcribed != 4 || summary.Recovered != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	assertCalls(t, h.engine.callList(), "a_chunk_0.wav", "a_chunk_1.wav", "a_chunk_2.wav", "b_chunk_0.wav")

	want := section(a, "a.mp3[0,60000)", "a.mp3[60000,120000)", "a.mp3[120000,150000)") +
		section(b, "b.mp3[0,30000)")
	if got := readFile(t, summary.Session.TranscriptPath); got != want {
		t.Fatalf("transcript =\n%s\nwant\n%s", got, want)
	}

	date := func(f domain.AudioFile) string { return f.ModTime.Local().Format("2006-01-02 15:04") }
	wantLog := []string{
		"[FICHIER] a.mp3 | Date : " + date(a),
		"Découpage : * secondes pour 3 chunks",
		"Chunk 0 transcrit et sauvegardé.",
		"Chunk 1 transcrit et sauvegardé.",
		"Chunk 2 transcrit et sauvegardé.",
		"Transcription : * secondes",
		"",
		"[FICHIER] b.mp3 | Date : " + date(b),
		"Découpage : * secondes pour 1 chunks",
		"Chunk 0 transcrit et sauvegardé.",
		"Transcription : * secondes",
		"",
		"Durée totale du traitement : * secondes",
	}
	if got := logLines(t, summary.Session.LogPath); strings.Join(got, "\n") != strings.Join(wantLog, "\n") {
		t.Fatalf("log =\n%s\nwant\n%s", strings.Join(got, "\n"), strings.Join(wantLog, "\n"))
	}

	for i := 0; i < 3; i++ {
		if done, _ := h.store.IsDone(context.Background(), "a", i); !done {
			t.Fatalf("chunk %d of a not checkpointed", i)
		}
	}
}

// TestRunTwiceIsIdempotent checks a second run over unchanged input does no work.
func TestRunTwiceIsIdempotent(t *testing.T) {
	for _, backend := range []string{config.CheckpointFiles, config.CheckpointSQLite} {
		t.Run(backend, func(t *testing.T) {
			h := newHarness(t, func(s *domain.Settings) { s.CheckpointBackend = backend })
			a := h.addAudio("a.mp3", 150000, baseTime)
			b := h.addAudio("b.mp3", 30000, baseTime.Add(time.Hour))

			first := h.mustRun()
			h.engine.reset()
			second := h.mustRun()

			if len(h.engine.callList()) != 0 {
				t.Fatalf("second run engine calls = %v, want none", h.engine.callList())
			}
			if !second.Session.Resumed || second.Session.TranscriptPath != first.Session.TranscriptPath {
				t.Fatalf("second session = %+v, want resume of %s", second.Session, first.Session.TranscriptPath)
			}
			want := section(a, "a.mp3[0,60000)", "a.mp3[60000,120000)", "a.mp3[120000,150000)") +
				section(b, "b.mp3[0,30000)")
			if got := readFile(t, second.Session.TranscriptPath); got != want {
				t.Fatalf("transcript after second run =\n%s", got)
			}
		})
	}
}

// TestRunResumesAfterEngineFailure kills the run before the last chunk.
func TestRunResumesAfterEngineFailure(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addAudio("a.mp3", 150000, baseTime)
	h.engine.failOn = map[string]bool{"a_chunk_2.wav": true}

	_, err := h.run()
	var pErr *transcribe.PipelineError
	if !errors.As(err, &pErr) || pErr.Stage != transcribe.StageTranscription {
		t.Fatalf("first run error = %v, want transcription failure", err)
	}

	h.engine.reset()
	summary := h.mustRun()

	assertCalls(t, h.engine.callList(), "a_chunk_2.wav")
	if summary.Recovered != 1 || summary.Files != 0 {
		t.Fatalf("summary = %+v, want one recovered chunk and no new file", summary)
	}
	want := section(a, "a.mp3[0,60000)", "a.mp3[60000,120000)", "a.mp3[120000,150000)")
	if got := readFile(t, summary.Session.TranscriptPath); got != want {
		t.Fatalf("transcript =\n%s\nwant\n%s", got, want)
	}
	if got := strings.Count(readFile(t, summary.Session.LogPath), "[FICHIER] a.mp3"); got != 1 {
		t.Fatalf("a.mp3 markers = %d, want 1", got)
	}
	if got := strings.Count(readFile(t, summary.Session.LogPath), "Transcription : "); got != 1 {
		t.Fatalf("transcription lines = %d, want the open block closed once", got)
	}
}

// TestRunTranscribesOnlyMissingCheckpoints seeds N artifacts with M checkpoints.
func TestRunTranscribesOnlyMissingCheckpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.addAudio("talk.wav", 300000, baseTime)
	for i := 0; i < 5; i++ {
		mustWrite(t, filepath.Join(h.settings.ChunksDir, fmt.Sprintf("talk_chunk_%d.wav", i)), "seeded")
	}
	ctx := context.Background()
	for _, i := range []int{0, 2} {
		if err := h.store.MarkDone(ctx, "talk", i, "earlier"); err != nil {
			t.Fatalf("MarkDone: %v", err)
		}
	}
	logPath := filepath.Join(h.settings.OutputDir, "log_20240101_1200.txt")
	mustWrite(t, logPath, "[FICHIER] talk.wav | Date : 2024-01-01 12:00\nDécoupage : 1.0 secondes pour 5 chunks\n")
	mustWrite(t, filepath.Join(h.settings.OutputDir, "transcription_globale_20240101_1200.txt"), "")

	summary := h.mustRun()

	assertCalls(t, h.engine.callList(), "talk_chunk_1.wav", "talk_chunk_3.wav", "talk_chunk_4.wav")
	if len(h.seg.exported()) != 0 {
		t.Fatalf("exports = %v, want none: every chunk is on disk", h.seg.exported())
	}
	if summary.Session.LogPath != logPath || summary.Recovered != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if got := readFile(t, summary.Session.TranscriptPath); got != "seeded\n\nseeded\n\nseeded\n\n" {
		t.Fatalf("transcript = %q", got)
	}
}

// TestRunSkipsMalformedChunkNames leaves foreign files in the chunks dir alone.
func TestRunSkipsMalformedChunkNames(t *testing.T) {
	h := newHarness(t, nil)
	a := h.addAudio("a.mp3", 30000, baseTime)
	junk := filepath.Join(h.settings.ChunksDir, "recording-without-separator.wav")
	mustWrite(t, junk, "junk")
	mustWrite(t, filepath.Join(h.settings.ChunksDir, "a_chunk_x.wav"), "junk")

	summary := h.mustRun()

	assertCalls(t, h.engine.callList(), "a_chunk_0.wav")
	if _, err := os.Stat(junk); err != nil {
		t.Fatalf("malformed file touched: %v", err)
	}
	if got := readFile(t, summary.Session.TranscriptPath); got != section(a, "a.mp3[0,30000)") {
		t.Fatalf("transcript = %q", got)
	}
}

// TestRunDeletesChunksWhenConfigured keeps done-flags but drops artifacts.
func TestRunDeletesChunksWhenConfigured(t *testing.T) {
	h := newHarness(t, func(s *domain.Settings) { s.DeleteChunksAfterUse = true })
	h.addAudio("a.mp3", 150000, baseTime)

	first := h.mustRun()

	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("a_chunk_%d", i)
		if _, err := os.Stat(filepath.Join(h.settings.ChunksDir, name+".wav")); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("%s.wav still on disk, stat err = %v", name, err)
		}
		if _, err := os.Stat(filepath.Join(h.settings.ChunksDir, name+".done.txt")); err != nil {
			t.Fatalf("%s.done.txt missing: %v", name, err)
		}
	}

	h.engine.reset()
	second := h.mustRun()
	if len(h.engine.callList()) != 0 {
		t.Fatalf("second run engine calls = %v", h.engine.callList())
	}
	if second.Session.TranscriptPath != first.Session.TranscriptPath {
		t.Fatalf("second run session = %s, want %s", second.Session.TranscriptPath, first.Session.TranscriptPath)
	}
}

// TestRunOrdersFilesByModificationTime puts the older file first whatever its name.
func TestRunOrdersFilesByModificationTime(t *testing.T) {
	h := newHarness(t, nil)
	newer := h.addAudio("a.mp3", 1000, baseTime.Add(time.Minute))
	older := h.addAudio("z.mp3", 1000, baseTime)

	summary := h.mustRun()

	want := section(older, "z.mp3[0,1000)") + section(newer, "a.mp3[0,1000)")
	if got := readFile(t, summary.Session.TranscriptPath); got != want {
		t.Fatalf("transcript =\n%s\nwant\n%s", got, want)
	}
}

// TestRunExcludesFilesMarkedInLog skips recordings with a [FICHIER] marker.
func TestRunExcludesFilesMarkedInLog(t *testing.T) {
	h := newHarness(t, nil)
	h.addAudio("a.mp3", 1000, baseTime)
	b := h.addAudio("b.mp3", 1000, baseTime.Add(time.Minute))

	logPath := filepath.Join(h.settings.OutputDir, "log_20240101_1200.txt")
	mustWrite(t, logPath, "[FICHIER] a.mp3 | Date : 2024-01-01 12:00\nTranscription : 1.0 secondes\n\n")
	if err := h.store.MarkDone(context.Background(), "old", 0, "x"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	summary := h.mustRun()

	if summary.Session.LogPath != logPath {
		t.Fatalf("log = %s, want resumed %s", summary.Session.LogPath, logPath)
	}
	assertCalls(t, h.engine.callList(), "b_chunk_0.wav")
	if got := readFile(t, summary.Session.TranscriptPath); got != section(b, "b.mp3[0,1000)") {
		t.Fatalf("transcript = %q", got)
	}
}

// TestRunFinishesFileInterruptedDuringProduction covers a crash between the
// file marker and the last chunk: the next run produces what is missing.
func TestRunFinishesFileInterruptedDuringProduction(t *testing.T) {
	h := newHarness(t, func(s *domain.Settings) { s.WorkerCount = 1 })
	a := h.addAudio("a.mp3", 150000, baseTime)
	h.seg.failExport = map[string]bool{"a_chunk_1.wav": true}

	_, err := h.run()
	var pErr *transcribe.PipelineError
	if !errors.As(err, &pErr) || pErr.Stage != transcribe.StageProduction {
		t.Fatalf("first run error = %v, want production failure", err)
	}
	if len(h.engine.callList()) != 0 {
		t.Fatalf("engine ran before production finished: %v", h.engine.callList())
	}
	if _, err := os.Stat(filepath.Join(h.settings.ChunksDir, "a_chunk_1.wav.part")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("partial chunk left behind, stat err = %v", err)
	}

	h.seg.mu.Lock()
	h.seg.failExport = nil
	h.seg.mu.Unlock()
	summary := h.mustRun()

	assertCalls(t, h.engine.callList(), "a_chunk_0.wav", "a_chunk_1.wav", "a_chunk_2.wav")
	want := section(a, "a.mp3[0,60000)", "a.mp3[60000,120000)", "a.mp3[120000,150000)")
	if got := readFile(t, summary.Session.TranscriptPath); got != want {
		t.Fatalf("transcript =\n%s\nwant\n%s", got, want)
	}
}

// TestRunFinishesFileInterruptedBeforeAnyChunk covers a crash right after the
// marker, when the leftover scan alone finds nothing.
func TestRunFinishesFileInterruptedBeforeAnyChunk(t *testing.T) {
	h := newHarness(t, nil)
	b := h.addAudio("b.mp3", 1000, baseTime)
	a := h.addAudio("a.mp3", 61000, baseTime.Add(time.Minute))
	h.seg.failDuration = map[string]bool{"a.mp3": true}

	if _, err := h.run(); err == nil {
		t.Fatal("expected first run to fail on a.mp3")
	}

	h.seg.mu.Lock()
	h.seg.failDuration = nil
	h.seg.mu.Unlock()
	h.engine.reset()
	summary := h.mustRun()

	if !summary.Session.Resumed {
		t.Fatal("second run should resume the interrupted session")
	}
	assertCalls(t, h.engine.callList(), "a_chunk_0.wav", "a_chunk_1.wav")
	want := section(b, "b.mp3[0,1000)") + section(a, "a.mp3[0,60000)", "a.mp3[60000,61000)")
	if got := readFile(t, summary.Session.TranscriptPath); got != want {
		t.Fatalf("transcript =\n%s\nwant\n%s", got, want)
	}

	h.engine.reset()
	h.mustRun()
	if len(h.engine.callList()) != 0 {
		t.Fatalf("third run engine calls = %v, want none", h.engine.callList())
	}
}

// TestRunGivesUpOnUndecodableRecording checks a recording that keeps failing
// production is closed on restart and later recordings still get processed.
func TestRunGivesUpOnUndecodableRecording(t *testing.T) {
	tests := []struct {
		name        string
		breakSource func(*fakeSegmenter)
		retried     []string
		aTexts      []string
	}{
		{
			name:        "duration probe",
			breakSource: func(f *fakeSegmenter) { f.failDuration = map[string]bool{"a.mp3": true} },
		},
		{
			name:        "export",
			breakSource: func(f *fakeSegmenter) { f.failExport = map[string]bool{"a_chunk_1.wav": true} },
			retried:     []string{"a_chunk_0.wav"},
			aTexts:      []string{"a.mp3[0,60000)"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(s *domain.Settings) { s.WorkerCount = 1 })
			b := h.addAudio("b.mp3", 1000, baseTime)
			a := h.addAudio("a.mp3", 150000, baseTime.Add(time.Minute))
			tt.breakSource(h.seg)

			_, err := h.run()
			var pErr *transcribe.PipelineError
			if !errors.As(err, &pErr) || pErr.Stage != transcribe.StageProduction {
				t.Fatalf("first run error = %v, want production failure", err)
			}

			c := h.addAudio("c.mp3", 1000, baseTime.Add(2*time.Minute))
			h.engine.reset()
			summary, err := h.run()
			if err != nil {
				t.Fatalf("restart error = %v, want the broken recording skipped", err)
			}
			assertCalls(t, h.engine.callList(), append(tt.retried, "c_chunk_0.wav")...)

			want := section(b, "b.mp3[0,1000)") + section(a, tt.aTexts...) + section(c, "c.mp3[0,1000)")
			if got := readFile(t, summary.Session.TranscriptPath); got != want {
				t.Fatalf("transcript =\n%s\nwant\n%s", got, want)
			}
			sessionLog := readFile(t, summary.Session.LogPath)
			if got := strings.Count(sessionLog, "[FICHIER] a.mp3"); got != 1 {
				t.Fatalf("a.mp3 markers = %d, want 1", got)
			}
			if got := strings.Count(sessionLog, "Transcription : "); got != 3 {
				t.Fatalf("transcription lines = %d, want one per recording", got)
			}

			for i := 0; i < 2; i++ {
				h.engine.reset()
				if _, err := h.run(); err != nil {
					t.Fatalf("later run %d error = %v", i, err)
				}
				if calls := h.engine.callList(); len(calls) != 0 {
					t.Fatalf("later run %d engine calls = %v, want none", i, calls)
				}
			}
		})
	}
}

// TestRunTracksStagesAndEvents checks the run state machine and progress events.
func TestRunTracksStagesAndEvents(t *testing.T) {
	h := newHarness(t, nil)
	h.addAudio("a.mp3", 150000, baseTime)

	manager := jobs.NewManager()
	bus := jobs.NewEventBus(100)
	runner := New(Options{Settings: h.settings, Segmenter: h.seg, Engine: h.engine, Store: h.store, Jobs: manager, Events: bus})
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := manager.Current(); got.Status != domain.RunStatusDone || got.ID != summary.RunID || got.ID == "" {
		t.Fatalf("run = %+v, summary id %q", got, summary.RunID)
	}

	counts := map[jobs.EventType]int{}
	var statuses []domain.RunStatus
	for _, e := range bus.Since(0) {
		counts[e.Type]++
		if e.RunID != summary.RunID {
			t.Fatalf("event run id = %q, want %q", e.RunID, summary.RunID)
		}
		if e.Type == jobs.EventTypeStatus {
			statuses = append(statuses, e.Status)
		}
	}
	if counts[jobs.EventTypeChunkProduced] != 3 || counts[jobs.EventTypeChunkTranscribed] != 3 || counts[jobs.EventTypeFilePlanned] != 1 {
		t.Fatalf("event counts = %v", counts)
	}
	wantStatuses := []domain.RunStatus{
		domain.RunStatusResuming,
		domain.RunStatusDiscovering,
		domain.RunStatusSplitting,
		domain.RunStatusTranscribing,
		domain.RunStatusDone,
	}
	if len(statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v, want %v", statuses, wantStatuses)
	}
	for i := range wantStatuses {
		if statuses[i] != wantStatuses[i] {
			t.Fatalf("statuses = %v, want %v", statuses, wantStatuses)
		}
	}
}

// TestRunRefusesOverlap checks a second run cannot start while one is active.
func TestRunRefusesOverlap(t *testing.T) {
	h := newHarness(t, nil)
	manager := jobs.NewManager()
	if err := manager.Start("other"); err != nil {
		t.Fatalf("start: %v", err)
	}

	runner := New(Options{Settings: h.settings, Segmenter: h.seg, Engine: h.engine, Store: h.store, Jobs: manager})
	if _, err := runner.Run(context.Background()); !errors.Is(err, jobs.ErrRunAlreadyActive) {
		t.Fatalf("error = %v, want %v", err, jobs.ErrRunAlreadyActive)
	}
}

// TestRunFailureMarksRunFailed checks failures reach the manager and the bus.
func TestRunFailureMarksRunFailed(t *testing.T) {
	h := newHarness(t, nil)
	h.addAudio("a.mp3", 1000, baseTime)
	h.engine.failOn = map[string]bool{"a_chunk_0.wav": true}

	manager := jobs.NewManager()
	bus := jobs.NewEventBus(100)
	runner := New(Options{Settings: h.settings, Segmenter: h.seg, Engine: h.engine, Store: h.store, Jobs: manager, Events: bus})
	if _, err := runner.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if manager.Current().Status != domain.RunStatusFailed {
		t.Fatalf("status = %s, want failed", manager.Current().Status)
	}
	events := bus.Since(0)
	last := events[len(events)-1]
	if last.Type != jobs.EventTypeError || !strings.Contains(last.Message, "out of memory") {
		t.Fatalf("last event = %+v", last)
	}
}
