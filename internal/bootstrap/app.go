// Package bootstrap wires settings into the collaborators of a run: media
// tools, the transcription engine, the checkpoint store and the pipeline.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batch-transcriber/internal/checkpoint"
	"batch-transcriber/internal/config"
	"batch-transcriber/internal/diagnostics"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/jobs"
	"batch-transcriber/internal/media"
	"batch-transcriber/internal/pipeline"
	"batch-transcriber/internal/transcribe"
)

const (
	appDirName           = ".batch-transcriber"
	openAIRequestTimeout = 10 * time.Minute
)

// App owns the long-lived collaborators of one process.
type App struct {
	Settings domain.Settings
	Jobs     *jobs.Manager
	Events   *jobs.EventBus
	Runner   *pipeline.Runner

	engine     *transcribe.Exclusive
	store      checkpoint.Store
	checker    *diagnostics.Checker
	logger     *slog.Logger
	httpClient *http.Client
	modelURL   func(domain.WhisperModelOption) string
}

// New builds the application from normalized settings. The checkpoint
// store is opened here; Close releases it.
func New(settings domain.Settings, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		if err := ensureLocalBinOnPATH(homeDir); err != nil {
			return nil, fmt.Errorf("prepare local tool path: %w", err)
		}
	}

	store, err := openStore(settings)
	if err != nil {
		return nil, err
	}

	app := &App{
		Settings:   settings,
		Jobs:       jobs.NewManager(),
		Events:     jobs.NewEventBus(1000),
		engine:     transcribe.NewExclusive(newEngine(settings)),
		store:      store,
		checker:    diagnostics.NewChecker(),
		logger:     logger,
		httpClient: http.DefaultClient,
		modelURL:   func(m domain.WhisperModelOption) string { return m.URL },
	}
	app.Runner = pipeline.New(pipeline.Options{
		Settings:  settings,
		Segmenter: media.NewSegmenter(settings.FFmpegPath, settings.FFprobePath, logger),
		Engine:    app.engine,
		Store:     store,
		Jobs:      app.Jobs,
		Events:    app.Events,
		Logger:    logger,
	})
	return app, nil
}

// Run performs one pass over the audio directory.
func (a *App) Run(ctx context.Context) (pipeline.Summary, error) {
	return a.Runner.Run(ctx)
}

// Watch keeps running passes as recordings arrive, until ctx is done.
func (a *App) Watch(ctx context.Context, debounce time.Duration) error {
	return a.Runner.Watch(ctx, debounce)
}

// Diagnose runs the startup checks against the current settings.
func (a *App) Diagnose() domain.DiagnosticReport {
	return a.checker.Run(a.Settings)
}

// Close waits for the in-flight transcription and releases the engine and
// the checkpoint store.
func (a *App) Close() error {
	return errors.Join(a.engine.Close(), a.store.Close())
}

func openStore(settings domain.Settings) (checkpoint.Store, error) {
	switch settings.CheckpointBackend {
	case config.CheckpointSQLite:
		store, err := checkpoint.OpenSQLStore(filepath.Join(settings.OutputDir, "checkpoints.db"))
		if err != nil {
			return nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		return store, nil
	default:
		return checkpoint.NewFileStore(settings.ChunksDir), nil
	}
}

func newEngine(settings domain.Settings) transcribe.Engine {
	switch settings.Engine {
	case config.EngineOpenAI:
		client := &http.Client{Timeout: openAIRequestTimeout}
		return transcribe.NewOpenAI(settings.OpenAIBaseURL, settings.OpenAIAPIKey, settings.OpenAIModel, client)
	default:
		return transcribe.NewWhisperCPP(settings.WhisperPath, config.ModelFile(settings))
	}
}

// ensureLocalBinOnPATH lets tools installed under ~/.batch-transcriber/bin
// resolve by name.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	info, err := os.Stat(binDir)
	if err != nil || !info.IsDir() {
		return nil
	}

	current := os.Getenv("PATH")
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}
	if strings.TrimSpace(current) == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, appDirName, "bin")
}

func localModelsDir(homeDir string) string {
	return filepath.Join(homeDir, appDirName, "models")
}
