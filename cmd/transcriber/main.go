package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"batch-transcriber/internal/bootstrap"
	"batch-transcriber/internal/config"
	"batch-transcriber/internal/domain"
	"batch-transcriber/internal/pipeline"
)

func main() {
	configPath := flag.String("config", "transcriber.yaml", "YAML settings file (optional)")
	watch := flag.Bool("watch", false, "keep running and process recordings as they arrive")
	debounce := flag.Duration("debounce", pipeline.DefaultDebounce, "quiet period before a watch-triggered run")
	doctor := flag.Bool("doctor", false, "check tools and directories, then exit")
	fetchModel := flag.String("fetch-model", "", "download a whisper.cpp model by id (\"default\" for the configured one), then exit")
	writeConfig := flag.Bool("write-config", false, "write the effective settings to -config, then exit")
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}
	logger := newLogger(settings)
	slog.SetDefault(logger)

	if *writeConfig {
		if err := config.NewYAMLStore(*configPath).Save(settings); err != nil {
			log.Fatalf("write settings: %v", err)
		}
		logger.Info("settings written", "path", *configPath)
		return
	}

	app, err := bootstrap.New(settings, logger)
	if err != nil {
		log.Fatalf("bootstrap app: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *doctor:
		code := printReport(app.Diagnose())
		_ = app.Close()
		os.Exit(code)
	case *fetchModel != "":
		id := *fetchModel
		if id == "default" {
			id = ""
		}
		path, err := app.FetchModel(ctx, id)
		if err != nil {
			exitWith(app, "fetch model: %v", err)
		}
		logger.Info("model ready", "path", path)
		return
	}

	if isatty.IsTerminal(os.Stderr.Fd()) {
		defer attachProgress(app.Events)()
	}

	if *watch {
		if err := app.Watch(ctx, *debounce); err != nil {
			exitWith(app, "watch: %v", err)
		}
		return
	}

	started := time.Now()
	summary, err := app.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("interrupted; the next run resumes from the last checkpoint")
			return
		}
		exitWith(app, "run: %v", err)
	}
	logger.Info("all done",
		"recovered_chunks", summary.Recovered,
		"new_files", summary.Files,
		"transcript", summary.Session.TranscriptPath,
		"elapsed", time.Since(started).Round(time.Millisecond))
}

// exitWith closes the app before exiting, deferred calls do not run on
// log.Fatalf.
func exitWith(app *bootstrap.App, format string, args ...any) {
	_ = app.Close()
	log.Fatalf(format, args...)
}

func newLogger(settings domain.Settings) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if settings.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
}

func printReport(report domain.DiagnosticReport) int {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(report)
	if report.HasFailures {
		return 1
	}
	return 0
}
