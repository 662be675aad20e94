package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"batch-transcriber/internal/config"
	"batch-transcriber/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
	now        func() time.Time
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
		now:        time.Now,
	}
}

// Run executes all startup checks and returns a combined report.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("ffmpeg", settings.FFmpegPath),
		c.checkTool("ffprobe", settings.FFprobePath),
	}
	switch settings.Engine {
	case config.EngineOpenAI:
		items = append(items, checkAPIKey(settings.OpenAIAPIKey))
	default:
		items = append(items,
			c.checkTool("whisper", settings.WhisperPath),
			c.checkModelPath(config.ModelFile(settings)),
		)
	}
	items = append(items,
		c.checkAudioDir(settings.AudioDir),
		c.checkWritableDir("chunks_dir", "Chunks directory", settings.ChunksDir),
		c.checkWritableDir("output_dir", "Output directory", settings.OutputDir),
	)

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: c.now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a required CLI executable resolves, either as a path or
// through PATH.
func (c *Checker) checkTool(id, command string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "tool_" + id, Name: id}
	if strings.TrimSpace(command) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("No command configured for %s.", id)
		item.Hint = "Set the binary name or path in the configuration file."
		return item
	}

	path, err := c.lookPath(command)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Tool not found: %s", command)
		item.Hint = "Install it and ensure the binary is available on PATH before starting a run."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

func checkAPIKey(key string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "openai_api_key", Name: "OpenAI API key"}
	if strings.TrimSpace(key) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "OPENAI_API_KEY is not set."
		item.Hint = "Export OPENAI_API_KEY or switch the engine to whisper-cpp."
		return item
	}
	item.Status = domain.DiagnosticStatusPass
	item.Message = "API key present."
	return item
}

// checkModelPath validates configured model file or model directory.
func (c *Checker) checkModelPath(modelPath string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_path",
		Name: "Model path",
	}

	if strings.TrimSpace(modelPath) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Model path is empty."
		item.Hint = "Set a valid model file path or a directory containing whisper models."
		return item
	}

	info, err := c.stat(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		if errors.Is(err, fs.ErrNotExist) {
			item.Message = fmt.Sprintf("Model path does not exist: %s", modelPath)
		} else {
			item.Message = fmt.Sprintf("Cannot access model path: %s", modelPath)
		}
		item.Hint = "Run with -fetch-model or point model_path at a downloaded model."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Model file found: %s", modelPath)
		return item
	}

	entries, err := c.readDir(modelPath)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read model directory: %s", modelPath)
		item.Hint = "Check permissions for the model directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Model directory is valid: %s", modelPath)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusFail
	item.Message = fmt.Sprintf("No model files found in directory: %s", modelPath)
	item.Hint = "Place a .bin or .gguf model file in this directory or point to a model file directly."
	return item
}

// checkAudioDir passes when the audio directory exists or can be created by
// the first run; a regular file in its place fails.
func (c *Checker) checkAudioDir(audioDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: "audio_dir", Name: "Audio directory"}

	info, err := c.stat(audioDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Not created yet, the first run will create it: %s", audioDir)
	case err != nil:
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot access audio directory: %s", audioDir)
		item.Hint = "Check permissions for the audio directory."
	case !info.IsDir():
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Audio path is not a directory: %s", audioDir)
		item.Hint = "Point audio_dir at the folder holding the recordings."
	default:
		item.Status = domain.DiagnosticStatusPass
		item.Message = fmt.Sprintf("Audio directory found: %s", audioDir)
	}
	return item
}

// checkWritableDir validates directory existence and write access.
func (c *Checker) checkWritableDir(id, name, dir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{ID: id, Name: name}

	if strings.TrimSpace(dir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("%s is empty.", name)
		item.Hint = "Set a directory the transcriber can write to."
		return item
	}

	if err := c.mkdirAll(dir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create directory: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(dir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Directory is not writable: %s", dir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", dir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
		now:        time.Now,
	}
}
