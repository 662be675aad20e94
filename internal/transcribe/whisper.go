package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"batch-transcriber/internal/media"
)

// WhisperCPP runs the whisper.cpp CLI once per chunk.
type WhisperCPP struct {
	whisperPath string
	modelPath   string
	runner      media.Runner
	mkdirTemp   func(dir, pattern string) (string, error)
	removeAll   func(path string) error
	stat        func(name string) (os.FileInfo, error)
	readDir     func(name string) ([]os.DirEntry, error)
	readFile    func(name string) ([]byte, error)
}

// NewWhisperCPP constructs the engine with OS dependencies. modelPath is a
// model file or a directory holding .bin/.gguf models.
func NewWhisperCPP(whisperPath, modelPath string) *WhisperCPP {
	return &WhisperCPP{
		whisperPath: whisperPath,
		modelPath:   modelPath,
		runner:      media.ExecRunner{},
		mkdirTemp:   os.MkdirTemp,
		removeAll:   os.RemoveAll,
		stat:        os.Stat,
		readDir:     os.ReadDir,
		readFile:    os.ReadFile,
	}
}

// NewWhisperCPPForTests constructs the engine with injectable dependencies.
func NewWhisperCPPForTests(
	whisperPath string,
	modelPath string,
	runner media.Runner,
	mkdirTemp func(dir, pattern string) (string, error),
	removeAll func(path string) error,
) *WhisperCPP {
	w := NewWhisperCPP(whisperPath, modelPath)
	w.runner = runner
	w.mkdirTemp = mkdirTemp
	w.removeAll = removeAll
	return w
}

// Transcribe runs whisper.cpp on audioPath and returns the raw text it wrote.
func (w *WhisperCPP) Transcribe(ctx context.Context, audioPath, language string) (string, error) {
	modelPath, err := w.resolveModelPath(w.modelPath)
	if err != nil {
		return "", err
	}

	tempDir, err := w.mkdirTemp("", "batch-transcriber-*")
	if err != nil {
		return "", fmt.Errorf("create temporary workspace: %w", err)
	}
	defer func() { _ = w.removeAll(tempDir) }()

	textBase := filepath.Join(tempDir, "chunk")
	args := buildWhisperArgs(modelPath, audioPath, textBase, language)
	log, err := media.Run(ctx, w.runner, "whisper.cpp transcription failed", w.whisperPath, args...)
	if err != nil {
		return "", err
	}

	content, err := w.readFile(textBase + ".txt")
	if err != nil {
		return "", &media.CommandError{
			Message: "whisper.cpp completed but transcript .txt file is missing",
			Log:     log,
			Err:     err,
		}
	}
	return string(content), nil
}

// resolveModelPath returns model file path from file or directory input.
func (w *WhisperCPP) resolveModelPath(rawPath string) (string, error) {
	modelPath := strings.TrimSpace(rawPath)
	if modelPath == "" {
		return "", fmt.Errorf("model path is required")
	}

	info, err := w.stat(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot access model path: %s", modelPath)
	}
	if !info.IsDir() {
		return modelPath, nil
	}

	entries, err := w.readDir(modelPath)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", modelPath)
	}

	modelNames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			modelNames = append(modelNames, entry.Name())
		}
	}
	if len(modelNames) == 0 {
		return "", fmt.Errorf("no .bin or .gguf model files found in: %s", modelPath)
	}

	sort.Strings(modelNames)
	return filepath.Join(modelPath, modelNames[0]), nil
}

// buildWhisperArgs builds whisper.cpp args for txt transcript export.
func buildWhisperArgs(modelPath, audioPath, textBase, language string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", textBase,
		"-otxt",
		"-np",
	}
	if lang := normalizeLanguage(language); lang != "" {
		args = append(args, "-l", lang)
	}
	return args
}
