package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"batch-transcriber/internal/domain"
)

const modelDownloadTimeout = 45 * time.Minute

var whisperModelCatalog = []domain.WhisperModelOption{
	{
		ID:        "tiny.en",
		FileName:  "ggml-tiny.en.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin",
		SizeLabel: "~75 MB",
	},
	{
		ID:        "tiny",
		FileName:  "ggml-tiny.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
		SizeLabel: "~75 MB",
	},
	{
		ID:        "base.en",
		FileName:  "ggml-base.en.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.en.bin",
		SizeLabel: "~142 MB",
	},
	{
		ID:        "base",
		FileName:  "ggml-base.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
		SizeLabel: "~142 MB",
	},
	{
		ID:        "small.en",
		FileName:  "ggml-small.en.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.en.bin",
		SizeLabel: "~466 MB",
	},
	{
		ID:        "small",
		FileName:  "ggml-small.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
		SizeLabel: "~466 MB",
	},
	{
		ID:        "medium.en",
		FileName:  "ggml-medium.en.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.en.bin",
		SizeLabel: "~1.5 GB",
	},
	{
		ID:        "medium",
		FileName:  "ggml-medium.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
		SizeLabel: "~1.5 GB",
	},
	{
		ID:        "large-v2",
		FileName:  "ggml-large-v2.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v2.bin",
		SizeLabel: "~2.9 GB",
	},
	{
		ID:        "large-v3",
		FileName:  "ggml-large-v3.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
		SizeLabel: "~2.9 GB",
	},
	{
		ID:        "large-v3-turbo",
		FileName:  "ggml-large-v3-turbo.bin",
		URL:       "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo.bin",
		SizeLabel: "~1.6 GB",
	},
}

// Models returns the whisper.cpp models FetchModel knows about.
func Models() []domain.WhisperModelOption {
	models := make([]domain.WhisperModelOption, len(whisperModelCatalog))
	copy(models, whisperModelCatalog)
	return models
}

// FetchModel downloads a catalog model into the configured model directory
// and returns where it was written. An empty id fetches the configured model.
func (a *App) FetchModel(ctx context.Context, modelID string) (string, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		id = a.Settings.Model
	}
	if id == "" {
		return "", fmt.Errorf("model id is required")
	}

	model, found := getWhisperModelByID(id)
	if !found {
		return "", fmt.Errorf("unknown model id: %s", id)
	}

	downloadDir, err := resolveModelDownloadDirectory(a.Settings.ModelPath)
	if err != nil {
		return "", err
	}

	targetPath := filepath.Join(downloadDir, model.FileName)
	a.logger.Info("downloading model", "model", model.ID, "size", model.SizeLabel, "target", targetPath)

	ctx, cancel := context.WithTimeout(ctx, modelDownloadTimeout)
	defer cancel()
	if err := downloadURLToFile(ctx, a.httpClient, targetPath, a.modelURL(model)); err != nil {
		return "", fmt.Errorf("download model %s: %w", model.ID, err)
	}
	return targetPath, nil
}

func getWhisperModelByID(id string) (domain.WhisperModelOption, bool) {
	for _, model := range whisperModelCatalog {
		if model.ID == id {
			return model, true
		}
	}
	return domain.WhisperModelOption{}, false
}

func resolveModelDownloadDirectory(modelPath string) (string, error) {
	trimmed := strings.TrimSpace(modelPath)
	if trimmed == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve user home: %w", err)
		}
		return localModelsDir(homeDir), nil
	}

	info, err := os.Stat(trimmed)
	if err == nil {
		if info.IsDir() {
			return trimmed, nil
		}
		ext := strings.ToLower(filepath.Ext(trimmed))
		if ext == ".bin" || ext == ".gguf" {
			return filepath.Dir(trimmed), nil
		}
		return "", fmt.Errorf("model path points to non-model file: %s", trimmed)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("check model path: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(trimmed))
	if ext == ".bin" || ext == ".gguf" {
		return filepath.Dir(trimmed), nil
	}
	return trimmed, nil
}

// downloadURLToFile streams sourceURL to a temporary sibling of
// destinationPath and renames it into place once complete.
func downloadURLToFile(ctx context.Context, client *http.Client, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "batch-transcriber")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	if copyErr == nil {
		copyErr = file.Sync()
	}
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
