package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"batch-transcriber/internal/domain"
)

const (
	EngineWhisperCPP = "whisper-cpp"
	EngineOpenAI     = "openai"

	CheckpointFiles  = "files"
	CheckpointSQLite = "sqlite"
)

// DefaultSettings returns baseline configuration for a first run.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		BaseDir:              ".",
		AudioDir:             "audio",
		ChunksDir:            "chunks",
		OutputDir:            "transcriptions",
		ChunkDurationMinutes: 1,
		Language:             "fr",
		Engine:               EngineWhisperCPP,
		Model:                "small",
		ModelPath:            filepath.Join(homeDir, ".batch-transcriber", "models"),
		FFmpegPath:           "ffmpeg",
		FFprobePath:          "ffprobe",
		WhisperPath:          "whisper-cli",
		OpenAIBaseURL:        "https://api.openai.com/v1",
		OpenAIModel:          "whisper-1",
		CheckpointBackend:    CheckpointFiles,
		LogLevel:             "info",
		LogFormat:            "text",
	}
}

// Workers returns the chunk production parallelism: the configured value, or
// available CPUs minus one with a floor of one.
func Workers(s domain.Settings) int {
	if s.WorkerCount > 0 {
		return s.WorkerCount
	}
	return max(1, runtime.NumCPU()-1)
}

// ChunkLengthMs converts the configured chunk duration to milliseconds.
func ChunkLengthMs(s domain.Settings) int64 {
	return int64(s.ChunkDurationMinutes) * 60 * 1000
}

// ModelFile returns the whisper model to load. A named model resolves to
// ggml-<name>.bin inside the model directory; a model path that already
// names a .bin or .gguf file wins over the name.
func ModelFile(s domain.Settings) string {
	ext := strings.ToLower(filepath.Ext(s.ModelPath))
	if ext == ".bin" || ext == ".gguf" || strings.TrimSpace(s.Model) == "" {
		return s.ModelPath
	}
	return filepath.Join(s.ModelPath, "ggml-"+s.Model+".bin")
}
