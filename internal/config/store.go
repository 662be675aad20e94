package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"batch-transcriber/internal/domain"
)

// ErrInvalidSettings is returned by Validate for unusable configuration.
var ErrInvalidSettings = errors.New("invalid settings")

// Store defines persistence operations for settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// YAMLStore persists settings in a single YAML file on disk.
type YAMLStore struct {
	path string
}

// NewYAMLStore creates a YAML-backed settings store.
func NewYAMLStore(path string) *YAMLStore {
	return &YAMLStore{path: path}
}

// Load reads settings from disk or returns defaults when missing. Keys absent
// from the file keep their default value.
func (s *YAMLStore) Load() (domain.Settings, error) {
	cfg := DefaultSettings()
	if strings.TrimSpace(s.path) == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return domain.Settings{}, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return cfg, nil
}

// Save writes settings as YAML and creates parent directories.
func (s *YAMLStore) Save(cfg domain.Settings) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Load builds the settings of one process: defaults, then the YAML file at
// path (optional), then TRANSCRIBER_* environment variables.
func Load(path string) (domain.Settings, error) {
	cfg, err := NewYAMLStore(path).Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return domain.Settings{}, fmt.Errorf("read environment: %w", err)
	}

	cfg = Normalize(cfg)
	if err := Validate(cfg); err != nil {
		return domain.Settings{}, err
	}
	return cfg, nil
}

// Normalize trims inputs, fills empty fields from defaults and roots the
// working directories under BaseDir.
func Normalize(s domain.Settings) domain.Settings {
	def := DefaultSettings()
	s.BaseDir = orDefault(s.BaseDir, def.BaseDir)
	if abs, err := filepath.Abs(s.BaseDir); err == nil {
		s.BaseDir = abs
	}
	s.AudioDir = underBase(s.BaseDir, orDefault(s.AudioDir, def.AudioDir))
	s.ChunksDir = underBase(s.BaseDir, orDefault(s.ChunksDir, def.ChunksDir))
	s.OutputDir = underBase(s.BaseDir, orDefault(s.OutputDir, def.OutputDir))
	s.Language = strings.TrimSpace(s.Language)
	s.Engine = strings.ToLower(orDefault(s.Engine, def.Engine))
	s.Model = strings.TrimSpace(s.Model)
	s.ModelPath = strings.TrimSpace(s.ModelPath)
	s.FFmpegPath = orDefault(s.FFmpegPath, def.FFmpegPath)
	s.FFprobePath = orDefault(s.FFprobePath, def.FFprobePath)
	s.WhisperPath = orDefault(s.WhisperPath, def.WhisperPath)
	s.OpenAIBaseURL = strings.TrimRight(orDefault(s.OpenAIBaseURL, def.OpenAIBaseURL), "/")
	s.OpenAIModel = orDefault(s.OpenAIModel, def.OpenAIModel)
	s.CheckpointBackend = strings.ToLower(orDefault(s.CheckpointBackend, def.CheckpointBackend))
	s.LogLevel = strings.ToLower(orDefault(s.LogLevel, def.LogLevel))
	s.LogFormat = strings.ToLower(orDefault(s.LogFormat, def.LogFormat))
	return s
}

// Validate rejects settings the pipeline cannot run with.
func Validate(s domain.Settings) error {
	if s.ChunkDurationMinutes <= 0 {
		return fmt.Errorf("%w: chunk duration must be positive, got %d", ErrInvalidSettings, s.ChunkDurationMinutes)
	}
	if s.WorkerCount < 0 {
		return fmt.Errorf("%w: worker count must not be negative, got %d", ErrInvalidSettings, s.WorkerCount)
	}
	switch s.Engine {
	case EngineWhisperCPP:
	case EngineOpenAI:
		if s.OpenAIAPIKey == "" {
			return fmt.Errorf("%w: engine openai requires OPENAI_API_KEY", ErrInvalidSettings)
		}
	default:
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidSettings, s.Engine)
	}
	switch s.CheckpointBackend {
	case CheckpointFiles, CheckpointSQLite:
	default:
		return fmt.Errorf("%w: unknown checkpoint backend %q", ErrInvalidSettings, s.CheckpointBackend)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func underBase(base, dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(base, dir)
}
