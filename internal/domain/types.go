package domain

import "time"

// RunStatus tracks each stage of one pipeline run.
type RunStatus string

const (
	RunStatusIdle         RunStatus = "idle"
	RunStatusResuming     RunStatus = "resuming"
	RunStatusDiscovering  RunStatus = "discovering"
	RunStatusSplitting    RunStatus = "splitting"
	RunStatusTranscribing RunStatus = "transcribing"
	RunStatusDone         RunStatus = "done"
	RunStatusFailed       RunStatus = "failed"
)

// Settings contains the configuration of one process, built once at startup.
type Settings struct {
	BaseDir   string `yaml:"base_dir" env:"TRANSCRIBER_BASE_DIR"`
	AudioDir  string `yaml:"audio_dir" env:"TRANSCRIBER_AUDIO_DIR"`
	ChunksDir string `yaml:"chunks_dir" env:"TRANSCRIBER_CHUNKS_DIR"`
	OutputDir string `yaml:"output_dir" env:"TRANSCRIBER_OUTPUT_DIR"`

	ChunkDurationMinutes int    `yaml:"chunk_duration_minutes" env:"TRANSCRIBER_CHUNK_MINUTES"`
	Language             string `yaml:"language" env:"TRANSCRIBER_LANGUAGE"`
	WorkerCount          int    `yaml:"worker_count" env:"TRANSCRIBER_WORKERS"`
	DeleteChunksAfterUse bool   `yaml:"delete_chunks_after_use" env:"TRANSCRIBER_DELETE_CHUNKS"`

	Engine        string `yaml:"engine" env:"TRANSCRIBER_ENGINE"`
	ModelPath     string `yaml:"model_path" env:"TRANSCRIBER_MODEL_PATH"`
	Model         string `yaml:"model" env:"TRANSCRIBER_MODEL"`
	FFmpegPath    string `yaml:"ffmpeg_path" env:"TRANSCRIBER_FFMPEG"`
	FFprobePath   string `yaml:"ffprobe_path" env:"TRANSCRIBER_FFPROBE"`
	WhisperPath   string `yaml:"whisper_path" env:"TRANSCRIBER_WHISPER"`
	OpenAIBaseURL string `yaml:"openai_base_url" env:"OPENAI_BASE_URL"`
	OpenAIAPIKey  string `yaml:"-" env:"OPENAI_API_KEY"`
	OpenAIModel   string `yaml:"openai_model" env:"TRANSCRIBER_OPENAI_MODEL"`

	CheckpointBackend string `yaml:"checkpoint_backend" env:"TRANSCRIBER_CHECKPOINTS"`
	LogLevel          string `yaml:"log_level" env:"TRANSCRIBER_LOG_LEVEL"`
	LogFormat         string `yaml:"log_format" env:"TRANSCRIBER_LOG_FORMAT"`
}

// AudioFile is one source recording in the audio directory.
type AudioFile struct {
	Name    string
	Path    string
	ModTime time.Time
}

// ChunkSpec is the millisecond range [StartMs, EndMs) of one chunk of a source file.
type ChunkSpec struct {
	FileName string
	Index    int
	StartMs  int64
	EndMs    int64
}

// DurationMs returns the length of the chunk in milliseconds.
func (c ChunkSpec) DurationMs() int64 {
	return c.EndMs - c.StartMs
}

// ChunkArtifact is a materialized chunk on disk. BaseName is the source file
// name without its extension, the part encoded in the artifact name.
type ChunkArtifact struct {
	BaseName string
	Index    int
	Path     string
}

// Session is the transcript/log pair every write of a run targets.
type Session struct {
	TranscriptPath string
	LogPath        string
	Resumed        bool
}

// Run is a snapshot of one pipeline run.
type Run struct {
	ID        string
	Status    RunStatus
	StartedAt time.Time
	Error     string
}
