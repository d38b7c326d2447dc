// Package config provides the configuration schema, loader, and provider registry
// for DeafCare.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the log handler.
type LogFormat string

const (
	// LogFormatText writes logfmt-style records.
	LogFormatText LogFormat = "text"

	// LogFormatTint writes coloured records for terminals.
	LogFormatTint LogFormat = "tint"

	// LogFormatJSON writes one JSON object per record.
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	switch f {
	case LogFormatText, LogFormatTint, LogFormatJSON:
		return true
	}
	return false
}

// CacheBackend selects the snapshot store.
type CacheBackend string

const (
	CacheFile     CacheBackend = "file"
	CacheSQLite   CacheBackend = "sqlite"
	CachePostgres CacheBackend = "postgres"
	CacheMemory   CacheBackend = "memory"
)

// IsValid reports whether b is a recognised backend.
func (b CacheBackend) IsValid() bool {
	switch b {
	case CacheFile, CacheSQLite, CachePostgres, CacheMemory:
		return true
	}
	return false
}

// Config is the root configuration structure for DeafCare.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Cache         CacheConfig         `yaml:"cache"`
	Synthesis     SynthesisConfig     `yaml:"synthesis"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Video         VideoConfig         `yaml:"video"`
	Recognition   RecognitionConfig   `yaml:"recognition"`
	Translation   TranslationConfig   `yaml:"translation"`
}

// ServerConfig holds logging and the observability listener.
type ServerConfig struct {
	// LogLevel controls verbosity. Reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects the handler.
	LogFormat LogFormat `yaml:"log_format"`

	// MetricsAddr is the address serving /metrics, /healthz and /readyz in
	// serve mode (e.g. ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig declares the inference provider and its text fallbacks.
type ProvidersConfig struct {
	Gemini GeminiConfig `yaml:"gemini"`

	// TextFallbacks are tried in order when Gemini text completion fails.
	// Each Name selects a factory registered in the [Registry].
	TextFallbacks []ProviderEntry `yaml:"text_fallbacks"`
}

// GeminiConfig configures the primary inference provider.
type GeminiConfig struct {
	// APIKeys are rotated on credential reselection. When empty, the
	// GEMINI_API_KEY and GOOGLE_API_KEY environment variables are used.
	APIKeys []string `yaml:"api_keys"`

	// BaseURL overrides the REST endpoint.
	BaseURL string `yaml:"base_url"`

	// LiveBaseURL overrides the live session WebSocket endpoint.
	LiveBaseURL string `yaml:"live_base_url"`

	// Voice is the default prebuilt speech voice.
	Voice string `yaml:"voice"`

	// Models overrides per-kind model names. Empty fields keep defaults.
	Models ModelsConfig `yaml:"models"`
}

// ModelsConfig names the model for each request kind.
type ModelsConfig struct {
	Text      string `yaml:"text"`
	Image     string `yaml:"image"`
	Speech    string `yaml:"speech"`
	Live      string `yaml:"live"`
	Video     string `yaml:"video"`
	Grounding string `yaml:"grounding"`
}

// ProviderEntry configures one text fallback backend.
type ProviderEntry struct {
	// Name selects the registered backend (e.g. "openai", "ollama").
	Name string `yaml:"name"`

	// APIKey authenticates with the backend. Empty lets the backend read its
	// usual environment variable.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects the model within the backend. Required.
	Model string `yaml:"model"`
}

// CacheConfig selects where synthesized artifacts persist.
type CacheConfig struct {
	Backend CacheBackend `yaml:"backend"`

	// Path is the directory for "file" or the database file for "sqlite".
	Path string `yaml:"path"`

	// PostgresDSN is the connection string for "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	AlphabetSlot string `yaml:"alphabet_slot"`
	WordsSlot    string `yaml:"words_slot"`
}

// SynthesisConfig tunes the synthesis controllers.
type SynthesisConfig struct {
	// GenerationTimeout bounds one key's generation.
	GenerationTimeout time.Duration `yaml:"generation_timeout"`

	// SyncSchedule is a standard five-field cron expression for background
	// alphabet syncs in serve mode. Empty disables scheduling. Reloadable.
	SyncSchedule string `yaml:"sync_schedule"`
}

// TranscriptionConfig tunes live transcription.
type TranscriptionConfig struct {
	SampleRate        int           `yaml:"sample_rate"`
	FrameSize         int           `yaml:"frame_size"`
	Channels          int           `yaml:"channels"`
	MicrophoneTimeout time.Duration `yaml:"microphone_timeout"`

	// EOFGrace is how long to wait for final events after the microphone
	// runs out.
	EOFGrace time.Duration `yaml:"eof_grace"`

	Instructions string `yaml:"instructions"`
}

// VideoConfig tunes sign video rendering.
type VideoConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxWait       time.Duration `yaml:"max_wait"`
	MaxPollErrors int           `yaml:"max_poll_errors"`
	Resolution    string        `yaml:"resolution"`
	AspectRatio   string        `yaml:"aspect_ratio"`
}

// RecognitionConfig tunes sign recognition from camera frames.
type RecognitionConfig struct {
	// Hold is how long a recognised word stays current.
	Hold time.Duration `yaml:"hold"`

	// Speak announces new words aloud.
	Speak bool `yaml:"speak"`
}

// TranslationConfig tunes the translator.
type TranslationConfig struct {
	// DefaultTarget is used when a request names no target language.
	DefaultTarget string `yaml:"default_target"`
}
