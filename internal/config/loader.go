package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/lionelramela/deafcare/internal/cache"
)

// Environment variables consulted when providers.gemini.api_keys is empty,
// in order.
var APIKeyEnvVars = []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"}

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to reject unrecognised text fallback backends.
var ValidProviderNames = map[string][]string{
	"text_fallback": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Default paths per cache backend.
const (
	DefaultFileCachePath   = ".deafcare/cache"
	DefaultSQLiteCachePath = ".deafcare/cache.db"
)

// LoadEnv loads .env files into the process environment without overriding
// variables that are already set. With no paths it loads ./.env. A missing
// file is not an error.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and environment
// credentials, and validates the result. An empty document yields the default
// config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	applyEnv(cfg)
	return cfg
}

// ApplyDefaults fills empty fields that have a config-level default. Feature
// settings left at zero take their package defaults at construction.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.LogFormat == "" {
		cfg.Server.LogFormat = LogFormatText
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = CacheFile
	}
	if cfg.Cache.Path == "" {
		switch cfg.Cache.Backend {
		case CacheFile:
			cfg.Cache.Path = DefaultFileCachePath
		case CacheSQLite:
			cfg.Cache.Path = DefaultSQLiteCachePath
		}
	}
	if cfg.Cache.AlphabetSlot == "" {
		cfg.Cache.AlphabetSlot = cache.DefaultAlphabetSlot
	}
	if cfg.Cache.WordsSlot == "" {
		cfg.Cache.WordsSlot = cache.DefaultWordsSlot
	}
}

func applyEnv(cfg *Config) {
	if len(cfg.Providers.Gemini.APIKeys) > 0 {
		return
	}
	for _, name := range APIKeyEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			cfg.Providers.Gemini.APIKeys = append(cfg.Providers.Gemini.APIKeys, v)
		}
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, tint, json", cfg.Server.LogFormat))
	}

	// Providers
	if len(cfg.Providers.Gemini.APIKeys) == 0 {
		slog.Warn("no Gemini API key configured; set providers.gemini.api_keys or GEMINI_API_KEY")
	}
	namesSeen := make(map[string]int, len(cfg.Providers.TextFallbacks))
	for i, fb := range cfg.Providers.TextFallbacks {
		prefix := fmt.Sprintf("providers.text_fallbacks[%d]", i)
		switch {
		case fb.Name == "":
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		case !slices.Contains(ValidProviderNames["text_fallback"], fb.Name):
			errs = append(errs, fmt.Errorf("%s.name %q is invalid; valid values: %s", prefix, fb.Name, strings.Join(ValidProviderNames["text_fallback"], ", ")))
		}
		if prev, ok := namesSeen[fb.Name]; ok && fb.Name != "" {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of providers.text_fallbacks[%d]", prefix, fb.Name, prev))
		}
		namesSeen[fb.Name] = i
		if fb.Model == "" {
			errs = append(errs, fmt.Errorf("%s.model is required", prefix))
		}
	}

	// Cache
	c := cfg.Cache
	if c.Backend != "" && !c.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("cache.backend %q is invalid; valid values: file, sqlite, postgres, memory", c.Backend))
	}
	if c.Backend == CachePostgres && c.PostgresDSN == "" {
		errs = append(errs, errors.New("cache.postgres_dsn is required when backend is postgres"))
	}
	if (c.Backend == CacheFile || c.Backend == CacheSQLite) && c.Path == "" {
		errs = append(errs, fmt.Errorf("cache.path is required when backend is %s", c.Backend))
	}
	if c.AlphabetSlot != "" && c.AlphabetSlot == c.WordsSlot {
		errs = append(errs, fmt.Errorf("cache.alphabet_slot and cache.words_slot must differ (both %q)", c.AlphabetSlot))
	}

	// Synthesis
	if cfg.Synthesis.GenerationTimeout < 0 {
		errs = append(errs, errors.New("synthesis.generation_timeout must not be negative"))
	}
	if cfg.Synthesis.SyncSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Synthesis.SyncSchedule); err != nil {
			errs = append(errs, fmt.Errorf("synthesis.sync_schedule %q is invalid: %w", cfg.Synthesis.SyncSchedule, err))
		}
	}

	// Transcription
	tc := cfg.Transcription
	if tc.SampleRate < 0 {
		errs = append(errs, errors.New("transcription.sample_rate must not be negative"))
	}
	if tc.FrameSize < 0 {
		errs = append(errs, errors.New("transcription.frame_size must not be negative"))
	}
	if tc.Channels < 0 || tc.Channels > 8 {
		errs = append(errs, fmt.Errorf("transcription.channels %d is out of range [0, 8]", tc.Channels))
	}
	if tc.MicrophoneTimeout < 0 || tc.EOFGrace < 0 {
		errs = append(errs, errors.New("transcription durations must not be negative"))
	}
	if tc.SampleRate != 0 && tc.SampleRate != 16000 {
		slog.Warn("transcription.sample_rate differs from 16000; the live model expects 16 kHz input", "sample_rate", tc.SampleRate)
	}

	// Video
	v := cfg.Video
	if v.PollInterval < 0 || v.MaxWait < 0 {
		errs = append(errs, errors.New("video durations must not be negative"))
	}
	if v.PollInterval > 0 && v.MaxWait > 0 && v.MaxWait < v.PollInterval {
		errs = append(errs, fmt.Errorf("video.max_wait %s is shorter than video.poll_interval %s", v.MaxWait, v.PollInterval))
	}
	if v.MaxPollErrors < 0 {
		errs = append(errs, errors.New("video.max_poll_errors must not be negative"))
	}

	// Recognition
	if cfg.Recognition.Hold < 0 {
		errs = append(errs, errors.New("recognition.hold must not be negative"))
	}

	return errors.Join(errs...)
}
