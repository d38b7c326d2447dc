package config_test

import (
	"strings"
	"testing"

	"github.com/lionelramela/deafcare/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"invalid log level", "server:\n  log_level: verbose\n", "server.log_level"},
		{"invalid log format", "server:\n  log_format: xml\n", "server.log_format"},
		{"invalid cache backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"postgres without dsn", "cache:\n  backend: postgres\n", "cache.postgres_dsn"},
		{"same slots", "cache:\n  alphabet_slot: a\n  words_slot: a\n", "must differ"},
		{"bad cron", "synthesis:\n  sync_schedule: \"every day\"\n", "synthesis.sync_schedule"},
		{"negative timeout", "synthesis:\n  generation_timeout: -1s\n", "synthesis.generation_timeout"},
		{"too many channels", "transcription:\n  channels: 12\n", "transcription.channels"},
		{"max wait below interval", "video:\n  poll_interval: 30s\n  max_wait: 10s\n", "video.max_wait"},
		{"negative poll errors", "video:\n  max_poll_errors: -2\n", "video.max_poll_errors"},
		{"negative hold", "recognition:\n  hold: -4s\n", "recognition.hold"},
		{"fallback without name", "providers:\n  text_fallbacks:\n    - model: x\n", "text_fallbacks[0].name is required"},
		{"fallback unknown name", "providers:\n  text_fallbacks:\n    - name: watson\n      model: x\n", "watson"},
		{"fallback without model", "providers:\n  text_fallbacks:\n    - name: openai\n", "text_fallbacks[0].model"},
		{
			"duplicate fallback",
			"providers:\n  text_fallbacks:\n    - name: groq\n      model: a\n    - name: groq\n      model: b\n",
			"duplicate",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_PostgresWithDSNIsValid(t *testing.T) {
	t.Parallel()
	yaml := `
cache:
  backend: postgres
  postgres_dsn: "postgres://localhost/deafcare"
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: nope
cache:
  backend: nope
video:
  max_poll_errors: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "cache.backend", "video.max_poll_errors"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	names, ok := config.ValidProviderNames["text_fallback"]
	if !ok || len(names) == 0 {
		t.Fatal("text_fallback names missing")
	}
}
