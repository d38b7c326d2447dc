package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
	"github.com/lionelramela/deafcare/pkg/inference/mock"
	"github.com/lionelramela/deafcare/pkg/provider/llm"
	llmmock "github.com/lionelramela/deafcare/pkg/provider/llm/mock"
)

func newTextFallback(t *testing.T, primary inference.TextCompleter, cb CircuitBreakerConfig) *TextFallback {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return NewTextFallback(primary, "gemini", FallbackConfig{CircuitBreaker: cb}, m)
}

func TestTextFallback_PrimarySuccess(t *testing.T) {
	primary := &mock.Service{TextResult: "from gemini"}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	fb := newTextFallback(t, primary, CircuitBreakerConfig{MaxFailures: 3})
	fb.AddProvider("openai", backup)

	got, err := fb.CompleteText(context.Background(), inference.TextRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if got != "from gemini" {
		t.Errorf("got %q", got)
	}
	if backup.CallCount() != 0 {
		t.Error("backup should not be called")
	}
}

func TestTextFallback_FailsOverToProvider(t *testing.T) {
	primary := &mock.Service{TextErr: errors.New("429 resource exhausted")}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	fb := newTextFallback(t, primary, CircuitBreakerConfig{MaxFailures: 3})
	fb.AddProvider("openai", backup)

	temp := 0.1
	got, err := fb.CompleteText(context.Background(), inference.TextRequest{
		Prompt:            "Refine this post",
		SystemInstruction: "Be supportive.",
		Temperature:       &temp,
	})
	if err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if got != "from backup" {
		t.Errorf("got %q", got)
	}

	req := backup.CompleteCalls[0].Req
	if req.SystemPrompt != "Be supportive." {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "Refine this post" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("temperature = %v", req.Temperature)
	}
}

func TestTextFallback_AttachmentsSkipTextOnlyBackends(t *testing.T) {
	primary := &mock.Service{TextErr: errors.New("503")}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "unused"}}

	fb := newTextFallback(t, primary, CircuitBreakerConfig{MaxFailures: 1})
	fb.AddProvider("ollama", backup)

	req := inference.TextRequest{
		Prompt:      "Which sign is this?",
		Attachments: []inference.Blob{{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}},
	}
	_, err := fb.CompleteText(context.Background(), req)
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrAttachmentsUnsupported) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping ErrAttachmentsUnsupported", err)
	}
	if backup.CallCount() != 0 {
		t.Error("text-only backend received an image request")
	}
	if got := fb.group.Breaker("ollama").State(); got != StateClosed {
		t.Errorf("ollama breaker = %v, want closed", got)
	}
}

func TestTextFallback_Names(t *testing.T) {
	fb := newTextFallback(t, &mock.Service{}, CircuitBreakerConfig{})
	fb.AddProvider("openai", &llmmock.Provider{})
	fb.AddProvider("ollama", &llmmock.Provider{})

	names := fb.Names()
	if len(names) != 3 || names[0] != "gemini" || names[2] != "ollama" {
		t.Errorf("Names = %v", names)
	}
}

func TestTextFallback_MissingCredentialOpensPrimary(t *testing.T) {
	primary := &mock.Service{TextErr: fmt.Errorf("gemini: %w", inference.ErrNoCredential)}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	fb := newTextFallback(t, primary, CircuitBreakerConfig{MaxFailures: 5})
	fb.AddProvider("openai", backup)

	if _, err := fb.CompleteText(context.Background(), inference.TextRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("CompleteText: %v", err)
	}
	if got, _ := fb.State("gemini"); got != StateOpen {
		t.Errorf("gemini breaker = %v, want open", got)
	}
}
