package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
	"github.com/lionelramela/deafcare/pkg/provider/llm"
)

// ErrAttachmentsUnsupported is returned by an llm-backed entry for requests
// carrying inline media. It moves the request on to the next entry without
// counting against the entry's breaker.
var ErrAttachmentsUnsupported = errors.New("resilience: backend does not accept attachments")

// TextFallback implements [inference.TextCompleter] with failover from a
// primary completer to any number of [llm.Provider] backends.
type TextFallback struct {
	group   *FallbackGroup[inference.TextCompleter]
	metrics *observe.Metrics
}

var _ inference.TextCompleter = (*TextFallback)(nil)

// NewTextFallback creates a TextFallback with primary as the preferred
// completer. Unless cfg overrides them, attachment refusals do not count
// against a breaker and a missing credential opens one at once. metrics may
// be nil.
func NewTextFallback(primary inference.TextCompleter, primaryName string, cfg FallbackConfig, metrics *observe.Metrics) *TextFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = func(err error) bool {
			return defaultIsFailure(err) && !errors.Is(err, ErrAttachmentsUnsupported)
		}
	}
	if cfg.CircuitBreaker.IsFatal == nil {
		cfg.CircuitBreaker.IsFatal = func(err error) bool {
			return errors.Is(err, inference.ErrNoCredential)
		}
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &TextFallback{group: NewFallbackGroup(primary, primaryName, cfg), metrics: metrics}
}

// AddProvider registers an llm backend as the next fallback.
func (f *TextFallback) AddProvider(name string, p llm.Provider) {
	f.group.AddFallback(name, &llmText{provider: p})
}

// Names returns the backends in try order.
func (f *TextFallback) Names() []string { return f.group.Names() }

// State returns the breaker state of the named backend.
func (f *TextFallback) State(name string) (State, bool) {
	cb := f.group.Breaker(name)
	if cb == nil {
		return StateClosed, false
	}
	return cb.State(), true
}

// CompleteText implements inference.TextCompleter.
func (f *TextFallback) CompleteText(ctx context.Context, req inference.TextRequest) (string, error) {
	text, from, err := ExecuteWithResult(ctx, f.group, func(c inference.TextCompleter) (string, error) {
		return c.CompleteText(ctx, req)
	})
	if err != nil {
		f.metrics.RecordProviderError(ctx, "fallback", "text")
		return "", fmt.Errorf("resilience: complete text: %w", err)
	}
	f.metrics.RecordProviderRequest(ctx, from, "text", "ok")
	return text, nil
}

// llmText adapts an llm.Provider to inference.TextCompleter.
type llmText struct {
	provider llm.Provider
}

func (a *llmText) CompleteText(ctx context.Context, req inference.TextRequest) (string, error) {
	if len(req.Attachments) > 0 {
		return "", ErrAttachmentsUnsupported
	}
	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: req.SystemInstruction,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		Temperature:  req.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
