// Package gloss translates English text into ASL gloss with step-by-step
// signing instructions.
//
// Multi-line input is processed one line at a time, sequentially. A line
// that fails does not abort the remaining lines.
package gloss

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
)

// SystemInstruction is sent with every gloss request.
const SystemInstruction = "Translate the following English sentence into ASL Gloss and provide a step-by-step description of the signs for someone who is learning. Include the primary movements, handshapes, and locations."

var (
	// ErrEmptyInput is returned when the input holds no non-blank line.
	ErrEmptyInput = errors.New("gloss: empty input")

	// ErrMalformed is returned when the model response lacks a required field.
	ErrMalformed = errors.New("gloss: malformed response")
)

// Result is the gloss of one sentence.
type Result struct {
	Gloss       string   `json:"gloss"`
	Description string   `json:"description"`
	Movements   []string `json:"movements"`
}

// Line pairs one input line with its outcome. Exactly one of Result and Err
// is set.
type Line struct {
	Input  string
	Result *Result
	Err    error
}

// Schema returns the response schema for gloss requests.
func Schema() *inference.Schema {
	return &inference.Schema{
		Type: inference.TypeObject,
		Properties: map[string]*inference.Schema{
			"gloss":       {Type: inference.TypeString, Description: "The ASL Gloss version of the text"},
			"description": {Type: inference.TypeString, Description: "Overall description of the signs"},
			"movements": {
				Type:        inference.TypeArray,
				Items:       &inference.Schema{Type: inference.TypeString},
				Description: "Step-by-step physical movement instructions",
			},
		},
		Required: []string{"gloss", "description", "movements"},
		Ordering: []string{"gloss", "description", "movements"},
	}
}

// Option configures a [Translator].
type Option func(*Translator)

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Translator) { t.metrics = m }
}

// Translator produces gloss results through a structured completer.
type Translator struct {
	completer inference.StructuredCompleter
	metrics   *observe.Metrics
}

// New returns a Translator backed by c.
func New(c inference.StructuredCompleter, opts ...Option) *Translator {
	t := &Translator{completer: c, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Translate glosses a single sentence.
func (t *Translator) Translate(ctx context.Context, sentence string) (_ *Result, err error) {
	sentence = strings.TrimSpace(sentence)
	if sentence == "" {
		return nil, ErrEmptyInput
	}

	ctx, span := observe.StartSpan(ctx, "gloss.Translate")
	defer func() { observe.EndSpan(span, err) }()

	raw, err := t.completer.CompleteStructured(ctx, inference.TextRequest{
		Prompt:            sentence,
		SystemInstruction: SystemInstruction,
	}, Schema())
	if err != nil {
		t.metrics.RecordProviderError(ctx, "inference", "gloss")
		return nil, fmt.Errorf("gloss: translate: %w", err)
	}
	t.metrics.RecordProviderRequest(ctx, "inference", "gloss", "ok")

	res, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("gloss: translate: %w", err)
	}
	return res, nil
}

// TranslateLines splits text on newlines, skips blank lines and glosses the
// rest in order. The returned slice has one [Line] per non-blank input line.
// The error is non-nil only for empty input or a cancelled ctx; per-line
// failures are reported in [Line.Err].
func (t *Translator) TranslateLines(ctx context.Context, text string) ([]Line, error) {
	var inputs []string
	for l := range strings.Lines(text) {
		if s := strings.TrimSpace(l); s != "" {
			inputs = append(inputs, s)
		}
	}
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}

	log := observe.Logger(ctx)
	out := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		res, err := t.Translate(ctx, in)
		if err != nil {
			log.Warn("gloss: line failed", "line", in, "err", err)
		}
		out = append(out, Line{Input: in, Result: res, Err: err})
	}
	return out, nil
}

type wireResult struct {
	Gloss       *string   `json:"gloss"`
	Description *string   `json:"description"`
	Movements   *[]string `json:"movements"`
}

func decode(raw json.RawMessage) (*Result, error) {
	var w wireResult
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	var missing []string
	if w.Gloss == nil || strings.TrimSpace(*w.Gloss) == "" {
		missing = append(missing, "gloss")
	}
	if w.Description == nil {
		missing = append(missing, "description")
	}
	if w.Movements == nil {
		missing = append(missing, "movements")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrMalformed, strings.Join(missing, ", "))
	}
	return &Result{
		Gloss:       strings.TrimSpace(*w.Gloss),
		Description: strings.TrimSpace(*w.Description),
		Movements:   *w.Movements,
	}, nil
}
