// Package translate detects the language of a text and translates it.
//
// Failures never surface as errors to the caller: a provider error or a
// response that does not fit the schema yields a fallback [Result] whose
// language comes from local detection.
package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
)

const (
	// DefaultTarget is used when no target language is given.
	DefaultTarget = "English"

	// UnknownLanguage is reported when detection fails.
	UnknownLanguage = "Unknown"

	// FailedText replaces the translation when the request fails.
	FailedText = "Translation failed."

	promptFormat = "Identify the source language of the following text and translate it to %s.\nText: \"%s\""
)

// ErrEmptyInput is returned for blank input text.
var ErrEmptyInput = errors.New("translate: empty input")

// Result is a detected language and a translation.
type Result struct {
	DetectedLanguage string `json:"detectedLanguage"`
	TranslatedText   string `json:"translatedText"`

	// Fallback is set when the result was produced locally after a failure.
	Fallback bool `json:"-"`
}

// Schema returns the response schema for translation requests.
func Schema() *inference.Schema {
	return &inference.Schema{
		Type: inference.TypeObject,
		Properties: map[string]*inference.Schema{
			"detectedLanguage": {Type: inference.TypeString, Description: "The name of the detected source language"},
			"translatedText":   {Type: inference.TypeString, Description: "The translated version of the text"},
		},
		Required: []string{"detectedLanguage", "translatedText"},
	}
}

// TargetName resolves target to the English language name used in the
// prompt. BCP-47 tags such as "fr" or "pt-BR" are expanded; anything else is
// used verbatim. An empty target selects [DefaultTarget].
func TargetName(target string) string {
	target = strings.TrimSpace(target)
	if target == "" {
		return DefaultTarget
	}
	tag, err := language.Parse(target)
	if err != nil || tag == language.Und {
		return target
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return target
}

// Option configures a [Translator].
type Option func(*Translator)

// WithDefaultTarget overrides [DefaultTarget].
func WithDefaultTarget(target string) Option {
	return func(t *Translator) { t.defaultTarget = target }
}

// WithMetrics sets the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(t *Translator) { t.metrics = m }
}

// Translator performs detect-and-translate requests.
type Translator struct {
	completer     inference.StructuredCompleter
	defaultTarget string
	metrics       *observe.Metrics
}

// New returns a Translator backed by c.
func New(c inference.StructuredCompleter, opts ...Option) *Translator {
	t := &Translator{completer: c, defaultTarget: DefaultTarget, metrics: observe.DefaultMetrics()}
	for _, o := range opts {
		o(t)
	}
	return t
}

// DetectAndTranslate identifies the language of text and translates it to
// target. Only blank input is an error.
func (t *Translator) DetectAndTranslate(ctx context.Context, text, target string) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if strings.TrimSpace(target) == "" {
		target = t.defaultTarget
	}

	ctx, span := observe.StartSpan(ctx, "translate.DetectAndTranslate")
	defer span.End()

	log := observe.Logger(ctx)
	raw, err := t.completer.CompleteStructured(ctx, inference.TextRequest{
		Prompt: fmt.Sprintf(promptFormat, TargetName(target), text),
	}, Schema())
	if err != nil {
		t.metrics.RecordProviderError(ctx, "inference", "translate")
		log.Warn("translate: request failed", "err", err)
		return fallback(text), nil
	}
	t.metrics.RecordProviderRequest(ctx, "inference", "translate", "ok")

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil || strings.TrimSpace(res.TranslatedText) == "" {
		log.Warn("translate: malformed response", "err", err)
		return fallback(text), nil
	}
	res.DetectedLanguage = strings.TrimSpace(res.DetectedLanguage)
	res.TranslatedText = strings.TrimSpace(res.TranslatedText)
	if res.DetectedLanguage == "" {
		res.DetectedLanguage = DetectLocal(text)
	}
	return &res, nil
}

// DetectLocal names the language of text using offline detection. It returns
// [UnknownLanguage] when nothing is detected.
func DetectLocal(text string) string {
	if name := whatlanggo.DetectLang(text).String(); name != "" {
		return name
	}
	return UnknownLanguage
}

func fallback(text string) *Result {
	return &Result{DetectedLanguage: DetectLocal(text), TranslatedText: FailedText, Fallback: true}
}
