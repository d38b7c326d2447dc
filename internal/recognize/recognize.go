// Package recognize turns camera frames into single recognised sign words.
//
// A [Recognizer] accepts at most one frame at a time; frames arriving while a
// recognition is in progress are dropped. A word is announced when it
// differs from the word currently held, and is held for [Config.Hold] before
// it expires.
package recognize

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
)

const (
	// Prompt is sent with every frame.
	Prompt = "Identify the ASL sign. One word only. Respond 'None' if unclear."

	// NoSign is the model's answer when the frame shows no clear sign.
	NoSign = "None"

	// DefaultHold is how long a recognised word stays current.
	DefaultHold = 4 * time.Second

	// Temperature keeps answers stable between similar frames.
	Temperature = 0.1

	frameMIMEType = "image/jpeg"
)

// ErrBusy is returned when a frame is dropped because another is being
// recognised.
var ErrBusy = errors.New("recognize: recognition in progress")

// Announcement is delivered for every newly recognised word.
type Announcement struct {
	Word string

	// Speech is the spoken word as PCM16 mono at inference.SpeechSampleRate.
	// Nil when no synthesizer is configured or synthesis failed.
	Speech *inference.Blob
}

// Config configures a [Recognizer].
type Config struct {
	// Completer answers the frame prompt. Required.
	Completer inference.TextCompleter

	// Speech announces new words aloud. Optional.
	Speech inference.SpeechSynthesizer

	// Voice is the prebuilt voice for announcements. Empty selects the
	// provider default.
	Voice string

	// Hold is how long a word stays current. Default [DefaultHold].
	Hold time.Duration

	// OnAnnounce receives new words. Optional.
	OnAnnounce func(Announcement)

	// Now overrides the clock. Optional.
	Now func() time.Time

	// Metrics receives instrument updates. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Recognizer recognises signs in frames. It is safe for concurrent use.
type Recognizer struct {
	cfg  Config
	busy atomic.Bool

	mu      sync.Mutex
	current string
	heldAt  time.Time
}

// New returns a Recognizer.
func New(cfg Config) (*Recognizer, error) {
	if cfg.Completer == nil {
		return nil, errors.New("recognize: completer is required")
	}
	if cfg.Hold <= 0 {
		cfg.Hold = DefaultHold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Recognizer{cfg: cfg}, nil
}

// Current returns the held word, or "" once the hold has expired.
func (r *Recognizer) Current() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentLocked()
}

func (r *Recognizer) currentLocked() string {
	if r.current != "" && r.cfg.Now().Sub(r.heldAt) > r.cfg.Hold {
		r.current = ""
	}
	return r.current
}

// ProcessFrame recognises the sign in one JPEG frame. It returns the word
// recognised ("" for no sign) and whether it was newly announced. A frame
// submitted while another is processing returns [ErrBusy] without a request.
func (r *Recognizer) ProcessFrame(ctx context.Context, jpeg []byte) (word string, announced bool, err error) {
	if len(jpeg) == 0 {
		return "", false, errors.New("recognize: empty frame")
	}
	if !r.busy.CompareAndSwap(false, true) {
		return "", false, ErrBusy
	}
	defer r.busy.Store(false)

	ctx, span := observe.StartSpan(ctx, "recognize.ProcessFrame")
	defer func() { observe.EndSpan(span, err) }()

	temp := Temperature
	text, err := r.cfg.Completer.CompleteText(ctx, inference.TextRequest{
		Prompt:      Prompt,
		Temperature: &temp,
		Attachments: []inference.Blob{{MIMEType: frameMIMEType, Data: jpeg}},
	})
	if err != nil {
		r.cfg.Metrics.RecordProviderError(ctx, "inference", "recognize")
		return "", false, fmt.Errorf("recognize: %w", err)
	}
	r.cfg.Metrics.RecordProviderRequest(ctx, "inference", "recognize", "ok")

	word = normalise(text)
	if word == "" {
		return "", false, nil
	}

	r.mu.Lock()
	if word == r.currentLocked() {
		r.mu.Unlock()
		return word, false, nil
	}
	r.current = word
	r.heldAt = r.cfg.Now()
	r.mu.Unlock()

	r.announce(ctx, word)
	return word, true, nil
}

func (r *Recognizer) announce(ctx context.Context, word string) {
	a := Announcement{Word: word}
	if r.cfg.Speech != nil {
		blob, err := r.cfg.Speech.SynthesizeSpeech(ctx, inference.SayClearly(word), r.cfg.Voice)
		if err != nil {
			observe.Logger(ctx).Warn("recognize: speech failed", "word", word, "err", err)
		} else {
			a.Speech = &blob
		}
	}
	if r.cfg.OnAnnounce != nil {
		r.cfg.OnAnnounce(a)
	}
}

// normalise trims the answer and maps the no-sign answer to "". Models
// occasionally add punctuation or quotes around the word.
func normalise(text string) string {
	w := strings.Trim(strings.TrimSpace(text), ".!\"'`")
	if w == "" || strings.EqualFold(w, NoSign) {
		return ""
	}
	return w
}
