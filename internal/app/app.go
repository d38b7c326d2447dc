// Package app wires all DeafCare subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves background work until the context ends, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lionelramela/deafcare/internal/cache"
	"github.com/lionelramela/deafcare/internal/community"
	"github.com/lionelramela/deafcare/internal/config"
	"github.com/lionelramela/deafcare/internal/gloss"
	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/internal/recognize"
	"github.com/lionelramela/deafcare/internal/render"
	"github.com/lionelramela/deafcare/internal/resilience"
	"github.com/lionelramela/deafcare/internal/synth"
	"github.com/lionelramela/deafcare/internal/transcribe"
	"github.com/lionelramela/deafcare/internal/translate"
	"github.com/lionelramela/deafcare/pkg/audio"
	"github.com/lionelramela/deafcare/pkg/inference"
	"github.com/lionelramela/deafcare/pkg/provider/llm"
)

// primaryName labels the inference service in the text fallback chain.
const primaryName = "gemini"

// NamedLLM is a text fallback backend with its config name.
type NamedLLM struct {
	Name     string
	Provider llm.Provider
}

// Providers holds the external collaborators. Populated by main.go from the
// config registry.
type Providers struct {
	// Inference is the primary service. Required.
	Inference inference.Service

	// TextFallbacks are tried in order when Inference text completion fails.
	TextFallbacks []NamedLLM
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics
	store     cache.Store

	text       *resilience.TextFallback
	alphabet   *synth.Controller
	words      *synth.Controller
	gloss      *gloss.Translator
	translator *translate.Translator
	render     *render.Poller
	community  *community.Hub
	scheduler  *Scheduler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a snapshot store instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s cache.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics sink. Default [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Persisted snapshots
// are loaded synchronously.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Inference == nil {
		return nil, errors.New("app: inference provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Snapshot store ───────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Text completion with fallbacks ───────────────────────────────
	a.initText()

	// ── 3. Synthesis controllers ────────────────────────────────────────
	if err := a.initSynth(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init synthesis: %w", err)
	}

	// ── 4. Feature services ─────────────────────────────────────────────
	svc := providers.Inference
	a.gloss = gloss.New(svc, gloss.WithMetrics(a.metrics))
	a.translator = translate.New(svc,
		translate.WithDefaultTarget(cfg.Translation.DefaultTarget),
		translate.WithMetrics(a.metrics),
	)
	a.community = community.New(a.text, svc, community.WithMetrics(a.metrics))

	a.render = render.New(render.Config{
		Service:       svc,
		PollInterval:  cfg.Video.PollInterval,
		MaxWait:       cfg.Video.MaxWait,
		MaxPollErrors: cfg.Video.MaxPollErrors,
		AspectRatio:   cfg.Video.AspectRatio,
		Resolution:    cfg.Video.Resolution,
		Metrics:       a.metrics,
	})

	// ── 5. Sync scheduler ───────────────────────────────────────────────
	a.scheduler = NewScheduler(a.alphabet, synth.AlphabetKeys())
	if err := a.scheduler.Reschedule(cfg.Synthesis.SyncSchedule); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init scheduler: %w", err)
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := cache.Open(ctx, cache.Options{
		Backend:     string(a.cfg.Cache.Backend),
		Path:        a.cfg.Cache.Path,
		PostgresDSN: a.cfg.Cache.PostgresDSN,
	})
	if err != nil {
		return err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)
	slog.Info("snapshot store opened", "backend", a.cfg.Cache.Backend)
	return nil
}

func (a *App) initText() {
	a.text = resilience.NewTextFallback(a.providers.Inference, primaryName, resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("text provider circuit changed", "provider", name, "from", from, "to", to)
			},
		},
	}, a.metrics)
	for _, fb := range a.providers.TextFallbacks {
		a.text.AddProvider(fb.Name, fb.Provider)
	}
	if len(a.providers.TextFallbacks) > 0 {
		slog.Info("text fallback chain", "order", a.text.Names())
	}
}

// alphabetService routes descriptions through the fallback chain and images
// to the inference service.
type alphabetService struct {
	inference.TextCompleter
	inference.ImageGenerator
}

func (a *App) initSynth(ctx context.Context) error {
	var err error
	a.alphabet, err = synth.New(ctx, synth.Config{
		Slot:              a.cfg.Cache.AlphabetSlot,
		Store:             a.store,
		Generator:         &synth.AlphabetGenerator{Service: alphabetService{a.text, a.providers.Inference}},
		Validate:          synth.ValidateLetter,
		GenerationTimeout: a.cfg.Synthesis.GenerationTimeout,
		Metrics:           a.metrics,
	})
	if err != nil {
		return fmt.Errorf("alphabet: %w", err)
	}
	a.words, err = synth.New(ctx, synth.Config{
		Slot:              a.cfg.Cache.WordsSlot,
		Store:             a.store,
		Generator:         &synth.WordGenerator{Images: a.providers.Inference},
		Validate:          synth.ValidateTerm,
		GenerationTimeout: a.cfg.Synthesis.GenerationTimeout,
		Metrics:           a.metrics,
	})
	if err != nil {
		return fmt.Errorf("words: %w", err)
	}
	return nil
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Alphabet returns the letter synthesis controller.
func (a *App) Alphabet() *synth.Controller { return a.alphabet }

// Words returns the word-sign synthesis controller.
func (a *App) Words() *synth.Controller { return a.words }

// Gloss returns the gloss translator.
func (a *App) Gloss() *gloss.Translator { return a.gloss }

// Translator returns the language translator.
func (a *App) Translator() *translate.Translator { return a.translator }

// Render returns the video job poller.
func (a *App) Render() *render.Poller { return a.render }

// Community returns the community hub.
func (a *App) Community() *community.Hub { return a.community }

// Text returns the text completer with failover.
func (a *App) Text() inference.TextCompleter { return a.text }

// Speech returns the speech synthesizer.
func (a *App) Speech() inference.SpeechSynthesizer { return a.providers.Inference }

// Scheduler returns the background sync scheduler.
func (a *App) Scheduler() *Scheduler { return a.scheduler }

// Store returns the snapshot store.
func (a *App) Store() cache.Store { return a.store }

// NewTranscriber returns an Idle transcription session capturing through
// acquire. Each call creates an independent session.
func (a *App) NewTranscriber(acquire audio.Acquirer) *transcribe.Session {
	tc := a.cfg.Transcription
	return transcribe.New(transcribe.Config{
		Transcriber:       a.providers.Inference,
		Acquire:           acquire,
		SampleRate:        tc.SampleRate,
		FrameSize:         tc.FrameSize,
		Channels:          tc.Channels,
		MicrophoneTimeout: tc.MicrophoneTimeout,
		EOFGrace:          tc.EOFGrace,
		Instructions:      tc.Instructions,
		Metrics:           a.metrics,
	})
}

// NewRecognizer returns a sign recognizer. Frames go through the fallback
// chain; new words are spoken when recognition.speak is set.
func (a *App) NewRecognizer(onAnnounce func(recognize.Announcement)) (*recognize.Recognizer, error) {
	cfg := recognize.Config{
		Completer:  a.text,
		Hold:       a.cfg.Recognition.Hold,
		Voice:      a.cfg.Providers.Gemini.Voice,
		OnAnnounce: onAnnounce,
		Metrics:    a.metrics,
	}
	if a.cfg.Recognition.Speak {
		cfg.Speech = a.providers.Inference
	}
	return recognize.New(cfg)
}

// ApplyConfig applies the reloadable parts of a config change.
func (a *App) ApplyConfig(d config.ConfigDiff) error {
	if d.SyncScheduleChanged {
		if err := a.scheduler.Reschedule(d.NewSyncSchedule); err != nil {
			return fmt.Errorf("app: apply sync schedule: %w", err)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
	return nil
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the sync scheduler and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.scheduler.Start()
	<-ctx.Done()
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the scheduler, waits for a running sync to return, and
// closes owned resources. It respects the context deadline: if ctx expires
// first, remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if err := a.scheduler.Stop(ctx); err != nil {
			slog.Warn("scheduler stop", "err", err)
			shutdownErr = err
			return
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases resources acquired by a failed New.
func (a *App) close() {
	for _, c := range a.closers {
		_ = c()
	}
}
