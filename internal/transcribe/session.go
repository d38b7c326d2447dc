// Package transcribe implements the streaming transcription session.
//
// A [Session] acquires a microphone, opens one live audio session with the
// inference service and pumps fixed-size PCM16 frames into it as they are
// captured. Events coming back are reconciled into a [Transcript]: partial
// results replace the live preview, a turn-complete event commits the preview
// as a new message, and a remote close returns the session to Idle.
//
//	Idle ──Start──▶ RequestingMicrophone ──▶ Streaming ──Stop/close/EOF──▶ Idle
//	                        │
//	                        └──denied/timeout/open failure──▶ Idle
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/audio"
	"github.com/lionelramela/deafcare/pkg/inference"
)

// Defaults applied by [New].
const (
	DefaultSampleRate        = 16000
	DefaultFrameSize         = 4096
	DefaultChannels          = 1
	DefaultMicrophoneTimeout = 10 * time.Second
	DefaultInstructions      = "You are a live transcription assistant. Listen to the user's speech and transcribe it accurately and immediately."
)

var (
	// ErrAlreadyActive is returned by Start when the session is not Idle.
	ErrAlreadyActive = errors.New("transcribe: session already active")

	// ErrMicrophoneTimeout is returned when acquisition exceeds the
	// configured timeout.
	ErrMicrophoneTimeout = errors.New("transcribe: microphone acquisition timed out")

	// ErrStopped is returned by Start when Stop was called before the
	// session began streaming.
	ErrStopped = errors.New("transcribe: stopped before streaming")
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateRequestingMicrophone
	StateStreaming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequestingMicrophone:
		return "requesting_microphone"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Config configures a [Session].
type Config struct {
	// Transcriber opens live sessions. Required.
	Transcriber inference.LiveTranscriber

	// Acquire opens the microphone. Required.
	Acquire audio.Acquirer

	// SampleRate of frames sent to the live session. Default 16000.
	SampleRate int

	// FrameSize is the number of samples per frame. Default 4096.
	FrameSize int

	// Channels requested from the microphone. Default 1.
	Channels int

	// MicrophoneTimeout bounds acquisition. Default 10s.
	MicrophoneTimeout time.Duration

	// Instructions is the live session's system instruction. Default
	// [DefaultInstructions].
	Instructions string

	// EOFGrace keeps the live session open after the microphone is
	// exhausted so trailing results can arrive. Zero closes immediately.
	EOFGrace time.Duration

	// Transcript receives reconciled events. A new one is created if nil.
	Transcript *Transcript

	// Metrics receives instrument updates. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is a restartable streaming transcription session. All methods are
// safe for concurrent use.
type Session struct {
	cfg        Config
	transcript *Transcript
	metrics    *observe.Metrics

	mu         sync.Mutex
	state      State
	act        *activation
	acqCancel  context.CancelFunc
	stopReq    bool
	lastErr    error
	idleDoneCh chan struct{}
}

// activation is one Start..Idle cycle.
type activation struct {
	mic    audio.Microphone
	live   inference.LiveSession
	cancel context.CancelFunc
	ending atomic.Bool
	done   chan struct{}
}

// New returns an Idle session. Missing numeric settings take their defaults.
func New(cfg Config) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}
	if cfg.MicrophoneTimeout <= 0 {
		cfg.MicrophoneTimeout = DefaultMicrophoneTimeout
	}
	if cfg.Instructions == "" {
		cfg.Instructions = DefaultInstructions
	}
	t := cfg.Transcript
	if t == nil {
		t = NewTranscript()
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	idle := make(chan struct{})
	close(idle)
	return &Session{cfg: cfg, transcript: t, metrics: m, idleDoneCh: idle}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns the session's transcript. It survives restarts.
func (s *Session) Transcript() *Transcript { return s.transcript }

// Done returns a channel closed when the current activation ends. When the
// session is Idle the returned channel is already closed.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.act == nil {
		return s.idleDoneCh
	}
	return s.act.done
}

// Err returns the error that ended the last activation, or nil for an
// orderly end.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start acquires the microphone, opens the live session and begins
// streaming. It returns once frames are flowing. Cancelling ctx later ends
// the activation as if Stop were called.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.state = StateRequestingMicrophone
	s.stopReq = false
	s.lastErr = nil
	acqCtx, acqCancel := context.WithTimeout(ctx, s.cfg.MicrophoneTimeout)
	s.acqCancel = acqCancel
	s.mu.Unlock()

	log := observe.Logger(ctx)

	mic, err := s.cfg.Acquire(acqCtx, audio.Format{SampleRate: s.cfg.SampleRate, Channels: s.cfg.Channels})
	timedOut := errors.Is(acqCtx.Err(), context.DeadlineExceeded)
	acqCancel()
	if err != nil {
		s.toIdle()
		if timedOut && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrMicrophoneTimeout, err)
		}
		log.Warn("transcribe: microphone unavailable", "err", err)
		return fmt.Errorf("transcribe: acquire microphone: %w", err)
	}

	framer, err := audio.NewFramer(mic, s.cfg.SampleRate, s.cfg.FrameSize)
	if err != nil {
		_ = mic.Close()
		s.toIdle()
		return fmt.Errorf("transcribe: %w", err)
	}

	live, err := s.cfg.Transcriber.OpenLiveAudioSession(ctx, inference.LiveConfig{
		Instructions: s.cfg.Instructions,
		SampleRate:   s.cfg.SampleRate,
	})
	if err != nil {
		_ = mic.Close()
		s.toIdle()
		return fmt.Errorf("transcribe: open live session: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	act := &activation{mic: mic, live: live, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.stopReq {
		s.mu.Unlock()
		cancel()
		_ = live.Close()
		_ = mic.Close()
		audio.Drain(live.Events())
		s.toIdle()
		return ErrStopped
	}
	s.state = StateStreaming
	s.act = act
	s.acqCancel = nil
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(ctx, 1)
	log.Info("transcribe: streaming", "sample_rate", s.cfg.SampleRate, "frame_size", s.cfg.FrameSize,
		"source_rate", mic.Format().SampleRate, "source_channels", mic.Format().Channels)

	go s.receive(act)
	go s.pump(runCtx, act, framer)
	return nil
}

// Stop ends the current activation: it closes the live session and
// releases the microphone. Stopping an Idle session is a no-op. Stop during
// microphone acquisition aborts it. Idempotent.
func (s *Session) Stop() error {
	s.mu.Lock()
	switch s.state {
	case StateRequestingMicrophone:
		s.stopReq = true
		if s.acqCancel != nil {
			s.acqCancel()
		}
		s.mu.Unlock()
		return nil
	case StateStreaming:
		act := s.act
		s.mu.Unlock()
		s.finish(act, nil)
		<-act.done
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
}

func (s *Session) toIdle() {
	s.mu.Lock()
	s.state = StateIdle
	s.acqCancel = nil
	s.mu.Unlock()
}

// finish tears an activation down once. Later calls return immediately.
func (s *Session) finish(act *activation, err error) {
	if !act.ending.CompareAndSwap(false, true) {
		return
	}
	act.cancel()
	_ = act.live.Close()
	_ = act.mic.Close()

	s.mu.Lock()
	if s.act == act {
		s.act = nil
		s.state = StateIdle
	}
	s.lastErr = err
	s.mu.Unlock()

	s.metrics.ActiveSessions.Add(context.Background(), -1)
	if err != nil {
		slog.Warn("transcribe: session ended with error", "err", err)
	} else {
		slog.Info("transcribe: session ended")
	}
	close(act.done)
}

// pump reads frames from the microphone and forwards each one immediately.
func (s *Session) pump(ctx context.Context, act *activation, framer *audio.Framer) {
	for {
		frame, err := framer.Next(ctx)
		switch {
		case errors.Is(err, io.EOF):
			_ = act.mic.Close()
			s.afterEOF(ctx, act)
			return
		case err != nil:
			if ctx.Err() != nil || act.ending.Load() {
				s.finish(act, nil)
			} else {
				s.finish(act, fmt.Errorf("transcribe: capture: %w", err))
			}
			return
		}
		if ctx.Err() != nil {
			s.finish(act, nil)
			return
		}
		if err := act.live.SendAudioFrame(frame.Data); err != nil {
			if act.ending.Load() {
				return
			}
			s.finish(act, fmt.Errorf("transcribe: send frame: %w", err))
			return
		}
		s.metrics.FramesSent.Add(ctx, 1)
	}
}

// afterEOF waits out the grace period before ending the activation.
func (s *Session) afterEOF(ctx context.Context, act *activation) {
	slog.Debug("transcribe: microphone exhausted", "grace", s.cfg.EOFGrace)
	if s.cfg.EOFGrace > 0 {
		timer := time.NewTimer(s.cfg.EOFGrace)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-act.done:
		case <-ctx.Done():
		}
	}
	s.finish(act, nil)
}

// receive reconciles live events into the transcript. It drains the events
// channel until the session closes it.
func (s *Session) receive(act *activation) {
	for ev := range act.live.Events() {
		switch ev.Kind {
		case inference.EventPartial:
			s.transcript.SetPreview(ev.Text)
		case inference.EventTurnComplete:
			if _, ok := s.transcript.Commit(); ok {
				s.metrics.TranscriptMessages.Add(context.Background(), 1)
			}
		case inference.EventClosed:
			s.finish(act, ev.Err)
		}
	}
	s.finish(act, nil)
}
