package mock

import (
	"errors"
	"sync"

	"github.com/lionelramela/deafcare/pkg/inference"
)

var _ inference.LiveSession = (*Session)(nil)

// ErrSessionClosed is returned by Session.SendAudioFrame after the session
// ended.
var ErrSessionClosed = errors.New("mock: session closed")

// Session is a scriptable inference.LiveSession. Tests push server events
// with Emit and end the session remotely with End.
type Session struct {
	mu         sync.Mutex
	events     chan inference.LiveEvent
	frames     [][]byte
	ended      bool
	closeCount int

	// SendErr, if non-nil, is returned by SendAudioFrame.
	SendErr error

	// OnFrame, if set, is called after each accepted frame.
	OnFrame func(frame []byte)
}

// NewSession returns an open Session.
func NewSession() *Session {
	return &Session{events: make(chan inference.LiveEvent, 256)}
}

// Emit delivers ev to the consumer. It is a no-op once the session ended.
func (s *Session) Emit(ev inference.LiveEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// End simulates a remote close carrying err (nil for an orderly close).
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(err)
}

func (s *Session) endLocked(err error) {
	if s.ended {
		return
	}
	s.ended = true
	s.events <- inference.LiveEvent{Kind: inference.EventClosed, Err: err}
	close(s.events)
}

// SendAudioFrame records a copy of frame.
func (s *Session) SendAudioFrame(frame []byte) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.SendErr != nil {
		err := s.SendErr
		s.mu.Unlock()
		return err
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	onFrame := s.OnFrame
	s.mu.Unlock()

	if onFrame != nil {
		onFrame(cp)
	}
	return nil
}

// Events returns the event stream.
func (s *Session) Events() <-chan inference.LiveEvent { return s.events }

// Close ends the session locally. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.endLocked(nil)
	return nil
}

// Frames returns a copy of every frame sent so far, in send order.
func (s *Session) Frames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// CloseCount returns how many times Close was called.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Ended reports whether the session has ended, locally or remotely.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
