// Package mock provides a test double for the inference.Service interface.
//
// Every method records its call and returns the configured result. A non-nil
// *Func field takes precedence over the static result fields, which lets tests
// script behaviour per call (for example a status sequence for a video job).
// Configure fields before use; mutating them during a concurrent call is the
// caller's responsibility.
//
// Example:
//
//	svc := &mock.Service{
//	    ImageResult: inference.Blob{MIMEType: "image/png", Data: []byte{1}},
//	    TextResult:  "Make a fist.",
//	}
package mock

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/lionelramela/deafcare/pkg/inference"
)

var _ inference.Service = (*Service)(nil)

// ImageCall records a single invocation of CompleteImage.
type ImageCall struct {
	Prompt      string
	AspectRatio string
}

// StructuredCall records a single invocation of CompleteStructured.
type StructuredCall struct {
	Req    inference.TextRequest
	Schema *inference.Schema
}

// SpeechCall records a single invocation of SynthesizeSpeech.
type SpeechCall struct {
	Text  string
	Voice string
}

// SubmitCall records a single invocation of SubmitVideoJob.
type SubmitCall struct {
	Prompt string
	Config inference.VideoConfig
}

// Service is a mock implementation of inference.Service.
type Service struct {
	mu sync.Mutex

	// --- Configurable responses ---

	TextResult string
	TextErr    error
	TextFunc   func(ctx context.Context, req inference.TextRequest) (string, error)

	StructuredResult json.RawMessage
	StructuredErr    error
	StructuredFunc   func(ctx context.Context, req inference.TextRequest, schema *inference.Schema) (json.RawMessage, error)

	ImageResult inference.Blob
	ImageErr    error
	ImageFunc   func(ctx context.Context, prompt, aspectRatio string) (inference.Blob, error)

	SpeechResult inference.Blob
	SpeechErr    error
	SpeechFunc   func(ctx context.Context, text, voice string) (inference.Blob, error)

	// LiveSession is returned by OpenLiveAudioSession when LiveFunc is nil.
	LiveSession *Session
	LiveErr     error
	LiveFunc    func(ctx context.Context, cfg inference.LiveConfig) (inference.LiveSession, error)

	SubmitResult inference.VideoJob
	SubmitErr    error

	// StatusFunc receives the zero-based index of the status call.
	StatusFunc   func(ctx context.Context, job inference.VideoJob, call int) (inference.VideoJob, error)
	StatusResult inference.VideoJob
	StatusErr    error

	ArtifactResult []byte
	ArtifactErr    error
	ArtifactFunc   func(ctx context.Context, uri string) ([]byte, error)

	ResolveErr error

	GroundResult inference.GroundedAnswer
	GroundErr    error
	GroundFunc   func(ctx context.Context, req inference.GroundingRequest) (inference.GroundedAnswer, error)

	// --- Call records (read after test) ---

	TextCalls       []inference.TextRequest
	StructuredCalls []StructuredCall
	ImageCalls      []ImageCall
	SpeechCalls     []SpeechCall
	LiveCalls       []inference.LiveConfig
	SubmitCalls     []SubmitCall
	StatusCalls     []inference.VideoJob
	ArtifactCalls   []string
	ResolveCalls    int
	GroundCalls     []inference.GroundingRequest
}

// CompleteText records the call and returns TextResult, TextErr.
func (s *Service) CompleteText(ctx context.Context, req inference.TextRequest) (string, error) {
	s.mu.Lock()
	s.TextCalls = append(s.TextCalls, req)
	fn, res, err := s.TextFunc, s.TextResult, s.TextErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// CompleteStructured records the call and returns StructuredResult, StructuredErr.
func (s *Service) CompleteStructured(ctx context.Context, req inference.TextRequest, schema *inference.Schema) (json.RawMessage, error) {
	s.mu.Lock()
	s.StructuredCalls = append(s.StructuredCalls, StructuredCall{Req: req, Schema: schema})
	fn, res, err := s.StructuredFunc, s.StructuredResult, s.StructuredErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req, schema)
	}
	return res, err
}

// CompleteImage records the call and returns ImageResult, ImageErr.
func (s *Service) CompleteImage(ctx context.Context, prompt, aspectRatio string) (inference.Blob, error) {
	s.mu.Lock()
	s.ImageCalls = append(s.ImageCalls, ImageCall{Prompt: prompt, AspectRatio: aspectRatio})
	fn, res, err := s.ImageFunc, s.ImageResult, s.ImageErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, prompt, aspectRatio)
	}
	return res, err
}

// SynthesizeSpeech records the call and returns SpeechResult, SpeechErr.
func (s *Service) SynthesizeSpeech(ctx context.Context, text, voice string) (inference.Blob, error) {
	s.mu.Lock()
	s.SpeechCalls = append(s.SpeechCalls, SpeechCall{Text: text, Voice: voice})
	fn, res, err := s.SpeechFunc, s.SpeechResult, s.SpeechErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, text, voice)
	}
	return res, err
}

// OpenLiveAudioSession records the call and returns LiveSession, LiveErr.
func (s *Service) OpenLiveAudioSession(ctx context.Context, cfg inference.LiveConfig) (inference.LiveSession, error) {
	s.mu.Lock()
	s.LiveCalls = append(s.LiveCalls, cfg)
	fn, sess, err := s.LiveFunc, s.LiveSession, s.LiveErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, cfg)
	}
	if err != nil {
		return nil, err
	}
	if sess == nil {
		sess = NewSession()
	}
	return sess, nil
}

// SubmitVideoJob records the call and returns SubmitResult, SubmitErr.
func (s *Service) SubmitVideoJob(_ context.Context, prompt string, cfg inference.VideoConfig) (inference.VideoJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SubmitCalls = append(s.SubmitCalls, SubmitCall{Prompt: prompt, Config: cfg})
	return s.SubmitResult, s.SubmitErr
}

// GetVideoJobStatus records the call and returns StatusResult, StatusErr.
func (s *Service) GetVideoJobStatus(ctx context.Context, job inference.VideoJob) (inference.VideoJob, error) {
	s.mu.Lock()
	call := len(s.StatusCalls)
	s.StatusCalls = append(s.StatusCalls, job)
	fn, res, err := s.StatusFunc, s.StatusResult, s.StatusErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, job, call)
	}
	return res, err
}

// FetchArtifact records the call and returns ArtifactResult, ArtifactErr.
func (s *Service) FetchArtifact(ctx context.Context, uri string) ([]byte, error) {
	s.mu.Lock()
	s.ArtifactCalls = append(s.ArtifactCalls, uri)
	fn, res, err := s.ArtifactFunc, s.ArtifactResult, s.ArtifactErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, uri)
	}
	return res, err
}

// ResolveCredential records the call and returns ResolveErr.
func (s *Service) ResolveCredential(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResolveCalls++
	return s.ResolveErr
}

// Ground records the call and returns GroundResult, GroundErr.
func (s *Service) Ground(ctx context.Context, req inference.GroundingRequest) (inference.GroundedAnswer, error) {
	s.mu.Lock()
	s.GroundCalls = append(s.GroundCalls, req)
	fn, res, err := s.GroundFunc, s.GroundResult, s.GroundErr
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return res, err
}

// ── Thread-safe call counters ─────────────────────────────────────────────────

// TextCallCount returns len(TextCalls) under the lock.
func (s *Service) TextCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.TextCalls)
}

// ImageCallCount returns len(ImageCalls) under the lock.
func (s *Service) ImageCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ImageCalls)
}

// StatusCallCount returns len(StatusCalls) under the lock.
func (s *Service) StatusCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.StatusCalls)
}

// ArtifactCallCount returns len(ArtifactCalls) under the lock.
func (s *Service) ArtifactCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ArtifactCalls)
}

// ResolveCallCount returns ResolveCalls under the lock.
func (s *Service) ResolveCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ResolveCalls
}
