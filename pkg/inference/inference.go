// Package inference defines the contract between DeafCare and the hosted
// generative-AI service it drives.
//
// Every non-trivial computation (gloss generation, image and speech synthesis,
// live transcription, video generation, grounded search) is delegated to the
// model provider. The rest of the module talks to the provider exclusively
// through the narrow interfaces declared here so that controllers can be
// exercised against [github.com/lionelramela/deafcare/pkg/inference/mock] in
// tests and against the Gemini implementation in production.
//
// Implementations must be safe for concurrent use.
package inference

import (
	"context"
	"encoding/json"
)

// TextCompleter produces a free-form text completion.
type TextCompleter interface {
	// CompleteText sends req to the model and returns the trimmed response
	// text. An empty string with a nil error means the model answered with no
	// text; callers decide on a default.
	CompleteText(ctx context.Context, req TextRequest) (string, error)
}

// StructuredCompleter produces a completion constrained by a JSON schema.
type StructuredCompleter interface {
	// CompleteStructured returns the raw JSON document produced by the model.
	// The document is not guaranteed to satisfy schema; callers must decode it
	// into explicit result types and apply defaults on mismatch.
	CompleteStructured(ctx context.Context, req TextRequest, schema *Schema) (json.RawMessage, error)
}

// ImageGenerator synthesises a single image.
type ImageGenerator interface {
	// CompleteImage returns the first inline image produced for prompt.
	// aspectRatio uses the "W:H" notation (e.g. "1:1"); empty selects the
	// provider default. Returns [ErrNoImage] if the response carried no image.
	CompleteImage(ctx context.Context, prompt, aspectRatio string) (Blob, error)
}

// SpeechSynthesizer converts text to speech.
type SpeechSynthesizer interface {
	// SynthesizeSpeech returns raw 16-bit signed little-endian mono PCM at
	// [SpeechSampleRate] for text spoken with the named prebuilt voice.
	SynthesizeSpeech(ctx context.Context, text, voice string) (Blob, error)
}

// LiveTranscriber opens bidirectional audio sessions.
type LiveTranscriber interface {
	// OpenLiveAudioSession connects a new live session. The returned session
	// accepts audio immediately.
	OpenLiveAudioSession(ctx context.Context, cfg LiveConfig) (LiveSession, error)
}

// LiveSession is an open bidirectional audio session.
//
// Events are delivered on a pull-based channel that is closed after the
// final [EventClosed] event. Callers must drain Events until it is closed.
type LiveSession interface {
	// SendAudioFrame delivers one frame of 16-bit mono PCM. Frames are sent in
	// call order.
	SendAudioFrame(frame []byte) error

	// Events returns the channel of transcription events.
	Events() <-chan LiveEvent

	// Close terminates the session. Idempotent.
	Close() error
}

// VideoGenerator drives long-running video generation jobs.
type VideoGenerator interface {
	// SubmitVideoJob starts a job and returns its (usually unresolved) handle.
	SubmitVideoJob(ctx context.Context, prompt string, cfg VideoConfig) (VideoJob, error)

	// GetVideoJobStatus re-fetches the status of job.
	GetVideoJobStatus(ctx context.Context, job VideoJob) (VideoJob, error)

	// FetchArtifact downloads the binary behind uri using the active
	// credential. Returns an error wrapping [ErrArtifactAccess] when the
	// credential has lost access to the artifact.
	FetchArtifact(ctx context.Context, uri string) ([]byte, error)
}

// CredentialResolver triggers out-of-band credential reselection.
type CredentialResolver interface {
	// ResolveCredential selects a different credential for subsequent calls.
	ResolveCredential(ctx context.Context) error
}

// Grounder answers prompts grounded in web search or map data.
type Grounder interface {
	Ground(ctx context.Context, req GroundingRequest) (GroundedAnswer, error)
}

// Service is the full Inference Service collaborator.
type Service interface {
	TextCompleter
	StructuredCompleter
	ImageGenerator
	SpeechSynthesizer
	LiveTranscriber
	VideoGenerator
	CredentialResolver
	Grounder
}
