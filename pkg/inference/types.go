package inference

import (
	"encoding/base64"
	"fmt"
)

// SpeechSampleRate is the sample rate of audio returned by
// [SpeechSynthesizer.SynthesizeSpeech].
const SpeechSampleRate = 24000

// Blob is an inline binary payload with its MIME type.
type Blob struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// DataURI renders b as a data URI, the form in which artifacts are handed to
// views. An empty blob renders as "".
func (b Blob) DataURI() string {
	if len(b.Data) == 0 {
		return ""
	}
	mime := b.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(b.Data))
}

// TextRequest is the input to text and structured completions.
type TextRequest struct {
	// Prompt is the user content.
	Prompt string

	// SystemInstruction is an optional high-priority instruction.
	SystemInstruction string

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// Attachments are inline media parts sent before Prompt (e.g. a camera
	// frame for sign recognition).
	Attachments []Blob
}

// SchemaType names a JSON schema type.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeBoolean SchemaType = "boolean"
)

// Schema is the subset of OpenAPI schema used to constrain structured
// completions.
type Schema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*Schema
	Items       *Schema
	Required    []string
	// Ordering lists property names in the order the model should emit them.
	Ordering []string
}

// LiveConfig configures a live audio session.
type LiveConfig struct {
	// Instructions is the system instruction for the session.
	Instructions string

	// SampleRate of the PCM frames that will be sent. Default 16000.
	SampleRate int
}

// EventKind discriminates [LiveEvent] values.
type EventKind int

const (
	// EventPartial carries a transcript update that supersedes the previous
	// uncommitted one.
	EventPartial EventKind = iota

	// EventTurnComplete signals that the current utterance has ended.
	EventTurnComplete

	// EventClosed is the last event of a session. Err is non-nil when the
	// session ended because of a transport or protocol failure.
	EventClosed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventTurnComplete:
		return "turn_complete"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// LiveEvent is one event streamed from a [LiveSession].
type LiveEvent struct {
	Kind EventKind
	Text string
	Err  error
}

// VideoConfig tunes a video generation job.
type VideoConfig struct {
	AspectRatio string
	Resolution  string
}

// VideoJob is the handle and status of a long-running video job.
type VideoJob struct {
	// Handle is the provider operation name.
	Handle string

	// Done reports whether the job reached a terminal state.
	Done bool

	// ResultURI is the downloadable artifact location once Done.
	ResultURI string

	// Err describes a failed terminal state.
	Err string
}

// GroundingSource selects the grounding tool.
type GroundingSource int

const (
	GroundWebSearch GroundingSource = iota
	GroundMaps
)

// GroundingRequest is a prompt answered with grounding.
type GroundingRequest struct {
	Prompt string
	Source GroundingSource

	// Latitude and Longitude bias map grounding. Ignored for web search.
	Latitude  float64
	Longitude float64
}

// GroundingLink is one source cited by a grounded answer.
type GroundingLink struct {
	Title string
	URI   string
}

// GroundedAnswer is the model text plus the sources it cited.
type GroundedAnswer struct {
	Text  string
	Links []GroundingLink
}

// SayClearly wraps text in the delivery instruction used for spoken
// announcements.
func SayClearly(text string) string {
	return "Say clearly: " + text
}
