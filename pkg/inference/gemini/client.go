// Package gemini implements the inference.Service contract against Google's
// Gemini API.
//
// Content, image, speech, video and grounding requests go through the
// google.golang.org/genai SDK. The live transcription session speaks the
// BidiGenerateContent WebSocket protocol directly. The API key is read from a
// [KeySource] on every call, so a credential reselection takes effect on the
// next request without rebuilding the provider.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"google.golang.org/genai"

	"github.com/lionelramela/deafcare/pkg/inference"
)

// Compile-time assertion that Provider satisfies the full collaborator.
var _ inference.Service = (*Provider)(nil)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com/"
	defaultLiveBaseURL = "wss://generativelanguage.googleapis.com/ws"
	defaultVoice       = "Kore"
)

// Models names the model used for each kind of request.
type Models struct {
	Text      string
	Image     string
	Speech    string
	Live      string
	Video     string
	Grounding string
}

// DefaultModels returns the model set DeafCare was tuned against.
func DefaultModels() Models {
	return Models{
		Text:      "gemini-3-flash-preview",
		Image:     "gemini-2.5-flash-image",
		Speech:    "gemini-2.5-flash-preview-tts",
		Live:      "gemini-2.5-flash-native-audio-preview-12-2025",
		Video:     "veo-3.1-fast-generate-preview",
		Grounding: "gemini-2.5-flash",
	}
}

// withDefaults fills empty fields from [DefaultModels].
func (m Models) withDefaults() Models {
	d := DefaultModels()
	if m.Text == "" {
		m.Text = d.Text
	}
	if m.Image == "" {
		m.Image = d.Image
	}
	if m.Speech == "" {
		m.Speech = d.Speech
	}
	if m.Live == "" {
		m.Live = d.Live
	}
	if m.Video == "" {
		m.Video = d.Video
	}
	if m.Grounding == "" {
		m.Grounding = d.Grounding
	}
	return m
}

// KeySource supplies the active API key and rotates it on demand.
// [github.com/lionelramela/deafcare/internal/credentials.KeyRing] implements it.
type KeySource interface {
	Active() (string, error)
	ResolveCredential(ctx context.Context) error
}

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the REST endpoint. Primarily used in tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithLiveBaseURL overrides the WebSocket endpoint. Primarily used in tests.
func WithLiveBaseURL(u string) Option {
	return func(p *Provider) { p.liveBaseURL = u }
}

// WithModels overrides the model set. Empty fields keep their defaults.
func WithModels(m Models) Option {
	return func(p *Provider) { p.models = m.withDefaults() }
}

// WithHTTPClient sets the HTTP client used for REST calls, artifact downloads
// and the WebSocket handshake.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithVoice sets the prebuilt voice used when SynthesizeSpeech gets none.
func WithVoice(v string) Option {
	return func(p *Provider) { p.voice = v }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements inference.Service for the Gemini API.
type Provider struct {
	keys        KeySource
	baseURL     string
	liveBaseURL string
	models      Models
	voice       string
	httpClient  *http.Client

	mu      sync.Mutex
	clients map[string]*genai.Client
}

// New creates a Provider that authenticates with keys.
func New(keys KeySource, opts ...Option) *Provider {
	p := &Provider{
		keys:        keys,
		baseURL:     defaultBaseURL,
		liveBaseURL: defaultLiveBaseURL,
		models:      DefaultModels(),
		voice:       defaultVoice,
		httpClient:  http.DefaultClient,
		clients:     make(map[string]*genai.Client),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) activeKey() (string, error) {
	key, err := p.keys.Active()
	if err != nil {
		return "", fmt.Errorf("gemini: %w: %w", inference.ErrNoCredential, err)
	}
	return key, nil
}

// client returns the SDK client for the active key, creating it on first use.
func (p *Provider) client(ctx context.Context) (*genai.Client, error) {
	key, err := p.activeKey()
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.baseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	p.clients[key] = c
	return c, nil
}

// ResolveCredential delegates to the key source.
func (p *Provider) ResolveCredential(ctx context.Context) error {
	if err := p.keys.ResolveCredential(ctx); err != nil {
		return fmt.Errorf("gemini: resolve credential: %w", err)
	}
	return nil
}

// ── Text ───────────────────────────────────────────────────────────────────────

// CompleteText returns the trimmed text of the first candidate.
func (p *Provider) CompleteText(ctx context.Context, req inference.TextRequest) (string, error) {
	resp, err := p.generate(ctx, p.models.Text, req, nil)
	if err != nil {
		return "", fmt.Errorf("gemini: complete text: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// CompleteStructured requests application/json output constrained by schema.
func (p *Provider) CompleteStructured(ctx context.Context, req inference.TextRequest, schema *inference.Schema) (json.RawMessage, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   toSchema(schema),
	}
	resp, err := p.generate(ctx, p.models.Text, req, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: complete structured: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		text = "{}"
	}
	return json.RawMessage(text), nil
}

// generate sends req merged into cfg (which may be nil).
func (p *Provider) generate(ctx context.Context, model string, req inference.TextRequest, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	c, err := p.client(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = &genai.GenerateContentConfig{}
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	return c.Models.GenerateContent(ctx, model, buildContents(req), cfg)
}

func buildContents(req inference.TextRequest) []*genai.Content {
	if len(req.Attachments) == 0 {
		return genai.Text(req.Prompt)
	}
	parts := make([]*genai.Part, 0, len(req.Attachments)+1)
	for _, a := range req.Attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func toSchema(s *inference.Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:             genai.Type(strings.ToUpper(string(s.Type))),
		Description:      s.Description,
		Required:         s.Required,
		PropertyOrdering: s.Ordering,
		Items:            toSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toSchema(prop)
		}
	}
	return out
}

// ── Image & speech ─────────────────────────────────────────────────────────────

// CompleteImage returns the first inline image part of the response.
func (p *Provider) CompleteImage(ctx context.Context, prompt, aspectRatio string) (inference.Blob, error) {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if aspectRatio != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: aspectRatio}
	}
	resp, err := p.generate(ctx, p.models.Image, inference.TextRequest{Prompt: prompt}, cfg)
	if err != nil {
		return inference.Blob{}, fmt.Errorf("gemini: complete image: %w", err)
	}
	blob, ok := firstInline(resp, "image/")
	if !ok {
		return inference.Blob{}, inference.ErrNoImage
	}
	return blob, nil
}

// SynthesizeSpeech returns raw PCM16 mono audio at inference.SpeechSampleRate.
func (p *Provider) SynthesizeSpeech(ctx context.Context, text, voice string) (inference.Blob, error) {
	if voice == "" {
		voice = p.voice
	}
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"AUDIO"},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
	}
	resp, err := p.generate(ctx, p.models.Speech, inference.TextRequest{Prompt: text}, cfg)
	if err != nil {
		return inference.Blob{}, fmt.Errorf("gemini: synthesize speech: %w", err)
	}
	blob, ok := firstInline(resp, "")
	if !ok {
		return inference.Blob{}, inference.ErrNoAudio
	}
	return blob, nil
}

// firstInline returns the first inline data part whose MIME type has prefix.
func firstInline(resp *genai.GenerateContentResponse, prefix string) (inference.Blob, bool) {
	if resp == nil {
		return inference.Blob{}, false
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			if !strings.HasPrefix(part.InlineData.MIMEType, prefix) {
				continue
			}
			return inference.Blob{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data}, true
		}
	}
	return inference.Blob{}, false
}

// ── Grounding ──────────────────────────────────────────────────────────────────

// Ground answers req using Google Search or Google Maps grounding and returns
// the cited sources.
func (p *Provider) Ground(ctx context.Context, req inference.GroundingRequest) (inference.GroundedAnswer, error) {
	cfg := &genai.GenerateContentConfig{}
	switch req.Source {
	case inference.GroundMaps:
		cfg.Tools = []*genai.Tool{{GoogleMaps: &genai.GoogleMaps{}}}
		cfg.ToolConfig = &genai.ToolConfig{
			RetrievalConfig: &genai.RetrievalConfig{
				LatLng: &genai.LatLng{
					Latitude:  genai.Ptr(req.Latitude),
					Longitude: genai.Ptr(req.Longitude),
				},
			},
		}
	default:
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	resp, err := p.generate(ctx, p.models.Grounding, inference.TextRequest{Prompt: req.Prompt}, cfg)
	if err != nil {
		return inference.GroundedAnswer{}, fmt.Errorf("gemini: ground: %w", err)
	}

	answer := inference.GroundedAnswer{Text: strings.TrimSpace(resp.Text())}
	if len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return answer, nil
	}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		switch {
		case chunk == nil:
		case chunk.Web != nil && chunk.Web.URI != "":
			answer.Links = append(answer.Links, inference.GroundingLink{Title: chunk.Web.Title, URI: chunk.Web.URI})
		case chunk.Maps != nil && chunk.Maps.URI != "":
			answer.Links = append(answer.Links, inference.GroundingLink{Title: chunk.Maps.Title, URI: chunk.Maps.URI})
		}
	}
	return answer, nil
}

// ── Video ──────────────────────────────────────────────────────────────────────

// SubmitVideoJob starts a video generation operation.
func (p *Provider) SubmitVideoJob(ctx context.Context, prompt string, cfg inference.VideoConfig) (inference.VideoJob, error) {
	c, err := p.client(ctx)
	if err != nil {
		return inference.VideoJob{}, err
	}
	op, err := c.Models.GenerateVideos(ctx, p.models.Video, prompt, nil, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    cfg.AspectRatio,
		Resolution:     cfg.Resolution,
	})
	if err != nil {
		return inference.VideoJob{}, fmt.Errorf("gemini: submit video: %w", err)
	}
	return videoJob(op), nil
}

// GetVideoJobStatus refreshes job by operation name.
func (p *Provider) GetVideoJobStatus(ctx context.Context, job inference.VideoJob) (inference.VideoJob, error) {
	if job.Handle == "" {
		return job, errors.New("gemini: video status: empty job handle")
	}
	c, err := p.client(ctx)
	if err != nil {
		return job, err
	}
	op, err := c.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: job.Handle}, nil)
	if err != nil {
		return job, fmt.Errorf("gemini: video status: %w", err)
	}
	return videoJob(op), nil
}

func videoJob(op *genai.GenerateVideosOperation) inference.VideoJob {
	if op == nil {
		return inference.VideoJob{}
	}
	job := inference.VideoJob{Handle: op.Name, Done: op.Done}
	if len(op.Error) > 0 {
		if msg, ok := op.Error["message"].(string); ok && msg != "" {
			job.Err = msg
		} else {
			job.Err = fmt.Sprint(op.Error)
		}
	}
	if op.Response != nil {
		for _, v := range op.Response.GeneratedVideos {
			if v != nil && v.Video != nil && v.Video.URI != "" {
				job.ResultURI = v.Video.URI
				break
			}
		}
	}
	return job
}
