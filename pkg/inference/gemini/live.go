package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lionelramela/deafcare/pkg/inference"
)

var _ inference.LiveSession = (*liveSession)(nil)

const (
	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second

	defaultLiveSampleRate = 16000
	liveEventBuffer       = 32
)

// OpenLiveAudioSession dials the BidiGenerateContent endpoint with the active
// key and sends the setup message. Input audio transcription is always
// requested; the model's own audio output is discarded.
func (p *Provider) OpenLiveAudioSession(ctx context.Context, cfg inference.LiveConfig) (inference.LiveSession, error) {
	key, err := p.activeKey()
	if err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultLiveSampleRate
	}

	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.liveBaseURL, url.QueryEscape(key),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPClient: p.httpClient,
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: live dial: %w", err)
	}
	conn.SetReadLimit(1 << 22)

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &liveSession{
		conn:     conn,
		events:   make(chan inference.LiveEvent, liveEventBuffer),
		done:     make(chan struct{}),
		mimeType: fmt.Sprintf("audio/pcm;rate=%d", cfg.SampleRate),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := sess.sendSetup(p.models.Live, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: live setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                   string             `json:"model"`
	GenerationConfig        generationConfig   `json:"generationConfig"`
	SystemInstruction       *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription *struct{}          `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	Error         *liveError       `json:"error,omitempty"`
}

type liveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	TurnComplete       bool           `json:"turnComplete,omitempty"`
	InputTranscription *transcription `json:"inputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── liveSession ───────────────────────────────────────────────────────────────

type liveSession struct {
	conn     *websocket.Conn
	events   chan inference.LiveEvent
	mimeType string

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func (s *liveSession) sendSetup(model string, cfg inference.LiveConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
			InputAudioTranscription: &struct{}{},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []textPart{{Text: cfg.Instructions}},
		}
	}
	return s.writeJSON(msg)
}

func (s *liveSession) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads server messages and turns them into events. It owns the
// events channel and closes it after emitting the final EventClosed.
func (s *liveSession) receiveLoop() {
	var closeErr error
	defer func() {
		s.emitFinal(inference.LiveEvent{Kind: inference.EventClosed, Err: closeErr})
		s.closeOnce.Do(func() { close(s.events) })
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			// A close frame from the server is an orderly end of the session.
			if websocket.CloseStatus(err) == -1 {
				closeErr = fmt.Errorf("gemini: live read: %w", err)
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			slog.Warn("gemini live error message", "code", msg.Error.Code, "status", msg.Error.Status, "message", msg.Error.Message)
		}
		if sc := msg.ServerContent; sc != nil {
			if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
				if !s.emit(inference.LiveEvent{Kind: inference.EventPartial, Text: sc.InputTranscription.Text}) {
					return
				}
			}
			if sc.TurnComplete {
				if !s.emit(inference.LiveEvent{Kind: inference.EventTurnComplete}) {
					return
				}
			}
		}
	}
}

func (s *liveSession) emit(ev inference.LiveEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// emitFinal delivers the closing event. After a local Close it gives up
// rather than blocking on a consumer that has stopped draining.
func (s *liveSession) emitFinal(ev inference.LiveEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
		select {
		case s.events <- ev:
		default:
		}
	}
}

func (s *liveSession) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// ── LiveSession methods ───────────────────────────────────────────────────────

// errSessionClosed is returned by SendAudioFrame after Close.
var errSessionClosed = errors.New("gemini: live session closed")

// SendAudioFrame base64-encodes one PCM16 frame and sends it as a realtime
// input media chunk.
func (s *liveSession) SendAudioFrame(frame []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: s.mimeType, Data: base64.StdEncoding.EncodeToString(frame)},
			},
		},
	}
	if err := s.writeJSON(msg); err != nil {
		return fmt.Errorf("gemini: send audio: %w", err)
	}
	return nil
}

// Events returns the session's event stream.
func (s *liveSession) Events() <-chan inference.LiveEvent { return s.events }

// Close terminates the session. Idempotent.
func (s *liveSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	close(s.done)
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
