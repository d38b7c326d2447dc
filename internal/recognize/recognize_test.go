package recognize

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
	"github.com/lionelramela/deafcare/pkg/inference/mock"
)

var frame = []byte{0xff, 0xd8, 0xff, 0xe0}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRecognizer(t *testing.T, cfg Config) (*Recognizer, *fakeClock) {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	cfg.Metrics = m
	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r, clock
}

func TestProcessFrame_Request(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{TextResult: "Hello"}
	r, _ := newRecognizer(t, Config{Completer: svc})

	word, announced, err := r.ProcessFrame(context.Background(), frame)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if word != "Hello" || !announced {
		t.Errorf("got (%q, %v), want (Hello, true)", word, announced)
	}

	req := svc.TextCalls[0]
	if req.Prompt != Prompt {
		t.Errorf("prompt = %q", req.Prompt)
	}
	if req.Temperature == nil || *req.Temperature != 0.1 {
		t.Errorf("temperature = %v", req.Temperature)
	}
	if len(req.Attachments) != 1 || req.Attachments[0].MIMEType != "image/jpeg" {
		t.Errorf("attachments = %+v", req.Attachments)
	}
}

func TestProcessFrame_NoSign(t *testing.T) {
	t.Parallel()

	for _, answer := range []string{"None", " none. ", ""} {
		r, _ := newRecognizer(t, Config{Completer: &mock.Service{TextResult: answer}})
		word, announced, err := r.ProcessFrame(context.Background(), frame)
		if err != nil || word != "" || announced {
			t.Errorf("answer %q: got (%q, %v, %v)", answer, word, announced, err)
		}
		if r.Current() != "" {
			t.Errorf("answer %q: Current = %q", answer, r.Current())
		}
	}
}

func TestProcessFrame_RepeatNotAnnounced(t *testing.T) {
	t.Parallel()

	var announcements []Announcement
	r, clock := newRecognizer(t, Config{
		Completer:  &mock.Service{TextResult: "Thanks"},
		OnAnnounce: func(a Announcement) { announcements = append(announcements, a) },
	})
	ctx := context.Background()

	if _, announced, _ := r.ProcessFrame(ctx, frame); !announced {
		t.Fatal("first frame not announced")
	}
	clock.Advance(2 * time.Second)
	if _, announced, _ := r.ProcessFrame(ctx, frame); announced {
		t.Error("repeat within hold announced")
	}
	if len(announcements) != 1 {
		t.Errorf("announcements = %d, want 1", len(announcements))
	}
}

func TestCurrent_HoldExpires(t *testing.T) {
	t.Parallel()

	r, clock := newRecognizer(t, Config{Completer: &mock.Service{TextResult: "Help"}, Hold: 4 * time.Second})
	ctx := context.Background()

	if _, _, err := r.ProcessFrame(ctx, frame); err != nil {
		t.Fatal(err)
	}
	clock.Advance(4 * time.Second)
	if got := r.Current(); got != "Help" {
		t.Errorf("Current at hold boundary = %q, want Help", got)
	}
	clock.Advance(time.Millisecond)
	if got := r.Current(); got != "" {
		t.Errorf("Current after hold = %q, want empty", got)
	}

	// The same word is announced again once the hold expired.
	if _, announced, _ := r.ProcessFrame(ctx, frame); !announced {
		t.Error("word not re-announced after expiry")
	}
}

func TestProcessFrame_DropsConcurrentFrames(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	svc := &mock.Service{
		TextFunc: func(context.Context, inference.TextRequest) (string, error) {
			close(started)
			<-release
			return "Yes", nil
		},
	}
	r, _ := newRecognizer(t, Config{Completer: svc})

	done := make(chan error, 1)
	go func() {
		_, _, err := r.ProcessFrame(context.Background(), frame)
		done <- err
	}()
	<-started

	if _, _, err := r.ProcessFrame(context.Background(), frame); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent frame err = %v, want ErrBusy", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if n := svc.TextCallCount(); n != 1 {
		t.Errorf("requests = %d, want 1", n)
	}

	// Accepting frames again after the first completes.
	if _, _, err := r.ProcessFrame(context.Background(), frame); errors.Is(err, ErrBusy) {
		t.Error("frame rejected after recognition finished")
	}
}

func TestProcessFrame_Speech(t *testing.T) {
	t.Parallel()

	pcm := inference.Blob{MIMEType: "audio/pcm", Data: []byte{1, 0, 2, 0}}
	svc := &mock.Service{TextResult: "Water", SpeechResult: pcm}
	var got Announcement
	r, _ := newRecognizer(t, Config{
		Completer:  svc,
		Speech:     svc,
		Voice:      "Puck",
		OnAnnounce: func(a Announcement) { got = a },
	})

	if _, _, err := r.ProcessFrame(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	if got.Speech == nil || len(got.Speech.Data) != 4 {
		t.Errorf("announcement speech = %+v", got.Speech)
	}
	if c := svc.SpeechCalls[0]; c.Text != "Say clearly: Water" || c.Voice != "Puck" {
		t.Errorf("speech call = %+v", c)
	}
}

func TestProcessFrame_SpeechFailureStillAnnounces(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{TextResult: "Water", SpeechErr: errors.New("quota")}
	var got *Announcement
	r, _ := newRecognizer(t, Config{
		Completer:  svc,
		Speech:     svc,
		OnAnnounce: func(a Announcement) { got = &a },
	})

	if _, _, err := r.ProcessFrame(context.Background(), frame); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Word != "Water" || got.Speech != nil {
		t.Errorf("announcement = %+v", got)
	}
}

func TestProcessFrame_ProviderError(t *testing.T) {
	t.Parallel()

	r, _ := newRecognizer(t, Config{Completer: &mock.Service{TextErr: errors.New("boom")}})
	if _, _, err := r.ProcessFrame(context.Background(), frame); err == nil {
		t.Fatal("expected error")
	}
	if _, _, err := r.ProcessFrame(context.Background(), nil); err == nil {
		t.Error("expected error for empty frame")
	}
}

func TestNew_RequiresCompleter(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}); err == nil {
		t.Error("expected error")
	}
}
