package render_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/internal/render"
	"github.com/lionelramela/deafcare/pkg/inference"
	"github.com/lionelramela/deafcare/pkg/inference/mock"
)

const handle = "models/veo/operations/abc"

func newPoller(t *testing.T, svc *mock.Service, cfg render.Config) *render.Poller {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	cfg.Service = svc
	cfg.Metrics = m
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return render.New(cfg)
}

// doneAfter reports the job pending for the first n polls.
func doneAfter(n int, uri string) func(context.Context, inference.VideoJob, int) (inference.VideoJob, error) {
	return func(_ context.Context, job inference.VideoJob, call int) (inference.VideoJob, error) {
		if call < n {
			return inference.VideoJob{Handle: job.Handle}, nil
		}
		return inference.VideoJob{Handle: job.Handle, Done: true, ResultURI: uri}, nil
	}
}

func TestRender_Success(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{
		SubmitResult:   inference.VideoJob{Handle: handle},
		StatusFunc:     doneAfter(2, "https://files/video.mp4"),
		ArtifactResult: []byte("mp4-bytes"),
	}
	p := newPoller(t, svc, render.Config{})

	res, err := p.Render(context.Background(), render.Request{Prompt: render.FullPhrasePrompt("HELLO YOU")})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.State != render.StateSucceeded || string(res.Video) != "mp4-bytes" || res.MIMEType != "video/mp4" {
		t.Errorf("result = %+v", res)
	}
	if n := svc.StatusCallCount(); n != 3 {
		t.Errorf("status polls = %d, want 3", n)
	}
	if svc.ArtifactCalls[0] != "https://files/video.mp4" {
		t.Errorf("fetched %q", svc.ArtifactCalls[0])
	}
	cfg := svc.SubmitCalls[0].Config
	if cfg.AspectRatio != render.DefaultAspectRatio || cfg.Resolution != render.DefaultResolution {
		t.Errorf("submit config = %+v, want defaults", cfg)
	}
	if _, ok := p.Active(); ok {
		t.Error("no render should be active after completion")
	}
}

func TestRender_RequestOverridesDefaults(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{
		SubmitResult:   inference.VideoJob{Handle: handle, Done: true, ResultURI: "u"},
		ArtifactResult: []byte("v"),
	}
	p := newPoller(t, svc, render.Config{AspectRatio: "1:1"})

	if _, err := p.Render(context.Background(), render.Request{Prompt: "p", Resolution: "1080p"}); err != nil {
		t.Fatalf("Render: %v", err)
	}
	cfg := svc.SubmitCalls[0].Config
	if cfg.AspectRatio != "1:1" || cfg.Resolution != "1080p" {
		t.Errorf("submit config = %+v", cfg)
	}
	if n := svc.StatusCallCount(); n != 0 {
		t.Errorf("status polls = %d, want 0 for a job done on submit", n)
	}
}

func TestRender_TerminalFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		final   inference.VideoJob
		wantErr error
	}{
		{
			name:    "job error",
			final:   inference.VideoJob{Handle: handle, Done: true, Err: "safety filter"},
			wantErr: render.ErrJobFailed,
		},
		{
			name:    "no artifact",
			final:   inference.VideoJob{Handle: handle, Done: true},
			wantErr: render.ErrNoArtifact,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := &mock.Service{
				SubmitResult: inference.VideoJob{Handle: handle},
				StatusResult: tt.final,
			}
			p := newPoller(t, svc, render.Config{})
			_, err := p.Render(context.Background(), render.Request{Prompt: "p"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if svc.ArtifactCallCount() != 0 {
				t.Error("artifact fetched for a failed job")
			}
		})
	}
}

func TestRender_ArtifactAccessTriggersReselection(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{
		SubmitResult: inference.VideoJob{Handle: handle},
		StatusFunc:   doneAfter(0, "https://files/video.mp4"),
		ArtifactErr:  fmt.Errorf("gemini: fetch: status 404: %w", inference.ErrArtifactAccess),
	}
	p := newPoller(t, svc, render.Config{})

	res, err := p.Render(context.Background(), render.Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.State != render.StateCredentialReselected {
		t.Errorf("state = %v, want credential_reselected", res.State)
	}
	if res.Video != nil {
		t.Error("no video expected after reselection")
	}
	if n := svc.ResolveCallCount(); n != 1 {
		t.Errorf("ResolveCredential calls = %d, want 1", n)
	}
}

func TestRender_ReselectionFailure(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{
		SubmitResult: inference.VideoJob{Handle: handle, Done: true, ResultURI: "u"},
		ArtifactErr:  inference.ErrArtifactAccess,
		ResolveErr:   errors.New("no other key"),
	}
	p := newPoller(t, svc, render.Config{})

	if _, err := p.Render(context.Background(), render.Request{Prompt: "p"}); !errors.Is(err, svc.ResolveErr) {
		t.Errorf("err = %v, want resolve error", err)
	}
}

func TestRender_OtherFetchErrorsPropagate(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{
		SubmitResult: inference.VideoJob{Handle: handle, Done: true, ResultURI: "u"},
		ArtifactErr:  errors.New("status 500"),
	}
	p := newPoller(t, svc, render.Config{})

	if _, err := p.Render(context.Background(), render.Request{Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	if svc.ResolveCallCount() != 0 {
		t.Error("reselection must only follow access failures")
	}
}

func TestRender_SubmitError(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{SubmitErr: errors.New("quota exceeded")}
	p := newPoller(t, svc, render.Config{})
	if _, err := p.Render(context.Background(), render.Request{Prompt: "p"}); !errors.Is(err, svc.SubmitErr) {
		t.Errorf("err = %v, want submit error", err)
	}
}

// ── Polling ───────────────────────────────────────────────────────────────────

func TestPollUntilDone_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{
		StatusFunc: func(_ context.Context, job inference.VideoJob, call int) (inference.VideoJob, error) {
			if call < 2 {
				return inference.VideoJob{}, errors.New("connection reset")
			}
			return inference.VideoJob{Handle: job.Handle, Done: true, ResultURI: "u"}, nil
		},
	}
	p := newPoller(t, svc, render.Config{MaxPollErrors: 3})

	job, err := p.PollUntilDone(context.Background(), inference.VideoJob{Handle: handle})
	if err != nil {
		t.Fatalf("PollUntilDone: %v", err)
	}
	if !job.Done || job.ResultURI != "u" {
		t.Errorf("job = %+v", job)
	}
}

func TestPollUntilDone_GivesUpAfterConsecutiveErrors(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{StatusErr: errors.New("503")}
	p := newPoller(t, svc, render.Config{MaxPollErrors: 3})

	if _, err := p.PollUntilDone(context.Background(), inference.VideoJob{Handle: handle}); !errors.Is(err, svc.StatusErr) {
		t.Fatalf("err = %v, want status error", err)
	}
	if n := svc.StatusCallCount(); n != 3 {
		t.Errorf("status polls = %d, want 3", n)
	}
}

func TestPollUntilDone_ErrorCountResetsOnSuccess(t *testing.T) {
	t.Parallel()

	// Alternating failures never reach two in a row.
	svc := &mock.Service{
		StatusFunc: func(_ context.Context, job inference.VideoJob, call int) (inference.VideoJob, error) {
			switch {
			case call >= 6:
				return inference.VideoJob{Handle: job.Handle, Done: true}, nil
			case call%2 == 0:
				return inference.VideoJob{}, errors.New("flaky")
			default:
				return inference.VideoJob{Handle: job.Handle}, nil
			}
		},
	}
	p := newPoller(t, svc, render.Config{MaxPollErrors: 2})

	if _, err := p.PollUntilDone(context.Background(), inference.VideoJob{Handle: handle}); err != nil {
		t.Fatalf("PollUntilDone: %v", err)
	}
}

func TestPollUntilDone_Timeout(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{StatusResult: inference.VideoJob{Handle: handle}}
	p := newPoller(t, svc, render.Config{MaxWait: 40 * time.Millisecond})

	if _, err := p.PollUntilDone(context.Background(), inference.VideoJob{Handle: handle}); !errors.Is(err, render.ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}

func TestPollUntilDone_CallerCancel(t *testing.T) {
	t.Parallel()

	svc := &mock.Service{StatusResult: inference.VideoJob{Handle: handle}}
	p := newPoller(t, svc, render.Config{PollInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := p.PollUntilDone(ctx, inference.VideoJob{Handle: handle})
		errCh <- err
	}()
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("PollUntilDone did not observe cancellation")
	}
	if n := svc.StatusCallCount(); n != 0 {
		t.Errorf("status polls = %d, want 0", n)
	}
}

// ── Supersession ──────────────────────────────────────────────────────────────

func TestRender_NewRenderSupersedesActive(t *testing.T) {
	t.Parallel()

	var release atomic.Bool
	svc := &mock.Service{
		SubmitResult: inference.VideoJob{Handle: handle},
		StatusFunc: func(_ context.Context, job inference.VideoJob, _ int) (inference.VideoJob, error) {
			if !release.Load() {
				return inference.VideoJob{Handle: job.Handle}, nil
			}
			return inference.VideoJob{Handle: job.Handle, Done: true, ResultURI: "u"}, nil
		},
		ArtifactResult: []byte("second"),
	}
	p := newPoller(t, svc, render.Config{})

	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Render(context.Background(), render.Request{Prompt: render.MovementPrompt("flat hand")})
		firstErr <- err
	}()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if job, ok := p.Active(); ok && job.Handle == handle {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first render never became active")
		}
		time.Sleep(time.Millisecond)
	}

	secondRes := make(chan *render.Result, 1)
	secondErr := make(chan error, 1)
	go func() {
		res, err := p.Render(context.Background(), render.Request{Prompt: "second"})
		secondRes <- res
		secondErr <- err
	}()

	select {
	case err := <-firstErr:
		if !errors.Is(err, render.ErrSuperseded) {
			t.Errorf("first render err = %v, want ErrSuperseded", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("first render not superseded")
	}

	release.Store(true)
	res := <-secondRes
	if err := <-secondErr; err != nil {
		t.Fatalf("second render: %v", err)
	}
	if string(res.Video) != "second" {
		t.Errorf("second video = %q", res.Video)
	}
	if _, ok := p.Active(); ok {
		t.Error("no render should be active")
	}
}

func TestPrompts(t *testing.T) {
	t.Parallel()

	if got := render.FullPhrasePrompt("ME GO STORE"); !strings.Contains(got, `full phrase gloss: "ME GO STORE"`) {
		t.Errorf("FullPhrasePrompt = %q", got)
	}
	if got := render.MovementPrompt("tap chin twice"); !strings.Contains(got, `specific movement: "tap chin twice"`) {
		t.Errorf("MovementPrompt = %q", got)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	if render.StateSucceeded.String() != "succeeded" || render.StateCredentialReselected.String() != "credential_reselected" {
		t.Error("unexpected state names")
	}
}
