// Package render drives long-running video generation jobs.
//
// A [Poller] submits a job, re-fetches its status at a fixed interval until
// it is done and downloads the resulting artifact. When the download is
// refused because the active credential lost access, the poller asks the
// inference service to reselect a credential and reports
// [StateCredentialReselected] instead of failing. Each Poller tracks at most
// one active render; starting a new one supersedes the previous one locally
// while the remote job is left to finish on its own.
package render

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/pkg/inference"
)

// Defaults applied by [New].
const (
	DefaultPollInterval  = 10 * time.Second
	DefaultMaxWait       = 10 * time.Minute
	DefaultMaxPollErrors = 5
	DefaultAspectRatio   = "16:9"
	DefaultResolution    = "720p"
)

const videoMIMEType = "video/mp4"

var (
	// ErrPollTimeout is returned when a job is not done within MaxWait.
	ErrPollTimeout = errors.New("render: job did not finish in time")

	// ErrJobFailed is returned for a job that finished with an error.
	ErrJobFailed = errors.New("render: job failed")

	// ErrNoArtifact is returned for a finished job without a result URI.
	ErrNoArtifact = errors.New("render: job finished without an artifact")

	// ErrSuperseded is returned by a Render call replaced by a newer one.
	ErrSuperseded = errors.New("render: superseded by a newer render")
)

// State is the outcome of a successful [Poller.Render].
type State int

const (
	// StateSucceeded means the video was downloaded.
	StateSucceeded State = iota

	// StateCredentialReselected means the artifact was not accessible with
	// the active credential and a reselection was triggered. The caller
	// should retry the render.
	StateCredentialReselected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSucceeded:
		return "succeeded"
	case StateCredentialReselected:
		return "credential_reselected"
	default:
		return "unknown"
	}
}

// Service is the subset of the inference service the poller needs.
type Service interface {
	inference.VideoGenerator
	inference.CredentialResolver
}

// Request describes one video to render.
type Request struct {
	Prompt      string
	AspectRatio string
	Resolution  string
}

// Result is the outcome of a render.
type Result struct {
	State    State
	Job      inference.VideoJob
	Video    []byte
	MIMEType string
}

// Config configures a [Poller].
type Config struct {
	// Service submits and polls jobs. Required.
	Service Service

	// PollInterval is the wait before each status fetch. Default 10s.
	PollInterval time.Duration

	// MaxWait caps the total polling time of one job. Default 10m.
	MaxWait time.Duration

	// MaxPollErrors is the number of consecutive failed status fetches
	// tolerated before giving up. Default 5.
	MaxPollErrors int

	// AspectRatio and Resolution are used when a Request leaves them empty.
	AspectRatio string
	Resolution  string

	// Metrics receives instrument updates. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Poller submits and polls video jobs. All methods are safe for concurrent
// use.
type Poller struct {
	svc           Service
	interval      time.Duration
	maxWait       time.Duration
	maxPollErrors int
	aspectRatio   string
	resolution    string
	metrics       *observe.Metrics

	mu        sync.Mutex
	gen       uint64
	cancel    context.CancelCauseFunc
	active    inference.VideoJob
	hasActive bool
}

// New returns a Poller. Zero settings take their defaults.
func New(cfg Config) *Poller {
	p := &Poller{
		svc:           cfg.Service,
		interval:      cfg.PollInterval,
		maxWait:       cfg.MaxWait,
		maxPollErrors: cfg.MaxPollErrors,
		aspectRatio:   cfg.AspectRatio,
		resolution:    cfg.Resolution,
		metrics:       cfg.Metrics,
	}
	if p.interval <= 0 {
		p.interval = DefaultPollInterval
	}
	if p.maxWait <= 0 {
		p.maxWait = DefaultMaxWait
	}
	if p.maxPollErrors <= 0 {
		p.maxPollErrors = DefaultMaxPollErrors
	}
	if p.aspectRatio == "" {
		p.aspectRatio = DefaultAspectRatio
	}
	if p.resolution == "" {
		p.resolution = DefaultResolution
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	return p
}

// Active returns the job of the render in progress, if any.
func (p *Poller) Active() (inference.VideoJob, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active, p.hasActive
}

// Submit starts a job and returns its unresolved handle.
func (p *Poller) Submit(ctx context.Context, req Request) (inference.VideoJob, error) {
	cfg := inference.VideoConfig{AspectRatio: req.AspectRatio, Resolution: req.Resolution}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = p.aspectRatio
	}
	if cfg.Resolution == "" {
		cfg.Resolution = p.resolution
	}
	job, err := p.svc.SubmitVideoJob(ctx, req.Prompt, cfg)
	if err != nil {
		p.metrics.RecordProviderRequest(ctx, "inference", "video", "error")
		return inference.VideoJob{}, fmt.Errorf("render: submit: %w", err)
	}
	p.metrics.RecordProviderRequest(ctx, "inference", "video", "ok")
	observe.Logger(ctx).Info("render: job submitted", "handle", job.Handle)
	return job, nil
}

// PollUntilDone re-fetches job every poll interval until it is done. It
// gives up after MaxWait with [ErrPollTimeout] or after MaxPollErrors
// consecutive status failures with the last error. Cancelling ctx returns
// its cause.
func (p *Poller) PollUntilDone(ctx context.Context, job inference.VideoJob) (inference.VideoJob, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, p.maxWait, ErrPollTimeout)
	defer cancel()

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	failures := 0
	for !job.Done {
		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			return job, context.Cause(ctx)
		case <-timer.C:
		}

		next, err := p.svc.GetVideoJobStatus(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return job, context.Cause(ctx)
			}
			failures++
			p.metrics.RecordVideoPoll(ctx, "error")
			observe.Logger(ctx).Warn("render: status poll failed",
				"handle", job.Handle, "consecutive", failures, "err", err)
			if failures >= p.maxPollErrors {
				return job, fmt.Errorf("render: poll %s: %w", job.Handle, err)
			}
			continue
		}
		failures = 0
		job = next
		if job.Done {
			p.metrics.RecordVideoPoll(ctx, "done")
		} else {
			p.metrics.RecordVideoPoll(ctx, "pending")
		}
	}
	return job, nil
}

// Render submits req, polls it to completion and fetches the video. A call
// replaced by a newer Render returns [ErrSuperseded] and its result is
// discarded.
func (p *Poller) Render(ctx context.Context, req Request) (res *Result, err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	p.mu.Lock()
	if p.cancel != nil {
		p.cancel(ErrSuperseded)
	}
	p.gen++
	gen := p.gen
	p.cancel = cancel
	p.active, p.hasActive = inference.VideoJob{}, false
	p.mu.Unlock()
	defer p.release(gen)

	ctx, span := observe.StartSpan(ctx, "render.Render")
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	job, err := p.Submit(ctx, req)
	if err != nil {
		return nil, p.superseded(ctx, err)
	}
	span.SetAttributes(attribute.String("handle", job.Handle))
	p.setActive(gen, job)

	job, err = p.PollUntilDone(ctx, job)
	if err != nil {
		return nil, p.superseded(ctx, err)
	}
	p.setActive(gen, job)
	p.metrics.VideoJobDuration.Record(ctx, time.Since(start).Seconds())

	res, err = p.collect(ctx, span, job)
	if err != nil {
		return nil, p.superseded(ctx, err)
	}
	if context.Cause(ctx) == ErrSuperseded {
		return nil, ErrSuperseded
	}
	return res, nil
}

// collect turns a finished job into a Result.
func (p *Poller) collect(ctx context.Context, span trace.Span, job inference.VideoJob) (*Result, error) {
	switch {
	case job.Err != "":
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, job.Err)
	case job.ResultURI == "":
		return nil, ErrNoArtifact
	}

	data, err := p.svc.FetchArtifact(ctx, job.ResultURI)
	if errors.Is(err, inference.ErrArtifactAccess) {
		observe.Logger(ctx).Warn("render: artifact not accessible, reselecting credential", "handle", job.Handle)
		span.AddEvent("credential_reselection")
		if rerr := p.svc.ResolveCredential(ctx); rerr != nil {
			return nil, fmt.Errorf("render: reselect credential: %w", rerr)
		}
		p.metrics.CredentialReselections.Add(ctx, 1)
		return &Result{State: StateCredentialReselected, Job: job}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("render: fetch artifact: %w", err)
	}
	return &Result{State: StateSucceeded, Job: job, Video: data, MIMEType: videoMIMEType}, nil
}

// superseded maps any failure of a replaced render to ErrSuperseded.
func (p *Poller) superseded(ctx context.Context, err error) error {
	if context.Cause(ctx) == ErrSuperseded {
		return ErrSuperseded
	}
	return err
}

func (p *Poller) setActive(gen uint64, job inference.VideoJob) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.active, p.hasActive = job, true
	}
}

func (p *Poller) release(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen == gen {
		p.cancel = nil
		p.active, p.hasActive = inference.VideoJob{}, false
	}
}
