package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lionelramela/deafcare/internal/synth"
)

// SyncRunner runs one sync-all pass. [synth.Controller] implements it.
type SyncRunner interface {
	SyncAll(ctx context.Context, keys []string, progress func(synth.Progress)) (synth.SyncReport, error)
}

// Scheduler runs background sync-all passes on a cron schedule. A pass that
// would overlap a running one is skipped. All exported methods are safe for
// concurrent use.
type Scheduler struct {
	runner SyncRunner
	keys   []string

	mu      sync.Mutex
	cron    *cron.Cron
	entry   cron.EntryID
	spec    string
	started bool

	// runCtx is cancelled by Stop so an in-progress pass returns early.
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewScheduler returns a Scheduler with no schedule.
func NewScheduler(runner SyncRunner, keys []string) *Scheduler {
	logger := cronLogger{slog.Default()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner: runner,
		keys:   keys,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		runCtx:    ctx,
		runCancel: cancel,
	}
}

// Reschedule replaces the schedule with spec, a standard five-field cron
// expression or descriptor such as "@daily". An empty spec disables
// scheduling.
func (s *Scheduler) Reschedule(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var id cron.EntryID
	if spec != "" {
		var err error
		id, err = s.cron.AddFunc(spec, s.run)
		if err != nil {
			return fmt.Errorf("app: schedule %q: %w", spec, err)
		}
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
	}
	s.entry, s.spec = id, spec
	if spec != "" {
		slog.Info("alphabet sync scheduled", "spec", spec)
	}
	return nil
}

// Spec returns the active schedule, or "" when disabled.
func (s *Scheduler) Spec() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spec
}

// Next returns the next scheduled run. ok is false when no schedule is set
// or the scheduler is not started.
func (s *Scheduler) Next() (next time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == 0 || !s.started {
		return time.Time{}, false
	}
	next = s.cron.Entry(s.entry).Next
	return next, !next.IsZero()
}

// Start begins firing the schedule. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
}

// Stop halts the schedule, cancels a running pass and waits for it to return
// or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	s.runCancel()
	if !started {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs one pass immediately on the caller's goroutine.
func (s *Scheduler) RunNow(ctx context.Context) (synth.SyncReport, error) {
	return s.runner.SyncAll(ctx, s.keys, nil)
}

func (s *Scheduler) run() {
	start := time.Now()
	report, err := s.runner.SyncAll(s.runCtx, s.keys, nil)
	switch {
	case errors.Is(err, synth.ErrSyncInProgress):
		slog.Debug("scheduled sync skipped: another sync is running")
	case err != nil:
		slog.Warn("scheduled sync stopped", "err", err, "generated", report.Generated)
	default:
		slog.Info("scheduled sync finished",
			"generated", report.Generated,
			"skipped", report.Skipped,
			"failed", len(report.Failed),
			"duration", time.Since(start),
		)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
