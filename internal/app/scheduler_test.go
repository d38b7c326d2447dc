package app_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lionelramela/deafcare/internal/app"
	"github.com/lionelramela/deafcare/internal/synth"
)

// fakeRunner records SyncAll calls. When block is set each call waits for
// its context to end.
type fakeRunner struct {
	calls atomic.Int32
	block bool

	mu   sync.Mutex
	keys []string
}

func (f *fakeRunner) SyncAll(ctx context.Context, keys []string, _ func(synth.Progress)) (synth.SyncReport, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.keys = keys
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return synth.SyncReport{}, ctx.Err()
	}
	return synth.SyncReport{Generated: len(keys)}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduler_RescheduleValidation(t *testing.T) {
	t.Parallel()

	s := app.NewScheduler(&fakeRunner{}, []string{"A"})

	if err := s.Reschedule("61 * * * *"); err == nil {
		t.Error("expected error for out-of-range minute")
	}
	if s.Spec() != "" {
		t.Errorf("spec = %q after rejected schedule, want empty", s.Spec())
	}
	if err := s.Reschedule("0 3 * * *"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if s.Spec() != "0 3 * * *" {
		t.Errorf("spec = %q", s.Spec())
	}
	if err := s.Reschedule(""); err != nil {
		t.Fatalf("Reschedule(empty): %v", err)
	}
	if s.Spec() != "" {
		t.Errorf("spec = %q after disable, want empty", s.Spec())
	}
}

func TestScheduler_NextRequiresStart(t *testing.T) {
	t.Parallel()

	s := app.NewScheduler(&fakeRunner{}, nil)
	if err := s.Reschedule("@daily"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if _, ok := s.Next(); ok {
		t.Error("Next reported a run before Start")
	}
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	waitFor(t, func() bool { _, ok := s.Next(); return ok })
	next, _ := s.Next()
	if !next.After(time.Now()) {
		t.Errorf("next = %v, want a future time", next)
	}
}

func TestScheduler_RunNow(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	keys := []string{"A", "B"}
	s := app.NewScheduler(r, keys)

	report, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatalf("RunNow: %v", err)
	}
	if report.Generated != 2 {
		t.Errorf("generated = %d, want 2", report.Generated)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.keys) != 2 || r.keys[0] != "A" {
		t.Errorf("keys = %v", r.keys)
	}
}

func TestScheduler_Fires(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{}
	s := app.NewScheduler(r, []string{"A"})
	if err := s.Reschedule("@every 1s"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	s.Start()
	s.Start()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	waitFor(t, func() bool { return r.calls.Load() >= 1 })
}

func TestScheduler_StopCancelsRunningPass(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{block: true}
	s := app.NewScheduler(r, []string{"A"})
	if err := s.Reschedule("@every 1s"); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	s.Start()
	waitFor(t, func() bool { return r.calls.Load() >= 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := app.NewScheduler(&fakeRunner{}, nil)
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
