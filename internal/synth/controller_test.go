package synth_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/lionelramela/deafcare/internal/cache"
	"github.com/lionelramela/deafcare/internal/observe"
	"github.com/lionelramela/deafcare/internal/synth"
	"github.com/lionelramela/deafcare/pkg/inference"
)

// countingGenerator records calls and tracks the maximum number of
// concurrent generations.
type countingGenerator struct {
	mu      sync.Mutex
	calls   []string
	active  int
	maxSeen int

	// gate, if non-nil, blocks every call until closed.
	gate chan struct{}
	// started receives each key as its generation begins.
	started chan string
	// fail lists keys that return an error.
	fail map[string]bool
}

func (g *countingGenerator) Generate(ctx context.Context, key string) (cache.Entry, error) {
	g.mu.Lock()
	g.calls = append(g.calls, key)
	g.active++
	g.maxSeen = max(g.maxSeen, g.active)
	gate, started, fail := g.gate, g.started, g.fail[key]
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.active--
		g.mu.Unlock()
	}()

	if started != nil {
		started <- key
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return cache.Entry{}, ctx.Err()
		}
	}
	if fail {
		return cache.Entry{}, fmt.Errorf("provider refused %s", key)
	}
	return cache.Entry{
		Artifact:    inference.Blob{MIMEType: "image/png", Data: []byte("img-" + key)},
		Description: "desc " + key,
	}, nil
}

func (g *countingGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *countingGenerator) callsFor(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, k := range g.calls {
		if k == key {
			n++
		}
	}
	return n
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newController(t *testing.T, store cache.Store, gen synth.Generator) *synth.Controller {
	t.Helper()
	c, err := synth.New(context.Background(), synth.Config{
		Slot:      cache.DefaultAlphabetSlot,
		Store:     store,
		Generator: gen,
		Validate:  synth.ValidateLetter,
		Metrics:   testMetrics(t),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func preload(t *testing.T, store cache.Store, keys ...string) {
	t.Helper()
	snap := cache.Snapshot{}
	for _, k := range keys {
		snap[k] = cache.Entry{Key: k, Artifact: inference.Blob{MIMEType: "image/png", Data: []byte("cached-" + k)}}
	}
	if err := store.Save(context.Background(), cache.DefaultAlphabetSlot, snap); err != nil {
		t.Fatalf("preload: %v", err)
	}
}

// ── Get ───────────────────────────────────────────────────────────────────────

func TestGet_MissThenHit(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	gen := &countingGenerator{}
	c := newController(t, store, gen)

	e, err := c.Get(context.Background(), "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Key != "A" || string(e.Artifact.Data) != "img-A" {
		t.Errorf("entry = %+v, want key A with img-A", e)
	}
	if e.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	if _, err := c.Get(context.Background(), "A"); err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if n := gen.callCount(); n != 1 {
		t.Errorf("generator calls = %d, want 1", n)
	}
	if len(c.InFlight()) != 0 {
		t.Errorf("in-flight = %v, want empty", c.InFlight())
	}
}

func TestGet_ConcurrentCallsShareOneRequest(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{gate: make(chan struct{}), started: make(chan string, 1)}
	c := newController(t, cache.NewMemoryStore(), gen)

	const callers = 10
	var wg sync.WaitGroup
	results := make([]cache.Entry, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.Get(context.Background(), "B")
		}()
	}

	select {
	case <-gen.started:
	case <-time.After(3 * time.Second):
		t.Fatal("generation never started")
	}
	if !c.IsInFlight("b") {
		t.Error("B should be in flight while generating")
	}
	// Give the remaining callers time to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(gen.gate)
	wg.Wait()

	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if string(results[i].Artifact.Data) != "img-B" {
			t.Errorf("caller %d got %q", i, results[i].Artifact.Data)
		}
	}
	if n := gen.callsFor("B"); n != 1 {
		t.Errorf("generator calls for B = %d, want 1", n)
	}
	if c.IsInFlight("B") {
		t.Error("B should leave the in-flight set")
	}
}

func TestGet_FailureLeavesInFlightAndCacheClean(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{fail: map[string]bool{"C": true}}
	c := newController(t, cache.NewMemoryStore(), gen)

	if _, err := c.Get(context.Background(), "C"); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := c.Lookup("C"); ok {
		t.Error("failed key should not be cached")
	}
	if c.IsInFlight("C") {
		t.Error("failed key should leave the in-flight set")
	}
}

func TestGet_CallerCancelDoesNotAbortGeneration(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{gate: make(chan struct{}), started: make(chan string, 1)}
	c := newController(t, cache.NewMemoryStore(), gen)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, "D")
		errCh <- err
	}()
	<-gen.started
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(gen.gate)

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := c.Lookup("D"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached generation never installed D")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestGet_InvalidKey(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{}
	c := newController(t, cache.NewMemoryStore(), gen)

	for _, key := range []string{"", "  ", "AB", "1"} {
		if _, err := c.Get(context.Background(), key); !errors.Is(err, synth.ErrInvalidKey) {
			t.Errorf("Get(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
	if gen.callCount() != 0 {
		t.Errorf("generator called %d times for invalid keys", gen.callCount())
	}
}

func TestGet_SaveFailureStillReturnsEntry(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	store.SaveErr = errors.New("disk full")
	c := newController(t, store, &countingGenerator{})

	if _, err := c.Get(context.Background(), "E"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, ok := c.Lookup("E"); !ok {
		t.Error("entry should be cached in memory despite save failure")
	}
}

// ── Regenerate ────────────────────────────────────────────────────────────────

func TestRegenerate_OverwritesCachedEntry(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	preload(t, store, "F")
	gen := &countingGenerator{}
	c := newController(t, store, gen)

	e, err := c.Regenerate(context.Background(), "F")
	if err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if string(e.Artifact.Data) != "img-F" {
		t.Errorf("artifact = %q, want img-F", e.Artifact.Data)
	}
	got, _ := c.Lookup("F")
	if string(got.Artifact.Data) != "img-F" {
		t.Errorf("cached artifact = %q, want img-F", got.Artifact.Data)
	}
}

func TestRegenerate_FailureKeepsOldEntry(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	preload(t, store, "G")
	c := newController(t, store, &countingGenerator{fail: map[string]bool{"G": true}})

	if _, err := c.Regenerate(context.Background(), "G"); err == nil {
		t.Fatal("expected error")
	}
	got, ok := c.Lookup("G")
	if !ok || string(got.Artifact.Data) != "cached-G" {
		t.Errorf("entry = %+v, want previous cached-G", got)
	}
}

// ── Persistence ───────────────────────────────────────────────────────────────

func TestPersistence_RoundTrip(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	c := newController(t, store, &countingGenerator{})
	for _, k := range []string{"H", "I"} {
		if _, err := c.Get(context.Background(), k); err != nil {
			t.Fatalf("Get %s: %v", k, err)
		}
	}

	gen := &countingGenerator{}
	reloaded := newController(t, store, gen)
	for _, k := range []string{"H", "I"} {
		e, ok := reloaded.Lookup(k)
		if !ok {
			t.Fatalf("%s missing after reload", k)
		}
		if string(e.Artifact.Data) != "img-"+k || e.Description != "desc "+k {
			t.Errorf("%s = %+v", k, e)
		}
	}
	if _, err := reloaded.Get(context.Background(), "H"); err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if gen.callCount() != 0 {
		t.Error("reloaded entries should be served from cache")
	}
}

func TestNew_CorruptSnapshotStartsEmpty(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	store.SetRaw(cache.DefaultAlphabetSlot, []byte("{broken"))
	c := newController(t, store, &countingGenerator{})
	if n := len(c.Snapshot()); n != 0 {
		t.Errorf("snapshot has %d entries, want 0", n)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	if _, err := synth.New(context.Background(), synth.Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}

// ── SyncAll ───────────────────────────────────────────────────────────────────

func TestSyncAll_GeneratesOnlyMissingKeysSequentially(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	preload(t, store, "B", "D")
	gen := &countingGenerator{}
	c := newController(t, store, gen)

	keys := []string{"A", "B", "C", "D", "E"}
	var reports []synth.Progress
	report, err := c.SyncAll(context.Background(), keys, func(p synth.Progress) {
		reports = append(reports, p)
	})
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}

	if n := gen.callCount(); n != 3 {
		t.Errorf("generator calls = %d, want 3 (N-M)", n)
	}
	if gen.maxSeen != 1 {
		t.Errorf("max concurrent generations = %d, want 1", gen.maxSeen)
	}
	if report.Generated != 3 || report.Skipped != 2 || len(report.Failed) != 0 {
		t.Errorf("report = %+v", report)
	}

	wantPercents := []int{20, 40, 60, 80, 100}
	if len(reports) != len(wantPercents) {
		t.Fatalf("got %d progress reports, want %d", len(reports), len(wantPercents))
	}
	for i, p := range reports {
		if p.Percent != wantPercents[i] {
			t.Errorf("progress %d = %d, want %d", i, p.Percent, wantPercents[i])
		}
	}
	if !reports[1].Skipped || !reports[3].Skipped {
		t.Error("cached keys should be reported as skipped")
	}

	pct, syncing := c.Progress()
	if pct != 100 || syncing {
		t.Errorf("Progress() = %d, %v; want 100, false", pct, syncing)
	}
}

func TestSyncAll_FailureDoesNotAbortLoop(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{fail: map[string]bool{"B": true}}
	c := newController(t, cache.NewMemoryStore(), gen)

	var last synth.Progress
	var count int
	report, err := c.SyncAll(context.Background(), []string{"A", "B", "C"}, func(p synth.Progress) {
		last = p
		count++
	})
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if count != 3 || last.Percent != 100 {
		t.Errorf("progress count=%d last=%d, want 3 and 100", count, last.Percent)
	}
	if _, ok := report.Failed["B"]; !ok || len(report.Failed) != 1 {
		t.Errorf("failed = %v, want only B", report.Failed)
	}
	for _, k := range []string{"A", "C"} {
		if _, ok := c.Lookup(k); !ok {
			t.Errorf("%s should be cached", k)
		}
	}
}

func TestSyncAll_Rounding(t *testing.T) {
	t.Parallel()

	c := newController(t, cache.NewMemoryStore(), &countingGenerator{})
	var got []int
	if _, err := c.SyncAll(context.Background(), []string{"A", "B", "C"}, func(p synth.Progress) {
		got = append(got, p.Percent)
	}); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	want := []int{33, 67, 100}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("progress %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSyncAll_AllCachedMakesNoRequests(t *testing.T) {
	t.Parallel()

	store := cache.NewMemoryStore()
	preload(t, store, synth.AlphabetKeys()...)
	gen := &countingGenerator{}
	c := newController(t, store, gen)

	report, err := c.SyncAll(context.Background(), synth.AlphabetKeys(), nil)
	if err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if gen.callCount() != 0 {
		t.Errorf("generator calls = %d, want 0", gen.callCount())
	}
	if report.Skipped != 26 {
		t.Errorf("skipped = %d, want 26", report.Skipped)
	}
}

func TestSyncAll_EmptyKeysReportsComplete(t *testing.T) {
	t.Parallel()

	c := newController(t, cache.NewMemoryStore(), &countingGenerator{})
	var got []int
	if _, err := c.SyncAll(context.Background(), nil, func(p synth.Progress) { got = append(got, p.Percent) }); err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if len(got) != 1 || got[0] != 100 {
		t.Errorf("progress = %v, want [100]", got)
	}
}

func TestSyncAll_RejectsConcurrentSync(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{gate: make(chan struct{}), started: make(chan string, 1)}
	c := newController(t, cache.NewMemoryStore(), gen)

	done := make(chan error, 1)
	go func() {
		_, err := c.SyncAll(context.Background(), []string{"A"}, nil)
		done <- err
	}()
	<-gen.started

	if _, syncing := c.Progress(); !syncing {
		t.Error("Progress should report syncing")
	}
	if _, err := c.SyncAll(context.Background(), []string{"B"}, nil); !errors.Is(err, synth.ErrSyncInProgress) {
		t.Errorf("second SyncAll err = %v, want ErrSyncInProgress", err)
	}
	close(gen.gate)
	if err := <-done; err != nil {
		t.Fatalf("first SyncAll: %v", err)
	}
}

func TestSyncAll_CancelStopsLoop(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{}
	c := newController(t, cache.NewMemoryStore(), gen)

	ctx, cancel := context.WithCancel(context.Background())
	var seen atomic.Int32
	_, err := c.SyncAll(ctx, []string{"A", "B", "C", "D"}, func(p synth.Progress) {
		if seen.Add(1) == 2 {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := gen.callCount(); n != 2 {
		t.Errorf("generator calls = %d, want 2", n)
	}
}

func TestSyncAll_RacingGetSharesFlight(t *testing.T) {
	t.Parallel()

	gen := &countingGenerator{gate: make(chan struct{}), started: make(chan string, 2)}
	c := newController(t, cache.NewMemoryStore(), gen)

	syncDone := make(chan error, 1)
	go func() {
		_, err := c.SyncAll(context.Background(), []string{"Q"}, nil)
		syncDone <- err
	}()
	<-gen.started

	getDone := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "Q")
		getDone <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(gen.gate)

	if err := <-syncDone; err != nil {
		t.Fatalf("SyncAll: %v", err)
	}
	if err := <-getDone; err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := gen.callsFor("Q"); n != 1 {
		t.Errorf("generator calls for Q = %d, want 1", n)
	}
}

func TestOnUpdate_CalledAfterInstall(t *testing.T) {
	t.Parallel()

	var got []string
	var mu sync.Mutex
	c, err := synth.New(context.Background(), synth.Config{
		Slot:      "words",
		Store:     cache.NewMemoryStore(),
		Generator: &countingGenerator{},
		Metrics:   testMetrics(t),
		OnUpdate: func(e cache.Entry) {
			mu.Lock()
			got = append(got, e.Key)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Get(context.Background(), "hello"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "HELLO" {
		t.Errorf("updates = %v, want [HELLO]", got)
	}
}
