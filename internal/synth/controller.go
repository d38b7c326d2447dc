// Package synth implements the cache-backed synthesis controller.
//
// A [Controller] owns one cache slot. Get returns the cached [cache.Entry]
// for a key or generates it exactly once, no matter how many callers ask
// concurrently. SyncAll walks a key list strictly sequentially, skipping keys
// that are already cached and reporting rounded percentage progress after
// every key. Each successful generation rewrites the whole snapshot through
// the configured [cache.Store].
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/lionelramela/deafcare/internal/cache"
	"github.com/lionelramela/deafcare/internal/observe"
)

const defaultGenerationTimeout = 2 * time.Minute

var (
	// ErrSyncInProgress is returned by SyncAll while another sync runs.
	ErrSyncInProgress = errors.New("synth: sync already in progress")

	// ErrInvalidKey is returned for keys rejected by the validator.
	ErrInvalidKey = errors.New("synth: invalid key")
)

// Generator produces the entry for one key. Implementations issue the
// provider requests; the controller handles caching and deduplication.
type Generator interface {
	Generate(ctx context.Context, key string) (cache.Entry, error)
}

// GeneratorFunc adapts a function to [Generator].
type GeneratorFunc func(ctx context.Context, key string) (cache.Entry, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, key string) (cache.Entry, error) {
	return f(ctx, key)
}

// Config configures a [Controller].
type Config struct {
	// Slot names the snapshot in Store. Required.
	Slot string

	// Store persists snapshots. Required.
	Store cache.Store

	// Generator produces entries on cache misses. Required.
	Generator Generator

	// Validate rejects malformed keys before any request is made. Keys are
	// normalised first. Optional.
	Validate func(key string) error

	// GenerationTimeout bounds a single generation. Default 2m.
	GenerationTimeout time.Duration

	// OnUpdate is called after an entry is installed. Optional.
	OnUpdate func(cache.Entry)

	// Metrics receives instrument updates. Default [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Progress is reported by SyncAll after every key.
type Progress struct {
	Key       string
	Completed int
	Total     int
	Percent   int
	Skipped   bool
	Err       error
}

// SyncReport summarises one SyncAll pass.
type SyncReport struct {
	Total     int
	Generated int
	Skipped   int
	Failed    map[string]error
}

// Controller is the cache-backed synthesis controller for one slot. It is
// safe for concurrent use.
type Controller struct {
	slot     string
	store    cache.Store
	gen      Generator
	validate func(string) error
	timeout  time.Duration
	onUpdate func(cache.Entry)
	metrics  *observe.Metrics
	attrs    metric.MeasurementOption

	flights singleflight.Group

	mu       sync.RWMutex
	entries  cache.Snapshot
	inFlight map[string]struct{}

	// saveMu serialises install+persist so saves reach the store in install
	// order.
	saveMu sync.Mutex

	syncing atomic.Bool
	percent atomic.Int64
}

// New validates cfg and loads the slot's snapshot. A corrupt snapshot is
// logged and replaced by an empty one; other load errors are returned.
func New(ctx context.Context, cfg Config) (*Controller, error) {
	var errs []error
	if cfg.Slot == "" {
		errs = append(errs, errors.New("slot is required"))
	}
	if cfg.Store == nil {
		errs = append(errs, errors.New("store is required"))
	}
	if cfg.Generator == nil {
		errs = append(errs, errors.New("generator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("synth: invalid config: %w", err)
	}

	snap, err := cfg.Store.Load(ctx, cfg.Slot)
	switch {
	case errors.Is(err, cache.ErrCorruptSnapshot):
		slog.Warn("synth: discarding corrupt snapshot", "slot", cfg.Slot, "err", err)
		snap = cache.Snapshot{}
	case err != nil:
		return nil, fmt.Errorf("synth: load snapshot: %w", err)
	case snap == nil:
		snap = cache.Snapshot{}
	}

	c := &Controller{
		slot:     cfg.Slot,
		store:    cfg.Store,
		gen:      cfg.Generator,
		validate: cfg.Validate,
		timeout:  cfg.GenerationTimeout,
		onUpdate: cfg.OnUpdate,
		metrics:  cfg.Metrics,
		entries:  snap,
		inFlight: make(map[string]struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = defaultGenerationTimeout
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	c.attrs = metric.WithAttributes(attribute.String("slot", c.slot))

	slog.Debug("synth: snapshot loaded", "slot", c.slot, "entries", len(snap))
	return c, nil
}

// Slot returns the controller's cache slot.
func (c *Controller) Slot() string { return c.slot }

// Lookup returns the cached entry for key without generating.
func (c *Controller) Lookup(key string) (cache.Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[cache.NormalizeKey(key)]
	return e, ok
}

// Snapshot returns a copy of all cached entries.
func (c *Controller) Snapshot() cache.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Clone()
}

// InFlight returns the keys with an outstanding generation, sorted.
func (c *Controller) InFlight() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.inFlight))
	for k := range c.inFlight {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	slices.Sort(keys)
	return keys
}

// IsInFlight reports whether key has an outstanding generation.
func (c *Controller) IsInFlight(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.inFlight[cache.NormalizeKey(key)]
	return ok
}

// Progress returns the percentage of the current or last SyncAll pass and
// whether a pass is running.
func (c *Controller) Progress() (percent int, syncing bool) {
	return int(c.percent.Load()), c.syncing.Load()
}

// Get returns the entry for key, generating it on a cache miss. Concurrent
// calls for the same key share one generation. Cancelling ctx abandons the
// wait but not the generation, whose result is still cached.
func (c *Controller) Get(ctx context.Context, key string) (cache.Entry, error) {
	key, err := c.normalize(key)
	if err != nil {
		return cache.Entry{}, err
	}
	if e, ok := c.Lookup(key); ok {
		c.metrics.RecordCacheLookup(ctx, c.slot, true)
		return e, nil
	}
	c.metrics.RecordCacheLookup(ctx, c.slot, false)
	return c.flight(ctx, key, false)
}

// Regenerate generates key even if it is cached and overwrites the entry on
// success. It joins an outstanding generation for the same key instead of
// starting a second one.
func (c *Controller) Regenerate(ctx context.Context, key string) (cache.Entry, error) {
	key, err := c.normalize(key)
	if err != nil {
		return cache.Entry{}, err
	}
	return c.flight(ctx, key, true)
}

// SyncAll generates every key of keys that is not cached yet, one at a time
// in order. progress (optional) is called after each key. Per-key failures
// are logged and collected in the report; only cancellation of ctx stops the
// pass early.
func (c *Controller) SyncAll(ctx context.Context, keys []string, progress func(Progress)) (report SyncReport, err error) {
	if !c.syncing.CompareAndSwap(false, true) {
		return SyncReport{}, ErrSyncInProgress
	}
	defer c.syncing.Store(false)

	ctx, span := observe.StartSpan(ctx, "synth.SyncAll",
		trace.WithAttributes(attribute.String("slot", c.slot), attribute.Int("keys", len(keys))))
	defer func() { observe.EndSpan(span, err) }()

	report = SyncReport{Total: len(keys), Failed: make(map[string]error)}
	total := len(keys)
	if total == 0 {
		c.setPercent(ctx, 100)
		if progress != nil {
			progress(Progress{Percent: 100})
		}
		return report, nil
	}
	c.setPercent(ctx, 0)

	for i, raw := range keys {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("synth: sync cancelled: %w", err)
		}

		p := Progress{Key: cache.NormalizeKey(raw), Total: total}
		key, nerr := c.normalize(raw)
		switch {
		case nerr != nil:
			p.Err = nerr
		default:
			if _, ok := c.Lookup(key); ok {
				p.Skipped = true
				break
			}
			_, p.Err = c.flight(ctx, key, false)
			if p.Err != nil && ctx.Err() != nil {
				return report, fmt.Errorf("synth: sync cancelled: %w", ctx.Err())
			}
		}

		switch {
		case p.Err != nil:
			report.Failed[p.Key] = p.Err
			observe.Logger(ctx).Warn("synth: sync key failed", "slot", c.slot, "key", p.Key, "err", p.Err)
		case p.Skipped:
			report.Skipped++
		default:
			report.Generated++
		}

		p.Completed = i + 1
		p.Percent = percentOf(p.Completed, total)
		c.setPercent(ctx, p.Percent)
		if progress != nil {
			progress(p)
		}
	}
	return report, nil
}

// percentOf returns round(100*done/total), rounding halves up.
func percentOf(done, total int) int {
	return (200*done + total) / (2 * total)
}

func (c *Controller) setPercent(ctx context.Context, p int) {
	c.percent.Store(int64(p))
	c.metrics.SyncProgress.Record(ctx, int64(p), c.attrs)
}

func (c *Controller) normalize(key string) (string, error) {
	key = cache.NormalizeKey(key)
	if key == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if c.validate != nil {
		if err := c.validate(key); err != nil {
			return "", fmt.Errorf("%w: %q: %w", ErrInvalidKey, key, err)
		}
	}
	return key, nil
}

// flight joins or starts the single generation for key and waits for it or
// for ctx.
func (c *Controller) flight(ctx context.Context, key string, force bool) (cache.Entry, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.flights.DoChan(key, func() (any, error) {
		return c.generate(detached, key, force)
	})
	select {
	case <-ctx.Done():
		return cache.Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return cache.Entry{}, res.Err
		}
		return res.Val.(cache.Entry), nil
	}
}

// generate runs inside the key's flight.
func (c *Controller) generate(ctx context.Context, key string, force bool) (entry cache.Entry, err error) {
	if !force {
		if e, ok := c.Lookup(key); ok {
			return e, nil
		}
	}

	c.enter(ctx, key)
	defer c.leave(ctx, key)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "synth.Generate",
		trace.WithAttributes(attribute.String("slot", c.slot), attribute.String("key", key)))
	defer func() { observe.EndSpan(span, err) }()

	start := time.Now()
	entry, err = c.gen.Generate(ctx, key)
	c.metrics.GenerationDuration.Record(ctx, time.Since(start).Seconds(), c.attrs)
	if err != nil {
		observe.Logger(ctx).Warn("synth: generation failed", "slot", c.slot, "key", key, "err", err)
		return cache.Entry{}, fmt.Errorf("synth: generate %s: %w", key, err)
	}

	entry.Key = key
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	c.install(ctx, entry)
	return entry, nil
}

func (c *Controller) enter(ctx context.Context, key string) {
	c.mu.Lock()
	c.inFlight[key] = struct{}{}
	c.mu.Unlock()
	c.metrics.InFlightGenerations.Add(ctx, 1, c.attrs)
}

func (c *Controller) leave(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.inFlight, key)
	c.mu.Unlock()
	c.metrics.InFlightGenerations.Add(ctx, -1, c.attrs)
}

// install stores entry and persists the full snapshot. Save failures are
// logged and counted but leave the in-memory entry in place.
func (c *Controller) install(ctx context.Context, entry cache.Entry) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	c.entries[entry.Key] = entry
	snap := c.entries.Clone()
	c.mu.Unlock()

	if err := c.store.Save(ctx, c.slot, snap); err != nil {
		c.metrics.CacheSaveErrors.Add(ctx, 1, c.attrs)
		observe.Logger(ctx).Error("synth: persist snapshot", "slot", c.slot, "err", err)
	}
	if c.onUpdate != nil {
		c.onUpdate(entry)
	}
}
