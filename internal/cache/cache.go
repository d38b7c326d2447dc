// Package cache persists synthesized artifacts keyed by a normalised string.
//
// A cache is a [Snapshot] of [Entry] values stored as a whole under one
// well-known slot. Every mutation rewrites the full snapshot; there is no
// per-entry update and entries are never deleted. Several [Store] backends are
// provided:
//
//   - [FileStore]: one JSON document per slot, replaced atomically
//   - [SQLiteStore]: a kv_snapshots table in an embedded SQLite database
//   - [PostgresStore]: a kv_snapshots table with a jsonb payload
//   - [MemoryStore]: process-local, for tests
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/lionelramela/deafcare/pkg/inference"
)

// Default slot names.
const (
	DefaultAlphabetSlot = "dchi_asl_alphabet_cache"
	DefaultWordsSlot    = "dchi_asl_word_cache"
)

// ErrCorruptSnapshot is returned by Load when the stored document cannot be
// decoded. Callers typically start from an empty snapshot.
var ErrCorruptSnapshot = errors.New("cache: corrupt snapshot")

// Entry is one synthesized artifact.
type Entry struct {
	Key         string         `json:"key"`
	Artifact    inference.Blob `json:"artifact"`
	Description string         `json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Snapshot maps normalised keys to entries.
type Snapshot map[string]Entry

// Clone returns a shallow copy of s. Entries are values; artifact bytes are
// shared and must be treated as immutable.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return maps.Clone(s)
}

// NormalizeKey trims and upper-cases key.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// Store loads and saves whole snapshots by slot. Implementations must be safe
// for concurrent use.
type Store interface {
	// Load returns the snapshot stored under slot, or an empty snapshot if
	// none exists.
	Load(ctx context.Context, slot string) (Snapshot, error)

	// Save replaces the snapshot stored under slot.
	Save(ctx context.Context, slot string, snap Snapshot) error

	// Close releases the store's resources.
	Close() error
}

// Options selects and configures a backend for [Open].
type Options struct {
	// Backend is one of "file", "sqlite", "postgres" or "memory".
	Backend string

	// Path is the directory for "file" or the database file for "sqlite".
	Path string

	// PostgresDSN is the connection string for "postgres".
	PostgresDSN string
}

// Open constructs the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.Path)
	case "sqlite":
		return NewSQLiteStore(ctx, opts.Path)
	case "postgres":
		return NewPostgresStore(ctx, opts.PostgresDSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend %q", opts.Backend)
	}
}

func encodeSnapshot(snap Snapshot) ([]byte, error) {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("cache: encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (Snapshot, error) {
	snap := Snapshot{}
	if len(data) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrCorruptSnapshot, err)
	}
	if snap == nil {
		snap = Snapshot{}
	}
	return snap, nil
}
