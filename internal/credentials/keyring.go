// Package credentials holds the API keys DeafCare may use against the
// inference provider and implements out-of-band credential reselection.
//
// A [KeyRing] has one active key at a time. Reselection first rotates to the
// next configured key; once every configured key has been tried it falls back
// to an optional [Prompter] (the CLI asks on the terminal).
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// ErrNoCredential is returned by [KeyRing.Active] when the ring is empty.
var ErrNoCredential = errors.New("credentials: no API key configured")

// ErrExhausted is returned by [KeyRing.ResolveCredential] when there is no
// other key to switch to and no prompter is configured.
var ErrExhausted = errors.New("credentials: no alternative API key available")

// Prompter obtains a new key out of band, e.g. by asking the user.
type Prompter func(ctx context.Context) (string, error)

// KeyRing is a rotating set of API keys. It is safe for concurrent use.
type KeyRing struct {
	mu       sync.Mutex
	keys     []string
	active   int
	prompter Prompter
}

// NewKeyRing returns a ring over keys. Blank and duplicate keys are dropped;
// order is preserved and the first key starts active.
func NewKeyRing(keys []string, prompter Prompter) *KeyRing {
	kr := &KeyRing{prompter: prompter}
	for _, k := range keys {
		kr.add(k)
	}
	return kr
}

func (kr *KeyRing) add(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		return false
	}
	for _, k := range kr.keys {
		if k == key {
			return false
		}
	}
	kr.keys = append(kr.keys, key)
	return true
}

// Active returns the active key.
func (kr *KeyRing) Active() (string, error) {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	if len(kr.keys) == 0 {
		return "", ErrNoCredential
	}
	return kr.keys[kr.active], nil
}

// Len returns the number of keys in the ring.
func (kr *KeyRing) Len() int {
	kr.mu.Lock()
	defer kr.mu.Unlock()
	return len(kr.keys)
}

// ResolveCredential switches to a different key. With more than one key
// configured it advances to the next one (wrapping). With a single key it asks
// the prompter for a new one.
func (kr *KeyRing) ResolveCredential(ctx context.Context) error {
	kr.mu.Lock()
	if len(kr.keys) > 1 {
		kr.active = (kr.active + 1) % len(kr.keys)
		idx := kr.active
		kr.mu.Unlock()
		slog.Info("credential rotated", "index", idx)
		return nil
	}
	prompter := kr.prompter
	kr.mu.Unlock()

	if prompter == nil {
		return ErrExhausted
	}
	key, err := prompter(ctx)
	if err != nil {
		return fmt.Errorf("credentials: prompt: %w", err)
	}

	kr.mu.Lock()
	defer kr.mu.Unlock()
	if !kr.add(key) {
		return ErrExhausted
	}
	kr.active = len(kr.keys) - 1
	slog.Info("credential reselected", "index", kr.active)
	return nil
}
