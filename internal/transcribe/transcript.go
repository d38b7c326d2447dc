package transcribe

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is one committed utterance.
type Message struct {
	ID        string
	Text      string
	Timestamp time.Time
}

// UpdateKind discriminates [Update] values.
type UpdateKind int

const (
	// UpdatePreview reports a new uncommitted preview (possibly empty).
	UpdatePreview UpdateKind = iota

	// UpdateCommit reports a message appended to the log.
	UpdateCommit

	// UpdateClear reports that the log and preview were cleared.
	UpdateClear
)

// Update is delivered to transcript subscribers.
type Update struct {
	Kind    UpdateKind
	Preview string
	Message Message
}

// Transcript is the reconciled transcript of a session: an append-only log
// of committed messages plus one live preview. It is safe for concurrent use.
type Transcript struct {
	mu       sync.Mutex
	preview  string
	messages []Message
	subs     map[int]func(Update)
	nextSub  int
	now      func() time.Time
}

// NewTranscript returns an empty Transcript.
func NewTranscript() *Transcript {
	return &Transcript{subs: make(map[int]func(Update)), now: time.Now}
}

// Preview returns the current uncommitted text.
func (t *Transcript) Preview() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.preview
}

// Messages returns a copy of the committed messages in arrival order.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.messages)
}

// Subscribe registers fn for every update and returns a function that
// removes it. fn is called synchronously from the event goroutine and must
// not call back into Subscribe.
func (t *Transcript) Subscribe(fn func(Update)) (cancel func()) {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// SetPreview replaces the preview. The latest partial always wins.
func (t *Transcript) SetPreview(text string) {
	t.mu.Lock()
	t.preview = text
	subs := t.subscribersLocked()
	t.mu.Unlock()
	notify(subs, Update{Kind: UpdatePreview, Preview: text})
}

// Commit appends the preview as a new message and clears it. An empty or
// whitespace-only preview commits nothing and reports false.
func (t *Transcript) Commit() (Message, bool) {
	t.mu.Lock()
	text := strings.TrimSpace(t.preview)
	if text == "" {
		t.preview = ""
		t.mu.Unlock()
		return Message{}, false
	}
	msg := Message{ID: uuid.NewString(), Text: text, Timestamp: t.now()}
	t.messages = append(t.messages, msg)
	t.preview = ""
	subs := t.subscribersLocked()
	t.mu.Unlock()

	notify(subs, Update{Kind: UpdateCommit, Message: msg})
	return msg, true
}

// Clear drops every message and the preview.
func (t *Transcript) Clear() {
	t.mu.Lock()
	t.messages = nil
	t.preview = ""
	subs := t.subscribersLocked()
	t.mu.Unlock()
	notify(subs, Update{Kind: UpdateClear})
}

func (t *Transcript) subscribersLocked() []func(Update) {
	ids := make([]int, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	subs := make([]func(Update), 0, len(ids))
	for _, id := range ids {
		subs = append(subs, t.subs[id])
	}
	return subs
}

func notify(subs []func(Update), u Update) {
	for _, fn := range subs {
		fn(u)
	}
}
