// Package timeline holds the ordered, append-only log of messages for one
// conversation session.
package timeline

import (
	"strings"
	"sync"

	"github.com/vango-go/vai-call/pkg/core/types"
)

// Timeline is append-only: entries are never reordered or edited, and an id can
// be appended at most once. Reads return copies.
type Timeline struct {
	mu      sync.RWMutex
	entries []types.Message
	index   map[string]int
}

func New() *Timeline {
	return &Timeline{
		entries: make([]types.Message, 0, 32),
		index:   make(map[string]int),
	}
}

// Append adds msg at the end. It returns false, leaving the timeline
// unchanged, when msg has no id or its id is already present. A timestamp
// earlier than the last entry is clamped so display order stays monotonic.
func (t *Timeline) Append(msg types.Message) bool {
	id := strings.TrimSpace(msg.ID)
	if id == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.index[id]; exists {
		return false
	}
	msg = msg.Clone()
	msg.ID = id
	if n := len(t.entries); n > 0 {
		if last := t.entries[n-1].Timestamp; msg.Timestamp.Before(last) {
			msg.Timestamp = last
		}
	}
	t.index[id] = len(t.entries)
	t.entries = append(t.entries, msg)
	return true
}

// Contains reports whether id has been appended.
func (t *Timeline) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.index[strings.TrimSpace(id)]
	return ok
}

// Get returns a copy of the message with id.
func (t *Timeline) Get(id string) (types.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	i, ok := t.index[strings.TrimSpace(id)]
	if !ok {
		return types.Message{}, false
	}
	return t.entries[i].Clone(), true
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the most recent entry, including system entries.
func (t *Timeline) Last() (types.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return types.Message{}, false
	}
	return t.entries[len(t.entries)-1].Clone(), true
}

// Snapshot returns every entry in append order, system entries included.
func (t *Timeline) Snapshot() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Message, len(t.entries))
	for i, m := range t.entries {
		out[i] = m.Clone()
	}
	return out
}

// Visible returns the entries that are rendered: everything except system
// messages. The stored timeline is not modified.
func (t *Timeline) Visible() []types.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]types.Message, 0, len(t.entries))
	for _, m := range t.entries {
		if m.Role == types.RoleSystem {
			continue
		}
		out = append(out, m.Clone())
	}
	return out
}

// LastVisible returns the most recent non-system entry.
func (t *Timeline) LastVisible() (types.Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].Role != types.RoleSystem {
			return t.entries[i].Clone(), true
		}
	}
	return types.Message{}, false
}

// Reset discards every entry. Used when the owning session is destroyed.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = t.entries[:0]
	t.index = make(map[string]int)
}
