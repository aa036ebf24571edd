package orchestrator

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TranscriptEntry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsFinal   bool      `json:"is_final"`
}

// Transcript accumulates utterances with one open slot per role: updates for
// a role overwrite its open entry until a final entry closes the slot.
type Transcript struct {
	mu      sync.RWMutex
	entries []TranscriptEntry
	open    map[Role]int

	now func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{
		open: make(map[Role]int),
		now:  time.Now,
	}
}

// Update records text for role and returns the stored entry.
func (t *Transcript) Update(role Role, text string, isFinal bool) TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := TranscriptEntry{Role: role, Text: text, Timestamp: t.now(), IsFinal: isFinal}
	idx, ok := t.open[role]
	if ok {
		t.entries[idx] = entry
	} else {
		t.entries = append(t.entries, entry)
		idx = len(t.entries) - 1
	}
	if isFinal {
		delete(t.open, role)
	} else {
		t.open[role] = idx
	}
	return entry
}

// AppendFinal adds a closed entry without touching any open slot.
func (t *Transcript) AppendFinal(role Role, text string) TranscriptEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := TranscriptEntry{Role: role, Text: text, Timestamp: t.now(), IsFinal: true}
	t.entries = append(t.entries, entry)
	return entry
}

// Entries returns a copy in insertion order.
func (t *Transcript) Entries() []TranscriptEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]TranscriptEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.open = make(map[Role]int)
}
