// Package history keeps a capped, most-recent-first list of completed
// transcriptions, persisted as JSON in a settings store.
package history

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/quicktranscribe/internal/settings"
)

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 50

// Entry is one completed transcription. Entries are never modified.
type Entry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
	Duration   float64   `json:"duration"` // seconds, recording start to transcription end
	SampleRate float64   `json:"sampleRate"`
}

// NewEntry creates an entry with a fresh ID stamped now.
func NewEntry(text string, duration time.Duration, sampleRate float64) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Text:       text,
		CreatedAt:  time.Now(),
		Duration:   duration.Seconds(),
		SampleRate: sampleRate,
	}
}

// Store is the in-memory history backed by a settings.Store.
type Store struct {
	kv       settings.Store
	capacity int
	log      *slog.Logger

	mu      sync.Mutex
	entries []Entry
}

// Open loads the history from kv. A missing or undecodable value yields an
// empty history.
func Open(kv settings.Store, capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:       kv,
		capacity: capacity,
		log:      logger.With("component", "history"),
	}

	data, ok := kv.Get(settings.KeyHistory)
	if !ok {
		return s
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		s.log.Warn("discarding unreadable history", "err", err)
		return s
	}
	if len(entries) > capacity {
		entries = entries[:capacity]
	}
	s.entries = entries
	return s
}

// Append inserts e at the head, evicting the oldest entries beyond capacity.
func (s *Store) Append(e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]Entry, 0, min(len(s.entries)+1, s.capacity))
	entries = append(entries, e)
	for _, old := range s.entries {
		if len(entries) == s.capacity {
			break
		}
		entries = append(entries, old)
	}
	s.entries = entries
	s.saveLocked()
}

// Remove deletes the entry with id. It reports whether one was found.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.entries {
		if e.ID != id {
			continue
		}
		entries := make([]Entry, 0, len(s.entries)-1)
		entries = append(entries, s.entries[:i]...)
		entries = append(entries, s.entries[i+1:]...)
		s.entries = entries
		s.saveLocked()
		return true
	}
	return false
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return
	}
	s.entries = nil
	s.saveLocked()
}

// Recent returns up to n entries, most recent first.
func (s *Store) Recent(n int) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	n = min(n, len(s.entries))
	out := make([]Entry, n)
	copy(out, s.entries[:n])
	return out
}

// All returns every entry, most recent first.
func (s *Store) All() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// saveLocked persists the list. Failures are logged; the in-memory change
// stands.
func (s *Store) saveLocked() {
	entries := s.entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		s.log.Error("encoding history", "err", err)
		return
	}
	if err := s.kv.Set(settings.KeyHistory, data); err != nil {
		s.log.Error("saving history", "entries", len(entries), "err", err)
	}
}
