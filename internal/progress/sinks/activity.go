package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/syncboard/internal/progress"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const defaultActivityCapacity = 200

// IDGenerator supplies log entry ids.
type IDGenerator interface {
	MustID() string
}

// ActivitySink keeps the most recent transitions in a bounded ring and serves
// them as the local log feed. Other components may append their own entries.
type ActivitySink struct {
	ids IDGenerator

	mu      sync.RWMutex
	entries []syncstate.LogEntry
	next    int
	full    bool
}

// NewActivitySink returns a ring holding at most capacity entries (default 200).
func NewActivitySink(capacity int, ids IDGenerator) *ActivitySink {
	if capacity <= 0 {
		capacity = defaultActivityCapacity
	}
	return &ActivitySink{ids: ids, entries: make([]syncstate.LogEntry, capacity)}
}

// Consume converts each event into a log entry.
func (s *ActivitySink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		trackID := evt.TrackID
		entry := syncstate.LogEntry{
			Timestamp: evt.TS.UnixMilli(),
			Message:   evt.Message(),
			Level:     evt.Level(),
			TrackID:   &trackID,
		}
		if evt.Kind != progress.KindVanished {
			pct := evt.Progress
			entry.Progress = &pct
		}
		s.Append(entry)
	}
	return nil
}

// Append records an entry, assigning an id and timestamp when missing.
func (s *ActivitySink) Append(entry syncstate.LogEntry) {
	if entry.ID == "" && s.ids != nil {
		entry.ID = s.ids.MustID()
	}
	if entry.Timestamp == 0 {
		entry.Timestamp = time.Now().UnixMilli()
	}
	if entry.Level == "" {
		entry.Level = syncstate.LevelInfo
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[s.next] = entry
	s.next = (s.next + 1) % len(s.entries)
	if s.next == 0 {
		s.full = true
	}
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (s *ActivitySink) Recent(limit int) []syncstate.LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	size := s.next
	if s.full {
		size = len(s.entries)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]syncstate.LogEntry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.next - i + len(s.entries)) % len(s.entries)
		out = append(out, s.entries[idx])
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *ActivitySink) Close(context.Context) error {
	return nil
}
