package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

// ProgressCache holds progress entries keyed by submission id.
type ProgressCache struct {
	mu        sync.RWMutex
	entries   map[int64]syncstate.ProgressEntry
	malformed []store.MalformedRecord
	err       error
}

var _ store.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache constructs an empty ProgressCache.
func NewProgressCache() *ProgressCache {
	return &ProgressCache{entries: make(map[int64]syncstate.ProgressEntry)}
}

// Set stores the entry for a submission.
func (c *ProgressCache) Set(submissionID int64, entry syncstate.ProgressEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[submissionID] = entry
}

// Delete removes the entry for a submission.
func (c *ProgressCache) Delete(submissionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, submissionID)
}

// AddMalformed records an undecodable key returned by every scan.
func (c *ProgressCache) AddMalformed(key string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.malformed = append(c.malformed, store.MalformedRecord{Key: key, Err: err})
}

// SetUnavailable makes every call fail with err wrapped in store.ErrUnavailable. nil restores service.
func (c *ProgressCache) SetUnavailable(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Ping reports the injected availability.
func (c *ProgressCache) Ping(context.Context) (time.Duration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return 0, fmt.Errorf("%w: %w", store.ErrUnavailable, c.err)
	}
	return 0, nil
}

// ScanProgress returns every entry ordered by submission id.
func (c *ProgressCache) ScanProgress(context.Context) (store.ProgressBatch, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.err != nil {
		return store.ProgressBatch{}, fmt.Errorf("%w: %w", store.ErrUnavailable, c.err)
	}
	batch := store.ProgressBatch{
		Records:   make([]store.ProgressRecord, 0, len(c.entries)),
		Malformed: append([]store.MalformedRecord(nil), c.malformed...),
	}
	for id, entry := range c.entries {
		batch.Records = append(batch.Records, store.ProgressRecord{SubmissionID: id, Entry: entry})
	}
	sort.Slice(batch.Records, func(i, j int) bool {
		return batch.Records[i].SubmissionID < batch.Records[j].SubmissionID
	})
	return batch, nil
}
