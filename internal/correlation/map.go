// Package correlation maintains the submission→track lookup used to attribute
// progress cache entries to tracks.
package correlation

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/metrics"
	"github.com/JakeFAU/syncboard/internal/store"
)

// Source lists every submission→track link.
type Source interface {
	ListSubmissionTracks(ctx context.Context) ([]store.SubmissionTrack, error)
}

// Clock supplies the refresh timestamp.
type Clock interface {
	Now() time.Time
}

type snapshot struct {
	links       map[int64]int64
	refreshedAt time.Time
}

// Map is a periodically rebuilt submission→track lookup. Readers always see
// one complete snapshot; a refresh publishes a new one with a single swap.
type Map struct {
	source Source
	clock  Clock
	logger *zap.Logger
	snap   atomic.Pointer[snapshot]
}

// NewMap builds an empty Map. Lookups miss until the first successful Refresh.
func NewMap(source Source, clock Clock, logger *zap.Logger) (*Map, error) {
	if source == nil {
		return nil, fmt.Errorf("correlation source is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Map{source: source, clock: clock, logger: logger}
	m.snap.Store(&snapshot{links: map[int64]int64{}})
	return m, nil
}

// Refresh rebuilds the full map from the source. On failure the previous
// snapshot stays published and the error is returned.
func (m *Map) Refresh(ctx context.Context) error {
	links, err := m.source.ListSubmissionTracks(ctx)
	if err != nil {
		metrics.ObserveCorrelationRefresh(0, err)
		m.logger.Warn("correlation refresh failed; keeping previous map",
			zap.Int("entries", m.Len()),
			zap.Error(err),
		)
		return fmt.Errorf("refresh correlation map: %w", err)
	}
	next := make(map[int64]int64, len(links))
	for _, link := range links {
		next[link.SubmissionID] = link.TrackID
	}
	m.snap.Store(&snapshot{links: next, refreshedAt: m.clock.Now()})
	metrics.ObserveCorrelationRefresh(len(next), nil)
	m.logger.Debug("correlation map refreshed", zap.Int("entries", len(next)))
	return nil
}

// Lookup resolves a submission id to its track id.
func (m *Map) Lookup(submissionID int64) (int64, bool) {
	trackID, ok := m.snap.Load().links[submissionID]
	return trackID, ok
}

// Len reports the number of links in the published snapshot.
func (m *Map) Len() int {
	return len(m.snap.Load().links)
}

// RefreshedAt reports when the published snapshot was built; zero before the first success.
func (m *Map) RefreshedAt() time.Time {
	return m.snap.Load().refreshedAt
}
