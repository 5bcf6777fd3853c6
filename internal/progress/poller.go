package progress

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/syncboard/internal/metrics"
	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const (
	defaultProgressStep = 10
	malformedLogEvery   = 30 * time.Second
)

// Resolver maps a submission id to its track id.
type Resolver interface {
	Lookup(submissionID int64) (int64, bool)
}

// Clock supplies snapshot timestamps.
type Clock interface {
	Now() time.Time
}

// Snapshot is an immutable view of in-flight transfers keyed by track id.
type Snapshot struct {
	Entries        map[int64]syncstate.ProgressEntry
	BytesPerSecond float64
	TakenAt        time.Time
	// Misses counts entries dropped because their submission was not yet correlated.
	Misses int
	// Malformed counts entries skipped because they could not be decoded.
	Malformed int
}

// Entry returns the progress entry for a track, or nil when it has none.
func (s Snapshot) Entry(trackID int64) *syncstate.ProgressEntry {
	entry, ok := s.Entries[trackID]
	if !ok {
		return nil
	}
	return &entry
}

// Transfer summarizes the snapshot for the stats calculator.
func (s Snapshot) Transfer() syncstate.Transfer {
	out := syncstate.Transfer{Active: len(s.Entries), BytesPerSecond: s.BytesPerSecond}
	for _, entry := range s.Entries {
		out.RemainingBytes += entry.Remaining()
	}
	return out
}

// PollerConfig wires the Poller's collaborators.
type PollerConfig struct {
	Cache    store.ProgressCache
	Resolver Resolver
	Emitter  Emitter
	Clock    Clock
	Logger   *zap.Logger
	// ProgressStep is the percentage gain reported as a progress event (default 10).
	ProgressStep int
}

// Poller periodically scans the progress cache and publishes a new Snapshot
// with a single atomic swap. A failed scan leaves the previous snapshot live.
type Poller struct {
	cache    store.ProgressCache
	resolver Resolver
	emitter  Emitter
	clock    Clock
	logger   *zap.Logger
	step     int

	snap atomic.Pointer[Snapshot]

	mu        sync.Mutex
	lastBytes map[int64]int64
	lastAt    time.Time
	warn      rate.Sometimes
}

// NewPoller validates cfg and returns a Poller with an empty snapshot.
func NewPoller(cfg PollerConfig) (*Poller, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("progress cache is required")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("correlation resolver is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	step := cfg.ProgressStep
	if step == 0 {
		step = defaultProgressStep
	}
	p := &Poller{
		cache:     cfg.Cache,
		resolver:  cfg.Resolver,
		emitter:   cfg.Emitter,
		clock:     cfg.Clock,
		logger:    logger,
		step:      step,
		lastBytes: map[int64]int64{},
		warn:      rate.Sometimes{First: 1, Interval: malformedLogEvery},
	}
	p.snap.Store(&Snapshot{Entries: map[int64]syncstate.ProgressEntry{}})
	return p, nil
}

// Snapshot returns the most recently published snapshot.
func (p *Poller) Snapshot() Snapshot {
	return *p.snap.Load()
}

// Poll scans the cache once, publishes the resulting snapshot, and emits
// transition events relative to the previous one.
func (p *Poller) Poll(ctx context.Context) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	batch, err := p.cache.ScanProgress(ctx)
	if err != nil {
		metrics.ObserveProgressPoll(0, 0, err)
		return p.Snapshot(), fmt.Errorf("poll progress cache: %w", err)
	}
	now := p.clock.Now()

	if n := len(batch.Malformed); n > 0 {
		p.warn.Do(func() {
			p.logger.Warn("skipping malformed progress entries",
				zap.Int("count", n),
				zap.String("sample_key", batch.Malformed[0].Key),
				zap.Error(batch.Malformed[0].Err),
			)
		})
	}

	next := Snapshot{
		Entries:   make(map[int64]syncstate.ProgressEntry, len(batch.Records)),
		TakenAt:   now,
		Malformed: len(batch.Malformed),
	}
	bytes := make(map[int64]int64, len(batch.Records))
	var delta int64
	for _, rec := range batch.Records {
		bytes[rec.SubmissionID] = rec.Entry.BytesDownloaded
		if prev, ok := p.lastBytes[rec.SubmissionID]; ok && rec.Entry.BytesDownloaded > prev {
			delta += rec.Entry.BytesDownloaded - prev
		}
		trackID, ok := p.resolver.Lookup(rec.SubmissionID)
		if !ok {
			next.Misses++
			continue
		}
		if cur, ok := next.Entries[trackID]; ok && cur.BytesDownloaded >= rec.Entry.BytesDownloaded {
			continue
		}
		next.Entries[trackID] = rec.Entry
	}
	if elapsed := now.Sub(p.lastAt); !p.lastAt.IsZero() && elapsed > 0 {
		next.BytesPerSecond = float64(delta) / elapsed.Seconds()
	}
	p.lastBytes = bytes
	p.lastAt = now

	prev := p.snap.Swap(&next)
	metrics.ObserveProgressPoll(next.Misses, next.Malformed, nil)
	if p.emitter != nil {
		for _, evt := range Diff(prev.Entries, next.Entries, now, p.step) {
			p.emitter.Emit(evt)
		}
	}
	return next, nil
}

func sortedKeys(m map[int64]syncstate.ProgressEntry) []int64 {
	return slices.Sorted(maps.Keys(m))
}
