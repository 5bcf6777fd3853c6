package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

type fakeCache struct {
	batch store.ProgressBatch
	err   error
}

func (f *fakeCache) Ping(context.Context) (time.Duration, error) { return time.Millisecond, f.err }

func (f *fakeCache) ScanProgress(context.Context) (store.ProgressBatch, error) {
	return f.batch, f.err
}

type mapResolver map[int64]int64

func (m mapResolver) Lookup(submissionID int64) (int64, bool) {
	trackID, ok := m[submissionID]
	return trackID, ok
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingEmitter struct {
	events []Event
}

func (r *recordingEmitter) Emit(evt Event) { r.events = append(r.events, evt) }

func record(submissionID, downloaded, total int64) store.ProgressRecord {
	return store.ProgressRecord{
		SubmissionID: submissionID,
		Entry:        syncstate.ProgressEntry{BytesDownloaded: downloaded, TotalBytes: total},
	}
}

func newTestPoller(t *testing.T, cache *fakeCache, resolver Resolver, emitter Emitter) (*Poller, *stepClock) {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p, err := NewPoller(PollerConfig{Cache: cache, Resolver: resolver, Emitter: emitter, Clock: clock})
	require.NoError(t, err)
	return p, clock
}

func TestNewPollerValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPoller(PollerConfig{Resolver: mapResolver{}, Clock: &stepClock{}})
	require.Error(t, err)
	_, err = NewPoller(PollerConfig{Cache: &fakeCache{}, Clock: &stepClock{}})
	require.Error(t, err)
	_, err = NewPoller(PollerConfig{Cache: &fakeCache{}, Resolver: mapResolver{}})
	require.Error(t, err)
}

func TestPollAttributesEntriesToTracks(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{batch: store.ProgressBatch{
		Records: []store.ProgressRecord{
			record(11, 50, 200),
			record(99, 10, 100), // not yet correlated
		},
		Malformed: []store.MalformedRecord{{Key: "progress:x", Err: errors.New("bad id")}},
	}}
	p, _ := newTestPoller(t, cache, mapResolver{11: 1}, nil)

	snap, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	require.Equal(t, int64(50), snap.Entry(1).BytesDownloaded)
	require.Nil(t, snap.Entry(99))
	require.Equal(t, 1, snap.Misses)
	require.Equal(t, 1, snap.Malformed)
	require.Equal(t, snap, p.Snapshot())
}

func TestPollPrefersLargestEntryPerTrack(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{batch: store.ProgressBatch{Records: []store.ProgressRecord{
		record(11, 20, 100),
		record(12, 70, 100),
		record(13, 40, 100),
	}}}
	p, _ := newTestPoller(t, cache, mapResolver{11: 1, 12: 1, 13: 1}, nil)

	snap, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Entries, 1)
	require.Equal(t, int64(70), snap.Entry(1).BytesDownloaded)
}

func TestPollComputesBandwidth(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{batch: store.ProgressBatch{Records: []store.ProgressRecord{
		record(11, 1000, 10000),
		record(12, 500, 10000),
	}}}
	p, clock := newTestPoller(t, cache, mapResolver{11: 1, 12: 2}, nil)

	first, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, first.BytesPerSecond)

	clock.Advance(2 * time.Second)
	cache.batch = store.ProgressBatch{Records: []store.ProgressRecord{
		record(11, 3000, 10000),
		record(12, 400, 10000), // restarted transfer does not count negative
		record(13, 900, 10000), // new submission has no baseline
	}}
	second, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 1000.0, second.BytesPerSecond, 1e-9)

	transfer := second.Transfer()
	require.Equal(t, 2, transfer.Active)
	require.Equal(t, int64(7000+9600), transfer.RemainingBytes)
}

func TestPollFailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	cache := &fakeCache{batch: store.ProgressBatch{Records: []store.ProgressRecord{record(11, 5, 10)}}}
	p, _ := newTestPoller(t, cache, mapResolver{11: 1}, nil)
	good, err := p.Poll(context.Background())
	require.NoError(t, err)

	cache.err = store.ErrUnavailable
	snap, err := p.Poll(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)
	require.Equal(t, good, snap)
	require.Equal(t, good, p.Snapshot())
}

func TestPollEmitsTransitions(t *testing.T) {
	t.Parallel()

	emitter := &recordingEmitter{}
	cache := &fakeCache{batch: store.ProgressBatch{Records: []store.ProgressRecord{record(11, 5, 100)}}}
	p, clock := newTestPoller(t, cache, mapResolver{11: 1, 12: 2}, emitter)

	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, emitter.events, 1)
	require.Equal(t, KindStarted, emitter.events[0].Kind)

	clock.Advance(time.Second)
	cache.batch = store.ProgressBatch{Records: []store.ProgressRecord{record(12, 1, 100)}}
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, emitter.events, 3)
	require.Equal(t, KindStarted, emitter.events[1].Kind)
	require.Equal(t, int64(2), emitter.events[1].TrackID)
	require.Equal(t, KindVanished, emitter.events[2].Kind)
	require.Equal(t, int64(1), emitter.events[2].TrackID)
}

func TestSnapshotEmptyBeforeFirstPoll(t *testing.T) {
	t.Parallel()

	p, _ := newTestPoller(t, &fakeCache{}, mapResolver{}, nil)
	snap := p.Snapshot()
	require.NotNil(t, snap.Entries)
	require.Empty(t, snap.Entries)
	require.Zero(t, snap.Transfer().Active)
}
