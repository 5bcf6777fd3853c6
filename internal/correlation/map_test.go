package correlation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/syncboard/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	links []store.SubmissionTrack
	err   error
}

func (f *fakeSource) ListSubmissionTracks(context.Context) ([]store.SubmissionTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]store.SubmissionTrack(nil), f.links...), nil
}

func (f *fakeSource) set(links []store.SubmissionTrack, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links = links
	f.err = err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestNewMapValidates(t *testing.T) {
	t.Parallel()

	_, err := NewMap(nil, fixedClock{}, nil)
	require.Error(t, err)
	_, err = NewMap(&fakeSource{}, nil, nil)
	require.Error(t, err)
}

func TestMapMissesBeforeFirstRefresh(t *testing.T) {
	t.Parallel()

	m, err := NewMap(&fakeSource{}, fixedClock{}, nil)
	require.NoError(t, err)

	_, ok := m.Lookup(1)
	require.False(t, ok)
	require.Zero(t, m.Len())
	require.True(t, m.RefreshedAt().IsZero())
}

func TestMapRefreshReplacesSnapshot(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	src := &fakeSource{links: []store.SubmissionTrack{{SubmissionID: 10, TrackID: 1}, {SubmissionID: 11, TrackID: 1}}}
	m, err := NewMap(src, fixedClock{t: now}, nil)
	require.NoError(t, err)

	require.NoError(t, m.Refresh(context.Background()))
	trackID, ok := m.Lookup(11)
	require.True(t, ok)
	require.Equal(t, int64(1), trackID)
	require.Equal(t, 2, m.Len())
	require.Equal(t, now, m.RefreshedAt())

	src.set([]store.SubmissionTrack{{SubmissionID: 12, TrackID: 2}}, nil)
	require.NoError(t, m.Refresh(context.Background()))
	_, ok = m.Lookup(10)
	require.False(t, ok, "links missing from the new rebuild are dropped")
	trackID, ok = m.Lookup(12)
	require.True(t, ok)
	require.Equal(t, int64(2), trackID)
}

func TestMapRefreshFailureKeepsPreviousSnapshot(t *testing.T) {
	t.Parallel()

	src := &fakeSource{links: []store.SubmissionTrack{{SubmissionID: 10, TrackID: 1}}}
	m, err := NewMap(src, fixedClock{t: time.Unix(100, 0)}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Refresh(context.Background()))

	src.set(nil, store.ErrUnavailable)
	err = m.Refresh(context.Background())
	require.True(t, errors.Is(err, store.ErrUnavailable))

	trackID, ok := m.Lookup(10)
	require.True(t, ok)
	require.Equal(t, int64(1), trackID)
	require.Equal(t, time.Unix(100, 0), m.RefreshedAt())
}

func TestMapConcurrentReadsDuringRefresh(t *testing.T) {
	t.Parallel()

	src := &fakeSource{links: []store.SubmissionTrack{{SubmissionID: 1, TrackID: 1}}}
	m, err := NewMap(src, fixedClock{}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Refresh(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				if trackID, ok := m.Lookup(1); ok && trackID != 1 {
					t.Errorf("unexpected track %d", trackID)
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, m.Refresh(context.Background()))
	}
	wg.Wait()
}
