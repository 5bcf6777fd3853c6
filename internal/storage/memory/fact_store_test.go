package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

func seededStore() *FactStore {
	s := NewFactStore()
	s.AddTrack(Track{ID: 1, Title: "Intro", Artist: "A", Album: "X"})
	s.AddTrack(Track{ID: 2, Title: "Second", Artist: "B", Album: "Y"})
	s.AddTrack(Track{ID: 3, Title: "Third", Artist: "C", Album: "Z"})
	s.AddSubmission(Submission{ID: 10, TrackID: 1, FileID: 100, Username: "alice", Filename: "intro.flac", Score: 0.9})
	s.AddSubmission(Submission{ID: 11, TrackID: 1, FileID: 101, Username: "bob", Filename: "intro.mp3", Score: 0.95})
	s.AddSubmission(Submission{ID: 20, TrackID: 2, FileID: 200, Username: "carol", Filename: "second.flac", Score: 0.4})
	s.MarkDownloaded("intro.flac")
	s.Reject(20, "low bitrate")
	return s
}

func TestListTrackFactsDerivesFlags(t *testing.T) {
	t.Parallel()

	s := seededStore()
	facts, err := s.ListTrackFacts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	require.Equal(t, []int64{3, 2, 1}, []int64{facts[0].TrackID, facts[1].TrackID, facts[2].TrackID})

	first := facts[2]
	require.True(t, first.Completed)
	require.Equal(t, 2, first.CandidatesCount)
	require.InDelta(t, 0.95, *first.BestScore, 1e-9)
	require.Equal(t, "alice", *first.Username, "downloaded file wins over best score")

	second := facts[1]
	require.True(t, second.Rejected)
	require.Equal(t, "low bitrate", *second.RejectReason)
	require.Equal(t, syncstate.StatusFailed, syncstate.ResolveTrack(second, nil).Status)

	third := facts[0]
	require.Zero(t, third.CandidatesCount)
	require.Nil(t, third.BestScore)
}

func TestListTrackFactsLimit(t *testing.T) {
	t.Parallel()

	facts, err := seededStore().ListTrackFacts(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, facts, 2)
}

func TestFleetCounts(t *testing.T) {
	t.Parallel()

	counts, err := seededStore().FleetCounts(context.Background())
	require.NoError(t, err)
	require.True(t, counts.SchemaReady)
	require.Equal(t, 3, counts.Total)
	require.Equal(t, 1, counts.Completed)
	require.Equal(t, 1, counts.Failed)
	require.Equal(t, int64(3), counts.TableCounts[store.TableSearchItems])
}

func TestSchemaMissing(t *testing.T) {
	t.Parallel()

	s := seededStore()
	s.SetTables(store.TableSearchItems)

	counts, err := s.FleetCounts(context.Background())
	require.NoError(t, err)
	require.False(t, counts.SchemaReady)
	require.Equal(t, map[string]int64{store.TableSearchItems: 3}, counts.TableCounts)

	caps, err := s.Capabilities(context.Background())
	require.NoError(t, err)
	require.False(t, caps.Ready(store.SchemaV1))

	_, err = s.ListSubmissionTracks(context.Background())
	require.ErrorIs(t, err, store.ErrSchemaMissing)

	facts, err := s.ListTrackFacts(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	require.Zero(t, facts[0].CandidatesCount)
}

func TestCandidatesAndRetry(t *testing.T) {
	t.Parallel()

	s := seededStore()
	ctx := context.Background()

	candidates, err := s.ListCandidates(ctx, 1)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, int64(11), candidates[0].ID)

	_, err = s.ListCandidates(ctx, 99)
	require.ErrorIs(t, err, store.ErrNotFound)

	cleared, err := s.ClearRejections(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), cleared)

	facts, err := s.ListTrackFacts(ctx, 0)
	require.NoError(t, err)
	require.False(t, facts[1].Rejected)

	_, err = s.ClearRejections(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnavailable(t *testing.T) {
	t.Parallel()

	s := seededStore()
	s.SetUnavailable(errors.New("connection refused"))
	require.ErrorIs(t, s.Ping(context.Background()), store.ErrUnavailable)
	_, err := s.CountTracks(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)

	s.SetUnavailable(nil)
	n, err := s.CountTracks(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestProgressCache(t *testing.T) {
	t.Parallel()

	c := NewProgressCache()
	c.Set(20, syncstate.ProgressEntry{BytesDownloaded: 5, TotalBytes: 10})
	c.Set(10, syncstate.ProgressEntry{BytesDownloaded: 1, TotalBytes: 10})
	c.AddMalformed("progress:abc", errors.New("bad id"))

	batch, err := c.ScanProgress(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Records, 2)
	require.Equal(t, int64(10), batch.Records[0].SubmissionID)
	require.Len(t, batch.Malformed, 1)

	c.Delete(10)
	c.SetUnavailable(errors.New("down"))
	_, err = c.ScanProgress(context.Background())
	require.ErrorIs(t, err, store.ErrUnavailable)
	_, err = c.Ping(context.Background())
	require.Error(t, err)

	c.SetUnavailable(nil)
	batch, err = c.ScanProgress(context.Background())
	require.NoError(t, err)
	require.Len(t, batch.Records, 1)
}
