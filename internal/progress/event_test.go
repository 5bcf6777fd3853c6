package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/syncboard/internal/syncstate"
)

func entry(downloaded, total int64, completed bool) syncstate.ProgressEntry {
	return syncstate.ProgressEntry{BytesDownloaded: downloaded, TotalBytes: total, Completed: completed}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	at := time.Unix(1700000000, 0)
	testCases := []struct {
		name  string
		prev  map[int64]syncstate.ProgressEntry
		next  map[int64]syncstate.ProgressEntry
		kinds []Kind
	}{
		{
			name:  "new transfer",
			next:  map[int64]syncstate.ProgressEntry{1: entry(1, 100, false)},
			kinds: []Kind{KindStarted},
		},
		{
			name:  "already finished on first sight",
			next:  map[int64]syncstate.ProgressEntry{1: entry(100, 100, true)},
			kinds: []Kind{KindFinished},
		},
		{
			name:  "small gain is quiet",
			prev:  map[int64]syncstate.ProgressEntry{1: entry(11, 100, false)},
			next:  map[int64]syncstate.ProgressEntry{1: entry(18, 100, false)},
			kinds: nil,
		},
		{
			name:  "crossing a step",
			prev:  map[int64]syncstate.ProgressEntry{1: entry(18, 100, false)},
			next:  map[int64]syncstate.ProgressEntry{1: entry(21, 100, false)},
			kinds: []Kind{KindProgressed},
		},
		{
			name:  "completion flag",
			prev:  map[int64]syncstate.ProgressEntry{1: entry(90, 100, false)},
			next:  map[int64]syncstate.ProgressEntry{1: entry(100, 100, true)},
			kinds: []Kind{KindFinished},
		},
		{
			name:  "completed entry stays quiet",
			prev:  map[int64]syncstate.ProgressEntry{1: entry(100, 100, true)},
			next:  map[int64]syncstate.ProgressEntry{1: entry(100, 100, true)},
			kinds: nil,
		},
		{
			name:  "vanished",
			prev:  map[int64]syncstate.ProgressEntry{1: entry(100, 100, true)},
			kinds: []Kind{KindVanished},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			events := Diff(tc.prev, tc.next, at, 10)
			var kinds []Kind
			for _, evt := range events {
				require.NoError(t, evt.Validate())
				require.Equal(t, at, evt.TS)
				kinds = append(kinds, evt.Kind)
			}
			require.Equal(t, tc.kinds, kinds)
		})
	}
}

func TestDiffOrdersByTrack(t *testing.T) {
	t.Parallel()

	next := map[int64]syncstate.ProgressEntry{3: entry(1, 10, false), 1: entry(1, 10, false), 2: entry(1, 10, false)}
	events := Diff(nil, next, time.Now(), 10)
	require.Len(t, events, 3)
	for i, evt := range events {
		require.Equal(t, int64(i+1), evt.TrackID)
	}
}

func TestEventMessages(t *testing.T) {
	t.Parallel()

	evt := Event{TrackID: 4, Kind: KindProgressed, Progress: 40}
	require.Equal(t, "Track 4: downloading 40%", evt.Message())
	require.Equal(t, syncstate.LevelDebug, evt.Level())

	evt.Kind = KindFinished
	require.Equal(t, syncstate.LevelInfo, evt.Level())
	require.Contains(t, evt.Message(), "finalizing")
}
