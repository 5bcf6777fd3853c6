package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/syncboard/internal/syncstate"
)

// Kind denotes the transition represented by an Event.
type Kind string

// Supported transitions between consecutive progress snapshots.
const (
	// KindStarted marks a track appearing in the progress cache.
	KindStarted Kind = "STARTED"
	// KindProgressed marks a track crossing another progress step.
	KindProgressed Kind = "PROGRESSED"
	// KindFinished marks the engine flagging a transfer as complete.
	KindFinished Kind = "FINISHED"
	// KindVanished marks a track leaving the progress cache.
	KindVanished Kind = "VANISHED"
)

// Event captures one transfer transition for a track.
type Event struct {
	// TrackID identifies the track the transfer belongs to.
	TrackID int64
	// TS is the time of the snapshot that revealed the transition.
	TS time.Time
	// Kind names the transition.
	Kind Kind
	// Progress is the transfer percentage at TS.
	Progress int
	// BytesDownloaded and TotalBytes carry the raw entry counters.
	BytesDownloaded int64
	TotalBytes      int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TrackID == 0 {
		return errors.New("track id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindStarted, KindProgressed, KindFinished, KindVanished:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Progress < 0 || e.Progress > 100 {
		return fmt.Errorf("progress %d out of range", e.Progress)
	}
	if e.BytesDownloaded < 0 || e.TotalBytes < 0 {
		return errors.New("byte counts must be >= 0")
	}
	return nil
}

// Level maps the transition onto a log feed level.
func (e Event) Level() syncstate.LogLevel {
	switch e.Kind {
	case KindProgressed:
		return syncstate.LevelDebug
	default:
		return syncstate.LevelInfo
	}
}

// Message renders a one-line description for the log feed.
func (e Event) Message() string {
	switch e.Kind {
	case KindStarted:
		return fmt.Sprintf("Track %d: download started", e.TrackID)
	case KindProgressed:
		return fmt.Sprintf("Track %d: downloading %d%%", e.TrackID, e.Progress)
	case KindFinished:
		return fmt.Sprintf("Track %d: transfer finished, finalizing", e.TrackID)
	case KindVanished:
		return fmt.Sprintf("Track %d: transfer left the progress cache", e.TrackID)
	default:
		return fmt.Sprintf("Track %d: %s", e.TrackID, e.Kind)
	}
}

// Diff compares two per-track snapshots and returns the transitions between
// them, ordered by track id. step is the minimum percentage gain reported as
// KindProgressed; values <= 0 disable progress events.
func Diff(prev, next map[int64]syncstate.ProgressEntry, at time.Time, step int) []Event {
	var out []Event
	for _, trackID := range sortedKeys(next) {
		cur := next[trackID]
		_, pct := syncstate.Resolve(syncstate.TrackFacts{TrackID: trackID}, &cur)
		evt := Event{
			TrackID:         trackID,
			TS:              at,
			Progress:        pct,
			BytesDownloaded: cur.BytesDownloaded,
			TotalBytes:      cur.TotalBytes,
		}
		old, seen := prev[trackID]
		switch {
		case !seen:
			evt.Kind = KindStarted
			if cur.Completed {
				evt.Kind = KindFinished
			}
		case cur.Completed && !old.Completed:
			evt.Kind = KindFinished
		case !cur.Completed && step > 0:
			_, oldPct := syncstate.Resolve(syncstate.TrackFacts{TrackID: trackID}, &old)
			if pct/step <= oldPct/step {
				continue
			}
			evt.Kind = KindProgressed
		default:
			continue
		}
		out = append(out, evt)
	}
	for _, trackID := range sortedKeys(prev) {
		if _, ok := next[trackID]; ok {
			continue
		}
		old := prev[trackID]
		out = append(out, Event{
			TrackID:         trackID,
			TS:              at,
			Kind:            KindVanished,
			BytesDownloaded: old.BytesDownloaded,
			TotalBytes:      old.TotalBytes,
		})
	}
	return out
}
