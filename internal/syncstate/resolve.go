package syncstate

import "math"

// FilteringProgress is the nominal progress reported for tracks that have
// judging submissions but no measured transfer yet.
const FilteringProgress = 5

// maxActiveProgress keeps non-terminal states below 100. A FINALIZING track
// (engine flagged the transfer complete, no downloaded file recorded yet)
// reports exactly this value so that 100 always means COMPLETED.
const maxActiveProgress = 99

// Resolve derives the lifecycle state and progress of a track. Rules are
// evaluated in precedence order and the first match wins:
//
//  1. a completed download → COMPLETED/100, overriding everything else
//  2. an in-flight progress entry → DOWNLOADING or FINALIZING
//  3. a rejection → FAILED/0
//  4. any judging submission → FILTERING
//  5. otherwise → SEARCHING/0
func Resolve(facts TrackFacts, entry *ProgressEntry) (Status, int) {
	if facts.Completed {
		return StatusCompleted, 100
	}
	if entry != nil {
		if entry.Completed {
			return StatusFinalizing, maxActiveProgress
		}
		return StatusDownloading, transferProgress(*entry)
	}
	if facts.Rejected {
		return StatusFailed, 0
	}
	if facts.CandidatesCount > 0 {
		return StatusFiltering, FilteringProgress
	}
	return StatusSearching, 0
}

// ResolveTrack builds the client view model for one track.
func ResolveTrack(facts TrackFacts, entry *ProgressEntry) Track {
	status, pct := Resolve(facts, entry)
	t := Track{
		ID:              facts.TrackID,
		Title:           facts.Title,
		Artist:          facts.Artist,
		Album:           facts.Album,
		Status:          status,
		Progress:        pct,
		CandidatesCount: max(facts.CandidatesCount, 0),
		Username:        facts.Username,
		Filename:        facts.Filename,
	}
	if t.CandidatesCount > 0 && facts.BestScore != nil {
		score := clampScore(*facts.BestScore)
		t.Score = &score
	}
	if status == StatusFailed {
		t.RejectReason = facts.RejectReason
	}
	return t
}

func transferProgress(e ProgressEntry) int {
	if e.TotalBytes <= 0 || e.BytesDownloaded <= 0 {
		return 0
	}
	pct := int(math.Round(float64(e.BytesDownloaded) / float64(e.TotalBytes) * 100))
	return min(max(pct, 0), maxActiveProgress)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Min(math.Max(v, 0), 1)
}
