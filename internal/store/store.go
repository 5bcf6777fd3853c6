package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/syncboard/internal/syncstate"
)

var (
	// ErrNotFound signals that the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrSchemaMissing signals that a table the query needs has not been created yet.
	ErrSchemaMissing = errors.New("schema not initialized")
	// ErrUnavailable signals that the backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
)

// SubmissionTrack links a judging submission to its parent track.
type SubmissionTrack struct {
	SubmissionID int64
	TrackID      int64
}

// FactStore answers read-only questions about the engine's persisted facts.
type FactStore interface {
	// Ping performs a lightweight connectivity query.
	Ping(ctx context.Context) error
	// Capabilities evaluates the schema descriptor against the live catalog and
	// caches the result for subsequent queries.
	Capabilities(ctx context.Context) (Capabilities, error)
	// ListTrackFacts returns durable facts for the most recent tracks, newest first.
	ListTrackFacts(ctx context.Context, limit int) ([]syncstate.TrackFacts, error)
	// CountTracks returns the number of tracks in the library.
	CountTracks(ctx context.Context) (int, error)
	// FleetCounts returns fleet-wide counters and raw per-table row counts.
	FleetCounts(ctx context.Context) (syncstate.FleetCounts, error)
	// ListSubmissionTracks returns every submission→track link.
	ListSubmissionTracks(ctx context.Context) ([]SubmissionTrack, error)
	// ListCandidates returns judged candidates for a track ordered by score descending.
	ListCandidates(ctx context.Context, trackID int64) ([]syncstate.Candidate, error)
	// ClearRejections deletes rejection facts for a track and reports how many rows went away.
	ClearRejections(ctx context.Context, trackID int64) (int64, error)
}

// ProgressRecord is one decoded progress cache entry keyed by submission id.
type ProgressRecord struct {
	SubmissionID int64
	Entry        syncstate.ProgressEntry
}

// MalformedRecord is a cache key whose id or value could not be decoded.
type MalformedRecord struct {
	Key string
	Err error
}

// ProgressBatch is the result of one full scan of the progress cache.
type ProgressBatch struct {
	Records   []ProgressRecord
	Malformed []MalformedRecord
}

// ProgressCache reads the engine's ephemeral transfer progress.
type ProgressCache interface {
	// Ping checks reachability and reports the round-trip time.
	Ping(ctx context.Context) (time.Duration, error)
	// ScanProgress reads every progress entry currently in the cache.
	ScanProgress(ctx context.Context) (ProgressBatch, error)
}
