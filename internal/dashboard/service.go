// Package dashboard assembles view models from the fact store, the progress
// snapshot, and the optional telemetry feed.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/progress"
	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

// Fixed grouping served by the playlist endpoints.
const (
	LibraryID   = "all"
	LibraryName = "Master Library"
)

// Network states.
const (
	NetworkOnline   = "ONLINE"
	NetworkOffline  = "OFFLINE"
	NetworkDisabled = "DISABLED"
)

const (
	defaultTrackLimit = 100
	defaultLogLimit   = 50
	defaultUser       = "SoulseekUser"
	defaultNode       = "Postgres Bridge"
	defaultQuality    = "FLAC / 320k"
)

// ErrRetryDisabled signals that retrying tracks is turned off.
var ErrRetryDisabled = errors.New("retry is disabled")

var tracer = otel.Tracer("github.com/JakeFAU/syncboard/internal/dashboard")

// SnapshotSource exposes the latest published progress snapshot.
type SnapshotSource interface {
	Snapshot() progress.Snapshot
}

// ActivityLog is the local, in-memory log feed.
type ActivityLog interface {
	Recent(limit int) []syncstate.LogEntry
	Append(entry syncstate.LogEntry)
}

// LogSource is the optional tracing-backend log feed.
type LogSource interface {
	Logs(ctx context.Context, limit int) ([]syncstate.LogEntry, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Config wires the Service. Cache, Activity and Telemetry may be nil.
type Config struct {
	Store      store.FactStore
	Cache      store.ProgressCache
	Progress   SnapshotSource
	Activity   ActivityLog
	Telemetry  LogSource
	Clock      Clock
	Logger     *zap.Logger
	User       string
	Node       string
	Quality    string
	TrackLimit int
	AllowRetry bool
}

// Service builds every read model served by the HTTP surface.
type Service struct {
	store      store.FactStore
	cache      store.ProgressCache
	progress   SnapshotSource
	activity   ActivityLog
	telemetry  LogSource
	clock      Clock
	logger     *zap.Logger
	user       string
	node       string
	quality    string
	trackLimit int
	allowRetry bool
}

// NewService validates cfg and applies defaults.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	if cfg.Progress == nil {
		return nil, fmt.Errorf("progress snapshot source is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	s := &Service{
		store:      cfg.Store,
		cache:      cfg.Cache,
		progress:   cfg.Progress,
		activity:   cfg.Activity,
		telemetry:  cfg.Telemetry,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		user:       cfg.User,
		node:       cfg.Node,
		quality:    cfg.Quality,
		trackLimit: cfg.TrackLimit,
		allowRetry: cfg.AllowRetry,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.user == "" {
		s.user = defaultUser
	}
	if s.node == "" {
		s.node = defaultNode
	}
	if s.quality == "" {
		s.quality = defaultQuality
	}
	if s.trackLimit <= 0 {
		s.trackLimit = defaultTrackLimit
	}
	return s, nil
}

// Stats rolls fleet counters and the current progress snapshot into one
// AggregateStats. On a store failure it returns a zeroed payload with the error.
func (s *Service) Stats(ctx context.Context) (syncstate.AggregateStats, error) {
	ctx, span := tracer.Start(ctx, "dashboard.Stats")
	defer span.End()

	counts, err := s.store.FleetCounts(ctx)
	if errors.Is(err, store.ErrSchemaMissing) {
		counts = syncstate.FleetCounts{SchemaReady: false, TableCounts: counts.TableCounts}
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		return syncstate.AggregateStats{TableCounts: map[string]int64{}}, fmt.Errorf("fleet counts: %w", err)
	}
	return syncstate.ComputeStats(counts, s.progress.Snapshot().Transfer()), nil
}

// Network summarizes the link to the progress cache.
func (s *Service) Network(ctx context.Context) syncstate.NetworkSummary {
	summary := syncstate.NetworkSummary{
		Status:         NetworkDisabled,
		User:           s.user,
		Node:           s.node,
		Latency:        "n/a",
		TotalBandwidth: syncstate.FormatBandwidth(s.progress.Snapshot().BytesPerSecond),
	}
	if s.cache == nil {
		return summary
	}
	latency, err := s.cache.Ping(ctx)
	if err != nil {
		summary.Status = NetworkOffline
		return summary
	}
	summary.Status = NetworkOnline
	summary.Latency = fmt.Sprintf("%dms", latency.Milliseconds())
	return summary
}

// Playlists lists the available groupings.
func (s *Service) Playlists(ctx context.Context) ([]syncstate.PlaylistSummary, error) {
	n, err := s.store.CountTracks(ctx)
	if err != nil && !errors.Is(err, store.ErrSchemaMissing) {
		return nil, fmt.Errorf("count tracks: %w", err)
	}
	return []syncstate.PlaylistSummary{{ID: LibraryID, Name: LibraryName, TrackCount: n}}, nil
}

// Playlist returns a grouping with every track resolved against the current
// progress snapshot. Unknown ids yield store.ErrNotFound.
func (s *Service) Playlist(ctx context.Context, id string) (syncstate.Playlist, error) {
	if id != LibraryID {
		return syncstate.Playlist{}, fmt.Errorf("playlist %q: %w", id, store.ErrNotFound)
	}
	ctx, span := tracer.Start(ctx, "dashboard.Playlist")
	defer span.End()

	snap := s.progress.Snapshot()
	playlist := syncstate.Playlist{
		ID:         LibraryID,
		Name:       LibraryName,
		Quality:    s.quality,
		LastSynced: s.lastSynced(snap),
		Tracks:     []syncstate.Track{},
	}
	facts, err := s.store.ListTrackFacts(ctx, s.trackLimit)
	if errors.Is(err, store.ErrSchemaMissing) {
		return playlist, nil
	}
	if err != nil {
		span.RecordError(err)
		return syncstate.Playlist{}, fmt.Errorf("list track facts: %w", err)
	}
	playlist.Tracks = make([]syncstate.Track, 0, len(facts))
	for _, f := range facts {
		playlist.Tracks = append(playlist.Tracks, syncstate.ResolveTrack(f, snap.Entry(f.TrackID)))
	}
	playlist.TrackCount = len(playlist.Tracks)
	span.SetAttributes(attribute.Int("tracks", playlist.TrackCount))
	return playlist, nil
}

func (s *Service) lastSynced(snap progress.Snapshot) string {
	at := snap.TakenAt
	if at.IsZero() {
		at = s.clock.Now()
	}
	return at.Format("15:04:05")
}

// Candidates returns the judged candidates for a track.
func (s *Service) Candidates(ctx context.Context, trackID int64) ([]syncstate.Candidate, error) {
	candidates, err := s.store.ListCandidates(ctx, trackID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	if candidates == nil {
		candidates = []syncstate.Candidate{}
	}
	return candidates, nil
}

// Logs merges telemetry entries with local activity, newest first. A
// telemetry failure only shrinks the feed.
func (s *Service) Logs(ctx context.Context, limit int) []syncstate.LogEntry {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	var out []syncstate.LogEntry
	if s.activity != nil {
		out = append(out, s.activity.Recent(limit)...)
	}
	if s.telemetry != nil {
		remote, err := s.telemetry.Logs(ctx, limit)
		if err != nil {
			s.logger.Debug("telemetry log feed unavailable", zap.Error(err))
		} else {
			out = append(out, remote...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []syncstate.LogEntry{}
	}
	return out
}

// Retry clears the rejection facts of a track so the engine picks it up again.
func (s *Service) Retry(ctx context.Context, trackID int64) (int64, error) {
	if !s.allowRetry {
		return 0, ErrRetryDisabled
	}
	cleared, err := s.store.ClearRejections(ctx, trackID)
	if err != nil {
		return 0, fmt.Errorf("clear rejections: %w", err)
	}
	s.logger.Info("track retry requested", zap.Int64("track_id", trackID), zap.Int64("cleared", cleared))
	if s.activity != nil {
		id := trackID
		s.activity.Append(syncstate.LogEntry{
			Timestamp: s.clock.Now().UnixMilli(),
			Message:   fmt.Sprintf("Track %d: retry requested, %d rejection(s) cleared", trackID, cleared),
			Level:     syncstate.LevelInfo,
			TrackID:   &id,
		})
	}
	return cleared, nil
}
