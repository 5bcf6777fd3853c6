package syncstate

import "time"

// Status is the derived lifecycle state of a track.
type Status string

// Lifecycle states in their intended transition order. FAILED is reachable
// from FILTERING or DOWNLOADING only while no completed download exists.
const (
	StatusSearching   Status = "SEARCHING"
	StatusFiltering   Status = "FILTERING"
	StatusDownloading Status = "DOWNLOADING"
	StatusFinalizing  Status = "FINALIZING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
)

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusSearching, StatusFiltering, StatusDownloading, StatusFinalizing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Active reports whether the status represents an in-flight transfer.
func (s Status) Active() bool {
	return s == StatusDownloading || s == StatusFinalizing
}

// TrackFacts are the durable facts the engine has recorded for one track.
type TrackFacts struct {
	// TrackID is the search_items primary key.
	TrackID int64
	Title   string
	Artist  string
	Album   string
	// Completed is true once any submission of the track led to a downloaded file.
	Completed bool
	// Rejected is true when at least one rejection row exists for the track.
	Rejected bool
	// RejectReason holds the reason of the most recent rejection, when recorded.
	RejectReason *string
	// CandidatesCount is the number of judging submissions linked to the track.
	CandidatesCount int
	// BestScore is the highest similarity judged so far.
	BestScore *float64
	// Username and Filename identify the matched (or best) candidate file.
	Username *string
	Filename *string
}

// ProgressEntry is the ephemeral byte-level progress of one transfer.
type ProgressEntry struct {
	BytesDownloaded int64 `json:"bytes_downloaded"`
	TotalBytes      int64 `json:"total_bytes"`
	Completed       bool  `json:"completed"`
}

// Remaining returns the bytes left to transfer, never negative.
func (e ProgressEntry) Remaining() int64 {
	if e.Completed || e.TotalBytes <= e.BytesDownloaded {
		return 0
	}
	return e.TotalBytes - e.BytesDownloaded
}

// Track is the per-track view model served to clients.
type Track struct {
	ID              int64    `json:"id"`
	Title           string   `json:"title"`
	Artist          string   `json:"artist"`
	Album           string   `json:"album"`
	Status          Status   `json:"status"`
	Progress        int      `json:"progress"`
	CandidatesCount int      `json:"candidatesCount"`
	Score           *float64 `json:"score,omitempty"`
	RejectReason    *string  `json:"rejectReason,omitempty"`
	Username        *string  `json:"username,omitempty"`
	Filename        *string  `json:"filename,omitempty"`
}

// Candidate is one judged remote file proposed for a track.
type Candidate struct {
	// ID is the judging submission id.
	ID       int64   `json:"id"`
	FileID   int64   `json:"fileId"`
	Username string  `json:"username"`
	Filename string  `json:"filename"`
	Score    float64 `json:"score"`
}

// PlaylistSummary describes a logical grouping without its tracks.
type PlaylistSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TrackCount int    `json:"trackCount"`
}

// Playlist is a grouping with its resolved tracks.
type Playlist struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	TrackCount int     `json:"trackCount"`
	Quality    string  `json:"quality"`
	LastSynced string  `json:"lastSynced"`
	Tracks     []Track `json:"tracks"`
}

// NetworkSummary describes the link between the dashboard and the engine's cache.
type NetworkSummary struct {
	Status         string `json:"status"`
	User           string `json:"user"`
	Node           string `json:"node"`
	Latency        string `json:"latency"`
	TotalBandwidth string `json:"totalBandwidth"`
}

// LogLevel classifies log feed entries.
type LogLevel string

// Supported log levels.
const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one line in the best-effort activity feed.
type LogEntry struct {
	ID        string   `json:"id"`
	Timestamp int64    `json:"timestamp"`
	Message   string   `json:"message"`
	Level     LogLevel `json:"level"`
	TrackID   *int64   `json:"trackId,omitempty"`
	Progress  *int     `json:"progress,omitempty"`
}

// Time returns the entry timestamp as a time.Time.
func (e LogEntry) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}
