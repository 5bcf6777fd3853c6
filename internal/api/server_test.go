package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/correlation"
	"github.com/JakeFAU/syncboard/internal/dashboard"
	"github.com/JakeFAU/syncboard/internal/health"
	"github.com/JakeFAU/syncboard/internal/progress"
	"github.com/JakeFAU/syncboard/internal/storage/memory"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

// harness wires the real dashboard stack over in-memory adapters.
type harness struct {
	db     *memory.FactStore
	cache  *memory.ProgressCache
	links  *correlation.Map
	poller *progress.Poller
	clock  *fakeClock
	server *Server
}

func newHarness(t *testing.T, allowRetry bool) *harness {
	t.Helper()
	h := &harness{
		db:    memory.NewFactStore(),
		cache: memory.NewProgressCache(),
		clock: &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)},
	}
	var err error
	h.links, err = correlation.NewMap(h.db, h.clock, zap.NewNop())
	require.NoError(t, err)
	h.poller, err = progress.NewPoller(progress.PollerConfig{Cache: h.cache, Resolver: h.links, Clock: h.clock})
	require.NoError(t, err)
	dash, err := dashboard.NewService(dashboard.Config{
		Store:      h.db,
		Cache:      h.cache,
		Progress:   h.poller,
		Clock:      h.clock,
		AllowRetry: allowRetry,
	})
	require.NoError(t, err)
	probe, err := health.NewProbe(health.Config{DB: h.db, Cache: h.cache, Clock: h.clock})
	require.NoError(t, err)
	h.server = NewServer(dash, probe, zap.NewNop(), Options{})
	return h
}

// tick runs one round of the background tasks.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	h.clock.now = h.clock.now.Add(time.Second)
	require.NoError(t, h.links.Refresh(context.Background()))
	_, err := h.poller.Poll(context.Background())
	require.NoError(t, err)
}

func (h *harness) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) playlist(t *testing.T) syncstate.Playlist {
	t.Helper()
	rec := h.do(t, http.MethodGet, "/playlists/all")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out syncstate.Playlist
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestTrackLifecycleThroughPlaylist(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	// A track with no submissions is still being searched for.
	h.db.AddTrack(memory.Track{ID: 7, Title: "Song", Artist: "Artist", Album: "Album"})
	h.tick(t)
	playlist := h.playlist(t)
	require.Len(t, playlist.Tracks, 1)
	require.Equal(t, syncstate.StatusSearching, playlist.Tracks[0].Status)
	require.Equal(t, 0, playlist.Tracks[0].Progress)
	require.Equal(t, 0, playlist.Tracks[0].CandidatesCount)

	// A correlated transfer at a quarter of its size.
	h.db.AddSubmission(memory.Submission{ID: 70, TrackID: 7, Username: "peer", Filename: "song.flac", Score: 0.9})
	h.cache.Set(70, syncstate.ProgressEntry{BytesDownloaded: 50, TotalBytes: 200})
	h.tick(t)
	playlist = h.playlist(t)
	require.Equal(t, syncstate.StatusDownloading, playlist.Tracks[0].Status)
	require.Equal(t, 25, playlist.Tracks[0].Progress)

	// The transfer finished and an earlier failed attempt left a rejection.
	h.db.AddSubmission(memory.Submission{ID: 69, TrackID: 7, Username: "old", Filename: "song.mp3", Score: 0.3})
	h.db.Reject(69, "too short")
	h.cache.Delete(70)
	h.db.MarkDownloaded("song.flac")
	h.tick(t)
	playlist = h.playlist(t)
	require.Equal(t, syncstate.StatusCompleted, playlist.Tracks[0].Status)
	require.Equal(t, 100, playlist.Tracks[0].Progress)
	require.Nil(t, playlist.Tracks[0].RejectReason)
}

func TestRoutesMountedUnderAPIPrefix(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.db.AddTrack(memory.Track{ID: 1, Title: "One"})
	for _, path := range []string{"/playlists", "/api/playlists", "/api/playlists/all", "/api/stats", "/api/network", "/api/logs", "/healthz"} {
		rec := h.do(t, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.NotEmpty(t, rec.Header().Get("X-Request-ID"), path)
	}

	var playlists []syncstate.PlaylistSummary
	require.NoError(t, json.Unmarshal(h.do(t, http.MethodGet, "/api/playlists").Body.Bytes(), &playlists))
	require.Equal(t, []syncstate.PlaylistSummary{{ID: "all", Name: "Master Library", TrackCount: 1}}, playlists)
}

func TestHealthAlwaysOK(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.db.SetUnavailable(errors.New("connection refused"))
	rec := h.do(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap health.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, health.StateOnline, snap.API)
	require.Equal(t, health.StateDisconnected, snap.DB)
	require.NotEmpty(t, snap.Error)
}

func TestStatsPayloads(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.db.SetTables()
	rec := h.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Schema Missing", body["remainingTime"])
	require.NotContains(t, body, "error")

	h = newHarness(t, false)
	h.db.SetUnavailable(errors.New("connection refused"))
	rec = h.do(t, http.MethodGet, "/stats")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body = map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "fact store unavailable", body["error"])
	require.InDelta(t, 0, body["totalTracks"], 0)
}

func TestPlaylistErrors(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/playlists/other").Code)

	h.db.SetUnavailable(errors.New("connection refused"))
	rec := h.do(t, http.MethodGet, "/playlists/all")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "fact store unavailable")
}

func TestCandidatesRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.db.AddTrack(memory.Track{ID: 3})
	h.db.AddSubmission(memory.Submission{ID: 30, TrackID: 3, FileID: 300, Username: "a", Filename: "a.flac", Score: 0.5})
	h.db.AddSubmission(memory.Submission{ID: 31, TrackID: 3, FileID: 301, Username: "b", Filename: "b.flac", Score: 0.8})

	rec := h.do(t, http.MethodGet, "/tracks/3/candidates")
	require.Equal(t, http.StatusOK, rec.Code)
	var candidates []syncstate.Candidate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &candidates))
	require.Len(t, candidates, 2)
	require.Equal(t, int64(31), candidates[0].ID)
	require.Equal(t, int64(301), candidates[0].FileID)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/tracks/abc/candidates").Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/tracks/-1/candidates").Code)
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/tracks/99/candidates").Code)
}

func TestRetryRoute(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.db.AddTrack(memory.Track{ID: 5})
	require.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, "/tracks/5/retry").Code)

	h = newHarness(t, true)
	h.db.AddTrack(memory.Track{ID: 5})
	h.db.AddSubmission(memory.Submission{ID: 50, TrackID: 5, Filename: "x.flac"})
	h.db.Reject(50, "bad")
	rec := h.do(t, http.MethodPost, "/api/tracks/5/retry")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"trackId":5}`, rec.Body.String())
	require.Equal(t, syncstate.StatusFiltering, h.playlist(t).Tracks[0].Status)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/tracks/6/retry").Code)
	require.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodGet, "/tracks/5/retry").Code)
}

func TestLogsLimitValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodGet, "/logs?limit=0").Code)
	rec := h.do(t, http.MethodGet, "/logs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}

func TestNetworkReportsCache(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	var summary syncstate.NetworkSummary
	require.NoError(t, json.Unmarshal(h.do(t, http.MethodGet, "/network").Body.Bytes(), &summary))
	require.Equal(t, dashboard.NetworkOnline, summary.Status)
	require.Equal(t, "Postgres Bridge", summary.Node)

	h.cache.SetUnavailable(errors.New("down"))
	require.NoError(t, json.Unmarshal(h.do(t, http.MethodGet, "/network").Body.Bytes(), &summary))
	require.Equal(t, dashboard.NetworkOffline, summary.Status)
}

type panickingDashboard struct{ Dashboard }

func (panickingDashboard) Network(context.Context) syncstate.NetworkSummary { panic("boom") }

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	server := NewServer(panickingDashboard{}, nil, zap.NewNop(), Options{})
	req := httptest.NewRequest(http.MethodGet, "/network", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	require.Contains(t, rec.Body.String(), "internal server error")
}

func TestHealthWithoutProbe(t *testing.T) {
	t.Parallel()

	server := NewServer(panickingDashboard{}, nil, zap.NewNop(), Options{})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"db":"UNKNOWN"`)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.do(t, http.MethodGet, "/healthz")
	rec := h.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}
