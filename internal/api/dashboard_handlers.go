package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/dashboard"
	"github.com/JakeFAU/syncboard/internal/health"
	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const (
	defaultLogLimit  = 50
	maxLogLimit      = 500
	handlerTimeout   = 5 * time.Second
	unavailableError = "fact store unavailable"
)

// Dashboard builds the read models served by the handlers.
type Dashboard interface {
	Stats(ctx context.Context) (syncstate.AggregateStats, error)
	Network(ctx context.Context) syncstate.NetworkSummary
	Playlists(ctx context.Context) ([]syncstate.PlaylistSummary, error)
	Playlist(ctx context.Context, id string) (syncstate.Playlist, error)
	Candidates(ctx context.Context, trackID int64) ([]syncstate.Candidate, error)
	Logs(ctx context.Context, limit int) []syncstate.LogEntry
	Retry(ctx context.Context, trackID int64) (int64, error)
}

// HealthChecker runs the dependency probe.
type HealthChecker interface {
	Check(ctx context.Context) health.Snapshot
}

// DashboardHandler exposes the dashboard read models.
type DashboardHandler struct {
	dash    Dashboard
	probe   HealthChecker
	timeout time.Duration
	logger  *zap.Logger
}

// NewDashboardHandler wires the dashboard, probe and logger. A non-positive
// timeout selects the default.
func NewDashboardHandler(dash Dashboard, probe HealthChecker, logger *zap.Logger, timeout time.Duration) *DashboardHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = handlerTimeout
	}
	return &DashboardHandler{dash: dash, probe: probe, timeout: timeout, logger: logger}
}

type statsResponse struct {
	syncstate.AggregateStats
	Error string `json:"error,omitempty"`
}

// Health handles GET /health. It always answers 200; failures are described
// inside the snapshot.
func (h *DashboardHandler) Health(w http.ResponseWriter, r *http.Request) {
	if h.probe == nil {
		writeJSON(w, http.StatusOK, health.Snapshot{API: health.StateOnline, DB: health.StateUnknown})
		return
	}
	writeJSON(w, http.StatusOK, h.probe.Check(r.Context()))
}

// Stats handles GET /stats. A store failure yields a zeroed payload with an
// error field and 503.
func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	stats, err := h.dash.Stats(ctx)
	if err != nil {
		h.logger.Warn("stats failed", zap.Error(err))
		writeJSON(w, statusFor(err), statsResponse{AggregateStats: stats, Error: messageFor(err)})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{AggregateStats: stats})
}

// Network handles GET /network.
func (h *DashboardHandler) Network(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	writeJSON(w, http.StatusOK, h.dash.Network(ctx))
}

// Playlists handles GET /playlists.
func (h *DashboardHandler) Playlists(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	playlists, err := h.dash.Playlists(ctx)
	if err != nil {
		h.logger.Warn("list playlists failed", zap.Error(err))
		writeError(w, statusFor(err), messageFor(err))
		return
	}
	writeJSON(w, http.StatusOK, playlists)
}

// Playlist handles GET /playlists/{playlist_id}: 404 for unknown ids and 503
// when the fact store cannot answer.
func (h *DashboardHandler) Playlist(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	playlist, err := h.dash.Playlist(ctx, chi.URLParam(r, "playlist_id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "playlist not found")
			return
		}
		h.logger.Warn("load playlist failed", zap.Error(err))
		writeError(w, statusFor(err), messageFor(err))
		return
	}
	writeJSON(w, http.StatusOK, playlist)
}

// Candidates handles GET /tracks/{track_id}/candidates.
func (h *DashboardHandler) Candidates(w http.ResponseWriter, r *http.Request) {
	trackID, err := parseTrackID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	candidates, err := h.dash.Candidates(ctx, trackID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "track not found")
			return
		}
		h.logger.Warn("list candidates failed", zap.Int64("track_id", trackID), zap.Error(err))
		writeError(w, statusFor(err), messageFor(err))
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

// Logs handles GET /logs?limit=. The feed is best-effort and never fails.
func (h *DashboardHandler) Logs(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, defaultLogLimit, maxLogLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	writeJSON(w, http.StatusOK, h.dash.Logs(ctx, limit))
}

// Retry handles POST /tracks/{track_id}/retry.
func (h *DashboardHandler) Retry(w http.ResponseWriter, r *http.Request) {
	trackID, err := parseTrackID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if _, err := h.dash.Retry(ctx, trackID); err != nil {
		switch {
		case errors.Is(err, dashboard.ErrRetryDisabled):
			writeError(w, http.StatusForbidden, "retry is disabled")
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "track not found")
		default:
			h.logger.Warn("retry failed", zap.Int64("track_id", trackID), zap.Error(err))
			writeError(w, statusFor(err), messageFor(err))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"trackId": trackID})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrSchemaMissing), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, store.ErrSchemaMissing):
		return "schema missing"
	case errors.Is(err, store.ErrUnavailable):
		return unavailableError
	case errors.Is(err, context.DeadlineExceeded):
		return "fact store timed out"
	default:
		return "internal error"
	}
}

func parseTrackID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "track_id")
	if raw == "" {
		return 0, errors.New("track_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid track_id")
	}
	return id, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	return min(val, maxLimit), nil
}
