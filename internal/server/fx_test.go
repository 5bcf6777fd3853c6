package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/syncboard/internal/config"
	"github.com/JakeFAU/syncboard/internal/health"
	"github.com/JakeFAU/syncboard/internal/storage/memory"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

func memoryConfig(cacheDriver string) *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Port: 3124, RequestTimeout: 5 * time.Second},
		API:      config.APIConfig{TrackLimit: 100, AllowRetry: true, HandlerTimeout: time.Second},
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Cache:    config.CacheConfig{Driver: cacheDriver},
		Tracing:  config.TracingConfig{ServiceName: "syncboard-test", SampleRatio: 1},
		Scheduler: config.SchedulerConfig{
			CorrelationInterval: time.Hour,
			ProgressInterval:    time.Hour,
			HealthInterval:      time.Hour,
			TaskTimeout:         time.Second,
		},
		Progress: config.ProgressConfig{Step: 10, MaxBatchWait: 10 * time.Millisecond, LogEvents: true},
	}
}

func buildApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app, err := BuildWithOptions(context.Background(), cfg, Options{
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, app.Close(ctx))
	})
	return app
}

func getJSON(t *testing.T, h http.Handler, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestBuildWiresBackgroundTasks(t *testing.T) {
	t.Parallel()

	app := buildApp(t, memoryConfig(config.DriverMemory))
	require.NotNil(t, app.memFacts)
	require.NotNil(t, app.memCache)

	app.memFacts.AddTrack(memory.Track{ID: 7, Title: "Song", Artist: "Artist"})
	app.memFacts.AddSubmission(memory.Submission{ID: 70, TrackID: 7, FileID: 1, Username: "peer", Filename: "song.flac", Score: 0.9})
	app.memCache.Set(70, syncstate.ProgressEntry{BytesDownloaded: 40, TotalBytes: 100})

	require.True(t, app.sched.Trigger(TaskCorrelation))
	require.True(t, app.sched.Trigger(TaskProgress))
	require.True(t, app.sched.Trigger(TaskHealth))
	require.False(t, app.sched.Trigger("unknown"))

	var pl syncstate.Playlist
	require.Equal(t, http.StatusOK, getJSON(t, app.Handler(), "/api/playlists/all", &pl))
	require.Len(t, pl.Tracks, 1)
	require.Equal(t, syncstate.StatusDownloading, pl.Tracks[0].Status)
	require.Equal(t, 40, pl.Tracks[0].Progress)

	var snap health.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, app.Handler(), "/health", &snap))
	require.True(t, snap.Ready())
	require.Equal(t, health.StateConnected, snap.Cache)

	require.Eventually(t, func() bool {
		var logs []syncstate.LogEntry
		if getJSON(t, app.Handler(), "/logs", &logs) != http.StatusOK {
			return false
		}
		for _, entry := range logs {
			if entry.TrackID != nil && *entry.TrackID == 7 {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "transfer start reaches the activity feed")
}

func TestBuildWithDisabledCache(t *testing.T) {
	t.Parallel()

	app := buildApp(t, memoryConfig(config.DriverDisabled))
	require.Nil(t, app.cache)
	require.True(t, app.sched.Trigger(TaskProgress))

	var snap health.Snapshot
	require.Equal(t, http.StatusOK, getJSON(t, app.Handler(), "/health", &snap))
	require.Equal(t, health.StateDisabled, snap.Cache)

	var network syncstate.NetworkSummary
	require.Equal(t, http.StatusOK, getJSON(t, app.Handler(), "/network", &network))
	require.Equal(t, "0.0 MB/s", network.TotalBandwidth)
}

func TestBuildRejectsBadPostgresDSN(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig(config.DriverDisabled)
	cfg.Database = config.DatabaseConfig{Driver: config.DriverPostgres, DSN: "::not a dsn::"}
	_, err := BuildWithOptions(context.Background(), cfg, Options{
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
	})
	require.ErrorContains(t, err, "fact store init failed")
}
