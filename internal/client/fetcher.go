package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/syncboard/internal/health"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultLogLimit     = 20
)

// ViewModel is everything the steady-state view renders.
type ViewModel struct {
	Stats     syncstate.AggregateStats
	Network   syncstate.NetworkSummary
	Playlists []syncstate.PlaylistSummary
	// Playlist is the detail of the first playlist, nil when none exists.
	Playlist *syncstate.Playlist
	// Logs is best-effort; a failed log fetch leaves it empty.
	Logs []syncstate.LogEntry
}

// FetcherConfig points the fetcher at the dashboard API.
type FetcherConfig struct {
	BaseURL  string
	Timeout  time.Duration
	LogLimit int
}

// HTTPFetcher reads the dashboard REST surface.
type HTTPFetcher struct {
	http     *resty.Client
	baseURL  string
	logLimit int
}

type apiError struct {
	Error string `json:"error"`
}

// NewHTTPFetcher builds a fetcher. Requests are never retried; the polling
// loop owns retry timing.
func NewHTTPFetcher(cfg FetcherConfig) (*HTTPFetcher, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("client.api_url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("parse api url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	logLimit := cfg.LogLimit
	if logLimit <= 0 {
		logLimit = defaultLogLimit
	}
	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &HTTPFetcher{http: client, baseURL: base, logLimit: logLimit}, nil
}

// Health fetches the diagnostic snapshot. It never fails: an unreachable API
// or a bad status becomes a snapshot describing the problem.
func (f *HTTPFetcher) Health(ctx context.Context) health.Snapshot {
	target := f.baseURL + "/health"
	var snap health.Snapshot
	resp, err := f.http.R().SetContext(ctx).SetResult(&snap).Get("/health")
	if err != nil {
		return health.Snapshot{
			API:       health.StateUnreachable,
			DB:        health.StateUnknown,
			Tables:    map[string]bool{},
			TargetURL: target,
			Error:     fmt.Sprintf("could not reach %s: %v", target, err),
		}
	}
	if resp.IsError() {
		return health.Snapshot{
			API:       health.StateOffline,
			DB:        health.StateUnknown,
			Tables:    map[string]bool{},
			TargetURL: target,
			Error:     fmt.Sprintf("api returned status %d", resp.StatusCode()),
		}
	}
	if snap.Tables == nil {
		snap.Tables = map[string]bool{}
	}
	snap.TargetURL = target
	return snap
}

// ViewModel fetches stats, network and playlists concurrently, then the
// detail of the first playlist. Logs are fetched last and may be missing.
func (f *HTTPFetcher) ViewModel(ctx context.Context) (ViewModel, error) {
	var vm ViewModel
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.get(gctx, "/stats", &vm.Stats) })
	g.Go(func() error { return f.get(gctx, "/network", &vm.Network) })
	g.Go(func() error { return f.get(gctx, "/playlists", &vm.Playlists) })
	if err := g.Wait(); err != nil {
		return ViewModel{}, err
	}
	if len(vm.Playlists) > 0 {
		var detail syncstate.Playlist
		if err := f.get(ctx, "/playlists/"+url.PathEscape(vm.Playlists[0].ID), &detail); err != nil {
			return ViewModel{}, err
		}
		vm.Playlist = &detail
	}
	if err := f.getQuery(ctx, "/logs", map[string]string{"limit": strconv.Itoa(f.logLimit)}, &vm.Logs); err != nil {
		vm.Logs = nil
	}
	return vm, nil
}

// RetryTrack asks the API to clear the track's rejections.
func (f *HTTPFetcher) RetryTrack(ctx context.Context, trackID int64) error {
	var apiErr apiError
	resp, err := f.http.R().SetContext(ctx).SetError(&apiErr).
		Post("/tracks/" + strconv.FormatInt(trackID, 10) + "/retry")
	if err != nil {
		return fmt.Errorf("retry track %d: %w", trackID, err)
	}
	if resp.IsError() {
		return statusError("retry track", resp.StatusCode(), apiErr)
	}
	return nil
}

func (f *HTTPFetcher) get(ctx context.Context, path string, out any) error {
	return f.getQuery(ctx, path, nil, out)
}

func (f *HTTPFetcher) getQuery(ctx context.Context, path string, query map[string]string, out any) error {
	var apiErr apiError
	req := f.http.R().SetContext(ctx).SetResult(out).SetError(&apiErr)
	if len(query) > 0 {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if resp.IsError() {
		return statusError("get "+path, resp.StatusCode(), apiErr)
	}
	return nil
}

// ErrStatus is wrapped by every error caused by a non-2xx response.
var ErrStatus = errors.New("unexpected status")

func statusError(op string, code int, apiErr apiError) error {
	if apiErr.Error != "" {
		return fmt.Errorf("%s: %w %d: %s", op, ErrStatus, code, apiErr.Error)
	}
	return fmt.Errorf("%s: %w %d", op, ErrStatus, code)
}
