package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const (
	defaultLookback = time.Hour
	defaultTimeout  = 2 * time.Second
)

// ErrUnconfigured signals that no tracing backend is configured.
var ErrUnconfigured = errors.New("telemetry backend not configured")

// JaegerConfig points the log source at a Jaeger query service.
type JaegerConfig struct {
	BaseURL  string
	Service  string
	Timeout  time.Duration
	Lookback time.Duration
}

// JaegerSource reads recent spans from the Jaeger query API and turns them
// into log feed entries. Every failure is returned to the caller, which
// treats the feed as best-effort.
type JaegerSource struct {
	http     *resty.Client
	service  string
	lookback time.Duration
}

// NewJaegerSource builds a source. The HTTP client never retries so an
// offline backend costs at most one timeout per call.
func NewJaegerSource(cfg JaegerConfig) (*JaegerSource, error) {
	if cfg.BaseURL == "" {
		return nil, ErrUnconfigured
	}
	if cfg.Service == "" {
		return nil, fmt.Errorf("telemetry.service is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = defaultLookback
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	return &JaegerSource{http: client, service: cfg.Service, lookback: lookback}, nil
}

// Probe checks that the query service answers.
func (s *JaegerSource) Probe(ctx context.Context) error {
	resp, err := s.http.R().SetContext(ctx).Get("/api/services")
	if err != nil {
		return fmt.Errorf("probe jaeger: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("probe jaeger: status %d", resp.StatusCode())
	}
	return nil
}

type jaegerResponse struct {
	Data []jaegerTrace `json:"data"`
}

type jaegerTrace struct {
	TraceID string       `json:"traceID"`
	Spans   []jaegerSpan `json:"spans"`
}

type jaegerSpan struct {
	TraceID       string      `json:"traceID"`
	SpanID        string      `json:"spanID"`
	OperationName string      `json:"operationName"`
	StartTime     int64       `json:"startTime"`
	Tags          []jaegerKV  `json:"tags"`
	Logs          []jaegerLog `json:"logs"`
}

type jaegerLog struct {
	Timestamp int64      `json:"timestamp"`
	Fields    []jaegerKV `json:"fields"`
}

type jaegerKV struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Logs returns up to limit entries derived from recent traces, newest first.
func (s *JaegerSource) Logs(ctx context.Context, limit int) ([]syncstate.LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var body jaegerResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"service":  s.service,
			"limit":    strconv.Itoa(limit),
			"lookback": s.lookback.String(),
		}).
		SetResult(&body).
		Get("/api/traces")
	if err != nil {
		return nil, fmt.Errorf("query jaeger traces: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("query jaeger traces: status %d", resp.StatusCode())
	}

	var out []syncstate.LogEntry
	for _, trace := range body.Data {
		for _, span := range trace.Spans {
			out = append(out, spanEntries(span)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func spanEntries(span jaegerSpan) []syncstate.LogEntry {
	base := syncstate.LogEntry{
		ID:        span.TraceID + ":" + span.SpanID,
		Timestamp: span.StartTime / 1000,
		Message:   span.OperationName,
		Level:     syncstate.LevelInfo,
	}
	applyFields(&base, span.Tags)
	if len(span.Logs) == 0 {
		return []syncstate.LogEntry{base}
	}
	out := make([]syncstate.LogEntry, 0, len(span.Logs))
	for i, l := range span.Logs {
		entry := base
		entry.ID = fmt.Sprintf("%s:%d", base.ID, i)
		entry.Timestamp = l.Timestamp / 1000
		applyFields(&entry, l.Fields)
		out = append(out, entry)
	}
	return out
}

func applyFields(entry *syncstate.LogEntry, kvs []jaegerKV) {
	for _, kv := range kvs {
		switch kv.Key {
		case "message", "event":
			if v, ok := stringValue(kv.Value); ok && v != "" {
				entry.Message = v
			}
		case "level":
			if v, ok := stringValue(kv.Value); ok {
				switch lvl := syncstate.LogLevel(strings.ToLower(v)); lvl {
				case syncstate.LevelDebug, syncstate.LevelInfo, syncstate.LevelWarn, syncstate.LevelError:
					entry.Level = lvl
				}
			}
		case "error":
			if v, ok := boolValue(kv.Value); ok && v {
				entry.Level = syncstate.LevelError
			}
		case "track.id", "track_id":
			if v, ok := intValue(kv.Value); ok {
				entry.TrackID = &v
			}
		case "progress":
			if v, ok := intValue(kv.Value); ok && v >= 0 && v <= 100 {
				pct := int(v)
				entry.Progress = &pct
			}
		}
	}
}

func stringValue(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func boolValue(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	if s, ok := stringValue(raw); ok {
		v, err := strconv.ParseBool(s)
		return v, err == nil
	}
	return false, false
}

func intValue(raw json.RawMessage) (int64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int64(f), true
	}
	if s, ok := stringValue(raw); ok {
		v, err := strconv.ParseInt(s, 10, 64)
		return v, err == nil
	}
	return 0, false
}
