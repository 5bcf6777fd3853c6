// Package health reports the reachability of every dependency the dashboard
// reads from, plus the schema capabilities of the fact store.
package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/syncboard/internal/metrics"
	"github.com/JakeFAU/syncboard/internal/store"
)

// Dependency states reported in a Snapshot.
const (
	StateOnline       = "ONLINE"
	StateOffline      = "OFFLINE"
	StateConnected    = "CONNECTED"
	StateDisconnected = "DISCONNECTED"
	StateDisabled     = "DISABLED"
	StateUnknown      = "UNKNOWN"
	StateUnreachable  = "UNREACHABLE"
)

const defaultCheckTimeout = 3 * time.Second

// Snapshot is the diagnostic view served by /health.
type Snapshot struct {
	API    string          `json:"api"`
	DB     string          `json:"db"`
	Tables map[string]bool `json:"tables"`
	Cache  string          `json:"cache,omitempty"`
	// Telemetry is omitted when no tracing backend is configured.
	Telemetry     string    `json:"telemetry,omitempty"`
	SchemaVersion int       `json:"schemaVersion,omitempty"`
	Error         string    `json:"error,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
	// TargetURL is filled in by clients to show which API they tried.
	TargetURL string `json:"targetUrl,omitempty"`
}

// Ready reports whether the fact store is connected and every required table exists.
func (s Snapshot) Ready() bool {
	if s.DB != StateConnected || len(s.Tables) == 0 {
		return false
	}
	for _, ok := range s.Tables {
		if !ok {
			return false
		}
	}
	return true
}

// FactStore is the subset of the fact store the probe needs.
type FactStore interface {
	Ping(ctx context.Context) error
	Capabilities(ctx context.Context) (store.Capabilities, error)
}

// Cache checks progress cache reachability.
type Cache interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// Telemetry checks the optional tracing backend.
type Telemetry interface {
	Probe(ctx context.Context) error
}

// Clock supplies check timestamps.
type Clock interface {
	Now() time.Time
}

// Config wires the probe. Cache and Telemetry may be nil when unconfigured.
type Config struct {
	DB         FactStore
	Cache      Cache
	Telemetry  Telemetry
	Descriptor store.Descriptor
	Timeout    time.Duration
	Clock      Clock
	Logger     *zap.Logger
}

// Probe runs dependency checks concurrently, each under its own timeout.
type Probe struct {
	db         FactStore
	cache      Cache
	telemetry  Telemetry
	descriptor store.Descriptor
	timeout    time.Duration
	clock      Clock
	logger     *zap.Logger

	last atomic.Pointer[Snapshot]
}

// NewProbe validates cfg and returns a Probe.
func NewProbe(cfg Config) (*Probe, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("fact store is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if len(cfg.Descriptor.RequiredTables) == 0 {
		cfg.Descriptor = store.SchemaV1
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{
		db:         cfg.DB,
		cache:      cfg.Cache,
		telemetry:  cfg.Telemetry,
		descriptor: cfg.Descriptor,
		timeout:    timeout,
		clock:      cfg.Clock,
		logger:     logger,
	}, nil
}

// Check runs every dependency check and returns the combined snapshot. It
// never fails; each failure is folded into the snapshot.
func (p *Probe) Check(ctx context.Context) Snapshot {
	snap := Snapshot{
		API:    StateOnline,
		DB:     StateDisconnected,
		Tables: make(map[string]bool, len(p.descriptor.RequiredTables)),
		Cache:  StateDisabled,
	}
	for _, t := range p.descriptor.RequiredTables {
		snap.Tables[t] = false
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.Go(func() error {
		state, tables, version, errText := p.checkDB(ctx)
		mu.Lock()
		defer mu.Unlock()
		snap.DB = state
		for t, ok := range tables {
			snap.Tables[t] = ok
		}
		snap.SchemaVersion = version
		snap.Error = errText
		return nil
	})
	if p.cache != nil {
		g.Go(func() error {
			state := p.checkCache(ctx)
			mu.Lock()
			defer mu.Unlock()
			snap.Cache = state
			return nil
		})
	}
	if p.telemetry != nil {
		g.Go(func() error {
			state := p.checkTelemetry(ctx)
			mu.Lock()
			defer mu.Unlock()
			snap.Telemetry = state
			return nil
		})
	}
	_ = g.Wait()

	snap.CheckedAt = p.clock.Now()
	p.last.Store(&snap)
	return snap
}

// Last returns the most recent snapshot, running a check if none exists yet.
func (p *Probe) Last(ctx context.Context) Snapshot {
	if snap := p.last.Load(); snap != nil {
		return *snap
	}
	return p.Check(ctx)
}

func (p *Probe) checkDB(parent context.Context) (string, map[string]bool, int, string) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	if err := p.db.Ping(ctx); err != nil {
		metrics.SetDependencyUp("db", false)
		p.logger.Warn("fact store ping failed", zap.Error(err))
		return StateDisconnected, nil, 0, err.Error()
	}
	metrics.SetDependencyUp("db", true)

	caps, err := p.db.Capabilities(ctx)
	if err != nil {
		p.logger.Warn("schema capability check failed", zap.Error(err))
		return StateConnected, nil, 0, err.Error()
	}
	tables := make(map[string]bool, len(p.descriptor.RequiredTables))
	for _, t := range p.descriptor.RequiredTables {
		tables[t] = caps.HasTable(t)
	}
	errText := ""
	if missing := caps.Missing(p.descriptor); len(missing) > 0 {
		errText = "missing tables: " + strings.Join(missing, ", ")
	}
	return StateConnected, tables, caps.Version, errText
}

func (p *Probe) checkCache(parent context.Context) string {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()
	if _, err := p.cache.Ping(ctx); err != nil {
		metrics.SetDependencyUp("cache", false)
		p.logger.Warn("progress cache ping failed", zap.Error(err))
		return StateDisconnected
	}
	metrics.SetDependencyUp("cache", true)
	return StateConnected
}

func (p *Probe) checkTelemetry(parent context.Context) string {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()
	if err := p.telemetry.Probe(ctx); err != nil {
		metrics.SetDependencyUp("telemetry", false)
		p.logger.Debug("telemetry backend offline", zap.Error(err))
		return StateOffline
	}
	metrics.SetDependencyUp("telemetry", true)
	return StateOnline
}
