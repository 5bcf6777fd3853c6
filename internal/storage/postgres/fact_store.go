// Package postgres provides the Postgres-backed fact store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const undefinedTable = "42P01"

var tracer = otel.Tracer("github.com/JakeFAU/syncboard/internal/storage/postgres")

// FactStoreConfig controls the Postgres connection pool used for fact queries.
type FactStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	QueryTimeout    time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// FactStore reads engine facts from Postgres. It never creates or migrates tables.
type FactStore struct {
	pool         pool
	schema       store.Descriptor
	queryTimeout time.Duration
	caps         atomic.Pointer[store.Capabilities]
}

var _ store.FactStore = (*FactStore)(nil)

// NewFactStore creates a pool from cfg. The pool connects lazily, so an
// unreachable database does not fail startup.
func NewFactStore(ctx context.Context, cfg FactStoreConfig) (*FactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewFactStoreWithPool(p, cfg.QueryTimeout)
}

// NewFactStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewFactStoreWithPool(p pool, queryTimeout time.Duration) (*FactStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &FactStore{pool: p, schema: store.SchemaV1, queryTimeout: queryTimeout}, nil
}

// Close releases the underlying pool resources.
func (s *FactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping performs a lightweight connectivity query.
func (s *FactStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", store.ErrUnavailable, err)
	}
	return nil
}

// Capabilities checks the catalog for every table and optional column the
// schema descriptor names, and caches the result for later queries.
func (s *FactStore) Capabilities(ctx context.Context) (store.Capabilities, error) {
	ctx, span := tracer.Start(ctx, "postgres.Capabilities")
	defer span.End()
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tables, err := s.existingTables(ctx)
	if err != nil {
		return store.Capabilities{}, endSpan(span, classify("list tables", err))
	}
	columns, err := s.existingColumns(ctx)
	if err != nil {
		return store.Capabilities{}, endSpan(span, classify("list columns", err))
	}
	caps := s.schema.Evaluate(tables, columns)
	s.caps.Store(&caps)
	span.SetAttributes(attribute.Bool("schema.ready", caps.Ready(s.schema)))
	return caps, nil
}

func (s *FactStore) existingTables(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, sqlExistingTables, s.schema.Tables())
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, name := range names {
		out[name] = true
	}
	return out, nil
}

func (s *FactStore) existingColumns(ctx context.Context) (map[store.Column]bool, error) {
	tables := make([]string, 0, len(s.schema.OptionalColumns))
	for _, c := range s.schema.OptionalColumns {
		tables = append(tables, c.Table)
	}
	rows, err := s.pool.Query(ctx, sqlExistingColumns, tables)
	if err != nil {
		return nil, err
	}
	out := make(map[store.Column]bool)
	var c store.Column
	_, err = pgx.ForEachRow(rows, []any{&c.Table, &c.Name}, func() error {
		out[c] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// capabilities returns the cached descriptor evaluation, probing the catalog
// on first use.
func (s *FactStore) capabilities(ctx context.Context) (store.Capabilities, error) {
	if caps := s.caps.Load(); caps != nil {
		return *caps, nil
	}
	return s.Capabilities(ctx)
}

// ListTrackFacts returns durable facts for the newest tracks.
func (s *FactStore) ListTrackFacts(ctx context.Context, limit int) ([]syncstate.TrackFacts, error) {
	ctx, span := tracer.Start(ctx, "postgres.ListTrackFacts", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()

	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if !caps.HasTable(store.TableSearchItems) {
		return []syncstate.TrackFacts{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, trackFactsQuery(caps), limit)
	if err != nil {
		return nil, endSpan(span, s.classifyAndForget("list track facts", err))
	}
	facts, err := pgx.CollectRows(rows, scanTrackFacts)
	if err != nil {
		return nil, endSpan(span, s.classifyAndForget("scan track facts", err))
	}
	span.SetAttributes(attribute.Int("rows", len(facts)))
	return facts, nil
}

func scanTrackFacts(row pgx.CollectableRow) (syncstate.TrackFacts, error) {
	var (
		f          syncstate.TrackFacts
		candidates int64
	)
	err := row.Scan(
		&f.TrackID,
		&f.Title,
		&f.Artist,
		&f.Album,
		&f.Completed,
		&candidates,
		&f.BestScore,
		&f.Rejected,
		&f.RejectReason,
		&f.Username,
		&f.Filename,
	)
	f.CandidatesCount = int(candidates)
	return f, err
}

// CountTracks returns the number of tracks in the library.
func (s *FactStore) CountTracks(ctx context.Context) (int, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return 0, err
	}
	if !caps.HasTable(store.TableSearchItems) {
		return 0, store.ErrSchemaMissing
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var n int64
	if err := s.pool.QueryRow(ctx, sqlCountTracks).Scan(&n); err != nil {
		return 0, s.classifyAndForget("count tracks", err)
	}
	return int(n), nil
}

// FleetCounts returns lifecycle counters and per-table row counts.
func (s *FactStore) FleetCounts(ctx context.Context) (syncstate.FleetCounts, error) {
	ctx, span := tracer.Start(ctx, "postgres.FleetCounts")
	defer span.End()

	caps, err := s.capabilities(ctx)
	if err != nil {
		return syncstate.FleetCounts{}, endSpan(span, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	out := syncstate.FleetCounts{
		SchemaReady: caps.Ready(s.schema),
		TableCounts: map[string]int64{},
	}
	if query := tableCountsQuery(caps, s.schema.Tables()); query != "" {
		rows, err := s.pool.Query(ctx, query)
		if err != nil {
			return out, endSpan(span, s.classifyAndForget("count tables", err))
		}
		var (
			name string
			n    int64
		)
		_, err = pgx.ForEachRow(rows, []any{&name, &n}, func() error {
			out.TableCounts[name] = n
			return nil
		})
		if err != nil {
			return out, endSpan(span, s.classifyAndForget("scan table counts", err))
		}
	}
	if !out.SchemaReady {
		return out, nil
	}

	var total, completed, failed int64
	if err := s.pool.QueryRow(ctx, fleetCountsQuery(caps)).Scan(&total, &completed, &failed); err != nil {
		return out, endSpan(span, s.classifyAndForget("count fleet", err))
	}
	out.Total = int(total)
	out.Completed = int(completed)
	out.Failed = int(failed)
	return out, nil
}

// ListSubmissionTracks returns every submission→track link.
func (s *FactStore) ListSubmissionTracks(ctx context.Context) ([]store.SubmissionTrack, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, err
	}
	if !caps.HasTable(store.TableJudgeSubmissions) {
		return nil, store.ErrSchemaMissing
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, sqlSubmissionTracks)
	if err != nil {
		return nil, s.classifyAndForget("list submissions", err)
	}
	links, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SubmissionTrack, error) {
		var link store.SubmissionTrack
		err := row.Scan(&link.SubmissionID, &link.TrackID)
		return link, err
	})
	if err != nil {
		return nil, s.classifyAndForget("scan submissions", err)
	}
	return links, nil
}

// ListCandidates returns judged candidates for a track, best score first.
func (s *FactStore) ListCandidates(ctx context.Context, trackID int64) ([]syncstate.Candidate, error) {
	ctx, span := tracer.Start(ctx, "postgres.ListCandidates", trace.WithAttributes(attribute.Int64("track.id", trackID)))
	defer span.End()

	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, endSpan(span, err)
	}
	if !caps.HasTable(store.TableSearchItems) || !caps.HasTable(store.TableJudgeSubmissions) {
		return nil, endSpan(span, store.ErrSchemaMissing)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := s.pool.QueryRow(ctx, sqlTrackExists, trackID).Scan(&exists); err != nil {
		return nil, endSpan(span, s.classifyAndForget("lookup track", err))
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	rows, err := s.pool.Query(ctx, candidatesQuery(caps), trackID)
	if err != nil {
		return nil, endSpan(span, s.classifyAndForget("list candidates", err))
	}
	candidates, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (syncstate.Candidate, error) {
		var c syncstate.Candidate
		err := row.Scan(&c.ID, &c.FileID, &c.Username, &c.Filename, &c.Score)
		return c, err
	})
	if err != nil {
		return nil, endSpan(span, s.classifyAndForget("scan candidates", err))
	}
	return candidates, nil
}

// ClearRejections deletes the rejection facts of every submission for the track.
func (s *FactStore) ClearRejections(ctx context.Context, trackID int64) (int64, error) {
	caps, err := s.capabilities(ctx)
	if err != nil {
		return 0, err
	}
	if !caps.Ready(s.schema) {
		return 0, store.ErrSchemaMissing
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := s.pool.QueryRow(ctx, sqlTrackExists, trackID).Scan(&exists); err != nil {
		return 0, s.classifyAndForget("lookup track", err)
	}
	if !exists {
		return 0, store.ErrNotFound
	}
	tag, err := s.pool.Exec(ctx, sqlClearRejections, trackID)
	if err != nil {
		return 0, s.classifyAndForget("clear rejections", err)
	}
	return tag.RowsAffected(), nil
}

func (s *FactStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// classifyAndForget classifies err and drops the cached capabilities when a
// table vanished underneath us, so the next query re-probes the catalog.
func (s *FactStore) classifyAndForget(op string, err error) error {
	err = classify(op, err)
	if errors.Is(err, store.ErrSchemaMissing) {
		s.caps.Store(nil)
	}
	return err
}

// classify maps driver errors onto the store sentinels. Server-side errors
// other than a missing table are returned as-is.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == undefinedTable {
			return fmt.Errorf("%w: %s: %w", store.ErrSchemaMissing, op, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", store.ErrUnavailable, op, err)
}

func endSpan(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
