// Package redis provides the Redis-backed progress cache reader.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/syncboard/internal/store"
	"github.com/JakeFAU/syncboard/internal/syncstate"
)

const (
	defaultKeyPrefix = "progress:"
	defaultScanCount = 256
)

// ProgressCacheConfig controls the Redis client used to read progress entries.
type ProgressCacheConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
	ScanCount int64
}

// ProgressCache reads transfer progress written by the engine. Keys are
// <prefix><submissionID> and values are JSON-encoded progress entries.
type ProgressCache struct {
	client    goredis.UniversalClient
	prefix    string
	timeout   time.Duration
	scanCount int64
}

var _ store.ProgressCache = (*ProgressCache)(nil)

// NewProgressCache creates a client for cfg. No connection is made until the first command.
func NewProgressCache(cfg ProgressCacheConfig) (*ProgressCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("cache.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewProgressCacheWithClient(client, cfg)
}

// NewProgressCacheWithClient wraps an existing client (primarily for testing).
func NewProgressCacheWithClient(client goredis.UniversalClient, cfg ProgressCacheConfig) (*ProgressCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	count := cfg.ScanCount
	if count <= 0 {
		count = defaultScanCount
	}
	return &ProgressCache{client: client, prefix: prefix, timeout: cfg.Timeout, scanCount: count}, nil
}

// Close releases the client connections.
func (c *ProgressCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Ping issues PING and reports the round-trip time.
func (c *ProgressCache) Ping(ctx context.Context) (time.Duration, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	start := time.Now()
	if err := c.client.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: redis ping: %w", store.ErrUnavailable, err)
	}
	return time.Since(start), nil
}

// ScanProgress walks every key under the prefix with SCAN and fetches the
// values in MGET batches. Keys that vanish between SCAN and MGET are skipped.
// Keys or values that cannot be decoded are reported in Malformed and do not
// fail the scan.
func (c *ProgressCache) ScanProgress(ctx context.Context) (store.ProgressBatch, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var (
		batch  store.ProgressBatch
		cursor uint64
		seen   = make(map[string]struct{})
	)
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", c.scanCount).Result()
		if err != nil {
			return store.ProgressBatch{}, fmt.Errorf("%w: redis scan: %w", store.ErrUnavailable, err)
		}
		fresh := keys[:0]
		for _, key := range keys {
			// SCAN may return a key more than once.
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			fresh = append(fresh, key)
		}
		if len(fresh) > 0 {
			if err := c.fetch(ctx, fresh, &batch); err != nil {
				return store.ProgressBatch{}, err
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return batch, nil
}

func (c *ProgressCache) fetch(ctx context.Context, keys []string, batch *store.ProgressBatch) error {
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("%w: redis mget: %w", store.ErrUnavailable, err)
	}
	for i, key := range keys {
		if i >= len(values) || values[i] == nil {
			continue
		}
		record, err := c.decode(key, values[i])
		if err != nil {
			batch.Malformed = append(batch.Malformed, store.MalformedRecord{Key: key, Err: err})
			continue
		}
		batch.Records = append(batch.Records, record)
	}
	return nil
}

func (c *ProgressCache) decode(key string, value any) (store.ProgressRecord, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(key, c.prefix), 10, 64)
	if err != nil {
		return store.ProgressRecord{}, fmt.Errorf("parse submission id: %w", err)
	}
	raw, ok := value.(string)
	if !ok {
		return store.ProgressRecord{}, fmt.Errorf("unexpected value type %T", value)
	}
	var wire wireEntry
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return store.ProgressRecord{}, fmt.Errorf("decode progress entry: %w", err)
	}
	entry, err := wire.toEntry()
	if err != nil {
		return store.ProgressRecord{}, err
	}
	return store.ProgressRecord{SubmissionID: id, Entry: entry}, nil
}

// wireEntry mirrors the cached JSON with pointer fields so absent keys can be
// told apart from zero values. The byte counts are required; an absent
// completed flag means the transfer is still running.
type wireEntry struct {
	BytesDownloaded *int64 `json:"bytes_downloaded"`
	TotalBytes      *int64 `json:"total_bytes"`
	Completed       *bool  `json:"completed"`
}

func (w wireEntry) toEntry() (syncstate.ProgressEntry, error) {
	if w.BytesDownloaded == nil {
		return syncstate.ProgressEntry{}, errors.New("missing field bytes_downloaded")
	}
	if w.TotalBytes == nil {
		return syncstate.ProgressEntry{}, errors.New("missing field total_bytes")
	}
	if *w.BytesDownloaded < 0 || *w.TotalBytes < 0 {
		return syncstate.ProgressEntry{}, errors.New("negative byte counts")
	}
	entry := syncstate.ProgressEntry{BytesDownloaded: *w.BytesDownloaded, TotalBytes: *w.TotalBytes}
	if w.Completed != nil {
		entry.Completed = *w.Completed
	}
	return entry, nil
}

func (c *ProgressCache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}
