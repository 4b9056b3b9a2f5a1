package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market snapshots. Snapshots are upserted after every
// successful state-changing operation and restore engine state at startup.
// Finalized markets are never deleted; late redemptions must stay possible.
type MarketStore interface {
	Upsert(ctx context.Context, snap MarketSnapshot) error
	GetBySongID(ctx context.Context, songID string) (MarketSnapshot, error)
	GetByMarketID(ctx context.Context, marketID uint64) (MarketSnapshot, error)
	List(ctx context.Context, opts ListOpts) ([]MarketSnapshot, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]MarketSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// EventStore persists the append-only market event log.
type EventStore interface {
	Append(ctx context.Context, ev MarketEvent) error
	ListByMarket(ctx context.Context, marketID uint64, opts ListOpts) ([]MarketEvent, error)
}

// MarketCache caches market snapshots for read paths.
type MarketCache interface {
	Set(ctx context.Context, snap MarketSnapshot) error
	Get(ctx context.Context, songID string) (MarketSnapshot, error)
	Invalidate(ctx context.Context, songID string) error
}

// SignalBus publishes and subscribes raw event payloads.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// StreamMessage is one entry read from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// RateLimiter throttles request rates per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides cross-process mutual exclusion, used to guard
// resolution and archival against concurrent operators.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobInfo describes one object in blob storage.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader reads objects back from blob storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports finalized markets to blob storage and reports how many
// markets were uploaded.
type Archiver interface {
	ArchiveFinalized(ctx context.Context) (int, error)
}
