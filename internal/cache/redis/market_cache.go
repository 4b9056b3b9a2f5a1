package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chartbets/chartbets/internal/domain"
)

const marketTTL = 5 * time.Minute

// MarketCache implements domain.MarketCache using Redis hashes with JSON-
// serialized market snapshots and a secondary market-ID-to-song index.
//
// Key schema:
//
//	market:{songID}    - hash with field "data" containing JSON
//	market:id:{id}     - string value of the song ID
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(songID string) string { return "market:" + songID }
func marketIDKey(id uint64) string   { return "market:id:" + strconv.FormatUint(id, 10) }

// Set stores a market snapshot in the cache with a 5-minute TTL and indexes
// the numeric market ID back to the song.
func (mc *MarketCache) Set(ctx context.Context, snap domain.MarketSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal market %s: %w", snap.SongID, err)
	}

	key := marketKey(snap.SongID)

	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, marketTTL)
	pipe.Set(ctx, marketIDKey(snap.MarketID), snap.SongID, marketTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set market %s: %w", snap.SongID, err)
	}
	return nil
}

// Get retrieves a market snapshot by song ID.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, songID string) (domain.MarketSnapshot, error) {
	data, err := mc.rdb.HGet(ctx, marketKey(songID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market %s: %w", songID, err)
	}

	var snap domain.MarketSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("redis: unmarshal market %s: %w", songID, err)
	}
	return snap, nil
}

// GetByMarketID looks up a snapshot via the numeric market ID index.
// It returns domain.ErrNotFound if the index entry or snapshot is missing.
func (mc *MarketCache) GetByMarketID(ctx context.Context, id uint64) (domain.MarketSnapshot, error) {
	songID, err := mc.rdb.Get(ctx, marketIDKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("redis: get market by id %d: %w", id, err)
	}

	return mc.Get(ctx, songID)
}

// Invalidate removes a market snapshot and its ID index entry from the cache.
func (mc *MarketCache) Invalidate(ctx context.Context, songID string) error {
	snap, err := mc.Get(ctx, songID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate market %s: %w", songID, err)
	}

	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketKey(songID))

	// Only delete the ID mapping if we successfully read the snapshot.
	if err == nil {
		pipe.Del(ctx, marketIDKey(snap.MarketID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate market %s: %w", songID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
