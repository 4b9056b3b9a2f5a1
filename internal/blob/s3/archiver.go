package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/chartbets/chartbets/internal/domain"
)

const (
	// archiveLockKey guards the archive run across processes so two
	// schedulers never upload the same markets concurrently.
	archiveLockKey = "archive:run"
	archiveLockTTL = 5 * time.Minute

	// marketPageSize bounds one store query during the finalized-market scan.
	marketPageSize = 100
	// eventPageSize bounds one event-history query per market.
	eventPageSize = 500

	// multipartThreshold is the payload size above which the event history
	// is uploaded via the multipart manager instead of a single PutObject.
	multipartThreshold = 8 * 1024 * 1024
)

// Archiver implements domain.Archiver. It exports every finalized market as
// two objects under the configured key prefix:
//
//	{prefix}/{song_id}/{market_id}/snapshot.json
//	{prefix}/{song_id}/{market_id}/events.jsonl
//
// A market whose stored snapshot is already up to date is skipped, so the
// scan is cheap to run on a schedule. Records are never deleted from the
// primary store; finalized markets must stay queryable for late redemptions.
type Archiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	markets domain.MarketStore
	events  domain.EventStore
	locks   domain.LockManager
	prefix  string
	logger  *slog.Logger
}

// NewArchiver creates an Archiver writing under the given key prefix.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	markets domain.MarketStore,
	events domain.EventStore,
	locks domain.LockManager,
	prefix string,
	logger *slog.Logger,
) *Archiver {
	if prefix == "" {
		prefix = "markets"
	}
	return &Archiver{
		writer:  writer,
		reader:  reader,
		markets: markets,
		events:  events,
		locks:   locks,
		prefix:  prefix,
		logger:  logger.With(slog.String("component", "archiver")),
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveFinalized scans the finalized markets and uploads the ones whose
// stored export is missing or stale. It returns the number of markets
// uploaded in this run.
func (a *Archiver) ArchiveFinalized(ctx context.Context) (int, error) {
	unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive lock: %w", err)
	}
	defer unlock()

	uploaded := 0
	for offset := 0; ; offset += marketPageSize {
		page, err := a.markets.ListByStatus(ctx, domain.MarketStatusFinalized, domain.ListOpts{
			Limit:  marketPageSize,
			Offset: offset,
		})
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: list finalized: %w", err)
		}

		for _, snap := range page {
			fresh, err := a.archiveMarket(ctx, snap)
			if err != nil {
				return uploaded, err
			}
			if fresh {
				uploaded++
			}
		}

		if len(page) < marketPageSize {
			break
		}
	}

	a.logger.InfoContext(ctx, "archive run complete", slog.Int("uploaded", uploaded))
	return uploaded, nil
}

// archiveMarket uploads one market's snapshot and event history. It reports
// whether an upload happened; markets already exported at the snapshot's
// UpdatedAt are skipped.
func (a *Archiver) archiveMarket(ctx context.Context, snap domain.MarketSnapshot) (bool, error) {
	snapKey := a.objectKey(snap, "snapshot.json")

	stale, err := a.isStale(ctx, snapKey, snap.UpdatedAt)
	if err != nil {
		return false, err
	}
	if !stale {
		return false, nil
	}

	body, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("s3blob: marshal snapshot %s: %w", snap.SongID, err)
	}
	if err := a.writer.Put(ctx, snapKey, bytes.NewReader(body), "application/json"); err != nil {
		return false, err
	}

	history, err := a.eventHistory(ctx, snap.MarketID)
	if err != nil {
		return false, err
	}
	if err := a.putHistory(ctx, a.objectKey(snap, "events.jsonl"), history); err != nil {
		return false, err
	}

	a.logger.InfoContext(ctx, "market archived",
		slog.String("song_id", snap.SongID),
		slog.Uint64("market_id", snap.MarketID),
		slog.String("key", snapKey),
	)
	return true, nil
}

// isStale reports whether the stored snapshot at key predates updatedAt.
// A missing or unreadable object counts as stale and gets re-uploaded.
func (a *Archiver) isStale(ctx context.Context, key string, updatedAt time.Time) (bool, error) {
	exists, err := a.reader.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("s3blob: head %s: %w", key, err)
	}
	if !exists {
		return true, nil
	}

	rc, err := a.reader.Get(ctx, key)
	if err != nil {
		return true, nil
	}
	defer rc.Close()

	var stored struct {
		UpdatedAt time.Time `json:"updated_at"`
	}
	if err := json.NewDecoder(rc).Decode(&stored); err != nil {
		return true, nil
	}
	return stored.UpdatedAt.Before(updatedAt), nil
}

// eventHistory pages through a market's full event log and serializes it as
// newline-delimited JSON, oldest first.
func (a *Archiver) eventHistory(ctx context.Context, marketID uint64) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for offset := 0; ; offset += eventPageSize {
		page, err := a.events.ListByMarket(ctx, marketID, domain.ListOpts{
			Limit:  eventPageSize,
			Offset: offset,
		})
		if err != nil {
			return nil, fmt.Errorf("s3blob: list events for market %d: %w", marketID, err)
		}
		for i, ev := range page {
			if err := enc.Encode(ev); err != nil {
				return nil, fmt.Errorf("s3blob: jsonl encode event %d: %w", offset+i, err)
			}
		}
		if len(page) < eventPageSize {
			break
		}
	}
	return buf.Bytes(), nil
}

// putHistory uploads the event history, switching to the multipart manager
// for payloads large enough to benefit from it.
func (a *Archiver) putHistory(ctx context.Context, key string, body []byte) error {
	if len(body) >= multipartThreshold {
		if mp, ok := a.writer.(interface {
			PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
		}); ok {
			return mp.PutMultipart(ctx, key, bytes.NewReader(body), minPartSize)
		}
	}
	return a.writer.Put(ctx, key, bytes.NewReader(body), "application/x-ndjson")
}

// objectKey builds the S3 key for one of a market's archive objects.
func (a *Archiver) objectKey(snap domain.MarketSnapshot, name string) string {
	return fmt.Sprintf("%s/%s/%d/%s", a.prefix, snap.SongID, snap.MarketID, name)
}
