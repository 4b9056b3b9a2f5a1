package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chartbets/chartbets/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. The table is
// append-only; rows are never updated or deleted.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append writes one market event. The full envelope is stored as JSONB next
// to the indexed columns.
func (s *EventStore) Append(ctx context.Context, ev domain.MarketEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
	}

	const query = `
		INSERT INTO market_events (id, event_type, song_id, market_id, actor, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query,
		ev.ID, ev.Type, ev.SongID, ev.MarketID, ev.Actor, ev.At, payload)
	if err != nil {
		return fmt.Errorf("postgres: append event %s for market %d: %w", ev.Type, ev.MarketID, err)
	}
	return nil
}

// ListByMarket returns a market's events, oldest first, with pagination.
func (s *EventStore) ListByMarket(ctx context.Context, marketID uint64, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	query := `SELECT payload FROM market_events WHERE market_id = $1 ORDER BY occurred_at, id`
	args := []any{marketID}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var events []domain.MarketEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.MarketEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

var _ domain.EventStore = (*EventStore)(nil)
