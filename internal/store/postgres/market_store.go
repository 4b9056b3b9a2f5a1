package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chartbets/chartbets/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. Each row holds
// one market's full snapshot; the share, redemption, and claim maps are JSONB.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Upsert inserts or replaces a market snapshot keyed by song ID.
func (s *MarketStore) Upsert(ctx context.Context, snap domain.MarketSnapshot) error {
	sharesJSON, err := json.Marshal(snap.Shares)
	if err != nil {
		return fmt.Errorf("postgres: marshal shares for %s: %w", snap.SongID, err)
	}
	redeemedJSON, err := json.Marshal(snap.Redeemed)
	if err != nil {
		return fmt.Errorf("postgres: marshal redeemed for %s: %w", snap.SongID, err)
	}
	claimAJSON, err := json.Marshal(snap.ClaimA)
	if err != nil {
		return fmt.Errorf("postgres: marshal claim a for %s: %w", snap.SongID, err)
	}
	claimBJSON, err := json.Marshal(snap.ClaimB)
	if err != nil {
		return fmt.Errorf("postgres: marshal claim b for %s: %w", snap.SongID, err)
	}

	const query = `
		INSERT INTO song_markets (
			song_id, market_id, initial_rank, cutoff, fee_bps, quote_symbol,
			registry, authority, treasury,
			status, outcome, final_rank,
			reserve_a, reserve_b, vault, total_shares,
			shares, redeemed, claim_a, claim_b, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20, NOW()
		)
		ON CONFLICT (song_id) DO UPDATE SET
			status       = EXCLUDED.status,
			outcome      = EXCLUDED.outcome,
			final_rank   = EXCLUDED.final_rank,
			reserve_a    = EXCLUDED.reserve_a,
			reserve_b    = EXCLUDED.reserve_b,
			vault        = EXCLUDED.vault,
			total_shares = EXCLUDED.total_shares,
			shares       = EXCLUDED.shares,
			redeemed     = EXCLUDED.redeemed,
			claim_a      = EXCLUDED.claim_a,
			claim_b      = EXCLUDED.claim_b,
			updated_at   = NOW()`

	_, err = s.pool.Exec(ctx, query,
		snap.SongID, snap.MarketID, snap.InitialRank, snap.Cutoff, snap.FeeBps, snap.QuoteSymbol,
		snap.Registry, snap.Authority, snap.Treasury,
		string(snap.Status), string(snap.Outcome), snap.FinalRank,
		snap.ReserveA, snap.ReserveB, snap.Vault, snap.TotalShares,
		sharesJSON, redeemedJSON, claimAJSON, claimBJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", snap.SongID, err)
	}
	return nil
}

const marketCols = `song_id, market_id, initial_rank, cutoff, fee_bps, quote_symbol,
	registry, authority, treasury,
	status, outcome, final_rank,
	reserve_a, reserve_b, vault, total_shares,
	shares, redeemed, claim_a, claim_b, updated_at`

// scanMarket scans a single market row into a domain.MarketSnapshot.
func scanMarket(row pgx.Row) (domain.MarketSnapshot, error) {
	var snap domain.MarketSnapshot
	var status, outcome string
	var sharesJSON, redeemedJSON, claimAJSON, claimBJSON []byte

	err := row.Scan(
		&snap.SongID, &snap.MarketID, &snap.InitialRank, &snap.Cutoff, &snap.FeeBps, &snap.QuoteSymbol,
		&snap.Registry, &snap.Authority, &snap.Treasury,
		&status, &outcome, &snap.FinalRank,
		&snap.ReserveA, &snap.ReserveB, &snap.Vault, &snap.TotalShares,
		&sharesJSON, &redeemedJSON, &claimAJSON, &claimBJSON, &snap.UpdatedAt,
	)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}
	snap.Status = domain.MarketStatus(status)
	snap.Outcome = domain.Outcome(outcome)

	if err := json.Unmarshal(sharesJSON, &snap.Shares); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("unmarshal shares: %w", err)
	}
	if err := json.Unmarshal(redeemedJSON, &snap.Redeemed); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("unmarshal redeemed: %w", err)
	}
	if err := json.Unmarshal(claimAJSON, &snap.ClaimA); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("unmarshal claim a: %w", err)
	}
	if err := json.Unmarshal(claimBJSON, &snap.ClaimB); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("unmarshal claim b: %w", err)
	}
	return snap, nil
}

// GetBySongID retrieves a market snapshot by its song ID.
func (s *MarketStore) GetBySongID(ctx context.Context, songID string) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM song_markets WHERE song_id = $1`, songID)
	snap, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market %s: %w", songID, err)
	}
	return snap, nil
}

// GetByMarketID retrieves a market snapshot by its numeric market ID.
func (s *MarketStore) GetByMarketID(ctx context.Context, marketID uint64) (domain.MarketSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM song_markets WHERE market_id = $1`, marketID)
	snap, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.MarketSnapshot{}, domain.ErrNotFound
		}
		return domain.MarketSnapshot{}, fmt.Errorf("postgres: get market %d: %w", marketID, err)
	}
	return snap, nil
}

// List returns market snapshots ordered by market ID with pagination.
func (s *MarketStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	return s.list(ctx, `SELECT `+marketCols+` FROM song_markets`, nil, opts)
}

// ListByStatus returns market snapshots in one lifecycle state.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	return s.list(ctx,
		`SELECT `+marketCols+` FROM song_markets WHERE status = $1`,
		[]any{string(status)}, opts)
}

func (s *MarketStore) list(ctx context.Context, query string, args []any, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	query += " ORDER BY market_id"
	argIdx := len(args) + 1

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
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var snaps []domain.MarketSnapshot
	for rows.Next() {
		snap, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return snaps, nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM song_markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

var _ domain.MarketStore = (*MarketStore)(nil)
