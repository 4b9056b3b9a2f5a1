// Package registry deploys and indexes song markets. It owns the creation
// guards, the registry-level pause switch every market's trading gate
// consults, and the delegation of per-market administrative status changes.
// It is role-gated CRUD around the engine, not pricing logic.
package registry

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/engine"
	"github.com/chartbets/chartbets/internal/token"
)

// Config fixes the registry's authority references at construction.
type Config struct {
	Admin     common.Address // may create markets and pause the registry
	Authority common.Address // resolution authority injected into every market
	Treasury  common.Address // fee recipient injected into every market
}

// CreateParams are the per-market creation inputs.
type CreateParams struct {
	SongID         string
	InitialRank    int
	Cutoff         time.Time
	FeeBps         uint64
	QuoteSymbol    string
	InitialReserve *uint256.Int // 1e18 reserve scale, seeded equal on both sides
}

// Option customizes a Registry at construction.
type Option func(*Registry)

// WithClock overrides the time source used for cutoff validation and market
// trading gates.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry indexes markets by song ID and by numeric market ID.
type Registry struct {
	cfg    Config
	addr   common.Address
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	paused  bool
	nextID  uint64
	bySong  map[string]*engine.Market
	byID    map[uint64]*engine.Market
	allowed map[string]token.QuoteToken
}

// New creates an empty registry with the given authority configuration.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		cfg:     cfg,
		addr:    registryAddress(),
		logger:  logger.With(slog.String("component", "registry")),
		now:     time.Now,
		nextID:  1,
		bySong:  make(map[string]*engine.Market),
		byID:    make(map[uint64]*engine.Market),
		allowed: make(map[string]token.QuoteToken),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func registryAddress() common.Address {
	h := ethcrypto.Keccak256([]byte("chartbets/registry"))
	return common.BytesToAddress(h[12:])
}

// Address returns the registry's ledger account, the only caller markets
// accept for SetStatus.
func (r *Registry) Address() common.Address { return r.addr }

// Paused reports the registry-level pause switch. Markets consult it inside
// their trading gate.
func (r *Registry) Paused() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.paused
}

// AllowQuoteToken adds a quote asset to the creation allowlist.
func (r *Registry) AllowQuoteToken(caller common.Address, tok token.QuoteToken) error {
	if caller != r.cfg.Admin {
		return fmt.Errorf("registry: allow quote token: %w", domain.ErrUnauthorized)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowed[tok.Symbol()] = tok
	return nil
}

// QuoteToken returns the allowlisted ledger for a symbol.
func (r *Registry) QuoteToken(symbol string) (token.QuoteToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.allowed[symbol]
	return tok, ok
}

// CreateMarket validates the creation guards, assigns the next market ID, and
// deploys a new open market with equal seeded reserves.
func (r *Registry) CreateMarket(caller common.Address, params CreateParams) (*engine.Market, error) {
	if caller != r.cfg.Admin {
		return nil, fmt.Errorf("registry: create market: %w", domain.ErrUnauthorized)
	}
	if r.cfg.Treasury == (common.Address{}) {
		return nil, fmt.Errorf("registry: create market: %w", domain.ErrZeroTreasury)
	}
	if !params.Cutoff.After(r.now()) {
		return nil, fmt.Errorf("registry: create market %q: %w", params.SongID, domain.ErrInvalidCutoff)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	quote, ok := r.allowed[params.QuoteSymbol]
	if !ok {
		return nil, fmt.Errorf("registry: create market %q: quote %q: %w",
			params.SongID, params.QuoteSymbol, domain.ErrQuoteTokenNotAllowed)
	}
	if _, exists := r.bySong[params.SongID]; exists {
		return nil, fmt.Errorf("registry: create market %q: %w", params.SongID, domain.ErrSongHasMarket)
	}

	id := r.nextID
	m, err := engine.New(engine.Config{
		MarketParams: domain.MarketParams{
			SongID:      params.SongID,
			MarketID:    id,
			InitialRank: params.InitialRank,
			Cutoff:      params.Cutoff,
			FeeBps:      params.FeeBps,
			QuoteSymbol: params.QuoteSymbol,
			Registry:    r.addr,
			Authority:   r.cfg.Authority,
			Treasury:    r.cfg.Treasury,
		},
		InitialReserve: params.InitialReserve,
	}, quote, r, engine.WithClock(r.now))
	if err != nil {
		return nil, fmt.Errorf("registry: create market %q: %w", params.SongID, err)
	}

	r.nextID++
	r.bySong[params.SongID] = m
	r.byID[id] = m

	r.logger.Info("market created",
		slog.String("song_id", params.SongID),
		slog.Uint64("market_id", id),
		slog.Int("initial_rank", params.InitialRank),
		slog.Uint64("fee_bps", params.FeeBps),
		slog.Time("cutoff", params.Cutoff),
	)
	return m, nil
}

// Adopt indexes a market restored from persistence. It fails if the song
// already has a live market.
func (r *Registry) Adopt(m *engine.Market) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	params := m.Params()
	if _, exists := r.bySong[params.SongID]; exists {
		return fmt.Errorf("registry: adopt %q: %w", params.SongID, domain.ErrSongHasMarket)
	}
	r.bySong[params.SongID] = m
	r.byID[params.MarketID] = m
	if params.MarketID >= r.nextID {
		r.nextID = params.MarketID + 1
	}
	return nil
}

// Get returns the market for a song.
func (r *Registry) Get(songID string) (*engine.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.bySong[songID]
	if !ok {
		return nil, fmt.Errorf("registry: market %q: %w", songID, domain.ErrNotFound)
	}
	return m, nil
}

// GetByID returns the market with a numeric ID.
func (r *Registry) GetByID(id uint64) (*engine.Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("registry: market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

// List returns all markets ordered by market ID.
func (r *Registry) List() []*engine.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*engine.Market, 0, len(r.byID))
	for id := uint64(1); id < r.nextID; id++ {
		if m, ok := r.byID[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// SetPaused flips the registry-level pause switch. Admin only.
func (r *Registry) SetPaused(caller common.Address, paused bool) error {
	if caller != r.cfg.Admin {
		return fmt.Errorf("registry: set paused: %w", domain.ErrUnauthorized)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
	r.logger.Info("registry pause switched", slog.Bool("paused", paused))
	return nil
}

// SetMarketStatus applies an administrative pause or unpause to one market.
// The registry is the only caller markets accept for this transition.
func (r *Registry) SetMarketStatus(caller common.Address, songID string, to domain.MarketStatus) (engine.StatusResult, error) {
	if caller != r.cfg.Admin {
		return engine.StatusResult{}, fmt.Errorf("registry: set market status: %w", domain.ErrUnauthorized)
	}
	m, err := r.Get(songID)
	if err != nil {
		return engine.StatusResult{}, err
	}
	return m.SetStatus(r.addr, to)
}
