// Package service orchestrates the market engine against persistence,
// caching, eventing, and notification. It owns the per-market serialization
// that gives every market a total order of state-changing calls.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/crypto"
	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/engine"
	"github.com/chartbets/chartbets/internal/notify"
	"github.com/chartbets/chartbets/internal/registry"
	"github.com/chartbets/chartbets/internal/token"
)

// Pub/sub channels carrying market events.
const (
	ChannelEvents      = "ch:events"
	channelMarketPref  = "ch:market:"
	eventStream        = "stream:events"
	resolveLockTTL     = 30 * time.Second
	maxResolutionSkew  = 5 * time.Minute
)

// MarketChannel returns the per-song pub/sub channel name.
func MarketChannel(songID string) string { return channelMarketPref + songID }

// Deps carries the collaborators a MarketService is wired with.
type Deps struct {
	Registry  *registry.Registry
	Banks     map[string]*token.Bank // quote ledgers by symbol
	Store     domain.MarketStore
	Events    domain.EventStore
	Cache     domain.MarketCache
	Bus       domain.SignalBus
	Locks     domain.LockManager
	Notifier  *notify.Notifier
	Logger    *slog.Logger
	Admin     common.Address
	Authority common.Address
}

// MarketService exposes every market operation to the transport layers. All
// state-changing calls on one market are serialized through a per-song mutex;
// the engine's own guard only catches re-entrancy within a call.
type MarketService struct {
	registry  *registry.Registry
	banks     map[string]*token.Bank
	store     domain.MarketStore
	events    domain.EventStore
	cache     domain.MarketCache
	bus       domain.SignalBus
	locks     domain.LockManager
	notifier  *notify.Notifier
	logger    *slog.Logger
	admin     common.Address
	authority common.Address

	mu      sync.Mutex
	perSong map[string]*sync.Mutex
}

// NewMarketService creates a MarketService from its dependency set.
func NewMarketService(d Deps) *MarketService {
	return &MarketService{
		registry:  d.Registry,
		banks:     d.Banks,
		store:     d.Store,
		events:    d.Events,
		cache:     d.Cache,
		bus:       d.Bus,
		locks:     d.Locks,
		notifier:  d.Notifier,
		logger:    d.Logger.With(slog.String("component", "market_service")),
		admin:     d.Admin,
		authority: d.Authority,
		perSong:   make(map[string]*sync.Mutex),
	}
}

// songMutex returns the mutex serializing one market's mutations.
func (s *MarketService) songMutex(songID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.perSong[songID]
	if !ok {
		m = &sync.Mutex{}
		s.perSong[songID] = m
	}
	return m
}

// RestoreMarkets loads every persisted snapshot, rebuilds the engine state,
// indexes the markets in the registry, and re-funds each market's vault
// account on the in-memory quote ledger. Called once at startup.
func (s *MarketService) RestoreMarkets(ctx context.Context) (int, error) {
	snaps, err := s.store.List(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("market_service: restore: %w", err)
	}

	restored := 0
	for _, snap := range snaps {
		bank, ok := s.banks[snap.QuoteSymbol]
		if !ok {
			return restored, fmt.Errorf("market_service: restore %s: quote %q: %w",
				snap.SongID, snap.QuoteSymbol, domain.ErrQuoteTokenNotAllowed)
		}

		m, err := engine.Restore(snap, bank, s.registry)
		if err != nil {
			return restored, fmt.Errorf("market_service: restore %s: %w", snap.SongID, err)
		}
		if err := s.registry.Adopt(m); err != nil {
			return restored, fmt.Errorf("market_service: restore %s: %w", snap.SongID, err)
		}

		// The vault lives on the quote ledger under the market's account;
		// the ledger is in-memory so the balance must be reissued.
		if vault := m.Vault(); !vault.IsZero() {
			bank.Mint(m.Address(), vault)
		}
		restored++
	}

	s.logger.InfoContext(ctx, "markets restored", slog.Int("count", restored))
	return restored, nil
}

// CreateMarket deploys a new market (admin only), persists its first
// snapshot, and announces it.
func (s *MarketService) CreateMarket(ctx context.Context, caller common.Address, params registry.CreateParams) (domain.MarketSnapshot, error) {
	if caller != s.admin {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: create market: %w", domain.ErrUnauthorized)
	}

	m, err := s.registry.CreateMarket(caller, params)
	if err != nil {
		return domain.MarketSnapshot{}, err
	}

	snap := m.Snapshot()
	ev := s.newEvent(domain.EventMarketCreated, snap, caller.Hex())
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketSnapshot{}, err
	}

	s.notifyEvent(ctx, domain.EventMarketCreated,
		fmt.Sprintf("Market opened: %s", snap.SongID),
		fmt.Sprintf("Market %d for song %s, initial rank %d, cutoff %s.",
			snap.MarketID, snap.SongID, snap.InitialRank, snap.Cutoff.Format(time.RFC3339)))

	return snap, nil
}

// GetMarket returns a market snapshot, preferring the live engine state and
// falling back to cache then store for markets not in memory.
func (s *MarketService) GetMarket(ctx context.Context, songID string) (domain.MarketSnapshot, error) {
	if m, err := s.registry.Get(songID); err == nil {
		return m.Snapshot(), nil
	}

	snap, err := s.cache.Get(ctx, songID)
	if err == nil {
		return snap, nil
	}

	snap, err = s.store.GetBySongID(ctx, songID)
	if err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("market_service: get %q: %w", songID, err)
	}

	if cacheErr := s.cache.Set(ctx, snap); cacheErr != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("song_id", songID),
			slog.String("error", cacheErr.Error()),
		)
	}
	return snap, nil
}

// ListMarkets returns persisted snapshots ordered by market ID.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	snaps, err := s.store.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return snaps, nil
}

// ListEvents returns a market's event history, oldest first.
func (s *MarketService) ListEvents(ctx context.Context, songID string, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	m, err := s.registry.Get(songID)
	if err != nil {
		return nil, err
	}
	events, err := s.events.ListByMarket(ctx, m.Params().MarketID, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list events %q: %w", songID, err)
	}
	return events, nil
}

// Count returns the number of persisted markets.
func (s *MarketService) Count(ctx context.Context) (int64, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("market_service: count: %w", err)
	}
	return count, nil
}

// Quote prices a hypothetical swap without mutating anything.
func (s *MarketService) Quote(ctx context.Context, songID string, side domain.Side, amount string) (domain.Quote, error) {
	m, err := s.registry.Get(songID)
	if err != nil {
		return domain.Quote{}, err
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return domain.Quote{}, err
	}

	switch side {
	case domain.SideA:
		return m.QuoteForA(amt)
	case domain.SideB:
		return m.QuoteForB(amt)
	default:
		return domain.Quote{}, fmt.Errorf("market_service: side %q: %w", side, domain.ErrInvalidState)
	}
}

// Swap buys one side's claims with the quote asset.
func (s *MarketService) Swap(ctx context.Context, songID string, actor common.Address, side domain.Side, amount, minOut string) (domain.MarketEvent, error) {
	m, err := s.registry.Get(songID)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	min, err := parseOptionalAmount(minOut)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	mu := s.songMutex(songID)
	mu.Lock()
	defer mu.Unlock()

	var res engine.TradeResult
	switch side {
	case domain.SideA:
		res, err = m.SwapForA(actor, amt, min)
	case domain.SideB:
		res, err = m.SwapForB(actor, amt, min)
	default:
		return domain.MarketEvent{}, fmt.Errorf("market_service: side %q: %w", side, domain.ErrInvalidState)
	}
	if err != nil {
		return domain.MarketEvent{}, err
	}

	snap := m.Snapshot()
	ev := s.newEvent(domain.EventTradeExecuted, snap, actor.Hex())
	ev.Trade = &domain.TradeExecuted{
		Side:      res.Side,
		AmountIn:  res.AmountIn.Dec(),
		Fee:       res.Fee.Dec(),
		AmountOut: res.AmountOut.Dec(),
		FeeBps:    snap.FeeBps,
	}
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketEvent{}, err
	}
	return ev, nil
}

// AddLiquidity deposits quote units into the vault for shares.
func (s *MarketService) AddLiquidity(ctx context.Context, songID string, actor common.Address, amount, minShares string) (domain.MarketEvent, error) {
	m, err := s.registry.Get(songID)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	min, err := parseOptionalAmount(minShares)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	mu := s.songMutex(songID)
	mu.Lock()
	defer mu.Unlock()

	res, err := m.AddLiquidity(actor, amt, min)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	snap := m.Snapshot()
	ev := s.newEvent(domain.EventLiquidityAdded, snap, actor.Hex())
	ev.Liquidity = &domain.LiquidityChanged{
		Amount: res.Amount.Dec(),
		Shares: res.Shares.Dec(),
	}
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketEvent{}, err
	}
	return ev, nil
}

// RemoveLiquidity burns shares for a proportional slice of the vault.
func (s *MarketService) RemoveLiquidity(ctx context.Context, songID string, actor common.Address, shares, minOut string) (domain.MarketEvent, error) {
	m, err := s.registry.Get(songID)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	sharesIn, err := parseAmount(shares)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	min, err := parseOptionalAmount(minOut)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	mu := s.songMutex(songID)
	mu.Lock()
	defer mu.Unlock()

	res, err := m.RemoveLiquidity(actor, sharesIn, min)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	snap := m.Snapshot()
	ev := s.newEvent(domain.EventLiquidityRemoved, snap, actor.Hex())
	ev.Liquidity = &domain.LiquidityChanged{
		Amount: res.Amount.Dec(),
		Shares: res.Shares.Dec(),
	}
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketEvent{}, err
	}
	return ev, nil
}

// Resolve finalizes a market from a signed resolution request. The signature
// must recover to the configured authority account; a distributed lock keeps
// concurrent operators from racing each other across processes.
func (s *MarketService) Resolve(ctx context.Context, payload crypto.ResolutionPayload, signature string) (domain.MarketEvent, error) {
	signer, err := crypto.RecoverResolution(payload, signature)
	if err != nil {
		return domain.MarketEvent{}, fmt.Errorf("market_service: resolve %s: %w", payload.SongID, err)
	}
	if signer != s.authority {
		return domain.MarketEvent{}, fmt.Errorf("market_service: resolve %s: signer %s: %w",
			payload.SongID, signer.Hex(), domain.ErrUnauthorized)
	}
	if skew := time.Since(time.Unix(payload.Timestamp, 0)); skew > maxResolutionSkew || skew < -maxResolutionSkew {
		return domain.MarketEvent{}, fmt.Errorf("market_service: resolve %s: stale timestamp: %w",
			payload.SongID, domain.ErrUnauthorized)
	}

	m, err := s.registry.Get(payload.SongID)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	if m.Params().MarketID != payload.MarketID {
		return domain.MarketEvent{}, fmt.Errorf("market_service: resolve %s: market id mismatch: %w",
			payload.SongID, domain.ErrInvalidState)
	}

	unlock, err := s.locks.Acquire(ctx, "resolve:"+payload.SongID, resolveLockTTL)
	if err != nil {
		return domain.MarketEvent{}, fmt.Errorf("market_service: resolve %s: %w", payload.SongID, err)
	}
	defer unlock()

	mu := s.songMutex(payload.SongID)
	mu.Lock()
	defer mu.Unlock()

	res, err := m.ApplyOutcome(s.authority, payload.Outcome, payload.InitialRank, payload.FinalRank)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	snap := m.Snapshot()
	ev := s.newEvent(domain.EventOutcomeApplied, snap, signer.Hex())
	ev.Resolution = &domain.OutcomeApplied{
		Outcome:   res.Outcome,
		FinalRank: res.FinalRank,
	}
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketEvent{}, err
	}

	s.notifyEvent(ctx, domain.EventOutcomeApplied,
		fmt.Sprintf("Market resolved: %s", snap.SongID),
		fmt.Sprintf("Outcome %s at final rank %d. Redemptions are open.", res.Outcome, res.FinalRank))

	return ev, nil
}

// Redeem pays out a winning-claim holder after finalization.
func (s *MarketService) Redeem(ctx context.Context, songID string, actor, dest common.Address) (domain.MarketEvent, error) {
	m, err := s.registry.Get(songID)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	mu := s.songMutex(songID)
	mu.Lock()
	defer mu.Unlock()

	res, err := m.Redeem(actor, dest)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	snap := m.Snapshot()
	ev := s.newEvent(domain.EventRedemptionExecuted, snap, actor.Hex())
	ev.Redemption = &domain.RedemptionExecuted{
		To:     res.To.Hex(),
		Burned: res.Burned.Dec(),
		Payout: res.Payout.Dec(),
	}
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketEvent{}, err
	}
	return ev, nil
}

// SetRegistryPaused flips the registry-wide pause switch (admin only).
func (s *MarketService) SetRegistryPaused(ctx context.Context, caller common.Address, paused bool) error {
	return s.registry.SetPaused(caller, paused)
}

// SetMarketStatus applies an administrative pause or unpause to one market
// and records the transition.
func (s *MarketService) SetMarketStatus(ctx context.Context, caller common.Address, songID string, to domain.MarketStatus) (domain.MarketEvent, error) {
	mu := s.songMutex(songID)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.registry.SetMarketStatus(caller, songID, to)
	if err != nil {
		return domain.MarketEvent{}, err
	}

	m, err := s.registry.Get(songID)
	if err != nil {
		return domain.MarketEvent{}, err
	}
	snap := m.Snapshot()
	ev := s.newEvent(domain.EventStatusChanged, snap, caller.Hex())
	ev.Status = &domain.StatusChanged{From: res.From, To: res.To}
	if err := s.commit(ctx, snap, ev); err != nil {
		return domain.MarketEvent{}, err
	}
	return ev, nil
}

// CreditAccount mints quote units to an account (admin only). This is the
// on-ramp for the in-memory ledger.
func (s *MarketService) CreditAccount(ctx context.Context, caller common.Address, symbol string, to common.Address, amount string) error {
	if caller != s.admin {
		return fmt.Errorf("market_service: credit: %w", domain.ErrUnauthorized)
	}
	bank, ok := s.banks[symbol]
	if !ok {
		return fmt.Errorf("market_service: credit: quote %q: %w", symbol, domain.ErrQuoteTokenNotAllowed)
	}
	amt, err := parseAmount(amount)
	if err != nil {
		return err
	}
	bank.Mint(to, amt)

	s.logger.InfoContext(ctx, "account credited",
		slog.String("symbol", symbol),
		slog.String("to", to.Hex()),
		slog.String("amount", amt.Dec()),
	)
	return nil
}

// BalanceOf reports an account's quote balance.
func (s *MarketService) BalanceOf(symbol string, addr common.Address) (string, error) {
	bank, ok := s.banks[symbol]
	if !ok {
		return "", fmt.Errorf("market_service: balance: quote %q: %w", symbol, domain.ErrQuoteTokenNotAllowed)
	}
	return bank.BalanceOf(addr).Dec(), nil
}

// newEvent builds the envelope shared by every published event.
func (s *MarketService) newEvent(eventType string, snap domain.MarketSnapshot, actor string) domain.MarketEvent {
	return domain.MarketEvent{
		ID:       uuid.New().String(),
		Type:     eventType,
		SongID:   snap.SongID,
		MarketID: snap.MarketID,
		Actor:    actor,
		At:       time.Now().UTC(),
	}
}

// commit persists the snapshot and event, refreshes the cache, and publishes
// the event. The snapshot upsert is the durability boundary: its failure is
// returned; cache and bus failures are logged and absorbed.
func (s *MarketService) commit(ctx context.Context, snap domain.MarketSnapshot, ev domain.MarketEvent) error {
	if err := s.store.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("market_service: persist %s: %w", snap.SongID, err)
	}
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "event append failed",
			slog.String("song_id", snap.SongID),
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
	if err := s.cache.Set(ctx, snap); err != nil {
		s.logger.WarnContext(ctx, "cache set failed",
			slog.String("song_id", snap.SongID),
			slog.String("error", err.Error()),
		)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "event marshal failed", slog.String("error", err.Error()))
		return nil
	}
	for _, channel := range []string{MarketChannel(snap.SongID), ChannelEvents} {
		if err := s.bus.Publish(ctx, channel, payload); err != nil {
			s.logger.WarnContext(ctx, "event publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	}
	if sb, ok := s.bus.(interface {
		StreamAppend(ctx context.Context, stream string, payload []byte) error
	}); ok {
		if err := sb.StreamAppend(ctx, eventStream, payload); err != nil {
			s.logger.WarnContext(ctx, "stream append failed",
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// notifyEvent forwards operator notifications, absorbing sender failures.
func (s *MarketService) notifyEvent(ctx context.Context, event, title, message string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// parseAmount parses a required decimal amount.
func parseAmount(dec string) (*uint256.Int, error) {
	if dec == "" {
		return nil, errors.New("market_service: amount must not be empty")
	}
	amt, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, fmt.Errorf("market_service: amount %q: %w", dec, err)
	}
	return amt, nil
}

// parseOptionalAmount parses a slippage minimum; empty means no minimum.
func parseOptionalAmount(dec string) (*uint256.Int, error) {
	if dec == "" {
		return nil, nil
	}
	return parseAmount(dec)
}
