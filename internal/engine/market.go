// Package engine implements the per-market pricing and settlement core: a
// constant-product pricing curve over virtual reserves, proportional
// liquidity-share accounting against a pooled quote vault, a one-shot
// irreversible resolution step, and pro-rata redemption of the vault among
// winning-claim holders.
//
// Every Market is fully independent; reserves, vault, share ledger and
// redemption flags are owned exclusively by one instance. The only shared
// state is read-only configuration injected at construction.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/token"
)

// feeScale is the basis-point denominator for fee rates.
const feeScale = 10_000

// reserveDecimals is the fixed-point scale of the virtual reserves and claim
// balances, independent of the quote asset's native decimals.
const reserveDecimals = 18

var errOverflow = errors.New("engine: arithmetic overflow")

// Pauser reports whether the controlling registry is paused. The market's
// trading gate consults it on every trade and deposit so the registry-level
// and market-level pause authorities collapse into one predicate.
type Pauser interface {
	Paused() bool
}

// Config carries everything a market is constructed with. All fields are
// immutable after creation.
type Config struct {
	domain.MarketParams

	// InitialReserve seeds both virtual reserves, in 1e18 reserve scale.
	InitialReserve *uint256.Int
}

// Option customizes a Market at construction.
type Option func(*Market)

// WithClock overrides the time source used by the trading gate.
func WithClock(now func() time.Time) Option {
	return func(m *Market) { m.now = now }
}

// Market is one song market. All state-changing methods are guarded by an
// explicit busy flag set at entry and cleared on every exit path; a call
// arriving while another is in flight fails with ErrReentrantCall. The
// hosting service serializes calls into a strict total order, so the guard
// only fires on genuine re-entrancy (asset transfers happen mid-call).
type Market struct {
	cfg  Config
	addr common.Address // vault account in the quote ledger, claim minter

	guard callGuard
	now   func() time.Time

	status  domain.MarketStatus
	outcome domain.Outcome
	// finalRank is accepted at resolution and recorded; it is not validated
	// beyond logging by the caller.
	finalRank *int

	reserveA *uint256.Int // 1e18 scale
	reserveB *uint256.Int // 1e18 scale

	vault       *uint256.Int // quote-asset native units
	totalShares *uint256.Int
	shares      map[common.Address]*uint256.Int
	redeemed    map[common.Address]bool

	quote   token.QuoteToken
	claimA  *token.ClaimLedger
	claimB  *token.ClaimLedger
	pauser  Pauser
	scaleUp *uint256.Int // 10^(18 - quote decimals)
}

// New creates an open market with both virtual reserves seeded equal.
func New(cfg Config, quote token.QuoteToken, pauser Pauser, opts ...Option) (*Market, error) {
	if cfg.InitialReserve == nil || cfg.InitialReserve.IsZero() {
		return nil, fmt.Errorf("engine: zero initial reserve: %w", domain.ErrInvalidState)
	}
	if cfg.FeeBps >= feeScale {
		return nil, fmt.Errorf("engine: fee %d bps at or above %d: %w",
			cfg.FeeBps, feeScale, domain.ErrInvalidFee)
	}
	if quote.Decimals() > reserveDecimals {
		return nil, fmt.Errorf("engine: quote decimals %d exceed reserve scale: %w",
			quote.Decimals(), domain.ErrInvalidState)
	}

	m := &Market{
		cfg:         cfg,
		addr:        MarketAddress(cfg.MarketID),
		now:         time.Now,
		status:      domain.MarketStatusOpen,
		outcome:     domain.OutcomeNone,
		reserveA:    new(uint256.Int).Set(cfg.InitialReserve),
		reserveB:    new(uint256.Int).Set(cfg.InitialReserve),
		vault:       uint256.NewInt(0),
		totalShares: uint256.NewInt(0),
		shares:      make(map[common.Address]*uint256.Int),
		redeemed:    make(map[common.Address]bool),
		quote:       quote,
		pauser:      pauser,
		scaleUp:     pow10(reserveDecimals - int(quote.Decimals())),
	}
	m.claimA = token.NewClaimLedger(m.addr)
	m.claimB = token.NewClaimLedger(m.addr)

	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MarketAddress derives the deterministic ledger account that holds a
// market's vault funds and mints its claims.
func MarketAddress(marketID uint64) common.Address {
	h := ethcrypto.Keccak256([]byte(fmt.Sprintf("chartbets/market/%d", marketID)))
	return common.BytesToAddress(h[12:])
}

// Params returns the market's immutable configuration.
func (m *Market) Params() domain.MarketParams { return m.cfg.MarketParams }

// Address returns the market's ledger account.
func (m *Market) Address() common.Address { return m.addr }

// Status returns the current lifecycle status.
func (m *Market) Status() domain.MarketStatus { return m.status }

// Outcome returns the resolved outcome, OutcomeNone before resolution.
func (m *Market) Outcome() domain.Outcome { return m.outcome }

// Vault returns a copy of the vault balance in quote units.
func (m *Market) Vault() *uint256.Int { return new(uint256.Int).Set(m.vault) }

// Reserves returns copies of the virtual reserves.
func (m *Market) Reserves() (*uint256.Int, *uint256.Int) {
	return new(uint256.Int).Set(m.reserveA), new(uint256.Int).Set(m.reserveB)
}

// TotalShares returns a copy of the outstanding liquidity shares.
func (m *Market) TotalShares() *uint256.Int { return new(uint256.Int).Set(m.totalShares) }

// SharesOf returns a copy of the holder's liquidity share balance.
func (m *Market) SharesOf(holder common.Address) *uint256.Int {
	if s, ok := m.shares[holder]; ok {
		return new(uint256.Int).Set(s)
	}
	return uint256.NewInt(0)
}

// ClaimBalance returns the holder's balance of one outcome claim.
func (m *Market) ClaimBalance(side domain.Side, holder common.Address) *uint256.Int {
	return m.claim(side).BalanceOf(holder)
}

// ClaimSupply returns the total supply of one outcome claim.
func (m *Market) ClaimSupply(side domain.Side) *uint256.Int {
	return m.claim(side).TotalSupply()
}

func (m *Market) claim(side domain.Side) *token.ClaimLedger {
	if side == domain.SideA {
		return m.claimA
	}
	return m.claimB
}

// tradeable is the single gate every trading and deposit entry point
// consults: status open, strictly before the cutoff, registry not paused.
func (m *Market) tradeable() bool {
	if m.status != domain.MarketStatusOpen {
		return false
	}
	if !m.now().Before(m.cfg.Cutoff) {
		return false
	}
	if m.pauser != nil && m.pauser.Paused() {
		return false
	}
	return true
}

// toReserveScale converts quote-asset native units to 1e18 reserve scale.
func (m *Market) toReserveScale(q *uint256.Int) (*uint256.Int, error) {
	out := new(uint256.Int)
	if _, over := out.MulOverflow(q, m.scaleUp); over {
		return nil, errOverflow
	}
	return out, nil
}

// Snapshot captures the market's full state for persistence.
func (m *Market) Snapshot() domain.MarketSnapshot {
	shares := make(map[string]string, len(m.shares))
	for addr, s := range m.shares {
		if !s.IsZero() {
			shares[addr.Hex()] = s.Dec()
		}
	}
	redeemed := make([]string, 0, len(m.redeemed))
	for addr := range m.redeemed {
		redeemed = append(redeemed, addr.Hex())
	}

	snap := domain.MarketSnapshot{
		SongID:      m.cfg.SongID,
		MarketID:    m.cfg.MarketID,
		InitialRank: m.cfg.InitialRank,
		Cutoff:      m.cfg.Cutoff,
		FeeBps:      m.cfg.FeeBps,
		QuoteSymbol: m.quote.Symbol(),
		Registry:    m.cfg.Registry.Hex(),
		Authority:   m.cfg.Authority.Hex(),
		Treasury:    m.cfg.Treasury.Hex(),
		Status:      m.status,
		Outcome:     m.outcome,
		ReserveA:    m.reserveA.Dec(),
		ReserveB:    m.reserveB.Dec(),
		Vault:       m.vault.Dec(),
		TotalShares: m.totalShares.Dec(),
		Shares:      shares,
		Redeemed:    redeemed,
		ClaimA:      m.claimA.Snapshot(),
		ClaimB:      m.claimB.Snapshot(),
		UpdatedAt:   m.now(),
	}
	if m.finalRank != nil {
		fr := *m.finalRank
		snap.FinalRank = &fr
	}
	return snap
}

// Restore rebuilds a market from a persisted snapshot. The quote ledger and
// pauser are re-injected; balances in the quote ledger itself are restored
// separately by the caller.
func Restore(snap domain.MarketSnapshot, quote token.QuoteToken, pauser Pauser, opts ...Option) (*Market, error) {
	cfg := Config{
		MarketParams: domain.MarketParams{
			SongID:      snap.SongID,
			MarketID:    snap.MarketID,
			InitialRank: snap.InitialRank,
			Cutoff:      snap.Cutoff,
			FeeBps:      snap.FeeBps,
			QuoteSymbol: snap.QuoteSymbol,
			Registry:    common.HexToAddress(snap.Registry),
			Authority:   common.HexToAddress(snap.Authority),
			Treasury:    common.HexToAddress(snap.Treasury),
		},
		InitialReserve: uint256.NewInt(1), // overwritten below
	}

	m, err := New(cfg, quote, pauser, opts...)
	if err != nil {
		return nil, err
	}

	if m.reserveA, err = parseAmount("reserve_a", snap.ReserveA); err != nil {
		return nil, err
	}
	if m.reserveB, err = parseAmount("reserve_b", snap.ReserveB); err != nil {
		return nil, err
	}
	if m.vault, err = parseAmount("vault", snap.Vault); err != nil {
		return nil, err
	}
	if m.totalShares, err = parseAmount("total_shares", snap.TotalShares); err != nil {
		return nil, err
	}
	for addr, dec := range snap.Shares {
		s, err := parseAmount("share "+addr, dec)
		if err != nil {
			return nil, err
		}
		m.shares[common.HexToAddress(addr)] = s
	}
	for _, addr := range snap.Redeemed {
		m.redeemed[common.HexToAddress(addr)] = true
	}

	m.status = snap.Status
	m.outcome = snap.Outcome
	if snap.FinalRank != nil {
		fr := *snap.FinalRank
		m.finalRank = &fr
	}

	if m.claimA, err = token.RestoreClaimLedger(m.addr, snap.ClaimA); err != nil {
		return nil, err
	}
	if m.claimB, err = token.RestoreClaimLedger(m.addr, snap.ClaimB); err != nil {
		return nil, err
	}
	return m, nil
}

func parseAmount(field, dec string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(dec)
	if err != nil {
		return nil, fmt.Errorf("engine: restore %s=%q: %w", field, dec, err)
	}
	return v, nil
}

func pow10(n int) *uint256.Int {
	out := uint256.NewInt(1)
	ten := uint256.NewInt(10)
	for i := 0; i < n; i++ {
		out.Mul(out, ten)
	}
	return out
}

// mulDiv computes a*b/d with truncation, erroring on 256-bit overflow of the
// intermediate product.
func mulDiv(a, b, d *uint256.Int) (*uint256.Int, error) {
	p := new(uint256.Int)
	if _, over := p.MulOverflow(a, b); over {
		return nil, errOverflow
	}
	return p.Div(p, d), nil
}

// ceilDiv computes a/d rounded up.
func ceilDiv(a, d *uint256.Int) (*uint256.Int, error) {
	p := new(uint256.Int)
	if _, over := p.AddOverflow(a, new(uint256.Int).SubUint64(d, 1)); over {
		return nil, errOverflow
	}
	return p.Div(p, d), nil
}
