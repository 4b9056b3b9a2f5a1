package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	// MarketStatusOpen accepts trades and liquidity deposits until the cutoff.
	MarketStatusOpen MarketStatus = "open"
	// MarketStatusPendingResolve is the administrative pause state. Reversible.
	MarketStatusPendingResolve MarketStatus = "pending_resolve"
	// MarketStatusCommitted is declared but never reached by any transition.
	// Kept for forward compatibility with the persisted status column.
	MarketStatusCommitted MarketStatus = "committed"
	// MarketStatusFinalized is terminal: outcome set, redemptions unlocked.
	MarketStatusFinalized MarketStatus = "finalized"
)

// Outcome is the resolved side of a binary market.
type Outcome string

const (
	OutcomeNone Outcome = "none"
	// OutcomeA wins when the song's chart rank improved by the cutoff.
	OutcomeA Outcome = "a"
	// OutcomeB wins when the rank held or worsened.
	OutcomeB Outcome = "b"
)

// Side identifies which claim a trade buys.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// MarketParams is the immutable configuration a market is created with.
// Authority references are injected once at creation and never looked up
// again at call time.
type MarketParams struct {
	SongID      string
	MarketID    uint64
	InitialRank int
	Cutoff      time.Time
	FeeBps      uint64 // fee rate in basis points, scale 10_000
	QuoteSymbol string
	Registry    common.Address
	Authority   common.Address
	Treasury    common.Address
}

// MarketSnapshot is the persisted view of one market's full state. Amounts
// are decimal strings: reserves and claim supplies in 1e18 reserve scale,
// vault and shares in the quote asset's native units.
type MarketSnapshot struct {
	SongID      string            `json:"song_id"`
	MarketID    uint64            `json:"market_id"`
	InitialRank int               `json:"initial_rank"`
	Cutoff      time.Time         `json:"cutoff"`
	FeeBps      uint64            `json:"fee_bps"`
	QuoteSymbol string            `json:"quote_symbol"`
	Registry    string            `json:"registry"`
	Authority   string            `json:"authority"`
	Treasury    string            `json:"treasury"`
	Status      MarketStatus      `json:"status"`
	Outcome     Outcome           `json:"outcome"`
	FinalRank   *int              `json:"final_rank,omitempty"`
	ReserveA    string            `json:"reserve_a"`
	ReserveB    string            `json:"reserve_b"`
	Vault       string            `json:"vault"`
	TotalShares string            `json:"total_shares"`
	Shares      map[string]string `json:"shares"`
	Redeemed    []string          `json:"redeemed"`
	ClaimA      ClaimSnapshot     `json:"claim_a"`
	ClaimB      ClaimSnapshot     `json:"claim_b"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ClaimSnapshot is the persisted view of one outcome-claim ledger.
type ClaimSnapshot struct {
	TotalSupply string            `json:"total_supply"`
	Balances    map[string]string `json:"balances"`
}

// Quote is the result of a read-only pricing query. Output is in reserve
// scale (claim units); Price is the post-trade price of the bought side in
// 1e18 fixed point, with PriceOther its exact complement.
type Quote struct {
	Side       Side   `json:"side"`
	AmountIn   string `json:"amount_in"`
	Fee        string `json:"fee"`
	Output     string `json:"output"`
	Price      string `json:"price"`
	PriceOther string `json:"price_other"`
}
