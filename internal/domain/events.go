package domain

import "time"

// Event types emitted on state-changing successes, one per operation.
const (
	EventTradeExecuted      = "trade_executed"
	EventLiquidityAdded     = "liquidity_added"
	EventLiquidityRemoved   = "liquidity_removed"
	EventStatusChanged      = "status_changed"
	EventOutcomeApplied     = "outcome_applied"
	EventRedemptionExecuted = "redemption_executed"
	EventMarketCreated      = "market_created"
)

// MarketEvent is the envelope appended to the event store and published on
// the signal bus for off-chain consumers.
type MarketEvent struct {
	ID       string    `json:"id"` // UUID
	Type     string    `json:"type"`
	SongID   string    `json:"song_id"`
	MarketID uint64    `json:"market_id"`
	Actor    string    `json:"actor,omitempty"`
	At       time.Time `json:"at"`

	// Exactly one of the payloads below is set, matching Type.
	Trade      *TradeExecuted      `json:"trade,omitempty"`
	Liquidity  *LiquidityChanged   `json:"liquidity,omitempty"`
	Status     *StatusChanged      `json:"status,omitempty"`
	Resolution *OutcomeApplied     `json:"resolution,omitempty"`
	Redemption *RedemptionExecuted `json:"redemption,omitempty"`
}

// TradeExecuted records a completed swap. AmountIn and Fee are quote units;
// AmountOut is claim units (reserve scale).
type TradeExecuted struct {
	Side      Side   `json:"side"`
	AmountIn  string `json:"amount_in"`
	Fee       string `json:"fee"`
	AmountOut string `json:"amount_out"`
	FeeBps    uint64 `json:"fee_bps"`
}

// LiquidityChanged records a deposit or withdrawal against the vault.
type LiquidityChanged struct {
	Amount string `json:"amount"` // quote units moved
	Shares string `json:"shares"` // shares minted or burned
}

// StatusChanged records an administrative pause or unpause.
type StatusChanged struct {
	From MarketStatus `json:"from"`
	To   MarketStatus `json:"to"`
}

// OutcomeApplied records the one-shot resolution.
type OutcomeApplied struct {
	Outcome   Outcome `json:"outcome"`
	FinalRank int     `json:"final_rank"`
}

// RedemptionExecuted records a winning-claim payout.
type RedemptionExecuted struct {
	To     string `json:"to"`
	Burned string `json:"burned"` // claim units burned
	Payout string `json:"payout"` // quote units paid
}
