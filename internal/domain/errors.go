package domain

import "errors"

// Engine errors. Every rejected precondition aborts the call with no partial
// mutation; nothing is retried internally.
var (
	// ErrTradingClosed is returned when the trading gate fails: status not
	// open, cutoff passed, or the registry is paused.
	ErrTradingClosed = errors.New("trading closed")

	// ErrSlippage is returned when a realized output falls below the
	// caller-supplied minimum.
	ErrSlippage = errors.New("slippage: minimum not met")

	// ErrInsufficientOutput is returned for zero-amount inputs.
	ErrInsufficientOutput = errors.New("insufficient output")

	// ErrInsufficientLiquidity is returned when a trade would deplete the
	// opposing reserve entirely.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")

	// ErrInsufficientFunds is returned when the caller's quote balance does
	// not cover the requested input.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnauthorized is returned when the caller lacks the required role.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyFinalized is returned for any resolution or status change on
	// a finalized market.
	ErrAlreadyFinalized = errors.New("already finalized")

	// ErrInvalidState is returned for a wrong lifecycle phase or an
	// initial-rank mismatch during resolution.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyRedeemed is returned when a holder's redemption flag is set.
	ErrAlreadyRedeemed = errors.New("already redeemed")

	// ErrReentrantCall is returned when a market operation is invoked while
	// another call on the same market is in flight.
	ErrReentrantCall = errors.New("call in progress")
)

// Registry creation guards.
var (
	ErrZeroTreasury         = errors.New("zero treasury address")
	ErrInvalidCutoff        = errors.New("invalid cutoff")
	ErrInvalidFee           = errors.New("invalid fee rate")
	ErrQuoteTokenNotAllowed = errors.New("quote token not allowed")
	ErrSongHasMarket        = errors.New("song already has a market")
)

// Infrastructure errors.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrLockHeld        = errors.New("lock already held")
)
