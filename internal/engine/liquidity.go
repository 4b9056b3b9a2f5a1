package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
)

// LiquidityResult describes a completed deposit or withdrawal. Amount is
// quote units moved; Shares is the share delta minted or burned.
type LiquidityResult struct {
	Amount *uint256.Int
	Shares *uint256.Int
}

// AddLiquidity deposits quote units into the vault and mints proportional
// shares to the caller. The first depositor mints 1:1; afterwards
// shares = amount*totalShares/vault. Deposits are not fee-taxed but are gated
// by the same trading window as swaps.
//
// Share accounting is proportional to vault cash only: it deliberately
// ignores skew between the two pricing reserves, so a withdrawal reflects
// principal and accumulated fees, not unrealized price movement.
func (m *Market) AddLiquidity(caller common.Address, amount, minShares *uint256.Int) (LiquidityResult, error) {
	if err := m.guard.enter(); err != nil {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", err)
	}
	defer m.guard.exit()

	if !m.tradeable() {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", domain.ErrTradingClosed)
	}
	if amount == nil || amount.IsZero() {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", domain.ErrInsufficientOutput)
	}
	if amount.BitLen() > maxInputBits {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", errOverflow)
	}

	var sharesOut *uint256.Int
	if m.totalShares.IsZero() {
		sharesOut = new(uint256.Int).Set(amount)
	} else {
		var err error
		sharesOut, err = mulDiv(amount, m.totalShares, m.vault)
		if err != nil {
			return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", err)
		}
	}
	if sharesOut.IsZero() {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", domain.ErrInsufficientOutput)
	}
	if minShares != nil && sharesOut.Lt(minShares) {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: shares %s < min %s: %w",
			sharesOut.Dec(), minShares.Dec(), domain.ErrSlippage)
	}
	if m.quote.BalanceOf(caller).Lt(amount) {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", domain.ErrInsufficientFunds)
	}

	if err := m.quote.Transfer(caller, m.addr, amount); err != nil {
		return LiquidityResult{}, fmt.Errorf("engine: add liquidity: %w", err)
	}

	m.vault.Add(m.vault, amount)
	m.totalShares.Add(m.totalShares, sharesOut)
	if bal, ok := m.shares[caller]; ok {
		bal.Add(bal, sharesOut)
	} else {
		m.shares[caller] = new(uint256.Int).Set(sharesOut)
	}

	return LiquidityResult{
		Amount: new(uint256.Int).Set(amount),
		Shares: sharesOut,
	}, nil
}

// RemoveLiquidity burns the caller's shares and pays out
// quoteOut = shares*vault/totalShares. This is the only operation not gated
// by the trading window: providers can always exit, before or after
// resolution.
func (m *Market) RemoveLiquidity(caller common.Address, sharesIn, minOut *uint256.Int) (LiquidityResult, error) {
	if err := m.guard.enter(); err != nil {
		return LiquidityResult{}, fmt.Errorf("engine: remove liquidity: %w", err)
	}
	defer m.guard.exit()

	if sharesIn == nil || sharesIn.IsZero() {
		return LiquidityResult{}, fmt.Errorf("engine: remove liquidity: %w", domain.ErrInsufficientOutput)
	}
	held, ok := m.shares[caller]
	if !ok || held.Lt(sharesIn) {
		return LiquidityResult{}, fmt.Errorf("engine: remove liquidity: %w", domain.ErrInsufficientFunds)
	}

	quoteOut, err := mulDiv(sharesIn, m.vault, m.totalShares)
	if err != nil {
		return LiquidityResult{}, fmt.Errorf("engine: remove liquidity: %w", err)
	}
	if minOut != nil && quoteOut.Lt(minOut) {
		return LiquidityResult{}, fmt.Errorf("engine: remove liquidity: out %s < min %s: %w",
			quoteOut.Dec(), minOut.Dec(), domain.ErrSlippage)
	}

	if err := m.quote.Transfer(m.addr, caller, quoteOut); err != nil {
		return LiquidityResult{}, fmt.Errorf("engine: remove liquidity: %w", err)
	}

	m.vault.Sub(m.vault, quoteOut)
	m.totalShares.Sub(m.totalShares, sharesIn)
	held.Sub(held, sharesIn)
	if held.IsZero() {
		delete(m.shares, caller)
	}

	return LiquidityResult{
		Amount: quoteOut,
		Shares: new(uint256.Int).Set(sharesIn),
	}, nil
}
