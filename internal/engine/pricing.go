package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
)

// priceUnit is the fixed-point unit for prices: priceA + priceB == priceUnit
// after every quote.
var priceUnit = pow10(reserveDecimals)

// TradeResult describes a completed swap. AmountIn and Fee are quote units;
// AmountOut is claim units in reserve scale.
type TradeResult struct {
	Side      domain.Side
	AmountIn  *uint256.Int
	Fee       *uint256.Int
	AmountOut *uint256.Int
	Price     *uint256.Int // post-trade price of the bought side, 1e18
}

// QuoteForA prices a purchase of claim A without mutating state.
func (m *Market) QuoteForA(amountIn *uint256.Int) (domain.Quote, error) {
	return m.quoteFor(domain.SideA, amountIn)
}

// QuoteForB prices a purchase of claim B without mutating state.
func (m *Market) QuoteForB(amountIn *uint256.Int) (domain.Quote, error) {
	return m.quoteFor(domain.SideB, amountIn)
}

func (m *Market) quoteFor(side domain.Side, amountIn *uint256.Int) (domain.Quote, error) {
	if amountIn == nil || amountIn.IsZero() {
		return domain.Quote{}, fmt.Errorf("engine: quote %s: %w", side, domain.ErrInsufficientOutput)
	}
	if amountIn.BitLen() > maxInputBits {
		return domain.Quote{}, fmt.Errorf("engine: quote %s: %w", side, errOverflow)
	}

	fee, effective := m.splitFee(amountIn)
	e, err := m.toReserveScale(effective)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("engine: quote %s: %w", side, err)
	}

	out, price, _, err := m.priceTrade(side, e)
	if err != nil {
		return domain.Quote{}, err
	}

	return domain.Quote{
		Side:       side,
		AmountIn:   amountIn.Dec(),
		Fee:        fee.Dec(),
		Output:     out.Dec(),
		Price:      price.Dec(),
		PriceOther: new(uint256.Int).Sub(priceUnit, price).Dec(),
	}, nil
}

// SwapForA buys claim A with amountIn quote units, minting at least minOut
// claim units (reserve scale) to the caller.
func (m *Market) SwapForA(caller common.Address, amountIn, minOut *uint256.Int) (TradeResult, error) {
	return m.swapFor(domain.SideA, caller, amountIn, minOut)
}

// SwapForB buys claim B with amountIn quote units.
func (m *Market) SwapForB(caller common.Address, amountIn, minOut *uint256.Int) (TradeResult, error) {
	return m.swapFor(domain.SideB, caller, amountIn, minOut)
}

func (m *Market) swapFor(side domain.Side, caller common.Address, amountIn, minOut *uint256.Int) (TradeResult, error) {
	if err := m.guard.enter(); err != nil {
		return TradeResult{}, fmt.Errorf("engine: swap %s: %w", side, err)
	}
	defer m.guard.exit()

	if !m.tradeable() {
		return TradeResult{}, fmt.Errorf("engine: swap %s: %w", side, domain.ErrTradingClosed)
	}
	if amountIn == nil || amountIn.IsZero() {
		return TradeResult{}, fmt.Errorf("engine: swap %s: %w", side, domain.ErrInsufficientOutput)
	}
	if amountIn.BitLen() > maxInputBits {
		return TradeResult{}, fmt.Errorf("engine: swap %s: %w", side, errOverflow)
	}

	fee, effective := m.splitFee(amountIn)
	e, err := m.toReserveScale(effective)
	if err != nil {
		return TradeResult{}, fmt.Errorf("engine: swap %s: %w", side, err)
	}

	out, price, newOpposing, err := m.priceTrade(side, e)
	if err != nil {
		return TradeResult{}, err
	}
	if minOut != nil && out.Lt(minOut) {
		return TradeResult{}, fmt.Errorf("engine: swap %s: out %s < min %s: %w",
			side, out.Dec(), minOut.Dec(), domain.ErrSlippage)
	}
	if m.quote.BalanceOf(caller).Lt(amountIn) {
		return TradeResult{}, fmt.Errorf("engine: swap %s: %w", side, domain.ErrInsufficientFunds)
	}

	// All preconditions verified; the transfers below cannot fail and the
	// reserve, vault, and claim mutations apply together.
	if err := m.quote.Transfer(caller, m.addr, effective); err != nil {
		return TradeResult{}, fmt.Errorf("engine: swap %s: vault leg: %w", side, err)
	}
	if err := m.quote.Transfer(caller, m.cfg.Treasury, fee); err != nil {
		return TradeResult{}, fmt.Errorf("engine: swap %s: fee leg: %w", side, err)
	}

	if side == domain.SideA {
		m.reserveA.Add(m.reserveA, e)
		m.reserveB = newOpposing
	} else {
		m.reserveB.Add(m.reserveB, e)
		m.reserveA = newOpposing
	}
	m.vault.Add(m.vault, effective)

	if err := m.claim(side).Mint(m.addr, caller, out); err != nil {
		return TradeResult{}, fmt.Errorf("engine: swap %s: mint: %w", side, err)
	}

	return TradeResult{
		Side:      side,
		AmountIn:  new(uint256.Int).Set(amountIn),
		Fee:       fee,
		AmountOut: out,
		Price:     price,
	}, nil
}

// priceTrade runs the constant-product update for an effective input e in
// reserve scale: the bought side's reserve grows by e, the opposing reserve
// becomes ceil(k/(bought+e)), and the output is the opposing reserve's drop.
// Rounding the new opposing reserve up keeps reserveA*reserveB non-decreasing.
// It returns the output, the post-trade price of the bought side (the
// opposing reserve over the reserve sum, 1e18 fixed point), and the new
// opposing reserve.
func (m *Market) priceTrade(side domain.Side, e *uint256.Int) (out, price, newOpposing *uint256.Int, err error) {
	bought, opposing := m.reserveA, m.reserveB
	if side == domain.SideB {
		bought, opposing = m.reserveB, m.reserveA
	}

	k := new(uint256.Int)
	if _, over := k.MulOverflow(bought, opposing); over {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, errOverflow)
	}

	newBought := new(uint256.Int)
	if _, over := newBought.AddOverflow(bought, e); over {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, errOverflow)
	}

	newOpposing, err = ceilDiv(k, newBought)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, err)
	}

	if newOpposing.Cmp(opposing) >= 0 {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, domain.ErrInsufficientOutput)
	}
	out = new(uint256.Int).Sub(opposing, newOpposing)
	// out == opposing only when the bought reserve is zero: the product is
	// then zero and the ceiling division no longer keeps newOpposing >= 1.
	// Live trading keeps both reserves positive; a restored snapshot can
	// carry a drained reserve, and such a market must not trade.
	if out.Cmp(opposing) >= 0 {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, domain.ErrInsufficientLiquidity)
	}

	sum := new(uint256.Int)
	if _, over := sum.AddOverflow(newBought, newOpposing); over {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, errOverflow)
	}
	price, err = mulDiv(newOpposing, priceUnit, sum)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("engine: price %s: %w", side, err)
	}
	return out, price, newOpposing, nil
}
