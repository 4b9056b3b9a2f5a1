// Package token holds the asset ledgers a market settles against: the quote
// asset backing the vault and the two outcome-claim ledgers minted against
// trades. Balances use uint256 so the engine's truncating fixed-point math
// carries through unchanged.
package token

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
)

// QuoteToken is the quote-asset ledger a market's vault and fee transfers
// settle against. Implementations must reject transfers exceeding the
// sender's balance without mutating any state.
type QuoteToken interface {
	Symbol() string
	Decimals() uint8
	BalanceOf(addr common.Address) *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Bank is an in-memory QuoteToken. One Bank instance is shared by every
// market quoted in the same asset; per-market state never lives here.
type Bank struct {
	symbol   string
	decimals uint8

	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
}

// NewBank creates a Bank for the given asset symbol and native decimals.
func NewBank(symbol string, decimals uint8) *Bank {
	return &Bank{
		symbol:   symbol,
		decimals: decimals,
		balances: make(map[common.Address]*uint256.Int),
	}
}

func (b *Bank) Symbol() string  { return b.symbol }
func (b *Bank) Decimals() uint8 { return b.decimals }

// BalanceOf returns a copy of the address's balance.
func (b *Bank) BalanceOf(addr common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bal, ok := b.balances[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// Mint credits newly issued quote units to an address.
func (b *Bank) Mint(to common.Address, amount *uint256.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(to, amount)
}

// Transfer moves amount from one address to another. It fails with
// ErrInsufficientFunds before touching either balance.
func (b *Bank) Transfer(from, to common.Address, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal, ok := b.balances[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("token: transfer %s from %s: %w",
			amount.Dec(), from.Hex(), domain.ErrInsufficientFunds)
	}

	bal.Sub(bal, amount)
	b.credit(to, amount)
	return nil
}

// credit adds to an address's balance. Caller must hold b.mu.
func (b *Bank) credit(to common.Address, amount *uint256.Int) {
	if bal, ok := b.balances[to]; ok {
		bal.Add(bal, amount)
		return
	}
	b.balances[to] = new(uint256.Int).Set(amount)
}

var _ QuoteToken = (*Bank)(nil)
