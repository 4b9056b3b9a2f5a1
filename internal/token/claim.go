package token

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
)

// ClaimLedger tracks one side of a binary bet: per-address balances and the
// total supply, mintable and burnable only by its single authorized minter
// (the owning market). Claim balances are held in the engine's 1e18 reserve
// scale. The ledger is not internally synchronized; the owning market
// serializes all access.
type ClaimLedger struct {
	minter      common.Address
	totalSupply *uint256.Int
	balances    map[common.Address]*uint256.Int
}

// NewClaimLedger creates an empty ledger whose only authorized minter is the
// given market address.
func NewClaimLedger(minter common.Address) *ClaimLedger {
	return &ClaimLedger{
		minter:      minter,
		totalSupply: uint256.NewInt(0),
		balances:    make(map[common.Address]*uint256.Int),
	}
}

// TotalSupply returns a copy of the current total supply.
func (l *ClaimLedger) TotalSupply() *uint256.Int {
	return new(uint256.Int).Set(l.totalSupply)
}

// BalanceOf returns a copy of the address's claim balance.
func (l *ClaimLedger) BalanceOf(addr common.Address) *uint256.Int {
	if bal, ok := l.balances[addr]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// Mint issues amount to an address. Only the authorized minter may call.
func (l *ClaimLedger) Mint(caller, to common.Address, amount *uint256.Int) error {
	if caller != l.minter {
		return fmt.Errorf("token: mint by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if bal, ok := l.balances[to]; ok {
		bal.Add(bal, amount)
	} else {
		l.balances[to] = new(uint256.Int).Set(amount)
	}
	l.totalSupply.Add(l.totalSupply, amount)
	return nil
}

// Burn destroys amount from an address's balance. Only the authorized minter
// may call; the balance must cover the amount.
func (l *ClaimLedger) Burn(caller, from common.Address, amount *uint256.Int) error {
	if caller != l.minter {
		return fmt.Errorf("token: burn by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	bal, ok := l.balances[from]
	if !ok || bal.Lt(amount) {
		return fmt.Errorf("token: burn %s from %s: %w",
			amount.Dec(), from.Hex(), domain.ErrInsufficientFunds)
	}
	bal.Sub(bal, amount)
	l.totalSupply.Sub(l.totalSupply, amount)
	return nil
}

// Snapshot returns the persisted view of the ledger.
func (l *ClaimLedger) Snapshot() domain.ClaimSnapshot {
	balances := make(map[string]string, len(l.balances))
	for addr, bal := range l.balances {
		if !bal.IsZero() {
			balances[addr.Hex()] = bal.Dec()
		}
	}
	return domain.ClaimSnapshot{
		TotalSupply: l.totalSupply.Dec(),
		Balances:    balances,
	}
}

// RestoreClaimLedger rebuilds a ledger from a persisted snapshot.
func RestoreClaimLedger(minter common.Address, snap domain.ClaimSnapshot) (*ClaimLedger, error) {
	l := NewClaimLedger(minter)

	total, err := uint256.FromDecimal(snap.TotalSupply)
	if err != nil {
		return nil, fmt.Errorf("token: restore total supply %q: %w", snap.TotalSupply, err)
	}
	l.totalSupply = total

	for addr, dec := range snap.Balances {
		bal, err := uint256.FromDecimal(dec)
		if err != nil {
			return nil, fmt.Errorf("token: restore balance %s=%q: %w", addr, dec, err)
		}
		l.balances[common.HexToAddress(addr)] = bal
	}
	return l, nil
}
