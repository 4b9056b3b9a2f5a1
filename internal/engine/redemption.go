package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
)

// RedemptionResult describes a redemption call. Payout of zero means the
// caller held none of the winning claim and nothing was mutated.
type RedemptionResult struct {
	To     common.Address
	Burned *uint256.Int // winning-claim units burned
	Payout *uint256.Int // quote units paid
}

// Redeem pays the caller's share of the vault for their winning-claim
// balance: payout = balance*vault/winningSupply, truncating. The market must
// be finalized with a concrete outcome, and each address redeems at most
// once. On a positive payout the full winning balance is burned, the claimed
// flag set, the vault decremented, and the payout transferred to dest.
//
// A caller with a zero winning-claim balance receives payout 0 and no state
// changes; the claimed flag stays unset, so such a call can repeat as a
// no-op. Because vault and winning supply shrink proportionally on each
// redemption, payouts are independent of redemption order.
func (m *Market) Redeem(caller, dest common.Address) (RedemptionResult, error) {
	if err := m.guard.enter(); err != nil {
		return RedemptionResult{}, fmt.Errorf("engine: redeem: %w", err)
	}
	defer m.guard.exit()

	if m.status != domain.MarketStatusFinalized || m.outcome == domain.OutcomeNone {
		return RedemptionResult{}, fmt.Errorf("engine: redeem: %w", domain.ErrInvalidState)
	}
	if m.redeemed[caller] {
		return RedemptionResult{}, fmt.Errorf("engine: redeem by %s: %w", caller.Hex(), domain.ErrAlreadyRedeemed)
	}

	winning := m.claimA
	if m.outcome == domain.OutcomeB {
		winning = m.claimB
	}

	balance := winning.BalanceOf(caller)
	if balance.IsZero() {
		return RedemptionResult{
			To:     dest,
			Burned: uint256.NewInt(0),
			Payout: uint256.NewInt(0),
		}, nil
	}

	payout, err := mulDiv(balance, m.vault, winning.TotalSupply())
	if err != nil {
		return RedemptionResult{}, fmt.Errorf("engine: redeem: %w", err)
	}
	if payout.IsZero() {
		return RedemptionResult{
			To:     dest,
			Burned: uint256.NewInt(0),
			Payout: uint256.NewInt(0),
		}, nil
	}

	if err := winning.Burn(m.addr, caller, balance); err != nil {
		return RedemptionResult{}, fmt.Errorf("engine: redeem: burn: %w", err)
	}
	m.redeemed[caller] = true
	m.vault.Sub(m.vault, payout)
	if err := m.quote.Transfer(m.addr, dest, payout); err != nil {
		return RedemptionResult{}, fmt.Errorf("engine: redeem: payout leg: %w", err)
	}

	return RedemptionResult{To: dest, Burned: balance, Payout: payout}, nil
}
