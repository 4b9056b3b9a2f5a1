package engine

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
)

// finalizedEnv builds a market with vault funding, claim positions for alice
// and bob on side A and carol on side B, then finalizes with outcome A.
func finalizedEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, 150)

	if _, err := env.market.AddLiquidity(env.carol, usdc(2_000), nil); err != nil {
		t.Fatalf("seed liquidity: %v", err)
	}
	if _, err := env.market.SwapForA(env.alice, usdc(600), nil); err != nil {
		t.Fatalf("alice swap: %v", err)
	}
	if _, err := env.market.SwapForA(env.bob, usdc(200), nil); err != nil {
		t.Fatalf("bob swap: %v", err)
	}
	if _, err := env.market.SwapForB(env.carol, usdc(100), nil); err != nil {
		t.Fatalf("carol swap: %v", err)
	}
	if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeA, 17, 2); err != nil {
		t.Fatalf("apply outcome: %v", err)
	}
	return env
}

func TestRedeemPreconditions(t *testing.T) {
	t.Run("before finalization", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.Redeem(env.alice, env.alice); !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("at most once per holder", func(t *testing.T) {
		env := finalizedEnv(t)
		if _, err := env.market.Redeem(env.alice, env.alice); err != nil {
			t.Fatalf("first redeem: %v", err)
		}
		if _, err := env.market.Redeem(env.alice, env.alice); !errors.Is(err, domain.ErrAlreadyRedeemed) {
			t.Errorf("second err = %v, want ErrAlreadyRedeemed", err)
		}
	})
}

func TestRedeemPayout(t *testing.T) {
	env := finalizedEnv(t)

	vaultAtFinalization := env.market.Vault()
	aliceBal := env.market.ClaimBalance(domain.SideA, env.alice)
	supply := env.market.ClaimSupply(domain.SideA)

	wantAlice := new(uint256.Int).Mul(aliceBal, vaultAtFinalization)
	wantAlice.Div(wantAlice, supply)

	before := env.bank.BalanceOf(env.alice)
	res, err := env.market.Redeem(env.alice, env.alice)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if res.Payout.Cmp(wantAlice) != 0 {
		t.Errorf("payout = %s, want %s", res.Payout.Dec(), wantAlice.Dec())
	}
	got := new(uint256.Int).Sub(env.bank.BalanceOf(env.alice), before)
	if got.Cmp(wantAlice) != 0 {
		t.Errorf("received = %s, want %s", got.Dec(), wantAlice.Dec())
	}

	// The winning balance burns in full and the flag blocks a repeat.
	if bal := env.market.ClaimBalance(domain.SideA, env.alice); !bal.IsZero() {
		t.Errorf("claim balance after redeem = %s", bal.Dec())
	}
}

func TestRedeemConservation(t *testing.T) {
	// The set of winners drains exactly the vault recorded at finalization,
	// in either redemption order.
	orders := map[string][2]string{
		"alice first": {"alice", "bob"},
		"bob first":   {"bob", "alice"},
	}

	payouts := make(map[string]map[string]*uint256.Int)
	for name, order := range orders {
		t.Run(name, func(t *testing.T) {
			env := finalizedEnv(t)
			vault0 := env.market.Vault()

			got := make(map[string]*uint256.Int)
			for _, who := range order {
				caller := addr(who)
				res, err := env.market.Redeem(caller, caller)
				if err != nil {
					t.Fatalf("redeem %s: %v", who, err)
				}
				got[who] = res.Payout
			}

			total := new(uint256.Int).Add(got["alice"], got["bob"])
			if total.Cmp(vault0) != 0 {
				t.Errorf("total payout %s, vault at finalization %s", total.Dec(), vault0.Dec())
			}
			if !env.market.Vault().IsZero() {
				t.Errorf("vault = %s after all winners redeemed", env.market.Vault().Dec())
			}
			payouts[name] = got
		})
	}

	// Per-holder payouts must not depend on call order beyond the single
	// base unit the non-final redeemer's truncation can shift.
	for _, who := range []string{"alice", "bob"} {
		a := payouts["alice first"][who]
		b := payouts["bob first"][who]
		if a == nil || b == nil {
			t.Fatal("missing payout record")
		}
		diff := new(uint256.Int)
		if a.Lt(b) {
			diff.Sub(b, a)
		} else {
			diff.Sub(a, b)
		}
		if diff.CmpUint64(1) > 0 {
			t.Errorf("%s payout differs by order: %s vs %s", who, a.Dec(), b.Dec())
		}
	}
}

func TestRedeemZeroBalance(t *testing.T) {
	env := finalizedEnv(t)

	// carol holds only the losing claim.
	if bal := env.market.ClaimBalance(domain.SideA, env.carol); !bal.IsZero() {
		t.Fatalf("carol holds winning claim %s", bal.Dec())
	}

	vault0 := env.market.Vault()
	supply0 := env.market.ClaimSupply(domain.SideA)

	res, err := env.market.Redeem(env.carol, env.carol)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !res.Payout.IsZero() {
		t.Errorf("payout = %s, want 0", res.Payout.Dec())
	}

	// No state was touched: vault and winning supply intact, flag unset, so
	// the call may repeat as a no-op.
	if env.market.Vault().Cmp(vault0) != 0 {
		t.Error("zero-balance redeem moved the vault")
	}
	if env.market.ClaimSupply(domain.SideA).Cmp(supply0) != 0 {
		t.Error("zero-balance redeem touched winning supply")
	}
	if _, err := env.market.Redeem(env.carol, env.carol); err != nil {
		t.Errorf("repeat zero-balance redeem: %v", err)
	}

	// Other holders are unaffected.
	if _, err := env.market.Redeem(env.alice, env.alice); err != nil {
		t.Errorf("alice redeem after carol no-op: %v", err)
	}
}

func TestRedeemToDestination(t *testing.T) {
	env := finalizedEnv(t)
	dest := common.BytesToAddress([]byte("cold-wallet"))

	res, err := env.market.Redeem(env.alice, dest)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := env.bank.BalanceOf(dest); got.Cmp(res.Payout) != 0 {
		t.Errorf("destination received %s, want %s", got.Dec(), res.Payout.Dec())
	}
}
