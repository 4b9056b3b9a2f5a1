package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/token"
)

func newMarketWithFee(feeBps uint64, reserve *uint256.Int) (*Market, error) {
	clock := newTestClock()
	return New(Config{
		MarketParams: domain.MarketParams{
			SongID:      "song-002",
			MarketID:    7,
			InitialRank: 4,
			Cutoff:      clock.Now().Add(24 * time.Hour),
			FeeBps:      feeBps,
			QuoteSymbol: "USDC",
			Registry:    addr("registry"),
			Authority:   addr("authority"),
			Treasury:    addr("treasury"),
		},
		InitialReserve: reserve,
	}, token.NewBank("USDC", 6), &testPauser{}, WithClock(clock.Now))
}

func TestNewValidation(t *testing.T) {
	t.Run("rejects fee at denominator", func(t *testing.T) {
		if _, err := newMarketWithFee(10_000, wad(1000)); !errors.Is(err, domain.ErrInvalidFee) {
			t.Errorf("err = %v, want ErrInvalidFee", err)
		}
	})

	t.Run("rejects fee above denominator", func(t *testing.T) {
		if _, err := newMarketWithFee(20_000, wad(1000)); !errors.Is(err, domain.ErrInvalidFee) {
			t.Errorf("err = %v, want ErrInvalidFee", err)
		}
	})

	t.Run("accepts fee just under denominator", func(t *testing.T) {
		if _, err := newMarketWithFee(9_999, wad(1000)); err != nil {
			t.Errorf("err = %v, want nil", err)
		}
	})

	t.Run("rejects zero initial reserve", func(t *testing.T) {
		if _, err := newMarketWithFee(150, uint256.NewInt(0)); !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})
}

func TestSnapshotRestore(t *testing.T) {
	env := finalizedEnv(t)

	// Alice redeems before the snapshot so a spent claim and a set redeemed
	// flag are part of the captured state.
	if _, err := env.market.Redeem(env.alice, env.alice); err != nil {
		t.Fatalf("alice redeem: %v", err)
	}
	snap := env.market.Snapshot()

	// The quote ledger is not part of the snapshot; the caller re-funds the
	// vault account, as the service does at startup.
	bank := token.NewBank("USDC", 6)
	bank.Mint(env.market.Address(), env.market.Vault())

	restored, err := Restore(snap, bank, env.pauser, WithClock(env.clock.Now))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	t.Run("state survives the round trip", func(t *testing.T) {
		if restored.Status() != domain.MarketStatusFinalized {
			t.Errorf("status = %s, want %s", restored.Status(), domain.MarketStatusFinalized)
		}
		if restored.Outcome() != domain.OutcomeA {
			t.Errorf("outcome = %s, want %s", restored.Outcome(), domain.OutcomeA)
		}

		wantA, wantB := env.market.Reserves()
		gotA, gotB := restored.Reserves()
		if !gotA.Eq(wantA) || !gotB.Eq(wantB) {
			t.Errorf("reserves = %s/%s, want %s/%s", gotA.Dec(), gotB.Dec(), wantA.Dec(), wantB.Dec())
		}
		if !restored.Vault().Eq(env.market.Vault()) {
			t.Errorf("vault = %s, want %s", restored.Vault().Dec(), env.market.Vault().Dec())
		}
		if !restored.TotalShares().Eq(env.market.TotalShares()) {
			t.Errorf("total shares = %s, want %s",
				restored.TotalShares().Dec(), env.market.TotalShares().Dec())
		}
		if !restored.SharesOf(env.carol).Eq(env.market.SharesOf(env.carol)) {
			t.Errorf("carol shares = %s, want %s",
				restored.SharesOf(env.carol).Dec(), env.market.SharesOf(env.carol).Dec())
		}

		for _, side := range []domain.Side{domain.SideA, domain.SideB} {
			if !restored.ClaimSupply(side).Eq(env.market.ClaimSupply(side)) {
				t.Errorf("claim %s supply = %s, want %s", side,
					restored.ClaimSupply(side).Dec(), env.market.ClaimSupply(side).Dec())
			}
		}
		if !restored.ClaimBalance(domain.SideA, env.bob).Eq(env.market.ClaimBalance(domain.SideA, env.bob)) {
			t.Error("bob claim A balance changed across the round trip")
		}
		if !restored.ClaimBalance(domain.SideA, env.alice).IsZero() {
			t.Error("alice's redeemed claim balance reappeared")
		}

		rsnap := restored.Snapshot()
		if rsnap.FinalRank == nil || *rsnap.FinalRank != 2 {
			t.Errorf("final rank = %v, want 2", rsnap.FinalRank)
		}
	})

	t.Run("redeemed flag survives", func(t *testing.T) {
		if _, err := restored.Redeem(env.alice, env.alice); !errors.Is(err, domain.ErrAlreadyRedeemed) {
			t.Errorf("err = %v, want ErrAlreadyRedeemed", err)
		}
	})

	t.Run("restored market pays redemptions", func(t *testing.T) {
		bobBal := restored.ClaimBalance(domain.SideA, env.bob)
		want, err := mulDiv(bobBal, restored.Vault(), restored.ClaimSupply(domain.SideA))
		if err != nil {
			t.Fatalf("expected payout: %v", err)
		}

		res, err := restored.Redeem(env.bob, env.bob)
		if err != nil {
			t.Fatalf("bob redeem: %v", err)
		}
		if !res.Payout.Eq(want) {
			t.Errorf("payout = %s, want %s", res.Payout.Dec(), want.Dec())
		}
		if !bank.BalanceOf(env.bob).Eq(want) {
			t.Errorf("bob balance = %s, want %s", bank.BalanceOf(env.bob).Dec(), want.Dec())
		}
	})
}
