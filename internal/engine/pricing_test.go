package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/token"
)

func TestConcreteScenario(t *testing.T) {
	// 1000/1000 reserves, 150 bps fee, 1000 quote tokens in: fee 15,
	// effective 985, output = 1000e18 - ceil(1000e18*1000e18/1985e18).
	env := newTestEnv(t, 150)

	q, err := env.market.QuoteForA(usdc(1000))
	if err != nil {
		t.Fatalf("QuoteForA: %v", err)
	}
	if q.Fee != usdc(15).Dec() {
		t.Errorf("fee = %s, want %s", q.Fee, usdc(15).Dec())
	}
	const wantOut = "496221662468513853904"
	if q.Output != wantOut {
		t.Errorf("output = %s, want %s", q.Output, wantOut)
	}

	res, err := env.market.SwapForA(env.alice, usdc(1000), mustDec(t, wantOut))
	if err != nil {
		t.Fatalf("SwapForA: %v", err)
	}
	if res.AmountOut.Dec() != wantOut {
		t.Errorf("swap output = %s, want %s", res.AmountOut.Dec(), wantOut)
	}

	// Effective input lands in reserve A at reserve scale; vault holds the
	// effective quote units; the fee sits with the treasury.
	ra, _ := env.market.Reserves()
	if ra.Cmp(wad(1985)) != 0 {
		t.Errorf("reserveA = %s, want %s", ra.Dec(), wad(1985).Dec())
	}
	if env.market.Vault().Cmp(usdc(985)) != 0 {
		t.Errorf("vault = %s, want %s", env.market.Vault().Dec(), usdc(985).Dec())
	}
	if got := env.bank.BalanceOf(env.treasury); got.Cmp(usdc(15)) != 0 {
		t.Errorf("treasury = %s, want %s", got.Dec(), usdc(15).Dec())
	}
}

func TestQuoteSwapConsistency(t *testing.T) {
	for _, side := range []domain.Side{domain.SideA, domain.SideB} {
		t.Run(string(side), func(t *testing.T) {
			env := newTestEnv(t, 150)
			in := usdc(250)

			var q domain.Quote
			var err error
			if side == domain.SideA {
				q, err = env.market.QuoteForA(in)
			} else {
				q, err = env.market.QuoteForB(in)
			}
			if err != nil {
				t.Fatalf("quote: %v", err)
			}
			quoted := mustDec(t, q.Output)

			var res TradeResult
			if side == domain.SideA {
				res, err = env.market.SwapForA(env.alice, in, quoted)
			} else {
				res, err = env.market.SwapForB(env.alice, in, quoted)
			}
			if err != nil {
				t.Fatalf("swap: %v", err)
			}
			if res.AmountOut.Cmp(quoted) != 0 {
				t.Errorf("swap minted %s, quote said %s", res.AmountOut.Dec(), quoted.Dec())
			}
			if got := env.market.ClaimBalance(side, env.alice); got.Cmp(quoted) != 0 {
				t.Errorf("claim balance = %s, want %s", got.Dec(), quoted.Dec())
			}
		})
	}
}

func TestConstantProductNonDecreasing(t *testing.T) {
	t.Run("nonzero fee strictly increases", func(t *testing.T) {
		env := newTestEnv(t, 150)
		trades := []struct {
			side domain.Side
			in   *uint256.Int
		}{
			{domain.SideA, usdc(100)},
			{domain.SideB, usdc(333)},
			{domain.SideA, usdc(1)},
			{domain.SideB, usdc(4999)},
			{domain.SideA, usdc(777)},
		}

		before := product(t, env.market)
		for i, tr := range trades {
			var err error
			if tr.side == domain.SideA {
				_, err = env.market.SwapForA(env.alice, tr.in, nil)
			} else {
				_, err = env.market.SwapForB(env.alice, tr.in, nil)
			}
			if err != nil {
				t.Fatalf("trade %d: %v", i, err)
			}
			after := product(t, env.market)
			if !before.Lt(after) {
				t.Fatalf("trade %d: product %s -> %s, want strict increase", i, before.Dec(), after.Dec())
			}
			before = after
		}
	})

	t.Run("zero fee never decreases", func(t *testing.T) {
		env := newTestEnv(t, 0)
		before := product(t, env.market)
		for i := 0; i < 8; i++ {
			if _, err := env.market.SwapForA(env.bob, usdc(50), nil); err != nil {
				t.Fatalf("trade %d: %v", i, err)
			}
			after := product(t, env.market)
			if after.Lt(before) {
				t.Fatalf("trade %d: product %s -> %s, want non-decreasing", i, before.Dec(), after.Dec())
			}
			before = after
		}
	})
}

func TestPriceComplement(t *testing.T) {
	env := newTestEnv(t, 150)

	// Skew the reserves first so the division is not trivially exact.
	if _, err := env.market.SwapForA(env.alice, usdc(1234), nil); err != nil {
		t.Fatalf("setup swap: %v", err)
	}

	unit := pow10(18)
	for _, in := range []uint64{1, 7, 100, 9_999, 123_456} {
		for _, side := range []domain.Side{domain.SideA, domain.SideB} {
			var q domain.Quote
			var err error
			if side == domain.SideA {
				q, err = env.market.QuoteForA(usdc(in))
			} else {
				q, err = env.market.QuoteForB(usdc(in))
			}
			if err != nil {
				t.Fatalf("quote %s %d: %v", side, in, err)
			}
			sum := new(uint256.Int).Add(mustDec(t, q.Price), mustDec(t, q.PriceOther))
			if sum.Cmp(unit) != 0 {
				t.Errorf("quote %s %d: priceA+priceB = %s, want %s", side, in, sum.Dec(), unit.Dec())
			}
		}
	}
}

func TestQuoteDoesNotMutate(t *testing.T) {
	env := newTestEnv(t, 150)
	ra0, rb0 := env.market.Reserves()
	vault0 := env.market.Vault()

	if _, err := env.market.QuoteForA(usdc(500)); err != nil {
		t.Fatalf("QuoteForA: %v", err)
	}
	if _, err := env.market.QuoteForB(usdc(500)); err != nil {
		t.Fatalf("QuoteForB: %v", err)
	}

	ra1, rb1 := env.market.Reserves()
	if ra0.Cmp(ra1) != 0 || rb0.Cmp(rb1) != 0 {
		t.Error("quote mutated reserves")
	}
	if vault0.Cmp(env.market.Vault()) != 0 {
		t.Error("quote mutated vault")
	}
}

func TestSwapFailures(t *testing.T) {
	t.Run("zero input", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.SwapForA(env.alice, uint256.NewInt(0), nil); !errors.Is(err, domain.ErrInsufficientOutput) {
			t.Errorf("err = %v, want ErrInsufficientOutput", err)
		}
	})

	t.Run("slippage", func(t *testing.T) {
		env := newTestEnv(t, 150)
		q, err := env.market.QuoteForA(usdc(100))
		if err != nil {
			t.Fatalf("quote: %v", err)
		}
		min := new(uint256.Int).AddUint64(mustDec(t, q.Output), 1)
		if _, err := env.market.SwapForA(env.alice, usdc(100), min); !errors.Is(err, domain.ErrSlippage) {
			t.Errorf("err = %v, want ErrSlippage", err)
		}
	})

	t.Run("insufficient funds", func(t *testing.T) {
		env := newTestEnv(t, 150)
		broke := addr("broke")
		if _, err := env.market.SwapForA(broke, usdc(10), nil); !errors.Is(err, domain.ErrInsufficientFunds) {
			t.Errorf("err = %v, want ErrInsufficientFunds", err)
		}
	})

	t.Run("failure leaves state untouched", func(t *testing.T) {
		env := newTestEnv(t, 150)
		ra0, rb0 := env.market.Reserves()
		aliceBal0 := env.bank.BalanceOf(env.alice)

		q, _ := env.market.QuoteForA(usdc(100))
		min := new(uint256.Int).AddUint64(mustDec(t, q.Output), 1)
		if _, err := env.market.SwapForA(env.alice, usdc(100), min); err == nil {
			t.Fatal("want error")
		}

		ra1, rb1 := env.market.Reserves()
		if ra0.Cmp(ra1) != 0 || rb0.Cmp(rb1) != 0 {
			t.Error("failed swap mutated reserves")
		}
		if env.bank.BalanceOf(env.alice).Cmp(aliceBal0) != 0 {
			t.Error("failed swap moved funds")
		}
	})
}

func TestGateEnforcement(t *testing.T) {
	t.Run("cutoff closes trading while status still open", func(t *testing.T) {
		env := newTestEnv(t, 150)
		env.clock.Advance(24 * time.Hour) // exactly at the cutoff

		if env.market.Status() != domain.MarketStatusOpen {
			t.Fatalf("status = %s, want open", env.market.Status())
		}
		if _, err := env.market.SwapForA(env.alice, usdc(10), nil); !errors.Is(err, domain.ErrTradingClosed) {
			t.Errorf("err = %v, want ErrTradingClosed", err)
		}
	})

	t.Run("registry pause closes trading", func(t *testing.T) {
		env := newTestEnv(t, 150)
		env.pauser.set(true)
		if _, err := env.market.SwapForB(env.alice, usdc(10), nil); !errors.Is(err, domain.ErrTradingClosed) {
			t.Errorf("err = %v, want ErrTradingClosed", err)
		}

		env.pauser.set(false)
		if _, err := env.market.SwapForB(env.alice, usdc(10), nil); err != nil {
			t.Errorf("swap after unpause: %v", err)
		}
	})
}

// reentrantToken wraps the bank and calls back into the market mid-transfer,
// the way a malicious asset hook would.
type reentrantToken struct {
	*token.Bank
	market *Market
	caller common.Address
	err    error
	fired  bool
}

func (r *reentrantToken) Transfer(from, to common.Address, amount *uint256.Int) error {
	if !r.fired {
		r.fired = true
		_, r.err = r.market.SwapForA(r.caller, usdc(1), nil)
	}
	return r.Bank.Transfer(from, to, amount)
}

func TestReentrancyGuard(t *testing.T) {
	bank := token.NewBank("USDC", 6)
	clock := newTestClock()
	alice := addr("alice")
	bank.Mint(alice, usdc(1_000_000))

	rt := &reentrantToken{Bank: bank, caller: alice}
	m, err := New(Config{
		MarketParams: domain.MarketParams{
			SongID:      "song-001",
			MarketID:    1,
			InitialRank: 17,
			Cutoff:      clock.Now().Add(24 * time.Hour),
			FeeBps:      150,
			QuoteSymbol: "USDC",
			Registry:    addr("registry"),
			Authority:   addr("authority"),
			Treasury:    addr("treasury"),
		},
		InitialReserve: wad(1000),
	}, rt, &testPauser{}, WithClock(clock.Now))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rt.market = m

	if _, err := m.SwapForA(alice, usdc(100), nil); err != nil {
		t.Fatalf("outer swap: %v", err)
	}
	if !rt.fired {
		t.Fatal("re-entrant transfer hook never fired")
	}
	if !errors.Is(rt.err, domain.ErrReentrantCall) {
		t.Errorf("inner call err = %v, want ErrReentrantCall", rt.err)
	}

	// The guard must clear on exit so the next call proceeds.
	if _, err := m.SwapForA(alice, usdc(10), nil); err != nil {
		t.Errorf("follow-up swap: %v", err)
	}
}

func TestDrainedReserveRejectsTrades(t *testing.T) {
	env := newTestEnv(t, 150)

	// A live market never drains a reserve (the ceiling division leaves at
	// least one unit behind), but a restored snapshot can carry one. Buying
	// the drained side would otherwise pay out the entire opposing reserve.
	snap := env.market.Snapshot()
	snap.ReserveA = "0"

	m, err := Restore(snap, env.bank, env.pauser, WithClock(env.clock.Now))
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}

	if _, err := m.SwapForA(env.alice, usdc(100), nil); !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Errorf("swap err = %v, want ErrInsufficientLiquidity", err)
	}
	if _, err := m.QuoteForA(usdc(100)); !errors.Is(err, domain.ErrInsufficientLiquidity) {
		t.Errorf("quote err = %v, want ErrInsufficientLiquidity", err)
	}
}
