package engine

import (
	"errors"
	"testing"

	"github.com/chartbets/chartbets/internal/domain"
)

func TestSetStatus(t *testing.T) {
	t.Run("pause and unpause cycle", func(t *testing.T) {
		env := newTestEnv(t, 150)

		res, err := env.market.SetStatus(env.registry, domain.MarketStatusPendingResolve)
		if err != nil {
			t.Fatalf("pause: %v", err)
		}
		if res.From != domain.MarketStatusOpen || res.To != domain.MarketStatusPendingResolve {
			t.Errorf("transition %s -> %s", res.From, res.To)
		}

		// Paused market rejects trades and deposits.
		if _, err := env.market.SwapForA(env.alice, usdc(10), nil); !errors.Is(err, domain.ErrTradingClosed) {
			t.Errorf("swap err = %v, want ErrTradingClosed", err)
		}
		if _, err := env.market.AddLiquidity(env.alice, usdc(10), nil); !errors.Is(err, domain.ErrTradingClosed) {
			t.Errorf("deposit err = %v, want ErrTradingClosed", err)
		}

		if _, err := env.market.SetStatus(env.registry, domain.MarketStatusOpen); err != nil {
			t.Fatalf("unpause: %v", err)
		}
		if _, err := env.market.SwapForA(env.alice, usdc(10), nil); err != nil {
			t.Errorf("swap after unpause: %v", err)
		}
	})

	t.Run("only the registry may call", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.SetStatus(env.alice, domain.MarketStatusPendingResolve); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("illegal transitions", func(t *testing.T) {
		env := newTestEnv(t, 150)
		for _, to := range []domain.MarketStatus{
			domain.MarketStatusOpen,      // already open
			domain.MarketStatusCommitted, // declared but unreachable
			domain.MarketStatusFinalized, // only ApplyOutcome finalizes
		} {
			if _, err := env.market.SetStatus(env.registry, to); !errors.Is(err, domain.ErrInvalidState) {
				t.Errorf("to %s: err = %v, want ErrInvalidState", to, err)
			}
		}
	})

	t.Run("finalized market is frozen", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeA, 17, 3); err != nil {
			t.Fatalf("apply outcome: %v", err)
		}
		if _, err := env.market.SetStatus(env.registry, domain.MarketStatusPendingResolve); !errors.Is(err, domain.ErrAlreadyFinalized) {
			t.Errorf("err = %v, want ErrAlreadyFinalized", err)
		}
	})
}

func TestApplyOutcome(t *testing.T) {
	t.Run("finalizes from open", func(t *testing.T) {
		env := newTestEnv(t, 150)
		res, err := env.market.ApplyOutcome(env.authority, domain.OutcomeA, 17, 3)
		if err != nil {
			t.Fatalf("apply outcome: %v", err)
		}
		if res.Outcome != domain.OutcomeA || res.FinalRank != 3 {
			t.Errorf("result = %+v", res)
		}
		if env.market.Status() != domain.MarketStatusFinalized {
			t.Errorf("status = %s, want finalized", env.market.Status())
		}
		if env.market.Outcome() != domain.OutcomeA {
			t.Errorf("outcome = %s, want a", env.market.Outcome())
		}
	})

	t.Run("finalizes from pending resolve", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.SetStatus(env.registry, domain.MarketStatusPendingResolve); err != nil {
			t.Fatalf("pause: %v", err)
		}
		if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeB, 17, 44); err != nil {
			t.Fatalf("apply outcome: %v", err)
		}
	})

	t.Run("only the authority may call", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.ApplyOutcome(env.registry, domain.OutcomeA, 17, 3); !errors.Is(err, domain.ErrUnauthorized) {
			t.Errorf("err = %v, want ErrUnauthorized", err)
		}
	})

	t.Run("rank mismatch alters nothing", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeA, 99, 3); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("err = %v, want ErrInvalidState", err)
		}
		if env.market.Status() != domain.MarketStatusOpen {
			t.Errorf("status = %s, want open", env.market.Status())
		}
		if env.market.Outcome() != domain.OutcomeNone {
			t.Errorf("outcome = %s, want none", env.market.Outcome())
		}
	})

	t.Run("none outcome rejected", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeNone, 17, 3); !errors.Is(err, domain.ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	t.Run("one shot", func(t *testing.T) {
		env := newTestEnv(t, 150)
		if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeA, 17, 3); err != nil {
			t.Fatalf("first: %v", err)
		}
		if _, err := env.market.ApplyOutcome(env.authority, domain.OutcomeB, 17, 3); !errors.Is(err, domain.ErrAlreadyFinalized) {
			t.Errorf("second err = %v, want ErrAlreadyFinalized", err)
		}
		if env.market.Outcome() != domain.OutcomeA {
			t.Errorf("outcome = %s, second call must not alter it", env.market.Outcome())
		}
	})
}
