package engine

import (
	"sync"

	"github.com/chartbets/chartbets/internal/domain"
)

// callGuard is the per-market busy flag. Trade and liquidity operations move
// assets through an external ledger mid-call, so a second invocation arriving
// before the first returns must be rejected rather than interleaved. The flag
// is set at entry and cleared on every exit path, failure paths included.
type callGuard struct {
	mu   sync.Mutex
	busy bool
}

// enter claims the guard, failing with ErrReentrantCall if a call is already
// in flight.
func (g *callGuard) enter() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy {
		return domain.ErrReentrantCall
	}
	g.busy = true
	return nil
}

// exit releases the guard.
func (g *callGuard) exit() {
	g.mu.Lock()
	g.busy = false
	g.mu.Unlock()
}
