package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chartbets/chartbets/internal/domain"
)

// StatusResult describes an administrative status change.
type StatusResult struct {
	From domain.MarketStatus
	To   domain.MarketStatus
}

// ResolutionResult describes a successful one-shot resolution.
type ResolutionResult struct {
	Outcome   domain.Outcome
	FinalRank int
}

// SetStatus applies an administrative pause or unpause. Only the registry may
// call, and the only legal transitions are Open -> PendingResolve and
// PendingResolve -> Open. A finalized market cannot change status again.
func (m *Market) SetStatus(caller common.Address, to domain.MarketStatus) (StatusResult, error) {
	if err := m.guard.enter(); err != nil {
		return StatusResult{}, fmt.Errorf("engine: set status: %w", err)
	}
	defer m.guard.exit()

	if caller != m.cfg.Registry {
		return StatusResult{}, fmt.Errorf("engine: set status by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if m.status == domain.MarketStatusFinalized {
		return StatusResult{}, fmt.Errorf("engine: set status: %w", domain.ErrAlreadyFinalized)
	}

	legal := (m.status == domain.MarketStatusOpen && to == domain.MarketStatusPendingResolve) ||
		(m.status == domain.MarketStatusPendingResolve && to == domain.MarketStatusOpen)
	if !legal {
		return StatusResult{}, fmt.Errorf("engine: set status %s -> %s: %w", m.status, to, domain.ErrInvalidState)
	}

	from := m.status
	m.status = to
	return StatusResult{From: from, To: to}, nil
}

// ApplyOutcome finalizes the market exactly once. Only the resolution
// authority may call. initialRankCheck must match the rank snapshot recorded
// at creation; a mismatch fails without altering any state. finalRank is
// recorded for the resolution event but not otherwise validated. Outcome and
// status are set together; no transition is possible afterward.
func (m *Market) ApplyOutcome(caller common.Address, outcome domain.Outcome, initialRankCheck, finalRank int) (ResolutionResult, error) {
	if err := m.guard.enter(); err != nil {
		return ResolutionResult{}, fmt.Errorf("engine: apply outcome: %w", err)
	}
	defer m.guard.exit()

	if caller != m.cfg.Authority {
		return ResolutionResult{}, fmt.Errorf("engine: apply outcome by %s: %w", caller.Hex(), domain.ErrUnauthorized)
	}
	if m.status == domain.MarketStatusFinalized {
		return ResolutionResult{}, fmt.Errorf("engine: apply outcome: %w", domain.ErrAlreadyFinalized)
	}
	if outcome != domain.OutcomeA && outcome != domain.OutcomeB {
		return ResolutionResult{}, fmt.Errorf("engine: apply outcome %q: %w", outcome, domain.ErrInvalidState)
	}
	if initialRankCheck != m.cfg.InitialRank {
		return ResolutionResult{}, fmt.Errorf("engine: apply outcome: rank check %d != %d: %w",
			initialRankCheck, m.cfg.InitialRank, domain.ErrInvalidState)
	}

	m.outcome = outcome
	m.status = domain.MarketStatusFinalized
	m.finalRank = &finalRank

	return ResolutionResult{Outcome: outcome, FinalRank: finalRank}, nil
}
