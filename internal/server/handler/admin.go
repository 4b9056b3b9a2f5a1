package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/chartbets/chartbets/internal/domain"
	"github.com/chartbets/chartbets/internal/registry"
)

// AdminService defines the administrative operations the admin handler needs
// from the service layer.
type AdminService interface {
	CreateMarket(ctx context.Context, caller common.Address, params registry.CreateParams) (domain.MarketSnapshot, error)
	SetRegistryPaused(ctx context.Context, caller common.Address, paused bool) error
	SetMarketStatus(ctx context.Context, caller common.Address, songID string, to domain.MarketStatus) (domain.MarketEvent, error)
	CreditAccount(ctx context.Context, caller common.Address, symbol string, to common.Address, amount string) error
	BalanceOf(symbol string, addr common.Address) (string, error)
}

// AdminHandler serves the authenticated administrative endpoints. All of its
// routes sit behind the API-key middleware; calls are attributed to the
// configured admin account.
type AdminHandler struct {
	svc      AdminService
	archiver domain.Archiver // nil when object storage is not configured
	admin    common.Address
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler acting as the given admin account.
func NewAdminHandler(svc AdminService, archiver domain.Archiver, admin common.Address, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:      svc,
		archiver: archiver,
		admin:    admin,
		logger:   logger,
	}
}

// createMarketRequest is the body for deploying a new market. The cutoff is
// RFC 3339; the initial reserve is a decimal string at the 1e18 reserve scale.
type createMarketRequest struct {
	SongID         string `json:"song_id"`
	InitialRank    int    `json:"initial_rank"`
	Cutoff         string `json:"cutoff"`
	FeeBps         uint64 `json:"fee_bps"`
	QuoteSymbol    string `json:"quote_symbol"`
	InitialReserve string `json:"initial_reserve"`
}

// CreateMarket deploys a new market for a song.
// POST /api/markets
func (h *AdminHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.SongID == "" {
		writeError(w, http.StatusBadRequest, "song_id is required")
		return
	}
	cutoff, err := time.Parse(time.RFC3339, req.Cutoff)
	if err != nil {
		writeError(w, http.StatusBadRequest, "cutoff must be RFC 3339: "+err.Error())
		return
	}
	reserve, err := uint256.FromDecimal(req.InitialReserve)
	if err != nil {
		writeError(w, http.StatusBadRequest, "initial_reserve must be a decimal string")
		return
	}

	snap, err := h.svc.CreateMarket(r.Context(), h.admin, registry.CreateParams{
		SongID:         req.SongID,
		InitialRank:    req.InitialRank,
		Cutoff:         cutoff,
		FeeBps:         req.FeeBps,
		QuoteSymbol:    req.QuoteSymbol,
		InitialReserve: reserve,
	})
	if err != nil {
		if status, ok := statusForError(err); ok {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create market failed",
			slog.String("song_id", req.SongID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// PauseRegistry halts new market creation.
// POST /api/registry/pause
func (h *AdminHandler) PauseRegistry(w http.ResponseWriter, r *http.Request) {
	h.setRegistryPaused(w, r, true)
}

// UnpauseRegistry re-enables market creation.
// POST /api/registry/unpause
func (h *AdminHandler) UnpauseRegistry(w http.ResponseWriter, r *http.Request) {
	h.setRegistryPaused(w, r, false)
}

func (h *AdminHandler) setRegistryPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if err := h.svc.SetRegistryPaused(r.Context(), h.admin, paused); err != nil {
		if status, ok := statusForError(err); ok {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set registry paused failed",
			slog.Bool("paused", paused),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update registry")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

// setStatusRequest carries an administrative market status change.
type setStatusRequest struct {
	Status string `json:"status"`
}

// SetMarketStatus pauses or reopens trading on one market.
// POST /api/markets/{song}/status
func (h *AdminHandler) SetMarketStatus(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	status := domain.MarketStatus(req.Status)
	if status != domain.MarketStatusOpen && status != domain.MarketStatusPendingResolve {
		writeError(w, http.StatusBadRequest, "status must be \"open\" or \"pending_resolve\"")
		return
	}

	ev, err := h.svc.SetMarketStatus(r.Context(), h.admin, song, status)
	if err != nil {
		if s, ok := statusForError(err); ok {
			writeError(w, s, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: set market status failed",
			slog.String("song_id", song),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to set market status")
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// creditRequest is the body for minting quote units to an account.
type creditRequest struct {
	Symbol string `json:"symbol"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// CreditAccount mints quote units to an account on the in-memory ledger.
// POST /api/accounts/credit
func (h *AdminHandler) CreditAccount(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	to, ok := parseAddress(req.To)
	if !ok {
		writeError(w, http.StatusBadRequest, "to must be a hex address")
		return
	}
	if req.Amount == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	if err := h.svc.CreditAccount(r.Context(), h.admin, req.Symbol, to, req.Amount); err != nil {
		if status, ok := statusForError(err); ok {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: credit account failed",
			slog.String("to", req.To),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to credit account")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"symbol": req.Symbol,
		"to":     to.Hex(),
		"amount": req.Amount,
	})
}

// RunArchive triggers one archival sweep of finalized markets.
// POST /api/archive/run
func (h *AdminHandler) RunArchive(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		writeError(w, http.StatusServiceUnavailable, "archiving is not configured")
		return
	}

	archived, err := h.archiver.ArchiveFinalized(r.Context())
	if err != nil {
		if status, ok := statusForError(err); ok {
			writeError(w, status, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: archive run failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "archive run failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"archived": archived})
}

// Balance reports an account's quote balance.
// GET /api/accounts/{addr}/balance?symbol=USDC
func (h *AdminHandler) Balance(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(pathParam(r, "addr"))
	if !ok {
		writeError(w, http.StatusBadRequest, "addr must be a hex address")
		return
	}
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol query parameter required")
		return
	}

	balance, err := h.svc.BalanceOf(symbol, addr)
	if err != nil {
		if errors.Is(err, domain.ErrQuoteTokenNotAllowed) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read balance")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"account": addr.Hex(),
		"symbol":  symbol,
		"balance": balance,
	})
}
