package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chartbets/chartbets/internal/crypto"
	"github.com/chartbets/chartbets/internal/domain"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	GetMarket(ctx context.Context, songID string) (domain.MarketSnapshot, error)
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error)
	ListEvents(ctx context.Context, songID string, opts domain.ListOpts) ([]domain.MarketEvent, error)
	Count(ctx context.Context) (int64, error)
	Quote(ctx context.Context, songID string, side domain.Side, amount string) (domain.Quote, error)
	Swap(ctx context.Context, songID string, actor common.Address, side domain.Side, amount, minOut string) (domain.MarketEvent, error)
	AddLiquidity(ctx context.Context, songID string, actor common.Address, amount, minShares string) (domain.MarketEvent, error)
	RemoveLiquidity(ctx context.Context, songID string, actor common.Address, shares, minOut string) (domain.MarketEvent, error)
	Resolve(ctx context.Context, payload crypto.ResolutionPayload, signature string) (domain.MarketEvent, error)
	Redeem(ctx context.Context, songID string, actor, dest common.Address) (domain.MarketEvent, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger,
	}
}

// listMarketsResponse wraps the list endpoint output with metadata.
type listMarketsResponse struct {
	Markets []domain.MarketSnapshot `json:"markets"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// ListMarkets returns persisted markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	markets, err := h.markets.ListMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	if markets == nil {
		markets = []domain.MarketSnapshot{}
	}

	total, err := h.markets.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count markets")
		return
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its song ID.
// GET /api/markets/{song}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")
	if song == "" {
		writeError(w, http.StatusBadRequest, "missing song id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), song)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed",
			slog.String("song_id", song),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// listEventsResponse wraps a market's event history.
type listEventsResponse struct {
	Events []domain.MarketEvent `json:"events"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

// ListEvents returns a market's event history, oldest first.
// GET /api/markets/{song}/events?limit=50&offset=0
func (h *MarketHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")
	opts := parseListOpts(r)

	events, err := h.markets.ListEvents(r.Context(), song, opts)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("song_id", song),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []domain.MarketEvent{}
	}

	writeJSON(w, http.StatusOK, listEventsResponse{
		Events: events,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// Quote prices a hypothetical swap without executing it.
// GET /api/markets/{song}/quote?side=a&amount=1000000
func (h *MarketHandler) Quote(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")
	q := r.URL.Query()

	side, ok := parseSide(q.Get("side"))
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be \"a\" or \"b\"")
		return
	}
	amount := q.Get("amount")
	if amount == "" {
		writeError(w, http.StatusBadRequest, "amount query parameter required")
		return
	}

	quote, err := h.markets.Quote(r.Context(), song, side, amount)
	if err != nil {
		h.writeServiceError(w, r, "quote", song, err)
		return
	}

	writeJSON(w, http.StatusOK, quote)
}

// swapRequest is the body for the swap endpoint. Amounts are decimal strings
// in the quote asset's base units; min_out is optional.
type swapRequest struct {
	Actor  string `json:"actor"`
	Side   string `json:"side"`
	Amount string `json:"amount"`
	MinOut string `json:"min_out"`
}

// Swap buys one side's claims with the quote asset.
// POST /api/markets/{song}/swap
func (h *MarketHandler) Swap(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")

	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor, ok := parseAddress(req.Actor)
	if !ok {
		writeError(w, http.StatusBadRequest, "actor must be a hex address")
		return
	}
	side, ok := parseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be \"a\" or \"b\"")
		return
	}
	if req.Amount == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	ev, err := h.markets.Swap(r.Context(), song, actor, side, req.Amount, req.MinOut)
	if err != nil {
		h.writeServiceError(w, r, "swap", song, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// addLiquidityRequest is the body for liquidity deposits.
type addLiquidityRequest struct {
	Actor     string `json:"actor"`
	Amount    string `json:"amount"`
	MinShares string `json:"min_shares"`
}

// AddLiquidity deposits quote units into the vault for shares.
// POST /api/markets/{song}/liquidity
func (h *MarketHandler) AddLiquidity(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")

	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor, ok := parseAddress(req.Actor)
	if !ok {
		writeError(w, http.StatusBadRequest, "actor must be a hex address")
		return
	}
	if req.Amount == "" {
		writeError(w, http.StatusBadRequest, "amount is required")
		return
	}

	ev, err := h.markets.AddLiquidity(r.Context(), song, actor, req.Amount, req.MinShares)
	if err != nil {
		h.writeServiceError(w, r, "add liquidity", song, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// removeLiquidityRequest is the body for liquidity withdrawals.
type removeLiquidityRequest struct {
	Actor  string `json:"actor"`
	Shares string `json:"shares"`
	MinOut string `json:"min_out"`
}

// RemoveLiquidity burns shares for a proportional slice of the vault.
// DELETE /api/markets/{song}/liquidity
func (h *MarketHandler) RemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")

	var req removeLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor, ok := parseAddress(req.Actor)
	if !ok {
		writeError(w, http.StatusBadRequest, "actor must be a hex address")
		return
	}
	if req.Shares == "" {
		writeError(w, http.StatusBadRequest, "shares is required")
		return
	}

	ev, err := h.markets.RemoveLiquidity(r.Context(), song, actor, req.Shares, req.MinOut)
	if err != nil {
		h.writeServiceError(w, r, "remove liquidity", song, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// resolveRequest carries a signed resolution. Every field except the
// signature is covered by the signature's digest.
type resolveRequest struct {
	MarketID    uint64 `json:"market_id"`
	Outcome     string `json:"outcome"`
	InitialRank int    `json:"initial_rank"`
	FinalRank   int    `json:"final_rank"`
	Timestamp   int64  `json:"timestamp"`
	Signature   string `json:"signature"`
}

// Resolve finalizes a market from a resolution signed by the authority.
// POST /api/markets/{song}/resolve
func (h *MarketHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}
	outcome := domain.Outcome(req.Outcome)
	if outcome != domain.OutcomeA && outcome != domain.OutcomeB {
		writeError(w, http.StatusBadRequest, "outcome must be \"a\" or \"b\"")
		return
	}

	payload := crypto.ResolutionPayload{
		SongID:      song,
		MarketID:    req.MarketID,
		Outcome:     outcome,
		InitialRank: req.InitialRank,
		FinalRank:   req.FinalRank,
		Timestamp:   req.Timestamp,
	}

	ev, err := h.markets.Resolve(r.Context(), payload, req.Signature)
	if err != nil {
		h.writeServiceError(w, r, "resolve", song, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// redeemRequest is the body for redemptions. "to" is optional and defaults
// to the actor.
type redeemRequest struct {
	Actor string `json:"actor"`
	To    string `json:"to"`
}

// Redeem pays out a winning-claim holder after finalization.
// POST /api/markets/{song}/redeem
func (h *MarketHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	song := pathParam(r, "song")

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	actor, ok := parseAddress(req.Actor)
	if !ok {
		writeError(w, http.StatusBadRequest, "actor must be a hex address")
		return
	}
	dest := actor
	if req.To != "" {
		if dest, ok = parseAddress(req.To); !ok {
			writeError(w, http.StatusBadRequest, "to must be a hex address")
			return
		}
	}

	ev, err := h.markets.Redeem(r.Context(), song, actor, dest)
	if err != nil {
		h.writeServiceError(w, r, "redeem", song, err)
		return
	}

	writeJSON(w, http.StatusOK, ev)
}

// writeServiceError maps domain errors to HTTP statuses. Mapped errors keep
// their message; everything else becomes an opaque 500.
func (h *MarketHandler) writeServiceError(w http.ResponseWriter, r *http.Request, op, song string, err error) {
	if status, ok := statusForError(err); ok {
		writeError(w, status, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("song_id", song),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

// statusForError returns the HTTP status for a known domain error.
func statusForError(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusForbidden, true
	case errors.Is(err, domain.ErrTradingClosed),
		errors.Is(err, domain.ErrAlreadyFinalized),
		errors.Is(err, domain.ErrAlreadyRedeemed),
		errors.Is(err, domain.ErrSongHasMarket),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrReentrantCall),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, true
	case errors.Is(err, domain.ErrSlippage),
		errors.Is(err, domain.ErrInsufficientOutput),
		errors.Is(err, domain.ErrInsufficientLiquidity),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, true
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrZeroTreasury),
		errors.Is(err, domain.ErrInvalidCutoff),
		errors.Is(err, domain.ErrInvalidFee),
		errors.Is(err, domain.ErrQuoteTokenNotAllowed):
		return http.StatusBadRequest, true
	}
	return 0, false
}

// parseSide normalizes a side string from a query or body.
func parseSide(s string) (domain.Side, bool) {
	switch domain.Side(s) {
	case domain.SideA:
		return domain.SideA, true
	case domain.SideB:
		return domain.SideB, true
	}
	return "", false
}

// parseAddress validates and parses a hex account address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}
