package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chartbets/chartbets/internal/crypto"
	"github.com/chartbets/chartbets/internal/domain"
)

// fakeMarketService returns canned values so handler behavior can be tested
// without the full service stack.
type fakeMarketService struct {
	snap    domain.MarketSnapshot
	quote   domain.Quote
	event   domain.MarketEvent
	err     error
	lastOp  string
	actorIn common.Address
}

func (f *fakeMarketService) GetMarket(ctx context.Context, songID string) (domain.MarketSnapshot, error) {
	f.lastOp = "get"
	return f.snap, f.err
}

func (f *fakeMarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.MarketSnapshot, error) {
	f.lastOp = "list"
	if f.err != nil {
		return nil, f.err
	}
	return []domain.MarketSnapshot{f.snap}, nil
}

func (f *fakeMarketService) ListEvents(ctx context.Context, songID string, opts domain.ListOpts) ([]domain.MarketEvent, error) {
	f.lastOp = "events"
	if f.err != nil {
		return nil, f.err
	}
	return []domain.MarketEvent{f.event}, nil
}

func (f *fakeMarketService) Count(ctx context.Context) (int64, error) {
	return 1, nil
}

func (f *fakeMarketService) Quote(ctx context.Context, songID string, side domain.Side, amount string) (domain.Quote, error) {
	f.lastOp = "quote"
	return f.quote, f.err
}

func (f *fakeMarketService) Swap(ctx context.Context, songID string, actor common.Address, side domain.Side, amount, minOut string) (domain.MarketEvent, error) {
	f.lastOp = "swap"
	f.actorIn = actor
	return f.event, f.err
}

func (f *fakeMarketService) AddLiquidity(ctx context.Context, songID string, actor common.Address, amount, minShares string) (domain.MarketEvent, error) {
	f.lastOp = "add_liquidity"
	return f.event, f.err
}

func (f *fakeMarketService) RemoveLiquidity(ctx context.Context, songID string, actor common.Address, shares, minOut string) (domain.MarketEvent, error) {
	f.lastOp = "remove_liquidity"
	return f.event, f.err
}

func (f *fakeMarketService) Resolve(ctx context.Context, payload crypto.ResolutionPayload, signature string) (domain.MarketEvent, error) {
	f.lastOp = "resolve"
	return f.event, f.err
}

func (f *fakeMarketService) Redeem(ctx context.Context, songID string, actor, dest common.Address) (domain.MarketEvent, error) {
	f.lastOp = "redeem"
	f.actorIn = actor
	return f.event, f.err
}

var _ MarketService = (*fakeMarketService)(nil)

func newTestMux(svc MarketService) *http.ServeMux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewMarketHandler(svc, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", h.ListMarkets)
	mux.HandleFunc("GET /api/markets/{song}", h.GetMarket)
	mux.HandleFunc("GET /api/markets/{song}/quote", h.Quote)
	mux.HandleFunc("POST /api/markets/{song}/swap", h.Swap)
	mux.HandleFunc("POST /api/markets/{song}/resolve", h.Resolve)
	mux.HandleFunc("POST /api/markets/{song}/redeem", h.Redeem)
	return mux
}

func testSnapshot() domain.MarketSnapshot {
	return domain.MarketSnapshot{
		SongID:      "song-001",
		MarketID:    1,
		InitialRank: 17,
		Status:      domain.MarketStatusOpen,
		Outcome:     domain.OutcomeNone,
		UpdatedAt:   time.Now().UTC(),
	}
}

func doRequest(t *testing.T, mux *http.ServeMux, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetMarket(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &fakeMarketService{snap: testSnapshot()}
		rec := doRequest(t, newTestMux(svc), http.MethodGet, "/api/markets/song-001", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var got domain.MarketSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if got.SongID != "song-001" || got.MarketID != 1 {
			t.Errorf("unexpected snapshot: %+v", got)
		}
	})

	t.Run("not found", func(t *testing.T) {
		svc := &fakeMarketService{err: domain.ErrNotFound}
		rec := doRequest(t, newTestMux(svc), http.MethodGet, "/api/markets/missing", "")

		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", rec.Code)
		}
	})
}

func TestListMarkets(t *testing.T) {
	svc := &fakeMarketService{snap: testSnapshot()}
	rec := doRequest(t, newTestMux(svc), http.MethodGet, "/api/markets?limit=10", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got listMarketsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(got.Markets) != 1 || got.Total != 1 {
		t.Errorf("markets=%d total=%d, want 1/1", len(got.Markets), got.Total)
	}
	if got.Limit != 10 {
		t.Errorf("limit = %d, want 10", got.Limit)
	}
}

func TestQuoteValidation(t *testing.T) {
	svc := &fakeMarketService{}
	mux := newTestMux(svc)

	t.Run("bad side", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/markets/song-001/quote?side=c&amount=100", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing amount", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/markets/song-001/quote?side=a", "")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("ok", func(t *testing.T) {
		rec := doRequest(t, mux, http.MethodGet, "/api/markets/song-001/quote?side=a&amount=1000000", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		if svc.lastOp != "quote" {
			t.Errorf("lastOp = %q, want quote", svc.lastOp)
		}
	})
}

func TestSwap(t *testing.T) {
	actor := common.BytesToAddress([]byte("trader")).Hex()

	t.Run("executes", func(t *testing.T) {
		svc := &fakeMarketService{event: domain.MarketEvent{Type: domain.EventTradeExecuted}}
		body := `{"actor":"` + actor + `","side":"a","amount":"1000000"}`
		rec := doRequest(t, newTestMux(svc), http.MethodPost, "/api/markets/song-001/swap", body)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if svc.actorIn != common.HexToAddress(actor) {
			t.Errorf("actor = %s, want %s", svc.actorIn.Hex(), actor)
		}
	})

	t.Run("invalid actor", func(t *testing.T) {
		svc := &fakeMarketService{}
		body := `{"actor":"not-an-address","side":"a","amount":"1"}`
		rec := doRequest(t, newTestMux(svc), http.MethodPost, "/api/markets/song-001/swap", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("slippage maps to 422", func(t *testing.T) {
		svc := &fakeMarketService{err: domain.ErrSlippage}
		body := `{"actor":"` + actor + `","side":"b","amount":"1000000","min_out":"999999999"}`
		rec := doRequest(t, newTestMux(svc), http.MethodPost, "/api/markets/song-001/swap", body)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, want 422", rec.Code)
		}
	})

	t.Run("trading closed maps to 409", func(t *testing.T) {
		svc := &fakeMarketService{err: domain.ErrTradingClosed}
		body := `{"actor":"` + actor + `","side":"a","amount":"1"}`
		rec := doRequest(t, newTestMux(svc), http.MethodPost, "/api/markets/song-001/swap", body)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", rec.Code)
		}
	})
}

func TestResolveValidation(t *testing.T) {
	svc := &fakeMarketService{event: domain.MarketEvent{Type: domain.EventOutcomeApplied}}
	mux := newTestMux(svc)

	t.Run("missing signature", func(t *testing.T) {
		body := `{"market_id":1,"outcome":"a","final_rank":2,"timestamp":1767225600}`
		rec := doRequest(t, mux, http.MethodPost, "/api/markets/song-001/resolve", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("bad outcome", func(t *testing.T) {
		body := `{"market_id":1,"outcome":"none","final_rank":2,"timestamp":1767225600,"signature":"0xabc"}`
		rec := doRequest(t, mux, http.MethodPost, "/api/markets/song-001/resolve", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("forwards to service", func(t *testing.T) {
		body := `{"market_id":1,"outcome":"a","initial_rank":17,"final_rank":2,"timestamp":1767225600,"signature":"0xabc"}`
		rec := doRequest(t, mux, http.MethodPost, "/api/markets/song-001/resolve", body)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if svc.lastOp != "resolve" {
			t.Errorf("lastOp = %q, want resolve", svc.lastOp)
		}
	})
}

func TestRedeemDefaultsDestination(t *testing.T) {
	actor := common.BytesToAddress([]byte("winner"))
	svc := &fakeMarketService{event: domain.MarketEvent{Type: domain.EventRedemptionExecuted}}

	body := `{"actor":"` + actor.Hex() + `"}`
	rec := doRequest(t, newTestMux(svc), http.MethodPost, "/api/markets/song-001/redeem", body)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if svc.actorIn != actor {
		t.Errorf("actor = %s, want %s", svc.actorIn.Hex(), actor.Hex())
	}
}

func TestAlreadyRedeemedMapsToConflict(t *testing.T) {
	actor := common.BytesToAddress([]byte("winner")).Hex()
	svc := &fakeMarketService{err: domain.ErrAlreadyRedeemed}

	body := `{"actor":"` + actor + `"}`
	rec := doRequest(t, newTestMux(svc), http.MethodPost, "/api/markets/song-001/redeem", body)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}
