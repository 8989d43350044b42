package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/quote"
	handler "marketplace-escrow/handler/swap"
	"marketplace-escrow/model"
	usecase "marketplace-escrow/usecase/swap"
)

type fakeSwap struct {
	err      error
	lastReq  usecase.SwapRequest
	lastUser model.PublicKey
}

func (f *fakeSwap) Tokens() []model.Token {
	return []model.Token{usecase.TokenSOL, usecase.TokenUSDC}
}

func (f *fakeSwap) Quote(_ context.Context, req usecase.SwapRequest) (*usecase.SwapQuote, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.SwapQuote{
		From:       usecase.TokenSOL,
		To:         usecase.TokenUSDC,
		InAmount:   "1000000000",
		OutAmount:  "152340000",
		OutDisplay: "152.34",
	}, nil
}

func (f *fakeSwap) QuoteItemPrice(_ context.Context, addr model.PublicKey, symbol string) (*model.PriceQuote, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.PriceQuote{Address: addr, PriceLamports: 1_000_000_000, Token: usecase.TokenUSDC, OutDisplay: "152.34"}, nil
}

func (f *fakeSwap) BuildSwap(_ context.Context, user model.PublicKey, req usecase.SwapRequest) (*model.SwapResponse, error) {
	f.lastUser = user
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.SwapResponse{SwapTransaction: "AQID", LastValidBlockHeight: 42}, nil
}

func newRouter(uc usecase.SwapUsecase) *mux.Router {
	r := mux.NewRouter()
	handler.NewSwapHandler(uc, nil).RegisterRoutes(r)
	return r
}

func serve(r *mux.Router, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTokens(t *testing.T) {
	rec := serve(newRouter(&fakeSwap{}), http.MethodGet, "/api/v1/swap/tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tokens []model.Token
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tokens))
	assert.Len(t, tokens, 2)
}

func TestQuote(t *testing.T) {
	f := &fakeSwap{}
	r := newRouter(f)

	rec := serve(r, http.MethodGet, "/api/v1/swap/quote?from=SOL&to=USDC&amount=1&slippage_bps=30", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, usecase.SwapRequest{From: "SOL", To: "USDC", Amount: "1", SlippageBps: 30}, f.lastReq)
	var sq usecase.SwapQuote
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sq))
	assert.Equal(t, "152.34", sq.OutDisplay)

	rec = serve(r, http.MethodGet, "/api/v1/swap/quote?from=SOL&to=USDC&amount=1&slippage_bps=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	addr := model.PublicKey{5}
	rec = serve(r, http.MethodGet, "/api/v1/swap/quote?item="+addr.String()+"&token=USDC", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pq model.PriceQuote
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pq))
	assert.Equal(t, addr, pq.Address)
}

func TestQuoteErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		name   string
	}{
		{fmt.Errorf("%w: BONK", usecase.ErrUnknownToken), http.StatusBadRequest, model.ErrNameBadRequest},
		{usecase.ErrInvalidAmount, http.StatusBadRequest, model.ErrNameBadRequest},
		{quote.ErrNoRoute, http.StatusNotFound, model.ErrNameNotFound},
		{fmt.Errorf("%w: status 500", quote.ErrUpstream), http.StatusBadGateway, model.ErrNameUpstream},
		{ledger.ErrAccountNotFound, http.StatusNotFound, model.ErrNameAccountNotFound},
		{fmt.Errorf("boom"), http.StatusInternalServerError, model.ErrNameInternal},
	}
	for _, tt := range tests {
		r := newRouter(&fakeSwap{err: tt.err})
		rec := serve(r, http.MethodGet, "/api/v1/swap/quote?from=SOL&to=USDC&amount=1", nil)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		var resp model.ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, tt.name, resp.Error.Name, tt.err.Error())
	}
}

func TestBuildSwap(t *testing.T) {
	f := &fakeSwap{}
	r := newRouter(f)
	user := model.PublicKey{3}

	body, err := json.Marshal(map[string]any{
		"user":   user.String(),
		"from":   "USDC",
		"to":     "SOL",
		"amount": "10",
	})
	require.NoError(t, err)
	rec := serve(r, http.MethodPost, "/api/v1/swap", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user, f.lastUser)
	assert.Equal(t, "USDC", f.lastReq.From)
	var resp model.SwapResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "AQID", resp.SwapTransaction)

	rec = serve(r, http.MethodPost, "/api/v1/swap", []byte(`{"from":"USDC","to":"SOL","amount":"1"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
