package quote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-escrow/gateway/quote"
	"marketplace-escrow/model"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

const quoteBody = `{
  "inputMint": "So11111111111111111111111111111111111111112",
  "inAmount": "1000000000",
  "outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
  "outAmount": "152340000",
  "otherAmountThreshold": "151578300",
  "swapMode": "ExactIn",
  "slippageBps": 50,
  "priceImpactPct": "0.0001",
  "routePlan": [{"swapInfo": {"ammKey": "amm", "label": "Whirlpool", "inputMint": "So11111111111111111111111111111111111111112", "outputMint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", "inAmount": "1000000000", "outAmount": "152340000", "feeAmount": "10", "feeMint": "So11111111111111111111111111111111111111112"}, "percent": 100}],
  "contextSlot": 123,
  "timeTaken": 0.01,
  "platformFee": null
}`

func TestQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap/v1/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, solMint, q.Get("inputMint"))
		assert.Equal(t, usdcMint, q.Get("outputMint"))
		assert.Equal(t, "1000000000", q.Get("amount"))
		assert.Equal(t, "50", q.Get("slippageBps"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(quoteBody))
	}))
	defer srv.Close()

	gw := quote.NewJupiterGateway(srv.URL, 0, nil)
	resp, err := gw.Quote(context.Background(), quote.QuoteRequest{
		InputMint:  solMint,
		OutputMint: usdcMint,
		Amount:     1_000_000_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "152340000", resp.OutAmount)
	assert.Len(t, resp.RoutePlan, 1)
	assert.Equal(t, "Whirlpool", resp.RoutePlan[0].SwapInfo.Label)
	assert.JSONEq(t, quoteBody, string(resp.Raw))
}

func TestQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	}))
	defer srv.Close()

	gw := quote.NewJupiterGateway(srv.URL, 0, nil)
	_, err := gw.Quote(context.Background(), quote.QuoteRequest{InputMint: solMint, OutputMint: usdcMint, Amount: 1})
	assert.ErrorIs(t, err, quote.ErrNoRoute)
}

func TestQuoteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	gw := quote.NewJupiterGateway(srv.URL, 0, nil)
	_, err := gw.Quote(context.Background(), quote.QuoteRequest{InputMint: solMint, OutputMint: usdcMint, Amount: 1})
	assert.ErrorIs(t, err, quote.ErrUpstream)

	_, err = gw.Quote(context.Background(), quote.QuoteRequest{InputMint: solMint, OutputMint: usdcMint})
	assert.ErrorIs(t, err, quote.ErrInvalidQuote)
}

func TestSwapPassesRawQuote(t *testing.T) {
	user := model.PublicKey{1, 2, 3}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/swap/v1/quote":
			_, _ = w.Write([]byte(quoteBody))
		case "/swap/v1/swap":
			assert.Equal(t, http.MethodPost, r.Method)
			var body struct {
				UserPublicKey string          `json:"userPublicKey"`
				QuoteResponse json.RawMessage `json:"quoteResponse"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, user.String(), body.UserPublicKey)
			// 未知のフィールドも含めてそのまま渡る
			assert.JSONEq(t, quoteBody, string(body.QuoteResponse))
			_, _ = w.Write([]byte(`{"swapTransaction":"AQID","lastValidBlockHeight":99,"prioritizationFeeLamports":1000}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	gw := quote.NewJupiterGateway(srv.URL, 0, nil)
	q, err := gw.Quote(context.Background(), quote.QuoteRequest{InputMint: solMint, OutputMint: usdcMint, Amount: 1_000_000_000})
	require.NoError(t, err)
	swap, err := gw.Swap(context.Background(), user, q)
	require.NoError(t, err)
	assert.Equal(t, "AQID", swap.SwapTransaction)
	assert.Equal(t, uint64(99), swap.LastValidBlockHeight)
}
