package quote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketplace-escrow/model"
)

const (
	DefaultBaseURL     = "https://lite-api.jup.ag"
	DefaultSlippageBps = 50
	defaultTimeout     = 10 * time.Second
	maxErrorBody       = 4096
)

var (
	ErrNoRoute      = errors.New("no swap route found")
	ErrUpstream     = errors.New("swap aggregator request failed")
	ErrInvalidQuote = errors.New("invalid quote response")
)

// ===============================================
// 1. インターフェース定義
// ===============================================

type QuoteGateway interface {
	// Quote は inputMint を amount (最小単位) だけ outputMint に交換する見積もりを取る
	Quote(ctx context.Context, req QuoteRequest) (*model.QuoteResponse, error)

	// Swap は見積もりから署名前のスワップトランザクションを組み立てる
	Swap(ctx context.Context, userPublicKey model.PublicKey, quote *model.QuoteResponse) (*model.SwapResponse, error)
}

type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// ===============================================
// 2. 実装: JupiterGateway
// ===============================================

type JupiterGateway struct {
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// NewJupiterGateway はアグリゲータ API のクライアントを作る。timeout が 0 なら 10 秒
func NewJupiterGateway(baseURL string, timeout time.Duration, logger *slog.Logger) *JupiterGateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &JupiterGateway{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Quote は GET /swap/v1/quote を呼ぶ
func (g *JupiterGateway) Quote(ctx context.Context, req QuoteRequest) (*model.QuoteResponse, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidQuote)
	}
	slippage := req.SlippageBps
	if slippage <= 0 {
		slippage = DefaultSlippageBps
	}
	params := url.Values{}
	params.Set("inputMint", req.InputMint)
	params.Set("outputMint", req.OutputMint)
	params.Set("amount", strconv.FormatUint(req.Amount, 10))
	params.Set("slippageBps", strconv.Itoa(slippage))
	endpoint := g.baseURL + "/swap/v1/quote?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	body, err := g.do(httpReq)
	if err != nil {
		return nil, err
	}

	var quote model.QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		g.logger.Error(
			fmt.Sprintf("error decoding quote response: %s", err),
			"component", "quote",
		)
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuote, err)
	}
	if quote.OutAmount == "" || len(quote.RoutePlan) == 0 {
		return nil, ErrNoRoute
	}
	// swap リクエストにはアグリゲータが返したままの JSON を渡す
	quote.Raw = body

	g.logger.Debug(
		fmt.Sprintf("quote %s %s -> %s %s", quote.InAmount, req.InputMint, quote.OutAmount, req.OutputMint),
		"component", "quote",
	)
	return &quote, nil
}

// Swap は POST /swap/v1/swap を呼ぶ
func (g *JupiterGateway) Swap(ctx context.Context, userPublicKey model.PublicKey, quote *model.QuoteResponse) (*model.SwapResponse, error) {
	if quote == nil {
		return nil, fmt.Errorf("%w: missing quote", ErrInvalidQuote)
	}
	rawQuote := json.RawMessage(quote.Raw)
	if len(rawQuote) == 0 {
		encoded, err := json.Marshal(quote)
		if err != nil {
			return nil, err
		}
		rawQuote = encoded
	}
	payload, err := json.Marshal(map[string]any{
		"userPublicKey":    userPublicKey.String(),
		"quoteResponse":    rawQuote,
		"wrapAndUnwrapSol": true,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/swap/v1/swap", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	body, err := g.do(httpReq)
	if err != nil {
		return nil, err
	}

	var swap model.SwapResponse
	if err := json.Unmarshal(body, &swap); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuote, err)
	}
	if swap.SwapTransaction == "" {
		return nil, fmt.Errorf("%w: empty swap transaction", ErrUpstream)
	}
	return &swap, nil
}

func (g *JupiterGateway) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Error(
			fmt.Sprintf("error calling %s: %s", req.URL.Path, err),
			"component", "quote",
		)
		return nil, fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
		g.logger.Warn(
			fmt.Sprintf("aggregator returned status %d for %s", resp.StatusCode, req.URL.Path),
			"component", "quote",
		)
		// ルートが無い場合 Jupiter は 400 と COULD_NOT_FIND_ANY_ROUTE を返す
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(msg, "ROUTE") {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(msg))
	}
	return body, nil
}
