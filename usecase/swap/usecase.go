package usecase

import (
	"context"
	"fmt"
	"strconv"

	"marketplace-escrow/gateway/quote"
	"marketplace-escrow/model"
	listing "marketplace-escrow/usecase/listing"
)

// SwapUsecase はトークン交換の見積もりとトランザクション組み立てを行う
type SwapUsecase interface {
	// Tokens は扱えるトークンの一覧を返す
	Tokens() []model.Token

	// Quote は表示額 amount の from を to に交換する見積もりを取る
	Quote(ctx context.Context, req SwapRequest) (*SwapQuote, error)

	// QuoteItemPrice は商品価格 (lamports) を別トークン建てで見積もる
	QuoteItemPrice(ctx context.Context, address model.PublicKey, symbol string) (*model.PriceQuote, error)

	// BuildSwap は見積もりを取り直し、署名前のスワップトランザクションを返す
	BuildSwap(ctx context.Context, user model.PublicKey, req SwapRequest) (*model.SwapResponse, error)
}

type SwapRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippage_bps,omitempty"`
}

// SwapQuote はアグリゲータの見積もりに表示用の値を付けたもの
type SwapQuote struct {
	From       model.Token          `json:"from"`
	To         model.Token          `json:"to"`
	InAmount   string               `json:"in_amount"`
	OutAmount  string               `json:"out_amount"`
	OutDisplay string               `json:"out_display"`
	Quote      *model.QuoteResponse `json:"quote"`
}

type swapUsecase struct {
	quoteGateway quote.QuoteGateway
	listing      listing.ListingUsecase
}

func NewSwapUsecase(qg quote.QuoteGateway, lu listing.ListingUsecase) *swapUsecase {
	return &swapUsecase{
		quoteGateway: qg,
		listing:      lu,
	}
}

func (uc *swapUsecase) Tokens() []model.Token {
	return append([]model.Token(nil), knownTokens...)
}

func (uc *swapUsecase) Quote(ctx context.Context, req SwapRequest) (*SwapQuote, error) {
	// 1. トークンと金額を解決
	from, to, amount, err := resolve(req)
	if err != nil {
		return nil, err
	}

	// 2. アグリゲータに見積もりを依頼
	q, err := uc.quoteGateway.Quote(ctx, quote.QuoteRequest{
		InputMint:   from.Mint,
		OutputMint:  to.Mint,
		Amount:      amount,
		SlippageBps: req.SlippageBps,
	})
	if err != nil {
		return nil, err
	}

	// 3. 表示用に変換
	out, err := FromBaseUnits(q.OutAmount, to.Decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", quote.ErrInvalidQuote, err)
	}
	return &SwapQuote{
		From:       from,
		To:         to,
		InAmount:   strconv.FormatUint(amount, 10),
		OutAmount:  q.OutAmount,
		OutDisplay: out,
		Quote:      q,
	}, nil
}

func (uc *swapUsecase) QuoteItemPrice(ctx context.Context, address model.PublicKey, symbol string) (*model.PriceQuote, error) {
	// 1. 商品の現在価格を取得
	item, err := uc.listing.Item(ctx, address)
	if err != nil {
		return nil, err
	}
	to, err := LookupToken(symbol)
	if err != nil {
		return nil, err
	}
	ret := &model.PriceQuote{
		Address:       address,
		PriceLamports: item.Price,
		Token:         to,
	}

	// 2. 無料か SOL 建てなら見積もり不要
	if item.Price == 0 || to.Mint == TokenSOL.Mint {
		ret.OutAmount = strconv.FormatUint(item.Price, 10)
		if ret.OutDisplay, err = FromBaseUnits(ret.OutAmount, to.Decimals); err != nil {
			return nil, err
		}
		ret.PriceImpact = "0"
		return ret, nil
	}

	// 3. lamports を to に換算
	q, err := uc.quoteGateway.Quote(ctx, quote.QuoteRequest{
		InputMint:  TokenSOL.Mint,
		OutputMint: to.Mint,
		Amount:     item.Price,
	})
	if err != nil {
		return nil, err
	}
	ret.OutAmount = q.OutAmount
	if ret.OutDisplay, err = FromBaseUnits(q.OutAmount, to.Decimals); err != nil {
		return nil, fmt.Errorf("%w: %s", quote.ErrInvalidQuote, err)
	}
	ret.PriceImpact = q.PriceImpactPct
	return ret, nil
}

func (uc *swapUsecase) BuildSwap(ctx context.Context, user model.PublicKey, req SwapRequest) (*model.SwapResponse, error) {
	sq, err := uc.Quote(ctx, req)
	if err != nil {
		return nil, err
	}
	return uc.quoteGateway.Swap(ctx, user, sq.Quote)
}

func resolve(req SwapRequest) (model.Token, model.Token, uint64, error) {
	from, err := LookupToken(req.From)
	if err != nil {
		return model.Token{}, model.Token{}, 0, err
	}
	to, err := LookupToken(req.To)
	if err != nil {
		return model.Token{}, model.Token{}, 0, err
	}
	if from.Mint == to.Mint {
		return model.Token{}, model.Token{}, 0, fmt.Errorf("%w: cannot swap %s to itself", ErrUnknownToken, from.Symbol)
	}
	amount, err := ToBaseUnits(req.Amount, from.Decimals)
	if err != nil {
		return model.Token{}, model.Token{}, 0, err
	}
	return from, to, amount, nil
}
