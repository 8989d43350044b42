package usecase

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"marketplace-escrow/model"
)

var (
	ErrUnknownToken  = errors.New("unknown token")
	ErrInvalidAmount = errors.New("invalid amount")
)

// トークン一覧
var (
	TokenSOL = model.Token{
		Symbol:   "SOL",
		Mint:     "So11111111111111111111111111111111111111112",
		Decimals: 9,
	}
	TokenUSDC = model.Token{
		Symbol:   "USDC",
		Mint:     "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		Decimals: 6,
	}
	TokenUSDT = model.Token{
		Symbol:   "USDT",
		Mint:     "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB",
		Decimals: 6,
	}
)

var knownTokens = []model.Token{TokenSOL, TokenUSDC, TokenUSDT}

// LookupToken はシンボル（大文字小文字を区別しない）か mint アドレスでトークンを探す
func LookupToken(s string) (model.Token, error) {
	for _, t := range knownTokens {
		if strings.EqualFold(t.Symbol, s) || t.Mint == s {
			return t, nil
		}
	}
	return model.Token{}, fmt.Errorf("%w: %q", ErrUnknownToken, s)
}

// ToBaseUnits は "1.5" のような表示額を最小単位の整数にする
// 小数点以下の桁が decimals を超える場合は丸めずにエラーにする
func ToBaseUnits(amount string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: %q must be positive", ErrInvalidAmount, amount)
	}
	base := d.Shift(int32(decimals))
	if !base.IsInteger() {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, amount, decimals)
	}
	n := base.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, amount)
	}
	return n.Uint64(), nil
}

// FromBaseUnits は最小単位の整数文字列を表示額にする
func FromBaseUnits(amount string, decimals uint8) (string, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil || !d.IsInteger() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, amount)
	}
	return d.Shift(-int32(decimals)).String(), nil
}
