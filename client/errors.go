package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/gateway/quote"
	"marketplace-escrow/model"
)

var (
	// ErrTransport はレスポンスを受け取れなかった（送信結果が不明な）失敗
	ErrTransport = errors.New("transport failure")
	ErrNotFound  = errors.New("not found")
)

// ServerError はサーバーが返したエラー。errors.Is で対応するセンチネルと比較できる
type ServerError struct {
	StatusCode int
	API        model.APIError
	sentinel   error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.API.Error())
}

func (e *ServerError) Unwrap() error {
	return e.sentinel
}

var sentinelsByName = map[string]error{
	model.ErrNameAccountNotFound:    ledger.ErrAccountNotFound,
	model.ErrNameAccountInUse:       ledger.ErrAccountInUse,
	model.ErrNameConflict:           ledger.ErrConflict,
	model.ErrNameAlreadyProcessed:   ledger.ErrAlreadyProcessed,
	model.ErrNameInsufficientFunds:  ledger.ErrInsufficientFunds,
	model.ErrNameOverflow:           ledger.ErrArithmeticOverflow,
	model.ErrNameBadSignature:       program.ErrBadSignature,
	model.ErrNameExpired:            program.ErrExpired,
	model.ErrNameInvalidSeeds:       program.ErrInvalidSeeds,
	model.ErrNameInvalidInstruction: program.ErrUnknownInstruction,
	model.ErrNameNotFound:           ErrNotFound,
	model.ErrNameUpstream:           quote.ErrUpstream,
}

func decodeServerError(resp *http.Response) error {
	se := &ServerError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var er model.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Error.Name == "" {
		se.API = model.APIError{Name: http.StatusText(resp.StatusCode), Message: string(body)}
	} else {
		se.API = er.Error
	}

	if se.API.Code != 0 {
		if perr, ok := model.ProgramErrorFromCode(se.API.Code); ok {
			se.sentinel = perr
		}
	} else if se.API.Name == model.ErrNameFaucet {
		if resp.StatusCode == http.StatusForbidden {
			se.sentinel = ledger.ErrFaucetDisabled
		} else {
			se.sentinel = ledger.ErrFaucetLimit
		}
	} else if s, ok := sentinelsByName[se.API.Name]; ok {
		se.sentinel = s
	}

	// 5xx は処理されたかどうか分からない
	if se.sentinel == nil && resp.StatusCode >= http.StatusInternalServerError {
		se.sentinel = ErrTransport
	}
	return se
}
