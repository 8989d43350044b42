package model

import "fmt"

// APIError は HTTP API のエラーレスポンス本体
// プログラムエラーなら Code は 6000 番台、それ以外は 0
type APIError struct {
	Code    ProgramErrorCode `json:"code"`
	Name    string           `json:"name"`
	Message string           `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ErrorResponse は {"error": {...}} の形
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// プログラムエラー以外のエラー名
const (
	ErrNameAccountNotFound    = "AccountNotFound"
	ErrNameAccountInUse       = "AccountInUse"
	ErrNameConflict           = "TransactionConflict"
	ErrNameAlreadyProcessed   = "AlreadyProcessed"
	ErrNameInsufficientFunds  = "InsufficientFunds"
	ErrNameBadSignature       = "SignatureVerificationFailed"
	ErrNameExpired            = "TransactionExpired"
	ErrNameInvalidSeeds       = "ConstraintSeeds"
	ErrNameInvalidInstruction = "InvalidInstruction"
	ErrNameInvalidAccount     = "AccountDidNotDeserialize"
	ErrNameFaucet             = "FaucetUnavailable"
	ErrNameOverflow           = "ArithmeticOverflow"
	ErrNameBadRequest         = "BadRequest"
	ErrNameNotFound           = "NotFound"
	ErrNameUpstream           = "UpstreamError"
	ErrNameInternal           = "InternalError"
)

// AirdropRequest は開発用フォーセットへの入力
type AirdropRequest struct {
	Lamports uint64 `json:"lamports"`
}

// BalanceResponse は残高照会の結果
type BalanceResponse struct {
	Address  PublicKey `json:"address"`
	Lamports uint64    `json:"lamports"`
}

// DeriveResponse はアドレス導出の結果
type DeriveResponse struct {
	Address PublicKey `json:"address"`
	Bump    uint8     `json:"bump"`
	Seller  PublicKey `json:"seller"`
	Name    string    `json:"name"`
}

// ProgramInfo はプログラムの定数
type ProgramInfo struct {
	ProgramID     PublicKey `json:"program_id"`
	TxFee         uint64    `json:"tx_fee"`
	RentPerByte   uint64    `json:"rent_per_byte"`
	ItemSpace     int       `json:"item_space"`
	ItemRent      uint64    `json:"item_rent"`
	MaxNameLength int       `json:"max_name_length"`
	MaxDescLength int       `json:"max_description_length"`
}
