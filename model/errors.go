package model

import "fmt"

// ProgramErrorCode はマーケットプレイスプログラムが返す安定したエラーコード
type ProgramErrorCode uint32

const (
	CodeNotListed          ProgramErrorCode = 6000
	CodeSellerCannotBuy    ProgramErrorCode = 6001
	CodeNameTooLong        ProgramErrorCode = 6002
	CodeDescriptionTooLong ProgramErrorCode = 6003
	CodeUnauthorized       ProgramErrorCode = 6004
)

// ProgramError はリスティング状態機械のルール違反を表す
type ProgramError struct {
	Code    ProgramErrorCode `json:"code"`
	Name    string           `json:"name"`
	Message string           `json:"message"`
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

var (
	ErrNotListed = &ProgramError{
		Code:    CodeNotListed,
		Name:    "NotListed",
		Message: "Item is not listed.",
	}
	ErrSellerCannotBuy = &ProgramError{
		Code:    CodeSellerCannotBuy,
		Name:    "SellerCannotBuy",
		Message: "You can't buy your own item.",
	}
	ErrNameTooLong = &ProgramError{
		Code:    CodeNameTooLong,
		Name:    "NameTooLong",
		Message: fmt.Sprintf("Name exceeds %d characters.", MaxNameLength),
	}
	ErrDescriptionTooLong = &ProgramError{
		Code:    CodeDescriptionTooLong,
		Name:    "DescriptionTooLong",
		Message: fmt.Sprintf("Description exceeds %d characters.", MaxDescriptionLength),
	}
	ErrUnauthorized = &ProgramError{
		Code:    CodeUnauthorized,
		Name:    "Unauthorized",
		Message: "Only the item owner can perform this action.",
	}
)

var programErrors = map[ProgramErrorCode]*ProgramError{
	CodeNotListed:          ErrNotListed,
	CodeSellerCannotBuy:    ErrSellerCannotBuy,
	CodeNameTooLong:        ErrNameTooLong,
	CodeDescriptionTooLong: ErrDescriptionTooLong,
	CodeUnauthorized:       ErrUnauthorized,
}

// ProgramErrorFromCode はクライアント側でコードからセンチネルを復元する
// errors.Is で比較できるよう、既知のコードなら同じポインタを返す
func ProgramErrorFromCode(code ProgramErrorCode) (*ProgramError, bool) {
	e, ok := programErrors[code]
	return e, ok
}
