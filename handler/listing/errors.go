package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"marketplace-escrow/gateway/index"
	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/model"
	usecase "marketplace-escrow/usecase/listing"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: model.APIError{
		Name:    model.ErrNameBadRequest,
		Message: msg,
	}})
}

// classify はエラーを HTTP ステータスとレスポンス本体に変換する
func classify(err error) (int, model.APIError) {
	var perr *model.ProgramError
	if errors.As(err, &perr) {
		status := http.StatusBadRequest
		if perr.Code == model.CodeUnauthorized {
			status = http.StatusForbidden
		}
		return status, model.APIError{Code: perr.Code, Name: perr.Name, Message: perr.Message}
	}

	body := model.APIError{Message: err.Error()}
	var status int
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		status, body.Name = http.StatusNotFound, model.ErrNameAccountNotFound
	case errors.Is(err, index.ErrNotFound):
		status, body.Name = http.StatusNotFound, model.ErrNameNotFound
	case errors.Is(err, ledger.ErrAccountInUse):
		status, body.Name = http.StatusConflict, model.ErrNameAccountInUse
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		status, body.Name = http.StatusConflict, model.ErrNameAlreadyProcessed
	case errors.Is(err, ledger.ErrConflict):
		status, body.Name = http.StatusConflict, model.ErrNameConflict
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status, body.Name = http.StatusPaymentRequired, model.ErrNameInsufficientFunds
	case errors.Is(err, program.ErrBadSignature), errors.Is(err, program.ErrMissingSignature):
		status, body.Name = http.StatusUnauthorized, model.ErrNameBadSignature
	case errors.Is(err, program.ErrExpired):
		status, body.Name = http.StatusUnauthorized, model.ErrNameExpired
	case errors.Is(err, program.ErrInvalidSeeds), errors.Is(err, program.ErrMaxSeedLength):
		status, body.Name = http.StatusBadRequest, model.ErrNameInvalidSeeds
	case errors.Is(err, program.ErrUnknownInstruction),
		errors.Is(err, program.ErrInvalidAccountData),
		errors.Is(err, program.ErrAccountDataTooSmall):
		status, body.Name = http.StatusBadRequest, model.ErrNameInvalidInstruction
	case errors.Is(err, usecase.ErrNotItemAccount):
		status, body.Name = http.StatusBadRequest, model.ErrNameInvalidAccount
	case errors.Is(err, ledger.ErrFaucetDisabled):
		status, body.Name = http.StatusForbidden, model.ErrNameFaucet
	case errors.Is(err, ledger.ErrFaucetLimit):
		status, body.Name = http.StatusBadRequest, model.ErrNameFaucet
	case errors.Is(err, ledger.ErrArithmeticOverflow):
		status, body.Name = http.StatusBadRequest, model.ErrNameOverflow
	default:
		status, body.Name, body.Message = http.StatusInternalServerError, model.ErrNameInternal, "internal error"
	}
	return status, body
}

func (h *ListingHandler) writeError(w http.ResponseWriter, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		h.logger.Error(
			"request failed: "+err.Error(),
			"component", "handler",
		)
	} else {
		h.logger.Debug(
			"request rejected: "+err.Error(),
			"component", "handler",
			slog.Int("status", status),
		)
	}
	writeJSON(w, status, model.ErrorResponse{Error: body})
}
