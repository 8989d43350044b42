package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/quote"
	"marketplace-escrow/model"
	listing "marketplace-escrow/usecase/listing"
	usecase "marketplace-escrow/usecase/swap"
)

type SwapHandler struct {
	swapUC usecase.SwapUsecase
	logger *slog.Logger
}

func NewSwapHandler(uc usecase.SwapUsecase, logger *slog.Logger) *SwapHandler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &SwapHandler{swapUC: uc, logger: logger}
}

func (h *SwapHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/swap/tokens", h.HandleTokens).Methods("GET")
	r.HandleFunc("/api/v1/swap/quote", h.HandleQuote).Methods("GET")
	r.HandleFunc("/api/v1/swap", h.HandleBuildSwap).Methods("POST")
}

func (h *SwapHandler) HandleTokens(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.swapUC.Tokens())
}

// HandleQuote は2通りの見積もりを返す
//   - ?from=SOL&to=USDC&amount=1.5[&slippage_bps=50]
//   - ?item=<address>&token=USDC (商品価格の換算)
func (h *SwapHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if s := q.Get("item"); s != "" {
		addr, err := model.ParsePublicKey(s)
		if err != nil {
			writeBadRequest(w, "invalid item: "+err.Error())
			return
		}
		pq, err := h.swapUC.QuoteItemPrice(r.Context(), addr, q.Get("token"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, pq)
		return
	}

	req := usecase.SwapRequest{
		From:   q.Get("from"),
		To:     q.Get("to"),
		Amount: q.Get("amount"),
	}
	if s := q.Get("slippage_bps"); s != "" {
		bps, err := strconv.Atoi(s)
		if err != nil || bps < 0 || bps > 10_000 {
			writeBadRequest(w, "invalid slippage_bps")
			return
		}
		req.SlippageBps = bps
	}
	sq, err := h.swapUC.Quote(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sq)
}

// BuildSwapRequest はスワップトランザクション組み立ての入力
type BuildSwapRequest struct {
	User model.PublicKey `json:"user"`
	usecase.SwapRequest
}

// HandleBuildSwap は署名前のスワップトランザクションを返す。署名と送信はウォレット側で行う
func (h *SwapHandler) HandleBuildSwap(w http.ResponseWriter, r *http.Request) {
	var req BuildSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.User.IsZero() {
		writeBadRequest(w, "user is required")
		return
	}
	resp, err := h.swapUC.BuildSwap(r.Context(), req.User, req.SwapRequest)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

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

func (h *SwapHandler) writeError(w http.ResponseWriter, err error) {
	body := model.APIError{Message: err.Error()}
	var status int
	switch {
	case errors.Is(err, usecase.ErrUnknownToken), errors.Is(err, usecase.ErrInvalidAmount):
		status, body.Name = http.StatusBadRequest, model.ErrNameBadRequest
	case errors.Is(err, listing.ErrNotItemAccount):
		status, body.Name = http.StatusBadRequest, model.ErrNameInvalidAccount
	case errors.Is(err, ledger.ErrAccountNotFound):
		status, body.Name = http.StatusNotFound, model.ErrNameAccountNotFound
	case errors.Is(err, quote.ErrNoRoute):
		status, body.Name = http.StatusNotFound, model.ErrNameNotFound
	case errors.Is(err, quote.ErrUpstream), errors.Is(err, quote.ErrInvalidQuote):
		status, body.Name = http.StatusBadGateway, model.ErrNameUpstream
	default:
		status, body.Name, body.Message = http.StatusInternalServerError, model.ErrNameInternal, "internal error"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(
			"swap request failed: "+err.Error(),
			"component", "handler",
		)
	}
	writeJSON(w, status, model.ErrorResponse{Error: body})
}
