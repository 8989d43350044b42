package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"marketplace-escrow/gateway/index"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/model"
	usecase "marketplace-escrow/usecase/listing"
)

// 署名済みトランザクションの最大サイズ
const maxTransactionBody = 16 << 10

type ListingHandler struct {
	listingUC usecase.ListingUsecase
	index     index.IndexGateway
	maxAge    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewListingHandler は maxAge より古い（または未来の）署名を拒否するハンドラを作る
func NewListingHandler(uc usecase.ListingUsecase, idx index.IndexGateway, maxAge time.Duration, logger *slog.Logger) *ListingHandler {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &ListingHandler{
		listingUC: uc,
		index:     idx,
		maxAge:    maxAge,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRoutes は API のルーティングを登録する
func (h *ListingHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/v1/program", h.HandleProgramInfo).Methods("GET")
	r.HandleFunc("/api/v1/derive", h.HandleDerive).Methods("GET")
	r.HandleFunc("/api/v1/transactions", h.HandleSubmitTransaction).Methods("POST")
	r.HandleFunc("/api/v1/transactions/{signature}", h.HandleGetTransaction).Methods("GET")
	r.HandleFunc("/api/v1/items", h.HandleListItems).Methods("GET")
	r.HandleFunc("/api/v1/items/{address}", h.HandleGetItem).Methods("GET")
	r.HandleFunc("/api/v1/items/{address}/activity", h.HandleItemActivity).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{address}/balance", h.HandleBalance).Methods("GET")
	r.HandleFunc("/api/v1/accounts/{address}/airdrop", h.HandleAirdrop).Methods("POST")
}

// HandleProgramInfo はプログラムIDと手数料などの定数を返す
func (h *ListingHandler) HandleProgramInfo(w http.ResponseWriter, r *http.Request) {
	fees := h.listingUC.Fees()
	rent, err := fees.MinimumBalance(program.ItemSpace)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ProgramInfo{
		ProgramID:     h.listingUC.ProgramID(),
		TxFee:         fees.TxFee,
		RentPerByte:   fees.RentPerByte,
		ItemSpace:     program.ItemSpace,
		ItemRent:      rent,
		MaxNameLength: model.MaxNameLength,
		MaxDescLength: model.MaxDescriptionLength,
	})
}

// HandleDerive は seller と name から商品アドレスを導出する
func (h *ListingHandler) HandleDerive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	seller, err := model.ParsePublicKey(q.Get("seller"))
	if err != nil {
		writeBadRequest(w, "invalid seller: "+err.Error())
		return
	}
	name := q.Get("name")

	addr, bump, err := program.DeriveItemAddress(h.listingUC.ProgramID(), seller, name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeriveResponse{
		Address: addr,
		Bump:    bump,
		Seller:  seller,
		Name:    name,
	})
}

// HandleSubmitTransaction は署名済みトランザクションを検証して実行する
func (h *ListingHandler) HandleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var tx program.Transaction
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTransactionBody)).Decode(&tx); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if err := tx.Verify(h.now(), h.maxAge); err != nil {
		h.writeError(w, err)
		return
	}

	// Usecaseにビジネスロジックを委譲
	receipt, err := h.listingUC.Submit(r.Context(), &tx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleGetTransaction は署名からインデックス済みの履歴を引く
func (h *ListingHandler) HandleGetTransaction(w http.ResponseWriter, r *http.Request) {
	activity, err := h.index.BySignature(r.Context(), mux.Vars(r)["signature"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

// HandleListItems はインデックスから商品一覧を返す
// ?seller=&listed=true|false&limit=&offset=
func (h *ListingHandler) HandleListItems(w http.ResponseWriter, r *http.Request) {
	filter, err := parseItemFilter(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	items, err := h.index.Items(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if items == nil {
		items = []model.ItemAccount{}
	}
	writeJSON(w, http.StatusOK, items)
}

func parseItemFilter(r *http.Request) (model.ItemFilter, error) {
	var filter model.ItemFilter
	q := r.URL.Query()
	if s := q.Get("seller"); s != "" {
		seller, err := model.ParsePublicKey(s)
		if err != nil {
			return filter, fmt.Errorf("invalid seller: %w", err)
		}
		filter.Seller = &seller
	}
	if s := q.Get("listed"); s != "" {
		listed, err := strconv.ParseBool(s)
		if err != nil {
			return filter, fmt.Errorf("invalid listed: %w", err)
		}
		filter.Listed = &listed
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", s)
		}
		filter.Limit = n
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", s)
		}
		filter.Offset = n
	}
	return filter, nil
}

// HandleGetItem はレジャーから商品を直接読む
func (h *ListingHandler) HandleGetItem(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	item, err := h.listingUC.Item(r.Context(), addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleItemActivity は商品のイベント履歴を返す
func (h *ListingHandler) HandleItemActivity(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	activity, err := h.index.Activity(r.Context(), addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if activity == nil {
		activity = []model.Activity{}
	}
	writeJSON(w, http.StatusOK, activity)
}

func (h *ListingHandler) HandleBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	lamports, err := h.listingUC.Balance(r.Context(), addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceResponse{Address: addr, Lamports: lamports})
}

// HandleAirdrop は開発用フォーセット
func (h *ListingHandler) HandleAirdrop(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressVar(w, r)
	if !ok {
		return
	}
	var req model.AirdropRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "Invalid request body")
		return
	}
	if req.Lamports == 0 {
		writeBadRequest(w, "lamports must be positive")
		return
	}
	balance, err := h.listingUC.Airdrop(r.Context(), addr, req.Lamports)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.BalanceResponse{Address: addr, Lamports: balance})
}

func addressVar(w http.ResponseWriter, r *http.Request) (model.PublicKey, bool) {
	addr, err := model.ParsePublicKey(mux.Vars(r)["address"])
	if err != nil {
		writeBadRequest(w, "invalid address: "+err.Error())
		return model.PublicKey{}, false
	}
	return addr, true
}
