package handler

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace-escrow/gateway/index"
	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/model"
	usecase "marketplace-escrow/usecase/listing"
)

var fixedNow = time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)

type wallet struct {
	pub  model.PublicKey
	priv ed25519.PrivateKey
}

func newWallet(t *testing.T, seed byte) wallet {
	t.Helper()
	s := bytes.Repeat([]byte{seed}, ed25519.SeedSize)
	priv := ed25519.NewKeyFromSeed(s)
	pub, err := model.PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
	require.NoError(t, err)
	return wallet{pub: pub, priv: priv}
}

type fixture struct {
	router *mux.Router
	uc     usecase.ListingUsecase
	idx    *index.SqliteIndex
	seller wallet
	buyer  wallet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	l, err := ledger.New(ledger.WithFaucetLimit(5_000_000_000))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	idx, err := index.New("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	uc := usecase.NewListingUsecase(l, usecase.WithClock(func() time.Time { return fixedNow }))
	h := NewListingHandler(uc, idx, time.Minute, nil)
	h.now = func() time.Time { return fixedNow }
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	f := &fixture{
		router: r,
		uc:     uc,
		idx:    idx,
		seller: newWallet(t, 1),
		buyer:  newWallet(t, 2),
	}
	for _, w := range []wallet{f.seller, f.buyer} {
		_, err := uc.Airdrop(context.Background(), w.pub, 5_000_000_000)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) submit(t *testing.T, w wallet, item model.PublicKey, ix program.Instruction, at time.Time) *httptest.ResponseRecorder {
	t.Helper()
	tx, err := program.NewTransaction(w.pub, item, ix, at)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(w.priv))
	return f.do(t, http.MethodPost, "/api/v1/transactions", tx)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.APIError {
	t.Helper()
	var resp model.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.Error
}

func TestSubmitListAndBuy(t *testing.T) {
	f := newFixture(t)

	rec := f.submit(t, f.seller, model.PublicKey{}, program.ListItem{
		ItemName:    "Test Item",
		Description: "A test item",
		Price:       1_000_000_000,
	}, fixedNow)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt model.TxReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	assert.NotEmpty(t, receipt.Signature)

	addr, _, err := program.DeriveItemAddress(f.uc.ProgramID(), f.seller.pub, "Test Item")
	require.NoError(t, err)
	assert.Equal(t, addr, receipt.Address)

	rec = f.do(t, http.MethodGet, "/api/v1/items/"+addr.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var item model.ItemAccount
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&item))
	assert.Equal(t, f.seller.pub, item.Seller)
	assert.True(t, item.Listed)

	rec = f.submit(t, f.buyer, addr, program.BuyItem{ItemName: "Test Item"}, fixedNow)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/items/"+addr.String(), nil)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&item))
	assert.Equal(t, f.buyer.pub, item.Seller)
	assert.False(t, item.Listed)

	// 2回目の購入は NotListed
	rec = f.submit(t, f.buyer, addr, program.BuyItem{ItemName: "Test Item"}, fixedNow)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decodeError(t, rec)
	assert.Equal(t, model.CodeNotListed, apiErr.Code)
	assert.Equal(t, "NotListed", apiErr.Name)
}

func TestSubmitErrors(t *testing.T) {
	f := newFixture(t)
	list := program.ListItem{ItemName: "Test Item", Price: 10}
	require.Equal(t, http.StatusOK, f.submit(t, f.seller, model.PublicKey{}, list, fixedNow).Code)
	addr, _, err := program.DeriveItemAddress(f.uc.ProgramID(), f.seller.pub, "Test Item")
	require.NoError(t, err)

	t.Run("duplicate listing", func(t *testing.T) {
		rec := f.submit(t, f.seller, model.PublicKey{}, list, fixedNow)
		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, model.ErrNameAccountInUse, decodeError(t, rec).Name)
	})

	t.Run("unauthorized status change", func(t *testing.T) {
		rec := f.submit(t, f.buyer, addr, program.SetListingStatus{ItemName: "Test Item"}, fixedNow)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, model.CodeUnauthorized, decodeError(t, rec).Code)
	})

	t.Run("seller cannot buy", func(t *testing.T) {
		rec := f.submit(t, f.seller, addr, program.BuyItem{ItemName: "Test Item"}, fixedNow)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, model.CodeSellerCannotBuy, decodeError(t, rec).Code)
	})

	t.Run("name too long", func(t *testing.T) {
		long := program.ListItem{ItemName: string(bytes.Repeat([]byte("a"), 33))}
		rec := f.submit(t, f.seller, model.PublicKey{}, long, fixedNow)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, model.CodeNameTooLong, decodeError(t, rec).Code)
	})

	t.Run("expired", func(t *testing.T) {
		rec := f.submit(t, f.buyer, addr, program.BuyItem{ItemName: "Test Item"}, fixedNow.Add(-time.Hour))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, model.ErrNameExpired, decodeError(t, rec).Name)
	})

	t.Run("bad signature", func(t *testing.T) {
		tx, err := program.NewTransaction(f.buyer.pub, addr, program.BuyItem{ItemName: "Test Item"}, fixedNow)
		require.NoError(t, err)
		require.NoError(t, tx.Sign(f.buyer.priv))
		tx.Signer = f.seller.pub
		rec := f.do(t, http.MethodPost, "/api/v1/transactions", tx)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, model.ErrNameBadSignature, decodeError(t, rec).Name)
	})

	t.Run("missing item", func(t *testing.T) {
		rec := f.submit(t, f.buyer, model.PublicKey{9}, program.BuyItem{ItemName: "Nothing"}, fixedNow)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, model.ErrNameAccountNotFound, decodeError(t, rec).Name)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		poor := newWallet(t, 3)
		rec := f.submit(t, poor, addr, program.BuyItem{ItemName: "Test Item"}, fixedNow)
		assert.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Equal(t, model.ErrNameInsufficientFunds, decodeError(t, rec).Name)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/transactions", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, model.ErrNameBadRequest, decodeError(t, rec).Name)
	})
}

func (f *fixture) signed(t *testing.T, w wallet, item model.PublicKey, ix program.Instruction) *program.Transaction {
	t.Helper()
	tx, err := program.NewTransaction(w.pub, item, ix, fixedNow)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(w.priv))
	return tx
}

func TestSubmitSameEnvelopeTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	post := func(tx *program.Transaction) *httptest.ResponseRecorder {
		return f.do(t, http.MethodPost, "/api/v1/transactions", tx)
	}

	require.Equal(t, http.StatusOK, post(f.signed(t, f.seller, model.PublicKey{}, program.ListItem{ItemName: "Test Item", Price: 1_000})).Code)
	addr, _, err := program.DeriveItemAddress(f.uc.ProgramID(), f.seller.pub, "Test Item")
	require.NoError(t, err)

	buy := f.signed(t, f.buyer, addr, program.BuyItem{ItemName: "Test Item"})
	rec := post(buy)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt model.TxReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	assert.Equal(t, buy.Signature, receipt.Signature)

	relist := f.signed(t, f.buyer, addr, program.SetListingStatus{ItemName: "Test Item", Listed: true})
	require.Equal(t, http.StatusOK, post(relist).Code)
	require.Equal(t, http.StatusOK, post(f.signed(t, f.seller, addr, program.BuyItem{ItemName: "Test Item"})).Code)
	require.Equal(t, http.StatusOK, post(f.signed(t, f.seller, addr, program.SetListingStatus{ItemName: "Test Item", Listed: true})).Code)

	before, err := f.uc.Balance(ctx, f.buyer.pub)
	require.NoError(t, err)

	// 買い手の古い購入を第三者が再送しても実行されない
	rec = post(buy)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrNameAlreadyProcessed, decodeError(t, rec).Name)

	rec = post(relist)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, model.ErrNameAlreadyProcessed, decodeError(t, rec).Name)

	after, err := f.uc.Balance(ctx, f.buyer.pub)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	item, err := f.uc.Item(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, f.seller.pub, item.Seller)
	assert.True(t, item.Listed)

	// 同じ命令でも新しく署名した封筒は受け付ける
	rec = post(f.signed(t, f.buyer, addr, program.BuyItem{ItemName: "Test Item"}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestDeriveAndProgramInfo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/derive?seller="+f.seller.pub.String()+"&name=Test+Item", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var derived model.DeriveResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&derived))
	addr, bump, err := program.DeriveItemAddress(f.uc.ProgramID(), f.seller.pub, "Test Item")
	require.NoError(t, err)
	assert.Equal(t, addr, derived.Address)
	assert.Equal(t, bump, derived.Bump)
	assert.Equal(t, "Test Item", derived.Name)

	rec = f.do(t, http.MethodGet, "/api/v1/derive?seller=nope&name=x", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/program", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info model.ProgramInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, f.uc.ProgramID(), info.ProgramID)
	assert.Equal(t, uint64(5000), info.TxFee)
	assert.Equal(t, program.ItemSpace, info.ItemSpace)
	assert.Equal(t, uint64((128+program.ItemSpace)*6960), info.ItemRent)
}

func TestBalanceAndAirdrop(t *testing.T) {
	f := newFixture(t)
	w := newWallet(t, 4)

	rec := f.do(t, http.MethodGet, "/api/v1/accounts/"+w.pub.String()+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var bal model.BalanceResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bal))
	assert.Zero(t, bal.Lamports)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts/"+w.pub.String()+"/airdrop", model.AirdropRequest{Lamports: 1000})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bal))
	assert.Equal(t, uint64(1000), bal.Lamports)

	rec = f.do(t, http.MethodPost, "/api/v1/accounts/"+w.pub.String()+"/airdrop", model.AirdropRequest{Lamports: 10_000_000_000})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrNameFaucet, decodeError(t, rec).Name)

	rec = f.do(t, http.MethodGet, "/api/v1/accounts/bad/balance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIndexQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	item := model.ItemAccount{
		Address:  model.PublicKey{7},
		Lamports: 10,
		Item:     model.Item{Seller: f.seller.pub, Price: 10, Listed: true, Name: "Indexed", ListedAt: fixedNow.Unix()},
	}
	require.NoError(t, f.idx.UpsertItem(ctx, &item))
	require.NoError(t, f.idx.RecordActivity(ctx, &model.Activity{
		ID:        "01JD0000000000000000000000",
		Type:      model.EventItemListed,
		Signature: "sig-1",
		Address:   item.Address.String(),
		Actor:     f.seller.pub.String(),
		Price:     10,
		CreatedAt: fixedNow,
	}))

	rec := f.do(t, http.MethodGet, "/api/v1/items?listed=true&seller="+f.seller.pub.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var items []model.ItemAccount
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&items))
	require.Len(t, items, 1)
	assert.Equal(t, "Indexed", items[0].Name)

	rec = f.do(t, http.MethodGet, "/api/v1/items?listed=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/v1/items?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/items/"+item.Address.String()+"/activity", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var activity []model.Activity
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&activity))
	require.Len(t, activity, 1)
	assert.Equal(t, "sig-1", activity[0].Signature)

	rec = f.do(t, http.MethodGet, "/api/v1/transactions/sig-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/transactions/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
