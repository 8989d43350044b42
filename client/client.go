package client

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

	"marketplace-escrow/gateway/program"
	"marketplace-escrow/model"
	swap "marketplace-escrow/usecase/swap"
)

const defaultTimeout = 30 * time.Second

// Client はマーケットプレイス API の窓口
// アドレス導出と長さ検証はローカルで行い、署名した封筒だけをサーバーに送る
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	clock      func() time.Time
	programID  model.PublicKey
	retries    int
	retryWait  time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithProgramID(id model.PublicKey) Option {
	return func(c *Client) {
		c.programID = id
	}
}

func WithClock(clock func() time.Time) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithRetries は送信失敗時の再試行回数を指定する
func WithRetries(n int, wait time.Duration) Option {
	return func(c *Client) {
		c.retries = n
		c.retryWait = wait
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		clock:      time.Now,
		programID:  model.MustParsePublicKey(program.DefaultProgramID),
		retries:    2,
		retryWait:  500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return c
}

func (c *Client) ProgramID() model.PublicKey {
	return c.programID
}

// DeriveItemAddress はネットワークを使わずに商品アドレスを計算する
func (c *Client) DeriveItemAddress(seller model.PublicKey, name string) (model.PublicKey, uint8, error) {
	return program.DeriveItemAddress(c.programID, seller, name)
}

// ===============================================
// 署名が必要な操作
// ===============================================

// ListItem は商品を出品する
// 送信結果が不明な失敗のあとは、再送の前に商品が作られていないか確認する
func (c *Client) ListItem(ctx context.Context, key *Keypair, name, description string, price uint64) (*model.TxReceipt, error) {
	if err := model.ValidateBounds(name, description); err != nil {
		return nil, err
	}
	addr, _, err := c.DeriveItemAddress(key.PublicKey, name)
	if err != nil {
		return nil, err
	}
	ix := program.ListItem{ItemName: name, Description: description, Price: price}

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			existing, err := c.Item(ctx, addr)
			if err == nil && existing.Seller == key.PublicKey && existing.Name == name {
				c.logger.Info(
					"listing found after failed submission",
					"component", "client",
					"address", addr.String(),
				)
				return c.receiptFor(ctx, addr, existing), nil
			}
		}
		receipt, err := c.submit(ctx, key, addr, ix)
		if err == nil || !errors.Is(err, ErrTransport) || attempt >= c.retries {
			return receipt, err
		}
		c.logger.Warn(
			fmt.Sprintf("list_item submission failed, retrying: %s", err),
			"component", "client",
			"attempt", attempt+1,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryWait):
		}
	}
}

// receiptFor は既に存在する出品のレシートを履歴から組み立てる
func (c *Client) receiptFor(ctx context.Context, addr model.PublicKey, item *model.ItemAccount) *model.TxReceipt {
	receipt := &model.TxReceipt{
		Address:   addr,
		Timestamp: time.Unix(item.ListedAt, 0).UTC(),
	}
	activity, err := c.Activity(ctx, addr)
	if err != nil {
		return receipt
	}
	for _, a := range activity {
		if a.Type == model.EventItemListed && a.Actor == item.Seller.String() {
			receipt.Signature = a.Signature
			receipt.Fee = a.Fee
		}
	}
	return receipt
}

// SetListingStatus は出品状態と価格を変更する。newPrice が nil なら価格はそのまま
func (c *Client) SetListingStatus(ctx context.Context, key *Keypair, address model.PublicKey, name string, listed bool, newPrice *uint64) (*model.TxReceipt, error) {
	return c.submit(ctx, key, address, program.SetListingStatus{
		ItemName: name,
		Listed:   listed,
		NewPrice: newPrice,
	})
}

func (c *Client) BuyItem(ctx context.Context, key *Keypair, address model.PublicKey, name string) (*model.TxReceipt, error) {
	return c.submit(ctx, key, address, program.BuyItem{ItemName: name})
}

func (c *Client) CloseItem(ctx context.Context, key *Keypair, address model.PublicKey) (*model.TxReceipt, error) {
	return c.submit(ctx, key, address, program.CloseItem{})
}

func (c *Client) submit(ctx context.Context, key *Keypair, address model.PublicKey, ix program.Instruction) (*model.TxReceipt, error) {
	// キャンセル済みなら送らない
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx, err := program.NewTransaction(key.PublicKey, address, ix, c.clock())
	if err != nil {
		return nil, err
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return nil, err
	}
	var receipt model.TxReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/transactions", nil, tx, &receipt); err != nil {
		return nil, err
	}
	c.logger.Debug(
		ix.Kind()+" committed",
		"component", "client",
		"signature", receipt.Signature,
	)
	return &receipt, nil
}

// ===============================================
// 読み取り
// ===============================================

func (c *Client) Item(ctx context.Context, address model.PublicKey) (*model.ItemAccount, error) {
	var item model.ItemAccount
	if err := c.do(ctx, http.MethodGet, "/api/v1/items/"+address.String(), nil, nil, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (c *Client) Items(ctx context.Context, filter model.ItemFilter) ([]model.ItemAccount, error) {
	q := url.Values{}
	if filter.Seller != nil {
		q.Set("seller", filter.Seller.String())
	}
	if filter.Listed != nil {
		q.Set("listed", strconv.FormatBool(*filter.Listed))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	var items []model.ItemAccount
	if err := c.do(ctx, http.MethodGet, "/api/v1/items", q, nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Client) Activity(ctx context.Context, address model.PublicKey) ([]model.Activity, error) {
	var activity []model.Activity
	if err := c.do(ctx, http.MethodGet, "/api/v1/items/"+address.String()+"/activity", nil, nil, &activity); err != nil {
		return nil, err
	}
	return activity, nil
}

func (c *Client) Transaction(ctx context.Context, signature string) (*model.Activity, error) {
	var activity model.Activity
	if err := c.do(ctx, http.MethodGet, "/api/v1/transactions/"+url.PathEscape(signature), nil, nil, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

func (c *Client) Balance(ctx context.Context, address model.PublicKey) (uint64, error) {
	var resp model.BalanceResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/accounts/"+address.String()+"/balance", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Lamports, nil
}

// Airdrop は開発用フォーセットを呼び、付与後の残高を返す
func (c *Client) Airdrop(ctx context.Context, address model.PublicKey, lamports uint64) (uint64, error) {
	var resp model.BalanceResponse
	req := model.AirdropRequest{Lamports: lamports}
	if err := c.do(ctx, http.MethodPost, "/api/v1/accounts/"+address.String()+"/airdrop", nil, req, &resp); err != nil {
		return 0, err
	}
	return resp.Lamports, nil
}

func (c *Client) ProgramInfo(ctx context.Context) (*model.ProgramInfo, error) {
	var info model.ProgramInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/program", nil, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Quote は from の amount (小数表記) を to に交換する見積もりを取る
func (c *Client) Quote(ctx context.Context, from, to, amount string, slippageBps int) (*swap.SwapQuote, error) {
	q := url.Values{}
	q.Set("from", from)
	q.Set("to", to)
	q.Set("amount", amount)
	if slippageBps > 0 {
		q.Set("slippage_bps", strconv.Itoa(slippageBps))
	}
	var sq swap.SwapQuote
	if err := c.do(ctx, http.MethodGet, "/api/v1/swap/quote", q, nil, &sq); err != nil {
		return nil, err
	}
	return &sq, nil
}

// QuoteItemPrice は商品価格を token 建てで見積もる
func (c *Client) QuoteItemPrice(ctx context.Context, address model.PublicKey, token string) (*model.PriceQuote, error) {
	q := url.Values{}
	q.Set("item", address.String())
	q.Set("token", token)
	var pq model.PriceQuote
	if err := c.do(ctx, http.MethodGet, "/api/v1/swap/quote", q, nil, &pq); err != nil {
		return nil, err
	}
	return &pq, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeServerError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %w", ErrTransport, err)
	}
	return nil
}
