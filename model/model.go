package model

import (
	"time"
)

const (
	// MaxNameLength は商品名の最大バイト数
	MaxNameLength = 32
	// MaxDescriptionLength は商品説明の最大バイト数
	MaxDescriptionLength = 256
)

// Item は永続化される唯一のエンティティ（出品レコード）
type Item struct {
	Seller      PublicKey `json:"seller"`      // 現在の所有者
	Price       uint64    `json:"price"`       // 最小通貨単位 (lamports)
	Listed      bool      `json:"listed"`      // 購入可能かどうか
	Name        string    `json:"name"`        // 最大32バイト
	Description string    `json:"description"` // 最大256バイト
	Bump        uint8     `json:"bump"`        // アドレス導出に使ったバンプ
	ListedAt    int64     `json:"listed_at"`   // 出品時刻 (unix秒)
}

// ItemAccount はアドレスと残高を付けた商品レコード
type ItemAccount struct {
	Address  PublicKey `json:"address"`
	Lamports uint64    `json:"lamports"` // レント預かり金
	Item
}

// ValidateBounds は名前と説明の長さを検証する。状態を変更する前に呼ぶこと
func ValidateBounds(name, description string) error {
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	if len(description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	return nil
}

// ===============================================
// 状態機械のイベント
// ===============================================

// EventType はコミットされた操作の種類
type EventType string

const (
	EventItemListed        EventType = "ItemListed"
	EventItemStatusChanged EventType = "ItemStatusChanged"
	EventItemPurchased     EventType = "ItemPurchased"
	EventItemClosed        EventType = "ItemClosed"
)

// ItemEvent はコミット後に発行されるイベント
type ItemEvent struct {
	Type      EventType `json:"type"`
	Signature string    `json:"signature"` // 封筒の署名 (base58)。直接呼び出しでは ulid
	Address   PublicKey `json:"address"`
	Actor     PublicKey `json:"actor"`  // 署名者
	Seller    PublicKey `json:"seller"` // 直前の所有者 (購入時)
	Item      Item      `json:"item"`   // コミット後の状態
	Price     uint64    `json:"price"`  // 購入時は実際に移動した金額
	Fee       uint64    `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// TxReceipt は送信されたトランザクションの結果
type TxReceipt struct {
	Signature string    `json:"signature"`
	Address   PublicKey `json:"address"`
	Fee       uint64    `json:"fee"`
	Timestamp time.Time `json:"timestamp"`
}

// Activity はインデックスに保存されたイベント履歴の1行
type Activity struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Signature string    `json:"signature"`
	Address   string    `json:"address"`
	Actor     string    `json:"actor"`
	Seller    string    `json:"seller,omitempty"`
	Price     uint64    `json:"price"`
	Fee       uint64    `json:"fee"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemFilter は一覧取得の条件
type ItemFilter struct {
	Seller *PublicKey
	Listed *bool
	Limit  int
	Offset int
}

// ===============================================
// スワップ見積もり関連のモデル
// ===============================================

// Token はスワップ対象のトークン
type Token struct {
	Symbol   string `json:"symbol"`
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// QuoteResponse はアグリゲータの見積もりレスポンス
// swap リクエストにそのまま返す必要があるため、未知のフィールドは Raw に残す
type QuoteResponse struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RoutePlan `json:"routePlan"`
	ContextSlot          uint64      `json:"contextSlot"`
	TimeTaken            float64     `json:"timeTaken"`
	SwapUsdValue         string      `json:"swapUsdValue,omitempty"`
	Raw                  []byte      `json:"-"`
}

type RoutePlan struct {
	SwapInfo SwapInfo `json:"swapInfo"`
	Percent  int      `json:"percent"`
	Bps      int      `json:"bps,omitempty"`
}

type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// SwapResponse はアグリゲータが組み立てたトランザクション
type SwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"` // base64
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
	ComputeUnitLimit          uint64 `json:"computeUnitLimit"`
}

// PriceQuote は商品価格を別トークン建てにした結果
type PriceQuote struct {
	Address       PublicKey `json:"address"`
	PriceLamports uint64    `json:"price_lamports"`
	Token         Token     `json:"token"`
	OutAmount     string    `json:"out_amount"`  // 最小単位
	OutDisplay    string    `json:"out_display"` // 小数表記
	PriceImpact   string    `json:"price_impact_pct"`
}
