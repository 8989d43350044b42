package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/mr-tron/base58"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/gateway/program"
	"marketplace-escrow/model"
)

var ErrNotItemAccount = errors.New("account is not an item account")

// ListingUsecase は商品レコードの状態機械
// すべての操作は1つのレジャートランザクションで検証と書き込みを行う
type ListingUsecase interface {
	// List は署名者を出品者として商品を作る
	List(ctx context.Context, signer model.PublicKey, ix program.ListItem) (*model.TxReceipt, error)

	// SetStatus は出品状態と価格を変更する（現在の出品者のみ）
	SetStatus(ctx context.Context, signer, address model.PublicKey, ix program.SetListingStatus) (*model.TxReceipt, error)

	// Buy は代金を出品者に送り、所有者を署名者に付け替える
	Buy(ctx context.Context, signer, address model.PublicKey, ix program.BuyItem) (*model.TxReceipt, error)

	// Close は商品を削除してレント預かり金を出品者に返す
	Close(ctx context.Context, signer, address model.PublicKey) (*model.TxReceipt, error)

	// Execute は命令の種類に応じて上の操作に振り分ける
	Execute(ctx context.Context, signer, address model.PublicKey, ix program.Instruction) (*model.TxReceipt, error)

	// Submit は署名検証済みの封筒を実行する。同じ署名の封筒は1度しか実行しない
	Submit(ctx context.Context, tx *program.Transaction) (*model.TxReceipt, error)

	// Item はアドレスから商品を読む
	Item(ctx context.Context, address model.PublicKey) (*model.ItemAccount, error)

	// Items はプログラムが所有する全商品を返す
	Items(ctx context.Context) ([]model.ItemAccount, error)

	// Balance は口座残高を返す
	Balance(ctx context.Context, address model.PublicKey) (uint64, error)

	// Airdrop は開発用フォーセットから lamports を付与する
	Airdrop(ctx context.Context, address model.PublicKey, lamports uint64) (uint64, error)

	// SubscribeEvents はコミット済みイベントを ch に流す
	SubscribeEvents(ch chan<- *model.ItemEvent) event.Subscription

	ProgramID() model.PublicKey
	Fees() ledger.FeeSchedule
}

type listingUsecase struct {
	ledger       *ledger.Ledger
	logger       *slog.Logger
	promRegistry prometheus.Registerer
	metrics      *listingMetrics
	clock        func() time.Time
	feed         event.Feed
	fees         ledger.FeeSchedule
	programID    model.PublicKey
	replayWindow time.Duration
}

func NewListingUsecase(l *ledger.Ledger, opts ...OptionFunc) *listingUsecase {
	uc := &listingUsecase{
		ledger:    l,
		clock:     time.Now,
		fees:      ledger.DefaultFeeSchedule(),
		programID: model.MustParsePublicKey(program.DefaultProgramID),
	}
	for _, opt := range opts {
		opt(uc)
	}
	if uc.logger == nil {
		uc.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	uc.metrics = newListingMetrics(uc.promRegistry)
	return uc
}

func (uc *listingUsecase) ProgramID() model.PublicKey {
	return uc.programID
}

func (uc *listingUsecase) Fees() ledger.FeeSchedule {
	return uc.fees
}

func (uc *listingUsecase) SubscribeEvents(ch chan<- *model.ItemEvent) event.Subscription {
	return uc.feed.Subscribe(ch)
}

// List: 長さ検証 → アドレス導出 → 手数料とレントを引いてアカウント作成
func (uc *listingUsecase) List(ctx context.Context, signer model.PublicKey, ix program.ListItem) (*model.TxReceipt, error) {
	start := time.Now()
	ev, err := uc.list(ctx, signer, ix, nil)
	return uc.finish(program.InstructionListItem, start, nil, ev, err)
}

func (uc *listingUsecase) list(ctx context.Context, signer model.PublicKey, ix program.ListItem, sig []byte) (*model.ItemEvent, error) {
	// 状態に触る前に検証する
	if err := model.ValidateBounds(ix.ItemName, ix.Description); err != nil {
		return nil, err
	}
	address, bump, err := program.DeriveItemAddress(uc.programID, signer, ix.ItemName)
	if err != nil {
		return nil, err
	}
	rent, err := uc.fees.MinimumBalance(program.ItemSpace)
	if err != nil {
		return nil, err
	}
	now := uc.clock()
	item := model.Item{
		Seller:      signer,
		Price:       ix.Price,
		Listed:      true,
		Name:        ix.ItemName,
		Description: ix.Description,
		Bump:        bump,
		ListedAt:    now.Unix(),
	}
	data, err := program.EncodeItem(&item)
	if err != nil {
		return nil, err
	}

	err = uc.ledger.Update(ctx, func(txn *ledger.Txn) error {
		if err := uc.markProcessed(txn, sig); err != nil {
			return err
		}
		if err := txn.Create(address, &ledger.Account{
			Lamports: rent,
			Owner:    uc.programID,
			Data:     data,
		}); err != nil {
			return err
		}
		if err := uc.chargeFee(txn, signer); err != nil {
			return err
		}
		return txn.Debit(signer, rent)
	})
	if err != nil {
		return nil, err
	}
	return &model.ItemEvent{
		Type:      model.EventItemListed,
		Address:   address,
		Actor:     signer,
		Seller:    signer,
		Item:      item,
		Price:     item.Price,
		Timestamp: now,
	}, nil
}

// SetStatus: 出品者本人だけが listed と価格を変更できる
func (uc *listingUsecase) SetStatus(ctx context.Context, signer, address model.PublicKey, ix program.SetListingStatus) (*model.TxReceipt, error) {
	start := time.Now()
	ev, err := uc.setStatus(ctx, signer, address, ix, nil)
	return uc.finish(program.InstructionSetListingStatus, start, nil, ev, err)
}

func (uc *listingUsecase) setStatus(ctx context.Context, signer, address model.PublicKey, ix program.SetListingStatus, sig []byte) (*model.ItemEvent, error) {
	var item *model.Item
	err := uc.ledger.Update(ctx, func(txn *ledger.Txn) error {
		if err := uc.markProcessed(txn, sig); err != nil {
			return err
		}
		acct, loaded, err := uc.loadItem(txn, address)
		if err != nil {
			return err
		}
		if loaded.Name != ix.ItemName {
			return fmt.Errorf("%w: item name %q does not match %s", program.ErrInvalidSeeds, ix.ItemName, address)
		}
		if loaded.Seller != signer {
			return model.ErrUnauthorized
		}
		if err := uc.chargeFee(txn, signer); err != nil {
			return err
		}
		loaded.Listed = ix.Listed
		if ix.NewPrice != nil {
			loaded.Price = *ix.NewPrice
		}
		if err := uc.storeItem(txn, address, acct, loaded); err != nil {
			return err
		}
		item = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &model.ItemEvent{
		Type:      model.EventItemStatusChanged,
		Address:   address,
		Actor:     signer,
		Seller:    item.Seller,
		Item:      *item,
		Price:     item.Price,
		Timestamp: uc.clock(),
	}, nil
}

// Buy: 代金の移動と所有者の付け替えを同じトランザクションでコミットする
// 購入後は listed = false になり、同じ出品への2回目の購入は NotListed になる
func (uc *listingUsecase) Buy(ctx context.Context, signer, address model.PublicKey, ix program.BuyItem) (*model.TxReceipt, error) {
	start := time.Now()
	ev, err := uc.buy(ctx, signer, address, ix, nil)
	return uc.finish(program.InstructionBuyItem, start, nil, ev, err)
}

func (uc *listingUsecase) buy(ctx context.Context, signer, address model.PublicKey, ix program.BuyItem, sig []byte) (*model.ItemEvent, error) {
	var (
		item       *model.Item
		prevSeller model.PublicKey
		paid       uint64
	)
	err := uc.ledger.Update(ctx, func(txn *ledger.Txn) error {
		if err := uc.markProcessed(txn, sig); err != nil {
			return err
		}
		acct, loaded, err := uc.loadItem(txn, address)
		if err != nil {
			return err
		}
		if loaded.Name != ix.ItemName {
			return fmt.Errorf("%w: item name %q does not match %s", program.ErrInvalidSeeds, ix.ItemName, address)
		}
		if !loaded.Listed {
			return model.ErrNotListed
		}
		if loaded.Seller == signer {
			return model.ErrSellerCannotBuy
		}
		if err := uc.chargeFee(txn, signer); err != nil {
			return err
		}
		// 価格はこのトランザクション内で読んだ値を使う
		prevSeller = loaded.Seller
		paid = loaded.Price
		if err := txn.Transfer(signer, prevSeller, paid); err != nil {
			return err
		}
		loaded.Seller = signer
		loaded.Listed = false
		if err := uc.storeItem(txn, address, acct, loaded); err != nil {
			return err
		}
		item = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &model.ItemEvent{
		Type:      model.EventItemPurchased,
		Address:   address,
		Actor:     signer,
		Seller:    prevSeller,
		Item:      *item,
		Price:     paid,
		Timestamp: uc.clock(),
	}, nil
}

// Close: 出品者がアカウントを閉じ、預かり金を受け取る
func (uc *listingUsecase) Close(ctx context.Context, signer, address model.PublicKey) (*model.TxReceipt, error) {
	start := time.Now()
	ev, err := uc.close(ctx, signer, address, nil)
	return uc.finish(program.InstructionCloseItem, start, nil, ev, err)
}

func (uc *listingUsecase) close(ctx context.Context, signer, address model.PublicKey, sig []byte) (*model.ItemEvent, error) {
	var (
		item   *model.Item
		refund uint64
	)
	err := uc.ledger.Update(ctx, func(txn *ledger.Txn) error {
		if err := uc.markProcessed(txn, sig); err != nil {
			return err
		}
		acct, loaded, err := uc.loadItem(txn, address)
		if err != nil {
			return err
		}
		if loaded.Seller != signer {
			return model.ErrUnauthorized
		}
		refund = acct.Lamports
		if err := txn.Delete(address); err != nil {
			return err
		}
		if err := txn.Credit(signer, refund); err != nil {
			return err
		}
		if err := uc.chargeFee(txn, signer); err != nil {
			return err
		}
		item = loaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &model.ItemEvent{
		Type:      model.EventItemClosed,
		Address:   address,
		Actor:     signer,
		Seller:    signer,
		Item:      *item,
		Price:     refund,
		Timestamp: uc.clock(),
	}, nil
}

func (uc *listingUsecase) Execute(ctx context.Context, signer, address model.PublicKey, ix program.Instruction) (*model.TxReceipt, error) {
	return uc.dispatch(ctx, signer, address, ix, nil)
}

func (uc *listingUsecase) Submit(ctx context.Context, tx *program.Transaction) (*model.TxReceipt, error) {
	sig, err := tx.RawSignature()
	if err != nil {
		return nil, err
	}
	ix, err := tx.Instruction()
	if err != nil {
		return nil, err
	}
	return uc.dispatch(ctx, tx.Signer, tx.Item, ix, sig)
}

// dispatch は命令を実行する。sig があれば操作と同じトランザクションで処理済みとして記録する
func (uc *listingUsecase) dispatch(ctx context.Context, signer, address model.PublicKey, ix program.Instruction, sig []byte) (*model.TxReceipt, error) {
	start := time.Now()
	switch v := ix.(type) {
	case program.ListItem:
		// 出品先は署名者と名前から決まる。指定されたアドレスと違えば拒否する
		// 長すぎる名前は List が NameTooLong で拒否する
		if !address.IsZero() {
			if _, bump, err := program.DeriveItemAddress(uc.programID, signer, v.ItemName); err == nil {
				if err := program.VerifyItemAddress(uc.programID, address, signer, v.ItemName, bump); err != nil {
					return nil, err
				}
			}
		}
		ev, err := uc.list(ctx, signer, v, sig)
		return uc.finish(program.InstructionListItem, start, sig, ev, err)
	case program.SetListingStatus:
		ev, err := uc.setStatus(ctx, signer, address, v, sig)
		return uc.finish(program.InstructionSetListingStatus, start, sig, ev, err)
	case program.BuyItem:
		ev, err := uc.buy(ctx, signer, address, v, sig)
		return uc.finish(program.InstructionBuyItem, start, sig, ev, err)
	case program.CloseItem:
		ev, err := uc.close(ctx, signer, address, sig)
		return uc.finish(program.InstructionCloseItem, start, sig, ev, err)
	default:
		return nil, fmt.Errorf("%w: %T", program.ErrUnknownInstruction, ix)
	}
}

func (uc *listingUsecase) Item(ctx context.Context, address model.PublicKey) (*model.ItemAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ret *model.ItemAccount
	err := uc.ledger.View(func(txn *ledger.Txn) error {
		acct, item, err := uc.loadItem(txn, address)
		if err != nil {
			return err
		}
		ret = &model.ItemAccount{Address: address, Lamports: acct.Lamports, Item: *item}
		return nil
	})
	return ret, err
}

func (uc *listingUsecase) Items(ctx context.Context) ([]model.ItemAccount, error) {
	var ret []model.ItemAccount
	err := uc.ledger.AccountsByOwner(uc.programID, func(addr model.PublicKey, acct *ledger.Account) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !program.HasItemDiscriminator(acct.Data) {
			return nil
		}
		item, err := program.DecodeItem(acct.Data)
		if err != nil {
			uc.logger.Warn(
				fmt.Sprintf("skipping undecodable item account %s: %s", addr, err),
				"component", "listing",
			)
			return nil
		}
		ret = append(ret, model.ItemAccount{Address: addr, Lamports: acct.Lamports, Item: *item})
		return nil
	})
	return ret, err
}

func (uc *listingUsecase) Balance(ctx context.Context, address model.PublicKey) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return uc.ledger.Balance(address)
}

func (uc *listingUsecase) Airdrop(ctx context.Context, address model.PublicKey, lamports uint64) (uint64, error) {
	return uc.ledger.Airdrop(ctx, address, lamports)
}

func (uc *listingUsecase) loadItem(txn *ledger.Txn, address model.PublicKey) (*ledger.Account, *model.Item, error) {
	acct, err := txn.Get(address)
	if err != nil {
		return nil, nil, err
	}
	if acct.Owner != uc.programID {
		return nil, nil, fmt.Errorf("%w: %s is owned by %s", ErrNotItemAccount, address, acct.Owner)
	}
	item, err := program.DecodeItem(acct.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrNotItemAccount, address, err)
	}
	return acct, item, nil
}

func (uc *listingUsecase) storeItem(txn *ledger.Txn, address model.PublicKey, acct *ledger.Account, item *model.Item) error {
	data, err := program.EncodeItem(item)
	if err != nil {
		return err
	}
	acct.Data = data
	return txn.Put(address, acct)
}

// markProcessed は封筒の署名を記録する。直接呼ばれた操作 (sig なし) では何もしない
func (uc *listingUsecase) markProcessed(txn *ledger.Txn, sig []byte) error {
	if len(sig) == 0 {
		return nil
	}
	return txn.MarkProcessed(sig, uc.replayWindow)
}

// chargeFee は手数料を署名者から引く。代金とは別に扱う
func (uc *listingUsecase) chargeFee(txn *ledger.Txn, signer model.PublicKey) error {
	if uc.fees.TxFee == 0 {
		return nil
	}
	return txn.Debit(signer, uc.fees.TxFee)
}

// finish はメトリクスとログを記録し、成功時はイベントを発行してレシートを返す
func (uc *listingUsecase) finish(instruction string, start time.Time, sig []byte, ev *model.ItemEvent, err error) (*model.TxReceipt, error) {
	uc.metrics.latency.WithLabelValues(instruction).Observe(time.Since(start).Seconds())
	uc.metrics.instructions.WithLabelValues(instruction, resultLabel(err)).Inc()
	if err != nil {
		uc.logger.Debug(
			fmt.Sprintf("%s rejected: %s", instruction, err),
			"component", "listing",
		)
		return nil, err
	}

	// 封筒経由なら署名そのもの、直接の呼び出しなら ulid で識別する
	if len(sig) > 0 {
		ev.Signature = base58.Encode(sig)
	} else {
		ev.Signature = ulid.Make().String()
	}
	ev.Fee = uc.fees.TxFee
	uc.metrics.fees.Add(float64(ev.Fee))
	uc.logger.Info(
		fmt.Sprintf("%s committed", instruction),
		"component", "listing",
		"signature", ev.Signature,
		"address", ev.Address.String(),
		"signer", ev.Actor.String(),
	)
	uc.feed.Send(ev)

	return &model.TxReceipt{
		Signature: ev.Signature,
		Address:   ev.Address,
		Fee:       ev.Fee,
		Timestamp: ev.Timestamp,
	}, nil
}
