package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
	"github.com/oklog/ulid/v2"

	"marketplace-escrow/gateway/index"
	"marketplace-escrow/gateway/ledger"
	"marketplace-escrow/model"
	listing "marketplace-escrow/usecase/listing"
)

const (
	eventBufferSize  = 64
	webhookQueueSize = 256
	resyncPageSize   = 500
	notifyTimeout    = 10 * time.Second
)

// NotifyUsecase はコミット済みイベントをインデックスとバックエンドに反映する
type NotifyUsecase interface {
	// StartEventListener はイベントリスナーを開始する。ctx がキャンセルされるか Stop で終了する
	StartEventListener(ctx context.Context) error

	// Resync は全商品アカウントを走査してインデックスを作り直す
	Resync(ctx context.Context) error

	// Stop はリスナーを止め、goroutine の終了を待つ。未送信のバックエンド通知は捨てる
	Stop()
}

type notifyUsecase struct {
	listing        listing.ListingUsecase
	index          index.IndexGateway
	client         *http.Client
	logger         *slog.Logger
	sub            event.Subscription
	backendBaseURL string
	wg             sync.WaitGroup
	mu             sync.Mutex
}

// NewNotifyUsecase は backendBaseURL が空ならバックエンド通知をしない
func NewNotifyUsecase(lu listing.ListingUsecase, idx index.IndexGateway, backendBaseURL string, logger *slog.Logger) *notifyUsecase {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &notifyUsecase{
		listing:        lu,
		index:          idx,
		client:         &http.Client{Timeout: notifyTimeout},
		logger:         logger,
		backendBaseURL: strings.TrimRight(backendBaseURL, "/"),
	}
}

// StartEventListener はイベントを購読し、goroutine で順番に処理する
// インデックスへの反映はリスナーで行い、バックエンドへの POST は別の goroutine に渡す
// リスナーが詰まるとコミット側の feed.Send が待たされるため、キューが一杯なら通知を捨てる
func (uc *notifyUsecase) StartEventListener(ctx context.Context) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if uc.sub != nil {
		return errors.New("event listener already started")
	}
	events := make(chan *model.ItemEvent, eventBufferSize)
	sub := uc.listing.SubscribeEvents(events)
	uc.sub = sub

	var webhooks chan *model.ItemEvent
	workerCtx, stopWorker := context.WithCancel(ctx)
	if uc.backendBaseURL != "" {
		webhooks = make(chan *model.ItemEvent, webhookQueueSize)
		uc.wg.Add(1)
		go func() {
			defer uc.wg.Done()
			uc.runWebhooks(workerCtx, webhooks)
		}()
	}

	uc.wg.Add(1)
	go func() {
		defer uc.wg.Done()
		defer stopWorker()
		defer sub.Unsubscribe()
		for {
			select {
			case ev := <-events:
				uc.handleEvent(ctx, ev, webhooks)
			case err, ok := <-sub.Err():
				// Unsubscribe で閉じられた場合は err == nil
				if ok && err != nil {
					uc.logger.Error(
						fmt.Sprintf("event subscription failed: %s", err),
						"component", "notify",
					)
				}
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	uc.logger.Info("item event listener started", "component", "notify")
	return nil
}

// runWebhooks はキューのイベントを順にバックエンドへ送る。ctx が終わると残りは捨てる
func (uc *notifyUsecase) runWebhooks(ctx context.Context, webhooks <-chan *model.ItemEvent) {
	for {
		select {
		case ev := <-webhooks:
			uc.deliver(ctx, ev)
		case <-ctx.Done():
			if n := len(webhooks); n > 0 {
				uc.logger.Warn(
					fmt.Sprintf("dropping %d pending backend notifications on shutdown", n),
					"component", "notify",
				)
			}
			return
		}
	}
}

func (uc *notifyUsecase) Stop() {
	uc.mu.Lock()
	sub := uc.sub
	uc.mu.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
	uc.wg.Wait()
}

// handleEvent はインデックスを更新し、バックエンド通知をキューに積む
func (uc *notifyUsecase) handleEvent(ctx context.Context, ev *model.ItemEvent, webhooks chan<- *model.ItemEvent) {
	uc.logger.Debug(
		fmt.Sprintf("received event: %s for item %s (tx: %s)", ev.Type, ev.Address, ev.Signature),
		"component", "notify",
	)
	if err := uc.project(ctx, ev); err != nil {
		uc.logger.Error(
			fmt.Sprintf("failed to index event %s: %s", ev.Signature, err),
			"component", "notify",
		)
	}
	if webhooks == nil {
		return
	}
	select {
	case webhooks <- ev:
	default:
		uc.logger.Warn(
			fmt.Sprintf("backend notification queue full, dropping event %s (tx: %s)", ev.Type, ev.Signature),
			"component", "notify",
		)
	}
}

func (uc *notifyUsecase) deliver(ctx context.Context, ev *model.ItemEvent) {
	if err := uc.notifyBackend(ctx, ev); err != nil {
		uc.logger.Warn(
			fmt.Sprintf("failed to notify backend for event %s: %s", ev.Type, err),
			"component", "notify",
		)
		return
	}
	uc.logger.Debug(
		fmt.Sprintf("notified backend for event %s (item %s)", ev.Type, ev.Address),
		"component", "notify",
	)
}

func (uc *notifyUsecase) project(ctx context.Context, ev *model.ItemEvent) error {
	activity := &model.Activity{
		ID:        ev.Signature,
		Type:      ev.Type,
		Signature: ev.Signature,
		Address:   ev.Address.String(),
		Actor:     ev.Actor.String(),
		Price:     ev.Price,
		Fee:       ev.Fee,
		CreatedAt: ev.Timestamp,
	}
	if ev.Type == model.EventItemPurchased {
		activity.Seller = ev.Seller.String()
	}
	if err := uc.index.RecordActivity(ctx, activity); err != nil {
		return err
	}

	if ev.Type == model.EventItemClosed {
		return uc.index.DeleteItem(ctx, ev.Address)
	}
	// イベントの順序に依存しないよう、レジャー上の最新状態を書く
	acct, err := uc.listing.Item(ctx, ev.Address)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return uc.index.DeleteItem(ctx, ev.Address)
		}
		return err
	}
	return uc.index.UpsertItem(ctx, acct)
}

// webhookPath は ItemPurchased → item-purchased
func webhookPath(t model.EventType) string {
	var b strings.Builder
	for i, r := range string(t) {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return "/api/v1/marketplace/" + b.String()
}

// notifyBackend はバックエンドにイベントを POST する
func (uc *notifyUsecase) notifyBackend(ctx context.Context, ev *model.ItemEvent) error {
	payload := map[string]any{
		"event_id":    ulid.Make().String(),
		"type":        ev.Type,
		"signature":   ev.Signature,
		"address":     ev.Address.String(),
		"actor":       ev.Actor.String(),
		"seller":      ev.Seller.String(),
		"owner":       ev.Item.Seller.String(),
		"name":        ev.Item.Name,
		"description": ev.Item.Description,
		"listed":      ev.Item.Listed,
		"price":       ev.Price,
		"fee":         ev.Fee,
		"listed_at":   ev.Item.ListedAt,
		"timestamp":   ev.Timestamp,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uc.backendBaseURL+webhookPath(ev.Type), bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := uc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("backend returned status %d for %s", resp.StatusCode, req.URL.Path)
	}
	return nil
}

// Resync はレジャーを正としてインデックスを揃える
func (uc *notifyUsecase) Resync(ctx context.Context) error {
	items, err := uc.listing.Items(ctx)
	if err != nil {
		return err
	}
	live := make(map[model.PublicKey]struct{}, len(items))
	for i := range items {
		if err := uc.index.UpsertItem(ctx, &items[i]); err != nil {
			return err
		}
		live[items[i].Address] = struct{}{}
	}

	// レジャーに無い行を消す
	var stale []model.PublicKey
	for offset := 0; ; offset += resyncPageSize {
		page, err := uc.index.Items(ctx, model.ItemFilter{Limit: resyncPageSize, Offset: offset})
		if err != nil {
			return err
		}
		for _, it := range page {
			if _, ok := live[it.Address]; !ok {
				stale = append(stale, it.Address)
			}
		}
		if len(page) < resyncPageSize {
			break
		}
	}
	for _, addr := range stale {
		if err := uc.index.DeleteItem(ctx, addr); err != nil {
			return err
		}
	}

	uc.logger.Info(
		fmt.Sprintf("index resynced: %d items, %d stale rows removed", len(items), len(stale)),
		"component", "notify",
	)
	return nil
}
