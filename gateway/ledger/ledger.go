package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/prometheus/client_golang/prometheus"

	"marketplace-escrow/model"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountInUse       = errors.New("account already in use")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrConflict           = errors.New("transaction conflict, state changed concurrently")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrFaucetDisabled     = errors.New("faucet disabled")
	ErrFaucetLimit        = errors.New("airdrop exceeds faucet limit")
	ErrTxnFinished        = errors.New("transaction already finished")
)

// Ledger はアドレスごとのアカウントを badger に保存する決済基盤
// 1つの Update 内の変更はすべてコミットされるか、何も残らない
type Ledger struct {
	promRegistry prometheus.Registerer
	db           *badger.DB
	logger       *slog.Logger
	metrics      *ledgerMetrics
	gcTicker     *time.Ticker
	gcStopCh     chan struct{}
	dataDir      string
	gcWg         sync.WaitGroup
	faucetLimit  uint64
	gcEnabled    bool
}

// New opens the ledger. Without a data dir the ledger lives in memory
func New(opts ...LedgerOptionFunc) (*Ledger, error) {
	l := &Ledger{
		gcEnabled: true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	var badgerOpts badger.Options
	if l.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").
			WithInMemory(true)
		// インメモリでは value log が無いので GC も不要
		l.gcEnabled = false
	} else {
		if _, err := os.Stat(l.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(l.dataDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(filepath.Join(l.dataDir, "ledger")).
			WithCompression(options.Snappy)
	}
	badgerOpts = badgerOpts.
		WithLogger(newBadgerLogger(l.logger)).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, err
	}
	l.db = db
	l.metrics = newLedgerMetrics(l.promRegistry)
	if l.gcEnabled {
		l.gcTicker = time.NewTicker(5 * time.Minute)
		l.gcStopCh = make(chan struct{})
		l.gcWg.Add(1)
		go l.valueLogGc(l.gcTicker, l.gcStopCh)
	}
	return l, nil
}

func (l *Ledger) valueLogGc(t *time.Ticker, stop <-chan struct{}) {
	defer l.gcWg.Done()
	for {
		select {
		case <-t.C:
			for {
				err := l.db.RunValueLogGC(0.5)
				if err == nil {
					// Run it again if it just ran successfully
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					l.logger.Warn(
						fmt.Sprintf("ledger: GC failure: %s", err),
						"component", "ledger",
					)
				}
				break
			}
		case <-stop:
			return
		}
	}
}

// Close stops GC and closes the underlying database
func (l *Ledger) Close() error {
	if l.gcTicker != nil {
		l.gcTicker.Stop()
		close(l.gcStopCh)
		l.gcWg.Wait()
		l.gcTicker = nil
	}
	return l.db.Close()
}

// Update は fn を1つの読み書きトランザクションで実行する
// fn がエラーを返した場合、ctx がキャンセルされた場合はコミットしない
// 同じアドレスを読んだ別トランザクションが先にコミットしていたら ErrConflict を返す
func (l *Ledger) Update(ctx context.Context, fn func(txn *Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	txn := &Txn{tx: l.db.NewTransaction(true)}
	defer txn.discard()

	if err := fn(txn); err != nil {
		l.metrics.commits.WithLabelValues("aborted").Inc()
		return err
	}
	if err := ctx.Err(); err != nil {
		l.metrics.commits.WithLabelValues("cancelled").Inc()
		return err
	}
	if err := txn.tx.Commit(); err != nil {
		if errors.Is(err, badger.ErrConflict) {
			l.metrics.commits.WithLabelValues("conflict").Inc()
			l.metrics.conflicts.Inc()
			return ErrConflict
		}
		l.metrics.commits.WithLabelValues("error").Inc()
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	txn.finished = true
	l.metrics.commits.WithLabelValues("committed").Inc()
	l.metrics.transferred.Add(float64(txn.transferred))
	return nil
}

// View は読み取り専用トランザクションで fn を実行する
func (l *Ledger) View(fn func(txn *Txn) error) error {
	txn := &Txn{tx: l.db.NewTransaction(false)}
	defer txn.discard()
	return fn(txn)
}

// Account は1アカウントを読み出す
func (l *Ledger) Account(addr model.PublicKey) (*Account, error) {
	var acct *Account
	err := l.View(func(txn *Txn) error {
		var err error
		acct, err = txn.Get(addr)
		return err
	})
	return acct, err
}

// Balance は残高を返す。存在しないアカウントは 0
func (l *Ledger) Balance(addr model.PublicKey) (uint64, error) {
	acct, err := l.Account(addr)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return acct.Lamports, nil
}

// Airdrop は開発用のフォーセット。上限を超える額は拒否する
func (l *Ledger) Airdrop(ctx context.Context, addr model.PublicKey, lamports uint64) (uint64, error) {
	if l.faucetLimit == 0 {
		return 0, ErrFaucetDisabled
	}
	if lamports > l.faucetLimit {
		return 0, fmt.Errorf("%w: %d > %d", ErrFaucetLimit, lamports, l.faucetLimit)
	}
	var balance uint64
	err := l.Update(ctx, func(txn *Txn) error {
		if err := txn.Credit(addr, lamports); err != nil {
			return err
		}
		acct, err := txn.Get(addr)
		if err != nil {
			return err
		}
		balance = acct.Lamports
		return nil
	})
	if err != nil {
		return 0, err
	}
	l.metrics.airdropped.Add(float64(lamports))
	l.logger.Debug(
		"airdrop",
		"component", "ledger",
		"address", addr.String(),
		"lamports", lamports,
	)
	return balance, nil
}

// AccountsByOwner は指定プログラムが所有する全アカウントを走査する
func (l *Ledger) AccountsByOwner(owner model.PublicKey, fn func(addr model.PublicKey, acct *Account) error) error {
	return l.View(func(txn *Txn) error {
		return txn.iterate(func(addr model.PublicKey, acct *Account) error {
			if acct.Owner != owner {
				return nil
			}
			return fn(addr, acct)
		})
	})
}

// Txn は1つのレジャートランザクション
type Txn struct {
	tx          *badger.Txn
	transferred uint64
	finished    bool
}

func (t *Txn) discard() {
	if !t.finished {
		t.tx.Discard()
		t.finished = true
	}
}

func (t *Txn) check() error {
	if t.finished {
		return ErrTxnFinished
	}
	return nil
}

// Get はアカウントを読む。存在しなければ ErrAccountNotFound
func (t *Txn) Get(addr model.PublicKey) (*Account, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	item, err := t.tx.Get(accountKey(addr))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
		}
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decodeAccount(val)
}

// Put はアカウントを上書きする
func (t *Txn) Put(addr model.PublicKey, acct *Account) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.tx.Set(accountKey(addr), encodeAccount(acct))
}

// Create はアドレスが未使用の場合だけアカウントを作る
// 既存のアカウントがあれば（残高だけのウォレットでも）ErrAccountInUse
func (t *Txn) Create(addr model.PublicKey, acct *Account) error {
	_, err := t.Get(addr)
	if err == nil {
		return fmt.Errorf("%w: %s", ErrAccountInUse, addr)
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return err
	}
	return t.Put(addr, acct)
}

// Delete はアカウントを削除する
func (t *Txn) Delete(addr model.PublicKey) error {
	if err := t.check(); err != nil {
		return err
	}
	return t.tx.Delete(accountKey(addr))
}

func (t *Txn) iterate(fn func(addr model.PublicKey, acct *Account) error) error {
	if err := t.check(); err != nil {
		return err
	}
	it := t.tx.NewIterator(badger.IteratorOptions{Prefix: accountKeyPrefix})
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		addr, err := addressFromKey(item.KeyCopy(nil))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		acct, err := decodeAccount(val)
		if err != nil {
			return err
		}
		if err := fn(addr, acct); err != nil {
			return err
		}
	}
	return nil
}
