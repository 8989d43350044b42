package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"marketplace-escrow/model"
)

var ErrNotFound = errors.New("not found in index")

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ===============================================
// 1. インターフェース定義
// ===============================================

type IndexGateway interface {
	// UpsertItem は商品アカウントの最新状態を保存する
	UpsertItem(ctx context.Context, acct *model.ItemAccount) error

	// DeleteItem は閉じられた商品を削除する
	DeleteItem(ctx context.Context, address model.PublicKey) error

	// RecordActivity はイベント履歴を1件追加する。同じ署名の2回目以降は無視する
	RecordActivity(ctx context.Context, activity *model.Activity) error

	// Item はアドレスから商品を取得する
	Item(ctx context.Context, address model.PublicKey) (*model.ItemAccount, error)

	// Items は条件に合う商品を新しい順に返す
	Items(ctx context.Context, filter model.ItemFilter) ([]model.ItemAccount, error)

	// Activity は商品のイベント履歴を古い順に返す
	Activity(ctx context.Context, address model.PublicKey) ([]model.Activity, error)

	// BySignature はトランザクション署名からイベントを引く
	BySignature(ctx context.Context, signature string) (*model.Activity, error)

	Close() error
}

// ===============================================
// 2. 実装: SqliteIndex
// ===============================================

type SqliteIndex struct {
	db     *gorm.DB
	logger *slog.Logger
}

// New opens the index database. An empty dataDir keeps the index in memory
func New(dataDir string, logger *slog.Logger) (*SqliteIndex, error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	gormConfig := &gorm.Config{
		Logger:                 gormlogger.Discard,
		SkipDefaultTransaction: true,
	}
	var dsn string
	if dataDir == "" {
		// インスタンスごとに別のインメモリ DB にする
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", ulid.Make().String())
	} else {
		if _, err := os.Stat(dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read data dir: %w", err)
			}
			if err := os.MkdirAll(dataDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		dsn = fmt.Sprintf(
			"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)",
			filepath.Join(dataDir, "index.sqlite"),
		)
	}
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, err
	}
	idx := &SqliteIndex{
		db:     db,
		logger: logger,
	}
	for _, m := range []any{&itemRecord{}, &activityRecord{}} {
		idx.logger.Debug(fmt.Sprintf("creating table: %T", m), "component", "index")
		if err := db.AutoMigrate(m); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (s *SqliteIndex) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SqliteIndex) UpsertItem(ctx context.Context, acct *model.ItemAccount) error {
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		UpdateAll: true,
	}
	result := s.db.WithContext(ctx).Clauses(onConflict).Create(newItemRecord(acct))
	return result.Error
}

func (s *SqliteIndex) DeleteItem(ctx context.Context, address model.PublicKey) error {
	result := s.db.WithContext(ctx).
		Where("address = ?", address.String()).
		Delete(&itemRecord{})
	return result.Error
}

func (s *SqliteIndex) RecordActivity(ctx context.Context, activity *model.Activity) error {
	rec := newActivityRecord(activity)
	if rec.ID == "" {
		rec.ID = ulid.Make().String()
	}
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "signature"}},
		DoNothing: true,
	}
	result := s.db.WithContext(ctx).Clauses(onConflict).Create(rec)
	return result.Error
}

func (s *SqliteIndex) Item(ctx context.Context, address model.PublicKey) (*model.ItemAccount, error) {
	var rec itemRecord
	result := s.db.WithContext(ctx).
		Where("address = ?", address.String()).
		First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: item %s", ErrNotFound, address)
		}
		return nil, result.Error
	}
	return rec.toModel()
}

func (s *SqliteIndex) Items(ctx context.Context, filter model.ItemFilter) ([]model.ItemAccount, error) {
	query := s.db.WithContext(ctx).Model(&itemRecord{})
	if filter.Seller != nil {
		query = query.Where("seller = ?", filter.Seller.String())
	}
	if filter.Listed != nil {
		query = query.Where("listed = ?", *filter.Listed)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := max(filter.Offset, 0)

	var recs []itemRecord
	result := query.
		Order("listed_at DESC").
		Order("address").
		Limit(limit).
		Offset(offset).
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}
	items := make([]model.ItemAccount, 0, len(recs))
	for i := range recs {
		acct, err := recs[i].toModel()
		if err != nil {
			s.logger.Warn(
				fmt.Sprintf("skipping corrupt index row %s: %s", recs[i].Address, err),
				"component", "index",
			)
			continue
		}
		items = append(items, *acct)
	}
	return items, nil
}

func (s *SqliteIndex) Activity(ctx context.Context, address model.PublicKey) ([]model.Activity, error) {
	var recs []activityRecord
	result := s.db.WithContext(ctx).
		Where("address = ?", address.String()).
		Order("id").
		Find(&recs)
	if result.Error != nil {
		return nil, result.Error
	}
	ret := make([]model.Activity, 0, len(recs))
	for i := range recs {
		ret = append(ret, recs[i].toModel())
	}
	return ret, nil
}

func (s *SqliteIndex) BySignature(ctx context.Context, signature string) (*model.Activity, error) {
	var rec activityRecord
	result := s.db.WithContext(ctx).
		Where("signature = ?", signature).
		First(&rec)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, signature)
		}
		return nil, result.Error
	}
	a := rec.toModel()
	return &a, nil
}
