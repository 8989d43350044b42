package index

import (
	"time"

	"marketplace-escrow/model"
)

// itemRecord は商品アカウントの読み取り用コピー
type itemRecord struct {
	Address     string `gorm:"primaryKey;size:44"`
	Seller      string `gorm:"index;size:44"`
	Name        string `gorm:"size:32"`
	Description string `gorm:"size:256"`
	Price       uint64
	Lamports    uint64
	ListedAt    int64 `gorm:"index"`
	UpdatedAt   time.Time
	Bump        uint8
	Listed      bool `gorm:"index"`
}

func (itemRecord) TableName() string {
	return "item"
}

// activityRecord はコミットされた操作1件
type activityRecord struct {
	ID        string `gorm:"primaryKey;size:88"`
	Signature string `gorm:"uniqueIndex;size:88"`
	Address   string `gorm:"index;size:44"`
	Type      string `gorm:"size:32"`
	Actor     string `gorm:"index;size:44"`
	Seller    string `gorm:"size:44"`
	CreatedAt time.Time
	Price     uint64
	Fee       uint64
}

func (activityRecord) TableName() string {
	return "activity"
}

func newItemRecord(acct *model.ItemAccount) *itemRecord {
	return &itemRecord{
		Address:     acct.Address.String(),
		Seller:      acct.Seller.String(),
		Name:        acct.Name,
		Description: acct.Description,
		Price:       acct.Price,
		Lamports:    acct.Lamports,
		ListedAt:    acct.ListedAt,
		Bump:        acct.Bump,
		Listed:      acct.Listed,
	}
}

func (r *itemRecord) toModel() (*model.ItemAccount, error) {
	addr, err := model.ParsePublicKey(r.Address)
	if err != nil {
		return nil, err
	}
	seller, err := model.ParsePublicKey(r.Seller)
	if err != nil {
		return nil, err
	}
	return &model.ItemAccount{
		Address:  addr,
		Lamports: r.Lamports,
		Item: model.Item{
			Seller:      seller,
			Price:       r.Price,
			Listed:      r.Listed,
			Name:        r.Name,
			Description: r.Description,
			Bump:        r.Bump,
			ListedAt:    r.ListedAt,
		},
	}, nil
}

func newActivityRecord(a *model.Activity) *activityRecord {
	return &activityRecord{
		ID:        a.ID,
		Signature: a.Signature,
		Address:   a.Address,
		Type:      string(a.Type),
		Actor:     a.Actor,
		Seller:    a.Seller,
		CreatedAt: a.CreatedAt,
		Price:     a.Price,
		Fee:       a.Fee,
	}
}

func (r *activityRecord) toModel() model.Activity {
	return model.Activity{
		ID:        r.ID,
		Type:      model.EventType(r.Type),
		Signature: r.Signature,
		Address:   r.Address,
		Actor:     r.Actor,
		Seller:    r.Seller,
		Price:     r.Price,
		Fee:       r.Fee,
		CreatedAt: r.CreatedAt,
	}
}
