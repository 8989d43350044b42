package program

import (
	"errors"
	"fmt"
)

var ErrUnknownInstruction = errors.New("unknown instruction")

// Instruction はプログラムに送る命令
type Instruction interface {
	Kind() string
}

// ListItem は出品命令
type ListItem struct {
	ItemName    string `json:"name"`
	Description string `json:"description"`
	Price       uint64 `json:"price"`
}

// SetListingStatus は出品状態と価格の変更命令。NewPrice が nil なら価格は変えない
type SetListingStatus struct {
	ItemName string  `json:"name"`
	Listed   bool    `json:"listed"`
	NewPrice *uint64 `json:"new_price,omitempty"`
}

// BuyItem は購入命令
type BuyItem struct {
	ItemName string `json:"name"`
}

// CloseItem はアカウントを閉じてレントを返金する命令
type CloseItem struct{}

func (ListItem) Kind() string         { return InstructionListItem }
func (SetListingStatus) Kind() string { return InstructionSetListingStatus }
func (BuyItem) Kind() string          { return InstructionBuyItem }
func (CloseItem) Kind() string        { return InstructionCloseItem }

// EncodeInstruction は判別子 + Borsh 引数の命令データを作る
// 長さの検証はしない（状態機械が NameTooLong などを返す）
func EncodeInstruction(ix Instruction) ([]byte, error) {
	e := &encoder{}
	switch v := ix.(type) {
	case ListItem:
		e.raw(ListItemDiscriminator[:])
		e.str(v.ItemName)
		e.str(v.Description)
		e.u64(v.Price)
	case SetListingStatus:
		e.raw(SetListingStatusDiscriminator[:])
		e.str(v.ItemName)
		e.bool(v.Listed)
		if v.NewPrice != nil {
			e.u8(1)
			e.u64(*v.NewPrice)
		} else {
			e.u8(0)
		}
	case BuyItem:
		e.raw(BuyItemDiscriminator[:])
		e.str(v.ItemName)
	case CloseItem:
		e.raw(CloseItemDiscriminator[:])
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownInstruction, ix)
	}
	return e.buf, nil
}

// DecodeInstruction は命令データを型付きの命令に戻す
func DecodeInstruction(data []byte) (Instruction, error) {
	d := &decoder{data: data}
	disc, err := d.take(len(Discriminator{}))
	if err != nil {
		return nil, fmt.Errorf("%w: missing discriminator", ErrUnknownInstruction)
	}

	var ix Instruction
	switch Discriminator(disc) {
	case ListItemDiscriminator:
		var v ListItem
		if v.ItemName, err = d.str(maxDecodedString); err != nil {
			return nil, err
		}
		if v.Description, err = d.str(maxDecodedString); err != nil {
			return nil, err
		}
		if v.Price, err = d.u64(); err != nil {
			return nil, err
		}
		ix = v
	case SetListingStatusDiscriminator:
		var v SetListingStatus
		if v.ItemName, err = d.str(maxDecodedString); err != nil {
			return nil, err
		}
		if v.Listed, err = d.bool(); err != nil {
			return nil, err
		}
		hasPrice, err := d.bool()
		if err != nil {
			return nil, err
		}
		if hasPrice {
			price, err := d.u64()
			if err != nil {
				return nil, err
			}
			v.NewPrice = &price
		}
		ix = v
	case BuyItemDiscriminator:
		var v BuyItem
		if v.ItemName, err = d.str(maxDecodedString); err != nil {
			return nil, err
		}
		ix = v
	case CloseItemDiscriminator:
		ix = CloseItem{}
	default:
		return nil, fmt.Errorf("%w: discriminator %v", ErrUnknownInstruction, disc)
	}
	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidAccountData, d.remaining())
	}
	return ix, nil
}
