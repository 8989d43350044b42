package program

import (
	"encoding/binary"
	"errors"
	"fmt"

	"marketplace-escrow/model"
)

var (
	ErrDiscriminatorMismatch = errors.New("account discriminator mismatch")
	ErrAccountDataTooSmall   = errors.New("account data too small")
	ErrInvalidAccountData    = errors.New("invalid account data")
)

// maxDecodedString はデコード時に受け付ける文字列長の上限
// 上限チェック自体は状態機械が行うため、ここでは巨大な割り当てを防ぐだけ
const maxDecodedString = 4096

type encoder struct {
	buf []byte
}

func (e *encoder) raw(b []byte) {
	e.buf = append(e.buf, b...)
}

func (e *encoder) u8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) u64(v uint64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, v)
}

func (e *encoder) i64(v int64) {
	e.u64(uint64(v))
}

func (e *encoder) str(s string) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.pos
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.remaining() < n {
		return nil, ErrAccountDataTooSmall
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *decoder) u8() (uint8, error) {
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *decoder) bool() (bool, error) {
	v, err := d.u8()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: invalid bool byte %d", ErrInvalidAccountData, v)
	}
}

func (d *decoder) u64() (uint64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (d *decoder) str(limit int) (string, error) {
	b, err := d.take(4)
	if err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint32(b)
	if int64(n) > int64(limit) {
		return "", fmt.Errorf("%w: string length %d exceeds %d", ErrInvalidAccountData, n, limit)
	}
	s, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(s), nil
}

func (d *decoder) publicKey() (model.PublicKey, error) {
	b, err := d.take(model.PublicKeyLength)
	if err != nil {
		return model.PublicKey{}, err
	}
	return model.PublicKeyFromBytes(b)
}

// EncodeItem は商品を判別子付きのバイト列にし、ItemSpace までゼロで埋める
func EncodeItem(item *model.Item) ([]byte, error) {
	if err := model.ValidateBounds(item.Name, item.Description); err != nil {
		return nil, err
	}
	e := &encoder{buf: make([]byte, 0, ItemSpace)}
	e.raw(ItemDiscriminator[:])
	e.raw(item.Seller.Bytes())
	e.u64(item.Price)
	e.bool(item.Listed)
	e.str(item.Name)
	e.str(item.Description)
	e.u8(item.Bump)
	e.i64(item.ListedAt)

	data := make([]byte, ItemSpace)
	copy(data, e.buf)
	return data, nil
}

// DecodeItem は EncodeItem の逆。末尾のゼロ埋めは無視する
// listed_at を持たない古いレイアウトは listed_at = 0 として読む
func DecodeItem(data []byte) (*model.Item, error) {
	d := &decoder{data: data}
	disc, err := d.take(len(ItemDiscriminator))
	if err != nil {
		return nil, err
	}
	if Discriminator(disc) != ItemDiscriminator {
		return nil, ErrDiscriminatorMismatch
	}

	var item model.Item
	if item.Seller, err = d.publicKey(); err != nil {
		return nil, err
	}
	if item.Price, err = d.u64(); err != nil {
		return nil, err
	}
	if item.Listed, err = d.bool(); err != nil {
		return nil, err
	}
	if item.Name, err = d.str(model.MaxNameLength); err != nil {
		return nil, err
	}
	if item.Description, err = d.str(model.MaxDescriptionLength); err != nil {
		return nil, err
	}
	if item.Bump, err = d.u8(); err != nil {
		return nil, err
	}
	if d.remaining() >= 8 {
		listedAt, err := d.u64()
		if err != nil {
			return nil, err
		}
		item.ListedAt = int64(listedAt)
	}
	return &item, nil
}

// HasItemDiscriminator はデータが商品アカウントのものかを判定する
func HasItemDiscriminator(data []byte) bool {
	return len(data) >= len(ItemDiscriminator) &&
		Discriminator(data[:len(ItemDiscriminator)]) == ItemDiscriminator
}
