package ledger

import (
	"encoding/binary"
	"fmt"

	"marketplace-escrow/model"
)

// accountHeaderSize は lamports(8) + owner(32)
const accountHeaderSize = 8 + model.PublicKeyLength

var accountKeyPrefix = []byte("acct/")

// Account は決済基盤上の1アドレス分の状態
// ウォレットは Owner = SystemProgramID でデータを持たない
type Account struct {
	Lamports uint64
	Owner    model.PublicKey
	Data     []byte
}

func accountKey(addr model.PublicKey) []byte {
	key := make([]byte, 0, len(accountKeyPrefix)+model.PublicKeyLength)
	key = append(key, accountKeyPrefix...)
	return append(key, addr[:]...)
}

func addressFromKey(key []byte) (model.PublicKey, error) {
	return model.PublicKeyFromBytes(key[len(accountKeyPrefix):])
}

func encodeAccount(acct *Account) []byte {
	buf := make([]byte, accountHeaderSize, accountHeaderSize+len(acct.Data))
	binary.LittleEndian.PutUint64(buf[:8], acct.Lamports)
	copy(buf[8:accountHeaderSize], acct.Owner[:])
	return append(buf, acct.Data...)
}

func decodeAccount(val []byte) (*Account, error) {
	if len(val) < accountHeaderSize {
		return nil, fmt.Errorf("corrupt account record: %d bytes", len(val))
	}
	acct := &Account{
		Lamports: binary.LittleEndian.Uint64(val[:8]),
	}
	copy(acct.Owner[:], val[8:accountHeaderSize])
	if len(val) > accountHeaderSize {
		acct.Data = append([]byte(nil), val[accountHeaderSize:]...)
	}
	return acct, nil
}
