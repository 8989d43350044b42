package ledger

import (
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

var ErrAlreadyProcessed = errors.New("transaction already processed")

var signatureKeyPrefix = []byte("sig/")

func signatureKey(signature []byte) []byte {
	key := make([]byte, 0, len(signatureKeyPrefix)+len(signature))
	key = append(key, signatureKeyPrefix...)
	return append(key, signature...)
}

// MarkProcessed は署名を処理済みとして記録する。記録済みなら ErrAlreadyProcessed
// 記録は操作と同じトランザクションでコミットされ、ttl 経過後に消える（0 なら消えない）
// 同じ署名を同時に記録したトランザクションは片方が ErrConflict になる
func (t *Txn) MarkProcessed(signature []byte, ttl time.Duration) error {
	if err := t.check(); err != nil {
		return err
	}
	if len(signature) == 0 {
		return errors.New("empty signature")
	}
	key := signatureKey(signature)
	_, err := t.tx.Get(key)
	if err == nil {
		return ErrAlreadyProcessed
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("lookup signature: %w", err)
	}
	entry := badger.NewEntry(key, []byte{1})
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	return t.tx.SetEntry(entry)
}
