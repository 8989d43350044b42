package program

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"

	"marketplace-escrow/model"
)

var (
	ErrMissingSignature = errors.New("missing transaction signature")
	ErrBadSignature     = errors.New("signature verification failed")
	ErrExpired          = errors.New("transaction timestamp outside the accepted window")
)

// Transaction は署名者が1つの命令を商品アカウントに送る封筒
// 署名は timestamp(i64 LE) ‖ nonce(u64 LE) ‖ item(32) ‖ data に対する ed25519
// 同じ署名の封筒は1度しか実行されないので、同じ命令を繰り返すときは nonce で区別する
type Transaction struct {
	Signer    model.PublicKey `json:"signer"`
	Item      model.PublicKey `json:"item"`
	Data      []byte          `json:"data"` // base64 (encoding/json)
	Timestamp int64           `json:"timestamp"`
	Nonce     uint64          `json:"nonce"`
	Signature string          `json:"signature"` // base58
}

// NewTransaction は命令をエンコードして未署名の封筒を作る
func NewTransaction(signer, item model.PublicKey, ix Instruction, now time.Time) (*Transaction, error) {
	data, err := EncodeInstruction(ix)
	if err != nil {
		return nil, err
	}
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return &Transaction{
		Signer:    signer,
		Item:      item,
		Data:      data,
		Timestamp: now.Unix(),
		Nonce:     binary.LittleEndian.Uint64(nonce[:]),
	}, nil
}

func (tx *Transaction) message() []byte {
	msg := make([]byte, 0, 16+model.PublicKeyLength+len(tx.Data))
	msg = binary.LittleEndian.AppendUint64(msg, uint64(tx.Timestamp))
	msg = binary.LittleEndian.AppendUint64(msg, tx.Nonce)
	msg = append(msg, tx.Item[:]...)
	return append(msg, tx.Data...)
}

// Sign は秘密鍵で署名する。鍵の公開鍵部分が Signer と一致しなければエラー
func (tx *Transaction) Sign(key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return fmt.Errorf("invalid private key length %d", len(key))
	}
	pub, err := model.PublicKeyFromBytes(key.Public().(ed25519.PublicKey))
	if err != nil {
		return err
	}
	if pub != tx.Signer {
		return fmt.Errorf("private key does not belong to signer %s", tx.Signer)
	}
	tx.Signature = base58.Encode(ed25519.Sign(key, tx.message()))
	return nil
}

// Verify は署名と時刻を検証する。maxAge が 0 なら時刻は見ない
func (tx *Transaction) Verify(now time.Time, maxAge time.Duration) error {
	sig, err := tx.RawSignature()
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(tx.Signer[:]), tx.message(), sig) {
		return ErrBadSignature
	}
	if maxAge > 0 {
		// 多少の時計ずれは未来方向にも許す
		age := now.Sub(time.Unix(tx.Timestamp, 0))
		if age > maxAge || age < -maxAge {
			return fmt.Errorf("%w: age %s exceeds %s", ErrExpired, age, maxAge)
		}
	}
	return nil
}

// RawSignature は base58 をデコードした64バイトの署名を返す
// 同じ署名は表記によらず同じバイト列になるので、処理済みの判定にはこちらを使う
func (tx *Transaction) RawSignature() ([]byte, error) {
	if tx.Signature == "" {
		return nil, ErrMissingSignature
	}
	sig, err := base58.Decode(tx.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("%w: malformed signature", ErrBadSignature)
	}
	return sig, nil
}

// Instruction は封筒の命令データをデコードする
func (tx *Transaction) Instruction() (Instruction, error) {
	return DecodeInstruction(tx.Data)
}
