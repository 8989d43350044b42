package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"marketplace-escrow/model"
)

var ErrInvalidKeypair = errors.New("invalid keypair file")

// Keypair は Solana CLI 互換のキーペア
// ファイルは 64 個の数値の JSON 配列 (秘密鍵シード32 ‖ 公開鍵32)
type Keypair struct {
	PublicKey  model.PublicKey
	PrivateKey ed25519.PrivateKey
}

func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	pk, err := model.PublicKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKey: pk, PrivateKey: priv}, nil
}

func KeypairFromPrivateKey(priv ed25519.PrivateKey) (*Keypair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key is %d bytes", ErrInvalidKeypair, len(priv))
	}
	// 公開鍵部分が秘密鍵と一致しているか確認する
	derived := ed25519.NewKeyFromSeed(priv.Seed())
	if !derived.Equal(priv) {
		return nil, fmt.Errorf("%w: public key does not match secret", ErrInvalidKeypair)
	}
	pk, err := model.PublicKeyFromBytes(derived.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKey: pk, PrivateKey: derived}, nil
}

func LoadKeypair(path string) (*Keypair, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading keypair: %w", err)
	}
	var raw []int
	if err := json.Unmarshal(buf, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidKeypair, err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeypair, ed25519.PrivateKeySize, len(raw))
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	for i, v := range raw {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKeypair, i)
		}
		key[i] = byte(v)
	}
	return KeypairFromPrivateKey(key)
}

// Save はキーペアを 0600 で書き出す。既存ファイルは上書きしない
func (k *Keypair) Save(path string) error {
	raw := make([]int, len(k.PrivateKey))
	for i, b := range k.PrivateKey {
		raw[i] = int(b)
	}
	buf, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
