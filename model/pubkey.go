package model

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeyLength は公開鍵・アドレスのバイト長
const PublicKeyLength = 32

// ErrInvalidPublicKey は base58 文字列が 32 バイトの鍵にならない場合に返る
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey はウォレットの公開鍵、または導出されたアカウントアドレス
type PublicKey [PublicKeyLength]byte

// SystemProgramID は残高だけを持つウォレットアカウントの所有者
var SystemProgramID = PublicKey{}

func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeyLength {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePublicKey は base58 表記をデコードする
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %q", ErrInvalidPublicKey, s)
	}
	return PublicKeyFromBytes(b)
}

// MustParsePublicKey は定数用。不正な値なら panic する
func MustParsePublicKey(s string) PublicKey {
	pk, err := ParsePublicKey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk PublicKey) Bytes() []byte {
	return pk[:]
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
