package program

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"marketplace-escrow/model"
)

var (
	ErrMaxSeedLength = errors.New("max seed length exceeded")
	ErrInvalidSeeds  = errors.New("provided seeds do not result in a valid address")
	ErrNoViableBump  = errors.New("unable to find a viable program address bump seed")
)

// IsOnCurve は 32 バイトが ed25519 の点としてデコードできるかを返す
// 導出アドレスは曲線外でなければならない（秘密鍵を持つ利用者と衝突しない）
func IsOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// CreateProgramAddress はシードとプログラムIDからアドレスを計算する
func CreateProgramAddress(seeds [][]byte, programID model.PublicKey) (model.PublicKey, error) {
	if len(seeds) > MaxSeeds {
		return model.PublicKey{}, ErrMaxSeedLength
	}
	var buf bytes.Buffer
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return model.PublicKey{}, ErrMaxSeedLength
		}
		buf.Write(seed)
	}
	buf.Write(programID[:])
	buf.WriteString(pdaMarker)

	hash := sha256.Sum256(buf.Bytes())
	if IsOnCurve(hash[:]) {
		return model.PublicKey{}, ErrInvalidSeeds
	}
	return model.PublicKey(hash), nil
}

// FindProgramAddress はバンプ 255 から順に試し、最初に曲線外となるアドレスを返す
func FindProgramAddress(seeds [][]byte, programID model.PublicKey) (model.PublicKey, uint8, error) {
	withBump := make([][]byte, len(seeds), len(seeds)+1)
	copy(withBump, seeds)
	withBump = append(withBump, []byte{0})
	for bump := 255; bump > 0; bump-- {
		withBump[len(seeds)][0] = uint8(bump)
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrInvalidSeeds) {
			return model.PublicKey{}, 0, err
		}
	}
	return model.PublicKey{}, 0, ErrNoViableBump
}

func ItemSeeds(seller model.PublicKey, name string) [][]byte {
	return [][]byte{ItemSeed, seller.Bytes(), []byte(name)}
}

// DeriveItemAddress は (出品者, 商品名) から商品アドレスとバンプを求める
// ネットワークに問い合わせずにクライアントでも同じ結果が得られる
func DeriveItemAddress(programID, seller model.PublicKey, name string) (model.PublicKey, uint8, error) {
	return FindProgramAddress(ItemSeeds(seller, name), programID)
}

// VerifyItemAddress は保存済みのバンプで探索せずに再導出して一致を確かめる
func VerifyItemAddress(programID, address, creator model.PublicKey, name string, bump uint8) error {
	seeds := append(ItemSeeds(creator, name), []byte{bump})
	derived, err := CreateProgramAddress(seeds, programID)
	if err != nil {
		return err
	}
	if derived != address {
		return fmt.Errorf("%w: expected %s, got %s", ErrInvalidSeeds, derived, address)
	}
	return nil
}
