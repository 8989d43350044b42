package program

import (
	"crypto/sha256"

	"marketplace-escrow/model"
)

// DefaultProgramID はマーケットプレイスプログラムの既定アドレス
const DefaultProgramID = "FWBtGhuFU9xbXQbcGEJxDfQZckUTm8RMS55YiG1jDtdr"

// ItemSeed は商品アドレス導出のドメイン分離タグ
var ItemSeed = []byte("item")

const (
	MaxSeeds      = 16
	MaxSeedLength = 32

	pdaMarker = "ProgramDerivedAddress"
)

// 命令名（判別子の計算元）
const (
	InstructionListItem         = "list_item"
	InstructionSetListingStatus = "set_listing_status"
	InstructionBuyItem          = "buy_item"
	InstructionCloseItem        = "close_item"
)

// Discriminator はアカウントデータ・命令データの先頭 8 バイトの型タグ
type Discriminator [8]byte

func sighash(namespace, name string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], sum[:8])
	return d
}

var (
	ItemDiscriminator = sighash("account", "Item")

	ListItemDiscriminator         = sighash("global", InstructionListItem)
	SetListingStatusDiscriminator = sighash("global", InstructionSetListingStatus)
	BuyItemDiscriminator          = sighash("global", InstructionBuyItem)
	CloseItemDiscriminator        = sighash("global", InstructionCloseItem)
)

// ItemSpace は商品アカウントに割り当てるデータ長
//
//	discriminator(8) + seller(32) + price(8) + listed(1)
//	+ name(4+32) + description(4+256) + bump(1) + listed_at(8)
const ItemSpace = 8 + model.PublicKeyLength + 8 + 1 +
	(4 + model.MaxNameLength) + (4 + model.MaxDescriptionLength) + 1 + 8
