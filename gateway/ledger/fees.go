package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"
)

const (
	// DefaultTxFee は1トランザクションあたりの手数料 (lamports)
	DefaultTxFee uint64 = 5000
	// DefaultRentPerByte はレント免除に必要な1バイトあたりの預かり金
	DefaultRentPerByte uint64 = 6960
	// AccountStorageOverhead はデータ長に加算されるアカウントのメタデータ分
	AccountStorageOverhead uint64 = 128
)

// FeeSchedule は手数料とレントの設定
type FeeSchedule struct {
	TxFee       uint64 `yaml:"txFee" envconfig:"TX_FEE"`
	RentPerByte uint64 `yaml:"rentPerByte" envconfig:"RENT_PER_BYTE"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		TxFee:       DefaultTxFee,
		RentPerByte: DefaultRentPerByte,
	}
}

// MinimumBalance はデータ長 space のアカウントに必要なレント預かり金
func (f FeeSchedule) MinimumBalance(space uint64) (uint64, error) {
	size, overflow := math.SafeAdd(AccountStorageOverhead, space)
	if overflow {
		return 0, fmt.Errorf("%w: account size %d", ErrArithmeticOverflow, space)
	}
	rent, overflow := math.SafeMul(size, f.RentPerByte)
	if overflow {
		return 0, fmt.Errorf("%w: rent for %d bytes", ErrArithmeticOverflow, size)
	}
	return rent, nil
}
