package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/math"

	"marketplace-escrow/model"
)

// Debit は addr から lamports を引く。残高不足なら何も変更せず ErrInsufficientFunds
func (t *Txn) Debit(addr model.PublicKey, lamports uint64) error {
	acct, err := t.Get(addr)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) && lamports > 0 {
			return fmt.Errorf("%w: %s has 0, needs %d", ErrInsufficientFunds, addr, lamports)
		}
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return err
	}
	balance, underflow := math.SafeSub(acct.Lamports, lamports)
	if underflow {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, addr, acct.Lamports, lamports)
	}
	acct.Lamports = balance
	return t.Put(addr, acct)
}

// Credit は addr に lamports を足す。アカウントが無ければウォレットとして作る
func (t *Txn) Credit(addr model.PublicKey, lamports uint64) error {
	acct, err := t.Get(addr)
	if err != nil {
		if !errors.Is(err, ErrAccountNotFound) {
			return err
		}
		acct = &Account{Owner: model.SystemProgramID}
	}
	balance, overflow := math.SafeAdd(acct.Lamports, lamports)
	if overflow {
		return fmt.Errorf("%w: crediting %d to %s", ErrArithmeticOverflow, lamports, addr)
	}
	acct.Lamports = balance
	return t.Put(addr, acct)
}

// Transfer は from から to へちょうど lamports を移す
// 同じトランザクション内の他の変更と一緒にコミットされる
func (t *Txn) Transfer(from, to model.PublicKey, lamports uint64) error {
	if lamports == 0 {
		return nil
	}
	if err := t.Debit(from, lamports); err != nil {
		return err
	}
	if err := t.Credit(to, lamports); err != nil {
		return err
	}
	t.transferred += lamports
	return nil
}
