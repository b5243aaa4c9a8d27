package consensus

import (
	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// TransactionValidator checks a transaction's structural and
// signature validity independent of any block or account context,
// grounded on the teacher's transactionvalidator process, split here
// into "in isolation" and "in context" passes the same way
// ValidateTransactionInIsolation/InContext are split in the teacher.
type TransactionValidator struct {
	params *chaincfg.Params
}

// NewTransactionValidator builds a validator for params' network.
func NewTransactionValidator(params *chaincfg.Params) *TransactionValidator {
	return &TransactionValidator{params: params}
}

// ValidateInIsolation checks everything about tx that doesn't require
// chain state: size limits, chain id, signature, and fee floor. Run
// this first, before ValidateInContext needs an account lookup.
func (v *TransactionValidator) ValidateInIsolation(tx *chainmodel.Transaction) error {
	if err := tx.CheckSize(); err != nil {
		return errors.Wrap(ErrTransactionTooLarge, err.Error())
	}
	if tx.IsCoinbase() {
		return nil
	}
	if tx.ChainID != v.params.ChainID {
		return errors.Wrapf(ErrWrongChainID, "transaction chain id %d, network chain id %d",
			tx.ChainID, v.params.ChainID)
	}
	if !tx.VerifySignature() {
		return ErrInvalidSignature
	}
	if err := v.checkFeeFloor(tx); err != nil {
		return err
	}
	return nil
}

// checkFeeFloor enforces the additive economic floor fee >= MinRelayFee
// + size*FeePerByte (spec.md §4.2). This is separate from, and checked
// earlier than, the mempool's own fee-density admission floor.
func (v *TransactionValidator) checkFeeFloor(tx *chainmodel.Transaction) error {
	surcharge, overflow := mulUint64(uint64(tx.SerializedSize()), v.params.FeePerByte)
	if overflow {
		return errors.Wrap(ErrFeeTooLow, "size times fee-per-byte overflows u64")
	}
	floor, overflow := addUint64(v.params.MinRelayFee, surcharge)
	if overflow {
		return errors.Wrap(ErrFeeTooLow, "fee floor overflows u64")
	}
	if tx.Fee < floor {
		return errors.Wrapf(ErrFeeTooLow, "fee %d below minimum %d (= %d + %d*%d)",
			tx.Fee, floor, v.params.MinRelayFee, tx.SerializedSize(), v.params.FeePerByte)
	}
	return nil
}

// AccountView is the minimal account-state lookup ValidateInContext
// needs; the state manager and app.Chain both satisfy it.
type AccountView interface {
	Balance(account [32]byte) uint64
	Nonce(account [32]byte) uint64
}

// ValidateInContext is the mempool admission check. An account's
// Nonce is the next nonce that account is expected to use (spec.md
// §4.2: "nonce == state.nonce(from)"); a tx exactly at that nonce is
// immediately executable, and the mempool additionally tolerates
// tx.Nonce ahead of it by up to MaxNonceGap, holding the transaction
// until the gap closes. Block application uses the stricter
// CheckNonceForApplication, which requires an exact match and no gap.
// pendingDebits is the sum of amount+fee already committed against the
// sender by other mempool transactions, so a chain of spends from one
// account can be validated against a single balance without double
// counting (grounded on the teacher mempool's "mempool-aware balance"
// check in transactions_pool.go).
func (v *TransactionValidator) ValidateInContext(tx *chainmodel.Transaction, view AccountView, pendingDebits uint64) error {
	if tx.IsCoinbase() {
		return nil
	}
	expectedNonce := view.Nonce(tx.From)
	if tx.Nonce < expectedNonce {
		return errors.Wrapf(ErrNonceTooLow, "tx nonce %d, account expects %d", tx.Nonce, expectedNonce)
	}
	if tx.Nonce-expectedNonce > v.params.MaxNonceGap {
		return errors.Wrapf(ErrNonceGapTooLarge, "tx nonce %d is %d ahead of expected %d, max gap %d",
			tx.Nonce, tx.Nonce-expectedNonce, expectedNonce, v.params.MaxNonceGap)
	}
	balance := view.Balance(tx.From)
	total, overflow := addUint64(tx.Amount, tx.Fee)
	if overflow {
		return errors.Wrap(ErrInsufficientBalance, "amount plus fee overflows u64")
	}
	total, overflow = addUint64(total, pendingDebits)
	if overflow || total > balance {
		return errors.Wrapf(ErrInsufficientBalance, "balance %d insufficient for %d (including %d already pending)",
			balance, total, pendingDebits)
	}
	return nil
}

func addUint64(a, b uint64) (sum uint64, overflow bool) {
	sum = a + b
	return sum, sum < a
}

func mulUint64(a, b uint64) (product uint64, overflow bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	product = a * b
	return product, product/a != b
}

// CheckNonceForApplication enforces the strict block-application rule:
// a transaction may only execute with exactly the account's current
// expected nonce (spec.md §4.2, §4.3 "nonces contiguous per sender
// within the block").
func CheckNonceForApplication(tx *chainmodel.Transaction, expectedNonce uint64) error {
	if tx.Nonce != expectedNonce {
		return errors.Wrapf(ErrNonceTooLow, "tx nonce %d, expected exactly %d", tx.Nonce, expectedNonce)
	}
	return nil
}

// CheckBalanceForApplication enforces strict balance sufficiency
// against a single working snapshot value (no extra pendingDebits term,
// since block application walks transactions sequentially and the
// snapshot is updated after each one).
func CheckBalanceForApplication(tx *chainmodel.Transaction, balance uint64) error {
	total, overflow := addUint64(tx.Amount, tx.Fee)
	if overflow || total > balance {
		return errors.Wrapf(ErrInsufficientBalance, "balance %d insufficient for amount %d + fee %d", balance, tx.Amount, tx.Fee)
	}
	return nil
}
