// Package consensus implements block and transaction validation,
// difficulty retargeting, coinbase construction, and account-state
// application — the rule set a node enforces before accepting a block
// or transaction (spec.md §4, §7).
package consensus

import "github.com/pkg/errors"

// Sentinel rule errors, one per spec.md §7 error kind. Validation
// functions wrap one of these with errors.Wrap so callers can test
// the specific failure with errors.Is while still getting a
// descriptive message, the same discipline the teacher's blockdag
// package uses for its RuleError/ErrorCode pairs.
var (
	ErrInvalidSignature       = errors.New("invalid transaction signature")
	ErrWrongChainID           = errors.New("transaction chain id does not match network")
	ErrNonceTooLow            = errors.New("transaction nonce is below the account's expected nonce or out of sequence")
	ErrNonceGapTooLarge       = errors.New("transaction nonce exceeds the allowed gap ahead of the account's current nonce")
	ErrInsufficientBalance    = errors.New("sender balance insufficient for amount, fee, and already-pending debits")
	ErrFeeTooLow              = errors.New("transaction fee is below the minimum relay fee or fee-density floor")
	ErrDuplicateTransaction   = errors.New("transaction already known")
	ErrTransactionTooLarge    = errors.New("transaction exceeds maximum serialized size")

	ErrBlockTooLarge          = errors.New("block exceeds maximum serialized size or transaction count")
	ErrMissingCoinbase        = errors.New("block is missing a coinbase transaction at index 0")
	ErrMultipleCoinbase       = errors.New("block contains more than one coinbase transaction")
	ErrBadCoinbaseAmount      = errors.New("coinbase transaction amount does not equal subsidy plus collected fees")
	ErrBadMerkleRoot          = errors.New("block merkle root does not match its transactions")
	ErrBadDifficulty          = errors.New("block difficulty does not match the expected retargeted difficulty")
	ErrUnderTarget            = errors.New("block hash does not meet its declared difficulty target")
	ErrTimestampTooFarFuture  = errors.New("block timestamp is too far ahead of the local clock")
	ErrTimestampTooOld        = errors.New("block timestamp is not greater than its parent's timestamp")
	ErrUnknownParent          = errors.New("block's previous hash does not reference a known block")
	ErrDuplicateBlock         = errors.New("block already known")
	ErrBadHeight              = errors.New("block height does not equal parent height plus one")
	ErrSupplyExceeded         = errors.New("applying block would exceed the network's maximum supply")
	ErrImmatureCoinbaseSpend  = errors.New("transaction spends from a coinbase output that has not reached maturity")
)
