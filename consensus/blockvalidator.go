package consensus

import (
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// ChainView is the lookup surface BlockValidator needs over already
// committed blocks: the parent header by hash, and timestamps by
// height for difficulty retargeting.
type ChainView interface {
	HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool)
	TimestampAtHeight(height uint64) (uint64, bool)
}

// BlockValidator checks a candidate block against its parent and the
// network's consensus rules, grounded on the teacher's blockvalidator
// process (domain/consensus/processes/blockvalidator), with the
// GHOSTDAG-specific blue-set/merge-set checks replaced by the spec's
// single-parent linear-chain checks.
type BlockValidator struct {
	params     *chaincfg.Params
	txVal      *TransactionValidator
	difficulty *DifficultyManager
	coinbase   *CoinbaseManager
	now        func() time.Time
}

// NewBlockValidator builds a validator for params' network. now lets
// tests substitute a fixed clock; production callers pass time.Now.
func NewBlockValidator(params *chaincfg.Params, now func() time.Time) *BlockValidator {
	return &BlockValidator{
		params:     params,
		txVal:      NewTransactionValidator(params),
		difficulty: NewDifficultyManager(params),
		coinbase:   NewCoinbaseManager(params),
		now:        now,
	}
}

// Validate runs every check in spec.md §4.3's mandated order, stopping
// at the first failure so no later, more expensive check runs against
// a block already known to be invalid. Fee validation of the coinbase
// amount is re-derived from the block's own transactions, so callers
// can't short-circuit it.
func (v *BlockValidator) Validate(block *chainmodel.Block, chain ChainView, currentSupply uint64) error {
	// 1. Size/count limits.
	if err := block.CheckSize(); err != nil {
		return errors.Wrap(ErrBlockTooLarge, err.Error())
	}

	// 2. Header checks.
	if err := v.validateHeader(block, chain); err != nil {
		return err
	}

	// 3. Coinbase shape and amount.
	coinbase := block.Coinbase()
	if coinbase == nil {
		return ErrMissingCoinbase
	}
	if !coinbase.IsCoinbase() {
		return ErrMissingCoinbase
	}
	for _, tx := range block.Transactions[1:] {
		if tx.IsCoinbase() {
			return ErrMultipleCoinbase
		}
	}
	var collectedFees uint64
	for _, tx := range block.Transactions[1:] {
		fees, overflow := addUint64(collectedFees, tx.Fee)
		if overflow {
			return errors.New("collected fees overflow u64")
		}
		collectedFees = fees
	}
	if err := v.coinbase.ValidateCoinbase(coinbase, block.Header.Height, collectedFees, currentSupply); err != nil {
		return err
	}

	// 4. Merkle root.
	if block.Header.MerkleRoot != block.ComputeMerkleRoot() {
		return ErrBadMerkleRoot
	}

	// 5. Every non-coinbase tx: structural validation.
	for _, tx := range block.Transactions[1:] {
		if err := v.txVal.ValidateInIsolation(tx); err != nil {
			return err
		}
	}

	// 6. Sequential economic validation against a working snapshot:
	// nonces contiguous per sender within the block.
	if err := v.validateSequentialNonces(block.Transactions[1:]); err != nil {
		return err
	}

	return nil
}

func (v *BlockValidator) validateHeader(block *chainmodel.Block, chain ChainView) error {
	h := &block.Header

	if h.Height == 0 {
		return nil // genesis is accepted by definition, not by these rules.
	}

	parent, ok := chain.HeaderByHash(h.PreviousHash)
	if !ok {
		return ErrUnknownParent
	}
	if h.Height != parent.Height+1 {
		return errors.Wrapf(ErrBadHeight, "block height %d, parent height %d", h.Height, parent.Height)
	}
	if h.Timestamp <= parent.Timestamp {
		return errors.Wrapf(ErrTimestampTooOld, "timestamp %d not greater than parent timestamp %d", h.Timestamp, parent.Timestamp)
	}
	nowUnix := uint64(v.now().Unix())
	if h.Timestamp > nowUnix+v.params.MaxFutureDriftSecs {
		return errors.Wrapf(ErrTimestampTooFarFuture, "timestamp %d exceeds now+%ds (%d)",
			h.Timestamp, v.params.MaxFutureDriftSecs, nowUnix+v.params.MaxFutureDriftSecs)
	}

	expectedDifficulty := v.difficulty.ExpectedDifficulty(parent.Height, parent.Difficulty, chain)
	if h.Difficulty != expectedDifficulty {
		return errors.Wrapf(ErrBadDifficulty, "block difficulty %d, expected %d", h.Difficulty, expectedDifficulty)
	}
	if !chainmodel.HashMeetsDifficulty(h.Hash(), h.Difficulty) {
		return ErrUnderTarget
	}
	return nil
}

// validateSequentialNonces checks that, per sender, the nonces among
// txs in this block form a contiguous run (no gaps, no repeats);
// actual comparison against the account's on-chain expected nonce
// happens during application, since that needs committed state.
func (v *BlockValidator) validateSequentialNonces(txs []*chainmodel.Transaction) error {
	seen := make(map[chainkey.PublicKey][]uint64)
	for _, tx := range txs {
		seen[tx.From] = append(seen[tx.From], tx.Nonce)
	}
	for sender, nonces := range seen {
		for i := 1; i < len(nonces); i++ {
			if nonces[i] != nonces[i-1]+1 {
				return errors.Wrapf(ErrNonceTooLow,
					"sender %s has non-contiguous in-block nonces %d then %d", sender, nonces[i-1], nonces[i])
			}
		}
	}
	return nil
}
