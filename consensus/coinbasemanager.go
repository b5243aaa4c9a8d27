package consensus

import (
	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// CoinbaseManager builds and validates the expected coinbase
// transaction for a block, grounded on the teacher's coinbasemanager
// process (calcBlockSubsidy's halving-shift subsidy schedule), adapted
// from a UTXO output list to a single account-model payout.
type CoinbaseManager struct {
	params *chaincfg.Params
}

// NewCoinbaseManager builds a manager for params' network.
func NewCoinbaseManager(params *chaincfg.Params) *CoinbaseManager {
	return &CoinbaseManager{params: params}
}

// SubsidyAt returns the block subsidy at height, halved every
// HalvingInterval blocks (spec.md §4.5), and zero once supply issuance
// has fully halved away.
func (c *CoinbaseManager) SubsidyAt(height uint64) uint64 {
	halvings := height / c.params.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return c.params.InitialBlockReward >> halvings
}

// ExpectedCoinbase builds the coinbase transaction a block at height
// must carry, paying payTo the subsidy plus the sum of fees collected
// from the block's other transactions.
func (c *CoinbaseManager) ExpectedCoinbase(height uint64, payTo chainkey.PublicKey, collectedFees uint64) (*chainmodel.Transaction, error) {
	subsidy := c.SubsidyAt(height)
	return chainmodel.NewCoinbaseTransaction(payTo, height, subsidy, collectedFees)
}

// ValidateCoinbase checks that a block's coinbase transaction matches
// ExpectedCoinbase for its height and the fees actually collected by
// its sibling transactions, and that issuing it would not push total
// supply past the network cap.
func (c *CoinbaseManager) ValidateCoinbase(coinbase *chainmodel.Transaction, height uint64, collectedFees uint64, currentSupply uint64) error {
	if coinbase == nil {
		return ErrMissingCoinbase
	}
	if !coinbase.IsCoinbase() {
		return errors.Wrap(ErrMissingCoinbase, "block's first transaction is not shaped like a coinbase")
	}

	subsidy := c.SubsidyAt(height)
	expectedAmount, overflow := addUint64(subsidy, collectedFees)
	if overflow {
		return errors.Wrap(ErrBadCoinbaseAmount, "subsidy plus fees overflows u64")
	}
	if coinbase.Amount != expectedAmount {
		return errors.Wrapf(ErrBadCoinbaseAmount, "coinbase pays %d, expected %d (subsidy %d + fees %d)",
			coinbase.Amount, expectedAmount, subsidy, collectedFees)
	}

	newSupply, overflow := addUint64(currentSupply, subsidy)
	if overflow || newSupply > c.params.MaxSupply {
		return errors.Wrapf(ErrSupplyExceeded, "issuing %d subsidy at height %d would bring supply to %d, cap %d",
			subsidy, height, newSupply, c.params.MaxSupply)
	}
	return nil
}
