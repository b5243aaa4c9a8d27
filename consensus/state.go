package consensus

import (
	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// Account is one address's balance and next-expected nonce (spec.md
// §3/§4.2). Nonce is the value the account's next transaction must
// carry, incrementing by one per applied transaction.
type Account struct {
	Balance uint64
	Nonce   uint64
	// Immature is coinbase payout already counted in total supply but
	// not yet spendable, pending CoinbaseMaturity confirmations: kept
	// so that supply == sum(Balance+Immature) over all accounts holds
	// at every committed height, not just once credits mature.
	Immature uint64
}

// ImmatureCredit is a coinbase payout that has been issued into total
// supply but is not yet part of its payee's spendable balance, pending
// CoinbaseMaturity confirmations (decided Open Question, DESIGN.md).
type ImmatureCredit struct {
	Account        chainkey.PublicKey
	Amount         uint64
	MaturityHeight uint64
}

// Batch is the atomic-write handle ApplyBlock/UnwindBlock stage every
// account mutation into, so a block's state application and its index
// commit (app.Chain's ChainStore.CommitBlock) land in a single
// storage-layer write (spec.md §4.3 "Application is atomic ... a
// single batched write"). storage.Batch satisfies this structurally;
// consensus cannot import storage directly (storage already imports
// consensus for the Account/ImmatureCredit types it persists).
type Batch interface {
	Put(bucket, key, value []byte)
	Delete(bucket, key []byte)
}

// AccountStore is the persistence surface StateManager needs; the
// storage package implements it over the node's KV store. Every
// mutation stages into the caller-supplied Batch rather than writing
// immediately, so ApplyBlock/UnwindBlock never commit anything on
// their own — the caller commits once, alongside its own writes.
type AccountStore interface {
	GetAccount(pub chainkey.PublicKey) (Account, error)
	PutAccount(batch Batch, pub chainkey.PublicKey, acct Account)
	Supply() (uint64, error)
	SetSupply(batch Batch, supply uint64)
	PutImmatureCredit(batch Batch, credit ImmatureCredit)
	RemoveImmatureCredit(batch Batch, credit ImmatureCredit)
	TakeImmatureCreditsMaturingAt(batch Batch, height uint64) ([]ImmatureCredit, error)
}

// StateDelta captures every change ApplyBlock makes, so a reorg can
// unwind them in reverse without recomputing validation (spec.md §4.3
// "Application is atomic").
type StateDelta struct {
	Height          uint64
	AccountsBefore  map[chainkey.PublicKey]Account
	SupplyBefore    uint64
	CreditsConsumed []ImmatureCredit
	// CreditScheduled is the immature credit this block's own coinbase
	// scheduled, unwound by removing it rather than re-queuing it.
	CreditScheduled *ImmatureCredit
}

// StateManager applies validated blocks to account state and unwinds
// them on reorg, grounded on the teacher's consensusstatemanager
// process, adapted from a UTXO set to an account balance/nonce map.
type StateManager struct {
	params   *chaincfg.Params
	store    AccountStore
	coinbase *CoinbaseManager
}

// NewStateManager builds a manager over store for params' network.
func NewStateManager(params *chaincfg.Params, store AccountStore) *StateManager {
	return &StateManager{params: params, store: store, coinbase: NewCoinbaseManager(params)}
}

func (s *StateManager) Balance(account [32]byte) uint64 {
	acct, err := s.store.GetAccount(chainkey.PublicKey(account))
	if err != nil {
		return 0
	}
	return acct.Balance
}

func (s *StateManager) Nonce(account [32]byte) uint64 {
	acct, err := s.store.GetAccount(chainkey.PublicKey(account))
	if err != nil {
		return 0
	}
	return acct.Nonce
}

// ImmatureBalance returns the portion of account's coinbase earnings
// still awaiting CoinbaseMaturity confirmations, already counted in
// total supply but not yet spendable.
func (s *StateManager) ImmatureBalance(account [32]byte) uint64 {
	acct, err := s.store.GetAccount(chainkey.PublicKey(account))
	if err != nil {
		return 0
	}
	return acct.Immature
}

// accountOverlay is a per-call read-through cache of accounts touched
// during one ApplyBlock, so a mutation earlier in the block (staged
// into the batch, not yet committed) is visible to a later read
// within the same block rather than being masked by a stale store
// read. Every touched account is flushed to the batch once, at the
// end of ApplyBlock.
type accountOverlay struct {
	store  AccountStore
	dirty  map[chainkey.PublicKey]Account
	before map[chainkey.PublicKey]Account
}

func newAccountOverlay(store AccountStore) *accountOverlay {
	return &accountOverlay{
		store:  store,
		dirty:  make(map[chainkey.PublicKey]Account),
		before: make(map[chainkey.PublicKey]Account),
	}
}

func (o *accountOverlay) get(pub chainkey.PublicKey) (Account, error) {
	if acct, ok := o.dirty[pub]; ok {
		return acct, nil
	}
	acct, err := o.store.GetAccount(pub)
	if err != nil {
		return Account{}, err
	}
	o.before[pub] = acct
	o.dirty[pub] = acct
	return acct, nil
}

func (o *accountOverlay) put(pub chainkey.PublicKey, acct Account) {
	o.dirty[pub] = acct
}

func (o *accountOverlay) flush(batch Batch) {
	for pub, acct := range o.dirty {
		o.store.PutAccount(batch, pub, acct)
	}
}

// ApplyBlock executes every transaction in block sequentially against
// a working overlay, then stages into batch: debits/credits, nonce
// increments, supply increase by the coinbase subsidy, and maturation
// of any immature coinbase credits scheduled for this height. The
// block is assumed to have already passed BlockValidator.Validate;
// ApplyBlock re-derives per-tx economic checks because they require
// the sequential, tx-by-tx state snapshot that only application can
// walk. The caller commits batch together with its own block-index
// write, so the two never land as separate, independently-crashable
// writes.
func (s *StateManager) ApplyBlock(batch Batch, block *chainmodel.Block) (*StateDelta, error) {
	delta := &StateDelta{Height: block.Header.Height}
	supply, err := s.store.Supply()
	if err != nil {
		return nil, errors.Wrap(err, "reading supply")
	}
	delta.SupplyBefore = supply

	overlay := newAccountOverlay(s.store)

	var collectedFees uint64
	for i, tx := range block.Transactions {
		if i == 0 {
			continue // coinbase validated and applied after fees are known
		}
		if err := s.applyNonCoinbase(tx, overlay); err != nil {
			return nil, err
		}
		fees, overflow := addUint64(collectedFees, tx.Fee)
		if overflow {
			return nil, errors.New("collected fees overflow u64")
		}
		collectedFees = fees
	}

	coinbase := block.Coinbase()
	if err := s.coinbase.ValidateCoinbase(coinbase, block.Header.Height, collectedFees, supply); err != nil {
		return nil, err
	}
	subsidy := s.coinbase.SubsidyAt(block.Header.Height)

	// Credit the payee's immature sub-balance for the full subsidy now,
	// in lockstep with the supply increase below, so supply ==
	// sum(Balance+Immature) holds immediately rather than only once the
	// credit matures (mirrors the teacher's UTXO set counting a
	// maturing coinbase output in supply while leaving it unspendable).
	payee, err := overlay.get(coinbase.To)
	if err != nil {
		return nil, err
	}
	newImmature, overflow := addUint64(payee.Immature, coinbase.Amount)
	if overflow {
		return nil, errors.New("coinbase immature credit overflows account balance")
	}
	payee.Immature = newImmature
	overlay.put(coinbase.To, payee)

	maturityHeight := block.Header.Height + s.params.CoinbaseMaturity
	scheduled := ImmatureCredit{
		Account:        coinbase.To,
		Amount:         coinbase.Amount,
		MaturityHeight: maturityHeight,
	}
	s.store.PutImmatureCredit(batch, scheduled)
	delta.CreditScheduled = &scheduled

	newSupply, overflow := addUint64(supply, subsidy)
	if overflow {
		return nil, errors.New("supply overflows u64")
	}

	matured, err := s.store.TakeImmatureCreditsMaturingAt(batch, block.Header.Height)
	if err != nil {
		return nil, errors.Wrap(err, "taking matured credits")
	}
	delta.CreditsConsumed = matured
	for _, credit := range matured {
		acct, err := overlay.get(credit.Account)
		if err != nil {
			return nil, err
		}
		if acct.Immature < credit.Amount {
			return nil, errors.New("matured credit exceeds account's tracked immature balance")
		}
		acct.Immature -= credit.Amount
		newBalance, overflow := addUint64(acct.Balance, credit.Amount)
		if overflow {
			return nil, errors.New("matured credit overflows account balance")
		}
		acct.Balance = newBalance
		overlay.put(credit.Account, acct)
	}

	s.store.SetSupply(batch, newSupply)
	overlay.flush(batch)
	delta.AccountsBefore = overlay.before

	return delta, nil
}

func (s *StateManager) applyNonCoinbase(tx *chainmodel.Transaction, overlay *accountOverlay) error {
	sender, err := overlay.get(tx.From)
	if err != nil {
		return err
	}
	if err := CheckNonceForApplication(tx, sender.Nonce); err != nil {
		return err
	}
	if err := CheckBalanceForApplication(tx, sender.Balance); err != nil {
		return err
	}

	sender.Balance -= tx.Amount + tx.Fee
	sender.Nonce++
	overlay.put(tx.From, sender)

	if tx.To != tx.From {
		receiver, err := overlay.get(tx.To)
		if err != nil {
			return err
		}
		newBalance, overflow := addUint64(receiver.Balance, tx.Amount)
		if overflow {
			return errors.New("receiver balance overflows u64")
		}
		receiver.Balance = newBalance
		overlay.put(tx.To, receiver)
	}
	return nil
}

// UnwindBlock restores every account and the supply counter to their
// pre-application values recorded in delta, re-queues any immature
// credits that were matured by the block being unwound, and removes
// the credit that block's own coinbase scheduled. Used during reorg
// to roll back the old chain's tip before replaying the new chain
// (spec.md §4.3, §5 reorg support). All writes stage into batch,
// committed by the caller alongside its own block-index removal.
func (s *StateManager) UnwindBlock(batch Batch, delta *StateDelta) error {
	for pub, acct := range delta.AccountsBefore {
		s.store.PutAccount(batch, pub, acct)
	}
	s.store.SetSupply(batch, delta.SupplyBefore)
	for _, credit := range delta.CreditsConsumed {
		s.store.PutImmatureCredit(batch, credit)
	}
	if delta.CreditScheduled != nil {
		s.store.RemoveImmatureCredit(batch, *delta.CreditScheduled)
	}
	return nil
}

