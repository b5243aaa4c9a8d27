// Package mempool implements the node's pending-transaction pool:
// fee-density-ordered admission, replace-by-fee, per-sender nonce
// tracking, and selection for mining (spec.md §4.7), grounded on the
// teacher's domain/miningmanager/mempool transactions_pool.go.
package mempool

import (
	"sort"
	"sync"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/consensus"
	"github.com/pkg/errors"
)

// entry is one pooled transaction plus its pool bookkeeping.
type entry struct {
	tx         *chainmodel.Transaction
	feeDensity float64
	receivedAt time.Time
}

// Mempool holds not-yet-confirmed transactions. All exported mutating
// and reading methods take the internal mutex; callers never see a
// torn view across the two indexes (all-transactions map and
// per-sender nonce map; the fee priority order is built from them on
// demand), the same lockstep
// discipline the teacher's transactionsPool documents with its
// "must be called with the mempool mutex locked" comments.
type Mempool struct {
	mu     sync.Mutex
	params *chaincfg.Params
	txVal  *consensus.TransactionValidator

	byHash   map[chainkey.Hash]*entry
	bySender map[chainkey.PublicKey]map[uint64]*entry // sender -> nonce -> entry
}

// New builds an empty mempool for params' network. The account view
// transactions are validated against is passed to each Admit call.
func New(params *chaincfg.Params) *Mempool {
	return &Mempool{
		params:   params,
		txVal:    consensus.NewTransactionValidator(params),
		byHash:   make(map[chainkey.Hash]*entry),
		bySender: make(map[chainkey.PublicKey]map[uint64]*entry),
	}
}

// Len returns the number of pooled transactions.
func (mp *Mempool) Len() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.byHash)
}

// Has reports whether a transaction hash is already pooled.
func (mp *Mempool) Has(hash chainkey.Hash) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	_, ok := mp.byHash[hash]
	return ok
}

// pendingDebitsLocked sums amount+fee for every pooled transaction
// from sender other than excluding, the "already-pending" balance the
// economic admission check must account for (spec.md §4.7 step 8).
func (mp *Mempool) pendingDebitsLocked(sender chainkey.PublicKey, excludingNonce uint64, excluded bool) uint64 {
	var total uint64
	for nonce, e := range mp.bySender[sender] {
		if excluded && nonce == excludingNonce {
			continue
		}
		total += e.tx.Amount + e.tx.Fee
	}
	return total
}

// Admit runs the full spec.md §4.7 admission pipeline against tx.
// view supplies the sender's current on-chain balance/nonce.
func (mp *Mempool) Admit(tx *chainmodel.Transaction, view consensus.AccountView) error {
	// 1. Structural + signature validation.
	if err := mp.txVal.ValidateInIsolation(tx); err != nil {
		return err
	}
	if tx.IsCoinbase() {
		return errors.New("mempool: coinbase transactions are not admissible")
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	hash := tx.Hash()
	if _, exists := mp.byHash[hash]; exists {
		return errors.Wrap(consensus.ErrDuplicateTransaction, hash.String())
	}

	// 2, 3: chain id (folded into ValidateInIsolation) and nonce gap,
	// balance sufficiency via ValidateInContext.
	existing, hasExisting := mp.bySender[tx.From][tx.Nonce]
	pendingDebits := mp.pendingDebitsLocked(tx.From, tx.Nonce, hasExisting)
	if err := mp.txVal.ValidateInContext(tx, view, pendingDebits); err != nil {
		return err
	}

	// 4. Fee-density floor, a separate admission-time requirement from
	// ValidateInIsolation's additive MinRelayFee+FeePerByte*size check.
	newDensity := tx.FeeDensity()
	if newDensity < mp.params.MinFeeDensity {
		return errors.Errorf("mempool: fee density %.4f below minimum %.4f", newDensity, mp.params.MinFeeDensity)
	}

	// 5. Per-sender count.
	if !hasExisting && len(mp.bySender[tx.From]) >= mp.params.MaxTransactionsPerSender {
		return errors.Errorf("mempool: sender already has %d pooled transactions, max %d",
			len(mp.bySender[tx.From]), mp.params.MaxTransactionsPerSender)
	}

	// 6. Replace-by-fee against an existing (sender, nonce) entry.
	if hasExisting {
		minRequired := existing.feeDensity * (1 + float64(mp.params.RBFMinIncreasePercent)/100)
		if newDensity < minRequired {
			return errors.Errorf("mempool: replacement fee density %.4f below required %.4f (1.1x of %.4f)",
				newDensity, minRequired, existing.feeDensity)
		}
		mp.removeLocked(existing.tx.Hash())
	}

	// 7. Total-pool cap, evicting the lowest fee-density entry.
	if len(mp.byHash) >= mp.params.MaxMempoolTransactions {
		lowest := mp.lowestLocked()
		if lowest == nil || newDensity <= lowest.feeDensity {
			return errors.Errorf("mempool: full at %d transactions and new fee density %.4f does not exceed lowest %.4f",
				mp.params.MaxMempoolTransactions, newDensity, lowestDensityOrZero(lowest))
		}
		mp.removeLocked(lowest.tx.Hash())
	}

	mp.insertLocked(tx, newDensity)
	return nil
}

func lowestDensityOrZero(e *entry) float64 {
	if e == nil {
		return 0
	}
	return e.feeDensity
}

func (mp *Mempool) insertLocked(tx *chainmodel.Transaction, feeDensity float64) {
	e := &entry{tx: tx, feeDensity: feeDensity, receivedAt: time.Now()}
	mp.byHash[tx.Hash()] = e
	if mp.bySender[tx.From] == nil {
		mp.bySender[tx.From] = make(map[uint64]*entry)
	}
	mp.bySender[tx.From][tx.Nonce] = e
}

func (mp *Mempool) removeLocked(hash chainkey.Hash) {
	e, ok := mp.byHash[hash]
	if !ok {
		return
	}
	delete(mp.byHash, hash)
	delete(mp.bySender[e.tx.From], e.tx.Nonce)
	if len(mp.bySender[e.tx.From]) == 0 {
		delete(mp.bySender, e.tx.From)
	}
}

func (mp *Mempool) lowestLocked() *entry {
	var lowest *entry
	for _, e := range mp.byHash {
		if lowest == nil || e.feeDensity < lowest.feeDensity ||
			(e.feeDensity == lowest.feeDensity && e.receivedAt.Before(lowest.receivedAt)) {
			lowest = e
		}
	}
	return lowest
}

// Remove drops a transaction hash from the pool unconditionally, used
// after a block confirms it.
func (mp *Mempool) Remove(hash chainkey.Hash) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	mp.removeLocked(hash)
}

// EvictConfirmed removes every included hash, then drops any
// remaining pooled transaction whose nonce now sits below the
// sender's new on-chain nonce (spec.md §4.7 "Eviction on confirmation").
func (mp *Mempool) EvictConfirmed(includedHashes []chainkey.Hash, view consensus.AccountView) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	for _, hash := range includedHashes {
		mp.removeLocked(hash)
	}

	for sender, byNonce := range mp.bySender {
		currentNonce := view.Nonce(sender)
		for nonce, e := range byNonce {
			if nonce < currentNonce {
				mp.removeLocked(e.tx.Hash())
			}
		}
	}
}

// SelectForMining returns, in priority order (fee density desc,
// received-at asc), transactions to include in a new block, skipping
// any sender whose next expected nonce isn't yet in the candidate set,
// until maxBytes or maxCount is reached (spec.md §4.7 "Selection for
// mining"). view supplies each sender's true on-chain expected nonce,
// so a pooled transaction admitted under the mempool's nonce-gap
// tolerance is never selected into a template ahead of the nonce that
// actually unlocks it on-chain. The caller prepends the coinbase.
func (mp *Mempool) SelectForMining(maxBytes, maxCount int, view consensus.AccountView) []*chainmodel.Transaction {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	ordered := make([]*entry, 0, len(mp.byHash))
	for _, e := range mp.byHash {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].feeDensity != ordered[j].feeDensity {
			return ordered[i].feeDensity > ordered[j].feeDensity
		}
		return ordered[i].receivedAt.Before(ordered[j].receivedAt)
	})

	nextExpected := make(map[chainkey.PublicKey]uint64)
	expectedNonce := func(sender chainkey.PublicKey) uint64 {
		if n, ok := nextExpected[sender]; ok {
			return n
		}
		return view.Nonce(sender)
	}

	var selected []*chainmodel.Transaction
	totalBytes := 0
	for _, e := range ordered {
		if len(selected) >= maxCount {
			break
		}
		if e.tx.Nonce != expectedNonce(e.tx.From) {
			continue
		}
		size := e.tx.SerializedSize()
		if totalBytes+size > maxBytes {
			continue
		}
		selected = append(selected, e.tx)
		totalBytes += size
		nextExpected[e.tx.From] = e.tx.Nonce + 1
	}
	return selected
}
