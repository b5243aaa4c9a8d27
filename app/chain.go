// Package app assembles the node: chain storage, mempool, miner, and
// the peer-to-peer protocol behind the single process kaspad.go wires
// up in the teacher lineage, adapted from a DAG node to a linear,
// account-model chain.
package app

import (
	"sync"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/consensus"
	"github.com/emberchain/emberd/logs"
	"github.com/emberchain/emberd/storage"
	"github.com/pkg/errors"
)

var log = logs.Logger("CHAN")

// ErrOrphanBlock is returned by SubmitBlock when block's parent hasn't
// been seen yet. The block is held in the orphan pool rather than
// rejected; it is replayed automatically once its parent arrives.
var ErrOrphanBlock = errors.New("block's parent is unknown, held as orphan")

const (
	orphanPoolCapacity = 100
	orphanPoolTTL      = 15 * time.Minute
)

// Chain owns block storage and account state and is the single point
// where new blocks are validated, applied, and — when a competing
// branch overtakes the current tip — reorganized onto. It implements
// both protocol.ChainManager and miner.Chain, grounded on the teacher's
// kaspad.go wiring domain/consensus behind one façade the rest of the
// node depends on.
type Chain struct {
	mu sync.Mutex

	params *chaincfg.Params
	store  *storage.Store

	blocks  *storage.ChainStore
	account *storage.AccountStore

	validator *consensus.BlockValidator
	state     *consensus.StateManager

	orphans *storage.OrphanBlockPool
}

// NewChain opens (or bootstraps, if empty) a chain over store.
func NewChain(params *chaincfg.Params, store *storage.Store) (*Chain, error) {
	blocks := storage.NewChainStore(store)
	account := storage.NewAccountStore(store)
	c := &Chain{
		params:    params,
		store:     store,
		blocks:    blocks,
		account:   account,
		validator: consensus.NewBlockValidator(params, time.Now),
		state:     consensus.NewStateManager(params, account),
		orphans:   storage.NewOrphanBlockPool(orphanPoolCapacity, orphanPoolTTL),
	}
	if err := c.ensureGenesis(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Chain) ensureGenesis() error {
	if _, _, _, err := c.blocks.Tip(); err == nil {
		return nil
	}
	genesis := c.params.GenesisBlockFn()
	batch := c.store.NewBatch()
	c.blocks.CommitBlock(batch, genesis, chainmodel.NewWorkValue())
	c.account.SetSupply(batch, 0)
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "committing genesis block")
	}
	return nil
}

// Tip implements protocol.ChainManager and miner.Chain.
func (c *Chain) Tip() (chainkey.Hash, uint64, *chainmodel.WorkValue, error) {
	return c.blocks.Tip()
}

// Supply implements miner.Chain.
func (c *Chain) Supply() (uint64, error) {
	return c.account.Supply()
}

// HeaderByHash implements protocol.ChainManager and consensus.ChainView.
func (c *Chain) HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool) {
	return c.blocks.HeaderByHash(hash)
}

// HeaderAtHeight implements protocol.ChainManager.
func (c *Chain) HeaderAtHeight(height uint64) (*chainmodel.BlockHeader, bool) {
	return c.blocks.HeaderAtHeight(height)
}

// TimestampAtHeight implements consensus.ChainView.
func (c *Chain) TimestampAtHeight(height uint64) (uint64, bool) {
	return c.blocks.TimestampAtHeight(height)
}

// BlockAtHeight implements protocol.ChainManager.
func (c *Chain) BlockAtHeight(height uint64) (*chainmodel.Block, error) {
	return c.blocks.BlockAtHeight(height)
}

// CheckpointAt implements protocol.ChainManager.
func (c *Chain) CheckpointAt(height uint64) (chainkey.Hash, bool) {
	hash, ok := c.params.Checkpoints[height]
	return hash, ok
}

// Balance and Nonce let Chain stand in directly as a
// consensus.AccountView / mempool.Mempool view argument.
func (c *Chain) Balance(account [32]byte) uint64 { return c.state.Balance(account) }
func (c *Chain) Nonce(account [32]byte) uint64   { return c.state.Nonce(account) }

// ImmatureBalance exposes the portion of account's coinbase earnings
// still awaiting maturity, already counted in total supply but not yet
// spendable, for coreapi.
func (c *Chain) ImmatureBalance(account [32]byte) uint64 { return c.state.ImmatureBalance(account) }

// TransactionsForAddress exposes the paginated address history lookup
// coreapi needs.
func (c *Chain) TransactionsForAddress(addr chainkey.PublicKey, offset, limit int) ([]chainkey.Hash, error) {
	return c.blocks.TransactionsForAddress(addr, offset, limit)
}

// BlockByHash exposes block-by-hash lookup for coreapi.
func (c *Chain) BlockByHash(hash chainkey.Hash) (*chainmodel.Block, error) {
	return c.blocks.BlockByHash(hash)
}

// TransactionByHash exposes transaction-by-hash lookup for coreapi.
func (c *Chain) TransactionByHash(hash chainkey.Hash) (*chainmodel.Transaction, *chainmodel.Block, error) {
	return c.blocks.TransactionByHash(hash)
}

// branchView adapts ChainStore's height-indexed ChainView for a
// candidate block whose ancestry runs off the indexed best chain: any
// height on the fork side (beyond the fork point) is served from
// blocks collected off that branch; heights at or below the fork point
// are shared ancestry already covered by the main index. HeaderByHash
// always falls through to storage, since every accepted block (main
// or fork) is kept reachable by hash via ChainStore.StoreBlock.
type branchView struct {
	main   *storage.ChainStore
	branch map[uint64]*chainmodel.Block
}

func (b *branchView) HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool) {
	return b.main.HeaderByHash(hash)
}

func (b *branchView) TimestampAtHeight(height uint64) (uint64, bool) {
	if blk, ok := b.branch[height]; ok {
		return blk.Header.Timestamp, true
	}
	return b.main.TimestampAtHeight(height)
}

// SubmitBlock validates and applies block, handling three cases:
// it extends the current tip directly; it extends a different known
// block and either stays a side branch or triggers a reorg once its
// cumulative work overtakes the tip's; or its parent is unknown, in
// which case it is held in the orphan pool until that parent arrives
// (spec.md §4.3 "Block acceptance", §5 "reorg support").
func (c *Chain) SubmitBlock(block *chainmodel.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitLocked(block)
}

func (c *Chain) submitLocked(block *chainmodel.Block) error {
	hash := block.Hash()
	if _, err := c.blocks.BlockByHash(hash); err == nil {
		return consensus.ErrDuplicateBlock
	}

	parentHash := block.Header.PreviousHash
	parentWork, err := c.blocks.WorkAtHash(parentHash)
	if err != nil {
		c.orphans.Add(block, time.Now())
		return ErrOrphanBlock
	}

	tipHash, _, tipWork, err := c.blocks.Tip()
	if err != nil {
		return errors.Wrap(err, "reading tip")
	}

	if parentHash == tipHash {
		if err := c.extendTip(block, parentWork); err != nil {
			return err
		}
		return c.releaseOrphans(hash)
	}

	if err := c.considerFork(block, parentWork, tipWork); err != nil {
		return err
	}
	return c.releaseOrphans(hash)
}

// releaseOrphans replays every orphan directly waiting on parent,
// recursively: each released block may itself free further children.
func (c *Chain) releaseOrphans(parent chainkey.Hash) error {
	for _, child := range c.orphans.ChildrenOf(parent) {
		if err := c.submitLocked(child); err != nil && err != ErrOrphanBlock {
			log.Warnf("replaying orphan %s failed: %s", child.Hash(), err)
		}
	}
	return nil
}

// extendTip is the simple linear-append fast path: block directly
// extends the current best chain, so it is validated, applied, and
// committed in one step with no common-ancestor search needed.
func (c *Chain) extendTip(block *chainmodel.Block, parentWork *chainmodel.WorkValue) error {
	supply, err := c.account.Supply()
	if err != nil {
		return errors.Wrap(err, "reading supply")
	}
	if err := c.validator.Validate(block, c.blocks, supply); err != nil {
		return err
	}

	batch := c.store.NewBatch()
	delta, err := c.state.ApplyBlock(batch, block)
	if err != nil {
		return err
	}

	c.blocks.CommitBlock(batch, block, parentWork)
	c.account.PutStateDelta(batch, delta)
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "committing block")
	}
	log.Infof("accepted block %s at height %d", block.Hash(), block.Header.Height)
	return nil
}

// considerFork stores block as a side-branch candidate (reachable by
// hash, not indexed as part of the best chain) and, if its cumulative
// work now exceeds the tip's, reorganizes onto it.
func (c *Chain) considerFork(block *chainmodel.Block, parentWork, tipWork *chainmodel.WorkValue) error {
	branch, err := c.collectBranch(block)
	if err != nil {
		return err
	}
	view := &branchView{main: c.blocks, branch: branch}

	supply, err := c.account.Supply()
	if err != nil {
		return errors.Wrap(err, "reading supply")
	}
	if err := c.validator.Validate(block, view, supply); err != nil {
		return err
	}

	batch := c.store.NewBatch()
	work := c.blocks.StoreBlock(batch, block, parentWork)
	if err := batch.Commit(); err != nil {
		return errors.Wrap(err, "storing fork candidate")
	}

	if work.Cmp(tipWork) <= 0 {
		log.Infof("side branch block %s at height %d does not overtake the tip", block.Hash(), block.Header.Height)
		return nil
	}

	return c.reorgTo(block.Hash())
}

// collectBranch walks block's ancestry back via PreviousHash, indexing
// each ancestor by height, until it reaches a block that is already on
// the indexed best chain. Used to build a ChainView for validating a
// fork candidate whose own height index doesn't exist yet.
func (c *Chain) collectBranch(tip *chainmodel.Block) (map[uint64]*chainmodel.Block, error) {
	branch := map[uint64]*chainmodel.Block{tip.Header.Height: tip}
	hash := tip.Header.PreviousHash
	for {
		if c.blocks.IsMainChainBlock(hash) {
			return branch, nil
		}
		block, err := c.blocks.BlockByHash(hash)
		if err != nil {
			return nil, errors.Wrap(consensus.ErrUnknownParent, err.Error())
		}
		branch[block.Header.Height] = block
		if block.Header.Height == 0 {
			return branch, nil
		}
		hash = block.Header.PreviousHash
	}
}

// reorgTo makes newTip's branch the best chain: unwinds the current
// chain down to the common ancestor, then replays the new branch
// forward from there, grounded on the teacher's blockdag reorg walk,
// simplified from a DAG's virtual-block recomputation to a linear
// unwind/reapply over StateDelta snapshots. Each step's state change
// and block-index change share a single storage.Batch, so a crash
// mid-reorg never leaves applied account state without its indexed
// block (spec.md §4.3 "Application is atomic ... a single batched
// write").
func (c *Chain) reorgTo(newTip chainkey.Hash) error {
	ancestorHeight, newChain, err := c.blocks.WalkToMainChain(newTip)
	if err != nil {
		return errors.Wrap(err, "finding reorg common ancestor")
	}

	tipHash, tipHeight, _, err := c.blocks.Tip()
	if err != nil {
		return err
	}

	for height := tipHeight; height > ancestorHeight; height-- {
		block, err := c.blocks.BlockByHash(tipHash)
		if err != nil {
			return errors.Wrapf(err, "reading old-chain block at height %d during unwind", height)
		}
		delta, err := c.account.TakeStateDelta(height)
		if err != nil {
			return errors.Wrapf(err, "reading state delta at height %d", height)
		}
		batch := c.store.NewBatch()
		if err := c.state.UnwindBlock(batch, delta); err != nil {
			return errors.Wrapf(err, "unwinding height %d", height)
		}
		c.blocks.RemoveTipBlock(batch, block)
		if err := batch.Commit(); err != nil {
			return errors.Wrapf(err, "removing old tip at height %d", height)
		}
		tipHash = block.Header.PreviousHash
	}

	for _, block := range newChain {
		batch := c.store.NewBatch()
		delta, err := c.state.ApplyBlock(batch, block)
		if err != nil {
			return errors.Wrapf(err, "reapplying height %d during reorg", block.Header.Height)
		}
		c.blocks.IndexMainChainBlock(batch, block)
		c.account.PutStateDelta(batch, delta)
		if err := batch.Commit(); err != nil {
			return errors.Wrapf(err, "indexing reorged block at height %d", block.Header.Height)
		}
	}

	log.Warnf("reorganized to new tip %s, common ancestor at height %d, %d blocks replayed",
		newTip, ancestorHeight, len(newChain))
	return nil
}
