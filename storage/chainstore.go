package storage

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// ChainStore indexes committed blocks by hash and height and tracks
// the best tip by cumulative work, grounded on the teacher's
// height-indexed block store plus blockdag's common-ancestor reorg
// walk, simplified from a DAG to a single best chain.
type ChainStore struct {
	store *Store
}

// NewChainStore builds a ChainStore over store.
func NewChainStore(store *Store) *ChainStore {
	return &ChainStore{store: store}
}

func heightKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return buf[:]
}

// HeaderByHash implements consensus.ChainView.
func (c *ChainStore) HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool) {
	block, err := c.BlockByHash(hash)
	if err != nil {
		return nil, false
	}
	return &block.Header, true
}

// TimestampAtHeight implements consensus.ChainView.
func (c *ChainStore) TimestampAtHeight(height uint64) (uint64, bool) {
	hash, err := c.HashAtHeight(height)
	if err != nil {
		return 0, false
	}
	header, ok := c.HeaderByHash(hash)
	if !ok {
		return 0, false
	}
	return header.Timestamp, true
}

// HashAtHeight returns the best-chain block hash at height.
func (c *ChainStore) HashAtHeight(height uint64) (chainkey.Hash, error) {
	v, err := c.store.get(bucketHeightIndex, heightKey(height))
	if err != nil {
		return chainkey.Hash{}, err
	}
	var hash chainkey.Hash
	copy(hash[:], v)
	return hash, nil
}

// HeaderAtHeight returns the best-chain header at height.
func (c *ChainStore) HeaderAtHeight(height uint64) (*chainmodel.BlockHeader, bool) {
	hash, err := c.HashAtHeight(height)
	if err != nil {
		return nil, false
	}
	return c.HeaderByHash(hash)
}

// BlockAtHeight returns the best-chain block at height.
func (c *ChainStore) BlockAtHeight(height uint64) (*chainmodel.Block, error) {
	hash, err := c.HashAtHeight(height)
	if err != nil {
		return nil, err
	}
	return c.BlockByHash(hash)
}

// HeightOfHash returns the height a committed block hash was stored at.
func (c *ChainStore) HeightOfHash(hash chainkey.Hash) (uint64, error) {
	v, err := c.store.get(bucketHashIndex, hash[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// BlockByHash fetches and decodes a committed block.
func (c *ChainStore) BlockByHash(hash chainkey.Hash) (*chainmodel.Block, error) {
	v, err := c.store.get(bucketBlocks, hash[:])
	if err != nil {
		return nil, err
	}
	return decodeBlock(v)
}

// Tip returns the current best block's hash, height, and cumulative work.
func (c *ChainStore) Tip() (chainkey.Hash, uint64, *chainmodel.WorkValue, error) {
	hashBytes, err := c.store.get(bucketMeta, []byte("tip-hash"))
	if err != nil {
		return chainkey.Hash{}, 0, nil, err
	}
	var hash chainkey.Hash
	copy(hash[:], hashBytes)
	height, err := c.HeightOfHash(hash)
	if err != nil {
		return chainkey.Hash{}, 0, nil, err
	}
	work, err := c.WorkAtHash(hash)
	if err != nil {
		return chainkey.Hash{}, 0, nil, err
	}
	return hash, height, work, nil
}

// WorkAtHash returns the cumulative work recorded for a committed block.
func (c *ChainStore) WorkAtHash(hash chainkey.Hash) (*chainmodel.WorkValue, error) {
	v, err := c.store.get(bucketWorkIndex, hash[:])
	if err != nil {
		return nil, err
	}
	return chainmodel.WorkValueFromBytes(v), nil
}

// StoreBlock stages a block's body and cumulative work into batch
// without touching the height/hash index or the tip pointer, so a
// fork candidate can be held (reachable by hash, for the common-
// ancestor walk) without disturbing the active best chain until a
// reorg actually promotes it. Grounded on the teacher's blockdag
// storing every accepted block regardless of which side of a reorg it
// ends up on.
func (c *ChainStore) StoreBlock(batch *Batch, block *chainmodel.Block, parentWork *chainmodel.WorkValue) *chainmodel.WorkValue {
	hash := block.Hash()
	batch.Put(bucketBlocks, hash[:], encodeBlock(block))
	work := parentWork.Add(chainmodel.Work(block.Header.Difficulty))
	batch.Put(bucketWorkIndex, hash[:], work.Bytes())
	return work
}

// IndexMainChainBlock stages the height/hash index entries and new tip
// pointer for a block that directly extends the current best chain.
// The block's body must already be staged via StoreBlock (or a prior
// call to CommitBlock).
func (c *ChainStore) IndexMainChainBlock(batch *Batch, block *chainmodel.Block) {
	hash := block.Hash()
	batch.Put(bucketHeightIndex, heightKey(block.Header.Height), hash[:])
	batch.Put(bucketHashIndex, hash[:], heightKey(block.Header.Height))
	batch.Put(bucketMeta, []byte("tip-hash"), hash[:])
	c.indexAddresses(batch, block)
}

// IsMainChainBlock reports whether hash is part of the currently
// indexed best chain (as opposed to a stored-but-unpromoted fork
// block).
func (c *ChainStore) IsMainChainBlock(hash chainkey.Hash) bool {
	height, err := c.HeightOfHash(hash)
	if err != nil {
		return false
	}
	atHeight, err := c.HashAtHeight(height)
	if err != nil {
		return false
	}
	return atHeight == hash
}

// CommitBlock stages a new best-chain block into batch: the block body,
// its height/hash index entries, its cumulative work, and the new tip
// pointer. Caller commits batch together with any consensus.StateDelta
// writes for atomicity (spec.md §4.3). Equivalent to StoreBlock
// followed by IndexMainChainBlock, kept for the common linear-append
// fast path where there is no competing fork to consider.
func (c *ChainStore) CommitBlock(batch *Batch, block *chainmodel.Block, parentWork *chainmodel.WorkValue) {
	c.StoreBlock(batch, block, parentWork)
	c.IndexMainChainBlock(batch, block)
}

func (c *ChainStore) indexAddresses(batch *Batch, block *chainmodel.Block) {
	hash := block.Hash()
	for i, tx := range block.Transactions {
		txHash := tx.Hash()
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		batch.Put(bucketTxIndex, txHash[:], append(append([]byte{}, hash[:]...), idx[:]...))

		for _, addr := range []chainkey.PublicKey{tx.From, tx.To} {
			if addr.IsZero() {
				continue
			}
			addrKey := append(append(append([]byte{}, addr[:]...), heightKey(block.Header.Height)...), idx[:]...)
			batch.Put(bucketAddrIndex, addrKey, txHash[:])
		}
	}
}

// TransactionsForAddress returns, in ascending (height, index) order,
// the hashes of transactions touching addr — the paginated address
// history lookup coreapi exposes (spec.md's external collaborator
// surface). limit bounds the number of results; offset skips that
// many matches from the start.
func (c *ChainStore) TransactionsForAddress(addr chainkey.PublicKey, offset, limit int) ([]chainkey.Hash, error) {
	iter := c.store.iteratePrefix(append(append([]byte{}, bucketAddrIndex...), addr[:]...))
	defer iter.Release()

	var results []chainkey.Hash
	skipped := 0
	for iter.Next() {
		if skipped < offset {
			skipped++
			continue
		}
		if len(results) >= limit {
			break
		}
		var hash chainkey.Hash
		copy(hash[:], iter.Value())
		results = append(results, hash)
	}
	return results, iter.Error()
}

// TransactionByHash looks up a committed transaction by its content
// hash via the tx index populated by indexAddresses, returning the
// transaction and the block that contains it.
func (c *ChainStore) TransactionByHash(hash chainkey.Hash) (*chainmodel.Transaction, *chainmodel.Block, error) {
	value, err := c.store.get(bucketTxIndex, hash[:])
	if err != nil {
		return nil, nil, err
	}
	if len(value) != len(chainkey.Hash{})+4 {
		return nil, nil, errors.New("corrupt tx index entry")
	}
	var blockHash chainkey.Hash
	copy(blockHash[:], value[:len(chainkey.Hash{})])
	idx := binary.BigEndian.Uint32(value[len(chainkey.Hash{}):])

	block, err := c.BlockByHash(blockHash)
	if err != nil {
		return nil, nil, err
	}
	if int(idx) >= len(block.Transactions) {
		return nil, nil, errors.New("corrupt tx index entry: index out of range")
	}
	return block.Transactions[idx], block, nil
}

// RemoveTipBlock stages the removal of the current tip's height/hash
// index entries during a reorg unwind; the block body itself is left
// in place (still reachable by hash) so RPC/explorer-style history
// lookups keep working for orphaned blocks.
func (c *ChainStore) RemoveTipBlock(batch *Batch, block *chainmodel.Block) {
	hash := block.Hash()
	batch.Delete(bucketHeightIndex, heightKey(block.Header.Height))
	batch.Delete(bucketHashIndex, hash[:])
	batch.Put(bucketMeta, []byte("tip-hash"), block.Header.PreviousHash[:])
}

// FindCommonAncestor walks both chains back by height until their
// hashes match, returning the ancestor's height. Grounded on the
// teacher's blockdag common-ancestor walk used before a reorg's
// unwind/reapply sequence.
func (c *ChainStore) FindCommonAncestor(hashA, hashB chainkey.Hash) (uint64, error) {
	heightA, err := c.HeightOfHash(hashA)
	if err != nil {
		return 0, err
	}
	heightB, err := c.HeightOfHash(hashB)
	if err != nil {
		return 0, err
	}
	for heightA > heightB {
		block, err := c.BlockByHash(hashA)
		if err != nil {
			return 0, err
		}
		hashA = block.Header.PreviousHash
		heightA--
	}
	for heightB > heightA {
		block, err := c.BlockByHash(hashB)
		if err != nil {
			return 0, err
		}
		hashB = block.Header.PreviousHash
		heightB--
	}
	for hashA != hashB {
		if heightA == 0 {
			return 0, errors.New("no common ancestor found (chains share no genesis)")
		}
		blockA, err := c.BlockByHash(hashA)
		if err != nil {
			return 0, err
		}
		blockB, err := c.BlockByHash(hashB)
		if err != nil {
			return 0, err
		}
		hashA = blockA.Header.PreviousHash
		hashB = blockB.Header.PreviousHash
		heightA--
	}
	return heightA, nil
}

// ErrNoCommonAncestor is returned by WalkToMainChain if the candidate
// branch cannot be traced back to a block currently on the indexed
// best chain (e.g. its chain diverges before genesis, or an ancestor
// is missing).
var ErrNoCommonAncestor = errors.New("candidate branch shares no ancestor with the indexed chain")

// WalkToMainChain walks backward from candidateTip via PreviousHash
// until it reaches a block that IsMainChainBlock, collecting every
// block visited along the way (the candidate branch is not required
// to be height-indexed, since a competing fork is stored by StoreBlock
// alone until it is promoted). It returns the common ancestor's
// height and the candidate's blocks in ascending height order, ready
// to be reapplied after the old chain is unwound to that height.
// Grounded on the teacher's blockdag common-ancestor walk, adapted
// from a height-indexed two-chain walk (both sides always indexed, in
// a DAG) to a single indexed chain plus an unindexed side branch,
// since emberd keeps only one chain's height index at a time.
func (c *ChainStore) WalkToMainChain(candidateTip chainkey.Hash) (uint64, []*chainmodel.Block, error) {
	var branch []*chainmodel.Block
	hash := candidateTip
	for {
		if c.IsMainChainBlock(hash) {
			height, err := c.HeightOfHash(hash)
			if err != nil {
				return 0, nil, err
			}
			for i, j := 0, len(branch)-1; i < j; i, j = i+1, j-1 {
				branch[i], branch[j] = branch[j], branch[i]
			}
			return height, branch, nil
		}
		block, err := c.BlockByHash(hash)
		if err != nil {
			return 0, nil, errors.Wrap(ErrNoCommonAncestor, err.Error())
		}
		branch = append(branch, block)
		if block.Header.Height == 0 {
			return 0, nil, ErrNoCommonAncestor
		}
		hash = block.Header.PreviousHash
	}
}

func encodeBlock(block *chainmodel.Block) []byte {
	buf := &bytes.Buffer{}
	_ = block.Header.Encode(buf)
	_ = writeVarUint(buf, uint64(len(block.Transactions)))
	for _, tx := range block.Transactions {
		txBytes := tx.Serialize()
		_ = writeVarUint(buf, uint64(len(txBytes)))
		buf.Write(txBytes)
	}
	return buf.Bytes()
}

func decodeBlock(data []byte) (*chainmodel.Block, error) {
	r := bytes.NewReader(data)
	header, err := chainmodel.DecodeBlockHeader(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding block header")
	}
	count, err := readVarUint(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding transaction count")
	}
	txs := make([]*chainmodel.Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		size, err := readVarUint(r)
		if err != nil {
			return nil, errors.Wrap(err, "decoding transaction size")
		}
		txBytes := make([]byte, size)
		if _, err := io.ReadFull(r, txBytes); err != nil {
			return nil, errors.Wrap(err, "reading transaction bytes")
		}
		tx, err := chainmodel.ParseTransaction(txBytes)
		if err != nil {
			return nil, errors.Wrap(err, "parsing transaction")
		}
		txs = append(txs, tx)
	}
	return &chainmodel.Block{Header: *header, Transactions: txs}, nil
}
