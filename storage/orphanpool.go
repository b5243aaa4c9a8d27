package storage

import (
	"sync"
	"time"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
)

// orphanEntry is one block held in the pool awaiting its parent.
type orphanEntry struct {
	block     *chainmodel.Block
	expiresAt time.Time
}

// OrphanBlockPool holds blocks received out of order — their parent
// hasn't been seen yet — until the parent arrives or the entry
// expires. Bounded LRU eviction plus a fixed TTL, grounded on the
// teacher's orphan_pool.go (domain/miningmanager/mempool), adapted
// from orphan transactions awaiting a missing input to orphan blocks
// awaiting a missing parent (decided Open Question: capacity 100,
// 15-minute TTL).
type OrphanBlockPool struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	byHash   map[chainkey.Hash]*orphanEntry
	// byParent indexes orphans by the parent hash they're waiting on,
	// so a newly-accepted block can find and release its children.
	byParent map[chainkey.Hash][]chainkey.Hash
	order    []chainkey.Hash // insertion order, oldest first, for LRU eviction
}

// NewOrphanBlockPool builds a pool with the given capacity and TTL.
func NewOrphanBlockPool(capacity int, ttl time.Duration) *OrphanBlockPool {
	return &OrphanBlockPool{
		capacity: capacity,
		ttl:      ttl,
		byHash:   make(map[chainkey.Hash]*orphanEntry),
		byParent: make(map[chainkey.Hash][]chainkey.Hash),
	}
}

// Add inserts block into the pool, evicting the oldest entry first if
// the pool is already at capacity.
func (p *OrphanBlockPool) Add(block *chainmodel.Block, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	hash := block.Hash()
	if _, exists := p.byHash[hash]; exists {
		return
	}
	if len(p.order) >= p.capacity {
		p.evictOldestLocked()
	}

	p.byHash[hash] = &orphanEntry{block: block, expiresAt: now.Add(p.ttl)}
	p.byParent[block.Header.PreviousHash] = append(p.byParent[block.Header.PreviousHash], hash)
	p.order = append(p.order, hash)
}

func (p *OrphanBlockPool) evictOldestLocked() {
	if len(p.order) == 0 {
		return
	}
	oldest := p.order[0]
	p.order = p.order[1:]
	p.removeLocked(oldest)
}

func (p *OrphanBlockPool) removeLocked(hash chainkey.Hash) {
	entry, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	parent := entry.block.Header.PreviousHash
	siblings := p.byParent[parent]
	for i, h := range siblings {
		if h == hash {
			p.byParent[parent] = append(siblings[:i], siblings[i+1:]...)
			break
		}
	}
	if len(p.byParent[parent]) == 0 {
		delete(p.byParent, parent)
	}
}

// ExpireOlderThan drops every entry whose TTL has elapsed as of now.
func (p *OrphanBlockPool) ExpireOlderThan(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var kept []chainkey.Hash
	for _, hash := range p.order {
		entry, ok := p.byHash[hash]
		if !ok {
			continue
		}
		if now.After(entry.expiresAt) {
			p.removeLocked(hash)
			continue
		}
		kept = append(kept, hash)
	}
	p.order = kept
}

// ChildrenOf returns and removes every orphan directly waiting on
// parentHash, for the caller to now validate and apply in turn.
func (p *OrphanBlockPool) ChildrenOf(parentHash chainkey.Hash) []*chainmodel.Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	hashes := p.byParent[parentHash]
	if len(hashes) == 0 {
		return nil
	}
	blocks := make([]*chainmodel.Block, 0, len(hashes))
	for _, h := range append([]chainkey.Hash{}, hashes...) {
		if entry, ok := p.byHash[h]; ok {
			blocks = append(blocks, entry.block)
		}
		p.removeOrderLocked(h)
		delete(p.byHash, h)
	}
	delete(p.byParent, parentHash)
	return blocks
}

func (p *OrphanBlockPool) removeOrderLocked(hash chainkey.Hash) {
	for i, h := range p.order {
		if h == hash {
			p.order = append(p.order[:i], p.order[i+1:]...)
			return
		}
	}
}

// Len returns the current number of orphan blocks held.
func (p *OrphanBlockPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}
