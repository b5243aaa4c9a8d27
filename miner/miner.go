// Package miner builds block templates and searches for a winning
// nonce, grounded on the teacher's mining.BlockTemplate shape and
// cmd/kaspaminer's parallel nonce-search/hash-rate-logging loop.
package miner

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/consensus"
	"github.com/emberchain/emberd/logs"
	"github.com/emberchain/emberd/mempool"
)

var log = logs.Logger("MINR")

// Chain is the surface the miner needs from the node to build a
// template: consensus.ChainView plus account lookups
// (consensus.AccountView), the current tip, and cumulative supply.
type Chain interface {
	consensus.ChainView
	consensus.AccountView
	Tip() (chainkey.Hash, uint64, *chainmodel.WorkValue, error)
	Supply() (uint64, error)
}

// Template is an unsolved block plus the difficulty manager's
// expected-difficulty bookkeeping already applied, ready for nonce
// search (analogous to the teacher's mining.BlockTemplate).
type Template struct {
	Block *chainmodel.Block
}

// Miner assembles block templates from the mempool and searches for a
// winning nonce across a fixed worker pool.
type Miner struct {
	params     *chaincfg.Params
	chain      Chain
	pool       *mempool.Mempool
	difficulty *consensus.DifficultyManager
	coinbase   *consensus.CoinbaseManager
	payTo      chainkey.PublicKey
	workers    int

	hashesTried uint64
}

// New builds a Miner that pays block rewards to payTo using workerCount
// parallel nonce-search goroutines (at least 1).
func New(params *chaincfg.Params, chain Chain, pool *mempool.Mempool, payTo chainkey.PublicKey, workerCount int) *Miner {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Miner{
		params:     params,
		chain:      chain,
		pool:       pool,
		difficulty: consensus.NewDifficultyManager(params),
		coinbase:   consensus.NewCoinbaseManager(params),
		payTo:      payTo,
		workers:    workerCount,
	}
}

// BuildTemplate assembles an unsolved block extending the current tip:
// expected difficulty, mempool-selected transactions, and a coinbase
// paying subsidy+fees to the miner's address.
func (m *Miner) BuildTemplate(now time.Time) (*Template, error) {
	tipHash, tipHeight, _, err := m.chain.Tip()
	if err != nil {
		return nil, err
	}
	parentHeader, ok := m.chain.HeaderByHash(tipHash)
	if !ok {
		return nil, consensus.ErrUnknownParent
	}

	newHeight := tipHeight + 1
	difficulty := m.difficulty.ExpectedDifficulty(tipHeight, parentHeader.Difficulty, m.chain)

	maxBodyBytes := m.params.MaxBlockBytes - chainmodel.HeaderSize
	txs := m.pool.SelectForMining(maxBodyBytes, m.params.MaxBlockTxs-1, m.chain)

	var collectedFees uint64
	for _, tx := range txs {
		collectedFees += tx.Fee
	}
	coinbaseTx, err := m.coinbase.ExpectedCoinbase(newHeight, m.payTo, collectedFees)
	if err != nil {
		return nil, err
	}

	allTxs := make([]*chainmodel.Transaction, 0, len(txs)+1)
	allTxs = append(allTxs, coinbaseTx)
	allTxs = append(allTxs, txs...)

	block := &chainmodel.Block{
		Header: chainmodel.BlockHeader{
			Version:      1,
			PreviousHash: tipHash,
			Timestamp:    uint64(now.Unix()),
			Difficulty:   difficulty,
			Height:       newHeight,
		},
		Transactions: allTxs,
	}
	block.Header.MerkleRoot = block.ComputeMerkleRoot()

	if err := block.CheckSize(); err != nil {
		return nil, err
	}
	return &Template{Block: block}, nil
}

// Mine searches for a nonce that satisfies template's difficulty
// using m.workers parallel goroutines, each trying a disjoint
// nonce stride. It returns the solved block, or nil if stop fires
// first.
func (m *Miner) Mine(template *Template, stop <-chan struct{}) *chainmodel.Block {
	var found int32
	var winner *chainmodel.Block
	var mu sync.Mutex
	var wg sync.WaitGroup

	for worker := 0; worker < m.workers; worker++ {
		wg.Add(1)
		go func(start uint64, stride uint64) {
			defer wg.Done()
			header := template.Block.Header
			nonce := start
			for atomic.LoadInt32(&found) == 0 {
				select {
				case <-stop:
					return
				default:
				}
				header.Nonce = nonce
				atomic.AddUint64(&m.hashesTried, 1)
				if chainmodel.HashMeetsDifficulty(header.Hash(), header.Difficulty) {
					if atomic.CompareAndSwapInt32(&found, 0, 1) {
						mu.Lock()
						solved := *template.Block
						solved.Header = header
						winner = &solved
						mu.Unlock()
					}
					return
				}
				nonce += stride
			}
		}(uint64(worker), uint64(m.workers))
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return winner
}

// HashesTried returns and resets the number of nonces tried since the
// last call, the same sampling-window counter the teacher's
// logHashRate loop drains every tick.
func (m *Miner) HashesTried() uint64 {
	return atomic.SwapUint64(&m.hashesTried, 0)
}

// LogHashRate periodically logs the miner's current hash rate until
// stop fires, mirroring cmd/kaspaminer's logHashRate loop.
func (m *Miner) LogHashRate(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastCheck := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			tried := m.HashesTried()
			now := time.Now()
			rate := float64(tried) / now.Sub(lastCheck).Seconds() / 1000
			log.Infof("current hash rate is %.2f Khash/s", rate)
			lastCheck = now
		}
	}
}
