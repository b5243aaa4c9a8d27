package app

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/logs"
	"github.com/emberchain/emberd/mempool"
	"github.com/emberchain/emberd/miner"
	"github.com/emberchain/emberd/netadapter"
	"github.com/emberchain/emberd/protocol"
	"github.com/emberchain/emberd/storage"
	"github.com/pkg/errors"
)

// Config bundles the settings needed to assemble a Node: which network
// to run, where to persist state, where to listen and which peers to
// dial, and optional mining. Populated from cmd/emberd's go-flags
// struct.
type Config struct {
	Params     *chaincfg.Params
	DataDir    string
	ListenAddr string
	ConnectTo  []string
	DisableDNS bool

	Mine        bool
	MiningAddr  chainkey.PublicKey
	MineWorkers int
}

// Node wraps every emberd service the way the teacher's kaspad struct
// wraps dag/mempool/netAdapter/connectionManager behind start/stop,
// adapted from a DAG node with an RPC server to a linear chain node
// with an in-process coreapi collaborator surface instead.
type Node struct {
	cfg *Config

	store   *storage.Store
	chain   *Chain
	pool    *mempool.Mempool
	miner   *miner.Miner
	adapter *netadapter.NetAdapter
	flows   *protocol.FlowContext

	stopMining chan struct{}
	wg         sync.WaitGroup

	blockListenersMu sync.Mutex
	blockListeners   []func(block *chainmodel.Block)

	started, shutdown int32
}

// AddBlockListener registers fn to run after every block this node
// accepts, self-mined or relayed, alongside the built-in mempool
// eviction — the hook coreapi uses to fan out new-block notifications
// without app needing to import coreapi.
func (n *Node) AddBlockListener(fn func(block *chainmodel.Block)) {
	n.blockListenersMu.Lock()
	defer n.blockListenersMu.Unlock()
	n.blockListeners = append(n.blockListeners, fn)
}

// New opens storage and wires every service together. Use Start to
// begin accepting connections and (optionally) mining.
func New(cfg *Config) (*Node, error) {
	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "opening data directory")
	}

	chain, err := NewChain(cfg.Params, store)
	if err != nil {
		return nil, errors.Wrap(err, "initializing chain")
	}

	pool := mempool.New(cfg.Params)

	adapter := netadapter.New(cfg.Params, protocol.NewCodec())
	flows := protocol.NewFlowContext(cfg.Params, chain, &mempoolAdapter{pool: pool, view: chain})
	adapter.SetRouterInitializer(flows.RouterInitializer())

	n := &Node{
		cfg:     cfg,
		store:   store,
		chain:   chain,
		pool:    pool,
		adapter: adapter,
		flows:   flows,
	}

	flows.SetBlockAcceptedFn(n.onBlockAccepted)

	if cfg.Mine {
		n.miner = miner.New(cfg.Params, chain, pool, cfg.MiningAddr, cfg.MineWorkers)
	}

	return n, nil
}

// onBlockAccepted drops confirmed transactions and any transaction
// whose nonce the new chain tip has already passed from the mempool,
// called after any block (relayed or self-mined) is applied.
func (n *Node) onBlockAccepted(block *chainmodel.Block) {
	hashes := make([]chainkey.Hash, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		hashes = append(hashes, tx.Hash())
	}
	n.pool.EvictConfirmed(hashes, n.chain)

	n.blockListenersMu.Lock()
	listeners := append([]func(block *chainmodel.Block){}, n.blockListeners...)
	n.blockListenersMu.Unlock()
	for _, listen := range listeners {
		listen(block)
	}
}

// Start begins listening, dials the configured peers, and launches
// mining if enabled. Mirrors the teacher's kaspad.start: idempotent,
// guarded by an atomic started flag.
func (n *Node) Start() error {
	if !atomic.CompareAndSwapInt32(&n.started, 0, 1) {
		return nil
	}

	if n.cfg.ListenAddr != "" {
		if err := n.adapter.Listen(n.cfg.ListenAddr); err != nil {
			return errors.Wrap(err, "listening for peers")
		}
	}

	peers := n.cfg.ConnectTo
	if len(peers) == 0 && !n.cfg.DisableDNS {
		peers = n.cfg.Params.DNSSeeds
	}
	for _, addr := range peers {
		addr := addr
		go func() {
			if err := n.adapter.Dial(addr); err != nil {
				log.Warnf("dialing %s failed: %s", addr, err)
			}
		}()
	}

	if n.miner != nil {
		n.stopMining = make(chan struct{})
		n.wg.Add(1)
		go n.runMiningLoop()
	}

	log.Infof("emberd started on %s", n.cfg.Params.Name)
	return nil
}

// Stop gracefully shuts down every service. Mirrors kaspad.stop.
func (n *Node) Stop() error {
	if !atomic.CompareAndSwapInt32(&n.shutdown, 0, 1) {
		return nil
	}

	if n.stopMining != nil {
		close(n.stopMining)
	}
	n.wg.Wait()

	if err := n.adapter.Stop(); err != nil {
		log.Errorf("stopping network adapter: %s", err)
	}
	if err := n.store.Close(); err != nil {
		log.Errorf("closing store: %s", err)
	}
	return nil
}

// Chain exposes the node's chain façade, the surface coreapi queries.
func (n *Node) Chain() *Chain { return n.chain }

// Mempool exposes the node's mempool, the surface coreapi submits
// transactions through.
func (n *Node) Mempool() *mempool.Mempool { return n.pool }

// runMiningLoop repeatedly builds a template against the current tip,
// searches for a winning nonce, and submits/broadcasts the result,
// grounded on cmd/kaspaminer/mineloop.go's template-then-mine cycle,
// collapsed from its three-goroutine pipeline (separate template,
// mine, and submit loops feeding channels) into one sequential loop,
// since a single in-process miner has no network round-trip between
// template and submission to hide latency behind.
func (n *Node) runMiningLoop() {
	defer n.wg.Done()
	defer logs.RecoverPanic(log)
	for {
		select {
		case <-n.stopMining:
			return
		default:
		}

		template, err := n.miner.BuildTemplate(time.Now())
		if err != nil {
			log.Errorf("building block template: %s", err)
			time.Sleep(time.Second)
			continue
		}

		block := n.miner.Mine(template, n.stopMining)
		if block == nil {
			return
		}

		if err := n.chain.SubmitBlock(block); err != nil {
			log.Warnf("mined block rejected: %s", err)
			continue
		}
		n.onBlockAccepted(block)
		n.adapter.Broadcast(&protocol.MsgNewBlock{Block: block})
		log.Infof("mined block %s at height %d", block.Hash(), block.Header.Height)
	}
}

// mempoolAdapter adapts mempool.Mempool's two-argument Admit (it needs
// an account-state view) to protocol.MempoolManager's single-argument
// shape, so protocol never has to know the mempool's admission
// interface depends on chain state.
type mempoolAdapter struct {
	pool *mempool.Mempool
	view *Chain
}

func (a *mempoolAdapter) Admit(tx *chainmodel.Transaction) error {
	return a.pool.Admit(tx, a.view)
}

func (a *mempoolAdapter) Has(hash chainkey.Hash) bool {
	return a.pool.Has(hash)
}
