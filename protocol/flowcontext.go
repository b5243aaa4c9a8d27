package protocol

import (
	"sync"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/logs"
	"github.com/emberchain/emberd/netadapter"
)

var log = logs.Logger("PROT")

// ChainManager is the node-state surface flows need: tip/header
// lookups for sync, and block submission that performs full
// validation, application, and reorg handling. Implemented by app's
// node wiring over storage+consensus.
type ChainManager interface {
	Tip() (chainkey.Hash, uint64, *chainmodel.WorkValue, error)
	HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool)
	HeaderAtHeight(height uint64) (*chainmodel.BlockHeader, bool)
	BlockAtHeight(height uint64) (*chainmodel.Block, error)
	SubmitBlock(block *chainmodel.Block) error
	CheckpointAt(height uint64) (chainkey.Hash, bool)
}

// MempoolManager is the mempool surface flows need.
type MempoolManager interface {
	Admit(tx *chainmodel.Transaction) error
	Has(hash chainkey.Hash) bool
}

// FlowContext holds the state shared across every peer's flows: chain
// and mempool handles, the peer registry, and IBD coordination.
// Grounded on the teacher's app/protocol/flowcontext.FlowContext,
// adapted from a DAG+UTXO mempool to a single-chain ChainManager and
// account-model MempoolManager.
type FlowContext struct {
	params  *chaincfg.Params
	chain   ChainManager
	mempool MempoolManager

	peers     *PeerManager
	seenTx    *SeenCache
	seenBlock *SeenCache

	ibdMu             sync.Mutex
	inIBD             bool
	ibdPeer           *Peer
	headersDeliveryFn func(peer *Peer, headers []*chainmodel.BlockHeader)
	blocksDeliveryFn  func(peer *Peer, blocks []*chainmodel.Block)

	blockAcceptedFn func(block *chainmodel.Block)
}

// SetBlockAcceptedFn registers a callback run after a relayed block is
// successfully submitted to the chain, letting the node wiring evict
// now-confirmed transactions from the mempool without this package
// needing to know about mempool at all.
func (f *FlowContext) SetBlockAcceptedFn(fn func(block *chainmodel.Block)) {
	f.blockAcceptedFn = fn
}

// NewFlowContext builds a FlowContext over chain and mempool.
func NewFlowContext(params *chaincfg.Params, chain ChainManager, mempool MempoolManager) *FlowContext {
	return &FlowContext{
		params:    params,
		chain:     chain,
		mempool:   mempool,
		peers:     NewPeerManager(params),
		seenTx:    NewSeenCache(10 * time.Minute),
		seenBlock: NewSeenCache(10 * time.Minute),
	}
}

// Peers returns the peer registry.
func (f *FlowContext) Peers() *PeerManager { return f.peers }

// RouterInitializer builds the netadapter.RouterInitializer that wires
// every flow onto a freshly (dis)connected peer.
func (f *FlowContext) RouterInitializer() netadapter.RouterInitializer {
	return func(conn *netadapter.Connection) (*netadapter.Router, error) {
		router := netadapter.NewRouter()
		peer, err := f.peers.Register(conn, router)
		if err != nil {
			return nil, err
		}
		conn.SetOnDisconnectedHandler(func() {
			f.peers.Unregister(peer)
		})
		f.registerFlows(router, peer)
		return router, nil
	}
}

func (f *FlowContext) registerFlows(router *netadapter.Router, peer *Peer) {
	handshakeRoute, err := router.AddIncomingRoute([]netadapter.MessageCommand{netadapter.CmdVersion, netadapter.CmdVerAck})
	if err == nil {
		go f.runHandshake(router, peer, handshakeRoute)
	}

	pingRoute, err := router.AddIncomingRoute([]netadapter.MessageCommand{netadapter.CmdPing, netadapter.CmdPong})
	if err == nil {
		go f.runPingFlow(router, peer, pingRoute)
	}

	blockRoute, err := router.AddIncomingRoute([]netadapter.MessageCommand{
		netadapter.CmdNewBlock, netadapter.CmdGetChainTip, netadapter.CmdChainTip,
		netadapter.CmdGetHeaders, netadapter.CmdHeaders, netadapter.CmdGetBlocks, netadapter.CmdBlocks,
	})
	if err == nil {
		go f.runBlockRelayFlow(router, peer, blockRoute)
	}

	txRoute, err := router.AddIncomingRoute([]netadapter.MessageCommand{netadapter.CmdNewTransactionBatch})
	if err == nil {
		go f.runTransactionRelayFlow(router, peer, txRoute)
	}

	rejectRoute, err := router.AddIncomingRoute([]netadapter.MessageCommand{netadapter.CmdReject})
	if err == nil {
		go f.runRejectFlow(peer, rejectRoute)
	}
}

func (f *FlowContext) runRejectFlow(peer *Peer, route *netadapter.Route) {
	for {
		msg, err := route.Dequeue()
		if err != nil {
			return
		}
		reject := msg.(*MsgReject)
		log.Debugf("peer %s rejected our message: %s", peer.Conn.RemoteAddr(), reject.Reason)
	}
}

func (f *FlowContext) penalize(peer *Peer, delta int) {
	peer.Reputation.Apply(delta)
	if peer.Reputation.ShouldBan() {
		peer.Reputation.Ban(time.Now().Unix())
		peer.Conn.Disconnect()
		return
	}
	if peer.Reputation.ShouldDisconnect() {
		peer.Conn.Disconnect()
		return
	}
	if peer.Reputation.ShouldWarn() {
		log.Warnf("peer %s reputation at %d", peer.Conn.RemoteAddr(), peer.Reputation.Score())
	}
}
