// Package coreapi is the external-collaborator surface: the set of
// operations a wallet, explorer, or miner process consumes without
// reaching into chain/mempool internals directly. Grounded on the
// teacher's app/rpc/rpccontext.Context, adapted from a struct of gRPC
// collaborators plus wire-message handler functions to a plain Go
// interface, since HTTP/WebSocket exposure is out of scope here — the
// wire layer, if one is ever added, would sit on top of this package
// rather than inside it.
package coreapi

import (
	"github.com/emberchain/emberd/app"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// MaxAddressHistoryPage bounds a single TransactionsForAddress call,
// mirroring the protocol layer's MaxGetBlocksCount cap on batched
// lookups.
const MaxAddressHistoryPage = 500

// Context bundles the node collaborators the external-facing
// operations below are defined over, grounded on rpccontext.Context's
// role as the single struct RPC handlers are passed.
type Context struct {
	node *app.Node

	notifications *NotificationManager
}

// NewContext builds a Context over node, registering it to receive
// every accepted block the node produces.
func NewContext(node *app.Node) *Context {
	ctx := &Context{
		node:          node,
		notifications: NewNotificationManager(),
	}
	node.AddBlockListener(ctx.NotifyBlockAdded)
	return ctx
}

// SubmitTransaction admits tx into the mempool, returning the same
// rule-violation error the mempool produced on rejection. On success
// it fires an NTTransactionAdded notification, mirroring
// HandleSubmitTransaction's accept path.
func (ctx *Context) SubmitTransaction(tx *chainmodel.Transaction) error {
	if err := ctx.node.Mempool().Admit(tx, ctx.node.Chain()); err != nil {
		return errors.Wrap(err, "transaction rejected")
	}
	ctx.notifications.notify(Notification{Type: NTTransactionAdded, Data: tx})
	return nil
}

// Balance returns account's current spendable balance.
func (ctx *Context) Balance(account chainkey.PublicKey) uint64 {
	return ctx.node.Chain().Balance(account)
}

// Nonce returns the next nonce account is expected to use.
func (ctx *Context) Nonce(account chainkey.PublicKey) uint64 {
	return ctx.node.Chain().Nonce(account)
}

// ImmatureBalance returns the portion of account's coinbase earnings
// still awaiting maturity: already counted in total supply, not yet
// spendable.
func (ctx *Context) ImmatureBalance(account chainkey.PublicKey) uint64 {
	return ctx.node.Chain().ImmatureBalance(account)
}

// BlockByHeight looks up a committed block by its height on the best
// chain.
func (ctx *Context) BlockByHeight(height uint64) (*chainmodel.Block, error) {
	return ctx.node.Chain().BlockAtHeight(height)
}

// BlockByHash looks up a committed block (main chain or orphaned side
// branch) by its content hash.
func (ctx *Context) BlockByHash(hash chainkey.Hash) (*chainmodel.Block, error) {
	return ctx.node.Chain().BlockByHash(hash)
}

// TransactionByHash looks up a committed transaction and the block
// that contains it.
func (ctx *Context) TransactionByHash(hash chainkey.Hash) (*chainmodel.Transaction, *chainmodel.Block, error) {
	return ctx.node.Chain().TransactionByHash(hash)
}

// TransactionsForAddress returns, in ascending (height, index) order,
// up to limit transaction hashes touching addr starting after offset
// matches, capped at MaxAddressHistoryPage per call.
func (ctx *Context) TransactionsForAddress(addr chainkey.PublicKey, offset, limit int) ([]chainkey.Hash, error) {
	if limit <= 0 || limit > MaxAddressHistoryPage {
		limit = MaxAddressHistoryPage
	}
	return ctx.node.Chain().TransactionsForAddress(addr, offset, limit)
}

// ChainTip returns the best chain's current tip hash, height, and
// cumulative work.
func (ctx *Context) ChainTip() (chainkey.Hash, uint64, *chainmodel.WorkValue, error) {
	return ctx.node.Chain().Tip()
}

// Subscribe registers callback to run on every future new-tip and
// new-transaction notification. See Notification/NotificationType.
func (ctx *Context) Subscribe(callback NotificationCallback) {
	ctx.notifications.subscribe(callback)
}

// NotifyBlockAdded fires an NTBlockAdded notification for block. Wired
// into app.Node's block-accepted hook so subscribers see both
// self-mined and relayed blocks.
func (ctx *Context) NotifyBlockAdded(block *chainmodel.Block) {
	ctx.notifications.notify(Notification{Type: NTBlockAdded, Data: block})
}
