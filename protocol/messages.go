// Package protocol implements emberd's peer behavior over netadapter's
// transport: handshake, block/transaction relay, initial block
// download, reputation, and rate limiting (spec.md §4.8), grounded on
// the teacher's app/protocol flows, adapted from its DAG/UTXO
// semantics to a single best chain and account-model state.
package protocol

import (
	"bytes"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/netadapter"
	"github.com/pkg/errors"
)

// MsgVersion is the handshake's first message: protocol/chain
// identification and the sender's current tip.
type MsgVersion struct {
	ChainID     uint32
	ProtocolVer uint32
	UserAgent   string
	TipHeight   uint64
	TipHash     chainkey.Hash
}

func (m *MsgVersion) Command() netadapter.MessageCommand { return netadapter.CmdVersion }

// MsgVerAck acknowledges a MsgVersion, completing the handshake.
type MsgVerAck struct{}

func (m *MsgVerAck) Command() netadapter.MessageCommand { return netadapter.CmdVerAck }

// MsgNewBlock broadcasts a newly mined or relayed block.
type MsgNewBlock struct {
	Block *chainmodel.Block
}

func (m *MsgNewBlock) Command() netadapter.MessageCommand { return netadapter.CmdNewBlock }

// MsgNewTransactionBatch broadcasts up to 100 transactions batched
// together (spec.md §4.8).
type MsgNewTransactionBatch struct {
	Transactions []*chainmodel.Transaction
}

func (m *MsgNewTransactionBatch) Command() netadapter.MessageCommand {
	return netadapter.CmdNewTransactionBatch
}

// MsgGetChainTip requests the peer's current tip.
type MsgGetChainTip struct{}

func (m *MsgGetChainTip) Command() netadapter.MessageCommand { return netadapter.CmdGetChainTip }

// MsgChainTip answers MsgGetChainTip.
type MsgChainTip struct {
	Height         uint64
	Hash           chainkey.Hash
	CumulativeWork []byte // big-endian magnitude of the WorkValue
}

func (m *MsgChainTip) Command() netadapter.MessageCommand { return netadapter.CmdChainTip }

// MsgGetHeaders requests `Count` headers starting at `FromHeight`.
type MsgGetHeaders struct {
	FromHeight uint64
	Count      uint32
}

func (m *MsgGetHeaders) Command() netadapter.MessageCommand { return netadapter.CmdGetHeaders }

// MsgHeaders answers MsgGetHeaders.
type MsgHeaders struct {
	Headers []*chainmodel.BlockHeader
}

func (m *MsgHeaders) Command() netadapter.MessageCommand { return netadapter.CmdHeaders }

// MaxGetBlocksCount bounds a single MsgGetBlocks request (spec.md §4.8).
const MaxGetBlocksCount = 500

// MsgGetBlocks requests up to MaxGetBlocksCount full blocks starting
// at FromHeight.
type MsgGetBlocks struct {
	FromHeight uint64
	Count      uint32
}

func (m *MsgGetBlocks) Command() netadapter.MessageCommand { return netadapter.CmdGetBlocks }

// MsgBlocks answers MsgGetBlocks.
type MsgBlocks struct {
	Blocks []*chainmodel.Block
}

func (m *MsgBlocks) Command() netadapter.MessageCommand { return netadapter.CmdBlocks }

// MsgPing/MsgPong implement the keepalive/latency check.
type MsgPing struct{ Nonce uint64 }

func (m *MsgPing) Command() netadapter.MessageCommand { return netadapter.CmdPing }

type MsgPong struct{ Nonce uint64 }

func (m *MsgPong) Command() netadapter.MessageCommand { return netadapter.CmdPong }

// MsgReject reports why an earlier message was rejected, echoed back
// to the sender instead of silently dropping the connection.
type MsgReject struct{ Reason string }

func (m *MsgReject) Command() netadapter.MessageCommand { return netadapter.CmdReject }

// ErrUnknownCommand is returned by Codec.Decode for an unregistered tag.
var ErrUnknownCommand = errors.New("unknown message command")

// wireCodec implements netadapter.Codec over the canonical
// little-endian/varint encoding chainmodel/chainkey already define,
// per spec.md §6 ("Any library implementing this spec must match
// byte-for-byte").
type wireCodec struct{}

// NewCodec returns the netadapter.Codec emberd's node wires into every
// connection it makes or accepts.
func NewCodec() netadapter.Codec {
	return wireCodec{}
}

func (wireCodec) Encode(msg netadapter.Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	switch m := msg.(type) {
	case *MsgVersion:
		writeUint32(buf, m.ChainID)
		writeUint32(buf, m.ProtocolVer)
		writeVarString(buf, m.UserAgent)
		writeUint64(buf, m.TipHeight)
		buf.Write(m.TipHash[:])
	case *MsgVerAck:
	case *MsgNewBlock:
		encodeBlock(buf, m.Block)
	case *MsgNewTransactionBatch:
		writeUint32(buf, uint32(len(m.Transactions)))
		for _, tx := range m.Transactions {
			encodeTransaction(buf, tx)
		}
	case *MsgGetChainTip:
	case *MsgChainTip:
		writeUint64(buf, m.Height)
		buf.Write(m.Hash[:])
		writeVarBytes(buf, m.CumulativeWork)
	case *MsgGetHeaders:
		writeUint64(buf, m.FromHeight)
		writeUint32(buf, m.Count)
	case *MsgHeaders:
		writeUint32(buf, uint32(len(m.Headers)))
		for _, h := range m.Headers {
			_ = h.Encode(buf)
		}
	case *MsgGetBlocks:
		writeUint64(buf, m.FromHeight)
		writeUint32(buf, m.Count)
	case *MsgBlocks:
		writeUint32(buf, uint32(len(m.Blocks)))
		for _, b := range m.Blocks {
			encodeBlock(buf, b)
		}
	case *MsgPing:
		writeUint64(buf, m.Nonce)
	case *MsgPong:
		writeUint64(buf, m.Nonce)
	case *MsgReject:
		writeVarString(buf, m.Reason)
	default:
		return nil, errors.Errorf("no encoder registered for %T", msg)
	}
	return buf.Bytes(), nil
}

func (wireCodec) Decode(command netadapter.MessageCommand, payload []byte) (netadapter.Message, error) {
	r := bytes.NewReader(payload)
	switch command {
	case netadapter.CmdVersion:
		m := &MsgVersion{}
		var err error
		if m.ChainID, err = readUint32(r); err != nil {
			return nil, err
		}
		if m.ProtocolVer, err = readUint32(r); err != nil {
			return nil, err
		}
		if m.UserAgent, err = readVarString(r); err != nil {
			return nil, err
		}
		if m.TipHeight, err = readUint64(r); err != nil {
			return nil, err
		}
		if _, err := readFullHash(r, &m.TipHash); err != nil {
			return nil, err
		}
		return m, nil
	case netadapter.CmdVerAck:
		return &MsgVerAck{}, nil
	case netadapter.CmdNewBlock:
		block, err := decodeBlock(r)
		if err != nil {
			return nil, err
		}
		return &MsgNewBlock{Block: block}, nil
	case netadapter.CmdNewTransactionBatch:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		txs := make([]*chainmodel.Transaction, 0, count)
		for i := uint32(0); i < count; i++ {
			tx, err := decodeTransaction(r)
			if err != nil {
				return nil, err
			}
			txs = append(txs, tx)
		}
		return &MsgNewTransactionBatch{Transactions: txs}, nil
	case netadapter.CmdGetChainTip:
		return &MsgGetChainTip{}, nil
	case netadapter.CmdChainTip:
		m := &MsgChainTip{}
		var err error
		if m.Height, err = readUint64(r); err != nil {
			return nil, err
		}
		if _, err := readFullHash(r, &m.Hash); err != nil {
			return nil, err
		}
		if m.CumulativeWork, err = readVarBytes(r); err != nil {
			return nil, err
		}
		return m, nil
	case netadapter.CmdGetHeaders:
		m := &MsgGetHeaders{}
		var err error
		if m.FromHeight, err = readUint64(r); err != nil {
			return nil, err
		}
		if m.Count, err = readUint32(r); err != nil {
			return nil, err
		}
		return m, nil
	case netadapter.CmdHeaders:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		headers := make([]*chainmodel.BlockHeader, 0, count)
		for i := uint32(0); i < count; i++ {
			h, err := chainmodel.DecodeBlockHeader(r)
			if err != nil {
				return nil, err
			}
			headers = append(headers, h)
		}
		return &MsgHeaders{Headers: headers}, nil
	case netadapter.CmdGetBlocks:
		m := &MsgGetBlocks{}
		var err error
		if m.FromHeight, err = readUint64(r); err != nil {
			return nil, err
		}
		if m.Count, err = readUint32(r); err != nil {
			return nil, err
		}
		return m, nil
	case netadapter.CmdBlocks:
		count, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		blocks := make([]*chainmodel.Block, 0, count)
		for i := uint32(0); i < count; i++ {
			b, err := decodeBlock(r)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
		return &MsgBlocks{Blocks: blocks}, nil
	case netadapter.CmdPing:
		nonce, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return &MsgPing{Nonce: nonce}, nil
	case netadapter.CmdPong:
		nonce, err := readUint64(r)
		if err != nil {
			return nil, err
		}
		return &MsgPong{Nonce: nonce}, nil
	case netadapter.CmdReject:
		reason, err := readVarString(r)
		if err != nil {
			return nil, err
		}
		return &MsgReject{Reason: reason}, nil
	}
	return nil, errors.Wrapf(ErrUnknownCommand, "command tag %d", byte(command))
}
