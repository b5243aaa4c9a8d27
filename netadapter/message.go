// Package netadapter is the transport layer: TCP framing, connection
// lifecycle, and a per-connection message router. It knows nothing
// about block/transaction semantics — protocol builds peer behavior
// on top of it. Grounded on the teacher's netadapter package, adapted
// from its grpc+protobuf transport to a custom TCP frame (spec.md §6
// "Wire protocol") since grpc-go/protobuf were never exercised
// anywhere reachable from this spec and are dropped per DESIGN.md.
package netadapter

import "fmt"

// MessageCommand tags a message's wire type (spec.md §4.8 message list).
type MessageCommand byte

const (
	CmdVersion MessageCommand = iota
	CmdVerAck
	CmdNewBlock
	CmdNewTransactionBatch
	CmdGetChainTip
	CmdChainTip
	CmdGetHeaders
	CmdHeaders
	CmdGetBlocks
	CmdBlocks
	CmdPing
	CmdPong
	CmdReject
)

func (c MessageCommand) String() string {
	names := map[MessageCommand]string{
		CmdVersion:             "Version",
		CmdVerAck:              "VerAck",
		CmdNewBlock:            "NewBlock",
		CmdNewTransactionBatch: "NewTransactionBatch",
		CmdGetChainTip:         "GetChainTip",
		CmdChainTip:            "ChainTip",
		CmdGetHeaders:          "GetHeaders",
		CmdHeaders:             "Headers",
		CmdGetBlocks:           "GetBlocks",
		CmdBlocks:              "Blocks",
		CmdPing:                "Ping",
		CmdPong:                "Pong",
		CmdReject:              "Reject",
	}
	if name, ok := names[c]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", byte(c))
}

// Message is anything routable over a Router: it knows its own wire
// command tag. Encoding/decoding the payload is left to a Codec so
// netadapter stays ignorant of the concrete message shapes protocol
// defines.
type Message interface {
	Command() MessageCommand
}

// Codec encodes and decodes Messages to/from their wire payload, the
// seam between the transport-only netadapter package and protocol's
// concrete message definitions.
type Codec interface {
	Encode(msg Message) ([]byte, error)
	Decode(command MessageCommand, payload []byte) (Message, error)
}
