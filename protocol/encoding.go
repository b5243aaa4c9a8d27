package protocol

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
)

// These helpers mirror chainmodel/encoding.go's canonical primitives
// (little-endian fixed-width integers, length-prefixed variable
// fields), reimplemented here because chainmodel's are unexported —
// protocol messages wrap chainmodel/chainkey values but are a wire
// format of their own (spec.md §6 "Wire protocol" is distinct from
// the block/tx canonical encoding it carries).

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func writeVarBytes(buf *bytes.Buffer, data []byte) {
	writeUint32(buf, uint32(len(data)))
	buf.Write(data)
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeVarString(buf *bytes.Buffer, s string) {
	writeVarBytes(buf, []byte(s))
}

func readVarString(r *bytes.Reader) (string, error) {
	data, err := readVarBytes(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func readFullHash(r *bytes.Reader, hash *chainkey.Hash) (int, error) {
	return io.ReadFull(r, hash[:])
}

func encodeBlock(buf *bytes.Buffer, block *chainmodel.Block) {
	_ = block.Header.Encode(buf)
	writeUint32(buf, uint32(len(block.Transactions)))
	for _, tx := range block.Transactions {
		encodeTransaction(buf, tx)
	}
}

func decodeBlock(r *bytes.Reader) (*chainmodel.Block, error) {
	header, err := chainmodel.DecodeBlockHeader(r)
	if err != nil {
		return nil, err
	}
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
	return &chainmodel.Block{Header: *header, Transactions: txs}, nil
}

func encodeTransaction(buf *bytes.Buffer, tx *chainmodel.Transaction) {
	writeVarBytes(buf, tx.Serialize())
}

func decodeTransaction(r *bytes.Reader) (*chainmodel.Transaction, error) {
	data, err := readVarBytes(r)
	if err != nil {
		return nil, err
	}
	return chainmodel.ParseTransaction(data)
}
