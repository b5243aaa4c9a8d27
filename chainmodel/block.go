package chainmodel

import (
	"bytes"
	"math/bits"

	"github.com/emberchain/emberd/chainkey"
	"github.com/pkg/errors"
)

// MinDifficulty and MaxDifficulty bound the leading-zero-bit PoW target
// (spec.md §3, §6).
const (
	MinDifficulty = 8
	MaxDifficulty = 192
)

// HeaderSize is the fixed encoded length of a BlockHeader: version(4) +
// previous_hash(32) + merkle_root(32) + timestamp(8) + difficulty(4) +
// nonce(8) + height(8).
const HeaderSize = 4 + 32 + 32 + 8 + 4 + 8 + 8

// BlockHeader is the canonical header shape of spec.md §3.
type BlockHeader struct {
	Version      uint32
	PreviousHash chainkey.Hash
	MerkleRoot   chainkey.Hash
	Timestamp    uint64
	Difficulty   uint32
	Nonce        uint64
	Height       uint64
}

// Encode writes the canonical little-endian encoding of the header.
func (h *BlockHeader) Encode(w *bytes.Buffer) error {
	if err := writeUint32(w, h.Version); err != nil {
		return err
	}
	if err := writeHash(w, h.PreviousHash); err != nil {
		return err
	}
	if err := writeHash(w, h.MerkleRoot); err != nil {
		return err
	}
	if err := writeUint64(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Difficulty); err != nil {
		return err
	}
	if err := writeUint64(w, h.Nonce); err != nil {
		return err
	}
	if err := writeUint64(w, h.Height); err != nil {
		return err
	}
	return nil
}

// Serialize returns the header's canonical byte encoding.
func (h *BlockHeader) Serialize() []byte {
	buf := &bytes.Buffer{}
	_ = h.Encode(buf)
	return buf.Bytes()
}

// DecodeBlockHeader parses the canonical encoding produced by Encode.
func DecodeBlockHeader(r *bytes.Reader) (*BlockHeader, error) {
	h := &BlockHeader{}
	var err error
	if h.Version, err = readUint32(r); err != nil {
		return nil, errors.Wrap(err, "reading version")
	}
	if h.PreviousHash, err = readHash(r); err != nil {
		return nil, errors.Wrap(err, "reading previous hash")
	}
	if h.MerkleRoot, err = readHash(r); err != nil {
		return nil, errors.Wrap(err, "reading merkle root")
	}
	if h.Timestamp, err = readUint64(r); err != nil {
		return nil, errors.Wrap(err, "reading timestamp")
	}
	if h.Difficulty, err = readUint32(r); err != nil {
		return nil, errors.Wrap(err, "reading difficulty")
	}
	if h.Nonce, err = readUint64(r); err != nil {
		return nil, errors.Wrap(err, "reading nonce")
	}
	if h.Height, err = readUint64(r); err != nil {
		return nil, errors.Wrap(err, "reading height")
	}
	return h, nil
}

// Hash returns the SHA-256 hash of the header's canonical encoding,
// which is also the block hash (spec.md §3).
func (h *BlockHeader) Hash() chainkey.Hash {
	return chainkey.HashBytes(h.Serialize())
}

// MeetsDifficulty reports whether the header's hash satisfies its
// target: the first `difficulty` bits of the hash (big-endian bit
// order within each byte) are zero (spec.md §4.4).
func (h *BlockHeader) MeetsDifficulty() bool {
	return HashMeetsDifficulty(h.Hash(), h.Difficulty)
}

// HashMeetsDifficulty implements the leading-zero-bit test: floor(d/8)
// leading zero bytes, and the next byte's top (d mod 8) bits zero.
func HashMeetsDifficulty(hash chainkey.Hash, difficulty uint32) bool {
	fullBytes := int(difficulty / 8)
	remBits := int(difficulty % 8)

	for i := 0; i < fullBytes; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	if remBits == 0 {
		return true
	}
	mask := byte(0xff << uint(8-remBits))
	return hash[fullBytes]&mask == 0
}

// Work returns 2^difficulty, the cumulative-work contribution of a
// header meeting that difficulty (spec.md §3 glossary).
func Work(difficulty uint32) *WorkValue {
	return NewWorkValue().Lsh(uint(difficulty))
}

// LeadingZeroBits returns how many of hash's leading bits are zero,
// useful for diagnostics/telemetry around near-misses during mining.
func LeadingZeroBits(hash chainkey.Hash) int {
	for i, b := range hash {
		if b != 0 {
			return i*8 + bits.LeadingZeros8(b)
		}
	}
	return len(hash) * 8
}

// Block is a header plus its ordered transaction list (spec.md §3).
type Block struct {
	Header       BlockHeader
	Transactions []*Transaction
}

// Hash returns the block hash, which is the header hash.
func (b *Block) Hash() chainkey.Hash {
	return b.Header.Hash()
}

// ComputeMerkleRoot recomputes the merkle root over b's transactions.
func (b *Block) ComputeMerkleRoot() chainkey.Hash {
	hashes := make([]chainkey.Hash, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = tx.Hash()
	}
	return ComputeMerkleRoot(hashes)
}

// Coinbase returns the block's coinbase transaction (index 0), or nil
// if the block has no transactions (only valid for genesis).
func (b *Block) Coinbase() *Transaction {
	if len(b.Transactions) == 0 {
		return nil
	}
	return b.Transactions[0]
}

// SerializedSize returns the byte length of b's canonical encoding.
func (b *Block) SerializedSize() int {
	buf := &bytes.Buffer{}
	_ = b.Header.Encode(buf)
	size := buf.Len()
	for _, tx := range b.Transactions {
		size += tx.SerializedSize()
	}
	return size
}

// ErrBlockTooLarge is returned by CheckSize.
var ErrBlockTooLarge = errors.New("block exceeds max size or transaction count")

// CheckSize enforces MAX_BLOCK_BYTES / MAX_BLOCK_TXS (spec.md §6).
func (b *Block) CheckSize() error {
	if len(b.Transactions) > MaxBlockTxs {
		return errors.Wrapf(ErrBlockTooLarge, "block has %d txs, max %d", len(b.Transactions), MaxBlockTxs)
	}
	if size := b.SerializedSize(); size > MaxBlockBytes {
		return errors.Wrapf(ErrBlockTooLarge, "block is %d bytes, max %d", size, MaxBlockBytes)
	}
	return nil
}
