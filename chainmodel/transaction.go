package chainmodel

import (
	"bytes"
	"io"

	"github.com/emberchain/emberd/chainkey"
	"github.com/pkg/errors"
)

// Transaction is the canonical transaction shape of spec.md §3.
type Transaction struct {
	ChainID   uint32
	From      chainkey.PublicKey
	To        chainkey.PublicKey
	Amount    uint64
	Fee       uint64
	Nonce     uint64
	Data      []byte
	Signature chainkey.Signature
}

// IsCoinbase reports whether tx has the coinbase shape: zero sender and
// an empty signature. Whether a coinbase is *allowed* in a given
// position is a block-context decision made by the consensus package,
// not by this predicate (spec.md §4.2).
func (tx *Transaction) IsCoinbase() bool {
	return tx.From.IsZero() && tx.Signature == chainkey.Signature{}
}

// SigningPreimage returns the canonical byte sequence that is signed
// and verified: chain_id, from, to, amount, fee, nonce, and the content
// hash of data (spec.md §3).
func (tx *Transaction) SigningPreimage() []byte {
	buf := &bytes.Buffer{}
	buf.Grow(4 + 32 + 32 + 8 + 8 + 8 + 32)
	writeUint32(buf, tx.ChainID)
	writeHash(buf, tx.From)
	writeHash(buf, tx.To)
	writeUint64(buf, tx.Amount)
	writeUint64(buf, tx.Fee)
	writeUint64(buf, tx.Nonce)
	dataHash := chainkey.HashOptionalData(tx.Data)
	writeHash(buf, dataHash)
	return buf.Bytes()
}

// Sign signs tx in place using kp, which must match tx.From.
func (tx *Transaction) Sign(kp *chainkey.KeyPair) {
	tx.From = kp.Public
	tx.Signature = kp.Sign(tx.SigningPreimage())
}

// VerifySignature checks the transaction's signature over its canonical
// preimage. Coinbase transactions carry no signature and always fail
// this check; callers must special-case coinbase before calling it.
func (tx *Transaction) VerifySignature() bool {
	return chainkey.Verify(tx.From, tx.SigningPreimage(), tx.Signature)
}

// Encode writes the fully-signed canonical encoding of tx, the same
// bytes that are hashed to produce the transaction hash.
func (tx *Transaction) Encode(w *bytes.Buffer) error {
	if err := writeUint32(w, tx.ChainID); err != nil {
		return err
	}
	if err := writeHash(w, tx.From); err != nil {
		return err
	}
	if err := writeHash(w, tx.To); err != nil {
		return err
	}
	if err := writeUint64(w, tx.Amount); err != nil {
		return err
	}
	if err := writeUint64(w, tx.Fee); err != nil {
		return err
	}
	if err := writeUint64(w, tx.Nonce); err != nil {
		return err
	}
	if err := writeVarBytes(w, tx.Data); err != nil {
		return err
	}
	if _, err := w.Write(tx.Signature[:]); err != nil {
		return err
	}
	return nil
}

// Serialize returns tx's canonical byte encoding.
func (tx *Transaction) Serialize() []byte {
	buf := &bytes.Buffer{}
	// Encode never fails writing into a bytes.Buffer.
	_ = tx.Encode(buf)
	return buf.Bytes()
}

// DecodeTransaction parses the canonical encoding produced by Encode.
func DecodeTransaction(r *bytes.Reader) (*Transaction, error) {
	tx := &Transaction{}
	var err error
	if tx.ChainID, err = readUint32(r); err != nil {
		return nil, errors.Wrap(err, "reading chain id")
	}
	if tx.From, err = readHash(r); err != nil {
		return nil, errors.Wrap(err, "reading from")
	}
	if tx.To, err = readHash(r); err != nil {
		return nil, errors.Wrap(err, "reading to")
	}
	if tx.Amount, err = readUint64(r); err != nil {
		return nil, errors.Wrap(err, "reading amount")
	}
	if tx.Fee, err = readUint64(r); err != nil {
		return nil, errors.Wrap(err, "reading fee")
	}
	if tx.Nonce, err = readUint64(r); err != nil {
		return nil, errors.Wrap(err, "reading nonce")
	}
	if tx.Data, err = readVarBytes(r, MaxDataBytes); err != nil {
		return nil, errors.Wrap(err, "reading data")
	}
	sig := make([]byte, chainkey.SignatureSize)
	if _, err := io.ReadFull(r, sig); err != nil {
		return nil, errors.Wrap(err, "reading signature")
	}
	copy(tx.Signature[:], sig)
	return tx, nil
}

// ParseTransaction decodes a Transaction from a raw byte slice.
func ParseTransaction(data []byte) (*Transaction, error) {
	return DecodeTransaction(bytes.NewReader(data))
}

// SerializedSize returns the byte length of tx's canonical encoding.
func (tx *Transaction) SerializedSize() int {
	return len(tx.Serialize())
}

// Hash returns the SHA-256 hash of tx's fully-signed canonical
// encoding (spec.md §3).
func (tx *Transaction) Hash() chainkey.Hash {
	return chainkey.HashBytes(tx.Serialize())
}

// ErrTransactionTooLarge is returned by CheckSize.
var ErrTransactionTooLarge = errors.New("transaction exceeds max serialized size")

// CheckSize enforces the MAX_TX_BYTES / MAX_DATA_BYTES limits (spec.md §6).
func (tx *Transaction) CheckSize() error {
	if len(tx.Data) > MaxDataBytes {
		return errors.Wrapf(ErrTransactionTooLarge, "data field is %d bytes, max %d", len(tx.Data), MaxDataBytes)
	}
	if size := tx.SerializedSize(); size > MaxTxBytes {
		return errors.Wrapf(ErrTransactionTooLarge, "transaction is %d bytes, max %d", size, MaxTxBytes)
	}
	return nil
}

// FeeDensity returns fee / serialized_size, the mempool priority
// currency (spec.md §3 glossary). Coinbase transactions have no
// meaningful fee density and must not be ranked through this method.
func (tx *Transaction) FeeDensity() float64 {
	size := tx.SerializedSize()
	if size == 0 {
		return 0
	}
	return float64(tx.Fee) / float64(size)
}

// NewCoinbaseTransaction builds the coinbase transaction shape for a
// block at the given height, paying reward+fees to payTo (spec.md §3).
func NewCoinbaseTransaction(payTo chainkey.PublicKey, height, reward, fees uint64) (*Transaction, error) {
	amount, overflow := addUint64(reward, fees)
	if overflow {
		return nil, errors.New("coinbase amount overflows u64")
	}
	return &Transaction{
		ChainID: 0, // coinbase carries no chain id check; block context supplies it
		From:    chainkey.ZeroPublicKey,
		To:      payTo,
		Amount:  amount,
		Fee:     0,
		Nonce:   height,
		Data:    nil,
	}, nil
}

func addUint64(a, b uint64) (sum uint64, overflow bool) {
	sum = a + b
	return sum, sum < a
}
