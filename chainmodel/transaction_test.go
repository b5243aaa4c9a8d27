package chainmodel

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/emberchain/emberd/chainkey"
)

func testKeyPair(t *testing.T, seed byte) *chainkey.KeyPair {
	t.Helper()
	var secret [chainkey.SecretKeySize]byte
	for i := range secret {
		secret[i] = seed
	}
	kp, err := chainkey.KeyPairFromSecret(secret)
	if err != nil {
		t.Fatalf("deriving keypair: %s", err)
	}
	return kp
}

func TestTransactionSignAndVerify(t *testing.T) {
	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)

	tx := &Transaction{
		ChainID: 7,
		To:      recipient.Public,
		Amount:  1000,
		Fee:     10,
		Nonce:   3,
		Data:    []byte("hello"),
	}
	tx.Sign(sender)

	if !tx.VerifySignature() {
		t.Fatal("expected signature to verify")
	}

	tx.Amount++
	if tx.VerifySignature() {
		t.Fatal("expected signature to fail after tampering with amount")
	}
}

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	kp := testKeyPair(t, 9)
	tx := &Transaction{
		ChainID: 1,
		To:      kp.Public,
		Amount:  500,
		Fee:     5,
		Nonce:   1,
		Data:    []byte{0xde, 0xad, 0xbe, 0xef},
	}
	tx.Sign(kp)

	decoded, err := ParseTransaction(tx.Serialize())
	if err != nil {
		t.Fatalf("parsing transaction: %s", err)
	}
	if !bytes.Equal(decoded.Serialize(), tx.Serialize()) {
		t.Fatalf("round trip mismatch:\ngot:  %s\nwant: %s", spew.Sdump(decoded), spew.Sdump(tx))
	}
	if decoded.Hash() != tx.Hash() {
		t.Fatal("decoded transaction hash differs from original")
	}
}

func TestTransactionCheckSizeBoundary(t *testing.T) {
	kp := testKeyPair(t, 3)

	atLimit := &Transaction{To: kp.Public, Data: make([]byte, MaxDataBytes)}
	atLimit.Sign(kp)
	if err := atLimit.CheckSize(); err != nil {
		t.Fatalf("data field at MaxDataBytes should be accepted, got: %s", err)
	}

	overLimit := &Transaction{To: kp.Public, Data: make([]byte, MaxDataBytes+1)}
	overLimit.Sign(kp)
	if err := overLimit.CheckSize(); err == nil {
		t.Fatal("data field one byte over MaxDataBytes should be rejected")
	}
}

func TestIsCoinbase(t *testing.T) {
	kp := testKeyPair(t, 4)
	coinbase, err := NewCoinbaseTransaction(kp.Public, 10, 5000000000, 25)
	if err != nil {
		t.Fatalf("building coinbase: %s", err)
	}
	if !coinbase.IsCoinbase() {
		t.Fatal("expected NewCoinbaseTransaction output to report IsCoinbase")
	}

	signed := &Transaction{To: kp.Public}
	signed.Sign(kp)
	if signed.IsCoinbase() {
		t.Fatal("signed transaction with nonzero sender must not report IsCoinbase")
	}
}

func TestCoinbaseAmountOverflow(t *testing.T) {
	kp := testKeyPair(t, 5)
	_, err := NewCoinbaseTransaction(kp.Public, 1, ^uint64(0), 1)
	if err == nil {
		t.Fatal("expected overflow error when reward+fees exceeds uint64 range")
	}
}

// TestFeeDensityOrdering mirrors spec.md's mempool selection example:
// four transactions whose fee and padded size combine to a specific
// density ranking (C > B > D > A) regardless of the absolute byte
// overhead FeeDensity's denominator carries.
func TestFeeDensityOrdering(t *testing.T) {
	kp := testKeyPair(t, 6)
	build := func(fee uint64, size int) *Transaction {
		tx := &Transaction{To: kp.Public, Fee: fee, Data: make([]byte, size)}
		tx.Sign(kp)
		return tx
	}

	a := build(1000, 250)
	b := build(2000, 250)
	c := build(1500, 100)
	d := build(5000, 1000)

	if !(c.FeeDensity() > b.FeeDensity() && b.FeeDensity() > d.FeeDensity() && d.FeeDensity() > a.FeeDensity()) {
		t.Fatalf("unexpected fee density ordering: a=%.4f b=%.4f c=%.4f d=%.4f",
			a.FeeDensity(), b.FeeDensity(), c.FeeDensity(), d.FeeDensity())
	}
}
