package consensus

import (
	"testing"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
)

func buildTx(kp *chainkey.KeyPair, chainID uint32, to chainkey.PublicKey, amount, fee, nonce uint64) *chainmodel.Transaction {
	tx := &chainmodel.Transaction{
		ChainID: chainID,
		To:      to,
		Amount:  amount,
		Fee:     fee,
		Nonce:   nonce,
	}
	tx.Sign(kp)
	return tx
}

func TestCheckFeeFloorIsAdditiveNotMax(t *testing.T) {
	params := testParams()
	params.MinRelayFee = 1000
	params.FeePerByte = 10
	v := NewTransactionValidator(params)

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	tx := buildTx(sender, params.ChainID, recipient.Public, 100, 1000, 0)
	size := uint64(tx.SerializedSize())

	// fee == MinRelayFee alone clears the old (incorrect) max() rule but
	// must be rejected under the additive floor, since size*FeePerByte
	// is strictly positive for any non-empty transaction.
	if err := v.checkFeeFloor(tx); err == nil {
		t.Fatalf("fee %d (== MinRelayFee only) should be below the additive floor of %d + %d*%d",
			tx.Fee, params.MinRelayFee, size, params.FeePerByte)
	}
}

func TestCheckFeeFloorAcceptsExactSum(t *testing.T) {
	params := testParams()
	params.MinRelayFee = 1000
	params.FeePerByte = 10
	v := NewTransactionValidator(params)

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	// Build once to learn the serialized size, then rebuild at the
	// floor the validator should accept.
	probe := buildTx(sender, params.ChainID, recipient.Public, 100, 0, 0)
	size := uint64(probe.SerializedSize())
	floor := params.MinRelayFee + size*params.FeePerByte

	tx := buildTx(sender, params.ChainID, recipient.Public, 100, floor, 0)
	if err := v.checkFeeFloor(tx); err != nil {
		t.Fatalf("fee exactly at the additive floor (%d) should be accepted: %s", floor, err)
	}

	tx.Fee = floor - 1
	tx.Sign(sender)
	if err := v.checkFeeFloor(tx); err == nil {
		t.Fatal("fee one below the additive floor should be rejected")
	}
}

func TestCheckFeeFloorScalesWithSize(t *testing.T) {
	params := testParams()
	params.MinRelayFee = 1000
	params.FeePerByte = 10
	v := NewTransactionValidator(params)

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)

	small := buildTx(sender, params.ChainID, recipient.Public, 100, 0, 0)
	smallFloor := params.MinRelayFee + uint64(small.SerializedSize())*params.FeePerByte
	small.Fee = smallFloor
	small.Sign(sender)

	large := buildTx(sender, params.ChainID, recipient.Public, 100, 0, 0)
	large.Data = make([]byte, 250)
	large.Sign(sender)
	large.Fee = smallFloor // same fee, much larger transaction
	large.Sign(sender)

	if err := v.checkFeeFloor(small); err != nil {
		t.Fatalf("small transaction should clear its own floor of %d: %s", smallFloor, err)
	}
	if err := v.checkFeeFloor(large); err == nil {
		t.Fatal("same fee on a transaction carrying 250 extra data bytes should fall below its higher floor")
	}
}
