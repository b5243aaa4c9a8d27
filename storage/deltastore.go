package storage

import (
	"bytes"
	"io"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/consensus"
	"github.com/pkg/errors"
)

var bucketStateDeltas = []byte{0x0c} // height (8-byte BE) -> encoded consensus.StateDelta

// PutStateDelta persists the per-block state delta
// StateManager.ApplyBlock produced, so a later reorg can unwind this block without recomputing
// account history (spec.md §4.3, §5 reorg support).
func (a *AccountStore) PutStateDelta(batch *Batch, delta *consensus.StateDelta) {
	batch.Put(bucketStateDeltas, heightKey(delta.Height), encodeStateDelta(delta))
}

// TakeStateDelta reads and removes the delta recorded for height,
// consumed once during an unwind.
func (a *AccountStore) TakeStateDelta(height uint64) (*consensus.StateDelta, error) {
	v, err := a.store.get(bucketStateDeltas, heightKey(height))
	if err != nil {
		return nil, err
	}
	delta, err := decodeStateDelta(v)
	if err != nil {
		return nil, err
	}
	if err := a.store.delete(bucketStateDeltas, heightKey(height)); err != nil {
		return nil, err
	}
	return delta, nil
}

func encodeStateDelta(delta *consensus.StateDelta) []byte {
	buf := &bytes.Buffer{}
	_ = writeVarUint(buf, delta.Height)
	_ = writeVarUint(buf, delta.SupplyBefore)
	_ = writeVarUint(buf, uint64(len(delta.AccountsBefore)))
	for pub, acct := range delta.AccountsBefore {
		buf.Write(pub[:])
		_ = writeVarUint(buf, acct.Balance)
		_ = writeVarUint(buf, acct.Nonce)
		_ = writeVarUint(buf, acct.Immature)
	}
	_ = writeVarUint(buf, uint64(len(delta.CreditsConsumed)))
	for _, credit := range delta.CreditsConsumed {
		buf.Write(credit.Account[:])
		_ = writeVarUint(buf, credit.Amount)
		_ = writeVarUint(buf, credit.MaturityHeight)
	}
	if delta.CreditScheduled != nil {
		_ = writeVarUint(buf, 1)
		buf.Write(delta.CreditScheduled.Account[:])
		_ = writeVarUint(buf, delta.CreditScheduled.Amount)
		_ = writeVarUint(buf, delta.CreditScheduled.MaturityHeight)
	} else {
		_ = writeVarUint(buf, 0)
	}
	return buf.Bytes()
}

func decodeStateDelta(data []byte) (*consensus.StateDelta, error) {
	r := bytes.NewReader(data)
	delta := &consensus.StateDelta{AccountsBefore: make(map[chainkey.PublicKey]consensus.Account)}
	var err error
	if delta.Height, err = readVarUint(r); err != nil {
		return nil, errors.Wrap(err, "decoding delta height")
	}
	if delta.SupplyBefore, err = readVarUint(r); err != nil {
		return nil, errors.Wrap(err, "decoding delta supply")
	}
	accountCount, err := readVarUint(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding delta account count")
	}
	for i := uint64(0); i < accountCount; i++ {
		var pub chainkey.PublicKey
		if _, err := io.ReadFull(r, pub[:]); err != nil {
			return nil, errors.Wrap(err, "decoding delta account key")
		}
		acct := consensus.Account{}
		if acct.Balance, err = readVarUint(r); err != nil {
			return nil, err
		}
		if acct.Nonce, err = readVarUint(r); err != nil {
			return nil, err
		}
		if acct.Immature, err = readVarUint(r); err != nil {
			return nil, err
		}
		delta.AccountsBefore[pub] = acct
	}
	creditCount, err := readVarUint(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding delta credit count")
	}
	for i := uint64(0); i < creditCount; i++ {
		credit := consensus.ImmatureCredit{}
		if _, err := io.ReadFull(r, credit.Account[:]); err != nil {
			return nil, errors.Wrap(err, "decoding delta credit account")
		}
		if credit.Amount, err = readVarUint(r); err != nil {
			return nil, err
		}
		if credit.MaturityHeight, err = readVarUint(r); err != nil {
			return nil, err
		}
		delta.CreditsConsumed = append(delta.CreditsConsumed, credit)
	}
	hasScheduled, err := readVarUint(r)
	if err != nil {
		return nil, errors.Wrap(err, "decoding delta scheduled-credit flag")
	}
	if hasScheduled != 0 {
		credit := consensus.ImmatureCredit{}
		if _, err := io.ReadFull(r, credit.Account[:]); err != nil {
			return nil, errors.Wrap(err, "decoding delta scheduled-credit account")
		}
		if credit.Amount, err = readVarUint(r); err != nil {
			return nil, err
		}
		if credit.MaturityHeight, err = readVarUint(r); err != nil {
			return nil, err
		}
		delta.CreditScheduled = &credit
	}
	return delta, nil
}
