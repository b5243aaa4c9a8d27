package storage

import (
	"encoding/binary"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/consensus"
)

// AccountStore implements consensus.AccountStore over the node's KV
// store: account balance/nonce, total supply, and the immature
// coinbase-credit schedule backing the node's coinbase-maturity rule.
type AccountStore struct {
	store *Store
}

// NewAccountStore builds an AccountStore over store.
func NewAccountStore(store *Store) *AccountStore {
	return &AccountStore{store: store}
}

func encodeAccount(acct consensus.Account) []byte {
	var buf [24]byte
	binary.BigEndian.PutUint64(buf[0:8], acct.Balance)
	binary.BigEndian.PutUint64(buf[8:16], acct.Nonce)
	binary.BigEndian.PutUint64(buf[16:24], acct.Immature)
	return buf[:]
}

func decodeAccount(data []byte) consensus.Account {
	return consensus.Account{
		Balance:  binary.BigEndian.Uint64(data[0:8]),
		Nonce:    binary.BigEndian.Uint64(data[8:16]),
		Immature: binary.BigEndian.Uint64(data[16:24]),
	}
}

// GetAccount returns pub's account state, or the zero account if pub
// has never been credited or debited.
func (a *AccountStore) GetAccount(pub chainkey.PublicKey) (consensus.Account, error) {
	v, err := a.store.get(bucketAccounts, pub[:])
	if err == ErrNotFound {
		return consensus.Account{}, nil
	}
	if err != nil {
		return consensus.Account{}, err
	}
	return decodeAccount(v), nil
}

// PutAccount stages pub's account state into batch.
func (a *AccountStore) PutAccount(batch consensus.Batch, pub chainkey.PublicKey, acct consensus.Account) {
	batch.Put(bucketAccounts, pub[:], encodeAccount(acct))
}

// Supply returns total issued supply, 0 before genesis.
func (a *AccountStore) Supply() (uint64, error) {
	v, err := a.store.get(bucketSupply, []byte("total"))
	if err == ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(v), nil
}

// SetSupply stages total issued supply into batch.
func (a *AccountStore) SetSupply(batch consensus.Batch, supply uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], supply)
	batch.Put(bucketSupply, []byte("total"), buf[:])
}

func immatureCreditKey(maturityHeight uint64, account chainkey.PublicKey) []byte {
	key := make([]byte, 8+len(account))
	binary.BigEndian.PutUint64(key[:8], maturityHeight)
	copy(key[8:], account[:])
	return key
}

// PutImmatureCredit stages a scheduled coinbase payout, maturing
// (becoming spendable) at credit.MaturityHeight, into batch.
func (a *AccountStore) PutImmatureCredit(batch consensus.Batch, credit consensus.ImmatureCredit) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], credit.Amount)
	batch.Put(bucketImmatureCredits, immatureCreditKey(credit.MaturityHeight, credit.Account), buf[:])
}

// RemoveImmatureCredit stages the deletion of a single scheduled
// credit outright, used to unwind the credit a block's own coinbase
// scheduled when that block is rolled back during a reorg, before it
// ever matures.
func (a *AccountStore) RemoveImmatureCredit(batch consensus.Batch, credit consensus.ImmatureCredit) {
	batch.Delete(bucketImmatureCredits, immatureCreditKey(credit.MaturityHeight, credit.Account))
}

// TakeImmatureCreditsMaturingAt reads every credit scheduled to mature
// at exactly the given height and stages their removal into batch;
// the read itself cannot be deferred to batch commit, so it still
// runs directly against the store.
func (a *AccountStore) TakeImmatureCreditsMaturingAt(batch consensus.Batch, height uint64) ([]consensus.ImmatureCredit, error) {
	var prefix [8]byte
	binary.BigEndian.PutUint64(prefix[:], height)

	iter := a.store.iteratePrefix(append(append([]byte{}, bucketImmatureCredits...), prefix[:]...))
	defer iter.Release()

	var credits []consensus.ImmatureCredit
	var keys [][]byte
	for iter.Next() {
		key := append([]byte{}, iter.Key()...)
		value := append([]byte{}, iter.Value()...)
		var account chainkey.PublicKey
		// iter.Key() is the full on-disk key (bucket prefix included);
		// the account bytes follow the bucket tag and the 8-byte height.
		copy(account[:], key[len(bucketImmatureCredits)+8:])
		credits = append(credits, consensus.ImmatureCredit{
			Account:        account,
			Amount:         binary.BigEndian.Uint64(value),
			MaturityHeight: height,
		})
		keys = append(keys, key[len(bucketImmatureCredits):])
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}

	for _, key := range keys {
		batch.Delete(bucketImmatureCredits, key)
	}
	return credits, nil
}
