// Package storage persists blocks, chain indexes, and account state in
// a single goleveldb database, using logical column families built
// from key prefixes the way the teacher's database2/dbaccess bucket
// layer does (MakeBucket/bucket.Key), adapted from kaspad's multi-file
// flat-file+leveldb ffldb design down to a single leveldb instance
// since emberd has no UTXO set or block-body flat files to warrant it.
package storage

import (
	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/opt"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/pkg/errors"
)

// Bucket prefixes. Each logical column family gets a fixed single-byte
// tag so key ranges never collide, mirroring the teacher's
// database2.MakeBucket([]byte("fees"))-style named-bucket convention.
var (
	bucketBlocks          = []byte{0x01} // block hash -> serialized block
	bucketHeightIndex     = []byte{0x02} // height (8-byte BE) -> block hash
	bucketHashIndex       = []byte{0x03} // block hash -> height (8-byte BE), for O(1) height lookup
	bucketTxIndex         = []byte{0x04} // tx hash -> block hash || 4-byte index within block
	bucketAddrIndex       = []byte{0x05} // address || 8-byte BE height || 4-byte index -> tx hash
	bucketWorkIndex       = []byte{0x06} // block hash -> cumulative work bytes
	bucketAccounts        = []byte{0x07} // public key -> encoded Account
	bucketSupply          = []byte{0x08} // single key -> 8-byte BE total supply
	bucketImmatureCredits = []byte{0x09} // 8-byte BE maturity height || pubkey -> 8-byte BE amount
	bucketMeta            = []byte{0x0a} // fixed key: tip hash
	bucketPeers           = []byte{0x0b} // peer address -> encoded peer record
)

// ErrNotFound is returned by lookups that find no value for a key,
// mirroring leveldb.ErrNotFound without leaking the underlying
// driver's error type to callers.
var ErrNotFound = errors.New("storage: key not found")

// Store is the node's single on-disk key-value database.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the leveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening database at %s", path)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func bucketKey(bucket, key []byte) []byte {
	out := make([]byte, 0, len(bucket)+len(key))
	out = append(out, bucket...)
	out = append(out, key...)
	return out
}

func (s *Store) get(bucket, key []byte) ([]byte, error) {
	v, err := s.db.Get(bucketKey(bucket, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Store) has(bucket, key []byte) (bool, error) {
	return s.db.Has(bucketKey(bucket, key), nil)
}

func (s *Store) put(bucket, key, value []byte) error {
	return s.db.Put(bucketKey(bucket, key), value, nil)
}

func (s *Store) delete(bucket, key []byte) error {
	return s.db.Delete(bucketKey(bucket, key), nil)
}

func (s *Store) iteratePrefix(bucket []byte) *leveldb.Iterator {
	return s.db.NewIterator(util.BytesPrefix(bucket), nil)
}

// Batch accumulates writes across multiple logical buckets for a
// single atomic commit, grounded on the teacher's write-batch commit
// discipline for block application (spec.md §4.3: "a single batched
// write at the storage layer").
type Batch struct {
	store *Store
	batch *leveldb.Batch
}

// NewBatch starts an empty batch against s.
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, batch: new(leveldb.Batch)}
}

// Put stages a bucketed write into the batch.
func (b *Batch) Put(bucket, key, value []byte) {
	b.batch.Put(bucketKey(bucket, key), value)
}

// Delete stages a bucketed deletion into the batch.
func (b *Batch) Delete(bucket, key []byte) {
	b.batch.Delete(bucketKey(bucket, key))
}

// Commit atomically writes every staged operation.
func (b *Batch) Commit() error {
	return b.store.db.Write(b.batch, nil)
}
