package chaincfg

import (
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
)

// genesisCoinbaseData is the fixed payload carried by every network's
// genesis coinbase transaction's data field, the same role the
// teacher's genesisTxPayload plays: an immutable, human-legible marker
// baked into the first block.
var genesisCoinbaseData = []byte("emberd genesis block")

// buildGenesis constructs a single-coinbase, zero-reward genesis block
// at height 0. The genesis coinbase pays nothing (spec.md's reward
// schedule begins at height 1); its sole purpose is to anchor the
// chain and merkle root of the empty ledger, mirroring the teacher's
// practice of a fixed, unspendable genesis coinbase.
func buildGenesis(version uint32, timestamp uint64, difficulty uint32, nonce uint64) *chainmodel.Block {
	coinbase := &chainmodel.Transaction{
		ChainID: 0,
		From:    chainkey.ZeroPublicKey,
		To:      chainkey.ZeroPublicKey,
		Amount:  0,
		Fee:     0,
		Nonce:   0,
		Data:    genesisCoinbaseData,
	}
	block := &chainmodel.Block{
		Header: chainmodel.BlockHeader{
			Version:      version,
			PreviousHash: chainkey.Hash{},
			Timestamp:    timestamp,
			Difficulty:   difficulty,
			Nonce:        nonce,
			Height:       0,
		},
		Transactions: []*chainmodel.Transaction{coinbase},
	}
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	return block
}

// Fixed genesis timestamps and nonces are baked in so that every node
// on a given network agrees on an identical genesis hash without
// mining it at startup. Genesis is accepted by definition rather than
// by satisfying its own difficulty target; the consensus block
// validator special-cases height 0 instead of running MeetsDifficulty
// against it.

func mainnetGenesis() *chainmodel.Block {
	return buildGenesis(1, 1735689600, MainnetParams.MinDifficulty, 27674)
}

func testnetGenesis() *chainmodel.Block {
	return buildGenesis(1, 1735689600, TestnetParams.MinDifficulty, 2)
}

func regtestGenesis() *chainmodel.Block {
	return buildGenesis(1, 1735689600, RegtestParams.MinDifficulty, 1)
}
