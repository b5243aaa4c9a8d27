package miner

import (
	"testing"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/emberchain/emberd/mempool"
)

func testParams() *chaincfg.Params {
	p := chaincfg.RegtestParams
	return &p
}

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

// fakeChain is a minimal miner.Chain: a single fixed tip header, no
// account-balance awareness needed since these tests only exercise
// template assembly and nonce search, not admission.
type fakeChain struct {
	tipHash   chainkey.Hash
	tipHeight uint64
	header    *chainmodel.BlockHeader
	supply    uint64
	balances  map[chainkey.PublicKey]uint64
	nonces    map[chainkey.PublicKey]uint64
}

func (c *fakeChain) Balance(account [32]byte) uint64 { return c.balances[account] }
func (c *fakeChain) Nonce(account [32]byte) uint64   { return c.nonces[account] }

func (c *fakeChain) Tip() (chainkey.Hash, uint64, *chainmodel.WorkValue, error) {
	return c.tipHash, c.tipHeight, chainmodel.NewWorkValue(), nil
}

func (c *fakeChain) Supply() (uint64, error) { return c.supply, nil }

func (c *fakeChain) HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool) {
	if hash != c.tipHash {
		return nil, false
	}
	return c.header, true
}

func (c *fakeChain) TimestampAtHeight(height uint64) (uint64, bool) {
	if height != c.tipHeight {
		return 0, false
	}
	return c.header.Timestamp, true
}

type fakeView struct {
	balances map[chainkey.PublicKey]uint64
	nonces   map[chainkey.PublicKey]uint64
}

func newFakeView() *fakeView {
	return &fakeView{balances: make(map[chainkey.PublicKey]uint64), nonces: make(map[chainkey.PublicKey]uint64)}
}
func (v *fakeView) Balance(account [32]byte) uint64 { return v.balances[account] }
func (v *fakeView) Nonce(account [32]byte) uint64   { return v.nonces[account] }

func newFakeChain(t *testing.T, params *chaincfg.Params) *fakeChain {
	t.Helper()
	header := &chainmodel.BlockHeader{Version: 1, Height: 5, Timestamp: 1_700_000_000, Difficulty: params.MinDifficulty}
	return &fakeChain{tipHash: header.Hash(), tipHeight: 5, header: header, supply: 0}
}

func TestBuildTemplateOrdersMempoolByFeeDensity(t *testing.T) {
	params := testParams()
	chain := newFakeChain(t, params)
	pool := mempool.New(params)
	view := newFakeView()

	low := testKeyPair(t, 1)
	high := testKeyPair(t, 2)
	recipient := testKeyPair(t, 3)
	view.balances[low.Public] = 1_000_000_000
	view.balances[high.Public] = 1_000_000_000

	lowTx := &chainmodel.Transaction{ChainID: params.ChainID, To: recipient.Public, Amount: 100, Fee: 10, Nonce: 0}
	lowTx.Sign(low)
	highTx := &chainmodel.Transaction{ChainID: params.ChainID, To: recipient.Public, Amount: 100, Fee: 10000, Nonce: 0}
	highTx.Sign(high)

	if err := pool.Admit(lowTx, view); err != nil {
		t.Fatalf("admitting low fee tx: %s", err)
	}
	if err := pool.Admit(highTx, view); err != nil {
		t.Fatalf("admitting high fee tx: %s", err)
	}

	miner := New(params, chain, pool, testKeyPair(t, 9).Public, 1)
	template, err := miner.BuildTemplate(time.Unix(int64(chain.header.Timestamp+1), 0))
	if err != nil {
		t.Fatalf("building template: %s", err)
	}

	if !template.Block.Transactions[0].IsCoinbase() {
		t.Fatal("the template's first transaction must be the coinbase")
	}
	if len(template.Block.Transactions) != 3 {
		t.Fatalf("expected coinbase plus both pooled transactions, got %d transactions", len(template.Block.Transactions))
	}
	if template.Block.Transactions[1].Hash() != highTx.Hash() {
		t.Fatal("higher fee density transaction should be placed ahead of the lower one")
	}
	if template.Block.Transactions[2].Hash() != lowTx.Hash() {
		t.Fatal("lower fee density transaction should follow the higher one")
	}

	if template.Block.Header.Height != chain.tipHeight+1 {
		t.Fatalf("expected template height %d, got %d", chain.tipHeight+1, template.Block.Header.Height)
	}
	if template.Block.Header.PreviousHash != chain.tipHash {
		t.Fatal("template must extend the chain's current tip")
	}
}

func TestMineFindsWinningNonce(t *testing.T) {
	params := testParams()
	params.MinDifficulty = 4 // a handful of leading zero bits, fast to brute force in a test
	chain := newFakeChain(t, params)
	pool := mempool.New(params)

	miner := New(params, chain, pool, testKeyPair(t, 9).Public, 2)
	template, err := miner.BuildTemplate(time.Unix(int64(chain.header.Timestamp+1), 0))
	if err != nil {
		t.Fatalf("building template: %s", err)
	}

	stop := make(chan struct{})
	block := miner.Mine(template, stop)
	if block == nil {
		t.Fatal("expected Mine to find a winning nonce and return a solved block")
	}
	if !block.Header.MeetsDifficulty() {
		t.Fatal("solved block's header must satisfy its declared difficulty")
	}
}

func TestMineStopsOnSignal(t *testing.T) {
	params := testParams()
	params.MinDifficulty = 250 // effectively unreachable, forces Mine to run until stopped
	chain := newFakeChain(t, params)
	pool := mempool.New(params)

	miner := New(params, chain, pool, testKeyPair(t, 9).Public, 1)
	template, err := miner.BuildTemplate(time.Unix(int64(chain.header.Timestamp+1), 0))
	if err != nil {
		t.Fatalf("building template: %s", err)
	}
	template.Block.Header.Difficulty = 250

	stop := make(chan struct{})
	close(stop)
	block := miner.Mine(template, stop)
	if block != nil {
		t.Fatal("expected Mine to return nil when stop is already closed before a solution is found")
	}
}
