package consensus

import (
	"testing"
	"time"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
)

func testParams() *chaincfg.Params {
	p := chaincfg.RegtestParams
	p.RetargetInterval = 10
	p.TargetBlockSecs = 100
	p.MinDifficulty = 8
	p.MaxDifficulty = 192
	return &p
}

type fakeTimestamps map[uint64]uint64

func (f fakeTimestamps) TimestampAtHeight(height uint64) (uint64, bool) {
	ts, ok := f[height]
	return ts, ok
}

func TestDifficultyNoRetargetOffBoundary(t *testing.T) {
	params := testParams()
	m := NewDifficultyManager(params)
	// parentHeight+1 = 15 is not a multiple of RetargetInterval (10).
	got := m.ExpectedDifficulty(14, 100, fakeTimestamps{})
	if got != 100 {
		t.Fatalf("expected difficulty unchanged off a retarget boundary, got %d", got)
	}
}

func TestDifficultyRetargetClampsUpperBound(t *testing.T) {
	params := testParams()
	m := NewDifficultyManager(params)
	// Window took far less than target time: blocks came in 10x too
	// fast, which would naively imply a 10x difficulty increase; the
	// actual adjustment must clamp to +25%.
	ts := fakeTimestamps{
		9:  1000,
		19: 1010, // 10 seconds elapsed vs. a 1000-second target window
	}
	got := m.ExpectedDifficulty(19, 100, ts)
	want := uint32(125) // 100 * 5/4
	if got != want {
		t.Fatalf("expected difficulty clamped to +25%% (%d), got %d", want, got)
	}
}

func TestDifficultyRetargetClampsLowerBound(t *testing.T) {
	params := testParams()
	m := NewDifficultyManager(params)
	// Window took far longer than target: naively implies a large
	// difficulty drop, clamped to -25%.
	ts := fakeTimestamps{
		9:  1000,
		19: 100000,
	}
	got := m.ExpectedDifficulty(19, 100, ts)
	want := uint32(75) // 100 * 3/4
	if got != want {
		t.Fatalf("expected difficulty clamped to -25%% (%d), got %d", want, got)
	}
}

func TestDifficultyRetargetRespectsNetworkBounds(t *testing.T) {
	params := testParams()
	params.MinDifficulty = 90
	m := NewDifficultyManager(params)
	ts := fakeTimestamps{
		9:  1000,
		19: 100000,
	}
	got := m.ExpectedDifficulty(19, 100, ts)
	if got != params.MinDifficulty {
		t.Fatalf("expected difficulty floored at network MinDifficulty (%d), got %d", params.MinDifficulty, got)
	}
}

func TestDifficultyRetargetMissingHistoryKeepsParent(t *testing.T) {
	params := testParams()
	m := NewDifficultyManager(params)
	got := m.ExpectedDifficulty(19, 100, fakeTimestamps{})
	if got != 100 {
		t.Fatal("missing timestamp history should leave difficulty unchanged rather than panic or guess")
	}
}

func TestSubsidyHalvingSchedule(t *testing.T) {
	params := testParams()
	params.InitialBlockReward = 1000
	params.HalvingInterval = 100
	c := NewCoinbaseManager(params)

	cases := []struct {
		height uint64
		want   uint64
	}{
		{0, 1000},
		{99, 1000},
		{100, 500},
		{199, 500},
		{200, 250},
	}
	for _, tc := range cases {
		if got := c.SubsidyAt(tc.height); got != tc.want {
			t.Errorf("SubsidyAt(%d) = %d, want %d", tc.height, got, tc.want)
		}
	}
}

func TestSubsidyZeroAfter64Halvings(t *testing.T) {
	params := testParams()
	params.InitialBlockReward = 1000
	params.HalvingInterval = 1
	c := NewCoinbaseManager(params)
	if got := c.SubsidyAt(64); got != 0 {
		t.Fatalf("expected zero subsidy at the 64th halving, got %d", got)
	}
}

func TestValidateCoinbaseRejectsWrongAmount(t *testing.T) {
	params := testParams()
	c := NewCoinbaseManager(params)
	kp := testKeyPair(t, 1)

	coinbase, err := chainmodel.NewCoinbaseTransaction(kp.Public, 1, 9999, 10)
	if err != nil {
		t.Fatalf("building coinbase: %s", err)
	}
	if err := c.ValidateCoinbase(coinbase, 1, 10, 0); err == nil {
		t.Fatal("coinbase amount not matching subsidy+fees should be rejected")
	}
}

func TestValidateCoinbaseRejectsSupplyCapBreach(t *testing.T) {
	params := testParams()
	params.MaxSupply = 500
	c := NewCoinbaseManager(params)
	kp := testKeyPair(t, 1)

	subsidy := c.SubsidyAt(1)
	coinbase, err := chainmodel.NewCoinbaseTransaction(kp.Public, 1, subsidy, 0)
	if err != nil {
		t.Fatalf("building coinbase: %s", err)
	}
	if err := c.ValidateCoinbase(coinbase, 1, 0, params.MaxSupply); err == nil {
		t.Fatal("issuing any further subsidy once at the supply cap should be rejected")
	}
}

// testKeyPair mirrors chainmodel's test helper; consensus is a
// different package so it needs its own copy.
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

type fakeChainView struct {
	headers    map[chainkey.Hash]*chainmodel.BlockHeader
	timestamps fakeTimestamps
}

func newFakeChainView() *fakeChainView {
	return &fakeChainView{
		headers:    make(map[chainkey.Hash]*chainmodel.BlockHeader),
		timestamps: make(fakeTimestamps),
	}
}

func (v *fakeChainView) HeaderByHash(hash chainkey.Hash) (*chainmodel.BlockHeader, bool) {
	h, ok := v.headers[hash]
	return h, ok
}

func (v *fakeChainView) TimestampAtHeight(height uint64) (uint64, bool) {
	return v.timestamps.TimestampAtHeight(height)
}

// mineHeader brute-forces a nonce satisfying difficulty; at the low
// test difficulty used here (1 leading zero bit) this takes a
// handful of tries.
func mineHeader(h *chainmodel.BlockHeader) {
	for nonce := uint64(0); ; nonce++ {
		h.Nonce = nonce
		if h.MeetsDifficulty() {
			return
		}
	}
}

// buildChildBlock constructs a single-coinbase block that passes every
// BlockValidator check except whatever the caller perturbs afterward,
// parented on parent at parent.Height+1 with the given timestamp.
func buildChildBlock(t *testing.T, params *chaincfg.Params, parent *chainmodel.BlockHeader, payTo chainkey.PublicKey, timestamp uint64) *chainmodel.Block {
	t.Helper()
	height := parent.Height + 1
	coinbase, err := chainmodel.NewCoinbaseTransaction(payTo, height, NewCoinbaseManager(params).SubsidyAt(height), 0)
	if err != nil {
		t.Fatalf("building coinbase: %s", err)
	}
	block := &chainmodel.Block{
		Header: chainmodel.BlockHeader{
			Version:      1,
			PreviousHash: parent.Hash(),
			Timestamp:    timestamp,
			Difficulty:   parent.Difficulty,
			Height:       height,
		},
		Transactions: []*chainmodel.Transaction{coinbase},
	}
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	mineHeader(&block.Header)
	return block
}

func TestBlockValidatorTimestampBoundary(t *testing.T) {
	params := testParams()
	params.MinDifficulty = 1
	params.MaxDifficulty = 1
	kp := testKeyPair(t, 1)

	fixedNow := time.Unix(2_000_000_000, 0)
	validator := NewBlockValidator(params, func() time.Time { return fixedNow })

	parent := &chainmodel.BlockHeader{Version: 1, Height: 0, Timestamp: 1000, Difficulty: 1}
	view := newFakeChainView()
	view.headers[parent.Hash()] = parent
	view.timestamps[0] = parent.Timestamp

	equal := buildChildBlock(t, params, parent, kp.Public, parent.Timestamp)
	if err := validator.Validate(equal, view, 0); err == nil {
		t.Fatal("a child timestamp equal to its parent's must be rejected")
	}

	ahead := buildChildBlock(t, params, parent, kp.Public, parent.Timestamp+1)
	if err := validator.Validate(ahead, view, 0); err != nil {
		t.Fatalf("a child timestamp exactly one second after its parent should be accepted, got: %s", err)
	}
}

func TestBlockValidatorFutureDriftBoundary(t *testing.T) {
	params := testParams()
	params.MinDifficulty = 1
	params.MaxDifficulty = 1
	kp := testKeyPair(t, 1)

	fixedNow := time.Unix(2_000_000_000, 0)
	validator := NewBlockValidator(params, func() time.Time { return fixedNow })

	parent := &chainmodel.BlockHeader{Version: 1, Height: 0, Timestamp: 1000, Difficulty: 1}
	view := newFakeChainView()
	view.headers[parent.Hash()] = parent
	view.timestamps[0] = parent.Timestamp

	nowUnix := uint64(fixedNow.Unix())

	atDrift := buildChildBlock(t, params, parent, kp.Public, nowUnix+params.MaxFutureDriftSecs)
	if err := validator.Validate(atDrift, view, 0); err != nil {
		t.Fatalf("a timestamp exactly now+MaxFutureDriftSecs should be accepted, got: %s", err)
	}

	overDrift := buildChildBlock(t, params, parent, kp.Public, nowUnix+params.MaxFutureDriftSecs+1)
	if err := validator.Validate(overDrift, view, 0); err == nil {
		t.Fatal("a timestamp one second past now+MaxFutureDriftSecs should be rejected")
	}
}

func TestBlockValidatorRejectsNonContiguousNonces(t *testing.T) {
	params := testParams()
	params.MinDifficulty = 1
	params.MaxDifficulty = 1
	miner := testKeyPair(t, 1)
	sender := testKeyPair(t, 2)
	recipient := testKeyPair(t, 3)

	fixedNow := time.Unix(2_000_000_000, 0)
	validator := NewBlockValidator(params, func() time.Time { return fixedNow })

	parent := &chainmodel.BlockHeader{Version: 1, Height: 0, Timestamp: 1000, Difficulty: 1}
	view := newFakeChainView()
	view.headers[parent.Hash()] = parent
	view.timestamps[0] = parent.Timestamp

	block := buildChildBlock(t, params, parent, miner.Public, parent.Timestamp+1)

	first := &chainmodel.Transaction{ChainID: params.ChainID, To: recipient.Public, Nonce: 0}
	first.Sign(sender)
	// Skips nonce 1: the same sender's two in-block transactions must
	// form a contiguous nonce run.
	skipped := &chainmodel.Transaction{ChainID: params.ChainID, To: recipient.Public, Nonce: 2}
	skipped.Sign(sender)
	block.Transactions = append(block.Transactions, first, skipped)
	block.Header.MerkleRoot = block.ComputeMerkleRoot()
	mineHeader(&block.Header)

	if err := validator.Validate(block, view, 0); err == nil {
		t.Fatal("a sender's in-block nonces with a gap should be rejected")
	}
}
