package mempool

import (
	"testing"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
)

// fakeView is a minimal consensus.AccountView backed by plain maps, so
// admission tests can control balance/nonce directly instead of
// standing up a full storage-backed state manager.
type fakeView struct {
	balances map[chainkey.PublicKey]uint64
	nonces   map[chainkey.PublicKey]uint64
}

func newFakeView() *fakeView {
	return &fakeView{
		balances: make(map[chainkey.PublicKey]uint64),
		nonces:   make(map[chainkey.PublicKey]uint64),
	}
}

func (v *fakeView) Balance(account [32]byte) uint64 { return v.balances[account] }
func (v *fakeView) Nonce(account [32]byte) uint64   { return v.nonces[account] }

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

// testParams uses the regtest network (zero relay fee floor), so every
// test below controls fee density purely through its own literal fee
// values rather than fighting a nonzero MinRelayFee/FeePerByte floor.
func testParams() *chaincfg.Params {
	p := chaincfg.RegtestParams
	return &p
}

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

func TestAdmitNonceGapBoundary(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1_000_000_000
	view.nonces[sender.Public] = 0

	atGap := buildTx(sender, params.ChainID, recipient.Public, 100, 10, params.MaxNonceGap)
	if err := pool.Admit(atGap, view); err != nil {
		t.Fatalf("nonce exactly MaxNonceGap ahead should be admitted, got: %s", err)
	}

	sender2 := testKeyPair(t, 3)
	view.balances[sender2.Public] = 1_000_000_000
	view.nonces[sender2.Public] = 0
	overGap := buildTx(sender2, params.ChainID, recipient.Public, 100, 10, params.MaxNonceGap+1)
	if err := pool.Admit(overGap, view); err == nil {
		t.Fatal("nonce one past MaxNonceGap should be rejected")
	}
}

func TestAdmitNonceTooLowRejected(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1_000_000_000
	view.nonces[sender.Public] = 5

	tx := buildTx(sender, params.ChainID, recipient.Public, 100, 10, 4)
	if err := pool.Admit(tx, view); err == nil {
		t.Fatal("nonce below account's expected nonce should be rejected")
	}
}

func TestAdmitInsufficientBalanceAccountsForPending(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1000
	view.nonces[sender.Public] = 0

	first := buildTx(sender, params.ChainID, recipient.Public, 900, 10, 0)
	if err := pool.Admit(first, view); err != nil {
		t.Fatalf("first spend should be admitted, got: %s", err)
	}

	second := buildTx(sender, params.ChainID, recipient.Public, 900, 10, 1)
	if err := pool.Admit(second, view); err == nil {
		t.Fatal("second spend should be rejected: pending debits from the first already exhaust the balance")
	}
}

func TestAdmitReplaceByFeeBoundary(t *testing.T) {
	params := testParams()
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1_000_000_000
	view.nonces[sender.Public] = 0

	original := buildTx(sender, params.ChainID, recipient.Public, 100, 1000, 0)
	originalDensity := original.FeeDensity()
	minRequired := originalDensity * (1 + float64(params.RBFMinIncreasePercent)/100)
	// Replacement carries the same Data length (empty) as original, so
	// fee density scales linearly with fee: solve for the fee at each
	// side of the RBF boundary directly.
	feeAtBoundary := float64(original.Fee) * minRequired / originalDensity

	poolBelow := New(params)
	if err := poolBelow.Admit(original, view); err != nil {
		t.Fatalf("admitting original into fresh pool: %s", err)
	}
	below := buildTx(sender, params.ChainID, recipient.Public, 100, uint64(feeAtBoundary*0.999), 0)
	if err := poolBelow.Admit(below, view); err == nil {
		t.Fatal("replacement fee density just under 1.1x original should be rejected")
	}

	poolAbove := New(params)
	if err := poolAbove.Admit(original, view); err != nil {
		t.Fatalf("admitting original into fresh pool: %s", err)
	}
	above := buildTx(sender, params.ChainID, recipient.Public, 100, uint64(feeAtBoundary)+1, 0)
	if err := poolAbove.Admit(above, view); err != nil {
		t.Fatalf("replacement fee density at/above 1.1x original should be admitted, got: %s", err)
	}
	if poolAbove.Len() != 1 {
		t.Fatalf("replacement should still occupy a single slot, got %d entries", poolAbove.Len())
	}
	if !poolAbove.Has(above.Hash()) || poolAbove.Has(original.Hash()) {
		t.Fatal("replacement should have displaced the original transaction")
	}
}

func TestAdmitPerSenderCap(t *testing.T) {
	params := testParams()
	params.MaxTransactionsPerSender = 2
	pool := New(params)
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1_000_000_000
	view.nonces[sender.Public] = 0

	for nonce := uint64(0); nonce < 2; nonce++ {
		tx := buildTx(sender, params.ChainID, recipient.Public, 100, 10, nonce)
		if err := pool.Admit(tx, view); err != nil {
			t.Fatalf("admitting transaction %d: %s", nonce, err)
		}
	}

	third := buildTx(sender, params.ChainID, recipient.Public, 100, 10, 2)
	if err := pool.Admit(third, view); err == nil {
		t.Fatal("third transaction from the same sender should be rejected once MaxTransactionsPerSender is reached")
	}
}

func TestAdmitFullPoolEvictsLowestDensity(t *testing.T) {
	params := testParams()
	params.MaxMempoolTransactions = 1
	pool := New(params)
	view := newFakeView()

	low := testKeyPair(t, 1)
	high := testKeyPair(t, 2)
	recipient := testKeyPair(t, 3)
	view.balances[low.Public] = 1_000_000_000
	view.balances[high.Public] = 1_000_000_000

	lowTx := buildTx(low, params.ChainID, recipient.Public, 100, 10, 0)
	if err := pool.Admit(lowTx, view); err != nil {
		t.Fatalf("admitting low fee tx: %s", err)
	}

	highTx := buildTx(high, params.ChainID, recipient.Public, 100, 10000, 0)
	if err := pool.Admit(highTx, view); err != nil {
		t.Fatalf("higher density transaction should evict the lowest and be admitted, got: %s", err)
	}
	if pool.Has(lowTx.Hash()) {
		t.Fatal("lowest fee density transaction should have been evicted")
	}
	if !pool.Has(highTx.Hash()) {
		t.Fatal("higher fee density transaction should be pooled")
	}

	equalSender := testKeyPair(t, 4)
	view.balances[equalSender.Public] = 1_000_000_000
	equalTx := buildTx(equalSender, params.ChainID, recipient.Public, 100, 10000, 0)
	if err := pool.Admit(equalTx, view); err == nil {
		t.Fatal("a transaction at exactly the lowest pooled density should not evict or be admitted into a full pool")
	}
}

func TestEvictConfirmedDropsStaleNonces(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1_000_000_000

	tx0 := buildTx(sender, params.ChainID, recipient.Public, 100, 10, 0)
	tx1 := buildTx(sender, params.ChainID, recipient.Public, 100, 10, 1)
	if err := pool.Admit(tx0, view); err != nil {
		t.Fatalf("admitting tx0: %s", err)
	}
	if err := pool.Admit(tx1, view); err != nil {
		t.Fatalf("admitting tx1: %s", err)
	}

	// The chain advances past both nonces via some other means (e.g. a
	// block built from a different mempool snapshot); this node's view
	// now reports nonce 2 for sender.
	view.nonces[sender.Public] = 2
	pool.EvictConfirmed(nil, view)

	if pool.Has(tx0.Hash()) || pool.Has(tx1.Hash()) {
		t.Fatal("transactions with nonces below the account's current nonce should be evicted")
	}
	if pool.Len() != 0 {
		t.Fatalf("expected empty pool after eviction, got %d entries", pool.Len())
	}
}

// TestSelectForMiningSkipsNonceGap exercises SelectForMining's use of
// the account view's true on-chain nonce, not merely the lowest nonce
// present in the pool: a pooled transaction is the only entry and the
// lowest (only) pooled nonce for its sender, but the chain's own
// expected nonce for that sender is still 0, so the pooled nonce (1)
// is a gap relative to chain state and must be excluded even though
// nothing in the pool itself outranks it.
func TestSelectForMiningSkipsNonceGap(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	sender := testKeyPair(t, 1)
	recipient := testKeyPair(t, 2)
	view.balances[sender.Public] = 1_000_000_000

	nonce1 := buildTx(sender, params.ChainID, recipient.Public, 100, 10000, 1)
	if err := pool.Admit(nonce1, view); err != nil {
		t.Fatalf("admitting nonce 1: %s", err)
	}

	selected := pool.SelectForMining(1<<20, 100, view)
	for _, tx := range selected {
		if tx.Hash() == nonce1.Hash() {
			t.Fatal("nonce 1 leaves a gap against the chain's expected nonce of 0 and must not be selected")
		}
	}
}

// TestSelectForMiningOrdersByDensity exercises the ordinary
// multi-sender case: transactions are offered in fee-density
// descending order.
func TestSelectForMiningOrdersByDensity(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	senderA := testKeyPair(t, 1)
	senderB := testKeyPair(t, 2)
	recipient := testKeyPair(t, 3)
	view.balances[senderA.Public] = 1_000_000_000
	view.balances[senderB.Public] = 1_000_000_000

	low := buildTx(senderA, params.ChainID, recipient.Public, 100, 10, 0)
	high := buildTx(senderB, params.ChainID, recipient.Public, 100, 10000, 0)
	if err := pool.Admit(low, view); err != nil {
		t.Fatalf("admitting low density tx: %s", err)
	}
	if err := pool.Admit(high, view); err != nil {
		t.Fatalf("admitting high density tx: %s", err)
	}

	selected := pool.SelectForMining(1<<20, 100, view)
	if len(selected) != 2 {
		t.Fatalf("expected both transactions selected, got %d", len(selected))
	}
	if selected[0].Hash() != high.Hash() || selected[1].Hash() != low.Hash() {
		t.Fatal("expected selection ordered by fee density descending")
	}
}

// TestSelectForMiningRespectsMaxCount confirms the selector stops at
// maxCount even with room left under maxBytes.
func TestSelectForMiningRespectsMaxCount(t *testing.T) {
	params := testParams()
	pool := New(params)
	view := newFakeView()

	recipient := testKeyPair(t, 9)
	for i := byte(0); i < 5; i++ {
		sender := testKeyPair(t, 10+i)
		view.balances[sender.Public] = 1_000_000_000
		tx := buildTx(sender, params.ChainID, recipient.Public, 100, 10, 0)
		if err := pool.Admit(tx, view); err != nil {
			t.Fatalf("admitting transaction %d: %s", i, err)
		}
	}

	selected := pool.SelectForMining(1<<20, 3, view)
	if len(selected) != 3 {
		t.Fatalf("expected exactly maxCount (3) transactions selected, got %d", len(selected))
	}
}
