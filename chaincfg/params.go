// Package chaincfg defines the tunable consensus parameters that
// distinguish one emberd network (mainnet/testnet/regtest) from
// another, grounded on the teacher's dagconfig.Params shape.
package chaincfg

import (
	"time"

	"github.com/emberchain/emberd/chainkey"
	"github.com/emberchain/emberd/chainmodel"
	"github.com/pkg/errors"
)

// Network identifies one of the node's supported networks by its magic.
type Network uint32

const (
	Mainnet Network = 0xe3b3c1a0
	Testnet Network = 0xe3b3c1a1
	Regtest Network = 0xe3b3c1a2
)

func (n Network) String() string {
	switch n {
	case Mainnet:
		return "mainnet"
	case Testnet:
		return "testnet"
	case Regtest:
		return "regtest"
	default:
		return "unknown"
	}
}

// Params defines one emberd network's consensus and networking
// parameters (spec.md §6 "Canonical constants").
type Params struct {
	Name Network

	// ChainID is embedded in every transaction's signing preimage,
	// preventing cross-network replay (spec.md §3, §4.2).
	ChainID uint32

	DefaultPort string
	DNSSeeds    []string

	GenesisBlockFn func() *chainmodel.Block

	// TargetBlockSecs is the desired average seconds between blocks.
	TargetBlockSecs uint64
	// RetargetInterval is the number of blocks between difficulty
	// recalculations.
	RetargetInterval uint64
	// MinDifficulty and MaxDifficulty bound the leading-zero-bit target.
	MinDifficulty uint32
	MaxDifficulty uint32
	// MaxRetargetAdjustmentPercent records the bound on a single
	// retarget step, as a percentage of the previous difficulty
	// (spec.md §4.4: "clamped to ±25%"). DifficultyManager does not
	// read it; it applies a fixed 3/4..5/4 clamp.
	MaxRetargetAdjustmentPercent uint64

	// MaxFutureDriftSecs is how far into the future a block timestamp
	// may be relative to the receiving node's clock before it is
	// rejected outright (spec.md §4.3).
	MaxFutureDriftSecs uint64

	// MaxBlockBytes and MaxBlockTxs bound a block's serialized size
	// and transaction count (spec.md §3).
	MaxBlockBytes int
	MaxBlockTxs   int
	// MaxTxBytes and MaxDataBytes bound a single transaction.
	MaxTxBytes   int
	MaxDataBytes int

	// InitialBlockReward is the coinbase subsidy paid at height 1,
	// before any halving (spec.md §4.5).
	InitialBlockReward uint64
	// HalvingInterval is the block-height period after which the
	// subsidy is halved.
	HalvingInterval uint64
	// MaxSupply is the hard cap on total base units ever to exist.
	MaxSupply uint64
	// CoinbaseMaturity is the number of confirmations a coinbase
	// output needs before it is spendable (Open Question, decided in
	// DESIGN.md: 100).
	CoinbaseMaturity uint64

	// MinRelayFee and FeePerByte together set the economic fee floor a
	// transaction must clear to be admitted: fee >= MinRelayFee +
	// size*FeePerByte, an additive base-fee-plus-per-byte-surcharge rule
	// (spec.md §4.2), not a fee-density comparison.
	MinRelayFee uint64
	FeePerByte  uint64

	// Mempool bounds (spec.md §5).
	MaxMempoolTransactions int
	MaxTransactionsPerSender int
	MaxNonceGap              uint64
	RBFMinIncreasePercent    uint64
	// MinFeeDensity is the mempool admission pipeline's own floor on
	// fee/size (spec.md §4.7 step 4), distinct from the isolation-level
	// additive fee floor above: a transaction can clear MinRelayFee+
	// FeePerByte*size yet still be too thin relative to its size to be
	// worth holding under load.
	MinFeeDensity float64

	// Networking bounds (spec.md §6).
	MaxMessageBytes     int
	MaxBytesPerSecond   int
	OrphanPoolCapacity  int
	OrphanPoolTTL       time.Duration
	PeerBanScore        int
	PeerBanDuration     time.Duration

	// Checkpoints pins known-good block hashes at specific heights.
	// During initial block download a header chain that disagrees with
	// a checkpoint it reaches is rejected outright rather than merely
	// scored down (spec.md §4.8 "IBD ... hard-fail on checkpoint
	// mismatch").
	Checkpoints map[uint64]chainkey.Hash
}

// MainnetParams are emberd's production network parameters.
var MainnetParams = Params{
	Name:        Mainnet,
	ChainID:     1,
	DefaultPort: "ember-mainnet",
	DNSSeeds:    []string{"seed1.emberchain.example", "seed2.emberchain.example"},

	GenesisBlockFn: mainnetGenesis,

	TargetBlockSecs:              120,
	RetargetInterval:             10,
	MinDifficulty:                8,
	MaxDifficulty:                192,
	MaxRetargetAdjustmentPercent: 25,

	MaxFutureDriftSecs:    300,

	MaxBlockBytes: 1024 * 1024,
	MaxBlockTxs:   10000,
	MaxTxBytes:    100 * 1024,
	MaxDataBytes:  8192,

	InitialBlockReward: 50 * 1e8,
	HalvingInterval:    210000,
	MaxSupply:          21000000 * 1e8,
	CoinbaseMaturity:   100,

	MinRelayFee: 1000,
	FeePerByte:  10,

	MaxMempoolTransactions:   10000,
	MaxTransactionsPerSender: 100,
	MaxNonceGap:              10,
	RBFMinIncreasePercent:    10,
	MinFeeDensity:            1.0,

	MaxMessageBytes:    2 * 1024 * 1024,
	MaxBytesPerSecond:  5 * 1024 * 1024,
	OrphanPoolCapacity: 100,
	OrphanPoolTTL:      15 * time.Minute,
	PeerBanScore:       100,
	PeerBanDuration:    24 * time.Hour,
}

// TestnetParams relax timing and difficulty for a public test network.
var TestnetParams = Params{
	Name:        Testnet,
	ChainID:     2,
	DefaultPort: "ember-testnet",
	DNSSeeds:    []string{"testnet-seed.emberchain.example"},

	GenesisBlockFn: testnetGenesis,

	TargetBlockSecs:              30,
	RetargetInterval:             10,
	MinDifficulty:                1,
	MaxDifficulty:                192,
	MaxRetargetAdjustmentPercent: 25,

	MaxFutureDriftSecs:    300,

	MaxBlockBytes: 1024 * 1024,
	MaxBlockTxs:   10000,
	MaxTxBytes:    100 * 1024,
	MaxDataBytes:  8192,

	InitialBlockReward: 50 * 1e8,
	HalvingInterval:    210000,
	MaxSupply:          21000000 * 1e8,
	CoinbaseMaturity:   10,

	MinRelayFee: 0,
	FeePerByte:  0,

	MaxMempoolTransactions:   10000,
	MaxTransactionsPerSender: 100,
	MaxNonceGap:              10,
	RBFMinIncreasePercent:    10,
	MinFeeDensity:            0,

	MaxMessageBytes:    4 * 1024 * 1024,
	MaxBytesPerSecond:  16 * 1024 * 1024,
	OrphanPoolCapacity: 100,
	OrphanPoolTTL:      15 * time.Minute,
	PeerBanScore:       100,
	PeerBanDuration:    time.Hour,
}

// RegtestParams are for local single-node or scripted multi-node testing:
// minimal difficulty, one-second target block time, no DNS seeds.
var RegtestParams = Params{
	Name:        Regtest,
	ChainID:     3,
	DefaultPort: "ember-regtest",
	DNSSeeds:    nil,

	GenesisBlockFn: regtestGenesis,

	TargetBlockSecs:              1,
	RetargetInterval:             10,
	MinDifficulty:                1,
	MaxDifficulty:                192,
	MaxRetargetAdjustmentPercent: 25,

	MaxFutureDriftSecs:    300,

	MaxBlockBytes: 1024 * 1024,
	MaxBlockTxs:   10000,
	MaxTxBytes:    100 * 1024,
	MaxDataBytes:  8192,

	InitialBlockReward: 50 * 1e8,
	HalvingInterval:    150,
	MaxSupply:          21000000 * 1e8,
	CoinbaseMaturity:   1,

	MinRelayFee: 0,
	FeePerByte:  0,

	MaxMempoolTransactions:   10000,
	MaxTransactionsPerSender: 100,
	MaxNonceGap:              10,
	RBFMinIncreasePercent:    10,
	MinFeeDensity:            0,

	MaxMessageBytes:    4 * 1024 * 1024,
	MaxBytesPerSecond:  64 * 1024 * 1024,
	OrphanPoolCapacity: 100,
	OrphanPoolTTL:      15 * time.Minute,
	PeerBanScore:       100,
	PeerBanDuration:    time.Minute,
}

// ErrDuplicateNetwork is returned by Register for an already-registered network.
var ErrDuplicateNetwork = errors.New("duplicate network")

var registeredNetworks = make(map[Network]*Params)

// Register records params under its Name so ParamsForNetwork can find
// it later. Mirrors the teacher's dagconfig.Register/mustRegister
// pattern for letting callers add their own network parameters.
func Register(params *Params) error {
	if _, ok := registeredNetworks[params.Name]; ok {
		return ErrDuplicateNetwork
	}
	registeredNetworks[params.Name] = params
	return nil
}

func mustRegister(params *Params) {
	if err := Register(params); err != nil {
		panic("chaincfg: failed to register network: " + err.Error())
	}
}

func init() {
	mustRegister(&MainnetParams)
	mustRegister(&TestnetParams)
	mustRegister(&RegtestParams)
}

// ParamsForNetwork looks up a registered network's parameters.
func ParamsForNetwork(n Network) (*Params, error) {
	p, ok := registeredNetworks[n]
	if !ok {
		return nil, errors.Errorf("unknown network %s", n)
	}
	return p, nil
}
