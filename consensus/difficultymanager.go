package consensus

import (
	"math/big"

	"github.com/emberchain/emberd/chaincfg"
)

// HeaderTimestamps is the minimal chain lookup the difficulty manager
// needs: the timestamp of the block at a given height along the
// active chain.
type HeaderTimestamps interface {
	TimestampAtHeight(height uint64) (uint64, bool)
}

// DifficultyManager computes the expected difficulty for the block
// following a given parent, grounded on the teacher's difficultymanager
// process (domain/consensus/processes/difficultymanager), adapted from
// kaspad's GHOSTDAG windowed-average retarget to the spec's simpler
// fixed-interval integer retarget.
type DifficultyManager struct {
	params *chaincfg.Params
}

// NewDifficultyManager builds a manager for params' network.
func NewDifficultyManager(params *chaincfg.Params) *DifficultyManager {
	return &DifficultyManager{params: params}
}

// ExpectedDifficulty returns the difficulty a block at parentHeight+1
// must declare. Heights that don't fall on a retarget boundary inherit
// the parent's difficulty unchanged (spec.md §4.4).
func (m *DifficultyManager) ExpectedDifficulty(parentHeight uint64, parentDifficulty uint32, timestamps HeaderTimestamps) uint32 {
	newHeight := parentHeight + 1
	if newHeight%m.params.RetargetInterval != 0 || parentHeight < m.params.RetargetInterval {
		return parentDifficulty
	}

	tipTimestamp, ok := timestamps.TimestampAtHeight(parentHeight)
	if !ok {
		return parentDifficulty
	}
	windowStartHeight := parentHeight - m.params.RetargetInterval
	windowStartTimestamp, ok := timestamps.TimestampAtHeight(windowStartHeight)
	if !ok {
		return parentDifficulty
	}

	actual := int64(tipTimestamp) - int64(windowStartTimestamp)
	if actual < 1 {
		actual = 1
	}
	target := int64(m.params.RetargetInterval * m.params.TargetBlockSecs)

	current := big.NewInt(int64(parentDifficulty))
	// new = current * target / actual, wide intermediate to avoid
	// overflow (spec.md §4.4: "u128 intermediate").
	scaled := new(big.Int).Mul(current, big.NewInt(target))
	scaled.Div(scaled, big.NewInt(actual))

	lowerBound := new(big.Int).Mul(current, big.NewInt(3))
	lowerBound.Div(lowerBound, big.NewInt(4))
	upperBound := new(big.Int).Mul(current, big.NewInt(5))
	upperBound.Div(upperBound, big.NewInt(4))

	if scaled.Cmp(lowerBound) < 0 {
		scaled = lowerBound
	}
	if scaled.Cmp(upperBound) > 0 {
		scaled = upperBound
	}

	minD := big.NewInt(int64(m.params.MinDifficulty))
	maxD := big.NewInt(int64(m.params.MaxDifficulty))
	if scaled.Cmp(minD) < 0 {
		scaled = minD
	}
	if scaled.Cmp(maxD) > 0 {
		scaled = maxD
	}

	return uint32(scaled.Uint64())
}
