package chainmodel

import "math/big"

// WorkValue is cumulative chain work, the sum of 2^difficulty across a
// chain's headers (spec.md §3 glossary: "chain work"). Difficulty can
// reach MaxDifficulty=192 bits, well past uint64, so work accumulates
// in arbitrary-precision integers the same way the teacher's
// difficultymanager accumulates per-block work (big.Int-based, see
// domain/consensus/processes/difficultymanager/hashrate.go).
type WorkValue struct {
	v *big.Int
}

// NewWorkValue returns a zero-valued WorkValue.
func NewWorkValue() *WorkValue {
	return &WorkValue{v: new(big.Int)}
}

// Lsh sets w to 1<<bits and returns w.
func (w *WorkValue) Lsh(bits uint) *WorkValue {
	w.v = new(big.Int).Lsh(big.NewInt(1), bits)
	return w
}

// Add returns the sum of w and other as a new WorkValue.
func (w *WorkValue) Add(other *WorkValue) *WorkValue {
	return &WorkValue{v: new(big.Int).Add(w.v, other.v)}
}

// Cmp compares w to other: -1, 0, or 1.
func (w *WorkValue) Cmp(other *WorkValue) int {
	return w.v.Cmp(other.v)
}

// String renders w in decimal.
func (w *WorkValue) String() string {
	return w.v.String()
}

// Bytes returns w's big-endian byte representation, used when
// persisting cumulative work alongside a block's index entry.
func (w *WorkValue) Bytes() []byte {
	return w.v.Bytes()
}

// WorkValueFromBytes reconstructs a WorkValue from Bytes' output.
func WorkValueFromBytes(b []byte) *WorkValue {
	return &WorkValue{v: new(big.Int).SetBytes(b)}
}
