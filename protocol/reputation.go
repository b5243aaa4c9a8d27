package protocol

import "sync"

// Reputation score deltas and thresholds, taken literally from
// spec.md §4.8: bounded integer score per peer, good/bad event
// deltas, warn/disconnect/ban thresholds, and a decay-toward-zero
// rule. The teacher's addressmanager only tracks a boolean banned
// set (infrastructure/network/addressmanager/addressmanager.go); this
// integer score supplements that with the graduated reputation model
// the spec requires.
const (
	ReputationMin = -200
	ReputationMax = 200

	ScoreValidBlock       = 1
	ScoreValidTransaction = 1
	ScoreInvalidBlock     = -10
	ScoreInvalidTx        = -5
	ScoreOversized        = -20
	ScoreProtocolViolation = -50

	WarnThreshold      = -50
	DisconnectThreshold = -100
	BanThreshold       = -150

	// DecayInterval is the period one decay step stands for; a step
	// moves negative scores toward zero by +2 and positive scores
	// toward zero by -1.
	DecayInterval        = 5 // minutes
	DecayNegativeStep    = 2
	DecayPositiveStep    = 1
)

// Reputation tracks one peer's integer score and ban state.
type Reputation struct {
	mu       sync.Mutex
	score    int
	bannedAt int64 // unix seconds, 0 if not banned
}

// NewReputation starts a peer at a neutral score.
func NewReputation() *Reputation {
	return &Reputation{}
}

// Score returns the current score.
func (r *Reputation) Score() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// Apply adds delta to the score, clamped to [ReputationMin, ReputationMax].
func (r *Reputation) Apply(delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyLocked(delta)
}

func (r *Reputation) applyLocked(delta int) {
	r.score += delta
	if r.score > ReputationMax {
		r.score = ReputationMax
	}
	if r.score < ReputationMin {
		r.score = ReputationMin
	}
}

// ShouldWarn reports whether the score has crossed the warn threshold.
func (r *Reputation) ShouldWarn() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score <= WarnThreshold
}

// ShouldDisconnect reports whether the score has crossed the
// disconnect threshold.
func (r *Reputation) ShouldDisconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score <= DisconnectThreshold
}

// ShouldBan reports whether the score has crossed the ban threshold.
func (r *Reputation) ShouldBan() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score <= BanThreshold
}

// Ban marks the peer banned as of nowUnix.
func (r *Reputation) Ban(nowUnix int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bannedAt = nowUnix
}

// IsBanned reports whether the ban is still active given banDurationSecs.
func (r *Reputation) IsBanned(nowUnix int64, banDurationSecs int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bannedAt == 0 {
		return false
	}
	return nowUnix-r.bannedAt < banDurationSecs
}

// ExpireBanIfDue clears an expired ban and restores the score to the
// warn threshold (spec.md §4.8 "Ban expiry restores score to the warn
// threshold").
func (r *Reputation) ExpireBanIfDue(nowUnix int64, banDurationSecs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bannedAt == 0 {
		return
	}
	if nowUnix-r.bannedAt >= banDurationSecs {
		r.bannedAt = 0
		r.score = WarnThreshold
	}
}

// Decay moves the score one step toward zero: negative scores by
// +DecayNegativeStep, positive scores by -DecayPositiveStep. It runs
// only when called (see PeerManager.DecayAll); nothing schedules it.
func (r *Reputation) Decay() {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.score < 0:
		r.score += DecayNegativeStep
		if r.score > 0 {
			r.score = 0
		}
	case r.score > 0:
		r.score -= DecayPositiveStep
		if r.score < 0 {
			r.score = 0
		}
	}
}
