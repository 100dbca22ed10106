package bitwise

import "time"

// Budget decides whether the current quantum is used up. *core.Quantum
// implements it; tests substitute deterministic fakes.
type Budget interface {
	ChargeAndCheck(percent int) (exhausted bool)
}

// monitor tallies the quantum used by one episode.
type monitor struct {
	budget   Budget
	unit     time.Duration
	consumed uint64
}

// charge converts a chunk's cost to a percent of the quantum, adds it to
// the episode total and reports whether the budget is exhausted.
func (m *monitor) charge(cost time.Duration) bool {
	percent := fixRange(int64(cost / m.unit))
	m.consumed += uint64(percent)
	return m.budget.ChargeAndCheck(percent)
}

// fixRange clamps percent to [1, 100].
func fixRange(percent int64) int {
	switch {
	case percent <= 0:
		return 1
	case percent > 100:
		return 100
	default:
		return int(percent)
	}
}
