package core

// FullQuantum is the percentage that marks a timeslice as used up.
const FullQuantum = 100

// Quantum accounts for the timeslice granted to one native-function hop.
// Each hop gets a fresh Quantum; it is used only by the goroutine running
// that hop.
type Quantum struct {
	consumed int
}

// NewQuantum returns an unused quantum.
func NewQuantum() *Quantum {
	return &Quantum{}
}

// ChargeAndCheck adds percent (clamped to [1, 100]) to the running total and
// reports whether the quantum is exhausted.
func (q *Quantum) ChargeAndCheck(percent int) bool {
	q.consumed += min(max(percent, 1), FullQuantum)
	return q.consumed >= FullQuantum
}

// Consumed returns the total charged so far. It may exceed 100.
func (q *Quantum) Consumed() int {
	return q.consumed
}

// Exhausted reports whether at least a full quantum has been charged.
func (q *Quantum) Exhausted() bool {
	return q.consumed >= FullQuantum
}
