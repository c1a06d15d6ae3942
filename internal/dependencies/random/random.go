package random

import "math/rand/v2"

// Random provides random number generation that can be mocked for testing
type Random interface {
	// Intn returns a random int in [0, n)
	Intn(n int) int
}

// MathRandom implements Random using the auto-seeded math/rand/v2 source,
// which is safe for concurrent use
type MathRandom struct{}

// New creates a new MathRandom
func New() *MathRandom {
	return &MathRandom{}
}

// Intn returns a uniformly distributed int in [0, n), or 0 when n <= 0
func (r *MathRandom) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return rand.IntN(n)
}
