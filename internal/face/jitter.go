package face

import (
	"math"
	"math/rand"
)

// Jitter perturbs confidences for stress testing downstream consumers of
// borderline verdicts. It must never sit on the decision path.
type Jitter struct {
	Spread float64 // total width of the uniform noise band
	rng    *rand.Rand
}

// NewJitter builds a seeded jitter source so runs are reproducible.
func NewJitter(spread float64, seed int64) *Jitter {
	return &Jitter{Spread: spread, rng: rand.New(rand.NewSource(seed))}
}

// Apply returns confidence plus uniform noise in [-Spread/2, Spread/2],
// clamped to [0, 1].
func (j *Jitter) Apply(confidence float64) float64 {
	c := confidence + (j.rng.Float64()-0.5)*j.Spread
	return math.Max(0, math.Min(1, c))
}

// Sample returns n jittered copies of confidence.
func (j *Jitter) Sample(confidence float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = j.Apply(confidence)
	}
	return out
}
