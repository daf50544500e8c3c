package face

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultMatchThreshold is the minimum confidence accepted as a match.
const DefaultMatchThreshold = 0.75

// Outcome of a comparison.
type Outcome string

const (
	Match   Outcome = "match"
	NoMatch Outcome = "no-match"
)

// Result is the verdict of one verification attempt.
type Result struct {
	Outcome    Outcome `json:"outcome"`
	Similarity float64 `json:"similarity"`
	Confidence float64 `json:"confidence"`
	Quality    float64 `json:"quality"`
}

func (r Result) IsMatch() bool { return r.Outcome == Match }

// Compare returns the cosine similarity of a and b in [-1, 1]. Vectors of
// different length or with zero norm compare as 0.
func Compare(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	sim := floats.Dot(a, b) / (na * nb)
	return math.Max(-1, math.Min(1, sim))
}

// Confidence maps a similarity onto [0, 1].
func Confidence(similarity float64) float64 {
	return (similarity + 1) / 2
}

// Verifier decides match or no-match for a pair of embeddings.
type Verifier struct {
	Threshold float64
}

// NewVerifier falls back to DefaultMatchThreshold for a non-positive threshold.
func NewVerifier(threshold float64) Verifier {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultMatchThreshold
	}
	return Verifier{Threshold: threshold}
}

// Verify is deterministic: the same inputs always give the same Result.
func (v Verifier) Verify(reference, probe []float64) Result {
	sim := Compare(reference, probe)
	conf := Confidence(sim)
	return Result{Outcome: v.Decide(conf), Similarity: sim, Confidence: conf}
}

// Decide applies the threshold to a confidence.
func (v Verifier) Decide(confidence float64) Outcome {
	if confidence >= v.Threshold {
		return Match
	}
	return NoMatch
}
