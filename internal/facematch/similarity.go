// Package facematch scores face embeddings against each other.
// Everything here is pure and safe for concurrent use.
package facematch

import "math"

// DefaultMatchThreshold is the minimum similarity (exclusive) for a face to
// count as the reference person. Calibrated for 128-d dlib descriptors where
// a Euclidean distance below 0.6 is the usual same-person cutoff.
const DefaultMatchThreshold = 0.4

// EuclideanDistance returns the L2 distance between two embeddings.
// When the lengths differ, the shorter vector is treated as zero-padded.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) < len(b) {
		a, b = b, a
	}

	var sum float64
	for i := range a {
		var d float64
		if i < len(b) {
			d = float64(a[i]) - float64(b[i])
		} else {
			d = float64(a[i])
		}
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Similarity maps the Euclidean distance to a score where 1 means identical.
// The score is not clamped and goes negative for distances above 1.
func Similarity(a, b []float32) float64 {
	return 1 - EuclideanDistance(a, b)
}

// IsMatch reports whether score exceeds DefaultMatchThreshold.
func IsMatch(score float64) bool {
	return score > DefaultMatchThreshold
}

// Matcher classifies scores against a configurable threshold.
type Matcher struct {
	Threshold float64
}

// NewMatcher returns a Matcher, falling back to DefaultMatchThreshold for
// non-positive thresholds.
func NewMatcher(threshold float64) Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return Matcher{Threshold: threshold}
}

// IsMatch reports whether score exceeds the matcher threshold.
func (m Matcher) IsMatch(score float64) bool {
	return score > m.Threshold
}

// MaxDistance is the largest Euclidean distance that still matches.
func (m Matcher) MaxDistance() float64 {
	return 1 - m.Threshold
}
