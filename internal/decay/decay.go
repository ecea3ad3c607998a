// Package decay provides the pure numeric transforms shared by every CCE
// aggregator: half-life decay, clamping, weighted blending and time-scaled
// smoothing. Nothing here allocates, blocks or touches I/O.
package decay

import (
	"math"
	"time"
)

// maxHalvings is the exponent beyond which 2^-x underflows float64. Past this
// point Decay returns exactly 0 instead of a denormal.
const maxHalvings = 1074

// Decay returns value * 2^(-elapsed/halfLife).
//
// Non-positive or non-finite elapsed means no time has passed (clock skew is
// treated the same way) and value is returned unchanged. A non-positive
// half-life decays everything immediately.
func Decay(value, elapsedSeconds, halfLifeSeconds float64) float64 {
	if math.IsNaN(value) {
		return 0
	}
	if math.IsNaN(elapsedSeconds) || elapsedSeconds <= 0 || math.IsInf(elapsedSeconds, -1) {
		return value
	}
	if halfLifeSeconds <= 0 || math.IsNaN(halfLifeSeconds) || math.IsInf(elapsedSeconds, 1) {
		return 0
	}
	halvings := elapsedSeconds / halfLifeSeconds
	if halvings >= maxHalvings {
		return 0
	}
	return value * math.Exp2(-halvings)
}

// DecayDuration is Decay with time.Duration arguments.
func DecayDuration(value float64, elapsed, halfLife time.Duration) float64 {
	return Decay(value, elapsed.Seconds(), halfLife.Seconds())
}

// Clamp bounds x to [lo, hi]. NaN clamps to lo.
func Clamp(x, lo, hi float64) float64 {
	if math.IsNaN(x) || x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Clamp01 bounds x to [0, 1].
func Clamp01(x float64) float64 { return Clamp(x, 0, 1) }

// ClampSigned bounds x to [-1, 1].
func ClampSigned(x float64) float64 { return Clamp(x, -1, 1) }

// WeightedBlend returns the weighted mean of current and incoming. Negative
// weights count as zero; when both weights are zero the result is incoming.
func WeightedBlend(current, incoming, currentWeight, incomingWeight float64) float64 {
	if currentWeight < 0 || math.IsNaN(currentWeight) {
		currentWeight = 0
	}
	if incomingWeight < 0 || math.IsNaN(incomingWeight) {
		incomingWeight = 0
	}
	total := currentWeight + incomingWeight
	if total == 0 {
		return incoming
	}
	return (current*currentWeight + incoming*incomingWeight) / total
}

// SmoothingFactor converts a per-interval EMA factor into the factor for an
// arbitrary elapsed time: 1 - (1-alpha)^(elapsed/interval). Applying it once
// over 2h equals applying alpha twice over two 1h intervals, so the result
// depends on wall-clock time rather than on how often it is called.
func SmoothingFactor(alpha, elapsedSeconds, intervalSeconds float64) float64 {
	alpha = Clamp01(alpha)
	if elapsedSeconds <= 0 || math.IsNaN(elapsedSeconds) {
		return 0
	}
	if intervalSeconds <= 0 || alpha == 1 {
		return alpha
	}
	return Clamp01(1 - math.Pow(1-alpha, elapsedSeconds/intervalSeconds))
}
