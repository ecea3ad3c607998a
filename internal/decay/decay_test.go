package decay

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecay_HalfLife(t *testing.T) {
	assert.InDelta(t, 0.5, Decay(1, 3600, 3600), 1e-12)
	assert.InDelta(t, 0.25, Decay(1, 7200, 3600), 1e-12)
	assert.InDelta(t, 0.4, Decay(0.8, 10, 10), 1e-12)
}

func TestDecay_NoElapsedReturnsValue(t *testing.T) {
	assert.Equal(t, 0.7, Decay(0.7, 0, 3600))
	// Clock skew: the last update appears to be in the future.
	assert.Equal(t, 0.7, Decay(0.7, -120, 3600))
	assert.Equal(t, 0.7, Decay(0.7, math.NaN(), 3600))
}

func TestDecay_SaturatesToZero(t *testing.T) {
	got := Decay(1, 1e12, 1)
	assert.Equal(t, 0.0, got)
	assert.False(t, math.IsNaN(got))

	assert.Equal(t, 0.0, Decay(1, math.Inf(1), 3600))
	assert.Equal(t, 0.0, Decay(1, 10, 0))
	assert.Equal(t, 0.0, Decay(math.NaN(), 10, 10))
}

func TestDecay_Monotonic(t *testing.T) {
	prev := 1.0
	for elapsed := 0.0; elapsed <= 20*86400; elapsed += 3600 {
		got := Decay(1, elapsed, 5*86400)
		assert.LessOrEqual(t, got, prev)
		prev = got
	}
}

func TestDecayDuration(t *testing.T) {
	assert.InDelta(t, 0.5, DecayDuration(1, 6*time.Hour, 6*time.Hour), 1e-12)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-0.2, 0, 1))
	assert.Equal(t, 1.0, Clamp(1.5, 0, 1))
	assert.Equal(t, 0.3, Clamp(0.3, 0, 1))
	assert.Equal(t, 0.0, Clamp(math.NaN(), 0, 1))
	assert.Equal(t, -1.0, ClampSigned(-7))
	assert.Equal(t, 1.0, Clamp01(math.Inf(1)))
}

func TestWeightedBlend(t *testing.T) {
	assert.InDelta(t, 0.5, WeightedBlend(0, 1, 1, 1), 1e-12)
	assert.InDelta(t, 0.75, WeightedBlend(0, 1, 1, 3), 1e-12)
	assert.Equal(t, 0.9, WeightedBlend(0.1, 0.9, 0, 0))
	assert.Equal(t, 0.9, WeightedBlend(0.1, 0.9, -1, 0))
	assert.Equal(t, 0.1, WeightedBlend(0.1, 0.9, 2, 0))
}

func TestSmoothingFactor(t *testing.T) {
	assert.Equal(t, 0.0, SmoothingFactor(0.3, 0, 3600))
	assert.InDelta(t, 0.3, SmoothingFactor(0.3, 3600, 3600), 1e-12)

	// Two one-hour steps compose to one two-hour step.
	one := SmoothingFactor(0.3, 3600, 3600)
	two := SmoothingFactor(0.3, 7200, 3600)
	m := 0.0
	m += one * (1 - m)
	m += one * (1 - m)
	assert.InDelta(t, two, m, 1e-12)

	assert.Less(t, SmoothingFactor(0.3, 1, 3600), 1e-3)
}
