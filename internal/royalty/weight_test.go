package royalty

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func TestWeight_FullEvidencePremiumClampsToOne(t *testing.T) {
	w := Weight(Input{
		Similarity:      1.0,
		SDKConfidence:   1.0,
		DurationSeconds: ptr(300),
		Tier:            TierPremium,
	})
	assert.Equal(t, 1.0, w)
}

func TestWeight_ShortTrackScalesByDuration(t *testing.T) {
	w := Weight(Input{
		Similarity:      1.0,
		SDKConfidence:   1.0,
		DurationSeconds: ptr(60),
		Tier:            TierStandard,
	})
	assert.InDelta(t, 1.0*(60.0/180.0), w, 1e-9)
}

func TestWeight_NoDurationNoTier(t *testing.T) {
	w := Weight(Input{Similarity: 0.9, SDKConfidence: 0.87})
	assert.InDelta(t, 0.888, w, 1e-9)
}

func TestWeight_TierMultipliers(t *testing.T) {
	base := Input{Similarity: 0.5, SDKConfidence: 0.5}

	tests := []struct {
		tier Tier
		want float64
	}{
		{TierFree, 0.4},
		{TierStandard, 0.5},
		{TierPremium, 0.6},
		{"", 0.5},
		{Tier("enterprise"), 0.5},
	}
	for _, tt := range tests {
		in := base
		in.Tier = tt.tier
		assert.InDelta(t, tt.want, Weight(in), 1e-9, "tier %q", tt.tier)
	}
}

func TestWeight_OutOfRangeInputsClamp(t *testing.T) {
	assert.Equal(t, 1.0, Weight(Input{Similarity: 3, SDKConfidence: 2}))
	assert.Equal(t, 0.0, Weight(Input{Similarity: -1, SDKConfidence: -1}))
	assert.Equal(t, 0.0, Weight(Input{Similarity: 1, SDKConfidence: 1, DurationSeconds: ptr(-30)}))
	assert.Equal(t, 0.0, Weight(Input{Similarity: math.NaN(), SDKConfidence: 0}))
}

func TestAmount_RoundsToCents(t *testing.T) {
	assert.InDelta(t, 8.88, Amount(0.888, 10.0), 1e-9)
	assert.InDelta(t, 3.33, Amount(1.0/3.0, 10.0), 1e-9)
	assert.InDelta(t, 0.0, Amount(-0.2, 10.0), 1e-9)
	assert.InDelta(t, 25.0, Amount(1.0, 25.0), 1e-9)
}

func TestMatchConfidence(t *testing.T) {
	assert.InDelta(t, 0.888, MatchConfidence(0.90, 0.87), 1e-9)
}

func TestParseTier(t *testing.T) {
	assert.Equal(t, TierPremium, ParseTier(" Premium "))
	assert.Equal(t, TierFree, ParseTier("free"))
	assert.Equal(t, Tier(""), ParseTier("gold"))
}

func TestCalculator_Evaluate(t *testing.T) {
	c := NewCalculator(0)
	assert.Equal(t, DefaultBaseRate, c.BaseRate)

	ev := c.Evaluate(Input{Similarity: 0.90, SDKConfidence: 0.87})
	assert.InDelta(t, 0.888, ev.MatchConfidence, 1e-9)
	assert.InDelta(t, 0.888, ev.Weight, 1e-9)
	assert.InDelta(t, 8.88, ev.Amount, 1e-9)
}
