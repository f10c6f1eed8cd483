// Package royalty computes payout weights and amounts from dual-proof evidence.
package royalty

import (
	"math"
	"strings"
)

// DefaultBaseRate is the USD amount paid for a weight of 1.0.
const DefaultBaseRate = 10.0

// fullDurationSeconds is the track length that earns the full duration multiplier.
const fullDurationSeconds = 180.0

const (
	similarityShare = 0.6
	confidenceShare = 0.4
)

// Tier is the partner model tier reported with a usage log.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

var tierMultipliers = map[Tier]float64{
	TierFree:     0.8,
	TierStandard: 1.0,
	TierPremium:  1.2,
}

// ParseTier normalizes a tier name. Unknown names map to "" which carries
// the neutral multiplier.
func ParseTier(s string) Tier {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierMultipliers[t]; ok {
		return t
	}
	return ""
}

// Multiplier returns the weight multiplier for the tier.
func (t Tier) Multiplier() float64 {
	if m, ok := tierMultipliers[t]; ok {
		return m
	}
	return 1.0
}

// Input is the evidence behind one correlated pair.
type Input struct {
	Similarity      float64
	SDKConfidence   float64
	DurationSeconds *float64
	Tier            Tier
}

// MatchConfidence blends auditor similarity with partner confidence.
func MatchConfidence(similarity, sdkConfidence float64) float64 {
	return clamp01(similarity)*similarityShare + clamp01(sdkConfidence)*confidenceShare
}

// Weight returns the payout weight in [0, 1].
func Weight(in Input) float64 {
	base := MatchConfidence(in.Similarity, in.SDKConfidence)

	duration := 1.0
	if in.DurationSeconds != nil {
		d := math.Max(*in.DurationSeconds, 0)
		duration = math.Min(d/fullDurationSeconds, 1.0)
	}

	return clamp01(base * duration * in.Tier.Multiplier())
}

// Amount converts a weight to a USD amount rounded to cents.
func Amount(weight, baseRate float64) float64 {
	return roundTo(clamp01(weight)*baseRate, 2)
}

// Evaluation is the full pricing of one correlated pair.
type Evaluation struct {
	MatchConfidence float64
	Weight          float64
	Amount          float64
}

// Calculator prices correlated pairs at a fixed base rate.
type Calculator struct {
	BaseRate float64
}

// NewCalculator creates a Calculator. A non-positive rate falls back to
// DefaultBaseRate.
func NewCalculator(baseRate float64) *Calculator {
	if baseRate <= 0 {
		baseRate = DefaultBaseRate
	}
	return &Calculator{BaseRate: baseRate}
}

// Evaluate computes match confidence, weight and amount for the input.
func (c *Calculator) Evaluate(in Input) Evaluation {
	w := Weight(in)
	return Evaluation{
		MatchConfidence: MatchConfidence(in.Similarity, in.SDKConfidence),
		Weight:          w,
		Amount:          Amount(w, c.BaseRate),
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
