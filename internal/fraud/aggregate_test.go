package fraud

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestAggregate_EmptyIsClean(t *testing.T) {
	got := Aggregate(nil)
	assert.Equal(t, 10, got.Score)
	assert.Equal(t, LevelLow, got.Level)
	assert.Equal(t, RecommendApprove, got.Recommendation)
	assert.Equal(t, 95, got.Confidence)
	assert.NotNil(t, got.Factors)
	assert.Empty(t, got.Factors)
}

func TestAggregate_ZeroWeightFactorIsNotClean(t *testing.T) {
	got := Aggregate([]RiskFactor{{Type: "bulk", Severity: SeverityLow, Weight: 0}})
	assert.Equal(t, 0, got.Score)
	assert.Equal(t, LevelLow, got.Level)
	assert.Equal(t, 55, got.Confidence)
}

func TestLevelFor_Boundaries(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, LevelLow},
		{20, LevelLow},
		{21, LevelMedium},
		{50, LevelMedium},
		{51, LevelHigh},
		{80, LevelHigh},
		{81, LevelCritical},
		{100, LevelCritical},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, LevelFor(tc.score), "score %d", tc.score)
	}
}

func TestRecommendationFor(t *testing.T) {
	assert.Equal(t, RecommendApprove, RecommendationFor(LevelLow))
	assert.Equal(t, RecommendReview, RecommendationFor(LevelMedium))
	assert.Equal(t, RecommendReview, RecommendationFor(LevelHigh))
	assert.Equal(t, RecommendDecline, RecommendationFor(LevelCritical))
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		factors []RiskFactor
		want    int
	}{
		{"one medium", []RiskFactor{{Severity: SeverityMedium}}, 55},
		{"one high", []RiskFactor{{Severity: SeverityHigh}}, 70},
		{"two medium", []RiskFactor{{Severity: SeverityMedium}, {Severity: SeverityMedium}}, 60},
		{"capped", []RiskFactor{{Severity: SeverityHigh}, {Severity: SeverityHigh}, {Severity: SeverityHigh}}, 95},
		{"critical is not high", []RiskFactor{{Severity: SeverityCritical}}, 55},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Confidence(tc.factors))
		})
	}
}

func TestAggregate_ClampsAndCopies(t *testing.T) {
	in := []RiskFactor{{Severity: SeverityHigh, Weight: 70}, {Severity: SeverityHigh, Weight: 70}}
	got := Aggregate(in)
	assert.Equal(t, 100, got.Score)
	assert.Equal(t, LevelCritical, got.Level)
	assert.Equal(t, RecommendDecline, got.Recommendation)

	got.Factors[0].Weight = 1
	assert.Equal(t, 70, in[0].Weight, "aggregate must not alias caller factors")

	neg := Aggregate([]RiskFactor{{Severity: SeverityLow, Weight: -30}})
	assert.Equal(t, 0, neg.Score)
}

func TestFallbackScore(t *testing.T) {
	got := FallbackScore()
	assert.Equal(t, RiskScore{Score: 50, Level: LevelMedium, Factors: []RiskFactor{}, Recommendation: RecommendReview, Confidence: 0}, got)
}

// Property: for any non-empty weights, score == min(100, sum), level
// follows the bands and approve happens only at level low.
func TestAggregate_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("score is the clamped weight sum and maps to its band", prop.ForAll(
		func(weights []int) bool {
			if len(weights) == 0 {
				return true
			}
			factors := make([]RiskFactor, len(weights))
			sum := 0
			for i, w := range weights {
				factors[i] = RiskFactor{Type: "t", Severity: SeverityMedium, Weight: w}
				sum += w
			}
			got := Aggregate(factors)

			if got.Score != min(100, sum) {
				return false
			}
			var want Level
			switch {
			case sum <= 20:
				want = LevelLow
			case sum <= 50:
				want = LevelMedium
			case sum <= 80:
				want = LevelHigh
			default:
				want = LevelCritical
			}
			if got.Level != want {
				return false
			}
			return (got.Recommendation == RecommendApprove) == (got.Level == LevelLow)
		},
		gen.SliceOf(gen.IntRange(0, 40)),
	))

	properties.Property("confidence stays within 55-95 for non-empty input", prop.ForAll(
		func(highs, others int) bool {
			if highs+others == 0 {
				return true
			}
			var factors []RiskFactor
			for i := 0; i < highs; i++ {
				factors = append(factors, RiskFactor{Severity: SeverityHigh, Weight: 1})
			}
			for i := 0; i < others; i++ {
				factors = append(factors, RiskFactor{Severity: SeverityLow, Weight: 1})
			}
			c := Aggregate(factors).Confidence
			return c >= 55 && c <= 95 && c == min(95, 50+15*highs+5*(highs+others))
		},
		gen.IntRange(0, 6),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
