package fraud

// Fixed results that bypass the formula.
var (
	cleanScore = RiskScore{
		Score:          10,
		Level:          LevelLow,
		Factors:        []RiskFactor{},
		Recommendation: RecommendApprove,
		Confidence:     95,
	}
	fallbackScore = RiskScore{
		Score:          50,
		Level:          LevelMedium,
		Factors:        []RiskFactor{},
		Recommendation: RecommendReview,
		Confidence:     0,
	}
)

// CleanScore is returned when no analyzer found anything.
func CleanScore() RiskScore {
	s := cleanScore
	s.Factors = []RiskFactor{}
	return s
}

// FallbackScore is returned when analysis itself failed.
func FallbackScore() RiskScore {
	s := fallbackScore
	s.Factors = []RiskFactor{}
	return s
}

// LevelFor maps a 0-100 score to its level band.
func LevelFor(score int) Level {
	switch {
	case score <= 20:
		return LevelLow
	case score <= 50:
		return LevelMedium
	case score <= 80:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// RecommendationFor maps a level to a decision.
func RecommendationFor(level Level) Recommendation {
	switch level {
	case LevelLow:
		return RecommendApprove
	case LevelCritical:
		return RecommendDecline
	default:
		return RecommendReview
	}
}

// Confidence is min(95, 50 + 15 per high-severity factor + 5 per factor).
func Confidence(factors []RiskFactor) int {
	high := 0
	for _, f := range factors {
		if f.Severity == SeverityHigh {
			high++
		}
	}
	return min(95, 50+15*high+5*len(factors))
}

// Aggregate reduces factors to a score. The sum of weights is clamped to
// 0-100. An empty list yields CleanScore.
func Aggregate(factors []RiskFactor) RiskScore {
	if len(factors) == 0 {
		return CleanScore()
	}
	sum := 0
	for _, f := range factors {
		sum += f.Weight
	}
	score := max(0, min(100, sum))
	level := LevelFor(score)
	return RiskScore{
		Score:          score,
		Level:          level,
		Factors:        append([]RiskFactor(nil), factors...),
		Recommendation: RecommendationFor(level),
		Confidence:     Confidence(factors),
	}
}
