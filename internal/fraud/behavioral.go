package fraud

import "context"

// Behavioral thresholds. All comparisons are strict.
const (
	minTimeOnSite     = 30.0  // seconds
	maxTypingSpeed    = 120.0 // wpm
	maxCopyPaste      = 3
	minFormFillTime   = 10.0 // seconds
	minMouseMovements = 5
)

// AnalyzeBehavior checks checkout telemetry against fixed thresholds. Each
// tripped threshold yields one factor; signals that were not collected are
// ignored.
func AnalyzeBehavior(b *BehavioralData) []RiskFactor {
	if b == nil {
		return nil
	}
	var factors []RiskFactor

	if b.TimeOnSite != nil && *b.TimeOnSite < minTimeOnSite {
		factors = append(factors, RiskFactor{
			Type:        "short_session",
			Severity:    SeverityMedium,
			Description: "Very little time spent on site before checkout",
			Weight:      20,
			Value:       *b.TimeOnSite,
		})
	}
	if b.TypingSpeed != nil && *b.TypingSpeed > maxTypingSpeed {
		factors = append(factors, RiskFactor{
			Type:        "typing_speed",
			Severity:    SeverityMedium,
			Description: "Typing speed above human range",
			Weight:      20,
			Value:       *b.TypingSpeed,
		})
	}
	if b.CopyPasteCount != nil && *b.CopyPasteCount > maxCopyPaste {
		factors = append(factors, RiskFactor{
			Type:        "copy_paste",
			Severity:    SeverityLow,
			Description: "Checkout fields were pasted repeatedly",
			Weight:      15,
			Value:       *b.CopyPasteCount,
		})
	}
	if b.FormFillTime != nil && *b.FormFillTime < minFormFillTime {
		factors = append(factors, RiskFactor{
			Type:        "form_fill_time",
			Severity:    SeverityHigh,
			Description: "Checkout form completed implausibly fast",
			Weight:      30,
			Value:       *b.FormFillTime,
		})
	}
	if b.MouseMovements != nil && *b.MouseMovements < minMouseMovements {
		factors = append(factors, RiskFactor{
			Type:        "mouse_movements",
			Severity:    SeverityMedium,
			Description: "Almost no mouse activity during checkout",
			Weight:      25,
			Value:       *b.MouseMovements,
		})
	}
	return factors
}

// BehaviorAnalyzer adapts AnalyzeBehavior to Analyzer.
var BehaviorAnalyzer = AnalyzerFunc(func(_ context.Context, tx *Transaction) []RiskFactor {
	return AnalyzeBehavior(tx.BehavioralData)
})
