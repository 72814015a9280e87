package fraud

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func factorTypes(factors []RiskFactor) []string {
	var out []string
	for _, f := range factors {
		out = append(out, f.Type)
	}
	return out
}

func TestAnalyzeBehavior_Nil(t *testing.T) {
	assert.Empty(t, AnalyzeBehavior(nil))
	assert.Empty(t, AnalyzeBehavior(&BehavioralData{}), "uncollected signals never trip")
}

func TestAnalyzeBehavior_Thresholds(t *testing.T) {
	tests := []struct {
		name string
		data BehavioralData
		want []string
	}{
		{"time on site below", BehavioralData{TimeOnSite: ptr(29.9)}, []string{"short_session"}},
		{"time on site at limit", BehavioralData{TimeOnSite: ptr(30.0)}, nil},
		{"typing above", BehavioralData{TypingSpeed: ptr(120.5)}, []string{"typing_speed"}},
		{"typing at limit", BehavioralData{TypingSpeed: ptr(120.0)}, nil},
		{"copy paste above", BehavioralData{CopyPasteCount: ptr(4)}, []string{"copy_paste"}},
		{"copy paste at limit", BehavioralData{CopyPasteCount: ptr(3)}, nil},
		{"form fill below", BehavioralData{FormFillTime: ptr(9.0)}, []string{"form_fill_time"}},
		{"form fill at limit", BehavioralData{FormFillTime: ptr(10.0)}, nil},
		{"mouse below", BehavioralData{MouseMovements: ptr(4)}, []string{"mouse_movements"}},
		{"mouse at limit", BehavioralData{MouseMovements: ptr(5)}, nil},
		{"zero values are collected values", BehavioralData{TimeOnSite: ptr(0.0), MouseMovements: ptr(0)}, []string{"short_session", "mouse_movements"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, factorTypes(AnalyzeBehavior(&tc.data)))
		})
	}
}

func TestAnalyzeBehavior_BotProfile(t *testing.T) {
	factors := AnalyzeBehavior(&BehavioralData{
		TimeOnSite:     ptr(4.0),
		TypingSpeed:    ptr(400.0),
		CopyPasteCount: ptr(9),
		FormFillTime:   ptr(1.5),
		MouseMovements: ptr(0),
	})
	require.Len(t, factors, 5)

	weights := map[string]int{}
	severities := map[string]Severity{}
	for _, f := range factors {
		weights[f.Type] = f.Weight
		severities[f.Type] = f.Severity
	}
	assert.Equal(t, map[string]int{
		"short_session":   20,
		"typing_speed":    20,
		"copy_paste":      15,
		"form_fill_time":  30,
		"mouse_movements": 25,
	}, weights)
	assert.Equal(t, SeverityHigh, severities["form_fill_time"])
	assert.Equal(t, SeverityLow, severities["copy_paste"])
	assert.Equal(t, 4.0, factors[0].Value)
}

func TestBehaviorAnalyzer(t *testing.T) {
	tx := &Transaction{BehavioralData: &BehavioralData{FormFillTime: ptr(2.0)}}
	assert.Equal(t, []string{"form_fill_time"}, factorTypes(BehaviorAnalyzer.Analyze(context.Background(), tx)))
	assert.Empty(t, BehaviorAnalyzer.Analyze(context.Background(), &Transaction{}))
}
