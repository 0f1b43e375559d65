package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		input string
		want  ConfidenceLevel
		ok    bool
	}{
		{"high", ConfidenceHigh, true},
		{"medium", ConfidenceMedium, true},
		{"low", ConfidenceLow, true},
		{"HIGH", ConfidenceHigh, true},
		{"  Medium ", ConfidenceMedium, true},
		{"", ConfidenceLow, false},
		{"certain", ConfidenceLow, false},
		{"hgh", ConfidenceLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseConfidence(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestConfidenceSufficient(t *testing.T) {
	assert.True(t, ConfidenceHigh.Sufficient())
	assert.True(t, ConfidenceMedium.Sufficient())
	assert.False(t, ConfidenceLow.Sufficient())
	assert.False(t, ConfidenceLevel("certain").Sufficient())
}

func TestRequiredStatsFields_CopyIsIndependent(t *testing.T) {
	fields := RequiredStatsFields()
	assert.Len(t, fields, 10)
	fields[0] = "mutated"
	assert.Equal(t, "commute_total_minutes", RequiredStatsFields()[0])
}
