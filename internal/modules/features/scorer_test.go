package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScorer(t *testing.T) {
	tests := []struct {
		strategy string
		wantErr  bool
	}{
		{"coverage_adjusted", false},
		{"mean", false},
		{"sharpe", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			s, err := NewScorer(tt.strategy)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.strategy, s.Name())
		})
	}
}

func TestCoverageAdjustedScorer(t *testing.T) {
	s, err := NewScorer("coverage_adjusted")
	require.NoError(t, err)

	vol := 50.0
	tests := []struct {
		name string
		in   ScoreInput
		want float64
	}{
		{
			"full coverage no vol",
			ScoreInput{EDR7dMean: 100, Coverage7d: 1},
			100,
		},
		{
			"coverage scales linearly",
			ScoreInput{EDR7dMean: 100, Coverage7d: 0.5},
			50,
		},
		{
			"volatility penalizes",
			ScoreInput{EDR7dMean: 100, Coverage7d: 1, EDR14dVol: &vol},
			100 / 1.5, // vol_norm = 50/100
		},
		{
			"zero mean ignores vol",
			ScoreInput{EDR7dMean: 0, Coverage7d: 1, EDR14dVol: &vol},
			0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Score(tt.in), 1e-12)
		})
	}
}

func TestCoverageAdjustedScorer_Monotonicity(t *testing.T) {
	s, err := NewScorer("coverage_adjusted")
	require.NoError(t, err)

	base := s.Score(ScoreInput{EDR7dMean: 100, Coverage7d: 0.8})

	assert.Greater(t, s.Score(ScoreInput{EDR7dMean: 120, Coverage7d: 0.8}), base)
	assert.Greater(t, s.Score(ScoreInput{EDR7dMean: 100, Coverage7d: 1.0}), base)

	vol := 30.0
	assert.Less(t, s.Score(ScoreInput{EDR7dMean: 100, Coverage7d: 0.8, EDR14dVol: &vol}), base)
}

func TestMeanScorer(t *testing.T) {
	s, err := NewScorer("mean")
	require.NoError(t, err)

	vol := 500.0
	withVol := s.Score(ScoreInput{EDR7dMean: 100, Coverage7d: 0.5, EDR14dVol: &vol})
	withoutVol := s.Score(ScoreInput{EDR7dMean: 100, Coverage7d: 0.5})

	assert.Equal(t, 50.0, withoutVol)
	assert.Equal(t, withoutVol, withVol) // vol is not part of this strategy
}
