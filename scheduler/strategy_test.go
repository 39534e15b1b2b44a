package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		name    string
		want    Strategy
		wantErr bool
	}{
		{"", DefaultStrategy, false},
		{"first-fit", FirstFit, false},
		{"best-fit", BestFit, false},
		{"round-robin", RoundRobin, false},
		{"least-loaded", LeastLoaded, false},
		{"random", 0, true},
		{"First-Fit", 0, true},
	}
	for _, tc := range tests {
		got, err := ParseStrategy(tc.name)
		if tc.wantErr {
			assert.Error(t, err, "ParseStrategy(%q)", tc.name)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestStrategy_TextRoundTrip(t *testing.T) {
	for _, s := range []Strategy{FirstFit, BestFit, RoundRobin, LeastLoaded} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Strategy
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := Strategy(-1).MarshalText()
	assert.Error(t, err)
}

func TestStrategyNames_Sorted(t *testing.T) {
	assert.Equal(t, []string{"best-fit", "first-fit", "least-loaded", "round-robin"}, StrategyNames())
}

func TestStrategy_Pick_UnhandledPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("Expected panic on undeclared strategy, got none")
		}
	}()
	Strategy(99).pick([]Accelerator{{ID: 0}}, func() uint64 { return 0 })
}
