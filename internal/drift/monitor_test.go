package drift

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quakewatch/pipeline/internal/dataset"
)

// narrowBaseline pins min/max to the mean so only the k*std band matters.
func narrowBaseline(mean, std float64) *dataset.FeatureBaseline {
	return &dataset.FeatureBaseline{
		Features: map[string]dataset.FeatureStats{
			"magnitude": {Min: mean, Max: mean, Mean: mean, Std: std, Count: 100},
		},
		RowCount: 100,
	}
}

func TestScoreMeanNeverFlagged(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 10)

	flagged, err := m.Score(map[string]float64{"magnitude": 4.0})

	require.NoError(t, err)
	assert.False(t, flagged)
	assert.Zero(t, m.Ratio())
}

func TestScoreWithinBandNotFlagged(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 10)

	// mean + 2*std is inside a k=3 band.
	flagged, err := m.Score(map[string]float64{"magnitude": 5.0})

	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestScoreBeyondBandFlagged(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 10)

	// mean + 4*std is outside a k=3 band on either side.
	for _, value := range []float64{6.0, 2.0} {
		flagged, err := m.Score(map[string]float64{"magnitude": value})
		require.NoError(t, err)
		assert.Truef(t, flagged, "value %v", value)
	}
}

func TestScoreMinMaxWidensBand(t *testing.T) {
	b := &dataset.FeatureBaseline{
		Features: map[string]dataset.FeatureStats{
			// Tiny variance but a wide observed range.
			"magnitude": {Min: 1.0, Max: 9.0, Mean: 4.0, Std: 0.01, Count: 100},
		},
		RowCount: 100,
	}
	m := NewMonitor(b, 3, 10)

	flagged, err := m.Score(map[string]float64{"magnitude": 8.5})
	require.NoError(t, err)
	assert.False(t, flagged)

	flagged, err = m.Score(map[string]float64{"magnitude": 9.5})
	require.NoError(t, err)
	assert.True(t, flagged)
}

func TestScoreUnknownFeatureIgnored(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 10)

	flagged, err := m.Score(map[string]float64{"station_count": 1e9})

	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestRatioIsFlaggedOverScored(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 100)

	for i := 0; i < 6; i++ {
		_, err := m.Score(map[string]float64{"magnitude": 4.0})
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		_, err := m.Score(map[string]float64{"magnitude": 99.0})
		require.NoError(t, err)
	}

	assert.InDelta(t, 0.4, m.Ratio(), 1e-12)
	assert.Equal(t, uint64(10), m.Total())
}

func TestRatioReflectsOnlyTheWindow(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 4)

	// Fill the window with flagged requests, then push them all out.
	for i := 0; i < 4; i++ {
		_, err := m.Score(map[string]float64{"magnitude": 99.0})
		require.NoError(t, err)
	}
	assert.InDelta(t, 1.0, m.Ratio(), 1e-12)

	for i := 0; i < 4; i++ {
		_, err := m.Score(map[string]float64{"magnitude": 4.0})
		require.NoError(t, err)
	}
	assert.Zero(t, m.Ratio())
	assert.Equal(t, uint64(8), m.Total())

	// Mixed window: 1 flagged of the last 4.
	_, err := m.Score(map[string]float64{"magnitude": 99.0})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, m.Ratio(), 1e-12)
}

func TestScoreRejectsMalformedRequests(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 10)

	cases := map[string]map[string]float64{
		"empty vector": {},
		"nil vector":   nil,
		"NaN value":    {"magnitude": math.NaN()},
		"Inf value":    {"magnitude": math.Inf(1)},
	}
	for name, features := range cases {
		_, err := m.Score(features)
		var scoringErr *ScoringError
		require.ErrorAsf(t, err, &scoringErr, "case %s", name)
	}

	// Rejections never enter the window.
	assert.Zero(t, m.Total())
	assert.Zero(t, m.Ratio())
}

func TestScoreWithoutBaseline(t *testing.T) {
	m := NewMonitor(nil, 3, 10)

	_, err := m.Score(map[string]float64{"magnitude": 4.0})

	var scoringErr *ScoringError
	require.ErrorAs(t, err, &scoringErr)
	assert.Zero(t, m.Total())
}

func TestSetBaselineSwap(t *testing.T) {
	m := NewMonitor(narrowBaseline(4.0, 0.5), 3, 10)

	flagged, err := m.Score(map[string]float64{"magnitude": 8.0})
	require.NoError(t, err)
	assert.True(t, flagged)

	m.SetBaseline(narrowBaseline(8.0, 0.5))

	flagged, err = m.Score(map[string]float64{"magnitude": 8.0})
	require.NoError(t, err)
	assert.False(t, flagged)
}

func TestNewMonitorDefaults(t *testing.T) {
	m := NewMonitor(nil, 0, 0)
	assert.Equal(t, 1000, m.WindowSize())
}
