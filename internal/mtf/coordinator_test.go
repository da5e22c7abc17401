package mtf

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/state"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestAlignedHTFBar(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	htf := []bar.Bar{
		{Timestamp: base},
		{Timestamp: base.Add(4 * time.Hour)},
		{Timestamp: base.Add(8 * time.Hour)},
	}

	b, ok := AlignedHTFBar(htf, base.Add(5*time.Hour))
	require.True(t, ok)
	assert.Equal(t, base.Add(4*time.Hour), b.Timestamp)

	_, ok = AlignedHTFBar(htf, base.Add(-time.Hour))
	assert.False(t, ok)

	b, ok = AlignedHTFBar(htf, base.Add(8*time.Hour))
	require.True(t, ok)
	assert.Equal(t, base.Add(8*time.Hour), b.Timestamp)
}

func TestMatchConfluenceOverlapAndAlignment(t *testing.T) {
	tradingZone := drummond.DrummondZone{
		LowerPrice: d(99), UpperPrice: d(101), CenterPrice: d(100),
		Strength: d(1), Kind: drummond.Support,
	}
	htfOverlapping := drummond.DrummondZone{
		LowerPrice: d(99.5), UpperPrice: d(101.5), CenterPrice: d(100.5),
		Strength: d(2), Kind: drummond.Support,
	}
	htfNonOverlapping := drummond.DrummondZone{
		LowerPrice: d(200), UpperPrice: d(201), CenterPrice: d(200.5),
		Strength: d(1), Kind: drummond.Support,
	}

	htfState := state.Point{State: state.Trend, TrendDirection: state.Up}
	matches := MatchConfluence(
		[]drummond.DrummondZone{tradingZone},
		[]drummond.DrummondZone{htfOverlapping, htfNonOverlapping},
		htfState,
	)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Len(t, m.MatchedHTFZones, 1)
	assert.True(t, m.ConfluenceStrength.Equal(d(2)))
	assert.True(t, m.CombinedStrength.Equal(d(3)))
	assert.True(t, m.HTFTrendAligned)
}

func TestMatchConfluenceNoMatchKeepsBaselineStrength(t *testing.T) {
	tradingZone := drummond.DrummondZone{
		LowerPrice: d(99), UpperPrice: d(101), CenterPrice: d(100),
		Strength: d(1), Kind: drummond.Resistance,
	}
	matches := MatchConfluence([]drummond.DrummondZone{tradingZone}, nil, state.Point{})
	require.Len(t, matches, 1)
	assert.True(t, matches[0].ConfluenceStrength.Equal(d(1)))
	assert.Empty(t, matches[0].MatchedHTFZones)
	assert.False(t, matches[0].HTFTrendAligned)
}

func TestSignalStrengthClampsAndWeights(t *testing.T) {
	s := SignalStrength(StrengthFactors{
		ConfluenceFactor:        d(2), // clamped to 1
		MTFAlignment:            d(1),
		VolumeFactor:            d(-1), // clamped to 0
		PatternGeometricQuality: d(0.5),
	})
	expected := d(0.4).Add(d(0.25)).Add(d(0)).Add(d(0.15 * 0.5))
	assert.True(t, s.Equal(expected), "got %s want %s", s, expected)
}
