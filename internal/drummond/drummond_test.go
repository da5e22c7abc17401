package drummond

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/bar"
)

func seriesWithSwing(t *testing.T) bar.BarSeries {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	closes := []float64{100, 101, 105, 101, 100, 95, 90, 95, 100}
	s := bar.BarSeries{Symbol: "BTC", Interval: bar.Interval1h}
	for i, c := range closes {
		s.Bars = append(s.Bars, bar.Bar{
			Symbol: "BTC", Interval: bar.Interval1h,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 0.5),
			Low:       decimal.NewFromFloat(c - 0.5),
			Close:     decimal.NewFromFloat(c),
			Volume:    10,
		})
	}
	return s
}

func TestDetectLinesFindsSwingHighAndLow(t *testing.T) {
	series := seriesWithSwing(t)
	cfg := LineConfig{Lookback: 2, ProjectionGap: 2, HalfLifeBars: 10}
	lines := DetectLines(series, cfg, series.Bars[len(series.Bars)-1].Timestamp)
	require.NotEmpty(t, lines)

	var sawResistance, sawSupport bool
	for _, l := range lines {
		if l.Kind == Resistance {
			sawResistance = true
		}
		if l.Kind == Support {
			sawSupport = true
		}
		assert.True(t, l.Strength.GreaterThan(decimal.Zero))
	}
	assert.True(t, sawResistance)
	assert.True(t, sawSupport)
}

func TestAggregateZonesDisjoint(t *testing.T) {
	lines := []DrummondLine{
		{ProjectedPrice: decimal.NewFromFloat(100), Kind: Resistance, Strength: decimal.NewFromFloat(1)},
		{ProjectedPrice: decimal.NewFromFloat(100.2), Kind: Resistance, Strength: decimal.NewFromFloat(1)},
		{ProjectedPrice: decimal.NewFromFloat(120), Kind: Resistance, Strength: decimal.NewFromFloat(1)},
		{ProjectedPrice: decimal.NewFromFloat(80), Kind: Support, Strength: decimal.NewFromFloat(1)},
	}
	cfg := DefaultZoneConfig("1h")
	zones := AggregateZones(lines, cfg, decimal.NewFromFloat(0.1))
	require.Len(t, zones, 3)

	// Resistance cluster around 100/100.2 should have merged (within 0.5%
	// tolerance of ~100), the 120 line stands alone.
	var resistanceZones int
	for _, z := range zones {
		if z.Kind == Resistance {
			resistanceZones++
			assert.True(t, z.LowerPrice.LessThanOrEqual(z.UpperPrice))
		}
	}
	assert.Equal(t, 2, resistanceZones)
}
