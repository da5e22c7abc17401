package indicators

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/bar"
)

func monotoneSeries(closes []float64) bar.BarSeries {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := bar.BarSeries{Symbol: "BTC", Interval: bar.Interval1h}
	for i, c := range closes {
		s.Bars = append(s.Bars, bar.Bar{
			Symbol:    "BTC",
			Interval:  bar.Interval1h,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      decimal.NewFromFloat(c),
			High:      decimal.NewFromFloat(c + 1),
			Low:       decimal.NewFromFloat(c - 1),
			Close:     decimal.NewFromFloat(c),
			Volume:    100,
		})
	}
	return s
}

// E1: monotone uptrend 100..105 yields PLdotPoints 101,102,103,104 at i=2..5.
func TestComputePLdotsE1(t *testing.T) {
	series := monotoneSeries([]float64{100, 101, 102, 103, 104, 105})
	points := ComputePLdots(series, DefaultConfig())
	require.Len(t, points, 4)

	expected := []float64{101, 102, 103, 104}
	for i, exp := range expected {
		got, _ := points[i].Value.Float64()
		assert.InDelta(t, exp, got, 0.0001, "point %d", i)
	}

	// Slope is zero on the first point (no predecessor within this slice),
	// then rising thereafter.
	assert.True(t, points[0].Slope.IsZero())
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].Slope.IsPositive(), "point %d should have positive slope", i)
	}
}

func TestComputePLdotsTooShort(t *testing.T) {
	series := monotoneSeries([]float64{100, 101})
	points := ComputePLdots(series, DefaultConfig())
	assert.Empty(t, points)
}

func TestClassifySlope(t *testing.T) {
	eps := decimal.NewFromFloat(1e-4)
	value := decimal.NewFromFloat(100)

	assert.Equal(t, SlopeHorizontal, ClassifySlope(decimal.Zero, value, eps))
	assert.Equal(t, SlopeRising, ClassifySlope(decimal.NewFromFloat(1), value, eps))
	assert.Equal(t, SlopeFalling, ClassifySlope(decimal.NewFromFloat(-1), value, eps))
}

func TestComputeEnvelopesInvariant(t *testing.T) {
	series := monotoneSeries([]float64{100, 101, 102, 103, 104, 105})
	points := ComputePLdots(series, DefaultConfig())
	envs := ComputeEnvelopes(points, DefaultEnvelopeConfig())
	require.Len(t, envs, len(points))
	for _, e := range envs {
		assert.True(t, e.Lower.LessThanOrEqual(e.Center))
		assert.True(t, e.Center.LessThanOrEqual(e.Upper))
		assert.True(t, e.Width.Equal(e.Upper.Sub(e.Lower)))
	}
	// Monotonically increasing centers for a monotone uptrend.
	for i := 1; i < len(envs); i++ {
		assert.True(t, envs[i].Center.GreaterThanOrEqual(envs[i-1].Center))
	}
}
