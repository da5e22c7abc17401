package portfolio

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/bar"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func buildSeries(t *testing.T, symbol string, closes []float64) bar.BarSeries {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := bar.BarSeries{Symbol: symbol, Interval: bar.Interval1h}
	for i, c := range closes {
		s.Bars = append(s.Bars, bar.Bar{
			Symbol: symbol, Interval: bar.Interval1h,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      d(c), High: d(c + 1), Low: d(c - 1), Close: d(c), Volume: 100,
		})
	}
	return s
}

// candidateOnce fires a single LONG candidate at the second timestep and
// never again, so the test can assert deterministic open/close behavior.
func candidateOnce(symbol string, entry, stop, target float64, atIndex int) CandidateProvider {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fireAt := base.Add(time.Duration(atIndex) * time.Hour)
	return func(ctx context.Context, ts time.Time, barsAtT map[string]bar.Bar) ([]Candidate, error) {
		if !ts.Equal(fireAt) {
			return nil, nil
		}
		return []Candidate{{
			Symbol: symbol, Long: true, EntryPrice: d(entry), StopPrice: d(stop),
			TargetPrice: d(target), Confidence: d(0.8), RiskReward: d(3), Sector: "majors",
		}}, nil
	}
}

func TestEngineOpensAndClosesOnTarget(t *testing.T) {
	closes := []float64{100, 100, 100, 106, 106, 106}
	series := map[string]bar.BarSeries{"BTC": buildSeries(t, "BTC", closes)}
	cfg := DefaultConfig()
	eng := New(cfg, candidateOnce("BTC", 100, 98, 105, 1))

	res, err := eng.Run(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "target", res.Trades[0].ExitReason)
	assert.True(t, res.Trades[0].PnL.GreaterThan(decimal.Zero))
}

func TestEngineStopWinsOnSameBarConflict(t *testing.T) {
	// bar 3 has a wide range that touches both stop(98) and target(105);
	// stop must win per the conservative rule.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	series := map[string]bar.BarSeries{
		"BTC": {
			Symbol: "BTC", Interval: bar.Interval1h,
			Bars: []bar.Bar{
				{Symbol: "BTC", Interval: bar.Interval1h, Timestamp: base, Open: d(100), High: d(100), Low: d(100), Close: d(100), Volume: 10},
				{Symbol: "BTC", Interval: bar.Interval1h, Timestamp: base.Add(time.Hour), Open: d(100), High: d(100), Low: d(100), Close: d(100), Volume: 10},
				{Symbol: "BTC", Interval: bar.Interval1h, Timestamp: base.Add(2 * time.Hour), Open: d(100), High: d(110), Low: d(90), Close: d(100), Volume: 10},
			},
		},
	}
	cfg := DefaultConfig()
	eng := New(cfg, candidateOnce("BTC", 100, 98, 105, 1))

	res, err := eng.Run(context.Background(), series)
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, "stop", res.Trades[0].ExitReason)
}

// E5: determinism: running the same bars/config/provider twice must yield
// bitwise-identical trade lists and final equity.
func TestEngineDeterministic(t *testing.T) {
	closes := []float64{100, 100, 99, 97, 103, 103, 103}
	series := map[string]bar.BarSeries{"BTC": buildSeries(t, "BTC", closes)}
	cfg := DefaultConfig()

	run := func() *Result {
		eng := New(cfg, candidateOnce("BTC", 100, 98, 102, 1))
		res, err := eng.Run(context.Background(), series)
		require.NoError(t, err)
		return res
	}
	a := run()
	b := run()

	require.Equal(t, len(a.Trades), len(b.Trades))
	for i := range a.Trades {
		assert.True(t, a.Trades[i].PnL.Equal(b.Trades[i].PnL))
		assert.Equal(t, a.Trades[i].ExitReason, b.Trades[i].ExitReason)
	}
	assert.True(t, a.FinalEquity.Equal(b.FinalEquity))
}

// E6: equity sampler bounds: samples must occur at trade open/close and at
// least every SampleEveryNBars bars, never leaving an unbounded gap.
func TestEngineEquitySamplerBounds(t *testing.T) {
	n := 40
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100
	}
	series := map[string]bar.BarSeries{"BTC": buildSeries(t, "BTC", closes)}
	cfg := DefaultConfig()
	cfg.SampleEveryNBars = 5

	noop := func(ctx context.Context, ts time.Time, barsAtT map[string]bar.Bar) ([]Candidate, error) {
		return nil, nil
	}
	eng := New(cfg, noop)
	res, err := eng.Run(context.Background(), series)
	require.NoError(t, err)
	require.NotEmpty(t, res.EquityCurve)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var prev time.Time
	for i, s := range res.EquityCurve {
		if i > 0 {
			gap := s.Timestamp.Sub(prev)
			assert.LessOrEqual(t, gap, time.Duration(cfg.SampleEveryNBars)*time.Hour)
		}
		prev = s.Timestamp
	}
	assert.True(t, res.EquityCurve[0].Timestamp.Compare(base) >= 0)
}
