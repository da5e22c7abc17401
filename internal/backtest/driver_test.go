package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/backtest/portfolio"
	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/cache"
	"github.com/drummondgeo/dgcore/internal/pipeline"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func synthSeries(symbol string, closes []float64) bar.BarSeries {
	base := time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC)
	s := bar.BarSeries{Symbol: symbol, Interval: bar.Interval30m}
	for i, c := range closes {
		s.Bars = append(s.Bars, bar.Bar{
			Symbol: symbol, Interval: bar.Interval30m,
			Timestamp: base.Add(time.Duration(i) * 30 * time.Minute),
			Open:      d(c), High: d(c + 0.5), Low: d(c - 0.5), Close: d(c), Volume: 1000,
		})
	}
	return s
}

func newTestProvider(t *testing.T) (*Provider, *bar.Store) {
	t.Helper()
	calc := cache.New(cache.DefaultConfig())
	store := bar.NewStore(zerolog.Nop(), func(symbol string, interval bar.Interval) {
		calc.InvalidateSymbolInterval(symbol, string(interval))
	})
	cfg := pipeline.DefaultConfig()
	pipe := pipeline.New(cfg, store, nil, calc)
	return NewProvider(pipe, store, cfg.TradingInterval, cfg.HTFInterval, time.UTC, nil, zerolog.Nop()), store
}

func TestProviderFeedsBarsIntoStore(t *testing.T) {
	provider, store := newTestProvider(t)

	closes := []float64{100, 101, 102, 103, 104}
	series := synthSeries("BTC", closes)
	ctx := context.Background()

	for _, b := range series.Bars {
		_, err := provider.Candidates(ctx, b.Timestamp, map[string]bar.Bar{"BTC": b})
		require.NoError(t, err)
	}

	stored, err := store.GetBars(ctx, "BTC", bar.Interval30m, time.Time{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, len(closes), stored.Len())
}

// E5: two full runs over the same bars produce identical trade lists,
// equity-curve lengths, and final equity.
func TestDriverDeterministicEndToEnd(t *testing.T) {
	// an oscillating series gives the detectors something to chew on
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 3*float64(i%7) - float64(i%11)
	}
	run := func() *portfolio.Result {
		provider, _ := newTestProvider(t)
		series := map[string]bar.BarSeries{
			"BTC": synthSeries("BTC", closes),
			"ETH": synthSeries("ETH", closes),
		}
		res, err := provider.Run(context.Background(), portfolio.DefaultConfig(), series)
		require.NoError(t, err)
		return res
	}

	a := run()
	b := run()

	require.Equal(t, len(a.Trades), len(b.Trades))
	for i := range a.Trades {
		assert.Equal(t, a.Trades[i].Symbol, b.Trades[i].Symbol)
		assert.True(t, a.Trades[i].EntryPrice.Equal(b.Trades[i].EntryPrice))
		assert.True(t, a.Trades[i].ExitPrice.Equal(b.Trades[i].ExitPrice))
	}
	require.Equal(t, len(a.EquityCurve), len(b.EquityCurve))
	assert.True(t, a.FinalEquity.Equal(b.FinalEquity))
}
