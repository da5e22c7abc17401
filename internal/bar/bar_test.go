package bar

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/errs"
)

func mkBar(symbol string, ts time.Time, o, h, l, c float64, v int64) Bar {
	return Bar{
		Symbol:    symbol,
		Interval:  Interval1m,
		Timestamp: ts,
		Open:      decimal.NewFromFloat(o),
		High:      decimal.NewFromFloat(h),
		Low:       decimal.NewFromFloat(l),
		Close:     decimal.NewFromFloat(c),
		Volume:    v,
	}
}

func TestBarValidate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := mkBar("BTC", base, 100, 101, 99, 100.5, 10)
	require.NoError(t, valid.Validate())

	bad := mkBar("BTC", base, 100, 99, 99, 100.5, 10) // high < open
	assert.Error(t, bad.Validate())

	negVol := mkBar("BTC", base, 100, 101, 99, 100.5, -1)
	assert.Error(t, negVol.Validate())
}

func TestStoreAppendAndGet(t *testing.T) {
	invalidated := 0
	s := NewStore(zerolog.Nop(), func(symbol string, interval Interval) { invalidated++ })
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	bars := []Bar{
		mkBar("BTC", base, 100, 101, 99, 100, 10),
		mkBar("BTC", base.Add(time.Minute), 100, 102, 99, 101, 10),
		mkBar("BTC", base.Add(time.Minute), 100, 999, 99, 101, 10), // duplicate timestamp, wins
		mkBar("BTC", base.Add(2*time.Minute), 0, -1, 0, 0, 10),     // invalid: high<low
	}

	res := s.Append(context.Background(), "BTC", Interval1m, bars)
	assert.Equal(t, 2, res.Accepted)
	assert.Equal(t, 2, res.Skipped)
	assert.Equal(t, 1, invalidated)

	series, err := s.GetBars(context.Background(), "BTC", Interval1m, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	assert.True(t, series.At(1).Timestamp.After(series.At(0).Timestamp))
	assert.True(t, series.At(1).High.Equal(decimal.NewFromFloat(999)))

	_, err = s.GetBars(context.Background(), "ETH", Interval1m, base, base.Add(time.Hour))
	assert.True(t, errs.Is(err, errs.NotFound))
}

func TestAggregate(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lower := BarSeries{Symbol: "BTC", Interval: Interval1m}
	for i := 0; i < 20; i++ {
		lower.Bars = append(lower.Bars, mkBar("BTC", base.Add(time.Duration(i)*time.Minute),
			100+float64(i), 101+float64(i), 99+float64(i), 100+float64(i), 5))
	}

	agg := Aggregate(lower, Interval5m, time.UTC)
	// 20 one-minute bars -> 3 complete 5-minute buckets (bars 0-14), bucket
	// starting at minute 15 is incomplete since the last bar is at minute 19
	// which does not reach minute 20.
	require.Equal(t, 3, agg.Len())
	first := agg.At(0)
	assert.True(t, first.Open.Equal(decimal.NewFromFloat(100)))
	assert.True(t, first.Close.Equal(decimal.NewFromFloat(104)))
	assert.True(t, first.High.Equal(decimal.NewFromFloat(105)))
	assert.EqualValues(t, 25, first.Volume)
}
