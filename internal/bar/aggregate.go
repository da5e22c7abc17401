package bar

import (
	"time"

	"github.com/shopspring/decimal"
)

// Aggregate folds a lower-interval BarSeries into bars of targetInterval.
// open=first.open, high=max(high), low=min(low), close=last.close,
// volume=Σvolume, timestamp=bucket start. Partial (incomplete) trailing
// buckets are withheld. Bucket boundaries are computed in loc, matching the
// "wallclock-day and session boundaries ... in the exchange timezone"
// convention for daily and weekly buckets.
func Aggregate(lower BarSeries, targetInterval Interval, loc *time.Location) BarSeries {
	out := BarSeries{Symbol: lower.Symbol, Interval: targetInterval}
	if lower.Len() == 0 || loc == nil {
		return out
	}

	bucketStart := func(t time.Time) time.Time {
		local := t.In(loc)
		switch targetInterval {
		case Interval1d:
			y, m, d := local.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, loc)
		case Interval1w:
			y, m, d := local.Date()
			day := time.Date(y, m, d, 0, 0, 0, 0, loc)
			offset := (int(day.Weekday()) + 6) % 7 // Monday-anchored week
			return day.AddDate(0, 0, -offset)
		default:
			dur := targetInterval.Duration()
			if dur <= 0 {
				return local
			}
			return local.Truncate(dur)
		}
	}

	bucketEnd := func(start time.Time) time.Time {
		switch targetInterval {
		case Interval1d:
			return start.AddDate(0, 0, 1)
		case Interval1w:
			return start.AddDate(0, 0, 7)
		default:
			return start.Add(targetInterval.Duration())
		}
	}

	type acc struct {
		start  time.Time
		end    time.Time
		open   decimal.Decimal
		high   decimal.Decimal
		low    decimal.Decimal
		close  decimal.Decimal
		volume int64
		n      int
	}

	var buckets []*acc
	byStart := make(map[int64]*acc)

	for _, b := range lower.Bars {
		start := bucketStart(b.Timestamp)
		k := start.UnixNano()
		a, ok := byStart[k]
		if !ok {
			a = &acc{start: start, end: bucketEnd(start), open: b.Open, high: b.High, low: b.Low}
			byStart[k] = a
			buckets = append(buckets, a)
		}
		if a.n == 0 {
			a.open = b.Open
		}
		if b.High.GreaterThan(a.high) || a.n == 0 {
			a.high = b.High
		}
		if b.Low.LessThan(a.low) || a.n == 0 {
			a.low = b.Low
		}
		a.close = b.Close
		a.volume += b.Volume
		a.n++
	}

	lastBarTime := lower.Bars[lower.Len()-1].Timestamp.In(loc)

	for _, a := range buckets {
		// Withhold a bucket until it is complete: the source series must
		// contain a bar at or after the bucket's end boundary, otherwise the
		// bucket is still accumulating.
		if !lastBarTime.Before(a.end) {
			out.Bars = append(out.Bars, Bar{
				Symbol:    lower.Symbol,
				Interval:  targetInterval,
				Timestamp: a.start.UTC(),
				Open:      a.open,
				High:      a.high,
				Low:       a.low,
				Close:     a.close,
				Volume:    a.volume,
			})
		}
	}
	return out
}
