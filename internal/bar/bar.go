// Package bar defines the canonical Bar and BarSeries types and the bar
// store's ingestion and query operations (component A of the analytic core).
package bar

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/errs"
)

// Interval is one of a finite set of bar bucket sizes.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

// Duration returns the wall-clock length of one bucket of this interval.
// 1d and 1w are calendar buckets; callers that need session/day boundaries
// in an exchange timezone should pass that location to Aggregate rather
// than rely on this fixed duration.
func (iv Interval) Duration() time.Duration {
	switch iv {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

// Valid reports whether iv is one of the recognized intervals.
func (iv Interval) Valid() bool {
	return iv.Duration() > 0
}

// Bar is a single OHLCV candlestick. Immutable once appended to a BarSeries.
type Bar struct {
	Symbol    string
	Interval  Interval
	Timestamp time.Time // UTC, point-in-time instant
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// Validate checks the Bar invariants. Any record failing these is
// rejected by the ingestion port with a typed InvalidInput error rather
// than silently coerced.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return errs.New(errs.InvalidInput, "missing symbol")
	}
	if !b.Interval.Valid() {
		return errs.New(errs.InvalidInput, "unrecognized interval")
	}
	if b.Timestamp.IsZero() {
		return errs.New(errs.InvalidInput, "missing timestamp")
	}
	if b.Low.GreaterThan(b.Open) || b.Low.GreaterThan(b.Close) || b.Low.GreaterThan(b.High) {
		return errs.New(errs.InvalidInput, "low exceeds open/close/high")
	}
	if b.High.LessThan(b.Open) || b.High.LessThan(b.Close) {
		return errs.New(errs.InvalidInput, "high below open/close")
	}
	if b.Volume < 0 {
		return errs.New(errs.InvalidInput, "negative volume")
	}
	return nil
}

// BarSeries is an ordered, strictly-increasing-by-timestamp, duplicate-free
// sequence of Bars for one (symbol, interval). Read-only once handed to the
// pipeline; the bar store owns mutation.
type BarSeries struct {
	Symbol   string
	Interval Interval
	Bars     []Bar
}

// Len returns the number of bars in the series.
func (s BarSeries) Len() int { return len(s.Bars) }

// At returns the bar at index i. Panics if out of range, matching the
// "finite, forward-only sequence" contract: callers are expected to bound
// their own iteration against Len().
func (s BarSeries) At(i int) Bar { return s.Bars[i] }

// Window returns the sub-series covering [from, to] inclusive, assuming Bars
// is already time-ordered.
func (s BarSeries) Window(from, to time.Time) BarSeries {
	out := BarSeries{Symbol: s.Symbol, Interval: s.Interval}
	for _, b := range s.Bars {
		if !b.Timestamp.Before(from) && !b.Timestamp.After(to) {
			out.Bars = append(out.Bars, b)
		}
	}
	return out
}

// Tail returns the last n bars (or fewer if the series is shorter).
func (s BarSeries) Tail(n int) BarSeries {
	if n >= len(s.Bars) {
		return s
	}
	out := BarSeries{Symbol: s.Symbol, Interval: s.Interval}
	out.Bars = append(out.Bars, s.Bars[len(s.Bars)-n:]...)
	return out
}
