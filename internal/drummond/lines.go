// Package drummond projects forward support/resistance lines from recent
// significant swing bars and aggregates overlapping lines into zones
// (component C of the analytic core).
package drummond

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
)

// LineKind distinguishes a projected support line from a resistance line.
type LineKind int

const (
	Support LineKind = iota
	Resistance
)

func (k LineKind) String() string {
	if k == Support {
		return "support"
	}
	return "resistance"
}

// DrummondLine is a forward projection from a recent significant swing bar.
type DrummondLine struct {
	OriginTimestamp    time.Time
	OriginPrice        decimal.Decimal
	ProjectedTimestamp time.Time
	ProjectedPrice     decimal.Decimal
	Kind               LineKind
	Strength           decimal.Decimal
}

// LineConfig holds the lookback, forward-projection span, and decay
// half-life used to find significant bars and age their lines.
type LineConfig struct {
	Lookback       int // bars on each side a swing high/low must dominate
	ProjectionGap  int // bars the line projects forward
	HalfLifeBars   int // strength halves every this many bars past ProjectionGap
}

// DefaultLineConfig returns the stock swing-detection lookbacks.
func DefaultLineConfig() LineConfig {
	return LineConfig{Lookback: 3, ProjectionGap: 10, HalfLifeBars: 10}
}

// DetectLines scans series for local extrema within cfg.Lookback bars on
// each side and projects a line cfg.ProjectionGap bars forward from each.
// The interval's bar Duration is used to convert a bar offset into the
// ProjectedTimestamp.
func DetectLines(series bar.BarSeries, cfg LineConfig, asOf time.Time) []DrummondLine {
	bars := series.Bars
	n := len(bars)
	var lines []DrummondLine
	if n == 0 {
		return lines
	}
	step := series.Interval.Duration()

	isSwingHigh := func(i int) bool {
		for d := 1; d <= cfg.Lookback; d++ {
			if i-d < 0 || i+d >= n {
				return false
			}
			if bars[i-d].High.GreaterThanOrEqual(bars[i].High) || bars[i+d].High.GreaterThanOrEqual(bars[i].High) {
				return false
			}
		}
		return true
	}
	isSwingLow := func(i int) bool {
		for d := 1; d <= cfg.Lookback; d++ {
			if i-d < 0 || i+d >= n {
				return false
			}
			if bars[i-d].Low.LessThanOrEqual(bars[i].Low) || bars[i+d].Low.LessThanOrEqual(bars[i].Low) {
				return false
			}
		}
		return true
	}

	for i := 0; i < n; i++ {
		if isSwingHigh(i) {
			lines = append(lines, buildLine(bars[i].Timestamp, bars[i].High, Resistance, cfg, step, asOf))
		}
		if isSwingLow(i) {
			lines = append(lines, buildLine(bars[i].Timestamp, bars[i].Low, Support, cfg, step, asOf))
		}
	}
	return lines
}

func buildLine(origin time.Time, price decimal.Decimal, kind LineKind, cfg LineConfig, step time.Duration, asOf time.Time) DrummondLine {
	projected := origin.Add(time.Duration(cfg.ProjectionGap) * step)
	l := DrummondLine{
		OriginTimestamp:    origin,
		OriginPrice:        price,
		ProjectedTimestamp: projected,
		ProjectedPrice:     price,
		Kind:               kind,
		Strength:           decayedStrength(origin, cfg, step, asOf),
	}
	return l
}

// decayedStrength starts at 1.0 and halves every HalfLifeBars once the line
// has aged past ProjectionGap bars from its origin.
func decayedStrength(origin time.Time, cfg LineConfig, step time.Duration, asOf time.Time) decimal.Decimal {
	if step <= 0 || cfg.HalfLifeBars <= 0 {
		return decimal.NewFromInt(1)
	}
	ageBars := int(asOf.Sub(origin) / step)
	barsPastGap := ageBars - cfg.ProjectionGap
	if barsPastGap <= 0 {
		return decimal.NewFromInt(1)
	}
	halvings := float64(barsPastGap) / float64(cfg.HalfLifeBars)
	return decimal.NewFromFloat(math.Pow(2, -halvings))
}
