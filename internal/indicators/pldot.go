// Package indicators computes the PLdot point-of-control and its envelope
// bands (component B of the analytic core).
package indicators

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
)

// PriceScale is the fixed fractional scale (decimal digits) applied to all
// rounded price computations.
const PriceScale = 4

// PLdotPoint is the three-bar smoothed point-of-control at one bar index,
// plus its one-bar-forward displacement.
type PLdotPoint struct {
	Timestamp         time.Time
	Value             decimal.Decimal
	ProjectedTimestamp time.Time
	ProjectedValue    decimal.Decimal
	Slope             decimal.Decimal
	Displacement      int
}

// MaxGap bounds how far apart, in wall-clock time, the three bars composing
// a PLdot window may be. Gaps beyond this (market closure, data gap) cause
// the point to be omitted rather than computed across a stale window.
type Config struct {
	Displacement int // bars forward for the projected value; default 1
	MaxGap       time.Duration
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{Displacement: 1, MaxGap: 0} // MaxGap 0 means "unbounded"
}

// round applies banker's rounding (half to even) at PriceScale.
func round(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(PriceScale)
}

func mean3(a, b, c decimal.Decimal) decimal.Decimal {
	sum := a.Add(b).Add(c)
	return sum.DivRound(decimal.NewFromInt(3), PriceScale+4)
}

// ComputePLdots produces the PLdotPoint sequence for bars at index 2..n-1 of
// series:
//
//  1. window W = {i-2, i-1, i}
//  2. value(i) = (mean(close, W) + mean(high, W) + mean(low, W)) / 3
//  3. displacement: projected_value(i) = value(i), projected_timestamp(i) = timestamp(i+1)
//  4. slope: value(i) - value(i-1) for i >= 3, else 0
//
// A window whose three bars do not all fall within cfg.MaxGap of one
// another is omitted (the point is skipped, not interpolated).
func ComputePLdots(series bar.BarSeries, cfg Config) []PLdotPoint {
	bars := series.Bars
	n := len(bars)
	if n < 3 {
		return nil
	}
	out := make([]PLdotPoint, 0, n-2)
	var prevValue decimal.Decimal
	havePrev := false

	for i := 2; i < n; i++ {
		w0, w1, w2 := bars[i-2], bars[i-1], bars[i]
		if cfg.MaxGap > 0 {
			if w2.Timestamp.Sub(w1.Timestamp) > cfg.MaxGap || w1.Timestamp.Sub(w0.Timestamp) > cfg.MaxGap {
				havePrev = false
				continue
			}
		}

		closeMean := mean3(w0.Close, w1.Close, w2.Close)
		highMean := mean3(w0.High, w1.High, w2.High)
		lowMean := mean3(w0.Low, w1.Low, w2.Low)
		value := round(closeMean.Add(highMean).Add(lowMean).DivRound(decimal.NewFromInt(3), PriceScale+4))

		p := PLdotPoint{
			Timestamp:    w2.Timestamp,
			Value:        value,
			Displacement: cfg.Displacement,
		}
		if i+1 < n {
			p.ProjectedTimestamp = bars[i+1].Timestamp
		}
		p.ProjectedValue = value

		if havePrev {
			p.Slope = value.Sub(prevValue)
		} else {
			p.Slope = decimal.Zero
		}

		out = append(out, p)
		prevValue = value
		havePrev = true
	}
	return out
}

// SlopeClassKind classifies a PLdot slope into RISING / FALLING / HORIZONTAL
// against an epsilon threshold (state.slope_epsilon, default 1e-4 relative
// to the PLdot value).
type SlopeClassKind int

const (
	SlopeHorizontal SlopeClassKind = iota
	SlopeRising
	SlopeFalling
)

func (k SlopeClassKind) String() string {
	switch k {
	case SlopeRising:
		return "RISING"
	case SlopeFalling:
		return "FALLING"
	default:
		return "HORIZONTAL"
	}
}

// ClassifySlope compares slope to epsilon*value to decide horizontality.
func ClassifySlope(slope, value decimal.Decimal, epsilon decimal.Decimal) SlopeClassKind {
	if value.IsZero() {
		if slope.IsZero() {
			return SlopeHorizontal
		}
	}
	threshold := value.Abs().Mul(epsilon)
	if slope.Abs().LessThanOrEqual(threshold) {
		return SlopeHorizontal
	}
	if slope.IsPositive() {
		return SlopeRising
	}
	return SlopeFalling
}
