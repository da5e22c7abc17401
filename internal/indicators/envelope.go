package indicators

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// EnvelopeBand is the dynamic band around a PLdot point derived from the
// recent variability of PLdot values.
type EnvelopeBand struct {
	Timestamp time.Time
	Center    decimal.Decimal
	Upper     decimal.Decimal
	Lower     decimal.Decimal
	Width     decimal.Decimal
}

// EnvelopeConfig holds the envelope.period / envelope.multiplier
// configuration keys (defaults 3 and 1.5 respectively).
type EnvelopeConfig struct {
	Period     int
	Multiplier decimal.Decimal
}

// DefaultEnvelopeConfig returns the stock defaults.
func DefaultEnvelopeConfig() EnvelopeConfig {
	return EnvelopeConfig{Period: 3, Multiplier: decimal.NewFromFloat(1.5)}
}

// ComputeEnvelopes builds one EnvelopeBand per PLdotPoint in pldots,
// where center(i) = value(i); width(i) = multiplier ×
// population-stddev(value over the last `period` PLdot values); upper =
// center + width/2; lower = center - width/2. Upper and lower are rounded
// to PriceScale and the stored Width is upper - lower after that rounding.
func ComputeEnvelopes(pldots []PLdotPoint, cfg EnvelopeConfig) []EnvelopeBand {
	out := make([]EnvelopeBand, len(pldots))
	for i, p := range pldots {
		start := i - cfg.Period + 1
		if start < 0 {
			start = 0
		}
		window := pldots[start : i+1]
		sd := populationStdDev(window)
		width := cfg.Multiplier.Mul(sd)
		half := width.DivRound(decimal.NewFromInt(2), PriceScale+4)

		upper := round(p.Value.Add(half))
		lower := round(p.Value.Sub(half))

		out[i] = EnvelopeBand{
			Timestamp: p.Timestamp,
			Center:    p.Value,
			Upper:     upper,
			Lower:     lower,
			Width:     upper.Sub(lower),
		}
	}
	return out
}

func populationStdDev(points []PLdotPoint) decimal.Decimal {
	n := len(points)
	if n == 0 {
		return decimal.Zero
	}
	var sum float64
	for _, p := range points {
		sum += valueFloat(p.Value)
	}
	mean := sum / float64(n)

	var sq float64
	for _, p := range points {
		d := valueFloat(p.Value) - mean
		sq += d * d
	}
	variance := sq / float64(n)
	return decimal.NewFromFloat(math.Sqrt(variance))
}

func valueFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
