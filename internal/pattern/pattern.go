// Package pattern implements the five pattern detectors (magnet, envelope
// bounce, confluence breakout, MTF confluence, range oscillation) of
// component E of the analytic core.
package pattern

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/indicators"
)

// Kind enumerates the five detector kinds.
type Kind int

const (
	Magnet Kind = iota
	EnvelopeBounce
	ConfluenceBreakout
	MTFConfluence
	RangeOscillation
)

func (k Kind) String() string {
	switch k {
	case Magnet:
		return "magnet"
	case EnvelopeBounce:
		return "envelope_bounce"
	case ConfluenceBreakout:
		return "confluence_breakout"
	case MTFConfluence:
		return "mtf_confluence"
	case RangeOscillation:
		return "range_oscillation"
	default:
		return "unknown"
	}
}

// Direction is the pattern's implied trade direction.
type Direction int

const (
	Bullish Direction = iota
	Bearish
)

func (d Direction) String() string {
	if d == Bullish {
		return "BULLISH"
	}
	return "BEARISH"
}

// Pattern is a single detected pattern instance.
type Pattern struct {
	Kind        Kind
	Direction   Direction
	Strength    decimal.Decimal
	EntryPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal
	RiskReward  decimal.Decimal
	Timestamp   time.Time
	ContextRefs []string
}

// Config holds the percentage thresholds used by the detectors, all
// expressed as decimal fractions (0.005 == 0.5%).
type Config struct {
	MagnetPriorDistancePct   decimal.Decimal
	MagnetCurrentDistancePct decimal.Decimal
	MagnetStopBufferPct      decimal.Decimal
	BounceProximityPct       decimal.Decimal
	BreakoutMaxPenetration   decimal.Decimal // as fraction of zone width
	BreakoutVolumeMultiple   decimal.Decimal
	BreakoutMinZoneStrength  decimal.Decimal
	RangeSlopeEpsilon        decimal.Decimal
	RangeMinTouches          int
	MinRR                    decimal.Decimal
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		MagnetPriorDistancePct:   decimal.NewFromFloat(0.005),
		MagnetCurrentDistancePct: decimal.NewFromFloat(0.005),
		MagnetStopBufferPct:      decimal.NewFromFloat(0.002),
		BounceProximityPct:       decimal.NewFromFloat(0.001),
		BreakoutMaxPenetration:   decimal.NewFromFloat(0.1),
		BreakoutVolumeMultiple:   decimal.NewFromFloat(1.5),
		BreakoutMinZoneStrength:  decimal.NewFromFloat(0.6),
		RangeSlopeEpsilon:        decimal.NewFromFloat(1e-4),
		RangeMinTouches:          4,
		MinRR:                    decimal.NewFromFloat(1.5),
	}
}

func rr(entry, stop, target decimal.Decimal) decimal.Decimal {
	denom := entry.Sub(stop).Abs()
	if denom.IsZero() {
		return decimal.Zero
	}
	return target.Sub(entry).Abs().DivRound(denom, 6)
}

// DetectMagnet detects the magnet pattern: the previous bar's close
// is >= MagnetPriorDistancePct away from PLdot while the current bar's
// close is within MagnetCurrentDistancePct of PLdot.
func DetectMagnet(cfg Config, prevClose, currClose, pldotValue decimal.Decimal, upperEnvelope, lowerEnvelope decimal.Decimal, nearestZone *drummond.DrummondZone, ts time.Time) *Pattern {
	if pldotValue.IsZero() {
		return nil
	}
	priorDist := prevClose.Sub(pldotValue).Abs().DivRound(pldotValue.Abs(), 6)
	currDist := currClose.Sub(pldotValue).Abs().DivRound(pldotValue.Abs(), 6)
	if priorDist.LessThan(cfg.MagnetPriorDistancePct) || currDist.GreaterThan(cfg.MagnetCurrentDistancePct) {
		return nil
	}

	var dir Direction
	var stop, target decimal.Decimal
	if prevClose.LessThan(pldotValue) {
		dir = Bullish
		stop = pldotValue.Mul(decimal.NewFromInt(1).Sub(cfg.MagnetStopBufferPct))
		target = upperEnvelope
	} else {
		dir = Bearish
		stop = pldotValue.Mul(decimal.NewFromInt(1).Add(cfg.MagnetStopBufferPct))
		target = lowerEnvelope
	}
	if nearestZone != nil {
		target = nearestZone.CenterPrice
	}

	strength := priorDist.DivRound(cfg.MagnetPriorDistancePct.Mul(decimal.NewFromInt(2)), 4)
	if strength.GreaterThan(decimal.NewFromInt(1)) {
		strength = decimal.NewFromInt(1)
	}

	p := &Pattern{
		Kind: Magnet, Direction: dir, Strength: strength,
		EntryPrice: currClose, StopPrice: stop, TargetPrice: target,
		Timestamp: ts,
	}
	p.RiskReward = rr(p.EntryPrice, p.StopPrice, p.TargetPrice)
	if p.RiskReward.LessThan(cfg.MinRR) {
		return nil
	}
	return p
}

// DetectEnvelopeBounce detects an envelope bounce: current close within
// BounceProximityPct of the upper (bearish) or lower (bullish) envelope,
// requiring either a reversal candle (close crossing back toward center) or
// above-mean volume.
func DetectEnvelopeBounce(cfg Config, currClose, prevClose, center, upper, lower decimal.Decimal, currVolume, meanVolume int64, ts time.Time) *Pattern {
	nearUpper := proximity(currClose, upper).LessThanOrEqual(cfg.BounceProximityPct)
	nearLower := proximity(currClose, lower).LessThanOrEqual(cfg.BounceProximityPct)
	if !nearUpper && !nearLower {
		return nil
	}

	reversal := false
	if nearUpper {
		reversal = currClose.LessThan(prevClose)
	} else {
		reversal = currClose.GreaterThan(prevClose)
	}
	aboveMeanVolume := meanVolume > 0 && currVolume > meanVolume
	if !reversal && !aboveMeanVolume {
		return nil
	}

	var dir Direction
	var stop decimal.Decimal
	if nearUpper {
		dir = Bearish
		stop = upper.Mul(decimal.NewFromFloat(1.002))
	} else {
		dir = Bullish
		stop = lower.Mul(decimal.NewFromFloat(0.998))
	}
	target := center

	p := &Pattern{
		Kind: EnvelopeBounce, Direction: dir, Strength: decimal.NewFromFloat(0.6),
		EntryPrice: currClose, StopPrice: stop, TargetPrice: target, Timestamp: ts,
	}
	p.RiskReward = rr(p.EntryPrice, p.StopPrice, p.TargetPrice)
	if p.RiskReward.LessThan(cfg.MinRR) {
		return nil
	}
	return p
}

func proximity(price, level decimal.Decimal) decimal.Decimal {
	if level.IsZero() {
		return decimal.NewFromInt(1)
	}
	return price.Sub(level).Abs().DivRound(level.Abs(), 6)
}

// DetectConfluenceBreakout detects a breakout: price crosses beyond a zone's
// boundary by a fraction of zone width (0, BreakoutMaxPenetration], with
// volume >= BreakoutVolumeMultiple x rolling-mean volume and zone strength
// >= BreakoutMinZoneStrength.
func DetectConfluenceBreakout(cfg Config, currClose decimal.Decimal, zone drummond.DrummondZone, currVolume int64, meanVolume float64, ts time.Time) *Pattern {
	width := zone.Width()
	if width.IsZero() || zone.Strength.LessThan(cfg.BreakoutMinZoneStrength) {
		return nil
	}
	if meanVolume <= 0 || decimal.NewFromFloat(float64(currVolume)).LessThan(cfg.BreakoutVolumeMultiple.Mul(decimal.NewFromFloat(meanVolume))) {
		return nil
	}

	var dir Direction
	var penetration decimal.Decimal
	switch zone.Kind {
	case drummond.Resistance:
		if currClose.LessThanOrEqual(zone.UpperPrice) {
			return nil
		}
		dir = Bullish
		penetration = currClose.Sub(zone.UpperPrice)
	case drummond.Support:
		if currClose.GreaterThanOrEqual(zone.LowerPrice) {
			return nil
		}
		dir = Bearish
		penetration = zone.LowerPrice.Sub(currClose)
	}
	if penetration.LessThanOrEqual(decimal.Zero) || penetration.GreaterThan(width.Mul(cfg.BreakoutMaxPenetration)) {
		return nil
	}

	stop := zone.CenterPrice
	var target decimal.Decimal
	if dir == Bullish {
		target = currClose.Add(width.Mul(decimal.NewFromInt(2)))
	} else {
		target = currClose.Sub(width.Mul(decimal.NewFromInt(2)))
	}

	p := &Pattern{
		Kind: ConfluenceBreakout, Direction: dir, Strength: zone.Strength,
		EntryPrice: currClose, StopPrice: stop, TargetPrice: target, Timestamp: ts,
	}
	p.RiskReward = rr(p.EntryPrice, p.StopPrice, p.TargetPrice)
	if p.RiskReward.LessThan(cfg.MinRR) {
		return nil
	}
	return p
}

// MTFInputs carries the per-timeframe confidences needed by the MTF
// confluence detector.
type MTFInputs struct {
	HTFDirectionUp     bool
	TFDirectionUp      bool
	HTFConfidence      decimal.Decimal
	TFConfidence       decimal.Decimal
	LTFTrigger         *Pattern // magnet or bounce detected on the LTF
}

// DetectMTFConfluence fires when the trend direction of HTF and trading TF
// agree, and an LTF trigger (magnet or bounce) is present.
func DetectMTFConfluence(cfg Config, in MTFInputs, entry, stop, target decimal.Decimal, ts time.Time) *Pattern {
	if in.LTFTrigger == nil || in.HTFDirectionUp != in.TFDirectionUp {
		return nil
	}
	dir := Bullish
	if !in.HTFDirectionUp {
		dir = Bearish
	}

	triggerStrength := in.LTFTrigger.Strength
	strength := decimal.NewFromFloat(0.4).Mul(in.HTFConfidence).
		Add(decimal.NewFromFloat(0.35).Mul(in.TFConfidence)).
		Add(decimal.NewFromFloat(0.25).Mul(triggerStrength))

	p := &Pattern{
		Kind: MTFConfluence, Direction: dir, Strength: strength,
		EntryPrice: entry, StopPrice: stop, TargetPrice: target, Timestamp: ts,
		ContextRefs: []string{in.LTFTrigger.Kind.String()},
	}
	p.RiskReward = rr(p.EntryPrice, p.StopPrice, p.TargetPrice)
	if p.RiskReward.LessThan(cfg.MinRR) {
		return nil
	}
	return p
}

// DetectRangeOscillation fires when the envelope slope over the last 10
// PLdots is near-flat and the total count of upper/lower envelope touches
// in a trailing window is >= RangeMinTouches. A Pattern instance is only
// emitted when a touch just occurred on the latest bar.
func DetectRangeOscillation(cfg Config, envelopes []indicators.EnvelopeBand, bars []bar.Bar) *Pattern {
	n := len(envelopes)
	if n < 10 {
		return nil
	}
	tail := envelopes[n-10:]
	deltaCenter := tail[len(tail)-1].Center.Sub(tail[0].Center)
	relative := deltaCenter.Abs()
	if !tail[0].Center.IsZero() {
		relative = relative.DivRound(tail[0].Center.Abs(), 6)
	}
	if relative.GreaterThan(cfg.RangeSlopeEpsilon) {
		return nil
	}

	touches := 0
	for i, e := range tail {
		bi := len(bars) - len(tail) + i
		if bi < 0 || bi >= len(bars) {
			continue
		}
		close := bars[bi].Close
		if proximity(close, e.Upper).LessThanOrEqual(cfg.BounceProximityPct) ||
			proximity(close, e.Lower).LessThanOrEqual(cfg.BounceProximityPct) {
			touches++
		}
	}
	if touches < cfg.RangeMinTouches {
		return nil
	}

	last := tail[len(tail)-1]
	lastBar := bars[len(bars)-1]
	justTouchedUpper := proximity(lastBar.Close, last.Upper).LessThanOrEqual(cfg.BounceProximityPct)
	justTouchedLower := proximity(lastBar.Close, last.Lower).LessThanOrEqual(cfg.BounceProximityPct)
	if !justTouchedUpper && !justTouchedLower {
		return nil
	}

	dir := Bullish
	stop := last.Lower.Mul(decimal.NewFromFloat(0.998))
	target := last.Center
	if justTouchedUpper {
		dir = Bearish
		stop = last.Upper.Mul(decimal.NewFromFloat(1.002))
		target = last.Center
	}

	p := &Pattern{
		Kind: RangeOscillation, Direction: dir,
		Strength:   decimal.NewFromFloat(0.5),
		EntryPrice: lastBar.Close, StopPrice: stop, TargetPrice: target,
		Timestamp: lastBar.Timestamp,
	}
	p.RiskReward = rr(p.EntryPrice, p.StopPrice, p.TargetPrice)
	if p.RiskReward.LessThan(cfg.MinRR) {
		return nil
	}
	return p
}
