// Package signal implements the signal generator (component G): combines
// trading-TF state, the highest-strength pattern, the nearest confluence
// zone, and HTF trend into at most one entry/exit signal per symbol per
// cycle.
package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/mtf"
	"github.com/drummondgeo/dgcore/internal/pattern"
	"github.com/drummondgeo/dgcore/internal/state"
)

// Action enumerates the signal types the generator emits.
type Action int

const (
	Long Action = iota
	Short
	ExitLong
	ExitShort
)

func (a Action) String() string {
	switch a {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	case ExitLong:
		return "EXIT_LONG"
	case ExitShort:
		return "EXIT_SHORT"
	default:
		return "UNKNOWN"
	}
}

// ParseAction is the inverse of Action.String, used when rehydrating
// persisted signal records.
func ParseAction(s string) (Action, bool) {
	switch s {
	case "LONG":
		return Long, true
	case "SHORT":
		return Short, true
	case "EXIT_LONG":
		return ExitLong, true
	case "EXIT_SHORT":
		return ExitShort, true
	default:
		return 0, false
	}
}

// Signal is one emitted trading signal.
type Signal struct {
	Symbol      string
	Action      Action
	Timestamp   time.Time
	EntryPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal
	RiskReward  decimal.Decimal
	Confidence  decimal.Decimal
	Reason      string
}

// Config holds the generator's tunables.
type Config struct {
	ZoneDistanceTolerancePct decimal.Decimal
	NotifyFloor              decimal.Decimal
	ActFloor                 decimal.Decimal
	HTFMisalignedPenalty     decimal.Decimal
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		ZoneDistanceTolerancePct: decimal.NewFromFloat(0.002),
		NotifyFloor:              decimal.NewFromFloat(0.5),
		ActFloor:                 decimal.NewFromFloat(0.65),
		HTFMisalignedPenalty:     decimal.NewFromFloat(0.8),
	}
}

// OpenPosition describes the generator's view of an existing open position,
// used to decide whether a structural break or opposite high-confidence
// signal should emit an EXIT.
type OpenPosition struct {
	Symbol          string
	Long            bool
	AdverseBarCount int // consecutive bars with close on the adverse side of PLdot
}

// Input bundles everything the generator needs for one symbol at the latest
// trading-TF timestamp.
type Input struct {
	Symbol           string
	Timestamp        time.Time
	TradingState     state.Point
	HTFState         state.Point
	BestPattern      *pattern.Pattern
	NearestZone      *drummond.DrummondZone
	NearestZoneDist  decimal.Decimal // |close - zone.CenterPrice| / close
	Close            decimal.Decimal
	StrengthFactors  mtf.StrengthFactors
	Open             *OpenPosition
}

func htfNeutralOrAligned(htf state.Point, wantUp bool, strongPattern bool) bool {
	if htf.State == state.Trend && htf.TrendDirection != state.Neutral {
		if wantUp {
			return htf.TrendDirection == state.Up
		}
		return htf.TrendDirection == state.Down
	}
	return strongPattern
}

// Generate emits at most one signal for in.Symbol, or nil when no
// rule fires or confidence falls below the notify floor.
func Generate(cfg Config, in Input) *Signal {
	if s := generateExit(cfg, in); s != nil {
		return s
	}
	if in.Open != nil {
		// An existing position with no exit trigger yields no new entry.
		return nil
	}
	return generateEntry(cfg, in)
}

func generateExit(cfg Config, in Input) *Signal {
	if in.Open == nil {
		return nil
	}
	structuralBreak := in.Open.AdverseBarCount >= 3

	oppositeHighConfidence := false
	var opposite *pattern.Pattern
	if in.BestPattern != nil {
		if in.Open.Long && in.BestPattern.Direction == pattern.Bearish {
			opposite = in.BestPattern
		} else if !in.Open.Long && in.BestPattern.Direction == pattern.Bullish {
			opposite = in.BestPattern
		}
	}
	if opposite != nil {
		conf := confidence(cfg, in, opposite)
		oppositeHighConfidence = conf.GreaterThanOrEqual(cfg.ActFloor)
	}

	if !structuralBreak && !oppositeHighConfidence {
		return nil
	}

	action := ExitLong
	reason := "structural_break"
	if !in.Open.Long {
		action = ExitShort
	}
	if oppositeHighConfidence {
		reason = "opposing_high_confidence_signal"
	}

	conf := in.TradingState.Confidence
	if opposite != nil {
		conf = confidence(cfg, in, opposite)
	}
	return &Signal{
		Symbol: in.Symbol, Action: action, Timestamp: in.Timestamp,
		EntryPrice: in.Close, Confidence: conf, Reason: reason,
	}
}

func confidence(cfg Config, in Input, p *pattern.Pattern) decimal.Decimal {
	strength := mtf.SignalStrength(in.StrengthFactors)
	aligned := in.HTFState.State == state.Trend &&
		((p.Direction == pattern.Bullish && in.HTFState.TrendDirection == state.Up) ||
			(p.Direction == pattern.Bearish && in.HTFState.TrendDirection == state.Down))

	mult := decimal.NewFromInt(1)
	if !aligned {
		mult = cfg.HTFMisalignedPenalty
	}
	return strength.Mul(in.TradingState.Confidence).Mul(mult)
}

func generateEntry(cfg Config, in Input) *Signal {
	if in.BestPattern == nil {
		return nil
	}
	p := in.BestPattern
	wantUp := p.Direction == pattern.Bullish

	strongPattern := p.Strength.GreaterThanOrEqual(decimal.NewFromFloat(0.7))
	if !htfNeutralOrAligned(in.HTFState, wantUp, strongPattern) {
		return nil
	}

	zoneOK := false
	if in.NearestZone != nil {
		wantKind := drummond.Support
		if !wantUp {
			wantKind = drummond.Resistance
		}
		zoneOK = in.NearestZone.Kind == wantKind && in.NearestZoneDist.LessThanOrEqual(cfg.ZoneDistanceTolerancePct)
	}

	triggered := false
	switch p.Kind {
	case pattern.Magnet:
		triggered = zoneOK
	case pattern.EnvelopeBounce:
		triggered = true
	case pattern.ConfluenceBreakout:
		triggered = true
	case pattern.MTFConfluence:
		// the LTF trigger and cross-timeframe agreement are already baked in
		triggered = true
	default:
		triggered = false
	}
	if !triggered {
		return nil
	}

	conf := confidence(cfg, in, p)
	if conf.LessThan(cfg.NotifyFloor) {
		return nil
	}

	action := Long
	if !wantUp {
		action = Short
	}
	return &Signal{
		Symbol: in.Symbol, Action: action, Timestamp: in.Timestamp,
		EntryPrice: p.EntryPrice, StopPrice: p.StopPrice, TargetPrice: p.TargetPrice,
		RiskReward: p.RiskReward, Confidence: conf, Reason: p.Kind.String(),
	}
}
