// Package state implements the five-state market-state classifier driven by
// the three-bar close-vs-PLdot rule (component D of the analytic core).
package state

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/indicators"
)

// Kind enumerates the five market states.
type Kind int

const (
	Trend Kind = iota
	CongestionEntrance
	CongestionAction
	CongestionExit
	Reversal
)

func (k Kind) String() string {
	switch k {
	case Trend:
		return "TREND"
	case CongestionEntrance:
		return "CONGESTION_ENTRANCE"
	case CongestionAction:
		return "CONGESTION_ACTION"
	case CongestionExit:
		return "CONGESTION_EXIT"
	case Reversal:
		return "REVERSAL"
	default:
		return "UNKNOWN"
	}
}

// Direction is the trend direction carried alongside TREND states (and
// remembered across congestion/reversal states as "prior_trend_direction").
type Direction int

const (
	Neutral Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	default:
		return "NEUTRAL"
	}
}

// Point is one MarketStatePoint.
type Point struct {
	Timestamp       time.Time
	State           Kind
	TrendDirection  Direction
	BarsInState     int
	PreviousState   Kind
	SlopeClass      indicators.SlopeClassKind
	Confidence      decimal.Decimal
	ChangeReason    string
}

// Config holds the classifier's tunables.
type Config struct {
	SlopeEpsilon decimal.Decimal
}

// DefaultConfig returns the stock slope epsilon (1e-4).
func DefaultConfig() Config {
	return Config{SlopeEpsilon: decimal.NewFromFloat(1e-4)}
}

// position is sign(close - pldotValue): +1, -1, or 0.
func position(close, pldotValue decimal.Decimal) int {
	switch close.Cmp(pldotValue) {
	case 1:
		return 1
	case -1:
		return -1
	default:
		return 0
	}
}

// Classifier holds the running memory the transition table needs: the
// previous bar's state, direction and bars-in-state, and the last three
// resolved positions (for the three-bar alignment rule and the tie-break
// for position==0).
type Classifier struct {
	cfg Config

	positions     []int // rolling buffer of the last 3 resolved positions
	prevState     Kind
	prevDirection Direction
	barsInState   int
	haveState     bool
	wasCongestionExitOrReversal bool
}

// NewClassifier constructs a Classifier with the given configuration.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg}
}

// threeBarAligned reports whether the last three resolved positions are all
// +1 (returns Up) or all -1 (returns Down); otherwise Neutral, false.
func threeBarAligned(positions []int) (Direction, bool) {
	if len(positions) < 3 {
		return Neutral, false
	}
	p := positions[len(positions)-3:]
	if p[0] == 1 && p[1] == 1 && p[2] == 1 {
		return Up, true
	}
	if p[0] == -1 && p[1] == -1 && p[2] == -1 {
		return Down, true
	}
	return Neutral, false
}

// Next consumes the next bar's close, the PLdot value at that bar, and the
// PLdot slope class, and returns the resulting MarketStatePoint. Returns
// (Point{}, false) until the first three-bar alignment: the first two bars
// never emit, and later bars emit nothing until the last three resolved
// positions agree, which sets the initial TREND.
func (c *Classifier) Next(ts time.Time, close, pldotValue decimal.Decimal, slopeClass indicators.SlopeClassKind) (Point, bool) {
	pos := position(close, pldotValue)
	if pos == 0 && len(c.positions) > 0 {
		pos = c.positions[len(c.positions)-1] // tie-break: inherit previous sign
	}
	c.positions = append(c.positions, pos)
	if len(c.positions) > 3 {
		c.positions = c.positions[len(c.positions)-3:]
	}

	aligned, isAligned := threeBarAligned(c.positions)
	if !c.haveState {
		if !isAligned {
			return Point{}, false
		}
		return c.emit(ts, Trend, aligned, slopeClass, "initial_trend"), true
	}

	newState := c.prevState
	newDirection := c.prevDirection
	reason := ""

	switch c.prevState {
	case Trend:
		if isAligned && aligned == c.prevDirection {
			newState = Trend
			newDirection = aligned
		} else if pos != directionSign(c.prevDirection) {
			newState = CongestionEntrance
			reason = "close_crossed_against_trend"
		}
	case CongestionEntrance, CongestionAction:
		if isAligned {
			if aligned == c.prevDirection {
				newState = CongestionExit
				reason = "three_bar_alignment_matches_prior_trend"
			} else {
				newState = Reversal
				newDirection = aligned
				reason = "three_bar_alignment_opposes_prior_trend"
			}
		} else {
			newState = CongestionAction
		}
	case CongestionExit, Reversal:
		// After one bar, CongestionExit/Reversal is reconsidered as TREND.
		newState = Trend
		if c.prevState == Reversal {
			newDirection = c.prevDirection
		}
		reason = "congestion_exit_or_reversal_reclassified_as_trend"
	}

	return c.emit(ts, newState, newDirection, slopeClass, reason), true
}

func directionSign(d Direction) int {
	switch d {
	case Up:
		return 1
	case Down:
		return -1
	default:
		return 0
	}
}

func (c *Classifier) emit(ts time.Time, newState Kind, direction Direction, slopeClass indicators.SlopeClassKind, reason string) Point {
	transitioned := !c.haveState || newState != c.prevState
	if transitioned {
		c.barsInState = 1
	} else {
		c.barsInState++
	}

	p := Point{
		Timestamp:      ts,
		State:          newState,
		TrendDirection: direction,
		BarsInState:    c.barsInState,
		PreviousState:  c.prevState,
		SlopeClass:     slopeClass,
		ChangeReason:   reason,
	}
	if !c.haveState {
		p.PreviousState = newState
	}
	p.Confidence = confidence(newState, c.barsInState, direction, slopeClass)

	c.prevState = newState
	c.prevDirection = direction
	c.haveState = true
	return p
}

// confidence: base 0.5; +0.05 per
// bar_in_state capped at +0.30; +0.20 when TREND and slope matches
// direction; +0.15 when a CONGESTION_* state holds and slope is HORIZONTAL;
// clamped to [0,1].
func confidence(state Kind, barsInState int, direction Direction, slopeClass indicators.SlopeClassKind) decimal.Decimal {
	conf := 0.5

	barBonus := 0.05 * float64(barsInState)
	if barBonus > 0.30 {
		barBonus = 0.30
	}
	conf += barBonus

	if state == Trend {
		matches := (direction == Up && slopeClass == indicators.SlopeRising) ||
			(direction == Down && slopeClass == indicators.SlopeFalling)
		if matches {
			conf += 0.20
		}
	}
	if (state == CongestionEntrance || state == CongestionAction || state == CongestionExit) && slopeClass == indicators.SlopeHorizontal {
		conf += 0.15
	}

	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return decimal.NewFromFloat(conf)
}
