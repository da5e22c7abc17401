// Package portfolio implements the lockstep-clock portfolio backtest engine
// (component I): a single global clock advances over the sorted union of
// trading-timeframe bar timestamps, managing open positions, sizing new
// entries against a risk budget, and sampling the equity curve.
package portfolio

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/errs"
)

// Clock abstracts "now" so backtests stay deterministic under replay; the
// live scheduler supplies RealClock, tests supply a fixed-step fake.
type Clock interface {
	Now() time.Time
}

// RealClock reports the current wall-clock time.
type RealClock struct{}

// Now implements Clock.
func (RealClock) Now() time.Time { return time.Now() }

// Candidate is one entry candidate surfaced by the signal generator for a
// given symbol at a given timestep.
type Candidate struct {
	Symbol      string
	Long        bool
	EntryPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal
	Confidence  decimal.Decimal
	RiskReward  decimal.Decimal
	Sector      string
}

// CandidateProvider returns the entry candidates available at timestep t,
// after indicators/state/patterns have been recomputed for symbols with a
// new bar at t. Implementations are expected to consult the calculation cache.
type CandidateProvider func(ctx context.Context, t time.Time, barsAtT map[string]bar.Bar) ([]Candidate, error)

// Position is an open portfolio position.
type Position struct {
	Symbol      string
	Long        bool
	EntryPrice  decimal.Decimal
	StopPrice   decimal.Decimal
	TargetPrice decimal.Decimal
	Quantity    decimal.Decimal
	Sector      string
	OpenTime    time.Time
	MFE         decimal.Decimal
	MAE         decimal.Decimal
}

func (p Position) marketValue(close decimal.Decimal) decimal.Decimal {
	if p.Long {
		return p.Quantity.Mul(close)
	}
	// a short reserves its entry notional from cash; its market value is that
	// reserve plus the unrealized gain: quantity × (2·entry − close)
	return p.Quantity.Mul(p.EntryPrice.Mul(decimal.NewFromInt(2)).Sub(close))
}

// Trade is a closed position recorded for the trade list.
type Trade struct {
	Symbol     string
	Long       bool
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Quantity   decimal.Decimal
	OpenTime   time.Time
	CloseTime  time.Time
	PnL        decimal.Decimal
	ExitReason string
}

// EquitySample is one point on the sampled equity curve.
type EquitySample struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Cash      decimal.Decimal
}

// Config holds the engine's portfolio and sampler tunables.
type Config struct {
	InitialEquity      decimal.Decimal
	RiskPerTradePct    decimal.Decimal
	MaxConcurrentPos   int
	MaxTotalRiskPct    decimal.Decimal
	PerSectorCap       int
	SlippageBps        decimal.Decimal
	CommissionPct      decimal.Decimal
	SampleEveryNBars   int
	SampleEquityDeltaPct decimal.Decimal
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		InitialEquity:        decimal.NewFromInt(100000),
		RiskPerTradePct:      decimal.NewFromFloat(0.02),
		MaxConcurrentPos:     20,
		MaxTotalRiskPct:      decimal.NewFromFloat(0.10),
		PerSectorCap:         3,
		SlippageBps:          decimal.NewFromFloat(2),
		CommissionPct:        decimal.Zero,
		SampleEveryNBars:     10,
		SampleEquityDeltaPct: decimal.NewFromFloat(0.01),
	}
}

// Result is the engine's output for one run.
type Result struct {
	Trades      []Trade
	EquityCurve []EquitySample
	FinalEquity decimal.Decimal
}

// Engine runs the lockstep portfolio simulation over a fixed set of symbol
// bar series.
type Engine struct {
	cfg      Config
	provider CandidateProvider
}

// New constructs an Engine.
func New(cfg Config, provider CandidateProvider) *Engine {
	return &Engine{cfg: cfg, provider: provider}
}

type runState struct {
	cash       decimal.Decimal
	positions  map[string]*Position
	barsSince  int
	lastEquity decimal.Decimal
	trades     []Trade
	curve      []EquitySample
}

// Run advances the global clock over the sorted union of bar timestamps in
// series, sizing and opening candidate entries, closing positions on
// stop/target, and sampling the equity curve.
func (e *Engine) Run(ctx context.Context, series map[string]bar.BarSeries) (*Result, error) {
	timestamps, bySymbolByTime := indexByTimestamp(series)
	if len(timestamps) == 0 {
		return nil, errs.New(errs.InvalidInput, "empty_bar_set")
	}

	st := &runState{
		cash:      e.cfg.InitialEquity,
		positions: make(map[string]*Position),
	}
	st.lastEquity = e.cfg.InitialEquity

	for _, t := range timestamps {
		select {
		case <-ctx.Done():
			return nil, errs.Wrap(errs.TimeoutCancelled, "backtest_cancelled", ctx.Err())
		default:
		}

		barsAtT := bySymbolByTime[t]

		opened, closed := e.stepPositions(st, barsAtT)

		candidates, err := e.provider(ctx, t, barsAtT)
		if err != nil {
			return nil, errs.Wrap(errs.Unavailable, "candidate_provider_failed", err)
		}
		accepted := e.rankAndSelect(st, candidates)
		for _, c := range accepted {
			if e.openPosition(st, c, t) {
				opened = true
			}
		}

		equity := e.totalEquity(st, barsAtT)
		e.sampleEquity(st, t, equity, opened || closed)
	}

	return &Result{Trades: st.trades, EquityCurve: st.curve, FinalEquity: st.lastEquity}, nil
}

func indexByTimestamp(series map[string]bar.BarSeries) ([]time.Time, map[time.Time]map[string]bar.Bar) {
	seen := map[time.Time]bool{}
	var timestamps []time.Time
	bySymbolByTime := map[time.Time]map[string]bar.Bar{}

	for symbol, s := range series {
		for _, b := range s.Bars {
			if !seen[b.Timestamp] {
				seen[b.Timestamp] = true
				timestamps = append(timestamps, b.Timestamp)
			}
			if bySymbolByTime[b.Timestamp] == nil {
				bySymbolByTime[b.Timestamp] = map[string]bar.Bar{}
			}
			bySymbolByTime[b.Timestamp][symbol] = b
		}
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i].Before(timestamps[j]) })
	return timestamps, bySymbolByTime
}

// stepPositions updates MFE/MAE with each bar's high/low and closes
// positions whose stop or target was touched, conservatively resolving
// same-bar stop+target conflicts in favor of the stop. Positions are
// visited in sorted symbol order so the trade list is identical across
// runs even when several close in one timestep.
func (e *Engine) stepPositions(st *runState, barsAtT map[string]bar.Bar) (opened, closed bool) {
	symbols := make([]string, 0, len(st.positions))
	for symbol := range st.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		pos := st.positions[symbol]
		b, ok := barsAtT[symbol]
		if !ok {
			continue
		}
		if pos.Long {
			if b.High.Sub(pos.EntryPrice).GreaterThan(pos.MFE) {
				pos.MFE = b.High.Sub(pos.EntryPrice)
			}
			if pos.EntryPrice.Sub(b.Low).GreaterThan(pos.MAE) {
				pos.MAE = pos.EntryPrice.Sub(b.Low)
			}
			stopHit := b.Low.LessThanOrEqual(pos.StopPrice)
			targetHit := b.High.GreaterThanOrEqual(pos.TargetPrice)
			if stopHit {
				e.closePosition(st, pos, pos.StopPrice, b.Timestamp, "stop")
				closed = true
			} else if targetHit {
				e.closePosition(st, pos, pos.TargetPrice, b.Timestamp, "target")
				closed = true
			}
		} else {
			if pos.EntryPrice.Sub(b.Low).GreaterThan(pos.MFE) {
				pos.MFE = pos.EntryPrice.Sub(b.Low)
			}
			if b.High.Sub(pos.EntryPrice).GreaterThan(pos.MAE) {
				pos.MAE = b.High.Sub(pos.EntryPrice)
			}
			stopHit := b.High.GreaterThanOrEqual(pos.StopPrice)
			targetHit := b.Low.LessThanOrEqual(pos.TargetPrice)
			if stopHit {
				e.closePosition(st, pos, pos.StopPrice, b.Timestamp, "stop")
				closed = true
			} else if targetHit {
				e.closePosition(st, pos, pos.TargetPrice, b.Timestamp, "target")
				closed = true
			}
		}
	}
	return opened, closed
}

func (e *Engine) closePosition(st *runState, pos *Position, exitPrice decimal.Decimal, t time.Time, reason string) {
	exitPrice = applySlippageAndCommission(exitPrice, e.cfg, !pos.Long)
	var pnl decimal.Decimal
	if pos.Long {
		pnl = exitPrice.Sub(pos.EntryPrice).Mul(pos.Quantity)
		st.cash = st.cash.Add(pos.Quantity.Mul(exitPrice))
	} else {
		pnl = pos.EntryPrice.Sub(exitPrice).Mul(pos.Quantity)
		st.cash = st.cash.Add(pnl).Add(pos.Quantity.Mul(pos.EntryPrice))
	}
	st.trades = append(st.trades, Trade{
		Symbol: pos.Symbol, Long: pos.Long, EntryPrice: pos.EntryPrice, ExitPrice: exitPrice,
		Quantity: pos.Quantity, OpenTime: pos.OpenTime, CloseTime: t, PnL: pnl, ExitReason: reason,
	})
	delete(st.positions, pos.Symbol)
}

// rankAndSelect ranks candidates by (confidence desc, rr_ratio desc, symbol
// asc) and admits them in that order as far as the max-positions,
// total-risk and per-sector caps allow. Sector diversity enters only through
// the per-sector cap; it is not a ranking key.
func (e *Engine) rankAndSelect(st *runState, candidates []Candidate) []Candidate {
	filtered := candidates[:0:0]
	for _, c := range candidates {
		if _, open := st.positions[c.Symbol]; !open {
			filtered = append(filtered, c)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].Confidence.Equal(filtered[j].Confidence) {
			return filtered[i].Confidence.GreaterThan(filtered[j].Confidence)
		}
		if !filtered[i].RiskReward.Equal(filtered[j].RiskReward) {
			return filtered[i].RiskReward.GreaterThan(filtered[j].RiskReward)
		}
		return filtered[i].Symbol < filtered[j].Symbol
	})

	sectorCounts := map[string]int{}
	for _, p := range st.positions {
		sectorCounts[p.Sector]++
	}

	var accepted []Candidate
	openRisk := e.openRiskPct(st)
	for _, c := range filtered {
		if len(st.positions)+len(accepted) >= e.cfg.MaxConcurrentPos {
			break
		}
		if sectorCounts[c.Sector] >= e.cfg.PerSectorCap {
			continue
		}
		riskPct := e.cfg.RiskPerTradePct
		if openRisk.Add(riskPct).GreaterThan(e.cfg.MaxTotalRiskPct) {
			continue
		}
		openRisk = openRisk.Add(riskPct)
		sectorCounts[c.Sector]++
		accepted = append(accepted, c)
	}
	return accepted
}

func (e *Engine) openRiskPct(st *runState) decimal.Decimal {
	if st.lastEquity.IsZero() {
		return decimal.Zero
	}
	total := decimal.Zero
	for _, p := range st.positions {
		perUnitRisk := p.EntryPrice.Sub(p.StopPrice).Abs()
		total = total.Add(perUnitRisk.Mul(p.Quantity))
	}
	return total.DivRound(st.lastEquity, 8)
}

// openPosition sizes and opens a candidate:
// risk_budget = equity * risk_per_trade_pct * confidence_multiplier (identity
// here); quantity = floor(risk_budget / |entry - stop|).
func (e *Engine) openPosition(st *runState, c Candidate, t time.Time) bool {
	riskBudget := st.lastEquity.Mul(e.cfg.RiskPerTradePct)
	perUnitRisk := c.EntryPrice.Sub(c.StopPrice).Abs()
	if perUnitRisk.IsZero() {
		return false
	}
	quantity := riskBudget.Div(perUnitRisk).Floor()
	if quantity.LessThanOrEqual(decimal.Zero) {
		return false
	}

	entryPrice := applySlippageAndCommission(c.EntryPrice, e.cfg, c.Long)
	cost := quantity.Mul(entryPrice)
	if cost.GreaterThan(st.cash) {
		quantity = st.cash.Div(entryPrice).Floor()
		cost = quantity.Mul(entryPrice)
		if quantity.LessThanOrEqual(decimal.Zero) {
			return false
		}
	}

	// longs pay the notional; shorts reserve it, and closePosition returns it
	st.cash = st.cash.Sub(cost)

	st.positions[c.Symbol] = &Position{
		Symbol: c.Symbol, Long: c.Long, EntryPrice: entryPrice,
		StopPrice: c.StopPrice, TargetPrice: c.TargetPrice, Quantity: quantity,
		Sector: c.Sector, OpenTime: t,
	}
	return true
}

func applySlippageAndCommission(price decimal.Decimal, cfg Config, buying bool) decimal.Decimal {
	slippageFrac := cfg.SlippageBps.Div(decimal.NewFromInt(10000))
	adjusted := price
	if buying {
		adjusted = price.Mul(decimal.NewFromInt(1).Add(slippageFrac))
	} else {
		adjusted = price.Mul(decimal.NewFromInt(1).Sub(slippageFrac))
	}
	commission := adjusted.Mul(cfg.CommissionPct)
	if buying {
		return adjusted.Add(commission).Round(8)
	}
	return adjusted.Sub(commission).Round(8)
}

// totalEquity maintains the equity invariant: total_equity = cash +
// sum(positions.market_value(current close)), using current prices (never
// stale entry prices).
func (e *Engine) totalEquity(st *runState, barsAtT map[string]bar.Bar) decimal.Decimal {
	equity := st.cash
	for symbol, p := range st.positions {
		close := p.EntryPrice
		if b, ok := barsAtT[symbol]; ok {
			close = b.Close
		}
		equity = equity.Add(p.marketValue(close))
	}
	st.lastEquity = equity
	return equity
}

func (e *Engine) sampleEquity(st *runState, t time.Time, equity decimal.Decimal, tradeEvent bool) {
	st.barsSince++
	sample := tradeEvent
	if !sample && e.cfg.SampleEveryNBars > 0 && st.barsSince%e.cfg.SampleEveryNBars == 0 {
		sample = true
	}
	if !sample && len(st.curve) > 0 {
		prev := st.curve[len(st.curve)-1].Equity
		if !prev.IsZero() {
			delta := equity.Sub(prev).Abs().DivRound(prev.Abs(), 6)
			if delta.GreaterThanOrEqual(e.cfg.SampleEquityDeltaPct) {
				sample = true
			}
		}
	}
	if sample {
		st.curve = append(st.curve, EquitySample{Timestamp: t, Equity: equity, Cash: st.cash})
	}
}
