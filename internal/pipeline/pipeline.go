// Package pipeline wires the per-symbol analytic pipeline (bar ingestion,
// PLdot/envelope indicators, Drummond lines/zones, the state classifier,
// pattern detectors, the multi-timeframe coordinator, and the signal
// generator) behind the scheduler.SymbolPipeline interface.
package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/cache"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/errs"
	"github.com/drummondgeo/dgcore/internal/indicators"
	"github.com/drummondgeo/dgcore/internal/mtf"
	"github.com/drummondgeo/dgcore/internal/pattern"
	"github.com/drummondgeo/dgcore/internal/ports"
	"github.com/drummondgeo/dgcore/internal/signal"
	"github.com/drummondgeo/dgcore/internal/state"
)

// Config bundles every component config the pipeline threads through.
type Config struct {
	TradingInterval bar.Interval
	HTFInterval     bar.Interval
	LTFInterval     bar.Interval
	LookbackBars    int
	PLdot           indicators.Config
	Envelope        indicators.EnvelopeConfig
	State           state.Config
	Pattern         pattern.Config
	TradingZone     drummond.ZoneConfig
	TradingLine     drummond.LineConfig
	HTFZone         drummond.ZoneConfig
	HTFLine         drummond.LineConfig
	Signal          signal.Config
}

// DefaultConfig returns the stock component configuration.
func DefaultConfig() Config {
	return Config{
		TradingInterval: bar.Interval30m,
		HTFInterval:     bar.Interval1d,
		LTFInterval:     bar.Interval5m,
		LookbackBars:    200,
		PLdot:           indicators.DefaultConfig(),
		Envelope:        indicators.DefaultEnvelopeConfig(),
		State:           state.DefaultConfig(),
		Pattern:         pattern.DefaultConfig(),
		TradingZone:     drummond.DefaultZoneConfig("trading"),
		TradingLine:     drummond.DefaultLineConfig(),
		HTFZone:         drummond.DefaultZoneConfig("htf"),
		HTFLine:         drummond.DefaultLineConfig(),
		Signal:          signal.DefaultConfig(),
	}
}

// Pipeline implements scheduler.SymbolPipeline over a shared bar store,
// vendor port, and calculation cache.
type Pipeline struct {
	cfg     Config
	bars    *bar.Store
	vendor  ports.VendorDataPort
	calc    *cache.Cache
	openPos map[string]signal.OpenPosition
}

// New constructs a Pipeline.
func New(cfg Config, bars *bar.Store, vendor ports.VendorDataPort, calc *cache.Cache) *Pipeline {
	return &Pipeline{cfg: cfg, bars: bars, vendor: vendor, calc: calc, openPos: map[string]signal.OpenPosition{}}
}

// Refresh implements scheduler.SymbolPipeline: pull fresh trading-TF and
// HTF bars from the vendor port and append them to the bar store.
func (p *Pipeline) Refresh(ctx context.Context, symbol string) (int, error) {
	total := 0
	now := time.Now()
	for _, interval := range []bar.Interval{p.cfg.TradingInterval, p.cfg.HTFInterval, p.cfg.LTFInterval} {
		since := now.Add(-time.Duration(p.cfg.LookbackBars) * interval.Duration())
		fresh, err := p.vendor.FetchBars(ctx, symbol, interval, since, now)
		if err != nil {
			return total, err
		}
		if len(fresh) == 0 {
			continue
		}
		res := p.bars.Append(ctx, symbol, interval, fresh)
		total += res.Accepted
	}
	return total, nil
}

// Analyze implements scheduler.SymbolPipeline: recompute indicators, state,
// zones, patterns, and multi-timeframe confluence for symbol, then generate
// at most one signal.
func (p *Pipeline) Analyze(ctx context.Context, symbol string) (*signal.Signal, error) {
	now := time.Now()
	trading, err := p.bars.GetBars(ctx, symbol, p.cfg.TradingInterval, time.Time{}, now)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "trading series lookup failed", err)
	}
	if trading.Len() < 3 {
		return nil, nil
	}
	// HTF context is optional: a symbol with no higher-timeframe series yet
	// still gets trading-TF analysis, with confluence degraded to neutral.
	htf, err := p.bars.GetBars(ctx, symbol, p.cfg.HTFInterval, time.Time{}, now)
	if err != nil {
		htf = bar.BarSeries{}
	}

	tradingAnalysis, err := p.analyzeOne(ctx, symbol, p.cfg.TradingInterval, trading, p.cfg.TradingZone, p.cfg.TradingLine)
	if err != nil {
		return nil, err
	}

	var htfState state.Point
	var htfZones []drummond.DrummondZone
	if htf.Len() >= 3 {
		htfAnalysis, err := p.analyzeOne(ctx, symbol, p.cfg.HTFInterval, htf, p.cfg.HTFZone, p.cfg.HTFLine)
		if err != nil {
			return nil, err
		}
		htfState = htfAnalysis.statePoint
		htfZones = htfAnalysis.zones
	}

	matches := mtf.MatchConfluence(tradingAnalysis.zones, htfZones, htfState)
	var nearestZone *drummond.DrummondZone
	var nearestDist decimal.Decimal
	var confluenceFactor decimal.Decimal
	if len(matches) > 0 {
		best := matches[0].Zone
		nearestZone = &best
		nearestDist = proximityPct(tradingAnalysis.lastClose, best.CenterPrice)
		confluenceFactor = matches[0].ConfluenceStrength.Div(decimal.NewFromInt(3))
		if confluenceFactor.GreaterThan(decimal.NewFromInt(1)) {
			confluenceFactor = decimal.NewFromInt(1)
		}
	}

	best := p.bestPattern(tradingAnalysis, nearestZone)
	if mc := p.mtfConfluencePattern(ctx, symbol, now, tradingAnalysis, htfState); mc != nil {
		if best == nil || mc.Strength.GreaterThan(best.Strength) {
			best = mc
		}
	}

	var open *signal.OpenPosition
	if o, ok := p.openPos[symbol]; ok {
		o.AdverseBarCount = adverseBars(tradingAnalysis, o.Long)
		open = &o
	}

	strength := mtf.StrengthFactors{
		ConfluenceFactor:        confluenceFactor,
		MTFAlignment:            alignmentFactor(htfState, best),
		VolumeFactor:            decimal.NewFromFloat(0.5),
		PatternGeometricQuality: patternQuality(best),
	}

	in := signal.Input{
		Symbol: symbol, Timestamp: tradingAnalysis.lastTimestamp,
		TradingState: tradingAnalysis.statePoint, HTFState: htfState,
		BestPattern: best, NearestZone: nearestZone, NearestZoneDist: nearestDist,
		Close: tradingAnalysis.lastClose, StrengthFactors: strength, Open: open,
	}
	sig := signal.Generate(p.cfg.Signal, in)
	if sig != nil {
		p.trackOpenPosition(symbol, *sig)
	}
	return sig, nil
}

func (p *Pipeline) trackOpenPosition(symbol string, sig signal.Signal) {
	switch sig.Action {
	case signal.Long:
		p.openPos[symbol] = signal.OpenPosition{Symbol: symbol, Long: true}
	case signal.Short:
		p.openPos[symbol] = signal.OpenPosition{Symbol: symbol, Long: false}
	case signal.ExitLong, signal.ExitShort:
		delete(p.openPos, symbol)
	}
}

type analysisResult struct {
	statePoint    state.Point
	zones         []drummond.DrummondZone
	lastClose     decimal.Decimal
	lastTimestamp time.Time
	envelopes     []indicators.EnvelopeBand
	pldots        []indicators.PLdotPoint
	bars          bar.BarSeries
}

// analyzeOne computes PLdot/envelope/state/line/zone outputs for one
// timeframe's bar series, memoized in the calculation cache keyed by the
// series tail fingerprint so overlapping input windows re-use earlier work
// (component H). Concurrent misses for the same series coalesce under
// single-flight.
func (p *Pipeline) analyzeOne(ctx context.Context, symbol string, interval bar.Interval, series bar.BarSeries,
	zoneCfg drummond.ZoneConfig, lineCfg drummond.LineConfig) (analysisResult, error) {

	fp := cache.Fingerprint(series, p.cfg.LookbackBars)
	key := cache.Key("analysis", fp, symbol, string(interval))
	tag := cache.Tag{Kind: "analysis", Symbol: symbol, Interval: string(interval)}

	computed, err := p.calc.GetOrCompute(key, tag, 0, func() (interface{}, int64, error) {
		started := time.Now()
		pldots := indicators.ComputePLdots(series, p.cfg.PLdot)
		envelopes := indicators.ComputeEnvelopes(pldots, p.cfg.Envelope)

		classifier := state.NewClassifier(p.cfg.State)
		var lastPoint state.Point
		for i, pd := range pldots {
			b := series.Bars[i+2] // ComputePLdots windows start at index 2
			slopeClass := indicators.ClassifySlope(pd.Slope, pd.Value, p.cfg.State.SlopeEpsilon)
			if pt, ok := classifier.Next(b.Timestamp, b.Close, pd.Value, slopeClass); ok {
				lastPoint = pt
			}
		}

		asOf := series.Bars[series.Len()-1].Timestamp
		lines := drummond.DetectLines(series, lineCfg, asOf)
		var envWidth decimal.Decimal
		if len(envelopes) > 0 {
			envWidth = envelopes[len(envelopes)-1].Width
		}
		zones := drummond.AggregateZones(lines, zoneCfg, envWidth)

		return analysisResult{
			statePoint: lastPoint, zones: zones,
			lastClose: series.Bars[series.Len()-1].Close, lastTimestamp: series.Bars[series.Len()-1].Timestamp,
			envelopes: envelopes, pldots: pldots, bars: series,
		}, time.Since(started).Milliseconds(), nil
	})
	if err != nil {
		return analysisResult{}, err
	}
	return computed.(analysisResult), nil
}

func proximityPct(close, level decimal.Decimal) decimal.Decimal {
	if close.IsZero() {
		return decimal.Zero
	}
	return close.Sub(level).Abs().DivRound(close, 6)
}

// bestPattern runs the trading-TF detectors against the latest bar and keeps
// the highest-strength hit; each detector yields at most one instance per
// call.
func (p *Pipeline) bestPattern(a analysisResult, nearestZone *drummond.DrummondZone) *pattern.Pattern {
	var candidates []*pattern.Pattern
	nBars := a.bars.Len()
	if len(a.pldots) > 0 && nBars >= 2 {
		prevClose := a.bars.Bars[nBars-2].Close
		currClose := a.bars.Bars[nBars-1].Close
		lastDot := a.pldots[len(a.pldots)-1]
		if m := pattern.DetectMagnet(p.cfg.Pattern, prevClose, currClose, lastDot.Value,
			lastEnvelopeUpper(a.envelopes), lastEnvelopeLower(a.envelopes), nearestZone, a.lastTimestamp); m != nil {
			candidates = append(candidates, m)
		}
		if len(a.envelopes) > 0 {
			last := a.envelopes[len(a.envelopes)-1]
			currVol := a.bars.Bars[nBars-1].Volume
			if eb := pattern.DetectEnvelopeBounce(p.cfg.Pattern, currClose, prevClose,
				last.Center, last.Upper, last.Lower, currVol, int64(meanVolume(a.bars)), a.lastTimestamp); eb != nil {
				candidates = append(candidates, eb)
			}
		}
	}
	if nearestZone != nil {
		meanVol := meanVolume(a.bars)
		currVol := a.bars.Bars[a.bars.Len()-1].Volume
		if bo := pattern.DetectConfluenceBreakout(p.cfg.Pattern, a.lastClose, *nearestZone, currVol, meanVol, a.lastTimestamp); bo != nil {
			candidates = append(candidates, bo)
		}
	}
	if ro := pattern.DetectRangeOscillation(p.cfg.Pattern, a.envelopes, a.bars.Bars); ro != nil {
		candidates = append(candidates, ro)
	}

	var best *pattern.Pattern
	for _, c := range candidates {
		if best == nil || c.Strength.GreaterThan(best.Strength) {
			best = c
		}
	}
	return best
}

// mtfConfluencePattern looks for the cross-timeframe pattern: HTF and trading-TF
// trend agree and the lower timeframe shows a magnet or envelope-bounce
// trigger. The LTF series is optional; symbols without one simply never
// produce this pattern.
func (p *Pipeline) mtfConfluencePattern(ctx context.Context, symbol string, now time.Time,
	trading analysisResult, htfState state.Point) *pattern.Pattern {

	if htfState.State != state.Trend || htfState.TrendDirection == state.Neutral ||
		trading.statePoint.State != state.Trend || trading.statePoint.TrendDirection == state.Neutral {
		return nil
	}
	ltf, err := p.bars.GetBars(ctx, symbol, p.cfg.LTFInterval, time.Time{}, now)
	if err != nil || ltf.Len() < 3 {
		return nil
	}
	ltfAnalysis, err := p.analyzeOne(ctx, symbol, p.cfg.LTFInterval, ltf, p.cfg.TradingZone, p.cfg.TradingLine)
	if err != nil {
		return nil
	}
	trigger := p.bestPattern(ltfAnalysis, nil)
	if trigger == nil || (trigger.Kind != pattern.Magnet && trigger.Kind != pattern.EnvelopeBounce) {
		return nil
	}

	return pattern.DetectMTFConfluence(p.cfg.Pattern, pattern.MTFInputs{
		HTFDirectionUp: htfState.TrendDirection == state.Up,
		TFDirectionUp:  trading.statePoint.TrendDirection == state.Up,
		HTFConfidence:  htfState.Confidence,
		TFConfidence:   trading.statePoint.Confidence,
		LTFTrigger:     trigger,
	}, trigger.EntryPrice, trigger.StopPrice, trigger.TargetPrice, trading.lastTimestamp)
}

// adverseBars counts consecutive latest bars whose close sits on the adverse
// side of the PLdot for the open direction, feeding the structural-break
// exit rule (three adverse closes).
func adverseBars(a analysisResult, long bool) int {
	count := 0
	for i := len(a.pldots) - 1; i >= 0; i-- {
		c := a.bars.Bars[i+2].Close
		v := a.pldots[i].Value
		adverse := (long && c.LessThan(v)) || (!long && c.GreaterThan(v))
		if !adverse {
			break
		}
		count++
	}
	return count
}

func lastEnvelopeUpper(envelopes []indicators.EnvelopeBand) decimal.Decimal {
	if len(envelopes) == 0 {
		return decimal.Zero
	}
	return envelopes[len(envelopes)-1].Upper
}

func lastEnvelopeLower(envelopes []indicators.EnvelopeBand) decimal.Decimal {
	if len(envelopes) == 0 {
		return decimal.Zero
	}
	return envelopes[len(envelopes)-1].Lower
}

func meanVolume(series bar.BarSeries) float64 {
	if series.Len() == 0 {
		return 0
	}
	var sum int64
	for _, b := range series.Bars {
		sum += b.Volume
	}
	return float64(sum) / float64(series.Len())
}

func alignmentFactor(htf state.Point, p *pattern.Pattern) decimal.Decimal {
	if p == nil || htf.State != state.Trend || htf.TrendDirection == state.Neutral {
		return decimal.NewFromFloat(0.5)
	}
	aligned := (p.Direction == pattern.Bullish && htf.TrendDirection == state.Up) ||
		(p.Direction == pattern.Bearish && htf.TrendDirection == state.Down)
	if aligned {
		return decimal.NewFromInt(1)
	}
	return decimal.Zero
}

func patternQuality(p *pattern.Pattern) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Strength
}

// BarsSince implements scheduler.BarLookup for outcome calibration.
func (p *Pipeline) BarsSince(ctx context.Context, symbol string, interval bar.Interval, since time.Time) ([]bar.Bar, error) {
	series, err := p.bars.GetBars(ctx, symbol, interval, since, time.Now())
	if err != nil {
		return nil, err
	}
	return series.Bars, nil
}
