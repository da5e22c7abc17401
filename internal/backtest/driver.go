// Package backtest wires the analytic pipeline into the portfolio engine's
// lockstep timestep loop: a deterministic driver replaces the live
// scheduler, feeding each timestep's bars into the bar store before
// analysis and converting entry signals into sized candidates for the
// ranker.
package backtest

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/drummondgeo/dgcore/internal/backtest/portfolio"
	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/pipeline"
	"github.com/drummondgeo/dgcore/internal/signal"
)

// Provider adapts the per-symbol analytic pipeline to
// portfolio.CandidateProvider. As the engine's global clock advances, the
// provider appends each symbol's new bar to the shared bar store,
// re-aggregates the higher timeframe from the trading bars seen so far, and
// runs the full analyze path; LONG/SHORT signals become candidates.
//
// Symbols are processed in sorted order every timestep so two runs over the
// same bars produce identical candidate lists.
type Provider struct {
	pipe    *pipeline.Pipeline
	store   *bar.Store
	trading bar.Interval
	htf     bar.Interval
	loc     *time.Location
	sectors map[string]string
	seen    map[string][]bar.Bar
	log     zerolog.Logger
}

// NewProvider constructs a Provider. sectors maps symbol to sector label for
// the ranker's per-sector caps; unknown symbols fall into the empty sector.
func NewProvider(pipe *pipeline.Pipeline, store *bar.Store, trading, htf bar.Interval,
	loc *time.Location, sectors map[string]string, log zerolog.Logger) *Provider {
	if loc == nil {
		loc = time.UTC
	}
	if sectors == nil {
		sectors = map[string]string{}
	}
	return &Provider{
		pipe: pipe, store: store, trading: trading, htf: htf,
		loc: loc, sectors: sectors, seen: map[string][]bar.Bar{}, log: log,
	}
}

// Candidates implements portfolio.CandidateProvider. Per-symbol analysis
// errors are isolated: the failing symbol yields no candidate this timestep
// and the others proceed.
func (p *Provider) Candidates(ctx context.Context, t time.Time, barsAtT map[string]bar.Bar) ([]portfolio.Candidate, error) {
	symbols := make([]string, 0, len(barsAtT))
	for sym := range barsAtT {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var out []portfolio.Candidate
	for _, sym := range symbols {
		b := barsAtT[sym]
		p.store.Append(ctx, sym, p.trading, []bar.Bar{b})
		p.seen[sym] = append(p.seen[sym], b)

		htfSeries := bar.Aggregate(bar.BarSeries{Symbol: sym, Interval: p.trading, Bars: p.seen[sym]}, p.htf, p.loc)
		if htfSeries.Len() > 0 {
			p.store.Append(ctx, sym, p.htf, htfSeries.Bars)
		}

		sig, err := p.pipe.Analyze(ctx, sym)
		if err != nil {
			p.log.Warn().Str("symbol", sym).Time("t", t).Err(err).Msg("backtest analyze failed, symbol skipped this timestep")
			continue
		}
		if sig == nil {
			continue
		}
		if sig.Action != signal.Long && sig.Action != signal.Short {
			continue
		}
		out = append(out, portfolio.Candidate{
			Symbol:      sym,
			Long:        sig.Action == signal.Long,
			EntryPrice:  sig.EntryPrice,
			StopPrice:   sig.StopPrice,
			TargetPrice: sig.TargetPrice,
			Confidence:  sig.Confidence,
			RiskReward:  sig.RiskReward,
			Sector:      p.sectors[sym],
		})
	}
	return out, nil
}

// Run is the convenience entrypoint: build the engine over cfg with this
// provider and advance it across series.
func (p *Provider) Run(ctx context.Context, cfg portfolio.Config, series map[string]bar.BarSeries) (*portfolio.Result, error) {
	eng := portfolio.New(cfg, p.Candidates)
	return eng.Run(ctx, series)
}
