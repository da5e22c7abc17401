// Package mtf implements the multi-timeframe coordinator (component F):
// HTF-to-trading-TF bar alignment, confluence-zone matching, and the
// weighted signal-strength formula that feeds the signal generator.
package mtf

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/state"
)

// TimeframeView bundles one timeframe's analyzed outputs, sorted by
// timestamp, as required for the binary-search alignment lookup.
type TimeframeView struct {
	Interval bar.Interval
	Bars     []bar.Bar // sorted ascending by Timestamp
	Zones    []drummond.DrummondZone
	State    state.Point
}

// AlignedHTFBar returns the most recent HTF bar whose Timestamp <= t, found
// via binary search over the sorted HTF bar slice. The second return
// value is false when no such bar exists (t precedes the HTF series).
func AlignedHTFBar(htf []bar.Bar, t time.Time) (bar.Bar, bool) {
	idx := sort.Search(len(htf), func(i int) bool {
		return htf[i].Timestamp.After(t)
	})
	if idx == 0 {
		return bar.Bar{}, false
	}
	return htf[idx-1], true
}

// ConfluenceMatch is a trading-TF zone paired with the HTF zones that overlap
// it by at least half its width.
type ConfluenceMatch struct {
	Zone               drummond.DrummondZone
	MatchedHTFZones    []drummond.DrummondZone
	ConfluenceStrength decimal.Decimal
	CombinedStrength   decimal.Decimal
	HTFTrendAligned    bool
}

func overlapFraction(a, b drummond.DrummondZone) decimal.Decimal {
	lower := a.LowerPrice
	if b.LowerPrice.GreaterThan(lower) {
		lower = b.LowerPrice
	}
	upper := a.UpperPrice
	if b.UpperPrice.LessThan(upper) {
		upper = b.UpperPrice
	}
	overlap := upper.Sub(lower)
	if overlap.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	width := a.Width()
	if width.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return overlap.DivRound(width, 6)
}

// MatchConfluence performs confluence-zone matching: for each
// trading-TF zone, collect HTF zones of the same kind overlapping it by
// >= 50% of its width, compute confluence/combined strength, and flag
// HTF-trend alignment. Results are sorted by (confluence_strength desc,
// combined_strength desc).
func MatchConfluence(tradingZones, htfZones []drummond.DrummondZone, htfState state.Point) []ConfluenceMatch {
	minOverlap := decimal.NewFromFloat(0.5)
	matches := make([]ConfluenceMatch, 0, len(tradingZones))

	for _, z := range tradingZones {
		m := ConfluenceMatch{Zone: z, CombinedStrength: z.Strength}
		for _, hz := range htfZones {
			if hz.Kind != z.Kind {
				continue
			}
			if overlapFraction(z, hz).GreaterThanOrEqual(minOverlap) {
				m.MatchedHTFZones = append(m.MatchedHTFZones, hz)
				m.CombinedStrength = m.CombinedStrength.Add(hz.Strength)
			}
		}
		// confluence_strength is 1 + matches, so a zone with no HTF backing
		// still carries its own baseline weight
		matchCount := decimal.NewFromInt(int64(len(m.MatchedHTFZones)))
		m.ConfluenceStrength = decimal.NewFromInt(1).Add(matchCount)

		if htfState.State == state.Trend {
			switch htfState.TrendDirection {
			case state.Up:
				m.HTFTrendAligned = z.Kind == drummond.Support
			case state.Down:
				m.HTFTrendAligned = z.Kind == drummond.Resistance
			}
		}
		matches = append(matches, m)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].ConfluenceStrength.Equal(matches[j].ConfluenceStrength) {
			return matches[i].ConfluenceStrength.GreaterThan(matches[j].ConfluenceStrength)
		}
		return matches[i].CombinedStrength.GreaterThan(matches[j].CombinedStrength)
	})
	return matches
}

// StrengthFactors are the four independently-clamped [0,1] inputs to the
// weighted signal-strength formula.
type StrengthFactors struct {
	ConfluenceFactor       decimal.Decimal
	MTFAlignment           decimal.Decimal
	VolumeFactor           decimal.Decimal
	PatternGeometricQuality decimal.Decimal
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

// SignalStrength computes the weighted sum
// 0.4*confluence + 0.25*mtf_alignment + 0.2*volume + 0.15*pattern_geometric_quality.
func SignalStrength(f StrengthFactors) decimal.Decimal {
	return decimal.NewFromFloat(0.4).Mul(clamp01(f.ConfluenceFactor)).
		Add(decimal.NewFromFloat(0.25).Mul(clamp01(f.MTFAlignment))).
		Add(decimal.NewFromFloat(0.2).Mul(clamp01(f.VolumeFactor))).
		Add(decimal.NewFromFloat(0.15).Mul(clamp01(f.PatternGeometricQuality)))
}
