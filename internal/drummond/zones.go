package drummond

import (
	"sort"

	"github.com/shopspring/decimal"
)

// DrummondZone aggregates overlapping lines of the same kind.
type DrummondZone struct {
	CenterPrice           decimal.Decimal
	LowerPrice            decimal.Decimal
	UpperPrice            decimal.Decimal
	Strength              decimal.Decimal
	Kind                  LineKind
	ContributingTimeframes []string
}

// ZoneConfig controls the overlap tolerance and strength cap used when
// merging lines into zones.
type ZoneConfig struct {
	TolerancePct    decimal.Decimal // e.g. 0.005 for 0.5%
	StrengthCap     decimal.Decimal
	Timeframe       string
}

// DefaultZoneConfig returns the stock tolerance (0.5% of projection
// price, or 1x envelope width, whichever is larger; envelope width is
// supplied by the caller as the envelopeWidth argument of AggregateZones,
// one value per call).
func DefaultZoneConfig(timeframe string) ZoneConfig {
	return ZoneConfig{
		TolerancePct: decimal.NewFromFloat(0.005),
		StrengthCap:  decimal.NewFromInt(5),
		Timeframe:    timeframe,
	}
}

// AggregateZones merges lines of the same kind whose projected prices lie
// within tolerance of one another into DrummondZones. envelopeWidth is the
// current EnvelopeBand width at the zone's reference timestamp; tolerance is
// max(TolerancePct * price, envelopeWidth). The merged center is a
// strength-weighted average; strength is the sum of contributing strengths,
// capped at cfg.StrengthCap. Zones for a given kind are disjoint after
// aggregation.
func AggregateZones(lines []DrummondLine, cfg ZoneConfig, envelopeWidth decimal.Decimal) []DrummondZone {
	byKind := map[LineKind][]DrummondLine{}
	for _, l := range lines {
		byKind[l.Kind] = append(byKind[l.Kind], l)
	}

	var zones []DrummondZone
	for kind, kindLines := range byKind {
		sort.Slice(kindLines, func(i, j int) bool {
			return kindLines[i].ProjectedPrice.LessThan(kindLines[j].ProjectedPrice)
		})

		var cluster []DrummondLine
		flush := func() {
			if len(cluster) == 0 {
				return
			}
			zones = append(zones, mergeCluster(cluster, kind, cfg))
			cluster = nil
		}

		for _, l := range kindLines {
			if len(cluster) == 0 {
				cluster = append(cluster, l)
				continue
			}
			last := cluster[len(cluster)-1]
			tol := tolerance(last.ProjectedPrice, cfg.TolerancePct, envelopeWidth)
			if l.ProjectedPrice.Sub(last.ProjectedPrice).Abs().LessThanOrEqual(tol) {
				cluster = append(cluster, l)
			} else {
				flush()
				cluster = append(cluster, l)
			}
		}
		flush()
	}

	sort.Slice(zones, func(i, j int) bool { return zones[i].CenterPrice.LessThan(zones[j].CenterPrice) })
	return zones
}

func tolerance(price, pct, envelopeWidth decimal.Decimal) decimal.Decimal {
	pctTol := price.Abs().Mul(pct)
	if envelopeWidth.GreaterThan(pctTol) {
		return envelopeWidth
	}
	return pctTol
}

func mergeCluster(cluster []DrummondLine, kind LineKind, cfg ZoneConfig) DrummondZone {
	var weightedSum, totalStrength decimal.Decimal
	lower, upper := cluster[0].ProjectedPrice, cluster[0].ProjectedPrice
	for _, l := range cluster {
		weightedSum = weightedSum.Add(l.ProjectedPrice.Mul(l.Strength))
		totalStrength = totalStrength.Add(l.Strength)
		if l.ProjectedPrice.LessThan(lower) {
			lower = l.ProjectedPrice
		}
		if l.ProjectedPrice.GreaterThan(upper) {
			upper = l.ProjectedPrice
		}
	}
	center := cluster[0].ProjectedPrice
	if !totalStrength.IsZero() {
		center = weightedSum.DivRound(totalStrength, 8)
	}
	if totalStrength.GreaterThan(cfg.StrengthCap) {
		totalStrength = cfg.StrengthCap
	}
	return DrummondZone{
		CenterPrice:            center,
		LowerPrice:             lower,
		UpperPrice:             upper,
		Strength:               totalStrength,
		Kind:                   kind,
		ContributingTimeframes: []string{cfg.Timeframe},
	}
}

// Width returns upper-lower.
func (z DrummondZone) Width() decimal.Decimal { return z.UpperPrice.Sub(z.LowerPrice) }
