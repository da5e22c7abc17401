package pattern

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/indicators"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// E3: magnet entry. Prior bar trades 1% below PLdot, current bar closes back
// within 0.5% of PLdot -> bullish magnet pattern with RR >= MinRR.
func TestDetectMagnetE3(t *testing.T) {
	cfg := DefaultConfig()
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := DetectMagnet(cfg, d(99), d(100.1), d(100), d(106), d(94), nil, ts)
	require.NotNil(t, p)
	assert.Equal(t, Magnet, p.Kind)
	assert.Equal(t, Bullish, p.Direction)
	assert.True(t, p.RiskReward.GreaterThanOrEqual(cfg.MinRR))
}

func TestDetectMagnetNoSignalWhenTooFar(t *testing.T) {
	cfg := DefaultConfig()
	ts := time.Now().UTC()
	p := DetectMagnet(cfg, d(99), d(98.5), d(100), d(106), d(94), nil, ts)
	assert.Nil(t, p)
}

func TestDetectEnvelopeBounceBearish(t *testing.T) {
	cfg := DefaultConfig()
	ts := time.Now().UTC()
	p := DetectEnvelopeBounce(cfg, d(105.9), d(106.0), d(100), d(106), d(94), 100, 50, ts)
	require.NotNil(t, p)
	assert.Equal(t, EnvelopeBounce, p.Kind)
	assert.Equal(t, Bearish, p.Direction)
}

func TestDetectConfluenceBreakoutBullish(t *testing.T) {
	cfg := DefaultConfig()
	zone := drummond.DrummondZone{
		CenterPrice: d(100), LowerPrice: d(99), UpperPrice: d(101),
		Strength: d(0.8), Kind: drummond.Resistance,
	}
	ts := time.Now().UTC()
	p := DetectConfluenceBreakout(cfg, d(101.1), zone, 200, 100, ts)
	require.NotNil(t, p)
	assert.Equal(t, Bullish, p.Direction)
}

func TestDetectConfluenceBreakoutRejectsLowVolume(t *testing.T) {
	cfg := DefaultConfig()
	zone := drummond.DrummondZone{
		CenterPrice: d(100), LowerPrice: d(99), UpperPrice: d(101),
		Strength: d(0.8), Kind: drummond.Resistance,
	}
	p := DetectConfluenceBreakout(cfg, d(101.1), zone, 110, 100, time.Now().UTC())
	assert.Nil(t, p)
}

func TestDetectMTFConfluenceRequiresAgreement(t *testing.T) {
	cfg := DefaultConfig()
	trigger := &Pattern{Kind: Magnet, Strength: d(0.8)}
	in := MTFInputs{
		HTFDirectionUp: true, TFDirectionUp: false,
		HTFConfidence: d(0.8), TFConfidence: d(0.7), LTFTrigger: trigger,
	}
	p := DetectMTFConfluence(cfg, in, d(100), d(98), d(106), time.Now().UTC())
	assert.Nil(t, p)

	in.TFDirectionUp = true
	p = DetectMTFConfluence(cfg, in, d(100), d(98), d(106), time.Now().UTC())
	require.NotNil(t, p)
	assert.Equal(t, Bullish, p.Direction)
}

func rangeSeries(t *testing.T) ([]indicators.EnvelopeBand, []bar.Bar) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var envs []indicators.EnvelopeBand
	var bars []bar.Bar
	closes := []float64{100, 94, 100, 106, 100, 94, 100, 106, 100, 106}
	for i, c := range closes {
		ts := base.Add(time.Duration(i) * time.Hour)
		envs = append(envs, indicators.EnvelopeBand{
			Timestamp: ts, Center: d(100), Upper: d(106), Lower: d(94), Width: d(12),
		})
		bars = append(bars, bar.Bar{
			Symbol: "BTC", Interval: bar.Interval1h, Timestamp: ts,
			Open: d(c), High: d(c + 0.5), Low: d(c - 0.5), Close: d(c), Volume: 10,
		})
	}
	return envs, bars
}

func TestDetectRangeOscillation(t *testing.T) {
	cfg := DefaultConfig()
	envs, bars := rangeSeries(t)
	p := DetectRangeOscillation(cfg, envs, bars)
	require.NotNil(t, p)
	assert.Equal(t, RangeOscillation, p.Kind)
	assert.Equal(t, Bearish, p.Direction)
}
