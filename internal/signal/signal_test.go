package signal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/mtf"
	"github.com/drummondgeo/dgcore/internal/pattern"
	"github.com/drummondgeo/dgcore/internal/state"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func strongFactors() mtf.StrengthFactors {
	return mtf.StrengthFactors{
		ConfluenceFactor: d(1), MTFAlignment: d(1), VolumeFactor: d(1), PatternGeometricQuality: d(1),
	}
}

// E3: magnet bullish with HTF trend UP and a nearby support zone emits LONG.
func TestGenerateLongOnMagnetWithSupportZone(t *testing.T) {
	cfg := DefaultConfig()
	ts := time.Now().UTC()
	zone := &drummond.DrummondZone{
		Kind: drummond.Support, CenterPrice: d(100), LowerPrice: d(99.5), UpperPrice: d(100.5),
	}
	in := Input{
		Symbol:    "BTC",
		Timestamp: ts,
		TradingState: state.Point{
			State: state.Trend, TrendDirection: state.Up, Confidence: d(0.9),
		},
		HTFState: state.Point{State: state.Trend, TrendDirection: state.Up, Confidence: d(0.9)},
		BestPattern: &pattern.Pattern{
			Kind: pattern.Magnet, Direction: pattern.Bullish, Strength: d(0.8),
			EntryPrice: d(100.05), StopPrice: d(99.8), TargetPrice: d(106), RiskReward: d(20),
		},
		NearestZone:     zone,
		NearestZoneDist: d(0.0005),
		Close:           d(100.05),
		StrengthFactors: strongFactors(),
	}
	sig := Generate(cfg, in)
	require.NotNil(t, sig)
	assert.Equal(t, Long, sig.Action)
	assert.True(t, sig.Confidence.GreaterThanOrEqual(cfg.NotifyFloor))
}

// E4: symmetric SHORT case with a resistance zone and a bearish HTF trend.
func TestGenerateShortOnMagnetWithResistanceZone(t *testing.T) {
	cfg := DefaultConfig()
	ts := time.Now().UTC()
	zone := &drummond.DrummondZone{
		Kind: drummond.Resistance, CenterPrice: d(100), LowerPrice: d(99.5), UpperPrice: d(100.5),
	}
	in := Input{
		Symbol:    "ETH",
		Timestamp: ts,
		TradingState: state.Point{
			State: state.Trend, TrendDirection: state.Down, Confidence: d(0.9),
		},
		HTFState: state.Point{State: state.Trend, TrendDirection: state.Down, Confidence: d(0.9)},
		BestPattern: &pattern.Pattern{
			Kind: pattern.Magnet, Direction: pattern.Bearish, Strength: d(0.8),
			EntryPrice: d(99.95), StopPrice: d(100.2), TargetPrice: d(94), RiskReward: d(20),
		},
		NearestZone:     zone,
		NearestZoneDist: d(0.0005),
		Close:           d(99.95),
		StrengthFactors: strongFactors(),
	}
	sig := Generate(cfg, in)
	require.NotNil(t, sig)
	assert.Equal(t, Short, sig.Action)
}

func TestGenerateNoSignalWhenHTFOpposesWeakPattern(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{
		Symbol:    "BTC",
		Timestamp: time.Now().UTC(),
		TradingState: state.Point{
			State: state.Trend, TrendDirection: state.Up, Confidence: d(0.6),
		},
		HTFState: state.Point{State: state.Trend, TrendDirection: state.Down, Confidence: d(0.9)},
		BestPattern: &pattern.Pattern{
			Kind: pattern.Magnet, Direction: pattern.Bullish, Strength: d(0.3),
			EntryPrice: d(100), StopPrice: d(99.8), TargetPrice: d(106), RiskReward: d(20),
		},
		Close:           d(100),
		StrengthFactors: strongFactors(),
	}
	sig := Generate(cfg, in)
	assert.Nil(t, sig)
}

func TestGenerateExitOnStructuralBreak(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{
		Symbol:       "BTC",
		Timestamp:    time.Now().UTC(),
		TradingState: state.Point{State: state.Reversal, TrendDirection: state.Down, Confidence: d(0.8)},
		HTFState:     state.Point{State: state.Trend, TrendDirection: state.Up, Confidence: d(0.8)},
		Close:        d(95),
		Open:         &OpenPosition{Symbol: "BTC", Long: true, AdverseBarCount: 3},
	}
	sig := Generate(cfg, in)
	require.NotNil(t, sig)
	assert.Equal(t, ExitLong, sig.Action)
}

func TestGenerateNoExitWithoutTrigger(t *testing.T) {
	cfg := DefaultConfig()
	in := Input{
		Symbol:       "BTC",
		Timestamp:    time.Now().UTC(),
		TradingState: state.Point{State: state.Trend, TrendDirection: state.Up, Confidence: d(0.8)},
		HTFState:     state.Point{State: state.Trend, TrendDirection: state.Up, Confidence: d(0.8)},
		Close:        d(101),
		Open:         &OpenPosition{Symbol: "BTC", Long: true, AdverseBarCount: 0},
	}
	sig := Generate(cfg, in)
	assert.Nil(t, sig)
}
