package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/notify"
	"github.com/drummondgeo/dgcore/internal/persistence"
	"github.com/drummondgeo/dgcore/internal/signal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func noopLog() zerolog.Logger { return zerolog.Nop() }

// fakePipeline emits one signal for every symbol in wantSignal, and records
// the symbols it was asked to refresh/analyze.
type fakePipeline struct {
	wantSignal map[string]bool
	refreshErr map[string]error
	analyzeErr map[string]error
}

func (f *fakePipeline) Refresh(_ context.Context, symbol string) (int, error) {
	if err, ok := f.refreshErr[symbol]; ok {
		return 0, err
	}
	return 1, nil
}

func (f *fakePipeline) Analyze(_ context.Context, symbol string) (*signal.Signal, error) {
	if err, ok := f.analyzeErr[symbol]; ok {
		return nil, err
	}
	if !f.wantSignal[symbol] {
		return nil, nil
	}
	return &signal.Signal{
		Symbol: symbol, Action: signal.Long, Timestamp: time.Now(),
		EntryPrice: d(100), StopPrice: d(95), TargetPrice: d(110), Confidence: d(0.8),
	}, nil
}

type fakeCalendar struct {
	open map[string]bool
}

func (f *fakeCalendar) IsOpen(_ context.Context, symbol string, _ time.Time) (bool, error) {
	return f.open[symbol], nil
}

type fakeStore struct {
	persistence.Store // embed nil to satisfy interface; only overrides below are exercised
	cycles            []persistence.CycleRun
	signals           []persistence.SignalRecord
	pending           []persistence.SignalRecord
	outcomes          []string
}

func (f *fakeStore) AppendCycleRun(_ context.Context, run persistence.CycleRun) error {
	f.cycles = append(f.cycles, run)
	return nil
}

func (f *fakeStore) AppendSignals(_ context.Context, records []persistence.SignalRecord) error {
	f.signals = append(f.signals, records...)
	return nil
}

func (f *fakeStore) PendingSignals(_ context.Context, _ time.Time) ([]persistence.SignalRecord, error) {
	return f.pending, nil
}

func (f *fakeStore) RecordOutcome(_ context.Context, symbol string, _ time.Time, outcome persistence.SignalOutcome, _ float64, _ time.Time) error {
	f.outcomes = append(f.outcomes, symbol+":"+string(outcome))
	return nil
}

func TestRunCycle_ProcessesAllSymbolsAndEmitsSignals(t *testing.T) {
	pipeline := &fakePipeline{wantSignal: map[string]bool{"AAA": true}}
	store := &fakeStore{}
	router := notify.NewRouter(noopLog(), 100, notify.NewConsoleSink(noopLog()))

	cfg := DefaultConfig()
	cfg.CronExpr = "*/5 * * * *"
	cfg.MarketHoursOnly = false

	s := New(cfg, []string{"AAA", "BBB"}, pipeline, nil, router, store, nil, noopLog())
	result := s.RunCycle(context.Background())

	assert.Equal(t, Completed, result.Status)
	assert.Equal(t, 2, result.SymbolsProcessed)
	assert.Equal(t, 2, result.SymbolsUpdated)
	assert.Equal(t, 1, result.SignalsGenerated)
	require.Len(t, store.cycles, 1)
	require.Len(t, store.signals, 1)
	assert.Equal(t, "AAA", store.signals[0].Symbol)
}

func TestRunCycle_PartialWhenSomeSymbolsFail(t *testing.T) {
	pipeline := &fakePipeline{
		refreshErr: map[string]error{"BBB": assertErr("vendor unavailable")},
	}
	store := &fakeStore{}
	s := New(DefaultConfig(), []string{"AAA", "BBB"}, pipeline, nil, nil, store, nil, noopLog())

	result := s.RunCycle(context.Background())
	assert.Equal(t, Partial, result.Status)
	assert.Len(t, result.Errors, 1)
}

func TestRunCycle_FailedWhenAllSymbolsError(t *testing.T) {
	pipeline := &fakePipeline{
		refreshErr: map[string]error{"AAA": assertErr("down"), "BBB": assertErr("down")},
	}
	s := New(DefaultConfig(), []string{"AAA", "BBB"}, pipeline, nil, nil, nil, nil, noopLog())

	result := s.RunCycle(context.Background())
	assert.Equal(t, Failed, result.Status)
}

func TestRunCycle_SkipsWhenAlreadyRunning(t *testing.T) {
	pipeline := &fakePipeline{}
	s := New(DefaultConfig(), []string{"AAA"}, pipeline, nil, nil, nil, nil, noopLog())
	s.running = true

	result := s.RunCycle(context.Background())
	assert.Equal(t, CycleResult{}, result)
}

func TestEligibleSymbols_MarketHoursGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MarketHoursOnly = true
	calendar := &fakeCalendar{open: map[string]bool{"AAA": true, "BBB": false}}
	s := New(cfg, []string{"AAA", "BBB"}, &fakePipeline{}, calendar, nil, nil, nil, noopLog())

	eligible := s.eligibleSymbols(context.Background(), time.Now())
	assert.Equal(t, []string{"AAA"}, eligible)
}

func TestEligibleSymbols_AllWhenGateDisabled(t *testing.T) {
	s := New(DefaultConfig(), []string{"AAA", "BBB"}, &fakePipeline{}, nil, nil, nil, nil, noopLog())
	eligible := s.eligibleSymbols(context.Background(), time.Now())
	assert.Equal(t, []string{"AAA", "BBB"}, eligible)
}

type fakeBarLookup struct {
	bars []bar.Bar
}

func (f *fakeBarLookup) BarsSince(_ context.Context, _ string, _ bar.Interval, _ time.Time) ([]bar.Bar, error) {
	return f.bars, nil
}

func TestEvaluateOutcome_TargetHitIsWin(t *testing.T) {
	rec := persistence.SignalRecord{
		Signal: signal.Signal{
			Symbol: "AAA", Action: signal.Long, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EntryPrice: d(100), StopPrice: d(95), TargetPrice: d(110),
		},
		Outcome: persistence.OutcomePending,
	}
	lookup := &fakeBarLookup{bars: []bar.Bar{
		{Symbol: "AAA", Open: d(101), High: d(111), Low: d(99), Close: d(108)},
	}}
	cfg := DefaultConfig()
	cfg.EvaluationWindow = time.Hour
	s := New(cfg, nil, &fakePipeline{}, nil, nil, nil, nil, noopLog())
	s.SetBarLookup(lookup, bar.Interval1h)

	outcome, pnl, evaluated := s.evaluateOutcome(context.Background(), rec)
	require.True(t, evaluated)
	assert.Equal(t, persistence.OutcomeWin, outcome)
	assert.Greater(t, pnl, 0.0)
}

func TestEvaluateOutcome_StopHitIsLoss(t *testing.T) {
	rec := persistence.SignalRecord{
		Signal: signal.Signal{
			Symbol: "AAA", Action: signal.Long, Timestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			EntryPrice: d(100), StopPrice: d(95), TargetPrice: d(110),
		},
	}
	lookup := &fakeBarLookup{bars: []bar.Bar{
		{Symbol: "AAA", Open: d(99), High: d(101), Low: d(92), Close: d(93)},
	}}
	cfg := DefaultConfig()
	s := New(cfg, nil, &fakePipeline{}, nil, nil, nil, nil, noopLog())
	s.SetBarLookup(lookup, bar.Interval1h)

	outcome, pnl, evaluated := s.evaluateOutcome(context.Background(), rec)
	require.True(t, evaluated)
	assert.Equal(t, persistence.OutcomeLoss, outcome)
	assert.Less(t, pnl, 0.0)
}

func TestEvaluateOutcome_NoBarsIsNotEvaluated(t *testing.T) {
	rec := persistence.SignalRecord{Signal: signal.Signal{Symbol: "AAA"}}
	s := New(DefaultConfig(), nil, &fakePipeline{}, nil, nil, nil, nil, noopLog())
	s.SetBarLookup(&fakeBarLookup{}, bar.Interval1h)

	_, _, evaluated := s.evaluateOutcome(context.Background(), rec)
	assert.False(t, evaluated)
}

func TestPerformanceTracker_PercentilesAndSLA(t *testing.T) {
	tr := NewPerformanceTracker(100*time.Millisecond, 0.1, 0.9)
	for i := 1; i <= 10; i++ {
		tr.Record(time.Duration(i)*10*time.Millisecond, false)
	}
	p50, p95, p99 := tr.Percentiles()
	assert.True(t, p50 > 0)
	assert.True(t, p95 >= p50)
	assert.True(t, p99 >= p95)
	assert.Equal(t, 0.0, tr.ErrorRate())
	assert.True(t, tr.SLACompliant())
}

func TestPerformanceTracker_SLAViolationOnHighErrorRate(t *testing.T) {
	tr := NewPerformanceTracker(time.Second, 0.05, 0.99)
	for i := 0; i < 10; i++ {
		tr.Record(10*time.Millisecond, i < 3)
	}
	assert.InDelta(t, 0.3, tr.ErrorRate(), 0.001)
	assert.False(t, tr.SLACompliant())
}

// assertErr is a trivial error constructor avoiding an extra import for
// simple string-keyed test fixtures.
type assertErr string

func (e assertErr) Error() string { return string(e) }
