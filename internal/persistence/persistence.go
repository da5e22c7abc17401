// Package persistence declares the typed, append-only persistence
// operations the analytic core depends on. The core never composes ad-hoc
// SQL; it addresses the port by typed operations for bars, state points,
// patterns, zones, signals, cycle runs, and metrics. Concrete
// implementations live under internal/persistence/postgres.
package persistence

import (
	"context"
	"time"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/pattern"
	"github.com/drummondgeo/dgcore/internal/signal"
	"github.com/drummondgeo/dgcore/internal/state"
)

// SignalOutcome classifies a persisted signal's realized result once its
// evaluation window has elapsed.
type SignalOutcome string

const (
	OutcomePending SignalOutcome = "PENDING"
	OutcomeWin     SignalOutcome = "WIN"
	OutcomeLoss    SignalOutcome = "LOSS"
	OutcomeNeutral SignalOutcome = "NEUTRAL"
)

// SignalRecord is a persisted Signal plus its outcome-tracking fields.
type SignalRecord struct {
	signal.Signal
	Outcome            SignalOutcome
	ActualPnLPct       float64
	EvaluationTimestamp time.Time
}

// CycleRun is the persisted cycle metadata record.
type CycleRun struct {
	ID                string
	Timestamp         time.Time
	Status            string
	SymbolsProcessed  int
	SymbolsUpdated    int
	SignalsGenerated  int
	BarsStored        int
	LatencyBreakdownMs map[string]int64
	Errors            []string
}

// BarStore is the append-only, upsert-by-(symbol,interval,timestamp) bar
// persistence operation.
type BarStore interface {
	AppendBars(ctx context.Context, symbol string, interval bar.Interval, bars []bar.Bar) error
}

// StatePointStore is the insert-only market-state-point persistence
// operation.
type StatePointStore interface {
	AppendStatePoints(ctx context.Context, symbol string, interval bar.Interval, points []state.Point) error
}

// PatternStore is the insert-only pattern persistence operation.
type PatternStore interface {
	AppendPatterns(ctx context.Context, symbol string, patterns []pattern.Pattern) error
}

// ZoneStore is the insert-only Drummond-zone persistence operation.
type ZoneStore interface {
	AppendZones(ctx context.Context, symbol string, timestamp time.Time, zones []drummond.DrummondZone) error
}

// SignalStore persists emitted signals and records their realized outcome
// once the evaluation window elapses.
type SignalStore interface {
	AppendSignals(ctx context.Context, records []SignalRecord) error
	RecordOutcome(ctx context.Context, symbol string, timestamp time.Time, outcome SignalOutcome, actualPnLPct float64, evaluatedAt time.Time) error
	PendingSignals(ctx context.Context, olderThan time.Time) ([]SignalRecord, error)
}

// CycleStore persists one cycle run per scheduler invocation.
type CycleStore interface {
	AppendCycleRun(ctx context.Context, run CycleRun) error
}

// MetricStore persists arbitrary named metric samples in batches,
// supporting the scheduler's rolling latency/error-rate tracker.
type MetricStore interface {
	AppendMetrics(ctx context.Context, name string, samples map[string]float64, at time.Time) error
}

// Store aggregates every typed persistence operation the core depends on.
// A concrete adapter (e.g. internal/persistence/postgres.Store) implements
// all of it; batch sizes are an implementation concern of the adapter.
type Store interface {
	BarStore
	StatePointStore
	PatternStore
	ZoneStore
	SignalStore
	CycleStore
	MetricStore
}
