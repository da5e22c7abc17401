// Package ports defines the boundary interfaces (component L) between the
// analytic core and the outside world: vendor data ingestion, persistence,
// the exchange calendar, and notification delivery. Concrete adapters live
// under internal/persistence, internal/notify, and internal/ports/vendor.
package ports

import (
	"context"
	"time"

	"github.com/drummondgeo/dgcore/internal/bar"
)

// VendorDataPort fetches bars for a symbol/interval from an upstream market
// data vendor.
type VendorDataPort interface {
	FetchBars(ctx context.Context, symbol string, interval bar.Interval, from, to time.Time) ([]bar.Bar, error)
}

// ExchangeCalendarPort reports whether a market is open at t, used by the
// scheduler's market-hours gate.
type ExchangeCalendarPort interface {
	IsOpen(ctx context.Context, symbol string, t time.Time) (bool, error)
}

// NotificationPort delivers a rendered notification to one sink. The
// console, chat and webhook sinks in internal/notify implement notify.Sink,
// not this interface.
type NotificationPort interface {
	Send(ctx context.Context, sink string, payload []byte) error
}

// PerformanceStore persists cycle latency samples for the scheduler's
// rolling P50/P95/P99 tracker.
type PerformanceStore interface {
	RecordCycle(ctx context.Context, cycleID string, startedAt time.Time, duration time.Duration, err error) error
	RecentDurations(ctx context.Context, lookback time.Duration) ([]time.Duration, error)
	ErrorRate(ctx context.Context, lookback time.Duration) (float64, error)
}
