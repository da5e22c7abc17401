// Package postgres is the concrete Postgres implementation of
// internal/persistence's typed operations: sqlx + lib/pq, batched
// prepared inserts, timeout-scoped contexts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/drummond"
	"github.com/drummondgeo/dgcore/internal/pattern"
	"github.com/drummondgeo/dgcore/internal/persistence"
	"github.com/drummondgeo/dgcore/internal/signal"
	"github.com/drummondgeo/dgcore/internal/state"
)

// Store is the sqlx-backed implementation of persistence.Store.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to Postgres at dsn and returns a Store with the given
// per-call timeout.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}, nil
}

// NewStore wraps an already-open *sqlx.DB, used by tests against a fake or
// dockerized instance.
func NewStore(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

func (s *Store) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.timeout)
}

// AppendBars upserts bars by (symbol, interval, timestamp).
func (s *Store) AppendBars(parent context.Context, symbol string, interval bar.Interval, bars []bar.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bars upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bars (symbol, interval, ts, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, interval, ts) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close, volume = EXCLUDED.volume`)
	if err != nil {
		return fmt.Errorf("prepare bars upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bars {
		if _, err := stmt.ExecContext(ctx, symbol, string(interval), b.Timestamp,
			b.Open.String(), b.High.String(), b.Low.String(), b.Close.String(), b.Volume); err != nil {
			return fmt.Errorf("upsert bar %s@%s: %w", symbol, b.Timestamp, err)
		}
	}
	return tx.Commit()
}

// AppendStatePoints inserts market-state points. Insert-only.
func (s *Store) AppendStatePoints(parent context.Context, symbol string, interval bar.Interval, points []state.Point) error {
	if len(points) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state points insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO market_state_points
			(symbol, interval, ts, state, trend_direction, bars_in_state, previous_state, slope_class, confidence, change_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`)
	if err != nil {
		return fmt.Errorf("prepare state points insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range points {
		conf, _ := p.Confidence.Float64()
		if _, err := stmt.ExecContext(ctx, symbol, string(interval), p.Timestamp,
			p.State.String(), p.TrendDirection.String(), p.BarsInState, p.PreviousState.String(),
			p.SlopeClass.String(), conf, p.ChangeReason); err != nil {
			return fmt.Errorf("insert state point %s@%s: %w", symbol, p.Timestamp, err)
		}
	}
	return tx.Commit()
}

// AppendPatterns inserts detected patterns. Insert-only.
func (s *Store) AppendPatterns(parent context.Context, symbol string, patterns []pattern.Pattern) error {
	if len(patterns) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin patterns insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO patterns (symbol, kind, direction, strength, entry_price, stop_price, target_price, risk_reward, ts, context_refs)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`)
	if err != nil {
		return fmt.Errorf("prepare patterns insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range patterns {
		strength, _ := p.Strength.Float64()
		rr, _ := p.RiskReward.Float64()
		if _, err := stmt.ExecContext(ctx, symbol, p.Kind.String(), p.Direction.String(), strength,
			p.EntryPrice.String(), p.StopPrice.String(), p.TargetPrice.String(), rr, p.Timestamp,
			pq.Array(p.ContextRefs)); err != nil {
			return fmt.Errorf("insert pattern %s@%s: %w", symbol, p.Timestamp, err)
		}
	}
	return tx.Commit()
}

// AppendZones inserts aggregated Drummond zones for symbol at timestamp.
// Insert-only.
func (s *Store) AppendZones(parent context.Context, symbol string, timestamp time.Time, zones []drummond.DrummondZone) error {
	if len(zones) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin zones insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO drummond_zones
			(symbol, ts, kind, center_price, lower_price, upper_price, strength, contributing_timeframes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`)
	if err != nil {
		return fmt.Errorf("prepare zones insert: %w", err)
	}
	defer stmt.Close()

	for _, z := range zones {
		if _, err := stmt.ExecContext(ctx, symbol, timestamp, z.Kind.String(),
			z.CenterPrice.String(), z.LowerPrice.String(), z.UpperPrice.String(), z.Strength.String(),
			pq.Array(z.ContributingTimeframes)); err != nil {
			return fmt.Errorf("insert zone %s@%s: %w", symbol, timestamp, err)
		}
	}
	return tx.Commit()
}

// AppendSignals persists emitted signals with an initial PENDING outcome.
func (s *Store) AppendSignals(parent context.Context, records []persistence.SignalRecord) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin signals insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO signals
			(symbol, action, ts, entry_price, stop_price, target_price, risk_reward, confidence, reason, outcome)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`)
	if err != nil {
		return fmt.Errorf("prepare signals insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		conf, _ := r.Confidence.Float64()
		rr, _ := r.RiskReward.Float64()
		outcome := r.Outcome
		if outcome == "" {
			outcome = persistence.OutcomePending
		}
		if _, err := stmt.ExecContext(ctx, r.Symbol, r.Action.String(), r.Timestamp,
			r.EntryPrice.String(), r.StopPrice.String(), r.TargetPrice.String(), rr, conf, r.Reason,
			string(outcome)); err != nil {
			return fmt.Errorf("insert signal %s@%s: %w", r.Symbol, r.Timestamp, err)
		}
	}
	return tx.Commit()
}

// RecordOutcome updates a previously persisted signal's realized outcome
// once its evaluation window elapses.
func (s *Store) RecordOutcome(parent context.Context, symbol string, timestamp time.Time, outcome persistence.SignalOutcome, actualPnLPct float64, evaluatedAt time.Time) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE signals SET outcome = $1, actual_pnl_pct = $2, evaluation_ts = $3
		WHERE symbol = $4 AND ts = $5`, string(outcome), actualPnLPct, evaluatedAt, symbol, timestamp)
	if err != nil {
		return fmt.Errorf("record outcome %s@%s: %w", symbol, timestamp, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// PendingSignals returns persisted signals whose signal timestamp is
// before olderThan and whose outcome is still PENDING.
func (s *Store) PendingSignals(parent context.Context, olderThan time.Time) ([]persistence.SignalRecord, error) {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT symbol, action, ts, entry_price, stop_price, target_price, risk_reward, confidence, reason, outcome
		FROM signals WHERE outcome = $1 AND ts < $2`, string(persistence.OutcomePending), olderThan)
	if err != nil {
		return nil, fmt.Errorf("query pending signals: %w", err)
	}
	defer rows.Close()

	var out []persistence.SignalRecord
	for rows.Next() {
		var rec pendingSignalRow
		if err := rows.StructScan(&rec); err != nil {
			return nil, fmt.Errorf("scan pending signal: %w", err)
		}
		out = append(out, rec.toRecord())
	}
	return out, rows.Err()
}

type pendingSignalRow struct {
	Symbol     string    `db:"symbol"`
	Action     string    `db:"action"`
	Timestamp  time.Time `db:"ts"`
	Entry      string    `db:"entry_price"`
	Stop       string    `db:"stop_price"`
	Target     string    `db:"target_price"`
	RR         float64   `db:"risk_reward"`
	Confidence float64   `db:"confidence"`
	Reason     string    `db:"reason"`
	Outcome    string    `db:"outcome"`
}

func (r pendingSignalRow) toRecord() persistence.SignalRecord {
	action, _ := signal.ParseAction(r.Action)
	entry, _ := decimal.NewFromString(r.Entry)
	stop, _ := decimal.NewFromString(r.Stop)
	target, _ := decimal.NewFromString(r.Target)
	return persistence.SignalRecord{
		Signal: signal.Signal{
			Symbol:      r.Symbol,
			Action:      action,
			Timestamp:   r.Timestamp,
			EntryPrice:  entry,
			StopPrice:   stop,
			TargetPrice: target,
			RiskReward:  decimal.NewFromFloat(r.RR),
			Confidence:  decimal.NewFromFloat(r.Confidence),
			Reason:      r.Reason,
		},
		Outcome: persistence.SignalOutcome(r.Outcome),
	}
}

// AppendCycleRun inserts one scheduler cycle run record.
func (s *Store) AppendCycleRun(parent context.Context, run persistence.CycleRun) error {
	ctx, cancel := s.ctx(parent)
	defer cancel()

	latencyJSON, err := json.Marshal(run.LatencyBreakdownMs)
	if err != nil {
		return fmt.Errorf("marshal latency breakdown: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cycle_runs
			(id, ts, status, symbols_processed, symbols_updated, signals_generated, bars_stored, latency_breakdown_ms, errors)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		run.ID, run.Timestamp, run.Status, run.SymbolsProcessed, run.SymbolsUpdated,
		run.SignalsGenerated, run.BarsStored, latencyJSON, pq.Array(run.Errors))
	if err != nil {
		return fmt.Errorf("insert cycle run %s: %w", run.ID, err)
	}
	return nil
}

// AppendMetrics inserts a batch of named metric samples at timestamp at.
func (s *Store) AppendMetrics(parent context.Context, name string, samples map[string]float64, at time.Time) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := s.ctx(parent)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO metric_samples (metric, label, value, ts) VALUES ($1,$2,$3,$4)`)
	if err != nil {
		return fmt.Errorf("prepare metrics insert: %w", err)
	}
	defer stmt.Close()

	for label, value := range samples {
		if _, err := stmt.ExecContext(ctx, name, label, value, at); err != nil {
			return fmt.Errorf("insert metric %s/%s: %w", name, label, err)
		}
	}
	return tx.Commit()
}

var _ persistence.Store = (*Store)(nil)
