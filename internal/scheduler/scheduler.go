// Package scheduler drives the analytic pipeline on a cron cadence
// (component J): market-hours gating, a per-symbol worker pool with a
// join barrier, signal fan-out through internal/notify, rolling
// performance tracking, and outcome calibration of earlier signals.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/cache"
	"github.com/drummondgeo/dgcore/internal/errs"
	"github.com/drummondgeo/dgcore/internal/httpapi"
	"github.com/drummondgeo/dgcore/internal/notify"
	"github.com/drummondgeo/dgcore/internal/obsv"
	"github.com/drummondgeo/dgcore/internal/persistence"
	"github.com/drummondgeo/dgcore/internal/ports"
	"github.com/drummondgeo/dgcore/internal/signal"
)

// Status is the scheduler's cycle state machine: IDLE -> RUNNING ->
// {COMPLETED, FAILED, PARTIAL}.
type Status int

const (
	Idle Status = iota
	Running
	Completed
	Failed
	Partial
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	case Failed:
		return "FAILED"
	case Partial:
		return "PARTIAL"
	default:
		return "UNKNOWN"
	}
}

// Config holds the scheduler's cadence, concurrency, and threshold
// tunables.
type Config struct {
	CronExpr        string
	MarketHoursOnly bool
	CycleDeadline   time.Duration
	WorkerCap       int
	TradingInterval bar.Interval
	HTFInterval     bar.Interval
	EvaluationWindow time.Duration
	SLAP95          time.Duration
	SLAErrorRate    float64
	SLAUptime       float64
}

// DefaultConfig returns the stock defaults.
func DefaultConfig() Config {
	return Config{
		CronExpr:        "*/15 * * * *",
		MarketHoursOnly: false,
		CycleDeadline:   60 * time.Second,
		WorkerCap:       8,
		TradingInterval: bar.Interval30m,
		HTFInterval:     bar.Interval1d,
		EvaluationWindow: 24 * time.Hour,
		SLAP95:          60 * time.Second,
		SLAErrorRate:    0.01,
		SLAUptime:       0.99,
	}
}

// SymbolPipeline is everything the scheduler needs to run one symbol's
// per-cycle analytic pipeline: fetch fresh bars, compute indicators,
// classify, detect patterns, coordinate timeframes, and generate a signal.
// A concrete implementation composes internal/bar, internal/indicators,
// internal/drummond, internal/state, internal/pattern, internal/mtf, and
// internal/signal the way cmd/drummondgeo wires them; the scheduler itself
// only orchestrates calls to this interface so it stays decoupled from the
// concrete wiring (and testable with a fake).
type SymbolPipeline interface {
	// Refresh pulls the newest bars for symbol via the vendor port and
	// appends them to the bar store, returning the number of bars stored.
	Refresh(ctx context.Context, symbol string) (int, error)
	// Analyze recomputes indicators/state/patterns/zones for symbol and
	// returns at most one signal, or nil if no rule fired.
	Analyze(ctx context.Context, symbol string) (*signal.Signal, error)
}

// Scheduler owns the cron trigger, the worker pool, the notification
// router, the performance tracker, and calibration of prior signals.
type Scheduler struct {
	cfg       Config
	symbols   []string
	pipeline  SymbolPipeline
	calendar  ports.ExchangeCalendarPort
	router    *notify.Router
	store     persistence.Store
	cache     *cache.Cache
	tracker   *PerformanceTracker
	log       zerolog.Logger

	mu          sync.Mutex
	running     bool
	lastRun     CycleResult
	lastRunAt   time.Time
	cronID      cron.EntryID
	cronEngine  *cron.Cron

	barLookup    BarLookup
	evalInterval bar.Interval
	snapshots    *cache.RedisTier
	metrics      *obsv.Metrics
}

// SetMetrics wires the Prometheus metrics the scheduler records per cycle
// (cycle latency/status, emitted signals, cache hit ratio).
func (s *Scheduler) SetMetrics(m *obsv.Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// SetSnapshotStore wires the optional distributed cache tier used to persist
// the last cycle result across restarts and share it between replicas.
func (s *Scheduler) SetSnapshotStore(tier *cache.RedisTier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = tier
}

// CycleResult is one cycle's outcome, mirrored into the persisted cycle
// metadata record.
type CycleResult struct {
	ID               string
	Timestamp        time.Time
	Status           Status
	SymbolsProcessed int
	SymbolsUpdated   int
	SignalsGenerated int
	BarsStored       int
	LatencyBreakdownMs map[string]int64
	Errors           []string
}

// New constructs a Scheduler. symbols is the configured symbol universe.
func New(cfg Config, symbols []string, pipeline SymbolPipeline, calendar ports.ExchangeCalendarPort,
	router *notify.Router, store persistence.Store, calcCache *cache.Cache, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg: cfg, symbols: symbols, pipeline: pipeline, calendar: calendar,
		router: router, store: store, cache: calcCache,
		tracker: NewPerformanceTracker(cfg.SLAP95, cfg.SLAErrorRate, cfg.SLAUptime),
		log:     log,
	}
}

// Start registers the cron trigger and begins firing cycles. loc is the
// cron schedule's evaluation timezone.
func (s *Scheduler) Start(ctx context.Context, loc *time.Location) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(s.cfg.CronExpr)
	if err != nil {
		return errs.Wrap(errs.InvalidInput, "invalid cron expression", err)
	}

	if s.snapshots != nil {
		var last CycleResult
		if ok, err := s.snapshots.GetJSON(ctx, "cycle:last", &last); err == nil && ok {
			s.mu.Lock()
			s.lastRun = last
			s.lastRunAt = last.Timestamp
			s.mu.Unlock()
		}
	}

	engine := cron.New(cron.WithParser(parser), cron.WithLocation(loc))
	id := engine.Schedule(schedule, cron.FuncJob(func() {
		s.RunCycle(ctx)
	}))

	s.mu.Lock()
	s.cronEngine = engine
	s.cronID = id
	s.mu.Unlock()

	engine.Start()
	return nil
}

// Stop halts the cron trigger; in-flight cycles are allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	engine := s.cronEngine
	s.mu.Unlock()
	if engine != nil {
		stopCtx := engine.Stop()
		<-stopCtx.Done()
	}
}

// RunCycle executes one scheduler cycle synchronously. The scheduler never
// enqueues a new cycle while the previous is RUNNING: skip-with-warn.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn().Msg("cycle skipped: previous cycle still running")
		return s.lastRun
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	cycleID := uuid.NewString()
	start := time.Now()
	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleDeadline)
	defer cancel()

	result := CycleResult{ID: cycleID, Timestamp: start, Status: Running, LatencyBreakdownMs: map[string]int64{}}

	eligible := s.eligibleSymbols(cycleCtx, start)

	// min(NumCPU, len(eligible), configured cap, default 8)
	workerCap := s.cfg.WorkerCap
	if workerCap <= 0 {
		workerCap = 8
	}
	if runtime.NumCPU() < workerCap {
		workerCap = runtime.NumCPU()
	}
	if len(eligible) > 0 && len(eligible) < workerCap {
		workerCap = len(eligible)
	}
	if workerCap <= 0 {
		workerCap = 1
	}

	work := make(chan string)
	results := make(chan symbolOutcomeResult, len(eligible))
	var wg sync.WaitGroup

	for i := 0; i < workerCap; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range work {
				results <- s.runSymbol(cycleCtx, symbol)
			}
		}()
	}

	go func() {
		defer close(work)
		for _, sym := range eligible {
			select {
			case <-cycleCtx.Done():
				return
			case work <- sym:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var signals []signal.Signal
	for out := range results {
		result.SymbolsProcessed++
		if out.err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", out.symbol, out.err))
			continue
		}
		if out.barsStored > 0 {
			result.SymbolsUpdated++
			result.BarsStored += out.barsStored
		}
		if out.sig != nil {
			signals = append(signals, *out.sig)
		}
	}
	result.SignalsGenerated = len(signals)

	switch {
	case cycleCtx.Err() != nil && result.SymbolsProcessed < len(eligible):
		result.Status = Partial
	case len(eligible) > 0 && result.SymbolsProcessed == 0:
		result.Status = Failed
	case len(result.Errors) > 0 && result.SymbolsProcessed > len(result.Errors):
		result.Status = Partial
	case len(result.Errors) > 0 && result.SymbolsProcessed == len(result.Errors):
		result.Status = Failed
	default:
		result.Status = Completed
	}

	elapsed := time.Since(start)
	result.LatencyBreakdownMs["total"] = elapsed.Milliseconds()

	if len(signals) > 0 && s.router != nil {
		sort.Slice(signals, func(i, j int) bool { return signals[i].Confidence.GreaterThan(signals[j].Confidence) })
		s.router.Fan(cycleCtx, signals, notify.CycleMeta{CycleID: cycleID, Timestamp: start})
	}

	if s.store != nil {
		_ = s.store.AppendCycleRun(ctx, persistence.CycleRun{
			ID: cycleID, Timestamp: start, Status: result.Status.String(),
			SymbolsProcessed: result.SymbolsProcessed, SymbolsUpdated: result.SymbolsUpdated,
			SignalsGenerated: result.SignalsGenerated, BarsStored: result.BarsStored,
			LatencyBreakdownMs: result.LatencyBreakdownMs, Errors: result.Errors,
		})
		if len(signals) > 0 {
			records := make([]persistence.SignalRecord, len(signals))
			for i, sig := range signals {
				records[i] = persistence.SignalRecord{Signal: sig, Outcome: persistence.OutcomePending}
			}
			_ = s.store.AppendSignals(ctx, records)
		}
	}

	s.tracker.Record(elapsed, result.Status == Failed || result.Status == Partial)

	if s.cache != nil {
		cs := s.cache.Stats()
		s.log.Debug().Float64("hit_rate", cs.HitRate).Int("size", cs.Size).
			Int64("time_saved_ms", cs.TimeSavedMs).Msg("calculation cache")
		if s.metrics != nil {
			s.metrics.CacheHitRatio.Set(cs.HitRate)
		}
	}
	if s.metrics != nil {
		s.metrics.CycleDuration.WithLabelValues(result.Status.String()).Observe(elapsed.Seconds())
		s.metrics.CycleStatus.WithLabelValues(result.Status.String()).Inc()
		for _, sig := range signals {
			s.metrics.SignalsEmitted.WithLabelValues(sig.Action.String(), sig.Symbol).Inc()
		}
	}

	s.mu.Lock()
	s.lastRun = result
	s.lastRunAt = start
	snapshots := s.snapshots
	s.mu.Unlock()

	if snapshots != nil {
		if err := snapshots.SetJSON(ctx, "cycle:last", result, 0); err != nil {
			s.log.Warn().Err(err).Msg("cycle snapshot write failed")
		}
	}

	if s.cfg.EvaluationWindow > 0 && s.store != nil {
		s.calibrate(ctx)
	}

	return result
}

func (s *Scheduler) runSymbol(ctx context.Context, symbol string) symbolOutcomeResult {
	barsStored, err := s.pipeline.Refresh(ctx, symbol)
	if err != nil {
		return symbolOutcomeResult{symbol: symbol, err: errs.Wrap(errs.Unavailable, "refresh failed", err)}
	}
	sig, err := s.pipeline.Analyze(ctx, symbol)
	if err != nil {
		return symbolOutcomeResult{symbol: symbol, barsStored: barsStored, err: err}
	}
	return symbolOutcomeResult{symbol: symbol, barsStored: barsStored, sig: sig}
}

type symbolOutcomeResult struct {
	symbol     string
	barsStored int
	sig        *signal.Signal
	err        error
}

// eligibleSymbols applies the market-hours gate when configured. A
// calendar error is treated as open so a flaky calendar cannot silence
// the whole universe.
func (s *Scheduler) eligibleSymbols(ctx context.Context, at time.Time) []string {
	if !s.cfg.MarketHoursOnly || s.calendar == nil {
		return s.symbols
	}
	var eligible []string
	for _, sym := range s.symbols {
		open, err := s.calendar.IsOpen(ctx, sym, at)
		if err != nil {
			s.log.Warn().Str("symbol", sym).Err(err).Msg("calendar check failed, including symbol")
			eligible = append(eligible, sym)
			continue
		}
		if open {
			eligible = append(eligible, sym)
		}
	}
	return eligible
}

// Status implements httpapi.StatusProvider.
func (s *Scheduler) Status() httpapi.CycleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	var next time.Time
	if s.cronEngine != nil {
		for _, e := range s.cronEngine.Entries() {
			if e.ID == s.cronID {
				next = e.Next
			}
		}
	}
	return httpapi.CycleStatus{
		Running:          s.running,
		LastCycleID:      s.lastRun.ID,
		LastCycleStatus:  s.lastRun.Status.String(),
		LastCycleAt:      s.lastRunAt,
		SymbolsProcessed: s.lastRun.SymbolsProcessed,
		SignalsGenerated: s.lastRun.SignalsGenerated,
		NextRunAt:        next,
	}
}

// calibrate evaluates earlier emitted signals whose evaluation window has
// elapsed: outcome WIN/LOSS/NEUTRAL/PENDING from actual bar highs/lows.
func (s *Scheduler) calibrate(ctx context.Context) {
	pending, err := s.store.PendingSignals(ctx, time.Now().Add(-s.cfg.EvaluationWindow))
	if err != nil {
		s.log.Warn().Err(err).Msg("calibration: pending signal query failed")
		return
	}
	for _, rec := range pending {
		outcome, pnlPct, evaluated := s.evaluateOutcome(ctx, rec)
		if !evaluated {
			continue
		}
		if err := s.store.RecordOutcome(ctx, rec.Symbol, rec.Timestamp, outcome, pnlPct, time.Now()); err != nil {
			s.log.Warn().Str("symbol", rec.Symbol).Err(err).Msg("calibration: record outcome failed")
		}
	}
}

// BarLookup abstracts the bar lookup calibration needs, supplied by the
// concrete pipeline wiring (kept separate from SymbolPipeline since it is
// only needed for calibration, not the per-cycle hot path).
type BarLookup interface {
	BarsSince(ctx context.Context, symbol string, interval bar.Interval, since time.Time) ([]bar.Bar, error)
}

// SetBarLookup wires the bar-range lookup calibration uses to classify
// outcomes against actual subsequent highs/lows.
func (s *Scheduler) SetBarLookup(lookup BarLookup, interval bar.Interval) {
	s.barLookup = lookup
	s.evalInterval = interval
}

func (s *Scheduler) evaluateOutcome(ctx context.Context, rec persistence.SignalRecord) (persistence.SignalOutcome, float64, bool) {
	if s.barLookup == nil {
		return persistence.OutcomePending, 0, false
	}
	bars, err := s.barLookup.BarsSince(ctx, rec.Symbol, s.evalInterval, rec.Timestamp)
	if err != nil || len(bars) == 0 {
		return persistence.OutcomePending, 0, false
	}

	long := rec.Action == signal.Long
	for _, b := range bars {
		targetHit := (long && b.High.GreaterThanOrEqual(rec.TargetPrice)) || (!long && b.Low.LessThanOrEqual(rec.TargetPrice))
		stopHit := (long && b.Low.LessThanOrEqual(rec.StopPrice)) || (!long && b.High.GreaterThanOrEqual(rec.StopPrice))
		switch {
		case stopHit && targetHit:
			// conservative: stop resolves first within the same bar.
			return persistence.OutcomeLoss, pnlPct(rec, rec.StopPrice, long), true
		case stopHit:
			return persistence.OutcomeLoss, pnlPct(rec, rec.StopPrice, long), true
		case targetHit:
			return persistence.OutcomeWin, pnlPct(rec, rec.TargetPrice, long), true
		}
	}
	last := bars[len(bars)-1]
	if time.Since(rec.Timestamp) >= s.cfg.EvaluationWindow {
		return persistence.OutcomeNeutral, pnlPct(rec, last.Close, long), true
	}
	return persistence.OutcomePending, 0, false
}

func pnlPct(rec persistence.SignalRecord, exit decimal.Decimal, long bool) float64 {
	entry := rec.EntryPrice
	if entry.IsZero() {
		return 0
	}
	var diff decimal.Decimal
	if long {
		diff = exit.Sub(entry)
	} else {
		diff = entry.Sub(exit)
	}
	pct, _ := diff.Div(entry).Float64()
	return pct
}

// PerformanceTracker retains a rolling window of cycle durations and error
// outcomes and computes P50/P95/P99 latency, error rate, and uptime against
// configurable SLA thresholds.
type PerformanceTracker struct {
	mu         sync.Mutex
	durations  []time.Duration
	failures   []bool
	slaP95     time.Duration
	slaErrRate float64
	slaUptime  float64
	maxSamples int
}

// NewPerformanceTracker constructs a tracker against the given SLA
// thresholds (defaults: P95 <= 60s, error rate <= 1%, uptime >= 99%).
func NewPerformanceTracker(slaP95 time.Duration, slaErrRate, slaUptime float64) *PerformanceTracker {
	return &PerformanceTracker{slaP95: slaP95, slaErrRate: slaErrRate, slaUptime: slaUptime, maxSamples: 1000}
}

// Record appends one cycle's duration and failure flag to the rolling
// window, evicting the oldest sample once maxSamples is exceeded.
func (t *PerformanceTracker) Record(d time.Duration, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.durations = append(t.durations, d)
	t.failures = append(t.failures, failed)
	if len(t.durations) > t.maxSamples {
		t.durations = t.durations[1:]
		t.failures = t.failures[1:]
	}
}

// Percentiles returns the P50/P95/P99 cycle latencies over the current
// window.
func (t *PerformanceTracker) Percentiles() (p50, p95, p99 time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.durations) == 0 {
		return 0, 0, 0
	}
	sorted := append([]time.Duration(nil), t.durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	pick := func(q float64) time.Duration {
		idx := int(q * float64(len(sorted)-1))
		return sorted[idx]
	}
	return pick(0.50), pick(0.95), pick(0.99)
}

// ErrorRate returns the fraction of recorded cycles that failed or were
// partial.
func (t *PerformanceTracker) ErrorRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.failures) == 0 {
		return 0
	}
	n := 0
	for _, f := range t.failures {
		if f {
			n++
		}
	}
	return float64(n) / float64(len(t.failures))
}

// Uptime returns the fraction of recorded cycles that neither failed nor
// were partial (1 - ErrorRate).
func (t *PerformanceTracker) Uptime() float64 { return 1 - t.ErrorRate() }

// SLACompliant reports whether every SLA threshold currently holds.
func (t *PerformanceTracker) SLACompliant() bool {
	_, p95, _ := t.Percentiles()
	return p95 <= t.slaP95 && t.ErrorRate() <= t.slaErrRate && t.Uptime() >= t.slaUptime
}
