package bar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/drummondgeo/dgcore/internal/errs"
)

// key identifies one (symbol, interval) bar series.
type key struct {
	symbol   string
	interval Interval
}

// AppendResult reports how many records an append call accepted or
// skipped. Malformed records are counted, never raised, so one bad row
// cannot abort a large batch.
type AppendResult struct {
	Accepted int
	Skipped  int
	Reasons  map[string]int // reason code -> count
}

func newAppendResult() *AppendResult {
	return &AppendResult{Reasons: make(map[string]int)}
}

func (r *AppendResult) skip(reason string) {
	r.Skipped++
	r.Reasons[reason]++
}

// Store is the bar store: a read-mostly, single-writer-per-key, in-memory
// table of BarSeries. Writers serialize per (symbol, interval) with a
// per-key mutex; readers take a snapshot copy so pipeline goroutines never
// observe a half-written series.
type Store struct {
	mu      sync.RWMutex
	series  map[key]*BarSeries
	locks   map[key]*sync.Mutex
	log     zerolog.Logger
	onWrite func(symbol string, interval Interval) // invalidation hook
}

// NewStore constructs an empty bar store. onWrite, if non-nil, is invoked
// after every successful Append so the calculation cache can invalidate
// entries tagged with the written (symbol, interval).
func NewStore(log zerolog.Logger, onWrite func(symbol string, interval Interval)) *Store {
	return &Store{
		series:  make(map[key]*BarSeries),
		locks:   make(map[key]*sync.Mutex),
		log:     log,
		onWrite: onWrite,
	}
}

func (s *Store) lockFor(k key) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// GetBars returns the bars in [from, to], strictly time-ordered, no
// duplicates. Returns a typed NotFound error when the series has no data
// in range.
func (s *Store) GetBars(ctx context.Context, symbol string, interval Interval, from, to time.Time) (BarSeries, error) {
	k := key{symbol, interval}
	s.mu.RLock()
	full, ok := s.series[k]
	s.mu.RUnlock()
	if !ok {
		return BarSeries{}, errs.New(errs.NotFound, "no series for symbol/interval")
	}
	win := full.Window(from, to)
	if win.Len() == 0 {
		return BarSeries{}, errs.New(errs.NotFound, "no bars in range")
	}
	return win, nil
}

// Append upserts bars by timestamp into the (symbol, interval) series,
// rejecting any that fail Bar.Validate(). A malformed record never aborts
// the batch: it is counted and its reason recorded.
func (s *Store) Append(ctx context.Context, symbol string, interval Interval, bars []Bar) *AppendResult {
	res := newAppendResult()
	if len(bars) == 0 {
		return res
	}
	k := key{symbol, interval}
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	existing, ok := s.series[k]
	if !ok {
		existing = &BarSeries{Symbol: symbol, Interval: interval}
		s.series[k] = existing
	}
	s.mu.Unlock()

	byTS := make(map[int64]Bar, len(existing.Bars))
	for _, b := range existing.Bars {
		byTS[b.Timestamp.UnixNano()] = b
	}

	for _, b := range bars {
		if b.Symbol == "" {
			b.Symbol = symbol
		}
		if b.Interval == "" {
			b.Interval = interval
		}
		if err := b.Validate(); err != nil {
			res.skip(err.Error())
			continue
		}
		ts := b.Timestamp.UTC().UnixNano()
		if _, dup := byTS[ts]; dup {
			res.skip("duplicate")
		} else {
			res.Accepted++
		}
		byTS[ts] = b
	}

	merged := make([]Bar, 0, len(byTS))
	for _, b := range byTS {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp.Before(merged[j].Timestamp) })

	s.mu.Lock()
	existing.Bars = merged
	s.mu.Unlock()

	if res.Accepted > 0 && s.onWrite != nil {
		s.onWrite(symbol, interval)
	}
	s.log.Debug().Str("symbol", symbol).Str("interval", string(interval)).
		Int("accepted", res.Accepted).Int("skipped", res.Skipped).Msg("bar store append")
	return res
}
