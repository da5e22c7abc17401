package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drummondgeo/dgcore/internal/signal"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func sig(symbol string, confidence float64) signal.Signal {
	return signal.Signal{
		Symbol: symbol, Action: signal.Long, Timestamp: time.Now().UTC(),
		EntryPrice: d(100), StopPrice: d(98), TargetPrice: d(104), Confidence: d(confidence),
	}
}

// fakeTransport records payloads and optionally fails the first n sends.
type fakeTransport struct {
	mu       sync.Mutex
	payloads [][]byte
	failures int
}

func (f *fakeTransport) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("status 503")
	}
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func TestRouterFiltersByConfidenceThreshold(t *testing.T) {
	transport := &fakeTransport{}
	chat := NewThresholdSink("chat", transport, 0.5, 0, 0, zerolog.Nop())
	router := NewRouter(zerolog.Nop(), 100, NewConsoleSink(zerolog.Nop()), chat)

	signals := []signal.Signal{sig("AAA", 0.9), sig("BBB", 0.3)}
	statuses := router.Fan(context.Background(), signals, CycleMeta{CycleID: "c1"})

	require.Len(t, statuses, 2)
	assert.Equal(t, "console", statuses[0].Sink)
	assert.Equal(t, 2, statuses[0].Delivered) // console is unfiltered
	assert.Equal(t, "chat", statuses[1].Sink)
	assert.Equal(t, 1, statuses[1].Delivered) // BBB falls below the 0.5 floor
	assert.Equal(t, 1, transport.count())
}

func TestRouterDropOldestOnOverflow(t *testing.T) {
	transport := &fakeTransport{}
	chat := NewThresholdSink("chat", transport, 0, 0, 0, zerolog.Nop())
	router := NewRouter(zerolog.Nop(), 2, chat)

	signals := []signal.Signal{sig("AAA", 0.9), sig("BBB", 0.8), sig("CCC", 0.7)}
	statuses := router.Fan(context.Background(), signals, CycleMeta{CycleID: "c1"})

	require.Len(t, statuses, 1)
	assert.Equal(t, 2, statuses[0].Delivered)
	assert.Equal(t, 1, statuses[0].Dropped)
}

func TestThresholdSinkRetriesTransientFailures(t *testing.T) {
	transport := &fakeTransport{failures: 2}
	sink := NewThresholdSink("webhook", transport, 0, 0, 0, zerolog.Nop())

	err := sink.Deliver(context.Background(), []signal.Signal{sig("AAA", 0.9)}, CycleMeta{CycleID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 1, transport.count())
}

func TestThresholdSinkRateLimiterHonored(t *testing.T) {
	transport := &fakeTransport{}
	// 100/s with burst 2: three sends must take at least one limiter wait.
	sink := NewThresholdSink("chat", transport, 0, 100, 2, zerolog.Nop())

	start := time.Now()
	err := sink.Deliver(context.Background(), []signal.Signal{
		sig("AAA", 0.9), sig("BBB", 0.9), sig("CCC", 0.9),
	}, CycleMeta{CycleID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, 3, transport.count())
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}
