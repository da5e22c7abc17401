// Package notify implements the notification router (component K): fans
// out emitted signals to configured sinks, each gated by a per-sink
// confidence threshold and a token-bucket rate limit, with drop-oldest
// backpressure and breaker-wrapped retry of failed deliveries.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/drummondgeo/dgcore/internal/errs"
	"github.com/drummondgeo/dgcore/internal/signal"
)

// CycleMeta is the minimal cycle metadata accompanying a notification
// batch.
type CycleMeta struct {
	CycleID   string
	Timestamp time.Time
}

// DeliveryStatus reports one sink's outcome for one fan-out call.
type DeliveryStatus struct {
	Sink      string
	Delivered int
	Dropped   int
	Err       error
}

// Sink delivers a batch of signals to one destination (console, chat,
// webhook). Concrete sinks form a small closed set selected via
// configuration.
type Sink interface {
	Name() string
	MinConfidence() float64
	Deliver(ctx context.Context, signals []signal.Signal, meta CycleMeta) error
}

// ConsoleSink logs every signal it is handed, with no confidence floor.
type ConsoleSink struct {
	log zerolog.Logger
}

// NewConsoleSink constructs the console sink.
func NewConsoleSink(log zerolog.Logger) *ConsoleSink { return &ConsoleSink{log: log} }

// Name implements Sink.
func (c *ConsoleSink) Name() string { return "console" }

// MinConfidence implements Sink; console is unfiltered.
func (c *ConsoleSink) MinConfidence() float64 { return 0 }

// Deliver implements Sink by logging each signal.
func (c *ConsoleSink) Deliver(_ context.Context, signals []signal.Signal, meta CycleMeta) error {
	for _, s := range signals {
		c.log.Info().Str("cycle", meta.CycleID).Str("symbol", s.Symbol).
			Str("action", s.Action.String()).Str("confidence", s.Confidence.String()).
			Msg("signal")
	}
	return nil
}

// Transport is the HTTP-ish delivery mechanism a chat/webhook sink needs; a
// concrete adapter implements this against a specific chat/webhook API
// (outside the analytic core).
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// ThresholdSink wraps a Transport with a confidence floor, a rate limiter,
// and a circuit breaker, used for both the chat and webhook sinks.
type ThresholdSink struct {
	name      string
	transport Transport
	minConf   float64
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker
	log       zerolog.Logger
}

// NewThresholdSink constructs a rate-limited, breaker-wrapped sink. ratePerSec
// and burst configure the token bucket and are used as given (the chat
// values in config default to 1 message/sec with burst 5); pass 0 for
// ratePerSec to disable limiting (used by webhook, which has no stated
// default rate).
func NewThresholdSink(name string, transport Transport, minConf, ratePerSec float64, burst int, log zerolog.Logger) *ThresholdSink {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), burst)
	}
	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.ConsecutiveFailures >= 3 }
	return &ThresholdSink{
		name: name, transport: transport, minConf: minConf,
		limiter: limiter, breaker: gobreaker.NewCircuitBreaker(st), log: log,
	}
}

// Name implements Sink.
func (s *ThresholdSink) Name() string { return s.name }

// MinConfidence implements Sink.
func (s *ThresholdSink) MinConfidence() float64 { return s.minConf }

// Deliver implements Sink: each signal is delivered individually so a
// single failure doesn't drop the whole batch; a failed send is retried up
// to 3 times with doubling backoff through the breaker. Every send error is
// retried; transient and permanent failures are not told apart here.
func (s *ThresholdSink) Deliver(ctx context.Context, signals []signal.Signal, meta CycleMeta) error {
	var lastErr error
	for _, sig := range signals {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				lastErr = errs.Wrap(errs.TimeoutCancelled, "rate limiter wait cancelled", err)
				continue
			}
		}
		payload := []byte(fmt.Sprintf(`{"cycle":%q,"symbol":%q,"action":%q,"confidence":%q}`,
			meta.CycleID, sig.Symbol, sig.Action.String(), sig.Confidence.String()))

		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, retryTransient(ctx, 3, 100*time.Millisecond, func() error {
				return s.transport.Send(ctx, payload)
			})
		})
		if err != nil {
			lastErr = err
			s.log.Warn().Str("sink", s.name).Str("symbol", sig.Symbol).Err(err).Msg("notification delivery failed")
		}
	}
	return lastErr
}

func retryTransient(ctx context.Context, retries int, backoff time.Duration, fn func() error) error {
	var err error
	wait := backoff
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return errs.Wrap(errs.TimeoutCancelled, "retry cancelled", ctx.Err())
			case <-time.After(wait):
			}
			wait *= 2
		}
		if err = fn(); err == nil {
			return nil
		}
	}
	return errs.Wrap(errs.Unavailable, "transport send exhausted retries", err)
}

// queuedSink pairs a Sink with the capacity that bounds each batch handed
// to it: Fan keeps the newest capacity signals and drops the older ones.
// Delivery is synchronous, so a slow sink delays the sinks after it.
type queuedSink struct {
	Sink
	capacity int
}

// Router fans a batch of signals out to every configured sink, filtering
// each sink's batch by its own confidence floor and tracking per-sink
// delivery status.
type Router struct {
	sinks []queuedSink
	log   zerolog.Logger
}

// NewRouter constructs a Router over sinks, each with the given bounded
// queue capacity for drop-oldest backpressure.
func NewRouter(log zerolog.Logger, queueCapacity int, sinks ...Sink) *Router {
	if queueCapacity <= 0 {
		queueCapacity = 100
	}
	qs := make([]queuedSink, 0, len(sinks))
	for _, s := range sinks {
		qs = append(qs, queuedSink{Sink: s, capacity: queueCapacity})
	}
	return &Router{sinks: qs, log: log}
}

// Fan delivers signals to every sink whose confidence floor each signal
// clears, applying drop-oldest truncation when a sink's batch exceeds its
// queue capacity, and returns one DeliveryStatus per sink.
func (r *Router) Fan(ctx context.Context, signals []signal.Signal, meta CycleMeta) []DeliveryStatus {
	statuses := make([]DeliveryStatus, 0, len(r.sinks))
	for _, qs := range r.sinks {
		filtered := make([]signal.Signal, 0, len(signals))
		for _, s := range signals {
			conf, _ := s.Confidence.Float64()
			if conf >= qs.MinConfidence() {
				filtered = append(filtered, s)
			}
		}
		dropped := 0
		if len(filtered) > qs.capacity {
			dropped = len(filtered) - qs.capacity
			filtered = filtered[dropped:] // drop-oldest: keep the most recent tail
		}
		err := qs.Deliver(ctx, filtered, meta)
		status := DeliveryStatus{Sink: qs.Name(), Delivered: len(filtered), Dropped: dropped, Err: err}
		if err != nil {
			r.log.Warn().Str("sink", qs.Name()).Err(err).Msg("sink fan-out error")
		}
		statuses = append(statuses, status)
	}
	return statuses
}
