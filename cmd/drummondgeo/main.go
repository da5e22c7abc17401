package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/drummondgeo/dgcore/internal/backtest"
	"github.com/drummondgeo/dgcore/internal/backtest/portfolio"
	"github.com/drummondgeo/dgcore/internal/bar"
	"github.com/drummondgeo/dgcore/internal/cache"
	"github.com/drummondgeo/dgcore/internal/config"
	"github.com/drummondgeo/dgcore/internal/httpapi"
	"github.com/drummondgeo/dgcore/internal/notify"
	"github.com/drummondgeo/dgcore/internal/obsv"
	"github.com/drummondgeo/dgcore/internal/persistence"
	"github.com/drummondgeo/dgcore/internal/persistence/postgres"
	"github.com/drummondgeo/dgcore/internal/pipeline"
	"github.com/drummondgeo/dgcore/internal/ports/vendor"
	"github.com/drummondgeo/dgcore/internal/scheduler"
)

const (
	appName = "drummondgeo"
	version = "v0.4.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Drummond Geometry analytic core: indicators, signals, backtests, scheduled cycles",
		Version: version,
		Long: `drummondgeo computes Drummond Geometry indicators (PLdot, envelopes,
Drummond lines and zones) over OHLCV bar streams, classifies market state,
coordinates analysis across timeframes, and emits ranked trading signals.

Subcommands run the same analytic core in two modes:
  run       cron-driven live-style cycles with signal fan-out
  backtest  deterministic portfolio replay over historical bars`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration (defaults applied when omitted)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (trace|debug|info|warn|error)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cron-driven scheduler with signal fan-out",
		RunE:  runScheduler,
	}
	runCmd.Flags().String("data-dir", "", "Directory of replay CSV bar files (SYMBOL_INTERVAL.csv)")
	runCmd.Flags().String("symbols", "", "Comma-separated symbol universe")
	runCmd.Flags().String("redis-addr", "", "Optional Redis address for the distributed cache tier")
	runCmd.Flags().String("postgres-dsn", "", "Optional Postgres DSN for the persistence port")
	runCmd.Flags().Int("http-port", 8080, "Port for /healthz, /metrics, /status")
	runCmd.Flags().Bool("once", false, "Run a single cycle immediately and exit")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Run a deterministic portfolio backtest over historical bars",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().String("data-dir", "", "Directory of CSV bar files (SYMBOL_INTERVAL.csv)")
	backtestCmd.Flags().String("symbols", "", "Comma-separated symbol universe")
	backtestCmd.Flags().String("sectors", "", "Comma-separated symbol=sector pairs for per-sector caps")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(backtestCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	levelName, _ := cmd.Flags().GetString("log-level")
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("invalid log level %q: %w", levelName, err)
	}
	logger := log.Logger.Level(level)

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.Default(), logger, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, zerolog.Logger{}, err
	}
	return cfg, logger, nil
}

func splitSymbols(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func parseSectors(raw string) map[string]string {
	sectors := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && k != "" {
			sectors[k] = v
		}
	}
	return sectors
}

// corePipelineConfig maps the YAML configuration surface onto the pipeline's
// per-component configs.
func corePipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.DefaultConfig()
	pc.TradingInterval = bar.Interval(cfg.Interval.Trading)
	pc.HTFInterval = bar.Interval(cfg.Interval.HTF)
	pc.LTFInterval = bar.Interval(cfg.Interval.LTF)
	pc.PLdot.Displacement = cfg.PLdot.Displacement
	pc.Envelope.Period = cfg.Envelope.Period
	pc.Envelope.Multiplier = decimal.NewFromFloat(cfg.Envelope.Multiplier)
	pc.State.SlopeEpsilon = decimal.NewFromFloat(cfg.State.SlopeEpsilon)
	pc.Pattern.MinRR = decimal.NewFromFloat(cfg.Pattern.MinRR)
	pc.Signal.ZoneDistanceTolerancePct = decimal.NewFromFloat(cfg.Coordinator.TolerancePct)
	pc.Signal.NotifyFloor = decimal.NewFromFloat(cfg.Signal.MinConfidenceNotify)
	pc.Signal.ActFloor = decimal.NewFromFloat(cfg.Signal.MinConfidenceAct)
	return pc
}

func portfolioConfig(cfg *config.Config) portfolio.Config {
	pc := portfolio.DefaultConfig()
	if cfg.Portfolio.InitialCapital > 0 {
		pc.InitialEquity = decimal.NewFromFloat(cfg.Portfolio.InitialCapital)
	}
	pc.RiskPerTradePct = decimal.NewFromFloat(cfg.Portfolio.RiskPerTradePct)
	pc.MaxConcurrentPos = cfg.Portfolio.MaxPositions
	pc.MaxTotalRiskPct = decimal.NewFromFloat(cfg.Portfolio.MaxTotalRiskPct)
	pc.SlippageBps = decimal.NewFromFloat(cfg.Execution.SlippageBps)
	pc.CommissionPct = decimal.NewFromFloat(cfg.Execution.CommissionPct)
	pc.SampleEveryNBars = cfg.EquitySampler.IntervalBars
	pc.SampleEquityDeltaPct = decimal.NewFromFloat(cfg.EquitySampler.MinChangePct)
	return pc
}

func runScheduler(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	symbolsRaw, _ := cmd.Flags().GetString("symbols")
	redisAddr, _ := cmd.Flags().GetString("redis-addr")
	pgDSN, _ := cmd.Flags().GetString("postgres-dsn")
	httpPort, _ := cmd.Flags().GetInt("http-port")
	once, _ := cmd.Flags().GetBool("once")

	symbols := splitSymbols(symbolsRaw)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given: pass --symbols")
	}
	if dataDir == "" {
		return fmt.Errorf("no bar source given: pass --data-dir")
	}

	pipeCfg := corePipelineConfig(cfg)
	replay, err := newReplayVendor(dataDir, symbols,
		[]bar.Interval{pipeCfg.TradingInterval, pipeCfg.HTFInterval, pipeCfg.LTFInterval})
	if err != nil {
		return err
	}
	// breaker + bounded-retry wrapper so the pipeline's Refresh path carries
	// the same resilience as a live vendor adapter would
	dataPort := vendor.NewClient(replay, vendor.DefaultClientConfig("replay"))

	calc := cache.New(cache.Config{MaxSize: cfg.Cache.MaxSize, TTL: cfg.CacheTTL()})
	store := bar.NewStore(logger, func(symbol string, interval bar.Interval) {
		calc.InvalidateSymbolInterval(symbol, string(interval))
	})
	pipe := pipeline.New(pipeCfg, store, dataPort, calc)

	sinks := []notify.Sink{notify.NewConsoleSink(logger)}
	if cfg.Notify.WebhookURL != "" {
		transport := newWebhookTransport(cfg.Notify.WebhookURL)
		sinks = append(sinks, notify.NewThresholdSink("webhook", transport,
			cfg.Notify.WebhookMinConfidence, 0, 0, logger))
	}
	router := notify.NewRouter(logger, 100, sinks...)

	var persist persistence.Store
	if pgDSN != "" {
		pg, err := postgres.Open(pgDSN, 5*time.Second)
		if err != nil {
			return err
		}
		persist = pg
	}

	schedCfg := scheduler.DefaultConfig()
	schedCfg.CronExpr = cfg.Scheduler.Cron
	schedCfg.MarketHoursOnly = cfg.Scheduler.MarketHoursOnly
	schedCfg.CycleDeadline = cfg.CycleDeadline()
	schedCfg.WorkerCap = cfg.Scheduler.WorkerCap
	schedCfg.TradingInterval = pipeCfg.TradingInterval
	schedCfg.HTFInterval = pipeCfg.HTFInterval

	sched := scheduler.New(schedCfg, symbols, pipe, nil, router, persist, calc, logger)
	sched.SetBarLookup(pipe, pipeCfg.TradingInterval)

	registry := prometheus.NewRegistry()
	sched.SetMetrics(obsv.NewMetrics(registry))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if redisAddr != "" {
		tier := cache.NewRedisTier(redisAddr, appName, cfg.CacheTTL())
		if err := tier.Ping(ctx); err != nil {
			return fmt.Errorf("redis tier unreachable at %s: %w", redisAddr, err)
		}
		defer tier.Close()
		sched.SetSnapshotStore(tier)
		logger.Info().Str("addr", redisAddr).Msg("distributed cache tier attached")
	}

	if once {
		result := sched.RunCycle(ctx)
		logger.Info().Str("status", result.Status.String()).
			Int("symbols", result.SymbolsProcessed).Int("signals", result.SignalsGenerated).
			Msg("single cycle complete")
		return nil
	}

	loc, err := time.LoadLocation(cfg.ExchangeTZ)
	if err != nil {
		return fmt.Errorf("load exchange timezone %q: %w", cfg.ExchangeTZ, err)
	}

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Port = httpPort
	server, err := httpapi.NewServer(httpCfg, registry, sched, logger)
	if err != nil {
		return err
	}
	go func() {
		if err := server.ListenAndServe(); err != nil {
			logger.Warn().Err(err).Msg("http server stopped")
		}
	}()

	if err := sched.Start(ctx, loc); err != nil {
		return err
	}
	logger.Info().Str("cron", schedCfg.CronExpr).Int("symbols", len(symbols)).Msg("scheduler started")

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	sched.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	dataDir, _ := cmd.Flags().GetString("data-dir")
	symbolsRaw, _ := cmd.Flags().GetString("symbols")
	sectorsRaw, _ := cmd.Flags().GetString("sectors")

	symbols := splitSymbols(symbolsRaw)
	if len(symbols) == 0 {
		return fmt.Errorf("no symbols given: pass --symbols")
	}
	if dataDir == "" {
		return fmt.Errorf("no bar source given: pass --data-dir")
	}

	pipeCfg := corePipelineConfig(cfg)
	series := map[string]bar.BarSeries{}
	for _, sym := range symbols {
		s, err := loadCSVSeries(dataDir, sym, pipeCfg.TradingInterval)
		if err != nil {
			return err
		}
		series[sym] = s
	}

	loc, err := time.LoadLocation(cfg.ExchangeTZ)
	if err != nil {
		return fmt.Errorf("load exchange timezone %q: %w", cfg.ExchangeTZ, err)
	}

	calc := cache.New(cache.Config{MaxSize: cfg.Cache.MaxSize, TTL: cfg.CacheTTL()})
	store := bar.NewStore(logger, func(symbol string, interval bar.Interval) {
		calc.InvalidateSymbolInterval(symbol, string(interval))
	})
	pipe := pipeline.New(pipeCfg, store, nil, calc)
	provider := backtest.NewProvider(pipe, store, pipeCfg.TradingInterval, pipeCfg.HTFInterval,
		loc, parseSectors(sectorsRaw), logger)

	start := time.Now()
	result, err := provider.Run(cmd.Context(), portfolioConfig(cfg), series)
	if err != nil {
		return err
	}

	wins := 0
	for _, t := range result.Trades {
		if t.PnL.GreaterThan(decimal.Zero) {
			wins++
		}
	}
	logger.Info().
		Int("symbols", len(symbols)).
		Int("trades", len(result.Trades)).
		Int("wins", wins).
		Int("equity_samples", len(result.EquityCurve)).
		Str("final_equity", result.FinalEquity.StringFixed(2)).
		Dur("elapsed", time.Since(start)).
		Msg("backtest complete")

	for _, t := range result.Trades {
		logger.Debug().Str("symbol", t.Symbol).Bool("long", t.Long).
			Str("entry", t.EntryPrice.StringFixed(4)).Str("exit", t.ExitPrice.StringFixed(4)).
			Str("pnl", t.PnL.StringFixed(2)).Str("reason", t.ExitReason).Msg("trade")
	}
	return nil
}
