package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"quantfolio/internal/backtest"
	"quantfolio/internal/config"
	"quantfolio/internal/domain"
	"quantfolio/internal/marketdata"
	"quantfolio/internal/notify"
	"quantfolio/internal/store"
	"quantfolio/internal/strategy"
	"quantfolio/internal/util"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: quantfolio <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  backtest    Run a strategy backtest over a named portfolio\n")
		fmt.Fprintf(os.Stderr, "  validate    Compile-check and lint a strategy script\n")
		fmt.Fprintf(os.Stderr, "  portfolio   Save, list, or delete named portfolios\n")
		fmt.Fprintf(os.Stderr, "  strategy    Save, list, or delete strategy scripts\n")
		fmt.Fprintf(os.Stderr, "  templates   Seed the example strategy scripts into the store\n")
		fmt.Fprintf(os.Stderr, "  check       Run all notification subscriptions once\n")
		fmt.Fprintf(os.Stderr, "  watch       Run the notification scheduler in the foreground\n")
		fmt.Fprintf(os.Stderr, "  version     Print the version\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "version" {
		fmt.Printf("quantfolio %s\n", version)
		return
	}

	app, err := newApp()
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer app.store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "backtest":
		err = app.backtest(ctx, args)
	case "validate":
		err = app.validate(args)
	case "portfolio":
		err = app.portfolio(ctx, args)
	case "strategy":
		err = app.strategy(ctx, args)
	case "templates":
		err = app.templates(ctx)
	case "check":
		err = app.check(ctx)
	case "watch":
		err = app.watch(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

// app wires the configured collaborators behind each subcommand.
type app struct {
	cfg      *config.Config
	store    *store.SQLiteStore
	provider marketdata.Provider
	exec     *strategy.Executor
	runner   *strategy.Runner
}

func newApp() (*app, error) {
	cfgPath := "config/quantfolio.yaml"
	if p := os.Getenv("QUANTFOLIO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level, cfg.Logging.Format))

	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	alpaca := marketdata.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL)
	provider := marketdata.NewParquetCache(alpaca, cfg.Storage.DataDir, time.Duration(cfg.Storage.CacheExpiryHours)*time.Hour)

	exec := strategy.NewExecutor(time.Duration(cfg.Strategy.TimeoutSeconds) * time.Second)
	runner := strategy.NewRunner(exec, cfg.Strategy.LookbackDays)

	return &app{cfg: cfg, store: st, provider: provider, exec: exec, runner: runner}, nil
}

func (a *app) engineConfig(start, end time.Time, freq string) backtest.Config {
	return backtest.Config{
		Start:          start,
		End:            end,
		InitialCapital: a.cfg.Backtest.InitialCapital,
		Frequency:      backtest.RebalanceFrequency(freq),
		Cost: backtest.CostConfig{
			CommissionFixed: a.cfg.Backtest.CommissionFixed,
			CommissionPct:   a.cfg.Backtest.CommissionPct,
			SlippagePct:     a.cfg.Backtest.SlippagePct,
			MinTradeValue:   a.cfg.Backtest.MinTradeValue,
		},
		RiskFreeRate: a.cfg.Backtest.RiskFreeRate,
		LookbackDays: a.cfg.Strategy.MaxLookbackDays,
	}
}

// ---------------------------------------------------------------------------
// Subcommands
// ---------------------------------------------------------------------------

func (a *app) backtest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("backtest", flag.ExitOnError)
	portfolioName := fs.String("portfolio", "", "portfolio name (required)")
	strategyName := fs.String("strategy", "", "stored strategy name; omit for a static buy-and-hold run")
	start := fs.String("start", "", "start date YYYY-MM-DD (required)")
	end := fs.String("end", "", "end date YYYY-MM-DD (required)")
	freq := fs.String("freq", a.cfg.Backtest.RebalanceFreq, "rebalance frequency: daily, weekly, monthly, quarterly")
	fs.Parse(args)

	if *portfolioName == "" || *start == "" || *end == "" {
		fs.Usage()
		return fmt.Errorf("portfolio, start, and end are required")
	}
	startDate, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("invalid start date: %w", err)
	}
	endDate, err := time.Parse("2006-01-02", *end)
	if err != nil {
		return fmt.Errorf("invalid end date: %w", err)
	}

	p, err := a.store.GetPortfolio(ctx, *portfolioName)
	if err != nil {
		return fmt.Errorf("portfolio %q: %w", *portfolioName, err)
	}
	if !p.IsValid() {
		return fmt.Errorf("portfolio %q has no weighted tickers", p.Name)
	}

	eng, err := backtest.NewEngine(a.provider, a.engineConfig(startDate, endDate, *freq))
	if err != nil {
		return err
	}

	var res backtest.Result
	if *strategyName == "" {
		res = eng.RunStatic(ctx, p.Weights)
	} else {
		rec, err := a.store.GetStrategy(ctx, *strategyName)
		if err != nil {
			return fmt.Errorf("strategy %q: %w", *strategyName, err)
		}
		res = eng.Run(ctx, p.Weights, a.runner.WeightFunc(rec.Code, p.Tickers))
	}

	printResult(res)
	if !res.Success {
		os.Exit(1)
	}
	return nil
}

func (a *app) validate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	file := fs.String("file", "", "strategy script file (required)")
	fs.Parse(args)
	if *file == "" {
		fs.Usage()
		return fmt.Errorf("file is required")
	}

	src, err := os.ReadFile(*file)
	if err != nil {
		return err
	}
	v := a.exec.Validate(string(src))
	if !v.OK {
		fmt.Printf("compile error: %s\n", v.CompileErr)
		os.Exit(1)
	}
	fmt.Println("ok")
	for _, l := range v.Lint {
		fmt.Printf("lint: %s\n", l)
	}
	return nil
}

func (a *app) portfolio(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("portfolio", flag.ExitOnError)
	save := fs.String("save", "", "save a portfolio with this name")
	tickers := fs.String("tickers", "", "comma-separated TICKER:WEIGHT pairs, e.g. SPY:60,QQQ:40")
	desc := fs.String("desc", "", "portfolio description")
	del := fs.String("delete", "", "delete the named portfolio")
	fs.Parse(args)

	switch {
	case *save != "":
		weights, err := parseWeights(*tickers)
		if err != nil {
			return err
		}
		p := &domain.Portfolio{Name: *save, Tickers: weights.Tickers(), Weights: weights, Description: *desc}
		if !p.IsValid() {
			return fmt.Errorf("portfolio needs at least one positively weighted ticker")
		}
		return a.store.SavePortfolio(ctx, p)

	case *del != "":
		return a.store.DeletePortfolio(ctx, *del)

	default:
		all, err := a.store.ListPortfolios(ctx)
		if err != nil {
			return err
		}
		for _, p := range all {
			fmt.Printf("%-20s %v\n", p.Name, p.Weights)
		}
		return nil
	}
}

func (a *app) strategy(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("strategy", flag.ExitOnError)
	save := fs.String("save", "", "save a strategy with this name")
	file := fs.String("file", "", "script file for -save")
	portfolioName := fs.String("portfolio", "", "portfolio the strategy trades")
	desc := fs.String("desc", "", "strategy description")
	del := fs.String("delete", "", "delete the named strategy")
	fs.Parse(args)

	switch {
	case *save != "":
		if *file == "" {
			return fmt.Errorf("-file is required with -save")
		}
		src, err := os.ReadFile(*file)
		if err != nil {
			return err
		}
		if v := a.exec.Validate(string(src)); !v.OK {
			return fmt.Errorf("script does not compile: %s", v.CompileErr)
		}
		return a.store.SaveStrategy(ctx, &domain.StrategyRecord{
			Name:          *save,
			Code:          string(src),
			Description:   *desc,
			PortfolioName: *portfolioName,
		})

	case *del != "":
		return a.store.DeleteStrategy(ctx, *del)

	default:
		all, err := a.store.ListStrategies(ctx)
		if err != nil {
			return err
		}
		for _, s := range all {
			fmt.Printf("%-20s portfolio=%-15s %s\n", s.Name, s.PortfolioName, s.Description)
		}
		return nil
	}
}

func (a *app) templates(ctx context.Context) error {
	for _, tpl := range strategy.Templates() {
		rec := tpl
		if err := a.store.SaveStrategy(ctx, &rec); err != nil {
			return fmt.Errorf("seeding %s: %w", tpl.Name, err)
		}
		fmt.Printf("seeded %s\n", tpl.Name)
	}
	return nil
}

func (a *app) check(ctx context.Context) error {
	alerts, err := a.runChecks(ctx)
	if err != nil {
		return err
	}
	notifier := notify.NewLogNotifier()
	for _, alert := range alerts {
		if err := notifier.Notify(ctx, alert); err != nil {
			return err
		}
	}
	fmt.Printf("%d subscription(s) checked, %d alert(s)\n", len(a.cfg.Notification.Subscriptions), len(alerts))
	return nil
}

func (a *app) watch(ctx context.Context) error {
	if !a.cfg.Notification.Enabled {
		return fmt.Errorf("notifications are disabled in config")
	}
	sched, err := notify.NewScheduler(a.store, notify.NewLogNotifier(), a.runChecks,
		a.cfg.Notification.Frequency, a.cfg.Notification.CheckTime)
	if err != nil {
		return err
	}
	slog.Info("notification scheduler running", "frequency", a.cfg.Notification.Frequency, "at", a.cfg.Notification.CheckTime)
	sched.Start(ctx)
	return nil
}

// runChecks executes every enabled subscription once and collects the alerts
// whose weight change crosses the subscription threshold.
func (a *app) runChecks(ctx context.Context) ([]notify.Alert, error) {
	var alerts []notify.Alert
	asOf := domain.Day(time.Now())

	for _, sub := range a.cfg.Notification.Subscriptions {
		if !sub.Enabled {
			continue
		}
		rec, err := a.store.GetStrategy(ctx, sub.StrategyName)
		if err != nil {
			slog.Warn("subscription strategy missing", "strategy", sub.StrategyName, "err", err)
			continue
		}
		p, err := a.store.GetPortfolio(ctx, sub.PortfolioName)
		if err != nil {
			slog.Warn("subscription portfolio missing", "portfolio", sub.PortfolioName, "err", err)
			continue
		}

		lookbackStart := asOf.AddDate(0, 0, -a.cfg.Strategy.MaxLookbackDays)
		prices, err := a.provider.FetchPrices(ctx, p.Tickers, lookbackStart, asOf)
		if err != nil {
			return nil, fmt.Errorf("fetching prices for %s: %w", sub.PortfolioName, err)
		}

		current := p.Weights.Normalize(100)
		res := a.runner.Check(ctx, *rec, p.Tickers, prices, current, asOf)
		if res.Outcome.Failed() {
			slog.Warn("strategy check failed", "strategy", rec.Name, "status", res.Outcome.Status, "err", res.Outcome.Err)
			continue
		}
		if !res.HasTarget {
			continue
		}

		detector := notify.ChangeDetector{ThresholdPct: sub.ThresholdPct}
		if delta, changed := detector.Detect(res.CurrentWeights, res.TargetWeights); changed {
			alerts = append(alerts, notify.Alert{
				StrategyName:   rec.Name,
				AsOf:           asOf,
				CurrentWeights: res.CurrentWeights,
				TargetWeights:  res.TargetWeights,
				MaxDeltaPct:    delta,
				Signals:        res.Signals,
			})
		}
	}
	return alerts, nil
}

// ---------------------------------------------------------------------------
// Output helpers
// ---------------------------------------------------------------------------

func printResult(res backtest.Result) {
	if !res.Success {
		fmt.Printf("backtest failed: %s\n", res.Message)
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
		return
	}

	m := res.Metrics
	fmt.Printf("%s\n\n", res.Message)
	fmt.Printf("  total return      %8.2f%%\n", m.TotalReturn*100)
	fmt.Printf("  cagr              %8.2f%%\n", m.CAGR*100)
	fmt.Printf("  volatility        %8.2f%%\n", m.Volatility*100)
	fmt.Printf("  sharpe            %8.2f\n", m.Sharpe)
	fmt.Printf("  sortino           %8.2f\n", m.Sortino)
	fmt.Printf("  calmar            %8.2f\n", m.Calmar)
	fmt.Printf("  max drawdown      %8.2f%% (%d days)\n", m.MaxDrawdown*100, m.MaxDrawdownDays)
	fmt.Printf("  trades            %8d\n", m.TradeCount)
	fmt.Printf("  total costs       %8.2f\n", m.TotalCosts)
	if m.WinRate > 0 {
		fmt.Printf("  win rate          %8.2f%%\n", m.WinRate*100)
		fmt.Printf("  profit factor     %8.2f\n", m.ProfitFactor)
	}

	if len(res.Warnings) > 0 {
		fmt.Println()
		for _, w := range res.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}
	if len(res.Signals) > 0 {
		fmt.Println()
		for _, s := range res.Signals {
			fmt.Printf("  signal: %s\n", s)
		}
	}
}

// parseWeights parses "SPY:60,QQQ:40" into a weight vector.
func parseWeights(s string) (domain.Weights, error) {
	out := domain.Weights{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		ticker, weight, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid ticker:weight pair %q", pair)
		}
		var w float64
		if _, err := fmt.Sscanf(weight, "%g", &w); err != nil {
			return nil, fmt.Errorf("invalid weight in %q: %w", pair, err)
		}
		out[strings.ToUpper(strings.TrimSpace(ticker))] = w
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no ticker weights supplied")
	}
	return out, nil
}
