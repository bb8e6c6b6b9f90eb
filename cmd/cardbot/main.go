package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/cardbot/config"
	"github.com/alejandrodnm/cardbot/internal/adapters/hive"
	"github.com/alejandrodnm/cardbot/internal/adapters/metrics"
	"github.com/alejandrodnm/cardbot/internal/adapters/notify"
	"github.com/alejandrodnm/cardbot/internal/adapters/splinterlands"
	"github.com/alejandrodnm/cardbot/internal/adapters/storage"
	"github.com/alejandrodnm/cardbot/internal/application/bidbook"
	"github.com/alejandrodnm/cardbot/internal/application/engine/trading"
	"github.com/alejandrodnm/cardbot/internal/application/inventory"
	"github.com/alejandrodnm/cardbot/internal/application/oracle"
	"github.com/alejandrodnm/cardbot/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	report := flag.Bool("report", false, "print the inventory of active trades and exit")
	recalc := flag.Bool("recalc", false, "rebuild the totals document from finished trades and exit")
	once := flag.Bool("once", false, "run one periodic cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("cardbot starting",
		"config", *configPath,
		"accounts", cfg.AccountNames(),
		"bids", len(cfg.Bids),
		"storage", cfg.Storage.Driver,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, mode{report: *report, recalc: *recalc, once: *once}); err != nil {
		slog.Error("cardbot exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("cardbot stopped cleanly")
}

type mode struct {
	report bool
	recalc bool
	once   bool
}

func run(ctx context.Context, cfg *config.Config, m mode) error {
	market := splinterlands.NewClient(splinterlands.Config{
		APIBase:     cfg.API.APIBase,
		HistoryBase: cfg.API.HistoryBase,
		BidsBase:    cfg.API.BidsBase,
		Timeout:     cfg.API.Timeout,
	})

	keys := make(map[string]hive.AccountKeys)
	for name, k := range cfg.Signers() {
		keys[name] = hive.AccountKeys{Active: k.ActiveKey, Posting: k.PostingKey}
	}
	keyring, err := hive.NewKeyring(keys)
	if err != nil {
		return fmt.Errorf("keys: %w", err)
	}
	chain, err := hive.New(hive.Config{
		Nodes:   cfg.Ledger.Nodes,
		ChainID: cfg.Ledger.ChainID,
		Timeout: cfg.API.Timeout,
	}, keyring)
	if err != nil {
		return err
	}

	store, err := storage.Open(ctx, storage.Config{
		Driver:   cfg.Storage.Driver,
		DSN:      cfg.Storage.DSN,
		MongoURL: cfg.Storage.MongoURL,
		MongoDB:  cfg.Storage.MongoDB,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	var rec ports.Recorder = ports.NopRecorder{}
	var metricsSrv *metrics.Server
	if cfg.Metrics.Addr != "" {
		r := metrics.NewRecorder()
		rec = r
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, r.Registry())
	}

	reporter := notify.NewConsole(cfg.Log.Format)
	names := cfg.AccountNames()
	inv := inventory.New(store, market, chain, reporter, rec, inventory.Config{
		Accounts:      names,
		PageSize:      cfg.Trader.PageSize,
		CheckInterval: cfg.Trader.CheckInterval,
		ProfitFeePct:  cfg.Trader.ProfitFeePct,
		FeeAccount:    cfg.Trader.FeeAccount,
	})

	switch {
	case m.report:
		_, err := inv.Report(ctx)
		return err
	case m.recalc:
		totals, err := inv.RecalculateTotals(ctx)
		if err != nil {
			return err
		}
		slog.Info("totals rebuilt", "sold", totals.SoldCards, "profit_usd", totals.ProfitUSD)
		return nil
	}

	catalog, err := market.CardDetails(ctx)
	if err != nil {
		return fmt.Errorf("card catalog: %w", err)
	}
	book := bidbook.New()
	wanted := book.Expand(cfg.Bids, catalog)
	slog.Info("bid book ready", "bids", book.Len(), "cards", len(wanted))

	accounts := make([]trading.Account, 0, len(names))
	for _, name := range names {
		a := cfg.Accounts[name]
		accounts = append(accounts, trading.Account{
			Name:           name,
			Currency:       a.Currency,
			MinimumBalance: a.MinimumBalance,
			RCFrom:         a.RCFrom,
			RCAmountB:      a.RCAmountB,
		})
	}

	budget := trading.NewCallBudget(cfg.Trader.LookupsPerMinute)
	matcher := trading.NewMatcher(book, market, catalog, budget, rec, cfg.Trader.MinProfitUSD)
	purchaser := trading.NewPurchaser(book, chain, market, inv, rec, accounts, trading.PurchaserConfig{
		AppName:        cfg.Trader.AppName,
		MaxBroadcasts:  cfg.Trader.MaxBroadcasts,
		ConfirmWindow:  cfg.Trader.ConfirmWindow,
		ConfirmBlocks:  cfg.Trader.ConfirmBlocks,
		BroadcastDelay: cfg.Trader.BroadcastDelay,
		SettleDelay:    cfg.Trader.SettleDelay,
		PollAttempts:   cfg.Trader.PollAttempts,
		PollInterval:   cfg.Trader.PollInterval,
	})
	pricing := oracle.New(market, book, cfg.Trader.MinProfitUSD)

	eng := trading.New(book, pricing, matcher, purchaser, inv, market, chain, reporter, rec, trading.Config{
		Accounts:      accounts,
		MinDECPrice:   cfg.Trader.MinDECPrice,
		CycleInterval: cfg.Trader.CycleInterval,
	})

	if m.once {
		err := eng.RunPeriodicCycle(ctx)
		eng.Wait()
		return err
	}

	from := cfg.Ledger.StartFrom
	if from <= 0 {
		if from, err = chain.BlockHeight(ctx); err != nil {
			return fmt.Errorf("head block: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if metricsSrv != nil {
		g.Go(func() error { return metricsSrv.Run(gctx) })
	}
	g.Go(func() error {
		err := eng.Run(gctx, from)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{Level: level, TimeFormat: time.TimeOnly})
	}
	slog.SetDefault(slog.New(handler))
}
