package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"crypto-manager-go/internal/alerts"
	"crypto-manager-go/internal/coindcx"
	"crypto-manager-go/internal/config"
	"crypto-manager-go/internal/database"
	"crypto-manager-go/internal/notify"
	"crypto-manager-go/internal/server"
	"crypto-manager-go/internal/tracker"
	"crypto-manager-go/internal/trader"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const notifyTimeout = 10 * time.Second

// Deps are the external collaborators of the runner.
type Deps struct {
	Client   coindcx.Client
	Notifier notify.Notifier
	Journal  *database.Journal // nil disables persistence
	Out      io.Writer         // info mode output
}

// App wires the components for the configured mode and runs them.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	client   coindcx.Client
	notifier notify.Notifier
	journal  *database.Journal
	out      io.Writer
	closers  []func() error
}

// New creates a runner over deps.
func New(cfg config.Config, logger *zap.Logger, deps Deps) *App {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		client:   deps.Client,
		notifier: deps.Notifier,
		journal:  deps.Journal,
		out:      deps.Out,
	}
	if a.notifier == nil {
		a.notifier = notify.Nop{}
	}
	if a.out == nil {
		a.out = os.Stdout
	}
	return a
}

// Build creates the exchange client, notifiers and journal from cfg.
func Build(cfg config.Config, logger *zap.Logger) (*App, error) {
	var sinks notify.Multi
	if cfg.Discord.WebhookURL != "" {
		sinks = append(sinks, notify.NewDiscordWebhook(&cfg.Discord, logger))
	} else {
		logger.Warn("Discord webhook URL not configured, notifications are disabled")
	}

	var closers []func() error
	if cfg.Broker.URL != "" {
		conn, ch, err := notify.DialAMQP(cfg.Broker.URL, cfg.Broker.Exchange, logger)
		if err != nil {
			logger.Warn("Event broker unavailable, continuing without it", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewAMQPPublisher(ch, cfg.Broker.Exchange, logger))
			closers = append(closers, ch.Close, conn.Close)
		}
	}

	var journal *database.Journal
	if cfg.Database.DSN != "" && cfg.Mode != "info" {
		db, err := database.NewDatabase(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		logger.Info("Database connection successful and schema migrated.")
		journal = database.NewJournal(db)
		sqlDB, err := db.DB()
		if err == nil {
			closers = append(closers, sqlDB.Close)
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	if len(sinks) > 0 {
		notifier = sinks
	}

	a := New(cfg, logger, Deps{
		Client:   coindcx.NewRestClient(&cfg.Exchange, logger),
		Notifier: notifier,
		Journal:  journal,
	})
	a.closers = closers
	return a, nil
}

// Close releases the broker and database connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run executes the configured mode until it finishes or the process is
// interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch a.cfg.Mode {
	case "info":
		return a.runInfo(ctx)
	case "all", "trader", "alerts":
		return a.runLoops(ctx)
	}
	return fmt.Errorf("unknown mode %q", a.cfg.Mode)
}

// checkConnection verifies the market exists and, for trading, that the
// credentials are accepted. Only unknown markets and rejected credentials
// are fatal.
func (a *App) checkConnection(ctx context.Context) error {
	market := a.cfg.Trading.Pair
	if _, err := a.client.GetTicker(ctx, market); err != nil {
		if errors.Is(err, coindcx.ErrNotFound) {
			return fmt.Errorf("market %s: %w", market, err)
		}
		a.logger.Warn("Could not reach the exchange, continuing", zap.Error(err))
	}
	if a.cfg.Mode == "alerts" || a.cfg.Trading.DryRun {
		return nil
	}
	if _, err := a.client.GetBalances(ctx); err != nil {
		if coindcx.IsAuth(err) {
			return fmt.Errorf("failed to connect to CoinDCX API: %w", err)
		}
		a.logger.Warn("Could not read balances, continuing", zap.Error(err))
	}
	a.logger.Info("Successfully connected to CoinDCX API.")
	return nil
}

func (a *App) runLoops(ctx context.Context) error {
	if err := a.checkConnection(ctx); err != nil {
		return err
	}

	mode := a.cfg.Mode
	market := a.cfg.Trading.Pair
	client := a.client
	if a.cfg.Trading.DryRun && mode != "alerts" {
		crypto, fiat := trader.SplitPair(market, a.cfg.Trading.BaseCurrency, a.cfg.Trading.QuoteCurrency)
		client = trader.NewDryRunClient(client, crypto, fiat, a.logger)
	}

	tr := tracker.NewPriceTracker(market, client, a.logger)
	hub := server.NewHub(market, a.logger)
	tr.RegisterCallback("ws", hub.OnPrice)

	var (
		engine      *trader.Engine
		alertEngine *alerts.Engine
		tradingView server.TradingView
		alertView   server.AlertView
	)

	if mode == "all" || mode == "alerts" {
		alertEngine = alerts.NewEngine(market, a.cfg.Alerts.Thresholds, a.notifier, a.logger)
		alertView = alertEngine
	}
	if mode == "all" || mode == "trader" {
		var store trader.Store
		if a.journal != nil {
			store = a.journal
		}
		engine = trader.NewEngine(&a.cfg.Trading, client, store, a.notifier, a.logger)
		if err := engine.Restore(); err != nil {
			return fmt.Errorf("could not restore trading state: %w", err)
		}
		tradingView = engine
	}

	a.notifyStartup(ctx, engine)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if a.cfg.Server.Port > 0 {
		srv := server.New(mode, tr, tradingView, alertView, hub, a.logger)
		g.Go(func() error { return srv.Start(gctx, a.cfg.Server.Port) })
	}

	tradeInterval := time.Duration(a.cfg.Trading.TickInterval) * time.Second
	alertInterval := time.Duration(a.cfg.Alerts.TickInterval) * time.Second

	switch mode {
	case "all":
		alertEngine.Attach(tr)
		engine.Attach(tr)
		g.Go(func() error { return tr.Start(gctx, tradeInterval) })
		a.logger.Info("All components started successfully")
	case "trader":
		// The tracker is driven by the engine loop; callbacks still see every price.
		g.Go(func() error { return engine.Run(gctx, observer{tr}, tradeInterval) })
	case "alerts":
		g.Go(func() error { return alertEngine.Run(gctx, observer{tr}, alertInterval) })
	}

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutdown signal received, gracefully shutting down...")
		if engine != nil {
			engine.Stop()
		}
		if alertEngine != nil {
			alertEngine.Stop()
		}
		tr.Stop()
		return nil
	})

	err := g.Wait()

	sendCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	a.notifier.SendMessage(sendCtx, "🛑 Crypto Manager stopped")
	a.logger.Info("Crypto Manager has been shut down.")
	return err
}

func (a *App) notifyStartup(ctx context.Context, engine *trader.Engine) {
	msg := fmt.Sprintf("🔄 Crypto Manager started in %s mode for %s", a.cfg.Mode, a.cfg.Trading.Pair)
	if engine != nil {
		msg += fmt.Sprintf(" (strategy %s", engine.Strategy().Name())
		if a.cfg.Trading.DryRun {
			msg += ", dry run"
		}
		msg += ")"
	}
	if !a.notifier.SendMessage(ctx, msg) {
		a.logger.Warn("Failed to send startup notification. Continuing without notifications...")
	}
}

// observer fetches a price through the tracker and records it, so standalone
// loops keep the history and websocket stream current.
type observer struct {
	tr *tracker.PriceTracker
}

func (o observer) CurrentPrice(ctx context.Context) float64 {
	price := o.tr.CurrentPrice(ctx)
	o.tr.Observe(ctx, price)
	return price
}

func (a *App) runInfo(ctx context.Context) error {
	market := a.cfg.Trading.Pair
	ticker, err := a.client.GetTicker(ctx, market)
	if err != nil {
		return fmt.Errorf("could not get ticker for %s: %w", market, err)
	}

	fmt.Fprintf(a.out, "\n===== %s Market Information =====\n", market)
	fmt.Fprintf(a.out, "Current Price: %g\n", ticker.LastPrice)
	fmt.Fprintf(a.out, "24h High: %g\n", ticker.High24h)
	fmt.Fprintf(a.out, "24h Low: %g\n", ticker.Low24h)
	fmt.Fprintf(a.out, "24h Volume: %g\n", ticker.Volume24h)
	fmt.Fprintf(a.out, "24h Change: %g%%\n", ticker.Change24h)

	strategy := trader.ThresholdStrategy{BuyPrice: a.cfg.Trading.BuyPrice, SellPrice: a.cfg.Trading.SellPrice}
	fmt.Fprintf(a.out, "\n===== Trading Strategy =====\n")
	fmt.Fprintf(a.out, "Strategy: %s\n", strategy.Name())
	fmt.Fprintf(a.out, "Buy Price: %g\n", a.cfg.Trading.BuyPrice)
	fmt.Fprintf(a.out, "Sell Price: %g\n", a.cfg.Trading.SellPrice)
	fmt.Fprintf(a.out, "Alert Thresholds: %s\n", formatThresholds(a.cfg.Alerts.Thresholds))

	crypto, fiat := trader.SplitPair(market, a.cfg.Trading.BaseCurrency, a.cfg.Trading.QuoteCurrency)
	entries, err := a.client.GetBalances(ctx)
	if err != nil {
		fmt.Fprintf(a.out, "\nCould not retrieve account balance: %v\n", err)
		return nil
	}
	b := trader.SplitBalances(entries, crypto, fiat)
	fmt.Fprintf(a.out, "\n===== Account Balance =====\n")
	fmt.Fprintf(a.out, "Crypto (%s): %g (Available) + %g (Locked)\n", b.Crypto.Currency, b.Crypto.Available, b.Crypto.Locked)
	fmt.Fprintf(a.out, "Fiat (%s): %g (Available) + %g (Locked)\n", b.Fiat.Currency, b.Fiat.Available, b.Fiat.Locked)
	return nil
}

func formatThresholds(thresholds map[string]float64) string {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)
	s := ""
	for i, name := range names {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s=%g", name, thresholds[name])
	}
	return s
}
