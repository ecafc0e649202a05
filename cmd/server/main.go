package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chainpulse/defi-monitor/internal/alert"
	"github.com/chainpulse/defi-monitor/internal/collector"
	"github.com/chainpulse/defi-monitor/internal/config"
	"github.com/chainpulse/defi-monitor/internal/handler"
	"github.com/chainpulse/defi-monitor/internal/middleware"
	"github.com/chainpulse/defi-monitor/internal/monitor"
	"github.com/chainpulse/defi-monitor/internal/monitor/sources"
	"github.com/chainpulse/defi-monitor/internal/notify"
	"github.com/chainpulse/defi-monitor/internal/report"
	"github.com/chainpulse/defi-monitor/internal/rulestate"
	"github.com/chainpulse/defi-monitor/internal/store"
	"github.com/chainpulse/defi-monitor/internal/telegram"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database connected and migrated")

	// Redis state mirror (retry up to 30s for ExternalSecret to sync)
	var mirror *rulestate.Mirror
	for i := 0; i < 6; i++ {
		mirror, err = rulestate.New(cfg.RedisURL, cfg.RedisPassword)
		if err == nil {
			break
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		logger.Error("failed to connect to redis after retries", "error", err)
		os.Exit(1)
	}
	defer mirror.Close()
	logger.Info("redis connected for rule state mirror")

	// Rule store: durable rows from Postgres, live state from Redis.
	rules := alert.NewStore()
	eval := alert.NewEvaluator(rules)

	persisted, err := db.LoadRules(ctx)
	if err != nil {
		logger.Error("failed to load rules", "error", err)
		os.Exit(1)
	}
	rules.Load(persisted)

	states, lastSeen, err := mirror.Load(ctx)
	if err != nil {
		logger.Warn("state mirror unreadable, starting cold", "error", err)
	} else {
		for id, st := range states {
			rules.RestoreState(id, st)
		}
		for metric, at := range lastSeen {
			eval.RestoreLastSeen(metric, at)
		}
	}
	logger.Info("rules loaded", "count", rules.Len(), "restored_states", len(states))

	wl, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		logger.Error("failed to load watchlist", "error", err)
		os.Exit(1)
	}

	// Notification sinks
	sinks := []notify.Sink{notify.NewConsole(logger)}
	if cfg.DiscordWebhookURL != "" {
		sinks = append(sinks, notify.NewDiscord(cfg.DiscordWebhookURL))
	}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		sinks = append(sinks, notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID))
	}
	notifier := notify.NewMulti(logger, sinks...)

	reports := report.NewBuilder(db, logger)

	// Monitoring engine
	engine := monitor.NewEngine(monitor.Options{
		Rules:        rules,
		Evaluator:    eval,
		DB:           db,
		Mirror:       mirror,
		Notifier:     notifier,
		Reports:      reports,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		ReportHour:   cfg.ReportHour,
		ReportDir:    cfg.ReportDir,
		Retention:    time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	})

	coingecko := sources.NewCoinGecko(logger, cfg.CoinGeckoAPIKey, wl.PriceTokens())
	defillama := sources.NewDefiLlama(logger, wl.Protocols, wl.Chains)
	engine.Register(coingecko)
	engine.Register(defillama)
	engine.Register(sources.NewEthRPC(cfg.EthRPCURL))

	seedRules(ctx, engine, wl, logger)

	// Binance spot stream feeds the same evaluation queue as the pollers.
	stream := collector.New(engine, logger, spotSymbols(wl))

	// Start background goroutines
	go engine.Run(ctx)
	go stream.Run(ctx)

	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		bot := telegram.NewBot(cfg.TelegramToken, cfg.TelegramChatID, rules, engine, reports, logger)
		go bot.Run(ctx)
	}

	go func() {
		err := config.WatchWatchlist(ctx, cfg.WatchlistPath, func(w config.Watchlist) {
			coingecko.SetTokens(w.PriceTokens())
			defillama.SetWatchlist(w.Protocols, w.Chains)
			seedRules(ctx, engine, w, logger)
			logger.Info("watchlist reloaded",
				"tokens", len(w.Tokens), "protocols", len(w.Protocols), "chains", len(w.Chains))
		})
		if err != nil {
			logger.Warn("watchlist watcher stopped", "error", err)
		}
	}()

	// HTTP routes
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/rules", handler.ListRules(rules))
		r.Post("/rules", handler.CreateRule(rules, db, mirror, logger))
		r.Put("/rules/{id}", handler.UpdateRule(rules, db, mirror, logger))
		r.Patch("/rules/{id}/enabled", handler.SetRuleEnabled(rules, db, mirror, logger))
		r.Delete("/rules/{id}", handler.DeleteRule(rules, db, mirror, logger))
		r.Get("/events", handler.ListEvents(db))
		r.Get("/stats", handler.Stats(engine))
		r.Get("/stats/meta", handler.StatsMetadata(engine))
		r.Get("/history", handler.History(db))
		r.Get("/report", handler.Report(reports))
		r.Get("/protocols", handler.SearchProtocols(defillama))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

// seedRules creates any watchlist rule that does not already exist. Rules the
// operator created or edited by hand are left alone.
func seedRules(ctx context.Context, engine *monitor.Engine, wl config.Watchlist, logger *slog.Logger) {
	for _, sr := range wl.Rules {
		rule, created, err := engine.EnsureRule(ctx, sr.Metric, alert.Comparator(sr.Comparator), sr.Threshold)
		if err != nil {
			logger.Warn("skipping watchlist rule", "metric", sr.Metric, "error", err)
			continue
		}
		if created {
			logger.Info("seeded watchlist rule",
				"id", rule.ID, "metric", rule.Metric, "comparator", rule.Comparator, "threshold", rule.Threshold)
		}
	}
}

func spotSymbols(wl config.Watchlist) []string {
	out := make([]string, 0, len(wl.Tokens))
	for _, t := range wl.Tokens {
		out = append(out, t.Symbol)
	}
	return out
}
