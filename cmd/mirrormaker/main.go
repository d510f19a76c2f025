package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/mirrormaker/config"
	"github.com/alejandrodnm/mirrormaker/internal/adapters/notify"
	"github.com/alejandrodnm/mirrormaker/internal/adapters/oddsapi"
	"github.com/alejandrodnm/mirrormaker/internal/adapters/prophetx"
	"github.com/alejandrodnm/mirrormaker/internal/adapters/storage"
	"github.com/alejandrodnm/mirrormaker/internal/engine"
	"github.com/alejandrodnm/mirrormaker/internal/ports"
	"github.com/alejandrodnm/mirrormaker/internal/server"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "simulate the exchange locally, never place real wagers")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *dryRun {
		cfg.Engine.DryRun = true
	}
	if !cfg.Engine.DryRun && !cfg.Credentialed() {
		slog.Error("exchange credentials missing; set PROPHETX_ACCESS_KEY and PROPHETX_SECRET_KEY or run with -dry-run")
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("mirrormaker starting",
		"config", *configPath,
		"sport", cfg.OddsAPI.Sport,
		"bookmaker", cfg.OddsAPI.Bookmaker,
		"markets", cfg.OddsAPI.Markets,
		"dry_run", cfg.Engine.DryRun,
	)

	source := oddsapi.NewClient(cfg.OddsAPI.APIKey, cfg.OddsAPI.Base)

	var exchange ports.Exchange
	if cfg.Engine.DryRun {
		exchange = prophetx.NewSimulator()
	} else {
		exchange = prophetx.NewClient(cfg.Exchange.AccessKey, cfg.Exchange.SecretKey, cfg.Exchange.Base)
	}

	store, err := openStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	if store != nil {
		defer store.Close()
	}

	console := notify.NewConsole()
	notifier := buildNotifier(cfg, console)

	eng := engine.New(source, exchange, store, notifier, cfg.Snapshot())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go console.StatusLoop(ctx, cfg.Snapshot().PollInterval, eng.Status)

	if err := eng.Recover(ctx); err != nil {
		slog.Error("failed to recover wager state", "err", err)
		os.Exit(1)
	}
	eng.Start()
	eng.RequestReconcile()

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.New(eng).Handler(),
	}
	go func() {
		slog.Info("control plane listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control plane failed", "err", err)
			cancel()
		}
	}()

	err = eng.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("control plane shutdown", "err", serr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("mirrormaker stopped cleanly")
}

// openStorage picks the backend by DSN scheme. "none" disables persistence;
// the engine then depends on exchange reconciliation alone after a restart.
func openStorage(dsn string) (ports.Storage, error) {
	if dsn == "" || dsn == "none" {
		return nil, nil
	}
	if storage.IsPostgresDSN(dsn) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewPostgresStorage(ctx, dsn)
	}
	return storage.NewSQLiteStorage(dsn)
}

func buildNotifier(cfg *config.Config, console *notify.Console) ports.Notifier {
	if cfg.Telegram.Token == "" {
		return console
	}
	tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID)
	if err != nil {
		slog.Warn("telegram notifier unavailable, console only", "err", err)
		return console
	}
	return notify.NewMulti(console, tg)
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

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
