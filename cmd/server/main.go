/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the build-report server: HTTP API for the office,
  Telegram bot for foremen, periodic stock audit.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (YAML, .env, APP_* env vars)
  2. Open the store selected by storage.driver (Postgres runs migrations)
  3. Build the ledger engine with the metrics observer
  4. Start the audit scheduler and, when a token is set, connect the bot
  5. Configure HTTP router, start the server, then start polling

COMMAND-LINE FLAGS:
  -config  Path to the YAML config (default: config/example.yaml)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the bot and the audit scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store

EXAMPLES:
  ./server -config=/etc/build-report/config.yaml
  APP_STORAGE_DRIVER=memory ./server

SEE ALSO:
  - config/config.go: Settings and defaults
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/stroykontrol/build-report/api"
	"github.com/stroykontrol/build-report/bot"
	"github.com/stroykontrol/build-report/config"
	"github.com/stroykontrol/build-report/ledger"
	"github.com/stroykontrol/build-report/ledger/store"
	"github.com/stroykontrol/build-report/logger"
	"github.com/stroykontrol/build-report/metrics"
	"github.com/stroykontrol/build-report/store/postgres"
	"github.com/stroykontrol/build-report/store/sqlite"
)

func main() {
	configPath := flag.String("config", "config/example.yaml", "Path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.App.Env)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "err", err)
		os.Exit(1)
	}
}

type closableStore interface {
	ledger.TxStore
	Close() error
}

// nopCloser adapts the in-memory store, which holds nothing to release.
type nopCloser struct{ *store.Memory }

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (closableStore, error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		if err := postgres.Migrate(cfg.Postgres.DSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("postgres migrations applied")
		return postgres.Connect(ctx, cfg.Postgres.DSN)
	case config.DriverMemory:
		log.Warn("using in-memory store, data is lost on exit")
		return nopCloser{store.NewMemory()}, nil
	default:
		return sqlite.New(cfg.Storage.SQLitePath)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error("close store", "err", err)
		}
	}()
	log.Info("store ready", "driver", cfg.Storage.Driver)

	opts := []ledger.Option{ledger.WithLogger(log)}
	routerCfg := api.RouterConfig{
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Scenarios:   cfg.App.Env == "dev",
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, ledger.WithObserver(metrics.New(prometheus.DefaultRegisterer)))
		routerCfg.Metrics = promhttp.Handler()
	}
	engine := ledger.NewEngine(st, opts...)

	audit := api.NewAuditScheduler(st, log, cfg.Audit.Interval)
	audit.Start(ctx)
	defer audit.Stop()
	routerCfg.Audit = audit

	handler := api.NewHandler(st, engine, decimal.NewFromFloat(cfg.Ledger.VATRate), log)
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.NewRouter(handler, routerCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// The bot is built before the listener starts so a bad token fails
	// startup without leaving handlers running against a closing store.
	b, err := newBot(cfg, log, engine, st)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("http server starting", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if b != nil {
		go func() {
			if err := b.Run(ctx, cfg.Telegram.PollTimeout); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("telegram bot: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		stop()
		shutdown(server, log)
		return err
	}
	shutdown(server, log)
	return nil
}

// newBot returns nil when no token is configured.
func newBot(cfg config.Config, log *slog.Logger, engine *ledger.Engine, st ledger.Store) (*bot.Bot, error) {
	if cfg.Telegram.Token == "" {
		log.Info("telegram.token not set, bot disabled")
		return nil, nil
	}
	endpoint := cfg.Telegram.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	botAPI, err := tgbotapi.NewBotAPIWithAPIEndpoint(cfg.Telegram.Token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return bot.New(botAPI, log, engine, st), nil
}

func shutdown(server *http.Server, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "err", err)
	}
	log.Info("server stopped")
}
