package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"crashrelay/internal/agent"
	"crashrelay/internal/api"
	"crashrelay/internal/config"
	"crashrelay/internal/domain"
	"crashrelay/internal/scheduler"
	"crashrelay/internal/store"
)

func main() {
	var (
		cfgPath  = flag.String("config", "", "YAML config file")
		addr     = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath   = flag.String("db", "", "SQLite DB path (overrides config)")
		workers  = flag.Int("workers", 0, "delivery workers (overrides config)")
		logLevel = flag.String("log-level", "", "log level (overrides config)")
		debug    = flag.Bool("debug", false, "expose pprof handlers")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(scheduler.ValidateCronExpression); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(level)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(ctx, store.NewSQLiteRepo(db), agent.Options{
		AppID:           cfg.AppID,
		AppVersion:      cfg.AppVersion,
		ConfigURL:       cfg.ConfigURL,
		SubscriptionKey: cfg.SubscriptionKey,
		Workers:         cfg.Workers,
		Backlog:         cfg.Backlog,
		Timeout:         cfg.Timeout,
		SessionGap:      cfg.SessionGap,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("init agent")
	}

	sched := scheduler.NewService(a)
	if err := sched.Every(cfg.FlushCron, domain.FlushLifecycles); err != nil {
		log.Fatal().Err(err).Msg("schedule flush")
	}
	if cfg.ConfigCron != "" {
		if err := sched.Every(cfg.ConfigCron, domain.GetConfig); err != nil {
			log.Fatal().Err(err).Msg("schedule config refresh")
		}
	}
	sched.Start()
	defer sched.Stop()

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServerWithDebug(a, *debug)}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("exited with error")
	}
}
