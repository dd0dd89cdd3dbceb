package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	// The share timestamps are interpreted in America/Los_Angeles and
	// Asia/Taipei; embed tzdata so deployment hosts without a zone
	// database still work.
	_ "time/tzdata"

	"floorsight/app"
	"floorsight/app/config"
	"floorsight/app/server"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to YAML config file")
		listenAddr = pflag.String("listen", "", "listen address override (e.g. :5555)")
		debug      = pflag.Bool("debug", false, "enable debug logging")
	)
	pflag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	engine, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init engine")
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go engine.RunAutoScan(ctx)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: (&server.Server{App: engine, Log: log}).Handler(),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("listen", cfg.ListenAddr).
		Str("share_root", cfg.ShareRoot).
		Str("cache_dir", cfg.CacheDir).
		Msg("analytics backend starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
	log.Info().Msg("shut down")
}
