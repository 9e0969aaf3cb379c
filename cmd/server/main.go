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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/supercasa/server/pkg/supercasa"
)

func main() {
	// Environment variables loaded from .env when present; real
	// environments set them directly.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	cfg, err := supercasa.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	app, err := supercasa.NewApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}

	server := &http.Server{
		Addr:         cfg.Server.Address,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
		Handler:      app.Handler(),
	}

	go func() {
		app.Logger.Info().Str("address", cfg.Server.Address).Msg("server.listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	app.Logger.Info().Msg("server.shutting_down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		app.Logger.Error().Err(err).Msg("server.shutdown_failed")
	}
	if err := app.Close(); err != nil {
		app.Logger.Error().Err(err).Msg("server.resource_cleanup_failed")
	}
	app.Logger.Info().Msg("server.stopped")
}
