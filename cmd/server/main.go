package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/partyhub/internal/adapters/http"
	"github.com/dkeye/partyhub/internal/config"
	"github.com/dkeye/partyhub/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	registry := core.NewRegistry(core.RegistryConfig{
		CodeLength:         cfg.Room.CodeLength,
		IdleTTL:            cfg.Room.IdleTTL,
		SweepInterval:      cfg.Room.SweepInterval,
		AllowHostReconnect: cfg.Room.AllowHostReconnect,
	})
	go registry.Run(ctx)

	r := router.SetupRouter(ctx, cfg, registry)

	srv := &http.Server{
		Addr:    cfg.Bind,
		Handler: r,
	}

	go func() {
		var err error
		if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
			log.Info().Str("addr", cfg.Bind).Msg("partyhub server started (tls)")
			err = srv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
		} else {
			log.Info().Str("addr", cfg.Bind).Msg("partyhub server started")
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	registry.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
