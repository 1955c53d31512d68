// Package main provides the entrypoint for the crossnotify device API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/crossnotify/crossnotify/internal/api"
	"github.com/crossnotify/crossnotify/internal/api/middleware"
	"github.com/crossnotify/crossnotify/internal/app"
	"github.com/crossnotify/crossnotify/internal/config"
	"github.com/crossnotify/crossnotify/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "crossnotify-api"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting crossnotify API")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = log.With().Str("device_name", cfg.Device.Name).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Enabled:        cfg.Telemetry.Enabled,
		DeviceID:       cfg.Device.ID,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.Endpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	device, err := app.New(ctx, cfg, log)
	defer func() {
		if closeErr := device.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to release backends")
		}
	}()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize services")
		return
	}
	if err := device.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start relay")
		return
	}

	// Everything that acts for the bound device runs in this process, so
	// presentations reach the stream clients served below.
	go device.Maintenance(cfg.Worker, false).Start(ctx)
	go func() {
		if err := device.Receive(ctx, cfg.PubSub); err != nil {
			log.Error().Err(err).Msg("pubsub handler stopped")
			stop()
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		DeviceID:       cfg.Device.ID,
		RequireTLS:     cfg.HTTP.Environment == "production",
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Metrics:        metrics,
		AuthService:    device.Auth,
		Relay:          device.Relay,
		Router:         device.Router,
		Intelligence:   device.Intelligence,
		Preferences:    device.Preferences,
		Stream:         device.Hub,
		Probes:         device.Probes,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}
