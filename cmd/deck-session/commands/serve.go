package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/deck-session/internal/api"
	"github.com/spherical/deck-session/internal/config"
	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the document session over HTTP",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := cfg.Observability.LogLevel
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("converter", cfg.ConverterURL()).
		Str("cache", cfg.Cache.Driver).
		Msg("Starting deck session server")

	var events chan domain.StatusEvent
	if cfg.Session.EventBuffer > 0 {
		events = make(chan domain.StatusEvent, cfg.Session.EventBuffer)
		go logEvents(logger, events)
	}

	manager, cleanup := newManager(cfg, logger, events)
	defer cleanup()

	srv := &http.Server{
		Addr: cfg.Addr(),
		Handler: api.NewRouter(logger, manager, api.RouterConfig{
			RenderDPI:      cfg.Parser.RenderDPI,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	var serveErr error
	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Server error")
			serveErr = err
		}
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	if err := manager.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close session")
	}
	// Close stops event delivery, even for handlers still running after a forced shutdown.
	if events != nil {
		close(events)
	}

	logger.Info().Msg("Server stopped")
	return serveErr
}

// logEvents drains status events into the log until the channel closes.
func logEvents(logger *observability.Logger, events <-chan domain.StatusEvent) {
	for ev := range events {
		e := logger.Debug()
		if ev.Err != nil {
			e = logger.Warn().Err(ev.Err)
		}
		e.Str("load_id", ev.LoadID).
			Str("phase", string(ev.Phase)).
			Str("file_name", ev.FileName).
			Msg(ev.Text)
	}
}
