package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
)

// serve starts the HTTP server in a goroutine and returns an error channel
func (a *App) serve() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
		close(errCh)
	}()
	return errCh
}

// Run starts the application and blocks until a shutdown signal is received
// or the server stops on its own, then shuts down within the configured
// shutdown timeout.
func (a *App) Run() error {
	serverErrCh := a.serve()

	quit := make(chan os.Signal, 1)
	a.signals.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer a.signals.Stop(quit)

	var serverErr error
	select {
	case sig := <-quit:
		a.logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case serverErr = <-serverErrCh:
		if serverErr != nil {
			a.logger.Error().Err(serverErr).Msg("Server stopped unexpectedly")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.Timeout.Shutdown)
	defer cancel()

	a.logger.Info().Msg("Shutting down application")
	return errors.Join(serverErr, a.Shutdown(ctx))
}

// Shutdown stops the server, then drains pending invalidations and cache
// writes before closing the store and the database.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.reader != nil {
		if err := a.reader.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.toggle != nil {
		if err := a.toggle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache toggle: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache store close: %w", err))
		} else {
			a.logger.Info().Msg("Cache store closed")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		} else {
			a.logger.Info().Msg("Database connection closed")
		}
	}

	if err := errors.Join(errs...); err != nil {
		a.logger.Error().Err(err).Msg("Shutdown finished with errors")
		return err
	}
	a.logger.Info().Msg("Shutdown complete")
	return nil
}
