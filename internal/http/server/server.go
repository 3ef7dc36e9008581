// Package server levanta el http.Server con shutdown ordenado.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dropDatabas3/hellojohn-identity/internal/observability/logger"
)

// Config del servidor HTTP.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// ShutdownTimeout espera máxima para requests en curso (default 10s).
	ShutdownTimeout time.Duration
}

// Run sirve handler hasta que ctx se cancela y luego hace shutdown.
func Run(ctx context.Context, cfg Config, handler http.Handler) error {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("http server listening", logger.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.L().Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
