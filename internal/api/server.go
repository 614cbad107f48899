package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
)

// Serve runs the HTTP server until ctx is done, then drains in-flight
// requests for at most cfg.ShutdownGrace.
func Serve(ctx context.Context, cfg config.ServerConfig, handler http.Handler) error {
	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	log.Info().Msg("Shutting down server")
	return srv.Shutdown(shutdownCtx)
}
