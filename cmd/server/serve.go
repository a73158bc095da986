package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/aljoscha/shot-o-matic/internal/http/handlers"
	"github.com/aljoscha/shot-o-matic/internal/http/router"
	"github.com/aljoscha/shot-o-matic/internal/metrics"
	"github.com/aljoscha/shot-o-matic/internal/security"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.bootstrap(a.context()); err != nil {
			return fmt.Errorf("bootstrapping admin: %w", err)
		}

		sessions, err := security.NewSessionStore(security.SessionOptions{
			Dir:    a.cfg.SessionsDir,
			Secret: []byte(a.cfg.Secret),
			MaxAge: a.cfg.SessionMaxAge,
		})
		if err != nil {
			return fmt.Errorf("initializing sessions: %w", err)
		}

		env := &handlers.Env{
			DB:             a.db,
			Sessions:       sessions,
			Accounts:       a.accounts,
			Metrics:        metrics.New(),
			MaxUploadBytes: a.cfg.MaxUploadBytes,
		}
		srv := &http.Server{
			Addr: a.cfg.Addr,
			Handler: router.Setup(env, router.Options{
				Spaces:         a.spaces,
				FeedLimit:      a.cfg.FeedLimit,
				ThumbSize:      a.cfg.ThumbSize,
				ThumbMaxPixels: a.cfg.ThumbMaxPixels,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", a.cfg.Addr).Str("db_driver", a.cfg.DBDriver).Msg("starting server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case <-ctx.Done():
		}
		log.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
			return err
		}
		log.Info().Msg("graceful shutdown complete")
		return nil
	},
}
