package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carrierhub/provisioner/internal/provisioner/app"
	"github.com/carrierhub/provisioner/internal/provisioner/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	slog := log.With().Str("state", "init").Logger()

	cfg := config.Config()
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Error().Err(err).Msg("closing backing services")
		}
	}()
	a.LogEvents(ctx)

	s := a.Server()
	srv := &http.Server{
		Addr:              cfg.Server.HostName + ":" + cfg.Server.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop, release := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer release()

	listenErr := make(chan error, 1)
	go func() {
		slog.Info().Str("addr", srv.Addr).Msg("listening")
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("http listener: %w", err)
	case <-stop.Done():
		slog.Info().Msg("stopping on signal")
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelDrain()
	if err := srv.Shutdown(drainCtx); err != nil {
		slog.Warn().Err(err).Msg("drain incomplete, closing listener")
		srv.Close()
	}
	slog.Info().Msg("server stopped")
	return nil
}
