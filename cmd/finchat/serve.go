package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	finhttp "github.com/finchat-dev/finchat/internal/http"
	"github.com/finchat-dev/finchat/internal/session"
)

// pruneInterval is how often idle sessions are evicted.
const pruneInterval = time.Minute

func newServeCmd(flags *rootFlags) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web interface",
		Long: `Start the web chat interface and JSON API.

Basic auth is enabled when both server.auth_user and server.auth_password
(or GRADIO_AUTH_USER and GRADIO_AUTH_PASS) are set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx, flags)
			if err != nil {
				return err
			}
			defer a.Close()

			if host != "" {
				a.cfg.Server.Host = host
			}
			if port != 0 {
				a.cfg.Server.Port = port
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.http_host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.http_port)")
	return cmd
}

// serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func serve(ctx context.Context, a *app) error {
	logger := a.logger

	schema := a.loadSchema(ctx)
	agent, err := a.newAgent(ctx)
	if err != nil {
		return err
	}

	sessions, err := session.NewManager(session.DefaultConfig(), agent, logger.Named("session"))
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}
	defer sessions.Close()

	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go sessions.Run(pruneCtx, pruneInterval)

	srv, err := finhttp.NewServer(sessions, logger.Named("http"), &finhttp.Config{
		Host:         a.cfg.Server.Host,
		Port:         a.cfg.Server.Port,
		ChartDir:     a.cfg.Charts.Dir,
		AuthUser:     a.cfg.Server.AuthUser,
		AuthPassword: a.cfg.Server.AuthPassword.Value(),
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info(ctx, "starting finchat",
		zap.String("host", a.cfg.Server.Host),
		zap.Int("port", a.cfg.Server.Port),
		zap.Int("tables", len(schema.Tables)),
		zap.Bool("auth", a.cfg.Server.AuthEnabled()),
		zap.Duration("shutdown_timeout", a.cfg.Server.ShutdownTimeout),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return nil
}
