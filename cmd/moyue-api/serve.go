package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/dar-of-the-flame/MoYue/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = 10 * time.Minute
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApplication(signalCtx)
	if err != nil {
		return err
	}
	defer app.Close()
	logger := app.logger

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:      app.tokens,
		Library:     app.library,
		Shares:      app.shares,
		Reader:      app.reader,
		Annotations: app.annotations,
		Dispatcher:  app.dispatcher,
		Events:      app.publisher,
		Logger:      logger,
		Clock:       time.Now,
	})
	if err != nil {
		return err
	}

	if app.bridge != nil {
		go func() {
			if err := app.bridge.Run(signalCtx); err != nil {
				logger.Error("redis relay stopped", zap.Error(err))
			}
		}()
	}
	go runCleanup(signalCtx, app, cleanupInterval)

	httpServer := &http.Server{
		Addr:              app.config.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", app.config.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runCleanup deactivates expired and exhausted share sessions until ctx ends.
func runCleanup(ctx context.Context, app *application, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := app.shares.CleanupExpired(ctx); err != nil {
				app.logger.Warn("share cleanup failed", zap.Error(err))
			}
		}
	}
}
