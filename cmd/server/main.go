package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/trailblazerplus/server/pkg/bootstrap"
	"github.com/trailblazerplus/server/pkg/infrastructure/sentry"
	"github.com/trailblazerplus/server/pkg/webhook"
)

const serviceName = "trailblazer-server"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	svc, err := bootstrap.NewService(ctx, serviceName)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			svc.Logger.Warn("Failed to close service", "error", err)
		}
		sentry.Flush(2 * time.Second)
	}()

	// Without Pub/Sub the inbox is drained in-process.
	var dispatcher *webhook.LocalDispatcher
	if !svc.Config.EnablePublish {
		dispatcher = webhook.NewLocalDispatcher(context.WithoutCancel(ctx), svc.Processor(), svc.Logger)
		svc.Pub = dispatcher
	}

	srv := &http.Server{
		Addr:              ":" + svc.Config.Port,
		Handler:           newRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.Logger.Info("Server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		svc.Logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		svc.Logger.Warn("Graceful shutdown failed", "error", err)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}
