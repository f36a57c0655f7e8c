package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"campaign-mailer-go/internal/bounce"
	"campaign-mailer-go/internal/config"
	"campaign-mailer-go/internal/handler"
	"campaign-mailer-go/internal/router"
	"campaign-mailer-go/internal/scheduler"
)

const shutdownTimeout = 30 * time.Second

// Serve runs the tracking endpoint and the background jobs until ctx is
// cancelled
func Serve(ctx context.Context, cfg *config.Config) error {
	ln, err := net.Listen("tcp", ":"+cfg.Server.Port)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.Server.Port, err)
	}
	return serve(ctx, cfg, ln)
}

func serve(ctx context.Context, cfg *config.Config, ln net.Listener) error {
	logrus.Info("Starting campaign tracking service")

	rt, err := newRuntime(cfg)
	if err != nil {
		ln.Close()
		return err
	}
	defer rt.close()

	var poller scheduler.BouncePoller
	if cfg.Bounces.Enabled {
		poller = bounce.NewPoller(cfg.Bounces, rt.repo, rt.metrics)
		logrus.WithField("mailbox", cfg.Bounces.Mailbox).Info("Using IMAP for bounce ingestion")
	}
	sched := scheduler.NewScheduler(cfg.Tracking, cfg.Bounces, rt.repo, poller, rt.metrics)

	h := handler.NewHandlers(rt.repo, sched, rt.metrics, rt.registry)
	srv := &http.Server{
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if err := sched.Start(); err != nil {
		ln.Close()
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		logrus.Infof("Starting HTTP server on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("HTTP server error: %w", err)
	}

	logrus.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}

	logrus.Info("Server stopped gracefully")
	return runErr
}
